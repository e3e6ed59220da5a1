package main

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/spf13/cobra"

	josh "github.com/josh-project/josh-sub000"
	"github.com/josh-project/josh-sub000/cmd"
)

type pushCmd struct {
	*cobra.Command

	root *rootCmd

	target  string
	old     string
	update  string
	orphans string
	opts    josh.UnapplyOptions
}

func newPushCmd(root *rootCmd) *pushCmd {
	r := &pushCmd{
		Command: &cobra.Command{
			Use:   "push <filter> <new>",
			Short: "map a filtered commit back onto the unfiltered history",
			Args:  cobra.ExactArgs(2),
		},
		root:    root,
		orphans: "keep",
	}

	r.Flags().StringVarP(&r.target, "target", "t", r.target, "unfiltered revision to push onto")
	r.MarkFlagRequired("target")
	r.Flags().StringVar(&r.old, "old", r.old, "filtered revision being replaced, empty for a new branch")
	r.Flags().StringVarP(&r.update, "update", "u", r.update, "ref to set to the result")
	r.Flags().StringVar(&r.orphans, "orphans", r.orphans, "unrelated merge parents: keep, remove or fail")
	r.Flags().BoolVar(&r.opts.ReparentOrphans, "reparent-orphans", r.opts.ReparentOrphans, "base pushed root commits on the target")
	r.Flags().BoolVar(&r.opts.AllowUnrelated, "allow-unrelated", r.opts.AllowUnrelated, "accept history unrelated to the target")
	r.Flags().BoolVar(&r.opts.Merge, "merge", r.opts.Merge, "merge the result into the target")
	r.Flags().BoolVar(&r.opts.RequireLabels, "require-labels", r.opts.RequireLabels, "reject commits without a Change: label")

	r.Run = func(_ *cobra.Command, args []string) {
		r.run(args[0], args[1])
	}

	return r
}

func (r *pushCmd) run(spec, newRev string) {
	s := r.root.open()
	defer s.close()

	switch r.orphans {
	case "keep":
		r.opts.Orphans = josh.OrphansKeep
	case "remove":
		r.opts.Orphans = josh.OrphansRemove
	case "fail":
		r.opts.Orphans = josh.OrphansFail
	default:
		panic(fmt.Errorf("unknown orphans mode %q", r.orphans))
	}

	var changes []josh.Change
	r.opts.Changes = &changes

	f := cmd.GetOrPanic(josh.ResolveLazyRefs(s.store, s.repo.Storer, s.parse(spec)))
	target := cmd.GetOrPanic(josh.ResolveRevision(s.repo.Storer, r.target))
	newFiltered := cmd.GetOrPanic(josh.ResolveRevision(s.repo.Storer, newRev))
	oldFiltered := plumbing.ZeroHash
	if r.old != "" {
		oldFiltered = cmd.GetOrPanic(josh.ResolveRevision(s.repo.Storer, r.old))
	}

	result := cmd.GetOrPanic(josh.UnapplyFilter(s.tx, f, target, oldFiltered, newFiltered, r.opts))
	for _, c := range changes {
		fmt.Printf("change %s %s %s\n", c.Commit, c.Author, c.Label)
	}
	fmt.Println(result)

	if r.update != "" {
		cmd.OrPanic(s.repo.Storer.SetReference(plumbing.NewHashReference(plumbing.ReferenceName(r.update), result)))
	}
}
