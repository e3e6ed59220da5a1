package main

import (
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/spf13/cobra"

	josh "github.com/josh-project/josh-sub000"
	"github.com/josh-project/josh-sub000/cmd"
)

type filterCmd struct {
	*cobra.Command

	root *rootCmd

	permissions string
	prefix      string
	dryrun      bool
}

func newFilterCmd(root *rootCmd) *filterCmd {
	r := &filterCmd{
		Command: &cobra.Command{
			Use:   "filter <filter> [ref...]",
			Short: "filter refs, writing the results under the filtered prefix",
			Args:  cobra.MinimumNArgs(1),
		},
		root:        root,
		permissions: ":empty",
		prefix:      "refs/josh/filtered",
	}

	r.Flags().StringVarP(&r.permissions, "permissions", "p", r.permissions, "filter selecting what must not be visible")
	r.Flags().StringVar(&r.prefix, "prefix", r.prefix, "ref prefix the filtered refs are written under")
	r.Flags().BoolVarP(&r.dryrun, "dryrun", "n", r.dryrun, "print the results without updating refs")

	r.Run = func(_ *cobra.Command, args []string) {
		r.run(args[0], args[1:])
	}

	return r
}

func (r *filterCmd) run(spec string, names []string) {
	s := r.root.open()
	defer s.close()

	f := cmd.GetOrPanic(josh.ResolveLazyRefs(s.store, s.repo.Storer, s.parse(spec)))
	permissions := s.parse(r.permissions)

	if len(names) == 0 {
		names = []string{"HEAD"}
	}
	refs := make([]*plumbing.Reference, 0, len(names))
	for _, name := range names {
		h := cmd.GetOrPanic(josh.ResolveRevision(s.repo.Storer, name))
		refs = append(refs, plumbing.NewHashReference(plumbing.ReferenceName(name), h))
	}

	updates, errs := josh.FilterRefs(s.tx, f, refs, permissions)
	for _, e := range errs {
		fmt.Printf("error %s\n", e.Error())
	}
	for _, u := range updates {
		if s.ctx.Err() != nil {
			break
		}
		target := plumbing.ReferenceName(r.prefix + "/" + strings.TrimPrefix(u.Name.String(), "refs/"))
		fmt.Printf("%s %s -> %s\n", u.Name, u.Original, u.Filtered)
		if r.dryrun {
			continue
		}
		if u.Filtered.IsZero() {
			err := s.repo.Storer.RemoveReference(target)
			if err != nil && err != plumbing.ErrReferenceNotFound {
				cmd.OrPanic(err)
			}
			continue
		}
		cmd.OrPanic(s.repo.Storer.SetReference(plumbing.NewHashReference(target, u.Filtered)))
	}
}
