package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	josh "github.com/josh-project/josh-sub000"
	"github.com/josh-project/josh-sub000/cmd"
	"github.com/josh-project/josh-sub000/gittree"
)

type checkCmd struct {
	*cobra.Command

	root *rootCmd
}

func newCheckCmd(root *rootCmd) *checkCmd {
	r := &checkCmd{
		Command: &cobra.Command{
			Use:   "check <filter> <from> <to>",
			Short: "check that the changes between two commits stay inside the filter",
			Args:  cobra.ExactArgs(3),
		},
		root: root,
	}

	r.Run = func(_ *cobra.Command, args []string) {
		r.run(args[0], args[1], args[2])
	}

	return r
}

func (r *checkCmd) run(spec, fromRev, toRev string) {
	s := r.root.open()
	defer s.close()

	f := s.parse(spec)
	from := cmd.GetOrPanic(gittree.GetCommit(s.repo.Storer, cmd.GetOrPanic(josh.ResolveRevision(s.repo.Storer, fromRev))))
	to := cmd.GetOrPanic(gittree.GetCommit(s.repo.Storer, cmd.GetOrPanic(josh.ResolveRevision(s.repo.Storer, toRev))))

	result := cmd.GetOrPanic(josh.CheckChangesAgainstFilter(s.tx, f, from.TreeHash, to.TreeHash))
	if err := result.ToError(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
