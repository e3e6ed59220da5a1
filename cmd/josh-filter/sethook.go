package main

import (
	"github.com/spf13/cobra"

	josh "github.com/josh-project/josh-sub000"
	"github.com/josh-project/josh-sub000/cache"
	"github.com/josh-project/josh-sub000/cmd"
)

type setHookCmd struct {
	*cobra.Command

	root   *rootCmd
	prefix string
}

func newSetHookCmd(root *rootCmd) *setHookCmd {
	r := &setHookCmd{
		Command: &cobra.Command{
			Use:   "set-hook <name> <commit> <filter>",
			Short: "attach the filter a hook stands for at a commit",
			Args:  cobra.ExactArgs(3),
		},
		root:   root,
		prefix: (&cache.Config{}).GetProperHookRefPrefix(),
	}

	r.Flags().StringVar(&r.prefix, "prefix", r.prefix, "ref prefix of the hook notes")

	r.Run = func(_ *cobra.Command, args []string) {
		r.run(args[0], args[1], args[2])
	}

	return r
}

func (r *setHookCmd) run(name, rev, spec string) {
	s := r.root.open()
	defer s.close()

	f := s.parse(spec)
	commit := cmd.GetOrPanic(josh.ResolveRevision(s.repo.Storer, rev))
	cmd.OrPanic(cache.WriteHookNote(s.repo.Storer, r.prefix, name, commit, s.store.Spec(f)))
}
