package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/josh-project/josh-sub000/cmd"
	"github.com/josh-project/josh-sub000/filter"
)

type specCmd struct {
	*cobra.Command

	pretty bool
}

func newSpecCmd(*rootCmd) *specCmd {
	r := &specCmd{
		Command: &cobra.Command{
			Use:   "spec <filter>",
			Short: "print the canonical form of a filter",
			Args:  cobra.ExactArgs(1),
		},
	}

	r.Flags().BoolVarP(&r.pretty, "pretty", "p", r.pretty, "print the multi-line form")

	r.Run = func(_ *cobra.Command, args []string) {
		store := filter.NewStore()
		f := store.Optimize(cmd.GetOrPanic(store.Parse(args[0])))
		if r.pretty {
			fmt.Println(store.Pretty(f, 0))
			return
		}
		fmt.Println(store.Spec(f))
	}

	return r
}
