package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-git/go-git/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/josh-project/josh-sub000/cache"
	"github.com/josh-project/josh-sub000/cmd"
	"github.com/josh-project/josh-sub000/filter"
)

func main() {
	newRootCmd().Execute()
}

type rootCmd struct {
	*cobra.Command

	repoPath   string
	configPath string
}

func newRootCmd() *rootCmd {
	c := &rootCmd{
		Command: &cobra.Command{
			Use:   "josh-filter",
			Short: "filter and unfilter git history",
		},
		repoPath: ".",
	}

	c.PersistentFlags().StringVarP(&c.repoPath, "repo", "r", c.repoPath, "path to the git repository")
	c.PersistentFlags().StringVarP(&c.configPath, "config", "c", c.configPath, "path to the cache configuration")
	c.MarkPersistentFlagFilename("config")

	c.AddCommand(
		newFilterCmd(c).Command,
		newPushCmd(c).Command,
		newCheckCmd(c).Command,
		newSetHookCmd(c).Command,
		newSpecCmd(c).Command,
	)

	return c
}

// session is one run of a subcommand against the repository.
type session struct {
	ctx   context.Context
	repo  *git.Repository
	store *filter.Store
	tc    *cache.TransactionContext
	tx    *cache.Transaction

	cancel context.CancelFunc
}

func (c *rootCmd) open() *session {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	config := &cache.Config{}
	if c.configPath != "" {
		config = cmd.GetOrPanic(cache.ParseConfigYAML(cmd.GetOrPanic(os.ReadFile(c.configPath))))
	}

	repo := cmd.GetOrPanic(git.PlainOpen(c.repoPath))
	store := filter.NewStore()
	tc := cmd.GetOrPanic(cache.NewTransactionContext(config, store, prometheus.NewRegistry()))
	tx := cmd.GetOrPanic(tc.Open(repo.Storer))

	return &session{
		ctx:    ctx,
		repo:   repo,
		store:  store,
		tc:     tc,
		tx:     tx,
		cancel: cancel,
	}
}

func (s *session) close() {
	defer s.cancel()
	cmd.OrPanic(s.tx.Close())
	cmd.OrPanic(s.tc.Close())
}

func (s *session) parse(spec string) filter.Filter {
	return cmd.GetOrPanic(s.store.Parse(spec))
}
