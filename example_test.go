package josh_test

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"

	josh "github.com/josh-project/josh-sub000"
	"github.com/josh-project/josh-sub000/cache"
	"github.com/josh-project/josh-sub000/filter"
	"github.com/josh-project/josh-sub000/gittree"
)

func examplePanic(err error) {
	if err != nil {
		log.Panic(err)
	}
}

func ExampleApplyToCommit() {
	s := memory.NewStorage()
	store := filter.NewStore()

	tc, err := cache.NewTransactionContext(nil, store, nil)
	examplePanic(err)
	tx, err := tc.Open(s)
	examplePanic(err)
	defer tx.Close()

	tree, err := gittree.FromFiles(s, map[string]string{
		"libs/a/a.go": "package a",
		"libs/b/b.go": "package b",
		"app/main.go": "package main",
		"app/README":  "app",
	})
	examplePanic(err)

	sig := object.Signature{Name: "Example", Email: "example@example.com", When: time.Unix(0, 0).UTC()}
	commit, err := gittree.WriteCommit(s, &object.Commit{
		Author:    sig,
		Committer: sig,
		Message:   "initial\n",
		TreeHash:  tree,
	})
	examplePanic(err)

	f, err := store.Parse(":[:/app:prefix=app,:/libs/a:prefix=third_party/a]")
	examplePanic(err)

	filtered, err := josh.ApplyToCommit(tx, f, commit)
	examplePanic(err)

	c, err := gittree.GetCommit(s, filtered)
	examplePanic(err)
	files, err := gittree.Files(s, c.TreeHash)
	examplePanic(err)

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		fmt.Println(p)
	}
	fmt.Print(c.Message)

	// Output:
	// app/README
	// app/main.go
	// third_party/a/a.go
	// initial
}
