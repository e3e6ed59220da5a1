package josh

import (
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/josh-project/josh-sub000/cache"
	"github.com/josh-project/josh-sub000/filter"
	"github.com/josh-project/josh-sub000/gittree"
	"github.com/josh-project/josh-sub000/jerr"
)

type dfsBuilderNode struct {
	data      *object.Commit
	nextvisit int
}

type dfsBuilder struct {
	s     storer.EncodedObjectStorer
	hide  func(plumbing.Hash) bool
	seen  HashSet
	stack []*dfsBuilderNode
}

func newDFSBuilder(s storer.EncodedObjectStorer, hide func(plumbing.Hash) bool) *dfsBuilder {
	return &dfsBuilder{
		s:     s,
		hide:  hide,
		seen:  NewHashSet(),
		stack: make([]*dfsBuilderNode, 0),
	}
}

func (gb *dfsBuilder) add(h plumbing.Hash) error {
	if _, seen := gb.seen[h]; seen {
		return nil
	}
	gb.seen[h] = empty{}
	if gb.hide != nil && gb.hide(h) {
		return nil
	}

	c, err := gittree.GetCommit(gb.s, h)
	if err != nil {
		return err
	}
	gb.stack = append(gb.stack, &dfsBuilderNode{data: c})
	return nil
}

func (gb *dfsBuilder) pop() {
	gb.stack = gb.stack[:len(gb.stack)-1]
}

func (gb *dfsBuilder) top() *dfsBuilderNode {
	if len(gb.stack) == 0 {
		return nil
	}

	return gb.stack[len(gb.stack)-1]
}

// GetDFSPath returns the commits reachable from head in depth first post
// order: every commit comes after all of its parents, and head is the last.
// Parents are visited in order, so the first commits returned are the
// history along first parents.
//
// Commits for which hide returns true are neither returned nor descended
// into. hide can be nil.
func GetDFSPath(s storer.EncodedObjectStorer, head plumbing.Hash, hide func(plumbing.Hash) bool) ([]*object.Commit, error) {
	result := make([]*object.Commit, 0)
	gb := newDFSBuilder(s, hide)

	if err := gb.add(head); err != nil {
		return nil, err
	}

	for current := gb.top(); current != nil; current = gb.top() {
		if current.nextvisit == current.data.NumParents() {
			result = append(result, current.data)
			gb.pop()
			continue
		}

		p := current.data.ParentHashes[current.nextvisit]
		current.nextvisit += 1
		if err := gb.add(p); err != nil {
			return nil, jerr.Wrap(err,
				"cannot get parent %d for %s",
				current.nextvisit-1,
				current.data.Hash.String())
		}
	}

	return result, nil
}

// Walk materializes the filtered history of target under f. Commits whose
// result is already known are not visited. The walk stops early when a
// commit depends on a result that is not known yet; the dependency is
// recorded in the transaction, see [cache.Transaction.Missing].
func Walk(tx *cache.Transaction, f filter.Filter, target plumbing.Hash) error {
	tx.CountWalk()
	var path []*object.Commit
	if dependsOnParents(tx.Store(), f) {
		var err error
		path, err = GetDFSPath(tx.Repo(), target, func(h plumbing.Hash) bool {
			return tx.Known(f, h)
		})
		if err != nil {
			return err
		}
	} else if !tx.Known(f, target) {
		c, err := gittree.GetCommit(tx.Repo(), target)
		if err != nil {
			return err
		}
		path = append(path, c)
	}

	n := len(path)
	for i, c := range path {
		r, ok, err := applyToCommit(tx, f, c)
		if err != nil {
			return err
		}
		if !ok {
			logger.Debug("walk stopped on missing dependency", "filter", f, "commit", c.Hash, "id", i, "total", n)
			return nil
		}
		logger.Debug("filtered commit", "filter", f, "commit", c.Hash, "result", r, "id", i, "total", n)
	}
	return nil
}

// dependsOnParents reports whether the result of f for a commit needs the
// results of f for its parents. Filters that do not are computed from
// other filters' results and need no walk of their own.
func dependsOnParents(store *filter.Store, f filter.Filter) bool {
	switch op := store.Op(f).(type) {
	case filter.Empty, filter.Meta, filter.Invert:
		return false
	case filter.Chain:
		return isTreeFilter(store, f)
	case filter.Squash:
		return op.Select
	}
	return true
}
