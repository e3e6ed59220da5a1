package josh

import (
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/josh-project/josh-sub000/cache"
	"github.com/josh-project/josh-sub000/filter"
	"github.com/josh-project/josh-sub000/gittree"
	"github.com/josh-project/josh-sub000/jerr"
)

// ApplyToCommit returns the filtered version of commit under f, or zero
// when the filtered history is empty at commit. The history below commit
// is materialized as needed: results that are missing are walked until
// none are left.
func ApplyToCommit(tx *cache.Transaction, f filter.Filter, commit plumbing.Hash) (plumbing.Hash, error) {
	c, err := gittree.GetCommit(tx.Repo(), commit)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	var previous []cache.Missing
	for round := 0; ; round++ {
		r, ok, err := applyToCommit(tx, f, c)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if ok {
			tx.Insert(f, commit, r, true)
			return r, nil
		}

		missing := tx.Missing()
		if len(missing) == 0 || sameMissing(missing, previous) {
			return plumbing.ZeroHash, jerr.Errorf("filtering %s with %s makes no progress", commit, tx.Store().Spec(f))
		}
		logger.Debug("walking missing results", "commit", commit, "round", round, "missing", len(missing))
		for _, m := range missing {
			if err := Walk(tx, m.Filter, m.Oid); err != nil {
				return plumbing.ZeroHash, err
			}
		}
		previous = missing
	}
}

func sameMissing(a, b []cache.Missing) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// applyToCommit filters a single commit. ok is false when a result it
// depends on is not known yet.
func applyToCommit(tx *cache.Transaction, f filter.Filter, c *object.Commit) (plumbing.Hash, bool, error) {
	if f == tx.Store().Nop() {
		return c.Hash, true, nil
	}
	if r, found := tx.Lookup(f, c.Hash); found {
		return r, true, nil
	}

	r, ok, err := applyOp(tx, f, c)
	if err != nil {
		return plumbing.ZeroHash, false, jerr.Wrap(err, "failed to filter commit %s", c.Hash)
	}
	if !ok {
		return plumbing.ZeroHash, false, nil
	}
	tx.Insert(f, c.Hash, r, false)
	return r, true, nil
}

func applyOp(tx *cache.Transaction, f filter.Filter, c *object.Commit) (plumbing.Hash, bool, error) {
	store := tx.Store()
	switch op := store.Op(f).(type) {
	case filter.Empty:
		return plumbing.ZeroHash, true, nil

	case filter.Chain:
		if !isTreeFilter(store, f) {
			return applyChain(tx, op.Filters, c)
		}

	case filter.Meta:
		return delegate(tx, op.Filter, c.Hash)

	case filter.Invert:
		inv, err := store.Invert(op.Filter)
		if err != nil {
			return plumbing.ZeroHash, false, err
		}
		return delegate(tx, inv, c.Hash)

	case filter.Squash:
		return applySquash(tx, f, op, c)

	case filter.Rev:
		cf, err := revisionFilter(tx, f, c)
		if err != nil {
			return plumbing.ZeroHash, false, err
		}
		if cf != store.Nop() {
			return delegate(tx, cf, c.Hash)
		}
		return rewriteParents(tx, f, c, false)

	case filter.HistoryConcat:
		if op.Rev.IsLazy() {
			return plumbing.ZeroHash, false, jerr.Errorf("%s: %s", jerr.UnresolvedLazyRef, op.Rev.Name)
		}
		if c.Hash == op.Rev.Oid {
			return delegate(tx, op.Filter, c.Hash)
		}
		return rewriteParents(tx, f, c, false)

	case filter.Workspace, filter.Stored, filter.Hook:
		return applyPerRevision(tx, f, c)

	case filter.Linear:
		var parents []plumbing.Hash
		if c.NumParents() > 0 {
			p, found := tx.Get(f, c.ParentHashes[0])
			if !found {
				return plumbing.ZeroHash, false, nil
			}
			parents = append(parents, p)
		}
		r, err := createFilteredCommit(tx, c, parents, NewRewriteState(c), false)
		return r, true, err

	case filter.Prune:
		parents, ok := filteredParents(tx, f, c)
		if !ok {
			return plumbing.ZeroHash, false, nil
		}
		if len(parents) > 1 {
			for _, p := range parents {
				pc, err := gittree.GetCommit(tx.Repo(), p)
				if err != nil {
					return plumbing.ZeroHash, false, err
				}
				if pc.TreeHash == c.TreeHash {
					return p, true, nil
				}
			}
		}
		r, err := createFilteredCommit(tx, c, parents, NewRewriteState(c), false)
		return r, true, err

	case filter.Unsign:
		return rewriteParents(tx, f, c, true)

	case filter.Fold:
		parents, ok := filteredParents(tx, f, c)
		if !ok {
			return plumbing.ZeroHash, false, nil
		}
		state := NewRewriteState(c)
		for _, p := range parents {
			pc, err := gittree.GetCommit(tx.Repo(), p)
			if err != nil {
				return plumbing.ZeroHash, false, err
			}
			if state.Tree, err = tx.Overlay(state.Tree, pc.TreeHash); err != nil {
				return plumbing.ZeroHash, false, err
			}
		}
		r, err := createFilteredCommit(tx, c, parents, state, false)
		return r, true, err
	}

	return applyTreeFilter(tx, f, f, c, nil)
}

// isTreeFilter reports whether f can be evaluated commit by commit on
// trees alone.
func isTreeFilter(store *filter.Store, f filter.Filter) bool {
	op := store.Op(f)
	if !filter.IsTreeOp(op) {
		return false
	}
	var children []filter.Filter
	switch op := op.(type) {
	case filter.Chain:
		children = op.Filters
	case filter.Compose:
		children = op.Filters
	case filter.Subtract:
		children = []filter.Filter{op.A, op.B}
	case filter.Exclude:
		children = []filter.Filter{op.Filter}
	case filter.Invert:
		children = []filter.Filter{op.Filter}
	case filter.Meta:
		children = []filter.Filter{op.Filter}
	}
	for _, child := range children {
		if !isTreeFilter(store, child) {
			return false
		}
	}
	return true
}

func delegate(tx *cache.Transaction, f filter.Filter, commit plumbing.Hash) (plumbing.Hash, bool, error) {
	r, found := tx.Get(f, commit)
	return r, found, nil
}

// filteredParents returns the results of f for the parents of c, without
// zeros and repetitions. ok is false when one of them is not known; all
// misses are recorded, not only the first.
func filteredParents(tx *cache.Transaction, f filter.Filter, c *object.Commit) ([]plumbing.Hash, bool) {
	parents := make([]plumbing.Hash, 0, c.NumParents())
	ok := true
	for _, p := range c.ParentHashes {
		r, found := tx.Get(f, p)
		if !found {
			ok = false
			continue
		}
		parents = append(parents, r)
	}
	return dedupeParents(parents), ok
}

// applyChain evaluates the stages commit by commit: each stage filters the
// commit the previous stage produced, so later stages see filtered
// history.
func applyChain(tx *cache.Transaction, stages []filter.Filter, c *object.Commit) (plumbing.Hash, bool, error) {
	current := c.Hash
	for _, stage := range stages {
		r, found := tx.Get(stage, current)
		if !found {
			return plumbing.ZeroHash, false, nil
		}
		if r.IsZero() {
			return plumbing.ZeroHash, true, nil
		}
		current = r
	}
	return current, true, nil
}

// rewriteParents keeps the tree and metadata of c and only maps its
// parents through f.
func rewriteParents(tx *cache.Transaction, f filter.Filter, c *object.Commit, unsign bool) (plumbing.Hash, bool, error) {
	parents, ok := filteredParents(tx, f, c)
	if !ok {
		return plumbing.ZeroHash, false, nil
	}
	r, err := createFilteredCommit(tx, c, parents, NewRewriteState(c), unsign)
	return r, true, err
}

// applyTreeFilter rewrites c with tree filter cf, mapping its parents
// through f. extra parents are appended after the filtered ones.
func applyTreeFilter(tx *cache.Transaction, f, cf filter.Filter, c *object.Commit, extra []plumbing.Hash) (plumbing.Hash, bool, error) {
	parents, ok := filteredParents(tx, f, c)
	if !ok {
		return plumbing.ZeroHash, false, nil
	}
	state, err := Apply(tx, cf, NewRewriteState(c))
	if err != nil {
		return plumbing.ZeroHash, false, err
	}
	state.Tree, err = holdPinned(tx, pins(tx.Store(), cf), state.Tree, parents)
	if err != nil {
		return plumbing.ZeroHash, false, err
	}
	r, err := createFilteredCommit(tx, c, append(parents, extra...), state, false)
	return r, true, err
}

// applyPerRevision evaluates a filter that is defined per commit. When the
// definition changed against a parent, the content the change brings in is
// attached as an extra parent: the parent filtered with what was added to
// the definition. New content then shows up as merged history instead of
// appearing out of nowhere.
func applyPerRevision(tx *cache.Transaction, f filter.Filter, c *object.Commit) (plumbing.Hash, bool, error) {
	store := tx.Store()
	cf, err := revisionFilter(tx, f, c)
	if err != nil {
		return plumbing.ZeroHash, false, err
	}

	ok := true
	var extra []plumbing.Hash
	for _, p := range c.ParentHashes {
		pc, err := gittree.GetCommit(tx.Repo(), p)
		if err != nil {
			return plumbing.ZeroHash, false, err
		}
		pf, err := revisionFilter(tx, f, pc)
		if err != nil {
			return plumbing.ZeroHash, false, err
		}
		if pf == cf {
			continue
		}
		if _, err := store.Invert(pf); err != nil {
			logger.Debug("no extra parent for filter change", "commit", c.Hash, "parent", p, "err", err)
			continue
		}
		added := store.Optimize(store.Subtract(cf, pf))
		if added == store.Empty() {
			continue
		}
		r, found := tx.Get(added, p)
		if !found {
			ok = false
			continue
		}
		extra = append(extra, r)
	}
	if !ok {
		return plumbing.ZeroHash, false, nil
	}
	return applyTreeFilter(tx, f, cf, c, extra)
}

// applySquash keeps only the commits named by op. A named commit is
// rewritten with its filter and attached to the kept history below it;
// other commits map to the kept history below them.
func applySquash(tx *cache.Transaction, f filter.Filter, op filter.Squash, c *object.Commit) (plumbing.Hash, bool, error) {
	if !op.Select {
		r, err := createFilteredCommit(tx, c, nil, NewRewriteState(c), false)
		return r, true, err
	}

	parents, ok := filteredParents(tx, f, c)
	if !ok {
		return plumbing.ZeroHash, false, nil
	}
	for _, e := range op.Refs {
		if e.Rev.IsLazy() {
			return plumbing.ZeroHash, false, jerr.Errorf("%s: %s", jerr.UnresolvedLazyRef, e.Rev.Name)
		}
		if e.Rev.Oid != c.Hash {
			continue
		}
		state, err := Apply(tx, e.Filter, NewRewriteState(c))
		if err != nil {
			return plumbing.ZeroHash, false, err
		}
		r, err := rewriteCommit(tx.Repo(), c, parents, state)
		return r, true, err
	}

	if len(parents) < 2 {
		return dropCommit(parents), true, nil
	}
	first, err := gittree.GetCommit(tx.Repo(), parents[0])
	if err != nil {
		return plumbing.ZeroHash, false, err
	}
	state := NewRewriteState(c)
	state.Tree = first.TreeHash
	r, err := rewriteCommit(tx.Repo(), c, parents, state)
	return r, true, err
}
