package josh

import (
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/josh-project/josh-sub000/cache"
	"github.com/josh-project/josh-sub000/filter"
	"github.com/josh-project/josh-sub000/gittree"
	"github.com/josh-project/josh-sub000/jerr"
)

// WorkspaceFile is the name of the file defining a workspace.
const WorkspaceFile = "workspace.josh"

// readFilterFile parses the filter list stored at p in tree. A missing or
// broken file yields the empty filter.
func readFilterFile(tx *cache.Transaction, tree plumbing.Hash, p string) (filter.Filter, error) {
	store := tx.Store()
	e, found, err := gittree.Get(tx.Repo(), tree, p)
	if err != nil {
		return filter.Filter{}, err
	}
	if !found || !e.Mode.IsFile() {
		return store.Empty(), nil
	}
	data, err := gittree.ReadBlob(tx.Repo(), e.Hash)
	if err != nil {
		return filter.Filter{}, err
	}
	f, err := store.ParseList(string(data))
	if err != nil {
		logger.Warn("ignoring invalid filter file", "path", p, "tree", tree, "err", err)
		return store.Empty(), nil
	}
	return f, nil
}

// legalize resolves a filter defined by a file in tree. The empty filter is
// recorded before build runs, so files that include each other resolve to
// empty instead of recursing forever.
func legalize(tx *cache.Transaction, f filter.Filter, tree plumbing.Hash, build func() (filter.Filter, error)) (filter.Filter, error) {
	if r, found := tx.GetLegalize(f, tree); found {
		return r, nil
	}
	tx.InsertLegalize(f, tree, tx.Store().Empty())
	r, err := build()
	if err != nil {
		return filter.Filter{}, err
	}
	r = tx.Store().Optimize(r)
	tx.InsertLegalize(f, tree, r)
	return r, nil
}

// resolveWorkspace returns the filter a workspace at p stands for in tree:
// the workspace file at the root, the mappings it lists, and the content of
// the workspace directory.
func resolveWorkspace(tx *cache.Transaction, f filter.Filter, p string, tree plumbing.Hash) (filter.Filter, error) {
	return legalize(tx, f, tree, func() (filter.Filter, error) {
		store := tx.Store()
		mapped, err := readFilterFile(tx, tree, gittree.JoinPath(p, WorkspaceFile))
		if err != nil {
			return filter.Filter{}, err
		}
		base := store.Subdir(p)
		return store.Compose(
			store.Chain(base, store.File(WorkspaceFile)),
			mapped,
			base,
		), nil
	})
}

// resolveStored returns the filter stored in p.josh of tree, together with
// the file itself.
func resolveStored(tx *cache.Transaction, f filter.Filter, p string, tree plumbing.Hash) (filter.Filter, error) {
	return legalize(tx, f, tree, func() (filter.Filter, error) {
		store := tx.Store()
		name := p + ".josh"
		stored, err := readFilterFile(tx, tree, name)
		if err != nil {
			return filter.Filter{}, err
		}
		return store.Compose(store.File(name), stored), nil
	})
}

// revisionFilter returns the filter a per-revision op stands for at commit
// c.
func revisionFilter(tx *cache.Transaction, f filter.Filter, c *object.Commit) (filter.Filter, error) {
	store := tx.Store()
	switch op := store.Op(f).(type) {
	case filter.Workspace:
		return resolveWorkspace(tx, f, op.Path, c.TreeHash)
	case filter.Stored:
		return resolveStored(tx, f, op.Path, c.TreeHash)
	case filter.Hook:
		r, err := tx.Hook().FilterForCommit(store, c.Hash, op.Name)
		if err != nil {
			return filter.Filter{}, err
		}
		return store.Optimize(r), nil
	case filter.Rev:
		for _, e := range op.Entries {
			if e.Rev.IsLazy() {
				return filter.Filter{}, jerr.Errorf("%s: %s", jerr.UnresolvedLazyRef, e.Rev.Name)
			}
			ok, err := store.IsAncestorOf(tx.Repo(), c.Hash, e.Rev.Oid)
			if err != nil {
				return filter.Filter{}, err
			}
			if ok {
				return e.Filter, nil
			}
		}
		return store.Nop(), nil
	}
	return f, nil
}

// pins collects the filters of the pins at the top level of f.
func pins(store *filter.Store, f filter.Filter) filter.Filter {
	switch op := store.Op(f).(type) {
	case filter.Pin:
		return op.Filter
	case filter.Meta:
		return pins(store, op.Filter)
	case filter.Compose:
		var found []filter.Filter
		for _, child := range op.Filters {
			if p := pins(store, child); p != store.Empty() {
				found = append(found, p)
			}
		}
		return store.Compose(found...)
	}
	return store.Empty()
}

// holdPinned keeps the paths selected by pinned at their content in the
// first filtered parent.
func holdPinned(tx *cache.Transaction, pinned filter.Filter, tree plumbing.Hash, parents []plumbing.Hash) (plumbing.Hash, error) {
	if pinned == tx.Store().Empty() || len(parents) == 0 {
		return tree, nil
	}
	parent, err := gittree.GetCommit(tx.Repo(), parents[0])
	if err != nil {
		return plumbing.ZeroHash, err
	}
	current, err := region(tx, pinned, tree)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	held, err := region(tx, pinned, parent.TreeHash)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	rest, err := tx.Subtract(tree, current)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return tx.Overlay(held, rest)
}
