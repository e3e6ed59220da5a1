package josh

import (
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/josh-project/josh-sub000/cache"
	"github.com/josh-project/josh-sub000/filter"
	"github.com/josh-project/josh-sub000/jerr"
)

// Unapply computes the unfiltered tree for a filtered tree: paths f owns
// come from filtered, mapped back through the inverse of f, and everything
// else comes from parent, the unfiltered tree the change is based on.
//
// A chain is unapplied stage by stage. Workspaces and stored filters are
// resolved from the definition found in filtered.
func Unapply(tx *cache.Transaction, f filter.Filter, filtered, parent plumbing.Hash) (plumbing.Hash, error) {
	store := tx.Store()
	switch op := store.Op(f).(type) {
	case filter.Nop:
		return filtered, nil

	case filter.Chain:
		// the parent as seen by each stage
		bases := make([]plumbing.Hash, len(op.Filters))
		bases[0] = parent
		for i := 1; i < len(op.Filters); i++ {
			b, err := ApplyTree(tx, op.Filters[i-1], bases[i-1])
			if err != nil {
				return plumbing.ZeroHash, err
			}
			bases[i] = b
		}
		result := filtered
		for i := len(op.Filters) - 1; i >= 0; i-- {
			var err error
			result, err = Unapply(tx, op.Filters[i], result, bases[i])
			if err != nil {
				return plumbing.ZeroHash, err
			}
		}
		return result, nil

	case filter.Meta:
		return Unapply(tx, op.Filter, filtered, parent)

	case filter.Workspace:
		mapped, err := readFilterFile(tx, filtered, WorkspaceFile)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		base := store.Subdir(op.Path)
		cf := store.Compose(store.Chain(base, store.File(WorkspaceFile)), mapped, base)
		return Unapply(tx, store.Optimize(cf), filtered, parent)

	case filter.Stored:
		name := op.Path + ".josh"
		stored, err := readFilterFile(tx, filtered, name)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return Unapply(tx, store.Optimize(store.Compose(store.File(name), stored)), filtered, parent)
	}

	inv, err := store.Invert(f)
	if err != nil {
		return plumbing.ZeroHash, jerr.Errorf("%s: %s", jerr.CannotUnapply, store.Spec(f))
	}
	owned, err := ApplyTree(tx, inv, filtered)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	kept, err := ApplyTree(tx, store.Exclude(f), parent)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return tx.Overlay(owned, kept)
}
