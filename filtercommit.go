package josh

import (
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/josh-project/josh-sub000/cache"
	"github.com/josh-project/josh-sub000/filter"
	"github.com/josh-project/josh-sub000/gittree"
	"github.com/josh-project/josh-sub000/jerr"
)

// FilterCommit filters the commit oid with f and returns the result, zero
// when nothing is left.
//
// permissions selects what the caller must not see. When the history of
// oid filtered with permissions has any content, the commit is refused
// with [jerr.MissingPermissions]. Pass the empty filter to skip the check.
func FilterCommit(tx *cache.Transaction, f filter.Filter, oid plumbing.Hash, permissions filter.Filter) (plumbing.Hash, error) {
	store := tx.Store()
	if permissions != store.Empty() {
		denied, err := ApplyToCommit(tx, permissions, oid)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if !denied.IsZero() {
			c, err := gittree.GetCommit(tx.Repo(), denied)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			if !gittree.IsEmpty(c.TreeHash) || c.NumParents() > 0 {
				return plumbing.ZeroHash, jerr.Errorf("%s %s", jerr.MissingPermissions, oid)
			}
		}
	}

	return ApplyToCommit(tx, f, oid)
}

// RefUpdate is the filtered counterpart of a reference. Filtered is zero
// when nothing is left of the history the reference points to.
type RefUpdate struct {
	Name     plumbing.ReferenceName
	Original plumbing.Hash
	Filtered plumbing.Hash
}

// RefError records a reference that could not be filtered.
type RefError struct {
	Name plumbing.ReferenceName
	Err  error
}

func (e *RefError) Error() string {
	return e.Name.String() + ": " + e.Err.Error()
}

func (e *RefError) Unwrap() error {
	return e.Err
}

// FilterRefs filters the commits refs point to. Failures are reported per
// reference and do not stop the others. Symbolic references are skipped;
// annotated tags are filtered at the commit they point to.
func FilterRefs(
	tx *cache.Transaction,
	f filter.Filter,
	refs []*plumbing.Reference,
	permissions filter.Filter,
) ([]RefUpdate, []RefError) {
	var updates []RefUpdate
	var errs []RefError
	for _, ref := range refs {
		if ref.Type() != plumbing.HashReference {
			continue
		}
		oid, err := peelToCommit(tx, ref.Hash())
		if err != nil {
			errs = append(errs, RefError{Name: ref.Name(), Err: err})
			continue
		}
		r, err := FilterCommit(tx, f, oid, permissions)
		if err != nil {
			logger.Warn("failed to filter ref", "ref", ref.Name(), "err", err)
			errs = append(errs, RefError{Name: ref.Name(), Err: err})
			continue
		}
		logger.Debug("filtered ref", "ref", ref.Name(), "original", oid, "filtered", r)
		updates = append(updates, RefUpdate{Name: ref.Name(), Original: oid, Filtered: r})
	}
	return updates, errs
}

func peelToCommit(tx *cache.Transaction, h plumbing.Hash) (plumbing.Hash, error) {
	for {
		obj, err := tx.Repo().EncodedObject(plumbing.AnyObject, h)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		switch obj.Type() {
		case plumbing.CommitObject:
			return h, nil
		case plumbing.TagObject:
			tag, err := object.DecodeTag(tx.Repo(), obj)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			h = tag.Target
		default:
			return plumbing.ZeroHash, jerr.Errorf("%s is a %s, not a commit", h, obj.Type())
		}
	}
}
