package josh

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/josh-project/josh-sub000/cache"
	"github.com/josh-project/josh-sub000/filter"
	"github.com/josh-project/josh-sub000/gittree"
)

// FilePatchError names the sides of a change that touch paths outside a
// filter.
type FilePatchError struct {
	FromFile string
	ToFile   string
}

func (e *FilePatchError) ErrorFiles() []string {
	if e == nil {
		return nil
	}
	switch {
	case e.FromFile != "" && e.ToFile != "":
		return []string{e.FromFile, e.ToFile}
	case e.FromFile != "":
		return []string{e.FromFile}
	case e.ToFile != "":
		return []string{e.ToFile}
	default:
		return nil
	}
}

func (e *FilePatchError) Error() string {
	errfs := make([]string, 0, 2)
	if e.FromFile != "" {
		errfs = append(errfs, fmt.Sprintf("invalid from path: %s", e.FromFile))
	}
	if e.ToFile != "" {
		errfs = append(errfs, fmt.Sprintf("invalid to path: %s", e.ToFile))
	}

	return strings.Join(errfs, "|")
}

// FilePatchCheckResult contains the result from [CheckChangesAgainstFilter]
type FilePatchCheckResult struct {
	Errors []*FilePatchError
}

func (f *FilePatchCheckResult) ErrorSlice() []error {
	if f == nil || len(f.Errors) == 0 {
		return nil
	}

	errs := make([]error, 0, len(f.Errors))
	for _, e := range f.Errors {
		errs = append(errs, e)
	}

	return errs
}

func (f *FilePatchCheckResult) ToError() error {
	errs := f.ErrorSlice()
	if len(errs) == 0 {
		return nil
	}

	return errors.Join(errs...)
}

// CheckChangesAgainstFilter checks that every file changed between the
// trees from and to is owned by f: the path must survive filtering with f
// and mapping back. Both sides of a rename are checked.
func CheckChangesAgainstFilter(tx *cache.Transaction, f filter.Filter, from, to plumbing.Hash) (*FilePatchCheckResult, error) {
	repo := tx.Repo()
	fromOwned, err := region(tx, f, from)
	if err != nil {
		return nil, err
	}
	toOwned, err := region(tx, f, to)
	if err != nil {
		return nil, err
	}
	fromTree, err := getTree(tx, from)
	if err != nil {
		return nil, err
	}
	toTree, err := getTree(tx, to)
	if err != nil {
		return nil, err
	}
	changes, err := object.DiffTree(fromTree, toTree)
	if err != nil {
		return nil, err
	}

	owns := func(tree plumbing.Hash, p string) (bool, error) {
		_, found, err := gittree.Get(repo, tree, p)
		return found, err
	}

	r := &FilePatchCheckResult{}
	for _, change := range changes {
		var thiserr *FilePatchError
		if change.From.Name != "" {
			ok, err := owns(fromOwned, change.From.Name)
			if err != nil {
				return nil, err
			}
			if !ok {
				thiserr = &FilePatchError{FromFile: change.From.Name}
			}
		}
		if change.To.Name != "" {
			ok, err := owns(toOwned, change.To.Name)
			if err != nil {
				return nil, err
			}
			if !ok {
				if thiserr == nil {
					thiserr = new(FilePatchError)
				}
				thiserr.ToFile = change.To.Name
			}
		}
		if thiserr != nil {
			r.Errors = append(r.Errors, thiserr)
		}
	}

	return r, nil
}

func getTree(tx *cache.Transaction, h plumbing.Hash) (*object.Tree, error) {
	if h.IsZero() || gittree.IsEmpty(h) {
		return nil, nil
	}
	return object.GetTree(tx.Repo(), h)
}
