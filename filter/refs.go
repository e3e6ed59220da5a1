package filter

import (
	"sort"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/josh-project/josh-sub000/jerr"
)

// LazyRefs returns the names of the unresolved refs used anywhere in f.
func (s *Store) LazyRefs(f Filter) []string {
	names := make(map[string]struct{})
	s.visit(f, func(rf RevFilter) {
		if rf.Rev.IsLazy() {
			names[rf.Rev.Name] = struct{}{}
		}
	})
	result := make([]string, 0, len(names))
	for n := range names {
		result = append(result, n)
	}
	sort.Strings(result)
	return result
}

func (s *Store) visit(f Filter, fn func(RevFilter)) {
	switch v := s.Op(f).(type) {
	case Squash:
		for _, e := range v.Refs {
			fn(e)
			s.visit(e.Filter, fn)
		}
	case Rev:
		for _, e := range v.Entries {
			fn(e)
			s.visit(e.Filter, fn)
		}
	case HistoryConcat:
		fn(RevFilter{Rev: v.Rev, Filter: v.Filter})
		s.visit(v.Filter, fn)
	default:
		s.mapChildren(f, func(c Filter) Filter {
			s.visit(c, fn)
			return c
		})
	}
}

// ResolveRefs replaces every lazy ref of f by the oid resolve returns for
// its name.
func (s *Store) ResolveRefs(f Filter, resolve func(name string) (plumbing.Hash, error)) (Filter, error) {
	var resolveErr error
	var rewrite func(Filter) Filter
	resolveRef := func(r Ref) Ref {
		if !r.IsLazy() || resolveErr != nil {
			return r
		}
		oid, err := resolve(r.Name)
		if err != nil {
			resolveErr = jerr.Wrap(err, "%s %s", jerr.UnresolvedLazyRef, r.Name)
			return r
		}
		return Ref{Oid: oid}
	}
	resolveAll := func(entries []RevFilter) []RevFilter {
		result := make([]RevFilter, len(entries))
		for i, e := range entries {
			result[i] = RevFilter{Rev: resolveRef(e.Rev), Filter: rewrite(e.Filter)}
		}
		return result
	}
	rewrite = func(f Filter) Filter {
		switch v := s.Op(f).(type) {
		case Squash:
			if v.Select {
				return s.Intern(Squash{Select: true, Refs: resolveAll(v.Refs)})
			}
			return f
		case Rev:
			return s.Intern(Rev{Entries: resolveAll(v.Entries)})
		case HistoryConcat:
			return s.Intern(HistoryConcat{Rev: resolveRef(v.Rev), Filter: rewrite(v.Filter)})
		}
		return s.mapChildren(f, rewrite)
	}

	r := rewrite(f)
	if resolveErr != nil {
		return Filter{}, resolveErr
	}
	return r, nil
}
