package filter

import (
	"github.com/josh-project/josh-sub000/jerr"
)

// Invert returns the inverse of f: applying f and then its inverse gives
// back the part of the input f selects. Filters without an inverse fail with
// a [jerr.NoInvert] error.
func (s *Store) Invert(f Filter) (Filter, error) {
	s.mu.Lock()
	r, found := s.inverted[f]
	s.mu.Unlock()
	if found {
		if !r.ok {
			return Filter{}, jerr.Errorf("%s: %s", jerr.NoInvert, s.Spec(f))
		}
		return r.filter, nil
	}

	inv, err := s.invert(f)

	s.mu.Lock()
	s.inverted[f] = invertResult{filter: inv, ok: err == nil}
	s.mu.Unlock()
	return inv, err
}

func (s *Store) invertAll(fs []Filter) ([]Filter, error) {
	result := make([]Filter, len(fs))
	for i, f := range fs {
		inv, err := s.Invert(f)
		if err != nil {
			return nil, err
		}
		result[i] = inv
	}
	return result, nil
}

func (s *Store) invert(f Filter) (Filter, error) {
	switch v := s.Op(f).(type) {
	case Nop, Empty, Pattern:
		return f, nil
	case Subdir:
		return s.Prefix(v.Path), nil
	case Prefix:
		return s.Subdir(v.Path), nil
	case File:
		return s.Intern(File{Dst: v.Src, Src: v.Dst}), nil
	case Message, Author, Committer, Linear, Prune, Unsign:
		return s.nop, nil
	case Squash:
		if !v.Select {
			return s.nop, nil
		}
	case Invert:
		return v.Filter, nil
	case Chain:
		stages, err := s.invertAll(v.Filters)
		if err != nil {
			return Filter{}, err
		}
		for i, j := 0, len(stages)-1; i < j; i, j = i+1, j-1 {
			stages[i], stages[j] = stages[j], stages[i]
		}
		return s.Chain(stages...), nil
	case Compose:
		children, err := s.invertAll(v.Filters)
		if err != nil {
			return Filter{}, err
		}
		return s.Compose(children...), nil
	case Subtract:
		ab, err := s.invertAll([]Filter{v.A, v.B})
		if err != nil {
			return Filter{}, err
		}
		return s.Subtract(ab[0], ab[1]), nil
	case Exclude:
		inv, err := s.Invert(v.Filter)
		if err != nil {
			return Filter{}, err
		}
		return s.Exclude(inv), nil
	case Pin:
		inv, err := s.Invert(v.Filter)
		if err != nil {
			return Filter{}, err
		}
		return s.Intern(Pin{Filter: inv}), nil
	case Meta:
		inv, err := s.Invert(v.Filter)
		if err != nil {
			return Filter{}, err
		}
		return s.Intern(Meta{Pairs: v.Pairs, Filter: inv}), nil
	}
	return Filter{}, jerr.Errorf("%s: %s", jerr.NoInvert, s.Spec(f))
}
