package filter

import (
	"fmt"
	"log/slog"
	"sync"
)

var logger = slog.Default()

// SetLogger replaces the logger of the package.
func SetLogger(l *slog.Logger) {
	logger = l
}

type invertResult struct {
	filter Filter
	ok     bool
}

// Store is the arena interning filters and memoizing the results of the
// algebra (optimization, inversion, ancestry). A Store is safe for
// concurrent use; independent transactions may share one.
type Store struct {
	mu sync.Mutex

	ops map[Filter]Op

	optimized  map[Filter]Filter
	flattened  map[Filter]Filter
	simplified map[Filter]Filter
	stepped    map[Filter]Filter
	inverted   map[Filter]invertResult

	ancestors *ancestorCache

	nop   Filter
	empty Filter
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{
		ops:        make(map[Filter]Op),
		optimized:  make(map[Filter]Filter),
		flattened:  make(map[Filter]Filter),
		simplified: make(map[Filter]Filter),
		stepped:    make(map[Filter]Filter),
		inverted:   make(map[Filter]invertResult),
		ancestors:  newAncestorCache(),
	}
	s.nop = s.Intern(Nop{})
	s.empty = s.Intern(Empty{})
	return s
}

// Intern stores op and returns its handle. Interning equal ops returns
// equal handles.
func (s *Store) Intern(op Op) Filter {
	op = cloneOp(op)
	node, err := encodeOp(op)
	if err != nil {
		// encoding only fails on a broken in-memory object, which is a bug.
		panic(fmt.Errorf("failed to encode filter op %s: %w", op.opName(), err))
	}
	f := Filter(node.hash)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.ops[f]; !found {
		s.ops[f] = op
	}
	return f
}

// Op returns the op behind f. Looking up a filter that was never interned
// in this store is a programming error and panics.
func (s *Store) Op(f Filter) Op {
	s.mu.Lock()
	op, found := s.ops[f]
	s.mu.Unlock()
	if !found {
		panic(fmt.Errorf("filter %s is not interned", f))
	}
	return op
}

// Has reports whether f is interned in this store.
func (s *Store) Has(f Filter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, found := s.ops[f]
	return found
}

// Nop returns the handle of [Nop].
func (s *Store) Nop() Filter { return s.nop }

// Empty returns the handle of [Empty].
func (s *Store) Empty() Filter { return s.empty }

// Subdir interns a [Subdir].
func (s *Store) Subdir(p string) Filter { return s.Intern(Subdir{Path: cleanPath(p)}) }

// Prefix interns a [Prefix].
func (s *Store) Prefix(p string) Filter { return s.Intern(Prefix{Path: cleanPath(p)}) }

// File interns a [File] keeping the file at its path.
func (s *Store) File(p string) Filter {
	p = cleanPath(p)
	return s.Intern(File{Dst: p, Src: p})
}

// Chain interns a [Chain] of the given filters. Stages that are chains
// themselves are spliced in.
func (s *Store) Chain(filters ...Filter) Filter {
	switch len(filters) {
	case 0:
		return s.nop
	case 1:
		return filters[0]
	}
	stages := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if c, ok := s.Op(f).(Chain); ok {
			stages = append(stages, c.Filters...)
			continue
		}
		stages = append(stages, f)
	}
	return s.Intern(Chain{Filters: stages})
}

// Compose interns a [Compose] of the given filters.
func (s *Store) Compose(filters ...Filter) Filter {
	switch len(filters) {
	case 0:
		return s.empty
	case 1:
		return filters[0]
	}
	return s.Intern(Compose{Filters: filters})
}

// Subtract interns a [Subtract].
func (s *Store) Subtract(a, b Filter) Filter { return s.Intern(Subtract{A: a, B: b}) }

// Exclude interns an [Exclude].
func (s *Store) Exclude(f Filter) Filter { return s.Intern(Exclude{Filter: f}) }

func (s *Store) memo(table map[Filter]Filter, f Filter) (Filter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, found := table[f]
	return r, found
}

func (s *Store) setMemo(table map[Filter]Filter, f, r Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	table[f] = r
}

func cloneFilters(fs []Filter) []Filter {
	if fs == nil {
		return nil
	}
	r := make([]Filter, len(fs))
	copy(r, fs)
	return r
}

func cloneOp(op Op) Op {
	switch v := op.(type) {
	case Subdir:
		v.Path = cleanPath(v.Path)
		return v
	case Prefix:
		v.Path = cleanPath(v.Path)
		return v
	case File:
		v.Dst, v.Src = cleanPath(v.Dst), cleanPath(v.Src)
		return v
	case Workspace:
		v.Path = cleanPath(v.Path)
		return v
	case Stored:
		v.Path = cleanPath(v.Path)
		return v
	case Chain:
		return Chain{Filters: cloneFilters(v.Filters)}
	case Compose:
		return Compose{Filters: cloneFilters(v.Filters)}
	case Squash:
		if !v.Select {
			return Squash{}
		}
		refs := make([]RevFilter, len(v.Refs))
		copy(refs, v.Refs)
		return Squash{Select: true, Refs: refs}
	case Rev:
		entries := make([]RevFilter, len(v.Entries))
		copy(entries, v.Entries)
		return Rev{Entries: entries}
	case RegexReplace:
		rules := make([]Replacement, len(v.Rules))
		copy(rules, v.Rules)
		return RegexReplace{Rules: rules}
	case Meta:
		pairs := make([]MetaPair, len(v.Pairs))
		copy(pairs, v.Pairs)
		return Meta{Pairs: pairs, Filter: v.Filter}
	}
	return op
}
