package filter

import (
	"container/heap"

	"github.com/josh-project/josh-sub000/gittree"
)

// MaxOptimizeIterations bounds the rewrite loop of [Store.Optimize]. The
// rules are expected to reach a fixed point long before; hitting the bound
// means two rules undo each other.
const MaxOptimizeIterations = 1000

// Optimize rewrites f into an equivalent filter in normal form. Optimizing
// an optimized filter returns it unchanged.
func (s *Store) Optimize(f Filter) Filter {
	if r, found := s.memo(s.optimized, f); found {
		return r
	}

	current := f
	converged := false
	for i := 0; i < MaxOptimizeIterations; i++ {
		next := s.step(s.simplify(s.flatten(current)))
		if next == current {
			converged = true
			break
		}
		current = next
	}
	if !converged {
		logger.Warn("filter optimization did not converge", "filter", s.Spec(f), "iterations", MaxOptimizeIterations)
	}

	s.setMemo(s.optimized, f, current)
	s.setMemo(s.optimized, current, current)
	return current
}

// mapChildren rebuilds f with fn applied to every directly nested filter.
func (s *Store) mapChildren(f Filter, fn func(Filter) Filter) Filter {
	mapAll := func(fs []Filter) []Filter {
		r := make([]Filter, len(fs))
		for i, c := range fs {
			r[i] = fn(c)
		}
		return r
	}
	mapRevs := func(entries []RevFilter) []RevFilter {
		r := make([]RevFilter, len(entries))
		for i, e := range entries {
			r[i] = RevFilter{Rev: e.Rev, Filter: fn(e.Filter)}
		}
		return r
	}

	switch v := s.Op(f).(type) {
	case Chain:
		return s.Chain(mapAll(v.Filters)...)
	case Compose:
		return s.Compose(mapAll(v.Filters)...)
	case Subtract:
		return s.Subtract(fn(v.A), fn(v.B))
	case Exclude:
		return s.Exclude(fn(v.Filter))
	case Pin:
		return s.Intern(Pin{Filter: fn(v.Filter)})
	case Invert:
		return s.Intern(Invert{Filter: fn(v.Filter)})
	case Meta:
		return s.Intern(Meta{Pairs: v.Pairs, Filter: fn(v.Filter)})
	case HistoryConcat:
		return s.Intern(HistoryConcat{Rev: v.Rev, Filter: fn(v.Filter)})
	case Rev:
		return s.Intern(Rev{Entries: mapRevs(v.Entries)})
	case Squash:
		if v.Select {
			return s.Intern(Squash{Select: true, Refs: mapRevs(v.Refs)})
		}
	}
	return f
}

// flatten normalizes associativity: nested chains and composes are
// spliced into their parent, nested subtracts are merged.
func (s *Store) flatten(f Filter) Filter {
	if r, found := s.memo(s.flattened, f); found {
		return r
	}
	r := s.mapChildren(f, s.flatten)
	switch v := s.Op(r).(type) {
	case Compose:
		var children []Filter
		for _, c := range v.Filters {
			if inner, ok := s.Op(c).(Compose); ok {
				children = append(children, inner.Filters...)
				continue
			}
			children = append(children, c)
		}
		r = s.Compose(children...)
	case Subtract:
		if inner, ok := s.Op(v.A).(Subtract); ok {
			r = s.Subtract(inner.A, s.flatten(s.Compose(inner.B, v.B)))
		}
	}
	s.setMemo(s.flattened, f, r)
	return r
}

// simplify merges adjacent path stages of chains.
func (s *Store) simplify(f Filter) Filter {
	if r, found := s.memo(s.simplified, f); found {
		return r
	}
	r := s.mapChildren(f, s.simplify)
	if c, ok := s.Op(r).(Chain); ok {
		var stages []Filter
		for _, stage := range c.Filters {
			if len(stages) > 0 {
				if merged, ok := s.mergePaths(stages[len(stages)-1], stage); ok {
					stages[len(stages)-1] = merged
					continue
				}
			}
			stages = append(stages, stage)
		}
		r = s.Chain(stages...)
	}
	s.setMemo(s.simplified, f, r)
	return r
}

func (s *Store) mergePaths(a, b Filter) (Filter, bool) {
	switch x := s.Op(a).(type) {
	case Subdir:
		if y, ok := s.Op(b).(Subdir); ok {
			return s.Subdir(gittree.JoinPath(x.Path, y.Path)), true
		}
	case Prefix:
		if y, ok := s.Op(b).(Prefix); ok {
			return s.Prefix(gittree.JoinPath(y.Path, x.Path)), true
		}
	}
	return Filter{}, false
}

// step applies one round of the algebraic rewrite rules.
func (s *Store) step(f Filter) Filter {
	if r, found := s.memo(s.stepped, f); found {
		return r
	}
	r := s.mapChildren(f, s.step)
	switch v := s.Op(r).(type) {
	case Chain:
		r = s.stepChain(v.Filters)
	case Compose:
		r = s.stepCompose(v.Filters)
	case Subtract:
		r = s.stepSubtract(v.A, v.B)
	case Exclude:
		switch s.Op(v.Filter).(type) {
		case Empty:
			r = s.nop
		case Nop:
			r = s.empty
		}
	case Pin:
		if _, ok := s.Op(v.Filter).(Empty); ok {
			r = s.nop
		}
	case Invert:
		if inv, err := s.Invert(v.Filter); err == nil {
			r = inv
		}
	case Meta:
		if len(v.Pairs) == 0 {
			r = v.Filter
		}
	}
	s.setMemo(s.stepped, f, r)
	return r
}

// keepsEmpty reports whether applying op to the empty tree always gives
// the empty tree.
func keepsEmpty(op Op) bool {
	switch op.(type) {
	case Empty, Subdir, Prefix, File, Pattern, Exclude, Subtract, Paths, RegexReplace:
		return true
	}
	return false
}

func (s *Store) stepChain(stages []Filter) Filter {
	result := make([]Filter, 0, len(stages))
	for _, stage := range stages {
		op := s.Op(stage)
		switch op.(type) {
		case Nop:
			continue
		case Empty:
			// whatever came before, the result is empty
			result = append(result[:0], stage)
			continue
		}
		if len(result) > 0 {
			prev := result[len(result)-1]
			if prev == s.empty && keepsEmpty(op) {
				continue
			}
			if r, ok := s.prefixSubdir(prev, stage); ok {
				result[len(result)-1] = r
				continue
			}
		}
		result = append(result, stage)
	}
	return s.Chain(result...)
}

// prefixSubdir rewrites Chain(Prefix(a), Subdir(b)).
func (s *Store) prefixSubdir(a, b Filter) (Filter, bool) {
	p, ok := s.Op(a).(Prefix)
	if !ok {
		return Filter{}, false
	}
	d, ok := s.Op(b).(Subdir)
	if !ok {
		return Filter{}, false
	}
	switch {
	case p.Path == d.Path:
		return s.nop, true
	case hasPathPrefix(p.Path, d.Path):
		return s.Prefix(trimPathPrefix(p.Path, d.Path)), true
	case hasPathPrefix(d.Path, p.Path):
		return s.Subdir(trimPathPrefix(d.Path, p.Path)), true
	}
	return s.empty, true
}

func (s *Store) stepCompose(children []Filter) Filter {
	seen := make(map[Filter]struct{}, len(children))
	kept := make([]Filter, 0, len(children))
	for _, c := range children {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		switch s.Op(c).(type) {
		case Empty:
			continue
		case Nop:
			// nop takes the whole input, later children add nothing
			kept = append(kept, c)
			return s.Compose(s.groupCompose(s.prefixSort(kept))...)
		}
		kept = append(kept, c)
	}
	if len(kept) > 1 {
		kept = s.groupCompose(s.prefixSort(kept))
	}
	return s.Compose(kept...)
}

func (s *Store) stages(f Filter) []Filter {
	if c, ok := s.Op(f).(Chain); ok {
		return c.Filters
	}
	return []Filter{f}
}

// groupCompose merges adjacent children sharing a leading Subdir or a
// trailing Prefix stage.
func (s *Store) groupCompose(children []Filter) []Filter {
	var result []Filter
	for i := 0; i < len(children); {
		head := s.stages(children[i])
		j := i + 1

		if _, ok := s.Op(head[0]).(Subdir); ok {
			for j < len(children) && s.stages(children[j])[0] == head[0] {
				j++
			}
			if j > i+1 {
				rests := make([]Filter, 0, j-i)
				for _, c := range children[i:j] {
					rests = append(rests, s.Chain(s.stages(c)[1:]...))
				}
				result = append(result, s.Chain(head[0], s.Compose(rests...)))
				i = j
				continue
			}
		}

		last := head[len(head)-1]
		if _, ok := s.Op(last).(Prefix); ok {
			for j < len(children) {
				st := s.stages(children[j])
				if st[len(st)-1] != last {
					break
				}
				j++
			}
			if j > i+1 {
				rests := make([]Filter, 0, j-i)
				for _, c := range children[i:j] {
					st := s.stages(c)
					rests = append(rests, s.Chain(st[:len(st)-1]...))
				}
				result = append(result, s.Chain(s.Compose(rests...), last))
				i = j
				continue
			}
		}

		result = append(result, children[i])
		i++
	}
	return result
}

func (s *Store) stepSubtract(a, b Filter) Filter {
	switch {
	case a == b:
		return s.empty
	case b == s.empty:
		return a
	case a == s.empty:
		return s.empty
	}

	ac, ok := s.Op(a).(Compose)
	if !ok {
		return s.Subtract(a, b)
	}
	remove := make(map[Filter]int)
	if bc, ok := s.Op(b).(Compose); ok {
		for _, c := range bc.Filters {
			remove[c]++
		}
	} else {
		remove[b]++
	}
	var rest, removed []Filter
	for _, c := range ac.Filters {
		if remove[c] > 0 {
			remove[c]--
			removed = append(removed, c)
			continue
		}
		rest = append(rest, c)
	}
	if len(rest) == 0 {
		return s.empty
	}
	if len(rest) == len(ac.Filters) {
		return s.Subtract(a, b)
	}
	// a removed child may hide what a kept child writes to the same path
	for _, r := range removed {
		for _, k := range rest {
			if pathsOverlap(s.dstPath(r), s.dstPath(k)) {
				return s.Subtract(a, b)
			}
		}
	}
	return s.Subtract(s.Compose(rest...), b)
}

// srcPath returns the part of the input tree f reads from, "" when f may
// read anything.
func (s *Store) srcPath(f Filter) string {
	switch v := s.Op(f).(type) {
	case Subdir:
		return v.Path
	case File:
		return v.Src
	case Pattern:
		return globLiteralPrefix(v.Glob)
	case Chain:
		return s.srcPath(v.Filters[0])
	}
	return ""
}

// dstPath returns the part of the output tree f writes to, "" when f may
// write anywhere.
func (s *Store) dstPath(f Filter) string {
	switch v := s.Op(f).(type) {
	case Prefix:
		return v.Path
	case File:
		return v.Dst
	case Pattern:
		return globLiteralPrefix(v.Glob)
	case Chain:
		return s.dstPath(v.Filters[len(v.Filters)-1])
	}
	return ""
}

type sortItem struct {
	index         int
	src, dst, txt string
}

type sortQueue []sortItem

func (q sortQueue) Len() int { return len(q) }
func (q sortQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.src != b.src {
		return a.src < b.src
	}
	if a.dst != b.dst {
		return a.dst < b.dst
	}
	if a.txt != b.txt {
		return a.txt < b.txt
	}
	return a.index < b.index
}
func (q sortQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *sortQueue) Push(x any)   { *q = append(*q, x.(sortItem)) }
func (q *sortQueue) Pop() any {
	old := *q
	x := old[len(old)-1]
	*q = old[:len(old)-1]
	return x
}

// prefixSort orders the children of a compose so that children reading and
// writing disjoint paths appear in a canonical order, while children whose
// paths overlap keep their relative order.
func (s *Store) prefixSort(children []Filter) []Filter {
	n := len(children)
	items := make([]sortItem, n)
	srcs, dsts := newPathTrie(), newPathTrie()
	for i, c := range children {
		items[i] = sortItem{index: i, src: s.srcPath(c), dst: s.dstPath(c), txt: s.Spec(c)}
		srcs.insert(items[i].src, i)
		dsts.insert(items[i].dst, i)
	}

	// edges from earlier to later overlapping children
	successors := make([][]int, n)
	indegree := make([]int, n)
	for i := range items {
		conflicts := append(srcs.overlapping(items[i].src), dsts.overlapping(items[i].dst)...)
		for _, j := range uniqueInts(conflicts) {
			if j < i {
				successors[j] = append(successors[j], i)
				indegree[i]++
			}
		}
	}

	q := &sortQueue{}
	for i := range items {
		if indegree[i] == 0 {
			heap.Push(q, items[i])
		}
	}
	result := make([]Filter, 0, n)
	for q.Len() > 0 {
		item := heap.Pop(q).(sortItem)
		result = append(result, children[item.index])
		for _, j := range successors[item.index] {
			indegree[j]--
			if indegree[j] == 0 {
				heap.Push(q, items[j])
			}
		}
	}
	return result
}
