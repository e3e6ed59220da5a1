package filter

import (
	"sort"
	"strings"

	"github.com/josh-project/josh-sub000/gittree"
)

func cleanPath(p string) string {
	return gittree.CleanPath(p)
}

// hasPathPrefix reports whether prefix names p or one of p's ancestors,
// comparing whole components.
func hasPathPrefix(p, prefix string) bool {
	if prefix == "" {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// trimPathPrefix removes prefix from p. It must be called only when
// hasPathPrefix(p, prefix) holds.
func trimPathPrefix(p, prefix string) string {
	if prefix == "" {
		return p
	}
	return strings.TrimPrefix(strings.TrimPrefix(p, prefix), "/")
}

// pathsOverlap reports whether one path is an ancestor of, or equal to, the
// other.
func pathsOverlap(a, b string) bool {
	return hasPathPrefix(a, b) || hasPathPrefix(b, a)
}

// globLiteralPrefix returns the leading components of glob that contain no
// wildcard.
func globLiteralPrefix(glob string) string {
	parts := gittree.SplitPath(glob)
	literal := make([]string, 0, len(parts))
	for _, p := range parts[:max(len(parts)-1, 0)] {
		if strings.ContainsAny(p, "*?[") {
			break
		}
		literal = append(literal, p)
	}
	return strings.Join(literal, "/")
}

// pathTrie indexes values by path so that all values stored on an
// ancestor, on the path itself, or below it can be found without scanning
// unrelated entries.
type pathTrie struct {
	children map[string]*pathTrie
	values   []int
}

func newPathTrie() *pathTrie {
	return &pathTrie{children: make(map[string]*pathTrie)}
}

func (t *pathTrie) insert(p string, v int) {
	n := t
	for _, c := range gittree.SplitPath(p) {
		next, found := n.children[c]
		if !found {
			next = newPathTrie()
			n.children[c] = next
		}
		n = next
	}
	n.values = append(n.values, v)
}

// overlapping returns the values stored on ancestors of p, on p, and on
// descendants of p, sorted and without duplicates.
func (t *pathTrie) overlapping(p string) []int {
	var result []int
	n := t
	result = append(result, n.values...)
	for _, c := range gittree.SplitPath(p) {
		next, found := n.children[c]
		if !found {
			return uniqueInts(result)
		}
		n = next
		result = append(result, n.values...)
	}
	// descendants
	stack := make([]*pathTrie, 0, len(n.children))
	for _, c := range n.children {
		stack = append(stack, c)
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		result = append(result, top.values...)
		for _, c := range top.children {
			stack = append(stack, c)
		}
	}
	return uniqueInts(result)
}

func uniqueInts(v []int) []int {
	sort.Ints(v)
	result := v[:0]
	for i, x := range v {
		if i == 0 || x != v[i-1] {
			result = append(result, x)
		}
	}
	return result
}
