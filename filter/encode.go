package filter

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/josh-project/josh-sub000/gittree"
	"github.com/josh-project/josh-sub000/jerr"
)

type nodeKind int

const (
	leafNode nodeKind = iota
	treeNode
	refNode
)

// node is the in-memory form of the git objects encoding an op.
type node struct {
	kind     nodeKind
	data     []byte
	ref      Filter
	names    []string
	children []node
	hash     plumbing.Hash
}

func leaf(text string) node {
	data := []byte(text)
	return node{kind: leafNode, data: data, hash: gittree.BlobHash(data)}
}

func refTo(f Filter) node {
	return node{kind: refNode, ref: f, hash: f.Hash()}
}

func treeOf(names []string, children []node) (node, error) {
	entries := make([]object.TreeEntry, 0, len(names))
	for i, name := range names {
		mode := filemode.Dir
		if children[i].kind == leafNode {
			mode = filemode.Regular
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: mode, Hash: children[i].hash})
	}
	h, err := gittree.TreeHash(entries)
	if err != nil {
		return node{}, err
	}
	return node{kind: treeNode, names: names, children: children, hash: h}, nil
}

func mustTree(names []string, children []node) node {
	n, err := treeOf(names, children)
	if err != nil {
		panic(err)
	}
	return n
}

func listOf(children []node) node {
	names := make([]string, len(children))
	for i := range children {
		names[i] = strconv.Itoa(i)
	}
	return mustTree(names, children)
}

func filterList(fs []Filter) node {
	children := make([]node, len(fs))
	for i, f := range fs {
		children[i] = refTo(f)
	}
	return listOf(children)
}

func pair(a, b string) node {
	return listOf([]node{leaf(a), leaf(b)})
}

func revFilterList(entries []RevFilter) node {
	children := make([]node, len(entries))
	for i, e := range entries {
		children[i] = mustTree([]string{"filter", "rev"}, []node{refTo(e.Filter), leaf(e.Rev.String())})
	}
	return listOf(children)
}

func encodeOp(op Op) (n node, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	var payload node
	switch v := op.(type) {
	case Nop, Empty, Linear, Prune, Unsign, Paths, Index, Fold:
		payload = leaf("")
	case Subdir:
		payload = leaf(v.Path)
	case Prefix:
		payload = leaf(v.Path)
	case Workspace:
		payload = leaf(v.Path)
	case Stored:
		payload = leaf(v.Path)
	case Pattern:
		payload = leaf(v.Glob)
	case Hook:
		payload = leaf(v.Name)
	case File:
		payload = pair(v.Dst, v.Src)
	case Chain:
		payload = filterList(v.Filters)
	case Compose:
		payload = filterList(v.Filters)
	case Subtract:
		payload = filterList([]Filter{v.A, v.B})
	case Exclude:
		payload = refTo(v.Filter)
	case Pin:
		payload = refTo(v.Filter)
	case Invert:
		payload = refTo(v.Filter)
	case Squash:
		if v.Select {
			payload = revFilterList(v.Refs)
		} else {
			payload = leaf("")
		}
	case Rev:
		payload = revFilterList(v.Entries)
	case Message:
		payload = pair(v.Format, v.Regex)
	case Author:
		payload = pair(v.Name, v.Email)
	case Committer:
		payload = pair(v.Name, v.Email)
	case RegexReplace:
		children := make([]node, len(v.Rules))
		for i, r := range v.Rules {
			children[i] = pair(r.Regex, r.With)
		}
		payload = listOf(children)
	case HistoryConcat:
		payload = mustTree([]string{"filter", "rev"}, []node{refTo(v.Filter), leaf(v.Rev.String())})
	case Meta:
		children := make([]node, len(v.Pairs))
		for i, p := range v.Pairs {
			children[i] = pair(p.Key, p.Value)
		}
		payload = mustTree([]string{"filter", "pairs"}, []node{refTo(v.Filter), listOf(children)})
	default:
		return node{}, fmt.Errorf("unknown op %T", op)
	}
	return treeOf([]string{op.opName()}, []node{payload})
}

// AsTree writes the encoding of f as git objects into st. The returned
// tree id equals f.
func (s *Store) AsTree(st storer.EncodedObjectStorer, f Filter) (plumbing.Hash, error) {
	written := make(map[Filter]struct{})
	return s.asTree(st, f, written)
}

func (s *Store) asTree(st storer.EncodedObjectStorer, f Filter, written map[Filter]struct{}) (plumbing.Hash, error) {
	if _, found := written[f]; found {
		return f.Hash(), nil
	}
	n, err := encodeOp(s.Op(f))
	if err != nil {
		return plumbing.ZeroHash, err
	}
	h, err := s.writeNode(st, n, written)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	written[f] = struct{}{}
	return h, nil
}

func (s *Store) writeNode(st storer.EncodedObjectStorer, n node, written map[Filter]struct{}) (plumbing.Hash, error) {
	switch n.kind {
	case leafNode:
		return gittree.WriteBlob(st, n.data)
	case refNode:
		return s.asTree(st, n.ref, written)
	}
	entries := make([]object.TreeEntry, 0, len(n.children))
	for i, c := range n.children {
		h, err := s.writeNode(st, c, written)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		mode := filemode.Dir
		if c.kind == leafNode {
			mode = filemode.Regular
		}
		entries = append(entries, object.TreeEntry{Name: n.names[i], Mode: mode, Hash: h})
	}
	return gittree.WriteTree(st, entries)
}

// FromTree reads a filter encoded by [Store.AsTree] and interns it.
func (s *Store) FromTree(st storer.EncodedObjectStorer, h plumbing.Hash) (Filter, error) {
	d := &decoder{store: s, st: st, seen: make(map[plumbing.Hash]Filter)}
	f, err := d.filter(h)
	if err != nil {
		return Filter{}, jerr.Wrap(err, "failed to read filter tree %s", h)
	}
	return f, nil
}

type decoder struct {
	store *Store
	st    storer.EncodedObjectStorer
	seen  map[plumbing.Hash]Filter
}

func (d *decoder) entries(h plumbing.Hash) ([]object.TreeEntry, error) {
	return gittree.Entries(d.st, h)
}

func (d *decoder) text(e object.TreeEntry) (string, error) {
	if e.Mode == filemode.Dir {
		return "", jerr.Errorf("%s: expected blob for %s", jerr.InvalidFilter, e.Name)
	}
	data, err := gittree.ReadBlob(d.st, e.Hash)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// list returns the entries of tree h ordered by their numeric names.
func (d *decoder) list(h plumbing.Hash) ([]object.TreeEntry, error) {
	entries, err := d.entries(h)
	if err != nil {
		return nil, err
	}
	indexed := make([]object.TreeEntry, len(entries))
	copy(indexed, entries)
	var convErr error
	sort.SliceStable(indexed, func(i, j int) bool {
		a, err := strconv.Atoi(indexed[i].Name)
		if err != nil {
			convErr = err
		}
		b, err := strconv.Atoi(indexed[j].Name)
		if err != nil {
			convErr = err
		}
		return a < b
	})
	if convErr != nil {
		return nil, jerr.Errorf("%s: non numeric list entry: %w", jerr.InvalidFilter, convErr)
	}
	return indexed, nil
}

func (d *decoder) named(h plumbing.Hash) (map[string]object.TreeEntry, error) {
	entries, err := d.entries(h)
	if err != nil {
		return nil, err
	}
	result := make(map[string]object.TreeEntry, len(entries))
	for _, e := range entries {
		result[e.Name] = e
	}
	return result, nil
}

func (d *decoder) filters(h plumbing.Hash) ([]Filter, error) {
	entries, err := d.list(h)
	if err != nil {
		return nil, err
	}
	result := make([]Filter, 0, len(entries))
	for _, e := range entries {
		f, err := d.filter(e.Hash)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	return result, nil
}

func (d *decoder) pair(h plumbing.Hash) (string, string, error) {
	entries, err := d.list(h)
	if err != nil {
		return "", "", err
	}
	if len(entries) != 2 {
		return "", "", jerr.Errorf("%s: expected pair, got %d entries", jerr.InvalidFilter, len(entries))
	}
	a, err := d.text(entries[0])
	if err != nil {
		return "", "", err
	}
	b, err := d.text(entries[1])
	if err != nil {
		return "", "", err
	}
	return a, b, nil
}

func (d *decoder) revFilter(h plumbing.Hash) (RevFilter, error) {
	m, err := d.named(h)
	if err != nil {
		return RevFilter{}, err
	}
	rev, found := m["rev"]
	if !found {
		return RevFilter{}, jerr.Errorf("%s: missing rev", jerr.InvalidFilter)
	}
	fe, found := m["filter"]
	if !found {
		return RevFilter{}, jerr.Errorf("%s: missing filter", jerr.InvalidFilter)
	}
	text, err := d.text(rev)
	if err != nil {
		return RevFilter{}, err
	}
	f, err := d.filter(fe.Hash)
	if err != nil {
		return RevFilter{}, err
	}
	return RevFilter{Rev: ParseRef(text), Filter: f}, nil
}

func (d *decoder) revFilters(h plumbing.Hash) ([]RevFilter, error) {
	entries, err := d.list(h)
	if err != nil {
		return nil, err
	}
	result := make([]RevFilter, 0, len(entries))
	for _, e := range entries {
		rf, err := d.revFilter(e.Hash)
		if err != nil {
			return nil, err
		}
		result = append(result, rf)
	}
	return result, nil
}

func (d *decoder) filter(h plumbing.Hash) (Filter, error) {
	if f, found := d.seen[h]; found {
		return f, nil
	}
	entries, err := d.entries(h)
	if err != nil {
		return Filter{}, err
	}
	if len(entries) != 1 {
		return Filter{}, jerr.Errorf("%s: filter tree %s has %d entries", jerr.InvalidFilter, h, len(entries))
	}
	op, err := d.op(entries[0])
	if err != nil {
		return Filter{}, err
	}
	f := d.store.Intern(op)
	if f.Hash() != h {
		return Filter{}, jerr.Errorf("%s: tree %s is not canonical", jerr.InvalidFilter, h)
	}
	d.seen[h] = f
	return f, nil
}

func (d *decoder) op(e object.TreeEntry) (Op, error) {
	switch e.Name {
	case "nop":
		return Nop{}, nil
	case "empty":
		return Empty{}, nil
	case "linear":
		return Linear{}, nil
	case "prune":
		return Prune{}, nil
	case "unsign":
		return Unsign{}, nil
	case "paths":
		return Paths{}, nil
	case "index":
		return Index{}, nil
	case "fold":
		return Fold{}, nil
	case "subdir", "prefix", "workspace", "stored", "pattern", "hook":
		text, err := d.text(e)
		if err != nil {
			return nil, err
		}
		switch e.Name {
		case "subdir":
			return Subdir{Path: text}, nil
		case "prefix":
			return Prefix{Path: text}, nil
		case "workspace":
			return Workspace{Path: text}, nil
		case "stored":
			return Stored{Path: text}, nil
		case "pattern":
			return Pattern{Glob: text}, nil
		default:
			return Hook{Name: text}, nil
		}
	case "file", "message", "author", "committer":
		a, b, err := d.pair(e.Hash)
		if err != nil {
			return nil, err
		}
		switch e.Name {
		case "file":
			return File{Dst: a, Src: b}, nil
		case "message":
			return Message{Format: a, Regex: b}, nil
		case "author":
			return Author{Name: a, Email: b}, nil
		default:
			return Committer{Name: a, Email: b}, nil
		}
	case "chain", "compose", "subtract":
		fs, err := d.filters(e.Hash)
		if err != nil {
			return nil, err
		}
		switch e.Name {
		case "chain":
			return Chain{Filters: fs}, nil
		case "compose":
			return Compose{Filters: fs}, nil
		default:
			if len(fs) != 2 {
				return nil, jerr.Errorf("%s: subtract needs 2 filters", jerr.InvalidFilter)
			}
			return Subtract{A: fs[0], B: fs[1]}, nil
		}
	case "exclude", "pin", "invert":
		f, err := d.filter(e.Hash)
		if err != nil {
			return nil, err
		}
		switch e.Name {
		case "exclude":
			return Exclude{Filter: f}, nil
		case "pin":
			return Pin{Filter: f}, nil
		default:
			return Invert{Filter: f}, nil
		}
	case "squash":
		if e.Mode != filemode.Dir {
			return Squash{}, nil
		}
		refs, err := d.revFilters(e.Hash)
		if err != nil {
			return nil, err
		}
		return Squash{Select: true, Refs: refs}, nil
	case "rev":
		entries, err := d.revFilters(e.Hash)
		if err != nil {
			return nil, err
		}
		return Rev{Entries: entries}, nil
	case "replace":
		items, err := d.list(e.Hash)
		if err != nil {
			return nil, err
		}
		rules := make([]Replacement, 0, len(items))
		for _, item := range items {
			re, with, err := d.pair(item.Hash)
			if err != nil {
				return nil, err
			}
			rules = append(rules, Replacement{Regex: re, With: with})
		}
		return RegexReplace{Rules: rules}, nil
	case "concat":
		rf, err := d.revFilter(e.Hash)
		if err != nil {
			return nil, err
		}
		return HistoryConcat{Rev: rf.Rev, Filter: rf.Filter}, nil
	case "meta":
		m, err := d.named(e.Hash)
		if err != nil {
			return nil, err
		}
		fe, ok1 := m["filter"]
		pe, ok2 := m["pairs"]
		if !ok1 || !ok2 {
			return nil, jerr.Errorf("%s: malformed meta", jerr.InvalidFilter)
		}
		f, err := d.filter(fe.Hash)
		if err != nil {
			return nil, err
		}
		items, err := d.list(pe.Hash)
		if err != nil {
			return nil, err
		}
		pairs := make([]MetaPair, 0, len(items))
		for _, item := range items {
			k, v, err := d.pair(item.Hash)
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, MetaPair{Key: k, Value: v})
		}
		return Meta{Pairs: pairs, Filter: f}, nil
	}
	return nil, jerr.Errorf("%s: unknown op %q", jerr.InvalidFilter, e.Name)
}
