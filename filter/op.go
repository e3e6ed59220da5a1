package filter

import (
	"github.com/go-git/go-git/v5/plumbing"
)

// Filter is a content addressed handle to an interned [Op]. The value is
// the id of the git tree encoding of the op, see [Store.AsTree].
type Filter plumbing.Hash

// Hash returns the filter id as a git hash.
func (f Filter) Hash() plumbing.Hash {
	return plumbing.Hash(f)
}

func (f Filter) String() string {
	return plumbing.Hash(f).String()
}

// IsZero reports whether f is the zero handle, which never names a filter.
func (f Filter) IsZero() bool {
	return plumbing.Hash(f).IsZero()
}

// Op is a filter primitive or combinator. Ops are immutable once interned.
type Op interface {
	opName() string
}

type (
	// Nop passes the tree through unchanged.
	Nop struct{}
	// Empty produces the empty tree.
	Empty struct{}
	// Subdir selects the subtree at Path.
	Subdir struct{ Path string }
	// Prefix moves the tree into Path.
	Prefix struct{ Path string }
	// File selects the single entry Src and places it at Dst.
	File struct{ Dst, Src string }
	// Pattern keeps the files matching Glob.
	Pattern struct{ Glob string }
	// Workspace applies the filter defined by Path/workspace.josh.
	Workspace struct{ Path string }
	// Stored applies the filter defined by Path.josh.
	Stored struct{ Path string }
	// Chain applies Filters one after another.
	Chain struct{ Filters []Filter }
	// Compose overlays the results of Filters, earlier filters take
	// precedence.
	Compose struct{ Filters []Filter }
	// Subtract removes from the result of A everything B selects.
	Subtract struct{ A, B Filter }
	// Exclude removes everything Filter selects.
	Exclude struct{ Filter Filter }
	// Pin keeps the paths Filter selects at the version of the filtered
	// parent.
	Pin struct{ Filter Filter }
	// Squash collapses history. Without Select every commit becomes a
	// parentless commit of its tree; with Select only the commits named in
	// Refs are kept, rewritten through their filter.
	Squash struct {
		Select bool
		Refs   []RevFilter
	}
	// Rev applies a different filter to the history below given revisions.
	Rev struct{ Entries []RevFilter }
	// Message rewrites the commit message with a template.
	Message struct{ Format, Regex string }
	// Author replaces the author signature.
	Author struct{ Name, Email string }
	// Committer replaces the committer signature.
	Committer struct{ Name, Email string }
	// Linear drops all parents but the first.
	Linear struct{}
	// Prune drops merges whose tree equals one of the parents' trees.
	Prune struct{}
	// Unsign removes commit signatures.
	Unsign struct{}
	// Paths replaces every file's content by its path.
	Paths struct{}
	// Index replaces the tree by a trigram index of its files.
	Index struct{}
	// Invert applies the inverse of Filter.
	Invert struct{ Filter Filter }
	// Fold accumulates the trees of all ancestors.
	Fold struct{}
	// Hook resolves a filter per commit through a [FilterHook].
	Hook struct{ Name string }
	// RegexReplace rewrites file contents.
	RegexReplace struct{ Rules []Replacement }
	// HistoryConcat replaces the history at and below Rev by the history
	// filtered with Filter.
	HistoryConcat struct {
		Rev    Ref
		Filter Filter
	}
	// Meta attaches key value pairs to Filter.
	Meta struct {
		Pairs  []MetaPair
		Filter Filter
	}
)

// Ref names a revision, either resolved or a lazy ref name.
type Ref struct {
	Oid  plumbing.Hash
	Name string
}

// IsLazy reports whether the ref is not resolved to an oid yet.
func (r Ref) IsLazy() bool {
	return r.Oid.IsZero()
}

func (r Ref) String() string {
	if r.IsLazy() {
		return r.Name
	}
	return r.Oid.String()
}

// RevFilter pairs a revision with a filter.
type RevFilter struct {
	Rev    Ref
	Filter Filter
}

// Replacement is one regular expression replacement rule.
type Replacement struct {
	Regex string
	With  string
}

// MetaPair is a key value pair of [Meta].
type MetaPair struct {
	Key   string
	Value string
}

func (Nop) opName() string           { return "nop" }
func (Empty) opName() string         { return "empty" }
func (Subdir) opName() string        { return "subdir" }
func (Prefix) opName() string        { return "prefix" }
func (File) opName() string          { return "file" }
func (Pattern) opName() string       { return "pattern" }
func (Workspace) opName() string     { return "workspace" }
func (Stored) opName() string        { return "stored" }
func (Chain) opName() string         { return "chain" }
func (Compose) opName() string       { return "compose" }
func (Subtract) opName() string      { return "subtract" }
func (Exclude) opName() string       { return "exclude" }
func (Pin) opName() string           { return "pin" }
func (Squash) opName() string        { return "squash" }
func (Rev) opName() string           { return "rev" }
func (Message) opName() string       { return "message" }
func (Author) opName() string        { return "author" }
func (Committer) opName() string     { return "committer" }
func (Linear) opName() string        { return "linear" }
func (Prune) opName() string         { return "prune" }
func (Unsign) opName() string        { return "unsign" }
func (Paths) opName() string         { return "paths" }
func (Index) opName() string         { return "index" }
func (Invert) opName() string        { return "invert" }
func (Fold) opName() string          { return "fold" }
func (Hook) opName() string          { return "hook" }
func (RegexReplace) opName() string  { return "replace" }
func (HistoryConcat) opName() string { return "concat" }
func (Meta) opName() string          { return "meta" }

// OpName returns the name used for op in the tree encoding.
func OpName(op Op) string {
	return op.opName()
}

// IsTreeOp reports whether op is fully defined on a single tree, without
// looking at the commit graph.
func IsTreeOp(op Op) bool {
	switch op.(type) {
	case Fold, Rev, Hook, HistoryConcat, Squash, Linear, Prune, Unsign, Workspace, Stored, Pin:
		return false
	}
	return true
}

// IsPerRevision reports whether the effective filter of op can change from
// commit to commit.
func IsPerRevision(op Op) bool {
	switch op.(type) {
	case Workspace, Stored, Hook, Rev:
		return true
	}
	return false
}
