package josh

import (
	"bytes"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/josh-project/josh-sub000/cache"
	"github.com/josh-project/josh-sub000/filter"
	"github.com/josh-project/josh-sub000/gittree"
	"github.com/josh-project/josh-sub000/jerr"
)

// RewriteState is what a filter rewrites: the tree of a commit together
// with its metadata. Commit is the id of the source commit, or zero when a
// bare tree is filtered.
type RewriteState struct {
	Tree      plumbing.Hash
	Commit    plumbing.Hash
	Author    object.Signature
	Committer object.Signature
	Message   string
}

// NewRewriteState returns the state of commit c.
func NewRewriteState(c *object.Commit) RewriteState {
	return RewriteState{
		Tree:      c.TreeHash,
		Commit:    c.Hash,
		Author:    c.Author,
		Committer: c.Committer,
		Message:   c.Message,
	}
}

func notApplicable(store *filter.Store, f filter.Filter) error {
	return jerr.Errorf("%s: %s", jerr.NotApplicableToTree, store.Spec(f))
}

// Apply evaluates f on a single tree and its metadata. Ops that need the
// commit graph fail with [jerr.NotApplicableToTree]; ops that only rewrite
// the graph leave the state unchanged.
func Apply(tx *cache.Transaction, f filter.Filter, state RewriteState) (RewriteState, error) {
	store := tx.Store()
	switch op := store.Op(f).(type) {
	case filter.Nop:
		return state, nil
	case filter.Chain:
		for _, stage := range op.Filters {
			var err error
			state, err = Apply(tx, stage, state)
			if err != nil {
				return state, err
			}
		}
		return state, nil
	case filter.Meta:
		return Apply(tx, op.Filter, state)
	case filter.Invert:
		inv, err := store.Invert(op.Filter)
		if err != nil {
			return state, err
		}
		return Apply(tx, inv, state)
	case filter.Message:
		msg, err := rewriteMessage(tx, op, state)
		if err != nil {
			return state, err
		}
		state.Message = msg
		return state, nil
	case filter.Author:
		state.Author.Name, state.Author.Email = op.Name, op.Email
		return state, nil
	case filter.Committer:
		state.Committer.Name, state.Committer.Email = op.Name, op.Email
		return state, nil
	}

	tree, err := ApplyTree(tx, f, state.Tree)
	if err != nil {
		return state, err
	}
	state.Tree = tree
	return state, nil
}

// ApplyTree evaluates the tree part of f on tree. Results are memoized in
// the transaction.
func ApplyTree(tx *cache.Transaction, f filter.Filter, tree plumbing.Hash) (plumbing.Hash, error) {
	store := tx.Store()
	if tree.IsZero() {
		tree = gittree.EmptyTree
	}
	if f == store.Nop() {
		return tree, nil
	}

	op := store.Op(f)
	switch op := op.(type) {
	case filter.Fold, filter.Rev, filter.Hook, filter.HistoryConcat:
		return plumbing.ZeroHash, notApplicable(store, f)
	case filter.Squash:
		if op.Select {
			return plumbing.ZeroHash, notApplicable(store, f)
		}
	}
	if tree == gittree.EmptyTree {
		return tree, nil
	}
	if r, found := tx.GetApply(f, tree); found {
		return r, nil
	}

	r, err := applyTree(tx, f, op, tree)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	tx.InsertApply(f, tree, r)
	return r, nil
}

func applyTree(tx *cache.Transaction, f filter.Filter, op filter.Op, tree plumbing.Hash) (plumbing.Hash, error) {
	store := tx.Store()
	repo := tx.Repo()

	switch op := op.(type) {
	case filter.Empty:
		return gittree.EmptyTree, nil

	case filter.Subdir:
		return gittree.Subtree(repo, tree, op.Path)

	case filter.Prefix:
		if op.Path == "" {
			return tree, nil
		}
		return gittree.Insert(repo, gittree.EmptyTree, op.Path, &object.TreeEntry{Mode: filemode.Dir, Hash: tree})

	case filter.File:
		e, found, err := gittree.Get(repo, tree, op.Src)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if !found || e.Mode == filemode.Dir || op.Dst == "" {
			return gittree.EmptyTree, nil
		}
		return gittree.Insert(repo, gittree.EmptyTree, op.Dst, &e)

	case filter.Pattern:
		return gittree.Filter(repo, tree,
			func(p string) bool { return gittree.MatchGlob(op.Glob, p) },
			func(p string) bool { return gittree.GlobMayMatchBelow(op.Glob, p) })

	case filter.Workspace:
		resolved, err := resolveWorkspace(tx, f, op.Path, tree)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return ApplyTree(tx, resolved, tree)

	case filter.Stored:
		resolved, err := resolveStored(tx, f, op.Path, tree)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return ApplyTree(tx, resolved, tree)

	case filter.Chain:
		var err error
		for _, stage := range op.Filters {
			tree, err = ApplyTree(tx, stage, tree)
			if err != nil {
				return plumbing.ZeroHash, err
			}
		}
		return tree, nil

	case filter.Compose:
		return applyCompose(tx, op.Filters, tree)

	case filter.Subtract:
		// subtract[subtract[a,b],c] removes what compose[b,c] reads
		minuend, subtrahend := op.A, op.B
		for {
			inner, ok := store.Op(minuend).(filter.Subtract)
			if !ok {
				break
			}
			minuend, subtrahend = inner.A, store.Compose(inner.B, subtrahend)
		}
		a, err := ApplyTree(tx, minuend, tree)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		sel, err := region(tx, subtrahend, tree)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		ra, err := ApplyTree(tx, minuend, sel)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return tx.Subtract(a, ra)

	case filter.Exclude:
		sel, err := region(tx, op.Filter, tree)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return tx.Subtract(tree, sel)

	case filter.Pin, filter.Squash, filter.Linear, filter.Prune, filter.Unsign,
		filter.Message, filter.Author, filter.Committer:
		return tree, nil

	case filter.Meta:
		return ApplyTree(tx, op.Filter, tree)

	case filter.Invert:
		inv, err := store.Invert(op.Filter)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return ApplyTree(tx, inv, tree)

	case filter.Paths:
		return gittree.MapBlobs(repo, tree, func(p string, _ []byte) ([]byte, error) {
			return []byte(p), nil
		})

	case filter.Index:
		return indexTree(tx, tree)

	case filter.RegexReplace:
		return replaceContent(tx, op.Rules, tree)
	}

	return plumbing.ZeroHash, notApplicable(store, f)
}

// region returns the part of tree that f reads to produce its result, at
// the original paths and with the original content.
func region(tx *cache.Transaction, f filter.Filter, tree plumbing.Hash) (plumbing.Hash, error) {
	store := tx.Store()
	if op, ok := store.Op(f).(filter.Compose); ok {
		_, taken, err := composeParts(tx, op.Filters, tree)
		return taken, err
	}
	out, err := ApplyTree(tx, f, tree)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	in, err := preimage(tx, f, tree, out)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return intersect(tx, tree, in)
}

func intersect(tx *cache.Transaction, a, b plumbing.Hash) (plumbing.Hash, error) {
	return gittree.Intersect(tx.Repo(), a, b)
}

// preimage maps out, a part of the result of f on tree, back to the paths
// of tree it came from. Content of the returned tree is only meaningful
// for its paths.
func preimage(tx *cache.Transaction, f filter.Filter, tree, out plumbing.Hash) (plumbing.Hash, error) {
	if gittree.IsEmpty(tree) || gittree.IsEmpty(out) {
		return gittree.EmptyTree, nil
	}
	store := tx.Store()

	switch op := store.Op(f).(type) {
	case filter.Empty:
		return gittree.EmptyTree, nil

	case filter.Subdir, filter.Prefix, filter.File:
		inv, err := store.Invert(f)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return ApplyTree(tx, inv, out)

	case filter.Workspace:
		resolved, err := resolveWorkspace(tx, f, op.Path, tree)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return preimage(tx, resolved, tree, out)

	case filter.Stored:
		resolved, err := resolveStored(tx, f, op.Path, tree)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return preimage(tx, resolved, tree, out)

	case filter.Meta:
		return preimage(tx, op.Filter, tree, out)

	case filter.Invert:
		inv, err := store.Invert(op.Filter)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return preimage(tx, inv, tree, out)

	case filter.Chain:
		inputs := make([]plumbing.Hash, len(op.Filters))
		current := tree
		for i, stage := range op.Filters {
			inputs[i] = current
			next, err := ApplyTree(tx, stage, current)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			current = next
		}
		for i := len(op.Filters) - 1; i >= 0; i-- {
			var err error
			if out, err = preimage(tx, op.Filters[i], inputs[i], out); err != nil {
				return plumbing.ZeroHash, err
			}
		}
		return out, nil

	case filter.Compose:
		parts, _, err := composeParts(tx, op.Filters, tree)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		result := gittree.EmptyTree
		for _, part := range parts {
			mine, err := intersect(tx, out, part.output)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			in, err := preimage(tx, part.child, part.input, mine)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			if result, err = tx.Overlay(result, in); err != nil {
				return plumbing.ZeroHash, err
			}
		}
		return result, nil

	case filter.Subtract:
		return preimage(tx, op.A, tree, out)

	case filter.Index:
		return plumbing.ZeroHash, jerr.Errorf("%s: %s", jerr.NoInvert, store.Spec(f))
	}

	// everything else keeps paths where they are
	return out, nil
}

type composePart struct {
	child  filter.Filter
	input  plumbing.Hash
	output plumbing.Hash
}

// composeParts splits tree among children in order: each child sees only
// the part of tree no earlier child read from. Nested composes are spliced
// into the list and pins are skipped. taken is the part of tree read by
// any child.
func composeParts(tx *cache.Transaction, children []filter.Filter, tree plumbing.Hash) (parts []composePart, taken plumbing.Hash, err error) {
	store := tx.Store()
	taken = gittree.EmptyTree
	remaining := tree

	for _, child := range spliceCompose(store, children) {
		if gittree.IsEmpty(remaining) {
			break
		}
		out, err := ApplyTree(tx, child, remaining)
		if err != nil {
			return nil, plumbing.ZeroHash, err
		}
		if gittree.IsEmpty(out) {
			continue
		}
		parts = append(parts, composePart{child: child, input: remaining, output: out})

		used, err := region(tx, child, remaining)
		if jerr.Is(err, jerr.NoInvert) {
			continue
		}
		if err != nil {
			return nil, plumbing.ZeroHash, err
		}
		if taken, err = tx.Overlay(taken, used); err != nil {
			return nil, plumbing.ZeroHash, err
		}
		if remaining, err = tx.Subtract(remaining, used); err != nil {
			return nil, plumbing.ZeroHash, err
		}
	}
	return parts, taken, nil
}

func spliceCompose(store *filter.Store, children []filter.Filter) []filter.Filter {
	result := make([]filter.Filter, 0, len(children))
	for _, child := range children {
		switch op := store.Op(child).(type) {
		case filter.Pin:
			continue
		case filter.Compose:
			result = append(result, spliceCompose(store, op.Filters)...)
			continue
		}
		result = append(result, child)
	}
	return result
}

// applyCompose overlays the results of children, later children on top.
func applyCompose(tx *cache.Transaction, children []filter.Filter, tree plumbing.Hash) (plumbing.Hash, error) {
	parts, _, err := composeParts(tx, children, tree)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	result := gittree.EmptyTree
	for _, part := range parts {
		if result, err = tx.Overlay(result, part.output); err != nil {
			return plumbing.ZeroHash, err
		}
	}
	return result, nil
}

func isBinary(data []byte) bool {
	return bytes.IndexByte(data, 0) >= 0
}

func replaceContent(tx *cache.Transaction, rules []filter.Replacement, tree plumbing.Hash) (plumbing.Hash, error) {
	regexps := make([]*regexp.Regexp, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Regex)
		if err != nil {
			return plumbing.ZeroHash, jerr.Errorf("%s: bad regex %q: %w", jerr.InvalidFilter, r.Regex, err)
		}
		regexps = append(regexps, re)
	}
	return gittree.MapBlobs(tx.Repo(), tree, func(_ string, data []byte) ([]byte, error) {
		if isBinary(data) {
			return data, nil
		}
		for i, re := range regexps {
			data = re.ReplaceAll(data, []byte(rules[i].With))
		}
		return data, nil
	})
}

// indexTree builds a trigram index of the text files of tree. The index
// has one blob per trigram, at the hex of the trigram split after the
// first byte, listing the paths of the files containing it.
func indexTree(tx *cache.Transaction, tree plumbing.Hash) (plumbing.Hash, error) {
	repo := tx.Repo()
	trigrams := make(map[string][]string)
	err := gittree.Walk(repo, tree, func(p string, e object.TreeEntry) error {
		if !e.Mode.IsFile() {
			return nil
		}
		data, err := gittree.ReadBlob(repo, e.Hash)
		if err != nil {
			return err
		}
		if isBinary(data) {
			return nil
		}
		seen := make(map[string]empty)
		for i := 0; i+3 <= len(data); i++ {
			t := string(data[i : i+3])
			if _, found := seen[t]; found {
				continue
			}
			seen[t] = empty{}
			trigrams[t] = append(trigrams[t], p)
		}
		return nil
	})
	if err != nil {
		return plumbing.ZeroHash, err
	}

	dirs := make(map[string][]object.TreeEntry)
	for t, paths := range trigrams {
		sort.Strings(paths)
		blob, err := gittree.WriteBlob(repo, []byte(strings.Join(paths, "\n")+"\n"))
		if err != nil {
			return plumbing.ZeroHash, err
		}
		name := hex.EncodeToString([]byte(t))
		dirs[name[:2]] = append(dirs[name[:2]], object.TreeEntry{Name: name[2:], Mode: filemode.Regular, Hash: blob})
	}

	top := make([]object.TreeEntry, 0, len(dirs))
	for name, entries := range dirs {
		sub, err := gittree.WriteTree(repo, entries)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		top = append(top, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: sub})
	}
	if len(top) == 0 {
		return gittree.EmptyTree, nil
	}
	return gittree.WriteTree(repo, top)
}

var templateField = regexp.MustCompile(`\{([#@]|/[^{}]*|[A-Za-z_][A-Za-z0-9_]*)\}`)

// rewriteMessage renders the template of op. Without a regex the template
// replaces the whole message; with one it replaces the first match, and
// named groups of the match are available as fields. A message the regex
// does not match is kept.
func rewriteMessage(tx *cache.Transaction, op filter.Message, state RewriteState) (string, error) {
	fields := make(map[string]string)
	start, end := 0, len(state.Message)
	if op.Regex != "" {
		re, err := regexp.Compile(op.Regex)
		if err != nil {
			return "", jerr.Errorf("%s: bad regex %q: %w", jerr.InvalidFilter, op.Regex, err)
		}
		loc := re.FindStringSubmatchIndex(state.Message)
		if loc == nil {
			return state.Message, nil
		}
		start, end = loc[0], loc[1]
		for i, name := range re.SubexpNames() {
			if name != "" && loc[2*i] >= 0 {
				fields[name] = state.Message[loc[2*i]:loc[2*i+1]]
			}
		}
	}

	var renderErr error
	rendered := templateField.ReplaceAllStringFunc(op.Format, func(m string) string {
		key := m[1 : len(m)-1]
		switch {
		case key == "#":
			return state.Tree.String()
		case key == "@":
			return state.Commit.String()
		case strings.HasPrefix(key, "/"):
			e, found, err := gittree.Get(tx.Repo(), state.Tree, key[1:])
			if err != nil {
				renderErr = err
				return ""
			}
			if !found || !e.Mode.IsFile() {
				return ""
			}
			data, err := gittree.ReadBlob(tx.Repo(), e.Hash)
			if err != nil {
				renderErr = err
				return ""
			}
			return string(data)
		}
		if v, found := fields[key]; found {
			return v
		}
		return m
	})
	if renderErr != nil {
		return "", jerr.Wrap(renderErr, "failed to render message")
	}
	return state.Message[:start] + rendered + state.Message[end:], nil
}
