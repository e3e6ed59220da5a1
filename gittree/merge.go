package gittree

import (
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// Favor picks the side that wins a conflicting path in [Merge].
type Favor int

const (
	FavorOurs Favor = iota
	FavorTheirs
)

// Merge performs a three way merge of trees at path granularity. Paths
// changed on only one side take that side; paths changed differently on
// both sides are resolved by favor. File contents are never merged.
func Merge(s storer.EncodedObjectStorer, base, ours, theirs plumbing.Hash, favor Favor) (plumbing.Hash, error) {
	base, ours, theirs = normalize(base), normalize(ours), normalize(theirs)
	switch {
	case ours == theirs:
		return ours, nil
	case ours == base:
		return theirs, nil
	case theirs == base:
		return ours, nil
	}

	be, err := Entries(s, base)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	oe, err := Entries(s, ours)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	te, err := Entries(s, theirs)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	names := make([]string, 0, len(oe)+len(te))
	seen := make(map[string]struct{})
	for _, list := range [][]object.TreeEntry{be, oe, te} {
		for _, e := range list {
			if _, found := seen[e.Name]; !found {
				seen[e.Name] = struct{}{}
				names = append(names, e.Name)
			}
		}
	}

	result := make([]object.TreeEntry, 0, len(names))
	for _, name := range names {
		b, bok := findEntry(be, name)
		o, ook := findEntry(oe, name)
		t, tok := findEntry(te, name)

		merged, keep, err := mergeEntry(s, name, b, bok, o, ook, t, tok, favor)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if keep {
			result = append(result, merged)
		}
	}
	if len(result) == 0 {
		return EmptyTree, nil
	}
	return WriteTree(s, result)
}

func sameEntry(a object.TreeEntry, aok bool, b object.TreeEntry, bok bool) bool {
	if aok != bok {
		return false
	}
	return !aok || (a.Hash == b.Hash && a.Mode == b.Mode)
}

func mergeEntry(
	s storer.EncodedObjectStorer,
	name string,
	b object.TreeEntry, bok bool,
	o object.TreeEntry, ook bool,
	t object.TreeEntry, tok bool,
	favor Favor,
) (object.TreeEntry, bool, error) {
	switch {
	case sameEntry(o, ook, t, tok):
		return o, ook, nil
	case sameEntry(o, ook, b, bok):
		return t, tok, nil
	case sameEntry(t, tok, b, bok):
		return o, ook, nil
	}

	if ook && tok && o.Mode == filemode.Dir && t.Mode == filemode.Dir {
		base := EmptyTree
		if bok && b.Mode == filemode.Dir {
			base = b.Hash
		}
		sub, err := Merge(s, base, o.Hash, t.Hash, favor)
		if err != nil {
			return object.TreeEntry{}, false, err
		}
		if IsEmpty(sub) {
			return object.TreeEntry{}, false, nil
		}
		return object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: sub}, true, nil
	}

	if favor == FavorOurs {
		return o, ook, nil
	}
	return t, tok, nil
}
