package josh

import (
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

type empty = struct{}

// HashSet is a set of commit or tree ids.
type HashSet = map[plumbing.Hash]empty

// NewHashSet creates a new set of Hash
func NewHashSet(hashes ...plumbing.Hash) HashSet {
	result := make(HashSet, len(hashes))
	for _, v := range hashes {
		result[v] = empty{}
	}
	return result
}

// NewHashSetFromCommits collects the ids of the commits into a [HashSet]
func NewHashSetFromCommits(commits []*object.Commit) HashSet {
	result := make(HashSet, len(commits))
	for _, c := range commits {
		if c == nil {
			continue
		}
		result[c.Hash] = empty{}
	}
	return result
}
