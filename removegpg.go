package josh

import (
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/josh-project/josh-sub000/gittree"
	"github.com/josh-project/josh-sub000/jerr"
)

// dedupeParents drops zero ids and repeated parents, keeping the order of
// first occurrence.
func dedupeParents(parents []plumbing.Hash) []plumbing.Hash {
	result := make([]plumbing.Hash, 0, len(parents))
	seen := NewHashSet()
	for _, p := range parents {
		if p.IsZero() {
			continue
		}
		if _, found := seen[p]; found {
			continue
		}
		seen[p] = empty{}
		result = append(result, p)
	}
	return result
}

func sameParents(a, b []plumbing.Hash) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// rewriteCommit writes a commit with the metadata of state, tree and
// parents. Signatures are never carried over: they would not verify on the
// rewritten object.
func rewriteCommit(s storer.EncodedObjectStorer, original *object.Commit, parents []plumbing.Hash, state RewriteState) (plumbing.Hash, error) {
	newcommit := &object.Commit{
		Author:       state.Author,
		Committer:    state.Committer,
		Message:      state.Message,
		TreeHash:     state.Tree,
		ParentHashes: parents,
	}
	if original != nil {
		newcommit.Encoding = original.Encoding
	}
	h, err := gittree.WriteCommit(s, newcommit)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return h, nil
}

// RemoveSignature returns the id of c rewritten without its signature. An
// unsigned commit is returned unchanged.
func RemoveSignature(s storer.EncodedObjectStorer, c *object.Commit) (plumbing.Hash, error) {
	if c.PGPSignature == "" {
		return c.Hash, nil
	}
	h, err := rewriteCommit(s, c, c.ParentHashes, NewRewriteState(c))
	if err != nil {
		return plumbing.ZeroHash, jerr.Wrap(err, "failed to remove signature of %s", c.Hash)
	}
	logger.Debug("removed signature", "commit", c.Hash, "newcommit", h)
	return h, nil
}
