package josh

import (
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/josh-project/josh-sub000/cache"
	"github.com/josh-project/josh-sub000/gittree"
)

func sameSignature(a, b object.Signature) bool {
	return a.Name == b.Name && a.Email == b.Email && a.When.Equal(b.When)
}

// createFilteredCommit writes the filtered version of original, with the
// filtered parents and the rewritten state.
//
//   - A commit whose tree equals the tree of every filtered parent is
//     dropped in favor of the first parent.
//   - A root with an empty tree is dropped, the result is zero.
//   - A commit that comes out unchanged keeps its id, and its signature,
//     unless unsign is set.
func createFilteredCommit(
	tx *cache.Transaction,
	original *object.Commit,
	parents []plumbing.Hash,
	state RewriteState,
	unsign bool,
) (plumbing.Hash, error) {
	parents = dedupeParents(parents)
	if state.Tree.IsZero() {
		state.Tree = gittree.EmptyTree
	}

	if len(parents) == 0 && gittree.IsEmpty(state.Tree) {
		return plumbing.ZeroHash, nil
	}
	if len(parents) > 0 {
		same := true
		for _, p := range parents {
			pc, err := gittree.GetCommit(tx.Repo(), p)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			if pc.TreeHash != state.Tree {
				same = false
				break
			}
		}
		if same {
			return dropCommit(parents), nil
		}
	}

	unchanged := original.TreeHash == state.Tree &&
		sameParents(original.ParentHashes, parents) &&
		sameSignature(original.Author, state.Author) &&
		sameSignature(original.Committer, state.Committer) &&
		original.Message == state.Message
	if unchanged && (!unsign || original.PGPSignature == "") {
		return original.Hash, nil
	}

	h, err := rewriteCommit(tx.Repo(), original, parents, state)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	logger.Debug("created filtered commit", "commit", original.Hash, "newcommit", h, "parents", len(parents))
	return h, nil
}

// dropCommit returns what a dropped commit maps to: its first filtered
// parent, or zero when it has none.
func dropCommit(parents []plumbing.Hash) plumbing.Hash {
	if len(parents) == 0 {
		return plumbing.ZeroHash
	}
	return parents[0]
}
