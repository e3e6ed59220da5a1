package josh

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/storage"

	"github.com/josh-project/josh-sub000/filter"
	"github.com/josh-project/josh-sub000/jerr"
)

var ErrHexStringTooShort = errors.New("hex encoded byte slice is too short for hash")

// DecodeHashHex decodes a hex encoded sha1 ([plumbing.Hash]).
// Unlike [plumbing.NewHash] it fails on invalid hex and short input.
func DecodeHashHex(str string) (plumbing.Hash, error) {
	v, err := hex.DecodeString(str)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if len(v) < len(plumbing.ZeroHash) {
		return plumbing.ZeroHash, ErrHexStringTooShort
	}

	r := plumbing.Hash{}
	copy(r[:], v)
	return r, nil
}

// MustDecodeHashHex decodes the input str to [plumbing.Hash] and
// panics if any error is encountered.
func MustDecodeHashHex(str string) plumbing.Hash {
	v, err := DecodeHashHex(str)
	if err != nil {
		panic(err)
	}
	return v
}

// ResolveRevision resolves a full commit id or a reference name. Short
// names are looked up under refs/heads/ and refs/tags/.
func ResolveRevision(repo storage.Storer, rev string) (plumbing.Hash, error) {
	if len(rev) == 2*len(plumbing.ZeroHash) {
		if h, err := DecodeHashHex(rev); err == nil {
			return h, nil
		}
	}

	candidates := []plumbing.ReferenceName{plumbing.ReferenceName(rev)}
	if !strings.HasPrefix(rev, "refs/") && rev != "HEAD" {
		candidates = append(candidates,
			plumbing.NewBranchReferenceName(rev),
			plumbing.NewTagReferenceName(rev),
		)
	}
	for _, name := range candidates {
		ref, err := storer.ResolveReference(repo, name)
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			continue
		}
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return ref.Hash(), nil
	}
	return plumbing.ZeroHash, jerr.Wrap(plumbing.ErrReferenceNotFound, "%s", rev)
}

// ResolveLazyRefs replaces the lazy references of f by the commits they
// name in repo.
func ResolveLazyRefs(store *filter.Store, repo storage.Storer, f filter.Filter) (filter.Filter, error) {
	if len(store.LazyRefs(f)) == 0 {
		return f, nil
	}
	return store.ResolveRefs(f, func(name string) (plumbing.Hash, error) {
		return ResolveRevision(repo, name)
	})
}
