package filter

import (
	"github.com/RoaringBitmap/roaring"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// ancestorCache keeps the full ancestor set of tips queried through
// [Store.IsAncestorOf]. Commits are numbered densely in the order they are
// first seen so that the sets are roaring bitmaps over small integers.
type ancestorCache struct {
	index  map[plumbing.Hash]uint32
	hashes []plumbing.Hash
	sets   map[uint32]*roaring.Bitmap
}

func newAncestorCache() *ancestorCache {
	return &ancestorCache{
		index: make(map[plumbing.Hash]uint32),
		sets:  make(map[uint32]*roaring.Bitmap),
	}
}

func (c *ancestorCache) id(h plumbing.Hash) uint32 {
	if i, found := c.index[h]; found {
		return i
	}
	i := uint32(len(c.hashes))
	c.index[h] = i
	c.hashes = append(c.hashes, h)
	return i
}

// IsAncestorOf reports whether ancestor is tip or reachable from tip. The
// ancestor set of tip is computed once and kept in the store.
func (s *Store) IsAncestorOf(st storer.EncodedObjectStorer, ancestor, tip plumbing.Hash) (bool, error) {
	if ancestor == tip {
		return true, nil
	}
	set, err := s.ancestorSet(st, tip)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i, found := s.ancestors.index[ancestor]
	return found && set.Contains(i), nil
}

// Ancestors returns the ancestors of tip, tip included.
func (s *Store) Ancestors(st storer.EncodedObjectStorer, tip plumbing.Hash) ([]plumbing.Hash, error) {
	set, err := s.ancestorSet(st, tip)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]plumbing.Hash, 0, set.GetCardinality())
	it := set.Iterator()
	for it.HasNext() {
		result = append(result, s.ancestors.hashes[it.Next()])
	}
	return result, nil
}

func (s *Store) ancestorSet(st storer.EncodedObjectStorer, tip plumbing.Hash) (*roaring.Bitmap, error) {
	s.mu.Lock()
	c := s.ancestors
	tipID := c.id(tip)
	if set, found := c.sets[tipID]; found {
		s.mu.Unlock()
		return set, nil
	}
	s.mu.Unlock()

	set := roaring.New()
	seen := make(map[plumbing.Hash]struct{})
	stack := []plumbing.Hash{tip}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, found := seen[h]; found {
			continue
		}
		seen[h] = struct{}{}

		s.mu.Lock()
		id := c.id(h)
		known, found := c.sets[id]
		s.mu.Unlock()
		if found {
			set.Or(known)
			continue
		}
		set.Add(id)

		commit, err := object.GetCommit(st, h)
		if err != nil {
			return nil, err
		}
		stack = append(stack, commit.ParentHashes...)
	}

	s.mu.Lock()
	c.sets[tipID] = set
	s.mu.Unlock()
	logger.Debug("computed ancestor set", "tip", tip, "count", set.GetCardinality())
	return set, nil
}
