package gittree

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// GetHash computes the hash of the commit without storing it.
func GetHash(c *object.Commit) (*plumbing.Hash, error) {
	obj := &plumbing.MemoryObject{}
	if err := c.Encode(obj); err != nil {
		return nil, fmt.Errorf("failed to encode commit: %w", err)
	}
	h := obj.Hash()
	return &h, nil
}

// WriteCommit stores c and sets its Hash. The empty tree is stored as well
// when c refers to it, since it may not exist in the object database yet.
func WriteCommit(s storer.EncodedObjectStorer, c *object.Commit) (plumbing.Hash, error) {
	if IsEmpty(c.TreeHash) {
		if _, err := WriteTree(s, nil); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("failed to store empty tree: %w", err)
		}
		c.TreeHash = EmptyTree
	}
	obj := s.NewEncodedObject()
	if err := c.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to encode commit: %w", err)
	}
	h, err := s.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to save commit: %w", err)
	}
	c.Hash = h
	return h, nil
}

// GetCommit loads commit h.
func GetCommit(s storer.EncodedObjectStorer, h plumbing.Hash) (*object.Commit, error) {
	c, err := object.GetCommit(s, h)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit %s: %w", h, err)
	}
	return c, nil
}

// Exists reports whether object h is present in s.
func Exists(s storer.EncodedObjectStorer, h plumbing.Hash) bool {
	if h == EmptyTree {
		return true
	}
	return s.HasEncodedObject(h) == nil
}
