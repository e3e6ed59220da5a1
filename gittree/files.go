package gittree

import (
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// FromFiles builds a tree from a map of path to file content. A path that
// is also the directory of another path fails with [ErrPathConflict].
func FromFiles(s storer.EncodedObjectStorer, files map[string]string) (plumbing.Hash, error) {
	for p := range files {
		parts := SplitPath(p)
		for i := 1; i < len(parts); i++ {
			dir := strings.Join(parts[:i], "/")
			if _, found := files[dir]; found {
				return plumbing.ZeroHash, fmt.Errorf("%w: %s and %s", ErrPathConflict, dir, p)
			}
		}
	}

	tree := EmptyTree
	for p, content := range files {
		h, err := WriteBlob(s, []byte(content))
		if err != nil {
			return plumbing.ZeroHash, err
		}
		tree, err = Insert(s, tree, p, &object.TreeEntry{Mode: filemode.Regular, Hash: h})
		if err != nil {
			return plumbing.ZeroHash, err
		}
	}
	if tree == EmptyTree {
		if _, err := WriteTree(s, nil); err != nil {
			return plumbing.ZeroHash, err
		}
	}
	return tree, nil
}

// Files lists the content of all blobs in tree h keyed by path.
func Files(s storer.EncodedObjectStorer, h plumbing.Hash) (map[string]string, error) {
	result := make(map[string]string)
	err := Walk(s, h, func(path string, e object.TreeEntry) error {
		if e.Mode == filemode.Submodule {
			result[path] = e.Hash.String()
			return nil
		}
		data, err := ReadBlob(s, e.Hash)
		if err != nil {
			return err
		}
		result[path] = string(data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
