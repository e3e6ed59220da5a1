// Package gittree contains helpers manipulating git trees, blobs and commits
// stored in a [storer.EncodedObjectStorer].
//
// All functions are pure with respect to the object database: they only add
// objects, and the same inputs always produce the same object ids.
package gittree

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// EmptyTree is the id of the tree without entries.
var EmptyTree = plumbing.NewHash("4b825dc642cb6eb9a060e54bf8d69288fbee4904")

var ErrNotATree = errors.New("object is not a tree")

// ErrPathConflict is returned when a path is used both as a file and as a
// directory.
var ErrPathConflict = errors.New("path is both a file and a directory")

// IsEmpty reports whether h is the zero hash or the empty tree.
func IsEmpty(h plumbing.Hash) bool {
	return h.IsZero() || h == EmptyTree
}

// BlobHash computes the id a blob with data would have.
func BlobHash(data []byte) plumbing.Hash {
	return plumbing.ComputeHash(plumbing.BlobObject, data)
}

// WriteBlob stores data as a blob.
func WriteBlob(s storer.EncodedObjectStorer, data []byte) (plumbing.Hash, error) {
	obj := s.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(data)))
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return s.SetEncodedObject(obj)
}

// ReadBlob reads the content of the blob h.
func ReadBlob(s storer.EncodedObjectStorer, h plumbing.Hash) ([]byte, error) {
	blob, err := object.GetBlob(s, h)
	if err != nil {
		return nil, fmt.Errorf("failed to get blob %s: %w", h, err)
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// entrySortName is the name git uses for ordering tree entries: directories
// compare as if they had a trailing slash.
func entrySortName(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}

// SortEntries sorts the entries in git tree order.
func SortEntries(entries []object.TreeEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entrySortName(entries[i]) < entrySortName(entries[j])
	})
}

func encodeTree(entries []object.TreeEntry) (*plumbing.MemoryObject, error) {
	sorted := make([]object.TreeEntry, len(entries))
	copy(sorted, entries)
	SortEntries(sorted)
	t := &object.Tree{Entries: sorted}
	obj := &plumbing.MemoryObject{}
	if err := t.Encode(obj); err != nil {
		return nil, fmt.Errorf("failed to encode tree: %w", err)
	}
	return obj, nil
}

// TreeHash computes the id of a tree with the given entries without storing it.
func TreeHash(entries []object.TreeEntry) (plumbing.Hash, error) {
	if len(entries) == 0 {
		return EmptyTree, nil
	}
	obj, err := encodeTree(entries)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return obj.Hash(), nil
}

// WriteTree stores a tree with the given entries.
func WriteTree(s storer.EncodedObjectStorer, entries []object.TreeEntry) (plumbing.Hash, error) {
	obj, err := encodeTree(entries)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return s.SetEncodedObject(obj)
}

// Entries returns the entries of tree h. The zero hash and the empty tree
// have no entries, even if the empty tree is not stored.
func Entries(s storer.EncodedObjectStorer, h plumbing.Hash) ([]object.TreeEntry, error) {
	if IsEmpty(h) {
		return nil, nil
	}
	t, err := object.GetTree(s, h)
	if err != nil {
		return nil, fmt.Errorf("failed to get tree %s: %w", h, err)
	}
	return t.Entries, nil
}

// SplitPath splits a slash separated path into its non-empty components.
func SplitPath(p string) []string {
	parts := strings.Split(p, "/")
	result := make([]string, 0, len(parts))
	for _, v := range parts {
		if v == "" || v == "." {
			continue
		}
		result = append(result, v)
	}
	return result
}

// CleanPath normalizes p to slash separated components without leading or
// trailing slashes.
func CleanPath(p string) string {
	return strings.Join(SplitPath(p), "/")
}

// JoinPath joins path fragments, skipping empty ones.
func JoinPath(parts ...string) string {
	return CleanPath(strings.Join(parts, "/"))
}

func findEntry(entries []object.TreeEntry, name string) (object.TreeEntry, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return object.TreeEntry{}, false
}

// Get finds the entry at path in tree h.
func Get(s storer.EncodedObjectStorer, h plumbing.Hash, path string) (object.TreeEntry, bool, error) {
	parts := SplitPath(path)
	if len(parts) == 0 {
		return object.TreeEntry{Mode: filemode.Dir, Hash: h}, !IsEmpty(h), nil
	}
	current := h
	for i, name := range parts {
		entries, err := Entries(s, current)
		if err != nil {
			return object.TreeEntry{}, false, err
		}
		e, found := findEntry(entries, name)
		if !found {
			return object.TreeEntry{}, false, nil
		}
		if i == len(parts)-1 {
			return e, true, nil
		}
		if e.Mode != filemode.Dir {
			return object.TreeEntry{}, false, nil
		}
		current = e.Hash
	}
	return object.TreeEntry{}, false, nil
}

// Subtree returns the tree at path, or the empty tree if path does not name
// a tree.
func Subtree(s storer.EncodedObjectStorer, h plumbing.Hash, path string) (plumbing.Hash, error) {
	e, found, err := Get(s, h, path)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if !found || e.Mode != filemode.Dir {
		return EmptyTree, nil
	}
	return e.Hash, nil
}

// Insert places entry at path in tree h and returns the new tree. A nil
// entry removes the path. Trees left without entries are dropped.
func Insert(s storer.EncodedObjectStorer, h plumbing.Hash, path string, entry *object.TreeEntry) (plumbing.Hash, error) {
	parts := SplitPath(path)
	if len(parts) == 0 {
		if entry == nil {
			return EmptyTree, nil
		}
		if entry.Mode != filemode.Dir {
			return plumbing.ZeroHash, ErrNotATree
		}
		return entry.Hash, nil
	}
	return insertParts(s, h, parts, entry)
}

func insertParts(s storer.EncodedObjectStorer, h plumbing.Hash, parts []string, entry *object.TreeEntry) (plumbing.Hash, error) {
	entries, err := Entries(s, h)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	name := parts[0]
	newentries := make([]object.TreeEntry, 0, len(entries)+1)
	var existing *object.TreeEntry
	for i := range entries {
		if entries[i].Name == name {
			existing = &entries[i]
			continue
		}
		newentries = append(newentries, entries[i])
	}

	var replacement *object.TreeEntry
	if len(parts) == 1 {
		if entry != nil && !(entry.Mode == filemode.Dir && IsEmpty(entry.Hash)) {
			replacement = &object.TreeEntry{Name: name, Mode: entry.Mode, Hash: entry.Hash}
		}
	} else {
		sub := EmptyTree
		if existing != nil && existing.Mode == filemode.Dir {
			sub = existing.Hash
		}
		newsub, err := insertParts(s, sub, parts[1:], entry)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if !IsEmpty(newsub) {
			replacement = &object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: newsub}
		}
	}
	if replacement != nil {
		newentries = append(newentries, *replacement)
	}
	if len(newentries) == 0 {
		return EmptyTree, nil
	}
	return WriteTree(s, newentries)
}

// Overlay combines two trees. Where both have an entry of the same name,
// directories are overlaid recursively and otherwise a wins.
func Overlay(s storer.EncodedObjectStorer, a, b plumbing.Hash) (plumbing.Hash, error) {
	if a == b || IsEmpty(b) {
		return normalize(a), nil
	}
	if IsEmpty(a) {
		return b, nil
	}
	ae, err := Entries(s, a)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	be, err := Entries(s, b)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	result := make([]object.TreeEntry, 0, len(ae)+len(be))
	result = append(result, ae...)
	changed := false
	for _, e := range be {
		existing, found := findEntry(ae, e.Name)
		if !found {
			result = append(result, e)
			changed = true
			continue
		}
		if existing.Mode == filemode.Dir && e.Mode == filemode.Dir && existing.Hash != e.Hash {
			merged, err := Overlay(s, existing.Hash, e.Hash)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			for i := range result {
				if result[i].Name == e.Name {
					result[i].Hash = merged
				}
			}
			changed = true
		}
	}
	if !changed {
		return a, nil
	}
	return WriteTree(s, result)
}

// Subtract removes from a every path that is present in b. A directory in
// b removes only the paths it contains.
func Subtract(s storer.EncodedObjectStorer, a, b plumbing.Hash) (plumbing.Hash, error) {
	if IsEmpty(a) || IsEmpty(b) {
		return normalize(a), nil
	}
	if a == b {
		return EmptyTree, nil
	}
	ae, err := Entries(s, a)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	be, err := Entries(s, b)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	result := make([]object.TreeEntry, 0, len(ae))
	changed := false
	for _, e := range ae {
		other, found := findEntry(be, e.Name)
		switch {
		case !found:
			result = append(result, e)
		case e.Mode == filemode.Dir && other.Mode == filemode.Dir:
			sub, err := Subtract(s, e.Hash, other.Hash)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			if sub != e.Hash {
				changed = true
			}
			if !IsEmpty(sub) {
				result = append(result, object.TreeEntry{Name: e.Name, Mode: e.Mode, Hash: sub})
			}
		case e.Mode == filemode.Dir:
			// a file in b does not remove a directory in a.
			result = append(result, e)
		default:
			changed = true
		}
	}
	if !changed {
		return a, nil
	}
	if len(result) == 0 {
		return EmptyTree, nil
	}
	return WriteTree(s, result)
}

// Intersect keeps the entries of a whose path is also present in b. Where
// one side has a file and the other a directory of the same name, the
// entry of a is kept whole.
func Intersect(s storer.EncodedObjectStorer, a, b plumbing.Hash) (plumbing.Hash, error) {
	if IsEmpty(a) || IsEmpty(b) {
		return EmptyTree, nil
	}
	if a == b {
		return a, nil
	}
	ae, err := Entries(s, a)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	be, err := Entries(s, b)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	result := make([]object.TreeEntry, 0, len(ae))
	changed := false
	for _, e := range ae {
		other, found := findEntry(be, e.Name)
		switch {
		case !found:
			changed = true
		case e.Mode == filemode.Dir && other.Mode == filemode.Dir:
			sub, err := Intersect(s, e.Hash, other.Hash)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			if sub != e.Hash {
				changed = true
			}
			if !IsEmpty(sub) {
				result = append(result, object.TreeEntry{Name: e.Name, Mode: e.Mode, Hash: sub})
			}
		default:
			result = append(result, e)
		}
	}
	if !changed {
		return a, nil
	}
	if len(result) == 0 {
		return EmptyTree, nil
	}
	return WriteTree(s, result)
}

func normalize(h plumbing.Hash) plumbing.Hash {
	if h.IsZero() {
		return EmptyTree
	}
	return h
}

// WalkFunc is called for every blob-like entry (anything that is not a
// directory) found by [Walk], with the full path of the entry.
type WalkFunc func(path string, e object.TreeEntry) error

// Walk visits all non-directory entries of tree h in tree order.
func Walk(s storer.EncodedObjectStorer, h plumbing.Hash, fn WalkFunc) error {
	return walk(s, h, "", fn)
}

func walk(s storer.EncodedObjectStorer, h plumbing.Hash, prefix string, fn WalkFunc) error {
	entries, err := Entries(s, h)
	if err != nil {
		return err
	}
	for _, e := range entries {
		p := JoinPath(prefix, e.Name)
		if e.Mode == filemode.Dir {
			if err := walk(s, e.Hash, p, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(p, e); err != nil {
			return err
		}
	}
	return nil
}

// Filter rebuilds tree h keeping only entries for which keep returns true.
// keep is called with the full path of every non-directory entry; for
// directories descend decides whether to look inside.
func Filter(
	s storer.EncodedObjectStorer,
	h plumbing.Hash,
	keep func(path string) bool,
	descend func(path string) bool,
) (plumbing.Hash, error) {
	return filterTree(s, h, "", keep, descend)
}

func filterTree(
	s storer.EncodedObjectStorer,
	h plumbing.Hash,
	prefix string,
	keep func(path string) bool,
	descend func(path string) bool,
) (plumbing.Hash, error) {
	entries, err := Entries(s, h)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	result := make([]object.TreeEntry, 0, len(entries))
	changed := false
	for _, e := range entries {
		p := JoinPath(prefix, e.Name)
		if e.Mode == filemode.Dir {
			if descend != nil && !descend(p) {
				changed = true
				continue
			}
			sub, err := filterTree(s, e.Hash, p, keep, descend)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			if sub != e.Hash {
				changed = true
			}
			if !IsEmpty(sub) {
				result = append(result, object.TreeEntry{Name: e.Name, Mode: e.Mode, Hash: sub})
			}
			continue
		}
		if keep(p) {
			result = append(result, e)
		} else {
			changed = true
		}
	}
	if !changed {
		return normalize(h), nil
	}
	if len(result) == 0 {
		return EmptyTree, nil
	}
	return WriteTree(s, result)
}

// MapBlobs rewrites every blob of tree h through fn. fn gets the full path
// and content, and returns the new content.
func MapBlobs(s storer.EncodedObjectStorer, h plumbing.Hash, fn func(path string, data []byte) ([]byte, error)) (plumbing.Hash, error) {
	return mapBlobs(s, h, "", fn)
}

func mapBlobs(s storer.EncodedObjectStorer, h plumbing.Hash, prefix string, fn func(path string, data []byte) ([]byte, error)) (plumbing.Hash, error) {
	entries, err := Entries(s, h)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	result := make([]object.TreeEntry, 0, len(entries))
	for _, e := range entries {
		p := JoinPath(prefix, e.Name)
		switch e.Mode {
		case filemode.Dir:
			sub, err := mapBlobs(s, e.Hash, p, fn)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			e.Hash = sub
		case filemode.Submodule:
		default:
			data, err := ReadBlob(s, e.Hash)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			newdata, err := fn(p, data)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			if !bytes.Equal(newdata, data) {
				e.Hash, err = WriteBlob(s, newdata)
				if err != nil {
					return plumbing.ZeroHash, err
				}
			}
		}
		result = append(result, e)
	}
	if len(result) == 0 {
		return EmptyTree, nil
	}
	return WriteTree(s, result)
}
