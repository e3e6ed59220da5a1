package gittree

import (
	"errors"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/google/go-cmp/cmp"
)

func mustFromFiles(t *testing.T, s *memory.Storage, files map[string]string) plumbing.Hash {
	t.Helper()
	h, err := FromFiles(s, files)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func mustFiles(t *testing.T, s *memory.Storage, h plumbing.Hash) map[string]string {
	t.Helper()
	files, err := Files(s, h)
	if err != nil {
		t.Fatal(err)
	}
	return files
}

func TestEmptyTreeHash(t *testing.T) {
	h, err := TreeHash(nil)
	if err != nil {
		t.Fatal(err)
	}
	if h != EmptyTree {
		t.Fatalf("want: %s, got: %s", EmptyTree, h)
	}
	s := memory.NewStorage()
	written, err := WriteTree(s, nil)
	if err != nil {
		t.Fatal(err)
	}
	if written != EmptyTree {
		t.Fatalf("want: %s, got: %s", EmptyTree, written)
	}
}

func TestInsertAndGet(t *testing.T) {
	s := memory.NewStorage()
	tree := mustFromFiles(t, s, map[string]string{
		"a/x":   "x",
		"a/b/y": "y",
		"c":     "c",
	})

	e, found, err := Get(s, tree, "a/b/y")
	if err != nil || !found {
		t.Fatalf("a/b/y not found: %v", err)
	}
	if e.Hash != BlobHash([]byte("y")) {
		t.Fatalf("unexpected blob %s", e.Hash)
	}

	removed, err := Insert(s, tree, "a/b/y", nil)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"a/x": "x", "c": "c"}
	if got := mustFiles(t, s, removed); !cmp.Equal(got, want) {
		t.Fatal(cmp.Diff(want, got))
	}
}

func TestTreeHashIsOrderIndependent(t *testing.T) {
	s1 := memory.NewStorage()
	s2 := memory.NewStorage()
	a := mustFromFiles(t, s1, map[string]string{"a.b": "2", "a/c": "3", "a-d": "1", "b": "4"})
	b := mustFromFiles(t, s2, map[string]string{"b": "4", "a-d": "1", "a/c": "3", "a.b": "2"})
	if a != b {
		t.Fatalf("hash differs: %s %s", a, b)
	}
	// git sorts the directory a as "a/", after "a.b" and "a-d"
	entries, err := Entries(s1, a)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	if want := []string{"a-d", "a.b", "a", "b"}; !cmp.Equal(names, want) {
		t.Fatal(cmp.Diff(want, names))
	}
}

func TestFromFilesRejectsPathConflicts(t *testing.T) {
	s := memory.NewStorage()
	for i := 0; i < 10; i++ {
		_, err := FromFiles(s, map[string]string{"a": "1", "a/c": "3", "b": "4"})
		if !errors.Is(err, ErrPathConflict) {
			t.Fatalf("want %v, got %v", ErrPathConflict, err)
		}
	}
}

func TestIntersect(t *testing.T) {
	s := memory.NewStorage()
	a := mustFromFiles(t, s, map[string]string{"d/x": "a", "d/y": "a", "f": "a", "g/h": "a", "z": "a"})
	b := mustFromFiles(t, s, map[string]string{"d/x": "b", "f": "b", "g": "b"})

	got, err := Intersect(s, a, b)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"d/x": "a", "f": "a", "g/h": "a"}
	if files := mustFiles(t, s, got); !cmp.Equal(files, want) {
		t.Fatal(cmp.Diff(want, files))
	}

	if got, err := Intersect(s, a, EmptyTree); err != nil || got != EmptyTree {
		t.Fatalf("intersect with empty: %s %v", got, err)
	}
}

func TestOverlayAndSubtract(t *testing.T) {
	s := memory.NewStorage()
	a := mustFromFiles(t, s, map[string]string{"d/x": "a", "y": "a"})
	b := mustFromFiles(t, s, map[string]string{"d/x": "b", "d/z": "b", "w": "b"})

	o, err := Overlay(s, a, b)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"d/x": "a", "d/z": "b", "y": "a", "w": "b"}
	if got := mustFiles(t, s, o); !cmp.Equal(got, want) {
		t.Fatal(cmp.Diff(want, got))
	}

	sub, err := Subtract(s, o, b)
	if err != nil {
		t.Fatal(err)
	}
	want = map[string]string{"y": "a"}
	if got := mustFiles(t, s, sub); !cmp.Equal(got, want) {
		t.Fatal(cmp.Diff(want, got))
	}
}

func TestMergeFavor(t *testing.T) {
	s := memory.NewStorage()
	base := mustFromFiles(t, s, map[string]string{"f": "base", "g": "base"})
	ours := mustFromFiles(t, s, map[string]string{"f": "ours", "g": "base", "o": "new"})
	theirs := mustFromFiles(t, s, map[string]string{"f": "theirs", "g": "changed"})

	for _, tc := range []struct {
		favor Favor
		want  map[string]string
	}{
		{FavorOurs, map[string]string{"f": "ours", "g": "changed", "o": "new"}},
		{FavorTheirs, map[string]string{"f": "theirs", "g": "changed", "o": "new"}},
	} {
		m, err := Merge(s, base, ours, theirs, tc.favor)
		if err != nil {
			t.Fatal(err)
		}
		if got := mustFiles(t, s, m); !cmp.Equal(got, tc.want) {
			t.Fatal(cmp.Diff(tc.want, got))
		}
	}
}
