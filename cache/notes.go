package cache

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"

	"github.com/josh-project/josh-sub000/filter"
	"github.com/josh-project/josh-sub000/gittree"
	"github.com/josh-project/josh-sub000/jerr"
)

// notesTree returns the tree of the notes commit at ref, or the empty tree
// when ref does not exist.
func notesTree(repo storage.Storer, ref plumbing.ReferenceName) (plumbing.Hash, plumbing.Hash, error) {
	r, err := repo.Reference(ref)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return plumbing.ZeroHash, gittree.EmptyTree, nil
	}
	if err != nil {
		return plumbing.ZeroHash, plumbing.ZeroHash, jerr.Wrap(err, "failed to read ref %s", ref)
	}
	c, err := gittree.GetCommit(repo, r.Hash())
	if err != nil {
		return plumbing.ZeroHash, plumbing.ZeroHash, err
	}
	return c.Hash, c.TreeHash, nil
}

// readNote reads the note for oid from a notes tree, accepting both the
// flat layout and a two character fanout.
func readNote(repo storage.Storer, tree, oid plumbing.Hash) ([]byte, bool, error) {
	hex := oid.String()
	for _, p := range []string{hex[:2] + "/" + hex[2:], hex} {
		e, found, err := gittree.Get(repo, tree, p)
		if err != nil {
			return nil, false, err
		}
		if !found || e.Mode == filemode.Dir {
			continue
		}
		data, err := gittree.ReadBlob(repo, e.Hash)
		if err != nil {
			return nil, false, err
		}
		return data, true, nil
	}
	return nil, false, nil
}

// writeNotes adds notes to the notes commit at ref and moves ref to the new
// commit.
func writeNotes(repo storage.Storer, ref plumbing.ReferenceName, notes map[plumbing.Hash][]byte, message string) error {
	parent, tree, err := notesTree(repo, ref)
	if err != nil {
		return err
	}
	for oid, data := range notes {
		blob, err := gittree.WriteBlob(repo, data)
		if err != nil {
			return err
		}
		hex := oid.String()
		tree, err = gittree.Insert(repo, tree, hex[:2]+"/"+hex[2:], &object.TreeEntry{Mode: filemode.Regular, Hash: blob})
		if err != nil {
			return err
		}
	}

	sig := object.Signature{Name: "josh", Email: "josh@localhost", When: time.Now()}
	c := &object.Commit{Author: sig, Committer: sig, Message: message, TreeHash: tree}
	var old *plumbing.Reference
	if !parent.IsZero() {
		c.ParentHashes = []plumbing.Hash{parent}
		old = plumbing.NewHashReference(ref, parent)
	}
	h, err := gittree.WriteCommit(repo, c)
	if err != nil {
		return err
	}
	if err := repo.CheckAndSetReference(plumbing.NewHashReference(ref, h), old); err != nil {
		return jerr.Wrap(err, "failed to update %s", ref)
	}
	return nil
}

// NotesBackend keeps rows as notes in the repository itself, one notes ref
// per filter below refs/josh/cache/<version>/. A note holds the result and
// the sequence number of the source. Writes are buffered and committed by
// [NotesBackend.Close].
type NotesBackend struct {
	repo   storage.Storer
	prefix string

	mu      sync.Mutex
	trees   map[filter.Filter]plumbing.Hash
	pending map[filter.Filter]map[plumbing.Hash]Row
}

// NewNotesBackend creates a notes backend for repo with refs below prefix.
func NewNotesBackend(repo storage.Storer, prefix string) *NotesBackend {
	return &NotesBackend{
		repo:    repo,
		prefix:  fmt.Sprintf("%s/%d", strings.TrimSuffix(prefix, "/"), CacheVersion),
		trees:   make(map[filter.Filter]plumbing.Hash),
		pending: make(map[filter.Filter]map[plumbing.Hash]Row),
	}
}

func (b *NotesBackend) ref(f filter.Filter) plumbing.ReferenceName {
	return plumbing.ReferenceName(b.prefix + "/" + f.String())
}

func (b *NotesBackend) tree(f filter.Filter) (plumbing.Hash, error) {
	if tree, found := b.trees[f]; found {
		return tree, nil
	}
	_, tree, err := notesTree(b.repo, b.ref(f))
	if err != nil {
		return plumbing.ZeroHash, err
	}
	b.trees[f] = tree
	return tree, nil
}

// parseNote reads "<to> <sequence>". Notes without a sequence number have
// hasSequence unset.
func parseNote(data []byte) (to plumbing.Hash, sequence uint64, hasSequence bool, ok bool) {
	fields := strings.Fields(string(data))
	if len(fields) == 0 || !plumbing.IsHash(fields[0]) {
		return plumbing.ZeroHash, 0, false, false
	}
	to = plumbing.NewHash(fields[0])
	if len(fields) > 1 {
		n, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return plumbing.ZeroHash, 0, false, false
		}
		return to, n, true, true
	}
	return to, 0, false, true
}

func (b *NotesBackend) Read(f filter.Filter, from plumbing.Hash, _ uint64) (plumbing.Hash, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if row, found := b.pending[f][from]; found {
		return row.To, true, nil
	}

	tree, err := b.tree(f)
	if err != nil {
		return plumbing.ZeroHash, false, err
	}
	data, found, err := readNote(b.repo, tree, from)
	if err != nil || !found {
		return plumbing.ZeroHash, false, err
	}
	to, _, _, ok := parseNote(data)
	if !ok {
		logger.Warn("ignoring malformed cache note", "filter", f, "from", from, "note", strings.TrimSpace(string(data)))
		return plumbing.ZeroHash, false, nil
	}
	return to, true, nil
}

// Scan reads every note of f and keeps those in range. Notes are not
// ordered by sequence number, so the whole notes tree of the filter is
// visited.
func (b *NotesBackend) Scan(f filter.Filter, low, high uint64, fn func(Row) error) error {
	b.mu.Lock()
	tree, err := b.tree(f)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	rows := make(map[plumbing.Hash]Row)
	err = gittree.Walk(b.repo, tree, func(p string, e object.TreeEntry) error {
		name := strings.ReplaceAll(p, "/", "")
		if !plumbing.IsHash(name) {
			return nil
		}
		data, err := gittree.ReadBlob(b.repo, e.Hash)
		if err != nil {
			return err
		}
		to, seq, hasSequence, ok := parseNote(data)
		if !ok || !hasSequence || seq < low || seq > high {
			return nil
		}
		from := plumbing.NewHash(name)
		rows[from] = Row{From: from, Sequence: seq, To: to}
		return nil
	})
	for from, row := range b.pending[f] {
		if row.Sequence >= low && row.Sequence <= high {
			rows[from] = row
		}
	}
	b.mu.Unlock()
	if err != nil {
		return jerr.Wrap(err, "failed to scan cache notes")
	}

	sorted := make([]Row, 0, len(rows))
	for _, row := range rows {
		sorted = append(sorted, row)
	}
	slices.SortFunc(sorted, func(a, b Row) int {
		if a.Sequence != b.Sequence {
			if a.Sequence < b.Sequence {
				return -1
			}
			return 1
		}
		return strings.Compare(a.From.String(), b.From.String())
	})
	for _, row := range sorted {
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func (b *NotesBackend) Write(f filter.Filter, from plumbing.Hash, sequence uint64, to plumbing.Hash) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rows, found := b.pending[f]
	if !found {
		rows = make(map[plumbing.Hash]Row)
		b.pending[f] = rows
	}
	rows[from] = Row{From: from, Sequence: sequence, To: to}
	return nil
}

// Close commits the buffered rows.
func (b *NotesBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for f, rows := range b.pending {
		notes := make(map[plumbing.Hash][]byte, len(rows))
		for from, row := range rows {
			notes[from] = []byte(fmt.Sprintf("%s %d\n", row.To, row.Sequence))
		}
		if err := writeNotes(b.repo, b.ref(f), notes, "josh cache "+f.String()); err != nil {
			errs = append(errs, err)
			continue
		}
		delete(b.pending, f)
		delete(b.trees, f)
		logger.Debug("flushed cache notes", "filter", f, "rows", len(rows))
	}
	return errors.Join(errs...)
}
