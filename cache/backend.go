package cache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"slices"
	"sync"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/josh-project/josh-sub000/filter"
	"github.com/josh-project/josh-sub000/jerr"
)

// CacheBackend persists filter results. Backends are lossy: a row may be
// missing or point to an object that no longer exists.
type CacheBackend interface {
	Read(f filter.Filter, from plumbing.Hash, sequence uint64) (plumbing.Hash, bool, error)
	Write(f filter.Filter, from plumbing.Hash, sequence uint64, to plumbing.Hash) error
	// Scan calls fn with the rows of f whose sequence number lies in
	// [low, high], in ascending sequence order.
	Scan(f filter.Filter, low, high uint64, fn func(Row) error) error
	Close() error
}

// Row is a persisted filter result.
type Row struct {
	From     plumbing.Hash
	Sequence uint64
	To       plumbing.Hash
}

// rowKey is filter|sequence|from. Rows of one filter are ordered by
// sequence number.
func rowKey(f filter.Filter, from plumbing.Hash, sequence uint64) []byte {
	key := make([]byte, 0, rowKeyLen)
	key = append(key, f[:]...)
	key = binary.BigEndian.AppendUint64(key, sequence)
	key = append(key, from[:]...)
	return key
}

const rowKeyLen = 2*len(plumbing.ZeroHash) + 8

// rowRange returns the first and the last possible key of the rows of f
// with sequence numbers in [low, high].
func rowRange(f filter.Filter, low, high uint64) (start, end []byte) {
	start = rowKey(f, plumbing.ZeroHash, low)
	var last plumbing.Hash
	for i := range last {
		last[i] = 0xff
	}
	end = rowKey(f, last, high)
	return start, end
}

func decodeRow(key, value []byte) (Row, error) {
	var row Row
	if len(key) != rowKeyLen {
		return row, errInvalidRow
	}
	n := len(plumbing.ZeroHash)
	row.Sequence = binary.BigEndian.Uint64(key[n : n+8])
	copy(row.From[:], key[n+8:])
	if err := decodeHash(value, &row.To); err != nil {
		return row, err
	}
	return row, nil
}

func decodeHash(data []byte, v *plumbing.Hash) error {
	if len(data) != len(plumbing.ZeroHash) {
		return errInvalidRow
	}
	copy(v[:], data)
	return nil
}

func encodeHash(h plumbing.Hash) ([]byte, error) {
	return h[:], nil
}

var errInvalidRow = jerr.New("invalid cache row")

// CacheStack consults its backends in order and writes to all of them.
type CacheStack struct {
	backends []CacheBackend
}

// NewCacheStack creates a stack of backends.
func NewCacheStack(backends ...CacheBackend) *CacheStack {
	return &CacheStack{backends: backends}
}

// With returns a stack with more backends appended.
func (s *CacheStack) With(backends ...CacheBackend) *CacheStack {
	all := make([]CacheBackend, 0, len(s.backends)+len(backends))
	all = append(all, s.backends...)
	all = append(all, backends...)
	return &CacheStack{backends: all}
}

// Len returns the number of backends.
func (s *CacheStack) Len() int {
	return len(s.backends)
}

func (s *CacheStack) Read(f filter.Filter, from plumbing.Hash, sequence uint64) (plumbing.Hash, bool, error) {
	for _, b := range s.backends {
		to, found, err := b.Read(f, from, sequence)
		if err != nil {
			return plumbing.ZeroHash, false, err
		}
		if found {
			return to, true, nil
		}
	}
	return plumbing.ZeroHash, false, nil
}

// Scan scans every backend in order. A row found in more than one backend
// is passed to fn more than once.
func (s *CacheStack) Scan(f filter.Filter, low, high uint64, fn func(Row) error) error {
	for _, b := range s.backends {
		if err := b.Scan(f, low, high, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *CacheStack) Write(f filter.Filter, from plumbing.Hash, sequence uint64, to plumbing.Hash) error {
	var errs []error
	for _, b := range s.backends {
		if err := b.Write(f, from, sequence, to); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *CacheStack) Close() error {
	var errs []error
	for _, b := range s.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemoryBackend keeps rows in a map. It outlives transactions but not the
// process.
type MemoryBackend struct {
	mu   sync.Mutex
	rows map[string]plumbing.Hash
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{rows: make(map[string]plumbing.Hash)}
}

func (b *MemoryBackend) Read(f filter.Filter, from plumbing.Hash, sequence uint64) (plumbing.Hash, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	to, found := b.rows[string(rowKey(f, from, sequence))]
	return to, found, nil
}

func (b *MemoryBackend) Scan(f filter.Filter, low, high uint64, fn func(Row) error) error {
	start, end := rowRange(f, low, high)
	b.mu.Lock()
	var keys []string
	for k := range b.rows {
		if bytes.Compare([]byte(k), start) >= 0 && bytes.Compare([]byte(k), end) <= 0 {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	rows := make([]Row, 0, len(keys))
	for _, k := range keys {
		to := b.rows[k]
		row, err := decodeRow([]byte(k), to[:])
		if err != nil {
			b.mu.Unlock()
			return err
		}
		rows = append(rows, row)
	}
	b.mu.Unlock()

	for _, row := range rows {
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func (b *MemoryBackend) Write(f filter.Filter, from plumbing.Hash, sequence uint64, to plumbing.Hash) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows[string(rowKey(f, from, sequence))] = to
	return nil
}

// Len returns the number of rows.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rows)
}

func (b *MemoryBackend) Close() error {
	return nil
}
