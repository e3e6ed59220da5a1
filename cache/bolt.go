package cache

import (
	"bytes"
	"fmt"
	"os"

	"github.com/go-git/go-git/v5/plumbing"
	"go.etcd.io/bbolt"

	"github.com/josh-project/josh-sub000/filter"
	"github.com/josh-project/josh-sub000/jerr"
)

var ErrNilDB = jerr.New("nil db")

// getFromDb returns the typed
func getFromDb[
	T any](db *bbolt.DB, bucket []byte, id []byte,
	unmarshal func(data []byte, v *T) error,
) (*T, error) {
	if db == nil {
		return nil, ErrNilDB
	}

	r := (*T)(nil)

	err := db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		v := b.Get(id)
		if v == nil {
			return nil
		}
		r = new(T)
		if err := unmarshal(v, r); err != nil {
			r = nil
			return err
		}

		return nil
	})

	return r, err
}

func putToDb[T any](db *bbolt.DB, bucket []byte, id []byte, v T, marshal func(v T) ([]byte, error)) error {
	if db == nil {
		return ErrNilDB
	}

	return db.Update(
		func(tx *bbolt.Tx) error {
			b, err := tx.CreateBucketIfNotExists(bucket)
			if err != nil {
				return err
			}
			data, err := marshal(v)
			if err != nil {
				return err
			}
			return b.Put(id, data)
		})
}

// tempfile provides a temporary file, adopted from the example on [bbolt doc]
//
// [bbolt doc]: https://pkg.go.dev/go.etcd.io/bbolt#example-DB.Begin
func tempfile() (string, error) {
	f, err := os.CreateTemp("", "josh-cache-")
	if err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	if err := os.Remove(f.Name()); err != nil {
		return "", err
	}
	return f.Name(), nil
}

// BoltBackend keeps rows in a bbolt database, one bucket per
// [CacheVersion].
type BoltBackend struct {
	db        *bbolt.DB
	bucket    []byte
	tmpDbPath string
}

// OpenBoltBackend opens the database at path, or at a temporary path when
// path is empty.
func OpenBoltBackend(path string) (*BoltBackend, error) {
	var tmpPath string
	if path == "" {
		var err error
		path, err = tempfile()
		if err != nil {
			return nil, jerr.Wrap(err, "failed to create tmp db path")
		}
		tmpPath = path
		logger.Warn("missing db path, use tmp path", "path", path)
	}

	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, jerr.Wrap(err, "failed to open cache db %s", path)
	}

	return &BoltBackend{
		db:        db,
		bucket:    []byte(fmt.Sprintf("josh-cache-v%d", CacheVersion)),
		tmpDbPath: tmpPath,
	}, nil
}

func (b *BoltBackend) Read(f filter.Filter, from plumbing.Hash, sequence uint64) (plumbing.Hash, bool, error) {
	r, err := getFromDb(b.db, b.bucket, rowKey(f, from, sequence), decodeHash)
	if err != nil {
		return plumbing.ZeroHash, false, jerr.Wrap(err, "failed to read cache row")
	}
	if r == nil {
		return plumbing.ZeroHash, false, nil
	}
	return *r, true, nil
}

func (b *BoltBackend) Write(f filter.Filter, from plumbing.Hash, sequence uint64, to plumbing.Hash) error {
	if err := putToDb(b.db, b.bucket, rowKey(f, from, sequence), to, encodeHash); err != nil {
		return jerr.Wrap(err, "failed to write cache row")
	}
	return nil
}

// Scan walks the rows of f in key order with a cursor, starting at the
// lowest sequence number of the range.
func (b *BoltBackend) Scan(f filter.Filter, low, high uint64, fn func(Row) error) error {
	if b.db == nil {
		return ErrNilDB
	}
	start, end := rowRange(f, low, high)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, v := c.Seek(start); k != nil && bytes.Compare(k, end) <= 0; k, v = c.Next() {
			row, err := decodeRow(k, v)
			if err != nil {
				return err
			}
			if err := fn(row); err != nil {
				return err
			}
		}
		return nil
	})
	return jerr.Wrap(err, "failed to scan cache rows")
}

// Close closes the database, removing it when it lives at a temporary path.
func (b *BoltBackend) Close() error {
	if b.db == nil {
		return nil
	}

	if err := b.db.Close(); err != nil {
		return err
	}
	b.db = nil

	if b.tmpDbPath != "" {
		logger.Warn("missing db path, removing tmp path", "path", b.tmpDbPath)
		return os.Remove(b.tmpDbPath)
	}
	return nil
}
