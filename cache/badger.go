package cache

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/josh-project/josh-sub000/filter"
	"github.com/josh-project/josh-sub000/jerr"
)

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerBackend keeps rows in a badger database. Keys carry the
// [CacheVersion] as prefix.
type BadgerBackend struct {
	db     *badger.DB
	prefix []byte
}

// OpenBadgerBackend opens the database in directory path, or in memory when
// path is empty.
func OpenBadgerBackend(path string) (*BadgerBackend, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, jerr.Wrap(err, "create database directory %s", path)
		}
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, jerr.Wrap(err, "open badger database")
	}

	return &BadgerBackend{
		db:     db,
		prefix: []byte(fmt.Sprintf("v%d/", CacheVersion)),
	}, nil
}

func (b *BadgerBackend) key(f filter.Filter, from plumbing.Hash, sequence uint64) []byte {
	return append(append([]byte{}, b.prefix...), rowKey(f, from, sequence)...)
}

func (b *BadgerBackend) Read(f filter.Filter, from plumbing.Hash, sequence uint64) (plumbing.Hash, bool, error) {
	var to plumbing.Hash
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key(f, from, sequence))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			found = true
			return decodeHash(val, &to)
		})
	})
	if err != nil {
		return plumbing.ZeroHash, false, jerr.Wrap(err, "failed to read cache row")
	}
	return to, found, nil
}

func (b *BadgerBackend) Write(f filter.Filter, from plumbing.Hash, sequence uint64, to plumbing.Hash) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.key(f, from, sequence), append([]byte{}, to[:]...))
	})
	if err != nil {
		return jerr.Wrap(err, "failed to write cache row")
	}
	return nil
}

// Scan iterates the keys of f from the lowest sequence number of the range.
func (b *BadgerBackend) Scan(f filter.Filter, low, high uint64, fn func(Row) error) error {
	start, end := rowRange(f, low, high)
	prefix := append(append([]byte{}, b.prefix...), f[:]...)
	seek := append(append([]byte{}, b.prefix...), start...)

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)[len(b.prefix):]
			if bytes.Compare(key, end) > 0 {
				break
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			row, err := decodeRow(key, value)
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

func (b *BadgerBackend) Close() error {
	return b.db.Close()
}
