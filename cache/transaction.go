package cache

import (
	"encoding/binary"
	"errors"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/josh-project/josh-sub000/filter"
	"github.com/josh-project/josh-sub000/gittree"
	"github.com/josh-project/josh-sub000/jerr"
)

var ErrNilRepo = jerr.New("nil repo")

// SequenceFilter is the reserved key sequence numbers are cached under. It
// is a blob id, so no filter encoding can collide with it.
var SequenceFilter = filter.Filter(gittree.BlobHash([]byte("josh sequence number")))

// TransactionContext holds what transactions of one deployment share: the
// filter store, the persistent backends, the metrics and the filter hook.
type TransactionContext struct {
	config  *Config
	store   *filter.Store
	shared  map[Backend]CacheBackend
	stack   *CacheStack
	notes   bool
	metrics *Metrics
	hook    FilterHook
}

// NewTransactionContext opens the backends named in config. A nil config
// runs without persistent cache. Metrics are registered with reg when it is
// not nil.
func NewTransactionContext(config *Config, store *filter.Store, reg prometheus.Registerer) (*TransactionContext, error) {
	if config == nil {
		config = &Config{}
	}
	c := &TransactionContext{
		config:  config,
		store:   store,
		shared:  make(map[Backend]CacheBackend),
		metrics: NewMetrics(reg),
	}
	var stacked []CacheBackend
	for _, b := range config.Backends {
		if _, found := c.shared[b]; found {
			continue
		}
		var backend CacheBackend
		var err error
		switch b {
		case BackendMemory:
			backend = NewMemoryBackend()
		case BackendBolt:
			backend, err = OpenBoltBackend(config.BoltPath)
		case BackendBadger:
			backend, err = OpenBadgerBackend(config.BadgerPath)
		case BackendNotes:
			// per repository, see Open
			c.notes = true
			continue
		default:
			err = jerr.Errorf("unsupported backend %s", b)
		}
		if err != nil {
			return nil, errors.Join(err, c.Close())
		}
		c.shared[b] = backend
		stacked = append(stacked, backend)
	}
	c.stack = NewCacheStack(stacked...)
	return c, nil
}

// WithFilterHook returns a context whose transactions resolve hooks
// through hook.
func (c *TransactionContext) WithFilterHook(hook FilterHook) *TransactionContext {
	r := *c
	r.hook = hook
	return &r
}

// Store returns the filter store shared by the transactions.
func (c *TransactionContext) Store() *filter.Store {
	return c.store
}

// Close closes the shared backends.
func (c *TransactionContext) Close() error {
	var errs []error
	for b, backend := range c.shared {
		if err := backend.Close(); err != nil {
			errs = append(errs, jerr.Wrap(err, "failed to close %s backend", b))
		}
	}
	return errors.Join(errs...)
}

// Open starts a transaction on repo. The notes backend lives in repo and is
// consulted after the shared backends.
func (c *TransactionContext) Open(repo storage.Storer) (*Transaction, error) {
	if repo == nil {
		return nil, ErrNilRepo
	}

	t := &Transaction{
		repo:       repo,
		store:      c.store,
		hook:       c.hook,
		metrics:    c.metrics,
		sampleRate: c.config.GetProperPersistSampleRate(),
		window:     c.config.GetProperSequenceWindow(),
		commits:    make(map[rowID]plumbing.Hash),
		trees:      make(map[rowID]plumbing.Hash),
		overlays:   make(map[[2]plumbing.Hash]plumbing.Hash),
		subtracts:  make(map[[2]plumbing.Hash]plumbing.Hash),
		legalized:  make(map[rowID]filter.Filter),
		unapplied:  make(map[rowID]plumbing.Hash),
		sequences:  make(map[plumbing.Hash]uint64),
		nearby:     make(map[rowID]plumbing.Hash),
		scanned:    make(map[filter.Filter]seqRange),
		missingSet: make(map[rowID]struct{}),
	}
	if t.hook == nil {
		t.hook = NewNotesFilterHook(repo, c.config.GetProperHookRefPrefix())
	}

	t.backend = c.stack
	if c.notes {
		notes := NewNotesBackend(repo, c.config.GetProperNotesRefPrefix())
		t.owned = append(t.owned, notes)
		t.backend = c.stack.With(notes)
	}
	return t, nil
}

type seqRange struct {
	low, high uint64
}

type rowID struct {
	f   filter.Filter
	oid plumbing.Hash
}

// Missing is a commit whose filtered result was needed but not known.
type Missing struct {
	Filter filter.Filter
	Oid    plumbing.Hash
}

// Transaction holds the memo tables of one run against one repository. It
// is owned by a single goroutine.
type Transaction struct {
	repo       storage.Storer
	store      *filter.Store
	hook       FilterHook
	metrics    *Metrics
	backend    *CacheStack
	owned      []CacheBackend
	sampleRate int
	window     uint64

	commits   map[rowID]plumbing.Hash
	trees     map[rowID]plumbing.Hash
	overlays  map[[2]plumbing.Hash]plumbing.Hash
	subtracts map[[2]plumbing.Hash]plumbing.Hash
	legalized map[rowID]filter.Filter
	unapplied map[rowID]plumbing.Hash
	sequences map[plumbing.Hash]uint64

	// nearby holds persisted rows loaded by window scans, not yet
	// checked against the object database
	nearby  map[rowID]plumbing.Hash
	scanned map[filter.Filter]seqRange

	missing    []Missing
	missingSet map[rowID]struct{}
}

func (t *Transaction) Repo() storage.Storer {
	return t.repo
}

func (t *Transaction) Store() *filter.Store {
	return t.store
}

func (t *Transaction) Hook() FilterHook {
	return t.hook
}

// Close flushes the backends owned by the transaction.
func (t *Transaction) Close() error {
	var errs []error
	for _, b := range t.owned {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	t.owned = nil
	return errors.Join(errs...)
}

// Get returns the filtered commit for from. A miss is recorded and
// reported by [Transaction.Missing]. A hit from the persistent backends is
// only returned when the object it names still exists.
func (t *Transaction) Get(f filter.Filter, from plumbing.Hash) (plumbing.Hash, bool) {
	to, found := t.lookup(f, from)
	if !found {
		id := rowID{f: f, oid: from}
		if _, recorded := t.missingSet[id]; !recorded {
			t.missingSet[id] = struct{}{}
			t.missing = append(t.missing, Missing{Filter: f, Oid: from})
		}
	}
	return to, found
}

// Known reports whether the filtered commit for from is known, without
// recording a miss.
func (t *Transaction) Known(f filter.Filter, from plumbing.Hash) bool {
	_, found := t.lookup(f, from)
	return found
}

// Lookup is [Transaction.Get] without recording a miss.
func (t *Transaction) Lookup(f filter.Filter, from plumbing.Hash) (plumbing.Hash, bool) {
	return t.lookup(f, from)
}

func (t *Transaction) lookup(f filter.Filter, from plumbing.Hash) (plumbing.Hash, bool) {
	if f == t.store.Nop() {
		return from, true
	}
	id := rowID{f: f, oid: from}
	if to, found := t.commits[id]; found {
		t.metrics.lookups.WithLabelValues(resultMemory).Inc()
		return to, true
	}

	if t.backend.Len() > 0 {
		seq, err := t.SequenceNumber(from)
		if err != nil {
			logger.Debug("no sequence number for lookup", "commit", from, "err", err)
		} else if to, found := t.readNearby(f, from, seq); found {
			if !to.IsZero() && !gittree.Exists(t.repo, to) {
				t.metrics.lookups.WithLabelValues(resultStale).Inc()
				logger.Debug("stale cache row", "filter", f, "from", from, "to", to)
			} else {
				t.metrics.lookups.WithLabelValues(resultBackend).Inc()
				t.commits[id] = to
				return to, true
			}
		}
	}

	t.metrics.lookups.WithLabelValues(resultMiss).Inc()
	return plumbing.ZeroHash, false
}

func (t *Transaction) read(f filter.Filter, from plumbing.Hash, seq uint64) (plumbing.Hash, bool) {
	to, found, err := t.backend.Read(f, from, seq)
	if err != nil {
		logger.Warn("cache read failed", "filter", f, "from", from, "err", err)
		return plumbing.ZeroHash, false
	}
	return to, found
}

// readNearby looks up the row for from among the rows of f persisted for
// sequence numbers in the window ending at seq. A walk asks for ancestors
// next, which have lower sequence numbers, so most of its lookups are
// served from one scan.
func (t *Transaction) readNearby(f filter.Filter, from plumbing.Hash, seq uint64) (plumbing.Hash, bool) {
	id := rowID{f: f, oid: from}
	if r, found := t.scanned[f]; !found || seq < r.low || seq > r.high {
		low := seq - min(seq, t.window)
		err := t.backend.Scan(f, low, seq, func(row Row) error {
			k := rowID{f: f, oid: row.From}
			if _, found := t.nearby[k]; !found {
				t.nearby[k] = row.To
			}
			return nil
		})
		if err != nil {
			logger.Warn("cache scan failed", "filter", f, "low", low, "high", seq, "err", err)
			return t.read(f, from, seq)
		}
		t.metrics.scans.Inc()
		t.scanned[f] = seqRange{low: low, high: seq}
	}
	to, found := t.nearby[id]
	if found {
		delete(t.nearby, id)
	}
	return to, found
}

// Missing returns the misses recorded since the last call.
func (t *Transaction) Missing() []Missing {
	r := t.missing
	t.missing = nil
	clear(t.missingSet)
	return r
}

// Insert records the filtered commit for from. The row is persisted when
// store is set, or for a sample of the sources otherwise, which bounds how
// far a later lookup has to walk to reach a persisted row.
func (t *Transaction) Insert(f filter.Filter, from, to plumbing.Hash, store bool) {
	t.commits[rowID{f: f, oid: from}] = to
	if !t.shouldPersist(from, store) {
		return
	}
	seq, err := t.SequenceNumber(from)
	if err != nil {
		logger.Warn("not persisting row without sequence number", "filter", f, "from", from, "err", err)
		return
	}
	t.persist(f, from, seq, to)
}

func (t *Transaction) shouldPersist(from plumbing.Hash, store bool) bool {
	if t.backend.Len() == 0 {
		return false
	}
	return store || binary.BigEndian.Uint32(from[16:])%uint32(t.sampleRate) == 0
}

func (t *Transaction) persist(f filter.Filter, from plumbing.Hash, seq uint64, to plumbing.Hash) {
	if err := t.backend.Write(f, from, seq, to); err != nil {
		logger.Warn("cache write failed", "filter", f, "from", from, "err", err)
		return
	}
	t.metrics.persisted.Inc()
}

// GetApply returns the memoized result of applying f to tree.
func (t *Transaction) GetApply(f filter.Filter, tree plumbing.Hash) (plumbing.Hash, bool) {
	r, found := t.trees[rowID{f: f, oid: tree}]
	return r, found
}

func (t *Transaction) InsertApply(f filter.Filter, tree, result plumbing.Hash) {
	t.trees[rowID{f: f, oid: tree}] = result
}

// GetLegalize returns the filter a stored filter file resolved to for tree.
func (t *Transaction) GetLegalize(f filter.Filter, tree plumbing.Hash) (filter.Filter, bool) {
	r, found := t.legalized[rowID{f: f, oid: tree}]
	return r, found
}

// InsertLegalize records the resolution of f for tree. Inserting the empty
// filter before resolving breaks cycles between stored filter files.
func (t *Transaction) InsertLegalize(f filter.Filter, tree plumbing.Hash, resolved filter.Filter) {
	t.legalized[rowID{f: f, oid: tree}] = resolved
}

// GetUnapply returns the original commit recorded for a filtered commit.
func (t *Transaction) GetUnapply(f filter.Filter, filtered plumbing.Hash) (plumbing.Hash, bool) {
	r, found := t.unapplied[rowID{f: f, oid: filtered}]
	return r, found
}

func (t *Transaction) InsertUnapply(f filter.Filter, filtered, original plumbing.Hash) {
	t.unapplied[rowID{f: f, oid: filtered}] = original
}

// Overlay is [gittree.Overlay] memoized in the transaction.
func (t *Transaction) Overlay(a, b plumbing.Hash) (plumbing.Hash, error) {
	k := [2]plumbing.Hash{a, b}
	if r, found := t.overlays[k]; found {
		return r, nil
	}
	r, err := gittree.Overlay(t.repo, a, b)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	t.overlays[k] = r
	return r, nil
}

// Subtract is [gittree.Subtract] memoized in the transaction.
func (t *Transaction) Subtract(a, b plumbing.Hash) (plumbing.Hash, error) {
	k := [2]plumbing.Hash{a, b}
	if r, found := t.subtracts[k]; found {
		return r, nil
	}
	r, err := gittree.Subtract(t.repo, a, b)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	t.subtracts[k] = r
	return r, nil
}

// CountWalk counts a history walk in the metrics.
func (t *Transaction) CountWalk() {
	t.metrics.walks.Inc()
}

func encodeSequence(n uint64) plumbing.Hash {
	var h plumbing.Hash
	binary.BigEndian.PutUint64(h[len(h)-8:], n)
	return h
}

func decodeSequence(h plumbing.Hash) uint64 {
	return binary.BigEndian.Uint64(h[len(h)-8:])
}

func (t *Transaction) knownSequence(oid plumbing.Hash) (uint64, bool) {
	if n, found := t.sequences[oid]; found {
		return n, true
	}
	if t.backend.Len() == 0 {
		return 0, false
	}
	h, found := t.read(SequenceFilter, oid, 0)
	if !found {
		return 0, false
	}
	n := decodeSequence(h)
	t.sequences[oid] = n
	return n, true
}

// SequenceNumber returns the length of the longest parent chain below oid:
// roots have 0, every other commit one more than its largest parent. The
// numbers are cached like filter results under [SequenceFilter].
func (t *Transaction) SequenceNumber(oid plumbing.Hash) (uint64, error) {
	if n, found := t.knownSequence(oid); found {
		return n, nil
	}

	stack := []plumbing.Hash{oid}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		if _, found := t.knownSequence(h); found {
			stack = stack[:len(stack)-1]
			continue
		}
		c, err := object.GetCommit(t.repo, h)
		if err != nil {
			return 0, jerr.Wrap(err, "failed to get commit %s", h)
		}

		var n uint64
		pending := false
		for _, p := range c.ParentHashes {
			pn, found := t.knownSequence(p)
			if !found {
				stack = append(stack, p)
				pending = true
				continue
			}
			n = max(n, pn+1)
		}
		if pending {
			continue
		}

		stack = stack[:len(stack)-1]
		t.sequences[h] = n
		if t.shouldPersist(h, false) {
			t.persist(SequenceFilter, h, 0, encodeSequence(n))
		}
	}
	return t.sequences[oid], nil
}
