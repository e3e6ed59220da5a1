package josh

import (
	"container/heap"
	"errors"
	"regexp"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/josh-project/josh-sub000/cache"
	"github.com/josh-project/josh-sub000/filter"
	"github.com/josh-project/josh-sub000/gittree"
	"github.com/josh-project/josh-sub000/jerr"
)

// OrphansMode decides what happens to the parents of a pushed merge whose
// content lies entirely outside the filtered view.
type OrphansMode int

const (
	// OrphansKeep keeps orphan parents as parents of the merge.
	OrphansKeep OrphansMode = iota
	// OrphansRemove drops orphan parents.
	OrphansRemove
	// OrphansFail rejects the push.
	OrphansFail
)

// FindOriginalLimit bounds the number of unfiltered commits searched for
// the original of a filtered commit.
const FindOriginalLimit = 100000

// UnapplyOptions controls [UnapplyFilter].
type UnapplyOptions struct {
	Orphans OrphansMode
	// ReparentOrphans bases pushed root commits on the original target
	// instead of making them roots of an unrelated history.
	ReparentOrphans bool
	// AllowUnrelated accepts a result without common history with the
	// original target.
	AllowUnrelated bool
	// Merge merges the result into the original target when it does not
	// descend from it. Disagreeing merge parents then resolve to the first
	// parent.
	Merge bool
	// RequireLabels rejects pushed commits without a change label.
	RequireLabels bool
	// Changes receives one entry per created commit when not nil.
	Changes *[]Change
}

// Change describes a commit created by [UnapplyFilter].
type Change struct {
	Author string
	// Label is the value of the "Change:" trailer of the pushed commit.
	Label  string
	Commit plumbing.Hash
}

var (
	ErrOrphanParent     = errors.New("rejecting to push orphan parent")
	ErrUnrelatedHistory = errors.New("rejecting to push unrelated history")
)

var changeLabel = regexp.MustCompile(`(?m)^Change: (\S+)\s*$`)

// ChangeLabel returns the label of a commit message, the value of its
// "Change:" trailer.
func ChangeLabel(message string) (string, bool) {
	m := changeLabel.FindStringSubmatch(message)
	if m == nil {
		return "", false
	}
	return m[1], true
}

type unapplier struct {
	tx     *cache.Transaction
	f      filter.Filter
	target plumbing.Hash
	opts   UnapplyOptions
	// filtered to unfiltered commits of this push
	mapped map[plumbing.Hash]plumbing.Hash
}

// UnapplyFilter maps a push of newFiltered, replacing oldFiltered in the
// history filtered from originalTarget, back to unfiltered history. The
// created commits filter back to the pushed ones and change only what f
// owns relative to the commits they are based on. The id of the unfiltered
// commit for newFiltered is returned; a push that changes nothing returns
// originalTarget.
//
// oldFiltered is zero for a new branch; the pushed history is then based
// on the newest of its commits that has an original below originalTarget.
func UnapplyFilter(
	tx *cache.Transaction,
	f filter.Filter,
	originalTarget, oldFiltered, newFiltered plumbing.Hash,
	opts UnapplyOptions,
) (plumbing.Hash, error) {
	if newFiltered == oldFiltered {
		return originalTarget, nil
	}

	u := &unapplier{
		tx:     tx,
		f:      f,
		target: originalTarget,
		opts:   opts,
		mapped: make(map[plumbing.Hash]plumbing.Hash),
	}

	if oldFiltered.IsZero() {
		base, err := u.findNewBranchBase(newFiltered)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		oldFiltered = base
	}

	hide := NewHashSet()
	if !oldFiltered.IsZero() {
		old, err := GetDFSPath(tx.Repo(), oldFiltered, nil)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		hide = NewHashSetFromCommits(old)
	}
	path, err := GetDFSPath(tx.Repo(), newFiltered, func(h plumbing.Hash) bool {
		_, found := hide[h]
		return found
	})
	if err != nil {
		return plumbing.ZeroHash, err
	}

	n := len(path)
	for i, c := range path {
		r, err := u.unapplyCommit(c)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		logger.Info("unapplied commit", "id", i, "total", n, "filtered", c.Hash, "commit", r)
		u.mapped[c.Hash] = r
	}

	result, found := u.mapped[newFiltered]
	if !found {
		// newFiltered is below oldFiltered
		result, err = u.base(newFiltered)
		if err != nil {
			return plumbing.ZeroHash, err
		}
	}
	return u.connect(result, newFiltered)
}

// connect checks how result relates to the original target.
func (u *unapplier) connect(result, newFiltered plumbing.Hash) (plumbing.Hash, error) {
	if u.target.IsZero() || result == u.target {
		return result, nil
	}
	store := u.tx.Store()
	descends, err := store.IsAncestorOf(u.tx.Repo(), u.target, result)
	if err != nil || descends {
		return result, err
	}

	if u.opts.Merge {
		return u.mergeIntoTarget(result, newFiltered)
	}
	if u.opts.AllowUnrelated {
		return result, nil
	}
	base, err := mergeBase(u.tx, u.target, result)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if base.IsZero() {
		return plumbing.ZeroHash, jerr.Wrap(ErrUnrelatedHistory, "%s", newFiltered)
	}
	return result, nil
}

func (u *unapplier) mergeIntoTarget(result, newFiltered plumbing.Hash) (plumbing.Hash, error) {
	repo := u.tx.Repo()
	pushed, err := gittree.GetCommit(repo, newFiltered)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	target, err := gittree.GetCommit(repo, u.target)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	tree, err := Unapply(u.tx, u.f, pushed.TreeHash, target.TreeHash)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	state := NewRewriteState(pushed)
	state.Tree = tree
	state.Message = "Merge pushed history\n"
	r, err := rewriteCommit(repo, pushed, []plumbing.Hash{u.target, result}, state)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	logger.Info("merged push into target", "target", u.target, "pushed", result, "merge", r)
	return r, nil
}

// base returns the unfiltered commit a filtered parent stands for: the
// commit created for it in this push, or its original.
func (u *unapplier) base(filtered plumbing.Hash) (plumbing.Hash, error) {
	if r, found := u.mapped[filtered]; found {
		return r, nil
	}
	return u.findOriginal(filtered)
}

// findOriginal searches the history of the original target, newest first,
// for a commit that filters to filtered. Zero is returned when there is
// none.
func (u *unapplier) findOriginal(filtered plumbing.Hash) (plumbing.Hash, error) {
	tx := u.tx
	if u.target.IsZero() {
		return plumbing.ZeroHash, nil
	}
	if r, found := tx.GetUnapply(u.f, filtered); found {
		return r, nil
	}
	if _, err := ApplyToCommit(tx, u.f, u.target); err != nil {
		return plumbing.ZeroHash, err
	}

	q := &seqQueue{}
	seen := NewHashSet(u.target)
	if err := q.pushCommit(tx, u.target); err != nil {
		return plumbing.ZeroHash, err
	}
	for visited := 0; q.Len() > 0; visited++ {
		if visited >= FindOriginalLimit {
			logger.Warn("stopped searching original", "filtered", filtered, "visited", visited)
			break
		}
		h := heap.Pop(q).(seqItem).oid
		r, err := ApplyToCommit(tx, u.f, h)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if _, found := tx.GetUnapply(u.f, r); !found && !r.IsZero() {
			tx.InsertUnapply(u.f, r, h)
		}
		if r == filtered {
			return h, nil
		}

		c, err := gittree.GetCommit(tx.Repo(), h)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		for _, p := range c.ParentHashes {
			if _, found := seen[p]; found {
				continue
			}
			seen[p] = empty{}
			if err := q.pushCommit(tx, p); err != nil {
				return plumbing.ZeroHash, err
			}
		}
	}
	return plumbing.ZeroHash, nil
}

// findNewBranchBase returns the newest commit of the pushed history that
// has an original, or zero.
func (u *unapplier) findNewBranchBase(newFiltered plumbing.Hash) (plumbing.Hash, error) {
	path, err := GetDFSPath(u.tx.Repo(), newFiltered, nil)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	for i := len(path) - 1; i >= 0; i-- {
		original, err := u.findOriginal(path[i].Hash)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if !original.IsZero() {
			logger.Debug("found new branch base", "filtered", path[i].Hash, "original", original)
			u.mapped[path[i].Hash] = original
			return path[i].Hash, nil
		}
	}
	return plumbing.ZeroHash, nil
}

// orphan reports whether nothing of commit is left under the filter, so
// as a merge parent it only brings in history outside the filtered view.
func (u *unapplier) orphan(commit plumbing.Hash) (bool, error) {
	c, err := gittree.GetCommit(u.tx.Repo(), commit)
	if err != nil {
		return false, err
	}
	tree, err := ApplyTree(u.tx, u.f, c.TreeHash)
	if err != nil {
		return false, err
	}
	return gittree.IsEmpty(tree), nil
}

// unapplyCommit creates the unfiltered commit for the pushed commit c,
// whose parents are already mapped.
func (u *unapplier) unapplyCommit(c *object.Commit) (plumbing.Hash, error) {
	tx := u.tx
	repo := tx.Repo()

	label, hasLabel := ChangeLabel(c.Message)
	if u.opts.RequireLabels && !hasLabel {
		return plumbing.ZeroHash, jerr.Errorf("rejecting to push %s without label", c.Hash)
	}

	var parents []plumbing.Hash
	for _, p := range c.ParentHashes {
		b, err := u.base(p)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if b.IsZero() {
			return plumbing.ZeroHash, jerr.Errorf("%s: no original for parent %s of %s", jerr.CannotUnapply, p, c.Hash)
		}
		parents = append(parents, b)
	}
	parents = dedupeParents(parents)

	// candidates are the parents whose trees the new tree is derived from
	candidates := parents
	if len(parents) > 1 {
		var kept, orphans []plumbing.Hash
		for _, p := range parents {
			isOrphan, err := u.orphan(p)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			if isOrphan {
				orphans = append(orphans, p)
			} else {
				kept = append(kept, p)
			}
		}
		if len(orphans) > 0 && len(kept) > 0 {
			switch u.opts.Orphans {
			case OrphansFail:
				return plumbing.ZeroHash, jerr.Wrap(ErrOrphanParent, "%s", orphans[0])
			case OrphansRemove:
				logger.Info("dropping orphan parents", "commit", c.Hash, "count", len(orphans))
				parents = kept
			}
			candidates = kept
		}
	}

	if len(parents) == 0 && u.opts.ReparentOrphans && !u.target.IsZero() {
		parents = []plumbing.Hash{u.target}
		candidates = parents
	}

	tree, err := u.newTree(c, candidates)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	state := NewRewriteState(c)
	state.Tree = tree
	r, err := rewriteCommit(repo, c, parents, state)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	tx.InsertUnapply(u.f, c.Hash, r)
	if u.opts.Changes != nil {
		*u.opts.Changes = append(*u.opts.Changes, Change{Author: c.Author.Email, Label: label, Commit: r})
	}
	return r, nil
}

// newTree unapplies the tree of c onto every candidate base. The results
// must agree; for a merge of two bases that do not, see resolveMerge.
func (u *unapplier) newTree(c *object.Commit, candidates []plumbing.Hash) (plumbing.Hash, error) {
	tx := u.tx
	if len(candidates) == 0 {
		return Unapply(tx, u.f, c.TreeHash, gittree.EmptyTree)
	}

	trees := make([]plumbing.Hash, 0, len(candidates))
	distinct := NewHashSet()
	for _, b := range candidates {
		bc, err := gittree.GetCommit(tx.Repo(), b)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		t, err := Unapply(tx, u.f, c.TreeHash, bc.TreeHash)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		trees = append(trees, t)
		distinct[t] = empty{}
	}
	if len(distinct) == 1 {
		return trees[0], nil
	}
	if len(candidates) == 2 {
		return u.resolveMerge(c, candidates, trees)
	}
	return plumbing.ZeroHash, jerr.Errorf("%s %s: %d parents disagree", jerr.RejectingMerge, c.Hash, len(candidates))
}

// resolveMerge picks the tree of a merge whose two bases unapply to
// different trees. The base descending from the original target wins.
// Otherwise the bases are merged twice with opposite favor; the result is
// accepted only when both unapply to the same tree, so the bases differ
// only in what the filter owns.
func (u *unapplier) resolveMerge(c *object.Commit, bases, trees []plumbing.Hash) (plumbing.Hash, error) {
	tx := u.tx
	repo := tx.Repo()
	store := tx.Store()

	if !u.target.IsZero() {
		preferred := -1
		for i, b := range bases {
			ok, err := store.IsAncestorOf(repo, u.target, b)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			if ok {
				if preferred >= 0 {
					preferred = -1
					break
				}
				preferred = i
			}
		}
		if preferred >= 0 {
			return trees[preferred], nil
		}
	}

	if u.opts.Merge {
		logger.Info("merge parents disagree, using first parent", "commit", c.Hash)
		return trees[0], nil
	}

	base, err := mergeBase(tx, bases[0], bases[1])
	if err != nil {
		return plumbing.ZeroHash, err
	}
	baseTree := gittree.EmptyTree
	if !base.IsZero() {
		bc, err := gittree.GetCommit(repo, base)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		baseTree = bc.TreeHash
	}
	ours, err := gittree.GetCommit(repo, bases[0])
	if err != nil {
		return plumbing.ZeroHash, err
	}
	theirs, err := gittree.GetCommit(repo, bases[1])
	if err != nil {
		return plumbing.ZeroHash, err
	}

	var results [2]plumbing.Hash
	for i, favor := range []gittree.Favor{gittree.FavorOurs, gittree.FavorTheirs} {
		merged, err := gittree.Merge(repo, baseTree, ours.TreeHash, theirs.TreeHash, favor)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if results[i], err = Unapply(tx, u.f, c.TreeHash, merged); err != nil {
			return plumbing.ZeroHash, err
		}
	}
	if results[0] != results[1] {
		return plumbing.ZeroHash, jerr.Errorf("%s %s: parents differ outside the filter", jerr.RejectingMerge, c.Hash)
	}
	return results[0], nil
}

// mergeBase returns the common ancestor of a and b with the highest
// sequence number, or zero when they share no history.
func mergeBase(tx *cache.Transaction, a, b plumbing.Hash) (plumbing.Hash, error) {
	store := tx.Store()
	ancestors, err := store.Ancestors(tx.Repo(), a)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	var best plumbing.Hash
	var bestSeq uint64
	for _, h := range ancestors {
		ok, err := store.IsAncestorOf(tx.Repo(), h, b)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if !ok {
			continue
		}
		seq, err := tx.SequenceNumber(h)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if best.IsZero() || seq > bestSeq {
			best, bestSeq = h, seq
		}
	}
	return best, nil
}

type seqItem struct {
	oid plumbing.Hash
	seq uint64
}

// seqQueue pops the commit with the highest sequence number first, so
// children come before their parents.
type seqQueue []seqItem

func (q seqQueue) Len() int { return len(q) }
func (q seqQueue) Less(i, j int) bool {
	if q[i].seq != q[j].seq {
		return q[i].seq > q[j].seq
	}
	return q[i].oid.String() < q[j].oid.String()
}
func (q seqQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *seqQueue) Push(x any)   { *q = append(*q, x.(seqItem)) }
func (q *seqQueue) Pop() any {
	old := *q
	item := old[len(old)-1]
	*q = old[:len(old)-1]
	return item
}

func (q *seqQueue) pushCommit(tx *cache.Transaction, h plumbing.Hash) error {
	seq, err := tx.SequenceNumber(h)
	if err != nil {
		return err
	}
	heap.Push(q, seqItem{oid: h, seq: seq})
	return nil
}
