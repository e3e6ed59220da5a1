package josh

import (
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/require"

	"github.com/josh-project/josh-sub000/gittree"
	"github.com/josh-project/josh-sub000/jerr"
)

type pushFixture struct {
	*testRepo
	c1, c2 plumbing.Hash
	fc2    plumbing.Hash
}

// newPushFixture builds a history touching a/ and b/ and its :/a view.
func newPushFixture(t *testing.T) *pushFixture {
	r := newTestRepo(t)
	c1 := r.commit("one", map[string]string{"a/x": "1", "b/y": "2"})
	c2 := r.commit("two", map[string]string{"a/x": "1b", "b/y": "2"}, c1)
	return &pushFixture{
		testRepo: r,
		c1:       c1,
		c2:       c2,
		fc2:      r.apply(":/a", c2),
	}
}

func TestUnapplyFilterPush(t *testing.T) {
	r := newPushFixture(t)
	require.Equal(t, map[string]string{"x": "1b"}, r.commitFiles(r.fc2))

	pushed := r.commit("change", map[string]string{"x": "1c", "new": "n"}, r.fc2)
	f := r.parse(":/a")

	var changes []Change
	result, err := UnapplyFilter(r.tx, f, r.c2, r.fc2, pushed, UnapplyOptions{Changes: &changes})
	require.NoError(t, err)

	commit := r.getCommit(result)
	require.Equal(t, []plumbing.Hash{r.c2}, commit.ParentHashes)
	require.Equal(t, map[string]string{"a/x": "1c", "a/new": "n", "b/y": "2"}, r.files(commit.TreeHash))
	require.Equal(t, "change\n", commit.Message)
	require.Len(t, changes, 1)
	require.Equal(t, result, changes[0].Commit)
	require.Empty(t, changes[0].Label)

	// filtering the result gives back the pushed commit
	require.Equal(t, pushed, r.apply(":/a", result))

	// a new branch finds its base by searching the history of the target
	branch, err := UnapplyFilter(r.tx, f, r.c2, plumbing.ZeroHash, pushed, UnapplyOptions{})
	require.NoError(t, err)
	require.Equal(t, result, branch)
}

func TestUnapplyFilterNoop(t *testing.T) {
	r := newPushFixture(t)
	result, err := UnapplyFilter(r.tx, r.parse(":/a"), r.c2, r.fc2, r.fc2, UnapplyOptions{})
	require.NoError(t, err)
	require.Equal(t, r.c2, result)
}

func TestUnapplyFilterPrefixChain(t *testing.T) {
	r := newPushFixture(t)
	f := r.parse(":/a:prefix=sub")
	filtered := r.apply(":/a:prefix=sub", r.c2)
	require.Equal(t, map[string]string{"sub/x": "1b"}, r.commitFiles(filtered))

	pushed := r.commit("edit", map[string]string{"sub/x": "2"}, filtered)
	result, err := UnapplyFilter(r.tx, f, r.c2, filtered, pushed, UnapplyOptions{})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a/x": "2", "b/y": "2"}, r.commitFiles(result))
}

func TestUnapplyFilterLabels(t *testing.T) {
	r := newPushFixture(t)
	f := r.parse(":/a")

	unlabeled := r.commit("change", map[string]string{"x": "3"}, r.fc2)
	_, err := UnapplyFilter(r.tx, f, r.c2, r.fc2, unlabeled, UnapplyOptions{RequireLabels: true})
	require.ErrorContains(t, err, "without label")

	labeled := r.commit("change\n\nChange: fix-x", map[string]string{"x": "3"}, r.fc2)
	var changes []Change
	result, err := UnapplyFilter(r.tx, f, r.c2, r.fc2, labeled, UnapplyOptions{RequireLabels: true, Changes: &changes})
	require.NoError(t, err)
	require.Equal(t, []Change{{Author: "test@example.com", Label: "fix-x", Commit: result}}, changes)

	label, ok := ChangeLabel("subject\n\nChange: abc\n")
	require.True(t, ok)
	require.Equal(t, "abc", label)
	_, ok = ChangeLabel("subject\n")
	require.False(t, ok)
}

// newMergeFixture builds a target that merged two branches which changed
// b/y in conflicting ways.
func newMergeFixture(t *testing.T) (*testRepo, plumbing.Hash, plumbing.Hash) {
	r := newTestRepo(t)
	c1 := r.commit("one", map[string]string{"a/x": "1", "b/y": "2"})
	c2 := r.commit("two", map[string]string{"a/x": "1b", "b/y": "2b"}, c1)
	c3 := r.commit("three", map[string]string{"a/x": "1z", "b/y": "3"}, c1)
	target := r.commit("merge", map[string]string{"a/x": "1b", "b/y": "2b"}, c2, c3)

	fm := r.apply(":/a", target)
	fc2 := r.apply(":/a", c2)
	fc3 := r.apply(":/a", c3)
	require.Equal(t, []plumbing.Hash{fc2, fc3}, r.getCommit(fm).ParentHashes)

	pushed := r.commit("remerge", map[string]string{"x": "m"}, fc2, fc3)
	return r, target, pushed
}

func TestUnapplyFilterRejectsAmbiguousMerge(t *testing.T) {
	r, target, pushed := newMergeFixture(t)
	f := r.parse(":/a")
	_, err := UnapplyFilter(r.tx, f, target, r.apply(":/a", target), pushed, UnapplyOptions{})
	require.Error(t, err)
	require.True(t, jerr.Is(err, jerr.RejectingMerge), "%v", err)
}

func TestUnapplyFilterMergeOption(t *testing.T) {
	r, target, pushed := newMergeFixture(t)
	f := r.parse(":/a")
	result, err := UnapplyFilter(r.tx, f, target, r.apply(":/a", target), pushed, UnapplyOptions{Merge: true})
	require.NoError(t, err)

	commit := r.getCommit(result)
	require.Equal(t, 2, commit.NumParents())
	require.Equal(t, target, commit.ParentHashes[0])
	require.Equal(t, map[string]string{"a/x": "m", "b/y": "2b"}, r.files(commit.TreeHash))
}

func TestUnapplyFilterUnrelated(t *testing.T) {
	r := newPushFixture(t)
	f := r.parse(":/a")
	orphan := r.commit("orphan", map[string]string{"x": "o"})

	_, err := UnapplyFilter(r.tx, f, r.c2, r.fc2, orphan, UnapplyOptions{})
	require.ErrorIs(t, err, ErrUnrelatedHistory)

	result, err := UnapplyFilter(r.tx, f, r.c2, r.fc2, orphan, UnapplyOptions{AllowUnrelated: true})
	require.NoError(t, err)
	require.Zero(t, r.getCommit(result).NumParents())
	require.Equal(t, map[string]string{"a/x": "o"}, r.commitFiles(result))

	reparented, err := UnapplyFilter(r.tx, f, r.c2, r.fc2, orphan, UnapplyOptions{ReparentOrphans: true})
	require.NoError(t, err)
	commit := r.getCommit(reparented)
	require.Equal(t, []plumbing.Hash{r.c2}, commit.ParentHashes)
	require.Equal(t, map[string]string{"a/x": "o", "b/y": "2"}, r.files(commit.TreeHash))
}

// newOrphanPush pushes a merge of the filtered head with a root commit.
func newOrphanPush(t *testing.T, side map[string]string) (*pushFixture, plumbing.Hash) {
	r := newPushFixture(t)
	root := r.commit("side", side)
	return r, r.commit("merge side", map[string]string{"x": "m"}, r.fc2, root)
}

func TestUnapplyFilterOrphans(t *testing.T) {
	r, pushed := newOrphanPush(t, map[string]string{})
	kept, err := UnapplyFilter(r.tx, r.parse(":/a"), r.c2, r.fc2, pushed, UnapplyOptions{Orphans: OrphansKeep})
	require.NoError(t, err)
	commit := r.getCommit(kept)
	require.Equal(t, 2, commit.NumParents())
	require.Equal(t, r.c2, commit.ParentHashes[0])
	require.True(t, gittree.IsEmpty(r.getCommit(commit.ParentHashes[1]).TreeHash))
	require.Equal(t, map[string]string{"a/x": "m", "b/y": "2"}, r.files(commit.TreeHash))

	r, pushed = newOrphanPush(t, map[string]string{})
	removed, err := UnapplyFilter(r.tx, r.parse(":/a"), r.c2, r.fc2, pushed, UnapplyOptions{Orphans: OrphansRemove})
	require.NoError(t, err)
	commit = r.getCommit(removed)
	require.Equal(t, []plumbing.Hash{r.c2}, commit.ParentHashes)
	require.Equal(t, map[string]string{"a/x": "m", "b/y": "2"}, r.files(commit.TreeHash))

	r, pushed = newOrphanPush(t, map[string]string{})
	_, err = UnapplyFilter(r.tx, r.parse(":/a"), r.c2, r.fc2, pushed, UnapplyOptions{Orphans: OrphansFail})
	require.ErrorIs(t, err, ErrOrphanParent)

	// a parent without common history is no orphan when it has content
	// under the filter
	r, pushed = newOrphanPush(t, map[string]string{"x": "s"})
	result, err := UnapplyFilter(r.tx, r.parse(":/a"), r.c2, r.fc2, pushed, UnapplyOptions{Orphans: OrphansFail})
	require.NoError(t, err)
	commit = r.getCommit(result)
	require.Equal(t, 2, commit.NumParents())
	require.Equal(t, map[string]string{"a/x": "m", "b/y": "2"}, r.files(commit.TreeHash))
}
