package josh

import (
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/require"

	"github.com/josh-project/josh-sub000/cache"
	"github.com/josh-project/josh-sub000/filter"
	"github.com/josh-project/josh-sub000/gittree"
)

type testRepo struct {
	t     *testing.T
	s     *memory.Storage
	store *filter.Store
	tx    *cache.Transaction
	when  time.Time
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	s := memory.NewStorage()
	store := filter.NewStore()
	tc, err := cache.NewTransactionContext(nil, store, nil)
	require.NoError(t, err)
	tx, err := tc.Open(s)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, tx.Close())
		require.NoError(t, tc.Close())
	})
	return &testRepo{
		t:     t,
		s:     s,
		store: store,
		tx:    tx,
		when:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (r *testRepo) tree(files map[string]string) plumbing.Hash {
	r.t.Helper()
	h, err := gittree.FromFiles(r.s, files)
	require.NoError(r.t, err)
	return h
}

func (r *testRepo) files(h plumbing.Hash) map[string]string {
	r.t.Helper()
	files, err := gittree.Files(r.s, h)
	require.NoError(r.t, err)
	return files
}

func (r *testRepo) commit(message string, files map[string]string, parents ...plumbing.Hash) plumbing.Hash {
	r.t.Helper()
	r.when = r.when.Add(time.Minute)
	sig := object.Signature{Name: "Test", Email: "test@example.com", When: r.when}
	c := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message + "\n",
		TreeHash:     r.tree(files),
		ParentHashes: parents,
	}
	h, err := gittree.WriteCommit(r.s, c)
	require.NoError(r.t, err)
	return h
}

func (r *testRepo) getCommit(h plumbing.Hash) *object.Commit {
	r.t.Helper()
	c, err := gittree.GetCommit(r.s, h)
	require.NoError(r.t, err)
	return c
}

func (r *testRepo) commitFiles(h plumbing.Hash) map[string]string {
	r.t.Helper()
	return r.files(r.getCommit(h).TreeHash)
}

func (r *testRepo) parse(spec string) filter.Filter {
	r.t.Helper()
	f, err := r.store.Parse(spec)
	require.NoError(r.t, err)
	return f
}

func (r *testRepo) apply(spec string, commit plumbing.Hash) plumbing.Hash {
	r.t.Helper()
	h, err := ApplyToCommit(r.tx, r.parse(spec), commit)
	require.NoError(r.t, err)
	return h
}

func (r *testRepo) applyTree(spec string, files map[string]string) map[string]string {
	r.t.Helper()
	h, err := ApplyTree(r.tx, r.parse(spec), r.tree(files))
	require.NoError(r.t, err)
	return r.files(h)
}
