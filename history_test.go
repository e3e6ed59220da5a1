package josh

import (
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/josh-project/josh-sub000/cache"
	"github.com/josh-project/josh-sub000/gittree"
	"github.com/josh-project/josh-sub000/jerr"
)

func TestGetDFSPath(t *testing.T) {
	r := newTestRepo(t)
	c1 := r.commit("one", map[string]string{"a": "1"})
	c2 := r.commit("two", map[string]string{"a": "2"}, c1)
	c3 := r.commit("three", map[string]string{"a": "3"}, c1)
	m := r.commit("merge", map[string]string{"a": "4"}, c2, c3)

	path, err := GetDFSPath(r.s, m, nil)
	require.NoError(t, err)
	var got []plumbing.Hash
	for _, c := range path {
		got = append(got, c.Hash)
	}
	require.Equal(t, []plumbing.Hash{c1, c2, c3, m}, got)

	path, err = GetDFSPath(r.s, m, func(h plumbing.Hash) bool { return h == c2 })
	require.NoError(t, err)
	got = got[:0]
	for _, c := range path {
		got = append(got, c.Hash)
	}
	require.Equal(t, []plumbing.Hash{c1, c3, m}, got)

	dangling := r.commit("dangling", map[string]string{"a": "5"}, plumbing.NewHash("0123456789abcdef0123456789abcdef01234567"))
	_, err = GetDFSPath(r.s, dangling, nil)
	require.True(t, jerr.Is(err, "cannot get parent 0"), "%v", err)
}

func TestApplyToCommitSubdir(t *testing.T) {
	r := newTestRepo(t)
	c1 := r.commit("one", map[string]string{"a/x": "1", "b/y": "1"})
	c2 := r.commit("only b", map[string]string{"a/x": "1", "b/y": "2"}, c1)
	c3 := r.commit("three", map[string]string{"a/x": "3", "b/y": "2"}, c2)

	f1 := r.apply(":/a", c1)
	f2 := r.apply(":/a", c2)
	f3 := r.apply(":/a", c3)

	require.Equal(t, map[string]string{"x": "1"}, r.commitFiles(f1))
	require.Zero(t, r.getCommit(f1).NumParents())
	// a commit that does not change the filtered tree is dropped
	require.Equal(t, f1, f2)
	require.Equal(t, []plumbing.Hash{f1}, r.getCommit(f3).ParentHashes)
	require.Equal(t, "three\n", r.getCommit(f3).Message)

	// nop keeps the commit, an empty filter drops everything
	require.Equal(t, c3, r.apply(":/", c3))
	require.True(t, r.apply(":empty", c3).IsZero())
	require.True(t, r.apply(":/missing", c3).IsZero())

	// results are recorded in the transaction
	got, found := r.tx.Lookup(r.parse(":/a"), c2)
	require.True(t, found)
	require.Equal(t, f1, got)
}

func TestApplyToCommitKeepsUnchangedCommits(t *testing.T) {
	r := newTestRepo(t)
	c1 := r.commit("one", map[string]string{"a": "1"})
	c2 := r.commit("two", map[string]string{"a": "2"}, c1)
	require.Equal(t, c2, r.apply(":[:/,:empty]", c2))
	require.Equal(t, c1, r.getCommit(r.apply(":[:/,:empty]", c2)).ParentHashes[0])
}

func TestApplyToCommitUnsign(t *testing.T) {
	r := newTestRepo(t)
	base := r.getCommit(r.commit("one", map[string]string{"a": "1"}))
	signed := &object.Commit{
		Author:       base.Author,
		Committer:    base.Committer,
		Message:      base.Message,
		TreeHash:     base.TreeHash,
		PGPSignature: "-----BEGIN PGP SIGNATURE-----\n\nabc\n-----END PGP SIGNATURE-----\n",
	}
	h, err := gittree.WriteCommit(r.s, signed)
	require.NoError(t, err)

	require.Equal(t, h, r.apply(":/", h))
	unsigned := r.apply(":unsign", h)
	require.NotEqual(t, h, unsigned)
	require.Empty(t, r.getCommit(unsigned).PGPSignature)
	require.Equal(t, base.Hash, unsigned)

	removed, err := RemoveSignature(r.s, r.getCommit(h))
	require.NoError(t, err)
	require.Equal(t, base.Hash, removed)
}

func TestApplyToCommitLinear(t *testing.T) {
	r := newTestRepo(t)
	c1 := r.commit("one", map[string]string{"a": "1"})
	c2 := r.commit("two", map[string]string{"a": "2"}, c1)
	c3 := r.commit("three", map[string]string{"b": "3"}, c1)
	m := r.commit("merge", map[string]string{"a": "2", "b": "3"}, c2, c3)

	lm := r.apply(":linear", m)
	commit := r.getCommit(lm)
	require.Equal(t, 1, commit.NumParents())
	require.Equal(t, r.apply(":linear", c2), commit.ParentHashes[0])
	require.Equal(t, map[string]string{"a": "2", "b": "3"}, r.files(commit.TreeHash))
}

func TestApplyToCommitSquash(t *testing.T) {
	r := newTestRepo(t)
	c1 := r.commit("one", map[string]string{"a/x": "1"})
	c2 := r.commit("two", map[string]string{"a/x": "2"}, c1)
	c3 := r.commit("three", map[string]string{"a/x": "3"}, c2)

	f := ":squash(" + c2.String() + ":/a)"
	s3 := r.apply(f, c3)
	require.Equal(t, r.apply(f, c2), s3)
	squashed := r.getCommit(s3)
	require.Zero(t, squashed.NumParents())
	require.Equal(t, map[string]string{"x": "2"}, r.files(squashed.TreeHash))
	require.Equal(t, "two\n", squashed.Message)
	require.True(t, r.apply(f, c1).IsZero())

	all := r.getCommit(r.apply(":SQUASH", c3))
	require.Zero(t, all.NumParents())
	require.Equal(t, r.getCommit(c3).TreeHash, all.TreeHash)
}

func TestApplyToCommitRev(t *testing.T) {
	r := newTestRepo(t)
	c1 := r.commit("one", map[string]string{"a/x": "1", "b": "1"})
	c2 := r.commit("two", map[string]string{"a/x": "2", "b": "2"}, c1)
	c3 := r.commit("three", map[string]string{"a/x": "3", "b": "3"}, c2)

	f := ":rev(" + c2.String() + ":/a)"
	got := r.getCommit(r.apply(f, c3))
	require.Equal(t, r.getCommit(c3).TreeHash, got.TreeHash)
	require.Equal(t, []plumbing.Hash{r.apply(":/a", c2)}, got.ParentHashes)
	require.Equal(t, r.apply(":/a", c1), r.apply(f, c1))

	_, err := ApplyToCommit(r.tx, r.parse(":rev(main:/a)"), c3)
	require.True(t, jerr.Is(err, jerr.UnresolvedLazyRef), "%v", err)
}

func TestApplyToCommitWorkspaceChange(t *testing.T) {
	r := newTestRepo(t)
	c1 := r.commit("one", map[string]string{
		"ws/workspace.josh": "",
		"ws/main.c":         "m",
		"libs/a/f":          "lib",
	})
	c2 := r.commit("add lib", map[string]string{
		"ws/workspace.josh": "lib = :/libs/a\n",
		"ws/main.c":         "m",
		"libs/a/f":          "lib",
	}, c1)

	w1 := r.apply(":workspace=ws", c1)
	require.Equal(t, map[string]string{"workspace.josh": "", "main.c": "m"}, r.commitFiles(w1))

	w2 := r.getCommit(r.apply(":workspace=ws", c2))
	require.Equal(t, map[string]string{
		"workspace.josh": "lib = :/libs/a\n",
		"main.c":         "m",
		"lib/f":          "lib",
	}, r.files(w2.TreeHash))
	// the history of the newly mapped directory comes in as a second parent
	require.Equal(t, 2, w2.NumParents())
	require.Equal(t, w1, w2.ParentHashes[0])
	require.Equal(t, map[string]string{"lib/f": "lib"}, r.commitFiles(w2.ParentHashes[1]))
}

func TestApplyToCommitWorkspacePin(t *testing.T) {
	r := newTestRepo(t)
	ws := func(workspace, main, lib string) map[string]string {
		return map[string]string{
			"ws/workspace.josh": workspace,
			"ws/main.c":         main,
			"libs/a/f":          lib,
		}
	}
	plain := "lib = :/libs/a\n"
	pinned := "lib = :/libs/a\n:pin[::lib/]\n"
	c1 := r.commit("one", ws(plain, "m1", "v1"))
	c2 := r.commit("pin lib", ws(pinned, "m2", "v2"), c1)
	c3 := r.commit("still pinned", ws(pinned, "m3", "v3"), c2)
	c4 := r.commit("unpin", ws(plain, "m4", "v4"), c3)

	w1 := r.apply(":workspace=ws", c1)
	require.Equal(t, map[string]string{"workspace.josh": plain, "main.c": "m1", "lib/f": "v1"}, r.commitFiles(w1))

	// pinned paths keep the content of the first filtered parent
	w2 := r.getCommit(r.apply(":workspace=ws", c2))
	require.Equal(t, w1, w2.ParentHashes[0])
	require.Equal(t, map[string]string{"workspace.josh": pinned, "main.c": "m2", "lib/f": "v1"}, r.files(w2.TreeHash))

	w3 := r.getCommit(r.apply(":workspace=ws", c3))
	require.Equal(t, w2.Hash, w3.ParentHashes[0])
	require.Equal(t, map[string]string{"workspace.josh": pinned, "main.c": "m3", "lib/f": "v1"}, r.files(w3.TreeHash))

	w4 := r.getCommit(r.apply(":workspace=ws", c4))
	require.Equal(t, w3.Hash, w4.ParentHashes[0])
	require.Equal(t, map[string]string{"workspace.josh": plain, "main.c": "m4", "lib/f": "v4"}, r.files(w4.TreeHash))
}

func TestApplyToCommitHook(t *testing.T) {
	r := newTestRepo(t)
	c1 := r.commit("one", map[string]string{"a/x": "1", "b": "1"})
	require.NoError(t, cache.WriteHookNote(r.s, "refs/notes/josh-hook", "review", c1, ":/a"))

	require.Equal(t, r.apply(":/a", c1), r.apply(":hook=review", c1))
}

func TestWalkDependsOnParents(t *testing.T) {
	r := newTestRepo(t)
	for spec, want := range map[string]bool{
		":/a":              true,
		":empty":           false,
		":SQUASH":          false,
		":squash(main:/a)": true,
		":invert[:/a]":     false,
		":~(a=\"b\")[:/a]": false,
		":linear":          true,
	} {
		require.Equal(t, want, dependsOnParents(r.store, r.parse(spec)), spec)
	}
}

func TestFilterCommitPermissions(t *testing.T) {
	r := newTestRepo(t)
	c1 := r.commit("one", map[string]string{"a/x": "1", "secret/k": "k"})

	_, err := FilterCommit(r.tx, r.parse(":/a"), c1, r.parse(":/secret"))
	require.True(t, jerr.Is(err, jerr.MissingPermissions), "%v", err)

	got, err := FilterCommit(r.tx, r.parse(":/a"), c1, r.parse(":/public"))
	require.NoError(t, err)
	require.Equal(t, map[string]string{"x": "1"}, r.commitFiles(got))

	got2, err := FilterCommit(r.tx, r.parse(":/a"), c1, r.store.Empty())
	require.NoError(t, err)
	require.Equal(t, got, got2)
}

func persistedRows(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "josh_cache_persisted_rows_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestFilterCommitPersistsResultOnce(t *testing.T) {
	r := newTestRepo(t)
	reg := prometheus.NewRegistry()
	tc, err := cache.NewTransactionContext(&cache.Config{Backends: []cache.Backend{cache.BackendMemory}}, r.store, reg)
	require.NoError(t, err)
	defer tc.Close()
	tx, err := tc.Open(r.s)
	require.NoError(t, err)

	c1 := r.commit("one", map[string]string{"a/x": "1"})
	f := r.parse(":/a")
	first, err := FilterCommit(tx, f, c1, r.store.Empty())
	require.NoError(t, err)
	before := persistedRows(t, reg)

	second, err := FilterCommit(tx, f, c1, r.store.Empty())
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, before+1, persistedRows(t, reg))
}

func TestFilterRefs(t *testing.T) {
	r := newTestRepo(t)
	c1 := r.commit("one", map[string]string{"a/x": "1"})
	require.NoError(t, r.s.SetReference(plumbing.NewHashReference("refs/heads/main", c1)))

	h, err := ResolveRevision(r.s, "main")
	require.NoError(t, err)
	require.Equal(t, c1, h)
	h, err = ResolveRevision(r.s, c1.String())
	require.NoError(t, err)
	require.Equal(t, c1, h)

	refs := []*plumbing.Reference{
		plumbing.NewHashReference("refs/heads/main", c1),
		plumbing.NewHashReference("refs/heads/broken", gittree.BlobHash([]byte("nothing"))),
		plumbing.NewSymbolicReference("HEAD", "refs/heads/main"),
	}
	updates, errs := FilterRefs(r.tx, r.parse(":/a"), refs, r.store.Empty())
	require.Len(t, updates, 1)
	require.Equal(t, RefUpdate{Name: "refs/heads/main", Original: c1, Filtered: r.apply(":/a", c1)}, updates[0])
	require.Len(t, errs, 1)
	require.Equal(t, plumbing.ReferenceName("refs/heads/broken"), errs[0].Name)

	f, err := ResolveLazyRefs(r.store, r.s, r.parse(":rev(main:/a)"))
	require.NoError(t, err)
	require.Equal(t, ":rev("+c1.String()+":/a)", r.store.Spec(f))
}

func TestCheckChangesAgainstFilter(t *testing.T) {
	r := newTestRepo(t)
	from := r.tree(map[string]string{"a/x": "1", "b/y": "2"})
	inside := r.tree(map[string]string{"a/x": "2", "b/y": "2"})
	outside := r.tree(map[string]string{"a/x": "2", "b/y": "3"})

	result, err := CheckChangesAgainstFilter(r.tx, r.parse(":/a"), from, inside)
	require.NoError(t, err)
	require.NoError(t, result.ToError())

	result, err = CheckChangesAgainstFilter(r.tx, r.parse(":/a"), from, outside)
	require.NoError(t, err)
	require.Equal(t, []*FilePatchError{{FromFile: "b/y", ToFile: "b/y"}}, result.Errors)
	require.Error(t, result.ToError())
}
