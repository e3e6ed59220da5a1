package josh

import (
	"math/rand"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/josh-project/josh-sub000/filter"
	"github.com/josh-project/josh-sub000/gittree"
	"github.com/josh-project/josh-sub000/jerr"
)

func TestApplyTree(t *testing.T) {
	input := map[string]string{
		"a/x":     "1",
		"a/y":     "2",
		"b/z":     "3",
		"c.txt":   "t",
		"d/e.txt": "u",
	}

	tests := []struct {
		spec string
		want map[string]string
	}{
		{":/", input},
		{":empty", map[string]string{}},
		{":/a", map[string]string{"x": "1", "y": "2"}},
		{":/a:prefix=p", map[string]string{"p/x": "1", "p/y": "2"}},
		{"::b/z", map[string]string{"b/z": "3"}},
		{"::z=b/z", map[string]string{"z": "3"}},
		{"::a/", map[string]string{"a/x": "1", "a/y": "2"}},
		{"::*.txt", map[string]string{"c.txt": "t"}},
		{"::**/*.txt", map[string]string{"c.txt": "t", "d/e.txt": "u"}},
		{":exclude[:/a]", map[string]string{"b/z": "3", "c.txt": "t", "d/e.txt": "u"}},
		{":exclude[::a/x,::*.txt]", map[string]string{"a/y": "2", "b/z": "3", "d/e.txt": "u"}},
		{":subtract[::a/,::a/x]", map[string]string{"a/y": "2"}},
		// the file taken by the first entry is not repeated by the second
		{":[::a/x,:/a]", map[string]string{"a/x": "1", "y": "2"}},
		{":[:/a:prefix=l,:/b:prefix=l]", map[string]string{"l/x": "1", "l/y": "2", "l/z": "3"}},
		{":/b:PATHS", map[string]string{"z": "z"}},
		{`:/a:replace("1":"one")`, map[string]string{"x": "one", "y": "2"}},
		{":linear:unsign:/b", map[string]string{"z": "3"}},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			r := newTestRepo(t)
			got := r.applyTree(tt.spec, input)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("apply %s (-want +got):\n%s", tt.spec, diff)
			}
		})
	}
}

func TestApplyTreeIndex(t *testing.T) {
	r := newTestRepo(t)
	got := r.applyTree(":INDEX", map[string]string{"a": "abcd", "bin": "ab\x00cd"})
	want := map[string]string{
		"61/6263": "a\n",
		"62/6364": "a\n",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("index (-want +got):\n%s", diff)
	}
}

func TestApplyTreeRejectsHistoryOps(t *testing.T) {
	r := newTestRepo(t)
	tree := r.tree(map[string]string{"a": "1"})
	for _, spec := range []string{":FOLD", ":hook=review", ":squash(main:/a)"} {
		_, err := ApplyTree(r.tx, r.parse(spec), tree)
		require.Error(t, err, spec)
		require.True(t, jerr.Is(err, jerr.NotApplicableToTree), "%s: %v", spec, err)
	}
}

func TestApplyInvertSelectsSameRegion(t *testing.T) {
	r := newTestRepo(t)
	tree := r.tree(map[string]string{
		"a/x":   "1",
		"a/b/y": "2",
		"c":     "3",
	})
	for _, spec := range []string{":/a", ":prefix=p", ":/a:prefix=q", "::a/x", "::b=c", ":[:/a:prefix=l,::c]"} {
		f := r.parse(spec)
		inv, err := r.store.Invert(f)
		require.NoError(t, err, spec)

		filtered, err := ApplyTree(r.tx, f, tree)
		require.NoError(t, err)
		back, err := ApplyTree(r.tx, inv, filtered)
		require.NoError(t, err)
		again, err := ApplyTree(r.tx, f, back)
		require.NoError(t, err)
		require.Equal(t, filtered, again, spec)
	}
}

func TestApplyMessage(t *testing.T) {
	r := newTestRepo(t)
	h := r.commit("fix bug", map[string]string{"VERSION": "1.2"})
	state := NewRewriteState(r.getCommit(h))

	got, err := Apply(r.tx, r.parse(`:"[{x}]";"(?P<x>fix)"`), state)
	require.NoError(t, err)
	require.Equal(t, "[fix] bug\n", got.Message)

	got, err = Apply(r.tx, r.parse(`:"release {/VERSION} of {@}"`), state)
	require.NoError(t, err)
	require.Equal(t, "release 1.2 of "+h.String(), got.Message)

	got, err = Apply(r.tx, r.parse(`:"x";"nomatch"`), state)
	require.NoError(t, err)
	require.Equal(t, state.Message, got.Message)

	got, err = Apply(r.tx, r.parse(`:author="Jane";"jane@example.com":committer="Joe";"joe@example.com"`), state)
	require.NoError(t, err)
	require.Equal(t, "Jane", got.Author.Name)
	require.Equal(t, "jane@example.com", got.Author.Email)
	require.Equal(t, "Joe", got.Committer.Name)
	require.Equal(t, state.Author.When, got.Author.When)
	require.Equal(t, state.Tree, got.Tree)
}

func TestApplyWorkspace(t *testing.T) {
	r := newTestRepo(t)
	got := r.applyTree(":workspace=ws", map[string]string{
		"ws/workspace.josh": "lib = :/libs/a\n",
		"ws/main.c":         "m",
		"libs/a/f":          "lib",
		"libs/b/g":          "other",
	})
	want := map[string]string{
		"workspace.josh": "lib = :/libs/a\n",
		"main.c":         "m",
		"lib/f":          "lib",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("workspace (-want +got):\n%s", diff)
	}

	broken := r.applyTree(":workspace=ws", map[string]string{
		"ws/workspace.josh": "lib = :/libs/a(\n",
		"ws/main.c":         "m",
		"libs/a/f":          "lib",
	})
	require.Equal(t, map[string]string{"workspace.josh": "lib = :/libs/a(\n", "main.c": "m"}, broken)
}

func TestApplyStored(t *testing.T) {
	r := newTestRepo(t)
	got := r.applyTree(":+filters/docs", map[string]string{
		"filters/docs.josh": ":/doc\n",
		"doc/readme":        "r",
		"src/main":          "m",
	})
	want := map[string]string{
		"filters/docs.josh": ":/doc\n",
		"readme":            "r",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("stored (-want +got):\n%s", diff)
	}
}

func TestUnapplyTree(t *testing.T) {
	r := newTestRepo(t)
	parent := r.tree(map[string]string{"a/x": "old", "a/y": "y", "c": "1"})

	filtered := r.tree(map[string]string{"b/x": "new"})
	h, err := Unapply(r.tx, r.parse(":/a:prefix=b"), filtered, parent)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a/x": "new", "c": "1"}, r.files(h))

	h, err = Unapply(r.tx, r.parse(":/a"), r.tree(map[string]string{"x": "new", "z": "z"}), parent)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a/x": "new", "a/z": "z", "c": "1"}, r.files(h))

	_, err = Unapply(r.tx, r.parse(":PATHS"), filtered, parent)
	require.True(t, jerr.Is(err, jerr.CannotUnapply), "%v", err)
}

func TestApplyNestedCompose(t *testing.T) {
	input := map[string]string{"a/y": "1", "b/q": "2", "c": "3"}
	tests := []struct {
		spec string
		want map[string]string
	}{
		{":[:[:/b,:/a],:prefix=a/x]", map[string]string{"q": "2", "y": "1", "a/x/c": "3"}},
		{":[:/b,:/a,:prefix=a/x]", map[string]string{"q": "2", "y": "1", "a/x/c": "3"}},
		{":subtract[:subtract[:prefix=c,:/b],:prefix=b/x]", map[string]string{}},
		{":subtract[:prefix=c,:[:/b,:prefix=b/x]]", map[string]string{}},
		{":exclude[:[:[::c,:/x],:/a]]", map[string]string{"b/q": "2"}},
	}
	for _, tt := range tests {
		r := newTestRepo(t)
		got := r.applyTree(tt.spec, input)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Fatalf("apply %s (-want +got):\n%s", tt.spec, diff)
		}
	}
}

// filterGen builds random path filters.
type filterGen struct {
	rnd   *rand.Rand
	store *filter.Store
}

var (
	genPaths = []string{"a", "b", "c", "a/x", "b/x", "x"}
	genGlobs = []string{"*.txt", "a/*", "**/z"}
)

func (g *filterGen) path() string {
	return genPaths[g.rnd.Intn(len(genPaths))]
}

func (g *filterGen) filter(depth int) filter.Filter {
	n := 4
	if depth > 0 {
		n = 8
	}
	switch g.rnd.Intn(n) {
	case 0:
		return g.store.Subdir(g.path())
	case 1:
		return g.store.Prefix(g.path())
	case 2:
		return g.store.Intern(filter.File{Dst: g.path(), Src: g.path()})
	case 3:
		return g.store.Intern(filter.Pattern{Glob: genGlobs[g.rnd.Intn(len(genGlobs))]})
	case 4:
		return g.store.Chain(g.filter(depth-1), g.filter(depth-1))
	case 5:
		children := make([]filter.Filter, 2+g.rnd.Intn(2))
		for i := range children {
			children[i] = g.filter(depth - 1)
		}
		return g.store.Compose(children...)
	case 6:
		return g.store.Exclude(g.filter(depth - 1))
	default:
		return g.store.Subtract(g.filter(depth-1), g.filter(depth-1))
	}
}

func TestOptimizeKeepsMeaning(t *testing.T) {
	r := newTestRepo(t)
	inputs := []map[string]string{
		{"a/y": "1", "b/q": "2", "c": "3"},
		{"a/x": "1", "a/y": "2", "b/q": "3", "b/x/z": "4", "c": "5", "d.txt": "6"},
	}
	var trees []plumbing.Hash
	for _, files := range inputs {
		trees = append(trees, r.tree(files))
	}

	g := &filterGen{rnd: rand.New(rand.NewSource(1)), store: r.store}
	for i := 0; i < 500; i++ {
		f := g.filter(3)
		o := r.store.Optimize(f)
		for _, tree := range trees {
			want, err := ApplyTree(r.tx, f, tree)
			require.NoError(t, err, r.store.Spec(f))
			got, err := ApplyTree(r.tx, o, tree)
			require.NoError(t, err, r.store.Spec(o))
			if want != got && !(gittree.IsEmpty(want) && gittree.IsEmpty(got)) {
				t.Fatalf("%s and its optimized form %s differ:\n%s",
					r.store.Spec(f), r.store.Spec(o), cmp.Diff(r.files(want), r.files(got)))
			}
		}
	}
}
