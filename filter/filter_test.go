package filter

import (
	"errors"
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/josh-project/josh-sub000/gittree"
	"github.com/josh-project/josh-sub000/jerr"
)

var specs = []string{
	":/",
	":empty",
	":/a",
	":/a/b:prefix=c",
	":prefix=x",
	"::a/b",
	"::dst=src/file",
	"::*.txt",
	":[:/x:prefix=a,:/y:prefix=b]",
	":exclude[::a/b]",
	":exclude[:/a,:/b]",
	":pin[:/a]",
	":invert[:/a]",
	":subtract[:/a,:/b]",
	":workspace=ws",
	":+stored/filter",
	":SQUASH",
	":squash(main:/a,other:/)",
	":rev(0123456789012345678901234567890123456789:/a)",
	":concat(base:prefix=x)",
	`:"{#} {@}"`,
	`:"subject";"(?P<x>.*)"`,
	`:author="Jane";"jane@example.com"`,
	`:committer="Joe";"joe@example.com"`,
	":linear:unsign:prune=trivial-merge",
	":PATHS:INDEX",
	":FOLD",
	":hook=review",
	`:replace("a+":"b","c":"d")`,
	`:~(owner="me",team="core")[:/a]`,
	`:/"with space"`,
}

func TestSpecRoundTrip(t *testing.T) {
	s := NewStore()
	for _, text := range specs {
		t.Run(text, func(t *testing.T) {
			f, err := s.Parse(text)
			require.NoError(t, err)
			spec := s.Spec(f)
			g, err := s.Parse(spec)
			require.NoError(t, err)
			require.Equal(t, f, g, "spec %q", spec)
			require.Equal(t, spec, s.Spec(g))
		})
	}
}

func TestParseForms(t *testing.T) {
	s := NewStore()
	cases := []struct {
		text string
		want Filter
	}{
		{"", s.Nop()},
		{":/", s.Nop()},
		{":/a/", s.Subdir("a")},
		{"::a/", s.Chain(s.Subdir("a"), s.Prefix("a"))},
		{"::dst=src", s.Intern(File{Dst: "dst", Src: "src"})},
		{"::src/*.go", s.Intern(Pattern{Glob: "src/*.go"})},
		{`::"a*b"`, s.File("a*b")},
		{":[\n  x = :/a\n  # comment\n  :/b\n]", s.Compose(s.Chain(s.Subdir("a"), s.Prefix("x")), s.Subdir("b"))},
		{":exclude[:/a,:/b]", s.Exclude(s.Compose(s.Subdir("a"), s.Subdir("b")))},
	}
	for _, c := range cases {
		f, err := s.Parse(c.text)
		require.NoError(t, err, c.text)
		require.Equal(t, s.Spec(c.want), s.Spec(f), c.text)
		require.Equal(t, c.want, f, c.text)
	}
}

func TestParseErrors(t *testing.T) {
	s := NewStore()
	for _, text := range []string{
		":unknown",
		":[:/a",
		":subtract[:/a]",
		":prune=all",
		":/a ]",
		`:replace("(":"x")`,
		":squash(:/a)",
	} {
		_, err := s.Parse(text)
		require.Error(t, err, text)
		require.True(t, jerr.Is(err, jerr.InvalidFilter), "%q: %v", text, err)
	}
}

func TestParseList(t *testing.T) {
	s := NewStore()
	f, err := s.ParseList("lib = :/libs/core\n\n# tools\n:/tools\n")
	require.NoError(t, err)
	want := s.Compose(s.Chain(s.Subdir("libs/core"), s.Prefix("lib")), s.Subdir("tools"))
	require.Equal(t, want, f)

	empty, err := s.ParseList("# nothing\n")
	require.NoError(t, err)
	require.Equal(t, s.Empty(), empty)
}

func TestInternIsContentAddressed(t *testing.T) {
	s1, s2 := NewStore(), NewStore()
	a := s1.Chain(s1.Subdir("a"), s1.Prefix("b"))
	b := s2.Chain(s2.Subdir("a/"), s2.Prefix("/b"))
	require.Equal(t, a, b)
	require.NotEqual(t, s1.Subdir("a"), s1.Prefix("a"))
}

func TestOpPanicsOnUnknownFilter(t *testing.T) {
	s := NewStore()
	other := NewStore().Subdir("only/in/other")
	require.Panics(t, func() { s.Op(other) })
}

func TestAsTreeFromTree(t *testing.T) {
	s := NewStore()
	st := memory.NewStorage()
	for _, text := range specs {
		f := s.MustParse(text)
		h, err := s.AsTree(st, f)
		require.NoError(t, err, text)
		require.Equal(t, f.Hash(), h, text)

		fresh := NewStore()
		g, err := fresh.FromTree(st, h)
		require.NoError(t, err, text)
		require.Equal(t, f, g, text)
		require.Equal(t, s.Spec(f), fresh.Spec(g), text)
	}
}

func TestOptimizePrefixSubdir(t *testing.T) {
	s := NewStore()
	cases := map[string]string{
		":prefix=a:/a":              ":/",
		":prefix=a:/b":              ":empty",
		":prefix=a/b:/a":            ":prefix=b",
		":prefix=a:/a/b":            ":/b",
		":/a:/b":                    ":/a/b",
		":prefix=a:prefix=b":        ":prefix=b/a",
		":/a:empty":                 ":empty",
		":empty:/a":                 ":empty",
		":exclude[:empty]":          ":/",
		":exclude[:/]":              ":empty",
		":subtract[:/a,:/a]":        ":empty",
		":subtract[:[:/a,:/b],:/a]": ":subtract[:[:/a,:/b],:/a]",
		":invert[:/a:prefix=b]":     ":/b:prefix=a",
		":[:/a,:empty,:/a]":         ":/a",
		":[:/,:/a]":                 ":/",
		":~()[:/a]":                 ":/a",
	}
	for in, want := range cases {
		got := s.Spec(s.Optimize(s.MustParse(in)))
		require.Equal(t, want, got, in)
	}

	// children writing to separate paths can be dropped from the compose
	got := s.Spec(s.Optimize(s.MustParse(":subtract[:[:/a:prefix=x,:/b:prefix=y],:/a:prefix=x]")))
	require.Equal(t, ":subtract[:/b:prefix=y,:/a:prefix=x]", got)
}

func TestOptimizeIsIdempotent(t *testing.T) {
	s := NewStore()
	for _, text := range append(specs,
		":[:/a:prefix=x,:/b:prefix=x]",
		":[a = :/x,b = :/y,c = :/z:exclude[::f]]",
		":/a:[:/b,:/c]:prefix=d:prefix=e",
		":subtract[:subtract[:/a,:/b],:/c]",
	) {
		f := s.MustParse(text)
		o := s.Optimize(f)
		require.Equal(t, o, s.Optimize(o), text)
		require.Equal(t, o, s.step(s.simplify(s.flatten(o))), text)
	}
}

func TestOptimizeComposeIsOrderIndependent(t *testing.T) {
	s := NewStore()
	a := s.Optimize(s.MustParse(":[a = :/x,b = :/y,c = ::z/f]"))
	b := s.Optimize(s.MustParse(":[c = ::z/f,b = :/y,a = :/x]"))
	require.Equal(t, s.Spec(a), s.Spec(b))

	// overlapping children keep their order
	c := s.Optimize(s.MustParse(":[:/x:prefix=a,:/x/y:prefix=b]"))
	d := s.Optimize(s.MustParse(":[:/x/y:prefix=b,:/x:prefix=a]"))
	require.NotEqual(t, c, d)
}

func TestOptimizeGroupsCompose(t *testing.T) {
	s := NewStore()
	f := s.Optimize(s.MustParse(":[:/a:prefix=x,:/b:prefix=x]"))
	require.Equal(t, ":[:/a,:/b]:prefix=x", s.Spec(f))
}

func TestInvert(t *testing.T) {
	s := NewStore()
	cases := map[string]string{
		":/a":                ":prefix=a",
		":prefix=a":          ":/a",
		"::dst=src":          "::src=dst",
		"::*.go":             "::*.go",
		":/a:prefix=b":       ":/b:prefix=a",
		":[:/a,:/b]":         ":[:prefix=a,:prefix=b]",
		":exclude[:/a]":      ":exclude[:prefix=a]",
		`:author="a";"b":/x`: ":prefix=x:/",
		":SQUASH":            ":/",
		":invert[:/a]":       ":/a",
	}
	for in, want := range cases {
		inv, err := s.Invert(s.MustParse(in))
		require.NoError(t, err, in)
		require.Equal(t, want, s.Spec(inv), in)
	}

	for _, in := range []string{":workspace=ws", ":hook=h", ":squash(x:/)", ":rev(x:/a)", ":FOLD", ":/a:INDEX"} {
		_, err := s.Invert(s.MustParse(in))
		require.Error(t, err, in)
		require.True(t, jerr.Is(err, jerr.NoInvert), in)

		// failures are memoized too
		_, err = s.Invert(s.MustParse(in))
		require.True(t, jerr.Is(err, jerr.NoInvert), in)
	}
}

func TestPrettyParsesBack(t *testing.T) {
	s := NewStore()
	f := s.MustParse(":[a = :/x,b = :/y:exclude[::f,::g]]")
	pretty := s.Pretty(f, 0)
	want := ":[\n    a = :/x\n    b = :/y:exclude[\n        ::f\n        ::g\n    ]\n]"
	if diff := cmp.Diff(want, pretty); diff != "" {
		t.Fatalf("pretty mismatch (-want +got):\n%s", diff)
	}
	g, err := s.Parse(pretty)
	require.NoError(t, err)
	require.Equal(t, f, g)
}

func TestResolveRefs(t *testing.T) {
	s := NewStore()
	f := s.MustParse(":[:rev(main:/a),:squash(dev:/,main:/b)]")
	require.Equal(t, []string{"dev", "main"}, s.LazyRefs(f))

	oids := map[string]plumbing.Hash{
		"main": plumbing.NewHash("1111111111111111111111111111111111111111"),
		"dev":  plumbing.NewHash("2222222222222222222222222222222222222222"),
	}
	resolved, err := s.ResolveRefs(f, func(name string) (plumbing.Hash, error) {
		oid, found := oids[name]
		if !found {
			return plumbing.ZeroHash, errors.New("not found")
		}
		return oid, nil
	})
	require.NoError(t, err)
	require.Empty(t, s.LazyRefs(resolved))
	require.Equal(t,
		":[:rev(1111111111111111111111111111111111111111:/a),:squash(2222222222222222222222222222222222222222:/,1111111111111111111111111111111111111111:/b)]",
		s.Spec(resolved))

	_, err = s.ResolveRefs(s.MustParse(":rev(gone:/a)"), func(string) (plumbing.Hash, error) {
		return plumbing.ZeroHash, errors.New("not found")
	})
	require.True(t, jerr.Is(err, jerr.UnresolvedLazyRef), "%v", err)
}

func TestPathTrie(t *testing.T) {
	tr := newPathTrie()
	tr.insert("a", 0)
	tr.insert("a/b", 1)
	tr.insert("c", 2)
	tr.insert("", 3)
	tr.insert("a/b/c", 4)

	require.Equal(t, []int{0, 1, 3, 4}, tr.overlapping("a/b"))
	require.Equal(t, []int{2, 3}, tr.overlapping("c"))
	require.Equal(t, []int{0, 1, 2, 3, 4}, tr.overlapping(""))
	require.Equal(t, []int{3}, tr.overlapping("d/e"))
}

func commitOn(t *testing.T, st *memory.Storage, msg string, parents ...plumbing.Hash) plumbing.Hash {
	t.Helper()
	sig := object.Signature{Name: "t", Email: "t@example.com", When: time.Unix(1700000000, 0).UTC()}
	c := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      msg,
		TreeHash:     gittree.EmptyTree,
		ParentHashes: parents,
	}
	h, err := gittree.WriteCommit(st, c)
	require.NoError(t, err)
	return h
}

func TestIsAncestorOf(t *testing.T) {
	st := memory.NewStorage()
	root := commitOn(t, st, "root")
	left := commitOn(t, st, "left", root)
	right := commitOn(t, st, "right", root)
	merge := commitOn(t, st, "merge", left, right)
	other := commitOn(t, st, "other")

	s := NewStore()
	for _, c := range []struct {
		anc, tip plumbing.Hash
		want     bool
	}{
		{root, merge, true},
		{right, merge, true},
		{merge, merge, true},
		{merge, left, false},
		{right, left, false},
		{other, merge, false},
		{root, left, true},
	} {
		got, err := s.IsAncestorOf(st, c.anc, c.tip)
		require.NoError(t, err)
		require.Equal(t, c.want, got, "%s in %s", c.anc, c.tip)
	}

	ancestors, err := s.Ancestors(st, merge)
	require.NoError(t, err)
	require.ElementsMatch(t, []plumbing.Hash{root, left, right, merge}, ancestors)
}
