package filter

import (
	"strconv"
	"strings"
)

// quotePath returns p as it appears in filter text, quoted when it contains
// characters with a meaning in the syntax.
func quotePath(p string) string {
	if strings.ContainsAny(p, pathTerminators+"*?") || !strconv.CanBackquote(p) {
		return strconv.Quote(p)
	}
	return p
}

// Spec returns the canonical single line text of f. Parsing the text gives
// back a filter with the same spec.
func (s *Store) Spec(f Filter) string {
	var b strings.Builder
	s.writeSpec(&b, f)
	return b.String()
}

func (s *Store) specList(fs []Filter) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = s.Spec(f)
	}
	return strings.Join(parts, ",")
}

// specBracketed prints the argument of exclude, pin and invert, which are
// parsed as a list.
func (s *Store) specBracketed(f Filter) string {
	if c, ok := s.Op(f).(Compose); ok {
		return "[" + s.specList(c.Filters) + "]"
	}
	return "[" + s.Spec(f) + "]"
}

func (s *Store) specRevFilters(entries []RevFilter) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.Rev.String() + s.Spec(e.Filter)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

func (s *Store) writeSpec(b *strings.Builder, f Filter) {
	switch v := s.Op(f).(type) {
	case Nop:
		b.WriteString(":/")
	case Empty:
		b.WriteString(":empty")
	case Subdir:
		b.WriteString(":/" + quotePath(v.Path))
	case Prefix:
		b.WriteString(":prefix=" + quotePath(v.Path))
	case File:
		if v.Dst == v.Src {
			b.WriteString("::" + quotePath(v.Src))
		} else {
			b.WriteString("::" + quotePath(v.Dst) + "=" + quotePath(v.Src))
		}
	case Pattern:
		b.WriteString("::" + v.Glob)
	case Workspace:
		b.WriteString(":workspace=" + quotePath(v.Path))
	case Stored:
		b.WriteString(":+" + quotePath(v.Path))
	case Chain:
		for _, c := range v.Filters {
			s.writeSpec(b, c)
		}
	case Compose:
		b.WriteString(":[" + s.specList(v.Filters) + "]")
	case Subtract:
		b.WriteString(":subtract[" + s.specList([]Filter{v.A, v.B}) + "]")
	case Exclude:
		b.WriteString(":exclude" + s.specBracketed(v.Filter))
	case Pin:
		b.WriteString(":pin" + s.specBracketed(v.Filter))
	case Invert:
		b.WriteString(":invert" + s.specBracketed(v.Filter))
	case Squash:
		if !v.Select {
			b.WriteString(":SQUASH")
		} else {
			b.WriteString(":squash" + s.specRevFilters(v.Refs))
		}
	case Rev:
		b.WriteString(":rev" + s.specRevFilters(v.Entries))
	case HistoryConcat:
		b.WriteString(":concat" + s.specRevFilters([]RevFilter{{Rev: v.Rev, Filter: v.Filter}}))
	case Message:
		b.WriteString(":" + strconv.Quote(v.Format))
		if v.Regex != "" {
			b.WriteString(";" + strconv.Quote(v.Regex))
		}
	case Author:
		b.WriteString(":author=" + strconv.Quote(v.Name) + ";" + strconv.Quote(v.Email))
	case Committer:
		b.WriteString(":committer=" + strconv.Quote(v.Name) + ";" + strconv.Quote(v.Email))
	case Linear:
		b.WriteString(":linear")
	case Prune:
		b.WriteString(":prune=trivial-merge")
	case Unsign:
		b.WriteString(":unsign")
	case Paths:
		b.WriteString(":PATHS")
	case Index:
		b.WriteString(":INDEX")
	case Fold:
		b.WriteString(":FOLD")
	case Hook:
		b.WriteString(":hook=" + quotePath(v.Name))
	case RegexReplace:
		parts := make([]string, len(v.Rules))
		for i, r := range v.Rules {
			parts[i] = strconv.Quote(r.Regex) + ":" + strconv.Quote(r.With)
		}
		b.WriteString(":replace(" + strings.Join(parts, ",") + ")")
	case Meta:
		parts := make([]string, len(v.Pairs))
		for i, p := range v.Pairs {
			parts[i] = p.Key + "=" + strconv.Quote(p.Value)
		}
		b.WriteString(":~(" + strings.Join(parts, ",") + ")" + s.specBracketed(v.Filter))
	}
}

const prettyIndent = "    "

// Pretty returns an indented multi line rendering of f for humans. The
// text parses back to a filter equivalent to f.
func (s *Store) Pretty(f Filter, indent int) string {
	return s.pretty(s.simplify(f), indent)
}

func (s *Store) pretty(f Filter, indent int) string {
	pad := strings.Repeat(prettyIndent, indent)
	switch v := s.Op(f).(type) {
	case Compose:
		return ":" + s.prettyList(v.Filters, indent, pad)
	case Chain:
		var b strings.Builder
		for _, c := range v.Filters {
			b.WriteString(s.pretty(c, indent))
		}
		return b.String()
	case Subtract:
		return ":subtract" + s.prettyList([]Filter{v.A, v.B}, indent, pad)
	case Exclude:
		return ":exclude" + s.prettyBracketed(v.Filter, indent, pad)
	case Pin:
		return ":pin" + s.prettyBracketed(v.Filter, indent, pad)
	case Invert:
		return ":invert" + s.prettyBracketed(v.Filter, indent, pad)
	}
	return s.Spec(f)
}

func (s *Store) prettyBracketed(f Filter, indent int, pad string) string {
	if c, ok := s.Op(f).(Compose); ok {
		return s.prettyList(c.Filters, indent, pad)
	}
	return s.prettyList([]Filter{f}, indent, pad)
}

func (s *Store) prettyList(fs []Filter, indent int, pad string) string {
	if len(fs) == 1 {
		if _, ok := s.Op(fs[0]).(Compose); !ok {
			return "[" + s.prettyItem(fs[0], indent) + "]"
		}
	}
	var b strings.Builder
	b.WriteString("[\n")
	for _, c := range fs {
		b.WriteString(pad + prettyIndent + s.prettyItem(c, indent+1) + "\n")
	}
	b.WriteString(pad + "]")
	return b.String()
}

// prettyItem renders a list entry, using the "dst = filter" form for
// chains ending in a prefix.
func (s *Store) prettyItem(f Filter, indent int) string {
	if c, ok := s.Op(f).(Chain); ok && len(c.Filters) > 1 {
		last := c.Filters[len(c.Filters)-1]
		if p, ok := s.Op(last).(Prefix); ok && p.Path != "" {
			rest := s.Chain(c.Filters[:len(c.Filters)-1]...)
			return quotePath(p.Path) + " = " + s.pretty(rest, indent)
		}
	}
	return s.pretty(f, indent)
}
