package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/josh-project/josh-sub000/jerr"
)

var hexOid = regexp.MustCompile(`^[0-9a-f]{40}$`)

// ParseRef parses a revision: 40 hex digits are an oid, anything else is a
// lazy ref name.
func ParseRef(text string) Ref {
	if hexOid.MatchString(text) {
		return Ref{Oid: plumbing.NewHash(text)}
	}
	return Ref{Name: text}
}

// Parse parses the textual filter syntax and interns the result.
func (s *Store) Parse(spec string) (Filter, error) {
	p := &parser{store: s, src: spec}
	p.skipSpace()
	f, err := p.chain()
	if err != nil {
		return Filter{}, err
	}
	p.skipSpace()
	if !p.eof() {
		return Filter{}, p.errorf("unexpected %q", p.src[p.pos:])
	}
	return f, nil
}

// ParseList parses a list of filters separated by commas or newlines, as
// found in workspace.josh and stored .josh files, into a [Compose].
func (s *Store) ParseList(text string) (Filter, error) {
	p := &parser{store: s, src: text}
	items, err := p.items(0)
	if err != nil {
		return Filter{}, err
	}
	p.skipSpace()
	if !p.eof() {
		return Filter{}, p.errorf("unexpected %q", p.src[p.pos:])
	}
	return s.Compose(items...), nil
}

// MustParse parses spec and panics on error.
func (s *Store) MustParse(spec string) Filter {
	f, err := s.Parse(spec)
	if err != nil {
		panic(err)
	}
	return f
}

type parser struct {
	store *Store
	src   string
	pos   int
}

func (p *parser) errorf(format string, args ...any) error {
	return jerr.Errorf("%s at %d: %s", jerr.InvalidFilter, p.pos, strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (p *parser) eof() bool {
	return p.pos >= len(p.src)
}

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) accept(c byte) bool {
	if p.peek() == c && !p.eof() {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(c byte) error {
	if !p.accept(c) {
		return p.errorf("expected %q", string(c))
	}
	return nil
}

// skipSpace skips white space and comments.
func (p *parser) skipSpace() {
	for !p.eof() {
		switch c := p.peek(); {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			p.pos++
		case c == '#':
			for !p.eof() && p.peek() != '\n' {
				p.pos++
			}
		default:
			return
		}
	}
}

func (p *parser) skipSeparators() {
	for {
		p.skipSpace()
		if !p.accept(',') {
			return
		}
	}
}

const pathTerminators = ":[](),=;\"\n\r\t #"

func (p *parser) quoted() (string, error) {
	prefix, err := strconv.QuotedPrefix(p.src[p.pos:])
	if err != nil {
		return "", p.errorf("invalid quoted string")
	}
	v, err := strconv.Unquote(prefix)
	if err != nil {
		return "", p.errorf("invalid quoted string")
	}
	p.pos += len(prefix)
	return v, nil
}

func (p *parser) path() (string, error) {
	if p.peek() == '"' {
		return p.quoted()
	}
	start := p.pos
	for !p.eof() && !strings.ContainsRune(pathTerminators, rune(p.peek())) {
		p.pos++
	}
	return p.src[start:p.pos], nil
}

func (p *parser) ident() string {
	start := p.pos
	for !p.eof() {
		c := p.peek()
		if c == '-' || c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

// chain parses a sequence of ops, each introduced by ':'.
func (p *parser) chain() (Filter, error) {
	var filters []Filter
	for p.peek() == ':' {
		f, err := p.op()
		if err != nil {
			return Filter{}, err
		}
		filters = append(filters, f)
	}
	if len(filters) == 0 {
		if !p.eof() && p.peek() != ']' && p.peek() != ')' && p.peek() != ',' {
			return Filter{}, p.errorf("expected ':'")
		}
		return p.store.Nop(), nil
	}
	return p.store.Chain(filters...), nil
}

// item parses one entry of a list: either a chain or "path = chain".
func (p *parser) item() (Filter, error) {
	if p.peek() == ':' {
		return p.chain()
	}
	dst, err := p.path()
	if err != nil {
		return Filter{}, err
	}
	p.skipSpace()
	if err := p.expect('='); err != nil {
		return Filter{}, err
	}
	p.skipSpace()
	f, err := p.chain()
	if err != nil {
		return Filter{}, err
	}
	return p.store.Chain(f, p.store.Prefix(dst)), nil
}

// items parses list entries until close (or the end of input when close
// is 0).
func (p *parser) items(close byte) ([]Filter, error) {
	var result []Filter
	for {
		p.skipSeparators()
		if p.eof() {
			if close != 0 {
				return nil, p.errorf("expected %q", string(close))
			}
			return result, nil
		}
		if close != 0 && p.accept(close) {
			return result, nil
		}
		f, err := p.item()
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
}

func (p *parser) bracketed() (Filter, error) {
	if err := p.expect('['); err != nil {
		return Filter{}, err
	}
	items, err := p.items(']')
	if err != nil {
		return Filter{}, err
	}
	return p.store.Compose(items...), nil
}

func (p *parser) revFilter() (RevFilter, error) {
	start := p.pos
	for !p.eof() && p.peek() != ':' && p.peek() != ',' && p.peek() != ')' {
		p.pos++
	}
	ref := strings.TrimSpace(p.src[start:p.pos])
	if ref == "" {
		return RevFilter{}, p.errorf("missing revision")
	}
	if p.peek() != ':' {
		return RevFilter{}, p.errorf("expected filter after %s", ref)
	}
	f, err := p.chain()
	if err != nil {
		return RevFilter{}, err
	}
	return RevFilter{Rev: ParseRef(ref), Filter: f}, nil
}

func (p *parser) revFilters() ([]RevFilter, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	var result []RevFilter
	for {
		p.skipSeparators()
		if p.accept(')') {
			return result, nil
		}
		if p.eof() {
			return nil, p.errorf("expected ')'")
		}
		rf, err := p.revFilter()
		if err != nil {
			return nil, err
		}
		result = append(result, rf)
	}
}

func (p *parser) quotedPair() (string, string, error) {
	a, err := p.quoted()
	if err != nil {
		return "", "", err
	}
	if err := p.expect(';'); err != nil {
		return "", "", err
	}
	b, err := p.quoted()
	if err != nil {
		return "", "", err
	}
	return a, b, nil
}

func (p *parser) op() (Filter, error) {
	s := p.store
	if err := p.expect(':'); err != nil {
		return Filter{}, err
	}
	switch p.peek() {
	case '/':
		p.pos++
		path, err := p.path()
		if err != nil {
			return Filter{}, err
		}
		if cleanPath(path) == "" {
			return s.Nop(), nil
		}
		return s.Subdir(path), nil
	case ':':
		p.pos++
		quoted := p.peek() == '"'
		raw, err := p.path()
		if err != nil {
			return Filter{}, err
		}
		if p.accept('=') {
			src, err := p.path()
			if err != nil {
				return Filter{}, err
			}
			return s.Intern(File{Dst: raw, Src: src}), nil
		}
		switch {
		case !quoted && strings.ContainsAny(raw, "*?"):
			return s.Intern(Pattern{Glob: raw}), nil
		case strings.HasSuffix(raw, "/"):
			return s.Chain(s.Subdir(raw), s.Prefix(raw)), nil
		default:
			return s.File(raw), nil
		}
	case '[':
		return p.bracketed()
	case '"':
		format, err := p.quoted()
		if err != nil {
			return Filter{}, err
		}
		regex := ""
		if p.accept(';') {
			if regex, err = p.quoted(); err != nil {
				return Filter{}, err
			}
		}
		return s.Intern(Message{Format: format, Regex: regex}), nil
	case '+':
		p.pos++
		path, err := p.path()
		if err != nil {
			return Filter{}, err
		}
		return s.Intern(Stored{Path: path}), nil
	case '~':
		p.pos++
		return p.meta()
	}

	name := p.ident()
	switch name {
	case "empty":
		return s.Empty(), nil
	case "linear":
		return s.Intern(Linear{}), nil
	case "unsign":
		return s.Intern(Unsign{}), nil
	case "PATHS":
		return s.Intern(Paths{}), nil
	case "INDEX":
		return s.Intern(Index{}), nil
	case "FOLD":
		return s.Intern(Fold{}), nil
	case "SQUASH":
		return s.Intern(Squash{}), nil
	case "prefix", "workspace", "hook":
		if err := p.expect('='); err != nil {
			return Filter{}, err
		}
		path, err := p.path()
		if err != nil {
			return Filter{}, err
		}
		switch name {
		case "prefix":
			return s.Prefix(path), nil
		case "workspace":
			return s.Intern(Workspace{Path: path}), nil
		default:
			return s.Intern(Hook{Name: path}), nil
		}
	case "prune":
		if err := p.expect('='); err != nil {
			return Filter{}, err
		}
		if mode := p.ident(); mode != "trivial-merge" {
			return Filter{}, p.errorf("unknown prune mode %q", mode)
		}
		return s.Intern(Prune{}), nil
	case "author", "committer":
		if err := p.expect('='); err != nil {
			return Filter{}, err
		}
		n, e, err := p.quotedPair()
		if err != nil {
			return Filter{}, err
		}
		if name == "author" {
			return s.Intern(Author{Name: n, Email: e}), nil
		}
		return s.Intern(Committer{Name: n, Email: e}), nil
	case "exclude", "pin", "invert":
		f, err := p.bracketed()
		if err != nil {
			return Filter{}, err
		}
		switch name {
		case "exclude":
			return s.Exclude(f), nil
		case "pin":
			return s.Intern(Pin{Filter: f}), nil
		default:
			return s.Intern(Invert{Filter: f}), nil
		}
	case "subtract":
		if err := p.expect('['); err != nil {
			return Filter{}, err
		}
		items, err := p.items(']')
		if err != nil {
			return Filter{}, err
		}
		if len(items) != 2 {
			return Filter{}, p.errorf("subtract needs 2 filters, got %d", len(items))
		}
		return s.Subtract(items[0], items[1]), nil
	case "squash":
		refs, err := p.revFilters()
		if err != nil {
			return Filter{}, err
		}
		return s.Intern(Squash{Select: true, Refs: refs}), nil
	case "rev":
		entries, err := p.revFilters()
		if err != nil {
			return Filter{}, err
		}
		return s.Intern(Rev{Entries: entries}), nil
	case "concat":
		entries, err := p.revFilters()
		if err != nil {
			return Filter{}, err
		}
		if len(entries) != 1 {
			return Filter{}, p.errorf("concat needs exactly one revision")
		}
		return s.Intern(HistoryConcat{Rev: entries[0].Rev, Filter: entries[0].Filter}), nil
	case "replace":
		return p.replace()
	case "":
		return Filter{}, p.errorf("missing op")
	}
	return Filter{}, p.errorf("unknown op %q", name)
}

func (p *parser) replace() (Filter, error) {
	if err := p.expect('('); err != nil {
		return Filter{}, err
	}
	var rules []Replacement
	for {
		p.skipSeparators()
		if p.accept(')') {
			break
		}
		if p.eof() {
			return Filter{}, p.errorf("expected ')'")
		}
		re, err := p.quoted()
		if err != nil {
			return Filter{}, err
		}
		if err := p.expect(':'); err != nil {
			return Filter{}, err
		}
		with, err := p.quoted()
		if err != nil {
			return Filter{}, err
		}
		if _, err := regexp.Compile(re); err != nil {
			return Filter{}, p.errorf("invalid regex %q: %v", re, err)
		}
		rules = append(rules, Replacement{Regex: re, With: with})
	}
	return p.store.Intern(RegexReplace{Rules: rules}), nil
}

func (p *parser) meta() (Filter, error) {
	if err := p.expect('('); err != nil {
		return Filter{}, err
	}
	var pairs []MetaPair
	for {
		p.skipSeparators()
		if p.accept(')') {
			break
		}
		if p.eof() {
			return Filter{}, p.errorf("expected ')'")
		}
		key := p.ident()
		if key == "" {
			return Filter{}, p.errorf("missing meta key")
		}
		if err := p.expect('='); err != nil {
			return Filter{}, err
		}
		value, err := p.quoted()
		if err != nil {
			return Filter{}, err
		}
		pairs = append(pairs, MetaPair{Key: key, Value: value})
	}
	f, err := p.bracketed()
	if err != nil {
		return Filter{}, err
	}
	return p.store.Intern(Meta{Pairs: pairs, Filter: f}), nil
}
