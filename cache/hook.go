package cache

import (
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage"

	"github.com/josh-project/josh-sub000/filter"
	"github.com/josh-project/josh-sub000/jerr"
)

// FilterHook resolves the filter of a [filter.Hook] op for one commit.
type FilterHook interface {
	FilterForCommit(store *filter.Store, commit plumbing.Hash, name string) (filter.Filter, error)
}

// FilterHookFunc adapts a function to [FilterHook].
type FilterHookFunc func(store *filter.Store, commit plumbing.Hash, name string) (filter.Filter, error)

func (fn FilterHookFunc) FilterForCommit(store *filter.Store, commit plumbing.Hash, name string) (filter.Filter, error) {
	return fn(store, commit, name)
}

// NotesFilterHook reads hook filters from git notes: the note attached to
// a commit under <prefix>/<name> holds the filter text. Commits without a
// note get the empty filter.
type NotesFilterHook struct {
	repo   storage.Storer
	prefix string
}

func NewNotesFilterHook(repo storage.Storer, prefix string) *NotesFilterHook {
	return &NotesFilterHook{repo: repo, prefix: strings.TrimSuffix(prefix, "/")}
}

func (h *NotesFilterHook) FilterForCommit(store *filter.Store, commit plumbing.Hash, name string) (filter.Filter, error) {
	ref := plumbing.ReferenceName(h.prefix + "/" + name)
	_, tree, err := notesTree(h.repo, ref)
	if err != nil {
		return filter.Filter{}, jerr.Wrap(err, "hook %s", name)
	}
	data, found, err := readNote(h.repo, tree, commit)
	if err != nil {
		return filter.Filter{}, jerr.Wrap(err, "hook %s", name)
	}
	if !found {
		return store.Empty(), nil
	}
	f, err := store.Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return filter.Filter{}, jerr.Wrap(err, "hook %s for commit %s", name, commit)
	}
	return f, nil
}

// WriteHookNote attaches filter text to commit for hook name.
func WriteHookNote(repo storage.Storer, prefix, name string, commit plumbing.Hash, text string) error {
	ref := plumbing.ReferenceName(strings.TrimSuffix(prefix, "/") + "/" + name)
	return writeNotes(repo, ref, map[plumbing.Hash][]byte{commit: []byte(text + "\n")}, "josh hook "+name)
}
