// Package notebook is the per-session note list: insertion-ordered notes, the
// selected note, and the sort/filter/group views built over them. Every
// mutation is written through to a store.NoteRepository.
package notebook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"appraise/pkg/domain"
	"appraise/pkg/store"
)

var (
	// ErrNoteNotFound is returned by tag operations on an unknown id.
	ErrNoteNotFound = errors.New("note not found")
	// ErrInvalidTag rejects blank tags and auto-detect sentinels.
	ErrInvalidTag = errors.New("invalid tag")
)

// Notebook is safe for concurrent use.
type Notebook struct {
	mu       sync.RWMutex
	userID   string
	repo     store.NoteRepository
	notes    []domain.Note
	selected string
	logger   *slog.Logger
}

// Open loads the user's notes from repo.
func Open(ctx context.Context, repo store.NoteRepository, userID string) (*Notebook, error) {
	notes, err := repo.ListNotes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load notes: %w", err)
	}
	return &Notebook{
		userID: userID,
		repo:   repo,
		notes:  notes,
		logger: slog.Default().With("user_id", userID),
	}, nil
}

// Add puts note at the head of the list and selects it.
func (nb *Notebook) Add(ctx context.Context, note domain.Note) error {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	if nb.indexLocked(note.ID) >= 0 {
		return fmt.Errorf("note %s already exists", note.ID)
	}
	note.Tags = domain.NormalizeTags(note.Tags)
	if err := nb.repo.SaveNote(ctx, nb.userID, note); err != nil {
		return err
	}
	nb.notes = append([]domain.Note{note}, nb.notes...)
	nb.selected = note.ID
	return nil
}

// Delete removes a note. Deleting the selected note clears the selection;
// an unknown id is logged and ignored. The bool reports whether a note was removed.
func (nb *Notebook) Delete(ctx context.Context, id string) (bool, error) {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	i := nb.indexLocked(id)
	if i < 0 {
		nb.logger.Warn("delete of unknown note ignored", "note_id", id)
		return false, nil
	}
	if err := nb.repo.DeleteNote(ctx, nb.userID, id); err != nil {
		return false, err
	}
	nb.notes = slices.Delete(nb.notes, i, i+1)
	if nb.selected == id {
		nb.selected = ""
	}
	return true, nil
}

// Update replaces the note with the same id. dateCreated is immutable and
// tags are normalized. An unknown id is logged and ignored.
func (nb *Notebook) Update(ctx context.Context, note domain.Note) (bool, error) {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	i := nb.indexLocked(note.ID)
	if i < 0 {
		nb.logger.Warn("update of unknown note ignored", "note_id", note.ID)
		return false, nil
	}
	note.DateCreated = nb.notes[i].DateCreated
	note.Tags = domain.NormalizeTags(note.Tags)
	if err := nb.repo.SaveNote(ctx, nb.userID, note); err != nil {
		return false, err
	}
	nb.notes[i] = note
	return true, nil
}

// AddTag appends tag if the note does not carry it yet.
func (nb *Notebook) AddTag(ctx context.Context, id, tag string) (domain.Note, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" || domain.IsAutoDetectLabel(tag) {
		return domain.Note{}, ErrInvalidTag
	}
	return nb.mutateTags(ctx, id, func(tags []string) []string {
		return append(tags, tag)
	})
}

// RemoveTag drops tag (exact match) from the note.
func (nb *Notebook) RemoveTag(ctx context.Context, id, tag string) (domain.Note, error) {
	return nb.mutateTags(ctx, id, func(tags []string) []string {
		return slices.DeleteFunc(tags, func(t string) bool { return t == tag })
	})
}

func (nb *Notebook) mutateTags(ctx context.Context, id string, fn func([]string) []string) (domain.Note, error) {
	return nb.Patch(ctx, id, func(n *domain.Note) error {
		n.Tags = fn(slices.Clone(n.Tags))
		return nil
	})
}

// Patch edits the note under the notebook lock and persists the result.
// fn works on a copy; if it fails nothing is saved. id and dateCreated are
// kept and tags are normalized.
func (nb *Notebook) Patch(ctx context.Context, id string, fn func(*domain.Note) error) (domain.Note, error) {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	i := nb.indexLocked(id)
	if i < 0 {
		return domain.Note{}, ErrNoteNotFound
	}
	note := nb.notes[i]
	note.Tags = slices.Clone(note.Tags)
	if err := fn(&note); err != nil {
		return domain.Note{}, err
	}
	note.ID = nb.notes[i].ID
	note.DateCreated = nb.notes[i].DateCreated
	note.Tags = domain.NormalizeTags(note.Tags)
	if err := nb.repo.SaveNote(ctx, nb.userID, note); err != nil {
		return domain.Note{}, err
	}
	nb.notes[i] = note
	return note, nil
}

// Select marks id as the selected note; an empty id clears the selection.
// It returns false for an unknown id and leaves the selection unchanged.
func (nb *Notebook) Select(id string) bool {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	if id == "" {
		nb.selected = ""
		return true
	}
	if nb.indexLocked(id) < 0 {
		return false
	}
	nb.selected = id
	return true
}

// Selected returns the selected note, if any.
func (nb *Notebook) Selected() (domain.Note, bool) {
	nb.mu.RLock()
	defer nb.mu.RUnlock()
	if nb.selected == "" {
		return domain.Note{}, false
	}
	return nb.getLocked(nb.selected)
}

// SelectedID returns the selected id or "".
func (nb *Notebook) SelectedID() string {
	nb.mu.RLock()
	defer nb.mu.RUnlock()
	return nb.selected
}

// Get returns a note by id.
func (nb *Notebook) Get(id string) (domain.Note, bool) {
	nb.mu.RLock()
	defer nb.mu.RUnlock()
	return nb.getLocked(id)
}

// All returns the notes in insertion order, newest first.
func (nb *Notebook) All() []domain.Note {
	nb.mu.RLock()
	defer nb.mu.RUnlock()
	return slices.Clone(nb.notes)
}

// Len is the number of notes.
func (nb *Notebook) Len() int {
	nb.mu.RLock()
	defer nb.mu.RUnlock()
	return len(nb.notes)
}

// Sorted returns the notes by dateCreated, newest first.
func (nb *Notebook) Sorted() []domain.Note {
	return SortByDate(nb.All())
}

// Filter returns sorted notes whose title or raw input contains query
// (case-insensitive) and whose mode matches. An empty mode matches all.
func (nb *Notebook) Filter(query string, mode domain.Mode) []domain.Note {
	return Filter(nb.Sorted(), query, mode)
}

// Search is the sidebar search: title, or created date as DD/MM/YYYY or
// RFC 3339.
func (nb *Notebook) Search(query string) []domain.Note {
	return Search(nb.Sorted(), query)
}

func (nb *Notebook) indexLocked(id string) int {
	return slices.IndexFunc(nb.notes, func(n domain.Note) bool { return n.ID == id })
}

func (nb *Notebook) getLocked(id string) (domain.Note, bool) {
	if i := nb.indexLocked(id); i >= 0 {
		return nb.notes[i], true
	}
	return domain.Note{}, false
}
