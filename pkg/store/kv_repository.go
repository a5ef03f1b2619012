package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"appraise/pkg/domain"
)

// Key prefixes of the two per-user entries.
const (
	NotesKeyPrefix = "appraise_notes:"
	UsageKeyPrefix = "appraise_usage:"
	userKeyPrefix  = "appraise_user:"
)

// KVNoteRepository stores a user's notes as one JSON array under
// appraise_notes:<user>. Saves rewrite the whole array.
type KVNoteRepository struct {
	kv KV
	mu sync.Mutex
}

// NewKVNoteRepository wraps kv.
func NewKVNoteRepository(kv KV) *KVNoteRepository {
	return &KVNoteRepository{kv: kv}
}

func (r *KVNoteRepository) ListNotes(ctx context.Context, userID string) ([]domain.Note, error) {
	return r.load(ctx, userID)
}

// SaveNote replaces the note with the same id in place, or prepends it.
func (r *KVNoteRepository) SaveNote(ctx context.Context, userID string, note domain.Note) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	notes, err := r.load(ctx, userID)
	if err != nil {
		return err
	}
	replaced := false
	for i := range notes {
		if notes[i].ID == note.ID {
			notes[i] = note
			replaced = true
			break
		}
	}
	if !replaced {
		notes = append([]domain.Note{note}, notes...)
	}
	return r.store(ctx, userID, notes)
}

func (r *KVNoteRepository) DeleteNote(ctx context.Context, userID, noteID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	notes, err := r.load(ctx, userID)
	if err != nil {
		return err
	}
	kept := notes[:0]
	for _, n := range notes {
		if n.ID != noteID {
			kept = append(kept, n)
		}
	}
	return r.store(ctx, userID, kept)
}

func (r *KVNoteRepository) load(ctx context.Context, userID string) ([]domain.Note, error) {
	raw, err := r.kv.Get(ctx, NotesKeyPrefix+userID)
	if errors.Is(err, ErrNotFound) {
		return []domain.Note{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load notes: %w", err)
	}
	var notes []domain.Note
	if err := json.Unmarshal(raw, &notes); err != nil {
		return nil, fmt.Errorf("decode notes: %w", err)
	}
	return notes, nil
}

func (r *KVNoteRepository) store(ctx context.Context, userID string, notes []domain.Note) error {
	raw, err := json.Marshal(notes)
	if err != nil {
		return err
	}
	if err := r.kv.Set(ctx, NotesKeyPrefix+userID, raw); err != nil {
		return fmt.Errorf("save notes: %w", err)
	}
	return nil
}

// KVUsageRepository stores usage stats as a JSON object under appraise_usage:<user>.
type KVUsageRepository struct {
	kv KV
}

// NewKVUsageRepository wraps kv.
func NewKVUsageRepository(kv KV) *KVUsageRepository {
	return &KVUsageRepository{kv: kv}
}

func (r *KVUsageRepository) GetUsage(ctx context.Context, userID string) (domain.UsageStats, error) {
	raw, err := r.kv.Get(ctx, UsageKeyPrefix+userID)
	if errors.Is(err, ErrNotFound) {
		return domain.UsageStats{}, nil
	}
	if err != nil {
		return domain.UsageStats{}, fmt.Errorf("load usage: %w", err)
	}
	var stats domain.UsageStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return domain.UsageStats{}, fmt.Errorf("decode usage: %w", err)
	}
	return stats, nil
}

func (r *KVUsageRepository) SaveUsage(ctx context.Context, userID string, stats domain.UsageStats) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	if err := r.kv.Set(ctx, UsageKeyPrefix+userID, raw); err != nil {
		return fmt.Errorf("save usage: %w", err)
	}
	return nil
}

// KVUserStore keeps user profiles in the same KV as notes.
type KVUserStore struct {
	kv KV
}

// NewKVUserStore wraps kv.
func NewKVUserStore(kv KV) *KVUserStore {
	return &KVUserStore{kv: kv}
}

// userRecord carries the custom key, which domain.User hides from JSON.
type userRecord struct {
	domain.User
	CustomAPIKey string `json:"customApiKey,omitempty"`
}

func (s *KVUserStore) GetUser(ctx context.Context, id string) (domain.User, bool, error) {
	raw, err := s.kv.Get(ctx, userKeyPrefix+id)
	if errors.Is(err, ErrNotFound) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, err
	}
	var rec userRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.User{}, false, fmt.Errorf("decode user: %w", err)
	}
	u := rec.User
	u.CustomAPIKey = rec.CustomAPIKey
	return u, true, nil
}

func (s *KVUserStore) SaveUser(ctx context.Context, u domain.User) error {
	raw, err := json.Marshal(userRecord{User: u, CustomAPIKey: u.CustomAPIKey})
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, userKeyPrefix+u.ID, raw)
}
