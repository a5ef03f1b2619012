package store

import (
	"context"
	"errors"
	"time"

	"appraise/pkg/domain"
)

// ErrNotFound is returned by KV.Get for a missing key.
var ErrNotFound = errors.New("not found")

// KV is the key/value backing the note and usage repositories.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// NoteRepository persists a user's notes.
// ListNotes returns notes in stored order (newest insertion first).
type NoteRepository interface {
	ListNotes(ctx context.Context, userID string) ([]domain.Note, error)
	SaveNote(ctx context.Context, userID string, note domain.Note) error
	DeleteNote(ctx context.Context, userID, noteID string) error
}

// UsageRepository persists the generation counter. A user with no stored
// stats gets the zero value and no error.
type UsageRepository interface {
	GetUsage(ctx context.Context, userID string) (domain.UsageStats, error)
	SaveUsage(ctx context.Context, userID string, stats domain.UsageStats) error
}

// UserStore persists user profiles mirrored from the auth provider.
type UserStore interface {
	GetUser(ctx context.Context, id string) (domain.User, bool, error)
	SaveUser(ctx context.Context, user domain.User) error
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}

// UserSessionRevoker is an optional capability that revokes all sessions
// issued for a user since a cutoff time.
type UserSessionRevoker interface {
	RevokeUserSessions(userID string, since time.Time) error
}
