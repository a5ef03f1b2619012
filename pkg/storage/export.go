package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"appraise/pkg/domain"
)

const defaultLinkExpiry = 15 * time.Minute

// Export describes one uploaded notes snapshot.
type Export struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	Count     int       `json:"count"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// snapshot is the exported document.
type snapshot struct {
	UserID     string        `json:"userId"`
	ExportedAt time.Time     `json:"exportedAt"`
	Notes      []domain.Note `json:"notes"`
}

// Exporter writes notes snapshots to an ObjectStore.
type Exporter struct {
	store  ObjectStore
	expiry time.Duration
	now    func() time.Time
}

// NewExporter builds an Exporter. A non-positive expiry uses 15 minutes.
func NewExporter(store ObjectStore, linkExpiry time.Duration) *Exporter {
	if linkExpiry <= 0 {
		linkExpiry = defaultLinkExpiry
	}
	return &Exporter{store: store, expiry: linkExpiry, now: time.Now}
}

// ExportKey is exports/<user>/<UTC timestamp>.json.
func ExportKey(userID string, at time.Time) string {
	return fmt.Sprintf("exports/%s/%s.json", userID, at.UTC().Format("20060102T150405Z"))
}

// DownloadName is the file name the browser saves an export as.
func DownloadName(at time.Time) string {
	return "appraise-notes-" + at.UTC().Format("2006-01-02") + ".json"
}

// ExportNotes uploads notes as JSON and returns a presigned download link.
func (e *Exporter) ExportNotes(ctx context.Context, userID string, notes []domain.Note) (Export, error) {
	if userID == "" {
		return Export{}, errors.New("user id required")
	}
	if notes == nil {
		notes = []domain.Note{}
	}
	now := e.now().UTC()
	body, err := json.MarshalIndent(snapshot{UserID: userID, ExportedAt: now, Notes: notes}, "", "  ")
	if err != nil {
		return Export{}, fmt.Errorf("encode export: %w", err)
	}
	key := ExportKey(userID, now)
	if err := e.store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
		return Export{}, err
	}
	url, err := e.store.PresignDownload(ctx, key, DownloadName(now), e.expiry)
	if err != nil {
		return Export{}, err
	}
	return Export{Key: key, URL: url, Count: len(notes), ExpiresAt: now.Add(e.expiry)}, nil
}
