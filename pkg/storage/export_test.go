package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"appraise/pkg/domain"
)

type memoryObjectStore struct {
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func (m *memoryObjectStore) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	if m.putErr != nil {
		return m.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memoryObjectStore) PresignDownload(_ context.Context, key, filename string, expiry time.Duration) (string, error) {
	return "https://minio.test/appraise/" + key + "?X-Amz-Expires=" + expiry.String() + "&name=" + filename, nil
}

func TestExportNotes(t *testing.T) {
	store := &memoryObjectStore{objects: map[string][]byte{}, types: map[string]string{}}
	e := NewExporter(store, 0)
	at := time.Date(2026, 10, 18, 14, 30, 5, 0, time.UTC)
	e.now = func() time.Time { return at }

	notes := []domain.Note{{ID: "n1", Title: "t", Type: domain.EntryReflection, Tags: []string{"GP"}}}
	exp, err := e.ExportNotes(context.Background(), "u1", notes)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if exp.Key != "exports/u1/20261018T143005Z.json" {
		t.Fatalf("unexpected key %q", exp.Key)
	}
	if exp.Count != 1 || exp.URL == "" || !exp.ExpiresAt.Equal(at.Add(defaultLinkExpiry)) {
		t.Fatalf("unexpected export %+v", exp)
	}
	if !strings.HasSuffix(exp.URL, "&name=appraise-notes-2026-10-18.json") {
		t.Fatalf("unexpected url %q", exp.URL)
	}
	if store.types[exp.Key] != "application/json" {
		t.Fatalf("unexpected content type %q", store.types[exp.Key])
	}
	var doc snapshot
	if err := json.Unmarshal(store.objects[exp.Key], &doc); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if doc.UserID != "u1" || len(doc.Notes) != 1 || doc.Notes[0].ID != "n1" {
		t.Fatalf("unexpected snapshot %+v", doc)
	}
}

func TestExportNotesErrors(t *testing.T) {
	store := &memoryObjectStore{objects: map[string][]byte{}, types: map[string]string{}, putErr: errors.New("bucket gone")}
	e := NewExporter(store, time.Minute)
	if _, err := e.ExportNotes(context.Background(), "u1", nil); err == nil {
		t.Fatalf("expected put error")
	}
	if _, err := e.ExportNotes(context.Background(), "", nil); err == nil {
		t.Fatalf("expected error for empty user")
	}
}
