package notebook

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"appraise/pkg/domain"
)

const (
	// LegacyFolder collects notes stored with an auto-detect type by older clients.
	LegacyFolder = "Clinical Case / Reflection"
	// UncategorizedFolder collects notes without a type.
	UncategorizedFolder = "Uncategorized"
)

// Folder is one group of the folder view.
type Folder struct {
	Label string        `json:"label"`
	Notes []domain.Note `json:"notes"`
}

// SortByDate sorts notes in place by dateCreated descending and returns them.
// Ties keep their relative order.
func SortByDate(notes []domain.Note) []domain.Note {
	slices.SortStableFunc(notes, func(a, b domain.Note) int {
		return b.DateCreated.Compare(a.DateCreated)
	})
	return notes
}

// Filter keeps notes matching query on title/raw input and mode.
func Filter(notes []domain.Note, query string, mode domain.Mode) []domain.Note {
	q := strings.ToLower(query)
	out := make([]domain.Note, 0, len(notes))
	for _, n := range notes {
		if mode != "" && n.Mode != mode {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(n.Title), q) &&
			!strings.Contains(strings.ToLower(n.RawInput), q) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Search keeps notes whose title or creation date contains query.
func Search(notes []domain.Note, query string) []domain.Note {
	if query == "" {
		return slices.Clone(notes)
	}
	q := strings.ToLower(query)
	out := make([]domain.Note, 0, len(notes))
	for _, n := range notes {
		created := n.DateCreated.UTC()
		if strings.Contains(strings.ToLower(n.Title), q) ||
			strings.Contains(created.Format(domain.TitleDateLayout), q) ||
			strings.Contains(created.Format(time.RFC3339), query) {
			out = append(out, n)
		}
	}
	return out
}

// FolderLabel is the folder a note is shown under.
func FolderLabel(n domain.Note) string {
	t := strings.TrimSpace(string(n.Type))
	switch {
	case t == "":
		return UncategorizedFolder
	case n.Type == domain.AutoDetect || strings.HasPrefix(strings.ToLower(t), "autodetect:"):
		return LegacyFolder
	}
	return t
}

// Group buckets notes by FolderLabel. Folders are sorted by label and notes
// inside a folder by dateCreated, newest first.
func Group(notes []domain.Note) []Folder {
	byLabel := make(map[string][]domain.Note)
	for _, n := range notes {
		label := FolderLabel(n)
		byLabel[label] = append(byLabel[label], n)
	}
	folders := make([]Folder, 0, len(byLabel))
	for label, ns := range byLabel {
		folders = append(folders, Folder{Label: label, Notes: SortByDate(ns)})
	}
	slices.SortFunc(folders, func(a, b Folder) int { return cmp.Compare(a.Label, b.Label) })
	return folders
}
