package domain

import (
	"strings"
	"time"
)

const (
	titleWords    = 6
	titleMaxRunes = 40
	// TitleDateLayout is the en-GB date shown in titles and matched by search.
	TitleDateLayout = "02/01/2006"
)

// NoteTitle builds "[<Type>] <summary> [DD/MM/YYYY]". The summary is the first
// six space-separated words of raw cut to 40 characters, with "..." appended
// whenever raw itself is longer than 40 characters.
func NoteTitle(t EntryType, raw string, at time.Time) string {
	words := strings.Split(raw, " ")
	if len(words) > titleWords {
		words = words[:titleWords]
	}
	summary := []rune(strings.Join(words, " "))
	if len(summary) > titleMaxRunes {
		summary = summary[:titleMaxRunes]
	}
	ellipsis := ""
	if len([]rune(raw)) > titleMaxRunes {
		ellipsis = "..."
	}
	return "[" + string(t) + "] " + string(summary) + ellipsis + " [" + at.Format(TitleDateLayout) + "]"
}

// NormalizeTags trims tags and drops empties, auto-detect sentinels and
// repeats, keeping first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || IsAutoDetectLabel(t) {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
