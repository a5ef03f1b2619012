// Package reply post-processes raw completion text into note content, tags
// and a detected entry type. Parsing never fails; malformed output degrades
// to empty tags and the default type.
package reply

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"appraise/pkg/domain"
)

var (
	// A closing fence of three or more backticks is consumed whole.
	fencedTagsRe = regexp.MustCompile("(?s)```json\\s*(\\[.*?\\])\\s*`{3,}")
	legacyTagsRe = regexp.MustCompile(`(?s)\[\[(.*?)\]\]$`)
	formTypeRe   = regexp.MustCompile(`(?im)^Form type:\s*\[?(.*?)\]?$`)
	looseTypeRe  = regexp.MustCompile(`(?im)Form type:\s*\[?(.*?)\]?$`)
)

// Parsed is the structured view of a completion.
type Parsed struct {
	Content       string
	Tags          []string
	DetectedLabel string
	DetectedType  domain.EntryType
}

// Parser maps detected labels through Resolve. A zero Parser uses
// domain.ResolveEntryType.
type Parser struct {
	Resolve domain.Resolver
}

// Parse runs the default Parser.
func Parse(raw string) Parsed {
	return Parser{}.Parse(raw)
}

// Parse extracts the tag block and the "Form type:" label from raw.
func (p Parser) Parse(raw string) Parsed {
	resolve := p.Resolve
	if resolve == nil {
		resolve = domain.ResolveEntryType
	}

	content, tags := extractTags(raw)
	label := detectLabel(content)
	return Parsed{
		Content:       content,
		Tags:          tags,
		DetectedLabel: label,
		DetectedType:  resolve(label),
	}
}

func extractTags(raw string) (string, []string) {
	if m := fencedTagsRe.FindStringSubmatch(raw); m != nil {
		var tags []string
		if err := json.Unmarshal([]byte(m[1]), &tags); err != nil {
			slog.Warn("reply: malformed tag block", "err", err)
			return raw, []string{}
		}
		return strings.TrimSpace(strings.Replace(raw, m[0], "", 1)), cleanTags(tags)
	}
	if m := legacyTagsRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(strings.Replace(raw, m[0], "", 1)), cleanTags(strings.Split(m[1], ","))
	}
	return raw, []string{}
}

func detectLabel(content string) string {
	m := formTypeRe.FindStringSubmatch(content)
	if m == nil {
		m = looseTypeRe.FindStringSubmatch(content)
	}
	if m == nil {
		return ""
	}
	label := strings.TrimSpace(strings.TrimRight(m[1], "\r"))
	return strings.TrimSpace(strings.TrimSuffix(label, "]"))
}

func cleanTags(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// StripLegacyTags removes a trailing [[a, b]] block that refined text may
// still carry.
func StripLegacyTags(text string) string {
	if m := legacyTagsRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(strings.Replace(text, m[0], "", 1))
	}
	return text
}
