package domain

import "strings"

// EntryType is the closed set of portfolio form kinds.
type EntryType string

// AutoDetect is the placeholder a caller sends when the model should pick the
// form kind. It is never stored on a note.
const AutoDetect EntryType = "Auto-detect"

// Concrete form kinds. Declaration order matters: the substring fallback in
// ResolveEntryType picks the first match in this order.
const (
	EntryClinicalCase     EntryType = "Clinical Case"
	EntryReflection       EntryType = "Reflection"
	EntryDOPS             EntryType = "DOPS (Procedure)"
	EntryMiniCEX          EntryType = "Mini-CEX"
	EntryCBD              EntryType = "CBD (Case Based Discussion)"
	EntryACAT             EntryType = "ACAT (Acute Take)"
	EntryPDP              EntryType = "PDP (Goals)"
	EntryOPCAT            EntryType = "OPCAT (Outpatient)"
	EntryMCR              EntryType = "MCR (Feedback summary)"
	EntryQIP              EntryType = "QIP / Audit"
	EntryActivitySummary  EntryType = "Activity Summary"
	EntryCertificates     EntryType = "Certificates / Courses"
	EntryCollegeExam      EntryType = "College Exam"
	EntryCPD              EntryType = "CPD / Teaching"
	EntryQI               EntryType = "QI / Audit"
	EntrySignificantEvent EntryType = "Significant Event"
	EntryComplaint        EntryType = "Complaint / Compliment"
	EntryFeedback         EntryType = "Feedback"
	EntryPDPIdea          EntryType = "PDP Idea"
)

// DefaultEntryType is used whenever a label cannot be resolved.
const DefaultEntryType = EntryClinicalCase

var entryTypes = []EntryType{
	EntryClinicalCase,
	EntryReflection,
	EntryDOPS,
	EntryMiniCEX,
	EntryCBD,
	EntryACAT,
	EntryPDP,
	EntryOPCAT,
	EntryMCR,
	EntryQIP,
	EntryActivitySummary,
	EntryCertificates,
	EntryCollegeExam,
	EntryCPD,
	EntryQI,
	EntrySignificantEvent,
	EntryComplaint,
	EntryFeedback,
	EntryPDPIdea,
}

// EntryTypes returns the concrete kinds in declaration order.
func EntryTypes() []EntryType {
	out := make([]EntryType, len(entryTypes))
	copy(out, entryTypes)
	return out
}

// IsConcrete reports whether t is one of the declared concrete kinds.
func (t EntryType) IsConcrete() bool {
	for _, et := range entryTypes {
		if t == et {
			return true
		}
	}
	return false
}

// IsAutoDetect matches the placeholder and the legacy "autodetect:" labels
// older clients stored.
func (t EntryType) IsAutoDetect() bool {
	return IsAutoDetectLabel(string(t))
}

// IsAutoDetectLabel reports whether a raw label or tag is the auto-detect sentinel.
func IsAutoDetectLabel(label string) bool {
	l := strings.ToLower(strings.TrimSpace(label))
	return l == strings.ToLower(string(AutoDetect)) || l == "auto" || strings.Contains(l, "autodetect:")
}

// Resolver maps a free-text label onto a concrete EntryType.
type Resolver func(label string) EntryType

// ResolveEntryType is the default Resolver. An exact case-insensitive match
// wins; otherwise the first declared kind where either string contains the
// other is returned. Ties go to declaration order, not to the longest match.
func ResolveEntryType(label string) EntryType {
	normalized := normalizeLabel(label)
	if normalized == "" {
		return DefaultEntryType
	}
	for _, t := range entryTypes {
		if normalized == normalizeLabel(string(t)) {
			return t
		}
	}
	for _, t := range entryTypes {
		candidate := normalizeLabel(string(t))
		if strings.Contains(candidate, normalized) || strings.Contains(normalized, candidate) {
			return t
		}
	}
	return DefaultEntryType
}

// ParseEntryType resolves a type requested by a caller. Empty input and the
// auto-detect placeholder return AutoDetect; anything else must be a
// declared kind (case-insensitive).
func ParseEntryType(s string) (EntryType, bool) {
	if strings.TrimSpace(s) == "" || IsAutoDetectLabel(s) {
		return AutoDetect, true
	}
	normalized := normalizeLabel(s)
	for _, t := range entryTypes {
		if normalized == normalizeLabel(string(t)) {
			return t, true
		}
	}
	return "", false
}

// normalizeLabel lower-cases and spaces slashes as " / ", so "QIP/Audit"
// and "QIP / Audit" compare equal.
func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.Contains(s, "/") {
		return s
	}
	parts := strings.Split(s, "/")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return strings.Join(parts, " / ")
}

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
