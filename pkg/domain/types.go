package domain

import "time"

// Mode is the practice setting a note is written for.
type Mode string

const (
	ModeGP       Mode = "GP"
	ModeHospital Mode = "HOSPITAL"
)

// ParseMode accepts the enum values and the lower-case spellings stored on
// user profiles ("gp", "hospital"). Unknown input returns false.
func ParseMode(s string) (Mode, bool) {
	switch Mode(upper(s)) {
	case ModeGP:
		return ModeGP, true
	case ModeHospital:
		return ModeHospital, true
	}
	return "", false
}

// Plan is the subscription tier of a user.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPlus Plan = "appraise_plus"
)

// SafeguardingTag is appended to a note's tags when the safeguarding toggle is on.
const SafeguardingTag = "Safeguarding"

// Note is one generated portfolio entry.
type Note struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	RawInput    string    `json:"rawInput"`
	DateCreated time.Time `json:"dateCreated"`
	Tags        []string  `json:"tags"`
	Mode        Mode      `json:"mode"`
	Type        EntryType `json:"type"`
}

// HasTag reports whether the note carries tag (exact match).
func (n Note) HasTag(tag string) bool {
	for _, t := range n.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// UsageStats is the generation counter persisted per user.
type UsageStats struct {
	Count         int    `json:"count"`
	LastResetDate string `json:"lastResetDate"`
}

// User is supplied by the auth provider; the service only reads it, except
// for the settings a user edits (default mode, custom API key).
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PhotoURL     string    `json:"photoURL"`
	Provider     string    `json:"provider,omitempty"`
	Plan         Plan      `json:"plan"`
	DefaultMode  Mode      `json:"defaultMode"`
	CustomAPIKey string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasCustomAPIKey reports whether the user configured their own LLM key.
func (u User) HasCustomAPIKey() bool {
	return u.CustomAPIKey != ""
}

// EffectiveMode returns the user's default mode, falling back to HOSPITAL as
// the console does when no default is stored.
func (u User) EffectiveMode() Mode {
	if m, ok := ParseMode(string(u.DefaultMode)); ok {
		return m
	}
	return ModeHospital
}
