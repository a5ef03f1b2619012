// Package capability holds the curriculum taxonomies notes are linked to and
// computes evidence coverage over a set of notes.
package capability

import (
	"strings"

	"appraise/pkg/domain"
)

// EvidencePreview is how many note titles a coverage row lists.
const EvidencePreview = 3

// RCGP is the GP curriculum capability set.
var RCGP = []string{
	"Decision-making and Diagnosis",
	"Clinical management",
	"Medical complexity",
	"Team working",
	"Performance learning and teaching",
	"Organisation management and leadership",
	"Holistic practice health promotion and safeguarding",
	"Community health and environmental sustainability",
	"Fitness to practise",
	"An Ethical Approach",
	"Communicating and Consulting",
	"Data gathering and interpretation",
	"Clinical examination and procedural skills",
}

// GMC is the Good Medical Practice domain set used for hospital appraisal.
var GMC = []string{
	"Knowledge, Skills and Performance",
	"Safety and Quality",
	"Communication, Partnership and Teamwork",
	"Maintaining Trust",
}

// ForMode returns a copy of the taxonomy for the practice setting.
func ForMode(mode domain.Mode) []string {
	src := GMC
	if mode == domain.ModeGP {
		src = RCGP
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// Matches reports whether any tag on n contains capability, case-insensitively.
func Matches(n domain.Note, capability string) bool {
	needle := strings.ToLower(capability)
	for _, tag := range n.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

// Row is the coverage of a single capability.
type Row struct {
	Capability string   `json:"capability"`
	Count      int      `json:"count"`
	Progress   int      `json:"progress"`
	Evidence   []string `json:"evidence"`
	More       int      `json:"more"`
}

// Coverage computes one Row per capability of mode, in taxonomy order.
// notes are scanned in the order given.
func Coverage(notes []domain.Note, mode domain.Mode) []Row {
	caps := ForMode(mode)
	rows := make([]Row, 0, len(caps))
	for _, c := range caps {
		row := Row{Capability: c, Evidence: []string{}}
		for _, n := range notes {
			if !Matches(n, c) {
				continue
			}
			row.Count++
			if len(row.Evidence) < EvidencePreview {
				row.Evidence = append(row.Evidence, n.Title)
			}
		}
		row.Progress = min(row.Count*20, 100)
		row.More = row.Count - len(row.Evidence)
		rows = append(rows, row)
	}
	return rows
}

// Known reports whether label is a capability of either taxonomy.
func Known(label string) bool {
	for _, set := range [][]string{RCGP, GMC} {
		for _, c := range set {
			if strings.EqualFold(c, strings.TrimSpace(label)) {
				return true
			}
		}
	}
	return false
}
