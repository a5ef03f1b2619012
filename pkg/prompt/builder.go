// Package prompt assembles the chat messages sent to the completion endpoint.
// Everything here is a pure string transformation.
package prompt

import (
	"fmt"
	"strings"

	"appraise/pkg/domain"
)

// MaxCapabilities is how many linked capabilities a single entry may evidence.
const MaxCapabilities = 3

// Prompt is one system + user message pair.
type Prompt struct {
	System string
	User   string
}

// Request is the input to Build.
type Request struct {
	Text         string
	Mode         domain.Mode
	Type         domain.EntryType
	Capabilities []string
}

// Build assembles the generation prompt. Capabilities beyond MaxCapabilities
// and blank labels are dropped.
func Build(req Request) Prompt {
	var guidance string
	if req.Type == "" || req.Type.IsAutoDetect() {
		guidance = "Analyze the input and choose the most appropriate form type (DOPS, ACAT, Reflection, etc.) automatically."
	} else {
		guidance = fmt.Sprintf("The user specifically requests a %q form. Please follow the structure for this form type strictly.", string(req.Type))
	}

	var b strings.Builder
	b.WriteString("CONTEXT:\n")
	b.WriteString("Role Mode: " + roleContext(req.Mode) + "\n\n")
	b.WriteString("USER INPUT:\n")
	b.WriteString(quote(req.Text) + "\n")
	if caps := LimitCapabilities(req.Capabilities); len(caps) > 0 {
		b.WriteString("\nUSER LINKED CAPABILITIES:\n")
		b.WriteString("The user wants this reflection to demonstrate the following capabilities:\n")
		for _, c := range caps {
			b.WriteString("- " + c + "\n")
		}
		b.WriteString("Please ensure the content naturally evidences these areas.\n")
	}
	b.WriteString("\nINSTRUCTIONS:\n")
	b.WriteString(guidance + "\n")
	b.WriteString("Refer to the form templates in the system instruction.\n\n")
	b.WriteString("IMPORTANT:\n")
	b.WriteString("At the very end of your response, separate from the content, strictly output a list of 3-5 relevant tags (clinical topics, RCGP attributes, or GMC domains) as a JSON array enclosed in triple backticks, like this:\n")
	b.WriteString("```json\n[\"Tag 1\", \"Tag 2\", \"Tag 3\"]\n```\n")
	b.WriteString("Do not add any text after this.\n")

	return Prompt{
		System: systemInstruction + "\n" + formTemplates,
		User:   b.String(),
	}
}

// BuildRefine asks the model to polish an existing entry without changing its kind.
func BuildRefine(text string, mode domain.Mode, t domain.EntryType) Prompt {
	role := "Hospital Doctor"
	if mode == domain.ModeGP {
		role = "GP Trainee"
	}
	var b strings.Builder
	b.WriteString("CONTEXT:\n")
	fmt.Fprintf(&b, "You are refining an EXISTING portfolio entry for a %s.\n", role)
	fmt.Fprintf(&b, "Form Type: %s\n\n", t)
	b.WriteString("USER DRAFT:\n")
	b.WriteString(quote(text) + "\n\n")
	b.WriteString("INSTRUCTIONS:\n")
	b.WriteString("1. Improve the clarity, flow, and professional tone.\n")
	b.WriteString("2. Ensure it remains in the FIRST PERSON.\n")
	b.WriteString("3. CRITICAL: Remove any remaining patient identifiers if found (replace with \"Patient X\", etc.).\n")
	b.WriteString("4. Keep the same structure/headings if they are appropriate.\n")
	b.WriteString("5. Do NOT add a preamble like \"Here is the refined version\". Just return the refined text.\n")
	return Prompt{System: systemInstruction, User: b.String()}
}

// BuildFeedback asks for educational-supervisor feedback on a reflection.
func BuildFeedback(text string) Prompt {
	user := "Please act as my Educational Supervisor and provide feedback on this reflection.\n\n" +
		"TRAINEE REFLECTION:\n" + quote(text) + "\n"
	return Prompt{System: supervisorInstruction, User: user}
}

// LimitCapabilities trims, drops blanks and keeps at most MaxCapabilities labels.
func LimitCapabilities(caps []string) []string {
	out := make([]string, 0, MaxCapabilities)
	for _, c := range caps {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		out = append(out, c)
		if len(out) == MaxCapabilities {
			break
		}
	}
	return out
}

func roleContext(mode domain.Mode) string {
	if mode == domain.ModeGP {
		return "GP Trainee / General Practitioner (FourteenFish focus)"
	}
	return "Hospital Doctor / Consultant / SAS (MAG/Revalidation focus)"
}

func quote(s string) string {
	return `"` + s + `"`
}
