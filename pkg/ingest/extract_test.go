package ingest

import (
	"errors"
	"strings"
	"testing"
)

func TestExtractText(t *testing.T) {
	src, err := Extract("shift.txt", strings.NewReader("  Night   shift\r\n\r\n\r\nSaw   Patient A \x00 with sepsis  \n"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if src.Format != FormatText {
		t.Fatalf("unexpected format %q", src.Format)
	}
	if src.Text != "Night shift\n\nSaw Patient A with sepsis" {
		t.Fatalf("unexpected text %q", src.Text)
	}
}

func TestExtractHTML(t *testing.T) {
	page := `<html><head><title>skip</title><style>p{}</style></head>
<body><h1>Teaching session</h1><p>Delivered  a talk on <b>DKA</b>.</p><script>alert(1)</script><ul><li>Fluids</li><li>Insulin</li></ul></body></html>`
	src, err := Extract("notes.HTML", strings.NewReader(page))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	for _, want := range []string{"Teaching session", "Delivered a talk on DKA.", "Fluids\nInsulin"} {
		if !strings.Contains(src.Text, want) {
			t.Fatalf("expected %q in %q", want, src.Text)
		}
	}
	for _, unwanted := range []string{"skip", "alert", "p{}"} {
		if strings.Contains(src.Text, unwanted) {
			t.Fatalf("unexpected %q in %q", unwanted, src.Text)
		}
	}
}

func TestExtractRejects(t *testing.T) {
	if _, err := Extract("slides.pptx", strings.NewReader("x")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := Extract("empty.md", strings.NewReader(" \n\t ")); !errors.Is(err, ErrNoText) {
		t.Fatalf("expected ErrNoText, got %v", err)
	}
	big := strings.NewReader(strings.Repeat("a", MaxFileBytes+1))
	if _, err := Extract("big.txt", big); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
	if _, err := Extract("broken.pdf", strings.NewReader("not a pdf")); err == nil {
		t.Fatalf("expected pdf error")
	}
}
