// Package ingest extracts plain text from uploaded source documents
// (discharge letters, teaching slides, course certificates) so it can be
// used as raw input for a portfolio entry.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// MaxFileBytes bounds an upload.
const MaxFileBytes = 10 << 20

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrFileTooLarge      = errors.New("file too large")
	ErrNoText            = errors.New("no text extracted")
)

// Format is a supported source kind.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatPDF      Format = "pdf"
)

// Source is the extracted text of one document.
type Source struct {
	Filename string `json:"filename"`
	Format   Format `json:"format"`
	Text     string `json:"text"`
	Pages    int    `json:"pages,omitempty"`
}

// DetectFormat picks the format from the file extension.
func DetectFormat(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", "":
		return FormatText, nil
	case ".md", ".markdown":
		return FormatMarkdown, nil
	case ".html", ".htm":
		return FormatHTML, nil
	case ".pdf":
		return FormatPDF, nil
	}
	return "", ErrUnsupportedFormat
}

// Extract reads r fully (up to MaxFileBytes) and returns its text.
func Extract(filename string, r io.Reader) (Source, error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return Source{}, fmt.Errorf("%w: %s", err, filepath.Ext(filename))
	}
	data, err := io.ReadAll(io.LimitReader(r, MaxFileBytes+1))
	if err != nil {
		return Source{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxFileBytes {
		return Source{}, ErrFileTooLarge
	}

	src := Source{Filename: filepath.Base(filename), Format: format}
	switch format {
	case FormatPDF:
		src.Text, src.Pages, err = extractPDF(data)
	case FormatHTML:
		src.Text, err = extractHTML(data)
	default:
		src.Text = normalizeText(string(data))
	}
	if err != nil {
		return Source{}, err
	}
	if src.Text == "" {
		return Source{}, ErrNoText
	}
	return src, nil
}

func extractPDF(data []byte) (text string, pages int, err error) {
	// the pdf package panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			text, pages, err = "", 0, fmt.Errorf("read pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}
	total := reader.NumPage()
	parts := make([]string, 0, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, perr := page.GetPlainText(nil)
		if perr != nil {
			// skip unreadable pages
			continue
		}
		if pageText = normalizeText(pageText); pageText != "" {
			parts = append(parts, pageText)
		}
	}
	return strings.Join(parts, "\n\n"), total, nil
}

func extractHTML(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	return normalizeText(extractText(doc)), nil
}

var blockElements = map[string]bool{
	"p": true, "br": true, "div": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

func extractText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
		case html.ElementNode:
			switch node.Data {
			case "script", "style", "head", "noscript":
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && blockElements[node.Data] {
			buf.WriteString("\n")
		}
	}
	walk(n)
	return buf.String()
}

// normalizeText collapses whitespace inside lines and keeps at most one blank
// line between paragraphs.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var out []string
	blank := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank = len(out) > 0
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
