// Package report formats a stored research report for the three output
// formats the report endpoint serves (spec.md §6): JSON passes the report
// text through untouched, markdown appends a references section, and pdf
// renders the same text into a minimal single-column PDF document.
// Grounded in the original implementation's src/utils/pdf_generator.py
// (title-from-first-heading, task id/confidence/source-count footer) and
// src/api/endpoints/report.py's format_sources_markdown.
package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/Tangerg/research-core/internal/taskstore"
)

// WithReferences appends a "## References" section listing sources as a
// numbered, linked list, matching format_sources_markdown's output shape.
func WithReferences(body string, sources []taskstore.SourceSummary) string {
	if len(sources) == 0 {
		return body
	}
	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n\n---\n\n## References\n\n")
	for i, s := range sources {
		id := s.SourceID
		if id == "" {
			id = fmt.Sprintf("%d", i+1)
		}
		title := s.Title
		if title == "" {
			title = "Unknown"
		}
		if s.URL != "" {
			fmt.Fprintf(&b, "%s. [%s](%s)\n", id, title, s.URL)
		} else {
			fmt.Fprintf(&b, "%s. %s\n", id, title)
		}
	}
	return b.String()
}

// Title scans the first five lines of body and returns the first one that
// is either a "# " heading (with the marker stripped) or a non-empty line
// shorter than 100 characters, or a fallback if none qualifies, per
// pdf_generator's title detection heuristic.
func Title(body string) string {
	lines := strings.Split(body, "\n")
	limit := len(lines)
	if limit > 5 {
		limit = 5
	}
	for _, line := range lines[:limit] {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, "# "))
		}
		if trimmed != "" && len(trimmed) < 100 {
			return trimmed
		}
	}
	return "Research Report"
}

// Metadata is the one-line summary rendered under the title at the top of
// the PDF's first page.
type Metadata struct {
	TaskID          string
	ConfidenceScore float64
	SourceCount     int
	CreatedAt       string
}

// RenderPDF lays body out as wrapped, left-justified Helvetica text over
// as many US-Letter pages as needed. There is no layout library anywhere
// in this codebase's dependency corpus, so this writes the PDF object
// structure directly rather than pulling in an unrelated one; see
// DESIGN.md's standard-library justification for this package.
func RenderPDF(title, body string, meta Metadata) ([]byte, error) {
	const (
		pageWidth   = 612.0
		pageHeight  = 792.0
		margin      = 56.0
		fontSize    = 11.0
		leading     = 14.0
		charsPerRow = 92
	)

	lines := []string{title, ""}
	lines = append(lines, fmt.Sprintf("task %s | confidence %.2f | %d sources | %s",
		meta.TaskID, meta.ConfidenceScore, meta.SourceCount, meta.CreatedAt))
	lines = append(lines, "")
	lines = append(lines, wrapLines(body, charsPerRow)...)

	linesPerPage := int((pageHeight - 2*margin) / leading)
	if linesPerPage < 1 {
		linesPerPage = 1
	}

	var pages [][]string
	for len(lines) > 0 {
		n := linesPerPage
		if n > len(lines) {
			n = len(lines)
		}
		pages = append(pages, lines[:n])
		lines = lines[n:]
	}
	if len(pages) == 0 {
		pages = [][]string{{}}
	}

	return assemblePDF(pages, pageWidth, pageHeight, margin, fontSize, leading)
}

func wrapLines(text string, width int) []string {
	var out []string
	for _, raw := range strings.Split(text, "\n") {
		raw = strings.TrimRight(raw, "\r")
		if raw == "" {
			out = append(out, "")
			continue
		}
		for len(raw) > width {
			cut := strings.LastIndex(raw[:width], " ")
			if cut <= 0 {
				cut = width
			}
			out = append(out, raw[:cut])
			raw = strings.TrimLeft(raw[cut:], " ")
		}
		out = append(out, raw)
	}
	return out
}

func escapePDFText(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `(`, `\(`)
	s = strings.ReplaceAll(s, `)`, `\)`)
	return s
}

// assemblePDF lays out a minimal object graph: one Type1 font, one
// content+page object pair per page, a Pages tree, and a Catalog. Object
// numbers are assigned up front so every cross-reference can be written
// in a single pass; bodies are rendered into a slice indexed by object
// number and then concatenated while recording each one's byte offset.
func assemblePDF(pages [][]string, pageWidth, pageHeight, margin, fontSize, leading float64) ([]byte, error) {
	const fontObj = 1
	pagesObj := 2
	nextObj := 3

	contentObjs := make([]int, len(pages))
	pageObjs := make([]int, len(pages))
	for i := range pages {
		contentObjs[i] = nextObj
		nextObj++
		pageObjs[i] = nextObj
		nextObj++
	}
	catalogObj := nextObj

	bodies := make(map[int]string, nextObj)
	bodies[fontObj] = "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>"

	var kids strings.Builder
	for i, id := range pageObjs {
		if i > 0 {
			kids.WriteString(" ")
		}
		fmt.Fprintf(&kids, "%d 0 R", id)
	}
	bodies[pagesObj] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids.String(), len(pages))

	for i, lines := range pages {
		var content strings.Builder
		content.WriteString("BT\n")
		fmt.Fprintf(&content, "/F1 %.1f Tf\n", fontSize)
		fmt.Fprintf(&content, "%.1f %.1f Td\n", margin, pageHeight-margin)
		fmt.Fprintf(&content, "%.1f TL\n", leading)
		for j, line := range lines {
			if j > 0 {
				content.WriteString("T*\n")
			}
			fmt.Fprintf(&content, "(%s) Tj\n", escapePDFText(line))
		}
		content.WriteString("ET\n")
		stream := content.String()
		bodies[contentObjs[i]] = fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", len(stream), stream)

		bodies[pageObjs[i]] = fmt.Sprintf(
			"<< /Type /Page /Parent %d 0 R /Resources << /Font << /F1 %d 0 R >> >> /MediaBox [0 0 %.1f %.1f] /Contents %d 0 R >>",
			pagesObj, fontObj, pageWidth, pageHeight, contentObjs[i])
	}
	bodies[catalogObj] = fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pagesObj)

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, catalogObj+1)
	for id := 1; id <= catalogObj; id++ {
		offsets[id] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", id, bodies[id])
	}

	xrefStart := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", catalogObj+1)
	buf.WriteString("0000000000 65535 f \n")
	for id := 1; id <= catalogObj; id++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[id])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", catalogObj+1, catalogObj, xrefStart)

	return buf.Bytes(), nil
}
