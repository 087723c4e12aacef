package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tangerg/research-core/internal/taskstore"
)

func TestWithReferences_AppendsNumberedLinkedList(t *testing.T) {
	out := WithReferences("body text", []taskstore.SourceSummary{
		{SourceID: "1", Title: "Attention Is All You Need", URL: "https://arxiv.org/abs/1706.03762"},
		{SourceID: "2", Title: "No URL Source"},
	})
	assert.Contains(t, out, "## References")
	assert.Contains(t, out, "1. [Attention Is All You Need](https://arxiv.org/abs/1706.03762)")
	assert.Contains(t, out, "2. No URL Source")
}

func TestWithReferences_NoSourcesReturnsBodyUnchanged(t *testing.T) {
	out := WithReferences("body text", nil)
	assert.Equal(t, "body text", out)
}

func TestTitle_PrefersFirstHeading(t *testing.T) {
	assert.Equal(t, "Transformer Attention", Title("# Transformer Attention\n\nBody text follows."))
}

func TestTitle_FallsBackToShortFirstLine(t *testing.T) {
	assert.Equal(t, "Attention mechanisms overview", Title("Attention mechanisms overview\nMore detail below."))
}

func TestTitle_FallsBackToDefault(t *testing.T) {
	assert.Equal(t, "Research Report", Title("\n\n"))
}

func TestRenderPDF_ProducesWellFormedObjectStructure(t *testing.T) {
	body := strings.Repeat("attention is all you need and it spans many words per line to force wrapping logic. ", 50)
	pdf, err := RenderPDF("Attention", body, Metadata{TaskID: "t1", ConfidenceScore: 0.85, SourceCount: 10, CreatedAt: "2026-01-01 00:00:00 UTC"})
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-1.4")))
	assert.True(t, bytes.Contains(pdf, []byte("/Type /Catalog")))
	assert.True(t, bytes.Contains(pdf, []byte("/Type /Pages")))
	assert.True(t, bytes.Contains(pdf, []byte("startxref")))
	assert.True(t, bytes.HasSuffix(bytes.TrimRight(pdf, "\n"), []byte("%%EOF")))
}

func TestRenderPDF_EscapesParensAndBackslashes(t *testing.T) {
	pdf, err := RenderPDF("Title", "a (parenthetical) claim \\ with a backslash", Metadata{})
	require.NoError(t, err)
	assert.True(t, bytes.Contains(pdf, []byte(`\(parenthetical\)`)))
	assert.True(t, bytes.Contains(pdf, []byte(`\\`)))
}
