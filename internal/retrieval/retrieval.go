// Package retrieval implements the retrieval substrate agents consume:
// embedding, semantic search, chunk hydration, and numbered-source
// context assembly. Grounded in the original implementation's
// src/utils/pinecone_rag.py, adapted from a Pinecone-specific module into
// one built on the vectorstore and blobstore capability interfaces.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/Tangerg/research-core/internal/blobstore"
	"github.com/Tangerg/research-core/internal/llm"
	"github.com/Tangerg/research-core/internal/research"
	"github.com/Tangerg/research-core/internal/vectorstore"
)

// Library wires the three capability clients behind the retrieval
// operations named in spec.md §4.1.
type Library struct {
	LLM        llm.Client
	VectorDB   vectorstore.Store
	Blobs      blobstore.Store
	EmbedModel string
}

func New(llmClient llm.Client, store vectorstore.Store, blobs blobstore.Store, embedModel string) *Library {
	return &Library{LLM: llmClient, VectorDB: store, Blobs: blobs, EmbedModel: embedModel}
}

// Embed returns the embedding vector for a single piece of text.
func (l *Library) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := l.LLM.Embed(ctx, l.EmbedModel, []string{text})
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed: %w", err)
	}
	if len(resp.Vectors) == 0 {
		return nil, fmt.Errorf("retrieval: embed: no vector returned")
	}
	return resp.Vectors[0], nil
}

// SemanticSearch embeds query and returns up to topK search results from
// namespace, sorted by descending similarity score.
func (l *Library) SemanticSearch(ctx context.Context, query string, topK int, namespace string) ([]research.SearchResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("retrieval: top_k must be positive, got %d", topK)
	}

	vector, err := l.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := l.VectorDB.Query(ctx, namespace, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("retrieval: semantic search: %w", err)
	}

	results := make([]research.SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, research.SearchResult{
			DocID:         stringField(m.Metadata, "doc_id", m.ID),
			ChunkID:       stringField(m.Metadata, "chunk_id", ""),
			Score:         m.Score,
			Text:          stringField(m.Metadata, "text", ""),
			Title:         stringField(m.Metadata, "title", ""),
			URL:           stringField(m.Metadata, "url", ""),
			ExtraMetadata: m.Metadata,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// HydrateChunks fetches full chunk bodies from the blob store keyed by
// silver/chunks/{id}.json. Missing or malformed entries are logged and
// skipped, not fatal, preserving input order for entries that do resolve.
func (l *Library) HydrateChunks(ctx context.Context, ids []string) []research.RetrievedChunk {
	chunks := make([]research.RetrievedChunk, 0, len(ids))
	for _, id := range ids {
		key := fmt.Sprintf("silver/chunks/%s.json", id)
		data, err := l.Blobs.Get(ctx, key)
		if err != nil {
			slog.Warn("retrieval: chunk not available, skipping", "chunk_id", id, "error", err)
			continue
		}

		var payload struct {
			ChunkID string  `json:"chunk_id"`
			DocID   string  `json:"doc_id"`
			Text    string  `json:"text"`
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Score   float64 `json:"score"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			slog.Warn("retrieval: malformed chunk, skipping", "chunk_id", id, "error", err)
			continue
		}

		text := payload.Text
		if len(text) > research.MaxChunkTextBytes {
			text = text[:research.MaxChunkTextBytes]
		}

		chunks = append(chunks, research.RetrievedChunk{
			ChunkID: payload.ChunkID,
			DocID:   payload.DocID,
			Text:    text,
			Title:   payload.Title,
			URL:     payload.URL,
			Score:   payload.Score,
		})
	}
	return chunks
}

// FormatContext numbers chunks 1..N in order, producing the authoritative
// citation namespace downstream generation and validation rely on.
// Layout grounded exactly in pinecone_rag.py's prepare_context.
func FormatContext(chunks []research.RetrievedChunk) string {
	if len(chunks) == 0 {
		return ""
	}

	var lines []string
	for i, chunk := range chunks {
		title := firstNonEmpty(chunk.Title, "Untitled")
		docID := firstNonEmpty(chunk.DocID, chunk.ChunkID, "unknown")
		url := firstNonEmpty(chunk.URL, "N/A")

		lines = append(lines,
			fmt.Sprintf("[Source %d] Title: %s (Doc ID: %s, URL: %s)", i+1, title, docID, url),
			fmt.Sprintf("Content: %s", chunk.Text),
			"",
		)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func firstNonEmpty(values ...string) string {
	v, _ := lo.Coalesce(values...)
	return v
}

func stringField(metadata map[string]any, key, fallback string) string {
	if metadata == nil {
		return fallback
	}
	if v, ok := metadata[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}
