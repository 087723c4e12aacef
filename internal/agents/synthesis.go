package agents

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Tangerg/research-core/internal/llm"
	"github.com/Tangerg/research-core/internal/research"
	"github.com/Tangerg/research-core/internal/retrieval"
	"github.com/Tangerg/research-core/internal/telemetry"
)

const (
	synthesisTopK          = 15
	synthesisNamespace     = "research_papers"
	synthesisMaxSources    = 30
	synthesisMinSources    = 5
	synthesisTemp          = 0.3
	synthesisMaxTokens     = 2000
	synthesisTargetWords   = "1200-1500"
)

// SynthesisAgent runs a broader-recall search, hydrates and merges
// sources, and generates a cited markdown report. Grounded in
// src/agents/synthesis_agent.py.
type SynthesisAgent struct {
	Retrieval *retrieval.Library
	Ledger    *telemetry.Ledger
	ChatModel string
}

func NewSynthesisAgent(lib *retrieval.Library, ledger *telemetry.Ledger, chatModel string) *SynthesisAgent {
	return &SynthesisAgent{Retrieval: lib, Ledger: ledger, ChatModel: chatModel}
}

func (a *SynthesisAgent) Name() string { return "synthesis" }

func (a *SynthesisAgent) Run(ctx context.Context, state research.State) (research.State, error) {
	state.CurrentAgent = a.Name()
	if state.Error != "" {
		return state, nil
	}

	broadResults, err := a.Retrieval.SemanticSearch(ctx, state.UserQuery, synthesisTopK, synthesisNamespace)
	if err != nil {
		state.Error = fmt.Sprintf("synthesis_agent_error: broad search failed: %v", err)
		return state, nil
	}

	chunkIDs := make([]string, 0, len(broadResults))
	for _, r := range broadResults {
		if r.ChunkID != "" {
			chunkIDs = append(chunkIDs, r.ChunkID)
		}
	}
	hydrated := a.Retrieval.HydrateChunks(ctx, chunkIDs)
	hydrated = mergeMissingMetadata(hydrated, broadResults)

	allChunks := combineSources(hydrated, state.SearchResults)
	allChunks = deduplicateChunks(allChunks)

	if len(allChunks) == 0 {
		state.Error = "synthesis_agent_error: no sources available after combining retrieval results"
		state.RetrievedChunks = nil
		state.SourceCount = 0
		state.ReportDraft = ""
		return state, nil
	}
	if len(allChunks) < synthesisMinSources {
		// Acceptable but logged, per spec.md §4.4.2.
		slog.Warn("synthesis: fewer sources than recommended", "task_id", state.TaskID, "sources", len(allChunks), "recommended", synthesisMinSources)
		state.Message = fmt.Sprintf("only %d sources found, continuing", len(allChunks))
	}
	if len(allChunks) > synthesisMaxSources {
		allChunks = allChunks[:synthesisMaxSources]
	}

	state.RetrievedChunks = allChunks
	state.SourceCount = len(allChunks)

	contextText := retrieval.FormatContext(allChunks)

	report, err := a.generateReport(ctx, state.UserQuery, contextText)
	if err != nil {
		// Sources are kept; only the draft is empty, per synthesis_agent.py's
		// on-failure behavior.
		state.ReportDraft = ""
		state.Error = fmt.Sprintf("synthesis_agent_error: generation failed: %v", err)
		return state, nil
	}

	state.ReportDraft = report
	return state, nil
}

// mergeMissingMetadata fills url/title/doc_id/score on hydrated chunks
// from the broad-search match metadata when the blob-stored chunk lacks
// it, grounded in synthesis_agent.py's Pinecone-metadata merge step.
func mergeMissingMetadata(chunks []research.RetrievedChunk, matches []research.SearchResult) []research.RetrievedChunk {
	byChunkID := make(map[string]research.SearchResult, len(matches))
	for _, m := range matches {
		if m.ChunkID != "" {
			byChunkID[m.ChunkID] = m
		}
	}
	for i, c := range chunks {
		m, ok := byChunkID[c.ChunkID]
		if !ok {
			continue
		}
		if c.URL == "" {
			chunks[i].URL = m.URL
		}
		if c.Title == "" {
			chunks[i].Title = m.Title
		}
		if c.DocID == "" {
			chunks[i].DocID = m.DocID
		}
		if c.Score == 0 {
			chunks[i].Score = m.Score
		}
	}
	return chunks
}

// combineSources appends search_results (converted to chunk shape) after
// the hydrated Pinecone/Qdrant chunks, grounded in
// synthesis_agent.py's _combine_sources.
func combineSources(hydrated []research.RetrievedChunk, searchResults []research.SearchResult) []research.RetrievedChunk {
	out := append([]research.RetrievedChunk(nil), hydrated...)
	for _, r := range searchResults {
		out = append(out, research.RetrievedChunk{
			ChunkID: r.ChunkID,
			DocID:   r.DocID,
			Text:    r.Text,
			Title:   r.Title,
			URL:     r.URL,
			Score:   r.Score,
		})
	}
	return out
}

// deduplicateChunks dedupes by chunk_id (fallback doc_id), preserving
// order. Unlike the Search Agent's dedup pass, items with neither key are
// kept rather than dropped — grounded in synthesis_agent.py's
// _deduplicate_chunks, which falls through to appending unkeyed items.
func deduplicateChunks(chunks []research.RetrievedChunk) []research.RetrievedChunk {
	seen := make(map[string]bool, len(chunks))
	out := make([]research.RetrievedChunk, 0, len(chunks))
	for _, c := range chunks {
		key := c.ChunkID
		if key == "" {
			key = c.DocID
		}
		if key == "" {
			out = append(out, c)
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func (a *SynthesisAgent) generateReport(ctx context.Context, query, contextText string) (string, error) {
	req := llm.ChatRequest{
		Model: a.ChatModel,
		Messages: []llm.Message{
			{Role: "system", Content: fmt.Sprintf(
				"You are a research report writer. Write a markdown report, %s words, "+
					"covering the topic using only the provided sources. Every factual claim must "+
					"carry a citation in the form [Source i] referring to the numbered sources below.",
				synthesisTargetWords)},
			{Role: "user", Content: fmt.Sprintf("Topic: %s\n\n%s", query, contextText)},
		},
		Temperature: synthesisTemp,
		MaxTokens:   synthesisMaxTokens,
	}

	resp, err := a.Retrieval.LLM.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	if a.Ledger != nil {
		_ = a.Ledger.LogCall(telemetry.LogCallOptions{
			Model:            req.Model,
			PromptTokens:     resp.PromptTokens,
			CompletionTokens: resp.CompletionTokens,
			Operation:        "synthesis",
			Cost:             resp.Cost,
			Method:           "chat_completion",
		})
	}
	return resp.Content, nil
}
