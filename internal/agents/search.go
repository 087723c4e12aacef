package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Tangerg/research-core/internal/llm"
	"github.com/Tangerg/research-core/internal/research"
	"github.com/Tangerg/research-core/internal/retrieval"
	"github.com/Tangerg/research-core/internal/telemetry"
)

const (
	searchExpansionModelTag = "query_expansion"
	searchExpansionTemp     = 0.3
	searchExpansionMaxToks  = 500
	searchTopK              = 10
	searchNamespace          = "research_papers"
	searchResultLimit        = 20
)

// SearchAgent expands a user query into sub-queries, runs semantic search
// per sub-query, and returns a deduplicated, score-ranked result set.
// Grounded in src/agents/search_agent.py.
type SearchAgent struct {
	Retrieval *retrieval.Library
	Ledger    *telemetry.Ledger
	ChatModel string
}

func NewSearchAgent(lib *retrieval.Library, ledger *telemetry.Ledger, chatModel string) *SearchAgent {
	return &SearchAgent{Retrieval: lib, Ledger: ledger, ChatModel: chatModel}
}

func (a *SearchAgent) Name() string { return "search" }

func (a *SearchAgent) Run(ctx context.Context, state research.State) (research.State, error) {
	state.CurrentAgent = a.Name()

	if state.UserQuery == "" {
		state.Error = "user_query is required for search"
		return state, nil
	}

	queries, err := a.expandQuery(ctx, state.UserQuery)
	if err != nil {
		slog.Warn("search: query expansion failed", "error", err)
		state.Error = fmt.Sprintf("search_agent_error: %v", err)
		return state, nil
	}
	state.SearchQueries = queries

	var allResults []research.SearchResult
	succeeded := 0
	for _, q := range queries {
		results, err := a.Retrieval.SemanticSearch(ctx, q, searchTopK, searchNamespace)
		if err != nil {
			slog.Warn("search: sub-query failed, continuing", "query", q, "error", err)
			continue
		}
		succeeded++
		for i := range results {
			results[i].OriginQuery = q
		}
		allResults = append(allResults, results...)
	}

	if succeeded == 0 {
		state.Error = "search_agent_error: all sub-queries failed"
		return state, nil
	}

	state.SearchResults = deduplicateAndRank(allResults, searchResultLimit)
	state.Message = "Searching…"
	return state, nil
}

// deduplicateAndRank dedupes by URL-or-doc_id, keeping the higher-score
// copy, then sorts descending by score and truncates to limit. Items with
// neither a URL nor a doc id are dropped, not kept — grounded in
// search_agent.py's _deduplicate_and_rank, which only ever inserts keyed
// items into its dedup map.
func deduplicateAndRank(results []research.SearchResult, limit int) []research.SearchResult {
	byKey := make(map[string]research.SearchResult, len(results))
	for _, r := range results {
		key := r.DedupKey()
		if key == "" {
			continue
		}
		existing, ok := byKey[key]
		if !ok || r.Score > existing.Score {
			byKey[key] = r
		}
	}

	out := make([]research.SearchResult, 0, len(byKey))
	for _, r := range byKey {
		out = append(out, r)
	}
	sortResultsByScoreDesc(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortResultsByScoreDesc(results []research.SearchResult) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

type expansionResponse struct {
	Queries []string `json:"queries"`
}

func (a *SearchAgent) expandQuery(ctx context.Context, query string) ([]string, error) {
	req := llm.ChatRequest{
		Model: a.ChatModel,
		Messages: []llm.Message{
			{Role: "system", Content: "You expand a research question into 3-5 focused search sub-queries. Respond with a JSON object: {\"queries\": [\"...\"]}."},
			{Role: "user", Content: query},
		},
		Temperature:    searchExpansionTemp,
		MaxTokens:      searchExpansionMaxToks,
		ResponseFormat: llm.ResponseFormatJSON,
	}

	resp, err := a.chat(ctx, req, "query_expansion")
	if err != nil {
		return nil, err
	}

	queries, err := parseExpansionResponse(resp.Content)
	if err != nil {
		return nil, err
	}
	return queries, nil
}

func parseExpansionResponse(content string) ([]string, error) {
	queries, err := tryParseExpansion(content)
	if err == nil {
		return queries, nil
	}

	if obj, ok := extractJSONObject(content); ok {
		if queries, err2 := tryParseExpansion(obj); err2 == nil {
			return queries, nil
		}
	}
	return nil, fmt.Errorf("could not parse query expansion response: %w", err)
}

func tryParseExpansion(s string) ([]string, error) {
	var resp expansionResponse
	if err := json.Unmarshal([]byte(s), &resp); err != nil {
		return nil, err
	}
	filtered := make([]string, 0, len(resp.Queries))
	for _, q := range resp.Queries {
		if q != "" {
			filtered = append(filtered, q)
		}
	}
	if len(filtered) == 0 {
		return nil, fmt.Errorf("query expansion returned no usable queries")
	}
	return filtered, nil
}

func (a *SearchAgent) chat(ctx context.Context, req llm.ChatRequest, operation string) (llm.ChatResponse, error) {
	resp, err := a.Retrieval.LLM.Chat(ctx, req)
	if err != nil {
		return llm.ChatResponse{}, err
	}
	if a.Ledger != nil {
		_ = a.Ledger.LogCall(telemetry.LogCallOptions{
			Model:            req.Model,
			PromptTokens:     resp.PromptTokens,
			CompletionTokens: resp.CompletionTokens,
			Operation:        operation,
			Cost:             resp.Cost,
			Method:           "chat_completion",
		})
	}
	return resp, nil
}
