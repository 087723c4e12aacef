package agents

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tangerg/research-core/internal/blobstore"
	"github.com/Tangerg/research-core/internal/llm"
	"github.com/Tangerg/research-core/internal/research"
	"github.com/Tangerg/research-core/internal/retrieval"
	"github.com/Tangerg/research-core/internal/vectorstore"
)

type fixedEmbedLLM struct {
	chatContent string
}

func (f *fixedEmbedLLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	return llm.ChatResponse{Content: f.chatContent, PromptTokens: 5, CompletionTokens: 5}, nil
}

func (f *fixedEmbedLLM) Embed(ctx context.Context, model string, texts []string) (llm.EmbedResponse, error) {
	return llm.EmbedResponse{Vectors: [][]float32{{0.1, 0.2}}}, nil
}

type fixedStore struct {
	matches []vectorstore.Match
}

func (f *fixedStore) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]vectorstore.Match, error) {
	return f.matches, nil
}

func (f *fixedStore) Upsert(ctx context.Context, namespace string, points []vectorstore.UpsertPoint) error {
	return nil
}

type memBlobs struct {
	data map[string][]byte
}

func (m *memBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	b, ok := m.data[key]
	if !ok {
		return nil, blobstore.ErrNotFound
	}
	return b, nil
}

func (m *memBlobs) Put(ctx context.Context, key string, data []byte) error {
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[key] = data
	return nil
}

func (m *memBlobs) List(ctx context.Context, prefix string) ([]string, error) {
	return nil, nil
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestSynthesisAgentRun_CombinesBroadAndSearchResults(t *testing.T) {
	blobs := &memBlobs{data: map[string][]byte{}}
	blobs.data["silver/chunks/c1.json"] = mustJSON(t, map[string]any{
		"chunk_id": "c1", "doc_id": "d1", "text": "hydrated text", "title": "T1", "url": "u1", "score": 0.5,
	})

	store := &fixedStore{matches: []vectorstore.Match{
		{ID: "c1", Score: 0.9, Metadata: map[string]any{"chunk_id": "c1", "doc_id": "d1"}},
	}}
	fakeLLM := &fixedEmbedLLM{chatContent: "## Report\nSomething [Source 1]."}

	lib := retrieval.New(fakeLLM, store, blobs, "text-embedding-3-small")
	agent := NewSynthesisAgent(lib, nil, "gpt-4o-mini")

	state := research.State{
		UserQuery: "what is x",
		SearchResults: []research.SearchResult{
			{DocID: "d2", ChunkID: "c2", Text: "search result text", Title: "T2", URL: "u2", Score: 0.7},
		},
	}

	out, err := agent.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Empty(t, out.Error)
	assert.Equal(t, 2, out.SourceCount)
	assert.Contains(t, out.ReportDraft, "[Source 1]")
}

func TestSynthesisAgentRun_NoSourcesIsError(t *testing.T) {
	blobs := &memBlobs{data: map[string][]byte{}}
	store := &fixedStore{matches: nil}
	fakeLLM := &fixedEmbedLLM{chatContent: "unused"}

	lib := retrieval.New(fakeLLM, store, blobs, "text-embedding-3-small")
	agent := NewSynthesisAgent(lib, nil, "gpt-4o-mini")

	state := research.State{UserQuery: "what is x"}
	out, err := agent.Run(context.Background(), state)
	require.NoError(t, err)
	assert.NotEmpty(t, out.Error)
	assert.Equal(t, 0, out.SourceCount)
}

func TestMergeMissingMetadata_FillsFromMatch(t *testing.T) {
	chunks := []research.RetrievedChunk{{ChunkID: "c1"}}
	matches := []research.SearchResult{{ChunkID: "c1", URL: "u1", Title: "T1", DocID: "d1", Score: 0.4}}
	got := mergeMissingMetadata(chunks, matches)
	assert.Equal(t, "u1", got[0].URL)
	assert.Equal(t, "T1", got[0].Title)
	assert.Equal(t, "d1", got[0].DocID)
	assert.InDelta(t, 0.4, got[0].Score, 1e-9)
}

func TestDeduplicateChunks_KeepsUnkeyedItems(t *testing.T) {
	chunks := []research.RetrievedChunk{
		{ChunkID: "c1", Text: "one"},
		{ChunkID: "c1", Text: "dup"},
		{Text: "unkeyed-a"},
		{Text: "unkeyed-b"},
	}
	got := deduplicateChunks(chunks)
	require.Len(t, got, 3)
	assert.Equal(t, "one", got[0].Text)
	assert.Equal(t, "unkeyed-a", got[1].Text)
	assert.Equal(t, "unkeyed-b", got[2].Text)
}

func TestCombineSources_AppendsSearchResultsAfterHydrated(t *testing.T) {
	hydrated := []research.RetrievedChunk{{ChunkID: "h1"}}
	searchResults := []research.SearchResult{{ChunkID: "s1", Text: "from search"}}
	got := combineSources(hydrated, searchResults)
	require.Len(t, got, 2)
	assert.Equal(t, "h1", got[0].ChunkID)
	assert.Equal(t, "s1", got[1].ChunkID)
	assert.Equal(t, "from search", got[1].Text)
}
