package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tangerg/research-core/internal/executor"
	"github.com/Tangerg/research-core/internal/research"
	"github.com/Tangerg/research-core/internal/review"
	"github.com/Tangerg/research-core/internal/taskstore"
	"github.com/Tangerg/research-core/internal/workflow"
)

type fnStep func(context.Context, research.State) (research.State, error)

func (f fnStep) Run(ctx context.Context, state research.State) (research.State, error) { return f(ctx, state) }

func newTestServer(t *testing.T, rateLimitPerMinute int) (http.Handler, *taskstore.Store) {
	t.Helper()
	store, err := taskstore.Open(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	graph, err := workflow.NewBuilder().
		AddNode("search", fnStep(func(ctx context.Context, s research.State) (research.State, error) {
			s.RetrievedChunks = []research.RetrievedChunk{{ChunkID: "c1", Title: "T", URL: "u", Score: 0.9}}
			s.SourceCount = 1
			s.ReportDraft = "# Report\nbody citing [Source 1]"
			s.ConfidenceScore = 0.9
			s.FinalReport = s.ReportDraft
			return s, nil
		})).
		SetEntryPoint("search").
		AddEdge("search", "").
		Compile()
	require.NoError(t, err)

	exec := executor.New(graph, store, 2, 10)
	exec.Start(context.Background())
	t.Cleanup(exec.Stop)

	ctrl := review.New(store, exec, 2)
	return New(store, exec, ctrl, rateLimitPerMinute), store
}

func waitForTerminal(t *testing.T, store *taskstore.Store, taskID string) taskstore.TaskRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := store.GetStatus(context.Background(), taskID)
		require.NoError(t, err)
		switch rec.Status {
		case taskstore.StatusCompleted, taskstore.StatusPendingReview, taskstore.StatusFailed:
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for task to reach a terminal status")
	return taskstore.TaskRecord{}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleSubmit_RejectsShortQuery(t *testing.T) {
	handler, _ := newTestServer(t, 100)
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/research", researchRequest{Query: "too short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSubmit_RejectsBadDepth(t *testing.T) {
	handler, _ := newTestServer(t, 100)
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/research", researchRequest{
		Query: "what is the capital of attention mechanisms", Depth: "extreme",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSubmit_HappyPathQueuesAndCompletes(t *testing.T) {
	handler, store := newTestServer(t, 100)
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/research", researchRequest{
		Query: "what are attention mechanisms in transformers", Depth: "standard",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp researchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp.Status)
	assert.NotEmpty(t, resp.TaskID)

	term := waitForTerminal(t, store, resp.TaskID)
	assert.Equal(t, taskstore.StatusCompleted, term.Status)

	statusRec := doJSON(t, handler, http.MethodGet, "/api/v1/status/"+resp.TaskID, nil)
	assert.Equal(t, http.StatusOK, statusRec.Code)

	reportRec := doJSON(t, handler, http.MethodGet, "/api/v1/report/"+resp.TaskID, nil)
	assert.Equal(t, http.StatusOK, reportRec.Code)
	var report reportResponse
	require.NoError(t, json.Unmarshal(reportRec.Body.Bytes(), &report))
	assert.Contains(t, report.Report, "[Source 1]")
	assert.Len(t, report.Sources, 1)
}

func TestHandleStatus_BadUUIDIs400(t *testing.T) {
	handler, _ := newTestServer(t, 100)
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/status/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStatus_UnknownTaskIs404(t *testing.T) {
	handler, _ := newTestServer(t, 100)
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/status/"+unusedUUID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleReport_MarkdownFormat(t *testing.T) {
	handler, store := newTestServer(t, 100)
	ctx := context.Background()
	taskID, err := store.Create(ctx, "what are attention mechanisms in transformers", "", taskstore.DepthStandard)
	require.NoError(t, err)
	require.NoError(t, store.StoreResult(ctx, taskID, "# Report\ncited [Source 1]",
		[]taskstore.SourceSummary{{SourceID: "1", Title: "Paper", URL: "https://example.com"}}, 0.9, false, nil))

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/report/"+taskID+"?format=markdown", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "## References")
}

func TestHandleReport_ConflictWhileProcessing(t *testing.T) {
	handler, store := newTestServer(t, 100)
	ctx := context.Background()
	taskID, err := store.Create(ctx, "what are attention mechanisms in transformers", "", taskstore.DepthStandard)
	require.NoError(t, err)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/report/"+taskID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleReview_ApproveFlow(t *testing.T) {
	handler, store := newTestServer(t, 100)
	ctx := context.Background()
	taskID, err := store.Create(ctx, "what are attention mechanisms in transformers", "", taskstore.DepthStandard)
	require.NoError(t, err)
	require.NoError(t, store.StoreResult(ctx, taskID, "draft [Source 1]", nil, 0.5, true, nil))

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/review/"+taskID, reviewRequest{Action: "approve"})
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp reviewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "approved", resp.Status)
}

func TestHandleReview_RejectWhenNotPendingReviewIsConflict(t *testing.T) {
	handler, store := newTestServer(t, 100)
	ctx := context.Background()
	taskID, err := store.Create(ctx, "what are attention mechanisms in transformers", "", taskstore.DepthStandard)
	require.NoError(t, err)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/review/"+taskID, reviewRequest{Action: "reject"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	handler, _ := newTestServer(t, 100)
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestRateLimit_RejectsAfterBurstExhausted(t *testing.T) {
	handler, _ := newTestServer(t, 1)
	req := researchRequest{Query: "what are attention mechanisms in transformers"}

	first := doJSON(t, handler, http.MethodPost, "/api/v1/research", req)
	assert.Equal(t, http.StatusCreated, first.Code)

	second := doJSON(t, handler, http.MethodPost, "/api/v1/research", req)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

const unusedUUID = "00000000-0000-4000-8000-000000000000"
