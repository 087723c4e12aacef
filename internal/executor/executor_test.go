package executor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tangerg/research-core/internal/research"
	"github.com/Tangerg/research-core/internal/taskstore"
	"github.com/Tangerg/research-core/internal/workflow"
)

type fnStep func(context.Context, research.State) (research.State, error)

func (f fnStep) Run(ctx context.Context, state research.State) (research.State, error) { return f(ctx, state) }

func newTestStore(t *testing.T) *taskstore.Store {
	t.Helper()
	store, err := taskstore.Open(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
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

func TestExecutor_HappyPathCompletes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	taskID, err := store.Create(ctx, "what is quantum computing and how", "", taskstore.DepthStandard)
	require.NoError(t, err)

	graph, err := workflow.NewBuilder().
		AddNode("search", fnStep(func(ctx context.Context, s research.State) (research.State, error) {
			s.CurrentAgent = "search"
			s.RetrievedChunks = []research.RetrievedChunk{{ChunkID: "c1", Title: "T", URL: "u", Score: 0.9}}
			s.SourceCount = 1
			s.ReportDraft = "report [Source 1]"
			s.ConfidenceScore = 0.9
			s.FinalReport = "report [Source 1]"
			return s, nil
		})).
		SetEntryPoint("search").
		AddEdge("search", "").
		Compile()
	require.NoError(t, err)

	exec := New(graph, store, 2, 10)
	exec.Start(ctx)
	defer exec.Stop()

	require.NoError(t, exec.Submit(Job{TaskID: taskID, Query: "what is quantum computing and how", Depth: research.DepthStandard}))

	rec := waitForTerminal(t, store, taskID)
	assert.Equal(t, taskstore.StatusCompleted, rec.Status)
	assert.Equal(t, 100, rec.Progress)

	_, result, ok, err := store.GetResult(ctx, taskID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "report [Source 1]", result.Report)
}

func TestExecutor_NodeErrorMarksFailed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	taskID, err := store.Create(ctx, "a query that will fail entirely", "", taskstore.DepthStandard)
	require.NoError(t, err)

	graph, err := workflow.NewBuilder().
		AddNode("search", fnStep(func(ctx context.Context, s research.State) (research.State, error) {
			s.Error = "search_agent_error: boom"
			return s, nil
		})).
		SetEntryPoint("search").
		AddEdge("search", "").
		Compile()
	require.NoError(t, err)

	exec := New(graph, store, 1, 10)
	exec.Start(ctx)
	defer exec.Stop()

	require.NoError(t, exec.Submit(Job{TaskID: taskID, Query: "a query that will fail entirely", Depth: research.DepthStandard}))

	rec := waitForTerminal(t, store, taskID)
	assert.Equal(t, taskstore.StatusFailed, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "boom")
}

func TestExecutor_SubmitFailsWhenQueueSaturated(t *testing.T) {
	// No Start() call here: with nothing draining the channel, Submit's
	// non-blocking send deterministically fails once the buffer is full,
	// with no dependence on worker scheduling timing.
	store := newTestStore(t)
	graph, err := workflow.NewBuilder().
		AddNode("search", fnStep(func(ctx context.Context, s research.State) (research.State, error) {
			return s, nil
		})).
		SetEntryPoint("search").
		AddEdge("search", "").
		Compile()
	require.NoError(t, err)

	exec := New(graph, store, 1, 1)

	require.NoError(t, exec.Submit(Job{TaskID: "t1", Query: "first queued query of length"}))
	err = exec.Submit(Job{TaskID: "t2", Query: "second queued query of length"})
	assert.Error(t, err)
}
