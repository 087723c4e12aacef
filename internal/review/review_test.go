package review

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tangerg/research-core/internal/apperr"
	"github.com/Tangerg/research-core/internal/executor"
	"github.com/Tangerg/research-core/internal/research"
	"github.com/Tangerg/research-core/internal/taskstore"
	"github.com/Tangerg/research-core/internal/workflow"
)

type fnStep func(context.Context, research.State) (research.State, error)

func (f fnStep) Run(ctx context.Context, state research.State) (research.State, error) { return f(ctx, state) }

func newTestController(t *testing.T, maxRegen, queueDepth int) (*Controller, *taskstore.Store) {
	t.Helper()
	store, err := taskstore.Open(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	graph, err := workflow.NewBuilder().
		AddNode("search", fnStep(func(ctx context.Context, s research.State) (research.State, error) { return s, nil })).
		SetEntryPoint("search").
		AddEdge("search", "").
		Compile()
	require.NoError(t, err)

	exec := executor.New(graph, store, 1, queueDepth)
	return New(store, exec, maxRegen), store
}

func newPendingReviewTask(t *testing.T, store *taskstore.Store, query string) string {
	t.Helper()
	ctx := context.Background()
	taskID, err := store.Create(ctx, query, "", taskstore.DepthStandard)
	require.NoError(t, err)
	err = store.StoreResult(ctx, taskID, "draft report [Source 1]", nil, 0.5, true, nil)
	require.NoError(t, err)
	return taskID
}

func TestController_Approve(t *testing.T) {
	ctrl, store := newTestController(t, 2, 4)
	taskID := newPendingReviewTask(t, store, "what are the effects of microplastics")

	err := ctrl.Dispatch(context.Background(), taskID, Request{Action: ActionApprove})
	require.NoError(t, err)

	rec, err := store.GetStatus(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.StatusApproved, rec.Status)
}

func TestController_Edit_ReplacesReportAndApproves(t *testing.T) {
	ctrl, store := newTestController(t, 2, 4)
	taskID := newPendingReviewTask(t, store, "what are the effects of microplastics")

	err := ctrl.Dispatch(context.Background(), taskID, Request{Action: ActionEdit, EditedReport: "corrected report [Source 1]"})
	require.NoError(t, err)

	rec, err := store.GetStatus(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.StatusApproved, rec.Status)

	_, result, ok, err := store.GetResult(context.Background(), taskID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "corrected report [Source 1]", result.Report)
}

func TestController_Edit_RequiresEditedReport(t *testing.T) {
	ctrl, store := newTestController(t, 2, 4)
	taskID := newPendingReviewTask(t, store, "what are the effects of microplastics")

	err := ctrl.Dispatch(context.Background(), taskID, Request{Action: ActionEdit})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindInput, appErr.Kind)
}

func TestController_Reject_RequeuesUnderLimit(t *testing.T) {
	ctrl, store := newTestController(t, 2, 4)
	taskID := newPendingReviewTask(t, store, "what are the effects of microplastics")

	err := ctrl.Dispatch(context.Background(), taskID, Request{Action: ActionReject, RejectionReason: "too shallow"})
	require.NoError(t, err)

	rec, err := store.GetStatus(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.StatusProcessing, rec.Status)
	assert.Equal(t, 1, rec.RegenerationCount)
}

func TestController_Reject_FailsTaskWhenRegenerationLimitExceeded(t *testing.T) {
	ctrl, store := newTestController(t, 1, 4)
	taskID := newPendingReviewTask(t, store, "what are the effects of microplastics")

	// First rejection consumes the only allowed regeneration and leaves the
	// task back in processing, not pending_review, so it must be manually
	// pushed back to pending_review to exercise the limit-exceeded path.
	require.NoError(t, ctrl.Dispatch(context.Background(), taskID, Request{Action: ActionReject}))
	require.NoError(t, store.StoreResult(context.Background(), taskID, "draft report [Source 1]", nil, 0.5, true, nil))

	err := ctrl.Dispatch(context.Background(), taskID, Request{Action: ActionReject})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindConflict, appErr.Kind)

	rec, getErr := store.GetStatus(context.Background(), taskID)
	require.NoError(t, getErr)
	assert.Equal(t, taskstore.StatusFailed, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "regeneration limit exceeded")
}

func TestController_Reject_NotPendingReviewIsConflict(t *testing.T) {
	ctrl, store := newTestController(t, 2, 4)
	ctx := context.Background()
	taskID, err := store.Create(ctx, "what are the effects of microplastics", "", taskstore.DepthStandard)
	require.NoError(t, err)

	err = ctrl.Dispatch(ctx, taskID, Request{Action: ActionReject})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindConflict, appErr.Kind)

	// This conflict is "not pending_review", not "regeneration limit
	// exceeded" — it must not drive the task to failed.
	rec, getErr := store.GetStatus(ctx, taskID)
	require.NoError(t, getErr)
	assert.Equal(t, taskstore.StatusQueued, rec.Status)
	assert.Empty(t, rec.ErrorMessage)
}

func TestController_Reject_OnCompletedTaskIsConflictAndLeavesTaskUntouched(t *testing.T) {
	ctrl, store := newTestController(t, 2, 4)
	ctx := context.Background()
	taskID, err := store.Create(ctx, "what are the effects of microplastics", "", taskstore.DepthStandard)
	require.NoError(t, err)
	require.NoError(t, store.StoreResult(ctx, taskID, "draft report [Source 1]", nil, 0.9, false, nil))

	before, err := store.GetStatus(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, taskstore.StatusCompleted, before.Status)

	err = ctrl.Dispatch(ctx, taskID, Request{Action: ActionReject})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindConflict, appErr.Kind)

	// A completed→failed transition from a reject on a completed task
	// would violate the immutability of a completed ResultRecord.
	after, getErr := store.GetStatus(ctx, taskID)
	require.NoError(t, getErr)
	assert.Equal(t, taskstore.StatusCompleted, after.Status)
	assert.Empty(t, after.ErrorMessage)
}

func TestController_Approve_IsIdempotent(t *testing.T) {
	ctrl, store := newTestController(t, 2, 4)
	taskID := newPendingReviewTask(t, store, "what are the effects of microplastics")

	require.NoError(t, ctrl.Dispatch(context.Background(), taskID, Request{Action: ActionApprove}))
	require.NoError(t, ctrl.Dispatch(context.Background(), taskID, Request{Action: ActionApprove}))

	rec, err := store.GetStatus(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.StatusApproved, rec.Status)
}

func TestController_Approve_CompletedTaskIsLegalTransition(t *testing.T) {
	ctrl, store := newTestController(t, 2, 4)
	ctx := context.Background()
	taskID, err := store.Create(ctx, "what are the effects of microplastics", "", taskstore.DepthStandard)
	require.NoError(t, err)
	require.NoError(t, store.StoreResult(ctx, taskID, "report [Source 1]", nil, 0.9, false, nil))

	require.NoError(t, ctrl.Dispatch(ctx, taskID, Request{Action: ActionApprove}))

	rec, err := store.GetStatus(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.StatusApproved, rec.Status)
}

func TestController_UnknownActionIsInputError(t *testing.T) {
	ctrl, store := newTestController(t, 2, 4)
	taskID := newPendingReviewTask(t, store, "what are the effects of microplastics")

	err := ctrl.Dispatch(context.Background(), taskID, Request{Action: "cancel"})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindInput, appErr.Kind)
}
