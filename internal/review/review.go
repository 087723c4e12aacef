// Package review implements the HITL Review Controller (spec.md §4.8):
// the single dispatch point for approve/edit/reject decisions arriving on
// the review endpoint, bounded regeneration on reject. Grounded in
// src/api/workflow_executor.py's reject handling, which re-queues a fresh
// executor run with the original query and task id rather than resuming
// the old one in place.
package review

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tangerg/research-core/internal/apperr"
	"github.com/Tangerg/research-core/internal/executor"
	"github.com/Tangerg/research-core/internal/research"
	"github.com/Tangerg/research-core/internal/taskstore"
)

// Action is one of the three decisions the review endpoint accepts.
type Action string

const (
	ActionApprove Action = "approve"
	ActionEdit    Action = "edit"
	ActionReject  Action = "reject"
)

// Request is the review endpoint's request body, per spec.md §6.
type Request struct {
	Action          Action
	EditedReport    string
	RejectionReason string
}

// Controller dispatches review decisions against the task store and,
// on reject, re-enqueues a new workflow run.
type Controller struct {
	Store    *taskstore.Store
	Executor *executor.Executor
	MaxRegen int
}

func New(store *taskstore.Store, exec *executor.Executor, maxRegen int) *Controller {
	return &Controller{Store: store, Executor: exec, MaxRegen: maxRegen}
}

// Dispatch validates that taskID is pending_review (the store methods
// already enforce this) and applies req, returning apperr.Input for a
// malformed request and propagating apperr.Conflict/NotFound from the
// store unchanged.
func (c *Controller) Dispatch(ctx context.Context, taskID string, req Request) error {
	switch req.Action {
	case ActionApprove:
		return c.Store.Approve(ctx, taskID)

	case ActionEdit:
		if req.EditedReport == "" {
			return apperr.Input("edited_report is required for the edit action")
		}
		return c.Store.Edit(ctx, taskID, req.EditedReport)

	case ActionReject:
		query, err := c.Store.Reject(ctx, taskID, c.MaxRegen)
		if err != nil {
			if errors.Is(err, taskstore.ErrRegenerationLimitExceeded) {
				_ = c.Store.MarkFailed(ctx, taskID, "regeneration limit exceeded")
			}
			return err
		}

		task, getErr := c.Store.GetStatus(ctx, taskID)
		if getErr != nil {
			return getErr
		}

		submitErr := c.Executor.Submit(executor.Job{
			TaskID: taskID,
			Query:  query,
			Depth:  research.Depth(task.Depth),
		})
		if submitErr != nil {
			_ = c.Store.MarkFailed(ctx, taskID, "failed to re-queue regeneration")
			return submitErr
		}
		return nil

	default:
		return apperr.Input(fmt.Sprintf("unknown review action %q", req.Action))
	}
}
