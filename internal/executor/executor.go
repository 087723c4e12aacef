// Package executor runs the compiled research workflow for one task id
// off the request path, pushing progress to the task store as agents
// complete and packaging the final ResultRecord. Adapted from this
// codebase's core/scheduler.Scheduler: the broker-consume loop becomes an
// in-memory job channel, worker.Worker.Work becomes one workflow run, and
// the Limiter/panic-safe-goroutine structure is unchanged. Grounded also
// in the original implementation's src/api/workflow_executor.py
// (progress mapping, ResultRecord packaging, mark_failed on any
// unrecoverable error).
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Tangerg/research-core/internal/apperr"
	"github.com/Tangerg/research-core/internal/research"
	"github.com/Tangerg/research-core/internal/taskstore"
	"github.com/Tangerg/research-core/internal/workflow"
	xsync "github.com/Tangerg/research-core/pkg/sync"
)

// Job is one unit of work: run the workflow for an existing queued task.
type Job struct {
	TaskID string
	Query  string
	Depth  research.Depth
}

// progressByNode mirrors workflow_executor.py's stage weighting; search is
// pinned at 40 per spec.md §4.4.1, synthesis reaches 70, validation 90, and
// both terminal nodes report 100.
var progressByNode = map[string]int{
	"search":       40,
	"synthesis":    70,
	"validation":   90,
	"human_review": 100,
	"finalize":     100,
}

// Executor is a bounded worker pool consuming Jobs off an in-memory
// channel. Submissions beyond the channel's capacity fail fast with
// apperr.Saturated rather than blocking the submitter.
type Executor struct {
	graph   *workflow.Graph
	store   *taskstore.Store
	jobs    chan Job
	limiter *xsync.Limiter
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	stopped atomic.Bool
}

// New builds an Executor with the given worker pool size and queue depth.
// It does not start consuming until Start is called.
func New(graph *workflow.Graph, store *taskstore.Store, workers, queueDepth int) *Executor {
	return &Executor{
		graph:   graph,
		store:   store,
		jobs:    make(chan Job, queueDepth),
		limiter: xsync.NewLimiter(workers),
	}
}

// Start launches the consume loop in a panic-safe goroutine.
func (e *Executor) Start(ctx context.Context) {
	nctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	xsync.Go(func() {
		e.run(nctx)
	})
}

// Stop signals the consume loop to exit and waits for in-flight jobs.
func (e *Executor) Stop() {
	e.stopped.Store(true)
	if e.cancel != nil {
		e.cancel()
	}
	close(e.jobs)
	e.wg.Wait()
}

// Submit enqueues a job for background processing. It never blocks: if
// the queue is full it returns apperr.Saturated immediately, which the
// HTTP layer maps to 503.
func (e *Executor) Submit(job Job) error {
	select {
	case e.jobs <- job:
		return nil
	default:
		return apperr.Saturated("executor queue is full")
	}
}

func (e *Executor) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-e.jobs:
			if !ok {
				return
			}
			e.limiter.Acquire()
			e.wg.Add(1)
			xsync.Go(func() {
				defer e.wg.Done()
				defer e.limiter.Release()
				e.process(ctx, job)
			}, func(err error) {
				slog.Error("executor: job panicked", "task_id", job.TaskID, "error", err)
				e.fail(ctx, job.TaskID, "internal error during processing")
			})
		}
	}
}

func (e *Executor) process(ctx context.Context, job Job) {
	progress := 0
	if err := e.store.Update(ctx, job.TaskID, taskstore.UpdateFields{
		Status:   taskstore.StatusProcessing,
		Progress: &progress,
	}); err != nil {
		slog.Error("executor: failed to mark processing", "task_id", job.TaskID, "error", err)
		return
	}

	initial := research.State{
		TaskID:    job.TaskID,
		UserQuery: job.Query,
		Depth:     job.Depth,
	}

	final, err := e.graph.RunWithHook(ctx, initial, func(node string, state research.State) {
		e.onStep(ctx, job.TaskID, node, state)
	})
	if err != nil {
		e.fail(ctx, job.TaskID, fmt.Sprintf("workflow error: %v", err))
		return
	}
	if final.Error != "" {
		e.fail(ctx, job.TaskID, final.Error)
		return
	}

	sources := summarizeSources(final)
	metadata := map[string]any{
		"search_queries":   final.SearchQueries,
		"num_sources":      final.SourceCount,
		"hitl_completed":   !final.NeedsHITL,
		"validation_result": final.ValidationResult,
	}
	if task, err := e.store.GetStatus(ctx, job.TaskID); err == nil {
		metadata["user_id"] = task.UserID
	}

	report := final.FinalReport
	if report == "" {
		report = final.ReportDraft
	}

	if err := e.store.StoreResult(ctx, job.TaskID, report, sources, final.ConfidenceScore, final.NeedsHITL, metadata); err != nil {
		slog.Error("executor: failed to store result", "task_id", job.TaskID, "error", err)
		e.fail(ctx, job.TaskID, "failed to persist result")
	}
}

func (e *Executor) onStep(ctx context.Context, taskID, node string, state research.State) {
	progress, ok := progressByNode[node]
	if !ok {
		progress = 0
	}
	fields := taskstore.UpdateFields{CurrentAgent: &node, Progress: &progress}
	if state.Message != "" {
		fields.Message = &state.Message
	}
	if err := e.store.Update(ctx, taskID, fields); err != nil {
		slog.Warn("executor: failed to push progress", "task_id", taskID, "node", node, "error", err)
	}
}

func (e *Executor) fail(ctx context.Context, taskID, message string) {
	if err := e.store.MarkFailed(ctx, taskID, message); err != nil {
		slog.Error("executor: failed to mark task failed", "task_id", taskID, "error", err)
	}
}

// summarizeSources caps at 20 entries per spec.md §4.6's "up to 20 source
// summaries" packaging rule.
func summarizeSources(state research.State) []taskstore.SourceSummary {
	const maxSummaries = 20
	chunks := state.RetrievedChunks
	if len(chunks) > maxSummaries {
		chunks = chunks[:maxSummaries]
	}
	out := make([]taskstore.SourceSummary, 0, len(chunks))
	for _, c := range chunks {
		id := c.ChunkID
		if id == "" {
			id = c.DocID
		}
		out = append(out, taskstore.SourceSummary{
			SourceID:       id,
			Title:          c.Title,
			URL:            c.URL,
			RelevanceScore: c.Score,
		})
	}
	return out
}
