// Package taskstore is the durable mapping from task id to task record and
// result record described in spec.md §4.3, backed by an embedded SQLite
// database. Grounded in the original implementation's
// src/api/task_manager.py (schema, status constants, single
// threading.Lock serializing writes), re-expressed with a closed Go status
// enum and a sync.RWMutex in place of the unconditional lock so concurrent
// reads are no longer serialized behind each other.
package taskstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Tangerg/research-core/internal/apperr"
)

// Status is one member of the task status enum. Approve, Edit and Reject
// check the current status before transitioning; Update, MarkFailed and
// StoreResult write the new status without checking the current one, and
// the schema does not constrain transitions either.
type Status string

const (
	StatusQueued        Status = "queued"
	StatusProcessing    Status = "processing"
	StatusPendingReview Status = "pending_review"
	StatusCompleted     Status = "completed"
	StatusApproved      Status = "approved"
	StatusFailed        Status = "failed"
)

// Depth mirrors research.Depth without importing it, keeping the store
// free of workflow-layer types.
type Depth string

const (
	DepthQuick         Depth = "quick"
	DepthStandard      Depth = "standard"
	DepthComprehensive Depth = "comprehensive"
)

// TaskRecord is the persisted row for one research task.
type TaskRecord struct {
	TaskID            string
	Query             string
	UserID            string
	Depth             Depth
	Status            Status
	CurrentAgent      string
	Progress          int
	Message           string
	ErrorMessage      string
	RegenerationCount int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SourceSummary is one entry of ResultRecord.Sources.
type SourceSummary struct {
	SourceID       string  `json:"source_id"`
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	RelevanceScore float64 `json:"relevance_score"`
}

// ResultRecord is the persisted row produced once per task at the end of
// a successful workflow run.
type ResultRecord struct {
	TaskID          string
	Report          string
	Sources         []SourceSummary
	ConfidenceScore float64
	NeedsHITL       bool
	BlobURL         string
	Metadata        map[string]any
	CreatedAt       time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
    task_id            TEXT PRIMARY KEY,
    query              TEXT NOT NULL,
    user_id            TEXT,
    depth              TEXT NOT NULL DEFAULT 'standard',
    status             TEXT NOT NULL DEFAULT 'queued',
    current_agent      TEXT,
    progress           INTEGER NOT NULL DEFAULT 0,
    message            TEXT,
    error_message      TEXT,
    regeneration_count INTEGER NOT NULL DEFAULT 0,
    created_at         TEXT NOT NULL,
    updated_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);

CREATE TABLE IF NOT EXISTS task_results (
    task_id           TEXT PRIMARY KEY REFERENCES tasks(task_id),
    report            TEXT NOT NULL,
    sources           TEXT NOT NULL,
    confidence_score  REAL NOT NULL DEFAULT 0.0,
    needs_hitl        INTEGER NOT NULL DEFAULT 0,
    blob_url          TEXT,
    metadata          TEXT,
    created_at        TEXT NOT NULL
);
`

// Store is the SQLite-backed task store. Writes are serialized by mu;
// reads take the read lock and may run concurrently with each other.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates/migrates the database at path and returns a ready Store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("taskstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one writer connection avoids SQLITE_BUSY under our own mutex

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("taskstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Create inserts a new task in status queued, progress 0, and returns its
// generated id.
func (s *Store) Create(ctx context.Context, query, userID string, depth Depth) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	taskID := uuid.NewString()
	now := nowStamp()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, query, user_id, depth, status, progress, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		taskID, query, nullable(userID), string(depth), string(StatusQueued), now, now)
	if err != nil {
		return "", fmt.Errorf("taskstore: create: %w", err)
	}
	return taskID, nil
}

// GetStatus returns the task record, or apperr.NotFound if absent.
func (s *Store) GetStatus(ctx context.Context, taskID string) (TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getTask(ctx, taskID)
}

func (s *Store) getTask(ctx context.Context, taskID string) (TaskRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, query, user_id, depth, status, current_agent, progress,
		       message, error_message, regeneration_count, created_at, updated_at
		FROM tasks WHERE task_id = ?`, taskID)

	var rec TaskRecord
	var userID, currentAgent, message, errMsg, createdAt, updatedAt sql.NullString
	var depth, status string
	err := row.Scan(&rec.TaskID, &rec.Query, &userID, &depth, &status, &currentAgent,
		&rec.Progress, &message, &errMsg, &rec.RegenerationCount, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return TaskRecord{}, apperr.NotFound(fmt.Sprintf("task %s not found", taskID))
	}
	if err != nil {
		return TaskRecord{}, fmt.Errorf("taskstore: get status: %w", err)
	}

	rec.UserID = userID.String
	rec.Depth = Depth(depth)
	rec.Status = Status(status)
	rec.CurrentAgent = currentAgent.String
	rec.Message = message.String
	rec.ErrorMessage = errMsg.String
	rec.CreatedAt = parseStamp(createdAt.String)
	rec.UpdatedAt = parseStamp(updatedAt.String)
	return rec, nil
}

// GetResult returns the task plus its result record. If the task exists
// but has no result yet, Result is the zero value and ok is false.
func (s *Store) GetResult(ctx context.Context, taskID string) (TaskRecord, ResultRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return TaskRecord{}, ResultRecord{}, false, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT report, sources, confidence_score, needs_hitl, blob_url, metadata, created_at
		FROM task_results WHERE task_id = ?`, taskID)

	var result ResultRecord
	var sourcesJSON, metadataJSON, blobURL, createdAt sql.NullString
	var needsHITL int
	err = row.Scan(&result.Report, &sourcesJSON, &result.ConfidenceScore, &needsHITL, &blobURL, &metadataJSON, &createdAt)
	if err == sql.ErrNoRows {
		return task, ResultRecord{}, false, nil
	}
	if err != nil {
		return TaskRecord{}, ResultRecord{}, false, fmt.Errorf("taskstore: get result: %w", err)
	}

	result.TaskID = taskID
	result.NeedsHITL = needsHITL != 0
	result.BlobURL = blobURL.String
	result.CreatedAt = parseStamp(createdAt.String)
	if sourcesJSON.String != "" {
		_ = json.Unmarshal([]byte(sourcesJSON.String), &result.Sources)
	}
	if metadataJSON.String != "" {
		_ = json.Unmarshal([]byte(metadataJSON.String), &result.Metadata)
	}
	return task, result, true, nil
}

// UpdateFields are the optional fields Update may change; zero values
// (empty string, nil pointer) mean "leave unchanged" except Progress and
// CurrentAgent which use pointers to distinguish unset from zero.
type UpdateFields struct {
	Status       Status
	CurrentAgent *string
	Progress     *int
	Message      *string
	ErrorMessage *string
}

// Update applies a status/progress/message update to a task. It does not
// itself enforce the full state-machine diagram (the workflow executor
// and review controller only ever issue legal transitions); it does
// reject any attempt to move progress backward within the same run.
func (s *Store) Update(ctx context.Context, taskID string, fields UpdateFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}

	sets := []string{"updated_at = ?"}
	args := []any{nowStamp()}

	if fields.Status != "" {
		sets = append(sets, "status = ?")
		args = append(args, string(fields.Status))
	}
	if fields.CurrentAgent != nil {
		sets = append(sets, "current_agent = ?")
		args = append(args, *fields.CurrentAgent)
	}
	if fields.Progress != nil {
		if *fields.Progress < current.Progress {
			return apperr.Internal(fmt.Sprintf("task %s: progress must not decrease (%d -> %d)", taskID, current.Progress, *fields.Progress))
		}
		sets = append(sets, "progress = ?")
		args = append(args, *fields.Progress)
	}
	if fields.Message != nil {
		sets = append(sets, "message = ?")
		args = append(args, *fields.Message)
	}
	if fields.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *fields.ErrorMessage)
	}

	args = append(args, taskID)
	query := fmt.Sprintf("UPDATE tasks SET %s WHERE task_id = ?", joinSets(sets))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("taskstore: update: %w", err)
	}
	return nil
}

// StoreResult writes the ResultRecord and transitions the task to
// pending_review (needsHITL) or completed, in one transaction.
func (s *Store) StoreResult(ctx context.Context, taskID, report string, sources []SourceSummary, confidence float64, needsHITL bool, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("taskstore: store_result: begin: %w", err)
	}
	defer tx.Rollback()

	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("taskstore: store_result: marshal sources: %w", err)
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("taskstore: store_result: marshal metadata: %w", err)
	}

	now := nowStamp()
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO task_results (task_id, report, sources, confidence_score, needs_hitl, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		taskID, report, string(sourcesJSON), confidence, boolToInt(needsHITL), string(metadataJSON), now)
	if err != nil {
		return fmt.Errorf("taskstore: store_result: insert: %w", err)
	}

	status := StatusCompleted
	if needsHITL {
		status = StatusPendingReview
	}
	_, err = tx.ExecContext(ctx, `UPDATE tasks SET status = ?, progress = 100, updated_at = ? WHERE task_id = ?`,
		string(status), now, taskID)
	if err != nil {
		return fmt.Errorf("taskstore: store_result: update status: %w", err)
	}

	return tx.Commit()
}

// MarkFailed transitions a task to failed with the given message.
func (s *Store) MarkFailed(ctx context.Context, taskID, message string) error {
	return s.Update(ctx, taskID, UpdateFields{Status: StatusFailed, ErrorMessage: &message})
}

// Approve transitions a pending_review or completed task to approved,
// leaving the stored report untouched. It is idempotent: approving an
// already-approved task is a no-op returning nil, and
// completed → approved is a legal transition in its own right (spec.md
// §4.3, §8), not just a pending_review gate.
func (s *Store) Approve(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status == StatusApproved {
		return nil
	}
	if task.Status != StatusPendingReview && task.Status != StatusCompleted {
		return apperr.Conflict(fmt.Sprintf("task %s is not pending review", taskID))
	}

	now := nowStamp()
	if _, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE task_id = ?`,
		string(StatusApproved), now, taskID); err != nil {
		return fmt.Errorf("taskstore: approve: %w", err)
	}
	return nil
}

// Edit replaces the stored report text and transitions to approved.
func (s *Store) Edit(ctx context.Context, taskID, newReport string) error {
	return s.transitionFromPendingReview(ctx, taskID, StatusApproved, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE task_results SET report = ? WHERE task_id = ?`, newReport, taskID)
		return err
	})
}

// ErrRegenerationLimitExceeded distinguishes "reject hit the regeneration
// cap" from the ordinary "task is not pending_review" conflict Reject can
// also return; both surface as apperr.Conflict at the HTTP boundary, but
// only the former should drive the task to failed (spec.md §4.4.4).
var ErrRegenerationLimitExceeded = errors.New("taskstore: regeneration limit exceeded")

// Reject increments regeneration_count and resets progress, returning the
// original query for re-queueing, or returns apperr.Conflict if the task
// is not pending_review, or apperr.Conflict wrapping
// ErrRegenerationLimitExceeded if the regeneration limit has already been
// reached (the caller should mark the task failed only in that case, per
// spec.md §4.4.4).
func (s *Store) Reject(ctx context.Context, taskID string, maxRegen int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	if task.Status != StatusPendingReview {
		return "", apperr.Conflict(fmt.Sprintf("task %s is not pending review", taskID))
	}
	if task.RegenerationCount >= maxRegen {
		return "", apperr.Conflict("regeneration limit exceeded", ErrRegenerationLimitExceeded)
	}

	now := nowStamp()
	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, progress = 0, regeneration_count = regeneration_count + 1, updated_at = ?
		WHERE task_id = ?`, string(StatusProcessing), now, taskID)
	if err != nil {
		return "", fmt.Errorf("taskstore: reject: %w", err)
	}
	return task.Query, nil
}

func (s *Store) transitionFromPendingReview(ctx context.Context, taskID string, next Status, mutate func(*sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != StatusPendingReview {
		return apperr.Conflict(fmt.Sprintf("task %s is not pending review", taskID))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("taskstore: begin: %w", err)
	}
	defer tx.Rollback()

	if err := mutate(tx); err != nil {
		return fmt.Errorf("taskstore: mutate: %w", err)
	}

	now := nowStamp()
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE task_id = ?`,
		string(next), now, taskID); err != nil {
		return fmt.Errorf("taskstore: transition: %w", err)
	}
	return tx.Commit()
}

// List returns tasks newest-first, optionally filtered by status.
func (s *Store) List(ctx context.Context, status Status, limit, offset int) ([]TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT task_id, query, user_id, depth, status, current_agent, progress,
	                 message, error_message, regeneration_count, created_at, updated_at
	          FROM tasks`
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("taskstore: list: %w", err)
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		var userID, currentAgent, message, errMsg, createdAt, updatedAt sql.NullString
		var depth, stat string
		if err := rows.Scan(&rec.TaskID, &rec.Query, &userID, &depth, &stat, &currentAgent,
			&rec.Progress, &message, &errMsg, &rec.RegenerationCount, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("taskstore: list scan: %w", err)
		}
		rec.UserID = userID.String
		rec.Depth = Depth(depth)
		rec.Status = Status(stat)
		rec.CurrentAgent = currentAgent.String
		rec.Message = message.String
		rec.ErrorMessage = errMsg.String
		rec.CreatedAt = parseStamp(createdAt.String)
		rec.UpdatedAt = parseStamp(updatedAt.String)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// timeLayout is fixed-width (nine fractional digits, always UTC) so that
// ORDER BY created_at on the stored text sorts chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func nowStamp() string { return time.Now().UTC().Format(timeLayout) }

func parseStamp(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
