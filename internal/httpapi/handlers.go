package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Tangerg/research-core/internal/apperr"
	"github.com/Tangerg/research-core/internal/executor"
	"github.com/Tangerg/research-core/internal/report"
	"github.com/Tangerg/research-core/internal/review"
	"github.com/Tangerg/research-core/internal/taskstore"
)

type researchRequest struct {
	Query  string `json:"query"`
	Depth  string `json:"depth"`
	UserID string `json:"user_id"`
}

type researchResponse struct {
	TaskID    string    `json:"task_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// handleSubmit implements POST /api/v1/research.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Input("malformed JSON body"))
		return
	}
	if err := validateQuery(req.Query); err != nil {
		writeError(w, err)
		return
	}
	depth, err := validateDepth(req.Depth)
	if err != nil {
		writeError(w, err)
		return
	}

	taskID, err := s.store.Create(r.Context(), req.Query, req.UserID, taskstore.Depth(depth))
	if err != nil {
		writeError(w, apperr.Internal("failed to create task", err))
		return
	}

	rec, err := s.store.GetStatus(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.executor.Submit(executor.Job{TaskID: taskID, Query: req.Query, Depth: depth}); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, researchResponse{
		TaskID:    taskID,
		Status:    string(rec.Status),
		CreatedAt: rec.CreatedAt,
	})
}

type statusResponse struct {
	TaskID               string    `json:"task_id"`
	Status               string    `json:"status"`
	CurrentAgent         string    `json:"current_agent,omitempty"`
	Progress             int       `json:"progress"`
	Message              string    `json:"message,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
	EstimatedCompletion  string    `json:"estimated_completion,omitempty"`
}

// handleStatus implements GET /api/v1/status/{task_id}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if err := validateTaskID(taskID); err != nil {
		writeError(w, err)
		return
	}

	if cached, ok := s.statusCache.Get(taskID); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	rec, err := s.store.GetStatus(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := statusResponse{
		TaskID:       rec.TaskID,
		Status:       string(rec.Status),
		CurrentAgent: rec.CurrentAgent,
		Progress:     rec.Progress,
		Message:      rec.Message,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
	s.statusCache.Put(taskID, resp)
	writeJSON(w, http.StatusOK, resp)
}

type reportResponse struct {
	TaskID          string                   `json:"task_id"`
	Report          string                   `json:"report"`
	Sources         []taskstore.SourceSummary `json:"sources"`
	ConfidenceScore float64                  `json:"confidence_score"`
	NeedsHITL       bool                     `json:"needs_hitl"`
	Metadata        map[string]any           `json:"metadata,omitempty"`
}

// handleReport implements GET /api/v1/report/{task_id}?format=json|markdown|pdf.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if err := validateTaskID(taskID); err != nil {
		writeError(w, err)
		return
	}
	format, err := validateFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, err)
		return
	}

	task, result, ok, err := s.store.GetResult(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}

	if task.Status == taskstore.StatusFailed {
		writeError(w, apperr.Input("task "+taskID+" failed: "+task.ErrorMessage))
		return
	}
	switch task.Status {
	case taskstore.StatusQueued, taskstore.StatusProcessing, taskstore.StatusPendingReview:
		writeError(w, apperr.Conflict("task "+taskID+" is not completed, current status: "+string(task.Status)))
		return
	}
	if !ok {
		writeError(w, apperr.NotFound("report not found for task "+taskID))
		return
	}

	switch format {
	case "markdown":
		body := report.WithReferences(result.Report, result.Sources)
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))

	case "pdf":
		body := report.WithReferences(result.Report, result.Sources)
		title := report.Title(result.Report)
		pdf, err := report.RenderPDF(title, body, report.Metadata{
			TaskID:          taskID,
			ConfidenceScore: result.ConfidenceScore,
			SourceCount:     len(result.Sources),
			CreatedAt:       result.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"),
		})
		if err != nil {
			writeError(w, apperr.Internal("failed to render pdf", err))
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="research_report_`+taskID+`.pdf"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(pdf)

	default:
		writeJSON(w, http.StatusOK, reportResponse{
			TaskID:          taskID,
			Report:          result.Report,
			Sources:         result.Sources,
			ConfidenceScore: result.ConfidenceScore,
			NeedsHITL:       result.NeedsHITL,
			Metadata:        result.Metadata,
		})
	}
}

type reviewRequest struct {
	Action          string `json:"action"`
	EditedReport    string `json:"edited_report"`
	RejectionReason string `json:"rejection_reason"`
}

type reviewResponse struct {
	TaskID string `json:"task_id"`
	Action string `json:"action"`
	Status string `json:"status"`
}

// handleReview implements POST /api/v1/review/{task_id}.
func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if err := validateTaskID(taskID); err != nil {
		writeError(w, err)
		return
	}

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Input("malformed JSON body"))
		return
	}
	action := review.Action(strings.ToLower(req.Action))

	if err := s.review.Dispatch(r.Context(), taskID, review.Request{
		Action:          action,
		EditedReport:    req.EditedReport,
		RejectionReason: req.RejectionReason,
	}); err != nil {
		writeError(w, err)
		return
	}

	rec, err := s.store.GetStatus(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reviewResponse{TaskID: taskID, Action: string(action), Status: string(rec.Status)})
}

type healthResponse struct {
	Status string `json:"status"`
}

// handleHealth implements GET /api/v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy"})
}
