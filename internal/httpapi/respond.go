package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Tangerg/research-core/internal/apperr"
)

// errorBody is the structured error response shape from spec.md §7.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("httpapi: failed to encode response", "error", err)
	}
}

// writeError maps err to its taxonomy kind (internal, if untyped) and
// writes the structured error body, setting Retry-After for rate-limited
// responses per spec.md §5's backpressure policy.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		appErr = apperr.Internal("unexpected error", err)
	}

	if appErr.Kind == apperr.KindRateLimited {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	}

	slog.Error("httpapi: request failed", "kind", appErr.Kind, "error", appErr.Error())
	writeJSON(w, appErr.HTTPStatus(), errorBody{
		Error:   string(appErr.Kind),
		Message: appErr.Message,
	})
}
