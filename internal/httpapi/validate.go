package httpapi

import (
	"github.com/google/uuid"

	"github.com/Tangerg/research-core/internal/apperr"
	"github.com/Tangerg/research-core/internal/research"
)

const (
	minQueryLen = 10
	maxQueryLen = 500
)

func validateQuery(query string) error {
	if len(query) < minQueryLen || len(query) > maxQueryLen {
		return apperr.Input("query must be between 10 and 500 characters")
	}
	return nil
}

func validateDepth(depth string) (research.Depth, error) {
	switch research.Depth(depth) {
	case research.DepthQuick, research.DepthStandard, research.DepthComprehensive:
		return research.Depth(depth), nil
	case "":
		return research.DepthStandard, nil
	default:
		return "", apperr.Input("depth must be one of quick, standard, comprehensive")
	}
}

func validateTaskID(taskID string) error {
	if _, err := uuid.Parse(taskID); err != nil {
		return apperr.Input("task_id must be a valid UUID")
	}
	return nil
}

func validateFormat(format string) (string, error) {
	switch format {
	case "", "json":
		return "json", nil
	case "markdown", "pdf":
		return format, nil
	default:
		return "", apperr.Input("format must be one of json, markdown, pdf")
	}
}
