package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Tangerg/research-core/internal/llm"
	"github.com/Tangerg/research-core/internal/research"
	"github.com/Tangerg/research-core/internal/retrieval"
	"github.com/Tangerg/research-core/internal/telemetry"
)

const (
	validationTemp      = 0.1
	validationMaxTokens = 800
	hitlThreshold       = 0.70

	invalidCitationDeduction  = 0.3
	unsupportedClaimDeduction = 0.2
	contradictionDeduction    = 0.3
	unsupportedClaimThreshold = 3
)

// citationPattern matches [Source N] tokens case-insensitively with
// tolerant whitespace, grounded exactly in validation_agent.py's
// \[Source\s+(\d+)\] regex.
var citationPattern = regexp.MustCompile(`(?i)\[Source\s+(\d+)\]`)

// ValidationAgent verifies citations deterministically and rates the
// draft with an LLM judge, combining both into a final confidence score.
// Grounded in src/agents/validation_agent.py.
type ValidationAgent struct {
	Retrieval *retrieval.Library
	Ledger    *telemetry.Ledger
	ChatModel string
}

func NewValidationAgent(lib *retrieval.Library, ledger *telemetry.Ledger, chatModel string) *ValidationAgent {
	return &ValidationAgent{Retrieval: lib, Ledger: ledger, ChatModel: chatModel}
}

func (a *ValidationAgent) Name() string { return "validation" }

func (a *ValidationAgent) Run(ctx context.Context, state research.State) (research.State, error) {
	state.CurrentAgent = a.Name()
	if state.Error != "" {
		return state, nil
	}

	sourceCount := len(state.RetrievedChunks)
	if sourceCount == 0 {
		sourceCount = len(state.SearchResults)
	}

	invalidCitations := ExtractInvalidCitations(state.ReportDraft, sourceCount)

	judged, err := a.judge(ctx, state.ReportDraft)
	if err != nil {
		// Fallback per validation_agent.py: confidence 0, forces HITL,
		// populate validation_result with the error recorded as an issue.
		state.ValidationResult = &research.ValidationResult{
			Valid:            false,
			FinalConfidence:  0,
			Issues:           []string{fmt.Sprintf("validation_error: %v", err)},
			InvalidCitations: invalidCitations,
		}
		state.ConfidenceScore = 0
		state.NeedsHITL = true
		return state, nil
	}

	hasContradictions := mineContradictions(judged.Issues)

	final := judged.Confidence
	if len(invalidCitations) > 0 {
		final -= invalidCitationDeduction
	}
	if len(judged.UnsupportedClaims) >= unsupportedClaimThreshold {
		final -= unsupportedClaimDeduction
	}
	if hasContradictions {
		final -= contradictionDeduction
	}
	final = clamp(final, 0, 1)

	state.ValidationResult = &research.ValidationResult{
		Valid:             judged.Valid,
		LLMConfidence:     judged.Confidence,
		FinalConfidence:   final,
		Issues:            judged.Issues,
		CitationCoverage:  judged.CitationCoverage,
		InvalidCitations:  invalidCitations,
		UnsupportedClaims: judged.UnsupportedClaims,
		HasContradictions: hasContradictions,
	}
	state.ConfidenceScore = final
	state.NeedsHITL = final < hitlThreshold
	return state, nil
}

// ExtractInvalidCitations returns every [Source N] index outside
// [1, sourceCount]; pure function of its inputs, grounded in
// validation_agent.py's verify_citations.
func ExtractInvalidCitations(report string, sourceCount int) []int {
	var invalid []int
	seen := make(map[int]bool)
	for _, m := range citationPattern.FindAllStringSubmatch(report, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if (n < 1 || n > sourceCount) && !seen[n] {
			seen[n] = true
			invalid = append(invalid, n)
		}
	}
	return invalid
}

func mineContradictions(issues []string) bool {
	for _, issue := range issues {
		lower := strings.ToLower(issue)
		if strings.Contains(lower, "contradict") || strings.Contains(lower, "inconsistent") {
			return true
		}
	}
	return false
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

type judgeResponse struct {
	Valid             bool     `json:"valid"`
	Confidence        float64  `json:"confidence"`
	Issues            []string `json:"issues"`
	CitationCoverage  float64  `json:"citation_coverage"`
	UnsupportedClaims []string `json:"unsupported_claims"`
}

func (a *ValidationAgent) judge(ctx context.Context, report string) (judgeResponse, error) {
	req := llm.ChatRequest{
		Model: a.ChatModel,
		Messages: []llm.Message{
			{Role: "system", Content: "Rate the research report below. Respond with a JSON object: " +
				`{"valid": bool, "confidence": 0..1, "issues": [string], "citation_coverage": 0..1, "unsupported_claims": [string]}.`},
			{Role: "user", Content: report},
		},
		Temperature:    validationTemp,
		MaxTokens:      validationMaxTokens,
		ResponseFormat: llm.ResponseFormatJSON,
	}

	resp, err := a.Retrieval.LLM.Chat(ctx, req)
	if err != nil {
		return judgeResponse{}, err
	}
	if a.Ledger != nil {
		_ = a.Ledger.LogCall(telemetry.LogCallOptions{
			Model:            req.Model,
			PromptTokens:     resp.PromptTokens,
			CompletionTokens: resp.CompletionTokens,
			Operation:        "validation",
			Cost:             resp.Cost,
			Method:           "chat_completion",
		})
	}

	judged, err := parseJudgeResponse(resp.Content)
	if err != nil {
		return judgeResponse{}, err
	}
	return judged, nil
}

func parseJudgeResponse(content string) (judgeResponse, error) {
	judged, err := tryParseJudge(content)
	if err == nil {
		return judged, nil
	}
	if obj, ok := extractJSONObject(content); ok {
		if judged2, err2 := tryParseJudge(obj); err2 == nil {
			return judged2, nil
		}
	}
	return judgeResponse{}, fmt.Errorf("could not parse validation response: %w", err)
}

func tryParseJudge(s string) (judgeResponse, error) {
	var resp judgeResponse
	if err := json.Unmarshal([]byte(s), &resp); err != nil {
		return judgeResponse{}, err
	}
	resp.Confidence = clamp(resp.Confidence, 0, 1)
	resp.CitationCoverage = clamp(resp.CitationCoverage, 0, 1)
	return resp, nil
}
