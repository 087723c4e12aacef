package workflow

import (
	"github.com/Tangerg/research-core/internal/agents"
	"github.com/Tangerg/research-core/internal/research"
)

// Compile builds the standard search -> synthesis -> validation ->
// (conditional) -> {human_review, finalize} graph described in
// SPEC_FULL.md §4.5. It is built once at process start and reused across
// every task.
func Compile(search *agents.SearchAgent, synthesis *agents.SynthesisAgent, validation *agents.ValidationAgent) (*Graph, error) {
	humanReview := agents.NewHumanReviewNode()
	finalize := agents.NewFinalizeNode()

	return NewBuilder().
		AddNode("search", search).
		AddNode("synthesis", synthesis).
		AddNode("validation", validation).
		AddNode("human_review", humanReview).
		AddNode("finalize", finalize).
		SetEntryPoint("search").
		AddEdge("search", "synthesis").
		AddEdge("synthesis", "validation").
		AddConditionalEdge("validation", routeOnHITL).
		AddEdge("human_review", terminal).
		AddEdge("finalize", terminal).
		Compile()
}

func routeOnHITL(state research.State) string {
	if state.Error != "" {
		return terminal
	}
	if state.NeedsHITL {
		return "human_review"
	}
	return "finalize"
}
