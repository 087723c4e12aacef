package agents

import (
	"context"

	"github.com/Tangerg/research-core/internal/research"
)

// HumanReviewNode is reached only when validation set needs_hitl, via the
// graph's conditional edge. It never prompts or blocks: it leaves
// final_report unset and returns immediately, since the workflow must not
// hold a goroutine open across a human decision that may arrive turns
// later on the review endpoint. The executor reads needs_hitl off the
// returned state to persist the ResultRecord as pending_review; the
// review endpoint's approve/edit/reject handling lives entirely outside
// the graph, in the review controller. Grounded in
// src/agents/hitl_review.py's pending-review branch and
// src/api/workflow_executor.py's out-of-band review handling.
type HumanReviewNode struct{}

func NewHumanReviewNode() *HumanReviewNode { return &HumanReviewNode{} }

func (n *HumanReviewNode) Name() string { return "human_review" }

func (n *HumanReviewNode) Run(ctx context.Context, state research.State) (research.State, error) {
	state.CurrentAgent = n.Name()
	return state, nil
}

// FinalizeNode is reached only when validation judged the draft
// trustworthy (needs_hitl == false). It sets final_report when the
// review path was skipped entirely, grounded in workflow.py's trivial
// finalize node.
type FinalizeNode struct{}

func NewFinalizeNode() *FinalizeNode { return &FinalizeNode{} }

func (n *FinalizeNode) Name() string { return "finalize" }

func (n *FinalizeNode) Run(ctx context.Context, state research.State) (research.State, error) {
	state.CurrentAgent = n.Name()
	if state.FinalReport == "" {
		state.FinalReport = state.ReportDraft
	}
	return state, nil
}
