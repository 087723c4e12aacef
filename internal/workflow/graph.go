// Package workflow wires the agent nodes into a small named-node directed
// graph with conditional routing, grounded in this codebase's
// flow.Node[I,O] shape and the original implementation's LangGraph
// StateGraph wiring (add_node, add_edge, add_conditional_edges,
// set_entry_point in src/agents/workflow.py). The graph is compiled once
// at process start and holds no per-task state; every run gets its own
// copy of research.State threaded through in graph order.
package workflow

import (
	"context"
	"fmt"

	"github.com/Tangerg/research-core/flow"
	"github.com/Tangerg/research-core/internal/research"
)

// Step is a named workflow node over research.State.
type Step = flow.Node[research.State, research.State]

// Router picks the next node name given the state a node just produced.
// An empty return value ends the run.
type Router func(state research.State) string

const terminal = ""

// Graph is a compiled, reusable directed graph of named steps.
type Graph struct {
	entry    string
	steps    map[string]Step
	edges    map[string]string
	routers  map[string]Router
}

// Builder assembles a Graph before it is compiled.
type Builder struct {
	steps   map[string]Step
	edges   map[string]string
	routers map[string]Router
	entry   string
}

func NewBuilder() *Builder {
	return &Builder{
		steps:   make(map[string]Step),
		edges:   make(map[string]string),
		routers: make(map[string]Router),
	}
}

// AddNode registers a step under name.
func (b *Builder) AddNode(name string, step Step) *Builder {
	b.steps[name] = step
	return b
}

// AddEdge wires an unconditional transition from one node to the next.
// Passing "" as next marks from as routing directly to the terminal.
func (b *Builder) AddEdge(from, next string) *Builder {
	b.edges[from] = next
	return b
}

// AddConditionalEdge wires a router that decides the next node after from
// runs, based on the state from produced.
func (b *Builder) AddConditionalEdge(from string, router Router) *Builder {
	b.routers[from] = router
	return b
}

// SetEntryPoint names the first node to run.
func (b *Builder) SetEntryPoint(name string) *Builder {
	b.entry = name
	return b
}

// Compile validates the graph's wiring and returns an immutable Graph.
// Every referenced node name must have a registered step; the entry point
// must be set.
func (b *Builder) Compile() (*Graph, error) {
	if b.entry == "" {
		return nil, fmt.Errorf("workflow: entry point not set")
	}
	if _, ok := b.steps[b.entry]; !ok {
		return nil, fmt.Errorf("workflow: entry point %q has no registered node", b.entry)
	}
	for from, next := range b.edges {
		if _, ok := b.steps[from]; !ok {
			return nil, fmt.Errorf("workflow: edge source %q has no registered node", from)
		}
		if next != terminal {
			if _, ok := b.steps[next]; !ok {
				return nil, fmt.Errorf("workflow: edge target %q has no registered node", next)
			}
		}
	}
	for from := range b.routers {
		if _, ok := b.steps[from]; !ok {
			return nil, fmt.Errorf("workflow: conditional edge source %q has no registered node", from)
		}
	}

	return &Graph{
		entry:   b.entry,
		steps:   b.steps,
		edges:   b.edges,
		routers: b.routers,
	}, nil
}

// StepHook is invoked after each node completes, letting the executor
// push current_agent/progress/message to the task store without the
// graph itself knowing anything about persistence.
type StepHook func(nodeName string, state research.State)

// Run executes the graph from its entry point, following unconditional
// edges and conditional routers until a node has neither, which ends the
// run. A node whose output sets research.State.Error still runs to its
// natural successor (nodes check for a prior error themselves and
// short-circuit), matching the original implementation's "nodes never
// raise out of the graph" propagation policy.
func (g *Graph) Run(ctx context.Context, initial research.State) (research.State, error) {
	return g.RunWithHook(ctx, initial, nil)
}

// RunWithHook is Run with an optional per-node completion callback.
func (g *Graph) RunWithHook(ctx context.Context, initial research.State, hook StepHook) (research.State, error) {
	state := initial
	name := g.entry

	for name != terminal {
		step, ok := g.steps[name]
		if !ok {
			return state, fmt.Errorf("workflow: no node registered for %q", name)
		}

		var err error
		state, err = step.Run(ctx, state)
		if err != nil {
			return state, fmt.Errorf("workflow: node %q: %w", name, err)
		}
		if hook != nil {
			hook(name, state)
		}

		if router, ok := g.routers[name]; ok {
			name = router(state)
			continue
		}
		name = g.edges[name]
	}

	return state, nil
}
