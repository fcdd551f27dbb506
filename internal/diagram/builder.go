package diagram

import (
	"fmt"

	"github.com/mbracero/fresco/internal/engine"
	"github.com/mbracero/fresco/pkg/schema"
)

// Build compiles the graph for topology and constructs a DiagramModel.
// Results, when non-nil, overlay run state by node ID.
func Build(graph *schema.WorkflowGraph, title string, results map[string]engine.NodeResult) (*DiagramModel, error) {
	plan, err := engine.Compile(graph, engine.CompileOptions{Scope: schema.ScopeFull})
	if err != nil {
		return nil, fmt.Errorf("diagram: compile graph: %w", err)
	}

	nodes := make([]*Node, 0, len(plan.Sorted)+2)
	startNode := &Node{ID: "__start__", Label: "Start", Kind: NodeKindStart}
	nodes = append(nodes, startNode)

	for _, nodeID := range plan.Sorted {
		def := plan.Nodes[nodeID]
		node := &Node{
			ID:    nodeID,
			Label: fmt.Sprintf("%s\n(%s)", nodeID, def.Kind),
			Kind:  NodeKind(def.Kind),
		}
		if res, ok := results[nodeID]; ok {
			node.Status = &StatusOverlay{
				Status:     res.Status,
				DurationMs: res.DurationMs,
				Error:      res.Error,
			}
		}
		nodes = append(nodes, node)
	}

	endNode := &Node{ID: "__end__", Label: "End", Kind: NodeKindEnd}
	nodes = append(nodes, endNode)

	return &DiagramModel{
		Title:  title,
		Nodes:  nodes,
		Edges:  buildEdges(graph, plan),
		Levels: buildLevels(plan),
	}, nil
}

// buildEdges maps graph edges to diagram edges labelled with their handle
// pair, plus virtual start and end edges around roots and leaves.
func buildEdges(graph *schema.WorkflowGraph, plan *engine.ExecutionPlan) []Edge {
	var edges []Edge

	for _, nodeID := range plan.Sorted {
		if len(plan.Deps[nodeID]) == 0 {
			edges = append(edges, Edge{From: "__start__", To: nodeID})
		}
	}

	for _, e := range graph.Edges {
		edges = append(edges, Edge{
			From:  e.Source,
			To:    e.Target,
			Label: fmt.Sprintf("%s:%s", e.SourceHandle, e.TargetHandle),
		})
	}

	for _, nodeID := range plan.Sorted {
		if len(plan.Dependents[nodeID]) == 0 {
			edges = append(edges, Edge{From: nodeID, To: "__end__"})
		}
	}

	return edges
}

// buildLevels wraps the plan's parallel levels with virtual start and end
// levels.
func buildLevels(plan *engine.ExecutionPlan) [][]string {
	levels := make([][]string, 0, len(plan.Levels)+2)
	levels = append(levels, []string{"__start__"})
	levels = append(levels, plan.Levels...)
	levels = append(levels, []string{"__end__"})
	return levels
}
