// Package diagram renders workflow graphs as Mermaid, ASCII, or PNG
// diagrams, optionally overlaying run state onto the nodes.
package diagram

import "github.com/mbracero/fresco/pkg/schema"

// NodeKind classifies a diagram node. Graph nodes carry their workflow kind;
// the virtual entry and exit markers get kinds of their own.
type NodeKind string

const (
	NodeKindText      NodeKind = NodeKind(schema.KindText)
	NodeKindMedia     NodeKind = NodeKind(schema.KindMedia)
	NodeKindInference NodeKind = NodeKind(schema.KindInference)
	NodeKindCrop      NodeKind = NodeKind(schema.KindCrop)
	NodeKindFrames    NodeKind = NodeKind(schema.KindFrames)
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a single workflow node in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries run state for a node.
type StatusOverlay struct {
	Status     schema.NodeStatus
	DurationMs int64
	Error      string
}

// Edge represents a handle connection between two nodes.
type Edge struct {
	From  string
	To    string
	Label string
}
