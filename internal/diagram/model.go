// Package diagram renders workflow definitions, optionally overlaid with the
// step states of one execution, as Mermaid text or PNG images.
package diagram

// NodeKind classifies a diagram node by its workflow step type.
type NodeKind string

const (
	NodeKindTool      NodeKind = "tool"
	NodeKindCondition NodeKind = "condition"
	NodeKindDelay     NodeKind = "delay"
	NodeKindOther     NodeKind = "other"
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node represents a single step in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status     string // lower-cased schema.StepStatus
	DurationMs int64
	RetryCount int
	Error      string
}

// Edge connects two nodes in execution order.
type Edge struct {
	From  string
	To    string
	Label string
}
