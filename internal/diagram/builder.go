package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/pkg/schema"
)

const (
	startID = "__start__"
	endID   = "__end__"
)

// Build lays the definition's steps out in order between virtual start and
// end nodes. When step records are given, each node carries the state of
// the record with its step name.
func Build(def *schema.WorkflowDefinition, records []*store.StepExecution) *DiagramModel {
	byName := make(map[string]*store.StepExecution, len(records))
	for _, r := range records {
		byName[r.StepName] = r
	}

	steps := def.SortedSteps()
	nodes := make([]*Node, 0, len(steps)+2)
	nodes = append(nodes, &Node{ID: startID, Label: "Start", Kind: NodeKindStart})
	for i := range steps {
		node := &Node{
			ID:    fmt.Sprintf("step_%d", i),
			Label: nodeLabel(&steps[i]),
			Kind:  stepTypeToKind(steps[i].Type),
		}
		overlayStatus(node, byName[steps[i].Name])
		nodes = append(nodes, node)
	}
	nodes = append(nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})

	edges := make([]Edge, 0, len(nodes)-1)
	for i := 1; i < len(nodes); i++ {
		edge := Edge{From: nodes[i-1].ID, To: nodes[i].ID}
		if nodes[i-1].Kind == NodeKindCondition {
			edge.Label = "true"
		}
		edges = append(edges, edge)
	}

	return &DiagramModel{Title: titleFromDef(def), Nodes: nodes, Edges: edges}
}

// stepTypeToKind converts a schema.StepType to a NodeKind.
func stepTypeToKind(st schema.StepType) NodeKind {
	switch st {
	case schema.StepTool:
		return NodeKindTool
	case schema.StepCondition:
		return NodeKindCondition
	case schema.StepDelay:
		return NodeKindDelay
	default:
		return NodeKindOther
	}
}

// nodeLabel creates a human-readable label for a node. The first line is the
// step name; the second names what the step does.
func nodeLabel(step *schema.StepDefinition) string {
	switch step.Type {
	case schema.StepTool:
		if step.ToolName != "" {
			return fmt.Sprintf("%s\n(%s)", step.Name, step.ToolName)
		}
	case schema.StepCondition:
		if step.Condition != "" {
			return fmt.Sprintf("%s\n%s", step.Name, step.Condition)
		}
	case schema.StepDelay:
		if d, ok := step.Config["delay"]; ok {
			return fmt.Sprintf("%s\n(%vms)", step.Name, d)
		}
	default:
		return fmt.Sprintf("%s\n(%s)", step.Name, strings.ToLower(string(step.Type)))
	}
	return step.Name
}

func overlayStatus(node *Node, rec *store.StepExecution) {
	if rec == nil {
		return
	}
	node.Status = &StatusOverlay{
		Status:     strings.ToLower(string(rec.Status)),
		RetryCount: rec.RetryCount,
		Error:      rec.ErrorMessage,
	}
	if rec.DurationMs != nil {
		node.Status.DurationMs = *rec.DurationMs
	}
}

func titleFromDef(def *schema.WorkflowDefinition) string {
	if def.Name == "" {
		return "Workflow"
	}
	if def.Version != "" {
		return def.Name + " v" + def.Version
	}
	return def.Name
}

// firstLine returns the text before the first newline.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
