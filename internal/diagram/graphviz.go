package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

type nodePalette struct {
	fill, font string
	dashed     bool
}

var statusPalettes = map[string]nodePalette{
	"completed": {fill: "#2d6a2d", font: "white"},
	"failed":    {fill: "#8b1a1a", font: "white"},
	"timeout":   {fill: "#8b1a1a", font: "white"},
	"running":   {fill: "#1a5276", font: "white"},
	"cancelled": {fill: "#b7791a", font: "white"},
	"pending":   {fill: "#d3d3d3", font: "black"},
	"skipped":   {fill: "#e8e8e8", font: "#888888", dashed: true},
}

var kindShapes = map[NodeKind]cgraph.Shape{
	NodeKindTool:      cgraph.BoxShape,
	NodeKindOther:     cgraph.BoxShape,
	NodeKindCondition: cgraph.DiamondShape,
	NodeKindDelay:     cgraph.EllipseShape,
	NodeKindStart:     cgraph.CircleShape,
	NodeKindEnd:       cgraph.CircleShape,
}

// RenderImage lays the model out top to bottom with dot and returns PNG bytes.
func RenderImage(ctx context.Context, model *DiagramModel) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()
	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	created := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, n := range model.Nodes {
		gn, err := graph.CreateNodeByName(n.ID)
		if err != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", n.ID, err)
		}
		styleNode(gn, n)
		created[n.ID] = gn
	}

	for i, e := range model.Edges {
		from, to := created[e.From], created[e.To]
		if from == nil || to == nil {
			return nil, fmt.Errorf("diagram: edge %d references unknown node", i)
		}
		ge, err := graph.CreateEdgeByName(fmt.Sprintf("e%d", i), from, to)
		if err != nil {
			return nil, fmt.Errorf("diagram: create edge %s->%s: %w", e.From, e.To, err)
		}
		if e.Label != "" {
			ge.SetLabel(e.Label)
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, graphviz.PNG, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render png: %w", err)
	}
	return buf.Bytes(), nil
}

func styleNode(gn *cgraph.Node, n *Node) {
	if shape, ok := kindShapes[n.Kind]; ok {
		gn.SetShape(shape)
	}
	if n.Kind == NodeKindStart || n.Kind == NodeKindEnd {
		gn.SetLabel(firstLine(n.Label))
		gn.SetWidth(0.5)
		gn.SetHeight(0.5)
		return
	}
	gn.SetLabel(n.Label + overlaySuffix(n.Status))

	if n.Status == nil {
		return
	}
	p, ok := statusPalettes[n.Status.Status]
	if !ok {
		return
	}
	gn.SetStyle(cgraph.FilledNodeStyle)
	if p.dashed {
		gn.SetStyle(cgraph.DashedNodeStyle)
	}
	gn.SetFillColor(p.fill)
	gn.SetFontColor(p.font)
	if n.Status.Error != "" {
		gn.SetTooltip(n.Status.Error)
	}
}

// overlaySuffix appends run timing and retries under the step label.
func overlaySuffix(s *StatusOverlay) string {
	if s == nil {
		return ""
	}
	out := ""
	if s.DurationMs > 0 {
		out += fmt.Sprintf("\n%dms", s.DurationMs)
	}
	if s.RetryCount > 0 {
		out += fmt.Sprintf("\nretries: %d", s.RetryCount)
	}
	return out
}
