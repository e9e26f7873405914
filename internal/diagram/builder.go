package diagram

import (
	"errors"

	"github.com/rendis/bpmnkit/internal/bpmn"
)

// Build constructs a DiagramModel from a synthesized process graph. Levels
// follow the backbone, one node per level, so renderers draw the process in
// execution order. Pools are only populated for multi-participant processes.
func Build(g *bpmn.Graph) (*DiagramModel, error) {
	if g == nil {
		return nil, errors.New("diagram: nil process graph")
	}

	multiPool := len(g.Participants) > 1
	model := &DiagramModel{Title: titleFromGraph(g)}

	if multiPool {
		for _, p := range g.Participants {
			model.Pools = append(model.Pools, &Pool{ID: p.ID, Label: p.Name})
		}
	}

	for _, n := range g.Backbone {
		node := &Node{ID: n.ID, Label: n.Name, Kind: kindOf(n.Kind)}
		if multiPool {
			pool := model.Pools[n.Lane]
			node.Pool = pool.Label
			pool.NodeIDs = append(pool.NodeIDs, n.ID)
		}
		model.Nodes = append(model.Nodes, node)
		model.Levels = append(model.Levels, []string{n.ID})
	}

	for _, f := range g.Flows {
		model.Edges = append(model.Edges, Edge{From: f.Source, To: f.Target, Label: f.Name, Branch: f.Branch})
	}

	for _, a := range g.Annotations {
		model.Notes = append(model.Notes, &Node{ID: a.ID, Label: a.Text, Kind: NodeKindAnnotation})
	}

	return model, nil
}

// kindOf maps a BPMN node kind to a NodeKind.
func kindOf(k bpmn.NodeKind) NodeKind {
	switch k {
	case bpmn.NodeStart:
		return NodeKindStart
	case bpmn.NodeGateway:
		return NodeKindGateway
	case bpmn.NodeEnd:
		return NodeKindEnd
	default:
		return NodeKindTask
	}
}

// titleFromGraph generates a diagram title from the process name.
func titleFromGraph(g *bpmn.Graph) string {
	if g.ProcessName != "" {
		return g.ProcessName
	}
	return "Process"
}
