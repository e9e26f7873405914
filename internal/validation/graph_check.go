package validation

import (
	"fmt"

	"github.com/rendis/bpmnkit/internal/bpmn"
	"github.com/rendis/bpmnkit/pkg/schema"
)

// validateGraph performs graph analysis on the process the spec synthesizes:
// cycle detection (Kahn's algorithm), reachability from the start event (BFS),
// gateways whose branches collapse onto one target and pools left empty.
func validateGraph(g *bpmn.Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	out := make(map[string][]string, len(g.Nodes))
	inDegree := make(map[string]int, len(g.Nodes))
	for _, n := range g.Nodes {
		inDegree[n.ID] = 0
	}
	for _, f := range g.Flows {
		out[f.Source] = append(out[f.Source], f.Target)
		inDegree[f.Target]++
	}

	// Kahn's algorithm over g.Nodes order keeps the output deterministic.
	queue := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range out[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(g.Nodes) {
		result.AddError("process", schema.ErrCodeSynthesis, "process graph contains a cycle")
		return result // cycle makes reachability analysis meaningless
	}

	starts := g.NodesOfKind(bpmn.NodeStart)
	reachable := make(map[string]bool, len(g.Nodes))
	bfsQueue := make([]string, 0, len(g.Nodes))
	for _, s := range starts {
		reachable[s.ID] = true
		bfsQueue = append(bfsQueue, s.ID)
	}
	for len(bfsQueue) > 0 {
		node := bfsQueue[0]
		bfsQueue = bfsQueue[1:]
		for _, next := range out[node] {
			if !reachable[next] {
				reachable[next] = true
				bfsQueue = append(bfsQueue, next)
			}
		}
	}
	for _, n := range g.Nodes {
		if !reachable[n.ID] {
			result.AddError(n.ID, schema.ErrCodeSynthesis,
				fmt.Sprintf("%s %q is unreachable from the start event", n.Kind, n.Name))
		}
	}

	for _, gw := range g.NodesOfKind(bpmn.NodeGateway) {
		flows := g.FlowsFrom(gw.ID)
		if len(flows) == 2 && flows[0].Target == flows[1].Target {
			target := g.Node(flows[0].Target)
			result.AddWarning(gw.ID, schema.ErrCodeValidation,
				fmt.Sprintf("decision %q: both branches lead to %q", gw.Name, target.Name))
		}
	}

	if len(g.Participants) > 1 {
		used := make(map[int]bool, len(g.Participants))
		for _, n := range g.Backbone {
			used[n.Lane] = true
		}
		for i, p := range g.Participants {
			if !used[i] {
				result.AddWarning(p.ID, schema.ErrCodeValidation,
					fmt.Sprintf("participant %q is not mentioned by any activity; its pool stays empty", p.Name))
			}
		}
	}

	return result
}
