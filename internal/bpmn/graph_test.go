package bpmn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/bpmnkit/pkg/schema"
)

func backboneNames(g *Graph) []string {
	out := make([]string, 0, len(g.Backbone))
	for _, n := range g.Backbone {
		out = append(out, n.Name)
	}
	return out
}

func TestBuildGraph_Interleave(t *testing.T) {
	tests := []struct {
		name      string
		tasks     []string
		decisions []string
		want      []string
	}{
		{"no decisions", []string{"a", "b"}, nil, []string{"Start", "a", "b", "End"}},
		{"one decision at midpoint", []string{"a", "b", "c", "d"}, []string{"x"}, []string{"Start", "a", "b", "x", "c", "d", "End"}},
		{"odd task count", []string{"a", "b", "c"}, []string{"x"}, []string{"Start", "a", "x", "b", "c", "End"}},
		{"decisions spread", []string{"a", "b", "c", "d"}, []string{"x", "y"}, []string{"Start", "a", "b", "x", "c", "y", "d", "End"}},
		{"surplus decisions before end", []string{"a"}, []string{"x", "y", "z"}, []string{"Start", "x", "a", "y", "z", "End"}},
		{"decisions only", nil, []string{"x"}, []string{"Start", "x", "End"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := BuildGraph(schema.WorkflowSpec{Activities: tt.tasks, DecisionPoints: tt.decisions})
			assert.Equal(t, tt.want, backboneNames(g))
			for i, n := range g.Backbone {
				assert.Equal(t, i, n.Column)
			}
		})
	}
}

func TestBuildGraph_DocumentOrder(t *testing.T) {
	g := BuildGraph(schema.WorkflowSpec{Activities: []string{"a", "b"}, DecisionPoints: []string{"x"}})
	kinds := make([]NodeKind, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		kinds = append(kinds, n.Kind)
	}
	assert.Equal(t, []NodeKind{NodeStart, NodeTask, NodeTask, NodeGateway, NodeEnd}, kinds)
}

func TestBuildGraph_DegreeInvariants(t *testing.T) {
	g := BuildGraph(schema.WorkflowSpec{
		Activities:     []string{"a", "b", "c", "d"},
		DecisionPoints: []string{"x", "y"},
	})

	for _, n := range g.Nodes {
		switch n.Kind {
		case NodeStart:
			assert.Empty(t, n.Incoming)
			assert.Len(t, n.Outgoing, 1)
		case NodeEnd:
			assert.NotEmpty(t, n.Incoming)
			assert.Empty(t, n.Outgoing)
		case NodeGateway:
			require.Len(t, n.Outgoing, 2, n.ID)
			flows := g.FlowsFrom(n.ID)
			assert.Equal(t, LabelYes, flows[0].Name)
			assert.False(t, flows[0].Branch)
			assert.Equal(t, LabelNo, flows[1].Name)
			assert.True(t, flows[1].Branch)
		case NodeTask:
			assert.NotEmpty(t, n.Incoming, n.ID)
			assert.Len(t, n.Outgoing, 1, n.ID)
		}
	}
}

func TestBuildGraph_Normalizes(t *testing.T) {
	g := BuildGraph(schema.WorkflowSpec{
		Participants: []string{" Sales ", "", "Sales", "Ops"},
		Activities:   []string{"  ", "Quote"},
		Trigger:      "   ",
	})
	require.Len(t, g.Participants, 2)
	assert.Equal(t, "Sales", g.Participants[0].Name)
	assert.Equal(t, "Ops", g.Participants[1].Name)
	assert.Len(t, g.NodesOfKind(NodeTask), 1)
	assert.Equal(t, "Start", g.NodesOfKind(NodeStart)[0].Name)
}

func TestBuildGraph_LaneByMention(t *testing.T) {
	g := BuildGraph(schema.WorkflowSpec{
		Participants: []string{"Customer", "Support"},
		Activities:   []string{"Open ticket", "support triages", "CUSTOMER confirms"},
	})
	lanes := map[string]int{}
	for _, n := range g.Backbone {
		lanes[n.Name] = n.Lane
	}
	assert.Equal(t, 0, lanes["Open ticket"])
	assert.Equal(t, 1, lanes["support triages"])
	assert.Equal(t, 0, lanes["CUSTOMER confirms"])
	assert.Equal(t, 0, lanes["End"])
}

func TestBuildGraph_SingleParticipantIgnoresMentions(t *testing.T) {
	g := BuildGraph(schema.WorkflowSpec{Participants: []string{"Ops"}, Activities: []string{"Ops deploys"}})
	for _, n := range g.Backbone {
		assert.Equal(t, 0, n.Lane)
	}
}

func TestGraph_Node(t *testing.T) {
	g := BuildGraph(schema.WorkflowSpec{Activities: []string{"a"}})
	require.NotNil(t, g.Node("Activity_1"))
	assert.Equal(t, "a", g.Node("Activity_1").Name)
	assert.Nil(t, g.Node("Activity_9"))
}

func TestIDArena(t *testing.T) {
	ids := newIDArena()
	assert.Equal(t, "Flow_1", ids.mint(prefixFlow))
	assert.Equal(t, "Flow_2", ids.mint(prefixFlow))
	assert.Equal(t, "Activity_1", ids.mint(prefixActivity))

	assert.True(t, ids.claim("Flow_3"))
	assert.Equal(t, "Flow_4", ids.mint(prefixFlow))
	assert.False(t, ids.claim("Flow_1"))

	assert.Equal(t, "Flow_1_di", ids.derived("Flow_1", "di"))
	assert.Equal(t, "Flow_1_di2", ids.derived("Flow_1", "di"))
	assert.Equal(t, 7, ids.size())
}
