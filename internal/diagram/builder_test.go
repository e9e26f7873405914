package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/bpmnkit/internal/bpmn"
	"github.com/rendis/bpmnkit/pkg/schema"
)

// --- Test process builders ---

func linearGraph() *bpmn.Graph {
	return bpmn.BuildGraph(schema.WorkflowSpec{
		ProcessName: "Expense Claim",
		Activities:  []string{"Submit claim", "Review claim", "Pay out"},
	})
}

func decisionGraph() *bpmn.Graph {
	return bpmn.BuildGraph(schema.WorkflowSpec{
		ProcessName:    "Expense Claim",
		Activities:     []string{"Submit claim", "Review claim", "Pay out"},
		DecisionPoints: []string{"Approved?"},
		EndEvent:       "Claim closed",
	})
}

func laneGraph() *bpmn.Graph {
	return bpmn.BuildGraph(schema.WorkflowSpec{
		ProcessName:        "Expense Claim",
		Participants:       []string{"Employee", "Finance"},
		Activities:         []string{"Employee submits claim", "Finance reviews claim", "Pay out"},
		AdditionalElements: []string{"Receipts over 50 EUR required"},
	})
}

// --- Tests ---

func TestBuildLinearProcess(t *testing.T) {
	model, err := Build(linearGraph())
	require.NoError(t, err)

	assert.Equal(t, "Expense Claim", model.Title)
	// 3 tasks + start + end = 5
	assert.Len(t, model.Nodes, 5)
	assert.Len(t, model.Levels, 5)
	assert.Len(t, model.Edges, 4)
	assert.Empty(t, model.Pools)

	assert.Equal(t, NodeKindStart, model.Nodes[0].Kind)
	assert.Equal(t, NodeKindTask, model.Nodes[1].Kind)
	assert.Equal(t, NodeKindEnd, model.Nodes[4].Kind)
}

func TestBuildDecisionProcess(t *testing.T) {
	model, err := Build(decisionGraph())
	require.NoError(t, err)

	gw := findNode(model.Nodes, "Gateway_1")
	require.NotNil(t, gw)
	assert.Equal(t, NodeKindGateway, gw.Kind)
	assert.Equal(t, "Approved?", gw.Label)

	var labels []string
	for _, e := range model.Edges {
		if e.From == "Gateway_1" {
			labels = append(labels, e.Label)
		}
	}
	assert.Equal(t, []string{"Yes", "No"}, labels)
}

func TestBuildPools(t *testing.T) {
	model, err := Build(laneGraph())
	require.NoError(t, err)

	require.Len(t, model.Pools, 2)
	assert.Equal(t, "Employee", model.Pools[0].Label)
	assert.Equal(t, []string{"StartEvent_1", "Activity_1"}, model.Pools[0].NodeIDs)
	assert.Equal(t, []string{"Activity_2", "Activity_3", "EndEvent_1"}, model.Pools[1].NodeIDs)
	assert.Equal(t, "Finance", findNode(model.Nodes, "Activity_2").Pool)

	require.Len(t, model.Notes, 1)
	assert.Equal(t, NodeKindAnnotation, model.Notes[0].Kind)
}

func TestBuildNilGraph(t *testing.T) {
	_, err := Build(nil)
	assert.Error(t, err)
}

func TestBuildUntitled(t *testing.T) {
	model, err := Build(bpmn.BuildGraph(schema.WorkflowSpec{}))
	require.NoError(t, err)
	assert.Equal(t, "Process", model.Title)
	assert.Len(t, model.Nodes, 2)
}
