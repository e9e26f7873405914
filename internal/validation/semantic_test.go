package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/bpmnkit/internal/bpmn"
	"github.com/rendis/bpmnkit/pkg/schema"
)

func TestValidateSemantic_Clean(t *testing.T) {
	result := validateSemantic(schema.WorkflowSpec{
		ProcessName:  "P",
		Participants: []string{"A"},
		Trigger:      "t",
		Activities:   []string{"x"},
		EndEvent:     "e",
	})
	assert.Empty(t, result.Warnings)
	assert.Empty(t, result.Errors)
}

func TestValidateSemantic_Paths(t *testing.T) {
	result := validateSemantic(schema.WorkflowSpec{
		ProcessName:  "P",
		Participants: []string{"A", "B", "A"},
		Trigger:      "t",
		Activities:   []string{"x", ""},
		EndEvent:     "e",
	})
	paths := map[string]bool{}
	for _, w := range result.Warnings {
		paths[w.Path] = true
	}
	assert.True(t, paths["participants[2]"])
	assert.True(t, paths["activities[1]"])
	assert.True(t, result.Valid())
}

func TestValidateGraph_SynthesizedGraphIsAcyclic(t *testing.T) {
	g := bpmn.BuildGraph(schema.WorkflowSpec{
		Activities:     []string{"a", "b", "c", "d"},
		DecisionPoints: []string{"x?", "y?"},
	})
	result := validateGraph(g)
	assert.Empty(t, result.Errors)
}

func TestValidateGraph_DetectsCycle(t *testing.T) {
	g := bpmn.BuildGraph(schema.WorkflowSpec{Activities: []string{"a", "b"}})
	// Route the last task back to the first.
	for _, f := range g.Flows {
		if f.Source == "Activity_2" {
			f.Target = "Activity_1"
		}
	}
	result := validateGraph(g)
	assert.False(t, result.Valid())
	assert.Equal(t, schema.ErrCodeSynthesis, result.Errors[0].Code)
}

func TestValidateGraph_Unreachable(t *testing.T) {
	g := bpmn.BuildGraph(schema.WorkflowSpec{Activities: []string{"a"}})
	g.Flows = g.Flows[1:] // drop start -> a
	result := validateGraph(g)
	assert.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "unreachable")
}
