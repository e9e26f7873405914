package validation

import (
	"fmt"
	"strings"

	"github.com/rendis/bpmnkit/pkg/schema"
)

// maxLabelLength is the longest label a BPMN viewer renders legibly.
const maxLabelLength = 200

// validateSemantic reports spec content the synthesizer silently repairs:
// blank and duplicate entries, missing sections, labels that will not fit
// their shape and decision points that outnumber the activities.
// Every finding is a warning; none blocks synthesis.
func validateSemantic(spec schema.WorkflowSpec) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if strings.TrimSpace(spec.ProcessName) == "" {
		result.AddWarning("processName", schema.ErrCodeValidation, "process name is empty; pools fall back to \"Process\"")
	}
	if strings.TrimSpace(spec.Trigger) == "" {
		result.AddWarning("trigger", schema.ErrCodeValidation, "trigger is empty; start event is labelled \"Start\"")
	}
	if strings.TrimSpace(spec.EndEvent) == "" {
		result.AddWarning("endEvent", schema.ErrCodeValidation, "end event is empty; labelled \"End\"")
	}

	checkLabels("participants", spec.Participants, result)
	checkLabels("activities", spec.Activities, result)
	checkLabels("decisionPoints", spec.DecisionPoints, result)

	seen := make(map[string]int, len(spec.Participants))
	for i, p := range spec.Participants {
		key := strings.TrimSpace(p)
		if key == "" {
			continue
		}
		if first, dup := seen[key]; dup {
			result.AddWarning(fmt.Sprintf("participants[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate participant %q collapsed into participants[%d]", key, first))
			continue
		}
		seen[key] = i
	}

	norm := spec.Normalize()
	if len(norm.Participants) == 0 {
		result.AddWarning("participants", schema.ErrCodeValidation,
			"no participants; a single pool named after the process is synthesized")
	}
	if len(norm.Activities) == 0 {
		result.AddWarning("activities", schema.ErrCodeValidation,
			"no activities; the process connects its start event directly to the end")
	}
	if n, m := len(norm.DecisionPoints), len(norm.Activities); n > 0 && n > m {
		result.AddWarning("decisionPoints", schema.ErrCodeValidation,
			fmt.Sprintf("%d decision points for %d activities; surplus gateways chain before the end event", n, m))
	}

	return result
}

// checkLabels warns about blank and oversized entries of a label list.
func checkLabels(field string, labels []string, result *schema.ValidationResult) {
	for i, l := range labels {
		path := fmt.Sprintf("%s[%d]", field, i)
		trimmed := strings.TrimSpace(l)
		switch {
		case trimmed == "":
			result.AddWarning(path, schema.ErrCodeValidation, "blank entry dropped")
		case len([]rune(trimmed)) > maxLabelLength:
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("label is %d characters; viewers truncate beyond %d", len([]rune(trimmed)), maxLabelLength))
		}
	}
}
