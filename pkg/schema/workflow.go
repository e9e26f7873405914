package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// WorkflowSpec is the structured workflow description the synthesizer consumes.
// Callers produce it from JSON (API, MCP, CLI), from a jq extraction over an
// arbitrary document, or from free-text sections.
type WorkflowSpec struct {
	ProcessName        string   `json:"processName"`
	ProcessDescription string   `json:"processDescription,omitempty"`
	Participants       []string `json:"participants"`
	Trigger            string   `json:"trigger"`
	Activities         []string `json:"activities"`
	DecisionPoints     []string `json:"decisionPoints"`
	EndEvent           string   `json:"endEvent"`
	AdditionalElements []string `json:"additionalElements,omitempty"`
}

// UnmarshalJSON decodes a WorkflowSpec permissively: a scalar where a list is
// expected becomes a one-item list, non-string items are stringified and
// values of an unexpected shape are dropped instead of failing the decode.
// Only a document that is not a JSON object is rejected.
func (w *WorkflowSpec) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return NewError(ErrCodeValidation, "workflow spec must be a JSON object").WithCause(err)
	}
	if fields == nil {
		return NewError(ErrCodeValidation, "workflow spec must be a JSON object")
	}

	*w = WorkflowSpec{
		ProcessName:        lenientString(fields["processName"]),
		ProcessDescription: lenientString(fields["processDescription"]),
		Participants:       lenientStrings(fields["participants"]),
		Trigger:            lenientString(fields["trigger"]),
		Activities:         lenientStrings(fields["activities"]),
		DecisionPoints:     lenientStrings(fields["decisionPoints"]),
		EndEvent:           lenientString(fields["endEvent"]),
		AdditionalElements: lenientStrings(fields["additionalElements"]),
	}
	return nil
}

// Normalize returns a copy with labels trimmed, blank entries dropped and
// duplicate participants collapsed to their first occurrence.
func (w WorkflowSpec) Normalize() WorkflowSpec {
	out := WorkflowSpec{
		ProcessName:        strings.TrimSpace(w.ProcessName),
		ProcessDescription: strings.TrimSpace(w.ProcessDescription),
		Trigger:            strings.TrimSpace(w.Trigger),
		EndEvent:           strings.TrimSpace(w.EndEvent),
		Activities:         compact(w.Activities),
		DecisionPoints:     compact(w.DecisionPoints),
		AdditionalElements: compact(w.AdditionalElements),
	}

	seen := make(map[string]struct{}, len(w.Participants))
	for _, p := range compact(w.Participants) {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out.Participants = append(out.Participants, p)
	}
	return out
}

// Fingerprint returns a canonical byte encoding of the normalized spec.
// Two specs with the same fingerprint synthesize the same process structure.
func (w WorkflowSpec) Fingerprint() []byte {
	data, _ := json.Marshal(w.Normalize())
	return data
}

func compact(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func lenientString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var list []json.RawMessage
	if json.Unmarshal(raw, &list) == nil {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			if v := scalarText(item); v != "" {
				parts = append(parts, v)
			}
		}
		return strings.Join(parts, " ")
	}
	return scalarText(raw)
}

func lenientStrings(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []json.RawMessage
	if json.Unmarshal(raw, &list) != nil {
		if v := scalarText(raw); v != "" {
			return []string{v}
		}
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if v := scalarText(item); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// scalarText renders a JSON value as label text. Objects carrying a name or
// label field use it; other objects are kept as compact JSON.
func scalarText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		_ = json.Unmarshal(raw, &s)
		return s
	case '{':
		var obj map[string]any
		if json.Unmarshal(raw, &obj) == nil {
			for _, key := range []string{"name", "label", "title", "description"} {
				if s, ok := obj[key].(string); ok && s != "" {
					return s
				}
			}
		}
		var buf bytes.Buffer
		if json.Compact(&buf, raw) == nil {
			return buf.String()
		}
		return string(raw)
	case '[':
		return ""
	default:
		var v any
		if json.Unmarshal(raw, &v) == nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	}
}
