package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendis/bpmnkit/internal/bpmn"
	"github.com/rendis/bpmnkit/internal/diagram"
	"github.com/rendis/bpmnkit/pkg/schema"
)

// Preview formats.
const (
	FormatMermaid = "mermaid"
	FormatASCII   = "ascii"
)

// ParseFormat validates a preview format name. Empty means mermaid.
func ParseFormat(s string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case "":
		return FormatMermaid, nil
	case FormatMermaid, FormatASCII:
		return f, nil
	default:
		return "", schema.NewErrorf(schema.ErrCodeValidation, "format must be %s or %s, got %q", FormatMermaid, FormatASCII, s)
	}
}

// Preview renders the process graph of spec as text.
func (s *Service) Preview(spec schema.WorkflowSpec, format string) (string, error) {
	return render(bpmn.BuildGraph(spec), format)
}

// PreviewDiagram renders the process graph an archived diagram was
// synthesized from. Revisions render their parent's structure.
func (s *Service) PreviewDiagram(ctx context.Context, id, format string) (string, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return render(bpmn.BuildGraph(d.Spec), format)
}

// Verify checks a BPMN document produced anywhere.
func (s *Service) Verify(doc string) *schema.ValidationResult {
	return bpmn.Verify(doc)
}

func render(g *bpmn.Graph, format string) (string, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return "", err
	}
	model, err := diagram.Build(g)
	if err != nil {
		return "", fmt.Errorf("build preview: %w", err)
	}
	if f == FormatASCII {
		return diagram.RenderASCII(model), nil
	}
	return diagram.RenderMermaid(model), nil
}
