package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rendis/bpmnkit/internal/bpmn"
	"github.com/rendis/bpmnkit/internal/intake"
	"github.com/rendis/bpmnkit/internal/store"
	"github.com/rendis/bpmnkit/pkg/schema"
)

// SynthesizeRequest asks for one diagram.
type SynthesizeRequest struct {
	Spec schema.WorkflowSpec
	// Pitch overrides the default column pitch when positive.
	Pitch int
	// Save archives the result. Ignored when the archive is disabled.
	Save bool
}

// Synthesis is the outcome of a synthesize call.
type Synthesis struct {
	DiagramID     string                   `json:"diagram_id,omitempty"`
	Revision      int                      `json:"revision,omitempty"`
	XML           string                   `json:"xml"`
	DefinitionsID string                   `json:"definitions_id"`
	ProcessID     string                   `json:"process_id"`
	GeneratedAt   time.Time                `json:"generated_at"`
	Stats         bpmn.Stats               `json:"stats"`
	Warnings      []schema.ValidationIssue `json:"warnings,omitempty"`

	result *bpmn.Result
}

// Graph returns the process graph the document was encoded from.
func (s *Synthesis) Graph() *bpmn.Graph { return s.result.Graph }

// Synthesize validates req.Spec, converts it to BPMN XML and optionally
// archives the document. Validation warnings never block synthesis.
func (s *Service) Synthesize(ctx context.Context, req SynthesizeRequest) (*Synthesis, error) {
	result := s.validator.ValidateSpec(req.Spec)
	return s.synthesize(ctx, req, result)
}

// SynthesizeDocument is Synthesize over a raw JSON WorkflowSpec document.
func (s *Service) SynthesizeDocument(ctx context.Context, doc []byte, pitch int, save bool) (*Synthesis, error) {
	spec, result := s.validator.Validate(doc)
	if spec == nil {
		return nil, result.ToError()
	}
	return s.synthesize(ctx, SynthesizeRequest{Spec: *spec, Pitch: pitch, Save: save}, result)
}

func (s *Service) synthesize(ctx context.Context, req SynthesizeRequest, vr *schema.ValidationResult) (*Synthesis, error) {
	if err := vr.ToError(); err != nil {
		return nil, err
	}
	if err := checkPitch(req.Pitch); err != nil {
		return nil, err
	}

	synth := s.synth
	if req.Pitch > 0 && req.Pitch != synth.Pitch() {
		synth = newSynthesizer(req.Pitch, s.clock)
	}

	res, err := synth.Synthesize(req.Spec)
	if err != nil {
		return nil, fmt.Errorf("synthesize %q: %w", req.Spec.ProcessName, err)
	}

	out := &Synthesis{
		XML:           res.XML,
		DefinitionsID: res.DefinitionsID,
		ProcessID:     res.ProcessID,
		GeneratedAt:   res.GeneratedAt,
		Stats:         res.Stats,
		Warnings:      vr.Warnings,
		result:        res,
	}

	log := s.log(ctx)
	if req.Save && s.store != nil {
		stats, _ := json.Marshal(res.Stats)
		d := &store.Diagram{
			ProcessName:   res.Graph.ProcessName,
			Spec:          req.Spec,
			XML:           res.XML,
			DefinitionsID: res.DefinitionsID,
			Pitch:         synth.Pitch(),
			Stats:         stats,
			CreatedAt:     res.GeneratedAt,
		}
		if err := s.store.SaveDiagram(ctx, d); err != nil {
			return nil, fmt.Errorf("archive diagram: %w", err)
		}
		out.DiagramID, out.Revision = d.ID, d.Revision
		s.record(ctx, d.ID, schema.EventDiagramSynthesized, res.Stats)
		log = log.With("diagram_id", d.ID)
	}

	log.Info("diagram synthesized",
		"process", res.Graph.ProcessName,
		"tasks", res.Stats.Tasks,
		"gateways", res.Stats.Gateways,
		"warnings", len(vr.Warnings),
	)
	return out, nil
}

// checkPitch rejects a pitch override outside [0, bpmn.MaxPitch]. Zero keeps
// the default and positive values below bpmn.MinPitch are raised to it.
func checkPitch(pitch int) error {
	if pitch < 0 || pitch > bpmn.MaxPitch {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"pitch must be between 0 and %d, got %d", bpmn.MaxPitch, pitch)
	}
	return nil
}

// ParseSections reads a free-text brief into a spec and reports how the
// spec would validate.
func (s *Service) ParseSections(text string) (*intake.Parsed, *schema.ValidationResult, error) {
	parsed, err := intake.ParseSections(text)
	if err != nil {
		return nil, nil, err
	}
	return parsed, s.validator.ValidateSpec(parsed.Spec), nil
}

// Extract maps an arbitrary JSON document onto a spec with a jq program and
// reports how the spec would validate.
func (s *Service) Extract(ctx context.Context, req intake.ExtractRequest) (*schema.WorkflowSpec, *schema.ValidationResult, error) {
	spec, err := s.extractor.Extract(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return spec, s.validator.ValidateSpec(*spec), nil
}

// ValidateSpec runs the intake validation pipeline without synthesizing.
func (s *Service) ValidateSpec(spec schema.WorkflowSpec) *schema.ValidationResult {
	return s.validator.ValidateSpec(spec)
}
