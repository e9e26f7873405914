package service

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rendis/bpmnkit/internal/bpmn"
	"github.com/rendis/bpmnkit/internal/store"
	"github.com/rendis/bpmnkit/pkg/schema"
)

// Get returns an archived diagram.
func (s *Service) Get(ctx context.Context, id string) (*store.Diagram, error) {
	if s.store == nil {
		return nil, ErrArchiveDisabled
	}
	return s.store.GetDiagram(ctx, id)
}

// List returns archived diagrams matching filter, newest first.
func (s *Service) List(ctx context.Context, filter store.DiagramFilter) ([]*store.Diagram, error) {
	if s.store == nil {
		return nil, ErrArchiveDisabled
	}
	return s.store.ListDiagrams(ctx, filter)
}

// Revisions returns the lineage of a diagram, oldest first.
func (s *Service) Revisions(ctx context.Context, id string) ([]*store.Diagram, error) {
	if s.store == nil {
		return nil, ErrArchiveDisabled
	}
	return s.store.ListRevisions(ctx, id)
}

// Export returns an archived diagram for download and records the export.
func (s *Service) Export(ctx context.Context, id string) (*store.Diagram, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.record(ctx, d.ID, schema.EventDiagramExported, nil)
	return d, nil
}

// Delete removes one archived diagram. Its audit trail is kept.
func (s *Service) Delete(ctx context.Context, id string) error {
	if s.store == nil {
		return ErrArchiveDisabled
	}
	if err := s.store.DeleteDiagram(ctx, id); err != nil {
		return err
	}
	s.record(ctx, id, schema.EventDiagramDeleted, nil)
	s.log(ctx).Info("diagram deleted", "diagram_id", id)
	return nil
}

// History folds the audit trail of a diagram.
func (s *Service) History(ctx context.Context, id string) (*store.History, error) {
	if s.audit == nil {
		return nil, ErrArchiveDisabled
	}
	return s.audit.Replay(ctx, id)
}

// eventTypes are the audit event types Events accepts.
var eventTypes = []string{
	schema.EventDiagramSynthesized,
	schema.EventDiagramRevised,
	schema.EventDiagramExported,
	schema.EventDiagramDeleted,
}

// Events returns the audit events of one type recorded against diagram id,
// newest first. Since and limit narrow the result when set.
func (s *Service) Events(ctx context.Context, id, eventType string, since *time.Time, limit int) ([]*store.Event, error) {
	if s.store == nil {
		return nil, ErrArchiveDisabled
	}
	if !slices.Contains(eventTypes, eventType) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown event type %q, want one of %s", eventType, strings.Join(eventTypes, ", "))
	}
	if limit < 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "limit must not be negative")
	}
	events, err := s.store.GetEventsByType(ctx, eventType, store.EventFilter{DiagramID: id, Since: since, Limit: limit})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list events failed").WithCause(err)
	}
	if events == nil {
		events = []*store.Event{}
	}
	return events, nil
}

// Vacuum compacts the archive database.
func (s *Service) Vacuum(ctx context.Context) error {
	if s.store == nil {
		return ErrArchiveDisabled
	}
	start := time.Now()
	if err := s.store.Vacuum(ctx); err != nil {
		return schema.NewError(schema.ErrCodeStore, "vacuum failed").WithCause(err)
	}
	s.log(ctx).Info("archive vacuumed", "duration", time.Since(start))
	return nil
}

// Revise archives a modified document as a new revision of diagram id. The
// document must verify without errors; the original is never modified. The
// revision keeps the parent's spec, so previews still show the synthesized
// structure.
func (s *Service) Revise(ctx context.Context, id, doc string) (*store.Diagram, *schema.ValidationResult, error) {
	if s.store == nil {
		return nil, nil, ErrArchiveDisabled
	}

	result := bpmn.Verify(doc)
	if err := result.ToError(); err != nil {
		return nil, result, err
	}

	parent, err := s.store.GetDiagram(ctx, id)
	if err != nil {
		return nil, result, err
	}

	rev := &store.Diagram{
		ParentID:      parent.ID,
		ProcessName:   parent.ProcessName,
		Spec:          parent.Spec,
		XML:           doc,
		DefinitionsID: parent.DefinitionsID,
		Pitch:         parent.Pitch,
		CreatedAt:     s.clock().UTC(),
	}
	if in, err := bpmn.Inspect(doc); err == nil {
		if defs := in.OfKind("definitions"); len(defs) > 0 && defs[0].ID != "" {
			rev.DefinitionsID = defs[0].ID
		}
		if procs := in.OfKind("process"); len(procs) > 0 && procs[0].Name != "" {
			rev.ProcessName = procs[0].Name
		}
		rev.Stats, _ = json.Marshal(countElements(in))
	}

	if err := s.store.SaveDiagram(ctx, rev); err != nil {
		return nil, result, fmt.Errorf("archive revision: %w", err)
	}

	s.record(ctx, rev.RootID, schema.EventDiagramRevised, store.RevisionPayload{
		RevisionID: rev.ID,
		Revision:   rev.Revision,
	})
	s.log(ctx).Info("diagram revised",
		"diagram_id", parent.ID,
		"revision_id", rev.ID,
		"revision", rev.Revision,
		"warnings", len(result.Warnings),
	)
	s.revised(ctx, rev)
	return rev, result, nil
}

// countElements approximates bpmn.Stats for a document produced elsewhere.
func countElements(in *bpmn.Inspection) bpmn.Stats {
	var st bpmn.Stats
	for _, e := range in.Elements {
		switch e.Kind {
		case "participant":
			st.Participants++
		case "exclusiveGateway", "inclusiveGateway", "parallelGateway", "eventBasedGateway", "complexGateway":
			st.Gateways++
		case "sequenceFlow":
			st.SequenceFlows++
		case "textAnnotation":
			st.Annotations++
		case "BPMNShape":
			st.Shapes++
		case "BPMNEdge":
			st.Edges++
		default:
			if e.Kind == "task" || strings.HasSuffix(e.Kind, "Task") {
				st.Tasks++
			}
		}
	}
	st.AllocatedIDs = len(in.Elements)
	return st
}
