package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rendis/bpmnkit/pkg/schema"
)

// EventLog provides audit-trail operations on top of a LibSQLStore.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore to provide audit-trail operations.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with a monotonically increasing per-diagram sequence.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := el.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin immediate tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode BeginTx starts a deferred transaction; a write forces the
	// lock before the sequence is read.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// Record marshals payload and appends an event of the given type.
func (el *EventLog) Record(ctx context.Context, diagramID, eventType, requestID string, payload any) (*Event, error) {
	e := &Event{DiagramID: diagramID, Type: eventType, RequestID: requestID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal event payload: %w", err)
		}
		e.Payload = raw
	}
	if err := el.AppendEvent(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// GetEvents returns events for a diagram with sequence > since, ordered by sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, diagramID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, diagramID, since)
}

// RevisionPayload is the payload of a diagram_revised event.
type RevisionPayload struct {
	RevisionID string `json:"revision_id"`
	Revision   int    `json:"revision"`
}

// Replay folds the audit trail of a diagram into a History.
// Returns an error if sequence gaps are detected.
func (el *EventLog) Replay(ctx context.Context, diagramID string) (*History, error) {
	events, err := el.store.GetEvents(ctx, diagramID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	h := &History{DiagramID: diagramID, Events: len(events)}

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in diagram %s: expected %d, got %d", diagramID, expected, e.Sequence)
		}

		ts := e.Timestamp
		switch e.Type {
		case schema.EventDiagramSynthesized:
			h.Synthesized = &ts
		case schema.EventDiagramRevised:
			var p RevisionPayload
			if json.Unmarshal(e.Payload, &p) == nil && p.RevisionID != "" {
				h.Revisions = append(h.Revisions, p.RevisionID)
			}
		case schema.EventDiagramExported:
			h.Exports++
		case schema.EventDiagramDeleted:
			h.Deleted = &ts
		}
	}

	return h, nil
}
