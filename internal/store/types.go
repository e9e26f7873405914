package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/bpmnkit/pkg/schema"
)

// Diagram is a persisted synthesis: the input spec, the produced XML and
// enough metadata to list and revise it.
type Diagram struct {
	ID            string              `json:"id"`
	RootID        string              `json:"root_id"`
	ParentID      string              `json:"parent_id,omitempty"`
	Revision      int                 `json:"revision"`
	ProcessName   string              `json:"process_name"`
	Spec          schema.WorkflowSpec `json:"spec"`
	XML           string              `json:"xml,omitempty"`
	DefinitionsID string              `json:"definitions_id"`
	Pitch         int                 `json:"pitch"`
	Stats         json.RawMessage     `json:"stats,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

// Event is an immutable entry in the audit trail.
type Event struct {
	ID        int64           `json:"id"`
	DiagramID string          `json:"diagram_id"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// DiagramFilter narrows ListDiagrams. ProcessName matches as a
// case-insensitive substring.
type DiagramFilter struct {
	ProcessName string
	RootID      string
	LatestOnly  bool
	Since       *time.Time
	Limit       int
	Offset      int
}

// EventFilter narrows GetEventsByType.
type EventFilter struct {
	DiagramID string
	Since     *time.Time
	Limit     int
}

// History is the audit trail of one diagram folded into counters.
type History struct {
	DiagramID   string     `json:"diagram_id"`
	Events      int        `json:"events"`
	Synthesized *time.Time `json:"synthesized_at,omitempty"`
	Revisions   []string   `json:"revisions,omitempty"`
	Exports     int        `json:"exports"`
	Deleted     *time.Time `json:"deleted_at,omitempty"`
}
