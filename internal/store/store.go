package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Diagrams
	SaveDiagram(ctx context.Context, d *Diagram) error
	GetDiagram(ctx context.Context, id string) (*Diagram, error)
	ListDiagrams(ctx context.Context, filter DiagramFilter) ([]*Diagram, error)
	ListRevisions(ctx context.Context, id string) ([]*Diagram, error)
	DeleteDiagram(ctx context.Context, id string) error

	// Audit trail (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, diagramID string, since int64) ([]*Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
