package schema

// Event type constants for the diagram archive audit log.
const (
	EventDiagramSynthesized = "diagram_synthesized"
	EventDiagramRevised     = "diagram_revised"
	EventDiagramExported    = "diagram_exported"
	EventDiagramDeleted     = "diagram_deleted"
)
