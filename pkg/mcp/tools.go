package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/bpmnkit/internal/intake"
	"github.com/rendis/bpmnkit/internal/logging"
	"github.com/rendis/bpmnkit/internal/store"
	"github.com/rendis/bpmnkit/pkg/schema"
)

// handleSynthesize turns a spec into BPMN XML, archiving it when asked.
func (s *Server) handleSynthesize(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, ok := rawArgument(req, "spec")
	if !ok {
		return mcp.NewToolResultError("spec is required"), nil
	}
	pitch := req.GetInt("pitch", 0)
	save := s.svc.ArchiveEnabled() && req.GetBool("save", true)

	out, err := s.svc.SynthesizeDocument(ctx, doc, pitch, save)
	if err != nil {
		return toolError("synthesis failed", err), nil
	}
	if out.DiagramID != "" {
		s.watch(ctx, out.DiagramID)
	}
	return marshalResult(out)
}

// handleParseSections reads a free-text brief into a spec.
func (s *Server) handleParseSections(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("text is required"), nil
	}

	parsed, result, err := s.svc.ParseSections(text)
	if err != nil {
		return toolError("parse failed", err), nil
	}
	return marshalResult(map[string]any{
		"spec":     parsed.Spec,
		"sections": parsed.Sections,
		"ignored":  parsed.Ignored,
		"warnings": result.Warnings,
	})
}

// handleExtract maps an arbitrary document onto a spec with jq.
func (s *Server) handleExtract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	document, ok := args["document"]
	if !ok || document == nil {
		return mcp.NewToolResultError("document is required"), nil
	}

	extractReq := intake.ExtractRequest{
		Document: document,
		Program:  req.GetString("program", ""),
	}
	if raw, ok := rawArgument(req, "source_schema"); ok {
		extractReq.SourceSchema = raw
	}

	spec, result, err := s.svc.Extract(ctx, extractReq)
	if err != nil {
		return toolError("extraction failed", err), nil
	}
	return marshalResult(map[string]any{
		"spec":     spec,
		"warnings": result.Warnings,
	})
}

// handleVerify checks a document. Findings are a successful result.
func (s *Server) handleVerify(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := req.RequireString("xml")
	if err != nil {
		return mcp.NewToolResultError("xml is required"), nil
	}
	result := s.svc.Verify(doc)
	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// handlePreview renders a spec or an archived diagram as text.
func (s *Server) handlePreview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := req.GetString("format", "")
	diagramID := req.GetString("diagram_id", "")
	doc, hasSpec := rawArgument(req, "spec")

	var (
		text string
		err  error
	)
	switch {
	case diagramID != "":
		text, err = s.svc.PreviewDiagram(ctx, diagramID, format)
	case hasSpec:
		var spec schema.WorkflowSpec
		if err = json.Unmarshal(doc, &spec); err == nil {
			text, err = s.svc.Preview(spec, format)
		}
	default:
		return mcp.NewToolResultError("one of spec or diagram_id is required"), nil
	}
	if err != nil {
		return toolError("preview failed", err), nil
	}
	return mcp.NewToolResultText(text), nil
}

// handleGet returns an archived diagram.
func (s *Server) handleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("diagram_id")
	if err != nil {
		return mcp.NewToolResultError("diagram_id is required"), nil
	}
	d, err := s.svc.Get(ctx, id)
	if err != nil {
		return toolError("lookup failed", err), nil
	}
	return marshalResult(d)
}

// handleList lists archived diagrams without their documents.
func (s *Server) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filterMap := mcp.ParseStringMap(req, "filter", nil)

	filter := store.DiagramFilter{
		Limit:  extractInt(filterMap, "limit", 20),
		Offset: extractInt(filterMap, "offset", 0),
	}
	if v, ok := filterMap["process_name"].(string); ok {
		filter.ProcessName = v
	}
	if v, ok := filterMap["root_id"].(string); ok {
		filter.RootID = v
	}
	if v, ok := filterMap["latest"].(bool); ok {
		filter.LatestOnly = v
	}
	if v, ok := filterMap["since"].(string); ok && v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid since time: %v", err)), nil
		}
		filter.Since = &t
	}

	diagrams, err := s.svc.List(ctx, filter)
	if err != nil {
		return toolError("list failed", err), nil
	}
	for _, d := range diagrams {
		d.XML = ""
	}
	return marshalResult(map[string]any{"diagrams": diagrams})
}

// handleRevise archives an edited document and notifies sessions watching
// the lineage.
func (s *Server) handleRevise(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("diagram_id")
	if err != nil {
		return mcp.NewToolResultError("diagram_id is required"), nil
	}
	doc, err := req.RequireString("xml")
	if err != nil {
		return mcp.NewToolResultError("xml is required"), nil
	}

	rev, result, err := s.svc.Revise(ctx, id, doc)
	if err != nil {
		return toolError("revision rejected", err), nil
	}

	s.watch(ctx, rev.RootID)

	return marshalResult(map[string]any{
		"diagram":  rev,
		"warnings": result.Warnings,
	})
}

// handleHistory folds the audit trail of a diagram.
func (s *Server) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("diagram_id")
	if err != nil {
		return mcp.NewToolResultError("diagram_id is required"), nil
	}
	if eventType := req.GetString("type", ""); eventType != "" {
		events, err := s.svc.Events(ctx, id, eventType, nil, req.GetInt("limit", 0))
		if err != nil {
			return toolError("history failed", err), nil
		}
		return marshalResult(map[string]any{"diagram_id": id, "event_type": eventType, "events": events})
	}
	h, err := s.svc.History(ctx, id)
	if err != nil {
		return toolError("history failed", err), nil
	}
	return marshalResult(h)
}

// --- Helpers ---

// watch subscribes the calling session to revisions of a diagram lineage.
// notifyRevision tells every session watching the lineage about a new
// revision. It is registered on the service, so revisions arriving over
// REST reach MCP clients too.
func (s *Server) notifyRevision(ctx context.Context, rev *store.Diagram) {
	payload := map[string]any{
		"event":       schema.EventDiagramRevised,
		"diagram_id":  rev.RootID,
		"revision_id": rev.ID,
		"revision":    rev.Revision,
	}
	if err := s.notifier.Notify(ctx, rev.RootID, payload); err != nil {
		logging.LogWith(ctx, s.logger).Warn("revision notification failed", "diagram_id", rev.RootID, "error", err)
	}
}

func (s *Server) watch(ctx context.Context, rootID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(rootID, session.SessionID())
	}
}

// rawArgument re-encodes an argument as JSON for the lenient spec decoder.
func rawArgument(req mcp.CallToolRequest, key string) (json.RawMessage, bool) {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return nil, false
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	return data, true
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// toolError renders a failure as a tool error result. Validation findings
// are appended so the agent can correct its input.
func toolError(prefix string, err error) *mcp.CallToolResult {
	msg := fmt.Sprintf("%s: %v", prefix, err)
	var se *schema.Error
	if errors.As(err, &se) {
		if issues, ok := se.Details["errors"]; ok {
			if data, mErr := json.Marshal(issues); mErr == nil {
				msg += "\nerrors: " + string(data)
			}
		}
	}
	return mcp.NewToolResultError(msg)
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
