package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/labstack/echo/v4"

	"github.com/rendis/bpmnkit/internal/intake"
	"github.com/rendis/bpmnkit/internal/service"
	"github.com/rendis/bpmnkit/internal/store"
	"github.com/rendis/bpmnkit/pkg/schema"
)

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Archive   bool      `json:"archive"`
}

// handleHealth returns basic health status (always returns 200 OK).
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   "bpmnkit",
		Version:   s.version,
		Archive:   s.svc.ArchiveEnabled(),
	})
}

type synthesizeBody struct {
	Spec  json.RawMessage `json:"spec"`
	Pitch int             `json:"pitch"`
	Save  *bool           `json:"save"`
}

// handleSynthesize converts a WorkflowSpec into BPMN XML.
// (POST /api/v1/diagrams)
//
// The response is the synthesis as JSON, or the bare document when
// ?format=xml is given. Results are archived unless save is false.
func (s *Server) handleSynthesize(c echo.Context) error {
	var body synthesizeBody
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON: "+err.Error())
	}
	if len(body.Spec) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "spec is required")
	}
	save := s.svc.ArchiveEnabled()
	if body.Save != nil {
		save = save && *body.Save
	}

	out, err := s.svc.SynthesizeDocument(c.Request().Context(), body.Spec, body.Pitch, save)
	if err != nil {
		return err
	}

	status := http.StatusOK
	if out.DiagramID != "" {
		status = http.StatusCreated
		c.Response().Header().Set(echo.HeaderLocation, "/api/v1/diagrams/"+out.DiagramID)
	}
	if c.QueryParam("format") == "xml" {
		return c.Blob(status, echo.MIMEApplicationXMLCharsetUTF8, []byte(out.XML))
	}
	return c.JSON(status, out)
}

type batchBody struct {
	Items   []service.BatchItem `json:"items"`
	Pitch   int                 `json:"pitch"`
	Save    *bool               `json:"save"`
	Workers int                 `json:"workers"`
}

// handleBatch synthesizes several specs in one call.
// (POST /api/v1/diagrams/batch)
//
// Item failures are reported per item; the response is 200 unless the
// batch itself is malformed.
func (s *Server) handleBatch(c echo.Context) error {
	var body batchBody
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON: "+err.Error())
	}
	save := s.svc.ArchiveEnabled()
	if body.Save != nil {
		save = save && *body.Save
	}

	out, err := s.svc.SynthesizeBatch(c.Request().Context(), service.BatchRequest{
		Items:   body.Items,
		Pitch:   body.Pitch,
		Save:    save,
		Workers: body.Workers,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// handleListDiagrams lists archived diagrams, newest first.
// (GET /api/v1/diagrams?process_name=&root_id=&latest=&since=&limit=&offset=)
func (s *Server) handleListDiagrams(c echo.Context) error {
	filter := store.DiagramFilter{
		ProcessName: c.QueryParam("process_name"),
		RootID:      c.QueryParam("root_id"),
		LatestOnly:  c.QueryParam("latest") == "true",
		Limit:       queryInt(c, "limit", 50),
		Offset:      queryInt(c, "offset", 0),
	}
	if since := c.QueryParam("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be an RFC 3339 timestamp")
		}
		filter.Since = &t
	}

	diagrams, err := s.svc.List(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	if c.QueryParam("include_xml") != "true" {
		for _, d := range diagrams {
			d.XML = ""
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"diagrams": diagrams})
}

// handleGetDiagram returns one archived diagram with its XML.
func (s *Server) handleGetDiagram(c echo.Context) error {
	d, err := s.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) handleDeleteDiagram(c echo.Context) error {
	if err := s.svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// handleExport serves the document as a .bpmn download.
func (s *Server) handleExport(c echo.Context) error {
	d, err := s.svc.Export(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	name := exportFilename(d)
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, echo.MIMEApplicationXMLCharsetUTF8, []byte(d.XML))
}

func (s *Server) handlePreviewDiagram(c echo.Context) error {
	text, err := s.svc.PreviewDiagram(c.Request().Context(), c.Param("id"), c.QueryParam("format"))
	if err != nil {
		return err
	}
	return c.String(http.StatusOK, text)
}

// handleHistory folds the audit trail of a diagram. With type set it lists
// the raw events of that type instead, newest first.
// (GET /api/v1/diagrams/:id/history?type=&since=&limit=)
func (s *Server) handleHistory(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	eventType := c.QueryParam("type")
	if eventType == "" {
		h, err := s.svc.History(ctx, id)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, h)
	}

	var since *time.Time
	if raw := c.QueryParam("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be an RFC 3339 timestamp")
		}
		since = &t
	}
	events, err := s.svc.Events(ctx, id, eventType, since, queryInt(c, "limit", 0))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"diagram_id": id,
		"event_type": eventType,
		"events":     events,
	})
}

func (s *Server) handleListRevisions(c echo.Context) error {
	revs, err := s.svc.Revisions(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	for _, d := range revs {
		d.XML = ""
	}
	return c.JSON(http.StatusOK, map[string]any{"revisions": revs})
}

// handleRevise archives a modified document as a new revision.
// (POST /api/v1/diagrams/:id/revisions)
//
// The body is the BPMN XML itself, or {"xml": "..."} when sent as JSON.
func (s *Server) handleRevise(c echo.Context) error {
	doc, err := readDocument(c, "xml")
	if err != nil {
		return err
	}

	rev, result, err := s.svc.Revise(c.Request().Context(), c.Param("id"), doc)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderLocation, "/api/v1/diagrams/"+rev.ID)
	return c.JSON(http.StatusCreated, map[string]any{
		"diagram":  rev,
		"warnings": result.Warnings,
	})
}

// handleValidate reports how a spec validates without synthesizing it.
func (s *Server) handleValidate(c echo.Context) error {
	spec, err := bindSpec(c)
	if err != nil {
		return err
	}
	result := s.svc.ValidateSpec(*spec)
	return c.JSON(http.StatusOK, map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// handlePreview renders a spec as Mermaid or ASCII without archiving it.
// (POST /api/v1/preview?format=mermaid|ascii)
func (s *Server) handlePreview(c echo.Context) error {
	spec, err := bindSpec(c)
	if err != nil {
		return err
	}
	text, err := s.svc.Preview(*spec, c.QueryParam("format"))
	if err != nil {
		return err
	}
	return c.String(http.StatusOK, text)
}

// handleParseSections reads a free-text brief into a spec.
// (POST /api/v1/sections/parse)
//
// The body is the text itself, or {"text": "..."} when sent as JSON.
func (s *Server) handleParseSections(c echo.Context) error {
	text, err := readDocument(c, "text")
	if err != nil {
		return err
	}
	parsed, result, err := s.svc.ParseSections(text)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"spec":     parsed.Spec,
		"sections": parsed.Sections,
		"ignored":  parsed.Ignored,
		"warnings": result.Warnings,
	})
}

type extractBody struct {
	Document     json.RawMessage `json:"document"`
	Program      string          `json:"program"`
	SourceSchema json.RawMessage `json:"source_schema"`
}

// handleExtract maps an arbitrary JSON document onto a spec with jq.
// (POST /api/v1/extract)
func (s *Server) handleExtract(c echo.Context) error {
	var body extractBody
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON: "+err.Error())
	}
	if len(body.Document) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "document is required")
	}

	spec, result, err := s.svc.Extract(c.Request().Context(), intake.ExtractRequest{
		Document:     body.Document,
		Program:      body.Program,
		SourceSchema: body.SourceSchema,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"spec":     spec,
		"warnings": result.Warnings,
	})
}

// handleVerify checks a BPMN document produced anywhere. Findings are part
// of a 200 response; only an unreadable body is a request error.
func (s *Server) handleVerify(c echo.Context) error {
	doc, err := readDocument(c, "xml")
	if err != nil {
		return err
	}
	result := s.svc.Verify(doc)
	return c.JSON(http.StatusOK, map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// --- helpers ---

// bindSpec decodes the request body leniently into a WorkflowSpec.
func bindSpec(c echo.Context) (*schema.WorkflowSpec, error) {
	var spec schema.WorkflowSpec
	if err := json.NewDecoder(c.Request().Body).Decode(&spec); err != nil {
		if schema.IsCode(err, schema.ErrCodeValidation) {
			return nil, err
		}
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid JSON: "+err.Error())
	}
	return &spec, nil
}

// readDocument returns the raw request body, or the string field named key
// when the body is JSON.
func readDocument(c echo.Context, key string) (string, error) {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "read body: "+err.Error())
	}

	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		var body map[string]any
		if err := json.Unmarshal(raw, &body); err != nil {
			return "", echo.NewHTTPError(http.StatusBadRequest, "invalid JSON: "+err.Error())
		}
		v, _ := body[key].(string)
		raw = []byte(v)
	}

	if strings.TrimSpace(string(raw)) == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, key+" is required")
	}
	return string(raw), nil
}

// queryInt extracts an integer query param with a default value.
func queryInt(c echo.Context, key string, def int) int {
	v := c.QueryParam(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// exportFilename derives a download name from the process name.
func exportFilename(d *store.Diagram) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return unicode.ToLower(r)
		case r == ' ' || r == '-' || r == '_':
			return '-'
		default:
			return -1
		}
	}, d.ProcessName)
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "diagram"
	}
	if d.Revision > 1 {
		slug += "-r" + strconv.Itoa(d.Revision)
	}
	return slug + ".bpmn"
}
