package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/bpmnkit/internal/logging"
	"github.com/rendis/bpmnkit/internal/service"
	"github.com/rendis/bpmnkit/internal/store"
)

const claimSpecJSON = `{
	"processName": "Expense Claim",
	"participants": ["Employee", "Manager"],
	"trigger": "Claim submitted",
	"activities": ["Employee fills in form", "Manager reviews claim", "Manager approves payout"],
	"decisionPoints": ["Within policy?"],
	"endEvent": "Claim paid"
}`

func newTestServer(t *testing.T, archive bool, hooks ...service.RevisionHook) *Server {
	t.Helper()
	deps := service.Deps{
		Logger:        logging.Discard(),
		Clock:         func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) },
		RevisionHooks: hooks,
	}
	if archive {
		s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "api.db"))
		require.NoError(t, err)
		require.NoError(t, s.Migrate(context.Background()))
		t.Cleanup(func() { _ = s.Close() })
		deps.Store = s
		deps.Audit = store.NewEventLog(s)
	}
	svc, err := service.New(deps)
	require.NoError(t, err)
	return NewServer(Deps{Service: svc, Logger: logging.Discard(), Version: "test"})
}

func do(t *testing.T, srv *Server, method, target, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func requireProblem(t *testing.T, rec *httptest.ResponseRecorder, status int) ProblemDetails {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, mimeProblemJSON, rec.Header().Get(echo.HeaderContentType))
	var p ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, status, p.Status)
	assert.Equal(t, "about:blank", p.Type)
	return p
}

func synthesizeSaved(t *testing.T, srv *Server) string {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/v1/diagrams", echo.MIMEApplicationJSON, `{"spec":`+claimSpecJSON+`}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id, _ := decode(t, rec)["diagram_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, false)

	for _, path := range []string{"/healthz", "/api/v1/healthz"} {
		rec := do(t, srv, http.MethodGet, path, "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "test", body["version"])
		assert.Equal(t, false, body["archive"])
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t, false)
	rec := do(t, srv, http.MethodGet, "/healthz", "", "")
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

// --- Synthesis ---

func TestSynthesize_Archived(t *testing.T) {
	srv := newTestServer(t, true)

	rec := do(t, srv, http.MethodPost, "/api/v1/diagrams", echo.MIMEApplicationJSON, `{"spec":`+claimSpecJSON+`}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decode(t, rec)
	id := body["diagram_id"].(string)
	assert.Equal(t, "/api/v1/diagrams/"+id, rec.Header().Get(echo.HeaderLocation))
	assert.Contains(t, body["xml"], "bpmn2:definitions")
	stats := body["stats"].(map[string]any)
	assert.Equal(t, float64(3), stats["tasks"])
}

func TestSynthesize_EphemeralAndXML(t *testing.T) {
	srv := newTestServer(t, true)

	rec := do(t, srv, http.MethodPost, "/api/v1/diagrams?format=xml", echo.MIMEApplicationJSON,
		`{"spec":`+claimSpecJSON+`, "save": false, "pitch": 220}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationXML))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "<?xml"))
	assert.Empty(t, rec.Header().Get(echo.HeaderLocation))
}

func TestSynthesize_WithoutArchive(t *testing.T) {
	srv := newTestServer(t, false)

	rec := do(t, srv, http.MethodPost, "/api/v1/diagrams", echo.MIMEApplicationJSON, `{"spec":`+claimSpecJSON+`}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode(t, rec)["diagram_id"])
}

func TestSynthesize_BadRequests(t *testing.T) {
	srv := newTestServer(t, false)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"not json", `{`, http.StatusBadRequest},
		{"missing spec", `{"pitch": 200}`, http.StatusBadRequest},
		{"spec not an object", `{"spec": [1, 2]}`, http.StatusUnprocessableEntity},
		{"pitch too large", `{"spec": ` + claimSpecJSON + `, "pitch": 4611686018427387904}`, http.StatusUnprocessableEntity},
		{"negative pitch", `{"spec": ` + claimSpecJSON + `, "pitch": -10}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/v1/diagrams", echo.MIMEApplicationJSON, tt.body)
			p := requireProblem(t, rec, tt.status)
			assert.Equal(t, "/api/v1/diagrams", p.Instance)
		})
	}
}

func TestValidate(t *testing.T) {
	srv := newTestServer(t, false)

	rec := do(t, srv, http.MethodPost, "/api/v1/validate", echo.MIMEApplicationJSON, `{"activities": ["Only step"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["valid"])
	assert.NotEmpty(t, body["warnings"])
}

func TestPreview(t *testing.T) {
	srv := newTestServer(t, false)

	rec := do(t, srv, http.MethodPost, "/api/v1/preview", echo.MIMEApplicationJSON, claimSpecJSON)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "graph LR"))

	rec = do(t, srv, http.MethodPost, "/api/v1/preview?format=ascii", echo.MIMEApplicationJSON, claimSpecJSON)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "=== Expense Claim ===")

	rec = do(t, srv, http.MethodPost, "/api/v1/preview?format=svg", echo.MIMEApplicationJSON, claimSpecJSON)
	p := requireProblem(t, rec, http.StatusUnprocessableEntity)
	assert.Equal(t, "VALIDATION_ERROR", p.Code)
}

// --- Intake ---

func TestParseSections(t *testing.T) {
	srv := newTestServer(t, false)
	brief := "Process Name: Onboarding\nActivities\n1. Create account\n2. Ship laptop"

	for _, tc := range []struct {
		name, contentType, body string
	}{
		{"plain text", echo.MIMETextPlain, brief},
		{"json", echo.MIMEApplicationJSON, mustJSON(t, map[string]string{"text": brief})},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/v1/sections/parse", tc.contentType, tc.body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			spec := decode(t, rec)["spec"].(map[string]any)
			assert.Equal(t, "Onboarding", spec["processName"])
			assert.Equal(t, []any{"Create account", "Ship laptop"}, spec["activities"])
		})
	}

	rec := do(t, srv, http.MethodPost, "/api/v1/sections/parse", echo.MIMETextPlain, "no headers here")
	p := requireProblem(t, rec, http.StatusBadRequest)
	assert.Equal(t, "PARSE_ERROR", p.Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/sections/parse", echo.MIMETextPlain, "   ")
	requireProblem(t, rec, http.StatusBadRequest)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestExtract(t *testing.T) {
	srv := newTestServer(t, false)

	rec := do(t, srv, http.MethodPost, "/api/v1/extract", echo.MIMEApplicationJSON,
		`{"document": {"ticket": {"title": "Refund", "stages": ["Check", "Pay"]}},
		  "program": "{processName: .ticket.title, activities: .ticket.stages}"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	spec := decode(t, rec)["spec"].(map[string]any)
	assert.Equal(t, "Refund", spec["processName"])

	rec = do(t, srv, http.MethodPost, "/api/v1/extract", echo.MIMEApplicationJSON, `{"program": "."}`)
	requireProblem(t, rec, http.StatusBadRequest)

	rec = do(t, srv, http.MethodPost, "/api/v1/extract", echo.MIMEApplicationJSON, `{"document": {}, "program": "{"}`)
	requireProblem(t, rec, http.StatusUnprocessableEntity)
}

func TestVerify(t *testing.T) {
	srv := newTestServer(t, false)

	rec := do(t, srv, http.MethodPost, "/api/v1/diagrams?format=xml", echo.MIMEApplicationJSON, `{"spec":`+claimSpecJSON+`}`)
	require.Equal(t, http.StatusOK, rec.Code)
	doc := rec.Body.String()

	rec = do(t, srv, http.MethodPost, "/api/v1/verify", echo.MIMEApplicationXML, doc)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["valid"])

	rec = do(t, srv, http.MethodPost, "/api/v1/verify", echo.MIMEApplicationXML, "<definitions><broken>")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["valid"])
	assert.NotEmpty(t, body["errors"])
}

// --- Archive ---

func TestArchiveRoutes(t *testing.T) {
	srv := newTestServer(t, true)
	id := synthesizeSaved(t, srv)

	rec := do(t, srv, http.MethodGet, "/api/v1/diagrams/"+id, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	d := decode(t, rec)
	assert.Equal(t, "Expense Claim", d["process_name"])
	xml := d["xml"].(string)

	rec = do(t, srv, http.MethodGet, "/api/v1/diagrams?latest=true", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)["diagrams"].([]any)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].(map[string]any)["xml"], "list omits documents by default")

	rec = do(t, srv, http.MethodGet, "/api/v1/diagrams/"+id+"/export", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="expense-claim.bpmn"`, rec.Header().Get(echo.HeaderContentDisposition))
	assert.Equal(t, xml, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/api/v1/diagrams/"+id+"/preview?format=ascii", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Manager reviews claim")

	edited := strings.Replace(xml, `name="Claim paid"`, `name="Claim reimbursed"`, 1)
	rec = do(t, srv, http.MethodPost, "/api/v1/diagrams/"+id+"/revisions", echo.MIMEApplicationXML, edited)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rev := decode(t, rec)["diagram"].(map[string]any)
	assert.Equal(t, float64(2), rev["revision"])
	assert.Equal(t, id, rev["parent_id"])

	rec = do(t, srv, http.MethodGet, "/api/v1/diagrams/"+id+"/revisions", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["revisions"], 2)

	rec = do(t, srv, http.MethodGet, "/api/v1/diagrams/"+id+"/history", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	h := decode(t, rec)
	assert.Equal(t, float64(1), h["exports"])
	assert.Len(t, h["revisions"], 1)

	rec = do(t, srv, http.MethodGet, "/api/v1/diagrams/"+id+"/history?type=diagram_exported&limit=5", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	ev := decode(t, rec)
	assert.Equal(t, "diagram_exported", ev["event_type"])
	require.Len(t, ev["events"], 1)
	assert.Equal(t, id, ev["events"].([]any)[0].(map[string]any)["diagram_id"])

	rec = do(t, srv, http.MethodGet, "/api/v1/diagrams/"+id+"/history?type=diagram_printed", "", "")
	requireProblem(t, rec, http.StatusUnprocessableEntity)
	rec = do(t, srv, http.MethodGet, "/api/v1/diagrams/"+id+"/history?type=diagram_exported&since=yesterday", "", "")
	requireProblem(t, rec, http.StatusBadRequest)

	rec = do(t, srv, http.MethodDelete, "/api/v1/diagrams/"+id, "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/diagrams/"+id, "", "")
	p := requireProblem(t, rec, http.StatusNotFound)
	assert.Equal(t, "NOT_FOUND", p.Code)
}

func TestRevise_Rejected(t *testing.T) {
	srv := newTestServer(t, true)
	id := synthesizeSaved(t, srv)

	rec := do(t, srv, http.MethodPost, "/api/v1/diagrams/"+id+"/revisions", echo.MIMEApplicationJSON,
		`{"xml": "<bpmn2:definitions xmlns:bpmn2=\"x\" id=\"d\"/>"}`)
	p := requireProblem(t, rec, http.StatusUnprocessableEntity)
	assert.NotEmpty(t, p.Details["errors"])

	rec = do(t, srv, http.MethodPost, "/api/v1/diagrams/"+id+"/revisions", echo.MIMEApplicationJSON, `{}`)
	requireProblem(t, rec, http.StatusBadRequest)
}

func TestRevise_RunsRevisionHooks(t *testing.T) {
	var revised []*store.Diagram
	srv := newTestServer(t, true, func(_ context.Context, rev *store.Diagram) {
		revised = append(revised, rev)
	})
	id := synthesizeSaved(t, srv)

	rec := do(t, srv, http.MethodGet, "/api/v1/diagrams/"+id+"/export", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	edited := strings.Replace(rec.Body.String(), `name="Claim paid"`, `name="Claim reimbursed"`, 1)

	rec = do(t, srv, http.MethodPost, "/api/v1/diagrams/"+id+"/revisions", echo.MIMEApplicationXML, edited)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rev := decode(t, rec)["diagram"].(map[string]any)

	require.Len(t, revised, 1)
	assert.Equal(t, id, revised[0].RootID)
	assert.Equal(t, rev["id"], revised[0].ID)
	assert.Equal(t, 2, revised[0].Revision)

	rec = do(t, srv, http.MethodPost, "/api/v1/diagrams/"+id+"/revisions", echo.MIMEApplicationXML, "<nope/>")
	requireProblem(t, rec, http.StatusUnprocessableEntity)
	assert.Len(t, revised, 1, "rejected revisions run no hooks")
}

func TestArchiveDisabled(t *testing.T) {
	srv := newTestServer(t, false)

	for _, path := range []string{"/api/v1/diagrams", "/api/v1/diagrams/x", "/api/v1/diagrams/x/history"} {
		rec := do(t, srv, http.MethodGet, path, "", "")
		p := requireProblem(t, rec, http.StatusNotImplemented)
		assert.Equal(t, "STORE_ERROR", p.Code)
	}
}

func TestSynthesizeBatch(t *testing.T) {
	srv := newTestServer(t, true)

	body := `{"items": [
		{"name": "claim", "spec": ` + claimSpecJSON + `},
		{"name": "broken", "spec": ["not a spec"]}
	], "workers": 2}`
	rec := do(t, srv, http.MethodPost, "/api/v1/diagrams/batch", echo.MIMEApplicationJSON, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out service.Batch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 1, out.Succeeded)
	assert.Equal(t, 1, out.Failed)
	require.Len(t, out.Results, 2)
	require.NotNil(t, out.Results[0].Synthesis)
	assert.NotEmpty(t, out.Results[0].Synthesis.DiagramID)
	require.NotNil(t, out.Results[1].Error)
	assert.Equal(t, "VALIDATION_ERROR", out.Results[1].Error.Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/diagrams/batch", echo.MIMEApplicationJSON, `{"items": []}`)
	p := requireProblem(t, rec, http.StatusUnprocessableEntity)
	assert.Equal(t, "VALIDATION_ERROR", p.Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/diagrams/batch", echo.MIMEApplicationJSON, `{`)
	requireProblem(t, rec, http.StatusBadRequest)
}

func TestListDiagrams_BadSince(t *testing.T) {
	srv := newTestServer(t, true)
	rec := do(t, srv, http.MethodGet, "/api/v1/diagrams?since=yesterday", "", "")
	requireProblem(t, rec, http.StatusBadRequest)
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t, false)
	rec := do(t, srv, http.MethodGet, "/api/v1/nope", "", "")
	requireProblem(t, rec, http.StatusNotFound)
}

func TestMCPMount(t *testing.T) {
	svc, err := service.New(service.Deps{Logger: logging.Discard()})
	require.NoError(t, err)

	var hit string
	mcp := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = r.URL.Path
		w.WriteHeader(http.StatusAccepted)
	})
	srv := NewServer(Deps{Service: svc, Logger: logging.Discard(), MCP: mcp})

	rec := do(t, srv, http.MethodPost, "/mcp/message", echo.MIMEApplicationJSON, `{}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "/mcp/message", hit)
}
