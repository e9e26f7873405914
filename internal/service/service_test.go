package service

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/bpmnkit/internal/bpmn"
	"github.com/rendis/bpmnkit/internal/intake"
	"github.com/rendis/bpmnkit/internal/logging"
	"github.com/rendis/bpmnkit/internal/store"
	"github.com/rendis/bpmnkit/pkg/schema"
)

var fixedClock = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }

func claimSpec() schema.WorkflowSpec {
	return schema.WorkflowSpec{
		ProcessName:    "Expense Claim",
		Participants:   []string{"Employee", "Manager"},
		Trigger:        "Claim submitted",
		Activities:     []string{"Employee fills in form", "Manager reviews claim", "Manager approves payout"},
		DecisionPoints: []string{"Within policy?"},
		EndEvent:       "Claim paid",
	}
}

func newArchiveService(t *testing.T) (*Service, *store.LibSQLStore) {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "svc.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	svc, err := New(Deps{
		Store:  s,
		Audit:  store.NewEventLog(s),
		Logger: logging.Discard(),
		Clock:  fixedClock,
	})
	require.NoError(t, err)
	return svc, s
}

func newEphemeralService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(Deps{Logger: logging.Discard(), Clock: fixedClock})
	require.NoError(t, err)
	return svc
}

// --- Synthesize ---

func TestSynthesize_Ephemeral(t *testing.T) {
	svc := newEphemeralService(t)

	out, err := svc.Synthesize(context.Background(), SynthesizeRequest{Spec: claimSpec(), Save: true})
	require.NoError(t, err)

	assert.Empty(t, out.DiagramID, "nothing is archived without a store")
	assert.Contains(t, out.XML, `name="Manager reviews claim"`)
	assert.Equal(t, 3, out.Stats.Tasks)
	assert.Equal(t, 1, out.Stats.Gateways)
	assert.Equal(t, fixedClock(), out.GeneratedAt)
	assert.Empty(t, out.Warnings)
	assert.NotNil(t, out.Graph())
	assert.True(t, svc.Verify(out.XML).Valid())
}

func TestSynthesize_WarningsDoNotBlock(t *testing.T) {
	svc := newEphemeralService(t)

	out, err := svc.Synthesize(context.Background(), SynthesizeRequest{Spec: schema.WorkflowSpec{
		Activities: []string{"Only step", "  "},
	}})
	require.NoError(t, err)
	assert.NotEmpty(t, out.XML)

	var paths []string
	for _, w := range out.Warnings {
		paths = append(paths, w.Path)
	}
	assert.Contains(t, paths, "trigger")
	assert.Contains(t, paths, "endEvent")
	assert.Contains(t, paths, "activities[1]")
}

func TestSynthesize_Saved(t *testing.T) {
	svc, _ := newArchiveService(t)
	ctx := logging.WithRequestID(context.Background(), "req-1")

	out, err := svc.Synthesize(ctx, SynthesizeRequest{Spec: claimSpec(), Save: true, Pitch: 200})
	require.NoError(t, err)
	require.NotEmpty(t, out.DiagramID)
	assert.Equal(t, 1, out.Revision)

	d, err := svc.Get(ctx, out.DiagramID)
	require.NoError(t, err)
	assert.Equal(t, "Expense Claim", d.ProcessName)
	assert.Equal(t, out.XML, d.XML)
	assert.Equal(t, out.DefinitionsID, d.DefinitionsID)
	assert.Equal(t, 200, d.Pitch)
	assert.Equal(t, claimSpec().Activities, d.Spec.Activities)
	var stats bpmn.Stats
	require.NoError(t, json.Unmarshal(d.Stats, &stats))
	assert.Equal(t, out.Stats, stats)

	h, err := svc.History(ctx, out.DiagramID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Events)
	require.NotNil(t, h.Synthesized)
}

func TestSynthesize_PitchOverride(t *testing.T) {
	svc := newEphemeralService(t)
	ctx := context.Background()

	narrow, err := svc.Synthesize(ctx, SynthesizeRequest{Spec: claimSpec()})
	require.NoError(t, err)
	wide, err := svc.Synthesize(ctx, SynthesizeRequest{Spec: claimSpec(), Pitch: 260})
	require.NoError(t, err)

	assert.NotEqual(t, narrow.XML, wide.XML)
	assert.Equal(t, narrow.DefinitionsID, wide.DefinitionsID, "pitch only moves shapes")
}

func TestSynthesize_PitchOutOfRange(t *testing.T) {
	svc := newEphemeralService(t)
	ctx := context.Background()

	for _, pitch := range []int{-1, bpmn.MaxPitch + 1, 1 << 62} {
		_, err := svc.Synthesize(ctx, SynthesizeRequest{Spec: claimSpec(), Pitch: pitch})
		assert.True(t, schema.IsCode(err, schema.ErrCodeValidation), "pitch %d: %v", pitch, err)
	}

	out, err := svc.Synthesize(ctx, SynthesizeRequest{Spec: claimSpec(), Pitch: bpmn.MaxPitch})
	require.NoError(t, err)
	assert.True(t, bpmn.Verify(out.XML).Valid())

	_, err = New(Deps{Logger: logging.Discard(), Pitch: bpmn.MaxPitch + 1})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestSynthesizeDocument(t *testing.T) {
	svc := newEphemeralService(t)
	ctx := context.Background()

	out, err := svc.SynthesizeDocument(ctx, []byte(`{
		"processName": "Refund",
		"participants": "Support",
		"trigger": "Ticket opened",
		"activities": ["Check order", 42],
		"endEvent": "Refunded",
		"unknownField": true
	}`), 0, false)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Stats.Tasks)
	assert.NotEmpty(t, out.Warnings, "schema violations surface as warnings")

	for _, doc := range []string{`not json`, `[1,2]`, `"text"`} {
		_, err := svc.SynthesizeDocument(ctx, []byte(doc), 0, false)
		require.Error(t, err, doc)
		assert.True(t, schema.IsCode(err, schema.ErrCodeValidation), doc)
	}
}

// --- Intake ---

func TestParseSections(t *testing.T) {
	svc := newEphemeralService(t)

	parsed, vr, err := svc.ParseSections("Participants: Clerk\nActivities\n- File request\n- Close request")
	require.NoError(t, err)
	assert.Equal(t, []string{"File request", "Close request"}, parsed.Spec.Activities)
	assert.True(t, vr.Valid())
	assert.NotEmpty(t, vr.Warnings, "missing trigger and end event are reported")

	_, _, err = svc.ParseSections("nothing recognisable")
	assert.True(t, schema.IsCode(err, schema.ErrCodeParse))
}

func TestExtract(t *testing.T) {
	svc := newEphemeralService(t)

	spec, vr, err := svc.Extract(context.Background(), intake.ExtractRequest{
		Document: map[string]any{"title": "Hiring", "steps": []any{"Screen", "Interview"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hiring", spec.ProcessName)
	assert.Equal(t, []string{"Screen", "Interview"}, spec.Activities)
	assert.True(t, vr.Valid())
}

// --- Archive ---

func TestRevise(t *testing.T) {
	svc, _ := newArchiveService(t)
	ctx := context.Background()

	orig, err := svc.Synthesize(ctx, SynthesizeRequest{Spec: claimSpec(), Save: true})
	require.NoError(t, err)

	edited := strings.Replace(orig.XML, `name="Claim paid"`, `name="Claim reimbursed"`, 1)
	rev, vr, err := svc.Revise(ctx, orig.DiagramID, edited)
	require.NoError(t, err)
	assert.True(t, vr.Valid())

	assert.Equal(t, orig.DiagramID, rev.ParentID)
	assert.Equal(t, orig.DiagramID, rev.RootID)
	assert.Equal(t, 2, rev.Revision)
	assert.Equal(t, edited, rev.XML)
	assert.Equal(t, orig.DefinitionsID, rev.DefinitionsID)
	assert.Equal(t, "Expense Claim", rev.ProcessName)

	parent, err := svc.Get(ctx, orig.DiagramID)
	require.NoError(t, err)
	assert.Equal(t, orig.XML, parent.XML, "the original is never patched")

	revs, err := svc.Revisions(ctx, rev.ID)
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, []int{1, 2}, []int{revs[0].Revision, revs[1].Revision})

	h, err := svc.History(ctx, orig.DiagramID)
	require.NoError(t, err)
	assert.Equal(t, []string{rev.ID}, h.Revisions)

	latest, err := svc.List(ctx, store.DiagramFilter{LatestOnly: true})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, rev.ID, latest[0].ID)
}

func TestRevise_RejectsBrokenDocuments(t *testing.T) {
	svc, _ := newArchiveService(t)
	ctx := context.Background()

	orig, err := svc.Synthesize(ctx, SynthesizeRequest{Spec: claimSpec(), Save: true})
	require.NoError(t, err)

	tests := []struct {
		name string
		doc  string
	}{
		{"malformed", orig.XML[:len(orig.XML)/2]},
		{"dangling flow", strings.Replace(orig.XML, `targetRef="EndEvent_1"`, `targetRef="Nowhere"`, 1)},
		{"wrong root", `<note id="n"/>`},
		{"undeclared prefixes", strings.NewReplacer(
			`xmlns:bpmn2=`, `xmlns:a=`, `xmlns:bpmndi=`, `xmlns:b=`, `xmlns:dc=`, `xmlns:c=`, `xmlns:di=`, `xmlns:d=`,
		).Replace(orig.XML)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rev, vr, err := svc.Revise(ctx, orig.DiagramID, tt.doc)
			require.Error(t, err)
			assert.Nil(t, rev)
			require.NotNil(t, vr)
			assert.False(t, vr.Valid())
			assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
		})
	}

	revs, err := svc.Revisions(ctx, orig.DiagramID)
	require.NoError(t, err)
	assert.Len(t, revs, 1)
}

func TestRevise_RunsHooks(t *testing.T) {
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "hooks.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	var order []string
	svc, err := New(Deps{
		Store:  s,
		Audit:  store.NewEventLog(s),
		Logger: logging.Discard(),
		Clock:  fixedClock,
		RevisionHooks: []RevisionHook{func(_ context.Context, rev *store.Diagram) {
			order = append(order, "deps:"+rev.ID)
		}},
	})
	require.NoError(t, err)
	svc.OnRevise(func(_ context.Context, rev *store.Diagram) {
		order = append(order, "registered:"+rev.ID)
	})

	ctx := context.Background()
	orig, err := svc.Synthesize(ctx, SynthesizeRequest{Spec: claimSpec(), Save: true})
	require.NoError(t, err)
	assert.Empty(t, order, "synthesis is not a revision")

	_, _, err = svc.Revise(ctx, orig.DiagramID, "<definitions/>")
	require.Error(t, err)
	assert.Empty(t, order, "rejected revisions run no hooks")

	rev, _, err := svc.Revise(ctx, orig.DiagramID, orig.XML)
	require.NoError(t, err)
	assert.Equal(t, []string{"deps:" + rev.ID, "registered:" + rev.ID}, order)
}

func TestRevise_UnknownDiagram(t *testing.T) {
	svc, _ := newArchiveService(t)
	ctx := context.Background()

	out, err := svc.Synthesize(ctx, SynthesizeRequest{Spec: claimSpec()})
	require.NoError(t, err)

	_, _, err = svc.Revise(ctx, "missing", out.XML)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestExportAndDelete(t *testing.T) {
	svc, _ := newArchiveService(t)
	ctx := context.Background()

	out, err := svc.Synthesize(ctx, SynthesizeRequest{Spec: claimSpec(), Save: true})
	require.NoError(t, err)

	d, err := svc.Export(ctx, out.DiagramID)
	require.NoError(t, err)
	assert.Equal(t, out.XML, d.XML)

	require.NoError(t, svc.Delete(ctx, out.DiagramID))
	_, err = svc.Get(ctx, out.DiagramID)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	assert.True(t, schema.IsCode(svc.Delete(ctx, out.DiagramID), schema.ErrCodeNotFound))

	h, err := svc.History(ctx, out.DiagramID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Exports)
	assert.NotNil(t, h.Deleted)
	assert.Equal(t, 3, h.Events)
}

func TestEvents(t *testing.T) {
	svc, _ := newArchiveService(t)
	ctx := context.Background()

	out, err := svc.Synthesize(ctx, SynthesizeRequest{Spec: claimSpec(), Save: true})
	require.NoError(t, err)
	for range 3 {
		_, err = svc.Export(ctx, out.DiagramID)
		require.NoError(t, err)
	}

	exports, err := svc.Events(ctx, out.DiagramID, schema.EventDiagramExported, nil, 0)
	require.NoError(t, err)
	require.Len(t, exports, 3)
	for _, e := range exports {
		assert.Equal(t, schema.EventDiagramExported, e.Type)
		assert.Equal(t, out.DiagramID, e.DiagramID)
	}
	assert.Greater(t, exports[0].Sequence, exports[2].Sequence, "newest first")

	limited, err := svc.Events(ctx, out.DiagramID, schema.EventDiagramExported, nil, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	later := time.Now().Add(time.Hour)
	none, err := svc.Events(ctx, out.DiagramID, schema.EventDiagramExported, &later, 0)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	revised, err := svc.Events(ctx, out.DiagramID, schema.EventDiagramRevised, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, revised)

	_, err = svc.Events(ctx, out.DiagramID, "diagram_printed", nil, 0)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation), "got %v", err)
	_, err = svc.Events(ctx, out.DiagramID, schema.EventDiagramExported, nil, -1)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation), "got %v", err)
}

func TestVacuum(t *testing.T) {
	svc, _ := newArchiveService(t)
	ctx := context.Background()

	out, err := svc.Synthesize(ctx, SynthesizeRequest{Spec: claimSpec(), Save: true})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, out.DiagramID))

	require.NoError(t, svc.Vacuum(ctx))

	h, err := svc.History(ctx, out.DiagramID)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Events, "vacuum keeps the audit trail")
}

func TestArchiveDisabled(t *testing.T) {
	svc := newEphemeralService(t)
	ctx := context.Background()
	assert.False(t, svc.ArchiveEnabled())

	_, err := svc.Get(ctx, "x")
	assert.ErrorIs(t, err, ErrArchiveDisabled)
	_, err = svc.List(ctx, store.DiagramFilter{})
	assert.ErrorIs(t, err, ErrArchiveDisabled)
	_, err = svc.Revisions(ctx, "x")
	assert.ErrorIs(t, err, ErrArchiveDisabled)
	_, err = svc.History(ctx, "x")
	assert.ErrorIs(t, err, ErrArchiveDisabled)
	_, _, err = svc.Revise(ctx, "x", "<definitions/>")
	assert.ErrorIs(t, err, ErrArchiveDisabled)
	assert.ErrorIs(t, svc.Delete(ctx, "x"), ErrArchiveDisabled)
	_, err = svc.Events(ctx, "x", schema.EventDiagramRevised, nil, 0)
	assert.ErrorIs(t, err, ErrArchiveDisabled)
	assert.ErrorIs(t, svc.Vacuum(ctx), ErrArchiveDisabled)
	assert.True(t, schema.IsCode(err, schema.ErrCodeStore))
}

type failingAudit struct{ calls int }

func (f *failingAudit) Record(context.Context, string, string, string, any) (*store.Event, error) {
	f.calls++
	return nil, errors.New("disk full")
}

func (f *failingAudit) Replay(context.Context, string) (*store.History, error) {
	return nil, errors.New("disk full")
}

func TestAuditFailureDoesNotFailSynthesis(t *testing.T) {
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	audit := &failingAudit{}
	svc, err := New(Deps{Store: s, Audit: audit, Logger: logging.Discard(), Clock: fixedClock})
	require.NoError(t, err)

	out, err := svc.Synthesize(context.Background(), SynthesizeRequest{Spec: claimSpec(), Save: true})
	require.NoError(t, err)
	assert.NotEmpty(t, out.DiagramID)
	assert.Equal(t, 1, audit.calls)
}

// --- Preview ---

func TestPreview(t *testing.T) {
	svc := newEphemeralService(t)

	mermaid, err := svc.Preview(claimSpec(), "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(mermaid, "graph LR"))
	assert.Contains(t, mermaid, "Within policy?")

	ascii, err := svc.Preview(claimSpec(), "ASCII")
	require.NoError(t, err)
	assert.Contains(t, ascii, "=== Expense Claim ===")

	_, err = svc.Preview(claimSpec(), "png")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestPreviewDiagram(t *testing.T) {
	svc, _ := newArchiveService(t)
	ctx := context.Background()

	out, err := svc.Synthesize(ctx, SynthesizeRequest{Spec: claimSpec(), Save: true})
	require.NoError(t, err)

	text, err := svc.PreviewDiagram(ctx, out.DiagramID, FormatASCII)
	require.NoError(t, err)
	assert.Contains(t, text, "Manager reviews claim")

	_, err = svc.PreviewDiagram(ctx, "missing", FormatASCII)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}
