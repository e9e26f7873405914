// Package service wires synthesis, validation, intake and the diagram
// archive into the operations every transport exposes.
package service

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/rendis/bpmnkit/internal/bpmn"
	"github.com/rendis/bpmnkit/internal/intake"
	"github.com/rendis/bpmnkit/internal/logging"
	"github.com/rendis/bpmnkit/internal/store"
	"github.com/rendis/bpmnkit/internal/validation"
	"github.com/rendis/bpmnkit/pkg/schema"
)

// AuditLog records and folds the audit trail of archived diagrams.
// *store.EventLog implements it.
type AuditLog interface {
	Record(ctx context.Context, diagramID, eventType, requestID string, payload any) (*store.Event, error)
	Replay(ctx context.Context, diagramID string) (*store.History, error)
}

// Deps holds the dependencies for creating a Service. Store and Audit are
// optional: without them the archive operations fail with ErrArchiveDisabled.
type Deps struct {
	Store  store.Store
	Audit  AuditLog
	Logger *slog.Logger
	// Pitch is the default column pitch; zero means bpmn.DefaultPitch.
	Pitch int
	// Clock overrides the generation timestamp source.
	Clock func() time.Time
	// RevisionHooks run after every archived revision. More can be added
	// later with OnRevise.
	RevisionHooks []RevisionHook
}

// RevisionHook observes a revision once it is archived. It runs on the
// revising goroutine and cannot fail the revision.
type RevisionHook func(ctx context.Context, rev *store.Diagram)

// Service is safe for concurrent use.
type Service struct {
	store     store.Store
	audit     AuditLog
	logger    *slog.Logger
	clock     func() time.Time
	synth     *bpmn.Synthesizer
	validator *validation.SpecValidator
	extractor *intake.Extractor

	hooksMu sync.RWMutex
	hooks   []RevisionHook
}

// ErrArchiveDisabled is returned by archive operations when no store is configured.
var ErrArchiveDisabled = schema.NewError(schema.ErrCodeStore, "diagram archive is disabled")

// New creates a Service.
func New(deps Deps) (*Service, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	if err := checkPitch(deps.Pitch); err != nil {
		return nil, err
	}

	validator, err := validation.NewSpecValidator()
	if err != nil {
		return nil, err
	}

	return &Service{
		store:     deps.Store,
		audit:     deps.Audit,
		logger:    logger,
		clock:     clock,
		synth:     newSynthesizer(deps.Pitch, clock),
		validator: validator,
		extractor: intake.NewExtractor(validator),
		hooks:     slices.Clone(deps.RevisionHooks),
	}, nil
}

// OnRevise registers a hook that runs after every archived revision,
// whichever transport requested it.
func (s *Service) OnRevise(h RevisionHook) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, h)
}

func (s *Service) revised(ctx context.Context, rev *store.Diagram) {
	s.hooksMu.RLock()
	hooks := slices.Clone(s.hooks)
	s.hooksMu.RUnlock()
	for _, h := range hooks {
		h(ctx, rev)
	}
}

// ArchiveEnabled reports whether diagrams can be saved and looked up.
func (s *Service) ArchiveEnabled() bool { return s.store != nil }

// Pitch returns the default column pitch.
func (s *Service) Pitch() int { return s.synth.Pitch() }

func newSynthesizer(pitch int, clock func() time.Time) *bpmn.Synthesizer {
	opts := []bpmn.Option{bpmn.WithClock(clock)}
	if pitch > 0 {
		opts = append(opts, bpmn.WithPitch(pitch))
	}
	return bpmn.New(opts...)
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	return logging.LogWith(ctx, s.logger)
}

// record appends an audit event. Audit failures are logged, not returned:
// the diagram operation itself already succeeded.
func (s *Service) record(ctx context.Context, diagramID, eventType string, payload any) {
	if s.audit == nil {
		return
	}
	if _, err := s.audit.Record(ctx, diagramID, eventType, logging.RequestID(ctx), payload); err != nil {
		s.log(ctx).Warn("audit event not recorded",
			"diagram_id", diagramID, "event_type", eventType, "error", err)
	}
}
