package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rendis/bpmnkit/internal/worker"
	"github.com/rendis/bpmnkit/pkg/schema"
)

// Batch limits.
const (
	DefaultBatchWorkers = 4
	MaxBatchWorkers     = 16
	MaxBatchItems       = 100
)

// BatchItem is one named spec document in a batch.
type BatchItem struct {
	Name string          `json:"name,omitempty"`
	Spec json.RawMessage `json:"spec"`
}

// BatchRequest asks for several independent diagrams at once.
type BatchRequest struct {
	Items []BatchItem `json:"items"`
	Pitch int         `json:"pitch,omitempty"`
	Save  bool        `json:"save,omitempty"`
	// Workers caps concurrent syntheses; zero means DefaultBatchWorkers.
	Workers int `json:"workers,omitempty"`
}

// BatchResult is the outcome for one item. Exactly one of Synthesis and
// Error is set.
type BatchResult struct {
	Name      string        `json:"name,omitempty"`
	Synthesis *Synthesis    `json:"synthesis,omitempty"`
	Error     *schema.Error `json:"error,omitempty"`
}

// Batch holds per-item results in request order.
type Batch struct {
	Results   []BatchResult `json:"results"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
}

// SynthesizeBatch synthesizes every item independently. One item failing
// never fails the others; only a malformed request returns an error.
func (s *Service) SynthesizeBatch(ctx context.Context, req BatchRequest) (*Batch, error) {
	if len(req.Items) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "batch has no items")
	}
	if len(req.Items) > MaxBatchItems {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"batch has %d items, at most %d allowed", len(req.Items), MaxBatchItems)
	}
	if err := checkPitch(req.Pitch); err != nil {
		return nil, err
	}
	workers := req.Workers
	switch {
	case workers < 0:
		return nil, schema.NewError(schema.ErrCodeValidation, "workers must not be negative")
	case workers == 0:
		workers = DefaultBatchWorkers
	case workers > MaxBatchWorkers:
		workers = MaxBatchWorkers
	}

	out := &Batch{Results: make([]BatchResult, len(req.Items))}
	errs, stats := worker.Run(ctx, workers, len(req.Items), func(ctx context.Context, i int) error {
		item := req.Items[i]
		syn, err := s.SynthesizeDocument(ctx, item.Spec, req.Pitch, req.Save)
		if err != nil {
			return err
		}
		out.Results[i] = BatchResult{Name: item.Name, Synthesis: syn}
		return nil
	})

	for i, err := range errs {
		if err == nil {
			out.Succeeded++
			continue
		}
		out.Failed++
		out.Results[i] = BatchResult{Name: req.Items[i].Name, Error: batchError(err)}
	}

	s.log(ctx).Info("batch synthesized",
		"items", len(req.Items),
		"workers", workers,
		"succeeded", out.Succeeded,
		"failed", out.Failed,
		"panicked", stats.Panicked,
	)
	return out, nil
}

func batchError(err error) *schema.Error {
	var se *schema.Error
	if errors.As(err, &se) {
		return se
	}
	var pe *worker.PanicError
	if errors.As(err, &pe) {
		return schema.NewError(schema.ErrCodeSynthesis, "synthesis aborted").WithCause(err)
	}
	return schema.NewError(schema.ErrCodeSynthesis, err.Error()).WithCause(err)
}
