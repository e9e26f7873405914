package intake

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/rendis/bpmnkit/pkg/schema"
)

// DefaultProgram reshapes common workflow-like JSON documents into the
// WorkflowSpec field layout. It recognises the canonical keys and the usual
// alternatives (name/title, roles/actors/lanes, steps/tasks, decisions/
// gateways, notes/annotations). Objects in list positions are reduced to
// their name, label, title or description.
const DefaultProgram = `
def firstof(f): [f | select(. != null and . != "" and . != [])] | first;
def text: if type == "object" then (.name // .label // .title // .action // .description // .text) else . end;
def texts: if type == "array" then map(text) elif . == null then null else [text] end;
def proc: (.process | objects) // {};
{
  processName: firstof(.processName, .process_name, .name, .title, proc.name, proc.title),
  processDescription: firstof(.processDescription, .process_description, .description, .summary, proc.description),
  participants: (firstof(.participants, .roles, .actors, .lanes, .swimlanes, proc.participants) | texts),
  trigger: (firstof(.trigger, .startEvent, .start_event, .start, proc.trigger) | text),
  activities: (firstof(.activities, .steps, .tasks, proc.activities, proc.steps) | texts),
  decisionPoints: (firstof(.decisionPoints, .decision_points, .decisions, .gateways, proc.decisions) | texts),
  endEvent: (firstof(.endEvent, .end_event, .end, .outcome, proc.endEvent) | text),
  additionalElements: (firstof(.additionalElements, .additional_elements, .notes, .annotations) | texts)
}
`

// InputValidator checks a document against a caller-supplied JSON Schema.
type InputValidator interface {
	ValidateInput(input any, inputSchema []byte) error
}

// ExtractRequest describes one extraction.
type ExtractRequest struct {
	// Document is any JSON-compatible value. Raw JSON may be passed as
	// json.RawMessage.
	Document any
	// Program is a jq program whose single output is a WorkflowSpec-shaped
	// object. Empty means DefaultProgram.
	Program string
	// SourceSchema, when set, is a JSON Schema the document must satisfy
	// before the program runs.
	SourceSchema json.RawMessage
}

// Extractor maps arbitrary JSON documents onto WorkflowSpecs with jq.
// Thread-safe: compiled programs are cached and reused across goroutines.
type Extractor struct {
	validator InputValidator

	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewExtractor creates an Extractor. validator may be nil, in which case
// requests carrying a SourceSchema are rejected.
func NewExtractor(validator InputValidator) *Extractor {
	return &Extractor{
		validator: validator,
		cache:     make(map[string]*gojq.Code),
	}
}

// Extract runs the request's program over its document and decodes the
// result leniently into a WorkflowSpec.
func (e *Extractor) Extract(ctx context.Context, req ExtractRequest) (*schema.WorkflowSpec, error) {
	doc, err := toJQValue(req.Document)
	if err != nil {
		return nil, err
	}

	if len(req.SourceSchema) > 0 {
		if e.validator == nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "source schema given but no validator configured")
		}
		if err := e.validator.ValidateInput(doc, req.SourceSchema); err != nil {
			return nil, err
		}
	}

	program := req.Program
	if program == "" {
		program = DefaultProgram
	}
	code, err := e.getOrCompile(program)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, doc)
	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeParse,
				"jq evaluation failed: %s", err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"program": program})
		}
		results = append(results, val)
	}

	if len(results) != 1 {
		return nil, schema.NewErrorf(schema.ErrCodeParse,
			"jq program produced %d results, want exactly one", len(results)).
			WithDetails(map[string]any{"program": program})
	}
	if _, ok := results[0].(map[string]any); !ok {
		return nil, schema.NewErrorf(schema.ErrCodeParse,
			"jq program must produce an object, got %T", results[0]).
			WithDetails(map[string]any{"program": program})
	}

	data, err := json.Marshal(results[0])
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeParse, "failed to encode jq result").WithCause(err)
	}
	var spec schema.WorkflowSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

// ExtractJSON is Extract over a raw JSON document.
func (e *Extractor) ExtractJSON(ctx context.Context, doc []byte, program string) (*schema.WorkflowSpec, error) {
	return e.Extract(ctx, ExtractRequest{Document: json.RawMessage(doc), Program: program})
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (e *Extractor) getOrCompile(program string) (*gojq.Code, error) {
	e.mu.RLock()
	if code, ok := e.cache[program]; ok {
		e.mu.RUnlock()
		return code, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if code, ok := e.cache[program]; ok {
		return code, nil
	}

	query, err := gojq.Parse(program)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error: %s", err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"program": program})
	}

	code, err := gojq.Compile(query,
		// Sandbox: return empty env to block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error: %s", err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"program": program})
	}

	e.cache[program] = code
	return code, nil
}

// toJQValue converts doc into the plain map/slice/float64 tree gojq walks.
func toJQValue(doc any) (any, error) {
	var data []byte
	switch v := doc.(type) {
	case nil:
		return nil, schema.NewError(schema.ErrCodeValidation, "document is required")
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "document is not JSON-compatible").WithCause(err)
		}
		data = b
	}

	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, schema.NewError(schema.ErrCodeParse, "document is not valid JSON").WithCause(err)
	}
	return out, nil
}
