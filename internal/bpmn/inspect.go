package bpmn

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/rendis/bpmnkit/pkg/schema"
)

// flowNodeKinds are the BPMN element names that take part in the sequence
// flow graph. The synthesizer only emits a subset; revised documents may use
// any of them.
var flowNodeKinds = map[string]bool{
	"startEvent":             true,
	"endEvent":               true,
	"intermediateCatchEvent": true,
	"intermediateThrowEvent": true,
	"boundaryEvent":          true,
	"task":                   true,
	"userTask":               true,
	"serviceTask":            true,
	"manualTask":             true,
	"scriptTask":             true,
	"sendTask":               true,
	"receiveTask":            true,
	"businessRuleTask":       true,
	"subProcess":             true,
	"callActivity":           true,
	"exclusiveGateway":       true,
	"inclusiveGateway":       true,
	"parallelGateway":        true,
	"eventBasedGateway":      true,
	"complexGateway":         true,
}

// Element is one id-carrying element of an inspected document.
type Element struct {
	ID          string
	Kind        string // local element name, e.g. "userTask"
	Name        string
	SourceRef   string
	TargetRef   string
	ProcessRef  string
	BPMNElement string
	Condition   string
	Bounds      *Bounds
	Waypoints   []Point
}

// Inspection is the parsed view of a BPMN document.
type Inspection struct {
	Root      string
	RootSpace string // resolved namespace URI of the root element
	Elements  []*Element
	// DuplicateIDs lists ids defined more than once.
	DuplicateIDs []string
	// UndeclaredPrefixes lists the namespace prefixes used on elements or
	// attributes without an xmlns declaration in scope, sorted.
	UndeclaredPrefixes []string

	byID map[string]*Element
}

// ByID returns the first element defining id, or nil.
func (in *Inspection) ByID(id string) *Element {
	return in.byID[id]
}

// OfKind returns every element with the given local name in document order.
func (in *Inspection) OfKind(kind string) []*Element {
	var out []*Element
	for _, e := range in.Elements {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// FlowsFrom returns the sequence flows whose sourceRef is id.
func (in *Inspection) FlowsFrom(id string) []*Element {
	var out []*Element
	for _, e := range in.OfKind("sequenceFlow") {
		if e.SourceRef == id {
			out = append(out, e)
		}
	}
	return out
}

// ShapeFor returns the BPMNShape bound to element id, or nil.
func (in *Inspection) ShapeFor(id string) *Element {
	return in.diagramFor("BPMNShape", id)
}

// EdgeFor returns the BPMNEdge bound to element id, or nil.
func (in *Inspection) EdgeFor(id string) *Element {
	return in.diagramFor("BPMNEdge", id)
}

func (in *Inspection) diagramFor(kind, id string) *Element {
	for _, e := range in.Elements {
		if e.Kind == kind && e.BPMNElement == id {
			return e
		}
	}
	return nil
}

// FlowNodes returns the elements that participate in the sequence flow graph.
func (in *Inspection) FlowNodes() []*Element {
	var out []*Element
	for _, e := range in.Elements {
		if flowNodeKinds[e.Kind] {
			out = append(out, e)
		}
	}
	return out
}

// Inspect parses doc and indexes every element carrying an id attribute.
// It fails if the document is not well-formed XML with a single root.
func Inspect(doc string) (*Inspection, error) {
	dec := xml.NewDecoder(strings.NewReader(doc))
	in := &Inspection{byID: make(map[string]*Element)}

	var stack []*Element // nil entries for elements without an id
	var kinds []string
	roots := 0

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeParse, "malformed XML: %s", err.Error()).WithCause(err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) == 0 {
				roots++
				if roots > 1 {
					return nil, schema.NewError(schema.ErrCodeParse, "malformed XML: multiple root elements")
				}
				in.Root, in.RootSpace = t.Name.Local, t.Name.Space
			}
			in.checkPrefixes(t)
			el := in.visitStart(t, stack, kinds)
			stack = append(stack, el)
			kinds = append(kinds, t.Name.Local)

		case xml.EndElement:
			stack = stack[:len(stack)-1]
			kinds = kinds[:len(kinds)-1]

		case xml.CharData:
			if len(stack) == 0 {
				if len(strings.TrimSpace(string(t))) > 0 {
					return nil, schema.NewError(schema.ErrCodeParse, "malformed XML: text outside the root element")
				}
				continue
			}
			if kinds[len(kinds)-1] == "conditionExpression" && len(stack) >= 2 && stack[len(stack)-2] != nil {
				stack[len(stack)-2].Condition += strings.TrimSpace(string(t))
			}
		}
	}

	if roots == 0 {
		return nil, schema.NewError(schema.ErrCodeParse, "malformed XML: no root element")
	}
	return in, nil
}

// checkPrefixes records prefixes the decoder could not resolve. encoding/xml
// leaves an undeclared prefix in Name.Space verbatim, while a declared one is
// replaced by its URI.
func (in *Inspection) checkPrefixes(t xml.StartElement) {
	names := []xml.Name{t.Name}
	for _, a := range t.Attr {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		names = append(names, a.Name)
	}
	for _, n := range names {
		if n.Space == "" || isNamespaceURI(n.Space) || slices.Contains(in.UndeclaredPrefixes, n.Space) {
			continue
		}
		in.UndeclaredPrefixes = append(in.UndeclaredPrefixes, n.Space)
		slices.Sort(in.UndeclaredPrefixes)
	}
}

// isNamespaceURI reports whether space looks like a resolved namespace name:
// absolute URIs and URNs always carry a scheme, prefixes never do.
func isNamespaceURI(space string) bool {
	return strings.Contains(space, ":")
}

// visitStart records the element if it has an id, and attaches Bounds and
// waypoints to the enclosing diagram element.
func (in *Inspection) visitStart(t xml.StartElement, stack []*Element, kinds []string) *Element {
	attrs := make(map[string]string, len(t.Attr))
	for _, a := range t.Attr {
		if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
			continue
		}
		attrs[a.Name.Local] = a.Value
	}

	var parent *Element
	if len(stack) > 0 {
		parent = stack[len(stack)-1]
	}

	switch t.Name.Local {
	case "Bounds":
		// BPMNLabel bounds belong to the label, not the shape.
		if parent != nil && kinds[len(kinds)-1] == "BPMNShape" {
			b := parseBounds(attrs)
			parent.Bounds = &b
		}
		return nil
	case "waypoint":
		if parent != nil {
			parent.Waypoints = append(parent.Waypoints, Point{X: atoi(attrs["x"]), Y: atoi(attrs["y"])})
		}
		return nil
	}

	id, ok := attrs["id"]
	if !ok {
		return nil
	}
	el := &Element{
		ID:          id,
		Kind:        t.Name.Local,
		Name:        attrs["name"],
		SourceRef:   attrs["sourceRef"],
		TargetRef:   attrs["targetRef"],
		ProcessRef:  attrs["processRef"],
		BPMNElement: attrs["bpmnElement"],
	}
	if _, dup := in.byID[id]; dup {
		in.DuplicateIDs = append(in.DuplicateIDs, id)
	} else {
		in.byID[id] = el
	}
	in.Elements = append(in.Elements, el)
	return el
}

func parseBounds(attrs map[string]string) Bounds {
	return Bounds{
		X:      atoi(attrs["x"]),
		Y:      atoi(attrs["y"]),
		Width:  atoi(attrs["width"]),
		Height: atoi(attrs["height"]),
	}
}

func atoi(s string) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	f, _ := strconv.ParseFloat(s, 64)
	return int(f)
}

// Verify checks a BPMN document for the structural guarantees the
// synthesizer provides: well-formed XML, unique ids, resolvable references,
// and a sequence flow graph in which every node lies on a path from a start
// event to a node without outgoing flows. Missing diagram elements are
// reported as warnings.
func Verify(doc string) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	in, err := Inspect(doc)
	if err != nil {
		result.AddError("/", schema.ErrCodeParse, err.Error())
		return result
	}

	switch {
	case in.Root != "definitions":
		result.AddError("/", schema.ErrCodeValidation, fmt.Sprintf("root element is %q, want definitions", in.Root))
	case in.RootSpace != NamespaceBPMN2:
		result.AddError("/", schema.ErrCodeValidation,
			fmt.Sprintf("root element is in namespace %q, want %s", in.RootSpace, NamespaceBPMN2))
	}
	for _, prefix := range in.UndeclaredPrefixes {
		result.AddError("/", schema.ErrCodeParse, fmt.Sprintf("namespace prefix %q is not declared", prefix))
	}
	for _, id := range in.DuplicateIDs {
		result.AddElementError(id, schema.ErrCodeConflict, fmt.Sprintf("id %q is defined more than once", id))
	}

	verifyReferences(in, result)
	verifyFlowGraph(in, result)
	verifyDiagram(in, result)

	return result
}

func verifyReferences(in *Inspection, result *schema.ValidationResult) {
	for _, f := range in.OfKind("sequenceFlow") {
		for _, r := range [][2]string{{"sourceRef", f.SourceRef}, {"targetRef", f.TargetRef}} {
			attr, ref := r[0], r[1]
			target := in.ByID(ref)
			switch {
			case ref == "":
				result.AddElementError(f.ID, schema.ErrCodeValidation, fmt.Sprintf("sequence flow %s has no %s", f.ID, attr))
			case target == nil:
				result.AddElementError(f.ID, schema.ErrCodeValidation, fmt.Sprintf("sequence flow %s: %s %q does not resolve", f.ID, attr, ref))
			case !flowNodeKinds[target.Kind]:
				result.AddElementError(f.ID, schema.ErrCodeValidation, fmt.Sprintf("sequence flow %s: %s %q is a %s, not a flow node", f.ID, attr, ref, target.Kind))
			}
		}
	}
	for _, p := range in.OfKind("participant") {
		if p.ProcessRef == "" {
			continue
		}
		if target := in.ByID(p.ProcessRef); target == nil || target.Kind != "process" {
			result.AddElementError(p.ID, schema.ErrCodeValidation, fmt.Sprintf("participant %s: processRef %q does not resolve to a process", p.ID, p.ProcessRef))
		}
	}
}

func verifyFlowGraph(in *Inspection, result *schema.ValidationResult) {
	nodes := in.FlowNodes()
	if len(in.OfKind("startEvent")) == 0 {
		result.AddError("/", schema.ErrCodeValidation, "document has no start event")
		return
	}

	out := make(map[string][]string, len(nodes))
	rev := make(map[string][]string, len(nodes))
	inDeg := make(map[string]int, len(nodes))
	for _, f := range in.OfKind("sequenceFlow") {
		out[f.SourceRef] = append(out[f.SourceRef], f.TargetRef)
		rev[f.TargetRef] = append(rev[f.TargetRef], f.SourceRef)
		inDeg[f.TargetRef]++
	}

	var entries, sinks []string
	for _, n := range nodes {
		// Boundary events hang off their host activity, not the flow.
		if inDeg[n.ID] == 0 && n.Kind != "boundaryEvent" {
			entries = append(entries, n.ID)
		}
		if len(out[n.ID]) == 0 {
			sinks = append(sinks, n.ID)
			if n.Kind != "endEvent" {
				result.AddElementWarning(n.ID, schema.ErrCodeValidation, fmt.Sprintf("%s %s has no outgoing flow", n.Kind, n.ID))
			}
		}
	}
	for _, id := range entries {
		if k := in.ByID(id).Kind; k != "startEvent" {
			result.AddElementError(id, schema.ErrCodeValidation, fmt.Sprintf("%s %s has no incoming flow", k, id))
		}
	}
	if len(entries) > 1 {
		result.AddWarning("/", schema.ErrCodeValidation, fmt.Sprintf("document has %d entry points", len(entries)))
	}

	var starts []string
	for _, n := range in.OfKind("startEvent") {
		starts = append(starts, n.ID)
	}
	fromStart := reach(starts, out)
	toSink := reach(sinks, rev)
	for _, n := range nodes {
		if n.Kind == "boundaryEvent" {
			continue
		}
		if !fromStart[n.ID] {
			result.AddElementError(n.ID, schema.ErrCodeValidation, fmt.Sprintf("%s %s is unreachable from the start event", n.Kind, n.ID))
		}
		if !toSink[n.ID] {
			result.AddElementError(n.ID, schema.ErrCodeValidation, fmt.Sprintf("%s %s never reaches an end", n.Kind, n.ID))
		}
	}
}

func verifyDiagram(in *Inspection, result *schema.ValidationResult) {
	for _, kind := range []string{"BPMNShape", "BPMNEdge"} {
		for _, d := range in.OfKind(kind) {
			if in.ByID(d.BPMNElement) == nil {
				result.AddElementError(d.ID, schema.ErrCodeValidation, fmt.Sprintf("%s %s: bpmnElement %q does not resolve", kind, d.ID, d.BPMNElement))
			}
		}
	}
	for _, n := range append(in.FlowNodes(), in.OfKind("participant")...) {
		if in.ShapeFor(n.ID) == nil {
			result.AddElementWarning(n.ID, schema.ErrCodeValidation, fmt.Sprintf("%s %s has no BPMNShape", n.Kind, n.ID))
		}
	}
	for _, f := range in.OfKind("sequenceFlow") {
		if in.EdgeFor(f.ID) == nil {
			result.AddElementWarning(f.ID, schema.ErrCodeValidation, fmt.Sprintf("sequence flow %s has no BPMNEdge", f.ID))
		}
	}
}

// reach returns the set of nodes reachable from seeds along adj.
func reach(seeds []string, adj map[string][]string) map[string]bool {
	seen := make(map[string]bool)
	queue := append([]string(nil), seeds...)
	for _, s := range seeds {
		seen[s] = true
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}
