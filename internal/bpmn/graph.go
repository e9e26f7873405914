package bpmn

import (
	"strings"

	"github.com/rendis/bpmnkit/pkg/schema"
)

// NodeKind is the BPMN element name of a flow node.
type NodeKind string

const (
	NodeStart   NodeKind = "startEvent"
	NodeTask    NodeKind = "userTask"
	NodeGateway NodeKind = "exclusiveGateway"
	NodeEnd     NodeKind = "endEvent"
)

// Branch labels and the literal conditions carried by gateway flows.
const (
	LabelYes     = "Yes"
	LabelNo      = "No"
	conditionYes = "true"
	conditionNo  = "false"
)

const (
	defaultTrigger  = "Start"
	defaultEndEvent = "End"
	defaultProcess  = "Process"
)

// Graph is the semantic process model derived from a WorkflowSpec. It is the
// intermediate representation shared by the XML encoder and the previews.
type Graph struct {
	DefinitionsID   string
	CollaborationID string
	ProcessID       string
	ProcessName     string
	Documentation   string

	Participants []Participant
	// Nodes is in document order: start, tasks, gateways, end.
	Nodes []*Node
	// Backbone is in execution order along the main row.
	Backbone    []*Node
	Flows       []*Flow
	Annotations []Annotation
}

// Participant is one pool of the collaboration.
type Participant struct {
	ID   string
	Name string
}

// Node is a flow node of the process.
type Node struct {
	ID       string
	Name     string
	Kind     NodeKind
	Lane     int // index into Graph.Participants
	Column   int // position along Graph.Backbone
	Incoming []string
	Outgoing []string
}

// Flow is a sequence flow between two nodes.
type Flow struct {
	ID        string
	Name      string
	Source    string
	Target    string
	Condition string // empty for unconditional flows
	Branch    bool   // the "No" flow, routed below the main row
}

// Annotation is a free-form text annotation attached to the process.
type Annotation struct {
	ID   string
	Text string
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// NodesOfKind returns the nodes of one kind in document order.
func (g *Graph) NodesOfKind(kind NodeKind) []*Node {
	var out []*Node
	for _, n := range g.Nodes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// FlowsFrom returns the flows leaving node id.
func (g *Graph) FlowsFrom(id string) []*Flow {
	var out []*Flow
	for _, f := range g.Flows {
		if f.Source == id {
			out = append(out, f)
		}
	}
	return out
}

// buildGraph derives the process graph from a normalized spec.
func buildGraph(spec schema.WorkflowSpec, ids *idArena) *Graph {
	g := &Graph{
		CollaborationID: ids.mint(prefixCollaboration),
		ProcessID:       ids.mint(prefixProcess),
		ProcessName:     spec.ProcessName,
		Documentation:   spec.ProcessDescription,
	}

	participants := spec.Participants
	if len(participants) == 0 {
		participants = []string{orDefault(spec.ProcessName, defaultProcess)}
	}
	for _, name := range participants {
		g.Participants = append(g.Participants, Participant{ID: ids.mint(prefixParticipant), Name: name})
	}

	start := &Node{ID: ids.mint(prefixStartEvent), Name: orDefault(spec.Trigger, defaultTrigger), Kind: NodeStart}

	tasks := make([]*Node, 0, len(spec.Activities))
	for _, label := range spec.Activities {
		tasks = append(tasks, &Node{ID: ids.mint(prefixActivity), Name: label, Kind: NodeTask})
	}

	gateways := make([]*Node, 0, len(spec.DecisionPoints))
	for _, label := range spec.DecisionPoints {
		gateways = append(gateways, &Node{ID: ids.mint(prefixGateway), Name: label, Kind: NodeGateway})
	}

	end := &Node{ID: ids.mint(prefixEndEvent), Name: orDefault(spec.EndEvent, defaultEndEvent), Kind: NodeEnd}

	g.Nodes = append(g.Nodes, start)
	g.Nodes = append(g.Nodes, tasks...)
	g.Nodes = append(g.Nodes, gateways...)
	g.Nodes = append(g.Nodes, end)

	g.Backbone = interleave(start, tasks, gateways, end)
	for col, n := range g.Backbone {
		n.Column = col
	}

	assignLanes(g)
	connect(g, ids)

	for _, text := range spec.AdditionalElements {
		g.Annotations = append(g.Annotations, Annotation{ID: ids.mint(prefixAnnotation), Text: text})
	}

	return g
}

// interleave orders the backbone. Gateway k goes after the first
// min(n/2+k, n) tasks, so decisions start at the midpoint of the activity list
// and any surplus gateways chain up just before the end event.
func interleave(start *Node, tasks, gateways []*Node, end *Node) []*Node {
	out := make([]*Node, 0, len(tasks)+len(gateways)+2)
	out = append(out, start)

	mid := len(tasks) / 2
	next := 0
	for i := 0; i <= len(tasks); i++ {
		for next < len(gateways) && min(mid+next, len(tasks)) == i {
			out = append(out, gateways[next])
			next++
		}
		if i < len(tasks) {
			out = append(out, tasks[i])
		}
	}

	return append(out, end)
}

// assignLanes places each task in the lane of the first participant its label
// mentions. Nodes that mention nobody stay in the lane of their predecessor.
func assignLanes(g *Graph) {
	lane := 0
	for _, n := range g.Backbone {
		if n.Kind == NodeTask {
			if l, ok := mentionedLane(n.Name, g.Participants); ok {
				lane = l
			}
		}
		n.Lane = lane
	}
}

func mentionedLane(label string, participants []Participant) (int, bool) {
	if len(participants) < 2 {
		return 0, false
	}
	lower := strings.ToLower(label)
	for i, p := range participants {
		if strings.Contains(lower, strings.ToLower(p.Name)) {
			return i, true
		}
	}
	return 0, false
}

// connect chains the backbone. Every gateway emits exactly two flows: "Yes"
// to its successor and "No" to the first task after that successor, or to the
// end event when no such task exists.
func connect(g *Graph, ids *idArena) {
	bb := g.Backbone
	for i := 0; i < len(bb)-1; i++ {
		src, next := bb[i], bb[i+1]
		if src.Kind != NodeGateway {
			g.addFlow(ids, src, next, "", "")
			continue
		}
		g.addFlow(ids, src, next, LabelYes, conditionYes)
		alt := g.addFlow(ids, src, alternateTarget(bb, i+1), LabelNo, conditionNo)
		alt.Branch = true
	}
}

func alternateTarget(bb []*Node, yesIdx int) *Node {
	for j := yesIdx + 1; j < len(bb); j++ {
		if bb[j].Kind == NodeTask {
			return bb[j]
		}
	}
	return bb[len(bb)-1]
}

func (g *Graph) addFlow(ids *idArena, src, dst *Node, name, condition string) *Flow {
	f := &Flow{
		ID:        ids.mint(prefixFlow),
		Name:      name,
		Source:    src.ID,
		Target:    dst.ID,
		Condition: condition,
	}
	src.Outgoing = append(src.Outgoing, f.ID)
	dst.Incoming = append(dst.Incoming, f.ID)
	g.Flows = append(g.Flows, f)
	return f
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
