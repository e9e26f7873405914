package diagram

// NodeKind classifies a diagram node by its BPMN element type.
type NodeKind string

const (
	NodeKindStart      NodeKind = "start"
	NodeKindTask       NodeKind = "task"
	NodeKindGateway    NodeKind = "gateway"
	NodeKindEnd        NodeKind = "end"
	NodeKindAnnotation NodeKind = "annotation"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Pools  []*Pool
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
	Notes  []*Node
}

// Node represents a single flow node in the diagram.
type Node struct {
	ID    string
	Label string
	Kind  NodeKind
	Pool  string // owning pool label, empty when the process has one pool
}

// Pool groups the nodes placed in one participant's swimlane.
type Pool struct {
	ID      string
	Label   string
	NodeIDs []string
}

// Edge represents a sequence flow between two nodes.
type Edge struct {
	From   string
	To     string
	Label  string
	Branch bool // alternate path that skips ahead
}
