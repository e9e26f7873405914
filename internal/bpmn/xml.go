package bpmn

import "encoding/xml"

// XML namespaces declared on every synthesized document.
const (
	NamespaceBPMN2  = "http://www.omg.org/spec/BPMN/20100524/MODEL"
	NamespaceBPMNDI = "http://www.omg.org/spec/BPMN/20100524/DI"
	NamespaceDC     = "http://www.omg.org/spec/DD/20100524/DC"
	NamespaceDI     = "http://www.omg.org/spec/DD/20100524/DI"
	NamespaceXSI    = "http://www.w3.org/2001/XMLSchema-instance"
	TargetNamespace = "http://bpmn.io/schema/bpmn"

	formalExpressionType = "bpmn2:tFormalExpression"
)

// The structs below mirror the emitted document. Element names carry their
// namespace prefix literally; encoding/xml escapes every attribute and text
// value, which covers & < > " and ' in user-supplied labels.

type xmlDefinitions struct {
	XMLName         xml.Name          `xml:"bpmn2:definitions"`
	XMLNSBPMN2      string            `xml:"xmlns:bpmn2,attr"`
	XMLNSBPMNDI     string            `xml:"xmlns:bpmndi,attr"`
	XMLNSDC         string            `xml:"xmlns:dc,attr"`
	XMLNSDI         string            `xml:"xmlns:di,attr"`
	XMLNSXSI        string            `xml:"xmlns:xsi,attr"`
	ID              string            `xml:"id,attr"`
	TargetNamespace string            `xml:"targetNamespace,attr"`
	Exporter        string            `xml:"exporter,attr,omitempty"`
	ExporterVersion string            `xml:"exporterVersion,attr,omitempty"`
	Collaboration   *xmlCollaboration `xml:"bpmn2:collaboration,omitempty"`
	Process         xmlProcess        `xml:"bpmn2:process"`
	Diagram         xmlDiagram        `xml:"bpmndi:BPMNDiagram"`
}

type xmlCollaboration struct {
	ID           string           `xml:"id,attr"`
	Participants []xmlParticipant `xml:"bpmn2:participant"`
}

type xmlParticipant struct {
	ID         string `xml:"id,attr"`
	Name       string `xml:"name,attr,omitempty"`
	ProcessRef string `xml:"processRef,attr"`
}

type xmlProcess struct {
	ID              string              `xml:"id,attr"`
	Name            string              `xml:"name,attr,omitempty"`
	IsExecutable    bool                `xml:"isExecutable,attr"`
	Documentation   string              `xml:"bpmn2:documentation,omitempty"`
	StartEvents     []xmlFlowNode       `xml:"bpmn2:startEvent"`
	UserTasks       []xmlFlowNode       `xml:"bpmn2:userTask"`
	Gateways        []xmlFlowNode       `xml:"bpmn2:exclusiveGateway"`
	EndEvents       []xmlFlowNode       `xml:"bpmn2:endEvent"`
	SequenceFlows   []xmlSequenceFlow   `xml:"bpmn2:sequenceFlow"`
	TextAnnotations []xmlTextAnnotation `xml:"bpmn2:textAnnotation"`
}

type xmlFlowNode struct {
	ID       string   `xml:"id,attr"`
	Name     string   `xml:"name,attr,omitempty"`
	Incoming []string `xml:"bpmn2:incoming"`
	Outgoing []string `xml:"bpmn2:outgoing"`
}

type xmlSequenceFlow struct {
	ID        string         `xml:"id,attr"`
	Name      string         `xml:"name,attr,omitempty"`
	SourceRef string         `xml:"sourceRef,attr"`
	TargetRef string         `xml:"targetRef,attr"`
	Condition *xmlExpression `xml:"bpmn2:conditionExpression,omitempty"`
}

type xmlExpression struct {
	Type string `xml:"xsi:type,attr"`
	Body string `xml:",chardata"`
}

type xmlTextAnnotation struct {
	ID   string `xml:"id,attr"`
	Text string `xml:"bpmn2:text"`
}

type xmlDiagram struct {
	ID    string   `xml:"id,attr"`
	Plane xmlPlane `xml:"bpmndi:BPMNPlane"`
}

type xmlPlane struct {
	ID          string     `xml:"id,attr"`
	BPMNElement string     `xml:"bpmnElement,attr"`
	Shapes      []xmlShape `xml:"bpmndi:BPMNShape"`
	Edges       []xmlEdge  `xml:"bpmndi:BPMNEdge"`
}

type xmlShape struct {
	ID              string    `xml:"id,attr"`
	BPMNElement     string    `xml:"bpmnElement,attr"`
	IsHorizontal    bool      `xml:"isHorizontal,attr,omitempty"`
	IsMarkerVisible bool      `xml:"isMarkerVisible,attr,omitempty"`
	Bounds          xmlBounds `xml:"dc:Bounds"`
	Label           *xmlLabel `xml:"bpmndi:BPMNLabel,omitempty"`
}

type xmlEdge struct {
	ID          string        `xml:"id,attr"`
	BPMNElement string        `xml:"bpmnElement,attr"`
	Waypoints   []xmlWaypoint `xml:"di:waypoint"`
	Label       *xmlLabel     `xml:"bpmndi:BPMNLabel,omitempty"`
}

type xmlBounds struct {
	X      int `xml:"x,attr"`
	Y      int `xml:"y,attr"`
	Width  int `xml:"width,attr"`
	Height int `xml:"height,attr"`
}

type xmlWaypoint struct {
	X int `xml:"x,attr"`
	Y int `xml:"y,attr"`
}

type xmlLabel struct {
	Bounds xmlBounds `xml:"dc:Bounds"`
}

// encodeDocument assembles the XML tree for a graph and its layout. Diagram
// element ids are minted from the same arena as the semantic ids.
func encodeDocument(g *Graph, lay *Layout, ids *idArena, exporterVersion string) xmlDefinitions {
	doc := xmlDefinitions{
		XMLNSBPMN2:      NamespaceBPMN2,
		XMLNSBPMNDI:     NamespaceBPMNDI,
		XMLNSDC:         NamespaceDC,
		XMLNSDI:         NamespaceDI,
		XMLNSXSI:        NamespaceXSI,
		ID:              g.DefinitionsID,
		TargetNamespace: TargetNamespace,
		Exporter:        "bpmnkit",
		ExporterVersion: exporterVersion,
	}

	collab := &xmlCollaboration{ID: g.CollaborationID}
	for _, p := range g.Participants {
		collab.Participants = append(collab.Participants, xmlParticipant{
			ID: p.ID, Name: p.Name, ProcessRef: g.ProcessID,
		})
	}
	doc.Collaboration = collab

	proc := xmlProcess{
		ID:            g.ProcessID,
		Name:          g.ProcessName,
		IsExecutable:  false,
		Documentation: g.Documentation,
	}
	for _, n := range g.Nodes {
		fn := xmlFlowNode{ID: n.ID, Name: n.Name, Incoming: n.Incoming, Outgoing: n.Outgoing}
		switch n.Kind {
		case NodeStart:
			proc.StartEvents = append(proc.StartEvents, fn)
		case NodeTask:
			proc.UserTasks = append(proc.UserTasks, fn)
		case NodeGateway:
			proc.Gateways = append(proc.Gateways, fn)
		case NodeEnd:
			proc.EndEvents = append(proc.EndEvents, fn)
		}
	}
	for _, f := range g.Flows {
		sf := xmlSequenceFlow{ID: f.ID, Name: f.Name, SourceRef: f.Source, TargetRef: f.Target}
		if f.Condition != "" {
			sf.Condition = &xmlExpression{Type: formalExpressionType, Body: f.Condition}
		}
		proc.SequenceFlows = append(proc.SequenceFlows, sf)
	}
	for _, a := range g.Annotations {
		proc.TextAnnotations = append(proc.TextAnnotations, xmlTextAnnotation{ID: a.ID, Text: a.Text})
	}
	doc.Process = proc

	plane := xmlPlane{ID: ids.mint(prefixPlane), BPMNElement: g.CollaborationID}
	for _, p := range g.Participants {
		plane.Shapes = append(plane.Shapes, xmlShape{
			ID:           ids.derived(p.ID, "di"),
			BPMNElement:  p.ID,
			IsHorizontal: true,
			Bounds:       toXMLBounds(lay.Shapes[p.ID]),
		})
	}
	for _, n := range g.Backbone {
		plane.Shapes = append(plane.Shapes, xmlShape{
			ID:              ids.derived(n.ID, "di"),
			BPMNElement:     n.ID,
			IsMarkerVisible: n.Kind == NodeGateway,
			Bounds:          toXMLBounds(lay.Shapes[n.ID]),
		})
	}
	for _, a := range g.Annotations {
		plane.Shapes = append(plane.Shapes, xmlShape{
			ID:          ids.derived(a.ID, "di"),
			BPMNElement: a.ID,
			Bounds:      toXMLBounds(lay.Shapes[a.ID]),
		})
	}
	for _, f := range g.Flows {
		edge := xmlEdge{ID: ids.derived(f.ID, "di"), BPMNElement: f.ID}
		for _, pt := range lay.Edges[f.ID] {
			edge.Waypoints = append(edge.Waypoints, xmlWaypoint{X: pt.X, Y: pt.Y})
		}
		if lb, ok := lay.Labels[f.ID]; ok {
			edge.Label = &xmlLabel{Bounds: toXMLBounds(lb)}
		}
		plane.Edges = append(plane.Edges, edge)
	}
	doc.Diagram = xmlDiagram{ID: ids.mint(prefixDiagram), Plane: plane}

	return doc
}

func toXMLBounds(b Bounds) xmlBounds {
	return xmlBounds{X: b.X, Y: b.Y, Width: b.Width, Height: b.Height}
}
