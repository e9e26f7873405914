package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph LR\n")

	// Title as comment.
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", mermaidEscapeLabel(firstLine(model.Title))))
	}

	pooled := make(map[string]bool)
	for _, pool := range model.Pools {
		b.WriteString(fmt.Sprintf("    subgraph %s[%q]\n", mermaidSafeID(pool.ID), mermaidEscapeLabel(pool.Label)))
		for _, id := range pool.NodeIDs {
			if node := findNode(model.Nodes, id); node != nil {
				b.WriteString(fmt.Sprintf("        %s\n", mermaidNodeDef(node)))
				pooled[id] = true
			}
		}
		b.WriteString("    end\n")
	}

	for _, node := range model.Nodes {
		if !pooled[node.ID] {
			b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
		}
	}
	for _, note := range model.Notes {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(note)))
	}

	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", mermaidEscapeLabel(edge.Label))
		}
		arrow := "-->"
		if edge.Branch {
			arrow = "-.->"
		}
		b.WriteString(fmt.Sprintf("    %s %s%s %s\n",
			mermaidSafeID(edge.From), arrow, label, mermaidSafeID(edge.To)))
	}

	b.WriteString("\n")
	b.WriteString("    classDef event fill:#f5f5f5,stroke:#333\n")
	b.WriteString("    classDef gateway fill:#fff4d6,stroke:#b7791a\n")
	b.WriteString("    classDef note fill:#fff,stroke:#999,stroke-dasharray:5 5\n")

	for _, node := range model.Nodes {
		if cls := mermaidKindClass(node.Kind); cls != "" {
			b.WriteString(fmt.Sprintf("    class %s %s\n", mermaidSafeID(node.ID), cls))
		}
	}
	for _, note := range model.Notes {
		b.WriteString(fmt.Sprintf("    class %s note\n", mermaidSafeID(note.ID)))
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := mermaidEscapeLabel(firstLine(node.Label))

	switch node.Kind {
	case NodeKindGateway:
		return fmt.Sprintf("%s{%q}", id, label)
	case NodeKindStart:
		return fmt.Sprintf("%s((%q))", id, label)
	case NodeKindEnd:
		return fmt.Sprintf("%s(((%q)))", id, label)
	case NodeKindAnnotation:
		return fmt.Sprintf("%s>%q]", id, label)
	default: // task
		return fmt.Sprintf("%s(%q)", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
// Replaces dots and dashes with underscores.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

// mermaidEscapeLabel escapes characters that break quoted Mermaid labels.
func mermaidEscapeLabel(s string) string {
	r := strings.NewReplacer(`"`, "#quot;", "|", "#124;", "<", "#lt;", ">", "#gt;")
	return r.Replace(s)
}

// mermaidKindClass maps a node kind to a Mermaid class name.
func mermaidKindClass(kind NodeKind) string {
	switch kind {
	case NodeKindStart, NodeKindEnd:
		return "event"
	case NodeKindGateway:
		return "gateway"
	default:
		return ""
	}
}
