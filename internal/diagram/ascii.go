package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// kindTag returns a short ASCII marker for a node kind.
func kindTag(kind NodeKind) string {
	switch kind {
	case NodeKindStart:
		return "(start)"
	case NodeKindEnd:
		return "(end)"
	case NodeKindGateway:
		return "<?>"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as a text-based ASCII diagram.
// It uses a level-based layout with box-drawing characters.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	// Title.
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", model.Title))
	}

	for levelIdx, level := range model.Levels {
		var boxes []asciiBox
		for _, nodeID := range level {
			node := findNode(model.Nodes, nodeID)
			if node == nil {
				continue
			}
			boxes = append(boxes, makeBox(node))
		}

		renderBoxRow(&b, boxes)

		// Draw connectors between levels (except after last level).
		if levelIdx < len(model.Levels)-1 {
			renderConnector(&b, len(boxes), connectorLabel(model, level, model.Levels[levelIdx+1]))
		}
	}

	var branches []Edge
	for _, e := range model.Edges {
		if e.Branch {
			branches = append(branches, e)
		}
	}
	if len(branches) > 0 {
		b.WriteString("\n--- alternate paths ---\n")
		for _, e := range branches {
			b.WriteString(fmt.Sprintf("  %s ─%s→ %s\n", nodeLabel(model, e.From), e.Label, nodeLabel(model, e.To)))
		}
	}

	if len(model.Notes) > 0 {
		b.WriteString("\n--- notes ---\n")
		for _, n := range model.Notes {
			b.WriteString(fmt.Sprintf("  * %s\n", firstLine(n.Label)))
		}
	}

	return b.String()
}

// asciiBox holds the rendered lines of a single box.
type asciiBox struct {
	lines []string
	width int
}

// makeBox creates an ASCII box for a node.
func makeBox(node *Node) asciiBox {
	contentLines := []string{firstLine(node.Label)}
	if tag := kindTag(node.Kind); tag != "" {
		contentLines = append(contentLines, tag)
	}
	if node.Pool != "" {
		contentLines = append(contentLines, "["+node.Pool+"]")
	}

	maxLen := 0
	for _, line := range contentLines {
		maxLen = max(maxLen, utf8.RuneCountInString(line))
	}
	width := maxLen + 4 // 2 border + 2 padding

	var lines []string
	top := "┌" + strings.Repeat("─", width-2) + "┐"
	bot := "└" + strings.Repeat("─", width-2) + "┘"
	lines = append(lines, top)
	for _, content := range contentLines {
		padded := content + strings.Repeat(" ", maxLen-utf8.RuneCountInString(content))
		lines = append(lines, "│ "+padded+" │")
	}
	lines = append(lines, bot)

	return asciiBox{lines: lines, width: width}
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	if len(boxes) == 0 {
		return
	}

	maxHeight := 0
	for _, box := range boxes {
		maxHeight = max(maxHeight, len(box.lines))
	}

	for row := 0; row < maxHeight; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ") // gap between boxes
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

// renderConnector draws a vertical connector between levels.
func renderConnector(b *strings.Builder, boxCount int, label string) {
	if boxCount == 0 {
		return
	}
	if label != "" {
		b.WriteString("       │ " + label + "\n")
	} else {
		b.WriteString("       │\n")
	}
	b.WriteString("       ▼\n")
}

// connectorLabel returns the label of the edge joining two adjacent levels.
func connectorLabel(model *DiagramModel, from, to []string) string {
	for _, e := range model.Edges {
		if e.Branch || e.Label == "" {
			continue
		}
		for _, f := range from {
			for _, t := range to {
				if e.From == f && e.To == t {
					return e.Label
				}
			}
		}
	}
	return ""
}

func nodeLabel(model *DiagramModel, id string) string {
	if n := findNode(model.Nodes, id); n != nil {
		return firstLine(n.Label)
	}
	return id
}

// findNode looks up a node by ID in the model's node list.
func findNode(nodes []*Node, id string) *Node {
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
