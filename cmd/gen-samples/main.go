// gen-samples writes the expense-claim sample to docs/samples as BPMN, ASCII
// and Mermaid for inspection in a BPMN viewer, and exits non-zero if the
// document does not verify. The outputs are regenerated on demand.
// Run: go run ./cmd/gen-samples
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rendis/bpmnkit/internal/bpmn"
	"github.com/rendis/bpmnkit/internal/diagram"
	"github.com/rendis/bpmnkit/pkg/schema"
)

func main() {
	// Two lanes, one decision, an annotation: the shapes a reader sees first.
	spec := schema.WorkflowSpec{
		ProcessName:        "Expense Claim",
		ProcessDescription: "Employees submit expenses; managers approve payouts within policy.",
		Participants:       []string{"Employee", "Manager", "Finance"},
		Trigger:            "Claim submitted",
		Activities: []string{
			"Employee fills in claim form",
			"Manager reviews claim",
			"Finance schedules payout",
		},
		DecisionPoints:     []string{"Within policy?"},
		EndEvent:           "Claim paid",
		AdditionalElements: []string{"Receipts over 50 EUR must be attached"},
	}

	// Fixed clock so regenerated samples diff cleanly.
	synth := bpmn.New(bpmn.WithClock(func() time.Time {
		return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	}))
	res, err := synth.Synthesize(spec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "synthesize error: %v\n", err)
		os.Exit(1)
	}

	model, err := diagram.Build(res.Graph)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build error: %v\n", err)
		os.Exit(1)
	}

	outDir := filepath.Join("docs", "samples")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir error: %v\n", err)
		os.Exit(1)
	}

	write(filepath.Join(outDir, "expense-claim.bpmn"), res.XML)
	fmt.Printf("=== BPMN ===\n%d shapes, %d edges, %d ids\n", res.Stats.Shapes, res.Stats.Edges, res.Stats.AllocatedIDs)

	ascii := diagram.RenderASCII(model)
	write(filepath.Join(outDir, "expense-claim.txt"), ascii)
	fmt.Println("=== ASCII ===")
	fmt.Println(ascii)

	mermaid := diagram.RenderMermaid(model)
	write(filepath.Join(outDir, "expense-claim.md"), "```mermaid\n"+mermaid+"\n```\n")
	fmt.Println("=== Mermaid ===")
	fmt.Println(mermaid)

	if result := bpmn.Verify(res.XML); !result.Valid() {
		fmt.Fprintf(os.Stderr, "sample does not verify: %v\n", result.ToError())
		os.Exit(1)
	}
}

func write(path, content string) {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", path, err)
		os.Exit(1)
	}
}
