// Command bpmnkit synthesizes BPMN 2.0 diagrams from workflow descriptions
// and serves the synthesizer over HTTP and MCP.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
