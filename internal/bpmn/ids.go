package bpmn

import "fmt"

// Id prefixes for the elements a synthesized document contains.
const (
	prefixCollaboration = "Collaboration"
	prefixParticipant   = "Participant"
	prefixProcess       = "Process"
	prefixStartEvent    = "StartEvent"
	prefixActivity      = "Activity"
	prefixGateway       = "Gateway"
	prefixEndEvent      = "EndEvent"
	prefixFlow          = "Flow"
	prefixAnnotation    = "Annotation"
	prefixDiagram       = "BPMNDiagram"
	prefixPlane         = "BPMNPlane"
)

// idArena mints document-unique element ids. A fresh arena is created for
// every synthesis call and threaded through graph building and encoding, so
// uniqueness holds by construction and no wall clock is involved.
type idArena struct {
	counters map[string]int
	used     map[string]struct{}
}

func newIDArena() *idArena {
	return &idArena{
		counters: make(map[string]int),
		used:     make(map[string]struct{}),
	}
}

// mint returns the next free id for prefix: Activity_1, Activity_2, ...
func (a *idArena) mint(prefix string) string {
	for {
		a.counters[prefix]++
		id := fmt.Sprintf("%s_%d", prefix, a.counters[prefix])
		if a.claim(id) {
			return id
		}
	}
}

// derived returns an id for a diagram element bound to elementID, e.g.
// Activity_1_di. A numeric suffix is appended if the plain form is taken.
func (a *idArena) derived(elementID, suffix string) string {
	id := elementID + "_" + suffix
	for n := 2; !a.claim(id); n++ {
		id = fmt.Sprintf("%s_%s%d", elementID, suffix, n)
	}
	return id
}

// claim reserves id and reports whether it was still free.
func (a *idArena) claim(id string) bool {
	if _, taken := a.used[id]; taken {
		return false
	}
	a.used[id] = struct{}{}
	return true
}

// size returns the number of ids handed out so far.
func (a *idArena) size() int {
	return len(a.used)
}
