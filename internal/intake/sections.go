// Package intake turns loosely structured input into a schema.WorkflowSpec:
// free text organised under section headers, or arbitrary JSON documents
// reshaped by a jq program.
package intake

import (
	"regexp"
	"strings"

	"github.com/rendis/bpmnkit/pkg/schema"
)

// Section identifies one WorkflowSpec field a block of text feeds.
type Section string

const (
	SectionProcessName        Section = "processName"
	SectionProcessDescription Section = "processDescription"
	SectionParticipants       Section = "participants"
	SectionTrigger            Section = "trigger"
	SectionActivities         Section = "activities"
	SectionDecisionPoints     Section = "decisionPoints"
	SectionEndEvent           Section = "endEvent"
	SectionAdditionalElements Section = "additionalElements"
)

// headerAliases maps a lower-cased header title to its section.
var headerAliases = map[string]Section{
	"process name":        SectionProcessName,
	"process title":       SectionProcessName,
	"name":                SectionProcessName,
	"title":               SectionProcessName,
	"process description": SectionProcessDescription,
	"description":         SectionProcessDescription,
	"summary":             SectionProcessDescription,
	"overview":            SectionProcessDescription,
	"participants":        SectionParticipants,
	"roles":               SectionParticipants,
	"actors":              SectionParticipants,
	"lanes":               SectionParticipants,
	"swimlanes":           SectionParticipants,
	"stakeholders":        SectionParticipants,
	"trigger":             SectionTrigger,
	"start event":         SectionTrigger,
	"start":               SectionTrigger,
	"activities":          SectionActivities,
	"process steps":       SectionActivities,
	"steps":               SectionActivities,
	"tasks":               SectionActivities,
	"decision points":     SectionDecisionPoints,
	"decisions":           SectionDecisionPoints,
	"gateways":            SectionDecisionPoints,
	"end event":           SectionEndEvent,
	"end":                 SectionEndEvent,
	"outcome":             SectionEndEvent,
	"additional elements": SectionAdditionalElements,
	"additional notes":    SectionAdditionalElements,
	"notes":               SectionAdditionalElements,
	"annotations":         SectionAdditionalElements,
}

// canonicalTitles are the full section names. A list item holding one of
// them is a header even without emphasis or a colon.
var canonicalTitles = map[string]bool{
	"process name":        true,
	"process description": true,
	"participants":        true,
	"trigger":             true,
	"activities":          true,
	"decision points":     true,
	"end event":           true,
	"additional elements": true,
}

var (
	// headingRe matches a markdown heading: "## Activities".
	headingRe = regexp.MustCompile(`^\s{0,3}#{1,6}\s+(.+?)\s*#*\s*$`)
	// labelledRe matches "Title: inline value" with the value optional.
	labelledRe = regexp.MustCompile(`^\s*([^:]{1,40}?)\s*:\s*(.*)$`)
	// itemRe matches bulleted and numbered list items.
	itemRe = regexp.MustCompile(`^\s*(?:[-*+•·]|\d{1,3}[.)]|\(\d{1,3}\))\s+(.*)$`)

	strongRe   = regexp.MustCompile(`(\*\*|__)(.+?)(\*\*|__)`)
	emStarRe   = regexp.MustCompile(`\*([^*\s](?:[^*]*[^*\s])?)\*`)
	emUnderRe  = regexp.MustCompile(`(^|[\s(])_([^_\s](?:[^_]*[^_\s])?)_($|[\s).,;:!?])`)
	codeSpanRe = regexp.MustCompile("`([^`]*)`")
	spaceRe    = regexp.MustCompile(`\s+`)
	ordinalRe  = regexp.MustCompile(`^(?:\d{1,2}|[ivx]{1,4})[.)]\s*`)
)

// Parsed is the outcome of ParseSections.
type Parsed struct {
	Spec schema.WorkflowSpec `json:"spec"`
	// Sections lists the recognised sections in the order they appeared.
	Sections []Section `json:"sections"`
	// Ignored holds non-blank lines that appeared before the first header.
	Ignored []string `json:"ignored,omitempty"`
}

// ParseSections reads free text organised under fixed headers ("Process
// Name", "Participants", "Activities", "Decision Points" and so on) into a
// WorkflowSpec.
//
// A header is a markdown heading, a line holding only a known title, or a
// "Title: value" line whose title is known. List sections take one entry per
// bulleted, numbered or plain line; an inline value is split on semicolons,
// or on commas when it has none. Scalar sections join their lines with a
// space. Markdown emphasis is stripped everywhere. A repeated header appends
// to the section it names.
func ParseSections(text string) (*Parsed, error) {
	out := &Parsed{}
	var (
		current Section
		scalars = make(map[Section][]string)
		seen    = make(map[Section]bool)
	)

	for _, raw := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if sec, inline, ok := matchHeader(line); ok {
			current = sec
			if !seen[sec] {
				seen[sec] = true
				out.Sections = append(out.Sections, sec)
			}
			if inline != "" {
				if isListSection(sec) {
					for _, v := range splitInline(inline) {
						appendItem(&out.Spec, sec, v)
					}
				} else {
					scalars[sec] = append(scalars[sec], inline)
				}
			}
			continue
		}

		if current == "" {
			out.Ignored = append(out.Ignored, line)
			continue
		}

		value := line
		if m := itemRe.FindStringSubmatch(line); m != nil {
			value = m[1]
		}
		value = cleanText(value)
		if value == "" {
			continue
		}
		if isListSection(current) {
			appendItem(&out.Spec, current, value)
		} else {
			scalars[current] = append(scalars[current], value)
		}
	}

	if len(out.Sections) == 0 {
		return nil, schema.NewError(schema.ErrCodeParse, "no recognised section headers").
			WithDetails(map[string]any{"ignored_lines": len(out.Ignored)})
	}

	join := func(sec Section) string { return strings.Join(scalars[sec], " ") }
	out.Spec.ProcessName = join(SectionProcessName)
	out.Spec.ProcessDescription = join(SectionProcessDescription)
	out.Spec.Trigger = join(SectionTrigger)
	out.Spec.EndEvent = join(SectionEndEvent)
	return out, nil
}

// matchHeader reports whether line is a section header and returns the
// cleaned inline value that follows it, if any.
func matchHeader(line string) (Section, string, bool) {
	if m := headingRe.FindStringSubmatch(line); m != nil {
		title, inline := m[1], ""
		if lm := labelledRe.FindStringSubmatch(title); lm != nil {
			title, inline = lm[1], lm[2]
		}
		if sec, ok := lookupHeader(title); ok {
			return sec, cleanText(inline), true
		}
		return "", "", false
	}
	if m := itemRe.FindStringSubmatch(line); m != nil {
		return itemHeader(m[1])
	}
	if sec, ok := lookupHeader(line); ok {
		return sec, "", true
	}
	if m := labelledRe.FindStringSubmatch(stripEmphasis(line)); m != nil {
		if sec, ok := lookupHeader(m[1]); ok {
			return sec, cleanText(m[2]), true
		}
	}
	return "", "", false
}

// itemHeader reads a list item as a header when it names a section
// unambiguously: a canonical title, an emphasised title or a labelled one.
// "- Start" under Activities stays an activity.
func itemHeader(text string) (Section, string, bool) {
	plain := stripEmphasis(text)
	title, inline, labelled := plain, "", false
	if lm := labelledRe.FindStringSubmatch(plain); lm != nil {
		title, inline, labelled = lm[1], lm[2], true
	}
	sec, ok := lookupHeader(title)
	if !ok {
		return "", "", false
	}
	if labelled || plain != text || canonicalTitles[headerKey(title)] {
		return sec, cleanText(inline), true
	}
	return "", "", false
}

func lookupHeader(title string) (Section, bool) {
	sec, ok := headerAliases[headerKey(title)]
	return sec, ok
}

func headerKey(title string) string {
	key := ordinalRe.ReplaceAllString(strings.ToLower(cleanText(title)), "")
	return strings.TrimSpace(strings.TrimSuffix(key, ":"))
}

func isListSection(sec Section) bool {
	switch sec {
	case SectionParticipants, SectionActivities, SectionDecisionPoints, SectionAdditionalElements:
		return true
	}
	return false
}

func appendItem(spec *schema.WorkflowSpec, sec Section, v string) {
	switch sec {
	case SectionParticipants:
		spec.Participants = append(spec.Participants, v)
	case SectionActivities:
		spec.Activities = append(spec.Activities, v)
	case SectionDecisionPoints:
		spec.DecisionPoints = append(spec.DecisionPoints, v)
	case SectionAdditionalElements:
		spec.AdditionalElements = append(spec.AdditionalElements, v)
	}
}

func splitInline(s string) []string {
	sep := ","
	if strings.Contains(s, ";") {
		sep = ";"
	}
	var out []string
	for _, part := range strings.Split(s, sep) {
		if v := cleanText(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func stripEmphasis(s string) string {
	s = strongRe.ReplaceAllString(s, "$2")
	s = emStarRe.ReplaceAllString(s, "$1")
	s = emUnderRe.ReplaceAllString(s, "$1$2$3")
	return codeSpanRe.ReplaceAllString(s, "$1")
}

// cleanText strips emphasis, collapses whitespace and drops stray emphasis
// markers left at either end.
func cleanText(s string) string {
	s = spaceRe.ReplaceAllString(stripEmphasis(s), " ")
	return strings.TrimSpace(strings.Trim(s, "*_ "))
}
