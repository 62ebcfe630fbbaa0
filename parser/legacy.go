package parser

import (
	"regexp"
	"sort"
	"strings"

	"seeker/types"
)

var (
	headingLineRe      = regexp.MustCompile(`^[ \t]{0,3}#{1,6}[ \t]`)
	planHeadingRe      = regexp.MustCompile(`(?im)^[ \t]*##[ \t]*Plan[ \t]*:?[ \t]*$`)
	stepHeadingRe      = regexp.MustCompile(`(?m)^[ \t]*###[ \t]+(\S.*?)[ \t]*$`)
	sourcesHeadingRe   = regexp.MustCompile(`(?im)^[ \t]*#{2,3}[ \t]*(?:Sources|References|Bibliography)(?:[ \t]*(?:&|and)[ \t]*Provenance)?[ \t]*:?[ \t]*$`)
	executionHeadingRe = regexp.MustCompile(`(?im)^[ \t]*##[ \t]*Execution[ \t]+Steps[ \t]*:?[ \t]*$`)
	endMarkerRe        = regexp.MustCompile(`(?i)\*{0,2}[ \t]*END OF TRACE FORMAT[ \t]*\*{0,2}`)
	blankRunRe         = regexp.MustCompile(`\n{3,}`)

	stepBodyRe = regexp.MustCompile("(?is)\\*\\*INPUT:?\\*\\*[ \\t]*:?\\s*```(?:[\\w+-]*[ \\t]*\\n)?(.*?)```\\s*\\*\\*OUTPUT:?\\*\\*[ \\t]*:?\\s*```(?:[\\w+-]*[ \\t]*\\n)?(.*?)```")

	listMarkerRe = regexp.MustCompile(`^(?:[-*+•·‣▪]|\d+[.)])\s*`)
	stepPrefixRe = regexp.MustCompile(`(?i)^step\s*\d+\s*[:.)\-–]\s*`)
)

// span is a half-open byte range [start, end) of the raw text
type span struct {
	start, end int
}

// ParseLegacy extracts a trace and sources from the older Markdown trace format:
//
//	## Plan
//	- Step 1: ...
//	## Execution Steps
//	### tool_name
//	**INPUT**:
//	```
//	...
//	```
//	**OUTPUT**:
//	```
//	...
//	```
//	## Sources & Provenance
//	| Source ID | Title | Date | Type | URL |
//	|---|---|---|---|---|
//	**END OF TRACE FORMAT**
//
// Every section is optional. The matched regions are removed from the
// returned content. The boolean reports whether any legacy structure was
// found; when it is false the content is the raw text, unchanged.
func ParseLegacy(raw string) (types.ParseResult, bool) {
	if strings.TrimSpace(raw) == "" {
		return types.ParseResult{Content: raw}, false
	}

	var (
		removals []span
		plan     []string
		steps    []types.TraceStep
		sources  []types.Source
		found    bool
	)

	// a repeated plan section continues the first one
	planLocs := planHeadingRe.FindAllStringIndex(raw, -1)
	for _, loc := range planLocs {
		found = true
		end := sectionEnd(raw, loc[1])
		plan = append(plan, parsePlanLines(raw[loc[1]:end])...)
		removals = append(removals, span{loc[0], end})
	}

	for _, loc := range stepHeadingRe.FindAllStringSubmatchIndex(raw, -1) {
		end := sectionEnd(raw, loc[1])
		m := stepBodyRe.FindStringSubmatch(raw[loc[1]:end])
		if m == nil {
			// malformed block, keep going
			continue
		}
		steps = append(steps, types.TraceStep{
			Tool:   cleanToolName(raw[loc[2]:loc[3]]),
			Input:  strings.TrimSpace(m[1]),
			Output: strings.TrimSpace(m[2]),
		})
		removals = append(removals, span{loc[0], end})
	}

	for _, loc := range sourcesHeadingRe.FindAllStringIndex(raw, -1) {
		end := sectionEnd(raw, loc[1])
		if parsed := ParseSourcesTable(raw[loc[1]:end]); parsed != nil {
			sources = append(sources, parsed...)
			removals = append(removals, span{loc[0], end})
		}
	}

	markers := endMarkerRe.FindAllStringIndex(raw, -1)
	if len(markers) > 0 {
		found = true
		// the original format wraps the whole trace between "## Plan" and the end marker
		if len(planLocs) > 0 {
			for _, m := range markers {
				if m[0] > planLocs[0][0] {
					removals = append(removals, span{planLocs[0][0], m[1]})
					break
				}
			}
		}
	}

	if len(steps) > 0 || sources != nil {
		found = true
	}
	if !found {
		return types.ParseResult{Content: raw}, false
	}

	content := removeSpans(raw, removals)
	content = endMarkerRe.ReplaceAllString(content, "")
	content = executionHeadingRe.ReplaceAllString(content, "")
	content = blankRunRe.ReplaceAllString(content, "\n\n")
	content = strings.TrimSpace(content)

	result := types.ParseResult{Content: content}
	if len(plan) > 0 || len(steps) > 0 {
		result.Trace = &types.Trace{Plan: plan, Steps: steps}
		if result.Trace.Plan == nil {
			result.Trace.Plan = []string{}
		}
		if result.Trace.Steps == nil {
			result.Trace.Steps = []types.TraceStep{}
		}
	}
	if len(sources) > 0 {
		result.Sources = sources
	}
	return result, true
}

// sectionEnd returns the offset where the section starting at from ends: the
// next Markdown heading or end marker outside a code fence, or the end of text
func sectionEnd(text string, from int) int {
	inFence := false
	pos := from
	for pos < len(text) {
		next := strings.IndexByte(text[pos:], '\n')
		lineEnd := len(text)
		if next != -1 {
			lineEnd = pos + next
		}
		line := text[pos:lineEnd]

		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		} else if !inFence && pos > from && (headingLineRe.MatchString(line) || endMarkerRe.MatchString(line)) {
			return pos
		}

		if next == -1 {
			break
		}
		pos = lineEnd + 1
	}
	return len(text)
}

func parsePlanLines(block string) []string {
	var plan []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		line = listMarkerRe.ReplaceAllString(line, "")
		line = stepPrefixRe.ReplaceAllString(line, "")
		line = strings.TrimSpace(line)
		if line != "" {
			plan = append(plan, line)
		}
	}
	return plan
}

func cleanToolName(name string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(name), "`*_"))
}

// removeSpans deletes the given byte ranges from text; overlapping ranges are merged
func removeSpans(text string, spans []span) string {
	if len(spans) == 0 {
		return text
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var b strings.Builder
	cursor := 0
	for _, s := range spans {
		if s.end <= cursor {
			continue
		}
		if s.start > cursor {
			b.WriteString(text[cursor:s.start])
		}
		cursor = s.end
	}
	if cursor < len(text) {
		b.WriteString(text[cursor:])
	}
	return b.String()
}
