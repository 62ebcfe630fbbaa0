// Package parser splits a research agent's streamed response into answer
// content, an execution trace and a list of cited sources.
//
// Two response protocols are recognized. The canonical one appends a JSON
// trailer after TraceSentinel; the legacy one embeds a Markdown trace block
// with "## Plan", "### <tool>" steps and a sources table. Parsing never
// fails: every problem degrades to a subset of the result being nil.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"seeker/types"
)

// TraceSentinel separates the human-readable answer from the JSON trailer.
// Only its last occurrence counts.
const TraceSentinel = "---JSON_TRACE_START---"

// Protocol identifies which response format a parse resolved to
type Protocol string

const (
	ProtocolTrailer Protocol = "trailer"
	ProtocolLegacy  Protocol = "legacy"
	ProtocolPlain   Protocol = "plain"
)

// Report is a parse result plus the diagnostics gathered while producing it
type Report struct {
	Result   types.ParseResult
	Protocol Protocol
	Issues   []error
}

// HasIssue reports whether a problem of the given kind was recovered from
func (r *Report) HasIssue(kind ErrorKind) bool {
	for _, issue := range r.Issues {
		if pe, ok := issue.(*ParseError); ok && pe.Kind == kind {
			return true
		}
	}
	return false
}

// ParseResponse is the parser's entry point. It is a total function: it
// never panics and always returns something displayable.
func ParseResponse(raw string) types.ParseResult {
	report := Extract(raw)
	logIssues(report)
	return report.Result
}

// Extract parses raw like ParseResponse and also reports which protocol was
// used and which problems were recovered from. It does not log.
func Extract(raw string) (report *Report) {
	defer func() {
		if r := recover(); r != nil {
			report = &Report{
				Result:   types.ParseResult{Content: raw},
				Protocol: ProtocolPlain,
				Issues:   []error{newParseError(KindUnrecognizedFormat, -1, fmt.Sprintf("recovered from parser panic: %v", r), nil)},
			}
		}
	}()

	if idx := strings.LastIndex(raw, TraceSentinel); idx != -1 {
		return extractTrailer(raw, idx)
	}

	result, found := ParseLegacy(raw)
	if found {
		return &Report{Result: normalize(result), Protocol: ProtocolLegacy}
	}

	report = &Report{Result: types.ParseResult{Content: raw}, Protocol: ProtocolPlain}
	if strings.TrimSpace(raw) != "" {
		report.Issues = append(report.Issues, newParseError(KindUnrecognizedFormat, -1, "no trailer sentinel and no legacy trace structure", nil))
	}
	return report
}

// trailer is the JSON payload after the sentinel. Both keys are optional;
// fields stay raw so their shapes can be validated one at a time.
type trailer struct {
	Trace   json.RawMessage `json:"trace"`
	Sources json.RawMessage `json:"sources"`
}

type trailerTrace struct {
	Plan  json.RawMessage `json:"plan"`
	Steps json.RawMessage `json:"steps"`
}

type trailerStep struct {
	Tool   json.RawMessage `json:"tool"`
	Input  json.RawMessage `json:"input"`
	Output json.RawMessage `json:"output"`
}

type trailerSource struct {
	ID       json.RawMessage `json:"id"`
	SourceID json.RawMessage `json:"sourceId"`
	Title    json.RawMessage `json:"title"`
	Date     json.RawMessage `json:"date"`
	Type     json.RawMessage `json:"type"`
	URL      json.RawMessage `json:"url"`
	Link     json.RawMessage `json:"link"`
}

func extractTrailer(raw string, idx int) *Report {
	report := &Report{Protocol: ProtocolTrailer}
	payload := SanitizeJSON(raw[idx+len(TraceSentinel):])

	var t trailer
	if err := json.Unmarshal([]byte(payload), &t); err != nil {
		// fail open: show everything rather than a blank answer
		report.Result = types.ParseResult{Content: raw}
		report.Issues = append(report.Issues, newParseError(KindMalformedTrailerJSON, idx, "trailer is not valid JSON after sanitization", err))
		return report
	}

	report.Result.Content = strings.TrimSpace(raw[:idx])

	trace, err := decodeTrace(t.Trace)
	if err != nil {
		report.Issues = append(report.Issues, err)
	} else {
		report.Result.Trace = trace
	}

	sources, err := decodeSources(t.Sources)
	if err != nil {
		report.Issues = append(report.Issues, err)
	} else {
		report.Result.Sources = sources
	}

	report.Result = normalize(report.Result)
	return report
}

func decodeTrace(raw json.RawMessage) (*types.Trace, error) {
	if isAbsent(raw) {
		return nil, nil
	}

	var tt trailerTrace
	if err := json.Unmarshal(raw, &tt); err != nil {
		return nil, newParseError(KindInvalidTraceShape, -1, "trace is not an object", err)
	}

	trace := &types.Trace{Plan: []string{}, Steps: []types.TraceStep{}}

	if !isAbsent(tt.Plan) {
		var entries []json.RawMessage
		if err := json.Unmarshal(tt.Plan, &entries); err != nil {
			return nil, newParseError(KindInvalidTraceShape, -1, "trace.plan is not an array", err)
		}
		for _, entry := range entries {
			if text, ok := scalarText(entry); ok {
				if text = strings.TrimSpace(text); text != "" {
					trace.Plan = append(trace.Plan, text)
				}
			}
		}
	}

	if !isAbsent(tt.Steps) {
		var entries []json.RawMessage
		if err := json.Unmarshal(tt.Steps, &entries); err != nil {
			return nil, newParseError(KindInvalidTraceShape, -1, "trace.steps is not an array", err)
		}
		for _, entry := range entries {
			var ts trailerStep
			if err := json.Unmarshal(entry, &ts); err != nil {
				continue
			}
			tool, _ := scalarText(ts.Tool)
			tool = strings.TrimSpace(tool)
			if tool == "" {
				continue
			}
			trace.Steps = append(trace.Steps, types.TraceStep{
				Tool:   tool,
				Input:  blobText(ts.Input),
				Output: blobText(ts.Output),
			})
		}
	}

	return trace, nil
}

func decodeSources(raw json.RawMessage) ([]types.Source, error) {
	if isAbsent(raw) {
		return nil, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, newParseError(KindInvalidSourcesShape, -1, "sources is not an array", err)
	}

	var sources []types.Source
	for _, entry := range entries {
		var ts trailerSource
		if err := json.Unmarshal(entry, &ts); err != nil {
			continue
		}

		id, _ := scalarText(ts.ID)
		if strings.TrimSpace(id) == "" {
			id, _ = scalarText(ts.SourceID)
		}
		title, _ := scalarText(ts.Title)
		source := types.Source{
			ID:    strings.TrimSpace(id),
			Title: strings.TrimSpace(title),
			Date:  textOrDefault(ts.Date),
			Type:  textOrDefault(ts.Type),
		}
		if source.ID == "" || source.Title == "" {
			continue
		}

		url, _ := scalarText(ts.URL)
		if strings.TrimSpace(url) == "" {
			url, _ = scalarText(ts.Link)
		}
		source.URL = cleanURL(url)
		sources = append(sources, source)
	}
	return sources, nil
}

// normalize enforces the result invariants: an all-empty trace becomes nil
// and an empty source list becomes nil
func normalize(r types.ParseResult) types.ParseResult {
	if r.Trace.IsEmpty() {
		r.Trace = nil
	}
	if len(r.Sources) == 0 {
		r.Sources = nil
	}
	return r
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// scalarText renders a JSON string, number or boolean as text
func scalarText(raw json.RawMessage) (string, bool) {
	if isAbsent(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	switch v.(type) {
	case float64, bool:
		return string(bytes.TrimSpace(raw)), true
	}
	return "", false
}

// blobText keeps strings as they are and renders any other JSON value
// compactly, since tool inputs and outputs are opaque
func blobText(raw json.RawMessage) string {
	if isAbsent(raw) {
		return ""
	}
	if s, ok := scalarText(raw); ok {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func textOrDefault(raw json.RawMessage) string {
	s, _ := scalarText(raw)
	if s = strings.TrimSpace(s); s == "" {
		return types.NotAvailable
	}
	return s
}

func logIssues(report *Report) {
	for _, issue := range report.Issues {
		entry := logrus.WithFields(logrus.Fields{
			"component": "parser",
			"protocol":  string(report.Protocol),
			"error":     issue.Error(),
		})
		if pe, ok := issue.(*ParseError); ok {
			entry = entry.WithField("kind", pe.Kind.String())
			if pe.Kind == KindUnrecognizedFormat {
				entry.Debug("Response carries no recognizable trace format")
				continue
			}
		}
		entry.Warn("Recovered from malformed agent response")
	}
}
