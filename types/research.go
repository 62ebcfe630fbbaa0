package types

import "time"

// Sender identifies who authored a message
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// DefaultSessionTitle is the title a chat session carries until its first query
const DefaultSessionTitle = "New Research"

// NotAvailable is the placeholder for source fields missing from the data
const NotAvailable = "N/A"

// TraceStep is a single tool invocation recorded by the agent.
// Input and Output are opaque text blobs.
type TraceStep struct {
	Tool   string `json:"tool"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

// Trace is the agent's declared plan and the tool calls it actually executed.
// A non-nil *Trace always has at least one plan entry or step.
type Trace struct {
	Plan  []string    `json:"plan"`
	Steps []TraceStep `json:"steps"`
}

// IsEmpty reports whether the trace carries neither plan nor steps
func (t *Trace) IsEmpty() bool {
	return t == nil || (len(t.Plan) == 0 && len(t.Steps) == 0)
}

// Clone returns a deep copy of the trace
func (t *Trace) Clone() *Trace {
	if t == nil {
		return nil
	}
	c := &Trace{}
	if t.Plan != nil {
		c.Plan = append([]string(nil), t.Plan...)
	}
	if t.Steps != nil {
		c.Steps = append([]TraceStep(nil), t.Steps...)
	}
	return c
}

// Source is a cited reference backing a claim in the answer
type Source struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Date  string `json:"date"`
	Type  string `json:"type"`
	URL   string `json:"url,omitempty"`
}

// ParseResult is the atomic output of the response parser.
// Sources is nil rather than empty when no valid source was recovered.
type ParseResult struct {
	Content string   `json:"content"`
	Trace   *Trace   `json:"trace"`
	Sources []Source `json:"sources"`
}

// Message is one entry of a chat session transcript
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	CreatedAt time.Time `json:"created_at"`
	Trace     *Trace    `json:"trace,omitempty"`
	Sources   []Source  `json:"sources,omitempty"`
	Finalized bool      `json:"finalized"`
}

// Clone returns a copy that shares no mutable state with m
func (m *Message) Clone() Message {
	c := *m
	c.Trace = m.Trace.Clone()
	if m.Sources != nil {
		c.Sources = append([]Source(nil), m.Sources...)
	}
	return c
}

// IsBot returns true for messages authored by the agent
func (m *Message) IsBot() bool {
	return m.Sender == SenderBot
}

// ChatSession groups the messages of one research conversation
type ChatSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}
