package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"seeker/parser"
)

// StaticSource replays scripted fragments. It backs the offline "static"
// provider and stands in for a model in tests.
type StaticSource struct {
	// Fragments are replayed in order when Respond is nil
	Fragments []string
	// Respond, when set, scripts the fragments from the request
	Respond func(req Request) []string
	// Delay is waited before each fragment
	Delay time.Duration
	// OpenErr fails Stream itself
	OpenErr error
	// Err is returned after the last fragment instead of io.EOF
	Err error
}

// Name identifies the provider in logs
func (s *StaticSource) Name() string {
	return "static"
}

// Stream starts replaying the script
func (s *StaticSource) Stream(ctx context.Context, req Request) (Stream, error) {
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	fragments := s.Fragments
	if s.Respond != nil {
		fragments = s.Respond(req)
	}
	return &staticStream{
		ctx:       ctx,
		fragments: append([]string(nil), fragments...),
		delay:     s.Delay,
		err:       s.Err,
	}, nil
}

type staticStream struct {
	ctx       context.Context
	fragments []string
	delay     time.Duration
	err       error
	pos       int
	closed    bool
}

func (s *staticStream) Recv() (string, error) {
	if s.closed {
		return "", io.ErrClosedPipe
	}
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.pos >= len(s.fragments) {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return "", s.ctx.Err()
		case <-timer.C:
		}
	}
	fragment := s.fragments[s.pos]
	s.pos++
	return fragment, nil
}

func (s *staticStream) Close() error {
	s.closed = true
	return nil
}

// DemoResponse scripts a well-formed trailer response that restates the
// query, split into word-sized fragments. It lets the server run without a model.
func DemoResponse(req Request) []string {
	content := fmt.Sprintf("**TL;DR** This is an offline demonstration answer for: %q.\n\n"+
		"No model is configured, so no research was performed.", req.Query)

	trailer := map[string]any{
		"trace": map[string]any{
			"plan": []string{"Interpret the question", "Explain that no model is configured"},
			"steps": []map[string]string{{
				"tool":   "memory_search",
				"input":  req.Query,
				"output": fmt.Sprintf("%d prior messages in this session", len(req.History)),
			}},
		},
		"sources": []map[string]string{{
			"id":    "demo-1",
			"title": "Offline demonstration",
			"date":  time.Now().UTC().Format("2006-01-02"),
			"type":  "Note",
		}},
	}
	payload, _ := json.Marshal(trailer)

	fragments := strings.SplitAfter(content, " ")
	return append(fragments, "\n"+parser.TraceSentinel+"\n", string(payload))
}
