// Package llm opens token streams against the language model providers the
// research agent runs on.
package llm

import (
	"context"
	"errors"
	"fmt"

	"seeker/types"
)

// Request is one research query together with the transcript that precedes it
type Request struct {
	Query        string
	History      []types.Message
	SystemPrompt string
}

// Stream yields ordered text fragments. Recv returns io.EOF once the
// response is complete; any other error is a transport failure.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// TokenSource opens a token stream for a request
type TokenSource interface {
	Stream(ctx context.Context, req Request) (Stream, error)
	Name() string
}

var (
	// ErrNoEndpoints is returned when a client has no endpoint to call
	ErrNoEndpoints = errors.New("no endpoints configured")
	// ErrAllEndpointsFailed is returned when every failover attempt failed
	ErrAllEndpointsFailed = errors.New("all endpoints failed")
)

// StatusError is an HTTP error answered by an upstream endpoint
type StatusError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("endpoint %s returned HTTP %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("endpoint %s returned HTTP %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// Retryable reports whether another endpoint may succeed where this one failed
func (e *StatusError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// TrimHistory keeps the last limit messages. A limit of zero keeps everything.
// Bot messages that never received text, such as a pending placeholder, are skipped.
func TrimHistory(history []types.Message, limit int) []types.Message {
	kept := make([]types.Message, 0, len(history))
	for _, m := range history {
		if m.IsBot() && m.Text == "" {
			continue
		}
		kept = append(kept, m)
	}
	if limit > 0 && len(kept) > limit {
		kept = kept[len(kept)-limit:]
	}
	return kept
}
