package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seeker/circuitbreaker"
	"seeker/types"
)

func sseServer(t *testing.T, events []string, captured *types.OpenAIRequest, hits *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		if captured != nil {
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, event := range events {
			fmt.Fprintf(w, "%s\n\n", event)
			flusher.Flush()
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func statusServer(t *testing.T, status int, body string, hits *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func deltaEvent(content string) string {
	chunk := types.OpenAIStreamChunk{
		ID:      "chatcmpl-1",
		Object:  "chat.completion.chunk",
		Choices: []types.OpenAIStreamChoice{{Delta: types.OpenAIStreamDelta{Content: content}}},
	}
	raw, _ := json.Marshal(chunk)
	return "data: " + string(raw)
}

func collect(t *testing.T, stream Stream) ([]string, error) {
	t.Helper()
	defer stream.Close()
	var fragments []string
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return fragments, nil
		}
		if err != nil {
			return fragments, err
		}
		fragments = append(fragments, fragment)
	}
}

func TestOpenAIClientStreamsFragmentsInOrder(t *testing.T) {
	var captured types.OpenAIRequest
	server := sseServer(t, []string{
		`data: {"choices":[{"delta":{"role":"assistant"}}]}`,
		deltaEvent("Hel"),
		": keep-alive comment",
		deltaEvent("lo, "),
		"data: not-json",
		deltaEvent("world"),
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		"data: [DONE]",
		deltaEvent("after done"),
	}, &captured, nil)

	client := NewOpenAIClient(OpenAIOptions{
		Endpoints:   []string{server.URL},
		APIKey:      "sk-test",
		Model:       "qwen2.5:32b",
		Temperature: 0.2,
	})

	stream, err := client.Stream(context.Background(), Request{
		Query:        "What changed?",
		SystemPrompt: "be precise",
		History: []types.Message{
			{Sender: types.SenderUser, Text: "first question"},
			{Sender: types.SenderBot, Text: "first answer"},
		},
	})
	require.NoError(t, err)

	fragments, err := collect(t, stream)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo, ", "world"}, fragments)

	assert.Equal(t, "qwen2.5:32b", captured.Model)
	assert.True(t, captured.Stream)
	assert.Equal(t, []types.OpenAIMessage{
		{Role: "system", Content: "be precise"},
		{Role: "user", Content: "first question"},
		{Role: "assistant", Content: "first answer"},
		{Role: "user", Content: "What changed?"},
	}, captured.Messages)
}

func TestOpenAIClientEOFWithoutDoneMarker(t *testing.T) {
	server := sseServer(t, []string{deltaEvent("only")}, nil, nil)
	client := NewOpenAIClient(OpenAIOptions{Endpoints: []string{server.URL}})

	stream, err := client.Stream(context.Background(), Request{Query: "q"})
	require.NoError(t, err)

	fragments, err := collect(t, stream)
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, fragments)
}

func TestOpenAIClientErrorEventMidStream(t *testing.T) {
	server := sseServer(t, []string{
		deltaEvent("partial"),
		`data: {"error":{"message":"model overloaded","type":"server_error"}}`,
	}, nil, nil)
	client := NewOpenAIClient(OpenAIOptions{Endpoints: []string{server.URL}})

	stream, err := client.Stream(context.Background(), Request{Query: "q"})
	require.NoError(t, err)

	fragments, err := collect(t, stream)
	assert.Equal(t, []string{"partial"}, fragments)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestOpenAIClientFailsOverOnServerError(t *testing.T) {
	var badHits, goodHits int32
	bad := statusServer(t, http.StatusBadGateway, `{"error":{"message":"upstream down"}}`, &badHits)
	good := sseServer(t, []string{deltaEvent("ok"), "data: [DONE]"}, nil, &goodHits)

	health := circuitbreaker.NewHealthManager(circuitbreaker.DefaultConfig())
	client := NewOpenAIClient(OpenAIOptions{Endpoints: []string{bad.URL, good.URL}, Health: health})

	stream, err := client.Stream(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	fragments, err := collect(t, stream)
	require.NoError(t, err)

	assert.Equal(t, []string{"ok"}, fragments)
	assert.Equal(t, int32(1), atomic.LoadInt32(&badHits))
	assert.Equal(t, int32(1), atomic.LoadInt32(&goodHits))

	badHealth, ok := health.Snapshot(bad.URL)
	require.True(t, ok)
	assert.Equal(t, 1, badHealth.FailureCount)
	assert.Equal(t, 1.0, health.CalculateSuccessRate(good.URL))

	// the healthy endpoint now ranks first
	again, err := client.Stream(context.Background(), Request{Query: "again"})
	require.NoError(t, err)
	again.Close()
	assert.Equal(t, int32(1), atomic.LoadInt32(&badHits))
}

func TestOpenAIClientDoesNotFailOverOnClientError(t *testing.T) {
	var secondHits int32
	first := statusServer(t, http.StatusUnauthorized, `{"error":{"message":"invalid api key"}}`, nil)
	second := sseServer(t, []string{"data: [DONE]"}, nil, &secondHits)

	client := NewOpenAIClient(OpenAIOptions{Endpoints: []string{first.URL, second.URL}})
	_, err := client.Stream(context.Background(), Request{Query: "q"})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, "invalid api key", statusErr.Message)
	assert.False(t, statusErr.Retryable())
	assert.Zero(t, atomic.LoadInt32(&secondHits))
}

func TestOpenAIClientAllEndpointsFail(t *testing.T) {
	a := statusServer(t, http.StatusServiceUnavailable, "busy", nil)
	b := statusServer(t, http.StatusTooManyRequests, "slow down", nil)

	client := NewOpenAIClient(OpenAIOptions{Endpoints: []string{a.URL, b.URL}})
	_, err := client.Stream(context.Background(), Request{Query: "q"})

	assert.ErrorIs(t, err, ErrAllEndpointsFailed)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "slow down", statusErr.Message)
}

func TestOpenAIClientNoEndpoints(t *testing.T) {
	client := NewOpenAIClient(OpenAIOptions{})
	_, err := client.Stream(context.Background(), Request{Query: "q"})
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestOpenAIClientCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	health := circuitbreaker.NewHealthManager(circuitbreaker.DefaultConfig())
	client := NewOpenAIClient(OpenAIOptions{Endpoints: []string{server.URL}, Health: health})
	_, err := client.Stream(ctx, Request{Query: "q"})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	snapshot, _ := health.Snapshot(server.URL)
	assert.Zero(t, snapshot.FailureCount, "a cancelled request says nothing about the endpoint")
}
