package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"seeker/circuitbreaker"
	"seeker/logger"
	"seeker/types"
)

// OpenAIClient streams chat completions from OpenAI-compatible endpoints,
// failing over between endpoints with a circuit breaker
type OpenAIClient struct {
	endpoints   []string
	apiKey      string
	model       string
	temperature float64
	httpClient  *http.Client
	health      *circuitbreaker.HealthManager
}

// OpenAIOptions configures an OpenAIClient
type OpenAIOptions struct {
	Endpoints   []string
	APIKey      string
	Model       string
	Temperature float64
	HTTPClient  *http.Client
	Health      *circuitbreaker.HealthManager
}

// NewOpenAIClient creates a client. A nil HTTPClient uses http.DefaultClient;
// a nil Health manager gets one with the default breaker settings.
func NewOpenAIClient(opts OpenAIOptions) *OpenAIClient {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Health == nil {
		opts.Health = circuitbreaker.NewHealthManager(circuitbreaker.DefaultConfig())
	}
	opts.Health.InitializeEndpoints(opts.Endpoints)

	return &OpenAIClient{
		endpoints:   append([]string(nil), opts.Endpoints...),
		apiKey:      opts.APIKey,
		model:       opts.Model,
		temperature: opts.Temperature,
		httpClient:  opts.HTTPClient,
		health:      opts.Health,
	}
}

// Name identifies the provider in logs
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Stream opens a streaming chat completion, trying endpoints healthiest first.
// Only opening the stream fails over; an error mid-stream is final, since
// fragments already delivered cannot be taken back.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) (Stream, error) {
	if len(c.endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	log := logger.ConditionalLogger(ctx).WithComponent(logger.ComponentStream)
	var lastErr error
	// open circuits rank last, so they are only tried as a last resort
	for _, endpoint := range c.health.RankBySuccess(c.endpoints) {
		logger.LogEndpointSelected(ctx, log, c.model, endpoint)

		stream, err := c.open(ctx, endpoint, body)
		if err == nil {
			c.health.RecordSuccess(endpoint)
			return stream, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return nil, err
		}

		c.health.RecordFailure(endpoint)
		log.Warn("%s Endpoint %s failed, trying next: %v", logger.EmojiWarning, endpoint, err)
	}

	return nil, fmt.Errorf("%w: %w", ErrAllEndpointsFailed, lastErr)
}

func (c *OpenAIClient) buildRequest(req Request) types.OpenAIRequest {
	messages := make([]types.OpenAIMessage, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, types.OpenAIMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.History {
		role := "user"
		if m.IsBot() {
			role = "assistant"
		}
		messages = append(messages, types.OpenAIMessage{Role: role, Content: m.Text})
	}
	messages = append(messages, types.OpenAIMessage{Role: "user", Content: req.Query})

	return types.OpenAIRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		Stream:      true,
	}
}

func (c *OpenAIClient) open(ctx context.Context, endpoint string, body []byte) (Stream, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", endpoint, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}

	return newSSEStream(resp.Body), nil
}

func errorMessage(raw []byte) string {
	var errResp types.OpenAIErrorResponse
	if err := json.Unmarshal(raw, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

// sseStream reads `data:` events of an OpenAI streaming response
type sseStream struct {
	body      io.ReadCloser
	scanner   *bufio.Scanner
	done      bool
	closeOnce sync.Once
}

func newSSEStream(body io.ReadCloser) *sseStream {
	scanner := bufio.NewScanner(body)
	// 64KB initial, 1MB max per event
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &sseStream{body: body, scanner: scanner}
}

// Recv returns the next non-empty content delta
func (s *sseStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			s.done = true
			return "", io.EOF
		}

		var errResp types.OpenAIErrorResponse
		if err := json.Unmarshal([]byte(payload), &errResp); err == nil && errResp.Error.Message != "" {
			return "", fmt.Errorf("stream error event: %s", errResp.Error.Message)
		}

		var chunk types.OpenAIStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			logrus.WithField("component", "stream").Warnf("⚠️ Failed to parse streaming chunk: %v", err)
			continue
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				return choice.Delta.Content, nil
			}
		}
	}

	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("error reading stream: %w", err)
	}
	// a server that closes without [DONE] still ended the response
	s.done = true
	return "", io.EOF
}

func (s *sseStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
	})
	return err
}
