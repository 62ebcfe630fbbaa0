package llm

import (
	"context"
	"fmt"
	"io"
	"iter"

	"google.golang.org/genai"

	"seeker/types"
)

// GeminiClient streams responses from Gemini through the Gemini API or Vertex AI
type GeminiClient struct {
	models      *genai.Models
	modelName   string
	temperature float32
}

// GeminiOptions configures a GeminiClient. An APIKey selects the Gemini API;
// otherwise Project and Location select Vertex AI.
type GeminiOptions struct {
	APIKey      string
	Project     string
	Location    string
	Model       string
	Temperature float64
}

// NewGeminiClient creates a Gemini token source
func NewGeminiClient(ctx context.Context, opts GeminiOptions) (*GeminiClient, error) {
	cc := &genai.ClientConfig{}
	if opts.APIKey != "" {
		cc.APIKey = opts.APIKey
		cc.Backend = genai.BackendGeminiAPI
	} else {
		if opts.Project == "" || opts.Location == "" {
			return nil, fmt.Errorf("gemini needs an API key or a GCP project and location")
		}
		cc.Project = opts.Project
		cc.Location = opts.Location
		cc.Backend = genai.BackendVertexAI
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}

	return &GeminiClient{
		models:      client.Models,
		modelName:   opts.Model,
		temperature: float32(opts.Temperature),
	}, nil
}

// Name identifies the provider in logs
func (g *GeminiClient) Name() string {
	return "gemini"
}

// Stream starts a streaming generation. The returned Stream pulls responses
// from the SDK iterator one at a time.
func (g *GeminiClient) Stream(ctx context.Context, req Request) (Stream, error) {
	contents := buildContents(req.History, req.Query)

	temp := g.temperature
	cfg := &genai.GenerateContentConfig{
		Temperature: &temp,
	}
	if req.SystemPrompt != "" {
		// the SDK examples pass the system instruction with the user role
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	seq := g.models.GenerateContentStream(ctx, g.modelName, contents, cfg)
	return newSeqStream(seq), nil
}

func buildContents(history []types.Message, query string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		role := genai.Role(genai.RoleUser)
		if m.IsBot() {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}
	return append(contents, genai.NewContentFromText(query, genai.RoleUser))
}

// seqStream adapts a push iterator of responses to the pull-based Stream
type seqStream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()
}

func newSeqStream(seq iter.Seq2[*genai.GenerateContentResponse, error]) *seqStream {
	next, stop := iter.Pull2(seq)
	return &seqStream{next: next, stop: stop}
}

// Recv returns the text of the next response that carries any
func (s *seqStream) Recv() (string, error) {
	for {
		resp, err, ok := s.next()
		if !ok {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("gemini stream: %w", err)
		}
		if resp == nil {
			continue
		}
		if text := resp.Text(); text != "" {
			return text, nil
		}
	}
}

func (s *seqStream) Close() error {
	s.stop()
	return nil
}
