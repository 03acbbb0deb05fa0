package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const (
	defaultGeminiModel     = "gemini-2.5-flash"
	defaultGeminiEmbedding = "text-embedding-004"
)

// GoogleProvider generates text with Gemini
type GoogleProvider struct {
	client *genai.Client
	model  string
}

// NewGoogleProvider creates a Gemini-backed provider
func NewGoogleProvider(ctx context.Context, apiKey, model string) (*GoogleProvider, error) {
	client, err := newGeminiClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return NewGoogleProviderFromClient(client, model), nil
}

// NewGoogleProviderFromClient wraps an existing Gemini client
func NewGoogleProviderFromClient(client *genai.Client, model string) *GoogleProvider {
	if model == "" {
		model = defaultGeminiModel
	}
	return &GoogleProvider{client: client, model: model}
}

func newGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, errors.New("llm: GEMINI_API_KEY is not set")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("google: genai client: %w", err)
	}
	return client, nil
}

func (p *GoogleProvider) generativeModel(req Request) *genai.GenerativeModel {
	m := p.client.GenerativeModel(p.model)
	if req.System != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	if req.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	m.SetTemperature(float32(req.Temperature))
	if req.JSON {
		m.ResponseMIMEType = "application/json"
	}
	return m
}

// Complete implements Provider
func (p *GoogleProvider) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := p.generativeModel(req).GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", fmt.Errorf("google: generate content: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Stream implements Streamer
func (p *GoogleProvider) Stream(ctx context.Context, req Request, fn func(StreamEvent) error) (string, error) {
	iter := p.generativeModel(req).GenerateContentStream(ctx, genai.Text(req.Prompt))

	var full strings.Builder
	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return "", fmt.Errorf("google: stream content: %w", err)
		}

		delta := responseText(resp)
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if err := fn(StreamEvent{Type: EventTextDelta, Text: delta}); err != nil {
			return "", err
		}
	}

	if full.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return full.String(), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
	}
	return sb.String()
}

// GoogleEmbedder embeds text with a Gemini embedding model
type GoogleEmbedder struct {
	client *genai.Client
	model  string
}

// NewGoogleEmbedder creates a Gemini-backed embedder
func NewGoogleEmbedder(ctx context.Context, apiKey, model string) (*GoogleEmbedder, error) {
	client, err := newGeminiClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return NewGoogleEmbedderFromClient(client, model), nil
}

// NewGoogleEmbedderFromClient wraps an existing Gemini client
func NewGoogleEmbedderFromClient(client *genai.Client, model string) *GoogleEmbedder {
	if model == "" {
		model = defaultGeminiEmbedding
	}
	return &GoogleEmbedder{client: client, model: model}
}

// Embed implements Embedder
func (e *GoogleEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := e.client.EmbeddingModel(e.model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("google: embed content: %w", err)
	}
	if res == nil || res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, errors.New("google: empty embedding")
	}
	return res.Embedding.Values, nil
}
