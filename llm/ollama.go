package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

const (
	defaultOllamaURL       = "http://localhost:11434"
	defaultOllamaModel     = "mistral"
	defaultOllamaEmbedding = "nomic-embed-text:latest"
)

// OllamaProvider generates text with a local Ollama server through langchaingo
type OllamaProvider struct {
	text *ollama.LLM
	json *ollama.LLM
}

// NewOllamaProvider creates an Ollama-backed provider
func NewOllamaProvider(baseURL, model string) (*OllamaProvider, error) {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if model == "" {
		model = defaultOllamaModel
	}

	text, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(baseURL))
	if err != nil {
		return nil, fmt.Errorf("ollama: init: %w", err)
	}
	jsonLLM, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(baseURL), ollama.WithFormat("json"))
	if err != nil {
		return nil, fmt.Errorf("ollama: init json: %w", err)
	}
	return &OllamaProvider{text: text, json: jsonLLM}, nil
}

func (p *OllamaProvider) generate(ctx context.Context, req Request, extra ...llms.CallOption) (string, error) {
	content := []llms.MessageContent{}
	if req.System != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	content = append(content, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	opts = append(opts, extra...)

	model := p.text
	if req.JSON {
		model = p.json
	}

	resp, err := model.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", fmt.Errorf("ollama: generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

// Complete implements Provider
func (p *OllamaProvider) Complete(ctx context.Context, req Request) (string, error) {
	return p.generate(ctx, req)
}

// Stream implements Streamer
func (p *OllamaProvider) Stream(ctx context.Context, req Request, fn func(StreamEvent) error) (string, error) {
	return p.generate(ctx, req, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		return fn(StreamEvent{Type: EventTextDelta, Text: string(chunk)})
	}))
}

// OllamaEmbedder embeds text with a local Ollama embedding model
type OllamaEmbedder struct {
	llm *ollama.LLM
}

// NewOllamaEmbedder creates an Ollama-backed embedder
func NewOllamaEmbedder(baseURL, model string) (*OllamaEmbedder, error) {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if model == "" {
		model = defaultOllamaEmbedding
	}
	emb, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(baseURL))
	if err != nil {
		return nil, fmt.Errorf("ollama: init embedder: %w", err)
	}
	return &OllamaEmbedder{llm: emb}, nil
}

// Embed implements Embedder
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.llm.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama: create embedding: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, errors.New("ollama: empty embedding")
	}
	return vectors[0], nil
}
