// Package llm wraps the text-generation and embedding backends behind small
// interfaces so the reasoning pipelines do not depend on a vendor SDK.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResponse is returned when a backend answers without any text
var ErrEmptyResponse = errors.New("llm: response contained no text")

// Request is a single generation call
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	// JSON asks the backend for a bare JSON document where it supports it
	JSON bool
	// WebSearch enables the backend's supplementary web search tool
	WebSearch bool
}

// Provider generates text
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// StreamEventType discriminates stream events
type StreamEventType string

const (
	EventTextDelta  StreamEventType = "text-delta"
	EventToolCall   StreamEventType = "tool-call"
	EventToolResult StreamEventType = "tool-result"
)

// StreamEvent is one item of a generation stream
type StreamEvent struct {
	Type StreamEventType
	Text string
	Tool string
}

// Streamer is a Provider that can deliver partial output. Stream returns the
// full generated text once the stream ends.
type Streamer interface {
	Provider
	Stream(ctx context.Context, req Request, fn func(StreamEvent) error) (string, error)
}

// Embedder turns text into a vector for similarity search
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config selects and tunes a backend
type Config struct {
	Provider       string
	Model          string
	EmbeddingModel string
	APIKey         string
	// EmbeddingAPIKey is the Gemini key used for embeddings when the
	// generation provider is another vendor. Defaults to APIKey.
	EmbeddingAPIKey string
	BaseURL         string
	// RequestsPerSecond enables a process-wide limiter when positive
	RequestsPerSecond float64
	Burst             int
}

// NewProvider is the factory used by the server and CLIs. Tests may replace it.
var NewProvider func(ctx context.Context, cfg Config) (Provider, error) = defaultNewProvider

// NewEmbedder is the embedding factory. Tests may replace it.
var NewEmbedder func(ctx context.Context, cfg Config) (Embedder, error) = defaultNewEmbedder

func defaultNewProvider(ctx context.Context, cfg Config) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "google", "gemini", "":
		p, err = NewGoogleProvider(ctx, cfg.APIKey, cfg.Model)
	case "anthropic":
		p, err = NewAnthropicProvider(cfg.APIKey, cfg.Model)
	case "openai":
		p, err = NewOpenAIProvider(cfg.APIKey, cfg.Model)
	case "ollama":
		p, err = NewOllamaProvider(cfg.BaseURL, cfg.Model)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RequestsPerSecond > 0 {
		p = WithRateLimit(p, cfg.RequestsPerSecond, cfg.Burst)
	}
	return p, nil
}

func defaultNewEmbedder(ctx context.Context, cfg Config) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "ollama":
		return NewOllamaEmbedder(cfg.BaseURL, cfg.EmbeddingModel)
	default:
		// anthropic and openai deployments still embed with Gemini
		key := cfg.EmbeddingAPIKey
		if key == "" {
			key = cfg.APIKey
		}
		return NewGoogleEmbedder(ctx, key, cfg.EmbeddingModel)
	}
}

// StreamOrComplete streams when p supports it. Otherwise it completes and
// reports the whole answer as a single text delta.
func StreamOrComplete(ctx context.Context, p Provider, req Request, fn func(StreamEvent) error) (string, error) {
	if s, ok := p.(Streamer); ok {
		return s.Stream(ctx, req, fn)
	}

	text, err := p.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if err := fn(StreamEvent{Type: EventTextDelta, Text: text}); err != nil {
		return "", err
	}
	return text, nil
}
