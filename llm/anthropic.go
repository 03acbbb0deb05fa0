package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5"
	defaultMaxTokens      = 2048
	webSearchMaxUses      = 3
)

// AnthropicProvider generates text with the Messages API.
// anthropic.Client is a value type.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates an Anthropic-backed provider
func NewAnthropicProvider(apiKey, model string) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, errors.New("llm: ANTHROPIC_API_KEY is not set")
	}
	if model == "" {
		model = defaultAnthropicModel
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{client: client, model: model}, nil
}

func (p *AnthropicProvider) params(req Request) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	prompt := req.Prompt
	if req.JSON {
		prompt += "\n\nRespond with JSON only."
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.WebSearch {
		params.Tools = []anthropic.ToolUnionParam{{
			OfWebSearchTool20250305: &anthropic.WebSearchTool20250305Param{
				MaxUses: anthropic.Int(webSearchMaxUses),
			},
		}}
	}
	return params
}

// Complete implements Provider
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (string, error) {
	msg, err := p.client.Messages.New(ctx, p.params(req))
	if err != nil {
		return "", fmt.Errorf("anthropic: messages.new: %w", err)
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.Join(parts, ""), nil
}

// Stream implements Streamer. Web search activity is reported as tool events.
func (p *AnthropicProvider) Stream(ctx context.Context, req Request, fn func(StreamEvent) error) (string, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.params(req))
	defer stream.Close()

	var full strings.Builder
	for stream.Next() {
		var ev *StreamEvent

		switch event := stream.Current().AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			switch event.ContentBlock.Type {
			case "server_tool_use":
				ev = &StreamEvent{Type: EventToolCall, Tool: event.ContentBlock.Name}
			case "web_search_tool_result":
				ev = &StreamEvent{Type: EventToolResult, Tool: "web_search"}
			}
		case anthropic.ContentBlockDeltaEvent:
			if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				full.WriteString(event.Delta.Text)
				ev = &StreamEvent{Type: EventTextDelta, Text: event.Delta.Text}
			}
		}

		if ev != nil {
			if err := fn(*ev); err != nil {
				return "", err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("anthropic: stream: %w", err)
	}

	if full.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return full.String(), nil
}
