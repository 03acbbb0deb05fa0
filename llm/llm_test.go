package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type annotation struct {
	SegmentIndex int    `json:"segment_index"`
	Issue        string `json:"issue"`
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"bare", `[{"segment_index": 2, "issue": "missing cover"}]`},
		{"fenced", "```json\n[{\"segment_index\": 2, \"issue\": \"missing cover\"}]\n```"},
		{"truncated fence", "```json\n[{\"segment_index\": 2, \"issue\": \"missing cover\"}]"},
		{"surrounding prose", "Here are the findings:\n[{\"segment_index\": 2, \"issue\": \"missing cover\"}]\nLet me know."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out []annotation
			require.NoError(t, DecodeJSON(tt.raw, &out))
			require.Len(t, out, 1)
			assert.Equal(t, 2, out[0].SegmentIndex)
			assert.Equal(t, "missing cover", out[0].Issue)
		})
	}
}

func TestDecodeJSON_InvalidEscapes(t *testing.T) {
	var out map[string]string
	require.NoError(t, DecodeJSON(`{"pattern": "\d+mm"}`, &out))
	assert.Equal(t, `\d+mm`, out["pattern"])
}

func TestDecodeJSON_Garbage(t *testing.T) {
	var out map[string]any
	assert.Error(t, DecodeJSON("not json at all", &out))
	assert.Error(t, DecodeJSON("   ", &out))
}

func TestStripMarkdownFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripMarkdownFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripMarkdownFences("~~~json\n{\"a\":1}\n~~~"))
	assert.Equal(t, `{"a":1}`, StripMarkdownFences(`  {"a":1}  `))
}

type staticProvider struct {
	text  string
	err   error
	calls int
}

func (p *staticProvider) Complete(_ context.Context, _ Request) (string, error) {
	p.calls++
	return p.text, p.err
}

func TestStreamOrComplete_FallsBackToSingleDelta(t *testing.T) {
	p := &staticProvider{text: "hello"}

	var events []StreamEvent
	text, err := StreamOrComplete(context.Background(), p, Request{Prompt: "hi"}, func(ev StreamEvent) error {
		events = append(events, ev)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	require.Len(t, events, 1)
	assert.Equal(t, EventTextDelta, events[0].Type)
	assert.Equal(t, "hello", events[0].Text)
}

func TestStreamOrComplete_PropagatesError(t *testing.T) {
	p := &staticProvider{err: errors.New("boom")}
	_, err := StreamOrComplete(context.Background(), p, Request{}, func(StreamEvent) error { return nil })
	assert.EqualError(t, err, "boom")
}

func TestWithRateLimit(t *testing.T) {
	p := &staticProvider{text: "ok"}
	limited := WithRateLimit(p, 1000, 2)

	for i := 0; i < 3; i++ {
		text, err := limited.Complete(context.Background(), Request{})
		require.NoError(t, err)
		assert.Equal(t, "ok", text)
	}
	assert.Equal(t, 3, p.calls)

	_, isStreamer := limited.(Streamer)
	assert.True(t, isStreamer)
}

func TestWithRateLimit_HonoursContext(t *testing.T) {
	p := &staticProvider{text: "ok"}
	limited := WithRateLimit(p, 0.001, 1)

	_, err := limited.Complete(context.Background(), Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = limited.Complete(ctx, Request{})
	assert.Error(t, err)
	assert.Equal(t, 1, p.calls)
}

func TestNewProvider_UnknownBackend(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Provider: "mystery"})
	assert.Error(t, err)
}
