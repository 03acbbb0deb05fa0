package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls int
	err   error
}

func (e *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)), 0.5, -1.25}, nil
}

func newTestCache(t *testing.T, next Embedder, namespace string) *CachedEmbedder {
	t.Helper()
	c, err := NewCachedEmbedder(next, CacheConfig{InMemory: true, Namespace: namespace})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCachedEmbedder_Memoizes(t *testing.T) {
	inner := &countingEmbedder{}
	c := newTestCache(t, inner, "text-embedding-004")
	ctx := context.Background()

	first, err := c.Embed(ctx, "minimum cover 45mm")
	require.NoError(t, err)
	second, err := c.Embed(ctx, "minimum cover 45mm")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []float32{18, 0.5, -1.25}, second)
	assert.Equal(t, 1, inner.calls)

	_, err = c.Embed(ctx, "different text")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedEmbedder_ErrorsAreNotCached(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("quota exceeded")}
	c := newTestCache(t, inner, "m")

	_, err := c.Embed(context.Background(), "x")
	require.Error(t, err)

	inner.err = nil
	vec, err := c.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedEmbedder_NamespacesAreSeparate(t *testing.T) {
	inner := &countingEmbedder{}
	a := newTestCache(t, inner, "model-a")

	_, err := a.Embed(context.Background(), "same")
	require.NoError(t, err)
	assert.NotEqual(t, a.key("same"), (&CachedEmbedder{prefix: "emb:model-b:"}).key("same"))
}

func TestNewCachedEmbedder_Validation(t *testing.T) {
	_, err := NewCachedEmbedder(nil, CacheConfig{InMemory: true})
	assert.Error(t, err)

	_, err = NewCachedEmbedder(&countingEmbedder{}, CacheConfig{})
	assert.Error(t, err)
}

func TestVectorCodec(t *testing.T) {
	vec := []float32{1, -2.5, 3.14159}
	got, err := decodeVector(encodeVector(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
