package ai_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailmind-app/mailmind/internal/adapter/ai"
	"github.com/mailmind-app/mailmind/internal/domain"
)

type countingEmbedder struct {
	calls int
	texts []string
}

func (c *countingEmbedder) Dimensions() int { return 2 }

func (c *countingEmbedder) Embed(_ domain.Context, texts []string) ([][]float32, error) {
	c.calls++
	c.texts = append(c.texts, texts...)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 0}
	}
	return out, nil
}

func TestEmbedCache_HitsAvoidBaseCalls(t *testing.T) {
	t.Parallel()

	base := &countingEmbedder{}
	cached := ai.NewEmbedCache(base, 10)

	v1, err := cached.Embed(context.Background(), []string{"hello", "world"})
	require.NoError(t, err)
	require.Len(t, v1, 2)
	assert.Equal(t, 1, base.calls)

	// Second call is fully served from cache.
	v2, err := cached.Embed(context.Background(), []string{"hello", "world"})
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, base.calls)

	// Mixed call only forwards the miss.
	_, err = cached.Embed(context.Background(), []string{"hello", "new"})
	require.NoError(t, err)
	assert.Equal(t, 2, base.calls)
	assert.Contains(t, base.texts, "new")
}

func TestEmbedCache_ZeroCapacityPassthrough(t *testing.T) {
	t.Parallel()

	base := &countingEmbedder{}
	assert.Equal(t, domain.Embedder(base), ai.NewEmbedCache(base, 0))
}

func TestEmbedCache_EvictsFIFO(t *testing.T) {
	t.Parallel()

	base := &countingEmbedder{}
	cached := ai.NewEmbedCache(base, 1)

	_, err := cached.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	_, err = cached.Embed(context.Background(), []string{"b"})
	require.NoError(t, err)
	// "a" was evicted by "b".
	_, err = cached.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 3, base.calls)
}
