package embedding

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls atomic.Int32
	model string
}

func (c *countingEmbedder) Embed(_ context.Context, text string) (Vector, error) {
	c.calls.Add(1)
	v := make(Vector, 4)
	v[len(text)%4] = 1
	return v, nil
}

func (c *countingEmbedder) Dimension() int  { return 4 }
func (c *countingEmbedder) ModelID() string { return c.model }

func TestCached_Embed(t *testing.T) {
	t.Run("Should serve repeated text from the local tier", func(t *testing.T) {
		next := &countingEmbedder{model: "m1"}
		cached, err := NewCached(next, 8, nil)
		require.NoError(t, err)
		first, err := cached.Embed(t.Context(), "drill")
		require.NoError(t, err)
		first[0] = 42
		second, err := cached.Embed(t.Context(), "drill")
		require.NoError(t, err)
		assert.Equal(t, int32(1), next.calls.Load())
		assert.NotEqual(t, float32(42), second[0])
	})

	t.Run("Should share vectors through Redis across instances", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		remote := NewRedisCache(client, "test:", time.Hour)

		nextA := &countingEmbedder{model: "m1"}
		a, err := NewCached(nextA, 0, remote)
		require.NoError(t, err)
		want, err := a.Embed(t.Context(), "saw")
		require.NoError(t, err)

		nextB := &countingEmbedder{model: "m1"}
		b, err := NewCached(nextB, 8, remote)
		require.NoError(t, err)
		got, err := b.Embed(t.Context(), "saw")
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Zero(t, nextB.calls.Load())
		assert.True(t, mr.Exists("test:"+CacheKey("m1", "saw")))
		assert.Equal(t, time.Hour, mr.TTL("test:"+CacheKey("m1", "saw")))
	})

	t.Run("Should not share entries across models", func(t *testing.T) {
		assert.NotEqual(t, CacheKey("m1", "saw"), CacheKey("m2", "saw"))
	})

	t.Run("Should fall through when Redis is unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
		t.Cleanup(func() { _ = client.Close() })
		mr.Close()
		next := &countingEmbedder{model: "m1"}
		cached, err := NewCached(next, 0, NewRedisCache(client, "test:", time.Minute))
		require.NoError(t, err)
		_, err = cached.Embed(t.Context(), "saw")
		require.NoError(t, err)
		assert.Equal(t, int32(1), next.calls.Load())
	})
}
