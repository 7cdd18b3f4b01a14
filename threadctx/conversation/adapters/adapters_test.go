package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache_BasicOperations(t *testing.T) {
	cache := NewLRUCache(2)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "key1", []byte("value1"), 3600))
	value, ok := cache.Get(ctx, "key1")
	assert.True(t, ok)
	assert.Equal(t, []byte("value1"), value)

	require.NoError(t, cache.Set(ctx, "key2", []byte("value2"), 3600))
	// key1 was read more recently than key2, so key2 is evicted next.
	_, _ = cache.Get(ctx, "key1")
	require.NoError(t, cache.Set(ctx, "key3", []byte("value3"), 3600))

	_, ok = cache.Get(ctx, "key2")
	assert.False(t, ok)
	_, ok = cache.Get(ctx, "key1")
	assert.True(t, ok)
	_, ok = cache.Get(ctx, "key3")
	assert.True(t, ok)
	assert.Equal(t, 2, cache.Len())

	require.NoError(t, cache.Delete(ctx, "key1"))
	_, ok = cache.Get(ctx, "key1")
	assert.False(t, ok)
	require.NoError(t, cache.Delete(ctx, "never-set"))
}

func TestLRUCache_TTL(t *testing.T) {
	cache := NewLRUCache(4)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "short", []byte("a"), 10))
	require.NoError(t, cache.Set(ctx, "forever", []byte("b"), 0))

	now = now.Add(11 * time.Second)
	_, ok := cache.Get(ctx, "short")
	assert.False(t, ok)
	_, ok = cache.Get(ctx, "forever")
	assert.True(t, ok)
	assert.Equal(t, 1, cache.Len())
}

func TestLRUCache_ValuesAreCopied(t *testing.T) {
	cache := NewLRUCache(2)
	ctx := context.Background()
	src := []byte("abc")
	require.NoError(t, cache.Set(ctx, "k", src, 60))
	src[0] = 'X'

	got, _ := cache.Get(ctx, "k")
	assert.Equal(t, "abc", string(got))
	got[1] = 'Y'
	again, _ := cache.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestTokenBucket_BasicRateLimiting(t *testing.T) {
	limiter := NewTokenBucket(2, time.Second)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		release, err := limiter.Acquire(ctx, "reply")
		require.NoError(t, err)
		release()
	}

	_, err := limiter.Acquire(ctx, "reply")
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, "reply", rl.Key)
	assert.Equal(t, time.Second, rl.RetryAfter)
	assert.Contains(t, err.Error(), "rate limit exceeded")

	// Keys have independent buckets.
	_, err = limiter.Acquire(ctx, "summarize")
	assert.NoError(t, err)

	now = now.Add(1500 * time.Millisecond)
	_, err = limiter.Acquire(ctx, "reply")
	assert.NoError(t, err)
	_, err = limiter.Acquire(ctx, "reply")
	assert.Error(t, err)
}

func TestTokenBucket_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewTokenBucket(1, time.Second).Acquire(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestZerologTracer(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewZerologTracer(zerolog.New(&buf).Level(zerolog.DebugLevel))

	ctx, finish := tracer.StartSpan(context.Background(), "generate", map[string]any{"thread_id": "T"})
	tracer.Event(ctx, "recent_window_truncated", map[string]any{"selected": 3})
	finish(errors.New("provider down"))
	tracer.Event(context.Background(), "orphan", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], `"event":"span_start"`)
	assert.Contains(t, lines[1], `"event":"recent_window_truncated"`)
	assert.Contains(t, lines[1], `"span":"generate"`)
	assert.Contains(t, lines[1], `"thread_id":"T"`)
	assert.Contains(t, lines[2], `"level":"error"`)
	assert.Contains(t, lines[2], "provider down")
	assert.NotContains(t, lines[3], `"span"`)
}

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPrometheusMetrics(reg)
	require.NoError(t, err)

	m.ObserveTurn(120*time.Millisecond, nil)
	m.ObserveTurn(80*time.Millisecond, errors.New("x"))
	m.ObserveTurn(10*time.Millisecond, nil)
	m.ObserveCompaction(6, time.Second, nil)
	m.ObserveCompaction(0, time.Second, errors.New("x"))
	m.ObservePrompt(812, 9)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.turns.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turns.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.compactions.WithLabelValues("error")))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.compactedMessages))

	_, err = NewPrometheusMetrics(reg)
	assert.Error(t, err, "collectors cannot be registered twice")
}

func BenchmarkLRUCache_SetGet(b *testing.B) {
	cache := NewLRUCache(1000)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("key-%d", i)
		_ = cache.Set(ctx, key, []byte("value"), 3600)
		cache.Get(ctx, key)
	}
}
