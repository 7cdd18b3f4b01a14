package conversation

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/threadctx/threadctx/config"
	"github.com/ZanzyTHEbar/threadctx/threadctx/conversation/adapters"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Conversation: config.ConversationConfig{
			MaxPromptTokens:         6000,
			CompressAfterTokens:     4000,
			KeepRecent:              8,
			SystemPrompt:            "You are terse.",
			MinChunk:                6,
			ChunkFraction:           0.25,
			MessageOverheadTokens:   4,
			SummaryPlaceholder:      "(none yet)",
			CompletionTimeout:       5 * time.Second,
			MaxConcurrentCompaction: 3,
		},
		Store: config.StoreConfig{
			Backend:         backend,
			Database:        config.DatabaseConfig{DSN: filepath.Join(dir, "threads.db"), Type: "libsql"},
			PebbleDir:       filepath.Join(dir, "pebble"),
			CacheEnabled:    true,
			CacheCapacity:   16,
			CacheTTLSeconds: 60,
		},
		Provider: config.ProviderConfig{
			MaxNewTokens:        256,
			Temperature:         0.3,
			RateLimitEnabled:    true,
			RateLimitCapacity:   100,
			RateLimitRefillRate: time.Second,
		},
		Telemetry: config.TelemetryConfig{LogLevel: "debug", EnableTracing: true, EnableMetrics: true},
	}
}

func TestFactory_Settings(t *testing.T) {
	f := NewFactory(testConfig(t, "memory"), nil, zerolog.Nop())
	s := f.Settings()

	assert.Equal(t, 6000, s.MaxPromptTokens)
	assert.Equal(t, "You are terse.", s.SystemPrompt)
	assert.Equal(t, 3, s.MaxConcurrentCompactions)
	assert.Equal(t, 256, s.Reply.MaxNewTokens)
	assert.InDelta(t, 0.3, s.Reply.Temperature, 1e-6)
	assert.NoError(t, s.validate())
}

func TestFactory_CreateManagerPerBackend(t *testing.T) {
	for _, backend := range []string{"memory", "libsql", "pebble"} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			reg := prometheus.NewRegistry()
			f := NewFactory(testConfig(t, backend), nil, zerolog.Nop()).WithRegisterer(reg)
			defer func() { assert.NoError(t, f.Close()) }()

			m, err := f.CreateManager(ctx, &StubProvider{})
			require.NoError(t, err)

			id, err := m.InitThread(ctx, "")
			require.NoError(t, err)
			reply, err := m.Generate(ctx, id, "ping")
			require.NoError(t, err)
			assert.Equal(t, "echo: ping", reply)

			view, err := m.GetThreadView(ctx, id)
			require.NoError(t, err)
			assert.Len(t, view.Messages, 2)

			_, ok := m.store.(*adapters.CachedThreadStore)
			assert.True(t, ok, "cache wraps the backend")

			for _, name := range []string{"threadctx_turns_total", "threadctx_prompt_tokens"} {
				count, err := testutil.GatherAndCount(reg, name)
				require.NoError(t, err)
				assert.Equal(t, 1, count, name)
			}
		})
	}
}

func TestFactory_UnknownBackend(t *testing.T) {
	f := NewFactory(testConfig(t, "cassandra"), nil, zerolog.Nop())
	_, err := f.CreateStore(context.Background())
	assert.ErrorIs(t, err, config.ErrInvalidStore)
}

func TestFactory_DisabledTelemetryUsesNoOps(t *testing.T) {
	cfg := testConfig(t, "memory")
	cfg.Telemetry = config.TelemetryConfig{}
	cfg.Provider.RateLimitEnabled = false
	f := NewFactory(cfg, nil, zerolog.Nop())

	assert.IsType(t, &noOpTracer{}, f.createTracer())
	assert.IsType(t, &noOpRateLimiter{}, f.createRateLimiter())
	m, err := f.createMetrics()
	require.NoError(t, err)
	assert.IsType(t, &noOpMetrics{}, m)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "warn")
	l.Info().Msg("hidden")
	l.Warn().Str("thread_id", "T").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"thread_id":"T"`)
	assert.Contains(t, out, `"component":"conversation"`)

	assert.Equal(t, zerolog.InfoLevel, NewLogger(&buf, "bogus").GetLevel())
}
