package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/threadctx/threadctx/config"
	"github.com/ZanzyTHEbar/threadctx/threadctx/conversation/adapters"
	ports "github.com/ZanzyTHEbar/threadctx/threadctx/conversation/ports"
	"github.com/ZanzyTHEbar/threadctx/threadctx/db"
)

// NewLogger returns a timestamped zerolog logger writing to w at level.
// Unknown levels fall back to info.
func NewLogger(w io.Writer, level string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("component", "conversation").Logger()
}

// Factory creates and wires conversation components from configuration.
type Factory struct {
	cfg        *config.Config
	db         *sql.DB // optional, reused by the libsql backend
	logger     zerolog.Logger
	registerer prometheus.Registerer
	closers    []func() error
}

// NewFactory creates a factory. db may be nil; the libsql backend then
// opens its own connection from cfg.Store.Database.
func NewFactory(cfg *config.Config, conn *sql.DB, logger zerolog.Logger) *Factory {
	return &Factory{
		cfg:        cfg,
		db:         conn,
		logger:     logger,
		registerer: prometheus.DefaultRegisterer,
	}
}

// WithRegisterer sets where metrics are registered.
func (f *Factory) WithRegisterer(reg prometheus.Registerer) *Factory {
	f.registerer = reg
	return f
}

// Settings translates the conversation config section.
func (f *Factory) Settings() Settings {
	c := f.cfg.Conversation
	s := DefaultSettings()
	s.MaxPromptTokens = c.MaxPromptTokens
	s.CompressAfterTokens = c.CompressAfterTokens
	s.KeepRecent = c.KeepRecent
	if c.SystemPrompt != "" {
		s.SystemPrompt = c.SystemPrompt
	}
	if c.SummaryPlaceholder != "" {
		s.SummaryPlaceholder = c.SummaryPlaceholder
	}
	s.MessageOverheadTokens = c.MessageOverheadTokens
	s.MinChunk = c.MinChunk
	s.ChunkFraction = c.ChunkFraction
	s.CompletionTimeout = c.CompletionTimeout
	if c.MaxConcurrentCompaction > 0 {
		s.MaxConcurrentCompactions = c.MaxConcurrentCompaction
	}
	if p := f.cfg.Provider; p.MaxNewTokens > 0 {
		s.Reply.MaxNewTokens = p.MaxNewTokens
	}
	if t := f.cfg.Provider.Temperature; t > 0 {
		s.Reply.Temperature = t
	}
	return s
}

// CreateManager wires a Manager from config. A nil provider is replaced by
// the OpenAI-compatible client described in cfg.Provider.
func (f *Factory) CreateManager(ctx context.Context, provider ports.Provider) (*Manager, error) {
	if provider == nil {
		p, err := f.CreateProvider()
		if err != nil {
			return nil, err
		}
		provider = p
	}

	store, err := f.CreateStore(ctx)
	if err != nil {
		return nil, err
	}
	metrics, err := f.createMetrics()
	if err != nil {
		return nil, err
	}

	return NewManager(store, provider, f.Settings(),
		WithLogger(f.logger),
		WithRateLimiter(f.createRateLimiter()),
		WithTracer(f.createTracer()),
		WithMetrics(metrics),
	)
}

// CreateProvider builds the langchaingo provider from cfg.Provider.
func (f *Factory) CreateProvider() (ports.Provider, error) {
	p := f.cfg.Provider
	return adapters.NewOpenAIProvider(p.BaseURL, p.Model, p.APIKey)
}

// CreateStore builds the configured backend, wrapped in the LRU cache when enabled.
func (f *Factory) CreateStore(ctx context.Context) (ports.ThreadStore, error) {
	sc := f.cfg.Store

	var store ports.ThreadStore
	switch sc.Backend {
	case "memory":
		store = adapters.NewMemoryThreadStore()
	case "libsql":
		conn := f.db
		if conn == nil {
			c, err := db.Connect(ctx, sc.Database, f.logger)
			if err != nil {
				return nil, err
			}
			f.closers = append(f.closers, c.Close)
			conn = c
		}
		if _, err := db.Migrate(ctx, conn); err != nil {
			return nil, err
		}
		store = adapters.NewLibSQLThreadStore(conn)
	case "pebble":
		ps, err := adapters.OpenPebbleThreadStore(sc.PebbleDir, nil)
		if err != nil {
			return nil, err
		}
		f.closers = append(f.closers, ps.Close)
		store = ps
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", config.ErrInvalidStore, sc.Backend)
	}

	if sc.CacheEnabled {
		store = adapters.NewCachedThreadStore(store, adapters.NewLRUCache(sc.CacheCapacity), sc.CacheTTLSeconds)
	}
	f.logger.Info().Str("backend", sc.Backend).Bool("cache", sc.CacheEnabled).Msg("thread store ready")
	return store, nil
}

// Close releases resources the factory opened itself.
func (f *Factory) Close() error {
	var errs []error
	for i := len(f.closers) - 1; i >= 0; i-- {
		errs = append(errs, f.closers[i]())
	}
	f.closers = nil
	return errors.Join(errs...)
}

func (f *Factory) createRateLimiter() ports.RateLimiter {
	p := f.cfg.Provider
	if !p.RateLimitEnabled {
		return &noOpRateLimiter{}
	}
	return adapters.NewTokenBucket(p.RateLimitCapacity, p.RateLimitRefillRate)
}

func (f *Factory) createTracer() ports.Tracer {
	if !f.cfg.Telemetry.EnableTracing {
		return &noOpTracer{}
	}
	return adapters.NewZerologTracer(f.logger)
}

func (f *Factory) createMetrics() (ports.Metrics, error) {
	if !f.cfg.Telemetry.EnableMetrics {
		return &noOpMetrics{}, nil
	}
	return adapters.NewPrometheusMetrics(f.registerer)
}

// noOpRateLimiter admits every call.
type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

// noOpTracer implements Tracer with no-op behavior.
type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

type noOpMetrics struct{}

func (noOpMetrics) ObserveTurn(time.Duration, error)           {}
func (noOpMetrics) ObserveCompaction(int, time.Duration, error) {}
func (noOpMetrics) ObservePrompt(int, int)                      {}

var (
	_ ports.RateLimiter = (*noOpRateLimiter)(nil)
	_ ports.Tracer      = (*noOpTracer)(nil)
	_ ports.Metrics     = (*noOpMetrics)(nil)
)
