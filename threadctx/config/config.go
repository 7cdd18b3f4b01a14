package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/threadctx/threadctx"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Conversation ConversationConfig `mapstructure:"conversation"`
	Store        StoreConfig        `mapstructure:"store"`
	Provider     ProviderConfig     `mapstructure:"provider"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// ConversationConfig stores the context budget and compaction policy.
type ConversationConfig struct {
	MaxPromptTokens         int           `mapstructure:"max_prompt_tokens"`         // Per-turn prompt budget
	CompressAfterTokens     int           `mapstructure:"compress_after_tokens"`     // Compaction trigger, must be < MaxPromptTokens
	KeepRecent              int           `mapstructure:"keep_recent"`               // Size of the always-attempted recent window
	SystemPrompt            string        `mapstructure:"system_prompt"`             // Behavioral preamble for every turn
	MinChunk                int           `mapstructure:"min_chunk"`                 // Minimum messages removed per compaction
	ChunkFraction           float64       `mapstructure:"chunk_fraction"`            // Fraction of history removed per compaction
	MessageOverheadTokens   int           `mapstructure:"message_overhead_tokens"`   // Role/framing cost added per message
	SummaryPlaceholder      string        `mapstructure:"summary_placeholder"`       // Rendered when no summary exists yet
	CompletionTimeout       time.Duration `mapstructure:"completion_timeout"`        // Deadline for a single completion call
	MaxConcurrentCompaction int           `mapstructure:"max_concurrent_compaction"` // Pool size for multi-thread sweeps
}

// DatabaseConfig stores database connection details.
type DatabaseConfig struct {
	DSN       string `mapstructure:"dsn"`
	Type      string `mapstructure:"type"`
	AuthToken string `mapstructure:"auth_token"` // Remote libsql only
}

// StoreConfig selects and tunes the thread store backend.
type StoreConfig struct {
	Backend         string         `mapstructure:"backend"` // "memory", "libsql", "pebble"
	Database        DatabaseConfig `mapstructure:"database"`
	PebbleDir       string         `mapstructure:"pebble_dir"`
	CacheEnabled    bool           `mapstructure:"cache_enabled"`     // Read-through LRU in front of the backend
	CacheCapacity   int            `mapstructure:"cache_capacity"`    // LRU capacity in threads
	CacheTTLSeconds int            `mapstructure:"cache_ttl_seconds"` // Cache entry TTL
}

// ProviderConfig stores completion service settings.
type ProviderConfig struct {
	BaseURL      string  `mapstructure:"base_url"`       // OpenAI-compatible endpoint
	Model        string  `mapstructure:"model"`          // Model identifier
	APIKey       string  `mapstructure:"api_key"`        // Usually supplied via .env / PROVIDER_API_KEY
	MaxNewTokens int     `mapstructure:"max_new_tokens"` // Max tokens to generate
	Temperature  float32 `mapstructure:"temperature"`    // Sampling temperature

	// Rate limiting
	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled"`
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity"`
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate"`
}

// TelemetryConfig stores logging, tracing and metrics switches.
type TelemetryConfig struct {
	LogLevel      string `mapstructure:"log_level"`
	EnableTracing bool   `mapstructure:"enable_tracing"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
}

var (
	ErrInvalidBudget     = errors.New("invalid conversation budget")
	ErrInvalidCompaction = errors.New("invalid compaction policy")
	ErrInvalidStore      = errors.New("invalid store configuration")
)

// Validate checks cross-field constraints that viper defaults cannot express.
func (c *Config) Validate() error {
	conv := c.Conversation
	if conv.MaxPromptTokens <= 0 {
		return fmt.Errorf("%w: max_prompt_tokens must be positive, got %d", ErrInvalidBudget, conv.MaxPromptTokens)
	}
	if conv.CompressAfterTokens <= 0 || conv.CompressAfterTokens >= conv.MaxPromptTokens {
		return fmt.Errorf("%w: compress_after_tokens (%d) must be in (0, max_prompt_tokens=%d)",
			ErrInvalidBudget, conv.CompressAfterTokens, conv.MaxPromptTokens)
	}
	if conv.KeepRecent < 1 {
		return fmt.Errorf("%w: keep_recent must be at least 1, got %d", ErrInvalidBudget, conv.KeepRecent)
	}
	if conv.MessageOverheadTokens < 0 {
		return fmt.Errorf("%w: message_overhead_tokens cannot be negative", ErrInvalidBudget)
	}
	if conv.MinChunk < 1 {
		return fmt.Errorf("%w: min_chunk must be at least 1, got %d", ErrInvalidCompaction, conv.MinChunk)
	}
	if conv.ChunkFraction <= 0 || conv.ChunkFraction > 1 {
		return fmt.Errorf("%w: chunk_fraction must be in (0, 1], got %v", ErrInvalidCompaction, conv.ChunkFraction)
	}

	switch c.Store.Backend {
	case "memory":
	case "libsql":
		if c.Store.Database.DSN == "" {
			return fmt.Errorf("%w: libsql backend requires store.database.dsn", ErrInvalidStore)
		}
	case "pebble":
		if c.Store.PebbleDir == "" {
			return fmt.Errorf("%w: pebble backend requires store.pebble_dir", ErrInvalidStore)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidStore, c.Store.Backend)
	}
	if c.Store.CacheEnabled && c.Store.CacheCapacity < 1 {
		return fmt.Errorf("%w: cache_capacity must be at least 1 when caching is enabled", ErrInvalidStore)
	}
	return nil
}

// LoadConfig reads configuration from file or environment variables.
// A .env file in the working directory, if present, is loaded first so that
// secrets such as PROVIDER_API_KEY can live outside the yaml file.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file on the search path; defaults and env apply.
	}

	return decode(v)
}

// Watch loads the config file at configPath and invokes onChange with the
// re-decoded configuration every time the file is written or recreated.
// Reload errors (including validation failures) are passed to onChange with
// a nil config; the previous configuration stays in effect.
func Watch(configPath string, onChange func(*Config, error)) (*Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("watch requires an explicit config path")
	}

	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(decode(v))
	})
	v.WatchConfig()

	return cfg, nil
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Conversation defaults
	v.SetDefault("conversation.max_prompt_tokens", 6000)
	v.SetDefault("conversation.compress_after_tokens", 4000)
	v.SetDefault("conversation.keep_recent", 8)
	v.SetDefault("conversation.system_prompt", "You are a helpful assistant. Use the conversation summary as established context.")
	v.SetDefault("conversation.min_chunk", 6)
	v.SetDefault("conversation.chunk_fraction", 0.25)
	v.SetDefault("conversation.message_overhead_tokens", 4)
	v.SetDefault("conversation.summary_placeholder", "(none yet)")
	v.SetDefault("conversation.completion_timeout", "60s")
	v.SetDefault("conversation.max_concurrent_compaction", 4)

	// Store defaults
	v.SetDefault("store.backend", "libsql")
	v.SetDefault("store.database.dsn", internal.DefaultDatabaseDSN)
	v.SetDefault("store.database.type", internal.DefaultDatabaseType)
	v.SetDefault("store.database.auth_token", "")
	v.SetDefault("store.pebble_dir", internal.DefaultPebbleDir)
	v.SetDefault("store.cache_enabled", true)
	v.SetDefault("store.cache_capacity", 1000)
	v.SetDefault("store.cache_ttl_seconds", 3600) // 1 hour

	// Provider defaults
	v.SetDefault("provider.base_url", "https://api.openai.com/v1")
	v.SetDefault("provider.model", "gpt-4o-mini")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.max_new_tokens", 1024)
	v.SetDefault("provider.temperature", 0.3)
	v.SetDefault("provider.rate_limit_enabled", true)
	v.SetDefault("provider.rate_limit_capacity", 10)
	v.SetDefault("provider.rate_limit_refill_rate", "1s")

	// Telemetry defaults
	v.SetDefault("telemetry.log_level", "info")
	v.SetDefault("telemetry.enable_tracing", true)
	v.SetDefault("telemetry.enable_metrics", true)

	v.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. provider.api_key becomes PROVIDER_API_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
