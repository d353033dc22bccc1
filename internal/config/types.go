package config

import (
	"time"

	"aidesk/internal/observability"
)

// Config is the effective configuration of every aidesk command.
type Config struct {
	Orchestrator OrchestratorConfig          `mapstructure:"orchestrator" yaml:"orchestrator"`
	Stream       StreamConfig                `mapstructure:"stream" yaml:"stream"`
	Server       ServerConfig                `mapstructure:"server" yaml:"server"`
	Compute      ComputeConfig               `mapstructure:"compute" yaml:"compute"`
	Store        StoreConfig                 `mapstructure:"store" yaml:"store"`
	Log          LogConfig                   `mapstructure:"log" yaml:"log"`
	Tracing      observability.TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

// OrchestratorConfig drives the client-side report session.
type OrchestratorConfig struct {
	// BaseURL of the orchestration API, without the /orchestrate prefix.
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	CancelFallback    time.Duration `mapstructure:"cancel_fallback" yaml:"cancel_fallback"`
	CleanupGrace      time.Duration `mapstructure:"cleanup_grace" yaml:"cleanup_grace"`
	CancelButtonDelay time.Duration `mapstructure:"cancel_button_delay" yaml:"cancel_button_delay"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// StreamConfig drives the chat client.
type StreamConfig struct {
	URL                  string        `mapstructure:"url" yaml:"url"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	UserID               string        `mapstructure:"user_id" yaml:"user_id"`
}

// ServerConfig drives `aidesk serve`.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	GeneratedDir    string        `mapstructure:"generated_dir" yaml:"generated_dir"`
	CleanupDuration time.Duration `mapstructure:"cleanup_duration" yaml:"cleanup_duration"`
	TaskRetention   time.Duration `mapstructure:"task_retention" yaml:"task_retention"`
	ChunkSize       int           `mapstructure:"chunk_size" yaml:"chunk_size"`
	ChunkDelay      time.Duration `mapstructure:"chunk_delay" yaml:"chunk_delay"`
	SeedDemo        bool          `mapstructure:"seed_demo" yaml:"seed_demo"`
}

// ComputeConfig points at the completion endpoint.
type ComputeConfig struct {
	URL         string        `mapstructure:"url" yaml:"url"`
	Model       string        `mapstructure:"model" yaml:"model"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// StoreConfig locates the ERP database.
type StoreConfig struct {
	DSN       string        `mapstructure:"dsn" yaml:"dsn"`
	CacheSize int           `mapstructure:"cache_size" yaml:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// LogConfig sets the component logger threshold.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}
