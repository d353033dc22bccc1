package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment override, e.g. AIDESK_SERVER_ADDR.
	EnvPrefix      = "AIDESK"
	configName     = "aidesk"
	configType     = "yaml"
	defaultHomeDir = ".aidesk"
)

// defaults are the built-in values for every key.
var defaults = map[string]any{
	"orchestrator.base_url":            "http://localhost:8009",
	"orchestrator.poll_interval":       2 * time.Second,
	"orchestrator.cancel_fallback":     15 * time.Second,
	"orchestrator.cleanup_grace":       20 * time.Second,
	"orchestrator.cancel_button_delay": 5 * time.Second,
	"orchestrator.request_timeout":     30 * time.Second,

	"stream.url":                    "ws://localhost:8009/ws",
	"stream.max_reconnect_attempts": 5,
	"stream.reconnect_delay":        time.Second,
	"stream.user_id":                "demo-user",

	"server.addr":             ":8009",
	"server.allowed_origins":  []string{"http://localhost:5173"},
	"server.generated_dir":    "./generated",
	"server.cleanup_duration": 20 * time.Second,
	"server.task_retention":   time.Hour,
	"server.chunk_size":       36,
	"server.chunk_delay":      20 * time.Millisecond,
	"server.seed_demo":        true,

	"compute.url":         "http://localhost:8000/v1/completions",
	"compute.model":       "mistral",
	"compute.max_tokens":  800,
	"compute.temperature": 0.2,
	"compute.timeout":     6 * time.Minute,

	"store.dsn":        "aidesk.db",
	"store.cache_size": 128,
	"store.cache_ttl":  5 * time.Minute,

	"log.level": "info",

	"tracing.enabled":         false,
	"tracing.otlp_endpoint":   "localhost:4318",
	"tracing.sample_rate":     1.0,
	"tracing.service_name":    "aidesk",
	"tracing.service_version": "dev",
}

// New returns a viper instance with defaults, env overrides and config search
// paths installed. configFile, when set, replaces the search.
func New(configFile string) *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType(configType)
	if configFile != "" {
		v.SetConfigFile(configFile)
		return v
	}
	v.SetConfigName(configName)
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, defaultHomeDir))
	}
	return v
}

// Load reads the config file, if any, and decodes the effective configuration.
// A missing file is not an error; a malformed one is.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", v.ConfigFileUsed(), err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Orchestrator.PollInterval <= 0 {
		problems = append(problems, "orchestrator.poll_interval must be positive")
	}
	if c.Orchestrator.CancelFallback <= 0 || c.Orchestrator.CleanupGrace <= 0 {
		problems = append(problems, "orchestrator cancel_fallback and cleanup_grace must be positive")
	}
	if c.Stream.MaxReconnectAttempts < 0 {
		problems = append(problems, "stream.max_reconnect_attempts must not be negative")
	}
	if c.Server.ChunkSize <= 0 {
		problems = append(problems, "server.chunk_size must be positive")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		problems = append(problems, "tracing.sample_rate must be within [0, 1]")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
