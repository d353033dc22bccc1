package bootstrap

import (
	"aidesk/internal/config"
	"aidesk/internal/logging"
)

// LogServerConfiguration prints a snapshot of the server configuration.
func LogServerConfiguration(logger logging.Logger, cfg *config.Config) {
	logger = logging.OrNop(logger)

	logger.Info("=== Server Configuration ===")
	logger.Info("Addr: %s", cfg.Server.Addr)
	logger.Info("Allowed Origins: %v", cfg.Server.AllowedOrigins)
	logger.Info("Generated Dir: %s", cfg.Server.GeneratedDir)
	logger.Info("Cleanup Duration: %s", cfg.Server.CleanupDuration)
	logger.Info("Task Retention: %s", cfg.Server.TaskRetention)
	logger.Info("Chunking: %d chars every %s", cfg.Server.ChunkSize, cfg.Server.ChunkDelay)
	logger.Info("Compute URL: %s (model=%s, max_tokens=%d, temperature=%.2f)", cfg.Compute.URL, cfg.Compute.Model, cfg.Compute.MaxTokens, cfg.Compute.Temperature)
	logger.Info("ERP Store: %s (cache=%d, ttl=%s)", cfg.Store.DSN, cfg.Store.CacheSize, cfg.Store.CacheTTL)
	logger.Info("Seed Demo Data: %t", cfg.Server.SeedDemo)
	if cfg.Tracing.Enabled {
		logger.Info("Tracing: enabled (endpoint=%s, sample_rate=%.2f)", cfg.Tracing.OTLPEndpoint, cfg.Tracing.SampleRate)
	} else {
		logger.Info("Tracing: disabled")
	}
	logger.Info("===========================")
}
