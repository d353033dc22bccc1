package bootstrap

import (
	"context"
	"time"

	"aidesk/internal/logging"
	"aidesk/internal/observability"
)

// InitTracing best-effort initializes tracing and returns a cleanup hook.
// A failed exporter leaves the global noop tracer in place.
func InitTracing(ctx context.Context, cfg observability.TracingConfig, logger logging.Logger) (*observability.TracerProvider, func()) {
	logger = logging.OrNop(logger)
	tp, err := observability.NewTracerProvider(ctx, cfg)
	if err != nil {
		logger.Warn("Tracing disabled: %v", err)
		return nil, nil
	}

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Tracing shutdown error: %v", err)
		}
	}

	return tp, cleanup
}
