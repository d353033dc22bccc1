package http

import (
	"aidesk/internal/chat"

	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps holds all service dependencies needed to construct the HTTP router.
type RouterDeps struct {
	Coordinator TaskCoordinator
	Health      HealthChecker
	Chat        ChatService

	// Reports backs the /ai endpoints; Answerer adds the one-shot chatbot.
	Reports  ReportService
	Answerer chat.Answerer

	// Gatherer backs GET /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// RouterConfig holds configuration values for the HTTP router.
type RouterConfig struct {
	AllowedOrigins  []string
	GeneratedDir    string
	MaxRunBodyBytes int64
}
