package http

import (
	"net/http"

	"aidesk/internal/logging"
	"aidesk/internal/server/app"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates the gin engine serving the orchestration API, the
// synchronous report endpoints, the chat websocket, generated report files
// and metrics.
func NewRouter(deps RouterDeps, cfg RouterConfig) *gin.Engine {
	logger := logging.NewComponentLogger("Router")

	engine := gin.New()
	engine.Use(RecoveryMiddleware(logger), LoggingMiddleware(logger), CORSMiddleware(cfg.AllowedOrigins))

	apiHandler := NewAPIHandler(deps.Coordinator, deps.Health,
		WithMaxRunBodySize(cfg.MaxRunBodyBytes),
		WithReportService(deps.Reports, deps.Answerer),
	)

	orchestrate := engine.Group("/orchestrate")
	{
		orchestrate.POST("/run", apiHandler.HandleRun)
		orchestrate.GET("/status/:id", apiHandler.HandleStatus)
		orchestrate.POST("/cancel/:id", apiHandler.HandleCancel)
	}
	engine.GET("/health", apiHandler.HandleHealth)

	if deps.Reports != nil {
		ai := engine.Group("/ai")
		{
			ai.POST("/summarize", apiHandler.HandleSummarize)
			ai.POST("/extract", apiHandler.HandleExtract)
			ai.POST("/recommend", apiHandler.HandleRecommend)
			ai.GET("/context/project/:id", apiHandler.HandleProjectContext)
			if deps.Answerer != nil {
				ai.POST("/recommend_chatbotai", apiHandler.HandleChatbot)
			}
		}
	} else {
		logger.Warn("Report service not configured; /ai endpoints disabled")
	}

	if deps.Chat != nil {
		engine.GET("/ws", NewChatHandler(deps.Chat, cfg.AllowedOrigins).HandleWebSocket)
	} else {
		logger.Warn("Chat service not configured; /ws disabled")
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	if cfg.GeneratedDir != "" {
		engine.StaticFS(app.FilesRoute, gin.Dir(cfg.GeneratedDir, false))
	}

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return engine
}
