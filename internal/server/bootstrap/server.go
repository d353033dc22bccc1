package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"aidesk/internal/chat"
	"aidesk/internal/compute"
	"aidesk/internal/config"
	"aidesk/internal/erp"
	"aidesk/internal/logging"
	"aidesk/internal/observability"
	serverApp "aidesk/internal/server/app"
	serverHTTP "aidesk/internal/server/http"

	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	janitorInterval = time.Minute
)

// Server is the assembled orchestration and chat server.
type Server struct {
	Handler     http.Handler
	Coordinator *serverApp.Coordinator
	Tasks       *serverApp.InMemoryTaskStore

	cfg      *config.Config
	store    *erp.Store
	degraded *DegradedComponents
	logger   logging.Logger
	cleanups []func()
}

// erpContexts serves project contexts from the cache and organization
// contexts straight from the store.
type erpContexts struct {
	*erp.CachedSource
	store *erp.Store
}

func (c erpContexts) OrganizationContext(ctx context.Context, q erp.OrganizationQuery) (*erp.OrganizationContext, error) {
	return c.store.OrganizationContext(ctx, q)
}

// Build wires every component described by cfg without starting to listen.
func Build(ctx context.Context, cfg *config.Config) (*Server, error) {
	logger := logging.NewComponentLogger("Main")
	degraded := NewDegradedComponents()
	s := &Server{cfg: cfg, degraded: degraded, logger: logger}

	LogServerConfiguration(logger, cfg)

	// ── Phase 1: Required infrastructure (failure aborts startup) ──

	var renderer *serverApp.TextRenderer
	requiredStages := []BootstrapStage{
		{
			Name: "erp-store", Required: true,
			Init: func() error {
				store, err := erp.Open(cfg.Store.DSN)
				if err != nil {
					return err
				}
				s.store = store
				s.cleanups = append(s.cleanups, func() {
					if err := store.Close(); err != nil {
						logger.Warn("Failed to close ERP store: %v", err)
					}
				})
				return nil
			},
		},
		{
			Name: "generated-dir", Required: true,
			Init: func() error {
				r, err := serverApp.NewTextRenderer(cfg.Server.GeneratedDir)
				if err != nil {
					return err
				}
				renderer = r
				return nil
			},
		},
	}
	if err := RunStages(requiredStages, degraded, logger); err != nil {
		s.Close()
		return nil, err
	}

	// ── Phase 2: Optional services (failure records degraded, continues) ──

	optionalStages := []BootstrapStage{
		{
			Name: "tracing", Required: false,
			Init: func() error {
				tp, cleanup := InitTracing(ctx, cfg.Tracing, logger)
				if tp == nil {
					return fmt.Errorf("tracer provider unavailable")
				}
				if cleanup != nil {
					s.cleanups = append(s.cleanups, cleanup)
				}
				return nil
			},
		},
		{
			Name: "demo-seed", Required: false,
			Init: func() error {
				if !cfg.Server.SeedDemo {
					return nil
				}
				return s.store.SeedDemo(ctx)
			},
		},
	}
	if err := RunStages(optionalStages, degraded, logger); err != nil {
		s.Close()
		return nil, fmt.Errorf("optional stages: %w", err)
	}

	// ── Phase 3: Application services ──

	metrics := observability.DefaultMetrics()
	cached := erp.NewCachedSource(s.store, cfg.Store.CacheSize, cfg.Store.CacheTTL)

	computeClient := compute.NewClient(compute.ClientConfig{
		URL:         cfg.Compute.URL,
		Model:       cfg.Compute.Model,
		MaxTokens:   cfg.Compute.MaxTokens,
		Temperature: cfg.Compute.Temperature,
		Timeout:     cfg.Compute.Timeout,
	}, logging.NewComponentLogger("Compute"))
	runner := compute.NewRunner(computeClient, logging.NewComponentLogger("Runner"))

	s.Tasks = serverApp.NewInMemoryTaskStore()
	s.Coordinator = serverApp.NewCoordinator(
		s.Tasks,
		erpContexts{CachedSource: cached, store: s.store},
		runner,
		renderer,
		metrics,
		serverApp.CoordinatorConfig{CleanupDuration: cfg.Server.CleanupDuration},
	)

	scope, err := chat.NewKeywordClassifier(nil)
	if err != nil {
		s.Close()
		return nil, err
	}
	chatService := chat.NewService(chat.ServiceDeps{
		Scope:       scope,
		Contexts:    cached,
		Answerer:    runner,
		Transcripts: s.store,
		Producer:    chat.NewProducer(cfg.Server.ChunkSize, cfg.Server.ChunkDelay),
		Metrics:     metrics,
		Logger:      logging.NewComponentLogger("Chat"),
	})

	// ── Phase 4: HTTP layer ──

	healthChecker := serverApp.NewHealthChecker()
	healthChecker.RegisterProbe(serverApp.NewDatabaseProbe(s.store.DB()))
	healthChecker.RegisterProbe(serverApp.NewComputeProbe(cfg.Compute.URL))
	healthChecker.RegisterProbe(NewDegradedProbe(degraded))

	s.Handler = serverHTTP.NewRouter(
		serverHTTP.RouterDeps{
			Coordinator: s.Coordinator,
			Health:      healthChecker,
			Chat:        chatService,
			Reports:     s.Coordinator,
			Answerer:    runner,
		},
		serverHTTP.RouterConfig{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			GeneratedDir:   renderer.Dir(),
		},
	)

	if !degraded.IsEmpty() {
		logger.Warn("[Bootstrap] Server starting in degraded mode: %v", degraded.Map())
	}
	return s, nil
}

// Close releases the store and flushes tracing. It is safe to call twice.
func (s *Server) Close() {
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		s.cleanups[i]()
	}
	s.cleanups = nil
}

// PruneTasks drops terminal tasks older than the retention window.
func (s *Server) PruneTasks(ctx context.Context, now time.Time) int {
	if s.cfg.Server.TaskRetention <= 0 {
		return 0
	}
	return s.Tasks.Prune(ctx, now.Add(-s.cfg.Server.TaskRetention))
}

// Serve listens on the configured address until ctx is cancelled, then
// drains HTTP connections and in-flight tasks.
func (s *Server) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown: %w", err))
		}
		if err := s.Coordinator.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("drain tasks: %w", err))
		}
		s.logger.Info("Server stopped")
		return errors.Join(errs...)
	})
	g.Go(func() error {
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-ticker.C:
				if n := s.PruneTasks(gctx, now); n > 0 {
					s.logger.Debug("Pruned %d finished tasks", n)
				}
			}
		}
	})
	return g.Wait()
}

// RunServer builds the server and blocks until ctx is cancelled.
func RunServer(ctx context.Context, cfg *config.Config) error {
	logger := logging.NewComponentLogger("Main")
	logger.Info("Starting aidesk server...")

	server, err := Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	defer server.Close()

	return server.Serve(ctx)
}
