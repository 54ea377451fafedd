package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/searchflow/api/handlers"
	"github.com/BaSui01/searchflow/config"
	"github.com/BaSui01/searchflow/governance"
	"github.com/BaSui01/searchflow/internal/cache"
	"github.com/BaSui01/searchflow/internal/database"
	"github.com/BaSui01/searchflow/internal/metrics"
	"github.com/BaSui01/searchflow/internal/server"
	"github.com/BaSui01/searchflow/internal/telemetry"
	"github.com/BaSui01/searchflow/llm/embedding"
	"github.com/BaSui01/searchflow/llm/rerank"
	"github.com/BaSui01/searchflow/rag"
	"github.com/BaSui01/searchflow/rag/loader"
)

// =============================================================================
// 🖥️ Server
// =============================================================================

// Server owns every runtime component of the search service.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	registry  *prometheus.Registry
	collector *metrics.Collector
	otel      *telemetry.Providers

	db     *database.PoolManager
	redis  *cache.Manager
	cache  rag.SearchCache
	corpus *rag.MemoryCorpus
	items  []rag.CorpusItem
	engine *rag.Engine
	gov    *governance.Service

	healthHandler *handlers.HealthHandler

	httpManager    *server.Manager
	metricsManager *server.Manager

	cancel context.CancelFunc
}

// NewServer loads the corpus, connects the configured backends and wires the
// search engine and governance service. Nothing listens until Start.
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) (_ *Server, err error) {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		otel:     otelProviders,
		registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			s.closeBackends()
		}
	}()

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollectorWithRegistry(s.registry, "searchflow", logger)

	if cfg.Database.Enabled {
		s.db, err = database.Open(cfg.Database, s.collector, logger)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Cache.Enabled && cfg.Cache.Backend == "redis" {
		s.redis, err = cache.NewManager(cache.ConfigFrom(cfg.Redis, cfg.Cache), logger)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	}

	if err = s.loadCorpus(ctx); err != nil {
		return nil, err
	}
	if err = s.buildEngine(ctx); err != nil {
		return nil, err
	}

	s.healthHandler = handlers.NewHealthHandler(logger).WithVersion(Version)
	s.healthHandler.RegisterCheck(handlers.NewCorpusHealthCheck(s.corpus.Len))
	if s.db != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", s.db.Ping))
	}
	if s.redis != nil {
		s.healthHandler.RegisterOptionalCheck(handlers.NewPingCheck("redis", s.redis.Ping))
	}

	return s, nil
}

// loadCorpus reads the corpus file into memory. A missing path yields an
// empty corpus, which keeps the service up but not ready.
func (s *Server) loadCorpus(ctx context.Context) error {
	if s.cfg.Corpus.Path != "" {
		items, err := loader.LoadCorpus(ctx, s.cfg.Corpus.Path)
		if err != nil {
			return fmt.Errorf("load corpus: %w", err)
		}
		s.items = items
	}
	corpus, err := rag.NewMemoryCorpus(s.items...)
	if err != nil {
		return fmt.Errorf("build corpus: %w", err)
	}
	s.corpus = corpus
	s.logger.Info("corpus loaded", zap.String("path", s.cfg.Corpus.Path), zap.Int("items", corpus.Len()))
	return nil
}

func (s *Server) buildEngine(ctx context.Context) error {
	cfg := s.cfg
	logger := s.logger

	gdb := s.gormDB()
	vectorIndex, err := rag.NewVectorIndexFromConfig(cfg, gdb, logger)
	if err != nil {
		return err
	}
	textIndex, err := rag.NewTextIndexFromConfig(cfg, gdb, logger)
	if err != nil {
		return err
	}

	if cfg.Database.AutoMigrate {
		if m, ok := textIndex.(*rag.SQLTextIndex); ok {
			if err := m.AutoMigrate(ctx); err != nil {
				return fmt.Errorf("migrate text index: %w", err)
			}
		}
	}

	embedder, err := embedding.NewFromConfig(cfg.Embedding, s.collector, logger)
	if err != nil {
		return fmt.Errorf("embedding provider: %w", err)
	}
	judge, err := rerank.NewFromConfig(cfg.Judgment, s.collector, logger)
	if err != nil {
		return fmt.Errorf("judgment provider: %w", err)
	}

	if cfg.Corpus.IndexOnLoad && len(s.items) > 0 {
		if embedder != nil {
			n, err := rag.EmbedMissing(ctx, s.items, embedder)
			if err != nil {
				logger.Warn("corpus embedding failed, vector channel limited to pre-embedded items", zap.Error(err))
			} else if n > 0 {
				if err := s.corpus.Add(s.items...); err != nil {
					return err
				}
				logger.Info("corpus items embedded", zap.Int("items", n))
			}
		}
		if err := rag.IndexCorpus(ctx, s.items, vectorIndex, textIndex); err != nil {
			return err
		}
		logger.Info("corpus indexed",
			zap.String("vector_index", vectorIndex.Name()),
			zap.String("text_index", textIndex.Name()),
			zap.Int("items", len(s.items)),
		)
	}

	searchCache, err := rag.NewSearchCacheFromConfig(cfg, s.redis, logger)
	if err != nil {
		return err
	}
	s.cache = searchCache

	var sink rag.EventSink
	if cfg.Governance.Enabled {
		var store governance.Store
		if cfg.Governance.Persist && gdb != nil {
			gs := governance.NewGormStore(gdb, logger)
			if cfg.Database.AutoMigrate {
				if err := gs.AutoMigrate(ctx); err != nil {
					return fmt.Errorf("migrate governance store: %w", err)
				}
			}
			store = gs
		}
		s.gov, err = governance.NewService(cfg.Governance, store, s.collector, logger)
		if err != nil {
			return err
		}
		s.gov.Ingest(s.items)
		sink = s.gov.Sink()
	}

	instruments, err := telemetry.NewInstruments()
	if err != nil {
		logger.Warn("otel instruments unavailable", zap.Error(err))
	}

	deps := rag.EngineDeps{
		Processor:   rag.NewQueryProcessor(rag.QueryProcessorConfigFrom(cfg.Search), logger),
		Corpus:      s.corpus,
		Text:        rag.NewTextRetriever(textIndex, cfg.Search.TextTimeout, logger),
		Access:      rag.NewAccessController(logger),
		Merger:      rag.NewMerger(rag.MergerConfigFrom(cfg.Search)),
		Reranker:    rag.NewReranker(judge, rag.RerankerConfigFrom(cfg.Search), s.collector, logger),
		Cache:       searchCache,
		Sink:        sink,
		Observer:    s.collector,
		Instruments: instruments,
	}
	if embedder != nil {
		deps.Vector = rag.NewVectorRetriever(embedder, vectorIndex, cfg.Search.VectorTimeout, logger)
	} else {
		logger.Warn("no embedding provider configured, vector channel disabled")
	}

	s.engine, err = rag.NewEngine(deps, rag.EngineConfigFrom(cfg), logger)
	return err
}

func (s *Server) gormDB() *gorm.DB {
	if s.db == nil {
		return nil
	}
	return s.db.DB()
}

// =============================================================================
// 🌐 Routes
// =============================================================================

// Handler returns the API handler with the full middleware chain.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler.HandleLive)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleLive)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	search := handlers.NewSearchHandler(s.engine, s.logger)
	mux.HandleFunc("POST /api/v1/search", search.HandleSearch)
	mux.HandleFunc("GET /api/v1/search/stats", search.HandleStats)

	if s.gov != nil {
		gov := handlers.NewGovernanceHandler(s.gov, s.corpus, s.logger)
		mux.HandleFunc("GET /api/v1/governance/dashboard", gov.HandleDashboard)
		mux.HandleFunc("GET /api/v1/governance/coverage", gov.HandleCoverage)
		mux.HandleFunc("GET /api/v1/governance/sources", gov.HandleSources)
		mux.HandleFunc("GET /api/v1/governance/obsolescence", gov.HandleObsolescence)

		admin := func(h http.HandlerFunc) http.Handler { return h }
		if s.cfg.JWT.Enabled() {
			jwtAuth := JWTAuth(s.cfg.JWT, nil, s.logger)
			requireRole := RequireRole(s.cfg.JWT.AdminRole)
			admin = func(h http.HandlerFunc) http.Handler { return Chain(h, jwtAuth, requireRole) }
		}
		mux.Handle("GET /api/v1/governance/export", admin(gov.HandleExport))
		mux.Handle("POST /api/v1/governance/scan", admin(gov.HandleScan))
	}

	skipAuth := []string{"/health", "/healthz", "/ready", "/readyz", "/version"}
	sc := s.cfg.Server
	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		RequestLogger(s.logger),
		CORS(sc.CORSAllowedOrigins),
		RateLimiter(ctx, sc.RateLimitRPS, sc.RateLimitBurst, s.logger),
		APIKeyAuth(sc.APIKeys, skipAuth, sc.AllowQueryAPIKey, s.logger),
	)
}

// MetricsHandler serves the Prometheus registry.
func (s *Server) MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	return mux
}

// =============================================================================
// 🔄 Lifecycle
// =============================================================================

// Start starts governance, the API listener and the metrics listener.
func (s *Server) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.gov != nil {
		if err := s.gov.Start(runCtx, s.items); err != nil {
			cancel()
			return fmt.Errorf("start governance: %w", err)
		}
	}

	s.httpManager = server.NewManager(s.Handler(runCtx), server.ConfigFrom(s.cfg.Server, s.cfg.Server.HTTPPort), s.logger)
	if err := s.httpManager.Start(); err != nil {
		cancel()
		return fmt.Errorf("start http server: %w", err)
	}

	if s.cfg.Server.MetricsPort > 0 {
		s.metricsManager = server.NewManager(s.MetricsHandler(), server.ConfigFrom(s.cfg.Server, s.cfg.Server.MetricsPort), s.logger)
		if err := s.metricsManager.Start(); err != nil {
			cancel()
			return fmt.Errorf("start metrics server: %w", err)
		}
	}

	s.logger.Info("searchflow started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.Int("corpus_items", s.corpus.Len()),
		zap.Bool("cache", s.engine.CacheEnabled()),
		zap.Bool("governance", s.gov != nil),
	)
	return nil
}

// Wait blocks until ctx is done or a listener fails.
func (s *Server) Wait(ctx context.Context) error {
	var metricsErrs <-chan error
	if s.metricsManager != nil {
		metricsErrs = s.metricsManager.Errors()
	}
	select {
	case <-ctx.Done():
		return nil
	case err := <-s.httpManager.Errors():
		return fmt.Errorf("http server: %w", err)
	case err := <-metricsErrs:
		return fmt.Errorf("metrics server: %w", err)
	}
}

// Shutdown stops the listeners first so no search races the governance
// drain, then closes the backends.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	if s.gov != nil {
		s.gov.Stop(ctx)
	}
	if s.cancel != nil {
		s.cancel()
	}

	errs = append(errs, s.closeBackends())
	if err := s.otel.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Server) closeBackends() error {
	var errs []error
	if c, ok := s.cache.(*rag.MemoryCache); ok {
		_ = c.Close()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}
