package governance

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/searchflow/config"
	"github.com/BaSui01/searchflow/rag"
)

// Observer combines the pipeline and dashboard metrics.
type Observer interface {
	PipelineObserver
	DashboardObserver
}

// Service wires the governance components together.
type Service struct {
	Pipeline  *Pipeline
	Coverage  *CoverageMonitor
	Sources   *SourceAnalyzer
	Detector  *ObsolescenceDetector
	Dashboard *Dashboard

	cfg    config.GovernanceConfig
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// CoverageConfigFrom maps coverage settings.
func CoverageConfigFrom(c config.CoverageConfig) CoverageConfig {
	return CoverageConfig{
		MinQuality:         c.MinQuality,
		MinQueries:         c.MinQueries,
		MinSourcesPerTopic: c.MinSourcesPerTopic,
		QualityAlpha:       c.QualityAlpha,
		TrendingWindow:     c.TrendingWindow,
		Topics:             c.Topics,
	}
}

// SourcesConfigFrom maps source analyzer settings.
func SourcesConfigFrom(c config.SourcesConfig) SourcesConfig {
	return SourcesConfig{
		HighValueMinAccess: c.HighValueMinAccess,
		HighValueRecency:   c.HighValueRecency,
		LowUsageThreshold:  c.LowUsageThreshold,
		StaleAfter:         c.StaleAfter,
		ActiveWindow:       c.ActiveWindow,
	}
}

// NewService builds the components from cfg. store and observer may be nil.
// A configured rules file is loaded after the default rules.
func NewService(cfg config.GovernanceConfig, store Store, observer Observer, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	coverage := NewCoverageMonitor(CoverageConfigFrom(cfg.Coverage), logger)
	sources := NewSourceAnalyzer(SourcesConfigFrom(cfg.Sources), logger)
	detector := NewObsolescenceDetector(cfg.ScanWorkers, logger)
	if cfg.RulesFile != "" {
		n, err := detector.LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("load obsolescence rules: %w", err)
		}
		logger.Info("custom obsolescence rules loaded", zap.String("file", cfg.RulesFile), zap.Int("rules", n))
	}

	deps := DashboardDeps{Coverage: coverage, Sources: sources, Detector: detector, Store: store}
	var pipelineObserver PipelineObserver
	if observer != nil {
		deps.Observer = observer
		pipelineObserver = observer
	}
	dashboard, err := NewDashboard(deps, DefaultDashboardConfig(), logger)
	if err != nil {
		return nil, err
	}

	return &Service{
		Pipeline:  NewPipeline(cfg.QueueSize, pipelineObserver, logger, coverage, sources),
		Coverage:  coverage,
		Sources:   sources,
		Detector:  detector,
		Dashboard: dashboard,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "governance")),
	}, nil
}

// Sink returns the event sink for rag.EngineDeps.
func (s *Service) Sink() rag.EventSink { return s.Pipeline }

// Ingest registers corpus items with the coverage monitor and the source
// analyzer.
func (s *Service) Ingest(items []rag.CorpusItem) {
	for _, it := range items {
		s.Coverage.ObserveSource(it)
		s.Sources.ObserveSource(it)
	}
	s.logger.Info("corpus registered for governance", zap.Int("items", len(items)))
}

// Scan runs a corpus-wide obsolescence scan.
func (s *Service) Scan(ctx context.Context, items []rag.CorpusItem) (int, error) {
	return s.Detector.ScanAll(ctx, items)
}

// Start restores persisted state, starts the pipeline and the periodic
// dashboard loop. With ScanOnStart the corpus is scanned in the background.
func (s *Service) Start(ctx context.Context, corpus []rag.CorpusItem) error {
	if s.cfg.Persist {
		if err := s.Dashboard.Load(ctx); err != nil {
			s.logger.Warn("governance state not restored", zap.Error(err))
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := s.Pipeline.Start(runCtx); err != nil {
		cancel()
		return err
	}

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	if s.cfg.ScanOnStart && len(corpus) > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := s.Scan(runCtx, corpus); err != nil && runCtx.Err() == nil {
				s.logger.Warn("initial obsolescence scan failed", zap.Error(err))
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Dashboard.Run(runCtx, s.cfg.DashboardInterval)
	}()
	return nil
}

// Stop drains the pipeline, stops the background loops and records a final
// snapshot.
func (s *Service) Stop(ctx context.Context) {
	s.Pipeline.Stop()

	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.Dashboard.Generate(ctx)
}
