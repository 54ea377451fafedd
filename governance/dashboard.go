package governance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Health status labels.
const (
	StatusExcellent = "excellent"
	StatusGood      = "good"
	StatusWarning   = "warning"
	StatusCritical  = "critical"
)

// Score weights are fixed configuration.
const (
	weightCoverage          = 0.30
	weightHighValue         = 0.25
	weightObsolescence      = 0.25
	weightActive            = 0.20
	maxCriticalBeforeZero   = 5.0
	maxDetectionsBeforeZero = 50.0
)

// Alert thresholds.
const (
	alertCoverageBelow   = 0.7
	alertCriticalAbove   = 5
	alertObsoleteAbove   = 10
	alertInactiveAbove   = 0.3
	alertGovernanceBelow = 0.6
)

// DashboardObserver receives dashboard gauges; *metrics.Collector satisfies it.
type DashboardObserver interface {
	SetGovernanceScore(kind string, v float64)
	SetObsolescenceDetections(bySeverity map[string]int)
}

// Alert is an actionable finding.
type Alert struct {
	ID       string   `json:"id"`
	Severity Severity `json:"severity"`
	Category string   `json:"category"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Action   string   `json:"action"`
}

// Estimated effort labels.
const (
	EffortLow    = "low"
	EffortMedium = "medium"
	EffortHigh   = "high"
)

// PriorityAction is a ranked remediation suggestion.
type PriorityAction struct {
	Priority        Severity `json:"priority"`
	Category        string   `json:"category"`
	Action          string   `json:"action"`
	Description     string   `json:"description"`
	EstimatedEffort string   `json:"estimated_effort"`
}

// TrendPoint is the score summary of one past snapshot.
type TrendPoint struct {
	GeneratedAt     time.Time `json:"generated_at"`
	GovernanceScore float64   `json:"governance_score"`
	HealthScore     float64   `json:"health_score"`
	QualityScore    float64   `json:"quality_score"`
	Coverage        float64   `json:"coverage"`
}

// CoverageSummary condenses a CoverageReport.
type CoverageSummary struct {
	OverallCoverage     float64  `json:"overall_coverage"`
	KnownTopics         int      `json:"known_topics"`
	ObservedTopics      int      `json:"observed_topics"`
	WellCoveredTopics   int      `json:"well_covered_topics"`
	PoorlyCoveredTopics int      `json:"poorly_covered_topics"`
	CoverageGaps        int      `json:"coverage_gaps"`
	TrendingTopics      []string `json:"trending_topics"`
}

// SourceSummary condenses a SourceReport.
type SourceSummary struct {
	TotalSources     int     `json:"total_sources"`
	ActiveSources    int     `json:"active_sources"`
	HighValueSources int     `json:"high_value_sources"`
	ObsoleteSources  int     `json:"obsolete_sources"`
	ActiveRatio      float64 `json:"active_ratio"`
}

// ObsolescenceSummary condenses an ObsolescenceReport.
type ObsolescenceSummary struct {
	TotalSourcesScanned int            `json:"total_sources_scanned"`
	SourcesWithIssues   int            `json:"sources_with_issues"`
	TotalDetections     int            `json:"total_detections"`
	BySeverity          map[string]int `json:"by_severity"`
}

// Snapshot is one consolidated governance reading.
type Snapshot struct {
	ID              string              `json:"id"`
	GeneratedAt     time.Time           `json:"generated_at"`
	GovernanceScore float64             `json:"governance_score"`
	HealthScore     float64             `json:"health_score"`
	QualityScore    float64             `json:"quality_score"`
	HealthStatus    string              `json:"health_status"`
	Coverage        CoverageSummary     `json:"coverage"`
	Sources         SourceSummary       `json:"sources"`
	Obsolescence    ObsolescenceSummary `json:"obsolescence"`
	Alerts          []Alert             `json:"alerts"`
	PriorityActions []PriorityAction    `json:"priority_actions"`
	Recommendations []string            `json:"recommendations"`
	Trends          []TrendPoint        `json:"trends"`
}

func (s *Snapshot) trendPoint() TrendPoint {
	return TrendPoint{
		GeneratedAt:     s.GeneratedAt,
		GovernanceScore: s.GovernanceScore,
		HealthScore:     s.HealthScore,
		QualityScore:    s.QualityScore,
		Coverage:        s.Coverage.OverallCoverage,
	}
}

// Report is a snapshot together with the sub-reports it was derived from.
// It is the unit of export.
type Report struct {
	Snapshot     *Snapshot           `json:"dashboard"`
	Coverage     *CoverageReport     `json:"coverage"`
	Sources      *SourceReport       `json:"sources"`
	Obsolescence *ObsolescenceReport `json:"obsolescence"`
}

// DashboardConfig configures a Dashboard.
type DashboardConfig struct {
	HistoryRetention time.Duration
	TrendPoints      int
}

// DefaultDashboardConfig keeps 30 days of history and 7 trend points.
func DefaultDashboardConfig() DashboardConfig {
	return DashboardConfig{HistoryRetention: 30 * 24 * time.Hour, TrendPoints: 7}
}

// Dashboard consolidates the governance reports into snapshots.
type Dashboard struct {
	coverage *CoverageMonitor
	sources  *SourceAnalyzer
	detector *ObsolescenceDetector
	store    Store
	observer DashboardObserver
	cfg      DashboardConfig
	now      Clock
	logger   *zap.Logger

	mu      sync.RWMutex
	history []Snapshot
}

// DashboardDeps are the collaborators of a Dashboard. Store and Observer are
// optional.
type DashboardDeps struct {
	Coverage *CoverageMonitor
	Sources  *SourceAnalyzer
	Detector *ObsolescenceDetector
	Store    Store
	Observer DashboardObserver
}

// NewDashboard creates a dashboard.
func NewDashboard(deps DashboardDeps, cfg DashboardConfig, logger *zap.Logger) (*Dashboard, error) {
	if deps.Coverage == nil || deps.Sources == nil || deps.Detector == nil {
		return nil, fmt.Errorf("dashboard requires coverage monitor, source analyzer and obsolescence detector")
	}
	def := DefaultDashboardConfig()
	if cfg.HistoryRetention <= 0 {
		cfg.HistoryRetention = def.HistoryRetention
	}
	if cfg.TrendPoints <= 0 {
		cfg.TrendPoints = def.TrendPoints
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dashboard{
		coverage: deps.Coverage,
		sources:  deps.Sources,
		detector: deps.Detector,
		store:    deps.Store,
		observer: deps.Observer,
		cfg:      cfg,
		now:      systemClock,
		logger:   logger.With(zap.String("component", "governance_dashboard")),
	}, nil
}

// Build computes a report without recording it.
func (d *Dashboard) Build() *Report {
	cov := d.coverage.Report()
	src := d.sources.Report()
	obs := d.detector.Report()

	s := &Snapshot{
		ID:          uuid.NewString(),
		GeneratedAt: d.now(),
		Coverage: CoverageSummary{
			OverallCoverage:     cov.OverallCoverage,
			KnownTopics:         cov.KnownTopics,
			ObservedTopics:      cov.ObservedTopics,
			WellCoveredTopics:   cov.WellCoveredTopics,
			PoorlyCoveredTopics: cov.PoorlyCoveredTopics,
			CoverageGaps:        len(cov.CoverageGaps),
			TrendingTopics:      make([]string, 0, len(cov.TrendingTopics)),
		},
		Sources: SourceSummary{
			TotalSources:     src.TotalSources,
			ActiveSources:    src.ActiveSources,
			HighValueSources: len(src.HighValueSources),
			ObsoleteSources:  len(src.ObsoleteSources),
			ActiveRatio:      round3(src.ActiveRatio()),
		},
		Obsolescence: ObsolescenceSummary{
			TotalSourcesScanned: obs.TotalSourcesScanned,
			SourcesWithIssues:   obs.SourcesWithIssues,
			TotalDetections:     obs.TotalDetections,
			BySeverity:          obs.SeverityCounts(),
		},
	}
	for _, t := range cov.TrendingTopics {
		s.Coverage.TrendingTopics = append(s.Coverage.TrendingTopics, t.Topic)
	}

	s.GovernanceScore, s.HealthScore, s.QualityScore = scores(cov, src, obs)
	s.HealthStatus = HealthStatus(s.HealthScore)
	s.Alerts = alerts(s, src, obs)
	s.PriorityActions = priorityActions(cov, src, obs)
	s.Recommendations = mergeRecommendations(cov.Recommendations, src.Recommendations, obs.Recommendations)

	d.mu.RLock()
	s.Trends = d.trends(s)
	d.mu.RUnlock()

	return &Report{Snapshot: s, Coverage: cov, Sources: src, Obsolescence: obs}
}

// Generate builds a report, records it in the history, publishes the score
// gauges and persists it when a store is configured. Persistence failures
// are logged; the report is still returned.
func (d *Dashboard) Generate(ctx context.Context) *Report {
	r := d.Build()
	s := r.Snapshot

	d.mu.Lock()
	d.history = append(d.history, *s)
	cutoff := s.GeneratedAt.Add(-d.cfg.HistoryRetention)
	i := 0
	for i < len(d.history) && d.history[i].GeneratedAt.Before(cutoff) {
		i++
	}
	d.history = d.history[i:]
	d.mu.Unlock()

	if d.observer != nil {
		d.observer.SetGovernanceScore("governance", s.GovernanceScore)
		d.observer.SetGovernanceScore("health", s.HealthScore)
		d.observer.SetGovernanceScore("quality", s.QualityScore)
		d.observer.SetGovernanceScore("coverage", s.Coverage.OverallCoverage)
		d.observer.SetObsolescenceDetections(s.Obsolescence.BySeverity)
	}

	if d.store != nil {
		if err := d.persist(ctx, s); err != nil {
			d.logger.Warn("governance snapshot not persisted", zap.Error(err))
		}
	}

	d.logger.Info("governance snapshot generated",
		zap.String("id", s.ID),
		zap.Float64("governance_score", s.GovernanceScore),
		zap.String("health_status", s.HealthStatus),
		zap.Int("alerts", len(s.Alerts)),
	)
	return r
}

func (d *Dashboard) persist(ctx context.Context, s *Snapshot) error {
	if err := d.store.SaveSnapshot(ctx, s); err != nil {
		return err
	}
	if err := d.store.SaveTopicStats(ctx, d.coverage.Stats()); err != nil {
		return err
	}
	if err := d.store.SaveSourceUsage(ctx, d.sources.Usage()); err != nil {
		return err
	}
	return d.store.ReplaceDetections(ctx, d.detector.Detections())
}

// Load restores accumulator state and recent history from the store.
func (d *Dashboard) Load(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	topics, err := d.store.LoadTopicStats(ctx)
	if err != nil {
		return err
	}
	d.coverage.Restore(topics)

	usage, err := d.store.LoadSourceUsage(ctx)
	if err != nil {
		return err
	}
	d.sources.Restore(usage)

	dets, err := d.store.LoadDetections(ctx)
	if err != nil {
		return err
	}
	d.detector.Restore(dets)

	snaps, err := d.store.ListSnapshots(ctx, d.now().Add(-d.cfg.HistoryRetention), 0)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.history = snaps
	d.mu.Unlock()

	d.logger.Info("governance state restored",
		zap.Int("topics", len(topics)),
		zap.Int("sources", len(usage)),
		zap.Int("detections", len(dets)),
		zap.Int("snapshots", len(snaps)),
	)
	return nil
}

// Latest returns the most recent recorded snapshot.
func (d *Dashboard) Latest() (*Snapshot, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.history) == 0 {
		return nil, false
	}
	s := d.history[len(d.history)-1]
	return &s, true
}

// History returns the recorded snapshots, oldest first.
func (d *Dashboard) History() []Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Snapshot(nil), d.history...)
}

// Run generates a snapshot immediately and then every interval until ctx
// is done.
func (d *Dashboard) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	d.Generate(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.Generate(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// trends returns the last TrendPoints readings ending with current. Callers
// hold d.mu.
func (d *Dashboard) trends(current *Snapshot) []TrendPoint {
	n := d.cfg.TrendPoints - 1
	start := len(d.history) - n
	if start < 0 {
		start = 0
	}
	out := make([]TrendPoint, 0, d.cfg.TrendPoints)
	for _, s := range d.history[start:] {
		out = append(out, s.trendPoint())
	}
	return append(out, current.trendPoint())
}

// =============================================================================
// 🧮 Scoring
// =============================================================================

// HealthStatus labels a health score.
func HealthStatus(score float64) string {
	switch {
	case score >= 0.8:
		return StatusExcellent
	case score >= 0.6:
		return StatusGood
	case score >= 0.4:
		return StatusWarning
	default:
		return StatusCritical
	}
}

func scores(cov *CoverageReport, src *SourceReport, obs *ObsolescenceReport) (governance, health, quality float64) {
	coverage := cov.OverallCoverage
	active := src.ActiveRatio()
	critical := float64(obs.CriticalIssues())

	obsHealth := 1.0
	if obs.TotalSourcesScanned > 0 {
		obsHealth = 1 - float64(obs.SourcesWithIssues)/float64(obs.TotalSourcesScanned)
	}
	governance = weightCoverage*coverage +
		weightHighValue*src.HighValueRatio() +
		weightObsolescence*obsHealth +
		weightActive*active

	gapHealth := 1.0
	if cov.KnownTopics > 0 {
		gapHealth = 1 - clamp01(float64(len(cov.CoverageGaps))/float64(cov.KnownTopics))
	}
	health = (coverage + (1 - clamp01(critical/maxCriticalBeforeZero)) + active + gapHealth) / 4

	sourceQuality := src.HighValueRatio() - 0.5*src.ObsoleteRatio()
	if sourceQuality < 0 {
		sourceQuality = 0
	}
	wellCovered := 0.0
	if cov.ObservedTopics > 0 {
		wellCovered = float64(cov.WellCoveredTopics) / float64(cov.ObservedTopics)
	}
	quality = (sourceQuality + (1 - clamp01(float64(obs.TotalDetections)/maxDetectionsBeforeZero)) + wellCovered) / 3

	return round3(clamp01(governance)), round3(clamp01(health)), round3(clamp01(quality))
}

func alerts(s *Snapshot, src *SourceReport, obs *ObsolescenceReport) []Alert {
	out := []Alert{}
	add := func(sev Severity, category, title, message, action string) {
		out = append(out, Alert{
			ID:       fmt.Sprintf("%s-%d", category, len(out)+1),
			Severity: sev,
			Category: category,
			Title:    title,
			Message:  message,
			Action:   action,
		})
	}

	if c := obs.CriticalIssues(); c > alertCriticalAbove {
		add(SeverityCritical, "obsolescence", "Critical content issues",
			fmt.Sprintf("%d critical obsolescence detections", c),
			"Fix critical detections first; they flag security and end-of-life problems")
	}
	for _, rc := range obs.ByRule {
		if rc.Severity == SeverityCritical && rc.Count > 0 {
			add(SeverityHigh, "obsolescence", "Critical rule triggered: "+rc.RuleID,
				fmt.Sprintf("%s: %d detections", rc.Description, rc.Count),
				"Review the affected sources for rule "+rc.RuleID)
		}
	}
	if s.Coverage.OverallCoverage < alertCoverageBelow {
		add(SeverityWarning, "coverage", "Low topic coverage",
			fmt.Sprintf("Overall coverage %.0f%% is below %.0f%%", s.Coverage.OverallCoverage*100, alertCoverageBelow*100),
			"Collect sources for the coverage gaps")
	}
	if n := len(src.ObsoleteSources); n > alertObsoleteAbove {
		add(SeverityWarning, "sources", "Many obsolete sources",
			fmt.Sprintf("%d sources are unused and stale", n),
			"Review and retire obsolete sources")
	}
	if src.TotalSources > 0 {
		if inactive := 1 - src.ActiveRatio(); inactive > alertInactiveAbove {
			add(SeverityWarning, "sources", "Inactive sources",
				fmt.Sprintf("%.0f%% of sources had no recent access", inactive*100),
				"Check whether inactive sources are still relevant")
		}
	}
	if s.GovernanceScore < alertGovernanceBelow {
		add(SeverityWarning, "governance", "Low governance score",
			fmt.Sprintf("Governance score %.2f is below %.2f", s.GovernanceScore, alertGovernanceBelow),
			"Work through the priority actions")
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Severity.Rank() < out[j].Severity.Rank() })
	return out
}

func effortFor(n, low, medium int) string {
	switch {
	case n <= low:
		return EffortLow
	case n <= medium:
		return EffortMedium
	default:
		return EffortHigh
	}
}

func priorityActions(cov *CoverageReport, src *SourceReport, obs *ObsolescenceReport) []PriorityAction {
	var out []PriorityAction

	for _, rc := range obs.ByRule {
		if rc.Severity != SeverityCritical && rc.Severity != SeverityHigh {
			continue
		}
		out = append(out, PriorityAction{
			Priority:        rc.Severity,
			Category:        "obsolescence",
			Action:          "Fix " + rc.RuleID,
			Description:     fmt.Sprintf("%s (%d detections)", rc.Description, rc.Count),
			EstimatedEffort: effortFor(rc.Count, 5, 20),
		})
	}
	for _, g := range cov.CoverageGaps {
		out = append(out, PriorityAction{
			Priority:        g.Severity,
			Category:        "coverage",
			Action:          fmt.Sprintf("Collect sources on %q", g.Topic),
			Description:     fmt.Sprintf("Result quality %.2f over %d queries", g.Score, g.QueryCount),
			EstimatedEffort: EffortMedium,
		})
	}
	if n := len(src.ObsoleteSources); n > 0 {
		out = append(out, PriorityAction{
			Priority:        SeverityMedium,
			Category:        "sources",
			Action:          fmt.Sprintf("Review %d obsolete sources", n),
			Description:     "Rarely used sources whose last activity is past the staleness cutoff",
			EstimatedEffort: effortFor(n, 10, 50),
		})
	}
	for _, rc := range obs.ByRule {
		if rc.Severity != SeverityMedium && rc.Severity != SeverityLow {
			continue
		}
		out = append(out, PriorityAction{
			Priority:        rc.Severity,
			Category:        "obsolescence",
			Action:          "Modernize content matched by " + rc.RuleID,
			Description:     fmt.Sprintf("%s (%d detections)", rc.Description, rc.Count),
			EstimatedEffort: effortFor(rc.Count, 10, 50),
		})
	}
	if src.TotalSources > 0 && src.ActiveRatio() < 1-alertInactiveAbove {
		out = append(out, PriorityAction{
			Priority:        SeverityLow,
			Category:        "sources",
			Action:          "Investigate unused sources",
			Description:     fmt.Sprintf("%d of %d sources were not accessed recently", src.TotalSources-src.ActiveSources, src.TotalSources),
			EstimatedEffort: EffortMedium,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority.Rank() < out[j].Priority.Rank() })
	if len(out) > 10 {
		out = out[:10]
	}
	if out == nil {
		out = []PriorityAction{}
	}
	return out
}

func mergeRecommendations(lists ...[]string) []string {
	out := []string{}
	seen := make(map[string]struct{})
	for _, l := range lists {
		for _, r := range l {
			if _, dup := seen[r]; dup {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
			if len(out) == 10 {
				return out
			}
		}
	}
	return out
}
