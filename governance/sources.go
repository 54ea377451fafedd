package governance

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/searchflow/rag"
)

// SourcesConfig configures a SourceAnalyzer.
type SourcesConfig struct {
	HighValueMinAccess int
	HighValueRecency   time.Duration
	// A source is obsolete only when it is both rarely used and stale.
	LowUsageThreshold int
	StaleAfter        time.Duration
	ActiveWindow      time.Duration
}

// DefaultSourcesConfig returns the default thresholds.
func DefaultSourcesConfig() SourcesConfig {
	return SourcesConfig{
		HighValueMinAccess: 10,
		HighValueRecency:   30 * 24 * time.Hour,
		LowUsageThreshold:  5,
		StaleAfter:         365 * 24 * time.Hour,
		ActiveWindow:       30 * 24 * time.Hour,
	}
}

// SourceUsage is the usage record of one source.
type SourceUsage struct {
	SourceID         string    `json:"source_id"`
	Category         string    `json:"category,omitempty"`
	AccessCount      int64     `json:"access_count"`
	AverageRelevance float64   `json:"average_relevance"`
	RegisteredAt     time.Time `json:"registered_at"`
	LastAccessed     time.Time `json:"last_accessed,omitempty"`
}

// LastActivity is the last access, or the registration time when the source
// was never accessed.
func (u SourceUsage) LastActivity() time.Time {
	if u.LastAccessed.IsZero() {
		return u.RegisteredAt
	}
	return u.LastAccessed
}

// SourceAnalyzer tracks per-source access counts and recency.
type SourceAnalyzer struct {
	cfg    SourcesConfig
	now    Clock
	logger *zap.Logger

	mu      sync.RWMutex
	sources map[string]*SourceUsage
}

// NewSourceAnalyzer creates an analyzer. Zero thresholds fall back to the
// defaults.
func NewSourceAnalyzer(cfg SourcesConfig, logger *zap.Logger) *SourceAnalyzer {
	def := DefaultSourcesConfig()
	if cfg.HighValueMinAccess <= 0 {
		cfg.HighValueMinAccess = def.HighValueMinAccess
	}
	if cfg.HighValueRecency <= 0 {
		cfg.HighValueRecency = def.HighValueRecency
	}
	if cfg.LowUsageThreshold <= 0 {
		cfg.LowUsageThreshold = def.LowUsageThreshold
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.ActiveWindow <= 0 {
		cfg.ActiveWindow = def.ActiveWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SourceAnalyzer{
		cfg:     cfg,
		now:     systemClock,
		logger:  logger.With(zap.String("component", "source_analyzer")),
		sources: make(map[string]*SourceUsage),
	}
}

// RegisterSource records a source seen at ingestion. Re-registering keeps
// the earliest registration time and fills a missing category.
func (a *SourceAnalyzer) RegisterSource(id, category string, at time.Time) {
	if id == "" {
		return
	}
	if at.IsZero() {
		at = a.now()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.register(id, category, at)
}

// register returns the usage record of id. Callers hold a.mu.
func (a *SourceAnalyzer) register(id, category string, at time.Time) *SourceUsage {
	u, ok := a.sources[id]
	if !ok {
		u = &SourceUsage{SourceID: id, Category: category, RegisteredAt: at}
		a.sources[id] = u
		return u
	}
	if at.Before(u.RegisteredAt) {
		u.RegisteredAt = at
	}
	if u.Category == "" {
		u.Category = category
	}
	return u
}

// RecordAccess counts one access. Unknown sources are registered at the
// access time.
func (a *SourceAnalyzer) RecordAccess(id, category string, relevance float64, at time.Time) {
	if id == "" {
		return
	}
	if at.IsZero() {
		at = a.now()
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	u := a.register(id, category, at)
	u.AccessCount++
	u.AverageRelevance += (clamp01(relevance) - u.AverageRelevance) / float64(u.AccessCount)
	if at.After(u.LastAccessed) {
		u.LastAccessed = at
	}
}

// ObserveSource implements CorpusObserver. The registration time is the
// item's own update time when it carries one.
func (a *SourceAnalyzer) ObserveSource(item rag.CorpusItem) {
	at, ok := item.UpdatedAt()
	if !ok {
		at = a.now()
	}
	a.RegisterSource(item.SourceID(), item.Category(), at)
}

// Consume implements EventConsumer. A source returned several times in one
// response counts as one access with its best score.
func (a *SourceAnalyzer) Consume(event rag.SearchEvent) {
	type hit struct {
		category string
		score    float64
	}
	hits := make(map[string]hit, len(event.Results))
	order := make([]string, 0, len(event.Results))
	for _, r := range event.Results {
		id := r.SourceID
		if id == "" {
			id = r.ItemID
		}
		h, ok := hits[id]
		if !ok {
			order = append(order, id)
			hits[id] = hit{category: r.Category, score: r.Score}
			continue
		}
		if r.Score > h.score {
			h.score = r.Score
			hits[id] = h
		}
	}
	for _, id := range order {
		h := hits[id]
		a.RecordAccess(id, h.category, h.score, event.At)
	}
}

// Usage returns every record sorted by source id.
func (a *SourceAnalyzer) Usage() []SourceUsage {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]SourceUsage, 0, len(a.sources))
	for _, u := range a.sources {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// Get returns the record of id.
func (a *SourceAnalyzer) Get(id string) (SourceUsage, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	u, ok := a.sources[id]
	if !ok {
		return SourceUsage{}, false
	}
	return *u, true
}

// Restore seeds the analyzer from persisted records.
func (a *SourceAnalyzer) Restore(usage []SourceUsage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, u := range usage {
		u := u
		a.sources[u.SourceID] = &u
	}
}

// HighValueSources returns sources with at least HighValueMinAccess accesses
// and activity inside HighValueRecency, most accessed first.
func (a *SourceAnalyzer) HighValueSources() []SourceUsage {
	cutoff := a.now().Add(-a.cfg.HighValueRecency)
	out := a.filter(func(u SourceUsage) bool {
		return u.AccessCount >= int64(a.cfg.HighValueMinAccess) && !u.LastActivity().Before(cutoff)
	})
	sortByAccess(out)
	return out
}

// ObsoleteSources returns sources below LowUsageThreshold accesses whose last
// activity is older than StaleAfter. Both conditions are required.
func (a *SourceAnalyzer) ObsoleteSources() []SourceUsage {
	cutoff := a.now().Add(-a.cfg.StaleAfter)
	out := a.filter(func(u SourceUsage) bool {
		return u.AccessCount < int64(a.cfg.LowUsageThreshold) && u.LastActivity().Before(cutoff)
	})
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].LastActivity(), out[j].LastActivity()
		if !ai.Equal(aj) {
			return ai.Before(aj)
		}
		return out[i].SourceID < out[j].SourceID
	})
	return out
}

func (a *SourceAnalyzer) filter(keep func(SourceUsage) bool) []SourceUsage {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := []SourceUsage{}
	for _, u := range a.sources {
		if keep(*u) {
			out = append(out, *u)
		}
	}
	return out
}

func sortByAccess(us []SourceUsage) {
	sort.Slice(us, func(i, j int) bool {
		if us[i].AccessCount != us[j].AccessCount {
			return us[i].AccessCount > us[j].AccessCount
		}
		return us[i].SourceID < us[j].SourceID
	})
}

// SourceReport summarizes source usage.
type SourceReport struct {
	GeneratedAt      time.Time        `json:"generated_at"`
	TotalSources     int              `json:"total_sources"`
	ActiveSources    int              `json:"active_sources"`
	HighValueSources []SourceUsage    `json:"high_value_sources"`
	ObsoleteSources  []SourceUsage    `json:"obsolete_sources"`
	CategoryUsage    map[string]int64 `json:"category_usage"`
	TopSources       []SourceUsage    `json:"top_sources"`
	Recommendations  []string         `json:"recommendations"`
}

// ActiveRatio is the share of sources active in the window; zero without
// sources.
func (r *SourceReport) ActiveRatio() float64 {
	if r.TotalSources == 0 {
		return 0
	}
	return float64(r.ActiveSources) / float64(r.TotalSources)
}

// HighValueRatio is the share of high value sources.
func (r *SourceReport) HighValueRatio() float64 {
	if r.TotalSources == 0 {
		return 0
	}
	return float64(len(r.HighValueSources)) / float64(r.TotalSources)
}

// ObsoleteRatio is the share of obsolete sources.
func (r *SourceReport) ObsoleteRatio() float64 {
	if r.TotalSources == 0 {
		return 0
	}
	return float64(len(r.ObsoleteSources)) / float64(r.TotalSources)
}

// Report computes the source report.
func (a *SourceAnalyzer) Report() *SourceReport {
	now := a.now()
	r := &SourceReport{
		GeneratedAt:      now,
		HighValueSources: a.HighValueSources(),
		ObsoleteSources:  a.ObsoleteSources(),
		CategoryUsage:    make(map[string]int64),
	}

	active := now.Add(-a.cfg.ActiveWindow)
	all := a.Usage()
	r.TotalSources = len(all)
	for _, u := range all {
		if !u.LastAccessed.IsZero() && !u.LastAccessed.Before(active) {
			r.ActiveSources++
		}
		cat := u.Category
		if cat == "" {
			cat = "uncategorized"
		}
		r.CategoryUsage[cat] += u.AccessCount
	}

	top := make([]SourceUsage, 0, len(all))
	for _, u := range all {
		if u.AccessCount > 0 {
			top = append(top, u)
		}
	}
	sortByAccess(top)
	if len(top) > 10 {
		top = top[:10]
	}
	r.TopSources = top
	r.Recommendations = a.recommendations(r)
	return r
}

func (a *SourceAnalyzer) recommendations(r *SourceReport) []string {
	out := []string{}
	if n := len(r.ObsoleteSources); n > 0 {
		out = append(out, fmt.Sprintf("Review or retire %d obsolete sources unused for over %d days",
			n, int(a.cfg.StaleAfter.Hours()/24)))
	}
	if n := len(r.HighValueSources); n > 0 {
		out = append(out, fmt.Sprintf("Keep %d high value sources current; they serve most queries", n))
	}
	if r.TotalSources > 0 && r.ActiveRatio() < 0.7 {
		out = append(out, fmt.Sprintf("Only %.0f%% of sources were used in the last %d days; check retrieval relevance",
			r.ActiveRatio()*100, int(a.cfg.ActiveWindow.Hours()/24)))
	}
	if r.TotalSources > 0 && len(r.HighValueSources) == 0 {
		out = append(out, "No high value sources yet; monitor usage before pruning")
	}
	return out
}
