package governance

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/searchflow/rag"
)

// CoverageConfig configures a CoverageMonitor.
type CoverageConfig struct {
	// A known topic is covered once it has MinQueries queries with an
	// average result quality of at least MinQuality.
	MinQuality         float64
	MinQueries         int
	MinSourcesPerTopic int
	// EWMA smoothing factor for the average result quality.
	QualityAlpha   float64
	TrendingWindow time.Duration
	Topics         []string
}

// DefaultTopics is the known topic taxonomy.
func DefaultTopics() []string {
	return []string{
		"react", "nextjs", "typescript", "javascript", "tailwind", "css",
		"nodejs", "express", "fastapi", "python", "authentication", "database",
		"prisma", "mongodb", "postgresql", "redis", "docker", "kubernetes",
		"aws", "vercel", "deployment", "testing", "jest", "playwright",
		"security", "performance", "optimization", "seo", "accessibility",
		"ui", "ux", "design", "components", "hooks", "state-management",
		"api", "rest", "graphql", "websockets", "real-time", "caching",
		"monitoring", "logging", "analytics", "error-handling", "debugging",
	}
}

// DefaultCoverageConfig returns the default thresholds.
func DefaultCoverageConfig() CoverageConfig {
	return CoverageConfig{
		MinQuality:         0.6,
		MinQueries:         1,
		MinSourcesPerTopic: 3,
		QualityAlpha:       0.2,
		TrendingWindow:     7 * 24 * time.Hour,
		Topics:             DefaultTopics(),
	}
}

// topicAliases maps common spellings onto taxonomy topics.
var topicAliases = map[string][]string{
	"nextjs":           {"next.js", "next js"},
	"nodejs":           {"node.js", "node js", "node"},
	"postgresql":       {"postgres"},
	"kubernetes":       {"k8s"},
	"tailwind":         {"tailwindcss"},
	"authentication":   {"auth", "login", "oauth", "jwt"},
	"testing":          {"tests", "unit test", "e2e"},
	"state-management": {"state management", "redux", "zustand"},
	"real-time":        {"realtime", "real time"},
	"error-handling":   {"error handling"},
	"websockets":       {"websocket"},
	"caching":          {"cache"},
	"components":       {"component"},
	"database":         {"databases", "sql"},
}

const (
	maxRecentQueries = 1000
	maxFailedQueries = 100
)

// TopicStats are the accumulated statistics of one topic bucket.
type TopicStats struct {
	Topic             string    `json:"topic"`
	Known             bool      `json:"known"`
	QueryCount        int64     `json:"query_count"`
	AverageQuality    float64   `json:"average_result_quality"`
	ZeroResultQueries int64     `json:"zero_result_queries"`
	SourceCount       int       `json:"source_count"`
	LastQueried       time.Time `json:"last_queried,omitempty"`
}

type topicState struct {
	stats   TopicStats
	sources map[string]struct{}
	recent  []time.Time
}

type failedQuery struct {
	query  string
	topics []string
	at     time.Time
}

type topicMatcher struct {
	topic string
	re    *regexp.Regexp
}

// CoverageMonitor tracks how well the corpus answers each topic. Writes come
// from the pipeline goroutine; reports may be taken concurrently.
type CoverageMonitor struct {
	cfg      CoverageConfig
	known    map[string]struct{}
	matchers []topicMatcher
	now      Clock
	logger   *zap.Logger

	mu     sync.RWMutex
	topics map[string]*topicState
	failed []failedQuery
}

// NewCoverageMonitor creates a monitor. Zero thresholds fall back to the
// defaults.
func NewCoverageMonitor(cfg CoverageConfig, logger *zap.Logger) *CoverageMonitor {
	def := DefaultCoverageConfig()
	if cfg.MinQuality <= 0 {
		cfg.MinQuality = def.MinQuality
	}
	if cfg.MinQueries <= 0 {
		cfg.MinQueries = def.MinQueries
	}
	if cfg.MinSourcesPerTopic <= 0 {
		cfg.MinSourcesPerTopic = def.MinSourcesPerTopic
	}
	if cfg.QualityAlpha <= 0 || cfg.QualityAlpha > 1 {
		cfg.QualityAlpha = def.QualityAlpha
	}
	if cfg.TrendingWindow <= 0 {
		cfg.TrendingWindow = def.TrendingWindow
	}
	if len(cfg.Topics) == 0 {
		cfg.Topics = def.Topics
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &CoverageMonitor{
		cfg:    cfg,
		known:  make(map[string]struct{}, len(cfg.Topics)),
		now:    systemClock,
		logger: logger.With(zap.String("component", "coverage_monitor")),
		topics: make(map[string]*topicState),
	}
	for _, t := range cfg.Topics {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := m.known[t]; dup {
			continue
		}
		m.known[t] = struct{}{}
		m.matchers = append(m.matchers, topicMatcher{topic: t, re: phraseRegexp(append([]string{t}, topicAliases[t]...))})
	}
	return m
}

// phraseRegexp matches any of the phrases on letter/digit boundaries.
func phraseRegexp(phrases []string) *regexp.Regexp {
	quoted := make([]string, len(phrases))
	for i, p := range phrases {
		quoted[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`(?:^|[^\p{L}\p{N}])(?:` + strings.Join(quoted, "|") + `)(?:$|[^\p{L}\p{N}])`)
}

// Topics returns the known taxonomy.
func (m *CoverageMonitor) Topics() []string {
	out := make([]string, 0, len(m.matchers))
	for _, tm := range m.matchers {
		out = append(out, tm.topic)
	}
	return out
}

// Classify returns the topics a query belongs to: known topics named in the
// text, or else the known topics among the result categories.
func (m *CoverageMonitor) Classify(query string, resultCategories []string) []string {
	text := strings.ToLower(query)
	var topics []string
	for _, tm := range m.matchers {
		if tm.re.MatchString(text) {
			topics = append(topics, tm.topic)
		}
	}
	if len(topics) > 0 {
		return topics
	}

	seen := make(map[string]struct{})
	for _, c := range resultCategories {
		c = strings.ToLower(strings.TrimSpace(c))
		if _, ok := m.known[c]; !ok {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		topics = append(topics, c)
	}
	sort.Strings(topics)
	return topics
}

// Consume implements EventConsumer.
func (m *CoverageMonitor) Consume(event rag.SearchEvent) {
	categories := make([]string, 0, len(event.Results))
	scores := make([]float64, 0, len(event.Results))
	for _, r := range event.Results {
		categories = append(categories, r.Category)
		scores = append(scores, r.Score)
	}
	at := event.At
	if at.IsZero() {
		at = m.now()
	}
	m.RecordQuery(event.Query, m.Classify(event.Query, categories), scores, at)
}

// QueryQuality is the mean of the result scores clamped to [0, 1]; no
// results means zero quality.
func QueryQuality(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range scores {
		sum += clamp01(s)
	}
	return sum / float64(len(scores))
}

// RecordQuery adds one query observation to each of topics.
func (m *CoverageMonitor) RecordQuery(query string, topics []string, scores []float64, at time.Time) {
	quality := QueryQuality(scores)
	zero := len(scores) == 0

	m.mu.Lock()
	defer m.mu.Unlock()

	if zero {
		m.failed = append(m.failed, failedQuery{query: query, topics: topics, at: at})
		if len(m.failed) > maxFailedQueries {
			m.failed = m.failed[len(m.failed)-maxFailedQueries:]
		}
	}

	cutoff := at.Add(-m.cfg.TrendingWindow)
	for _, topic := range topics {
		st := m.state(topic)
		if st.stats.QueryCount == 0 {
			st.stats.AverageQuality = quality
		} else {
			a := m.cfg.QualityAlpha
			st.stats.AverageQuality = a*quality + (1-a)*st.stats.AverageQuality
		}
		st.stats.QueryCount++
		if zero {
			st.stats.ZeroResultQueries++
		}
		if at.After(st.stats.LastQueried) {
			st.stats.LastQueried = at
		}
		st.recent = pruneBefore(append(st.recent, at), cutoff)
		if len(st.recent) > maxRecentQueries {
			st.recent = st.recent[len(st.recent)-maxRecentQueries:]
		}
	}

	m.logger.Debug("query coverage recorded",
		zap.Strings("topics", topics),
		zap.Float64("quality", quality),
	)
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}

// state returns the accumulator of topic. Callers hold m.mu.
func (m *CoverageMonitor) state(topic string) *topicState {
	st, ok := m.topics[topic]
	if !ok {
		_, known := m.known[topic]
		st = &topicState{
			stats:   TopicStats{Topic: topic, Known: known},
			sources: make(map[string]struct{}),
		}
		m.topics[topic] = st
	}
	return st
}

// ObserveSource implements CorpusObserver: the item's source counts towards
// every topic named by its category, tags or text.
func (m *CoverageMonitor) ObserveSource(item rag.CorpusItem) {
	topics := make(map[string]struct{})
	if c := strings.ToLower(item.Category()); c != "" {
		if _, ok := m.known[c]; ok {
			topics[c] = struct{}{}
		}
	}
	for _, tag := range itemTags(item) {
		if _, ok := m.known[tag]; ok {
			topics[tag] = struct{}{}
		}
	}
	text := strings.ToLower(item.Text)
	for _, tm := range m.matchers {
		if tm.re.MatchString(text) {
			topics[tm.topic] = struct{}{}
		}
	}

	source := item.SourceID()
	m.mu.Lock()
	defer m.mu.Unlock()
	for t := range topics {
		st := m.state(t)
		st.sources[source] = struct{}{}
		st.stats.SourceCount = len(st.sources)
	}
}

func itemTags(item rag.CorpusItem) []string {
	var tags []string
	switch v := item.Metadata["tags"].(type) {
	case []string:
		tags = v
	case []any:
		for _, t := range v {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
	case string:
		tags = strings.Split(v, ",")
	}
	for i, t := range tags {
		tags[i] = strings.ToLower(strings.TrimSpace(t))
	}
	return tags
}

// Stats returns the statistics of every observed topic sorted by name.
func (m *CoverageMonitor) Stats() []TopicStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TopicStats, 0, len(m.topics))
	for _, st := range m.topics {
		out = append(out, st.stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

// Restore seeds the accumulators from persisted statistics. Source sets and
// trending history are not persisted and start empty.
func (m *CoverageMonitor) Restore(stats []TopicStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range stats {
		st := m.state(s.Topic)
		known := st.stats.Known
		st.stats = s
		st.stats.Known = known
	}
}

// =============================================================================
// 📋 Report
// =============================================================================

// CoverageGap is a queried topic whose results fall below the quality
// threshold.
type CoverageGap struct {
	Topic      string   `json:"topic"`
	Score      float64  `json:"score"`
	QueryCount int64    `json:"query_count"`
	Severity   Severity `json:"severity"`
}

// Knowledge gap types.
const (
	GapNoResults           = "no_results"
	GapLowCoverage         = "low_coverage"
	GapInsufficientSources = "insufficient_sources"
)

// KnowledgeGap is one concrete hole in the corpus.
type KnowledgeGap struct {
	Type         string    `json:"type"`
	Topic        string    `json:"topic,omitempty"`
	Query        string    `json:"query,omitempty"`
	Topics       []string  `json:"topics,omitempty"`
	Score        float64   `json:"score,omitempty"`
	QueryCount   int64     `json:"query_count,omitempty"`
	SourceCount  int       `json:"source_count"`
	NeededSource int       `json:"needed_sources,omitempty"`
	Severity     Severity  `json:"severity"`
	At           time.Time `json:"at,omitempty"`
}

// TrendingTopic is a topic ranked by recent query volume.
type TrendingTopic struct {
	Topic   string `json:"topic"`
	Queries int    `json:"queries"`
}

// CoverageReport summarizes topic coverage.
type CoverageReport struct {
	GeneratedAt         time.Time       `json:"generated_at"`
	OverallCoverage     float64         `json:"overall_coverage"`
	KnownTopics         int             `json:"known_topics"`
	ObservedTopics      int             `json:"observed_topics"`
	WellCoveredTopics   int             `json:"well_covered_topics"`
	PoorlyCoveredTopics int             `json:"poorly_covered_topics"`
	CoverageGaps        []CoverageGap   `json:"coverage_gaps"`
	TrendingTopics      []TrendingTopic `json:"trending_topics"`
	KnowledgeGaps       []KnowledgeGap  `json:"knowledge_gaps"`
	Topics              []TopicStats    `json:"topics"`
	Recommendations     []string        `json:"recommendations"`
}

// Report computes the coverage report.
func (m *CoverageMonitor) Report() *CoverageReport {
	now := m.now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	r := &CoverageReport{
		GeneratedAt:     now,
		KnownTopics:     len(m.known),
		CoverageGaps:    []CoverageGap{},
		TrendingTopics:  []TrendingTopic{},
		KnowledgeGaps:   []KnowledgeGap{},
		Topics:          make([]TopicStats, 0, len(m.topics)),
		Recommendations: []string{},
	}

	covered := 0
	var poor []TopicStats
	for _, st := range m.topics {
		s := st.stats
		r.Topics = append(r.Topics, s)
		if s.QueryCount == 0 {
			continue
		}
		r.ObservedTopics++
		if s.AverageQuality < m.cfg.MinQuality {
			poor = append(poor, s)
			continue
		}
		if s.QueryCount >= int64(m.cfg.MinQueries) {
			r.WellCoveredTopics++
			if s.Known {
				covered++
			}
		}
	}
	sort.Slice(r.Topics, func(i, j int) bool { return r.Topics[i].Topic < r.Topics[j].Topic })
	if len(m.known) > 0 {
		r.OverallCoverage = round3(float64(covered) / float64(len(m.known)))
	}

	sort.Slice(poor, func(i, j int) bool {
		if poor[i].AverageQuality != poor[j].AverageQuality {
			return poor[i].AverageQuality < poor[j].AverageQuality
		}
		return poor[i].Topic < poor[j].Topic
	})
	r.PoorlyCoveredTopics = len(poor)
	for _, s := range poor {
		sev := SeverityMedium
		if s.QueryCount > 5 {
			sev = SeverityHigh
		}
		r.CoverageGaps = append(r.CoverageGaps, CoverageGap{
			Topic:      s.Topic,
			Score:      round3(s.AverageQuality),
			QueryCount: s.QueryCount,
			Severity:   sev,
		})
	}

	r.TrendingTopics = m.trending(now)
	r.KnowledgeGaps = m.knowledgeGaps(poor)
	r.Recommendations = m.recommendations(poor)
	return r
}

// trending ranks topics by queries inside the trending window. Callers hold
// m.mu.
func (m *CoverageMonitor) trending(now time.Time) []TrendingTopic {
	cutoff := now.Add(-m.cfg.TrendingWindow)
	out := []TrendingTopic{}
	for topic, st := range m.topics {
		n := 0
		for _, at := range st.recent {
			if !at.Before(cutoff) {
				n++
			}
		}
		if n > 0 {
			out = append(out, TrendingTopic{Topic: topic, Queries: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Queries != out[j].Queries {
			return out[i].Queries > out[j].Queries
		}
		return out[i].Topic < out[j].Topic
	})
	if len(out) > 10 {
		out = out[:10]
	}
	return out
}

// knowledgeGaps lists failed queries, poorly covered topics and popular
// topics short of sources, high severity first. Callers hold m.mu.
func (m *CoverageMonitor) knowledgeGaps(poor []TopicStats) []KnowledgeGap {
	gaps := []KnowledgeGap{}
	for i := len(m.failed) - 1; i >= 0; i-- {
		f := m.failed[i]
		sev := SeverityMedium
		if len(f.topics) > 0 {
			sev = SeverityHigh
		}
		gaps = append(gaps, KnowledgeGap{Type: GapNoResults, Query: f.query, Topics: f.topics, Severity: sev, At: f.at})
	}
	for _, s := range poor {
		sev := SeverityMedium
		if s.QueryCount > 5 {
			sev = SeverityHigh
		}
		gaps = append(gaps, KnowledgeGap{
			Type:        GapLowCoverage,
			Topic:       s.Topic,
			Score:       round3(s.AverageQuality),
			QueryCount:  s.QueryCount,
			SourceCount: s.SourceCount,
			Severity:    sev,
		})
	}
	for _, s := range m.popular(20) {
		if s.SourceCount >= m.cfg.MinSourcesPerTopic {
			continue
		}
		gaps = append(gaps, KnowledgeGap{
			Type:         GapInsufficientSources,
			Topic:        s.Topic,
			QueryCount:   s.QueryCount,
			SourceCount:  s.SourceCount,
			NeededSource: m.cfg.MinSourcesPerTopic - s.SourceCount,
			Severity:     SeverityHigh,
		})
	}
	sort.SliceStable(gaps, func(i, j int) bool {
		if gaps[i].Severity != gaps[j].Severity {
			return gaps[i].Severity.Rank() < gaps[j].Severity.Rank()
		}
		return gaps[i].QueryCount > gaps[j].QueryCount
	})
	return gaps
}

// popular returns up to n queried topics by query volume. Callers hold m.mu.
func (m *CoverageMonitor) popular(n int) []TopicStats {
	out := make([]TopicStats, 0, len(m.topics))
	for _, st := range m.topics {
		if st.stats.QueryCount > 0 {
			out = append(out, st.stats)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].QueryCount != out[j].QueryCount {
			return out[i].QueryCount > out[j].QueryCount
		}
		return out[i].Topic < out[j].Topic
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// recommendations ranks remediation advice. Callers hold m.mu.
func (m *CoverageMonitor) recommendations(poor []TopicStats) []string {
	out := []string{}
	seen := make(map[string]struct{})
	add := func(topic, text string) {
		if _, dup := seen[topic]; dup || len(out) >= 10 {
			return
		}
		seen[topic] = struct{}{}
		out = append(out, text)
	}

	for _, s := range poor {
		if s.AverageQuality < 0.3 && s.QueryCount > 3 {
			add(s.Topic, fmt.Sprintf("Collect more sources on %q: quality %.2f over %d queries with only %d sources",
				s.Topic, s.AverageQuality, s.QueryCount, s.SourceCount))
		}
	}

	byVolume := append([]TopicStats(nil), poor...)
	sort.SliceStable(byVolume, func(i, j int) bool { return byVolume[i].QueryCount > byVolume[j].QueryCount })
	for _, s := range byVolume {
		add(s.Topic, fmt.Sprintf("Improve coverage of %q: average result quality %.2f is below %.2f",
			s.Topic, s.AverageQuality, m.cfg.MinQuality))
	}

	for _, s := range m.popular(5) {
		if s.SourceCount < m.cfg.MinSourcesPerTopic {
			add(s.Topic, fmt.Sprintf("Expand %q: popular topic with only %d sources", s.Topic, s.SourceCount))
		}
	}
	return out
}
