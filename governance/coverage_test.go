package governance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/searchflow/rag"
)

func newTestMonitor() *CoverageMonitor {
	m := NewCoverageMonitor(DefaultCoverageConfig(), nil)
	m.now = fixedClock(testNow)
	return m
}

func TestCoverageMonitor_Classify(t *testing.T) {
	m := newTestMonitor()

	tests := []struct {
		name       string
		query      string
		categories []string
		want       []string
	}{
		{name: "taxonomy order", query: "How to use React hooks with Next.js", want: []string{"react", "nextjs", "hooks"}},
		{name: "word boundary", query: "reactive streams in preact", want: nil},
		{name: "alias", query: "deploy to k8s", want: []string{"kubernetes"}},
		{name: "hyphenated topic", query: "error-handling in express", want: []string{"express", "error-handling"}},
		{name: "category fallback", query: "something unrelated", categories: []string{"Docker", "docker", "unknown"}, want: []string{"docker"}},
		{name: "query wins over categories", query: "redis streams", categories: []string{"docker"}, want: []string{"redis"}},
		{name: "nothing", query: "something unrelated", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Classify(tt.query, tt.categories))
		})
	}
}

func TestQueryQuality(t *testing.T) {
	assert.Zero(t, QueryQuality(nil))
	assert.InDelta(t, 0.5, QueryQuality([]float64{1.5, 0.5, -1}), 1e-9)
	assert.InDelta(t, 0.8, QueryQuality([]float64{0.8}), 1e-9)
}

func TestCoverageMonitor_QualityEWMA(t *testing.T) {
	m := newTestMonitor()
	m.RecordQuery("react", []string{"react"}, []float64{0.9}, testNow)
	m.RecordQuery("react", []string{"react"}, []float64{0.4}, testNow)
	m.RecordQuery("react", []string{"react"}, nil, testNow)

	stats := m.Stats()
	require.Len(t, stats, 1)
	s := stats[0]
	assert.Equal(t, "react", s.Topic)
	assert.True(t, s.Known)
	assert.Equal(t, int64(3), s.QueryCount)
	assert.Equal(t, int64(1), s.ZeroResultQueries)
	// 0.9, then 0.2*0.4 + 0.8*0.9 = 0.8, then 0.8*0.8 = 0.64.
	assert.InDelta(t, 0.64, s.AverageQuality, 1e-9)
	assert.Equal(t, testNow, s.LastQueried)
}

func TestCoverageMonitor_Consume(t *testing.T) {
	m := newTestMonitor()
	m.Consume(event("prisma migrations", testNow,
		result("a", "s1", "database", 0.9),
		result("b", "s2", "database", 0.7),
	))
	m.Consume(event("nothing here", testNow, result("c", "s3", "prisma", 0.5)))

	stats := m.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, "prisma", stats[0].Topic)
	assert.Equal(t, int64(2), stats[0].QueryCount)
}

// Eight queries over the taxonomy, three of them poorly answered.
func TestCoverageMonitor_PoorlyCoveredScenario(t *testing.T) {
	m := newTestMonitor()
	at := testNow.Add(-time.Hour)
	queries := []struct {
		q     string
		score float64
	}{
		{"typescript generics", 0.9},
		{"docker compose setup", 0.85},
		{"redis pipelines", 0.8},
		{"jest mocking", 0.9},
		{"tailwind dark mode", 0.95},
		{"kubernetes ingress", 0.2},
		{"seo metadata", 0.3},
		{"websockets reconnect", 0.1},
	}
	for i, q := range queries {
		m.Consume(event(q.q, at, result(string(rune('a'+i)), "src", "", q.score)))
	}

	r := m.Report()
	assert.GreaterOrEqual(t, r.PoorlyCoveredTopics, 3)
	require.NotEmpty(t, r.CoverageGaps)

	gapTopics := make([]string, 0, len(r.CoverageGaps))
	for _, g := range r.CoverageGaps {
		gapTopics = append(gapTopics, g.Topic)
		assert.Equal(t, SeverityMedium, g.Severity)
	}
	assert.Equal(t, []string{"websockets", "kubernetes", "seo"}, gapTopics)

	assert.Equal(t, 46, r.KnownTopics)
	assert.Equal(t, 8, r.ObservedTopics)
	assert.Equal(t, 5, r.WellCoveredTopics)
	assert.InDelta(t, 0.109, r.OverallCoverage, 1e-9)
	assert.Len(t, r.TrendingTopics, 8)
	assert.NotEmpty(t, r.Recommendations)
	assert.LessOrEqual(t, len(r.Recommendations), 10)

	var lowCoverage, insufficient int
	for _, g := range r.KnowledgeGaps {
		switch g.Type {
		case GapLowCoverage:
			lowCoverage++
		case GapInsufficientSources:
			insufficient++
			assert.Equal(t, SeverityHigh, g.Severity)
		}
	}
	assert.Equal(t, 3, lowCoverage)
	assert.Equal(t, 8, insufficient)
	assert.Equal(t, SeverityHigh, r.KnowledgeGaps[0].Severity)
}

func TestCoverageMonitor_CriticalGapRecommendationFirst(t *testing.T) {
	m := newTestMonitor()
	for i := 0; i < 6; i++ {
		m.RecordQuery("graphql", []string{"graphql"}, []float64{0.1}, testNow)
	}
	m.RecordQuery("css", []string{"css"}, []float64{0.5}, testNow)

	r := m.Report()
	require.NotEmpty(t, r.Recommendations)
	assert.Contains(t, r.Recommendations[0], `"graphql"`)
	assert.Contains(t, r.Recommendations[0], "Collect more sources")
	require.Len(t, r.CoverageGaps, 2)
	assert.Equal(t, SeverityHigh, r.CoverageGaps[0].Severity)
}

func TestCoverageMonitor_TrendingWindow(t *testing.T) {
	m := newTestMonitor()
	m.RecordQuery("old", []string{"aws"}, []float64{0.9}, testNow.Add(-10*24*time.Hour))
	m.RecordQuery("new", []string{"vercel"}, []float64{0.9}, testNow.Add(-time.Hour))
	m.RecordQuery("new", []string{"vercel"}, []float64{0.9}, testNow.Add(-2*time.Hour))

	r := m.Report()
	assert.Equal(t, []TrendingTopic{{Topic: "vercel", Queries: 2}}, r.TrendingTopics)
	assert.Equal(t, 2, r.ObservedTopics)
}

func TestCoverageMonitor_NoResultGaps(t *testing.T) {
	m := newTestMonitor()
	m.Consume(event("astro islands", testNow))
	m.Consume(event("python asyncio", testNow))

	r := m.Report()
	var noResults []KnowledgeGap
	for _, g := range r.KnowledgeGaps {
		if g.Type == GapNoResults {
			noResults = append(noResults, g)
		}
	}
	require.Len(t, noResults, 2)
	bySeverity := map[Severity]string{}
	for _, g := range noResults {
		bySeverity[g.Severity] = g.Query
	}
	assert.Equal(t, "python asyncio", bySeverity[SeverityHigh])
	assert.Equal(t, "astro islands", bySeverity[SeverityMedium])
}

func TestCoverageMonitor_ObserveSource(t *testing.T) {
	m := newTestMonitor()
	m.ObserveSource(rag.CorpusItem{ID: "1", Text: "Run it in Docker", Metadata: map[string]any{
		"category": "React", "tags": []any{"hooks", "unknown"}, "source": "blog",
	}})
	m.ObserveSource(rag.CorpusItem{ID: "2", Text: "more react", Metadata: map[string]any{"source": "blog"}})
	m.ObserveSource(rag.CorpusItem{ID: "3", Text: "react docs", Metadata: map[string]any{"source": "docs"}})

	counts := map[string]int{}
	for _, s := range m.Stats() {
		counts[s.Topic] = s.SourceCount
		assert.Zero(t, s.QueryCount)
	}
	assert.Equal(t, map[string]int{"react": 2, "hooks": 1, "docker": 1}, counts)
}

func TestCoverageMonitor_Restore(t *testing.T) {
	m := newTestMonitor()
	m.Restore([]TopicStats{{Topic: "react", QueryCount: 4, AverageQuality: 0.7}})
	m.RecordQuery("react", []string{"react"}, []float64{0.2}, testNow)

	stats := m.Stats()
	require.Len(t, stats, 1)
	assert.True(t, stats[0].Known)
	assert.Equal(t, int64(5), stats[0].QueryCount)
	assert.InDelta(t, 0.2*0.2+0.8*0.7, stats[0].AverageQuality, 1e-9)
}

func TestCoverageMonitor_Defaults(t *testing.T) {
	m := NewCoverageMonitor(CoverageConfig{Topics: []string{" React ", "react", ""}}, nil)
	assert.Equal(t, []string{"react"}, m.Topics())

	r := m.Report()
	assert.Equal(t, 1, r.KnownTopics)
	assert.Zero(t, r.OverallCoverage)
	assert.Empty(t, r.CoverageGaps)
}
