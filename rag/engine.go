package rag

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/searchflow/internal/telemetry"
	"github.com/BaSui01/searchflow/types"
)

// Search outcomes reported to the Observer.
const (
	OutcomeOK       = "ok"
	OutcomeCacheHit = "cache_hit"
	OutcomeEmpty    = "empty"
	OutcomeDegraded = "degraded"
	OutcomeError    = "error"
)

// Observer receives engine metrics; *metrics.Collector satisfies it.
type Observer interface {
	RecordSearch(outcome, accessLevel string, results int, total time.Duration)
	RecordStage(stage string, d time.Duration)
	RecordRetrieverFailure(channel string)
	RecordRestrictedFiltered(n int)
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
	RecordCacheError(cacheType, op string)
}

type nopObserver struct{}

func (nopObserver) RecordSearch(string, string, int, time.Duration) {}
func (nopObserver) RecordStage(string, time.Duration)               {}
func (nopObserver) RecordRetrieverFailure(string)                   {}
func (nopObserver) RecordRestrictedFiltered(int)                    {}
func (nopObserver) RecordCacheHit(string)                           {}
func (nopObserver) RecordCacheMiss(string)                          {}
func (nopObserver) RecordCacheError(string, string)                 {}

// EngineConfig holds engine-level settings.
type EngineConfig struct {
	// Retrievers are asked for TopK * CandidateMultiplier hits.
	CandidateMultiplier int
	CacheTTL            time.Duration
}

// DefaultEngineConfig returns the default engine settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{CandidateMultiplier: 2, CacheTTL: 5 * time.Minute}
}

// EngineDeps are the collaborators of an Engine. Processor and Corpus are
// required; a nil retriever disables its channel, a nil Cache disables
// caching and a nil Sink disables governance events.
type EngineDeps struct {
	Processor   *QueryProcessor
	Corpus      Corpus
	Vector      Retriever
	Text        Retriever
	Access      *AccessController
	Merger      *Merger
	Reranker    *Reranker
	Cache       SearchCache
	Sink        EventSink
	Observer    Observer
	Instruments *telemetry.Instruments
}

// Engine orchestrates one search per call:
// Received → Processed → Retrieved → AccessFiltered → Reranked → Cached/Returned.
// A cache hit jumps from Received to Returned.
type Engine struct {
	deps   EngineDeps
	cfg    EngineConfig
	logger *zap.Logger

	stats engineStats
}

// NewEngine wires an engine.
func NewEngine(deps EngineDeps, cfg EngineConfig, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Processor == nil {
		return nil, errors.New("engine: query processor is required")
	}
	if deps.Corpus == nil {
		return nil, errors.New("engine: corpus is required")
	}
	if deps.Access == nil {
		deps.Access = NewAccessController(logger)
	}
	if deps.Merger == nil {
		deps.Merger = NewMerger(DefaultMergerConfig())
	}
	if deps.Reranker == nil {
		deps.Reranker = NewReranker(nil, DefaultRerankerConfig(), nil, logger)
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = DefaultEngineConfig().CandidateMultiplier
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultEngineConfig().CacheTTL
	}
	return &Engine{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "search_engine")),
	}, nil
}

// Search runs one request. Only validation failures and caller cancellation
// are returned as errors; retriever, judge and cache failures degrade the
// response instead.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (resp *SearchResponse, err error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "search",
		attribute.Int("search.top_k", req.TopK),
		attribute.Bool("search.include_rationale", req.IncludeRationale),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	q, err := e.deps.Processor.Process(req.Query, req.Filters, req.TopK)
	if err != nil {
		e.stats.errors.Add(1)
		e.deps.Observer.RecordSearch(OutcomeError, "", 0, time.Since(start))
		return nil, err
	}
	q.Module, q.TaskHint = req.Module, req.TaskHint
	processing := time.Since(start)
	e.deps.Observer.RecordStage("process", processing)
	span.SetAttributes(
		attribute.Bool("search.authorized", q.Authorized),
		attribute.String("search.intent", string(q.Intent)),
	)
	e.logger.Debug("search processed", zap.String("intent", string(q.Intent)), zap.Int("top_k", q.TopK))

	var key string
	if e.deps.Cache != nil {
		key = CacheKey(q)
		if entry := e.cacheGet(ctx, key); entry != nil {
			hit := entry.Response
			hit.Cached = true
			hit.SearchTimeMs = ms(time.Since(start))
			out := &hit
			if !req.IncludeRationale {
				out = out.withoutRationale()
			}
			e.finish(ctx, q, out, OutcomeCacheHit, start)
			return out, nil
		}
	}

	retrievalStart := time.Now()
	vecHits, textHits, degraded := e.retrieve(ctx, q)
	if err := ctx.Err(); err != nil {
		e.stats.errors.Add(1)
		return nil, err
	}

	vecCands, textCands, lookupErr := e.resolve(ctx, q, vecHits, textHits)
	if lookupErr != nil {
		if err := ctx.Err(); err != nil {
			e.stats.errors.Add(1)
			return nil, err
		}
		e.logger.Warn("corpus lookup failed, dropping candidates", zap.Error(lookupErr))
		degraded = append(degraded, "corpus")
	}
	retrieval := time.Since(retrievalStart)
	e.logger.Debug("search retrieved",
		zap.Int("vector_hits", len(vecHits)),
		zap.Int("text_hits", len(textHits)),
		zap.Strings("degraded", degraded),
	)

	vecCands, textCands, decision := e.filter(ctx, q, vecCands, textCands)

	merged := e.merge(ctx, vecCands, textCands)

	env := e.deps.Reranker.Rerank(ctx, q, merged, RerankContext{Module: req.Module, TaskHint: req.TaskHint})
	e.deps.Observer.RecordStage("rerank", env.Elapsed)
	if err := ctx.Err(); err != nil {
		e.stats.errors.Add(1)
		return nil, err
	}

	final := env.Results
	if len(final) > q.TopK {
		final = final[:q.TopK]
	}

	resp = &SearchResponse{
		Items: make([]ResultItem, 0, len(final)),
		SearchStats: SearchStats{
			VectorResults:    len(vecCands),
			TextResults:      len(textCands),
			MergedResults:    len(merged),
			Reranked:         env.Reranked,
			DegradedChannels: degraded,
			Intent:           q.Intent,
			ProcessingMs: ProcessingTimes{
				Processing: ms(processing),
				Retrieval:  ms(retrieval),
				Rerank:     ms(env.Elapsed),
			},
			AccessControl: decision,
		},
	}
	for _, c := range final {
		resp.Items = append(resp.Items, toResultItem(c))
	}
	resp.Total = len(resp.Items)
	resp.SearchTimeMs = ms(time.Since(start))

	outcome := OutcomeOK
	switch {
	case len(degraded) > 0 || env.Cause != nil:
		outcome = OutcomeDegraded
	case resp.Total == 0:
		outcome = OutcomeEmpty
	}

	// Only complete responses are cached.
	if e.deps.Cache != nil && outcome == OutcomeOK && ctx.Err() == nil {
		e.cachePut(ctx, key, resp)
	}

	out := resp
	if !req.IncludeRationale {
		out = resp.withoutRationale()
	}
	e.finish(ctx, q, out, outcome, start)
	return out, nil
}

// retrieve fans out to both channels and waits for both. A failed channel
// degrades to an empty list.
func (e *Engine) retrieve(ctx context.Context, q *Query) (vector, text []Hit, degraded []string) {
	n := q.TopK * e.cfg.CandidateMultiplier
	retrievers := [2]Retriever{e.deps.Vector, e.deps.Text}
	var results [2][]Hit
	var failed [2]bool

	var g errgroup.Group
	for i, r := range retrievers {
		if r == nil {
			continue
		}
		g.Go(func() error {
			channel := r.Channel()
			sctx, span := telemetry.StartSpan(ctx, "search.retrieve."+channel)
			t0 := time.Now()
			hits, err := r.Retrieve(sctx, q, n)
			telemetry.EndSpan(span, err)
			e.deps.Observer.RecordStage("retrieve_"+channel, time.Since(t0))

			if err != nil {
				failed[i] = true
				if ctx.Err() == nil {
					e.deps.Observer.RecordRetrieverFailure(channel)
					e.logger.Warn("retriever unavailable, continuing without channel",
						zap.String("channel", channel),
						zap.Error(err),
					)
				}
				return nil
			}
			results[i] = hits
			return nil
		})
	}
	_ = g.Wait()

	for i, r := range retrievers {
		if failed[i] {
			degraded = append(degraded, r.Channel())
		}
	}
	return results[0], results[1], degraded
}

// resolve attaches corpus items to hits. Hits without a corpus record or
// failing the request filters are dropped.
func (e *Engine) resolve(ctx context.Context, q *Query, vecHits, textHits []Hit) ([]Candidate, []Candidate, error) {
	if len(vecHits) == 0 && len(textHits) == 0 {
		return nil, nil, nil
	}
	ids := make([]string, 0, len(vecHits)+len(textHits))
	for _, h := range vecHits {
		ids = append(ids, h.ID)
	}
	for _, h := range textHits {
		ids = append(ids, h.ID)
	}
	items, err := e.deps.Corpus.Lookup(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	build := func(hits []Hit, origin SignalOrigin) []Candidate {
		out := make([]Candidate, 0, len(hits))
		for _, h := range hits {
			it, ok := items[h.ID]
			if !ok {
				continue
			}
			if len(q.Filters) > 0 && !q.Filters.Matches(it.Metadata) {
				continue
			}
			out = append(out, Candidate{
				Result: ScoredResult{ItemID: h.ID, Score: h.Score, Origin: origin},
				Item:   it,
			})
		}
		return out
	}
	return build(vecHits, OriginVector), build(textHits, OriginText), nil
}

// filter applies access control to the union of both candidate sets so
// restricted items never reach merging or reranking.
func (e *Engine) filter(ctx context.Context, q *Query, vec, text []Candidate) ([]Candidate, []Candidate, AccessDecision) {
	_, span := telemetry.StartSpan(ctx, "search.access")
	defer telemetry.EndSpan(span, nil)

	union := make([]Candidate, 0, len(vec)+len(text))
	seen := make(map[string]struct{}, len(vec)+len(text))
	for _, list := range [][]Candidate{vec, text} {
		for _, c := range list {
			if _, dup := seen[c.Item.ID]; dup {
				continue
			}
			seen[c.Item.ID] = struct{}{}
			union = append(union, c)
		}
	}

	allowed, decision := e.deps.Access.Decide(q, union)
	if decision.RestrictedItemsRemoved > 0 {
		e.deps.Observer.RecordRestrictedFiltered(decision.RestrictedItemsRemoved)
	}
	span.SetAttributes(
		attribute.String("access.level", decision.AccessLevel),
		attribute.Int("access.removed", decision.RestrictedItemsRemoved),
	)

	ok := make(map[string]struct{}, len(allowed))
	for _, c := range allowed {
		ok[c.Item.ID] = struct{}{}
	}
	keep := func(list []Candidate) []Candidate {
		out := make([]Candidate, 0, len(list))
		for _, c := range list {
			if _, yes := ok[c.Item.ID]; yes {
				out = append(out, c)
			}
		}
		return out
	}
	return keep(vec), keep(text), decision
}

func (e *Engine) merge(ctx context.Context, vec, text []Candidate) []Candidate {
	_, span := telemetry.StartSpan(ctx, "search.merge")
	defer telemetry.EndSpan(span, nil)

	items := make(map[string]CorpusItem, len(vec)+len(text))
	hits := func(list []Candidate) []Hit {
		out := make([]Hit, 0, len(list))
		for _, c := range list {
			items[c.Item.ID] = c.Item
			out = append(out, Hit{ID: c.Item.ID, Score: c.Result.Score})
		}
		return out
	}
	vh, th := hits(vec), hits(text)

	merged := e.deps.Merger.Merge(vh, th)
	out := make([]Candidate, 0, len(merged))
	for _, r := range merged {
		out = append(out, Candidate{Result: r, Item: items[r.ItemID]})
	}
	return out
}

func toResultItem(c Candidate) ResultItem {
	return ResultItem{
		ID:        c.Item.ID,
		Score:     c.Result.Score,
		Content:   c.Item.Text,
		Source:    c.Item.SourceID(),
		Rationale: c.Result.Rationale,
		Origin:    c.Result.Origin,
		Category:  c.Item.Category(),
		License:   c.Item.License(),
		SourceURL: c.Item.SourceURL(),
		Metadata:  c.Item.Metadata,
	}
}

func (e *Engine) cacheGet(ctx context.Context, key string) *CacheEntry {
	_, span := telemetry.StartSpan(ctx, "search.cache.get")
	defer telemetry.EndSpan(span, nil)

	name := e.deps.Cache.Name()
	entry, err := e.deps.Cache.Get(ctx, key)
	if err != nil {
		e.deps.Observer.RecordCacheError(name, "get")
		e.logger.Warn("search cache unavailable, bypassing", zap.String("cache", name), zap.Error(err))
		return nil
	}
	if entry == nil {
		e.deps.Observer.RecordCacheMiss(name)
		return nil
	}
	e.deps.Observer.RecordCacheHit(name)
	return entry
}

func (e *Engine) cachePut(ctx context.Context, key string, resp *SearchResponse) {
	_, span := telemetry.StartSpan(ctx, "search.cache.put")
	defer telemetry.EndSpan(span, nil)

	entry := &CacheEntry{Key: key, Response: *resp, CreatedAt: time.Now().UTC(), TTL: e.cfg.CacheTTL}
	if err := e.deps.Cache.Put(ctx, key, entry); err != nil {
		e.deps.Observer.RecordCacheError(e.deps.Cache.Name(), "put")
		e.logger.Warn("search cache write failed", zap.Error(types.NewCacheUnavailableError(err)))
	}
}

// finish records stats and publishes the governance event.
func (e *Engine) finish(ctx context.Context, q *Query, resp *SearchResponse, outcome string, start time.Time) {
	total := time.Since(start)
	e.stats.record(q.Normalized, outcome, total)
	e.deps.Observer.RecordSearch(outcome, resp.SearchStats.AccessControl.AccessLevel, resp.Total, total)
	e.deps.Instruments.RecordSearch(ctx, ms(total), resp.Total, outcome == OutcomeDegraded, resp.SearchStats.AccessControl.AccessLevel)

	e.logger.Debug("search returned",
		zap.String("outcome", outcome),
		zap.Int("results", resp.Total),
		zap.Bool("cached", resp.Cached),
		zap.Duration("elapsed", total),
	)

	if e.deps.Sink == nil {
		return
	}
	event := SearchEvent{
		Query:      q.Normalized,
		Keywords:   q.Keywords,
		Intent:     q.Intent,
		Stacks:     q.Stacks,
		Categories: q.Categories,
		Authorized: q.Authorized,
		Cached:     resp.Cached,
		Results:    make([]EventResult, 0, len(resp.Items)),
		At:         time.Now().UTC(),
	}
	for _, it := range resp.Items {
		event.Results = append(event.Results, EventResult{
			ItemID:   it.ID,
			SourceID: it.Source,
			Category: it.Category,
			Score:    it.Score,
		})
	}
	if !e.deps.Sink.Publish(event) {
		e.logger.Debug("governance event dropped")
	}
}

// =============================================================================
// 📊 Engine statistics
// =============================================================================

// QueryCount is one entry of the top queries list.
type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// EngineStats is a snapshot of engine counters.
type EngineStats struct {
	TotalSearches       int64        `json:"total_searches"`
	CacheHits           int64        `json:"cache_hits"`
	CacheHitRate        float64      `json:"cache_hit_rate"`
	EmptyResults        int64        `json:"empty_results"`
	DegradedSearches    int64        `json:"degraded_searches"`
	Errors              int64        `json:"errors"`
	AverageProcessingMs float64      `json:"average_processing_ms"`
	TopQueries          []QueryCount `json:"top_queries"`
	Access              AccessStats  `json:"access_control"`
}

type engineStats struct {
	total     atomic.Int64
	cacheHits atomic.Int64
	empty     atomic.Int64
	degraded  atomic.Int64
	errors    atomic.Int64
	totalNs   atomic.Int64

	queries sync.Map // normalized query -> *atomic.Int64
}

func (s *engineStats) record(query, outcome string, d time.Duration) {
	s.total.Add(1)
	s.totalNs.Add(int64(d))
	switch outcome {
	case OutcomeCacheHit:
		s.cacheHits.Add(1)
	case OutcomeEmpty:
		s.empty.Add(1)
	case OutcomeDegraded:
		s.degraded.Add(1)
	}
	if query == "" {
		return
	}
	v, _ := s.queries.LoadOrStore(query, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() EngineStats {
	s := &e.stats
	out := EngineStats{
		TotalSearches:    s.total.Load(),
		CacheHits:        s.cacheHits.Load(),
		EmptyResults:     s.empty.Load(),
		DegradedSearches: s.degraded.Load(),
		Errors:           s.errors.Load(),
		Access:           e.deps.Access.Stats(),
	}
	if out.TotalSearches > 0 {
		out.CacheHitRate = float64(out.CacheHits) / float64(out.TotalSearches)
		out.AverageProcessingMs = ms(time.Duration(s.totalNs.Load() / out.TotalSearches))
	}

	s.queries.Range(func(k, v any) bool {
		out.TopQueries = append(out.TopQueries, QueryCount{Query: k.(string), Count: v.(*atomic.Int64).Load()})
		return true
	})
	sort.Slice(out.TopQueries, func(i, j int) bool {
		if out.TopQueries[i].Count != out.TopQueries[j].Count {
			return out.TopQueries[i].Count > out.TopQueries[j].Count
		}
		return out.TopQueries[i].Query < out.TopQueries[j].Query
	})
	if len(out.TopQueries) > 10 {
		out.TopQueries = out.TopQueries[:10]
	}
	return out
}

// CacheEnabled reports whether a search cache is configured.
func (e *Engine) CacheEnabled() bool { return e.deps.Cache != nil }

// Corpus returns the engine's corpus.
func (e *Engine) Corpus() Corpus { return e.deps.Corpus }
