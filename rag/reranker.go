package rag

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/searchflow/llm/rerank"
	"github.com/BaSui01/searchflow/types"
)

// RerankContext is optional caller context forwarded to the judge.
type RerankContext struct {
	Module   string `json:"module,omitempty"`
	TaskHint string `json:"task_hint,omitempty"`
}

// RerankEnvelope is the uniform result of a rerank call. Results is always
// usable: on fallback it is the input order with rationales cleared.
type RerankEnvelope struct {
	Results  []Candidate
	Reranked bool
	Fallback bool
	// Cause is set when the judge failed; nil for a plain fallback
	// (no judge configured, nothing to judge).
	Cause   error
	Elapsed time.Duration
}

// RerankObserver receives fallback notifications; *metrics.Collector satisfies it.
type RerankObserver interface {
	RecordRerankFallback(reason string)
}

// RerankerConfig configures a Reranker.
type RerankerConfig struct {
	// Only the first MaxCandidates results are judged.
	MaxCandidates int
	Timeout       time.Duration
}

// DefaultRerankerConfig judges the top 20 with a 10s budget.
func DefaultRerankerConfig() RerankerConfig {
	return RerankerConfig{MaxCandidates: 20, Timeout: 10 * time.Second}
}

// Reranker re-scores merged results with a judgment provider and attaches
// rationales. It never fails: every error degrades to the input order.
type Reranker struct {
	judge    rerank.Judge
	cfg      RerankerConfig
	observer RerankObserver
	logger   *zap.Logger
}

// NewReranker creates a reranker. A nil judge always falls back.
func NewReranker(judge rerank.Judge, cfg RerankerConfig, observer RerankObserver, logger *zap.Logger) *Reranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultRerankerConfig().MaxCandidates
	}
	return &Reranker{
		judge:    judge,
		cfg:      cfg,
		observer: observer,
		logger:   logger.With(zap.String("component", "reranker")),
	}
}

// Enabled reports whether a judge is configured.
func (r *Reranker) Enabled() bool { return r.judge != nil }

// Rerank judges the top MaxCandidates and sorts them by judgment score,
// ties by input position; the rest keep their order after the judged block.
// Candidates the judge skipped follow the judged ones in merged order.
// Identical judgments always yield identical order.
func (r *Reranker) Rerank(ctx context.Context, q *Query, results []Candidate, rctx RerankContext) RerankEnvelope {
	start := time.Now()
	if r.judge == nil || len(results) == 0 {
		return RerankEnvelope{Results: fallback(results), Fallback: true, Elapsed: time.Since(start)}
	}

	n := len(results)
	if n > r.cfg.MaxCandidates {
		n = r.cfg.MaxCandidates
	}
	head := results[:n]

	req := rerank.JudgmentRequest{
		Query:      q.Cleaned,
		Intent:     string(q.Intent),
		Module:     rctx.Module,
		TaskHint:   rctx.TaskHint,
		Candidates: make([]rerank.Candidate, 0, n),
	}
	for _, c := range head {
		req.Candidates = append(req.Candidates, rerank.Candidate{
			ID:       c.Item.ID,
			Text:     c.Item.Text,
			Category: c.Item.Category(),
			Score:    c.Result.Score,
		})
	}

	jctx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		jctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	judgments, err := r.judge.Judge(jctx, req)
	if err == nil && len(judgments) == 0 {
		err = errors.New("judge returned no judgments")
	}
	if err != nil {
		if _, ok := types.AsError(err); !ok {
			err = types.NewJudgmentUnavailableError(r.judge.Name(), err)
		}
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		} else if errors.Is(err, context.Canceled) {
			reason = "canceled"
		}
		if r.observer != nil {
			r.observer.RecordRerankFallback(reason)
		}
		r.logger.Warn("rerank fallback to merged order",
			zap.String("judge", r.judge.Name()),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return RerankEnvelope{Results: fallback(results), Fallback: true, Cause: err, Elapsed: time.Since(start)}
	}

	type judged struct {
		cand Candidate
		pos  int
	}
	block := make([]judged, 0, n)
	seen := make([]bool, n)
	for _, j := range judgments {
		if j.Index < 0 || j.Index >= n || seen[j.Index] {
			continue
		}
		seen[j.Index] = true
		c := head[j.Index]
		c.Result.Score = clamp01(j.Score)
		c.Result.Rationale = nil
		if j.Rationale != "" {
			rationale := j.Rationale
			c.Result.Rationale = &rationale
		}
		block = append(block, judged{cand: c, pos: j.Index})
	}
	if len(block) == 0 {
		err := types.NewJudgmentUnavailableError(r.judge.Name(), errors.New("judge returned no usable judgments"))
		if r.observer != nil {
			r.observer.RecordRerankFallback("error")
		}
		r.logger.Warn("rerank fallback to merged order",
			zap.String("judge", r.judge.Name()),
			zap.String("reason", "error"),
			zap.Error(err),
		)
		return RerankEnvelope{Results: fallback(results), Fallback: true, Cause: err, Elapsed: time.Since(start)}
	}
	sort.SliceStable(block, func(a, b int) bool {
		if block[a].cand.Result.Score != block[b].cand.Result.Score {
			return block[a].cand.Result.Score > block[b].cand.Result.Score
		}
		return block[a].pos < block[b].pos
	})

	out := make([]Candidate, 0, len(results))
	floor := 1.0
	for _, b := range block {
		out = append(out, b.cand)
		floor = b.cand.Result.Score
	}

	// Unjudged head items, then the tail, in merged order with scores scaled
	// under the lowest judgment so items[].score stays non-increasing.
	rest := make([]Candidate, 0, len(results)-len(block))
	for i, c := range head {
		if !seen[i] {
			rest = append(rest, c)
		}
	}
	rest = append(rest, results[n:]...)
	out = append(out, rescaleBelow(fallback(rest), floor)...)

	r.logger.Debug("rerank completed",
		zap.String("judge", r.judge.Name()),
		zap.Int("judged", n),
		zap.Int("judgments", len(block)),
	)
	return RerankEnvelope{Results: out, Reranked: true, Elapsed: time.Since(start)}
}

// rescaleBelow maps merged scores onto [0, floor], keeping their order.
func rescaleBelow(results []Candidate, floor float64) []Candidate {
	if len(results) == 0 {
		return results
	}
	top := 0.0
	for _, c := range results {
		if c.Result.Score > top {
			top = c.Result.Score
		}
	}
	for i := range results {
		if top <= 0 {
			results[i].Result.Score = 0
			continue
		}
		results[i].Result.Score = floor * math.Max(results[i].Result.Score, 0) / top
	}
	return results
}

// fallback copies results in input order with rationales cleared.
func fallback(results []Candidate) []Candidate {
	out := make([]Candidate, len(results))
	for i, c := range results {
		c.Result.Rationale = nil
		out[i] = c
	}
	return out
}
