package rag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/searchflow/llm/rerank"
)

type fakeJudge struct {
	mu        sync.Mutex
	judgments []rerank.Judgment
	err       error
	delay     time.Duration
	requests  []rerank.JudgmentRequest
}

func (f *fakeJudge) Judge(ctx context.Context, req rerank.JudgmentRequest) ([]rerank.Judgment, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.judgments, f.err
}

func (f *fakeJudge) Name() string { return "fake" }

type fallbackRecorder struct {
	mu      sync.Mutex
	reasons []string
}

func (r *fallbackRecorder) RecordRerankFallback(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func merged(n int) []Candidate {
	out := make([]Candidate, n)
	for i := range out {
		id := fmt.Sprintf("c%d", i)
		out[i] = Candidate{
			Result: ScoredResult{ItemID: id, Score: 1 - float64(i)/100, Origin: OriginMerged},
			Item:   CorpusItem{ID: id, Text: "text " + id, Metadata: map[string]any{"category": "react"}},
		}
	}
	return out
}

func candidateIDs(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Item.ID
	}
	return out
}

func TestReranker_ReordersWithRationale(t *testing.T) {
	judge := &fakeJudge{judgments: []rerank.Judgment{
		{Index: 0, Score: 0.2, Rationale: "off topic"},
		{Index: 1, Score: 0.9, Rationale: "exact match"},
		{Index: 2, Score: 1.4, Rationale: "over range"},
	}}
	r := NewReranker(judge, DefaultRerankerConfig(), nil, nil)
	require.True(t, r.Enabled())

	q := &Query{Cleaned: "React hooks", Intent: IntentImplementation}
	env := r.Rerank(context.Background(), q, merged(3), RerankContext{Module: "editor", TaskHint: "refactor"})

	assert.True(t, env.Reranked)
	assert.False(t, env.Fallback)
	assert.NoError(t, env.Cause)
	assert.Equal(t, []string{"c2", "c1", "c0"}, candidateIDs(env.Results))
	assert.Equal(t, 1.0, env.Results[0].Result.Score, "judgment scores are clamped")
	require.NotNil(t, env.Results[1].Result.Rationale)
	assert.Equal(t, "exact match", *env.Results[1].Result.Rationale)

	require.Len(t, judge.requests, 1)
	req := judge.requests[0]
	assert.Equal(t, "React hooks", req.Query)
	assert.Equal(t, "implementation", req.Intent)
	assert.Equal(t, "editor", req.Module)
	assert.Equal(t, "refactor", req.TaskHint)
	assert.Len(t, req.Candidates, 3)
	assert.Equal(t, "react", req.Candidates[0].Category)
}

func TestReranker_OnlyTopCandidatesJudged(t *testing.T) {
	judge := &fakeJudge{judgments: []rerank.Judgment{{Index: 0, Score: 0.1}, {Index: 1, Score: 1}, {Index: 7, Score: 1}}}
	r := NewReranker(judge, RerankerConfig{MaxCandidates: 3}, nil, nil)

	env := r.Rerank(context.Background(), &Query{Cleaned: "q"}, merged(5), RerankContext{})
	require.True(t, env.Reranked)
	assert.Len(t, judge.requests[0].Candidates, 3)
	// c2 was not judged: it follows the judged block, ahead of the tail.
	assert.Equal(t, []string{"c1", "c0", "c2", "c3", "c4"}, candidateIDs(env.Results))
	assertScoresDescending(t, env.Results)
	assert.LessOrEqual(t, env.Results[2].Result.Score, 0.1)
}

func assertScoresDescending(t *testing.T, cs []Candidate) {
	t.Helper()
	for i := 1; i < len(cs); i++ {
		assert.LessOrEqual(t, cs[i].Result.Score, cs[i-1].Result.Score,
			"%s ranks below %s", cs[i].Item.ID, cs[i-1].Item.ID)
	}
}

func TestReranker_PartialJudgment(t *testing.T) {
	in := []Candidate{
		{Result: ScoredResult{ItemID: "c", Score: 1.2, Origin: OriginMerged}, Item: CorpusItem{ID: "c"}},
		{Result: ScoredResult{ItemID: "a", Score: 0.7, Origin: OriginMerged}, Item: CorpusItem{ID: "a"}},
		{Result: ScoredResult{ItemID: "b", Score: 0.5, Origin: OriginMerged}, Item: CorpusItem{ID: "b"}},
		{Result: ScoredResult{ItemID: "d", Score: 0.4, Origin: OriginMerged}, Item: CorpusItem{ID: "d"}},
	}
	judge := &fakeJudge{judgments: []rerank.Judgment{
		{Index: 1, Score: 0.95, Rationale: "direct answer"},
		{Index: 2, Score: 0.90, Rationale: "related"},
		{Index: 1, Score: 0.10, Rationale: "duplicate index is ignored"},
	}}
	r := NewReranker(judge, RerankerConfig{MaxCandidates: 3}, nil, nil)

	env := r.Rerank(context.Background(), &Query{Cleaned: "q"}, in, RerankContext{})
	require.True(t, env.Reranked)
	assert.Equal(t, []string{"a", "b", "c", "d"}, candidateIDs(env.Results))
	assertScoresDescending(t, env.Results)

	assert.Equal(t, 0.95, env.Results[0].Result.Score)
	require.NotNil(t, env.Results[0].Result.Rationale)
	assert.Equal(t, "direct answer", *env.Results[0].Result.Rationale)
	assert.Nil(t, env.Results[2].Result.Rationale, "unjudged items carry no rationale")
	assert.InDelta(t, 0.90, env.Results[2].Result.Score, 1e-12)
	assert.InDelta(t, 0.90*0.4/1.2, env.Results[3].Result.Score, 1e-12)

	assert.Equal(t, 1.2, in[0].Result.Score, "input is not mutated")
}

func TestReranker_FallbackWhenNoJudgmentIsUsable(t *testing.T) {
	rec := &fallbackRecorder{}
	judge := &fakeJudge{judgments: []rerank.Judgment{{Index: 9, Score: 1}, {Index: -1, Score: 1}}}
	r := NewReranker(judge, DefaultRerankerConfig(), rec, nil)

	in := merged(3)
	env := r.Rerank(context.Background(), &Query{Cleaned: "q"}, in, RerankContext{})
	assert.True(t, env.Fallback)
	assert.False(t, env.Reranked)
	assert.Error(t, env.Cause)
	assert.Equal(t, candidateIDs(in), candidateIDs(env.Results))
	assert.Equal(t, []string{"error"}, rec.reasons)
}

func TestReranker_TiesKeepInputOrder(t *testing.T) {
	judge := &fakeJudge{judgments: []rerank.Judgment{
		{Index: 0, Score: 0.5}, {Index: 1, Score: 0.5}, {Index: 2, Score: 0.5},
	}}
	r := NewReranker(judge, DefaultRerankerConfig(), nil, nil)

	for i := 0; i < 5; i++ {
		env := r.Rerank(context.Background(), &Query{Cleaned: "q"}, merged(3), RerankContext{})
		assert.Equal(t, []string{"c0", "c1", "c2"}, candidateIDs(env.Results))
	}
}

func TestReranker_FallbackOnError(t *testing.T) {
	rec := &fallbackRecorder{}
	in := merged(3)
	note := "stale"
	in[0].Result.Rationale = &note

	r := NewReranker(&fakeJudge{err: errors.New("503")}, DefaultRerankerConfig(), rec, nil)
	env := r.Rerank(context.Background(), &Query{Cleaned: "q"}, in, RerankContext{})

	assert.False(t, env.Reranked)
	assert.True(t, env.Fallback)
	require.Error(t, env.Cause)
	assert.Equal(t, []string{"c0", "c1", "c2"}, candidateIDs(env.Results))
	assert.Nil(t, env.Results[0].Result.Rationale)
	assert.InDelta(t, in[1].Result.Score, env.Results[1].Result.Score, 1e-12)
	assert.Equal(t, []string{"error"}, rec.reasons)
	assert.NotNil(t, in[0].Result.Rationale, "input is not modified")
}

func TestReranker_FallbackOnTimeout(t *testing.T) {
	rec := &fallbackRecorder{}
	r := NewReranker(&fakeJudge{delay: time.Second}, RerankerConfig{Timeout: 20 * time.Millisecond}, rec, nil)

	env := r.Rerank(context.Background(), &Query{Cleaned: "q"}, merged(2), RerankContext{})
	assert.True(t, env.Fallback)
	assert.ErrorIs(t, env.Cause, context.DeadlineExceeded)
	assert.Equal(t, []string{"timeout"}, rec.reasons)
}

func TestReranker_FallbackOnEmptyJudgments(t *testing.T) {
	r := NewReranker(&fakeJudge{}, DefaultRerankerConfig(), nil, nil)
	env := r.Rerank(context.Background(), &Query{Cleaned: "q"}, merged(2), RerankContext{})
	assert.True(t, env.Fallback)
	assert.Error(t, env.Cause)
}

func TestReranker_NoJudge(t *testing.T) {
	r := NewReranker(nil, DefaultRerankerConfig(), nil, nil)
	assert.False(t, r.Enabled())

	env := r.Rerank(context.Background(), &Query{Cleaned: "q"}, merged(2), RerankContext{})
	assert.True(t, env.Fallback)
	assert.False(t, env.Reranked)
	assert.NoError(t, env.Cause)
	assert.Equal(t, []string{"c0", "c1"}, candidateIDs(env.Results))

	env = r.Rerank(context.Background(), &Query{}, nil, RerankContext{})
	assert.Empty(t, env.Results)
}
