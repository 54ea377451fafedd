package rerank

import (
	"context"
	"time"
)

// Candidate is one item offered for judgment. Text may already be truncated.
type Candidate struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	Category string  `json:"category,omitempty"`
	Score    float64 `json:"score"`
}

// JudgmentRequest carries the query and candidates in their merged order.
type JudgmentRequest struct {
	Query      string      `json:"query"`
	Intent     string      `json:"intent,omitempty"`
	Module     string      `json:"module,omitempty"`
	TaskHint   string      `json:"task_hint,omitempty"`
	Candidates []Candidate `json:"candidates"`
}

// Judgment scores the candidate at Index. Score is in [0,1].
type Judgment struct {
	Index      int     `json:"index"`
	Score      float64 `json:"score"`
	Rationale  string  `json:"rationale"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Judge scores candidates for relevance. Implementations may return fewer
// judgments than candidates; unjudged candidates follow the judged ones in
// their original order.
type Judge interface {
	Judge(ctx context.Context, req JudgmentRequest) ([]Judgment, error)
	Name() string
}

// RequestObserver receives one call per upstream request; *metrics.Collector satisfies it.
type RequestObserver interface {
	RecordLLMRequest(provider, model, status string, duration time.Duration)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
