package rerank

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/BaSui01/searchflow/llm/circuitbreaker"
	"github.com/BaSui01/searchflow/types"
)

// BreakerJudge skips a failing judge for a cooldown instead of paying its
// timeout on every search. While open, Judge fails fast with
// JUDGMENT_UNAVAILABLE and the reranker keeps the merged order.
type BreakerJudge struct {
	judge   Judge
	breaker *circuitbreaker.Breaker
}

// NewBreakerJudge wraps judge. The breaker's per-call timeout is left to
// the judge's own HTTP client.
func NewBreakerJudge(judge Judge, cfg circuitbreaker.Config, logger *zap.Logger) *BreakerJudge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerJudge{
		judge:   judge,
		breaker: circuitbreaker.New(cfg, logger.With(zap.String("judge", judge.Name()))),
	}
}

func (b *BreakerJudge) Name() string { return b.judge.Name() }

// State reports the breaker state.
func (b *BreakerJudge) State() circuitbreaker.State { return b.breaker.State() }

func (b *BreakerJudge) Judge(ctx context.Context, req JudgmentRequest) ([]Judgment, error) {
	out, err := circuitbreaker.CallValue(ctx, b.breaker, func(ctx context.Context) ([]Judgment, error) {
		return b.judge.Judge(ctx, req)
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyCallsInHalfOpen) {
		return nil, types.NewJudgmentUnavailableError(b.judge.Name(), err)
	}
	return out, err
}
