package rerank

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/searchflow/config"
	"github.com/BaSui01/searchflow/llm/circuitbreaker"
	"github.com/BaSui01/searchflow/llm/tokenizer"
)

// ChatConfig configures ChatJudge.
type ChatConfig struct {
	APIKey                string          `json:"api_key" yaml:"api_key"`
	BaseURL               string          `json:"base_url" yaml:"base_url"`
	Model                 string          `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout               time.Duration   `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Temperature           float64         `json:"temperature" yaml:"temperature"`
	MaxTokensPerCandidate int             `json:"max_tokens_per_candidate" yaml:"max_tokens_per_candidate"`
	Observer              RequestObserver `json:"-" yaml:"-"`
	// Defaults to tokenizer.ForModel(Model).
	Tokenizer tokenizer.Tokenizer `json:"-" yaml:"-"`
}

// CohereConfig configures CohereJudge.
type CohereConfig struct {
	APIKey                string          `json:"api_key" yaml:"api_key"`
	BaseURL               string          `json:"base_url" yaml:"base_url"`
	Model                 string          `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout               time.Duration   `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxTokensPerCandidate int             `json:"max_tokens_per_candidate" yaml:"max_tokens_per_candidate"`
	Observer              RequestObserver `json:"-" yaml:"-"`
}

// DefaultChatConfig returns the default chat judge settings.
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		BaseURL:               "https://api.openai.com",
		Model:                 "gpt-4o-mini",
		Timeout:               10 * time.Second,
		MaxTokensPerCandidate: 256,
	}
}

// DefaultCohereConfig returns the default Cohere settings.
func DefaultCohereConfig() CohereConfig {
	return CohereConfig{
		BaseURL: "https://api.cohere.ai",
		Model:   "rerank-v3.5",
		Timeout: 10 * time.Second,
	}
}

// NewFromConfig builds the configured judge. Provider "none" returns (nil, nil):
// the reranker then always keeps the merged order. A positive
// BreakerThreshold wraps the judge in a BreakerJudge.
func NewFromConfig(cfg config.JudgmentConfig, observer RequestObserver, logger *zap.Logger) (Judge, error) {
	var judge Judge
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "chat":
		judge = NewChatJudge(ChatConfig{
			APIKey:                cfg.APIKey,
			BaseURL:               cfg.BaseURL,
			Model:                 cfg.Model,
			Timeout:               cfg.Timeout,
			Temperature:           cfg.Temperature,
			MaxTokensPerCandidate: cfg.MaxTokensPerCandidate,
			Observer:              observer,
		}, logger)
	case "cohere":
		judge = NewCohereJudge(CohereConfig{
			APIKey:                cfg.APIKey,
			BaseURL:               cfg.BaseURL,
			Model:                 cfg.Model,
			Timeout:               cfg.Timeout,
			MaxTokensPerCandidate: cfg.MaxTokensPerCandidate,
			Observer:              observer,
		})
	default:
		return nil, fmt.Errorf("unknown judgment provider %q", cfg.Provider)
	}

	if cfg.BreakerThreshold > 0 {
		judge = NewBreakerJudge(judge, circuitbreaker.Config{
			Threshold:    cfg.BreakerThreshold,
			ResetTimeout: cfg.BreakerResetTimeout,
		}, logger)
	}
	return judge, nil
}
