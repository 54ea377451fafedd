package embedding

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/searchflow/config"
)

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey     string          `json:"api_key" yaml:"api_key"`
	BaseURL    string          `json:"base_url" yaml:"base_url"`
	Model      string          `json:"model,omitempty" yaml:"model,omitempty"`
	Dimensions int             `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	Timeout    time.Duration   `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxRetries int             `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	Observer   RequestObserver `json:"-" yaml:"-"`
	Logger     *zap.Logger     `json:"-" yaml:"-"`
}

// DefaultOpenAIConfig matches the 1536-dimension corpus embeddings.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL:    "https://api.openai.com",
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
		Timeout:    30 * time.Second,
	}
}

// NewFromConfig builds the configured provider. It returns (nil, nil) for
// provider "none", which disables the vector channel.
func NewFromConfig(cfg config.EmbeddingConfig, observer RequestObserver, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
			Observer:   observer,
			Logger:     logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
