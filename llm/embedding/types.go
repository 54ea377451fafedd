// Package embedding turns query text into vectors for the vector retriever.
package embedding

import (
	"context"
	"time"
)

// InputType lets providers optimise for queries versus indexed documents.
type InputType string

const (
	InputTypeQuery    InputType = "query"
	InputTypeDocument InputType = "document"
)

// EmbeddingRequest asks for embeddings of Input.
type EmbeddingRequest struct {
	Input      []string  `json:"input"`
	Model      string    `json:"model,omitempty"`
	Dimensions int       `json:"dimensions,omitempty"`
	InputType  InputType `json:"input_type,omitempty"`
}

// EmbeddingResponse is ordered by EmbeddingData.Index.
type EmbeddingResponse struct {
	Provider   string          `json:"provider"`
	Model      string          `json:"model"`
	Embeddings []EmbeddingData `json:"embeddings"`
	Usage      EmbeddingUsage  `json:"usage"`
	CreatedAt  time.Time       `json:"created_at,omitempty"`
}

// EmbeddingData is one vector.
type EmbeddingData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// EmbeddingUsage reports token usage.
type EmbeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Provider is an embedding backend.
type Provider interface {
	Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error)
	// EmbedQuery embeds a single search query.
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	// EmbedDocuments embeds texts for indexing, preserving input order.
	EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error)
	Name() string
	Dimensions() int
	MaxBatchSize() int
}

// RequestObserver receives one call per upstream request; *metrics.Collector satisfies it.
type RequestObserver interface {
	RecordLLMRequest(provider, model, status string, duration time.Duration)
}
