package rag

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/searchflow/types"
)

// Retrieval channel names.
const (
	ChannelVector = "vector"
	ChannelText   = "text"
)

// VectorIndex is the vector index provider boundary.
type VectorIndex interface {
	// Upsert stores items that carry an embedding; items without one are skipped.
	Upsert(ctx context.Context, items []CorpusItem) error
	// Query returns up to topK nearest items, best first.
	Query(ctx context.Context, embedding []float32, topK int, filters Filters) ([]Hit, error)
	Count(ctx context.Context) (int, error)
	Name() string
}

// TextIndex is the keyword index provider boundary.
type TextIndex interface {
	Index(ctx context.Context, items []CorpusItem) error
	// Query returns up to topK items by lexical score, best first.
	Query(ctx context.Context, keywords []string, topK int, filters Filters) ([]Hit, error)
	Name() string
}

// Embedder computes query embeddings. *embedding.OpenAIProvider satisfies it.
type Embedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Retriever is one retrieval channel.
type Retriever interface {
	Retrieve(ctx context.Context, q *Query, topK int) ([]Hit, error)
	Channel() string
}

// VectorRetriever embeds the cleaned query and asks the vector index for
// nearest neighbours, bounded by its own timeout.
type VectorRetriever struct {
	embedder Embedder
	index    VectorIndex
	timeout  time.Duration
	logger   *zap.Logger
}

// NewVectorRetriever creates the vector channel.
func NewVectorRetriever(embedder Embedder, index VectorIndex, timeout time.Duration, logger *zap.Logger) *VectorRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VectorRetriever{
		embedder: embedder,
		index:    index,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "vector_retriever")),
	}
}

func (r *VectorRetriever) Channel() string { return ChannelVector }

// Retrieve returns an empty list for a blank query. Failures are reported as
// RETRIEVER_UNAVAILABLE.
func (r *VectorRetriever) Retrieve(ctx context.Context, q *Query, topK int) ([]Hit, error) {
	if q.Cleaned == "" || topK <= 0 {
		return []Hit{}, nil
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	vec, err := r.embedder.EmbedQuery(ctx, q.Cleaned)
	if err != nil {
		return nil, types.NewRetrieverUnavailableError(ChannelVector, err)
	}
	if len(vec) == 0 {
		return []Hit{}, nil
	}

	hits, err := r.index.Query(ctx, vec, topK, q.Filters)
	if err != nil {
		return nil, types.NewRetrieverUnavailableError(ChannelVector, err)
	}
	return hits, nil
}

// TextRetriever scores the query keywords against the text index, bounded
// by its own timeout.
type TextRetriever struct {
	index   TextIndex
	timeout time.Duration
	logger  *zap.Logger
}

// NewTextRetriever creates the text channel.
func NewTextRetriever(index TextIndex, timeout time.Duration, logger *zap.Logger) *TextRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TextRetriever{
		index:   index,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "text_retriever")),
	}
}

func (r *TextRetriever) Channel() string { return ChannelText }

// Retrieve returns an empty list when the query has no keywords.
func (r *TextRetriever) Retrieve(ctx context.Context, q *Query, topK int) ([]Hit, error) {
	if len(q.Keywords) == 0 || topK <= 0 {
		return []Hit{}, nil
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	hits, err := r.index.Query(ctx, q.Keywords, topK, q.Filters)
	if err != nil {
		return nil, types.NewRetrieverUnavailableError(ChannelText, err)
	}
	return hits, nil
}
