package rag

// Config → rag bridge: factory functions that turn the service config.Config
// into rag runtime components.

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/searchflow/config"
	"github.com/BaSui01/searchflow/internal/cache"
)

// VectorIndexType names a vector index backend.
type VectorIndexType string

const (
	VectorIndexMemory   VectorIndexType = "memory"
	VectorIndexQdrant   VectorIndexType = "qdrant"
	VectorIndexPGVector VectorIndexType = "pgvector"
)

// TextIndexType names a text index backend.
type TextIndexType string

const (
	TextIndexMemory TextIndexType = "memory"
	TextIndexSQL    TextIndexType = "sql"
)

// NewVectorIndexFromConfig creates the configured vector index. pgvector
// needs a postgres db.
func NewVectorIndexFromConfig(cfg *config.Config, db *gorm.DB, logger *zap.Logger) (VectorIndex, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	switch VectorIndexType(cfg.VectorIndex.Backend) {
	case VectorIndexMemory, "":
		return NewMemoryVectorIndex(logger), nil

	case VectorIndexQdrant:
		return NewQdrantIndex(mapQdrantConfig(&cfg.VectorIndex.Qdrant), logger), nil

	case VectorIndexPGVector:
		if db == nil {
			return nil, fmt.Errorf("pgvector index requires an enabled database")
		}
		if cfg.Database.Driver != "postgres" {
			return nil, fmt.Errorf("pgvector index requires the postgres driver, got %q", cfg.Database.Driver)
		}
		return NewPGVectorIndex(db, cfg.VectorIndex.PGVector.Table, logger), nil

	default:
		return nil, fmt.Errorf("unsupported vector index backend: %s", cfg.VectorIndex.Backend)
	}
}

// NewTextIndexFromConfig creates the configured text index.
func NewTextIndexFromConfig(cfg *config.Config, db *gorm.DB, logger *zap.Logger) (TextIndex, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	switch TextIndexType(cfg.TextIndex.Backend) {
	case TextIndexMemory, "":
		return NewMemoryTextIndex(BM25Config{K1: cfg.TextIndex.BM25K1, B: cfg.TextIndex.BM25B}, logger), nil

	case TextIndexSQL:
		if db == nil {
			return nil, fmt.Errorf("sql text index requires an enabled database")
		}
		return NewSQLTextIndex(db, logger), nil

	default:
		return nil, fmt.Errorf("unsupported text index backend: %s", cfg.TextIndex.Backend)
	}
}

// NewSearchCacheFromConfig creates the configured search cache. It returns
// nil, nil when caching is disabled. The redis backend needs a manager.
func NewSearchCacheFromConfig(cfg *config.Config, redis *cache.Manager, logger *zap.Logger) (SearchCache, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if !cfg.Cache.Enabled {
		return nil, nil
	}
	switch cfg.Cache.Backend {
	case "memory", "":
		return NewMemoryCache(cfg.Cache.TTL, cfg.Cache.CleanupInterval, logger), nil
	case "redis":
		if redis == nil {
			return nil, fmt.Errorf("redis search cache requires a redis connection")
		}
		return NewRedisSearchCache(redis, cfg.Cache.TTL, logger), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Cache.Backend)
	}
}

// QueryProcessorConfigFrom maps search settings.
func QueryProcessorConfigFrom(c config.SearchConfig) QueryProcessorConfig {
	return QueryProcessorConfig{
		AuthorizationToken: c.AuthorizationToken,
		DefaultTopK:        c.DefaultTopK,
		MaxTopK:            c.MaxTopK,
	}
}

// MergerConfigFrom maps the merge weights.
func MergerConfigFrom(c config.SearchConfig) MergerConfig {
	return MergerConfig{
		VectorWeight: c.VectorWeight,
		TextWeight:   c.TextWeight,
		OverlapBonus: c.OverlapBonus,
	}
}

// RerankerConfigFrom maps rerank settings.
func RerankerConfigFrom(c config.SearchConfig) RerankerConfig {
	return RerankerConfig{
		MaxCandidates: c.RerankCandidates,
		Timeout:       c.RerankTimeout,
	}
}

// EngineConfigFrom maps engine settings.
func EngineConfigFrom(cfg *config.Config) EngineConfig {
	return EngineConfig{
		CandidateMultiplier: cfg.Search.CandidateMultiplier,
		CacheTTL:            cfg.Cache.TTL,
	}
}

// IndexCorpus loads items into both indexes. Either index may be nil.
func IndexCorpus(ctx context.Context, items []CorpusItem, vector VectorIndex, text TextIndex) error {
	if vector != nil {
		if err := vector.Upsert(ctx, items); err != nil {
			return fmt.Errorf("index vectors into %s: %w", vector.Name(), err)
		}
	}
	if text != nil {
		if err := text.Index(ctx, items); err != nil {
			return fmt.Errorf("index text into %s: %w", text.Name(), err)
		}
	}
	return nil
}

// DocumentEmbedder embeds corpus texts; embedding.Provider satisfies it.
type DocumentEmbedder interface {
	EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error)
}

// EmbedMissing fills in the embeddings of items that carry none, in place.
// It returns the number of items embedded.
func EmbedMissing(ctx context.Context, items []CorpusItem, embedder DocumentEmbedder) (int, error) {
	var (
		idx   []int
		texts []string
	)
	for i, it := range items {
		if len(it.Embedding) == 0 {
			idx = append(idx, i)
			texts = append(texts, it.Text)
		}
	}
	if len(idx) == 0 {
		return 0, nil
	}

	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed corpus items: %w", err)
	}
	if len(vectors) != len(idx) {
		return 0, fmt.Errorf("embed corpus items: got %d vectors for %d items", len(vectors), len(idx))
	}
	for j, i := range idx {
		items[i].Embedding = vectors[j]
	}
	return len(idx), nil
}

func mapQdrantConfig(c *config.QdrantConfig) QdrantConfig {
	return QdrantConfig{
		Host:                 c.Host,
		Port:                 c.Port,
		APIKey:               c.APIKey,
		Collection:           c.Collection,
		Timeout:              c.Timeout,
		AutoCreateCollection: true,
	}
}
