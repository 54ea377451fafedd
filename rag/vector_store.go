package rag

import (
	"context"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ====== In-memory vector index (small corpora and tests) ======

type vectorEntry struct {
	id       string
	vector   []float32
	norm     float64
	metadata map[string]any
}

// MemoryVectorIndex scores every stored vector by cosine similarity.
type MemoryVectorIndex struct {
	mu      sync.RWMutex
	entries map[string]vectorEntry
	logger  *zap.Logger
}

// NewMemoryVectorIndex creates an empty index.
func NewMemoryVectorIndex(logger *zap.Logger) *MemoryVectorIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryVectorIndex{
		entries: make(map[string]vectorEntry),
		logger:  logger.With(zap.String("component", "memory_vector_index")),
	}
}

func (s *MemoryVectorIndex) Name() string { return "memory" }

// Upsert stores the embedded items, replacing existing ids.
func (s *MemoryVectorIndex) Upsert(ctx context.Context, items []CorpusItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, it := range items {
		if len(it.Embedding) == 0 {
			continue
		}
		s.entries[it.ID] = vectorEntry{
			id:       it.ID,
			vector:   it.Embedding,
			norm:     norm(it.Embedding),
			metadata: it.Metadata,
		}
		added++
	}

	s.logger.Debug("vectors upserted", zap.Int("count", added), zap.Int("total", len(s.entries)))
	return nil
}

// Query ranks stored vectors by cosine similarity. Vectors of a different
// dimension are skipped.
func (s *MemoryVectorIndex) Query(ctx context.Context, embedding []float32, topK int, filters Filters) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 || len(embedding) == 0 {
		return []Hit{}, nil
	}
	qNorm := norm(embedding)
	if qNorm == 0 {
		return []Hit{}, nil
	}

	s.mu.RLock()
	hits := make([]Hit, 0, len(s.entries))
	for _, e := range s.entries {
		if len(e.vector) != len(embedding) || e.norm == 0 {
			continue
		}
		if len(filters) > 0 && !filters.Matches(e.metadata) {
			continue
		}
		hits = append(hits, Hit{ID: e.id, Score: dot(embedding, e.vector) / (qNorm * e.norm)})
	}
	s.mu.RUnlock()

	sortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *MemoryVectorIndex) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// Delete removes ids from the index.
func (s *MemoryVectorIndex) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.entries, id)
	}
	return nil
}

// sortHits orders by score desc, then id for determinism.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}
