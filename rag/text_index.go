package rag

import (
	"context"
	"math"
	"sync"

	"go.uber.org/zap"
)

// BM25Config holds the BM25 parameters.
type BM25Config struct {
	K1 float64 `json:"k1"` // 1.2-2.0
	B  float64 `json:"b"`
}

// DefaultBM25Config returns k1=1.5, b=0.75.
func DefaultBM25Config() BM25Config {
	return BM25Config{K1: 1.5, B: 0.75}
}

type textDoc struct {
	length   int
	terms    map[string]int
	metadata map[string]any
}

// MemoryTextIndex is an in-memory inverted index scored with BM25.
// Indexing is incremental; statistics are read at query time.
type MemoryTextIndex struct {
	cfg BM25Config

	mu       sync.RWMutex
	docs     map[string]textDoc
	postings map[string]map[string]int // term -> doc id -> tf
	totalLen int

	logger *zap.Logger
}

// NewMemoryTextIndex creates an empty index.
func NewMemoryTextIndex(cfg BM25Config, logger *zap.Logger) *MemoryTextIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultBM25Config()
	if cfg.K1 <= 0 {
		cfg.K1 = def.K1
	}
	if cfg.B < 0 || cfg.B > 1 {
		cfg.B = def.B
	}
	return &MemoryTextIndex{
		cfg:      cfg,
		docs:     make(map[string]textDoc),
		postings: make(map[string]map[string]int),
		logger:   logger.With(zap.String("component", "memory_text_index")),
	}
}

func (t *MemoryTextIndex) Name() string { return "memory" }

// Index adds or replaces items.
func (t *MemoryTextIndex) Index(ctx context.Context, items []CorpusItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, it := range items {
		t.removeLocked(it.ID)

		tokens := Tokenize(it.Text)
		terms := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			terms[tok]++
		}
		t.docs[it.ID] = textDoc{length: len(tokens), terms: terms, metadata: it.Metadata}
		t.totalLen += len(tokens)
		for term, tf := range terms {
			p, ok := t.postings[term]
			if !ok {
				p = make(map[string]int)
				t.postings[term] = p
			}
			p[it.ID] = tf
		}
	}

	t.logger.Debug("text index updated", zap.Int("count", len(items)), zap.Int("total", len(t.docs)))
	return nil
}

func (t *MemoryTextIndex) removeLocked(id string) {
	old, ok := t.docs[id]
	if !ok {
		return
	}
	for term := range old.terms {
		if p := t.postings[term]; p != nil {
			delete(p, id)
			if len(p) == 0 {
				delete(t.postings, term)
			}
		}
	}
	t.totalLen -= old.length
	delete(t.docs, id)
}

// Query scores documents containing at least one keyword.
func (t *MemoryTextIndex) Query(ctx context.Context, keywords []string, topK int, filters Filters) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 || len(keywords) == 0 {
		return []Hit{}, nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	n := float64(len(t.docs))
	if n == 0 {
		return []Hit{}, nil
	}
	avgLen := float64(t.totalLen) / n
	if avgLen == 0 {
		avgLen = 1
	}

	scores := make(map[string]float64)
	for _, kw := range keywords {
		p := t.postings[kw]
		if len(p) == 0 {
			continue
		}
		df := float64(len(p))
		idf := math.Log((n-df+0.5)/(df+0.5) + 1.0)
		for id, tf := range p {
			doc := t.docs[id]
			f := float64(tf)
			denom := f + t.cfg.K1*(1.0-t.cfg.B+t.cfg.B*(float64(doc.length)/avgLen))
			scores[id] += idf * (f * (t.cfg.K1 + 1.0) / denom)
		}
	}

	hits := make([]Hit, 0, len(scores))
	for id, s := range scores {
		if len(filters) > 0 && !filters.Matches(t.docs[id].metadata) {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: s})
	}
	sortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Len returns the number of indexed documents.
func (t *MemoryTextIndex) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.docs)
}
