package rag

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// corpusEmbedding is one row of the pgvector table. Category and restricted
// are denormalized so filters can be pushed into SQL.
type corpusEmbedding struct {
	ID         string          `gorm:"column:id;primaryKey"`
	Embedding  pgvector.Vector `gorm:"column:embedding"`
	Category   string          `gorm:"column:category"`
	Restricted bool            `gorm:"column:restricted"`
}

// PGVectorIndex implements VectorIndex on PostgreSQL with the pgvector
// extension, ranking by cosine distance (<=>).
type PGVectorIndex struct {
	db     *gorm.DB
	table  string
	logger *zap.Logger
}

// NewPGVectorIndex creates an index over table. The table is created by the
// postgres migrations.
func NewPGVectorIndex(db *gorm.DB, table string, logger *zap.Logger) *PGVectorIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	if table == "" {
		table = "corpus_embeddings"
	}
	return &PGVectorIndex{
		db:     db,
		table:  table,
		logger: logger.With(zap.String("component", "pgvector_index")),
	}
}

func (p *PGVectorIndex) Name() string { return "pgvector" }

// Upsert writes embedded items in batches, replacing existing rows.
func (p *PGVectorIndex) Upsert(ctx context.Context, items []CorpusItem) error {
	rows := make([]corpusEmbedding, 0, len(items))
	for _, it := range items {
		if len(it.Embedding) == 0 {
			continue
		}
		rows = append(rows, corpusEmbedding{
			ID:         it.ID,
			Embedding:  pgvector.NewVector(it.Embedding),
			Category:   it.Category(),
			Restricted: it.IsRestricted(),
		})
	}
	if len(rows) == 0 {
		return nil
	}

	err := p.db.WithContext(ctx).
		Table(p.table).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"embedding", "category", "restricted"}),
		}).
		CreateInBatches(&rows, 200).Error
	if err != nil {
		return fmt.Errorf("pgvector upsert: %w", err)
	}

	p.logger.Debug("pgvector upsert completed", zap.Int("count", len(rows)))
	return nil
}

// Query returns the nearest rows with score = 1 - cosine distance. Only the
// category filter is pushed down; other filters are left to the caller.
func (p *PGVectorIndex) Query(ctx context.Context, embedding []float32, topK int, filters Filters) ([]Hit, error) {
	if topK <= 0 || len(embedding) == 0 {
		return []Hit{}, nil
	}
	vec := pgvector.NewVector(embedding)

	q := p.db.WithContext(ctx).
		Table(p.table).
		Select("id, 1 - (embedding <=> ?) AS score", vec)
	if cats := filters["category"]; len(cats) > 0 {
		q = q.Where("category IN ?", cats)
	}

	var rows []struct {
		ID    string
		Score float64
	}
	err := q.Clauses(clause.OrderBy{
		Expression: clause.Expr{SQL: "embedding <=> ?", Vars: []any{vec}},
	}).Limit(topK).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("pgvector query: %w", err)
	}

	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, Hit{ID: r.ID, Score: r.Score})
	}
	return hits, nil
}

func (p *PGVectorIndex) Count(ctx context.Context) (int, error) {
	var n int64
	if err := p.db.WithContext(ctx).Table(p.table).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("pgvector count: %w", err)
	}
	return int(n), nil
}
