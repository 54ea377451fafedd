package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CorpusDocument is the corpus_documents row used by SQLTextIndex.
type CorpusDocument struct {
	ID         string    `gorm:"column:id;primaryKey;size:255"`
	Content    string    `gorm:"column:content;not null"`
	Metadata   string    `gorm:"column:metadata;not null"`
	Category   string    `gorm:"column:category;size:128;index"`
	SourceID   string    `gorm:"column:source_id;size:255;index"`
	Restricted bool      `gorm:"column:restricted"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

// TableName implements gorm's tabler.
func (CorpusDocument) TableName() string { return "corpus_documents" }

// SQLTextIndex implements TextIndex with portable LIKE matching on
// postgres, mysql and sqlite. Candidate rows are ranked in process by
// term overlap.
type SQLTextIndex struct {
	db *gorm.DB
	// Upper bound of rows fetched per query before ranking.
	scanLimit int
	logger    *zap.Logger
}

// NewSQLTextIndex creates an index on db.
func NewSQLTextIndex(db *gorm.DB, logger *zap.Logger) *SQLTextIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLTextIndex{
		db:        db,
		scanLimit: 500,
		logger:    logger.With(zap.String("component", "sql_text_index")),
	}
}

func (s *SQLTextIndex) Name() string { return "sql" }

// AutoMigrate creates the corpus_documents table when migrations are not used.
func (s *SQLTextIndex) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&CorpusDocument{})
}

// Index upserts items into corpus_documents.
func (s *SQLTextIndex) Index(ctx context.Context, items []CorpusItem) error {
	if len(items) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]CorpusDocument, 0, len(items))
	for _, it := range items {
		meta, err := json.Marshal(it.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata of %s: %w", it.ID, err)
		}
		rows = append(rows, CorpusDocument{
			ID:         it.ID,
			Content:    it.Text,
			Metadata:   string(meta),
			Category:   it.Category(),
			SourceID:   it.SourceID(),
			Restricted: it.IsRestricted(),
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"content", "metadata", "category", "source_id", "restricted", "updated_at"}),
		}).
		CreateInBatches(&rows, 200).Error
	if err != nil {
		return fmt.Errorf("sql text index upsert: %w", err)
	}
	s.logger.Debug("sql text index updated", zap.Int("count", len(rows)))
	return nil
}

// Query fetches rows whose content contains any keyword and scores them by
// sum(1 + ln(tf)) over matched keywords, weighted by the matched fraction.
func (s *SQLTextIndex) Query(ctx context.Context, keywords []string, topK int, filters Filters) ([]Hit, error) {
	if topK <= 0 || len(keywords) == 0 {
		return []Hit{}, nil
	}

	// Keywords never contain LIKE metacharacters: Tokenize drops % and _.
	conds := make([]string, 0, len(keywords))
	args := make([]any, 0, len(keywords))
	for _, kw := range keywords {
		conds = append(conds, "LOWER(content) LIKE ?")
		args = append(args, "%"+kw+"%")
	}

	q := s.db.WithContext(ctx).
		Model(&CorpusDocument{}).
		Select("id, content, metadata").
		Where(strings.Join(conds, " OR "), args...)
	if cats := filters["category"]; len(cats) > 0 {
		q = q.Where("category IN ?", cats)
	}

	var rows []CorpusDocument
	if err := q.Limit(s.scanLimit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sql text index query: %w", err)
	}

	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		if len(filters) > 0 {
			var meta map[string]any
			if err := json.Unmarshal([]byte(r.Metadata), &meta); err != nil || !filters.Matches(meta) {
				continue
			}
		}
		if score := overlapScore(r.Content, keywords); score > 0 {
			hits = append(hits, Hit{ID: r.ID, Score: score})
		}
	}
	sortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func overlapScore(content string, keywords []string) float64 {
	tf := make(map[string]int, len(keywords))
	for _, tok := range Tokenize(content) {
		tf[tok]++
	}
	score, matched := 0.0, 0
	for _, kw := range keywords {
		if n := tf[kw]; n > 0 {
			score += 1 + math.Log(float64(n))
			matched++
		}
	}
	if matched == 0 {
		return 0
	}
	return score * float64(matched) / float64(len(keywords))
}
