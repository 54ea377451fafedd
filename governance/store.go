package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists governance state.
type Store interface {
	SaveSnapshot(ctx context.Context, s *Snapshot) error
	// ListSnapshots returns snapshots generated at or after since, oldest
	// first. A positive limit keeps only the most recent ones.
	ListSnapshots(ctx context.Context, since time.Time, limit int) ([]Snapshot, error)
	SaveTopicStats(ctx context.Context, stats []TopicStats) error
	LoadTopicStats(ctx context.Context) ([]TopicStats, error)
	SaveSourceUsage(ctx context.Context, usage []SourceUsage) error
	LoadSourceUsage(ctx context.Context) ([]SourceUsage, error)
	// ReplaceDetections swaps the stored detections for dets.
	ReplaceDetections(ctx context.Context, dets []Detection) error
	LoadDetections(ctx context.Context) ([]Detection, error)
}

// =============================================================================
// 🗄️ Table models
// =============================================================================

// SnapshotRecord is a governance_snapshots row. Payload holds the JSON
// encoded Snapshot.
type SnapshotRecord struct {
	ID              string    `gorm:"column:id;primaryKey;size:64"`
	GeneratedAt     time.Time `gorm:"column:generated_at;index:idx_governance_snapshots_generated"`
	GovernanceScore float64   `gorm:"column:governance_score"`
	HealthScore     float64   `gorm:"column:health_score"`
	QualityScore    float64   `gorm:"column:quality_score"`
	HealthStatus    string    `gorm:"column:health_status;size:16"`
	Payload         string    `gorm:"column:payload;not null"`
}

func (SnapshotRecord) TableName() string { return "governance_snapshots" }

// SourceUsageRecord is a source_usage row.
type SourceUsageRecord struct {
	SourceID     string     `gorm:"column:source_id;primaryKey;size:255"`
	Category     string     `gorm:"column:category;size:128"`
	AccessCount  int64      `gorm:"column:access_count"`
	Relevance    float64    `gorm:"column:relevance"`
	RegisteredAt time.Time  `gorm:"column:registered_at"`
	LastAccessed *time.Time `gorm:"column:last_accessed"`
	UpdatedAt    time.Time  `gorm:"column:updated_at"`
}

func (SourceUsageRecord) TableName() string { return "source_usage" }

// TopicCoverageRecord is a topic_coverage row.
type TopicCoverageRecord struct {
	Topic             string     `gorm:"column:topic;primaryKey;size:128"`
	QueryCount        int64      `gorm:"column:query_count"`
	AverageQuality    float64    `gorm:"column:average_quality"`
	ZeroResultQueries int64      `gorm:"column:zero_result_queries"`
	SourceCount       int64      `gorm:"column:source_count"`
	LastQueried       *time.Time `gorm:"column:last_queried"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

func (TopicCoverageRecord) TableName() string { return "topic_coverage" }

// DetectionRecord is an obsolescence_detections row.
type DetectionRecord struct {
	ID             string    `gorm:"column:id;primaryKey;size:64"`
	SourceID       string    `gorm:"column:source_id;size:255;index:idx_obsolescence_source"`
	RuleID         string    `gorm:"column:rule_id;size:128"`
	Severity       string    `gorm:"column:severity;size:16;index:idx_obsolescence_severity"`
	Description    string    `gorm:"column:description"`
	Suggestion     string    `gorm:"column:suggestion"`
	MatchedContent string    `gorm:"column:matched_content"`
	LineNumber     int       `gorm:"column:line_number"`
	Confidence     float64   `gorm:"column:confidence"`
	DetectedAt     time.Time `gorm:"column:detected_at"`
}

func (DetectionRecord) TableName() string { return "obsolescence_detections" }

// =============================================================================
// 🧱 GormStore
// =============================================================================

// GormStore implements Store with gorm on postgres, mysql or sqlite.
type GormStore struct {
	db        *gorm.DB
	batchSize int
	logger    *zap.Logger
}

var _ Store = (*GormStore)(nil)

// NewGormStore creates a store on db.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{
		db:        db,
		batchSize: 200,
		logger:    logger.With(zap.String("component", "governance_store")),
	}
}

// AutoMigrate creates the governance tables when migrations are not used.
func (s *GormStore) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&SnapshotRecord{}, &SourceUsageRecord{}, &TopicCoverageRecord{}, &DetectionRecord{},
	)
}

func (s *GormStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	rec := SnapshotRecord{
		ID:              snap.ID,
		GeneratedAt:     snap.GeneratedAt.UTC(),
		GovernanceScore: snap.GovernanceScore,
		HealthScore:     snap.HealthScore,
		QualityScore:    snap.QualityScore,
		HealthStatus:    snap.HealthStatus,
		Payload:         string(payload),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *GormStore) ListSnapshots(ctx context.Context, since time.Time, limit int) ([]Snapshot, error) {
	q := s.db.WithContext(ctx).Where("generated_at >= ?", since.UTC()).Order("generated_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []SnapshotRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	out := make([]Snapshot, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		var snap Snapshot
		if err := json.Unmarshal([]byte(recs[i].Payload), &snap); err != nil {
			s.logger.Warn("skipping undecodable snapshot", zap.String("id", recs[i].ID), zap.Error(err))
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *GormStore) SaveTopicStats(ctx context.Context, stats []TopicStats) error {
	if len(stats) == 0 {
		return nil
	}
	now := time.Now().UTC()
	recs := make([]TopicCoverageRecord, 0, len(stats))
	for _, st := range stats {
		recs = append(recs, TopicCoverageRecord{
			Topic:             st.Topic,
			QueryCount:        st.QueryCount,
			AverageQuality:    st.AverageQuality,
			ZeroResultQueries: st.ZeroResultQueries,
			SourceCount:       int64(st.SourceCount),
			LastQueried:       optionalTime(st.LastQueried),
			UpdatedAt:         now,
		})
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "topic"}},
		DoUpdates: clause.AssignmentColumns([]string{"query_count", "average_quality", "zero_result_queries", "source_count", "last_queried", "updated_at"}),
	}).CreateInBatches(&recs, s.batchSize).Error
	if err != nil {
		return fmt.Errorf("save topic coverage: %w", err)
	}
	return nil
}

func (s *GormStore) LoadTopicStats(ctx context.Context) ([]TopicStats, error) {
	var recs []TopicCoverageRecord
	if err := s.db.WithContext(ctx).Order("topic").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("load topic coverage: %w", err)
	}
	out := make([]TopicStats, 0, len(recs))
	for _, r := range recs {
		out = append(out, TopicStats{
			Topic:             r.Topic,
			QueryCount:        r.QueryCount,
			AverageQuality:    r.AverageQuality,
			ZeroResultQueries: r.ZeroResultQueries,
			SourceCount:       int(r.SourceCount),
			LastQueried:       derefTime(r.LastQueried),
		})
	}
	return out, nil
}

func (s *GormStore) SaveSourceUsage(ctx context.Context, usage []SourceUsage) error {
	if len(usage) == 0 {
		return nil
	}
	now := time.Now().UTC()
	recs := make([]SourceUsageRecord, 0, len(usage))
	for _, u := range usage {
		recs = append(recs, SourceUsageRecord{
			SourceID:     u.SourceID,
			Category:     u.Category,
			AccessCount:  u.AccessCount,
			Relevance:    u.AverageRelevance,
			RegisteredAt: u.RegisteredAt.UTC(),
			LastAccessed: optionalTime(u.LastAccessed),
			UpdatedAt:    now,
		})
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"category", "access_count", "relevance", "registered_at", "last_accessed", "updated_at"}),
	}).CreateInBatches(&recs, s.batchSize).Error
	if err != nil {
		return fmt.Errorf("save source usage: %w", err)
	}
	return nil
}

func (s *GormStore) LoadSourceUsage(ctx context.Context) ([]SourceUsage, error) {
	var recs []SourceUsageRecord
	if err := s.db.WithContext(ctx).Order("source_id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("load source usage: %w", err)
	}
	out := make([]SourceUsage, 0, len(recs))
	for _, r := range recs {
		out = append(out, SourceUsage{
			SourceID:         r.SourceID,
			Category:         r.Category,
			AccessCount:      r.AccessCount,
			AverageRelevance: r.Relevance,
			RegisteredAt:     r.RegisteredAt.UTC(),
			LastAccessed:     derefTime(r.LastAccessed),
		})
	}
	return out, nil
}

func (s *GormStore) ReplaceDetections(ctx context.Context, dets []Detection) error {
	recs := make([]DetectionRecord, 0, len(dets))
	for _, d := range dets {
		recs = append(recs, DetectionRecord{
			ID:             d.ID,
			SourceID:       d.SourceID,
			RuleID:         d.RuleID,
			Severity:       string(d.Severity),
			Description:    d.Description,
			Suggestion:     d.Suggestion,
			MatchedContent: d.MatchedContent,
			LineNumber:     d.LineNumber,
			Confidence:     d.Confidence,
			DetectedAt:     d.DetectedAt.UTC(),
		})
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&DetectionRecord{}).Error; err != nil {
			return err
		}
		if len(recs) == 0 {
			return nil
		}
		return tx.CreateInBatches(&recs, s.batchSize).Error
	})
	if err != nil {
		return fmt.Errorf("replace detections: %w", err)
	}
	return nil
}

func (s *GormStore) LoadDetections(ctx context.Context) ([]Detection, error) {
	var recs []DetectionRecord
	if err := s.db.WithContext(ctx).Order("source_id, line_number, rule_id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("load detections: %w", err)
	}
	out := make([]Detection, 0, len(recs))
	for _, r := range recs {
		out = append(out, Detection{
			ID:             r.ID,
			SourceID:       r.SourceID,
			RuleID:         r.RuleID,
			Severity:       Severity(r.Severity),
			Description:    r.Description,
			Suggestion:     r.Suggestion,
			MatchedContent: r.MatchedContent,
			LineNumber:     r.LineNumber,
			Confidence:     r.Confidence,
			DetectedAt:     r.DetectedAt.UTC(),
		})
	}
	return out, nil
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
