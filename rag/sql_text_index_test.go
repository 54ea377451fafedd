package rag

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection keeps the in-memory database alive and shared.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newSQLTextIndex(t *testing.T) *SQLTextIndex {
	t.Helper()
	idx := NewSQLTextIndex(newSQLiteDB(t), nil)
	require.NoError(t, idx.AutoMigrate(context.Background()))
	require.NoError(t, idx.Index(context.Background(), textCorpus()))
	return idx
}

func TestSQLTextIndex_Query(t *testing.T) {
	idx := newSQLTextIndex(t)
	ctx := context.Background()

	hits, err := idx.Query(ctx, []string{"react", "router"}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "mixed", hits[0].ID)
	assert.InDelta(t, 2.0, hits[0].Score, 1e-9)

	hits, err = idx.Query(ctx, []string{"hooks"}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "hooks", hits[0].ID)
	// "hooks" occurs twice.
	assert.Greater(t, hits[0].Score, 1.0)
}

func TestSQLTextIndex_SubstringMatchesAreRescored(t *testing.T) {
	idx := newSQLTextIndex(t)

	// LIKE matches "router" for "route", but the token scorer does not.
	hits, err := idx.Query(context.Background(), []string{"route"}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSQLTextIndex_Filters(t *testing.T) {
	idx := newSQLTextIndex(t)
	ctx := context.Background()

	hits, err := idx.Query(ctx, []string{"react", "router"}, 10, Filters{"category": {"react"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "hooks", hits[0].ID)

	hits, err = idx.Query(ctx, []string{"react"}, 10, Filters{"license": {"MIT"}})
	require.NoError(t, err)
	assert.Empty(t, hits, "filters not pushed into SQL are applied on metadata")
}

func TestSQLTextIndex_Upsert(t *testing.T) {
	idx := newSQLTextIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []CorpusItem{{
		ID:       "prisma",
		Text:     "Drizzle ORM guide",
		Metadata: map[string]any{"category": "database", "restricted": true},
	}}))

	var row CorpusDocument
	require.NoError(t, idx.db.First(&row, "id = ?", "prisma").Error)
	assert.Equal(t, "Drizzle ORM guide", row.Content)
	assert.True(t, row.Restricted)
	assert.Equal(t, "prisma", row.SourceID)

	var count int64
	require.NoError(t, idx.db.Model(&CorpusDocument{}).Count(&count).Error)
	assert.Equal(t, int64(4), count)

	hits, err := idx.Query(ctx, []string{"prisma"}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSQLTextIndex_EmptyInput(t *testing.T) {
	idx := newSQLTextIndex(t)

	hits, err := idx.Query(context.Background(), nil, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
	require.NoError(t, idx.Index(context.Background(), nil))
}
