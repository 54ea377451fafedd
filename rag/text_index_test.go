package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textCorpus() []CorpusItem {
	return []CorpusItem{
		{ID: "hooks", Text: "React hooks: useState and useEffect hooks explained", Metadata: map[string]any{"category": "react"}},
		{ID: "router", Text: "Next.js app router and middleware", Metadata: map[string]any{"category": "nextjs"}},
		{ID: "prisma", Text: "Prisma schema migration guide", Metadata: map[string]any{"category": "database"}},
		{ID: "mixed", Text: "Using React with the Next.js router", Metadata: map[string]any{"category": "nextjs"}},
	}
}

func TestMemoryTextIndex_BM25Ranking(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryTextIndex(DefaultBM25Config(), nil)
	require.NoError(t, idx.Index(ctx, textCorpus()))
	assert.Equal(t, 4, idx.Len())

	hits, err := idx.Query(ctx, []string{"hooks"}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "hooks", hits[0].ID)
	assert.Greater(t, hits[0].Score, 0.0)

	hits, err = idx.Query(ctx, []string{"react", "router"}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "mixed", hits[0].ID, "matching both keywords ranks first")

	hits, err = idx.Query(ctx, []string{"next.js"}, 10, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestMemoryTextIndex_FiltersAndTopK(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryTextIndex(BM25Config{}, nil)
	require.NoError(t, idx.Index(ctx, textCorpus()))

	hits, err := idx.Query(ctx, []string{"react", "router"}, 10, Filters{"category": {"react"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "hooks", hits[0].ID)

	hits, err = idx.Query(ctx, []string{"react", "router"}, 1, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	hits, err = idx.Query(ctx, []string{"unknown"}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = idx.Query(ctx, nil, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemoryTextIndex_Reindex(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryTextIndex(DefaultBM25Config(), nil)
	require.NoError(t, idx.Index(ctx, textCorpus()))

	require.NoError(t, idx.Index(ctx, []CorpusItem{{ID: "hooks", Text: "Vue composition API"}}))
	assert.Equal(t, 4, idx.Len())

	hits, err := idx.Query(ctx, []string{"hooks"}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits, "old postings are removed on replace")

	hits, err = idx.Query(ctx, []string{"vue"}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "hooks", hits[0].ID)
}

func TestMemoryTextIndex_EmptyIndex(t *testing.T) {
	hits, err := NewMemoryTextIndex(DefaultBM25Config(), nil).Query(context.Background(), []string{"react"}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
