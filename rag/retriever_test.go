package rag

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/searchflow/types"
)

type fakeEmbedder struct {
	vec   []float32
	err   error
	delay time.Duration
	calls atomic.Int64
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.vec, f.err
}

type failingTextIndex struct{ err error }

func (f failingTextIndex) Index(context.Context, []CorpusItem) error { return nil }
func (f failingTextIndex) Query(context.Context, []string, int, Filters) ([]Hit, error) {
	return nil, f.err
}
func (f failingTextIndex) Name() string { return "failing" }

func TestVectorRetriever_Retrieve(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryVectorIndex(nil)
	require.NoError(t, idx.Upsert(ctx, []CorpusItem{
		{ID: "a", Embedding: []float32{1, 0}},
		{ID: "b", Embedding: []float32{0, 1}},
	}))
	emb := &fakeEmbedder{vec: []float32{1, 0.1}}
	r := NewVectorRetriever(emb, idx, time.Second, nil)
	assert.Equal(t, ChannelVector, r.Channel())

	hits, err := r.Retrieve(ctx, &Query{Cleaned: "react"}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
}

func TestVectorRetriever_BlankQuerySkipsEmbedding(t *testing.T) {
	emb := &fakeEmbedder{vec: []float32{1}}
	r := NewVectorRetriever(emb, NewMemoryVectorIndex(nil), time.Second, nil)

	hits, err := r.Retrieve(context.Background(), &Query{Authorized: true}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Zero(t, emb.calls.Load())
}

func TestVectorRetriever_Failures(t *testing.T) {
	r := NewVectorRetriever(&fakeEmbedder{err: errors.New("quota")}, NewMemoryVectorIndex(nil), time.Second, nil)
	_, err := r.Retrieve(context.Background(), &Query{Cleaned: "x"}, 5)
	require.Error(t, err)
	assert.Equal(t, types.ErrRetrieverUnavailable, types.GetErrorCode(err))

	slow := NewVectorRetriever(&fakeEmbedder{delay: time.Second}, NewMemoryVectorIndex(nil), 20*time.Millisecond, nil)
	_, err = slow.Retrieve(context.Background(), &Query{Cleaned: "x"}, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTextRetriever_Retrieve(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryTextIndex(DefaultBM25Config(), nil)
	require.NoError(t, idx.Index(ctx, textCorpus()))
	r := NewTextRetriever(idx, time.Second, nil)
	assert.Equal(t, ChannelText, r.Channel())

	hits, err := r.Retrieve(ctx, &Query{Keywords: []string{"prisma"}}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "prisma", hits[0].ID)

	hits, err = r.Retrieve(ctx, &Query{}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestTextRetriever_Failure(t *testing.T) {
	r := NewTextRetriever(failingTextIndex{err: errors.New("db down")}, time.Second, nil)
	_, err := r.Retrieve(context.Background(), &Query{Keywords: []string{"x"}}, 5)
	require.Error(t, err)
	assert.Equal(t, types.ErrRetrieverUnavailable, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "text retriever unavailable")
}
