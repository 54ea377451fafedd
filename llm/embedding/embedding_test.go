package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/searchflow/config"
	"github.com/BaSui01/searchflow/types"
)

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingObserver) RecordLLMRequest(provider, model, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, provider+"/"+model+"/"+status)
}

func TestChooseModel(t *testing.T) {
	assert.Equal(t, "req-model", ChooseModel("req-model", "default", "fallback"))
	assert.Equal(t, "default", ChooseModel("", "default", "fallback"))
	assert.Equal(t, "fallback", ChooseModel("", "", "fallback"))
}

func TestNewBaseProvider_Defaults(t *testing.T) {
	bp := NewBaseProvider(BaseConfig{Name: "test", BaseURL: "http://example.com/"})
	assert.Equal(t, "test", bp.Name())
	assert.Equal(t, 100, bp.MaxBatchSize())
	assert.Equal(t, "http://example.com", bp.baseURL)
	assert.Equal(t, 30*time.Second, bp.client.Timeout)
}

func TestOpenAIProvider_EmbedQuery(t *testing.T) {
	var got openAIEmbedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.1,0.2,0.3]}],"model":"text-embedding-3-small","usage":{"prompt_tokens":3,"total_tokens":3}}`))
	}))
	defer server.Close()

	obs := &recordingObserver{}
	p := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL, Dimensions: 3, Observer: obs})

	vec, err := p.EmbedQuery(context.Background(), "react hooks")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, []string{"react hooks"}, got.Input)
	assert.Equal(t, "text-embedding-3-small", got.Model)
	assert.Equal(t, 3, got.Dimensions)
	assert.Equal(t, []string{"openai/text-embedding-3-small/success"}, obs.calls)
}

func TestOpenAIProvider_EmbedDocuments_BatchesAndOrders(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// answer in reverse index order
		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		var data []item
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, item{Index: i, Embedding: []float32{float32(len(req.Input[i]))}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data, "model": "m"})
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: server.URL, Dimensions: 1})
	p.maxBatch = 2

	vecs, err := p.EmbedDocuments(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, 2, requests)
	assert.Equal(t, [][]float32{{1}, {2}, {3}}, vecs)
}

func TestOpenAIProvider_EmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: server.URL})
	_, err := p.EmbedQuery(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
}

func TestOpenAIProvider_HTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	obs := &recordingObserver{}
	p := NewOpenAIProvider(OpenAIConfig{BaseURL: server.URL, Observer: obs})
	_, err := p.EmbedQuery(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, types.ErrRateLimited, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
	assert.Equal(t, []string{"openai/text-embedding-3-small/error"}, obs.calls)
}

func TestOpenAIProvider_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: server.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.EmbedQuery(ctx, "q")
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamTimeout, types.GetErrorCode(err))
}

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		status    int
		wantCode  types.ErrorCode
		retryable bool
	}{
		{http.StatusUnauthorized, types.ErrUnauthorized, false},
		{http.StatusForbidden, types.ErrForbidden, false},
		{http.StatusTooManyRequests, types.ErrRateLimited, true},
		{http.StatusBadRequest, types.ErrInvalidRequest, false},
		{http.StatusInternalServerError, types.ErrUpstreamError, true},
		{http.StatusServiceUnavailable, types.ErrUpstreamError, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := mapHTTPError(tt.status, "boom\n", "openai")
			assert.Equal(t, tt.wantCode, err.Code)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, "openai", err.Provider)
			assert.Equal(t, tt.status, err.HTTPStatus)
			assert.Equal(t, "boom", err.Message)
		})
	}
}

func TestNewFromConfig(t *testing.T) {
	p, err := NewFromConfig(config.EmbeddingConfig{Provider: "none"}, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = NewFromConfig(config.DefaultEmbeddingConfig(), nil, nil)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 1536, p.Dimensions())

	_, err = NewFromConfig(config.EmbeddingConfig{Provider: "word2vec"}, nil, nil)
	assert.Error(t, err)
}

func TestOpenAIProvider_RetriesTransientFailures(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "text-embedding-3-small",
			"data":  []map[string]any{{"index": 0, "embedding": []float32{0.1, 0.2}}},
		})
	}))
	defer server.Close()

	obs := &recordingObserver{}
	p := NewOpenAIProvider(OpenAIConfig{BaseURL: server.URL, Dimensions: 2, MaxRetries: 1, Observer: obs})
	vec, err := p.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, vec)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{
		"openai/text-embedding-3-small/error",
		"openai/text-embedding-3-small/success",
	}, obs.calls)
}

func TestOpenAIProvider_DoesNotRetryAuthFailures(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: server.URL, MaxRetries: 3})
	_, err := p.EmbedQuery(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, types.ErrUnauthorized, types.GetErrorCode(err))
	assert.Equal(t, 1, calls)
}

func TestOpenAIProvider_RejectsDimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.1,0.2]}]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: server.URL, Dimensions: 3})
	_, err := p.EmbedQuery(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "want 3")
}

func TestOpenAIProvider_LegacyModelOmitsDimensions(t *testing.T) {
	var raw map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.5]}]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: server.URL, Model: "text-embedding-ada-002", Dimensions: 1})
	_, err := p.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-ada-002", raw["model"])
	assert.NotContains(t, raw, "dimensions")
}
