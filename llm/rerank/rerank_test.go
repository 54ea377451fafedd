package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/searchflow/config"
	"github.com/BaSui01/searchflow/llm/circuitbreaker"
	"github.com/BaSui01/searchflow/llm/tokenizer"
	"github.com/BaSui01/searchflow/types"
)

var estimator = tokenizer.NewEstimatorTokenizer()

func candidates() []Candidate {
	return []Candidate{
		{ID: "a", Text: "useEffect cleanup in React", Category: "react", Score: 0.9},
		{ID: "b", Text: "Next.js app router layouts", Category: "nextjs", Score: 0.7},
		{ID: "c", Text: "CSS grid template areas", Category: "css", Score: 0.4},
	}
}

func chatServer(t *testing.T, content string, capture *chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		if capture != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(capture))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": content}}},
		})
	}))
}

func TestChatJudge_Judge(t *testing.T) {
	var captured chatRequest
	srv := chatServer(t, `{"results":[
		{"index":2,"score":0.95,"rationale":"grid answers the layout question","confidence":0.8},
		{"index":0,"score":1.7,"rationale":"hooks"},
		{"index":9,"score":0.5,"rationale":"bogus"},
		{"index":0,"score":0.1,"rationale":"duplicate"}
	]}`, &captured)
	defer srv.Close()

	j := NewChatJudge(ChatConfig{BaseURL: srv.URL, APIKey: "k", Tokenizer: estimator}, nil)
	out, err := j.Judge(context.Background(), JudgmentRequest{Query: "css layout", Intent: "implementation", Candidates: candidates()})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, Judgment{Index: 2, Score: 0.95, Rationale: "grid answers the layout question", Confidence: 0.8}, out[0])
	assert.Equal(t, 0, out[1].Index)
	assert.Equal(t, 1.0, out[1].Score)

	assert.Equal(t, "gpt-4o-mini", captured.Model)
	require.Len(t, captured.Messages, 2)
	assert.Contains(t, captured.Messages[1].Content, "Query: css layout")
	assert.Contains(t, captured.Messages[1].Content, "[2] score=0.400 category=css")
	assert.Equal(t, "json_object", captured.ResponseFormat["type"])
}

func TestChatJudge_LegacyKeysAndFences(t *testing.T) {
	srv := chatServer(t, "```json\n{\"results\":[{\"original_index\":1,\"new_score\":0.6,\"rationale\":\"ok\"}]}\n```", nil)
	defer srv.Close()

	out, err := NewChatJudge(ChatConfig{BaseURL: srv.URL, Tokenizer: estimator}, nil).Judge(context.Background(), JudgmentRequest{Query: "q", Candidates: candidates()})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].Index)
	assert.Equal(t, 0.6, out[0].Score)
}

func TestChatJudge_Failures(t *testing.T) {
	t.Run("malformed answer", func(t *testing.T) {
		srv := chatServer(t, "I think the first one", nil)
		defer srv.Close()
		_, err := NewChatJudge(ChatConfig{BaseURL: srv.URL, Tokenizer: estimator}, nil).Judge(context.Background(), JudgmentRequest{Query: "q", Candidates: candidates()})
		assert.True(t, types.IsErrorCode(err, types.ErrJudgmentUnavailable))
	})

	t.Run("upstream 500", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusInternalServerError)
		}))
		defer srv.Close()
		_, err := NewChatJudge(ChatConfig{BaseURL: srv.URL, Tokenizer: estimator}, nil).Judge(context.Background(), JudgmentRequest{Query: "q", Candidates: candidates()})
		require.Error(t, err)
		assert.True(t, types.IsErrorCode(err, types.ErrJudgmentUnavailable))
		assert.Contains(t, err.Error(), "status=500")
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := NewChatJudge(ChatConfig{BaseURL: srv.URL, Tokenizer: estimator}, nil).Judge(ctx, JudgmentRequest{Query: "q", Candidates: candidates()})
		assert.True(t, types.IsErrorCode(err, types.ErrJudgmentUnavailable))
	})

	t.Run("no candidates skips the call", func(t *testing.T) {
		out, err := NewChatJudge(ChatConfig{BaseURL: "http://127.0.0.1:1", Tokenizer: estimator}, nil).Judge(context.Background(), JudgmentRequest{Query: "q"})
		assert.NoError(t, err)
		assert.Empty(t, out)
	})
}

func TestChatJudge_TruncatesCandidates(t *testing.T) {
	var captured chatRequest
	srv := chatServer(t, `{"results":[{"index":0,"score":0.5,"rationale":"r"}]}`, &captured)
	defer srv.Close()

	long := strings.Repeat("tailwind utility classes ", 400)
	j := NewChatJudge(ChatConfig{BaseURL: srv.URL, MaxTokensPerCandidate: 8, Tokenizer: estimator}, nil)
	_, err := j.Judge(context.Background(), JudgmentRequest{Query: "q", Candidates: []Candidate{{ID: "x", Text: long}}})
	require.NoError(t, err)
	assert.Less(t, len(captured.Messages[1].Content), 400)
}

func TestCohereJudge_Judge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/rerank", r.URL.Path)
		var req cohereRerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 3, req.TopN)
		assert.Equal(t, "rerank-v3.5", req.Model)
		_, _ = w.Write([]byte(`{"results":[{"index":1,"relevance_score":0.91},{"index":0,"relevance_score":0.3},{"index":7,"relevance_score":0.99}]}`))
	}))
	defer srv.Close()

	out, err := NewCohereJudge(CohereConfig{BaseURL: srv.URL}).Judge(context.Background(), JudgmentRequest{Query: "app router", Candidates: candidates()})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 1, out[0].Index)
	assert.Equal(t, "Highly relevant: directly answers the query", out[0].Rationale)
	assert.Equal(t, "Partially relevant: related context for the query", out[1].Rationale)
}

func TestBandRationale(t *testing.T) {
	assert.Contains(t, bandRationale(0.5), "Relevant")
	assert.Contains(t, bandRationale(0.05), "Marginally")
}

func TestNewFromConfig(t *testing.T) {
	j, err := NewFromConfig(config.JudgmentConfig{Provider: "none"}, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, j)

	j, err = NewFromConfig(config.JudgmentConfig{Provider: "chat"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "chat", j.Name())

	j, err = NewFromConfig(config.JudgmentConfig{Provider: "cohere"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "cohere", j.Name())

	_, err = NewFromConfig(config.JudgmentConfig{Provider: "oracle"}, nil, nil)
	assert.Error(t, err)
}

type flakyJudge struct {
	calls int
	err   error
}

func (f *flakyJudge) Name() string { return "flaky" }

func (f *flakyJudge) Judge(context.Context, JudgmentRequest) ([]Judgment, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []Judgment{{Index: 0, Score: 1}}, nil
}

func TestBreakerJudge(t *testing.T) {
	inner := &flakyJudge{err: types.NewJudgmentUnavailableError("flaky", assert.AnError)}
	j := NewBreakerJudge(inner, circuitbreaker.Config{Threshold: 2, ResetTimeout: time.Hour}, nil)
	req := JudgmentRequest{Query: "q", Candidates: candidates()}

	for i := 0; i < 2; i++ {
		_, err := j.Judge(context.Background(), req)
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateOpen, j.State())

	_, err := j.Judge(context.Background(), req)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrJudgmentUnavailable))
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, 2, inner.calls, "open breaker does not call the judge")
	assert.Equal(t, "flaky", j.Name())
}

func TestBreakerJudge_PassesThroughSuccess(t *testing.T) {
	j := NewBreakerJudge(&flakyJudge{}, circuitbreaker.Config{Threshold: 1}, nil)

	out, err := j.Judge(context.Background(), JudgmentRequest{Query: "q", Candidates: candidates()})
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, circuitbreaker.StateClosed, j.State())
}

func TestNewFromConfig_WrapsWithBreaker(t *testing.T) {
	j, err := NewFromConfig(config.JudgmentConfig{Provider: "cohere", BreakerThreshold: 3}, nil, nil)
	require.NoError(t, err)
	bj, ok := j.(*BreakerJudge)
	require.True(t, ok)
	assert.Equal(t, "cohere", bj.Name())
	assert.Equal(t, 3, bj.breaker.Config().Threshold)
}
