package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/searchflow/internal/tlsutil"
	"github.com/BaSui01/searchflow/llm/retry"
	"github.com/BaSui01/searchflow/types"
)

// BaseProvider holds the HTTP plumbing shared by embedding providers.
type BaseProvider struct {
	name       string
	client     *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	maxBatch   int
	observer   RequestObserver
	retryer    *retry.Retryer
	logger     *zap.Logger
}

// BaseConfig configures a BaseProvider.
type BaseConfig struct {
	Name       string
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	MaxBatch   int
	Timeout    time.Duration
	// MaxRetries extra attempts for retryable failures; 0 sends once.
	MaxRetries int
	Observer   RequestObserver
	Logger     *zap.Logger
}

// NewBaseProvider applies defaults (30s timeout, batch of 100).
func NewBaseProvider(cfg BaseConfig) *BaseProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxBatch := cfg.MaxBatch
	if maxBatch == 0 {
		maxBatch = 100
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	logger = logger.With(zap.String("component", "embedding"), zap.String("provider", cfg.Name))
	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.MaxRetries
	return &BaseProvider{
		name:       cfg.Name,
		client:     tlsutil.HTTPClient(baseURL, timeout),
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		maxBatch:   maxBatch,
		observer:   cfg.Observer,
		retryer:    retry.New(policy, logger),
		logger:     logger,
	}
}

func (p *BaseProvider) Name() string      { return p.name }
func (p *BaseProvider) Dimensions() int   { return p.dimensions }
func (p *BaseProvider) MaxBatchSize() int { return p.maxBatch }

type embedFunc func(context.Context, *EmbeddingRequest) (*EmbeddingResponse, error)

// EmbedQuery embeds one query string through embedFn.
func (p *BaseProvider) EmbedQuery(ctx context.Context, query string, embedFn embedFunc) ([]float32, error) {
	resp, err := embedFn(ctx, &EmbeddingRequest{
		Input:     []string{query},
		InputType: InputTypeQuery,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "no embeddings returned").WithProvider(p.name)
	}
	return resp.Embeddings[0].Embedding, nil
}

// EmbedDocuments splits documents into MaxBatchSize chunks and reassembles
// vectors in input order.
func (p *BaseProvider) EmbedDocuments(ctx context.Context, documents []string, embedFn embedFunc) ([][]float32, error) {
	result := make([][]float32, 0, len(documents))
	for start := 0; start < len(documents); start += p.maxBatch {
		end := min(start+p.maxBatch, len(documents))
		resp, err := embedFn(ctx, &EmbeddingRequest{
			Input:     documents[start:end],
			InputType: InputTypeDocument,
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != end-start {
			return nil, types.NewError(types.ErrUpstreamError,
				fmt.Sprintf("expected %d embeddings, got %d", end-start, len(resp.Embeddings))).WithProvider(p.name)
		}
		batch := append([]EmbeddingData(nil), resp.Embeddings...)
		sort.Slice(batch, func(i, j int) bool { return batch[i].Index < batch[j].Index })
		for _, emb := range batch {
			result = append(result, emb.Embedding)
		}
	}
	return result, nil
}

// DoRequest sends a JSON request and maps failures to *types.Error.
// Retryable failures are retried with backoff.
func (p *BaseProvider) DoRequest(ctx context.Context, method, endpoint string, body any, headers map[string]string) ([]byte, error) {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		payload = data
	}
	return retry.DoValue(ctx, p.retryer, func(ctx context.Context) ([]byte, error) {
		return p.send(ctx, method, endpoint, payload, headers)
	})
}

func (p *BaseProvider) send(ctx context.Context, method, endpoint string, payload []byte, headers map[string]string) ([]byte, error) {
	start := time.Now()
	status := "success"
	defer func() {
		if p.observer != nil {
			p.observer.RecordLLMRequest(p.name, p.model, status, time.Since(start))
		}
	}()

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+endpoint, reqBody)
	if err != nil {
		status = "error"
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		status = "error"
		code := types.ErrUpstreamError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			code = types.ErrUpstreamTimeout
			status = "timeout"
		}
		p.logger.Warn("embedding request failed", zap.Error(err))
		return nil, types.NewError(code, "embedding request failed").
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(ctx.Err() == nil).
			WithProvider(p.name)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		status = "error"
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		status = "error"
		return nil, mapHTTPError(resp.StatusCode, string(respBody), p.name)
	}
	return respBody, nil
}

func mapHTTPError(status int, msg, provider string) *types.Error {
	code := types.ErrUpstreamError
	retryable := status >= 500

	switch status {
	case http.StatusUnauthorized:
		code = types.ErrUnauthorized
	case http.StatusForbidden:
		code = types.ErrForbidden
	case http.StatusTooManyRequests:
		code = types.ErrRateLimited
		retryable = true
	case http.StatusBadRequest:
		code = types.ErrInvalidRequest
	}

	return types.NewError(code, strings.TrimSpace(msg)).
		WithHTTPStatus(status).
		WithRetryable(retryable).
		WithProvider(provider)
}

// ChooseModel picks the request model, then the configured default, then fallback.
func ChooseModel(reqModel, defaultModel, fallback string) string {
	if reqModel != "" {
		return reqModel
	}
	if defaultModel != "" {
		return defaultModel
	}
	return fallback
}
