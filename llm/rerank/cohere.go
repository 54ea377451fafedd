package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/searchflow/internal/tlsutil"
	"github.com/BaSui01/searchflow/llm/tokenizer"
	"github.com/BaSui01/searchflow/types"
)

// CohereJudge scores candidates with the Cohere /v2/rerank API. Cohere
// returns no explanation, so rationales are derived from the score band.
type CohereJudge struct {
	cfg       CohereConfig
	client    *http.Client
	tokenizer tokenizer.Tokenizer
}

// NewCohereJudge creates the judge; empty fields take DefaultCohereConfig values.
func NewCohereJudge(cfg CohereConfig) *CohereJudge {
	def := DefaultCohereConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &CohereJudge{
		cfg:       cfg,
		client:    tlsutil.HTTPClient(cfg.BaseURL, cfg.Timeout),
		tokenizer: tokenizer.NewEstimatorTokenizer(),
	}
}

func (j *CohereJudge) Name() string { return "cohere" }

type cohereRerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
	TopN      int      `json:"top_n,omitempty"`
}

type cohereRerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Judge reranks req.Candidates in one request.
func (j *CohereJudge) Judge(ctx context.Context, req JudgmentRequest) (out []Judgment, err error) {
	if len(req.Candidates) == 0 {
		return nil, nil
	}
	start := time.Now()
	defer func() { observe(j.cfg.Observer, j.Name(), j.cfg.Model, start, err) }()

	docs := make([]string, len(req.Candidates))
	for i, c := range req.Candidates {
		docs[i] = tokenizer.Truncate(j.tokenizer, c.Text, j.cfg.MaxTokensPerCandidate)
	}

	raw, err := postJSON(ctx, j.client, j.cfg.BaseURL+"/v2/rerank", j.cfg.APIKey, j.Name(), cohereRerankRequest{
		Query:     req.Query,
		Documents: docs,
		Model:     j.cfg.Model,
		TopN:      len(docs),
	})
	if err != nil {
		return nil, err
	}

	var resp cohereRerankResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, types.NewJudgmentUnavailableError(j.Name(), fmt.Errorf("decode rerank response: %w", err))
	}

	seen := make(map[int]bool, len(resp.Results))
	for _, r := range resp.Results {
		if r.Index < 0 || r.Index >= len(docs) || seen[r.Index] {
			continue
		}
		seen[r.Index] = true
		score := clamp01(r.RelevanceScore)
		out = append(out, Judgment{Index: r.Index, Score: score, Rationale: bandRationale(score)})
	}
	if len(out) == 0 {
		return nil, types.NewJudgmentUnavailableError(j.Name(), fmt.Errorf("no usable results"))
	}
	return out, nil
}

func bandRationale(score float64) string {
	switch {
	case score >= 0.8:
		return "Highly relevant: directly answers the query"
	case score >= 0.5:
		return "Relevant: covers the main topic of the query"
	case score >= 0.2:
		return "Partially relevant: related context for the query"
	default:
		return "Marginally relevant: weak match for the query"
	}
}
