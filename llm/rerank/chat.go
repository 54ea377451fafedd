package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/searchflow/internal/tlsutil"
	"github.com/BaSui01/searchflow/llm/tokenizer"
	"github.com/BaSui01/searchflow/types"
)

// ChatJudge asks an OpenAI-compatible chat model to score candidates and
// explain each score, answering in a JSON object.
type ChatJudge struct {
	cfg       ChatConfig
	client    *http.Client
	tokenizer tokenizer.Tokenizer
	logger    *zap.Logger
}

// NewChatJudge creates the judge; empty fields take DefaultChatConfig values.
func NewChatJudge(cfg ChatConfig, logger *zap.Logger) *ChatJudge {
	def := DefaultChatConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxTokensPerCandidate == 0 {
		cfg.MaxTokensPerCandidate = def.MaxTokensPerCandidate
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	tk := cfg.Tokenizer
	if tk == nil {
		tk = tokenizer.ForModel(cfg.Model)
	}

	return &ChatJudge{
		cfg:       cfg,
		client:    tlsutil.HTTPClient(cfg.BaseURL, cfg.Timeout),
		tokenizer: tk,
		logger:    logger.With(zap.String("component", "chat_judge")),
	}
}

func (j *ChatJudge) Name() string { return "chat" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// chatJudgment accepts both index/score and original_index/new_score keys.
type chatJudgment struct {
	Index         *int     `json:"index"`
	OriginalIndex *int     `json:"original_index"`
	Score         *float64 `json:"score"`
	NewScore      *float64 `json:"new_score"`
	Rationale     string   `json:"rationale"`
	Confidence    float64  `json:"confidence"`
}

const chatSystemPrompt = `You rerank search results for a software developer.
For every candidate, judge how useful it is for the query: direct relevance, technical quality and practical applicability.
Answer with a JSON object {"results":[{"index":<candidate index>,"score":<0.0-1.0>,"rationale":"<one concise sentence>","confidence":<0.0-1.0>}]}.
Judge every candidate exactly once. Do not invent indexes.`

// Judge scores req.Candidates in one chat completion.
func (j *ChatJudge) Judge(ctx context.Context, req JudgmentRequest) (out []Judgment, err error) {
	if len(req.Candidates) == 0 {
		return nil, nil
	}
	start := time.Now()
	defer func() { observe(j.cfg.Observer, j.Name(), j.cfg.Model, start, err) }()

	body := chatRequest{
		Model: j.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: chatSystemPrompt},
			{Role: "user", Content: j.buildPrompt(req)},
		},
		Temperature:    j.cfg.Temperature,
		ResponseFormat: map[string]string{"type": "json_object"},
	}

	raw, err := postJSON(ctx, j.client, j.cfg.BaseURL+"/v1/chat/completions", j.cfg.APIKey, j.Name(), body)
	if err != nil {
		return nil, err
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, types.NewJudgmentUnavailableError(j.Name(), fmt.Errorf("decode completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, types.NewJudgmentUnavailableError(j.Name(), fmt.Errorf("completion has no choices"))
	}

	judgments, err := parseJudgments(resp.Choices[0].Message.Content, len(req.Candidates))
	if err != nil {
		return nil, types.NewJudgmentUnavailableError(j.Name(), err)
	}
	return judgments, nil
}

func (j *ChatJudge) buildPrompt(req JudgmentRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n", req.Query)
	if req.Intent != "" {
		fmt.Fprintf(&b, "Intent: %s\n", req.Intent)
	}
	if req.Module != "" {
		fmt.Fprintf(&b, "Caller module: %s\n", req.Module)
	}
	if req.TaskHint != "" {
		fmt.Fprintf(&b, "Task: %s\n", req.TaskHint)
	}
	b.WriteString("\nCandidates:\n")
	for i, c := range req.Candidates {
		fmt.Fprintf(&b, "\n[%d] score=%.3f", i, c.Score)
		if c.Category != "" {
			fmt.Fprintf(&b, " category=%s", c.Category)
		}
		b.WriteString("\n")
		b.WriteString(tokenizer.Truncate(j.tokenizer, c.Text, j.cfg.MaxTokensPerCandidate))
		b.WriteString("\n")
	}
	return b.String()
}

// parseJudgments decodes the model answer, dropping out-of-range and
// duplicate indexes and clamping scores to [0,1].
func parseJudgments(content string, n int) ([]Judgment, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var payload struct {
		Results []chatJudgment `json:"results"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("decode judgments: %w", err)
	}

	seen := make(map[int]bool, n)
	out := make([]Judgment, 0, len(payload.Results))
	for _, r := range payload.Results {
		idx := r.Index
		if idx == nil {
			idx = r.OriginalIndex
		}
		score := r.Score
		if score == nil {
			score = r.NewScore
		}
		if idx == nil || score == nil || *idx < 0 || *idx >= n || seen[*idx] {
			continue
		}
		seen[*idx] = true
		out = append(out, Judgment{
			Index:      *idx,
			Score:      clamp01(*score),
			Rationale:  strings.TrimSpace(r.Rationale),
			Confidence: clamp01(r.Confidence),
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no usable judgments in answer")
	}
	return out, nil
}
