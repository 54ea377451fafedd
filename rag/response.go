package rag

import "time"

// SearchRequest is the query API request.
type SearchRequest struct {
	Query            string  `json:"query"`
	TopK             int     `json:"top_k,omitempty"`
	Filters          Filters `json:"filters,omitempty"`
	IncludeRationale bool    `json:"include_rationale"`
	// Optional caller context forwarded to the reranker.
	Module   string `json:"module,omitempty"`
	TaskHint string `json:"task_hint,omitempty"`
}

// ResultItem is one returned corpus item.
type ResultItem struct {
	ID        string         `json:"id"`
	Score     float64        `json:"score"`
	Content   string         `json:"content"`
	Source    string         `json:"source"`
	Rationale *string        `json:"rationale,omitempty"`
	Origin    SignalOrigin   `json:"origin"`
	Category  string         `json:"category,omitempty"`
	License   string         `json:"license,omitempty"`
	SourceURL string         `json:"source_url,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ProcessingTimes are per-stage durations in milliseconds.
type ProcessingTimes struct {
	Processing float64 `json:"processing"`
	Retrieval  float64 `json:"retrieval"`
	Rerank     float64 `json:"rerank"`
}

// SearchStats describes how a response was produced. Result counts are
// taken after access filtering.
type SearchStats struct {
	VectorResults    int             `json:"vector_results"`
	TextResults      int             `json:"text_results"`
	MergedResults    int             `json:"merged_results"`
	Reranked         bool            `json:"reranked"`
	DegradedChannels []string        `json:"degraded_channels,omitempty"`
	Intent           Intent          `json:"intent,omitempty"`
	ProcessingMs     ProcessingTimes `json:"processing_ms"`
	AccessControl    AccessDecision  `json:"access_control"`
}

// SearchResponse is the query API response. A cached response is identical
// to the stored one except for Cached and SearchTimeMs.
type SearchResponse struct {
	Items        []ResultItem `json:"items"`
	Total        int          `json:"total"`
	SearchTimeMs float64      `json:"search_time_ms"`
	Cached       bool         `json:"cached"`
	SearchStats  SearchStats  `json:"search_stats"`
}

// withoutRationale returns a copy of r with rationales removed.
func (r *SearchResponse) withoutRationale() *SearchResponse {
	out := *r
	out.Items = make([]ResultItem, len(r.Items))
	for i, it := range r.Items {
		it.Rationale = nil
		out.Items[i] = it
	}
	return &out
}

// EventResult is one returned item as seen by governance consumers.
type EventResult struct {
	ItemID   string  `json:"item_id"`
	SourceID string  `json:"source_id"`
	Category string  `json:"category,omitempty"`
	Score    float64 `json:"score"`
}

// SearchEvent is published after every served response, cached or not.
type SearchEvent struct {
	Query      string        `json:"query"`
	Keywords   []string      `json:"keywords,omitempty"`
	Intent     Intent        `json:"intent"`
	Stacks     []string      `json:"stacks,omitempty"`
	Categories []string      `json:"categories,omitempty"`
	Authorized bool          `json:"authorized"`
	Cached     bool          `json:"cached"`
	Results    []EventResult `json:"results"`
	At         time.Time     `json:"at"`
}

// EventSink receives search events without blocking. Publish reports
// whether the event was accepted.
type EventSink interface {
	Publish(event SearchEvent) bool
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
