package api

import (
	"github.com/BaSui01/searchflow/governance"
	"github.com/BaSui01/searchflow/rag"
)

// =============================================================================
// 🔍 Search types
// =============================================================================

// SearchRequest is the wire form of POST /api/v1/search.
// @Description Hybrid search request
type SearchRequest struct {
	// Free text query
	Query string `json:"query" example:"react hooks state management" binding:"required"`
	// Number of results, 0 means the configured default
	TopK int `json:"top_k,omitempty" example:"5"`
	// Metadata filters; each value is a string or a list of strings
	Filters rag.Filters `json:"filters,omitempty"`
	// Include judge rationales; absent means true
	IncludeRationale *bool `json:"include_rationale,omitempty"`
	// Calling module, forwarded to the reranker
	Module string `json:"module,omitempty" example:"frontend"`
	// Task hint, forwarded to the reranker
	TaskHint string `json:"task_hint,omitempty" example:"migrate class components"`
}

// ToEngineRequest converts the wire request into an engine request.
func (r SearchRequest) ToEngineRequest() rag.SearchRequest {
	include := true
	if r.IncludeRationale != nil {
		include = *r.IncludeRationale
	}
	return rag.SearchRequest{
		Query:            r.Query,
		TopK:             r.TopK,
		Filters:          r.Filters,
		IncludeRationale: include,
		Module:           r.Module,
		TaskHint:         r.TaskHint,
	}
}

// =============================================================================
// 🏛️ Governance types
// =============================================================================

// ScanResult is the body of POST /api/v1/governance/scan.
// @Description Result of a corpus-wide obsolescence scan
type ScanResult struct {
	Scanned    int                  `json:"scanned" example:"120"`
	Detections int                  `json:"detections" example:"7"`
	DurationMs int64                `json:"duration_ms" example:"35"`
	Snapshot   *governance.Snapshot `json:"snapshot"`
}
