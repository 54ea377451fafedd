package rag

import (
	"sort"
)

// SignalOrigin names the retrieval channel(s) a result came from.
type SignalOrigin string

const (
	OriginVector SignalOrigin = "vector"
	OriginText   SignalOrigin = "text"
	OriginMerged SignalOrigin = "merged"
)

// Hit is one (item id, score) pair returned by an index provider, in rank order.
type Hit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// ScoredResult is a ranked search result. Ranks are 1-based positions in the
// source lists; 0 means the item was absent from that list.
type ScoredResult struct {
	ItemID     string       `json:"item_id"`
	Score      float64      `json:"score"`
	Origin     SignalOrigin `json:"signal_origin"`
	Rationale  *string      `json:"rationale,omitempty"`
	VectorRank int          `json:"vector_rank,omitempty"`
	TextRank   int          `json:"text_rank,omitempty"`
}

// Candidate pairs a result with the corpus item it refers to.
type Candidate struct {
	Result ScoredResult
	Item   CorpusItem
}

// MergerConfig holds the fixed merge weights.
type MergerConfig struct {
	VectorWeight float64
	TextWeight   float64
	OverlapBonus float64
}

// DefaultMergerConfig favours the semantic signal.
func DefaultMergerConfig() MergerConfig {
	return MergerConfig{VectorWeight: 0.7, TextWeight: 0.3, OverlapBonus: 0.2}
}

// Merger combines vector and text hits into one deduplicated list. It is a
// pure function of its inputs.
type Merger struct {
	cfg MergerConfig
}

// NewMerger creates a merger.
func NewMerger(cfg MergerConfig) *Merger {
	return &Merger{cfg: cfg}
}

// Merge unions both lists by id. Vector scores are clamped to [0,1] and text
// scores divided by the text list maximum. Items in both lists score
// vw*v + tw*t + bonus; single-list items score weight*scaled.
//
// Order: score desc, then vector rank, then text rank (absent ranks last),
// then id.
func (m *Merger) Merge(vector, text []Hit) []ScoredResult {
	type entry struct {
		vScore, tScore float64
		vRank, tRank   int
	}
	entries := make(map[string]*entry, len(vector)+len(text))
	order := make([]string, 0, len(vector)+len(text))

	get := func(id string) *entry {
		e, ok := entries[id]
		if !ok {
			e = &entry{}
			entries[id] = e
			order = append(order, id)
		}
		return e
	}

	for i, h := range vector {
		if h.ID == "" {
			continue
		}
		e := get(h.ID)
		if e.vRank != 0 {
			continue
		}
		e.vRank = i + 1
		e.vScore = clamp01(h.Score)
	}

	maxText := 0.0
	for _, h := range text {
		if h.Score > maxText {
			maxText = h.Score
		}
	}
	for i, h := range text {
		if h.ID == "" {
			continue
		}
		e := get(h.ID)
		if e.tRank != 0 {
			continue
		}
		e.tRank = i + 1
		if maxText > 0 && h.Score > 0 {
			e.tScore = h.Score / maxText
		}
	}

	out := make([]ScoredResult, 0, len(order))
	for _, id := range order {
		e := entries[id]
		r := ScoredResult{ItemID: id, VectorRank: e.vRank, TextRank: e.tRank}
		switch {
		case e.vRank > 0 && e.tRank > 0:
			r.Origin = OriginMerged
			r.Score = m.cfg.VectorWeight*e.vScore + m.cfg.TextWeight*e.tScore + m.cfg.OverlapBonus
		case e.vRank > 0:
			r.Origin = OriginVector
			r.Score = m.cfg.VectorWeight * e.vScore
		default:
			r.Origin = OriginText
			r.Score = m.cfg.TextWeight * e.tScore
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if ra, rb := rankKey(a.VectorRank), rankKey(b.VectorRank); ra != rb {
			return ra < rb
		}
		if ra, rb := rankKey(a.TextRank), rankKey(b.TextRank); ra != rb {
			return ra < rb
		}
		return a.ItemID < b.ItemID
	})
	return out
}

func rankKey(rank int) int {
	if rank <= 0 {
		return int(^uint(0) >> 1)
	}
	return rank
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
