package rag

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// Access levels reported with every AccessDecision.
const (
	AccessLevelPublic     = "public"
	AccessLevelAuthorized = "authorized"
	AccessLevelFiltered   = "filtered"
)

// AccessDecision is the per-query outcome of access gating. Item-level
// restriction is binary and carries no identity of its own.
type AccessDecision struct {
	AccessGranted          bool   `json:"access_granted"`
	AuthorizationFound     bool   `json:"authorization_found"`
	RestrictedItemsRemoved int    `json:"restricted_items_count"`
	AccessLevel            string `json:"access_level"`
	Message                string `json:"message"`
}

// AccessStats are the running counters of an AccessController.
type AccessStats struct {
	TotalChecks        int64 `json:"total_checks"`
	Granted            int64 `json:"granted"`
	Denied             int64 `json:"denied"`
	RestrictedFiltered int64 `json:"restricted_filtered"`
}

// AccessController gates restricted corpus items behind the authorization
// token. It holds no per-query state.
type AccessController struct {
	logger *zap.Logger

	checks   atomic.Int64
	granted  atomic.Int64
	denied   atomic.Int64
	filtered atomic.Int64
}

// NewAccessController creates a controller.
func NewAccessController(logger *zap.Logger) *AccessController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessController{logger: logger.With(zap.String("component", "access_controller"))}
}

// Decide filters candidates for q. Without authorization every restricted
// candidate is removed; RestrictedItemsRemoved counts distinct item ids.
// The input slice is not modified.
func (c *AccessController) Decide(q *Query, candidates []Candidate) ([]Candidate, AccessDecision) {
	c.checks.Add(1)

	if q.Authorized {
		c.granted.Add(1)
		kept := make([]Candidate, len(candidates))
		copy(kept, candidates)
		return kept, AccessDecision{
			AccessGranted:      true,
			AuthorizationFound: true,
			AccessLevel:        AccessLevelAuthorized,
			Message:            "Authorization token detected: full access granted",
		}
	}

	kept := make([]Candidate, 0, len(candidates))
	removed := make(map[string]struct{})
	for _, cand := range candidates {
		if cand.Item.IsRestricted() {
			removed[cand.Item.ID] = struct{}{}
			continue
		}
		kept = append(kept, cand)
	}

	decision := AccessDecision{
		RestrictedItemsRemoved: len(removed),
		AccessLevel:            AccessLevelPublic,
		Message:                "Public content only; no restricted items matched",
	}
	if len(removed) > 0 {
		c.denied.Add(1)
		c.filtered.Add(int64(len(removed)))
		decision.AccessLevel = AccessLevelFiltered
		decision.Message = fmt.Sprintf("%d restricted item(s) hidden: authorization required", len(removed))
		c.logger.Debug("restricted items filtered", zap.Int("count", len(removed)))
	}
	return kept, decision
}

// Stats returns a snapshot of the running counters.
func (c *AccessController) Stats() AccessStats {
	return AccessStats{
		TotalChecks:        c.checks.Load(),
		Granted:            c.granted.Load(),
		Denied:             c.denied.Load(),
		RestrictedFiltered: c.filtered.Load(),
	}
}
