package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CorpusItem is an immutable unit of retrievable content. Items are produced by
// the ingestion boundary and only read by the search path.
type CorpusItem struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Embedding []float32      `json:"embedding,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// IsRestricted reports whether the item is gated behind authorization. Any
// truthy restricted flag counts, independent of access_level.
func (c CorpusItem) IsRestricted() bool {
	return truthy(c.Metadata["restricted"])
}

// AccessLevel returns metadata access_level, or "" when absent.
func (c CorpusItem) AccessLevel() string {
	return c.metaString("access_level")
}

// Category returns metadata category, or "" when absent.
func (c CorpusItem) Category() string {
	return c.metaString("category")
}

// License returns metadata license, or "" when absent.
func (c CorpusItem) License() string {
	return c.metaString("license")
}

// SourceURL returns metadata source_url, falling back to url.
func (c CorpusItem) SourceURL() string {
	if v := c.metaString("source_url"); v != "" {
		return v
	}
	return c.metaString("url")
}

// SourceID identifies the source an item was collected from. Items without
// source metadata are their own source.
func (c CorpusItem) SourceID() string {
	for _, k := range []string{"source_id", "source_url", "source"} {
		if v := c.metaString(k); v != "" {
			return v
		}
	}
	return c.ID
}

// UpdatedAt returns the freshest known timestamp from metadata.
func (c CorpusItem) UpdatedAt() (time.Time, bool) {
	for _, k := range []string{"updated_at", "last_updated", "collected_at", "created_at"} {
		if t, ok := parseTime(c.Metadata[k]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func (c CorpusItem) metaString(key string) string {
	v, ok := c.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "y", "on":
			return true
		}
		return false
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case float32:
		return t != 0
	default:
		return false
	}
}

var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
		if sec, err := strconv.ParseInt(s, 10, 64); err == nil && sec > 0 {
			return time.Unix(sec, 0).UTC(), true
		}
	case float64:
		if t > 0 {
			return time.Unix(int64(t), 0).UTC(), true
		}
	case int64:
		if t > 0 {
			return time.Unix(t, 0).UTC(), true
		}
	}
	return time.Time{}, false
}

// =============================================================================
// 🔎 Filters
// =============================================================================

// Filters maps a metadata field to its allowed values.
type Filters map[string][]string

// Normalize returns a copy with trimmed, sorted, deduplicated values and
// without empty keys. The result is safe to use in cache keys.
func (f Filters) Normalize() Filters {
	if len(f) == 0 {
		return nil
	}
	out := make(Filters, len(f))
	for k, vals := range f {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		seen := make(map[string]struct{}, len(vals))
		clean := make([]string, 0, len(vals))
		for _, v := range vals {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			clean = append(clean, v)
		}
		if len(clean) == 0 {
			continue
		}
		sort.Strings(clean)
		out[k] = clean
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// UnmarshalJSON accepts a single string or a list of strings per field.
func (f *Filters) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*f = nil
		return nil
	}
	out := make(Filters, len(raw))
	for k, v := range raw {
		var one string
		if err := json.Unmarshal(v, &one); err == nil {
			out[k] = []string{one}
			continue
		}
		var many []string
		if err := json.Unmarshal(v, &many); err != nil {
			return fmt.Errorf("filter %q: want a string or a list of strings", k)
		}
		out[k] = many
	}
	*f = out
	return nil
}

// Keys returns the filter keys in sorted order.
func (f Filters) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Matches reports whether metadata satisfies every filter. A scalar value must
// equal one allowed value; a list value must intersect the allowed values.
// Comparison is case-insensitive.
func (f Filters) Matches(metadata map[string]any) bool {
	for key, allowed := range f {
		if len(allowed) == 0 {
			continue
		}
		if !valueAllowed(metadata[key], allowed) {
			return false
		}
	}
	return true
}

func valueAllowed(v any, allowed []string) bool {
	switch t := v.(type) {
	case nil:
		return false
	case []any:
		for _, e := range t {
			if valueAllowed(e, allowed) {
				return true
			}
		}
		return false
	case []string:
		for _, e := range t {
			if valueAllowed(e, allowed) {
				return true
			}
		}
		return false
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	for _, a := range allowed {
		if strings.EqualFold(s, a) {
			return true
		}
	}
	return false
}

// =============================================================================
// 📚 Corpus
// =============================================================================

// Corpus is the read-only view of ingested items used by the engine.
type Corpus interface {
	// Lookup returns the items that exist among ids. Unknown ids are omitted.
	Lookup(ctx context.Context, ids []string) (map[string]CorpusItem, error)
	// All returns every item in ingestion order.
	All(ctx context.Context) ([]CorpusItem, error)
	Len() int
}

// MemoryCorpus is an in-process Corpus filled by the ingestion boundary.
type MemoryCorpus struct {
	mu    sync.RWMutex
	items map[string]CorpusItem
	order []string
}

// NewMemoryCorpus creates a corpus holding items.
func NewMemoryCorpus(items ...CorpusItem) (*MemoryCorpus, error) {
	c := &MemoryCorpus{items: make(map[string]CorpusItem, len(items))}
	if err := c.Add(items...); err != nil {
		return nil, err
	}
	return c, nil
}

// Add inserts or replaces items. Replacing keeps the original position.
func (c *MemoryCorpus) Add(items ...CorpusItem) error {
	for i, it := range items {
		if strings.TrimSpace(it.ID) == "" {
			return fmt.Errorf("corpus item[%d] has empty id", i)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range items {
		if _, exists := c.items[it.ID]; !exists {
			c.order = append(c.order, it.ID)
		}
		c.items[it.ID] = it
	}
	return nil
}

// Get returns one item.
func (c *MemoryCorpus) Get(id string) (CorpusItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[id]
	return it, ok
}

func (c *MemoryCorpus) Lookup(ctx context.Context, ids []string) (map[string]CorpusItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]CorpusItem, len(ids))
	for _, id := range ids {
		if it, ok := c.items[id]; ok {
			out[id] = it
		}
	}
	return out, nil
}

func (c *MemoryCorpus) All(ctx context.Context) ([]CorpusItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]CorpusItem, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out, nil
}

func (c *MemoryCorpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
