package governance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/BaSui01/searchflow/rag"
)

// Detection is one rule match on one line of a source.
type Detection struct {
	ID             string    `json:"id"`
	SourceID       string    `json:"source_id"`
	RuleID         string    `json:"rule_id"`
	Severity       Severity  `json:"severity"`
	Description    string    `json:"description"`
	Suggestion     string    `json:"suggestion"`
	MatchedContent string    `json:"matched_content"`
	LineNumber     int       `json:"line_number"`
	Confidence     float64   `json:"confidence"`
	DetectedAt     time.Time `json:"detected_at"`
}

const maxMatchedContent = 200

// codeContextMarkers raise confidence: the content looks like code or a
// manifest rather than prose.
var codeContextMarkers = []string{
	"package.json", "dependencies", "import ", "require(", "from ", "dockerfile", "```",
}

// ObsolescenceDetector scans corpus content against an ordered rule set.
type ObsolescenceDetector struct {
	workers int
	now     Clock
	logger  *zap.Logger

	mu         sync.RWMutex
	rules      []*Rule
	detections map[string][]Detection
	scanned    map[string]struct{}
}

// NewObsolescenceDetector creates a detector with the default rules. workers
// bounds ScanAll concurrency.
func NewObsolescenceDetector(workers int, logger *zap.Logger) *ObsolescenceDetector {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &ObsolescenceDetector{
		workers:    workers,
		now:        systemClock,
		logger:     logger.With(zap.String("component", "obsolescence_detector")),
		detections: make(map[string][]Detection),
		scanned:    make(map[string]struct{}),
	}
	for _, r := range DefaultRules() {
		r := r
		if err := r.Compile(); err != nil {
			panic(fmt.Sprintf("invalid default rule: %v", err))
		}
		d.rules = append(d.rules, &r)
	}
	return d
}

// AddRule compiles r and appends it to the rule set. A rule with an existing
// id replaces it in place.
func (d *ObsolescenceDetector) AddRule(r Rule) error {
	if err := r.Compile(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, existing := range d.rules {
		if existing.ID == r.ID {
			d.rules[i] = &r
			return nil
		}
	}
	d.rules = append(d.rules, &r)
	d.logger.Info("obsolescence rule added", zap.String("rule_id", r.ID))
	return nil
}

// LoadRules appends the rules of a YAML file after the current ones.
func (d *ObsolescenceDetector) LoadRules(path string) (int, error) {
	rules, err := ReadRulesFile(path)
	if err != nil {
		return 0, err
	}
	for _, r := range rules {
		if err := d.AddRule(r); err != nil {
			return 0, err
		}
	}
	return len(rules), nil
}

// Rules returns the rule set in evaluation order.
func (d *ObsolescenceDetector) Rules() []Rule {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Rule, len(d.rules))
	for i, r := range d.rules {
		out[i] = *r
	}
	return out
}

func (d *ObsolescenceDetector) rule(id string) (*Rule, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, r := range d.rules {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// Scan checks content and replaces the previous detections of sourceID.
// Each rule yields at most one detection per line.
func (d *ObsolescenceDetector) Scan(sourceID, content string) []Detection {
	d.mu.RLock()
	rules := append([]*Rule(nil), d.rules...)
	d.mu.RUnlock()

	now := d.now()
	lower := strings.ToLower(content)
	codeContext := false
	for _, m := range codeContextMarkers {
		if strings.Contains(lower, m) {
			codeContext = true
			break
		}
	}

	lines := strings.Split(content, "\n")
	var found []Detection
	for _, r := range rules {
		for i, line := range lines {
			if !r.matchLine(line) {
				continue
			}
			trimmed := strings.TrimSpace(line)
			found = append(found, Detection{
				ID:             uuid.NewString(),
				SourceID:       sourceID,
				RuleID:         r.ID,
				Severity:       r.Severity,
				Description:    r.Description,
				Suggestion:     r.Suggestion,
				MatchedContent: truncateRunes(trimmed, maxMatchedContent),
				LineNumber:     i + 1,
				Confidence:     confidence(r.Severity, codeContext, isCommentLine(trimmed)),
				DetectedAt:     now,
			})
		}
	}

	d.mu.Lock()
	d.scanned[sourceID] = struct{}{}
	if len(found) == 0 {
		delete(d.detections, sourceID)
	} else {
		d.detections[sourceID] = found
	}
	d.mu.Unlock()

	if len(found) > 0 {
		d.logger.Debug("obsolete content detected",
			zap.String("source_id", sourceID),
			zap.Int("detections", len(found)),
		)
	}
	return found
}

func confidence(sev Severity, codeContext, comment bool) float64 {
	c := 0.5
	switch sev {
	case SeverityCritical:
		c += 0.3
	case SeverityHigh:
		c += 0.2
	case SeverityMedium:
		c += 0.1
	}
	if codeContext {
		c += 0.1
	}
	if comment {
		c -= 0.2
	}
	return round3(clamp01(c))
}

func isCommentLine(line string) bool {
	for _, p := range []string{"//", "/*", "*", "#", "--", "<!--"} {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// ScanAll scans every item on a bounded worker pool. Items of one source
// are scanned together so a source's detections cover all of its items.
// It returns the number of detections found.
func (d *ObsolescenceDetector) ScanAll(ctx context.Context, items []rag.CorpusItem) (int, error) {
	bySource := make(map[string][]string)
	order := make([]string, 0)
	for _, it := range items {
		src := it.SourceID()
		if _, ok := bySource[src]; !ok {
			order = append(order, src)
		}
		bySource[src] = append(bySource[src], it.Text)
	}

	pool, err := ants.NewPool(d.workers)
	if err != nil {
		return 0, fmt.Errorf("create scan pool: %w", err)
	}
	defer pool.Release()

	start := time.Now()
	var (
		wg    sync.WaitGroup
		total atomic.Int64
	)
	for _, src := range order {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return int(total.Load()), err
		}
		src, content := src, strings.Join(bySource[src], "\n")
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			total.Add(int64(len(d.Scan(src, content))))
		}); err != nil {
			wg.Done()
			wg.Wait()
			return int(total.Load()), fmt.Errorf("submit scan of %s: %w", src, err)
		}
	}
	wg.Wait()

	d.logger.Info("corpus obsolescence scan completed",
		zap.Int("sources", len(order)),
		zap.Int64("detections", total.Load()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return int(total.Load()), ctx.Err()
}

// Detections returns all current detections ordered by severity, source
// and line.
func (d *ObsolescenceDetector) Detections() []Detection {
	return d.collect(func(Detection) bool { return true })
}

// Critical returns the critical detections.
func (d *ObsolescenceDetector) Critical() []Detection {
	return d.collect(func(det Detection) bool { return det.Severity == SeverityCritical })
}

// BySource returns the detections of one source in rule order.
func (d *ObsolescenceDetector) BySource(sourceID string) []Detection {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Detection(nil), d.detections[sourceID]...)
}

// ByRule returns the detections of one rule.
func (d *ObsolescenceDetector) ByRule(ruleID string) []Detection {
	return d.collect(func(det Detection) bool { return det.RuleID == ruleID })
}

func (d *ObsolescenceDetector) collect(keep func(Detection) bool) []Detection {
	d.mu.RLock()
	out := []Detection{}
	for _, dets := range d.detections {
		for _, det := range dets {
			if keep(det) {
				out = append(out, det)
			}
		}
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Severity != b.Severity {
			return a.Severity.Rank() < b.Severity.Rank()
		}
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		if a.LineNumber != b.LineNumber {
			return a.LineNumber < b.LineNumber
		}
		return a.RuleID < b.RuleID
	})
	return out
}

// Restore replaces the current detections with persisted ones.
func (d *ObsolescenceDetector) Restore(dets []Detection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detections = make(map[string][]Detection)
	for _, det := range dets {
		d.detections[det.SourceID] = append(d.detections[det.SourceID], det)
		d.scanned[det.SourceID] = struct{}{}
	}
}

// =============================================================================
// 📋 Report
// =============================================================================

// RuleCount is the number of detections of one rule.
type RuleCount struct {
	RuleID      string   `json:"rule_id"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Count       int      `json:"count"`
}

// AffectedSource summarizes the detections of one source.
type AffectedSource struct {
	SourceID        string   `json:"source_id"`
	Detections      int      `json:"detections"`
	HighestSeverity Severity `json:"highest_severity"`
}

// ObsolescenceReport aggregates detections.
type ObsolescenceReport struct {
	GeneratedAt         time.Time        `json:"generated_at"`
	TotalSourcesScanned int              `json:"total_sources_scanned"`
	SourcesWithIssues   int              `json:"sources_with_issues"`
	TotalDetections     int              `json:"total_detections"`
	BySeverity          map[Severity]int `json:"by_severity"`
	ByRule              []RuleCount      `json:"by_rule"`
	AffectedSources     []AffectedSource `json:"affected_sources"`
	CriticalDetections  []Detection      `json:"critical_detections"`
	Recommendations     []string         `json:"recommendations"`
}

// CriticalIssues returns the number of critical detections.
func (r *ObsolescenceReport) CriticalIssues() int { return r.BySeverity[SeverityCritical] }

// SeverityCounts returns the counts keyed by severity name.
func (r *ObsolescenceReport) SeverityCounts() map[string]int {
	out := make(map[string]int, len(r.BySeverity))
	for s, n := range r.BySeverity {
		out[string(s)] = n
	}
	return out
}

// Report aggregates the current detections.
func (d *ObsolescenceDetector) Report() *ObsolescenceReport {
	all := d.Detections()

	d.mu.RLock()
	scanned := len(d.scanned)
	d.mu.RUnlock()

	r := &ObsolescenceReport{
		GeneratedAt:         d.now(),
		TotalSourcesScanned: scanned,
		TotalDetections:     len(all),
		BySeverity: map[Severity]int{
			SeverityCritical: 0, SeverityHigh: 0, SeverityMedium: 0, SeverityLow: 0,
		},
		ByRule:             []RuleCount{},
		AffectedSources:    []AffectedSource{},
		CriticalDetections: []Detection{},
	}

	rules := make(map[string]*RuleCount)
	sources := make(map[string]*AffectedSource)
	for _, det := range all {
		r.BySeverity[det.Severity]++
		if det.Severity == SeverityCritical {
			r.CriticalDetections = append(r.CriticalDetections, det)
		}
		rc, ok := rules[det.RuleID]
		if !ok {
			rc = &RuleCount{RuleID: det.RuleID, Severity: det.Severity, Description: det.Description}
			rules[det.RuleID] = rc
		}
		rc.Count++
		as, ok := sources[det.SourceID]
		if !ok {
			as = &AffectedSource{SourceID: det.SourceID, HighestSeverity: det.Severity}
			sources[det.SourceID] = as
		}
		as.Detections++
		if det.Severity.Rank() < as.HighestSeverity.Rank() {
			as.HighestSeverity = det.Severity
		}
	}

	for _, rc := range rules {
		r.ByRule = append(r.ByRule, *rc)
	}
	sort.Slice(r.ByRule, func(i, j int) bool {
		if r.ByRule[i].Count != r.ByRule[j].Count {
			return r.ByRule[i].Count > r.ByRule[j].Count
		}
		return r.ByRule[i].RuleID < r.ByRule[j].RuleID
	})
	for _, as := range sources {
		r.AffectedSources = append(r.AffectedSources, *as)
	}
	sort.Slice(r.AffectedSources, func(i, j int) bool {
		a, b := r.AffectedSources[i], r.AffectedSources[j]
		if a.Detections != b.Detections {
			return a.Detections > b.Detections
		}
		return a.SourceID < b.SourceID
	})
	r.SourcesWithIssues = len(r.AffectedSources)
	r.Recommendations = d.recommendations(r)
	return r
}

func (d *ObsolescenceDetector) recommendations(r *ObsolescenceReport) []string {
	out := []string{}
	if n := r.CriticalIssues(); n > 0 {
		out = append(out, fmt.Sprintf("URGENT: fix %d critical security or end-of-life issues", n))
	}
	for i, rc := range r.ByRule {
		if i == 5 {
			break
		}
		if rule, ok := d.rule(rc.RuleID); ok {
			out = append(out, fmt.Sprintf("%s: %d occurrences. %s", rule.Description, rc.Count, rule.Suggestion))
		}
	}
	if r.TotalDetections > 50 {
		out = append(out, "Schedule a full content audit for modernization")
	}
	heavy := 0
	for _, as := range r.AffectedSources {
		if as.Detections > 5 {
			heavy++
		}
	}
	if heavy > 0 {
		out = append(out, fmt.Sprintf("Prioritize updating %d sources with more than 5 issues each", heavy))
	}
	if len(out) > 10 {
		out = out[:10]
	}
	return out
}
