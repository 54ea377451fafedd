package governance

import (
	"time"

	"github.com/BaSui01/searchflow/rag"
)

// Severity ranks governance findings.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
)

// Rank orders severities, highest first. Unknown severities rank last.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityWarning, SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	case SeverityInfo:
		return 4
	default:
		return 5
	}
}

// Valid reports whether s is a detection severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// EventConsumer receives drained search events. Consume is called from a
// single goroutine.
type EventConsumer interface {
	Consume(event rag.SearchEvent)
}

// CorpusObserver is told about corpus items at ingestion time.
type CorpusObserver interface {
	ObserveSource(item rag.CorpusItem)
}

// Clock returns the current time; tests inject fixed clocks.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round3(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}
