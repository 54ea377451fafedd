package governance

import (
	"sync"
	"time"

	"github.com/BaSui01/searchflow/rag"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) Clock { return func() time.Time { return t } }

// recordingConsumer stores consumed events.
type recordingConsumer struct {
	mu     sync.Mutex
	events []rag.SearchEvent
	block  chan struct{}
}

func (c *recordingConsumer) Consume(e rag.SearchEvent) {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *recordingConsumer) queries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Query
	}
	return out
}

type panickingConsumer struct{}

func (panickingConsumer) Consume(rag.SearchEvent) { panic("boom") }

// recordingObserver implements Observer.
type recordingObserver struct {
	mu         sync.Mutex
	events     map[string]int
	depth      int
	scores     map[string]float64
	severities map[string]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{events: map[string]int{}, scores: map[string]float64{}}
}

func (o *recordingObserver) RecordGovernanceEvent(result string) {
	o.mu.Lock()
	o.events[result]++
	o.mu.Unlock()
}

func (o *recordingObserver) SetGovernanceQueueDepth(n int) {
	o.mu.Lock()
	o.depth = n
	o.mu.Unlock()
}

func (o *recordingObserver) SetGovernanceScore(kind string, v float64) {
	o.mu.Lock()
	o.scores[kind] = v
	o.mu.Unlock()
}

func (o *recordingObserver) SetObsolescenceDetections(bySeverity map[string]int) {
	o.mu.Lock()
	o.severities = bySeverity
	o.mu.Unlock()
}

func (o *recordingObserver) count(result string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.events[result]
}

// event builds a search event with one result per score.
func event(query string, at time.Time, results ...rag.EventResult) rag.SearchEvent {
	return rag.SearchEvent{Query: query, Results: results, At: at}
}

func result(item, source, category string, score float64) rag.EventResult {
	return rag.EventResult{ItemID: item, SourceID: source, Category: category, Score: score}
}
