package governance

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/BaSui01/searchflow/rag"
	"github.com/BaSui01/searchflow/types"
)

// DefaultQueueSize is the pipeline capacity when none is configured.
const DefaultQueueSize = 1024

// PipelineObserver receives queue metrics; *metrics.Collector satisfies it.
type PipelineObserver interface {
	RecordGovernanceEvent(result string)
	SetGovernanceQueueDepth(n int)
}

// Pipeline is a bounded, drop-on-full event queue drained by one goroutine.
// It implements rag.EventSink.
type Pipeline struct {
	queue     chan rag.SearchEvent
	consumers []EventConsumer
	observer  PipelineObserver
	logger    *zap.Logger

	published atomic.Int64
	dropped   atomic.Int64
	processed atomic.Int64
	closed    atomic.Bool

	// sendMu orders sends against closing: once closed is set under the
	// write lock, no send is in flight and drain sees every queued event.
	sendMu sync.RWMutex

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	done    chan struct{}
}

var _ rag.EventSink = (*Pipeline)(nil)

// NewPipeline creates a pipeline. A non-positive queueSize uses
// DefaultQueueSize.
func NewPipeline(queueSize int, observer PipelineObserver, logger *zap.Logger, consumers ...EventConsumer) *Pipeline {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		queue:     make(chan rag.SearchEvent, queueSize),
		consumers: consumers,
		observer:  observer,
		logger:    logger.With(zap.String("component", "governance_pipeline")),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Publish enqueues event without blocking. It returns false when the event
// was dropped because the queue is full or the pipeline is stopped.
func (p *Pipeline) Publish(event rag.SearchEvent) bool {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()
	if p.closed.Load() {
		p.drop("stopped")
		return false
	}
	select {
	case p.queue <- event:
		p.published.Add(1)
		if p.observer != nil {
			p.observer.RecordGovernanceEvent("enqueued")
			p.observer.SetGovernanceQueueDepth(len(p.queue))
		}
		return true
	default:
		p.drop("queue_full")
		return false
	}
}

func (p *Pipeline) drop(reason string) {
	n := p.dropped.Add(1)
	if p.observer != nil {
		p.observer.RecordGovernanceEvent("dropped")
	}
	// Log the first drop and then every 100th to keep a saturated queue quiet.
	if n == 1 || n%100 == 0 {
		p.logger.Warn("governance event dropped",
			zap.String("reason", reason),
			zap.Int64("dropped_total", n),
			zap.Error(types.NewGovernanceSinkFullError()),
		)
	}
}

// Start launches the drain goroutine. The pipeline stops when ctx is done or
// Stop is called.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("governance pipeline already started")
	}
	if p.closed.Load() {
		return fmt.Errorf("governance pipeline is stopped")
	}
	p.started = true

	go p.run(ctx)
	p.logger.Info("governance pipeline started",
		zap.Int("capacity", cap(p.queue)),
		zap.Int("consumers", len(p.consumers)),
	)
	return nil
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case event := <-p.queue:
			p.handle(event)
		case <-ctx.Done():
			p.close()
			p.drain()
			return
		case <-p.stopCh:
			p.drain()
			return
		}
	}
}

// drain processes whatever is still queued.
func (p *Pipeline) drain() {
	for {
		select {
		case event := <-p.queue:
			p.handle(event)
		default:
			return
		}
	}
}

func (p *Pipeline) handle(event rag.SearchEvent) {
	for _, c := range p.consumers {
		p.consume(c, event)
	}
	p.processed.Add(1)
	if p.observer != nil {
		p.observer.SetGovernanceQueueDepth(len(p.queue))
	}
}

func (p *Pipeline) consume(c EventConsumer, event rag.SearchEvent) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("governance consumer panicked",
				zap.String("consumer", fmt.Sprintf("%T", c)),
				zap.Any("panic", r),
			)
		}
	}()
	c.Consume(event)
}

// Stop rejects new events, processes the backlog and waits for the drain
// goroutine. It is safe to call more than once.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	first := p.close()
	started := p.started
	if first && started {
		close(p.stopCh)
	}
	p.mu.Unlock()

	if started {
		<-p.done
	} else if first {
		p.drain()
	}
	if first {
		p.logger.Info("governance pipeline stopped",
			zap.Int64("processed", p.processed.Load()),
			zap.Int64("dropped", p.dropped.Load()),
		)
	}
}

// close marks the pipeline closed and reports whether this call did it.
func (p *Pipeline) close() bool {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	return !p.closed.Swap(true)
}

// Len returns the number of queued events.
func (p *Pipeline) Len() int { return len(p.queue) }

// Capacity returns the queue size.
func (p *Pipeline) Capacity() int { return cap(p.queue) }

// PipelineStats are pipeline counters.
type PipelineStats struct {
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
	Processed int64 `json:"processed"`
	Queued    int   `json:"queued"`
	Capacity  int   `json:"capacity"`
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Processed: p.processed.Load(),
		Queued:    len(p.queue),
		Capacity:  cap(p.queue),
	}
}

// Dropped returns the number of dropped events.
func (p *Pipeline) Dropped() int64 { return p.dropped.Load() }
