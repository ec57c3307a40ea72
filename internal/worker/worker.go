package worker

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"klaxon/internal/logger"
	"klaxon/internal/metrics"
	"klaxon/internal/models"
)

// Pool errors
var (
	ErrQueueFull  = errors.New("event queue is full")
	ErrPoolClosed = errors.New("worker pool is stopped")
)

// Processor is what a worker invokes per event; the engine implements it
type Processor interface {
	ProcessEvent(ctx context.Context, event *models.Event, tenant string) ([]string, error)
}

// Pool fans event evaluation out over a fixed set of workers consuming
// from a bounded queue. Backpressure is explicit: Submit never blocks
// and reports ErrQueueFull instead.
type Pool struct {
	processor    Processor
	eventChan    chan *models.Event
	workers      int
	eventTimeout time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	// Metrics
	submitted     atomic.Uint64
	processed     atomic.Uint64
	failed        atomic.Uint64
	dropped       atomic.Uint64
	alertsCreated atomic.Uint64
}

// Config holds worker pool configuration
type Config struct {
	Processor Processor
	Workers   int
	QueueSize int

	// Per-event processing deadline, covering evaluation and dispatch
	EventTimeout time.Duration
}

// NewPool creates a new worker pool
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = 90 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	metrics.WorkerQueueCapacity.Set(float64(cfg.QueueSize))

	return &Pool{
		processor:    cfg.Processor,
		eventChan:    make(chan *models.Event, cfg.QueueSize),
		workers:      cfg.Workers,
		eventTimeout: cfg.EventTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins processing events
func (p *Pool) Start() {
	log := logger.WithComponent("worker_pool")
	log.Info().
		Int("workers", p.workers).
		Int("queue_size", cap(p.eventChan)).
		Msg("starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop drains the queue and waits for all workers to finish
func (p *Pool) Stop() {
	log := logger.WithComponent("worker_pool")
	log.Info().Msg("stopping worker pool")

	if p.closed.CompareAndSwap(false, true) {
		close(p.eventChan)
	}
	p.wg.Wait()
	p.cancel()
	log.Info().Msg("worker pool stopped")
}

// Submit queues an event for evaluation. It never blocks: a full queue
// rejects with ErrQueueFull so the caller can push back on its source.
func (p *Pool) Submit(event *models.Event) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	select {
	case p.eventChan <- event:
		p.submitted.Add(1)
		metrics.WorkerQueueSize.Set(float64(len(p.eventChan)))
		return nil
	default:
		p.dropped.Add(1)
		return ErrQueueFull
	}
}

// worker consumes events until the queue is closed
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := logger.WithComponent("worker").With().Int("worker_id", id).Logger()
	log.Info().Msg("worker started")
	defer log.Info().Msg("worker stopped")

	for event := range p.eventChan {
		p.process(event)
	}
}

// process evaluates one event with panic containment so a bad payload
// cannot take a worker down.
func (p *Pool) process(event *models.Event) {
	log := logger.WithComponent("worker")

	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			log.Error().
				Interface("panic", r).
				Str("event_id", event.ID).
				Bytes("stack", stack).
				Msg("worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("worker").Inc()
			p.failed.Add(1)
			metrics.WorkerFailedTotal.Inc()
		}
	}()

	ctx, cancel := context.WithTimeout(p.ctx, p.eventTimeout)
	defer cancel()

	alertIDs, err := p.processor.ProcessEvent(ctx, event, event.TenantID)
	metrics.WorkerQueueSize.Set(float64(len(p.eventChan)))

	if err != nil {
		log.Error().
			Err(err).
			Str("event_id", event.ID).
			Str("tenant_id", event.TenantID).
			Msg("event processing failed")
		p.failed.Add(1)
		metrics.WorkerFailedTotal.Inc()
		return
	}

	p.processed.Add(1)
	p.alertsCreated.Add(uint64(len(alertIDs)))
	metrics.WorkerProcessedTotal.Inc()

	if len(alertIDs) > 0 {
		log.Debug().
			Str("event_id", event.ID).
			Strs("alert_ids", alertIDs).
			Msg("event produced alerts")
	}
}

// Stats returns worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted:     p.submitted.Load(),
		Processed:     p.processed.Load(),
		Failed:        p.failed.Load(),
		Dropped:       p.dropped.Load(),
		AlertsCreated: p.alertsCreated.Load(),
		Queued:        len(p.eventChan),
		Capacity:      cap(p.eventChan),
	}
}

// Stats holds worker pool metrics
type Stats struct {
	Submitted     uint64
	Processed     uint64
	Failed        uint64
	Dropped       uint64
	AlertsCreated uint64
	Queued        int
	Capacity      int
}
