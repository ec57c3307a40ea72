package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"klaxon/internal/config"
	"klaxon/internal/dispatch"
	"klaxon/internal/engine"
	"klaxon/internal/handlers"
	"klaxon/internal/kafka"
	"klaxon/internal/lifecycle"
	"klaxon/internal/logger"
	"klaxon/internal/metrics"
	"klaxon/internal/middleware"
	"klaxon/internal/providers"
	"klaxon/internal/rules"
	"klaxon/internal/store"
	"klaxon/internal/throttle"
	"klaxon/internal/worker"
)

// Processor wires the engine to its stores, the worker pool, the
// optional Kafka consumer/publisher, and the HTTP surface. Run blocks
// until the context is cancelled, then shuts down in dependency order.
type Processor struct {
	cfg *config.Config

	fileStore   *store.File
	memoryStore *store.Memory
	coordinator *dispatch.Coordinator
	engine      *engine.Engine
	pool        *worker.Pool
	consumer    *kafka.Consumer
	publisher   *kafka.Publisher
	httpServer  *http.Server

	wg sync.WaitGroup
}

// New constructs a Processor with the given config
func New(cfg *config.Config) *Processor {
	return &Processor{cfg: cfg}
}

// Run starts background goroutines and blocks until ctx is cancelled
func (p *Processor) Run(ctx context.Context) error {
	log := logger.WithComponent("processor")
	log.Info().Msg("processor starting")

	if err := p.initEngine(); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	p.pool.Start()

	// Store file hot reload
	if p.fileStore != nil && p.cfg.Store.Watch {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := p.fileStore.Watch(ctx); err != nil {
				log.Error().Err(err).Msg("store watcher exited")
			}
		}()
	}

	// Kafka event consumer
	if p.consumer != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := p.consumer.Run(ctx); err != nil {
				log.Error().Err(err).Msg("kafka consumer exited")
			}
		}()
	}

	p.initHTTPServer()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Info().Str("addr", p.cfg.Server.Addr).Msg("starting HTTP server")
		if err := p.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	// Pending-delivery reconciliation sweep
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runSweep(ctx)
	}()

	// Stats reporting goroutine
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reportStats(ctx)
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	return p.shutdown()
}

// initEngine builds the stores and the evaluation pipeline
func (p *Processor) initEngine() error {
	log := logger.WithComponent("processor")

	// Stores: policies/providers/suppressions from the file when
	// configured, alerts always in memory.
	p.memoryStore = store.NewMemory()
	var (
		policyStore      store.PolicyStore      = p.memoryStore
		providerStore    store.ProviderStore    = p.memoryStore
		suppressionStore store.SuppressionStore = p.memoryStore
	)
	if p.cfg.Store.File != "" {
		f, err := store.OpenFile(p.cfg.Store.File)
		if err != nil {
			return fmt.Errorf("open store file: %w", err)
		}
		p.fileStore = f
		policyStore, providerStore, suppressionStore = f, f, f
		log.Info().Str("path", p.cfg.Store.File).Msg("file store loaded")
	}

	registry := providers.DefaultRegistry(nil)

	p.coordinator = dispatch.NewCoordinator(providerStore, p.memoryStore, registry, dispatch.Config{
		MaxAttempts:     p.cfg.Dispatch.MaxAttempts,
		InitialBackoff:  p.cfg.Dispatch.InitialBackoff,
		MaxBackoff:      p.cfg.Dispatch.MaxBackoff,
		ProviderTimeout: p.cfg.Dispatch.ProviderTimeout,
		AlertDeadline:   p.cfg.Dispatch.AlertDeadline,
	})

	node := p.cfg.Engine.NodeID
	if node == "" {
		node, _ = os.Hostname()
		if node == "" {
			node = "unknown"
		}
	}

	var publisher engine.AuditPublisher
	if p.cfg.Kafka.Enabled && p.cfg.Kafka.AuditTopic != "" {
		pub, err := kafka.NewPublisher(p.cfg.Kafka.Brokers, p.cfg.Kafka.AuditTopic, p.cfg.Kafka.Producer)
		if err != nil {
			return fmt.Errorf("audit publisher: %w", err)
		}
		p.publisher = pub
		publisher = pub
		log.Info().
			Strs("brokers", p.cfg.Kafka.Brokers).
			Str("topic", p.cfg.Kafka.AuditTopic).
			Msg("audit publisher initialized")
	}

	p.engine = engine.NewEngine(
		policyStore,
		rules.NewEvaluator(),
		throttle.NewTracker(suppressionStore),
		lifecycle.NewManager(p.memoryStore),
		p.coordinator,
		publisher,
		node,
	)

	p.pool = worker.NewPool(worker.Config{
		Processor:    p.engine,
		Workers:      p.cfg.Engine.Workers,
		QueueSize:    p.cfg.Engine.QueueSize,
		EventTimeout: p.cfg.Dispatch.AlertDeadline + 30*time.Second,
	})
	log.Info().Int("workers", p.cfg.Engine.Workers).Msg("worker pool initialized")

	if p.cfg.Kafka.Enabled {
		p.consumer = kafka.NewConsumer(p.cfg.Kafka.Brokers, p.cfg.Kafka.EventsTopic, p.cfg.Kafka.Group, p.pool)
		log.Info().
			Str("topic", p.cfg.Kafka.EventsTopic).
			Str("group", p.cfg.Kafka.Group).
			Msg("kafka consumer initialized")
	}

	return nil
}

// initHTTPServer initializes the HTTP server with handlers
func (p *Processor) initHTTPServer() {
	mux := http.NewServeMux()

	ingestHandler := handlers.NewIngestHandler(handlers.IngestConfig{
		Sink:        p.pool,
		MaxBodySize: p.cfg.Server.MaxBodySize,
	})
	mux.Handle("/v1/events", middleware.Chain(
		ingestHandler,
		middleware.Recovery,
		middleware.Logging,
	))

	alertHandler := handlers.NewAlertHandler(p.engine, p.memoryStore)
	wrap := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(h, middleware.Recovery, middleware.Logging)
	}
	mux.Handle("GET /v1/alerts/{id}", wrap(alertHandler.Get))
	mux.Handle("POST /v1/alerts/{id}/acknowledge", wrap(alertHandler.Acknowledge))
	mux.Handle("POST /v1/alerts/{id}/resolve", wrap(alertHandler.Resolve))

	mux.HandleFunc("/healthz", p.healthHandler)
	mux.HandleFunc("/stats", p.statsHandler)
	mux.Handle("/metrics", promhttp.Handler())

	p.httpServer = &http.Server{
		Addr:         p.cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  p.cfg.Server.ReadTimeout,
		WriteTimeout: p.cfg.Server.WriteTimeout,
		IdleTimeout:  p.cfg.Server.IdleTimeout,
	}
}

// runSweep periodically reconciles pending delivery records
func (p *Processor) runSweep(ctx context.Context) {
	interval := p.cfg.Dispatch.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.coordinator.SweepPending(ctx)
		}
	}
}

// shutdown performs graceful shutdown
func (p *Processor) shutdown() error {
	log := logger.WithComponent("processor")
	log.Info().Msg("initiating graceful shutdown")

	// 1. Stop accepting new HTTP requests
	shutdownCtx, cancel := context.WithTimeout(context.Background(), p.cfg.Server.ShutdownTimeout)
	defer cancel()

	log.Info().Msg("stopping HTTP server")
	if err := p.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the consumer so no new events arrive
	if p.consumer != nil {
		log.Info().Msg("closing kafka consumer")
		if err := p.consumer.Close(); err != nil {
			log.Error().Err(err).Msg("consumer close error")
		}
	}

	// 3. Drain the evaluation pool (with timeout)
	done := make(chan struct{})
	go func() {
		p.pool.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("workers stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("worker shutdown timeout - forcing exit")
	}

	// 4. Close the audit publisher last so drained events still publish
	if p.publisher != nil {
		log.Info().Msg("closing audit publisher")
		if err := p.publisher.Close(); err != nil {
			log.Error().Err(err).Msg("publisher close error")
		}
	}

	p.wg.Wait()

	log.Info().Msg("processor stopped gracefully")
	return nil
}

// reportStats periodically logs statistics
func (p *Processor) reportStats(ctx context.Context) {
	log := logger.WithComponent("processor")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := p.pool.Stats()
			metrics.WorkerQueueSize.Set(float64(stats.Queued))

			ev := log.Info().
				Uint64("submitted", stats.Submitted).
				Uint64("processed", stats.Processed).
				Uint64("failed", stats.Failed).
				Uint64("dropped", stats.Dropped).
				Uint64("alerts_created", stats.AlertsCreated).
				Int("queue_size", stats.Queued)

			if p.publisher != nil {
				pubStats := p.publisher.Stats()
				ev = ev.
					Uint64("audit_published", pubStats.Published).
					Uint64("audit_failed", pubStats.Failed)
			}
			ev.Msg("stats")
		}
	}
}

// healthHandler handles health check requests
func (p *Processor) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if p.publisher != nil {
		if err := p.publisher.HealthCheck(ctx); err != nil {
			http.Error(w, fmt.Sprintf("unhealthy: %v", err), http.StatusServiceUnavailable)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// statsHandler returns current statistics
func (p *Processor) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := p.pool.Stats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{
		"worker": {
			"submitted": %d,
			"processed": %d,
			"failed": %d,
			"dropped": %d,
			"alerts_created": %d
		},
		"queue": {
			"buffered": %d,
			"capacity": %d
		}
	}`,
		stats.Submitted,
		stats.Processed,
		stats.Failed,
		stats.Dropped,
		stats.AlertsCreated,
		stats.Queued,
		stats.Capacity,
	)
}
