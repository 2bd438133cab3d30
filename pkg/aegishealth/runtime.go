package aegishealth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ghalamif/AegisHealth/internal/adapters/httpapi"
	"github.com/ghalamif/AegisHealth/internal/adapters/observability"
	"github.com/ghalamif/AegisHealth/internal/adapters/opcua"
	"github.com/ghalamif/AegisHealth/internal/adapters/queue"
	"github.com/ghalamif/AegisHealth/internal/adapters/wal"
	"github.com/ghalamif/AegisHealth/internal/app/config"
	"github.com/ghalamif/AegisHealth/internal/app/orchestrator"
	"github.com/ghalamif/AegisHealth/internal/app/pipeline"
	"github.com/ghalamif/AegisHealth/internal/domain"
	"github.com/ghalamif/AegisHealth/internal/logging"
	"github.com/ghalamif/AegisHealth/internal/ports"
)

// ErrBackpressure is returned by Publish when the WAL or queue policy
// refused the reading.
var ErrBackpressure = errors.New("aegishealth: reading refused by backpressure policy")

// ErrRuntimeClosed is returned when a runtime is used after Shutdown.
var ErrRuntimeClosed = errors.New("aegishealth: runtime closed")

const truncateEvery = time.Minute

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	store     StateStore
	cache     CacheMirror
	notifier  EventNotifier
	collector Collector
	wal       WAL
	queue     EnvelopeQueue
	obs       Observability
	params    ParamsResolver
	logger    *slog.Logger
}

// WithStateStore replaces the store selected by cfg.Store.
func WithStateStore(s StateStore) RuntimeOption {
	return func(o *runtimeOverrides) { o.store = s }
}

// WithCacheMirror replaces the NATS KV mirror.
func WithCacheMirror(c CacheMirror) RuntimeOption {
	return func(o *runtimeOverrides) { o.cache = c }
}

// WithNotifier replaces the NATS event publisher.
func WithNotifier(n EventNotifier) RuntimeOption {
	return func(o *runtimeOverrides) { o.notifier = n }
}

// WithCollector injects a custom collector (MQTT, Modbus, simulators, etc.).
func WithCollector(col Collector) RuntimeOption {
	return func(o *runtimeOverrides) { o.collector = col }
}

// WithWAL lets callers bring their own WAL implementation.
func WithWAL(w WAL) RuntimeOption {
	return func(o *runtimeOverrides) { o.wal = w }
}

// WithQueue injects a custom queue implementation.
func WithQueue(q EnvelopeQueue) RuntimeOption {
	return func(o *runtimeOverrides) { o.queue = q }
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) { o.obs = obs }
}

// WithParamsResolver replaces the parameters from cfg.Reliability. Config
// reloads through WatchConfig no longer apply once a resolver is injected.
func WithParamsResolver(r ParamsResolver) RuntimeOption {
	return func(o *runtimeOverrides) { o.params = r }
}

// WithLogger replaces the logger built from cfg.Logging.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(o *runtimeOverrides) { o.logger = l }
}

// Runtime wires collector → WAL → queue → orchestrator → store, serves the
// HTTP API and metrics, and exposes lifecycle hooks for embedding AegisHealth
// inside any Go service.
type Runtime struct {
	cfg       *Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	obs       ports.Observability
	store     ports.StateStore
	wal       ports.WAL
	queue     ports.EnvelopeQueue
	collector ports.Collector
	gate      *pipeline.Admission
	edge      *pipeline.EdgePipeline
	orch      *orchestrator.Orchestrator
	validator *orchestrator.Validator
	params    *config.ParamsStore
	closers   []func() error

	// replayUpto is the newest WAL entry that existed at construction;
	// walSeqs holds the highest uncommitted sequence per asset up to it.
	replayUpto ports.WALEntryID
	walSeqs    map[domain.AssetKey]uint64

	httpSrv    *http.Server
	metricsSrv *http.Server

	mu         sync.Mutex
	started    bool
	closed     bool
	cancel     context.CancelFunc
	gaugeStop  chan struct{}
	ingestDone chan struct{}
}

// NewRuntime bootstraps the default adapters (store per cfg.Store.Driver,
// NATS KV mirror and events when cfg.NATS.URL is set, file WAL, in-memory
// queue, Prometheus observability and, when cfg.OPCUA is set, the OPC UA
// collector). RuntimeOption values override any of them.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	logger := overrides.logger
	if logger == nil {
		logger = logging.New(cfg.Logging)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rt := &Runtime{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		validator: orchestrator.NewValidator(),
	}
	if err := rt.build(overrides); err != nil {
		if rt.orch != nil {
			_ = rt.orch.Close(context.Background())
		}
		_ = rt.closeResources()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) build(overrides runtimeOverrides) error {
	cfg := rt.cfg

	rt.obs = overrides.obs
	if rt.obs == nil {
		rt.obs = observability.NewPromObs(rt.registry, rt.logger)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rt.store = overrides.store
	if rt.store == nil {
		st, closeStore, err := OpenStore(ctx, cfg.Store, rt.logger)
		if err != nil {
			return err
		}
		rt.store = st
		rt.addCloser(closeStore)
	}

	cache, notif := overrides.cache, overrides.notifier
	if cfg.NATS.URL != "" && (cache == nil || notif == nil) {
		natsCache, natsNotif, closeNATS, err := openNATS(ctx, cfg.NATS)
		if err != nil {
			return err
		}
		rt.addCloser(closeNATS)
		if cache == nil {
			cache = natsCache
		}
		if notif == nil {
			notif = natsNotif
		}
	}
	if notif == nil {
		notif = logNotifier(rt.logger)
	}

	params := overrides.params
	if params == nil {
		rt.params = config.NewParamsStore(cfg.Reliability)
		params = rt.params
	}

	orch, err := orchestrator.New(rt.store,
		orchestrator.WithParams(params),
		orchestrator.WithObservability(rt.obs),
		orchestrator.WithCacheMirror(cache),
		orchestrator.WithNotifier(notif),
		orchestrator.WithPropagation(orchestrator.PropagatorConfig{
			Workers:     cfg.Pipeline.PropagationWorkers,
			QueueSize:   cfg.Pipeline.PropagationQueue,
			MaxAttempts: cfg.Pipeline.PropagationRetries,
			Timeout:     cfg.Pipeline.PropagationTimeout,
		}),
		orchestrator.WithMaxCommitRetries(cfg.Pipeline.MaxCommitRetries),
		orchestrator.WithReorderWindow(cfg.Pipeline.ReorderWindow),
	)
	if err != nil {
		return err
	}
	rt.orch = orch

	rt.wal = overrides.wal
	if rt.wal == nil {
		var walOpts []wal.Option
		if cfg.WAL.Sync {
			walOpts = append(walOpts, wal.WithSync())
		}
		w, err := wal.NewFileWAL(cfg.WAL.Dir, walOpts...)
		if err != nil {
			return err
		}
		rt.wal = w
		rt.addCloser(w.Close)
	}

	rt.queue = overrides.queue
	if rt.queue == nil {
		rt.queue = queue.NewMemQueue(cfg.Policy.MaxQueueLen)
	}

	upto, seqs, err := pendingWAL(rt.wal)
	if err != nil {
		return err
	}
	rt.replayUpto, rt.walSeqs = upto, seqs
	rt.gate = pipeline.NewAdmission(rt.wal, rt.queue, cfg.Policy, rt.obs)

	rt.collector = overrides.collector
	if rt.collector == nil && cfg.OPCUA != nil {
		col, err := opcua.NewCollector(*cfg.OPCUA, rt.lastSequence, rt.logger)
		if err != nil {
			return err
		}
		rt.collector = col
	}
	return nil
}

func (rt *Runtime) addCloser(fn func() error) {
	if fn != nil {
		rt.closers = append(rt.closers, fn)
	}
}

// lastSequence seeds collector numbering from the committed snapshot and
// the uncommitted WAL backlog so a restarted collector is not mistaken for a
// replay.
func (rt *Runtime) lastSequence(key domain.AssetKey) uint64 {
	pending := rt.walSeqs[key]

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := rt.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrStateNotFound) {
			rt.obs.LogWarn("runtime: cannot seed sequence",
				ports.Field{Key: "asset", Value: key.String()},
				ports.Field{Key: "err", Value: err.Error()})
		}
		return pending
	}
	return max(st.LastSequence, pending)
}

// Start begins the edge and ingest pipelines and launches the HTTP servers.
// It returns immediately; call Run to block on a context instead.
func (rt *Runtime) Start() error {
	if rt == nil {
		return fmt.Errorf("runtime is nil")
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return ErrRuntimeClosed
	}
	if rt.started {
		return fmt.Errorf("runtime already started")
	}

	if rt.collector != nil {
		edge, err := pipeline.RunEdgePipeline(rt.collector, rt.gate, rt.cfg.Policy.MaxQueueLen)
		if err != nil {
			return err
		}
		rt.edge = edge
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctx = logging.NewContext(ctx, rt.logger)
	rt.cancel = cancel
	rt.ingestDone = make(chan struct{})
	go func() {
		defer close(rt.ingestDone)
		if err := rt.replay(ctx); err != nil {
			rt.obs.LogCritical("runtime: wal replay stopped", err)
			return
		}
		if err := pipeline.RunIngestPipeline(ctx, rt.wal, rt.queue, rt.orch, rt.cfg.Policy, rt.obs); err != nil {
			rt.obs.LogCritical("runtime: ingest pipeline stopped", err)
		}
	}()

	rt.startHTTP()
	rt.startMetrics()
	rt.started = true
	return nil
}

// Run starts the runtime and blocks until ctx is cancelled, then shuts down
// within cfg.Pipeline.ShutdownTimeout.
func (rt *Runtime) Run(ctx context.Context) error {
	if err := rt.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	timeout := rt.cfg.Pipeline.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return rt.Shutdown(shutdownCtx)
}

// Shutdown stops the collector and servers, lets the ingest loop finish its
// batch, drains pending propagation and closes the backends.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	rt.closed = true
	rt.mu.Unlock()

	var errs []error

	if rt.gaugeStop != nil {
		close(rt.gaugeStop)
	}
	for _, srv := range []*http.Server{rt.httpSrv, rt.metricsSrv} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}

	if rt.edge != nil {
		if err := rt.edge.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.gate.Close()

	if rt.cancel != nil {
		rt.cancel()
		select {
		case <-rt.ingestDone:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("ingest pipeline: %w", ctx.Err()))
		}
	}

	if err := rt.orch.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := rt.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (rt *Runtime) closeResources() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// Ingest applies one reading synchronously and returns the resulting state.
func (rt *Runtime) Ingest(ctx context.Context, tenantID, assetID string, r Reading) (State, error) {
	return rt.orch.Ingest(ctx, tenantID, assetID, r)
}

// Publish makes a reading durable in the WAL and queues it for the ingest
// pipeline. Invalid readings are refused before touching the WAL.
func (rt *Runtime) Publish(tenantID, assetID string, r Reading) error {
	rt.mu.Lock()
	closed := rt.closed
	rt.mu.Unlock()
	if closed {
		return ErrRuntimeClosed
	}

	key := domain.AssetKey{TenantID: tenantID, AssetID: assetID}
	if err := rt.validator.Validate(key, r); err != nil {
		return err
	}
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = time.Now()
	}
	if !rt.gate.Admit(&domain.Envelope{Key: key, Reading: r}) {
		return ErrBackpressure
	}
	return nil
}

// State returns the committed snapshot of an asset.
func (rt *Runtime) State(ctx context.Context, tenantID, assetID string) (State, error) {
	return rt.orch.State(ctx, tenantID, assetID)
}

// Audit returns up to limit audit records of an asset, newest first.
func (rt *Runtime) Audit(ctx context.Context, tenantID, assetID string, limit int) ([]AuditRecord, error) {
	return rt.orch.Audit(ctx, tenantID, assetID, limit)
}

// WatchConfig reloads reliability parameters whenever the YAML file at path
// changes. It blocks until ctx is done.
func (rt *Runtime) WatchConfig(ctx context.Context, path string) error {
	if rt.params == nil {
		return fmt.Errorf("watch %s: parameters were injected with WithParamsResolver", path)
	}
	return config.Watch(ctx, path, rt.logger, func(c *config.Config) {
		rt.params.Update(c.Reliability)
	})
}

// Gatherer exposes the runtime's metric registry.
func (rt *Runtime) Gatherer() prometheus.Gatherer { return rt.registry }

// Handler returns the HTTP API without starting a server.
func (rt *Runtime) Handler() http.Handler {
	return httpapi.NewRouter(httpapi.NewHandlers(rt))
}

func (rt *Runtime) startHTTP() {
	if rt.cfg.HTTP.Addr == "" {
		return
	}
	gin.SetMode(gin.ReleaseMode)
	rt.httpSrv = &http.Server{
		Addr:              rt.cfg.HTTP.Addr,
		Handler:           rt.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := rt.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("http server exited", "err", err)
		}
	}()
}

func (rt *Runtime) startMetrics() {
	rt.gaugeStop = make(chan struct{})
	go rt.recordResourceGauges(rt.gaugeStop, time.Second)

	if rt.cfg.Metrics.Addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{Registry: rt.registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	rt.metricsSrv = &http.Server{
		Addr:              rt.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := rt.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics server exited", "err", err)
		}
	}()
}

func (rt *Runtime) recordResourceGauges(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	lastTruncate := time.Now()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			stats := rt.wal.Stats()
			rt.obs.SetGauge(ports.MetricWALSizeBytes, float64(stats.SizeBytes))
			rt.obs.SetGauge(ports.MetricQueueLength, float64(rt.queue.Len()))

			if now.Sub(lastTruncate) >= truncateEvery {
				lastTruncate = now
				if err := rt.wal.TruncateCommitted(); err != nil {
					rt.obs.LogError("runtime: wal truncate failed", err)
				}
			}
		}
	}
}

// replay ingests the WAL backlog found at construction.
func (rt *Runtime) replay(ctx context.Context) error {
	n, err := pipeline.ReplayWAL(ctx, rt.wal, rt.replayUpto, rt.orch, rt.cfg.Policy, rt.obs)
	if n > 0 {
		rt.obs.LogInfo("runtime: wal replay complete",
			ports.Field{Key: "readings", Value: n},
			ports.Field{Key: "upto", Value: uint64(rt.replayUpto)})
	}
	return err
}

// pendingWAL returns the newest WAL id and, per asset, the highest sequence
// among entries not yet committed.
func pendingWAL(w ports.WAL) (ports.WALEntryID, map[domain.AssetKey]uint64, error) {
	stats := w.Stats()
	seqs := make(map[domain.AssetKey]uint64)
	if stats.LatestAppended == 0 || stats.OldestUncommitted > stats.LatestAppended {
		return stats.LatestAppended, seqs, nil
	}
	err := w.Iterate(stats.OldestUncommitted, func(_ ports.WALEntryID, e *domain.Envelope) error {
		seqs[e.Key] = max(seqs[e.Key], e.Reading.Sequence)
		return nil
	})
	if err != nil {
		return 0, nil, fmt.Errorf("scan wal backlog: %w", err)
	}
	return stats.LatestAppended, seqs, nil
}

var _ httpapi.Service = (*Runtime)(nil)
