package observability

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghalamif/AegisHealth/internal/domain"
	"github.com/ghalamif/AegisHealth/internal/ports"
)

// PromObs implements ports.Observability with Prometheus collectors and slog.
type PromObs struct {
	logger   *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer

	assetDamage     *prometheus.GaugeVec
	assetRUL        *prometheus.GaugeVec
	assetConfidence *prometheus.GaugeVec
}

// NewPromObs registers all collectors on reg. A nil reg uses the default
// registerer and a nil logger uses slog.Default().
func NewPromObs(reg prometheus.Registerer, logger *slog.Logger) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = slog.Default()
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	counters := map[string]prometheus.Counter{
		ports.MetricReadingsIngested:    counter(ports.MetricReadingsIngested, "Readings applied to asset state."),
		ports.MetricReadingsDuplicate:   counter(ports.MetricReadingsDuplicate, "Readings skipped because their sequence is the one last applied."),
		ports.MetricReadingsLate:        counter(ports.MetricReadingsLate, "Readings skipped because a higher sequence was already applied."),
		ports.MetricReadingsRejected:    counter(ports.MetricReadingsRejected, "Readings rejected by validation."),
		ports.MetricCommitConflicts:     counter(ports.MetricCommitConflicts, "Optimistic commit attempts that hit a stale version."),
		ports.MetricShiftViolations:     counter(ports.MetricShiftViolations, "Readings whose load exceeded the asset threshold."),
		ports.MetricPropagationFailures: counter(ports.MetricPropagationFailures, "Cache or event deliveries that failed after commit."),
		ports.MetricPropagationDropped:  counter(ports.MetricPropagationDropped, "Propagation jobs dropped because the worker backlog was full."),
		ports.MetricDLQ:                 counter(ports.MetricDLQ, "Buffered readings sent to the DLQ."),
		ports.MetricQueueDropped:        counter(ports.MetricQueueDropped, "Readings lost due to queue backpressure policies."),
	}
	gauges := map[string]prometheus.Gauge{
		ports.MetricWALSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: ports.MetricWALSizeBytes,
			Help: "Size of WAL on disk.",
		}),
		ports.MetricQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: ports.MetricQueueLength,
			Help: "Current number of readings buffered in the in-memory queue.",
		}),
	}
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ports.MetricIngestLatency,
		Help:    "Time from ingest call to durable commit.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	labels := []string{"tenant_id", "asset_id"}
	p := &PromObs{
		logger:   logger,
		counters: counters,
		gauges:   gauges,
		histos:   map[string]prometheus.Observer{ports.MetricIngestLatency: latency},
		assetDamage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aegis_asset_damage",
			Help: "Cumulative fatigue damage fraction per asset.",
		}, labels),
		assetRUL: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aegis_asset_rul",
			Help: "Remaining useful life estimate per asset.",
		}, labels),
		assetConfidence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aegis_asset_confidence",
			Help: "Confidence of the current RUL estimate per asset.",
		}, labels),
	}

	collectors := []prometheus.Collector{latency, p.assetDamage, p.assetRUL, p.assetConfidence}
	for _, c := range counters {
		collectors = append(collectors, c)
	}
	for _, g := range gauges {
		collectors = append(collectors, g)
	}
	reg.MustRegister(collectors...)
	return p
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.logger.Info(msg, attrs(fields)...)
}

func (p *PromObs) LogWarn(msg string, fields ...ports.Field) {
	p.logger.Warn(msg, attrs(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, append(attrs(fields), "err", err)...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, append(attrs(fields), "err", err, "critical", true)...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) SetAssetHealth(s domain.AssetReliabilityState) {
	p.assetDamage.WithLabelValues(s.TenantID, s.AssetID).Set(s.CumulativeDamage)
	p.assetRUL.WithLabelValues(s.TenantID, s.AssetID).Set(s.RUL)
	p.assetConfidence.WithLabelValues(s.TenantID, s.AssetID).Set(s.Confidence)
}

func (p *PromObs) RecordDLQ(id ports.WALEntryID, e *domain.Envelope, err error) {
	p.IncCounter(ports.MetricDLQ, 1)
	if err == nil {
		return
	}
	fields := []any{"wal_id", uint64(id), "err", err}
	if e != nil {
		fields = append(fields, "tenant_id", e.Key.TenantID, "asset_id", e.Key.AssetID, "seq", e.Reading.Sequence)
	}
	p.logger.Warn("pipeline: reading sent to DLQ", fields...)
}

func attrs(fields []ports.Field) []any {
	out := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
