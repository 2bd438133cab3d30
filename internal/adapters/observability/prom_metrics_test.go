package observability

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ghalamif/AegisHealth/internal/domain"
	"github.com/ghalamif/AegisHealth/internal/ports"
)

func newTestObs(t *testing.T) (*PromObs, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	return NewPromObs(prometheus.NewRegistry(), logger), &buf
}

func TestPromObsMetrics(t *testing.T) {
	obs, _ := newTestObs(t)

	obs.IncCounter(ports.MetricReadingsIngested, 5)
	if got := testutil.ToFloat64(obs.counters[ports.MetricReadingsIngested]); got != 5 {
		t.Fatalf("expected ingested counter 5, got %f", got)
	}

	obs.IncCounter(ports.MetricQueueDropped, 2)
	if got := testutil.ToFloat64(obs.counters[ports.MetricQueueDropped]); got != 2 {
		t.Fatalf("expected queue drop counter 2, got %f", got)
	}

	obs.IncCounter("unknown_metric", 1)

	obs.SetGauge(ports.MetricWALSizeBytes, 42)
	if got := testutil.ToFloat64(obs.gauges[ports.MetricWALSizeBytes]); got != 42 {
		t.Fatalf("expected wal gauge 42, got %f", got)
	}

	obs.ObserveLatency(ports.MetricIngestLatency, 0.5)
	hCollector := obs.histos[ports.MetricIngestLatency].(prometheus.Collector)
	if samples := testutil.CollectAndCount(hCollector); samples != 1 {
		t.Fatalf("expected latency histogram to record 1 sample, got %d", samples)
	}

	obs.RecordDLQ(1, nil, nil)
	if got := testutil.ToFloat64(obs.counters[ports.MetricDLQ]); got != 1 {
		t.Fatalf("expected dlq counter 1, got %f", got)
	}
}

func TestPromObsAssetHealth(t *testing.T) {
	obs, _ := newTestObs(t)

	obs.SetAssetHealth(domain.AssetReliabilityState{
		TenantID:         "t1",
		AssetID:          "pump-1",
		CumulativeDamage: 0.25,
		RUL:              1200,
		Confidence:       0.85,
	})

	if got := testutil.ToFloat64(obs.assetDamage.WithLabelValues("t1", "pump-1")); got != 0.25 {
		t.Fatalf("expected damage gauge 0.25, got %f", got)
	}
	if got := testutil.ToFloat64(obs.assetRUL.WithLabelValues("t1", "pump-1")); got != 1200 {
		t.Fatalf("expected rul gauge 1200, got %f", got)
	}
	if got := testutil.ToFloat64(obs.assetConfidence.WithLabelValues("t1", "pump-1")); got != 0.85 {
		t.Fatalf("expected confidence gauge 0.85, got %f", got)
	}
}

func TestPromObsLogging(t *testing.T) {
	obs, buf := newTestObs(t)

	obs.LogWarn("orchestrator: shift violation", ports.Field{Key: "asset_id", Value: "pump-9"})
	obs.LogError("pipeline: wal commit failed", errors.New("disk full"))
	obs.RecordDLQ(7, &domain.Envelope{Key: domain.AssetKey{TenantID: "t1", AssetID: "pump-3"}}, errors.New("bad reading"))

	out := buf.String()
	for _, want := range []string{"asset_id=pump-9", "level=WARN", `err="disk full"`, "wal_id=7", "asset_id=pump-3"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected log output to contain %q, got:\n%s", want, out)
		}
	}
}
