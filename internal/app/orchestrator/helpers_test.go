package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ghalamif/AegisHealth/internal/adapters/observability"
	"github.com/ghalamif/AegisHealth/internal/adapters/store"
	"github.com/ghalamif/AegisHealth/internal/domain"
	"github.com/ghalamif/AegisHealth/internal/ports"
)

type countingObs struct {
	observability.Nop
	mu       sync.Mutex
	counters map[string]float64
	warnings []string
}

func newCountingObs() *countingObs {
	return &countingObs{counters: make(map[string]float64)}
}

func (c *countingObs) IncCounter(name string, v float64) {
	c.mu.Lock()
	c.counters[name] += v
	c.mu.Unlock()
}

func (c *countingObs) LogWarn(msg string, _ ...ports.Field) {
	c.mu.Lock()
	c.warnings = append(c.warnings, msg)
	c.mu.Unlock()
}

func (c *countingObs) count(name string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[name]
}

// flakyStore fails commits according to commitErr before delegating.
type flakyStore struct {
	*store.MemoryStore
	mu        sync.Mutex
	commits   int
	commitErr func(attempt int) error
	getErr    error
}

func (f *flakyStore) Get(ctx context.Context, key domain.AssetKey) (domain.AssetReliabilityState, error) {
	if f.getErr != nil {
		return domain.AssetReliabilityState{}, f.getErr
	}
	return f.MemoryStore.Get(ctx, key)
}

func (f *flakyStore) CommitIfVersion(ctx context.Context, expected uint64, next domain.AssetReliabilityState, rec domain.AuditRecord) error {
	f.mu.Lock()
	f.commits++
	attempt := f.commits
	f.mu.Unlock()
	if f.commitErr != nil {
		if err := f.commitErr(attempt); err != nil {
			return err
		}
	}
	return f.MemoryStore.CommitIfVersion(ctx, expected, next, rec)
}

type recordedEvent struct {
	topic string
	key   string
	body  []byte
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (r *recordingNotifier) Publish(_ context.Context, topic, key string, payload []byte) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	r.events = append(r.events, recordedEvent{topic: topic, key: key, body: payload})
	r.mu.Unlock()
	return nil
}

func (r *recordingNotifier) snapshot() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

var errBrokerDown = errors.New("broker down")

func fastPropagation() PropagatorConfig {
	return PropagatorConfig{Workers: 2, QueueSize: 64, MaxAttempts: 2, InitialBackoff: time.Millisecond, Timeout: 50 * time.Millisecond}
}

func reading(seq uint64, load float64) domain.TelemetryReading {
	return domain.TelemetryReading{
		Load:        domain.Float(load),
		Temperature: domain.Float(60),
		Sequence:    seq,
	}
}
