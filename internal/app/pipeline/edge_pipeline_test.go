package pipeline

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ghalamif/AegisHealth/internal/adapters/observability"
	"github.com/ghalamif/AegisHealth/internal/adapters/queue"
	"github.com/ghalamif/AegisHealth/internal/domain"
	"github.com/ghalamif/AegisHealth/internal/ports"
)

func TestWALFullBlockThenSucceed(t *testing.T) {
	wal := &mockWAL{
		sizes: []int64{150, 50},
	}
	pol := ports.Policy{
		MaxWALSizeBytes: 100,
		OnWALFull:       "block",
		IdleSleep:       time.Millisecond,
	}
	obs := &mockObs{}

	if ok := NewAdmission(wal, nil, pol, obs).walHasRoom(); !ok {
		t.Fatalf("expected walHasRoom to eventually succeed")
	}
	if wal.calls < 2 {
		t.Fatalf("expected multiple stats calls, got %d", wal.calls)
	}
}

func TestWALFullDrop(t *testing.T) {
	wal := &mockWAL{
		sizes: []int64{200, 200},
	}
	pol := ports.Policy{
		MaxWALSizeBytes: 100,
		OnWALFull:       "drop",
	}
	obs := &mockObs{}

	if ok := NewAdmission(wal, nil, pol, obs).walHasRoom(); ok {
		t.Fatalf("expected walHasRoom to drop and return false")
	}
	if len(obs.errors) == 0 {
		t.Fatalf("expected error to be logged")
	}
}

func TestQueueFullBlock(t *testing.T) {
	queue := &mockQueue{}
	queue.failures = 1

	pol := ports.Policy{
		OnQueueFull: "block",
		IdleSleep:   time.Millisecond,
	}
	obs := &mockObs{}

	if ok := NewAdmission(nil, queue, pol, obs).enqueue(1, &domain.Envelope{}); !ok {
		t.Fatalf("expected enqueue to eventually succeed")
	}
	if queue.calls != 2 {
		t.Fatalf("expected two enqueue attempts, got %d", queue.calls)
	}
}

func TestQueueFullDrop(t *testing.T) {
	queue := &mockQueue{failAlways: true}
	pol := ports.Policy{
		OnQueueFull: "drop",
	}
	obs := &mockObs{}

	if ok := NewAdmission(nil, queue, pol, obs).enqueue(1, &domain.Envelope{}); ok {
		t.Fatalf("expected enqueue to fail")
	}
	if len(obs.errors) == 0 {
		t.Fatalf("expected drop to log an error")
	}
}

func TestAdmitAppendsThenQueues(t *testing.T) {
	wal := &mockWAL{sizes: []int64{0}}
	queue := &mockQueue{}
	obs := &mockObs{}
	env := &domain.Envelope{Key: domain.AssetKey{TenantID: "t1", AssetID: "pump-1"}}

	if !NewAdmission(wal, queue, ports.Policy{MaxWALSizeBytes: 100, OnQueueFull: "drop"}, obs).Admit(env) {
		t.Fatalf("expected envelope to be admitted")
	}
	if len(wal.appended) != 1 || wal.appended[0] != env {
		t.Fatalf("expected envelope in WAL, got %v", wal.appended)
	}

	queue.failAlways = true
	if NewAdmission(wal, queue, ports.Policy{OnQueueFull: "drop"}, obs).Admit(env) {
		t.Fatalf("expected full queue to reject the envelope")
	}
	if obs.counter(ports.MetricQueueDropped) != 1 {
		t.Fatalf("expected drop to be counted")
	}
}

func TestUnknownPolicyRefuses(t *testing.T) {
	obs := &mockObs{}
	gate := NewAdmission(&mockWAL{sizes: []int64{500}}, &mockQueue{failAlways: true}, ports.Policy{
		MaxWALSizeBytes: 100,
		OnWALFull:       "spill",
		OnQueueFull:     "spill",
	}, obs)

	if gate.walHasRoom() {
		t.Fatalf("expected unknown wal policy to refuse")
	}
	if gate.enqueue(1, &domain.Envelope{}) {
		t.Fatalf("expected unknown queue policy to refuse")
	}
	if len(obs.errors) != 2 {
		t.Fatalf("expected both refusals to be logged, got %d", len(obs.errors))
	}
}

func TestRunEdgePipelineForwardsCollectorOutput(t *testing.T) {
	col := &mockCollector{envs: []*domain.Envelope{
		{Key: domain.AssetKey{TenantID: "t1", AssetID: "a"}},
		{Key: domain.AssetKey{TenantID: "t1", AssetID: "b"}},
	}}
	wal := &mockWAL{sizes: []int64{0}}
	queue := &mockQueue{}
	gate := NewAdmission(wal, queue, ports.Policy{MaxQueueLen: 4, OnQueueFull: "drop"}, observability.Nop{})

	edge, err := RunEdgePipeline(col, gate, 4)
	if err != nil {
		t.Fatalf("run edge pipeline: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for queue.enqueued() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 envelopes to be queued, got %d", queue.enqueued())
		}
		time.Sleep(time.Millisecond)
	}
	if err := edge.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestEdgePipelineStopAdmitsBufferedReadings(t *testing.T) {
	col := &mockCollector{envs: []*domain.Envelope{
		{Key: domain.AssetKey{TenantID: "t1", AssetID: "a"}},
		{Key: domain.AssetKey{TenantID: "t1", AssetID: "a"}},
		{Key: domain.AssetKey{TenantID: "t1", AssetID: "a"}},
	}}
	wal := &mockWAL{sizes: []int64{0}}
	gate := NewAdmission(wal, &mockQueue{}, ports.Policy{OnQueueFull: "drop"}, observability.Nop{})

	edge, err := RunEdgePipeline(col, gate, 8)
	if err != nil {
		t.Fatalf("run edge pipeline: %v", err)
	}
	if err := edge.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := wal.appendedCount(); got != 3 {
		t.Fatalf("expected every buffered reading in the WAL after Stop, got %d", got)
	}
}

func TestEdgePipelineStopCutsBlockedAdmissionShort(t *testing.T) {
	col := &mockCollector{envs: []*domain.Envelope{
		{Key: domain.AssetKey{TenantID: "t1", AssetID: "a"}},
		{Key: domain.AssetKey{TenantID: "t1", AssetID: "a"}},
	}}
	wal := &mockWAL{sizes: []int64{0}}
	queue := &mockQueue{failAlways: true}
	gate := NewAdmission(wal, queue, ports.Policy{OnQueueFull: "block", IdleSleep: time.Millisecond}, observability.Nop{})

	edge, err := RunEdgePipeline(col, gate, 4)
	if err != nil {
		t.Fatalf("run edge pipeline: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := edge.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error from Stop, got %v", err)
	}

	appended := wal.appendedCount()
	time.Sleep(20 * time.Millisecond)
	if got := wal.appendedCount(); got != appended {
		t.Fatalf("WAL written after Stop returned: %d -> %d", appended, got)
	}
	if gate.Admit(&domain.Envelope{}) {
		t.Fatalf("expected a closed gate to refuse readings")
	}
}

func TestAdmissionKeepsQueueInWALOrder(t *testing.T) {
	wal := &interleavingWAL{}
	q := queue.NewMemQueue(1024)
	gate := NewAdmission(wal, q, ports.Policy{OnQueueFull: "drop"}, observability.Nop{})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				gate.Admit(&domain.Envelope{Key: domain.AssetKey{TenantID: "t1", AssetID: "a"}})
			}
		}()
	}
	wg.Wait()

	batch := q.DequeueBatch(0)
	if len(batch) != 400 {
		t.Fatalf("expected 400 queued envelopes, got %d", len(batch))
	}
	for i, item := range batch {
		if item.ID != ports.WALEntryID(i+1) {
			t.Fatalf("queue position %d holds WAL id %d", i, item.ID)
		}
	}
}

// interleavingWAL hands out ids under its own lock and then yields, so
// callers that do not serialize append and enqueue race each other.
type interleavingWAL struct {
	ports.WAL
	mu   sync.Mutex
	last ports.WALEntryID
}

func (w *interleavingWAL) Append(*domain.Envelope) (ports.WALEntryID, error) {
	w.mu.Lock()
	w.last++
	id := w.last
	w.mu.Unlock()
	runtime.Gosched()
	return id, nil
}

func (w *interleavingWAL) Stats() ports.WALStats { return ports.WALStats{} }

type mockCollector struct {
	envs []*domain.Envelope
	wg   sync.WaitGroup
}

func (m *mockCollector) Start(out chan<- *domain.Envelope) error {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for _, e := range m.envs {
			out <- e
		}
	}()
	return nil
}

func (m *mockCollector) Stop() error {
	m.wg.Wait()
	return nil
}

type mockWAL struct {
	ports.WAL
	mu       sync.Mutex
	sizes    []int64
	calls    int
	appended []*domain.Envelope
	commits  []ports.WALEntryID
}

func (m *mockWAL) Stats() ports.WALStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.calls
	if idx >= len(m.sizes) {
		idx = len(m.sizes) - 1
	}
	m.calls++
	return ports.WALStats{
		SizeBytes: m.sizes[idx],
	}
}

func (m *mockWAL) Append(e *domain.Envelope) (ports.WALEntryID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appended = append(m.appended, e)
	return ports.WALEntryID(len(m.appended)), nil
}

func (m *mockWAL) appendedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.appended)
}

func (m *mockWAL) Commit(upto ports.WALEntryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits = append(m.commits, upto)
	return nil
}

func (m *mockWAL) committed() []ports.WALEntryID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.WALEntryID(nil), m.commits...)
}

type mockQueue struct {
	failures   int32
	failAlways bool
	calls      int
	count      atomic.Int32
}

func (m *mockQueue) Enqueue(id ports.WALEntryID, e *domain.Envelope) bool {
	m.calls++
	if m.failAlways {
		return false
	}
	if atomic.LoadInt32(&m.failures) > 0 {
		atomic.AddInt32(&m.failures, -1)
		return false
	}
	m.count.Add(1)
	return true
}

func (m *mockQueue) enqueued() int { return int(m.count.Load()) }

func (m *mockQueue) DequeueBatch(int) []ports.QueuedEnvelope { return nil }
func (m *mockQueue) Len() int                                { return 0 }

type mockObs struct {
	observability.Nop
	mu       sync.Mutex
	errors   []error
	dlq      []ports.WALEntryID
	counters map[string]float64
}

func (m *mockObs) LogError(_ string, err error, _ ...ports.Field) {
	m.mu.Lock()
	m.errors = append(m.errors, err)
	m.mu.Unlock()
}

func (m *mockObs) IncCounter(name string, v float64) {
	m.mu.Lock()
	if m.counters == nil {
		m.counters = make(map[string]float64)
	}
	m.counters[name] += v
	m.mu.Unlock()
}

func (m *mockObs) RecordDLQ(id ports.WALEntryID, _ *domain.Envelope, _ error) {
	m.mu.Lock()
	m.dlq = append(m.dlq, id)
	m.mu.Unlock()
}

func (m *mockObs) counter(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}
