package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ghalamif/AegisHealth/internal/domain"
	"github.com/ghalamif/AegisHealth/internal/ports"
)

const defaultIdleSleep = 5 * time.Millisecond

// EdgePipeline forwards collector output through an Admission.
type EdgePipeline struct {
	col      ports.Collector
	gate     *Admission
	readings chan *domain.Envelope
	done     chan struct{}
}

// RunEdgePipeline starts the collector and admits every envelope it produces.
// It returns once the collector is running; call Stop to tear it down.
func RunEdgePipeline(col ports.Collector, gate *Admission, buffer int) (*EdgePipeline, error) {
	p := &EdgePipeline{
		col:      col,
		gate:     gate,
		readings: make(chan *domain.Envelope, max(buffer, 1)),
		done:     make(chan struct{}),
	}
	if err := col.Start(p.readings); err != nil {
		return nil, err
	}

	go func() {
		defer close(p.done)
		for e := range p.readings {
			gate.Admit(e)
		}
	}()
	return p, nil
}

// Stop stops the collector and admits what it already produced. When ctx
// ends first the gate is closed and the rest is refused. Once Stop returns
// nothing touches the WAL on behalf of this pipeline.
func (p *EdgePipeline) Stop(ctx context.Context) error {
	err := p.col.Stop()
	close(p.readings)
	select {
	case <-p.done:
		return err
	case <-ctx.Done():
		p.gate.Close()
		<-p.done
		return errors.Join(err, fmt.Errorf("edge pipeline: %w", ctx.Err()))
	}
}

// Admission is the WAL-then-queue gate every reading passes through. Appends
// and enqueues are serialized so queue order always matches WAL id order.
type Admission struct {
	mu    sync.Mutex
	wal   ports.WAL
	queue ports.EnvelopeQueue
	pol   ports.Policy
	obs   ports.Observability
	sleep time.Duration

	shut      bool // guarded by mu
	closeOnce sync.Once
	closed    chan struct{}
}

func NewAdmission(wal ports.WAL, q ports.EnvelopeQueue, pol ports.Policy, obs ports.Observability) *Admission {
	sleep := pol.IdleSleep
	if sleep <= 0 {
		sleep = defaultIdleSleep
	}
	return &Admission{
		wal:    wal,
		queue:  q,
		pol:    pol,
		obs:    obs,
		sleep:  sleep,
		closed: make(chan struct{}),
	}
}

// Admit makes one envelope durable and queues it for ingestion under the
// WAL and queue full policies. It reports whether the envelope was queued.
func (a *Admission) Admit(e *domain.Envelope) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.shut {
		return false
	}
	if !a.walHasRoom() {
		a.obs.IncCounter(ports.MetricQueueDropped, 1)
		return false
	}

	id, err := a.wal.Append(e)
	if err != nil {
		a.obs.LogCritical("pipeline: wal append failed", err, ports.Field{Key: "asset", Value: e.Key.String()})
		return false
	}

	// A refused entry stays in the WAL until a later batch commits past it.
	if !a.enqueue(id, e) {
		a.obs.IncCounter(ports.MetricQueueDropped, 1)
		return false
	}
	return true
}

// Close refuses every later Admit and cuts blocked retries short. It returns
// once no Admit is in progress.
func (a *Admission) Close() {
	a.closeOnce.Do(func() { close(a.closed) })
	a.mu.Lock()
	a.shut = true
	a.mu.Unlock()
}

// walHasRoom applies OnWALFull while the WAL is at or over its size limit.
func (a *Admission) walHasRoom() bool {
	if a.pol.MaxWALSizeBytes <= 0 {
		return true
	}
	return a.retry("wal", a.pol.OnWALFull, func() (bool, error) {
		size := a.wal.Stats().SizeBytes
		if size < a.pol.MaxWALSizeBytes {
			return true, nil
		}
		return false, fmt.Errorf("size=%d limit=%d", size, a.pol.MaxWALSizeBytes)
	})
}

// enqueue applies OnQueueFull while the queue refuses the envelope.
func (a *Admission) enqueue(id ports.WALEntryID, e *domain.Envelope) bool {
	return a.retry("queue", a.pol.OnQueueFull, func() (bool, error) {
		if a.queue.Enqueue(id, e) {
			return true, nil
		}
		return false, fmt.Errorf("queue at capacity %d", a.pol.MaxQueueLen)
	})
}

// retry calls try until it succeeds while the policy is "block". "drop" and
// "reject" give up on the first refusal, and so does a closed gate.
func (a *Admission) retry(stage, policy string, try func() (bool, error)) bool {
	for {
		ok, full := try()
		if ok {
			return true
		}
		switch policy {
		case "block":
			t := time.NewTimer(a.sleep)
			select {
			case <-a.closed:
				t.Stop()
				return false
			case <-t.C:
			}
		case "drop", "reject":
			a.obs.LogError("pipeline: "+stage+" full, dropping reading", full)
			return false
		default:
			a.obs.LogError("pipeline: invalid "+stage+" policy", fmt.Errorf("policy=%q", policy))
			return false
		}
	}
}
