package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ghalamif/AegisHealth/internal/domain"
	"github.com/ghalamif/AegisHealth/internal/ports"
)

// PropagatorConfig sizes the propagation worker pool.
type PropagatorConfig struct {
	Workers     int
	QueueSize   int
	MaxAttempts uint
	Timeout     time.Duration
	// InitialBackoff of 0 uses the backoff package default.
	InitialBackoff time.Duration
}

func (c *PropagatorConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
}

type propagation struct {
	state     domain.AssetReliabilityState
	increment float64
}

// Propagator pushes committed snapshots to the cache mirror and the event
// notifier. Each asset always lands on the same worker, so deliveries for one
// asset keep commit order. Failures are logged and counted, never returned to
// the ingest caller.
type Propagator struct {
	cache    ports.CacheMirror
	notifier ports.EventNotifier
	obs      ports.Observability
	cfg      PropagatorConfig

	workers []chan propagation
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPropagator starts the workers. cache and notifier may be nil.
func NewPropagator(cache ports.CacheMirror, notifier ports.EventNotifier, obs ports.Observability, cfg PropagatorConfig) *Propagator {
	cfg.applyDefaults()
	p := &Propagator{
		cache:    cache,
		notifier: notifier,
		obs:      obs,
		cfg:      cfg,
		workers:  make([]chan propagation, cfg.Workers),
	}
	for i := range p.workers {
		ch := make(chan propagation, cfg.QueueSize)
		p.workers[i] = ch
		p.wg.Add(1)
		go p.run(ch)
	}
	return p
}

// Enqueue hands off a committed state. It never blocks: when the target
// worker is saturated the job is dropped and counted.
func (p *Propagator) Enqueue(state domain.AssetReliabilityState, increment float64) bool {
	if p.cache == nil && p.notifier == nil {
		return true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.workers[p.partition(state.Key())] <- propagation{state: state, increment: increment}:
		return true
	default:
		p.obs.IncCounter(ports.MetricPropagationDropped, 1)
		p.obs.LogWarn("propagator: backlog full, dropping update",
			ports.Field{Key: "asset", Value: state.Key().String()},
			ports.Field{Key: "version", Value: state.Version},
		)
		return false
	}
}

func (p *Propagator) partition(key domain.AssetKey) int {
	h := fnv.New32a()
	h.Write([]byte(key.String()))
	return int(h.Sum32() % uint32(len(p.workers)))
}

func (p *Propagator) run(ch <-chan propagation) {
	defer p.wg.Done()
	for job := range ch {
		p.deliver(job)
	}
}

func (p *Propagator) deliver(job propagation) {
	key := job.state.Key()
	if p.cache != nil {
		err := p.retry("cache", func(ctx context.Context) error {
			return p.cache.Set(ctx, key.CacheKey(), job.state.CacheFields())
		})
		p.report("cache", key, job.state.Version, err)
	}
	if p.notifier == nil {
		return
	}

	damage, err := json.Marshal(domain.DamageUpdated{
		TenantID:  key.TenantID,
		AssetID:   key.AssetID,
		Version:   job.state.Version,
		Sequence:  job.state.LastSequence,
		Damage:    job.state.CumulativeDamage,
		Increment: job.increment,
		Timestamp: job.state.UpdatedAt,
	})
	if err == nil {
		err = p.retry(domain.TopicDamageUpdated, func(ctx context.Context) error {
			return p.notifier.Publish(ctx, domain.TopicDamageUpdated, key.AssetID, damage)
		})
	}
	p.report(domain.TopicDamageUpdated, key, job.state.Version, err)

	rul, err := json.Marshal(domain.RULRecalculated{
		TenantID:   key.TenantID,
		AssetID:    key.AssetID,
		Version:    job.state.Version,
		Sequence:   job.state.LastSequence,
		RUL:        job.state.RUL,
		Confidence: job.state.Confidence,
		Timestamp:  job.state.UpdatedAt,
	})
	if err == nil {
		err = p.retry(domain.TopicRULRecalculated, func(ctx context.Context) error {
			return p.notifier.Publish(ctx, domain.TopicRULRecalculated, key.AssetID, rul)
		})
	}
	p.report(domain.TopicRULRecalculated, key, job.state.Version, err)
}

func (p *Propagator) retry(target string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	if p.cfg.InitialBackoff > 0 {
		b.InitialInterval = p.cfg.InitialBackoff
	}
	b.MaxInterval = p.cfg.Timeout

	_, err := backoff.Retry(context.Background(), func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
		defer cancel()
		return struct{}{}, fn(ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.cfg.MaxAttempts),
	)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrPropagation, target, err)
	}
	return nil
}

func (p *Propagator) report(target string, key domain.AssetKey, version uint64, err error) {
	if err == nil {
		return
	}
	p.obs.IncCounter(ports.MetricPropagationFailures, 1)
	p.obs.LogWarn("propagator: degraded delivery",
		ports.Field{Key: "target", Value: target},
		ports.Field{Key: "asset", Value: key.String()},
		ports.Field{Key: "version", Value: version},
		ports.Field{Key: "err", Value: err.Error()},
	)
}

// Close stops accepting work and waits for queued deliveries to finish or
// for ctx to end.
func (p *Propagator) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, ch := range p.workers {
		close(ch)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("propagator: pending deliveries abandoned"), ctx.Err())
	}
}
