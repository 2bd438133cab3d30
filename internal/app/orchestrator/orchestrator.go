// Package orchestrator turns validated telemetry readings into committed
// asset reliability snapshots. Readings for one asset are applied one at a
// time, in sequence order, exactly once.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/ghalamif/AegisHealth/internal/adapters/observability"
	"github.com/ghalamif/AegisHealth/internal/domain"
	"github.com/ghalamif/AegisHealth/internal/ports"
	"github.com/ghalamif/AegisHealth/internal/stages"
)

const (
	DefaultMaxCommitRetries = 3
	DefaultReorderWindow    = 200 * time.Millisecond
)

type staticParams domain.ReliabilityParams

func (s staticParams) Resolve(domain.AssetKey) domain.ReliabilityParams {
	return domain.ReliabilityParams(s)
}

// Orchestrator runs the stage chain for every reading and commits the result.
type Orchestrator struct {
	store     ports.StateStore
	params    ports.ParamsResolver
	obs       ports.Observability
	cache     ports.CacheMirror
	notifier  ports.EventNotifier
	propCfg   PropagatorConfig
	chain     stages.Chain
	validator *Validator
	locks     *LockTable
	prop      *Propagator

	now           func() time.Time
	newID         func() string
	maxRetries    int
	reorderWindow time.Duration
}

type Option func(*Orchestrator)

func WithParams(r ports.ParamsResolver) Option {
	return func(o *Orchestrator) { o.params = r }
}

// WithStaticParams applies the same parameters to every asset.
func WithStaticParams(p domain.ReliabilityParams) Option {
	return func(o *Orchestrator) { o.params = staticParams(p) }
}

func WithObservability(obs ports.Observability) Option {
	return func(o *Orchestrator) { o.obs = obs }
}

func WithCacheMirror(c ports.CacheMirror) Option {
	return func(o *Orchestrator) { o.cache = c }
}

func WithNotifier(n ports.EventNotifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

func WithPropagation(cfg PropagatorConfig) Option {
	return func(o *Orchestrator) { o.propCfg = cfg }
}

// WithMaxCommitRetries bounds how often a stale-version commit is recomputed.
func WithMaxCommitRetries(n int) Option {
	return func(o *Orchestrator) { o.maxRetries = n }
}

// WithReorderWindow sets how long a reading that skips ahead of the stored
// sequence waits for its predecessor. Zero or negative accepts gaps
// immediately.
func WithReorderWindow(d time.Duration) Option {
	return func(o *Orchestrator) { o.reorderWindow = max(d, 0) }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

func New(store ports.StateStore, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("orchestrator: state store is required")
	}
	o := &Orchestrator{
		store:         store,
		params:        staticParams(domain.DefaultParams()),
		obs:           observability.Nop{},
		validator:     NewValidator(),
		locks:         NewLockTable(),
		now:           time.Now,
		newID:         uuid.NewString,
		maxRetries:    DefaultMaxCommitRetries,
		reorderWindow: DefaultReorderWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.maxRetries < 0 {
		o.maxRetries = 0
	}
	o.chain = stages.NewChain(stages.ViolationObserverFunc(o.shiftViolation))
	o.prop = NewPropagator(o.cache, o.notifier, o.obs, o.propCfg)
	return o, nil
}

func (o *Orchestrator) shiftViolation(v stages.ShiftViolation) {
	o.obs.IncCounter(ports.MetricShiftViolations, 1)
	o.obs.LogWarn("orchestrator: shift violation",
		ports.Field{Key: "asset", Value: v.Asset.String()},
		ports.Field{Key: "load", Value: v.Load},
		ports.Field{Key: "threshold", Value: v.Threshold},
		ports.Field{Key: "multiplier", Value: v.Multiplier},
	)
}

// Ingest applies one reading to the asset's snapshot and returns the result.
//
// A reading whose sequence is not newer than the stored one is not applied:
// the stored snapshot is returned unchanged. It counts as a duplicate when it
// repeats the last applied sequence and as late otherwise. Errors wrap
// domain.ErrValidation, domain.ErrConcurrencyConflict or
// domain.ErrPersistence; in every error case nothing was written. Cache and
// event delivery happen afterwards and never affect the result.
//
// With a reorder window, a reading yields to lower sequences of the same
// asset that are in flight, and a reading that skips past LastSequence+1
// waits up to the window for the gap to fill. Gap detection assumes each
// source numbers an asset's readings contiguously.
func (o *Orchestrator) Ingest(ctx context.Context, tenantID, assetID string, r domain.TelemetryReading) (domain.AssetReliabilityState, error) {
	start := o.now()
	key := domain.AssetKey{TenantID: tenantID, AssetID: assetID}

	if err := o.validator.Validate(key, r); err != nil {
		o.obs.IncCounter(ports.MetricReadingsRejected, 1)
		return domain.AssetReliabilityState{}, err
	}
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = start
	}

	lock, err := o.locks.Acquire(ctx, key, r.Sequence)
	if err != nil {
		return domain.AssetReliabilityState{}, fmt.Errorf("orchestrator.ingest: %s: %w", key, err)
	}
	defer lock.Release()

	var (
		conflicts int
		deadline  time.Time
	)
	for {
		cur, err := o.load(ctx, key)
		if err != nil {
			return domain.AssetReliabilityState{}, err
		}

		switch {
		case r.Sequence == cur.LastSequence:
			o.obs.IncCounter(ports.MetricReadingsDuplicate, 1)
			return cur, nil
		case r.Sequence < cur.LastSequence:
			o.obs.IncCounter(ports.MetricReadingsLate, 1)
			o.obs.LogWarn("orchestrator: reading arrived after a higher sequence",
				ports.Field{Key: "asset", Value: key.String()},
				ports.Field{Key: "seq", Value: r.Sequence},
				ports.Field{Key: "last_seq", Value: cur.LastSequence},
			)
			return cur, nil
		}

		if o.reorderWindow > 0 {
			if deadline.IsZero() {
				deadline = start.Add(o.reorderWindow)
			}
			wait, ok := o.reorderWait(lock, cur, r.Sequence, deadline)
			if !ok {
				if err := lock.WaitAdvance(ctx, wait); err != nil {
					return domain.AssetReliabilityState{}, fmt.Errorf("orchestrator.ingest: %s: %w", key, err)
				}
				continue
			}
		}

		next, rec, res := o.apply(key, cur, r)

		if err := ctx.Err(); err != nil {
			return domain.AssetReliabilityState{}, fmt.Errorf("orchestrator.ingest: %s: %w", key, err)
		}
		err = o.store.CommitIfVersion(context.WithoutCancel(ctx), cur.Version, next, rec)
		switch {
		case err == nil:
			lock.Advance()
			o.committed(next, res, start)
			return next, nil
		case errors.Is(err, domain.ErrVersionConflict):
			o.obs.IncCounter(ports.MetricCommitConflicts, 1)
			conflicts++
			if conflicts > o.maxRetries {
				return domain.AssetReliabilityState{}, fmt.Errorf("orchestrator.ingest: %s seq %d after %d attempts: %w",
					key, r.Sequence, conflicts, domain.ErrConcurrencyConflict)
			}
		default:
			o.obs.LogError("orchestrator: commit failed", err,
				ports.Field{Key: "asset", Value: key.String()},
				ports.Field{Key: "seq", Value: r.Sequence},
			)
			return domain.AssetReliabilityState{}, fmt.Errorf("orchestrator.ingest: %s: %w: %w", key, domain.ErrPersistence, err)
		}
	}
}

// reorderWait decides whether seq may be applied on top of cur now. When it
// may not, it returns how long to yield the lock before checking again.
func (o *Orchestrator) reorderWait(lock *AssetLock, cur domain.AssetReliabilityState, seq uint64, deadline time.Time) (time.Duration, bool) {
	remaining := deadline.Sub(o.now())
	if lock.LowerPending() {
		if remaining <= 0 {
			// Our window is spent: let the lower readings through without
			// waiting for their own gaps, then follow them.
			lock.Flush()
			return o.reorderWindow, false
		}
		return remaining, false
	}
	if seq == cur.LastSequence+1 || remaining <= 0 || lock.Flushing() {
		return 0, true
	}
	return remaining, false
}

func (o *Orchestrator) load(ctx context.Context, key domain.AssetKey) (domain.AssetReliabilityState, error) {
	cur, err := o.store.Get(ctx, key)
	switch {
	case err == nil:
		return cur, nil
	case errors.Is(err, domain.ErrStateNotFound):
		return domain.NewAssetState(key, o.now()), nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domain.AssetReliabilityState{}, fmt.Errorf("orchestrator.load: %s: %w", key, err)
	default:
		return domain.AssetReliabilityState{}, fmt.Errorf("orchestrator.load: %s: %w: %w", key, domain.ErrPersistence, err)
	}
}

func (o *Orchestrator) apply(key domain.AssetKey, cur domain.AssetReliabilityState, r domain.TelemetryReading) (domain.AssetReliabilityState, domain.AuditRecord, stages.Result) {
	p := o.params.Resolve(key)
	res := o.chain.Run(key, r, cur.CumulativeDamage, p)
	now := o.now()

	next := cur
	next.CumulativeDamage = res.CumulativeDamage
	next.CurrentLoad = *r.Load
	next.CurrentTemperature = *r.Temperature
	next.RUL = res.RUL
	next.Confidence = res.Confidence
	next.LastSequence = r.Sequence
	next.Version = cur.Version + 1
	next.UpdatedAt = now
	next.LastPayload = maps.Clone(r.Payload)

	rec := domain.AuditRecord{
		ID:         o.newID(),
		TenantID:   key.TenantID,
		EntityType: domain.AuditEntityAsset,
		EntityID:   key.AssetID,
		Action:     domain.AuditActionProcessed,
		OldValue:   domain.AuditValueOf(cur),
		NewValue:   domain.AuditValueOf(next),
		Metadata: map[string]any{
			"sequence":           r.Sequence,
			"load":               *r.Load,
			"temp":               *r.Temperature,
			"shift_multiplier":   res.ShiftMultiplier,
			"env_modifier":       res.EnvironmentalModifier,
			"damage_increment":   res.DamageIncrement,
			"remaining_capacity": res.RemainingCapacity,
			"received_at":        r.ReceivedAt.UTC().Format(time.RFC3339Nano),
		},
		Timestamp:    now,
		StateVersion: next.Version,
	}
	return next, rec, res
}

func (o *Orchestrator) committed(next domain.AssetReliabilityState, res stages.Result, start time.Time) {
	o.obs.IncCounter(ports.MetricReadingsIngested, 1)
	o.obs.ObserveLatency(ports.MetricIngestLatency, o.now().Sub(start).Seconds())
	o.obs.SetAssetHealth(next)
	o.prop.Enqueue(next, res.DamageIncrement)
}

// State returns the stored snapshot of an asset.
func (o *Orchestrator) State(ctx context.Context, tenantID, assetID string) (domain.AssetReliabilityState, error) {
	return o.store.Get(ctx, domain.AssetKey{TenantID: tenantID, AssetID: assetID})
}

// Audit returns up to limit audit records of an asset, newest first. It
// fails with a plain error when the store keeps no audit trail.
func (o *Orchestrator) Audit(ctx context.Context, tenantID, assetID string, limit int) ([]domain.AuditRecord, error) {
	reader, ok := o.store.(ports.AuditReader)
	if !ok {
		return nil, errors.New("orchestrator: state store does not expose audit records")
	}
	return reader.ListAudit(ctx, domain.AssetKey{TenantID: tenantID, AssetID: assetID}, limit)
}

// Close drains pending cache and event deliveries.
func (o *Orchestrator) Close(ctx context.Context) error {
	return o.prop.Close(ctx)
}
