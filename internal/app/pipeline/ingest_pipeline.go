package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/AegisHealth/internal/domain"
	"github.com/ghalamif/AegisHealth/internal/logging"
	"github.com/ghalamif/AegisHealth/internal/ports"
)

// Ingester applies one reading to an asset. *orchestrator.Orchestrator
// satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, tenantID, assetID string, r domain.TelemetryReading) (domain.AssetReliabilityState, error)
}

// DefaultParallelism bounds how many assets of one batch are ingested at once.
const DefaultParallelism = 16

const defaultReplayBatch = 256

var errBatchFull = errors.New("pipeline: replay batch full")

// RunIngestPipeline drains the queue until ctx is done. Each batch is split
// per asset; assets run in parallel while readings of one asset keep queue
// order. The WAL is committed only after every reading of a batch settled.
// Queue order must match WAL id order, which Admission guarantees.
func RunIngestPipeline(ctx context.Context, wal ports.WAL, q ports.EnvelopeQueue, ing Ingester, pol ports.Policy, obs ports.Observability) error {
	log := logging.FromContext(ctx)
	for {
		if ctx.Err() != nil {
			return nil
		}
		batch := q.DequeueBatch(pol.MaxBatchSize)
		if len(batch) == 0 {
			if !sleepCtx(ctx, pol.IdleSleep) {
				return nil
			}
			continue
		}

		if err := ingestBatch(ctx, batch, ing, obs); err != nil {
			if ctx.Err() != nil {
				// Uncommitted entries are replayed on restart.
				return nil
			}
			return err
		}

		upto := batch[len(batch)-1].ID
		if err := wal.Commit(upto); err != nil {
			obs.LogError("pipeline: wal commit failed", err)
			continue
		}
		log.Debug("pipeline: batch settled", "size", len(batch), "upto", uint64(upto))
	}
}

// ReplayWAL ingests the uncommitted WAL entries with ids up to and including
// upto, oldest first, committing after every batch. It runs before the queue
// is drained so replayed readings keep their place ahead of newer ones, and
// reads the WAL in batches so a backlog larger than the queue never blocks.
func ReplayWAL(ctx context.Context, wal ports.WAL, upto ports.WALEntryID, ing Ingester, pol ports.Policy, obs ports.Observability) (int, error) {
	size := pol.MaxBatchSize
	if size <= 0 {
		size = defaultReplayBatch
	}
	log := logging.FromContext(ctx)

	var replayed int
	for ctx.Err() == nil {
		from := wal.Stats().OldestUncommitted
		if from == 0 || from > upto {
			break
		}

		var batch []ports.QueuedEnvelope
		err := wal.Iterate(from, func(id ports.WALEntryID, e *domain.Envelope) error {
			if id > upto || len(batch) == size {
				return errBatchFull
			}
			batch = append(batch, ports.QueuedEnvelope{ID: id, Envelope: e})
			return nil
		})
		if err != nil && !errors.Is(err, errBatchFull) {
			return replayed, err
		}
		if len(batch) == 0 {
			break
		}

		if err := ingestBatch(ctx, batch, ing, obs); err != nil {
			if ctx.Err() != nil {
				return replayed, nil
			}
			return replayed, err
		}
		last := batch[len(batch)-1].ID
		if err := wal.Commit(last); err != nil {
			return replayed, err
		}
		replayed += len(batch)
		log.Debug("pipeline: replayed wal batch", "size", len(batch), "upto", uint64(last))
	}
	return replayed, nil
}

func ingestBatch(ctx context.Context, batch []ports.QueuedEnvelope, ing Ingester, obs ports.Observability) error {
	groups := groupByAsset(batch)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultParallelism)
	for _, items := range groups {
		g.Go(func() error {
			for _, item := range items {
				if err := ingestOne(gctx, item, ing, obs); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// groupByAsset splits a batch per asset, keeping queue order inside each group.
func groupByAsset(batch []ports.QueuedEnvelope) [][]ports.QueuedEnvelope {
	index := make(map[domain.AssetKey]int)
	var groups [][]ports.QueuedEnvelope
	for _, item := range batch {
		if item.Envelope == nil {
			continue
		}
		i, ok := index[item.Envelope.Key]
		if !ok {
			i = len(groups)
			index[item.Envelope.Key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], item)
	}
	return groups
}

// ingestOne retries conflicts and persistence failures until they clear or
// ctx ends. Validation failures go to the DLQ.
func ingestOne(ctx context.Context, item ports.QueuedEnvelope, ing Ingester, obs ports.Observability) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 5 * time.Second

	e := item.Envelope
	for {
		_, err := ing.Ingest(ctx, e.Key.TenantID, e.Key.AssetID, e.Reading)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, domain.ErrValidation):
			obs.RecordDLQ(item.ID, e, err)
			return nil
		case domain.IsRetryable(err):
			obs.LogWarn("pipeline: ingest failed, retrying",
				ports.Field{Key: "asset", Value: e.Key.String()},
				ports.Field{Key: "seq", Value: e.Reading.Sequence},
				ports.Field{Key: "err", Value: err.Error()},
			)
			if !sleepCtx(ctx, b.NextBackOff()) {
				return ctx.Err()
			}
		default:
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 5 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
