package ports

import (
	"context"

	"github.com/ghalamif/AegisHealth/internal/domain"
)

// StateStore is the durable home of asset snapshots and their audit trail.
//
// Get returns domain.ErrStateNotFound for unknown assets. CommitIfVersion
// writes next and rec atomically only if the stored version still equals
// expected (0 means "no snapshot yet"); otherwise it returns
// domain.ErrVersionConflict and writes nothing. Unreachable backends report
// domain.ErrStoreUnavailable.
type StateStore interface {
	Get(ctx context.Context, key domain.AssetKey) (domain.AssetReliabilityState, error)
	CommitIfVersion(ctx context.Context, expected uint64, next domain.AssetReliabilityState, rec domain.AuditRecord) error
}

// AuditReader returns the newest audit records of an asset, newest first.
type AuditReader interface {
	ListAudit(ctx context.Context, key domain.AssetKey, limit int) ([]domain.AuditRecord, error)
}

// CacheMirror is a low-latency, non-authoritative copy of asset snapshots.
type CacheMirror interface {
	Set(ctx context.Context, key string, fields map[string]string) error
}

// EventNotifier publishes domain events. Delivery is best effort.
type EventNotifier interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// ParamsResolver yields the reliability parameters for an asset.
type ParamsResolver interface {
	Resolve(key domain.AssetKey) domain.ReliabilityParams
}
