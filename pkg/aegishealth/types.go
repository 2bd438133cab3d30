package aegishealth

import (
	"github.com/ghalamif/AegisHealth/internal/domain"
	"github.com/ghalamif/AegisHealth/internal/ports"
)

// Reading is one telemetry sample for an asset.
type Reading = domain.TelemetryReading

// State is the committed reliability snapshot of an asset.
type State = domain.AssetReliabilityState

// AssetKey identifies an asset within a tenant.
type AssetKey = domain.AssetKey

// AuditRecord is the immutable log entry written with every applied reading.
type AuditRecord = domain.AuditRecord

// Envelope is the unit that flows through the WAL and queue.
type Envelope = domain.Envelope

// ReliabilityParams are the per-asset knobs of the health computation.
type ReliabilityParams = domain.ReliabilityParams

// ValidationError lists the fields of a rejected reading.
type ValidationError = domain.ValidationError

// Event payloads published after each commit.
type (
	DamageUpdated   = domain.DamageUpdated
	RULRecalculated = domain.RULRecalculated
)

// StateStore persists snapshots with optimistic version checks.
type StateStore = ports.StateStore

// AuditReader lists audit records of an asset.
type AuditReader = ports.AuditReader

// CacheMirror receives a flat copy of every committed snapshot.
type CacheMirror = ports.CacheMirror

// EventNotifier publishes damage-updated and rul-recalculated events.
type EventNotifier = ports.EventNotifier

// ParamsResolver yields reliability parameters per asset.
type ParamsResolver = ports.ParamsResolver

// Collector streams readings from any data source into the pipeline.
type Collector = ports.Collector

// EnvelopeQueue is the bounded queue between the WAL and the orchestrator.
type EnvelopeQueue = ports.EnvelopeQueue

// QueuedEnvelope is an item buffered inside the queue.
type QueuedEnvelope = ports.QueuedEnvelope

// Observability emits metrics and logs.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// WAL abstracts the write-ahead log used for durability and crash recovery.
type WAL = ports.WAL

// WALStats exposes WAL metadata for observability.
type WALStats = ports.WALStats

// WALEntryID uniquely identifies a WAL entry.
type WALEntryID = ports.WALEntryID

// Error sentinels; match with errors.Is.
var (
	ErrValidation          = domain.ErrValidation
	ErrConcurrencyConflict = domain.ErrConcurrencyConflict
	ErrPersistence         = domain.ErrPersistence
	ErrPropagation         = domain.ErrPropagation
	ErrStateNotFound       = domain.ErrStateNotFound
)

// Topics.
const (
	TopicDamageUpdated   = domain.TopicDamageUpdated
	TopicRULRecalculated = domain.TopicRULRecalculated
)

// Float returns a pointer to v, for building readings.
func Float(v float64) *float64 { return domain.Float(v) }

// IsRetryable reports whether a failed Ingest may be resubmitted unchanged.
func IsRetryable(err error) bool { return domain.IsRetryable(err) }

// DefaultParams returns the built-in reliability parameters.
func DefaultParams() ReliabilityParams { return domain.DefaultParams() }
