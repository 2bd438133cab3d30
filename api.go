// Package aegishealth turns asset telemetry into reliability state: stress
// and environment adjusted damage, remaining useful life and its confidence.
// It re-exports pkg/aegishealth so consumers can import the module root.
package aegishealth

import (
	"context"
	"log/slog"

	base "github.com/ghalamif/AegisHealth/pkg/aegishealth"
)

// Re-exported errors for convenience.
var (
	ErrBackpressure          = base.ErrBackpressure
	ErrRuntimeClosed         = base.ErrRuntimeClosed
	ErrChannelNotifierClosed = base.ErrChannelNotifierClosed
	ErrValidation            = base.ErrValidation
	ErrConcurrencyConflict   = base.ErrConcurrencyConflict
	ErrPersistence           = base.ErrPersistence
	ErrStateNotFound         = base.ErrStateNotFound
)

// Type aliases so consumers can import github.com/ghalamif/AegisHealth directly.
type (
	Config            = base.Config
	Policy            = base.Policy
	PipelineConfig    = base.PipelineConfig
	ReliabilityConfig = base.ReliabilityConfig
	ParamsOverride    = base.ParamsOverride
	TenantParams      = base.TenantParams
	StoreConfig       = base.StoreConfig
	NATSConfig        = base.NATSConfig
	HTTPConfig        = base.HTTPConfig
	MetricsConfig     = base.MetricsConfig
	WALConfig         = base.WALConfig
	OPCUAConfig       = base.OPCUAConfig
	OPCUANodeConfig   = base.OPCUANodeConfig
	LoggingConfig     = base.LoggingConfig
	Flow              = base.Flow
	FlowOption        = base.FlowOption
	StreamInOption    = base.StreamInOption
	StreamOutOption   = base.StreamOutOption
	Runtime           = base.Runtime
	RuntimeOption     = base.RuntimeOption
	Reading           = base.Reading
	State             = base.State
	AssetKey          = base.AssetKey
	AuditRecord       = base.AuditRecord
	DamageUpdated     = base.DamageUpdated
	RULRecalculated   = base.RULRecalculated
	ReliabilityParams = base.ReliabilityParams
	Event             = base.Event
	EventHandler      = base.EventHandler
	StateStore        = base.StateStore
	CacheMirror       = base.CacheMirror
	EventNotifier     = base.EventNotifier
	ParamsResolver    = base.ParamsResolver
	Collector         = base.Collector
	EnvelopeQueue     = base.EnvelopeQueue
	WAL               = base.WAL
	Observability     = base.Observability
)

// Store drivers and event topics.
const (
	DriverPostgres       = base.DriverPostgres
	DriverBadger         = base.DriverBadger
	DriverMemory         = base.DriverMemory
	TopicDamageUpdated   = base.TopicDamageUpdated
	TopicRULRecalculated = base.TopicRULRecalculated
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseConfig(raw []byte) (*Config, error) {
	return base.ParseConfig(raw)
}

func Float(v float64) *float64 { return base.Float(v) }

func IsRetryable(err error) bool { return base.IsRetryable(err) }

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInCollector(col Collector) StreamInOption {
	return base.StreamInCollector(col)
}

func StreamInQueue(q EnvelopeQueue) StreamInOption {
	return base.StreamInQueue(q)
}

func StreamInWAL(w WAL) StreamInOption {
	return base.StreamInWAL(w)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutStore(s StateStore) StreamOutOption {
	return base.StreamOutStore(s)
}

func StreamOutCache(c CacheMirror) StreamOutOption {
	return base.StreamOutCache(c)
}

func StreamOutNotifier(n EventNotifier) StreamOutOption {
	return base.StreamOutNotifier(n)
}

func StreamOutCallback(fn EventHandler) StreamOutOption {
	return base.StreamOutCallback(fn)
}

func StreamOutParams(r ParamsResolver) StreamOutOption {
	return base.StreamOutParams(r)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithStateStore(s StateStore) RuntimeOption { return base.WithStateStore(s) }

func WithCacheMirror(c CacheMirror) RuntimeOption { return base.WithCacheMirror(c) }

func WithNotifier(n EventNotifier) RuntimeOption { return base.WithNotifier(n) }

func WithCollector(col Collector) RuntimeOption { return base.WithCollector(col) }

func WithWAL(w WAL) RuntimeOption { return base.WithWAL(w) }

func WithQueue(q EnvelopeQueue) RuntimeOption { return base.WithQueue(q) }

func WithObservability(obs Observability) RuntimeOption { return base.WithObservability(obs) }

func WithParamsResolver(r ParamsResolver) RuntimeOption { return base.WithParamsResolver(r) }

func WithLogger(l *slog.Logger) RuntimeOption { return base.WithLogger(l) }

// OpenStore builds the state store named by cfg.Driver.
func OpenStore(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (StateStore, func() error, error) {
	return base.OpenStore(ctx, cfg, logger)
}

// Notifier adapters.
func NewCallbackNotifier(fn EventHandler) EventNotifier {
	return base.NewCallbackNotifier(fn)
}

func NewChannelNotifier(buffer int) (EventNotifier, <-chan Event, func()) {
	return base.NewChannelNotifier(buffer)
}
