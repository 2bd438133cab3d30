package aegishealth

import (
	"context"
	"errors"
)

// Flow reads as the pipeline does: Conf, then what streams in, then where
// results stream out. Each step only collects runtime options; StreamOUT
// builds the Runtime.
type Flow struct {
	cfg   *Config
	base  []RuntimeOption
	input []RuntimeOption
}

// FlowOption adjusts a Flow right after its configuration is known.
type FlowOption func(*Flow)

// StreamInOption supplies an input-side adapter: collector, WAL, queue or
// observability.
type StreamInOption func() RuntimeOption

// StreamOutOption supplies an output-side adapter: store, cache, notifier
// or reliability parameters.
type StreamOutOption func() RuntimeOption

var errNilFlow = errors.New("aegishealth: flow is nil")

// Conf loads the YAML file at path and starts a Flow from it.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, errors.New("aegishealth: config is required")
	}
	f := &Flow{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// Config exposes the configuration so callers can tweak it before StreamOUT.
func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

// Options adds raw runtime options.
func (f *Flow) Options(opts ...RuntimeOption) *Flow {
	if f != nil {
		f.base = appendNonNil(f.base, opts...)
	}
	return f
}

func (f *Flow) StreamIN(opts ...StreamInOption) *Flow {
	if f == nil {
		return nil
	}
	for _, opt := range opts {
		if opt != nil {
			f.input = appendNonNil(f.input, opt())
		}
	}
	return f
}

// StreamOUT applies the output adapters and builds the Runtime. Input and
// output options win over those given through Options.
func (f *Flow) StreamOUT(opts ...StreamOutOption) (*Runtime, error) {
	if f == nil {
		return nil, errNilFlow
	}
	all := make([]RuntimeOption, 0, len(f.base)+len(f.input)+len(opts))
	all = append(all, f.base...)
	all = append(all, f.input...)
	for _, opt := range opts {
		if opt != nil {
			all = appendNonNil(all, opt())
		}
	}
	return NewRuntime(f.cfg, all...)
}

// Run builds the Runtime and blocks until ctx is done.
func (f *Flow) Run(ctx context.Context, opts ...StreamOutOption) error {
	rt, err := f.StreamOUT(opts...)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return func(f *Flow) { f.Options(opts...) }
}

// StreamInCollector plugs in a custom collector, e.g. MQTT or a simulator.
func StreamInCollector(col Collector) StreamInOption { return inject(col, WithCollector) }

func StreamInQueue(q EnvelopeQueue) StreamInOption { return inject(q, WithQueue) }

func StreamInWAL(w WAL) StreamInOption { return inject(w, WithWAL) }

// StreamInObservability replaces the Prometheus registry backed default.
func StreamInObservability(obs Observability) StreamInOption {
	return inject(obs, WithObservability)
}

// StreamOutStore sets the authoritative state store.
func StreamOutStore(s StateStore) StreamOutOption { return inject(s, WithStateStore) }

func StreamOutCache(c CacheMirror) StreamOutOption { return inject(c, WithCacheMirror) }

func StreamOutNotifier(n EventNotifier) StreamOutOption { return inject(n, WithNotifier) }

// StreamOutCallback delivers every DamageUpdated and RULRecalculated event
// to fn.
func StreamOutCallback(fn EventHandler) StreamOutOption {
	return func() RuntimeOption {
		if fn == nil {
			return nil
		}
		return WithNotifier(NewCallbackNotifier(fn))
	}
}

// StreamOutParams replaces the configured reliability parameters.
func StreamOutParams(r ParamsResolver) StreamOutOption { return inject(r, WithParamsResolver) }

// inject defers building the option and skips nil adapters.
func inject[T any](v T, with func(T) RuntimeOption) func() RuntimeOption {
	return func() RuntimeOption {
		if any(v) == nil {
			return nil
		}
		return with(v)
	}
}

func appendNonNil(dst []RuntimeOption, opts ...RuntimeOption) []RuntimeOption {
	for _, opt := range opts {
		if opt != nil {
			dst = append(dst, opt)
		}
	}
	return dst
}
