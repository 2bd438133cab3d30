package aegishealth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/ghalamif/AegisHealth/internal/adapters/cache"
	"github.com/ghalamif/AegisHealth/internal/adapters/notifier"
	"github.com/ghalamif/AegisHealth/internal/adapters/store"
	"github.com/ghalamif/AegisHealth/internal/app/config"
	"github.com/ghalamif/AegisHealth/internal/ports"
)

// OpenStore builds the state store named by cfg.Driver. The returned closer
// may be nil.
func OpenStore(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (ports.StateStore, func() error, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		db, err := store.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		pg := store.NewPostgresStore(db, cfg.StateTable, cfg.AuditTable)
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return pg, db.Close, nil
	case config.DriverBadger:
		bs, err := store.OpenBadger(store.BadgerConfig{
			Path:       cfg.Path,
			SyncWrites: cfg.SyncWrites,
			Logger:     logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return bs, bs.Close, nil
	case config.DriverMemory, "":
		return store.NewMemoryStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// openNATS connects once and serves both the KV cache mirror and the event
// subjects from that connection.
func openNATS(ctx context.Context, cfg NATSConfig) (ports.CacheMirror, ports.EventNotifier, func() error, error) {
	nc, err := notifier.Connect(cfg.URL, cfg.Name)
	if err != nil {
		return nil, nil, nil, err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	kv, err := cache.OpenKVMirror(ctx, js, cfg.KVBucket, cfg.KVTTL, cfg.Timeout)
	if err != nil {
		nc.Close()
		return nil, nil, nil, err
	}
	return kv, notifier.NewNATSNotifier(nc, cfg.SubjectPrefix), nc.Drain, nil
}

func logNotifier(logger *slog.Logger) ports.EventNotifier {
	return notifier.NewLogNotifier(logger)
}
