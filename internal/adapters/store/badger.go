package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/ghalamif/AegisHealth/internal/domain"
	"github.com/ghalamif/AegisHealth/internal/ports"
)

// BadgerConfig configures the embedded store used by single-node edge deployments.
type BadgerConfig struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
}

// BadgerStore keeps snapshots under state/{tenant}{asset} and audit records
// under audit/{tenant}{asset}/{version}, both written in one transaction. Ids
// are length prefixed.
type BadgerStore struct {
	db *badger.DB
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadger opens (or creates) the database described by cfg.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger: path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("badger: create dir %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger: %v", domain.ErrStoreUnavailable, err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Close() error { return b.db.Close() }

// assetPath appends the tenant and asset ids, each behind a uvarint length,
// so no id can reach into its neighbour's key space.
func assetPath(dst []byte, key domain.AssetKey) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(key.TenantID)))
	dst = append(dst, key.TenantID...)
	dst = binary.AppendUvarint(dst, uint64(len(key.AssetID)))
	return append(dst, key.AssetID...)
}

func stateKey(key domain.AssetKey) []byte {
	return assetPath([]byte("state/"), key)
}

func auditPrefix(key domain.AssetKey) []byte {
	return append(assetPath([]byte("audit/"), key), '/')
}

func auditKey(key domain.AssetKey, version uint64) []byte {
	return append(auditPrefix(key), fmt.Sprintf("%020d", version)...)
}

func (b *BadgerStore) Get(ctx context.Context, key domain.AssetKey) (domain.AssetReliabilityState, error) {
	if err := ctx.Err(); err != nil {
		return domain.AssetReliabilityState{}, err
	}
	var s domain.AssetReliabilityState
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		s, err = readState(txn, key)
		return err
	})
	if err != nil {
		return domain.AssetReliabilityState{}, err
	}
	return s, nil
}

func readState(txn *badger.Txn, key domain.AssetKey) (domain.AssetReliabilityState, error) {
	var s domain.AssetReliabilityState
	item, err := txn.Get(stateKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return s, domain.ErrStateNotFound
	}
	if err != nil {
		return s, fmt.Errorf("badger get state: %w", err)
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &s)
	})
	if err != nil {
		return s, fmt.Errorf("badger decode state: %w", err)
	}
	return s, nil
}

func (b *BadgerStore) CommitIfVersion(ctx context.Context, expected uint64, next domain.AssetReliabilityState, rec domain.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := next.Key()
	stateVal, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("badger encode state: %w", err)
	}
	auditVal, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("badger encode audit: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		cur, err := readState(txn, key)
		switch {
		case errors.Is(err, domain.ErrStateNotFound):
			if expected != 0 {
				return domain.ErrVersionConflict
			}
		case err != nil:
			return err
		case cur.Version != expected:
			return domain.ErrVersionConflict
		}
		if err := txn.Set(stateKey(key), stateVal); err != nil {
			return err
		}
		return txn.Set(auditKey(key, rec.StateVersion), auditVal)
	})
	if errors.Is(err, badger.ErrConflict) {
		return domain.ErrVersionConflict
	}
	if errors.Is(err, badger.ErrDBClosed) {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return err
}

func (b *BadgerStore) ListAudit(ctx context.Context, key domain.AssetKey, limit int) ([]domain.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := auditPrefix(key)
	var out []domain.AuditRecord
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts at the last key <= seek.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var rec domain.AuditRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("badger decode audit: %w", err)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

var (
	_ ports.StateStore  = (*BadgerStore)(nil)
	_ ports.AuditReader = (*BadgerStore)(nil)
)
