package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ghalamif/AegisHealth/internal/domain"
	"github.com/ghalamif/AegisHealth/internal/ports"
)

const (
	DefaultStateTable = "asset_reliability_state"
	DefaultAuditTable = "asset_audit_log"
)

// PostgresStore persists snapshots and audit records in PostgreSQL. The
// snapshot and its audit row are written in one transaction.
type PostgresStore struct {
	db         *sql.DB
	stateTable string
	auditTable string
}

// NewPostgresStore wraps an open *sql.DB (driver "postgres").
// Empty table names fall back to the defaults.
func NewPostgresStore(db *sql.DB, stateTable, auditTable string) *PostgresStore {
	if stateTable == "" {
		stateTable = DefaultStateTable
	}
	if auditTable == "" {
		auditTable = DefaultAuditTable
	}
	return &PostgresStore{db: db, stateTable: stateTable, auditTable: auditTable}
}

// OpenPostgres opens a connection pool for dsn and verifies it with a ping.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping postgres: %v", domain.ErrStoreUnavailable, err)
	}
	return db, nil
}

// EnsureSchema creates the state and audit tables when missing.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS " + p.stateTable + ` (
	tenant_id TEXT NOT NULL,
	asset_id TEXT NOT NULL,
	cumulative_damage DOUBLE PRECISION NOT NULL,
	current_load DOUBLE PRECISION NOT NULL,
	current_temp DOUBLE PRECISION NOT NULL,
	current_rul DOUBLE PRECISION NOT NULL,
	confidence_score DOUBLE PRECISION NOT NULL,
	last_sequence BIGINT NOT NULL,
	version BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	last_update JSONB,
	PRIMARY KEY (tenant_id, asset_id))`,
		"CREATE TABLE IF NOT EXISTS " + p.auditTable + ` (
	id UUID PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	action TEXT NOT NULL,
	old_value JSONB NOT NULL,
	new_value JSONB NOT NULL,
	metadata_info JSONB,
	state_version BIGINT NOT NULL,
	ts TIMESTAMPTZ NOT NULL)`,
		"CREATE INDEX IF NOT EXISTS " + p.auditTable + "_entity_idx ON " + p.auditTable + " (tenant_id, entity_id, state_version DESC)",
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return wrapPG("ensure schema", err)
		}
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, key domain.AssetKey) (domain.AssetReliabilityState, error) {
	q := "SELECT cumulative_damage, current_load, current_temp, current_rul, confidence_score, last_sequence, version, updated_at, last_update FROM " +
		p.stateTable + " WHERE tenant_id = $1 AND asset_id = $2"

	s := domain.AssetReliabilityState{TenantID: key.TenantID, AssetID: key.AssetID}
	var payload []byte
	err := p.db.QueryRowContext(ctx, q, key.TenantID, key.AssetID).Scan(
		&s.CumulativeDamage,
		&s.CurrentLoad,
		&s.CurrentTemperature,
		&s.RUL,
		&s.Confidence,
		&s.LastSequence,
		&s.Version,
		&s.UpdatedAt,
		&payload,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AssetReliabilityState{}, domain.ErrStateNotFound
	}
	if err != nil {
		return domain.AssetReliabilityState{}, wrapPG("get state", err)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &s.LastPayload); err != nil {
			return domain.AssetReliabilityState{}, fmt.Errorf("decode last_update: %w", err)
		}
	}
	return s, nil
}

func (p *PostgresStore) CommitIfVersion(ctx context.Context, expected uint64, next domain.AssetReliabilityState, rec domain.AuditRecord) error {
	payload, err := json.Marshal(next.LastPayload)
	if err != nil {
		return fmt.Errorf("marshal last_update: %w", err)
	}
	oldVal, err := json.Marshal(rec.OldValue)
	if err != nil {
		return fmt.Errorf("marshal old_value: %w", err)
	}
	newVal, err := json.Marshal(rec.NewValue)
	if err != nil {
		return fmt.Errorf("marshal new_value: %w", err)
	}
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapPG("begin", err)
	}
	defer tx.Rollback()

	var res sql.Result
	if expected == 0 {
		res, err = tx.ExecContext(ctx,
			"INSERT INTO "+p.stateTable+" (tenant_id, asset_id, cumulative_damage, current_load, current_temp, current_rul, confidence_score, last_sequence, version, updated_at, last_update)"+
				" VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) ON CONFLICT (tenant_id, asset_id) DO NOTHING",
			next.TenantID, next.AssetID, next.CumulativeDamage, next.CurrentLoad, next.CurrentTemperature,
			next.RUL, next.Confidence, next.LastSequence, next.Version, next.UpdatedAt, payload,
		)
	} else {
		res, err = tx.ExecContext(ctx,
			"UPDATE "+p.stateTable+" SET cumulative_damage = $3, current_load = $4, current_temp = $5, current_rul = $6, confidence_score = $7, last_sequence = $8, version = $9, updated_at = $10, last_update = $11"+
				" WHERE tenant_id = $1 AND asset_id = $2 AND version = $12",
			next.TenantID, next.AssetID, next.CumulativeDamage, next.CurrentLoad, next.CurrentTemperature,
			next.RUL, next.Confidence, next.LastSequence, next.Version, next.UpdatedAt, payload, expected,
		)
	}
	if err != nil {
		return wrapPG("write state", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapPG("rows affected", err)
	}
	if n == 0 {
		return domain.ErrVersionConflict
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO "+p.auditTable+" (id, tenant_id, entity_type, entity_id, action, old_value, new_value, metadata_info, state_version, ts)"+
			" VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)",
		rec.ID, rec.TenantID, rec.EntityType, rec.EntityID, rec.Action, oldVal, newVal, meta, rec.StateVersion, rec.Timestamp,
	)
	if err != nil {
		return wrapPG("write audit", err)
	}
	if err := tx.Commit(); err != nil {
		return wrapPG("commit", err)
	}
	return nil
}

func (p *PostgresStore) ListAudit(ctx context.Context, key domain.AssetKey, limit int) ([]domain.AuditRecord, error) {
	q := "SELECT id, tenant_id, entity_type, entity_id, action, old_value, new_value, metadata_info, state_version, ts FROM " +
		p.auditTable + " WHERE tenant_id = $1 AND entity_id = $2 ORDER BY state_version DESC"
	args := []any{key.TenantID, key.AssetID}
	if limit > 0 {
		q += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapPG("list audit", err)
	}
	defer rows.Close()

	var out []domain.AuditRecord
	for rows.Next() {
		var (
			rec                 domain.AuditRecord
			oldVal, newVal, meta []byte
		)
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.EntityType, &rec.EntityID, &rec.Action,
			&oldVal, &newVal, &meta, &rec.StateVersion, &rec.Timestamp); err != nil {
			return nil, wrapPG("scan audit", err)
		}
		if err := json.Unmarshal(oldVal, &rec.OldValue); err != nil {
			return nil, fmt.Errorf("decode old_value: %w", err)
		}
		if err := json.Unmarshal(newVal, &rec.NewValue); err != nil {
			return nil, fmt.Errorf("decode new_value: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata_info: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, wrapPG("iterate audit", rows.Err())
}

// wrapPG maps driver failures onto the domain errors. Unique violations on
// the state primary key are a lost race for the first snapshot.
func wrapPG(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505", "40001":
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var (
	_ ports.StateStore  = (*PostgresStore)(nil)
	_ ports.AuditReader = (*PostgresStore)(nil)
)
