package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/ghalamif/AegisHealth/internal/domain"
)

var stateCols = []string{"cumulative_damage", "current_load", "current_temp", "current_rul", "confidence_score", "last_sequence", "version", "updated_at", "last_update"}

func TestPostgresStoreGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	st := NewPostgresStore(db, "", "")
	mock.ExpectQuery(regexp.QuoteMeta("FROM asset_reliability_state WHERE tenant_id = $1 AND asset_id = $2")).
		WithArgs("t1", "pump-1").
		WillReturnRows(sqlmock.NewRows(stateCols))

	_, err = st.Get(context.Background(), domain.AssetKey{TenantID: "t1", AssetID: "pump-1"})
	if !errors.Is(err, domain.ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := NewPostgresStore(db, "", "")
	mock.ExpectQuery(regexp.QuoteMeta("FROM asset_reliability_state WHERE tenant_id = $1 AND asset_id = $2")).
		WithArgs("t1", "pump-1").
		WillReturnRows(sqlmock.NewRows(stateCols).
			AddRow(0.25, 90.0, 70.0, 3.0, 0.85, int64(12), int64(4), ts, []byte(`{"vibration":0.2}`)))

	s, err := st.Get(context.Background(), domain.AssetKey{TenantID: "t1", AssetID: "pump-1"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s.Version != 4 || s.LastSequence != 12 || s.CumulativeDamage != 0.25 {
		t.Fatalf("unexpected snapshot %+v", s)
	}
	if s.LastPayload["vibration"] != 0.2 {
		t.Fatalf("expected payload to be decoded, got %v", s.LastPayload)
	}
}

func TestPostgresStoreCommitFirstSnapshot(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	st := NewPostgresStore(db, "", "")
	s, rec := snapshot(domain.AssetKey{TenantID: "t1", AssetID: "pump-1"}, 1, 1, 0.1)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO asset_reliability_state")).
		WithArgs("t1", "pump-1", 0.1, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO asset_audit_log")).
		WithArgs("rec-1", "t1", domain.AuditEntityAsset, "pump-1", domain.AuditActionProcessed,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := st.CommitIfVersion(context.Background(), 0, s, rec); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreCommitStaleVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	st := NewPostgresStore(db, "", "")
	s, rec := snapshot(domain.AssetKey{TenantID: "t1", AssetID: "pump-1"}, 3, 3, 0.3)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE asset_reliability_state SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = st.CommitIfVersion(context.Background(), 2, s, rec)
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreCommitAuditFailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	st := NewPostgresStore(db, "", "")
	s, rec := snapshot(domain.AssetKey{TenantID: "t1", AssetID: "pump-1"}, 2, 2, 0.2)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE asset_reliability_state SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO asset_audit_log")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if err := st.CommitIfVersion(context.Background(), 1, s, rec); err == nil {
		t.Fatalf("expected audit failure to surface")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreUniqueViolationIsConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	st := NewPostgresStore(db, "", "")
	s, rec := snapshot(domain.AssetKey{TenantID: "t1", AssetID: "pump-1"}, 1, 1, 0.1)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO asset_reliability_state")).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err = st.CommitIfVersion(context.Background(), 0, s, rec)
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestPostgresStoreListAudit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := NewPostgresStore(db, "", "")
	cols := []string{"id", "tenant_id", "entity_type", "entity_id", "action", "old_value", "new_value", "metadata_info", "state_version", "ts"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM asset_audit_log WHERE tenant_id = $1 AND entity_id = $2 ORDER BY state_version DESC LIMIT $3")).
		WithArgs("t1", "pump-1", 2).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("b", "t1", domain.AuditEntityAsset, "pump-1", domain.AuditActionProcessed,
				[]byte(`{"damage":0.1,"rul":9,"confidence":1}`), []byte(`{"damage":0.2,"rul":4,"confidence":1}`),
				[]byte(`{"sequence":2}`), int64(2), ts).
			AddRow("a", "t1", domain.AuditEntityAsset, "pump-1", domain.AuditActionProcessed,
				[]byte(`{"damage":0,"rul":99999,"confidence":1}`), []byte(`{"damage":0.1,"rul":9,"confidence":1}`),
				nil, int64(1), ts))

	recs, err := st.ListAudit(context.Background(), domain.AssetKey{TenantID: "t1", AssetID: "pump-1"}, 2)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "b" || recs[1].StateVersion != 1 {
		t.Fatalf("unexpected records %+v", recs)
	}
	if recs[0].NewValue.Damage != 0.2 || recs[0].OldValue.RUL != 9 {
		t.Fatalf("audit values not decoded: %+v", recs[0])
	}
}

func TestPostgresStoreEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	st := NewPostgresStore(db, "health_state", "health_audit")
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS health_state")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS health_audit")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS health_audit_entity_idx")).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
