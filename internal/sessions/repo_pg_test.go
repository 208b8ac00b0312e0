package sessions

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"mymove-wizard/internal/wizard"
)

func newMockRepo(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PGRepo{DB: db}, mock
}

func TestPGRepoSaveUpsertsCheckpoint(t *testing.T) {
	repo, mock := newMockRepo(t)
	updatedAt := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	snap := Snapshot{
		SessionID: "0b8c6d1e-3f4a-4c59-9d3e-2a1b0c9d8e7f",
		Checkpoint: wizard.Checkpoint{
			Step:        wizard.StepInventoryEdit,
			InventoryID: "inv-1",
		},
		UpdatedAt: updatedAt,
	}

	mock.ExpectExec("INSERT INTO wizard_sessions").
		WithArgs(snap.SessionID, 4, sqlmock.AnyArg(), updatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Save(context.Background(), snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetDecodesPayload(t *testing.T) {
	repo, mock := newMockRepo(t)
	updatedAt := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"payload", "updated_at"}).
		AddRow([]byte(`{"step":"CONFIRM_SUBMIT","analysisJobId":"job-9","inventoryId":"inv-1","moveDetails":{"moveDate":"2026-11-02"}}`), updatedAt)

	mock.ExpectQuery("SELECT payload, updated_at").
		WithArgs("session-1").
		WillReturnRows(rows)

	snap, err := repo.Get(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.SessionID != "session-1" || snap.Step != wizard.StepConfirmSubmit {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.AnalysisJobID != "job-9" || snap.InventoryID != "inv-1" {
		t.Fatalf("ids not decoded: %+v", snap.Checkpoint)
	}
	if snap.MoveDetails.MoveDate != "2026-11-02" {
		t.Fatalf("moveDate = %q", snap.MoveDetails.MoveDate)
	}
	if !snap.UpdatedAt.Equal(updatedAt) {
		t.Fatalf("updatedAt = %v", snap.UpdatedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetMissingRow(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT payload, updated_at").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoPurgeBefore(t *testing.T) {
	repo, mock := newMockRepo(t)
	cutoff := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM wizard_sessions WHERE updated_at").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.PurgeBefore(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("PurgeBefore: %v", err)
	}
	if n != 3 {
		t.Fatalf("purged = %d, want 3", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
