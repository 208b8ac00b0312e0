package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PGRepo implements Repo using Postgres. The checkpoint is stored as JSONB
// next to the step so operators can query progress without decoding it.
type PGRepo struct {
	DB *sql.DB
}

// Save upserts the snapshot.
func (r *PGRepo) Save(ctx context.Context, snap Snapshot) error {
	const query = `
INSERT INTO wizard_sessions (id, step, payload, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
SET step = EXCLUDED.step, payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`
	payload, err := json.Marshal(snap.Checkpoint)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.SessionID, err)
	}
	_, err = r.DB.ExecContext(ctx, query,
		snap.SessionID,
		int(snap.Step),
		string(payload),
		snap.UpdatedAt,
	)
	return err
}

// Get returns the snapshot for sessionID.
func (r *PGRepo) Get(ctx context.Context, sessionID string) (Snapshot, error) {
	const query = `
SELECT payload, updated_at
FROM wizard_sessions
WHERE id = $1
LIMIT 1`
	var payload []byte
	var updatedAt time.Time
	err := r.DB.QueryRowContext(ctx, query, sessionID).Scan(&payload, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{SessionID: sessionID, UpdatedAt: updatedAt.UTC()}
	if err := json.Unmarshal(payload, &snap.Checkpoint); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot %s: %w", sessionID, err)
	}
	return snap, nil
}

// Delete removes the snapshot; a missing row is not an error.
func (r *PGRepo) Delete(ctx context.Context, sessionID string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM wizard_sessions WHERE id = $1`, sessionID)
	return err
}

// PurgeBefore deletes snapshots last updated before cutoff.
func (r *PGRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM wizard_sessions WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
