package sessions

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("session not found")

// Repo persists session snapshots.
type Repo interface {
	Save(ctx context.Context, snap Snapshot) error
	Get(ctx context.Context, sessionID string) (Snapshot, error)
	Delete(ctx context.Context, sessionID string) error
}

// Purger is implemented by repos without native expiry.
type Purger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int, error)
}
