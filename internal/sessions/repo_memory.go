package sessions

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo stores snapshots in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]Snapshot
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Snapshot)}
}

// Save upserts the snapshot.
func (r *MemoryRepo) Save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[snap.SessionID] = snap
	return nil
}

// Get returns the snapshot for sessionID.
func (r *MemoryRepo) Get(ctx context.Context, sessionID string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.byID[sessionID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return snap, nil
}

// Delete removes the snapshot; a missing one is not an error.
func (r *MemoryRepo) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, sessionID)
	return nil
}

// PurgeBefore drops snapshots last updated before cutoff.
func (r *MemoryRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, snap := range r.byID {
		if snap.UpdatedAt.Before(cutoff) {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}
