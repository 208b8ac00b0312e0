package sessions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mymove-wizard/internal/wizard"
)

func newTestManager(t *testing.T, opts ManagerOptions) (*Manager, *stubBackend, *MemoryRepo, *fixedClock) {
	t.Helper()
	clock := &fixedClock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	if opts.Now == nil {
		opts.Now = clock.Now
	}
	opts.EngineOptions = append(opts.EngineOptions,
		wizard.WithPollInterval(5*time.Millisecond),
		wizard.WithClock(clock.Now),
	)
	be := newStubBackend()
	repo := NewMemoryRepo()
	m := NewManager(be, repo, opts)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, be, repo, clock
}

func TestManagerCreateAndGet(t *testing.T) {
	m, _, repo, _ := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	sess, err := m.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, wizard.StepMoveDetails, sess.Engine.CurrentStep())

	_, err = repo.Get(ctx, sess.ID)
	require.NoError(t, err, "first snapshot is persisted on create")

	got, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)
	assert.Equal(t, 1, m.Len())
}

func TestManagerGetUnknown(t *testing.T) {
	m, _, _, _ := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	_, err := m.Get(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerRestoresFromSnapshot(t *testing.T) {
	m, be, repo, _ := newTestManager(t, ManagerOptions{})
	ctx := context.Background()
	be.setJobStatus(wizard.JobSucceeded)

	id := uuid.NewString()
	require.NoError(t, repo.Save(ctx, Snapshot{
		SessionID: id,
		Checkpoint: wizard.Checkpoint{
			Step:        wizard.StepInventoryEdit,
			MoveDetails: wizard.MoveDetails{MoveDate: "2026-11-02"},
			Video:       &wizard.Video{ID: "video-1"},
			Offer:       &wizard.Offer{ID: "offer-1", Status: wizard.OfferDraft},
			InventoryID: "inv-1",
		},
	}))

	sess, err := m.Get(ctx, id)
	require.NoError(t, err)

	s := sess.Engine.State()
	assert.Equal(t, wizard.StepInventoryEdit, s.Step)
	assert.Equal(t, "2026-11-02", s.MoveDetails.MoveDate)
	assert.True(t, s.IsAnalysisComplete(), "job resolved through the offer")
	_, ok := s.Inventory.Get()
	assert.True(t, ok)
	assert.False(t, s.Polling, "terminal job is not polled")

	assert.Equal(t, 1, be.count("GetJobByOffer"))
	assert.Equal(t, 1, be.count("GetInventory"))

	again, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Same(t, sess, again)
	assert.Equal(t, 1, be.count("GetInventory"), "second lookup hits the live session")
}

func TestManagerRestoreResumesPolling(t *testing.T) {
	m, be, repo, _ := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	id := uuid.NewString()
	require.NoError(t, repo.Save(ctx, Snapshot{
		SessionID: id,
		Checkpoint: wizard.Checkpoint{
			Step:          wizard.StepAnalysisStatus,
			Video:         &wizard.Video{ID: "video-1"},
			AnalysisJobID: "job-1",
		},
	}))

	sess, err := m.Get(ctx, id)
	require.NoError(t, err)
	h := sess.Engine.ActivePoll()
	require.NotNil(t, h, "running job resumes polling")

	be.setJobStatus(wizard.JobSucceeded)
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("polling did not stop at terminal status")
	}
	assert.True(t, sess.Engine.State().IsAnalysisComplete())
}

func TestManagerRestoreKeepsPartialState(t *testing.T) {
	m, be, repo, _ := newTestManager(t, ManagerOptions{})
	ctx := context.Background()
	be.failWith(errors.New("connection refused"))

	id := uuid.NewString()
	require.NoError(t, repo.Save(ctx, Snapshot{
		SessionID: id,
		Checkpoint: wizard.Checkpoint{
			Step:        wizard.StepConfirmSubmit,
			InventoryID: "inv-1",
		},
	}))

	sess, err := m.Get(ctx, id)
	require.NoError(t, err, "fetch failures do not fail the lookup")
	s := sess.Engine.State()
	assert.Equal(t, wizard.StepConfirmSubmit, s.Step)
	assert.Equal(t, wizard.PhaseFailed, s.Inventory.Phase())
}

func TestManagerRestoreOutlivesCanceledRequest(t *testing.T) {
	m, be, repo, _ := newTestManager(t, ManagerOptions{})
	id := uuid.NewString()
	require.NoError(t, repo.Save(context.Background(), Snapshot{
		SessionID: id,
		Checkpoint: wizard.Checkpoint{
			Step:        wizard.StepInventoryEdit,
			InventoryID: "inv-1",
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sess, err := m.Get(ctx, id)
	require.NoError(t, err)

	s := sess.Engine.State()
	assert.Equal(t, wizard.PhaseLoaded, s.Inventory.Phase(), "inventory fetched despite the canceled caller")
	assert.Equal(t, 1, be.count("GetInventory"))
}

func TestManagerGetRacingSweepReturnsRegisteredSession(t *testing.T) {
	m, _, _, clock := newTestManager(t, ManagerOptions{IdleTTL: time.Hour})
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		sess, err := m.Create(ctx)
		require.NoError(t, err)
		clock.Advance(2 * time.Hour)

		var (
			wg  sync.WaitGroup
			got *Session
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			got, err = m.Get(ctx, sess.ID)
		}()
		go func() {
			defer wg.Done()
			m.SweepIdle(ctx)
		}()
		wg.Wait()
		require.NoError(t, err)

		again, err := m.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Same(t, got, again, "a returned session is always the registered one")
		require.NoError(t, m.Drop(ctx, sess.ID))
	}
}

func TestManagerSweepIdle(t *testing.T) {
	m, _, repo, clock := newTestManager(t, ManagerOptions{IdleTTL: time.Hour})
	ctx := context.Background()

	idle, err := m.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, idle.Engine.SetMoveDetails(completePatch()))

	clock.Advance(50 * time.Minute)
	active, err := m.Create(ctx)
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	assert.Equal(t, 1, m.SweepIdle(ctx))
	assert.Equal(t, 1, m.Len())

	snap, err := repo.Get(ctx, idle.ID)
	require.NoError(t, err, "evicted session keeps its snapshot")
	assert.Equal(t, "Graz", snap.MoveDetails.ToAddress.City, "latest details saved on eviction")

	got, err := m.Get(ctx, active.ID)
	require.NoError(t, err)
	assert.Same(t, active, got)

	restored, err := m.Get(ctx, idle.ID)
	require.NoError(t, err)
	assert.NotSame(t, idle, restored)
	assert.True(t, restored.Engine.IsMoveDetailsValid())
}

func TestManagerSweepPurgesExpiredSnapshots(t *testing.T) {
	m, _, repo, clock := newTestManager(t, ManagerOptions{IdleTTL: time.Hour, Retention: 24 * time.Hour})
	ctx := context.Background()

	sess, err := m.Create(ctx)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, m.SweepIdle(ctx))
	_, err = repo.Get(ctx, sess.ID)
	require.NoError(t, err)

	clock.Advance(48 * time.Hour)
	m.SweepIdle(ctx)
	_, err = repo.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerDrop(t *testing.T) {
	m, _, repo, _ := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	sess, err := m.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Drop(ctx, sess.ID))

	_, err = repo.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, m.Drop(ctx, uuid.NewString()), ErrNotFound)
}

func TestManagerCloseSavesLiveSessions(t *testing.T) {
	m, _, repo, _ := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	sess, err := m.Create(ctx)
	require.NoError(t, err)
	sess.Engine.NextStep()

	require.NoError(t, m.Close(ctx))
	snap, err := repo.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, wizard.StepVideoUpload, snap.Step)
}
