package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"mymove-wizard/internal/shared/metrics"
	"mymove-wizard/internal/shared/telemetry"
	"mymove-wizard/internal/wizard"
)

const restoreTimeout = 30 * time.Second

// Backend is everything a session needs from the MyMove backend: the
// engine's collaborators plus read-only lookups served directly.
type Backend interface {
	wizard.Backend
	GetBestOffer(ctx context.Context, offerID string) (*wizard.FinalOffer, error)
	GetJob(ctx context.Context, jobID string) (wizard.AnalysisJob, error)
	GetJobByOffer(ctx context.Context, offerID string) (wizard.AnalysisJob, error)
}

// ManagerOptions tunes session lifetimes.
type ManagerOptions struct {
	// IdleTTL is how long a live engine may go without requests before the
	// sweeper evicts it. Its snapshot survives eviction.
	IdleTTL time.Duration
	// Retention bounds how long snapshots are kept by repos without native
	// expiry. Zero keeps them.
	Retention     time.Duration
	EngineOptions []wizard.Option
	Now           func() time.Time
}

// Manager is the registry of live sessions.
type Manager struct {
	backend Backend
	repo    Repo
	opts    ManagerOptions
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	restores singleflight.Group
}

// NewManager constructs a Manager.
func NewManager(backend Backend, repo Repo, opts ManagerOptions) *Manager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 2 * time.Hour
	}
	return &Manager{
		backend:  backend,
		repo:     repo,
		opts:     opts,
		now:      now,
		sessions: make(map[string]*Session),
	}
}

// Backend exposes the lookups handlers serve without the engine.
func (m *Manager) Backend() Backend {
	return m.backend
}

func (m *Manager) newEngine() *wizard.Engine {
	return wizard.New(m.backend, m.opts.EngineOptions...)
}

// Create starts a fresh wizard and persists its first snapshot.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	now := m.now().UTC()
	sess := newSession(uuid.NewString(), m.newEngine(), now)
	if err := m.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save new session: %w", err)
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	metrics.IncSessionCreated()
	telemetry.Info("session.created", map[string]any{"session_id": sess.ID})
	return sess, nil
}

// Get returns the live session, restoring it from its snapshot when this
// process does not hold it.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, ErrNotFound
	}

	if sess, ok := m.lookup(sessionID); ok {
		return sess, nil
	}

	// Shared by every waiter; detached from the first caller's cancellation.
	v, err, _ := m.restores.Do(sessionID, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restoreTimeout)
		defer cancel()
		return m.restore(rctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	if sess, ok := m.lookup(sessionID); ok {
		return sess, nil
	}
	return v.(*Session), nil
}

// lookup returns a registered session and marks it active. The touch happens
// under the registry lock so SweepIdle cannot evict it in between.
func (m *Manager) lookup(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if ok {
		sess.touch(m.now())
	}
	return sess, ok
}

func (m *Manager) restore(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	if sess, ok := m.sessions[sessionID]; ok {
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	snap, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	cp := snap.Checkpoint
	if cp.AnalysisJobID == "" && cp.Offer != nil && cp.Video != nil {
		// The analysis may have started after the last save.
		if job, err := m.backend.GetJobByOffer(ctx, cp.Offer.ID); err == nil && job.ID != "" {
			cp.AnalysisJobID = job.ID
		}
	}

	engine := m.newEngine()
	if err := engine.Restore(ctx, cp); err != nil {
		telemetry.Warn("session.restore_partial", map[string]any{
			"session_id": sessionID,
			"error":      err,
		})
	}
	sess := newSession(sessionID, engine, m.now().UTC())

	m.mu.Lock()
	m.sessions[sessionID] = sess
	m.mu.Unlock()

	telemetry.Info("session.restored", map[string]any{
		"session_id": sessionID,
		"step":       cp.Step.String(),
	})
	return sess, nil
}

// Save persists the session's current checkpoint.
func (m *Manager) Save(ctx context.Context, sess *Session) error {
	return m.repo.Save(ctx, Snapshot{
		SessionID:  sess.ID,
		Checkpoint: sess.Engine.Checkpoint(),
		UpdatedAt:  m.now().UTC(),
	})
}

// Drop resets and forgets a session, including its snapshot.
func (m *Manager) Drop(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	sess, live := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if live {
		sess.Engine.Reset()
	} else if _, err := m.repo.Get(ctx, sessionID); err != nil {
		return err
	}
	if err := m.repo.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", sessionID, err)
	}
	telemetry.Info("session.dropped", map[string]any{"session_id": sessionID})
	return nil
}

// SweepIdle evicts engines idle longer than IdleTTL, stopping their polling
// after a final save, and purges expired snapshots. It returns the number of
// evicted sessions.
func (m *Manager) SweepIdle(ctx context.Context) int {
	now := m.now()
	cutoff := now.Add(-m.opts.IdleTTL)

	m.mu.Lock()
	var idle []*Session
	for id, sess := range m.sessions {
		if sess.LastActive().Before(cutoff) {
			idle = append(idle, sess)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, sess := range idle {
		sess.Engine.StopPollingAnalysis()
		if err := m.Save(ctx, sess); err != nil {
			telemetry.Warn("session.sweep_save_failed", map[string]any{
				"session_id": sess.ID,
				"error":      err,
			})
		}
	}
	metrics.AddSessionsSwept(len(idle))

	purged := 0
	if p, ok := m.repo.(Purger); ok && m.opts.Retention > 0 {
		n, err := p.PurgeBefore(ctx, now.Add(-m.opts.Retention))
		if err != nil {
			telemetry.Warn("session.purge_failed", map[string]any{"error": err})
		}
		purged = n
	}
	if len(idle) > 0 || purged > 0 {
		telemetry.Info("session.swept", map[string]any{
			"evicted": len(idle),
			"purged":  purged,
			"live":    m.Len(),
		})
	}
	return len(idle)
}

// Close stops every polling loop and saves every live session.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		live = append(live, sess)
	}
	m.mu.Unlock()

	var errs []error
	for _, sess := range live {
		sess.Engine.StopPollingAnalysis()
		if err := m.Save(ctx, sess); err != nil {
			errs = append(errs, fmt.Errorf("save session %s: %w", sess.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
