// Package sessions hosts one wizard engine per browser session, persists
// their checkpoints and exposes them over HTTP.
package sessions

import (
	"sync/atomic"
	"time"

	"mymove-wizard/internal/wizard"
)

// Snapshot is the persisted form of a session.
type Snapshot struct {
	SessionID string `json:"sessionId"`
	wizard.Checkpoint
	UpdatedAt time.Time `json:"updatedAt"`
}

// Session is a live wizard engine bound to an id.
type Session struct {
	ID        string
	Engine    *wizard.Engine
	CreatedAt time.Time

	lastActive atomic.Int64
}

func newSession(id string, engine *wizard.Engine, now time.Time) *Session {
	s := &Session{ID: id, Engine: engine, CreatedAt: now}
	s.touch(now)
	return s
}

func (s *Session) touch(now time.Time) {
	s.lastActive.Store(now.UnixNano())
}

// LastActive is the time of the latest request against the session.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load()).UTC()
}
