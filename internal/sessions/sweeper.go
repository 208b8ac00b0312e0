package sessions

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// Sweeper evicts idle sessions on a cron schedule.
type Sweeper struct {
	cron    *cron.Cron
	manager *Manager
	spec    string // cron spec, e.g. "@every 5m"
}

// NewSweeper creates a Sweeper for manager.
func NewSweeper(manager *Manager, spec string) *Sweeper {
	if spec == "" {
		spec = "@every 5m"
	}
	return &Sweeper{
		cron:    cron.New(),
		manager: manager,
		spec:    spec,
	}
}

// Start registers the sweep job and starts the scheduler.
func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() {
		s.manager.SweepIdle(ctx)
	}); err != nil {
		return fmt.Errorf("cron.AddFunc(%q): %w", s.spec, err)
	}
	s.cron.Start()
	log.Printf("[sweeper] started, spec: %s", s.spec)
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	log.Println("[sweeper] stopped")
}
