package wizard

import (
	"context"
	"sync"
	"time"

	"mymove-wizard/internal/shared/metrics"
	"mymove-wizard/internal/shared/telemetry"
)

// PollHandle owns one analysis polling loop. At most one handle per engine
// is active; starting another or calling Reset cancels the previous one.
type PollHandle struct {
	jobID    string
	engine   *Engine
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// JobID is the job this loop polls.
func (h *PollHandle) JobID() string { return h.jobID }

// Done is closed once the loop goroutine has exited.
func (h *PollHandle) Done() <-chan struct{} { return h.done }

// Active reports whether the loop has not been cancelled or finished.
func (h *PollHandle) Active() bool { return h.ctx.Err() == nil }

// Cancel stops the loop. No further status checks are issued, and a check
// already in flight has its result dropped. Cancel is idempotent.
func (h *PollHandle) Cancel() {
	e := h.engine
	e.mu.Lock()
	owned := e.poll == h
	if owned {
		e.poll = nil
	}
	e.mu.Unlock()
	h.stop()
	if owned {
		e.notify()
	}
}

func (h *PollHandle) stop() {
	h.stopOnce.Do(func() {
		h.cancel()
		metrics.IncPollStopped()
	})
}

// StartPollingAnalysis checks jobID every poll interval until the job
// reaches SUCCEEDED or FAILED, replacing any active loop. The first check
// happens one interval after the call. Failed checks are logged and retried
// on the next tick without touching the wizard error.
func (e *Engine) StartPollingAnalysis(jobID string) *PollHandle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &PollHandle{
		jobID:  jobID,
		engine: e,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	prev := e.poll
	e.poll = h
	e.mu.Unlock()
	if prev != nil {
		prev.stop()
	}

	metrics.IncPollStarted()
	telemetry.Info("wizard.poll_started", map[string]any{
		"job_id":      jobID,
		"interval_ms": e.pollInterval.Milliseconds(),
	})
	go e.pollLoop(h)
	e.notify()
	return h
}

// StopPollingAnalysis cancels the active loop, if any.
func (e *Engine) StopPollingAnalysis() {
	e.mu.Lock()
	h := e.poll
	e.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
}

// ActivePoll returns the running loop or nil.
func (e *Engine) ActivePoll() *PollHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.poll
}

func (e *Engine) pollLoop(h *PollHandle) {
	defer close(h.done)

	timer := time.NewTimer(e.pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-timer.C:
		}

		metrics.IncPollTick()
		// The check itself is not aborted by Cancel; its result is dropped instead.
		job, err := e.backend.CheckAnalysisStatus(context.WithoutCancel(h.ctx), h.jobID)
		if err != nil {
			if h.ctx.Err() != nil {
				return
			}
			metrics.IncPollTickError()
			telemetry.Warn("wizard.poll_tick_failed", map[string]any{
				"job_id": h.jobID,
				"error":  err,
			})
			timer.Reset(e.pollInterval)
			continue
		}
		if e.applyPolledJob(h, job) {
			return
		}
		timer.Reset(e.pollInterval)
	}
}

// applyPolledJob stores a tick's result and reports whether the loop is done.
func (e *Engine) applyPolledJob(h *PollHandle, job AnalysisJob) bool {
	e.mu.Lock()
	if e.poll != h {
		e.mu.Unlock()
		return true
	}
	e.applyJob(job)
	cur, _ := e.job.Get()
	terminal := job.Status.IsTerminal() || (cur.ID == h.jobID && cur.Status.IsTerminal())
	if terminal {
		e.poll = nil
	}
	e.mu.Unlock()

	if terminal {
		h.stop()
		telemetry.Info("wizard.poll_finished", map[string]any{
			"job_id": h.jobID,
			"status": string(cur.Status),
		})
	}
	e.notify()
	return terminal
}
