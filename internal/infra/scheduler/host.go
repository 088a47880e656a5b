package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrHostStopped is returned by Submit after the host shuts down.
var ErrHostStopped = errors.New("host task system stopped")

// TimerHost is the daemon's stand-in for an OS background task system. It
// honors each request's earliest-begin time with a timer and enforces a
// fixed execution budget per task by cancelling the task context, which is
// exactly the expiration behavior a real host exhibits.
//
// One pending task per kind: resubmitting a kind replaces its timer, the way
// OS task systems coalesce duplicate identifiers.
type TimerHost struct {
	budget time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending map[TaskKind]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

// NewTimerHost creates a host granting budget of execution time per task.
func NewTimerHost(budget time.Duration, logger *slog.Logger) *TimerHost {
	if budget <= 0 {
		budget = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TimerHost{
		budget:  budget,
		logger:  logger,
		pending: make(map[TaskKind]*time.Timer),
	}
}

// Submit implements Host.
func (h *TimerHost) Submit(req Request, run func(ctx context.Context)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return ErrHostStopped
	}

	if prev, ok := h.pending[req.Kind]; ok {
		if prev.Stop() {
			// Replaced before firing; its AfterFunc will not run.
			h.wg.Done()
		}
	}

	delay := time.Until(req.EarliestBegin)
	if delay < 0 {
		delay = 0
	}

	h.wg.Add(1)
	h.pending[req.Kind] = time.AfterFunc(delay, func() {
		defer h.wg.Done()

		h.mu.Lock()
		stopped := h.stopped
		delete(h.pending, req.Kind)
		h.mu.Unlock()
		if stopped {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), h.budget)
		defer cancel()
		run(ctx)
	})

	return nil
}

// Stop cancels pending timers and waits for running tasks to return. Tasks
// see their budget context; Stop does not revoke budgets early.
func (h *TimerHost) Stop() {
	h.mu.Lock()
	h.stopped = true
	for kind, t := range h.pending {
		if t.Stop() {
			// Timer never fired; its AfterFunc will not run.
			h.wg.Done()
		}
		delete(h.pending, kind)
	}
	h.mu.Unlock()

	h.wg.Wait()
	h.logger.Info("host task system stopped")
}
