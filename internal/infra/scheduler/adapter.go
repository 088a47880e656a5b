// Package scheduler adapts host-granted opportunistic background execution
// windows into sync coordinator invocations. It owns ScheduleRequest
// construction and submission; it never owns article data.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"feedsync/internal/observability/metrics"
	"feedsync/internal/usecase/ingest"
	syncUC "feedsync/internal/usecase/sync"
)

// Host is the OS background task system. Submit registers a request; the
// host later invokes run with a context it cancels when the granted time
// budget expires.
type Host interface {
	Submit(req Request, run func(ctx context.Context)) error
}

// Syncer is the coordinator surface the adapter drives.
type Syncer interface {
	BackgroundSync(ctx context.Context) syncUC.Outcome
}

// Config holds scheduling policy parameters.
type Config struct {
	// BaseInterval is the normal delay until the next wake-up.
	BaseInterval time.Duration

	// RecentActivityWindow is how long after foreground use the adapter
	// backs off. A recently used device gets a LONGER delay so background
	// work does not compete with the foreground.
	RecentActivityWindow time.Duration

	// PendingShortInterval replaces BaseInterval when pending work exceeds
	// PendingThreshold.
	PendingShortInterval time.Duration
	PendingThreshold     int

	// MaintenanceAfter is the staleness bound: when no sync has succeeded
	// for this long, the next request drops any power requirement so the
	// host is maximally likely to grant the slot.
	MaintenanceAfter time.Duration

	// BatchWindow is the wall-clock ceiling applied to a background fetch
	// run inside the host's budget.
	BatchWindow time.Duration

	// AllowCellular mirrors the user preference onto schedule requests.
	AllowCellular bool

	// RequirePower is the default charging constraint on sync slots.
	RequirePower bool
}

// DefaultConfig returns production scheduling policy.
func DefaultConfig() Config {
	return Config{
		BaseInterval:         15 * time.Minute,
		RecentActivityWindow: 30 * time.Minute,
		PendingShortInterval: 5 * time.Minute,
		PendingThreshold:     5,
		MaintenanceAfter:     24 * time.Hour,
		BatchWindow:          10 * time.Second,
		AllowCellular:        false,
		RequirePower:         true,
	}
}

// Adapter translates host wake-ups into coordinator runs and recomputes the
// next schedule request after every run regardless of outcome.
type Adapter struct {
	host   Host
	syncer Syncer
	cfg    Config

	mu             sync.Mutex
	state          TaskState
	lastForeground time.Time
	lastSuccess    time.Time
	pendingWork    int

	now    func() time.Time
	logger *slog.Logger
}

// NewAdapter creates a scheduler adapter in the Unscheduled state.
func NewAdapter(host Host, syncer Syncer, cfg Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		host:   host,
		syncer: syncer,
		cfg:    cfg,
		state:  StateUnscheduled,
		now:    time.Now,
		logger: logger,
	}
}

// ScheduleFetch submits the next opportunistic fetch request. Submission
// failures (unsupported, denied, over quota) are logged and absorbed; the
// system stays functional without background execution.
func (a *Adapter) ScheduleFetch() {
	a.schedule(TaskFetch)
}

// ScheduleSync submits the next maintenance sync request, same failure
// policy as ScheduleFetch.
func (a *Adapter) ScheduleSync() {
	a.schedule(TaskSync)
}

func (a *Adapter) schedule(kind TaskKind) {
	req := a.NextRequest(kind)
	if err := a.host.Submit(req, func(ctx context.Context) { a.runTask(ctx, kind) }); err != nil {
		metrics.RecordScheduleSubmission(string(kind), "rejected")
		a.logger.Warn("background task submission rejected",
			slog.String("kind", string(kind)),
			slog.Any("error", err))
		return
	}

	a.mu.Lock()
	a.state = StateScheduled
	a.mu.Unlock()

	metrics.RecordScheduleSubmission(string(kind), "accepted")
	a.logger.Info("background task scheduled",
		slog.String("kind", string(kind)),
		slog.Time("earliest_begin", req.EarliestBegin),
		slog.Bool("requires_power", req.RequiresPower),
		slog.Bool("allows_cellular", req.AllowsCellular))
}

// runTask executes one granted background window. The host cancels ctx on
// expiry; cancellation propagates through the coordinator into per-item
// timeouts so every claim is released before the window closes. Completion
// is reported promptly either way, and the next request is always submitted
// by the coordinator's reschedule step.
func (a *Adapter) runTask(ctx context.Context, kind TaskKind) {
	a.mu.Lock()
	a.state = StateRunning
	a.mu.Unlock()

	if kind == TaskFetch && a.cfg.BatchWindow > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.BatchWindow)
		defer cancel()
	}

	outcome := a.syncer.BackgroundSync(ctx)

	expired := ctx.Err() != nil
	terminal := StateCompleted
	if expired {
		terminal = StateExpired
	}

	a.mu.Lock()
	a.state = terminal
	a.mu.Unlock()

	metrics.RecordBackgroundTask(string(terminal))
	a.logger.Info("background task finished",
		slog.String("kind", string(kind)),
		slog.String("state", string(terminal)),
		slog.String("outcome", string(outcome)))
}

// RescheduleAfter implements the coordinator's Rescheduler hook: it records
// the run result and submits the next request. It runs after every outcome,
// including timeouts and failures.
func (a *Adapter) RescheduleAfter(outcome syncUC.Outcome, counts ingest.Counts) {
	a.mu.Lock()
	if outcome == syncUC.OutcomeSuccess {
		a.lastSuccess = a.now()
		a.pendingWork = 0
	}
	// Failed and skipped items are still out there.
	a.pendingWork += int(counts.Failure)
	a.mu.Unlock()

	a.ScheduleFetch()
}

// NoteForegroundActivity records that the user is actively using the app.
// Subsequent requests back off rather than compete with the foreground.
func (a *Adapter) NoteForegroundActivity() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastForeground = a.now()
}

// SetPendingWork updates the cached pending-work metric used by the
// scheduling policy.
func (a *Adapter) SetPendingWork(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pendingWork = n
}

// State returns the adapter's current lifecycle state.
func (a *Adapter) State() TaskState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// NextRequest computes the next schedule request from recent activity and
// pending work:
//
//   - recently foregrounded: delay doubles, so background slots land after
//     the user has likely put the device down
//   - pending work above threshold: short delay, power requirement relaxed
//   - no successful sync for MaintenanceAfter: power requirement dropped
//     entirely so the host is maximally likely to grant the slot
func (a *Adapter) NextRequest(kind TaskKind) Request {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	delay := a.cfg.BaseInterval
	requiresPower := a.cfg.RequirePower && kind == TaskSync

	if !a.lastForeground.IsZero() && now.Sub(a.lastForeground) < a.cfg.RecentActivityWindow {
		delay *= 2
	}
	if a.pendingWork >= a.cfg.PendingThreshold {
		delay = a.cfg.PendingShortInterval
		requiresPower = false
	}
	if a.lastSuccess.IsZero() || now.Sub(a.lastSuccess) >= a.cfg.MaintenanceAfter {
		requiresPower = false
	}

	return Request{
		Kind:            kind,
		EarliestBegin:   now.Add(delay),
		RequiresNetwork: true,
		RequiresPower:   requiresPower,
		AllowsCellular:  a.cfg.AllowCellular,
	}
}
