// Package sync implements the sync coordinator: the single-flight owner of
// "a sync is in progress". It decides whether a run may proceed, performs the
// seen/unseen exchange with the remote endpoint, hands unseen identifiers to
// the ingestion pipeline, and always reschedules and releases the lock no
// matter how the run ends.
package sync

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"feedsync/internal/infra/netgate"
	"feedsync/internal/observability/metrics"
	"feedsync/internal/observability/tracing"
	"feedsync/internal/usecase/ingest"
	"feedsync/internal/usecase/notify"

	"feedsync/internal/domain/entity"
	"feedsync/internal/repository"
)

// Trigger identifies what started a sync run.
type Trigger string

const (
	TriggerManual     Trigger = "manual"
	TriggerBackground Trigger = "background"
)

// State is the coordinator's observable position in its run.
type State int32

const (
	StateIdle State = iota
	StateAcquiring
	StateExchanging
	StateIngesting
)

func (s State) String() string {
	switch s {
	case StateAcquiring:
		return "acquiring"
	case StateExchanging:
		return "exchanging"
	case StateIngesting:
		return "ingesting"
	default:
		return "idle"
	}
}

// Outcome is the terminal result of one sync run.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeTimedOut Outcome = "timed_out"
	OutcomeFailed   Outcome = "failed"
)

// Session records one run for the status endpoint and the scheduler.
type Session struct {
	Trigger      Trigger
	StartedAt    time.Time
	NetworkClass netgate.Class
	Outcome      Outcome
	Counts       ingest.Counts
}

// Exchanger trades seen identifiers for unseen ones with the remote
// endpoint.
type Exchanger interface {
	ExchangeSeen(ctx context.Context, seen []string) ([]string, error)
}

// Processor ingests a batch of unseen identifiers.
type Processor interface {
	Process(ctx context.Context, ids []string) ingest.Counts
}

// Rescheduler recomputes and submits the next schedule request after every
// run, regardless of outcome.
type Rescheduler interface {
	RescheduleAfter(outcome Outcome, counts ingest.Counts)
}

// Config holds coordinator tuning.
type Config struct {
	// ManualThrottle is the minimum spacing between manual syncs.
	// Zero means 30 seconds.
	ManualThrottle time.Duration

	// ExchangeTimeout is the wall-clock ceiling on the server exchange.
	// Zero means 60 seconds.
	ExchangeTimeout time.Duration

	// SeenLookback is how far back seen identifiers are collected.
	// Zero means 24 hours.
	SeenLookback time.Duration

	// AllowCellular is the user preference for syncing over cellular.
	AllowCellular bool
}

func (c *Config) applyDefaults() {
	if c.ManualThrottle <= 0 {
		c.ManualThrottle = 30 * time.Second
	}
	if c.ExchangeTimeout <= 0 {
		c.ExchangeTimeout = 60 * time.Second
	}
	if c.SeenLookback <= 0 {
		c.SeenLookback = 24 * time.Hour
	}
}

// Coordinator owns the single-flight lock and drives one sync run at a
// time. All trigger entry points are safe for unbounded concurrent callers;
// losers of the lock race observe Skipped, they never queue.
type Coordinator struct {
	store    repository.ArticleStore
	exchange Exchanger
	gate     netgate.Classifier
	pipeline Processor
	events   notify.Service
	resched  Rescheduler

	cfg Config

	running       atomic.Bool
	state         atomic.Int32
	manualLimiter *rate.Limiter

	sessionMu   sync.Mutex
	lastSession *Session

	now    func() time.Time
	logger *slog.Logger
}

// NewCoordinator creates a coordinator. resched may be nil when no scheduler
// adapter is attached (tests, one-shot runs).
func NewCoordinator(
	store repository.ArticleStore,
	exchange Exchanger,
	gate netgate.Classifier,
	pipeline Processor,
	events notify.Service,
	resched Rescheduler,
	cfg Config,
	logger *slog.Logger,
) *Coordinator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = notify.NopService()
	}
	return &Coordinator{
		store:         store,
		exchange:      exchange,
		gate:          gate,
		pipeline:      pipeline,
		events:        events,
		resched:       resched,
		cfg:           cfg,
		manualLimiter: rate.NewLimiter(rate.Every(cfg.ManualThrottle), 1),
		now:           time.Now,
		logger:        logger,
	}
}

// SetRescheduler attaches the scheduler hook after construction. The
// coordinator and scheduler adapter reference each other, so one side has to
// be wired late; call this before any sync runs.
func (c *Coordinator) SetRescheduler(r Rescheduler) {
	c.resched = r
}

// ManualSync runs a user-triggered sync. It is throttled to one invocation
// per throttle window, measured from the previous manual invocation only;
// inside the window it returns false immediately without touching the
// network. Outside the window it behaves like any other trigger and may
// still end up Skipped on lock contention or gate denial.
func (c *Coordinator) ManualSync(ctx context.Context) bool {
	if !c.manualLimiter.Allow() {
		metrics.RecordManualSyncThrottled()
		c.logger.Info("manual sync throttled")
		return false
	}
	c.run(ctx, TriggerManual)
	return true
}

// BackgroundSync runs a scheduler-triggered sync. It bypasses the manual
// throttle but not the single-flight lock.
func (c *Coordinator) BackgroundSync(ctx context.Context) Outcome {
	return c.run(ctx, TriggerBackground)
}

// State returns the coordinator's current position.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// LastSession returns a copy of the most recent session, or nil before the
// first run.
func (c *Coordinator) LastSession() *Session {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if c.lastSession == nil {
		return nil
	}
	s := *c.lastSession
	return &s
}

// run executes one sync session. Deferred steps are ordered so that the
// schedule recomputation always happens before the single-flight lock is
// released: a failed or timed-out run must never leave the system unable to
// sync again.
func (c *Coordinator) run(ctx context.Context, trigger Trigger) Outcome {
	if !c.running.CompareAndSwap(false, true) {
		// The in-flight session owns the state; losers only report Skipped.
		c.logger.Info("sync already in flight, skipping", slog.String("trigger", string(trigger)))
		metrics.RecordSyncRun(string(trigger), string(OutcomeSkipped))
		return OutcomeSkipped
	}
	c.state.Store(int32(StateAcquiring))

	session := &Session{Trigger: trigger, StartedAt: c.now()}
	outcome := OutcomeFailed
	counts := ingest.Counts{}

	metrics.SetSyncInProgress(true)

	// LIFO: reschedule and record run before the lock is dropped.
	defer func() {
		c.running.Store(false)
		metrics.SetSyncInProgress(false)
	}()
	defer func() {
		c.state.Store(int32(StateIdle))
		session.Outcome = outcome
		session.Counts = counts
		c.recordSession(session)
		metrics.RecordSyncRun(string(trigger), string(outcome))
		if c.resched != nil {
			c.resched.RescheduleAfter(outcome, counts)
		}
	}()

	ctx, span := tracing.GetTracer().Start(ctx, "sync.session")
	defer span.End()

	class, err := c.gate.Classify(ctx)
	session.NetworkClass = class
	if err != nil {
		c.logger.Warn("connectivity check failed", slog.Any("error", err))
	}
	if !netgate.ShouldSync(class, c.cfg.AllowCellular) {
		c.logger.Info("network gate denied sync",
			slog.String("class", string(class)),
			slog.Bool("allow_cellular", c.cfg.AllowCellular))
		outcome = OutcomeSkipped
		return outcome
	}

	c.events.Publish(ctx, notify.Event{Kind: notify.EventSyncStarted})
	defer func() {
		c.events.Publish(ctx, notify.Event{Kind: notify.EventSyncStopped, Outcome: string(outcome)})
	}()

	c.state.Store(int32(StateExchanging))

	seen, err := c.store.FetchSeenIdentifiers(ctx, c.now().Add(-c.cfg.SeenLookback))
	if err != nil {
		c.logger.Error("collecting seen identifiers failed", slog.Any("error", err))
		outcome = OutcomeFailed
		return outcome
	}

	exCtx, cancel := context.WithTimeout(ctx, c.cfg.ExchangeTimeout)
	unseen, err := c.exchange.ExchangeSeen(exCtx, seen)
	cancel()
	if err != nil {
		if entity.IsTimeout(err) {
			c.logger.Warn("exchange timed out", slog.Duration("ceiling", c.cfg.ExchangeTimeout))
			outcome = OutcomeTimedOut
		} else {
			c.logger.Error("exchange failed", slog.Any("error", err))
			outcome = OutcomeFailed
		}
		return outcome
	}

	if len(unseen) == 0 {
		c.logger.Info("no unseen articles", slog.Int("seen", len(seen)))
		outcome = OutcomeSuccess
		return outcome
	}

	c.state.Store(int32(StateIngesting))
	counts = c.pipeline.Process(ctx, unseen)
	c.events.Publish(ctx, notify.Event{
		Kind:    notify.EventBatchProcessed,
		Success: counts.Success,
		Failure: counts.Failure,
		Skipped: counts.Skipped,
	})

	outcome = OutcomeSuccess
	return outcome
}

func (c *Coordinator) recordSession(s *Session) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	c.lastSession = s
}
