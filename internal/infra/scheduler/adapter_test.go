package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"feedsync/internal/usecase/ingest"
	syncUC "feedsync/internal/usecase/sync"
)

type fakeHost struct {
	mu       sync.Mutex
	requests []Request
	runs     []func(ctx context.Context)
	err      error
}

func (h *fakeHost) Submit(req Request, run func(ctx context.Context)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.requests = append(h.requests, req)
	h.runs = append(h.runs, run)
	return nil
}

func (h *fakeHost) submitted() []Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Request, len(h.requests))
	copy(out, h.requests)
	return out
}

type fakeSyncer struct {
	mu      sync.Mutex
	calls   int
	outcome syncUC.Outcome
	block   chan struct{}
}

func (s *fakeSyncer) BackgroundSync(ctx context.Context) syncUC.Outcome {
	s.mu.Lock()
	s.calls++
	block := s.block
	s.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}
	if ctx.Err() != nil {
		return syncUC.OutcomeTimedOut
	}
	return s.outcome
}

func (s *fakeSyncer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testConfig() Config {
	return Config{
		BaseInterval:         15 * time.Minute,
		RecentActivityWindow: 30 * time.Minute,
		PendingShortInterval: 5 * time.Minute,
		PendingThreshold:     5,
		MaintenanceAfter:     24 * time.Hour,
		BatchWindow:          10 * time.Second,
		RequirePower:         true,
	}
}

func newTestAdapter(host Host, syncer Syncer) (*Adapter, *time.Time) {
	a := NewAdapter(host, syncer, testConfig(), nil)
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }
	// A recent success keeps the maintenance fallback out of tests that are
	// not about it.
	a.lastSuccess = now.Add(-time.Hour)
	return a, &now
}

func TestAdapter_NextRequest(t *testing.T) {
	t.Run("baseline fetch request", func(t *testing.T) {
		a, now := newTestAdapter(&fakeHost{}, &fakeSyncer{})

		req := a.NextRequest(TaskFetch)

		if req.Kind != TaskFetch {
			t.Errorf("Kind = %v", req.Kind)
		}
		if !req.RequiresNetwork {
			t.Error("fetch must require network")
		}
		if req.RequiresPower {
			t.Error("fetch must not require power by default")
		}
		if want := now.Add(15 * time.Minute); !req.EarliestBegin.Equal(want) {
			t.Errorf("EarliestBegin = %v, want %v", req.EarliestBegin, want)
		}
	})

	t.Run("sync requests carry the power constraint", func(t *testing.T) {
		a, _ := newTestAdapter(&fakeHost{}, &fakeSyncer{})

		if req := a.NextRequest(TaskSync); !req.RequiresPower {
			t.Error("maintenance sync should require power")
		}
	})

	t.Run("recent foreground activity doubles the delay", func(t *testing.T) {
		a, now := newTestAdapter(&fakeHost{}, &fakeSyncer{})
		a.lastForeground = now.Add(-10 * time.Minute)

		req := a.NextRequest(TaskFetch)

		if want := now.Add(30 * time.Minute); !req.EarliestBegin.Equal(want) {
			t.Errorf("EarliestBegin = %v, want %v", req.EarliestBegin, want)
		}
	})

	t.Run("stale foreground activity does not back off", func(t *testing.T) {
		a, now := newTestAdapter(&fakeHost{}, &fakeSyncer{})
		a.lastForeground = now.Add(-2 * time.Hour)

		req := a.NextRequest(TaskFetch)

		if want := now.Add(15 * time.Minute); !req.EarliestBegin.Equal(want) {
			t.Errorf("EarliestBegin = %v, want %v", req.EarliestBegin, want)
		}
	})

	t.Run("pending backlog shortens the delay and relaxes power", func(t *testing.T) {
		a, now := newTestAdapter(&fakeHost{}, &fakeSyncer{})
		a.pendingWork = 7

		req := a.NextRequest(TaskSync)

		if want := now.Add(5 * time.Minute); !req.EarliestBegin.Equal(want) {
			t.Errorf("EarliestBegin = %v, want %v", req.EarliestBegin, want)
		}
		if req.RequiresPower {
			t.Error("a backlog should relax the power constraint")
		}
	})

	t.Run("backlog overrides the foreground backoff", func(t *testing.T) {
		a, now := newTestAdapter(&fakeHost{}, &fakeSyncer{})
		a.lastForeground = now.Add(-5 * time.Minute)
		a.pendingWork = 7

		req := a.NextRequest(TaskFetch)

		if want := now.Add(5 * time.Minute); !req.EarliestBegin.Equal(want) {
			t.Errorf("EarliestBegin = %v, want %v", req.EarliestBegin, want)
		}
	})

	t.Run("a day without success drops the power constraint", func(t *testing.T) {
		a, now := newTestAdapter(&fakeHost{}, &fakeSyncer{})
		a.lastSuccess = now.Add(-25 * time.Hour)

		if req := a.NextRequest(TaskSync); req.RequiresPower {
			t.Error("stale sync state should drop the power constraint")
		}
	})

	t.Run("no success ever drops the power constraint", func(t *testing.T) {
		a, _ := newTestAdapter(&fakeHost{}, &fakeSyncer{})
		a.lastSuccess = time.Time{}

		if req := a.NextRequest(TaskSync); req.RequiresPower {
			t.Error("first run should not demand power")
		}
	})

	t.Run("cellular preference is mirrored", func(t *testing.T) {
		cfg := testConfig()
		cfg.AllowCellular = true
		a := NewAdapter(&fakeHost{}, &fakeSyncer{}, cfg, nil)

		if req := a.NextRequest(TaskFetch); !req.AllowsCellular {
			t.Error("expected cellular preference on the request")
		}
	})
}

func TestAdapter_Schedule(t *testing.T) {
	t.Run("accepted submission marks the task scheduled", func(t *testing.T) {
		host := &fakeHost{}
		a, _ := newTestAdapter(host, &fakeSyncer{})

		a.ScheduleFetch()

		if a.State() != StateScheduled {
			t.Fatalf("state = %v, want scheduled", a.State())
		}
		if reqs := host.submitted(); len(reqs) != 1 || reqs[0].Kind != TaskFetch {
			t.Fatalf("submitted = %v", reqs)
		}
	})

	t.Run("rejected submission is absorbed", func(t *testing.T) {
		host := &fakeHost{err: errors.New("task quota exceeded")}
		a, _ := newTestAdapter(host, &fakeSyncer{})

		a.ScheduleFetch()

		if a.State() != StateUnscheduled {
			t.Fatalf("state = %v, want unscheduled after rejection", a.State())
		}
	})
}

func TestAdapter_RunTask(t *testing.T) {
	t.Run("completed window", func(t *testing.T) {
		syncer := &fakeSyncer{outcome: syncUC.OutcomeSuccess}
		a, _ := newTestAdapter(&fakeHost{}, syncer)

		a.runTask(context.Background(), TaskFetch)

		if a.State() != StateCompleted {
			t.Fatalf("state = %v, want completed", a.State())
		}
		if syncer.callCount() != 1 {
			t.Fatalf("expected 1 sync, got %d", syncer.callCount())
		}
	})

	t.Run("expired window", func(t *testing.T) {
		syncer := &fakeSyncer{block: make(chan struct{})}
		a, _ := newTestAdapter(&fakeHost{}, syncer)
		a.cfg.BatchWindow = 20 * time.Millisecond

		done := make(chan struct{})
		go func() {
			a.runTask(context.Background(), TaskFetch)
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("runTask did not honor the batch window")
		}
		if a.State() != StateExpired {
			t.Fatalf("state = %v, want expired", a.State())
		}
	})

	t.Run("cancelled host budget expires the task", func(t *testing.T) {
		syncer := &fakeSyncer{outcome: syncUC.OutcomeSuccess}
		a, _ := newTestAdapter(&fakeHost{}, syncer)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		a.runTask(ctx, TaskSync)

		if a.State() != StateExpired {
			t.Fatalf("state = %v, want expired", a.State())
		}
	})
}

func TestAdapter_RescheduleAfter(t *testing.T) {
	t.Run("success resets pending work and resubmits", func(t *testing.T) {
		host := &fakeHost{}
		a, _ := newTestAdapter(host, &fakeSyncer{})
		a.pendingWork = 9

		a.RescheduleAfter(syncUC.OutcomeSuccess, ingest.Counts{Success: 3})

		a.mu.Lock()
		pending := a.pendingWork
		a.mu.Unlock()
		if pending != 0 {
			t.Fatalf("pendingWork = %d, want 0 after success", pending)
		}
		if len(host.submitted()) != 1 {
			t.Fatal("expected a resubmitted fetch request")
		}
	})

	t.Run("failures accumulate pending work", func(t *testing.T) {
		a, _ := newTestAdapter(&fakeHost{}, &fakeSyncer{})

		a.RescheduleAfter(syncUC.OutcomeFailed, ingest.Counts{Failure: 3})
		a.RescheduleAfter(syncUC.OutcomeTimedOut, ingest.Counts{Failure: 4})

		// Past the threshold: the next request uses the short interval.
		req := a.NextRequest(TaskFetch)
		if want := a.now().Add(5 * time.Minute); !req.EarliestBegin.Equal(want) {
			t.Fatalf("EarliestBegin = %v, want short interval %v", req.EarliestBegin, want)
		}
	})

	t.Run("every outcome resubmits", func(t *testing.T) {
		host := &fakeHost{}
		a, _ := newTestAdapter(host, &fakeSyncer{})

		for _, outcome := range []syncUC.Outcome{
			syncUC.OutcomeSuccess, syncUC.OutcomeSkipped, syncUC.OutcomeTimedOut, syncUC.OutcomeFailed,
		} {
			a.RescheduleAfter(outcome, ingest.Counts{})
		}

		if got := len(host.submitted()); got != 4 {
			t.Fatalf("expected 4 submissions, got %d", got)
		}
	})
}

func TestAdapter_NoteForegroundActivity(t *testing.T) {
	a, now := newTestAdapter(&fakeHost{}, &fakeSyncer{})

	a.NoteForegroundActivity()

	req := a.NextRequest(TaskFetch)
	if want := now.Add(30 * time.Minute); !req.EarliestBegin.Equal(want) {
		t.Fatalf("EarliestBegin = %v, want doubled delay %v", req.EarliestBegin, want)
	}
}
