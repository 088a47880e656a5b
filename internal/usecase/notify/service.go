package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	workerSlotTimeout = 5 * time.Second
	deliveryTimeout   = 10 * time.Second
)

// Service dispatches events to all channels without blocking the publisher.
type Service interface {
	// Publish delivers event to every channel in the background. It returns
	// immediately; delivery failures are logged, never returned.
	Publish(ctx context.Context, event Event)

	// Shutdown waits for in-flight deliveries to finish or ctx to expire.
	Shutdown(ctx context.Context) error
}

type service struct {
	channels   []Channel
	workerPool chan struct{}
	wg         sync.WaitGroup
	logger     *slog.Logger

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// NewService creates an event service with a bounded delivery worker pool.
func NewService(channels []Channel, maxConcurrent int, logger *slog.Logger) Service {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	return &service{
		channels:       channels,
		workerPool:     make(chan struct{}, maxConcurrent),
		logger:         logger,
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
	}
}

// Publish fans the event out to every channel. A slow consumer can delay its
// own delivery but never the publisher; a full worker pool drops the
// delivery with a log line rather than queueing.
func (s *service) Publish(_ context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	for _, ch := range s.channels {
		channel := ch
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()

			select {
			case s.workerPool <- struct{}{}:
				defer func() { <-s.workerPool }()
			case <-time.After(workerSlotTimeout):
				s.logger.Warn("event delivery dropped, worker pool saturated",
					slog.String("channel", channel.Name()),
					slog.String("kind", string(event.Kind)))
				return
			case <-s.shutdownCtx.Done():
				return
			}

			deliverCtx, cancel := context.WithTimeout(s.shutdownCtx, deliveryTimeout)
			defer cancel()

			if err := channel.Notify(deliverCtx, event); err != nil {
				s.logger.Warn("event delivery failed",
					slog.String("channel", channel.Name()),
					slog.String("kind", string(event.Kind)),
					slog.Any("error", err))
			}
		}()
	}
}

// Shutdown stops accepting new deliveries and waits for in-flight ones.
func (s *service) Shutdown(ctx context.Context) error {
	s.shutdownCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notify shutdown timed out: %w", ctx.Err())
	}
}

// NopService returns a service with no channels, for tests and for running
// without any attached consumers.
func NopService() Service {
	return NewService(nil, 1, slog.Default())
}
