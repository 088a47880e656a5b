// Package worker provides the daemon's local HTTP surface: health probes,
// sync status, Prometheus metrics, and the manual-refresh trigger.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	syncUC "feedsync/internal/usecase/sync"
)

// ManualTrigger starts a user-triggered sync. Started is false when the
// throttle window rejected the request.
type ManualTrigger interface {
	ManualSync(ctx context.Context) bool
}

// SessionSource exposes the coordinator's observable state.
type SessionSource interface {
	State() syncUC.State
	LastSession() *syncUC.Session
}

// ActivityHook records foreground activity for the scheduling policy.
type ActivityHook interface {
	NoteForegroundActivity()
}

// StatusServer serves health, status and metrics endpoints and accepts
// manual sync triggers.
type StatusServer struct {
	addr     string
	logger   *slog.Logger
	isReady  atomic.Bool
	trigger  ManualTrigger
	sessions SessionSource
	activity ActivityHook
	server   *http.Server
}

// NewStatusServer creates a status server; call Start to serve.
func NewStatusServer(addr string, trigger ManualTrigger, sessions SessionSource, activity ActivityHook, logger *slog.Logger) *StatusServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusServer{
		addr:     addr,
		logger:   logger,
		trigger:  trigger,
		sessions: sessions,
		activity: activity,
	}
}

// SetReady flips the readiness probe.
func (s *StatusServer) SetReady(ready bool) {
	s.isReady.Store(ready)
}

// Start serves until ctx is cancelled, then shuts down gracefully with a
// 5-second drain window. Returns http.ErrServerClosed on clean shutdown.
func (s *StatusServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleLiveness)
	mux.HandleFunc("GET /health/ready", s.handleReadiness)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /sync", s.handleManualSync)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("status server shutdown failed", slog.Any("error", err))
		}
	}()

	s.logger.Info("status server listening", slog.String("addr", s.addr))
	return s.server.ListenAndServe()
}

func (s *StatusServer) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *StatusServer) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	if !s.isReady.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusResponse is the JSON shape of GET /status.
type statusResponse struct {
	State       string           `json:"state"`
	LastSession *sessionResponse `json:"last_session,omitempty"`
}

type sessionResponse struct {
	Trigger      string    `json:"trigger"`
	StartedAt    time.Time `json:"started_at"`
	NetworkClass string    `json:"network_class"`
	Outcome      string    `json:"outcome"`
	Success      int64     `json:"success"`
	Failure      int64     `json:"failure"`
	Skipped      int64     `json:"skipped"`
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{State: s.sessions.State().String()}
	if last := s.sessions.LastSession(); last != nil {
		resp.LastSession = &sessionResponse{
			Trigger:      string(last.Trigger),
			StartedAt:    last.StartedAt,
			NetworkClass: string(last.NetworkClass),
			Outcome:      string(last.Outcome),
			Success:      last.Counts.Success,
			Failure:      last.Counts.Failure,
			Skipped:      last.Counts.Skipped,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleManualSync runs a user-triggered sync inline and reports whether it
// started. The throttle window makes repeated refresh spamming cheap: inside
// the window no network access happens at all.
func (s *StatusServer) handleManualSync(w http.ResponseWriter, r *http.Request) {
	if s.activity != nil {
		s.activity.NoteForegroundActivity()
	}
	started := s.trigger.ManualSync(r.Context())
	status := http.StatusOK
	if !started {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, map[string]bool{"started": started})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
