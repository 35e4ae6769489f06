package ingest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mymmrac/telego"
	"golang.org/x/sync/semaphore"

	"github.com/tinyland-inc/picorelay/pkg/logger"
)

const (
	SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

	maxBodyBytes      = 1 << 20
	defaultAckTimeout = 2 * time.Second
	defaultInFlight   = 16
	queuePerSlot      = 4
)

// StatusFunc returns the document served on GET /status.
type StatusFunc func() any

type WebhookConfig struct {
	Addr        string
	Path        string
	SecretToken string
	AckTimeout  time.Duration
	MaxInFlight int
	// MaxQueued caps updates waiting for a processing slot. Past it, updates
	// are acknowledged and dropped.
	MaxQueued int
}

// WebhookServer accepts pushed updates. Every request from the provider is
// acknowledged with 200 so the provider never re-sends; only a request with
// a wrong secret token is rejected.
type WebhookServer struct {
	baseAdapter
	cfg    WebhookConfig
	status StatusFunc

	server   *http.Server
	listener net.Listener
	sem      *semaphore.Weighted
	inFlight sync.WaitGroup
	pending  atomic.Int64
	queued   atomic.Int64
	dropped  atomic.Int64

	// procCtx outlives individual requests; it is cancelled only after the
	// drain deadline passes.
	procCtx    context.Context
	procCancel context.CancelFunc
}

func NewWebhookServer(cfg WebhookConfig, handler Handler, status StatusFunc) *WebhookServer {
	if cfg.Path == "" {
		cfg.Path = "/webhook"
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = defaultInFlight
	}
	if cfg.MaxQueued <= 0 {
		cfg.MaxQueued = cfg.MaxInFlight * queuePerSlot
	}
	return &WebhookServer{
		baseAdapter: baseAdapter{name: "webhook", handler: handler},
		cfg:         cfg,
		status:      status,
		sem:         semaphore.NewWeighted(int64(cfg.MaxInFlight)),
	}
}

// Handler exposes the HTTP routes, for tests and embedding.
func (s *WebhookServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+s.cfg.Path, s.handleUpdate)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	return withRequestID(withAccessLog(mux))
}

func (s *WebhookServer) Start(ctx context.Context) error {
	if s.IsRunning() {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("ingest: listen %s: %w", s.cfg.Addr, err)
	}

	s.procCtx, s.procCancel = context.WithCancel(context.WithoutCancel(ctx))
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.running.Store(true)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("ingest", "Webhook server stopped", map[string]any{"error": err.Error()})
		}
	}()

	logger.InfoCF("ingest", "Webhook server listening", map[string]any{
		"addr": ln.Addr().String(),
		"path": s.cfg.Path,
	})
	return nil
}

// Addr is the bound listen address, useful when Addr was ":0".
func (s *WebhookServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes the listener, then waits for in-flight updates until ctx
// expires. Updates still running at the deadline see their context cancelled.
func (s *WebhookServer) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	err := s.server.Shutdown(ctx)

	drained := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		logger.WarnCF("ingest", "Drain deadline reached", map[string]any{"pending": s.pending.Load()})
		if err == nil {
			err = ctx.Err()
		}
	}
	s.procCancel()

	logger.InfoC("ingest", "Webhook server stopped")
	return err
}

// InFlight reports updates accepted but not yet fully processed.
func (s *WebhookServer) InFlight() int64 {
	return s.pending.Load()
}

// Dropped reports updates acknowledged without processing because the wait
// queue was full.
func (s *WebhookServer) Dropped() int64 {
	return s.dropped.Load()
}

func (s *WebhookServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if s.cfg.SecretToken != "" {
		got := r.Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.SecretToken)) != 1 {
			logger.InfoCF("ingest", "Rejected webhook call with wrong secret", map[string]any{
				"request_id": RequestIDFromContext(r.Context()),
				"remote":     r.RemoteAddr,
			})
			writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false})
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		logger.DebugCF("ingest", "Failed to read webhook body", map[string]any{"error": err.Error()})
		writeAck(w)
		return
	}
	var update telego.Update
	if err := json.Unmarshal(body, &update); err != nil {
		logger.DebugCF("ingest", "Malformed update acknowledged", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"error":      err.Error(),
		})
		writeAck(w)
		return
	}

	done := s.dispatch(update)

	timer := time.NewTimer(s.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		logger.DebugCF("ingest", "Acknowledging before processing finished", map[string]any{
			"update_id": update.UpdateID,
		})
	case <-r.Context().Done():
	}
	writeAck(w)
}

// dispatch processes update in a tracked goroutine. At most MaxInFlight
// updates run at once and at most MaxQueued wait for a slot; anything beyond
// that is dropped and the returned channel is already closed.
func (s *WebhookServer) dispatch(update telego.Update) <-chan struct{} {
	done := make(chan struct{})
	ctx := s.procCtx
	if ctx == nil {
		ctx = context.Background()
	}

	acquired := s.sem.TryAcquire(1)
	if !acquired && s.queued.Add(1) > int64(s.cfg.MaxQueued) {
		s.queued.Add(-1)
		s.dropped.Add(1)
		logger.WarnCF("ingest", "Update dropped, processing queue full", map[string]any{
			"update_id":  update.UpdateID,
			"max_queued": s.cfg.MaxQueued,
		})
		close(done)
		return done
	}

	s.inFlight.Add(1)
	s.pending.Add(1)
	go func() {
		defer close(done)
		defer s.inFlight.Done()
		defer s.pending.Add(-1)

		if !acquired {
			err := s.sem.Acquire(ctx, 1)
			s.queued.Add(-1)
			if err != nil {
				logger.WarnCF("ingest", "Update dropped during shutdown", map[string]any{
					"update_id": update.UpdateID,
				})
				return
			}
		}
		defer s.sem.Release(1)

		s.handler.Handle(ctx, update)
	}()
	return done
}

func (s *WebhookServer) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "online"})
}

func (s *WebhookServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"mode":      "webhook",
		"in_flight": s.pending.Load(),
		"dropped":   s.dropped.Load(),
	})
}

func (s *WebhookServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "online"})
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func writeAck(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
