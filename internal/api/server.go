// Package api exposes the HTTP interface: the inbound SMS webhook plus
// health, readiness, and metrics endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/civictext/permitbot/internal/ingest"
	"github.com/civictext/permitbot/internal/metrics"
)

// Intake accepts one inbound message. *ingest.Intake satisfies it.
type Intake interface {
	Handle(ctx context.Context, from, body string) (ingest.Result, error)
}

// ReadyChecker reports whether a downstream dependency is usable.
// *portal.Preflight, *portal.Browser, and the pubsub queue satisfy it.
type ReadyChecker interface {
	Ready() bool
}

type multiReady struct {
	checks []ReadyChecker
}

func (m multiReady) Ready() bool {
	for _, check := range m.checks {
		if check != nil && !check.Ready() {
			return false
		}
	}
	return true
}

// MultiReady composes dependency checkers; the result is ready only
// when every non-nil checker is. Loss of any one of them (portal,
// browser, queue receiver) must turn readiness off so the load
// balancer stops routing inbound commands at a pipeline that cannot
// finish them.
func MultiReady(checks ...ReadyChecker) ReadyChecker {
	return multiReady{checks: checks}
}

// Config controls Server behavior.
type Config struct {
	// AuthEnabled gates the webhook behind an API key header.
	AuthEnabled bool
	APIKey      string

	// RequestTimeout bounds every handled request.
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the intake pipeline.
type Server struct {
	router chi.Router
	intake Intake
	ready  ReadyChecker
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(intake Intake, ready ReadyChecker, cfg Config, logger *zap.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		intake: intake,
		ready:  ready,
		cfg:    cfg,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Post("/sms/inbound", s.inboundSms)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil && !s.ready.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "dependency not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type inboundSmsRequest struct {
	From string `json:"from"`
	Body string `json:"body"`
}

// inboundSms is the SMS provider webhook. It replies 202 once the
// message is parsed and queued; the answer arrives over SMS later.
func (s *Server) inboundSms(w http.ResponseWriter, r *http.Request) {
	var req inboundSmsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.From) == "" {
		writeError(w, http.StatusBadRequest, "missing sender")
		return
	}

	res, err := s.intake.Handle(r.Context(), req.From, req.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to accept message")
		return
	}
	if res.RateLimited {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"status":  "rate_limited",
			"command": string(res.Command),
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":  res.JobID,
		"command": string(res.Command),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
