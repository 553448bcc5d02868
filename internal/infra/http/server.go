package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"gpt-subscription-orchestrator/internal/config"
	"gpt-subscription-orchestrator/internal/domain"
	"gpt-subscription-orchestrator/internal/infra/logging"
	"gpt-subscription-orchestrator/internal/usecase"
)

// Server is the operator-facing surface: health, metrics, manual round
// triggering and key import. The public product API lives elsewhere.
type Server struct {
	cfg    *config.Config
	orch   *usecase.OrchestratorUseCase
	pool   *usecase.KeyPoolUseCase
	ledger *usecase.LedgerUseCase
	log    *zerolog.Logger
	server *http.Server
}

func NewServer(cfg *config.Config, orch *usecase.OrchestratorUseCase, pool *usecase.KeyPoolUseCase, ledger *usecase.LedgerUseCase, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "OpsServer").Logger()
	return &Server{cfg: cfg, orch: orch, pool: pool, ledger: ledger, log: &l}
}

func (s *Server) Start() error {
	r := chi.NewRouter()
	r.Use(s.traceID, s.requestLog)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.guard)
		r.Post("/v1/subscriptions/{id}/activate", s.handleActivate)
		r.Get("/v1/subscriptions/{id}", s.handleGetSubscription)
		r.Post("/v1/signups", s.handleSignup)
		r.Post("/v1/keys/import", s.handleKeyImport)
	})

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Ops.Port),
		Handler: r,
	}
	s.log.Info().Int("port", s.cfg.Ops.Port).Msg("ops server listening")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// guard requires the configured ops token on mutating endpoints.
func (s *Server) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Ops.Token == "" || r.Header.Get("X-Ops-Token") != s.cfg.Ops.Token {
			writeErr(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) traceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithTraceID(r.Context(), uuid.NewString())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &respWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		logging.With(r.Context(), s.log).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.status).
			Dur("duration", time.Since(start)).
			Msg("http_request")
	})
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.orch.ManualActivate(r.Context(), id, time.Now())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"result": "activated"})
	case errors.Is(err, domain.ErrNotFound):
		writeErr(w, http.StatusNotFound, "subscription not found")
	case errors.Is(err, domain.ErrSubscriptionClosed):
		writeErr(w, http.StatusConflict, "subscription is not active")
	case errors.Is(err, domain.ErrLockNotAcquired):
		writeErr(w, http.StatusConflict, "round already in flight")
	default:
		writeErr(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sub, err := s.ledger.FindByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type signupRequest struct {
	Email         string          `json:"email"`
	PlanRounds    int             `json:"plan_rounds"`
	Credential    json.RawMessage `json:"credential"`
	SessionExpiry time.Time       `json:"session_expiry"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sub, err := s.orch.Signup(r.Context(), req.Email, req.PlanRounds, string(req.Credential), req.SessionExpiry, time.Now())
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, sub)
	case errors.Is(err, domain.ErrInvalidArgument):
		writeErr(w, http.StatusBadRequest, "invalid signup request")
	case errors.Is(err, domain.ErrNoKeyAvailable):
		writeErr(w, http.StatusConflict, "no activation key available")
	default:
		writeErr(w, http.StatusBadGateway, err.Error())
	}
}

type keyImportRequest struct {
	Codes []string `json:"codes"`
}

func (s *Server) handleKeyImport(w http.ResponseWriter, r *http.Request) {
	var req keyImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	added, skipped, err := s.pool.ImportCodes(r.Context(), req.Codes, time.Now())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"added": added, "skipped": skipped})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
