// Package api provides the HTTP API for the gaspass node.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	sponsorshipDomain "github.com/gaspass/gaspass/internal/sponsorship/domain"
	subscriptionDomain "github.com/gaspass/gaspass/internal/subscription/domain"
	"github.com/gaspass/gaspass/pkg/observability"
)

// Server is the HTTP API server.
type Server struct {
	mux           *http.ServeMux
	server        *http.Server
	logger        *slog.Logger
	subscriptions *SubscriptionHandler
	sponsorship   *SponsorshipHandler
	health        *observability.HealthRegistry
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "0.0.0.0:8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, subscriptions *SubscriptionHandler, sponsorship *SponsorshipHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	s := &Server{
		mux:           mux,
		logger:        logger,
		subscriptions: subscriptions,
		sponsorship:   sponsorship,
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// registerRoutes sets up the API routes.
func (s *Server) registerRoutes() {
	// Health check
	s.mux.HandleFunc("GET /health", s.handleHealth)

	// Subscription ledger
	s.mux.HandleFunc("POST /api/v1/subscriptions", s.subscriptions.Mint)
	s.mux.HandleFunc("GET /api/v1/subscriptions", s.subscriptions.ListByOwner)
	s.mux.HandleFunc("GET /api/v1/subscriptions/{subscriptionID}", s.subscriptions.Get)
	s.mux.HandleFunc("GET /api/v1/subscriptions/{subscriptionID}/active", s.subscriptions.IsActive)
	s.mux.HandleFunc("POST /api/v1/subscriptions/{subscriptionID}/topup", s.subscriptions.TopUp)
	s.mux.HandleFunc("POST /api/v1/subscriptions/{subscriptionID}/extend", s.subscriptions.ExtendWindow)
	s.mux.HandleFunc("PUT /api/v1/subscriptions/{subscriptionID}/sponsored", s.subscriptions.SetSponsored)
	s.mux.HandleFunc("POST /api/v1/subscriptions/{subscriptionID}/sponsored", s.subscriptions.AddSponsored)
	s.mux.HandleFunc("DELETE /api/v1/subscriptions/{subscriptionID}/sponsored/{address}", s.subscriptions.RemoveSponsored)
	s.mux.HandleFunc("DELETE /api/v1/subscriptions/{subscriptionID}", s.subscriptions.Burn)

	// Sponsorship (bundler-facing)
	s.mux.HandleFunc("POST /api/v1/sponsorship/preauthorize", s.sponsorship.PreAuthorize)
	s.mux.HandleFunc("POST /api/v1/sponsorship/settle", s.sponsorship.Settle)
}

// SetHealth attaches a health registry. When set, /health reports aggregate
// component status instead of a bare liveness response.
func (s *Server) SetHealth(health *observability.HealthRegistry) {
	s.health = health
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	health := s.health.GetOverallHealth(r.Context())
	status := http.StatusOK
	if health.Status == observability.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// Handler returns the root handler, including all registered routes.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info("starting API server",
		"addr", s.server.Addr,
	)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", "error", err)
		}
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}

// writeDomainError maps domain errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, subscriptionDomain.ErrNotFound),
		errors.Is(err, sponsorshipDomain.ErrReservationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, subscriptionDomain.ErrNotOwner),
		errors.Is(err, sponsorshipDomain.ErrNotSponsored):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, subscriptionDomain.ErrInsufficientBalance),
		errors.Is(err, sponsorshipDomain.ErrInsufficientAvailable):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, subscriptionDomain.ErrStillActive),
		errors.Is(err, subscriptionDomain.ErrNotActive),
		errors.Is(err, sponsorshipDomain.ErrDuplicateOperation),
		errors.Is(err, sponsorshipDomain.ErrAlreadyReleased),
		errors.Is(err, sponsorshipDomain.ErrAlreadyCommitted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, subscriptionDomain.ErrInvalidWindow),
		errors.Is(err, subscriptionDomain.ErrInvalidAmount),
		errors.Is(err, subscriptionDomain.ErrAddressNotSponsored),
		errors.Is(err, sponsorshipDomain.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
