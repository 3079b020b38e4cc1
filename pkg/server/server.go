// Package server provides the HTTP listener for the OAuth callback and the
// local link management API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/SpectacleRBX/SpectacleBot/internal/version"
	"github.com/SpectacleRBX/SpectacleBot/pkg/config"
	"github.com/SpectacleRBX/SpectacleBot/pkg/link"
)

// Service is the HTTP server service.
type Service interface {
	// Start initializes and starts the HTTP server.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the server.
	Stop() error
	// Router returns the configured handler, for tests.
	Router() http.Handler
}

// limiterCleanupInterval is how often idle rate limiter buckets are dropped.
const limiterCleanupInterval = 10 * time.Minute

// service implements the Service interface.
type service struct {
	log         logrus.FieldLogger
	cfg         config.ServerConfig
	links       *link.Service
	limiter     *RateLimiter
	router      chi.Router
	httpServer  *http.Server
	cleanupStop chan struct{}
	mu          sync.Mutex
}

// NewService creates a new HTTP server service.
func NewService(log logrus.FieldLogger, cfg config.ServerConfig, links *link.Service) Service {
	s := &service{
		log:     log.WithField("component", "server"),
		cfg:     cfg,
		links:   links,
		limiter: NewRateLimiter(log, 60),
	}

	s.router = s.buildRouter()

	return s
}

// Router returns the configured handler, for tests.
func (s *service) Router() http.Handler {
	return s.router
}

// buildRouter assembles the route table.
func (s *service) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.With(s.limiter.Handler).Get("/callback", s.handleCallback)

	if s.cfg.APIEnabled {
		r.Route("/api", func(r chi.Router) {
			r.Post("/link", s.handleBeginLink)
			r.Get("/link/{requester_id}", s.handleGetLink)
			r.Delete("/link/{requester_id}", s.handleDeleteLink)
		})
	}

	return r
}

// Start initializes and starts the HTTP server.
func (s *service) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return errors.New("server already started")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.cleanupStop = make(chan struct{})
	s.limiter.StartCleanup(limiterCleanupInterval, s.cleanupStop)

	go func() {
		s.log.WithFields(logrus.Fields{
			"address":     addr,
			"version":     version.Version,
			"api_enabled": s.cfg.APIEnabled,
		}).Info("Starting HTTP server")

		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}

	s.log.Info("Stopping HTTP server")

	close(s.cleanupStop)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to gracefully shutdown server: %w", err)
	}

	s.httpServer = nil

	return nil
}

// handleHealth returns a simple health check response.
func (s *service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": version.Version,
	})
}

// handleCallback completes a linking attempt from the provider redirect.
// User-facing responses stay deliberately vague about why a state was
// rejected.
func (s *service) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	result, err := s.links.HandleCallback(r.Context(), code, state)
	if err != nil {
		switch {
		case errors.Is(err, link.ErrMissingParameters):
			http.Error(w, "Missing code or state parameter.", http.StatusBadRequest)
		case errors.Is(err, link.ErrSessionInvalid):
			http.Error(w, "Invalid or expired verification session.", http.StatusBadRequest)
		case errors.Is(err, link.ErrTokenExchange):
			s.log.WithError(err).Error("Callback processing failed")

			http.Error(w, "Verification failed: could not exchange the authorization code. Please try again.", http.StatusInternalServerError)
		case errors.Is(err, link.ErrProfileFetch):
			s.log.WithError(err).Error("Callback processing failed")

			http.Error(w, "Verification failed: could not fetch the Roblox profile. Please try again.", http.StatusInternalServerError)
		default:
			s.log.WithError(err).Error("Callback processing failed")

			http.Error(w, "Verification failed. Please try again.", http.StatusInternalServerError)
		}

		return
	}

	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// beginLinkRequest is the POST /api/link payload.
type beginLinkRequest struct {
	RequesterID int64 `json:"requester_id"`
	GuildID     int64 `json:"guild_id"`
}

// handleBeginLink starts a linking attempt and returns the authorization URL.
func (s *service) handleBeginLink(w http.ResponseWriter, r *http.Request) {
	var req beginLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RequesterID == 0 {
		s.writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	result, err := s.links.Begin(r.Context(), req.RequesterID, req.GuildID)
	if err != nil {
		if errors.Is(err, link.ErrAlreadyLinked) {
			existing, statusErr := s.links.Status(r.Context(), req.RequesterID)
			if statusErr == nil {
				s.writeJSON(w, http.StatusConflict, map[string]any{
					"error":   "already_linked",
					"linkage": existing,
				})

				return
			}
		}

		s.log.WithError(err).Error("Failed to begin linking attempt")

		s.writeError(w, http.StatusInternalServerError, "failed to start verification")

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"authorization_url": result.AuthorizationURL,
		"state":             result.State,
	})
}

// handleGetLink returns the linkage for a requester.
func (s *service) handleGetLink(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := s.requesterID(w, r)
	if !ok {
		return
	}

	linked, err := s.links.Status(r.Context(), requesterID)
	if err != nil {
		if errors.Is(err, link.ErrNotLinked) {
			s.writeError(w, http.StatusNotFound, "not linked")

			return
		}

		s.log.WithError(err).Error("Failed to fetch linkage")

		s.writeError(w, http.StatusInternalServerError, "failed to fetch linkage")

		return
	}

	s.writeJSON(w, http.StatusOK, linked)
}

// handleDeleteLink removes the linkage for a requester.
func (s *service) handleDeleteLink(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := s.requesterID(w, r)
	if !ok {
		return
	}

	if err := s.links.Unlink(r.Context(), requesterID); err != nil {
		if errors.Is(err, link.ErrNotLinked) {
			s.writeError(w, http.StatusNotFound, "not linked")

			return
		}

		s.log.WithError(err).Error("Failed to delete linkage")

		s.writeError(w, http.StatusInternalServerError, "failed to delete linkage")

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// requesterID parses the requester_id URL parameter, writing a 400 on
// failure.
func (s *service) requesterID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "requester_id")

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid requester id")

		return 0, false
	}

	return id, true
}

func (s *service) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.WithError(err).Error("Failed to write response")
	}
}

func (s *service) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Compile-time interface compliance check.
var _ Service = (*service)(nil)
