// Package server provides HTTP server wiring and lifecycle management.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sort"
	"time"

	"github.com/MahdiBaghbani/guestservice-go/internal/frameworks/service"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/config"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/deps"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/http/auth"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/logutil"
)

var ErrMissingSharedDeps = errors.New("shared deps not initialized: call deps.SetDeps() before server.New()")

// Server wraps the HTTP server and its mounted services.
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
	verifier   *auth.Verifier

	// mountedServices is in mount order; Shutdown closes them in reverse.
	mountedServices []service.Service
}

// New creates a server for the given services, keyed by registry name.
// Nil entries are skipped. Core services mount first, in CoreServices
// order, then the rest by name.
func New(cfg *config.Config, logger *slog.Logger, services map[string]service.Service) (*Server, error) {
	logger = logutil.NoopIfNil(logger)

	if deps.GetDeps() == nil {
		return nil, ErrMissingSharedDeps
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
	}

	switch cfg.Auth.Mode {
	case auth.ModeJWT:
		v, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		s.verifier = v
	case auth.ModeOff, "":
		logger.Warn("bearer authentication disabled, tokens are forwarded unverified")
	default:
		return nil, fmt.Errorf("auth: unknown mode %q", cfg.Auth.Mode)
	}

	s.handler = s.setupRoutes(mountOrder(services))

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.handler,
		ReadTimeout:  millis(cfg.Server.ReadTimeoutMS, 30*time.Second),
		WriteTimeout: millis(cfg.Server.WriteTimeoutMS, 30*time.Second),
		IdleTimeout:  millis(cfg.Server.IdleTimeoutMS, 60*time.Second),
	}

	return s, nil
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and blocks until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln. It returns nil after a clean Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting server",
		"addr", ln.Addr().String(),
		"auth_mode", s.cfg.Auth.Mode,
		"services", len(s.mountedServices),
	)
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server and all mounted services.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	httpErr := s.httpServer.Shutdown(ctx)

	for i := len(s.mountedServices) - 1; i >= 0; i-- {
		svc := s.mountedServices[i]
		prefix := svc.Prefix()
		if prefix == "" {
			prefix = "(root)"
		}
		if err := svc.Close(); err != nil {
			// Best effort: keep closing the others.
			s.logger.Warn("service close error", "service", prefix, "error", err)
		} else {
			s.logger.Debug("service closed", "service", prefix)
		}
	}

	return httpErr
}

func mountOrder(services map[string]service.Service) []service.Service {
	names := make([]string, 0, len(services))
	for name := range services {
		if !slices.Contains(service.CoreServices, name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	ordered := make([]service.Service, 0, len(services))
	for _, name := range append(slices.Clone(service.CoreServices), names...) {
		if svc := services[name]; svc != nil {
			ordered = append(ordered, svc)
		}
	}
	return ordered
}

func millis(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
