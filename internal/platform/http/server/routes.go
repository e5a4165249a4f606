package server

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/MahdiBaghbani/guestservice-go/internal/components/api"
	"github.com/MahdiBaghbani/guestservice-go/internal/frameworks/service"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/http/auth"
	httpmw "github.com/MahdiBaghbani/guestservice-go/internal/platform/http/middleware"
)

// RouteGroup defines an endpoint group with its auth requirements.
type RouteGroup struct {
	Name         string
	PathPrefix   string
	RequiresAuth bool
}

// routeGroups is the single source of truth for gating decisions.
// Services punch holes in a group through Service.Unprotected().
var routeGroups = []RouteGroup{
	{Name: "health", PathPrefix: "/health", RequiresAuth: false},
	{Name: "api", PathPrefix: "/api", RequiresAuth: true},
}

// GetRouteGroups returns the route group definitions for testing.
func GetRouteGroups() []RouteGroup {
	return routeGroups
}

// IsAuthRequired reports whether path must carry a valid bearer token.
// Unknown paths require auth.
func IsAuthRequired(path string, mountedServices []service.Service) bool {
	for _, svc := range mountedServices {
		if svc == nil {
			continue
		}
		svcBase := ""
		if prefix := svc.Prefix(); prefix != "" {
			svcBase = "/" + prefix
		}
		for _, unprotected := range svc.Unprotected() {
			if pathMatchesPrefix(path, svcBase+unprotected) {
				return false
			}
		}
	}

	for _, rg := range routeGroups {
		if pathMatchesPrefix(path, rg.PathPrefix) {
			return rg.RequiresAuth
		}
	}
	return true
}

// pathMatchesPrefix checks if path equals or is a subpath of prefix.
func pathMatchesPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == '/'
}

func (s *Server) mountService(r chi.Router, svc service.Service) {
	if prefix := svc.Prefix(); prefix == "" {
		r.Mount("/", svc.Handler())
	} else {
		r.Mount("/"+prefix, svc.Handler())
	}
	s.mountedServices = append(s.mountedServices, svc)
}

func (s *Server) setupRoutes(services []service.Service) chi.Router {
	r := chi.NewRouter()

	// Order is invariant:
	// RealIP? -> RequestID -> request-scoped logger -> access log -> recoverer -> auth gate
	if s.cfg.Server.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.RequestID)
	r.Use(httpmw.RequestLoggerMiddleware(s.logger))
	r.Use(httpmw.AccessLogMiddleware(s.logger))
	r.Use(chimw.Recoverer)

	// The closure reads s.mountedServices at request time.
	r.Use(auth.NewAuthGate(auth.AuthGateConfig{
		RequireAuth: func(path string) bool {
			return IsAuthRequired(path, s.mountedServices)
		},
		Log:      s.logger,
		Verifier: s.verifier,
	}))

	r.Get("/health", api.HealthHandler)

	for _, svc := range services {
		s.mountService(r, svc)
	}
	return r
}
