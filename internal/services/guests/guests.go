// Package guests mounts the guest invitation endpoints under /api/guests.
package guests

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	guestsapi "github.com/MahdiBaghbani/guestservice-go/internal/components/api/guests"
	"github.com/MahdiBaghbani/guestservice-go/internal/frameworks/service"
	svccfg "github.com/MahdiBaghbani/guestservice-go/internal/frameworks/service/cfg"
	"github.com/MahdiBaghbani/guestservice-go/internal/frameworks/service/httpwrap"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/deps"
)

func init() {
	service.MustRegister("guests", New)
}

// Config is the [http.services.guests] table.
type Config struct {
	// OrganizerRoles grant access to organization-wide guest data.
	OrganizerRoles []string `mapstructure:"organizer_roles"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	roles := c.OrganizerRoles[:0]
	for _, r := range c.OrganizerRoles {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	c.OrganizerRoles = roles
	if len(c.OrganizerRoles) == 0 {
		c.OrganizerRoles = append([]string(nil), guestsapi.DefaultOrganizerRoles...)
	}
}

// Service is the guests HTTP service.
type Service struct {
	router chi.Router
	conf   *Config
}

// New creates the service. Implements service.NewService.
func New(m map[string]any, log *slog.Logger) (service.Service, error) {
	var c Config
	unused, err := svccfg.DecodeWithUnused(m, &c)
	if err != nil {
		return nil, err
	}
	if len(unused) > 0 {
		log.Warn("unused config keys", "service", "guests", "unused_keys", unused)
	}

	d := deps.GetDeps()
	if d == nil {
		return nil, errors.New("shared deps not initialized")
	}
	if d.Guests == nil {
		return nil, errors.New("guests service requires the invitation service")
	}
	if d.Roles == nil {
		log.Warn("no role checker configured, organizer endpoints will answer 403")
	}

	r := chi.NewRouter()
	guestsapi.NewHandler(d.Guests, d.Roles, c.OrganizerRoles).Routes(r)

	return &Service{router: r, conf: &c}, nil
}

// Handler implements service.Service.
func (s *Service) Handler() http.Handler { return httpwrap.ClearRawPath(s.router) }

// Prefix implements service.Service.
func (s *Service) Prefix() string { return "api/guests" }

// Unprotected implements service.Service. The internal endpoints serve the
// event-manager over the cluster network.
func (s *Service) Unprotected() []string { return []string{"/internal"} }

// Close implements service.Service.
func (s *Service) Close() error { return nil }
