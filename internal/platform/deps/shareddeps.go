// Package deps holds the process-wide dependencies that registered HTTP
// services read while they are constructed.
package deps

import (
	"sync"

	"github.com/MahdiBaghbani/guestservice-go/internal/components/rsvp"
	"github.com/MahdiBaghbani/guestservice-go/internal/components/userdirectory"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/cache"
	"github.com/MahdiBaghbani/guestservice-go/internal/platform/config"
)

var (
	sharedDeps     *Deps
	sharedDepsOnce sync.Once
)

// Deps holds shared dependencies for all services.
type Deps struct {
	Config *config.Config

	// Guests is the invitation service behind every guest endpoint.
	Guests *rsvp.Service

	// Roles answers organization role checks for organizer endpoints.
	Roles userdirectory.RoleChecker

	Cache cache.Cache
}

// SetDeps sets the shared dependencies. Must be called once at startup
// before any services are constructed.
func SetDeps(d *Deps) {
	sharedDepsOnce.Do(func() {
		sharedDeps = d
	})
}

// GetDeps returns the shared dependencies, or nil before SetDeps.
func GetDeps() *Deps {
	return sharedDeps
}

// ResetDeps is for testing only. Resets the singleton.
func ResetDeps() {
	sharedDeps = nil
	sharedDepsOnce = sync.Once{}
}
