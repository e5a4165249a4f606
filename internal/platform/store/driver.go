// Package store provides the invitation persistence driver abstraction and
// the driver registry. Concrete drivers register themselves from init().
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/MahdiBaghbani/guestservice-go/internal/components/invitations"
)

// Driver is a persistence backend. Every driver also implements
// invitations.Repo.
type Driver interface {
	invitations.Repo

	// Init prepares the backend (open connections, migrate schema).
	Init(ctx context.Context) error

	// Close releases resources held by the driver.
	Close() error

	// Name returns the registered driver name.
	Name() string
}

// DriverConfig selects and configures a driver.
type DriverConfig struct {
	// Driver is the driver name: memory, sqlite, mirror, postgres.
	Driver string

	// DataDir holds the sqlite database and mirror exports.
	DataDir string

	// DSN is the connection string for the postgres driver.
	DSN string

	// MaxUpdateAttempts bounds optimistic-update retries for SQL drivers.
	// Zero uses the driver default.
	MaxUpdateAttempts int

	// Logger receives driver diagnostics. Nil discards them.
	Logger *slog.Logger
}

// DriverFactory creates a driver instance.
type DriverFactory func(cfg *DriverConfig) (Driver, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]DriverFactory)
)

// Register registers a driver factory by name.
func Register(name string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = factory
}

// New creates a driver instance for cfg.Driver. The caller must call Init.
func New(cfg *DriverConfig) (Driver, error) {
	driversMu.RLock()
	factory, ok := drivers[cfg.Driver]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}

	return factory(cfg)
}

// AvailableDrivers returns the registered driver names, sorted.
func AvailableDrivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
