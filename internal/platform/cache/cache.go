// Package cache provides TTL key-value caching and the cache driver
// registry. Drivers register themselves from init().
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("key not found")
	ErrExpired  = errors.New("key expired")
)

// Cache provides TTL-based key-value storage.
type Cache interface {
	// Get retrieves a value by key. Returns ErrNotFound if not present.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. If TTL is 0, use default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key.
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists and is not expired.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases resources.
	Close() error
}

// TTLRoles is the default lifetime of a cached organization role set.
const TTLRoles = time.Minute

// DriverFactory creates a cache from its [cache.drivers.<name>] table.
type DriverFactory func(config map[string]any, log *slog.Logger) (Cache, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]DriverFactory)
)

// RegisterDriver registers a cache driver by name.
func RegisterDriver(name string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = factory
}

// NewFromConfig creates the named driver with its sub-table from
// driverConfigs (nil when absent).
func NewFromConfig(name string, driverConfigs map[string]any, log *slog.Logger) (Cache, error) {
	driversMu.RLock()
	factory, ok := drivers[name]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown cache driver: %s (available: %v)", name, AvailableDrivers())
	}

	var sub map[string]any
	if raw, ok := driverConfigs[name]; ok {
		sub, ok = raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cache driver %s: config must be a table, got %T", name, raw)
		}
	}
	return factory(sub, log)
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
