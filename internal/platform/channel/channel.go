// Package channel provides the at-least-once publish/subscribe abstraction
// used to exchange domain events with other services, and its driver
// registry. Drivers register themselves from init().
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrClosed is returned by operations on a closed channel.
var ErrClosed = errors.New("channel closed")

// Message is one delivered event.
type Message struct {
	// ID is assigned by the driver (stream entry id, sequence number).
	ID string

	Topic string

	// Key partitions messages; domain events use the event id.
	Key string

	Payload []byte
}

// Handler processes one message. Returning nil acknowledges it; returning
// an error leaves it for redelivery.
type Handler func(ctx context.Context, msg Message) error

// Publisher sends messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// Subscriber consumes topics. Subscribe blocks until ctx is done or the
// channel is closed, and dispatches messages to h one at a time.
type Subscriber interface {
	Subscribe(ctx context.Context, topics []string, h Handler) error
}

// Channel is a full pub/sub transport.
type Channel interface {
	Publisher
	Subscriber
	Close() error
}

// DriverFactory creates a channel from its [channel.drivers.<name>] table.
type DriverFactory func(config map[string]any, log *slog.Logger) (Channel, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]DriverFactory)
)

// RegisterDriver registers a channel driver by name.
func RegisterDriver(name string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = factory
}

// NewFromConfig creates the named driver, passing it its own sub-table from
// driverConfigs (nil when absent).
func NewFromConfig(name string, driverConfigs map[string]any, log *slog.Logger) (Channel, error) {
	driversMu.RLock()
	factory, ok := drivers[name]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown channel driver: %s (available: %v)", name, AvailableDrivers())
	}

	var sub map[string]any
	if raw, ok := driverConfigs[name]; ok {
		sub, ok = raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("channel driver %s: config must be a table, got %T", name, raw)
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
