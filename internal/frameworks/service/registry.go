package service

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// CoreServices are constructed whether or not [http.services.<name>]
// appears in the config file.
var CoreServices = []string{"guests"}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]NewService)
)

// Register adds a constructor. Registering a name twice is an error.
func Register(name string, newFunc NewService) error {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		return fmt.Errorf("service %q already registered", name)
	}
	registry[name] = newFunc
	return nil
}

// MustRegister is Register for init(); it panics on error.
func MustRegister(name string, newFunc NewService) {
	if err := Register(name, newFunc); err != nil {
		panic(err)
	}
}

// Get returns the constructor for name, or nil.
func Get(name string) NewService {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[name]
}

// RegisteredServices returns the registered names, sorted.
func RegisteredServices() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Construct builds each named service in order with the table returned by
// conf. On failure the services already built are closed.
func Construct(names []string, conf func(name string) map[string]any, log *slog.Logger) (map[string]Service, error) {
	built := make(map[string]Service, len(names))
	closeBuilt := func() {
		for _, svc := range built {
			_ = svc.Close()
		}
	}

	for _, name := range names {
		newFunc := Get(name)
		if newFunc == nil {
			closeBuilt()
			return nil, fmt.Errorf("service %q is not registered (available: %v)", name, RegisteredServices())
		}
		svc, err := newFunc(conf(name), log.With("service", name))
		if err != nil {
			closeBuilt()
			return nil, fmt.Errorf("construct service %q: %w", name, err)
		}
		built[name] = svc
	}
	return built, nil
}

// resetRegistry is for testing only.
func resetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]NewService)
}
