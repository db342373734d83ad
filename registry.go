package dawn

import (
	"fmt"
	"sort"
	"sync"
)

// BackendFactory opens a new backend instance.
// Factories are registered via Register and called by NewDevice.
type BackendFactory func() (Backend, error)

var (
	registryMu sync.RWMutex
	backends   = make(map[string]BackendFactory)
)

// Register makes a backend available by name. It is typically called from
// init() in backend packages, following the database/sql driver pattern:
//
//	func init() {
//	    dawn.Register("null", func() (dawn.Backend, error) {
//	        return New(), nil
//	    })
//	}
//
// Register panics if factory is nil or if name is already registered.
func Register(name string, factory BackendFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if factory == nil {
		panic("dawn: Register factory is nil")
	}
	if _, dup := backends[name]; dup {
		panic("dawn: Register called twice for " + name)
	}
	backends[name] = factory
}

// Unregister removes a backend from the registry. It is a no-op for
// unknown names and is mainly useful in tests.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// OpenBackend creates a backend instance by name.
// The error wraps ErrUnknownBackend when name is not registered.
func OpenBackend(name string) (Backend, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w %q (forgotten import?)", ErrUnknownBackend, name)
	}
	b, err := factory()
	if err != nil {
		return nil, fmt.Errorf("dawn: open backend %q: %w", name, err)
	}
	return b, nil
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered reports whether a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}
