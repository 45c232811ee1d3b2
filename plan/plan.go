// Package plan holds the process-wide default execution backend with an
// explicit set/get/reset lifecycle, so applications can pick a plan once at
// startup instead of threading a backend through every call site.
package plan

import (
	"runtime"
	"sync"

	"github.com/seantiz/scatter/backend"
	"github.com/seantiz/scatter/backend/local"
)

var (
	mu       sync.RWMutex
	active   backend.Backend
	registry = backend.NewRegistry()
)

func init() {
	registry.Register("sequential", local.New(1))
	registry.Register("local", local.New(runtime.NumCPU()))
}

// Set makes b the process-wide default backend.
func Set(b backend.Backend) {
	mu.Lock()
	defer mu.Unlock()
	active = b
}

// Use resolves a registered backend by name and makes it the default.
func Use(name string) error {
	b, err := registry.Resolve(name)
	if err != nil {
		return err
	}
	Set(b)
	return nil
}

// Default returns the active backend. When none has been set it falls back
// to the single-worker sequential backend, matching what a synchronous
// evaluation would do.
func Default() backend.Backend {
	mu.RLock()
	defer mu.RUnlock()
	if active != nil {
		return active
	}
	b, _ := registry.Resolve("sequential")
	return b
}

// Reset clears the active backend, restoring the sequential fallback.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	active = nil
}

// Register adds a backend to the plan registry under the given name, making
// it selectable via Use.
func Register(name string, b backend.Backend) {
	registry.Register(name, b)
}

// Registry returns the plan's backend registry.
func Registry() *backend.Registry {
	return registry
}
