package blueprint

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry is an in-process, name-keyed catalog of Blueprint
// implementations. Artifacts reference a blueprint by name in their
// blueprint_type field; the manager resolves that reference through
// Lookup at build time.
type Registry struct {
	mu         sync.RWMutex
	blueprints map[string]Blueprint
	consumers  map[string]Consumer
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		blueprints: make(map[string]Blueprint),
		consumers:  make(map[string]Consumer),
	}
}

// Register adds b under its own Name(). Registering a duplicate name
// is an error — blueprint identity must be unambiguous across the
// workspace's plugin set.
func (r *Registry) Register(b Blueprint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := b.Name()
	if _, exists := r.blueprints[name]; exists {
		return fmt.Errorf("blueprint %q already registered", name)
	}
	r.blueprints[name] = b

	// Capability-detect consumption support at registration time, the
	// same pattern the plugin registry uses to bucket plugins by
	// interface satisfaction rather than an explicit flag.
	if c, ok := b.(Consumer); ok {
		r.consumers[name] = c
	}

	log.Info().Str("blueprint", name).Bool("consumer", r.consumers[name] != nil).Msg("blueprint registered")
	return nil
}

// Lookup returns the blueprint registered under name, or nil if none.
func (r *Registry) Lookup(name string) Blueprint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.blueprints[name]
}

// Consumer returns the Consumer capability for name, or nil if the
// blueprint registered under that name does not implement Consume.
func (r *Registry) Consumer(name string) Consumer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.consumers[name]
}

// Names returns every registered blueprint name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.blueprints))
	for name := range r.blueprints {
		names = append(names, name)
	}
	return names
}
