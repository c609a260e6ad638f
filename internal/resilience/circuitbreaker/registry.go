package circuitbreaker

import "sync"

// Registry owns one circuit breaker per dependency name. It is created once
// at startup and injected into the services that need breakers, so tests can
// construct isolated instances instead of sharing package-level state.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates an empty breaker registry.
func NewRegistry() *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
	}
}

// GetOrCreate returns the breaker registered under cfg.Name, creating it
// from cfg on first use. The configuration of an existing breaker is never
// changed by a later call.
func (r *Registry) GetOrCreate(cfg Config) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[cfg.Name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock: another goroutine may have won the race.
	if cb, ok := r.breakers[cfg.Name]; ok {
		return cb
	}

	cb = New(cfg)
	r.breakers[cfg.Name] = cb
	return cb
}

// Get returns the breaker for the given name, or nil if none is registered.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// AllStatuses returns a snapshot of every registered breaker, keyed by name.
func (r *Registry) AllStatuses() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make(map[string]Status, len(r.breakers))
	for name, cb := range r.breakers {
		statuses[name] = cb.GetStatus()
	}
	return statuses
}
