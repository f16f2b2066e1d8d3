// Package capabilities tracks which providers have registered and what
// connection options each one supports.
//
// Providers register asynchronously, possibly after profiles were already
// rehydrated from persisted storage. Components holding such profiles
// subscribe to registration events and re-resolve the matching profiles in
// place.
package capabilities

import (
	"sync"

	"github.com/willibrandon/harbor/internal/logger"
	"github.com/willibrandon/harbor/internal/models"
)

// Registry maps provider names to their capability declarations and fans
// registration events out to subscribers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*models.ProviderCapabilities
	listeners []func(*models.ProviderCapabilities)
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]*models.ProviderCapabilities)}
}

// Register records a provider's capability declaration and notifies
// subscribers synchronously. Re-registering a provider replaces its
// declaration and fires the event again.
func (r *Registry) Register(caps *models.ProviderCapabilities) {
	r.mu.Lock()
	r.providers[caps.ProviderName] = caps
	listeners := make([]func(*models.ProviderCapabilities), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	logger.Debug("Provider capabilities registered", "provider", caps.ProviderName)
	for _, fn := range listeners {
		fn(caps)
	}
}

// Get returns the capability declaration for a provider, or nil if it has
// not registered.
func (r *Registry) Get(providerName string) *models.ProviderCapabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[providerName]
}

// All returns every registered capability declaration.
func (r *Registry) All() []*models.ProviderCapabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.ProviderCapabilities, 0, len(r.providers))
	for _, caps := range r.providers {
		out = append(out, caps)
	}
	return out
}

// OnProviderRegistered subscribes to registration events. The callback runs
// synchronously on Register.
func (r *Registry) OnProviderRegistered(fn func(*models.ProviderCapabilities)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}
