// Package provider defines the abstract per-provider transport the
// connection manager dispatches to, and the registry mapping provider
// names to transports.
package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/willibrandon/harbor/internal/models"
)

// Notifier receives asynchronous completion notifications from transports.
// Completion is keyed by owner URI; an empty connection id signals failure.
type Notifier interface {
	ConnectionComplete(summary models.ConnectionCompleteSummary)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(models.ConnectionCompleteSummary)

// ConnectionComplete implements Notifier.
func (f NotifierFunc) ConnectionComplete(summary models.ConnectionCompleteSummary) { f(summary) }

// Transport is the wire-level capability of one provider. Connect only
// dispatches the request; the outcome arrives later through the Notifier.
type Transport interface {
	// Connect dispatches a connect request for uri using the profile's
	// option bag. It returns an error only when the request itself cannot
	// be dispatched.
	Connect(ctx context.Context, uri string, profile *models.ConnectionProfile) error

	// Disconnect tears down the session for uri. It returns only after the
	// transport has acknowledged the teardown.
	Disconnect(ctx context.Context, uri string) error

	// CancelConnect issues a best-effort cancellation for an in-flight
	// connect on uri.
	CancelConnect(ctx context.Context, uri string) error

	// ListDatabases lists the databases reachable through the session on
	// uri.
	ListDatabases(ctx context.Context, uri string) ([]string, error)
}

// Registry maps provider names to transports.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]Transport
}

// NewRegistry returns an empty transport registry.
func NewRegistry() *Registry {
	return &Registry{transports: make(map[string]Transport)}
}

// Register installs the transport for a provider name, replacing any
// previous registration.
func (r *Registry) Register(providerName string, t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[providerName] = t
}

// Get returns the transport for a provider name.
func (r *Registry) Get(providerName string) (Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[providerName]
	if !ok {
		return nil, fmt.Errorf("no transport registered for provider %q", providerName)
	}
	return t, nil
}
