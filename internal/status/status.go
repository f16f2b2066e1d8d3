// Package status tracks the live state of every in-flight or established
// connection, keyed by owner URI. The session map is the single source of
// truth for "is this resource connected or connecting"; no other component
// caches that answer.
package status

import (
	"sync"

	"github.com/willibrandon/harbor/internal/ident"
	"github.com/willibrandon/harbor/internal/logger"
	"github.com/willibrandon/harbor/internal/models"
)

// Manager is the in-memory session table. Map mutations happen in single
// uninterrupted critical sections so an interleaved operation never sees a
// half-updated record.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*models.SessionInfo
}

// NewManager returns an empty session table.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*models.SessionInfo)}
}

// Add registers a fresh connect attempt under uri. The profile is cloned
// defensively; callers cannot mutate the session's copy through their own
// reference. Duplicate policy lives in the orchestrator: callers are
// expected to have checked IsConnected/IsConnecting first.
func (m *Manager) Add(profile *models.ConnectionProfile, uri string) *models.SessionInfo {
	info := models.NewSessionInfo(profile)
	m.mu.Lock()
	m.sessions[uri] = info
	m.mu.Unlock()
	logger.Debug("Session registered", "uri", uri, "server", profile.ServerName())
	return info
}

// Complete applies the provider's completion notification. The transport
// timer stops, connecting clears, and the server-issued connection id and
// server info are stored. A missing entry means the attempt was abandoned
// (cancelled) between dispatch and completion: the notification is ignored
// and false is returned, never recreating the entry.
func (m *Manager) Complete(summary models.ConnectionCompleteSummary) (*models.SessionInfo, bool) {
	m.mu.Lock()
	info, ok := m.sessions[summary.OwnerURI]
	if ok {
		info.Connecting = false
		info.ConnectionID = summary.ConnectionID
		info.ServerInfo = summary.ServerInfo
	}
	m.mu.Unlock()
	if !ok {
		logger.Debug("Completion for unknown session ignored", "uri", summary.OwnerURI)
		return nil, false
	}
	info.TransportTimer.Stop()
	return info, true
}

// Delete removes the session entry. Idempotent; deleting an absent uri is
// a no-op.
func (m *Manager) Delete(uri string) {
	m.mu.Lock()
	delete(m.sessions, uri)
	m.mu.Unlock()
}

// Promote performs definitive-id promotion: once a freshly saved profile
// carries its authoritative group id, a default URI's identity may have
// changed. The entry is re-keyed in place, preserving all in-flight state.
// Editor-bound URIs are never promoted. Returns the session's current URI.
func (m *Manager) Promote(uri string, saved *models.ConnectionProfile) string {
	purpose, ok := ident.DefaultPurpose(uri)
	if !ok {
		return uri
	}
	newURI := ident.URI(purpose, saved.UniqueID())
	if newURI == uri {
		return uri
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.sessions[uri]
	if !ok {
		return uri
	}
	info.Profile = saved.Clone()
	m.sessions[newURI] = info
	delete(m.sessions, uri)
	logger.Debug("Session re-keyed after save", "old", uri, "new", newURI)
	return newURI
}

// Get returns the session entry for uri.
func (m *Manager) Get(uri string) (*models.SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.sessions[uri]
	return info, ok
}

// IsConnected reports whether uri has an established session: entry
// present and a non-empty server-issued connection id.
func (m *Manager) IsConnected(uri string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.sessions[uri]
	return ok && info.ConnectionID != ""
}

// IsConnecting reports whether a connect attempt is in flight for uri.
func (m *Manager) IsConnecting(uri string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.sessions[uri]
	return ok && info.Connecting
}

// Profile returns the profile owning the session for uri.
func (m *Manager) Profile(uri string) (*models.ConnectionProfile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.sessions[uri]
	if !ok {
		return nil, false
	}
	return info.Profile, true
}

// FindByConnectionInfo returns the sessions whose profile shares the given
// group-independent identity, used to recover a password from a sibling
// session for the same logical connection.
func (m *Manager) FindByConnectionInfo(infoID string) []*models.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SessionInfo
	for _, info := range m.sessions {
		if info.Profile.ConnectionInfoID() == infoID {
			out = append(out, info)
		}
	}
	return out
}

// URIs returns the tracked owner URIs.
func (m *Manager) URIs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for uri := range m.sessions {
		out = append(out, uri)
	}
	return out
}

// ResolveCapabilities re-resolves tracked profiles for a newly registered
// provider. Targeted and idempotent: only matching providers are touched.
func (m *Manager) ResolveCapabilities(caps *models.ProviderCapabilities) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, info := range m.sessions {
		info.Profile.SetCapabilities(caps)
	}
}
