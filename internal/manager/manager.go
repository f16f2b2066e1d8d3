// Package manager is the single entry point for connection lifecycle
// operations: connect, disconnect, cancel, change-database, and group
// edits. It composes the status manager, the connection store, the
// catalogue, and the per-provider transports.
package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/willibrandon/harbor/internal/capabilities"
	"github.com/willibrandon/harbor/internal/ident"
	"github.com/willibrandon/harbor/internal/logger"
	"github.com/willibrandon/harbor/internal/models"
	"github.com/willibrandon/harbor/internal/provider"
	"github.com/willibrandon/harbor/internal/status"
	"github.com/willibrandon/harbor/internal/store"
)

var (
	// ErrConnectionInFlight is returned when a connect is issued for a URI
	// that already has an attempt in flight. Callers cancel first.
	ErrConnectionInFlight = errors.New("a connect attempt is already in flight for this resource")
	// ErrNotConnected is returned for operations that require an
	// established session.
	ErrNotConnected = errors.New("resource is not connected")
	// ErrNotConnecting is returned when cancelling a URI with no attempt
	// in flight.
	ErrNotConnecting = errors.New("no connect attempt in flight for this resource")
	// ErrRequiredPassword is returned when a required password cannot be
	// resolved from the profile, a sibling session, or the credential
	// store.
	ErrRequiredPassword = errors.New("a password is required for this connection")
)

// ValidationError reports required identity fields missing before any
// transport call.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required connection fields: %s", strings.Join(e.Missing, ", "))
}

// ConnectOptions tune one connect call.
type ConnectOptions struct {
	// SaveTheConnection persists the profile to the catalogue after a
	// successful connect.
	SaveTheConnection bool
	// Purpose selects the owner-URI prefix when no URI is supplied.
	Purpose ident.Purpose
	// ShowDialogOnError routes validation and credential failures to the
	// interactive dialog instead of the caller.
	ShowDialogOnError bool
}

// DialogOpener re-opens the interactive connection dialog pre-filled with
// the offending profile and an error message. Supplied by the UI layer.
type DialogOpener func(profile *models.ConnectionProfile, message string)

// Manager orchestrates the connection lifecycle state machine.
type Manager struct {
	status     *status.Manager
	store      *store.Store
	caps       *capabilities.Registry
	transports *provider.Registry
	dialog     DialogOpener

	mu               sync.Mutex
	onProfileAdded   []func(*models.ConnectionProfile)
	onProfileDeleted []func(*models.ConnectionProfile)
	onConnect        []func(uri string, profile *models.ConnectionProfile)
	onDisconnect     []func(uri string)
	onChanged        []func(uri string, profile *models.ConnectionProfile)
}

// New assembles a manager. dialog may be nil when no interactive surface
// exists; errors then always propagate to the caller.
func New(st *status.Manager, cs *store.Store, caps *capabilities.Registry, transports *provider.Registry, dialog DialogOpener) *Manager {
	m := &Manager{
		status:     st,
		store:      cs,
		caps:       caps,
		transports: transports,
		dialog:     dialog,
	}
	caps.OnProviderRegistered(st.ResolveCapabilities)
	return m
}

// OnProfileAdded registers a callback fired after a profile is saved.
func (m *Manager) OnProfileAdded(fn func(*models.ConnectionProfile)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onProfileAdded = append(m.onProfileAdded, fn)
}

// OnProfileDeleted registers a callback fired after a profile is removed.
func (m *Manager) OnProfileDeleted(fn func(*models.ConnectionProfile)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onProfileDeleted = append(m.onProfileDeleted, fn)
}

// OnConnect registers a callback fired when a session is established.
func (m *Manager) OnConnect(fn func(uri string, profile *models.ConnectionProfile)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnect = append(m.onConnect, fn)
}

// OnDisconnect registers a callback fired when a session ends.
func (m *Manager) OnDisconnect(fn func(uri string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnect = append(m.onDisconnect, fn)
}

// OnConnectionChanged registers a callback fired when a session's profile
// changes in place (change-database).
func (m *Manager) OnConnectionChanged(fn func(uri string, profile *models.ConnectionProfile)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChanged = append(m.onChanged, fn)
}

func (m *Manager) fireProfileAdded(p *models.ConnectionProfile) {
	m.mu.Lock()
	fns := append([]func(*models.ConnectionProfile){}, m.onProfileAdded...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}

func (m *Manager) fireProfileDeleted(p *models.ConnectionProfile) {
	m.mu.Lock()
	fns := append([]func(*models.ConnectionProfile){}, m.onProfileDeleted...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}

func (m *Manager) fireConnect(uri string, p *models.ConnectionProfile) {
	m.mu.Lock()
	fns := append([]func(string, *models.ConnectionProfile){}, m.onConnect...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(uri, p)
	}
}

func (m *Manager) fireDisconnect(uri string) {
	m.mu.Lock()
	fns := append([]func(string){}, m.onDisconnect...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(uri)
	}
}

func (m *Manager) fireChanged(uri string, p *models.ConnectionProfile) {
	m.mu.Lock()
	fns := append([]func(string, *models.ConnectionProfile){}, m.onChanged...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(uri, p)
	}
}

// ConnectionComplete implements provider.Notifier. A completion for a URI
// whose entry was deleted between dispatch and completion belongs to an
// abandoned attempt and is ignored; the entry is never recreated.
func (m *Manager) ConnectionComplete(summary models.ConnectionCompleteSummary) {
	info, ok := m.status.Complete(summary)
	if !ok {
		return
	}

	result := models.ConnectionResult{
		Connected:    summary.ConnectionID != "",
		ConnectionID: summary.ConnectionID,
		ErrorMessage: summary.ErrorMessage,
		ErrorCode:    summary.ErrorCode,
	}
	if !result.Connected {
		// Failed attempt: the URI returns to Disconnected and is safe to
		// retry.
		m.status.Delete(summary.OwnerURI)
	}

	select {
	case info.Result <- result:
	default:
		// The attempt's waiter is gone; nothing to deliver to.
	}
}

// resolveURI returns the owner URI for the connect call, synthesizing a
// default one when the caller did not supply an editor-bound identifier.
// The synthesized identity is the profile's group-qualified id, which is
// well-formed even for an empty option bag.
func resolveURI(profile *models.ConnectionProfile, uri string, purpose ident.Purpose) string {
	if uri != "" {
		return uri
	}
	if purpose == "" {
		purpose = ident.PurposeConnection
	}
	return ident.URI(purpose, profile.UniqueID())
}

// failLocally routes a validation or credential error either to the
// interactive dialog (resolved locally, nil error to the caller) or to the
// caller as an error.
func (m *Manager) failLocally(profile *models.ConnectionProfile, opts ConnectOptions, cause error) (models.ConnectionResult, error) {
	if opts.ShowDialogOnError && m.dialog != nil {
		m.dialog(profile.Clone(), cause.Error())
		return models.ConnectionResult{Connected: false, ErrorMessage: cause.Error()}, nil
	}
	return models.ConnectionResult{}, cause
}

// resolvePassword fills the profile's password for the attempt: its own
// value, then a sibling session for the same logical connection, then the
// credential store. Returns ErrRequiredPassword when one is required and
// none could be found.
func (m *Manager) resolvePassword(profile *models.ConnectionProfile) error {
	caps := profile.Capabilities()
	if caps == nil {
		caps = m.caps.Get(profile.ProviderName)
		profile.SetCapabilities(caps)
	}
	if caps == nil || !caps.PasswordRequired(profile.Options) {
		return nil
	}
	if profile.Password() != "" {
		return nil
	}

	for _, sibling := range m.status.FindByConnectionInfo(profile.ConnectionInfoID()) {
		if pw := sibling.Profile.Password(); pw != "" {
			profile.SetPassword(pw)
			return nil
		}
	}

	if err := m.store.AddSavedPassword(profile); err != nil {
		return err
	}
	if profile.Password() == "" {
		return ErrRequiredPassword
	}
	return nil
}

// Connect runs one connect attempt through the state machine. A nil error
// with Connected=false means the failure was resolved locally (dialog) or
// reported by the transport; the URI is back in Disconnected either way.
func (m *Manager) Connect(ctx context.Context, profile *models.ConnectionProfile, uri string, opts ConnectOptions) (models.ConnectionResult, error) {
	attempt := profile.Clone()
	if attempt.Capabilities() == nil {
		attempt.SetCapabilities(m.caps.Get(attempt.ProviderName))
	}

	uri = resolveURI(attempt, uri, opts.Purpose)

	if m.status.IsConnecting(uri) {
		return models.ConnectionResult{}, ErrConnectionInFlight
	}
	if info, ok := m.status.Get(uri); ok && info.ConnectionID != "" {
		// Already connected under this URI; hand back the live session.
		return models.ConnectionResult{Connected: true, ConnectionID: info.ConnectionID}, nil
	}

	// Pre-transport validation: never send a request known in advance to be
	// rejected.
	if caps := attempt.Capabilities(); caps != nil {
		if missing := caps.MissingRequiredOptions(attempt.Options); len(missing) > 0 {
			return m.failLocally(attempt, opts, &ValidationError{Missing: missing})
		}
	}
	if err := m.resolvePassword(attempt); err != nil {
		if errors.Is(err, ErrRequiredPassword) {
			return m.failLocally(attempt, opts, err)
		}
		return models.ConnectionResult{}, err
	}

	transport, err := m.transports.Get(attempt.ProviderName)
	if err != nil {
		return models.ConnectionResult{}, err
	}

	info := m.status.Add(attempt, uri)
	logger.Info("Connecting", "uri", uri, "server", attempt.ServerName(), "database", attempt.DatabaseName())

	if err := transport.Connect(ctx, uri, attempt); err != nil {
		m.status.Delete(uri)
		return models.ConnectionResult{}, fmt.Errorf("failed to dispatch connect request: %w", err)
	}

	var result models.ConnectionResult
	select {
	case result = <-info.Result:
	case <-ctx.Done():
		// Caller gave up; treat as a cancellation.
		m.status.Delete(uri)
		_ = transport.CancelConnect(context.WithoutCancel(ctx), uri)
		return models.ConnectionResult{}, ctx.Err()
	}
	info.ServiceTimer.Stop()

	if !result.Connected {
		logger.Warn("Connect failed", "uri", uri, "error", result.ErrorMessage)
		return result, nil
	}

	logger.Info("Connected",
		"uri", uri,
		"connection_id", result.ConnectionID,
		"transport_ms", info.TransportTimer.Elapsed().Milliseconds(),
	)

	var saveErr error
	if opts.SaveTheConnection && attempt.SaveProfile {
		saved, err := m.store.SaveProfile(attempt)
		if err != nil {
			// A successful connection is never rolled back because the
			// catalogue write failed; the save failure is the caller's.
			saveErr = err
		} else {
			uri = m.status.Promote(uri, saved)
			attempt = saved
			m.fireProfileAdded(saved)
		}
	}

	if err := m.store.AddRecentConnection(attempt); err != nil {
		logger.Warn("Failed to record recent connection", "uri", uri, "error", err)
	}
	if err := m.store.AddActiveConnection(attempt); err != nil {
		logger.Warn("Failed to record active connection", "uri", uri, "error", err)
	}

	m.fireConnect(uri, attempt)
	return result, saveErr
}

// CancelConnect cancels an in-flight connect attempt. Valid only while
// Connecting. The local state is cleared immediately — the transport's
// acknowledgement is not awaited — and a completion arriving afterward for
// this URI is ignored.
func (m *Manager) CancelConnect(ctx context.Context, uri string) error {
	info, ok := m.status.Get(uri)
	if !ok || !info.Connecting {
		return ErrNotConnecting
	}

	m.status.Delete(uri)
	select {
	case info.Result <- models.ConnectionResult{Connected: false, ErrorMessage: "connection cancelled"}:
	default:
	}

	transport, err := m.transports.Get(info.Profile.ProviderName)
	if err != nil {
		return nil
	}
	if err := transport.CancelConnect(ctx, uri); err != nil {
		logger.Debug("Transport cancel failed", "uri", uri, "error", err)
	}
	logger.Info("Connect cancelled", "uri", uri)
	return nil
}

// Disconnect tears down an established session. Unlike cancellation it is
// not optimistic: the entry is removed and the disconnected event fired
// only after the transport acknowledges, since a partially torn-down
// session is worse than a slow one.
func (m *Manager) Disconnect(ctx context.Context, uri string) error {
	return m.disconnect(ctx, uri, true)
}

// disconnect is the shared teardown. The change-database flow passes
// notify=false: its subscribers see a single changed-or-disconnected
// transition, never an intermediate disconnect for the same URI.
func (m *Manager) disconnect(ctx context.Context, uri string, notify bool) error {
	info, ok := m.status.Get(uri)
	if !ok || info.ConnectionID == "" {
		return ErrNotConnected
	}

	transport, err := m.transports.Get(info.Profile.ProviderName)
	if err != nil {
		return err
	}
	if err := transport.Disconnect(ctx, uri); err != nil {
		return fmt.Errorf("disconnect failed: %w", err)
	}

	if err := m.store.RemoveActiveConnection(info.Profile); err != nil {
		logger.Warn("Failed to remove active connection", "uri", uri, "error", err)
	}
	m.status.Delete(uri)
	if notify {
		m.fireDisconnect(uri)
	}
	logger.Info("Disconnected", "uri", uri)
	return nil
}

// DisconnectProfile tears down every session owned by the profile.
func (m *Manager) DisconnectProfile(ctx context.Context, profile *models.ConnectionProfile) error {
	for _, uri := range m.status.URIs() {
		p, ok := m.status.Profile(uri)
		if !ok || p.UniqueID() != profile.UniqueID() {
			continue
		}
		if m.status.IsConnecting(uri) {
			if err := m.CancelConnect(ctx, uri); err != nil {
				return err
			}
			continue
		}
		if err := m.Disconnect(ctx, uri); err != nil {
			return err
		}
	}
	return nil
}

// ChangeDatabase reconnects the session under the same URI against a
// different database. On a failed reconnect the URI ends in Disconnected —
// never silently left on the old database — and the failure surfaces as a
// changed-to-disconnected notification rather than an error.
func (m *Manager) ChangeDatabase(ctx context.Context, uri, database string) (models.ConnectionResult, error) {
	info, ok := m.status.Get(uri)
	if !ok || info.ConnectionID == "" {
		return models.ConnectionResult{}, ErrNotConnected
	}

	mutated := info.Profile.Clone()
	mutated.SetDatabaseName(database)

	if err := m.disconnect(ctx, uri, false); err != nil {
		return models.ConnectionResult{}, err
	}

	result, err := m.Connect(ctx, mutated, uri, ConnectOptions{})
	if err != nil || !result.Connected {
		msg := ""
		if err != nil {
			msg = err.Error()
		} else {
			msg = result.ErrorMessage
		}
		logger.Warn("Change database failed; resource left disconnected", "uri", uri, "database", database, "error", msg)
		m.fireDisconnect(uri)
		return models.ConnectionResult{Connected: false, ErrorMessage: msg}, nil
	}

	m.fireChanged(uri, mutated)
	return result, nil
}

// ListDatabases lists databases through the established session on uri.
func (m *Manager) ListDatabases(ctx context.Context, uri string) ([]string, error) {
	info, ok := m.status.Get(uri)
	if !ok || info.ConnectionID == "" {
		return nil, ErrNotConnected
	}
	transport, err := m.transports.Get(info.Profile.ProviderName)
	if err != nil {
		return nil, err
	}
	return transport.ListDatabases(ctx, uri)
}

// DeleteProfile disconnects the profile's sessions and removes it from the
// catalogue, the credential store, and the recent list.
func (m *Manager) DeleteProfile(ctx context.Context, profile *models.ConnectionProfile) error {
	if err := m.DisconnectProfile(ctx, profile); err != nil {
		return err
	}
	if err := m.store.DeleteProfile(profile); err != nil {
		return err
	}
	if err := m.store.RemoveRecentConnection(profile); err != nil {
		logger.Warn("Failed to remove recent entry", "profile", profile.ShortName(), "error", err)
	}
	m.fireProfileDeleted(profile)
	return nil
}

// DeleteGroup disconnects every session under the group's transitive
// descendants, then removes the group, its subgroups, and their profiles
// from the catalogue. If any descendant disconnect fails the whole
// operation aborts before a single write: the catalogue never leaves
// connected sessions pointing at a removed group.
func (m *Manager) DeleteGroup(ctx context.Context, groupID string) error {
	profiles, _, err := m.store.Catalogue().CollectGroupContents(groupID)
	if err != nil {
		return err
	}
	for _, p := range profiles {
		if err := m.DisconnectProfile(ctx, p); err != nil {
			return fmt.Errorf("group deletion aborted, failed to disconnect %s: %w", p.ShortName(), err)
		}
	}

	if _, err := m.store.Catalogue().DeleteGroup(groupID); err != nil {
		return err
	}
	for _, p := range profiles {
		m.fireProfileDeleted(p)
	}
	return nil
}

// SaveProfile persists a profile outside a connect flow and promotes any
// live default-URI sessions to the saved identity.
func (m *Manager) SaveProfile(profile *models.ConnectionProfile) (*models.ConnectionProfile, error) {
	saved, err := m.store.SaveProfile(profile)
	if err != nil {
		return nil, err
	}
	for _, uri := range m.status.URIs() {
		p, ok := m.status.Profile(uri)
		if ok && p.ConnectionInfoID() == saved.ConnectionInfoID() {
			m.status.Promote(uri, saved)
		}
	}
	m.fireProfileAdded(saved)
	return saved, nil
}

// ConnectionGroups returns the merged group forest.
func (m *Manager) ConnectionGroups() (*models.GroupArena, error) {
	return m.store.Catalogue().AllGroups()
}

// RecentConnections returns the MRU list, most recent first.
func (m *Manager) RecentConnections() ([]*models.ConnectionProfile, error) {
	return m.store.RecentConnections()
}

// ActiveConnections returns the persisted active-connection list.
func (m *Manager) ActiveConnections() ([]*models.ConnectionProfile, error) {
	return m.store.ActiveConnections()
}

// Profiles returns every saved profile.
func (m *Manager) Profiles() ([]*models.ConnectionProfile, error) {
	return m.store.Profiles()
}

// IsConnected reports whether uri has an established session.
func (m *Manager) IsConnected(uri string) bool { return m.status.IsConnected(uri) }

// IsConnecting reports whether uri has an attempt in flight.
func (m *Manager) IsConnecting(uri string) bool { return m.status.IsConnecting(uri) }

// ConnectionProfile returns the profile owning the session on uri.
func (m *Manager) ConnectionProfile(uri string) (*models.ConnectionProfile, bool) {
	return m.status.Profile(uri)
}

// RenameGroup renames a catalogue group.
func (m *Manager) RenameGroup(groupID, newName string) error {
	return m.store.Catalogue().RenameGroup(groupID, newName)
}

// MoveGroup re-parents a catalogue group.
func (m *Manager) MoveGroup(groupID, newParentID string) error {
	return m.store.Catalogue().ChangeGroupForGroup(groupID, newParentID)
}

// MoveConnection re-files a profile under a new group, inserting it when
// it was previously unsaved.
func (m *Manager) MoveConnection(profile *models.ConnectionProfile, newGroupID string) error {
	return m.store.Catalogue().ChangeGroupForConnection(profile, newGroupID)
}

var _ provider.Notifier = (*Manager)(nil)
