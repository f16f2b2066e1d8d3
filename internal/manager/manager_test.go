package manager

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/harbor/internal/capabilities"
	"github.com/willibrandon/harbor/internal/catalogue"
	"github.com/willibrandon/harbor/internal/ident"
	"github.com/willibrandon/harbor/internal/memento"
	"github.com/willibrandon/harbor/internal/models"
	"github.com/willibrandon/harbor/internal/provider"
	"github.com/willibrandon/harbor/internal/secrets"
	"github.com/willibrandon/harbor/internal/settings"
	"github.com/willibrandon/harbor/internal/status"
	"github.com/willibrandon/harbor/internal/store"
)

func testCaps() *models.ProviderCapabilities {
	return &models.ProviderCapabilities{
		ProviderName: "PGSQL",
		ConnectionOptions: []models.ConnectionOption{
			{Name: "host", Kind: models.OptionKindServerName, IsIdentity: true, IsRequired: true},
			{Name: "dbname", Kind: models.OptionKindDatabaseName, IsIdentity: true},
			{Name: "user", Kind: models.OptionKindUserName, IsIdentity: true, IsRequired: true},
			{Name: "password", Kind: models.OptionKindPassword, IsRequired: true},
			{Name: "authType", Kind: models.OptionKindAuthType, IsIdentity: true},
		},
	}
}

// fakeTransport notifies completion synchronously from Connect, which the
// buffered result channel absorbs. silent suppresses the notification so a
// dispatched attempt stays in flight.
type fakeTransport struct {
	notifier provider.Notifier

	mu            sync.Mutex
	connects      []string
	disconnects   []string
	cancels       []string
	failConnect   bool
	connectErrMsg string
	silent        bool
	disconnectErr error
	nextConnID    int
}

func (f *fakeTransport) Connect(_ context.Context, uri string, _ *models.ConnectionProfile) error {
	f.mu.Lock()
	f.connects = append(f.connects, uri)
	silent, fail, msg := f.silent, f.failConnect, f.connectErrMsg
	f.nextConnID++
	connID := fmt.Sprintf("conn-%d", f.nextConnID)
	f.mu.Unlock()

	if silent {
		return nil
	}
	if fail {
		f.notifier.ConnectionComplete(models.ConnectionCompleteSummary{
			OwnerURI:     uri,
			ErrorMessage: msg,
		})
		return nil
	}
	f.notifier.ConnectionComplete(models.ConnectionCompleteSummary{
		OwnerURI:     uri,
		ConnectionID: connID,
		ServerInfo:   &models.ServerInfo{ServerVersion: "16.2"},
	})
	return nil
}

func (f *fakeTransport) Disconnect(_ context.Context, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disconnectErr != nil {
		return f.disconnectErr
	}
	f.disconnects = append(f.disconnects, uri)
	return nil
}

func (f *fakeTransport) CancelConnect(_ context.Context, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, uri)
	return nil
}

func (f *fakeTransport) ListDatabases(_ context.Context, _ string) ([]string, error) {
	return []string{"postgres", "app"}, nil
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects)
}

type harness struct {
	mgr       *Manager
	transport *fakeTransport
	store     *store.Store
	secrets   *secrets.Store
	status    *status.Manager
	caps      *capabilities.Registry

	dialogCalls []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	st, err := settings.Open(filepath.Join(dir, "user.yaml"), filepath.Join(dir, "workspace.yaml"))
	require.NoError(t, err)
	sec, err := secrets.Open(dir)
	require.NoError(t, err)
	mem, err := memento.Open(filepath.Join(dir, "memento.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })

	caps := capabilities.NewRegistry()
	caps.Register(testCaps())
	cat := catalogue.New(st, caps)
	cs := store.New(cat, sec, mem, caps, st)
	sm := status.NewManager()
	transports := provider.NewRegistry()

	h := &harness{store: cs, secrets: sec, status: sm, caps: caps}
	h.mgr = New(sm, cs, caps, transports, func(_ *models.ConnectionProfile, message string) {
		h.dialogCalls = append(h.dialogCalls, message)
	})
	h.transport = &fakeTransport{notifier: h.mgr}
	transports.Register("PGSQL", h.transport)
	return h
}

func (h *harness) profile(host string) *models.ConnectionProfile {
	p := models.NewProfile("PGSQL", map[string]string{
		"host": host, "dbname": "d1", "user": "u1", "password": "pw",
	}, h.caps.Get("PGSQL"))
	return p
}

func TestResolveURI(t *testing.T) {
	p := models.NewProfile("PGSQL", map[string]string{"host": "s1", "user": "u1"}, testCaps())

	// An explicit URI always wins, whatever the purpose.
	assert.Equal(t, "file:///doc.sql", resolveURI(p, "file:///doc.sql", ident.PurposeDashboard))

	assert.Equal(t, ident.URI(ident.PurposeConnection, p.UniqueID()), resolveURI(p, "", ""))
	assert.Equal(t, ident.URI(ident.PurposeInsights, p.UniqueID()), resolveURI(p, "", ident.PurposeInsights))

	// Even an empty option bag yields a stable provider+group identity.
	bare := models.NewProfile("PGSQL", nil, testCaps())
	uri := resolveURI(bare, "", "")
	assert.NotEqual(t, "connection://", uri)
	assert.Equal(t, uri, resolveURI(bare.Clone(), "", ""))
}

func TestConnect_Success(t *testing.T) {
	h := newHarness(t)
	p := h.profile("s1")
	uri := ident.URI(ident.PurposeConnection, p.UniqueID())

	var connected []string
	h.mgr.OnConnect(func(u string, _ *models.ConnectionProfile) { connected = append(connected, u) })

	result, err := h.mgr.Connect(context.Background(), p, "", ConnectOptions{})
	require.NoError(t, err)
	require.True(t, result.Connected)
	assert.NotEmpty(t, result.ConnectionID)

	assert.True(t, h.mgr.IsConnected(uri))
	assert.Equal(t, []string{uri}, connected)

	recent, err := h.mgr.RecentConnections()
	require.NoError(t, err)
	require.Len(t, recent, 1)
	active, err := h.mgr.ActiveConnections()
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func TestConnect_SaveAndPromote(t *testing.T) {
	h := newHarness(t)
	p := h.profile("s1")
	p.GroupFullName = "A/B"
	defaultURI := ident.URI(ident.PurposeConnection, p.UniqueID())

	var added []*models.ConnectionProfile
	h.mgr.OnProfileAdded(func(saved *models.ConnectionProfile) { added = append(added, saved) })

	result, err := h.mgr.Connect(context.Background(), p, "", ConnectOptions{SaveTheConnection: true})
	require.NoError(t, err)
	require.True(t, result.Connected)

	require.Len(t, added, 1)
	require.NotEmpty(t, added[0].GroupID)

	// Saving assigned a group id, so the session moved to the definitive URI.
	savedURI := ident.URI(ident.PurposeConnection, added[0].UniqueID())
	require.NotEqual(t, defaultURI, savedURI)
	assert.False(t, h.mgr.IsConnected(defaultURI))
	assert.True(t, h.mgr.IsConnected(savedURI))

	profiles, err := h.mgr.Profiles()
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "A/B", profiles[0].GroupFullName)
}

func TestConnect_EditorURINotPromoted(t *testing.T) {
	h := newHarness(t)
	p := h.profile("s1")

	result, err := h.mgr.Connect(context.Background(), p, "file:///queries/report.sql", ConnectOptions{SaveTheConnection: true})
	require.NoError(t, err)
	require.True(t, result.Connected)

	// The editor-supplied URI is fixed for the document's lifetime.
	assert.True(t, h.mgr.IsConnected("file:///queries/report.sql"))
}

func TestConnect_FailureIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.transport.failConnect = true
	h.transport.connectErrMsg = "auth failed"
	p := h.profile("s1")
	uri := ident.URI(ident.PurposeConnection, p.UniqueID())

	result, err := h.mgr.Connect(context.Background(), p, "", ConnectOptions{})
	require.NoError(t, err)
	assert.False(t, result.Connected)
	assert.Equal(t, "auth failed", result.ErrorMessage)

	// The URI is back in Disconnected; a retry dispatches a fresh attempt.
	assert.False(t, h.mgr.IsConnected(uri))
	assert.False(t, h.mgr.IsConnecting(uri))

	h.transport.failConnect = false
	result, err = h.mgr.Connect(context.Background(), p, "", ConnectOptions{})
	require.NoError(t, err)
	assert.True(t, result.Connected)
}

func TestConnect_WhileConnectedReturnsLiveSession(t *testing.T) {
	h := newHarness(t)
	p := h.profile("s1")

	first, err := h.mgr.Connect(context.Background(), p, "", ConnectOptions{})
	require.NoError(t, err)
	second, err := h.mgr.Connect(context.Background(), p, "", ConnectOptions{})
	require.NoError(t, err)

	assert.Equal(t, first.ConnectionID, second.ConnectionID)
	assert.Equal(t, 1, h.transport.connectCount())
}

func TestConnect_WhileConnectingRejected(t *testing.T) {
	h := newHarness(t)
	h.transport.silent = true
	p := h.profile("s1")
	uri := ident.URI(ident.PurposeConnection, p.UniqueID())

	results := make(chan models.ConnectionResult, 1)
	go func() {
		r, _ := h.mgr.Connect(context.Background(), p, "", ConnectOptions{})
		results <- r
	}()
	require.Eventually(t, func() bool { return h.mgr.IsConnecting(uri) }, time.Second, time.Millisecond)

	_, err := h.mgr.Connect(context.Background(), p, "", ConnectOptions{})
	assert.ErrorIs(t, err, ErrConnectionInFlight)

	require.NoError(t, h.mgr.CancelConnect(context.Background(), uri))
	<-results
}

func TestConnect_ValidationError(t *testing.T) {
	h := newHarness(t)
	p := models.NewProfile("PGSQL", map[string]string{"host": "s1"}, h.caps.Get("PGSQL"))

	_, err := h.mgr.Connect(context.Background(), p, "", ConnectOptions{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"user"}, verr.Missing)

	// Nothing reached the transport.
	assert.Equal(t, 0, h.transport.connectCount())
}

func TestConnect_ValidationErrorRoutedToDialog(t *testing.T) {
	h := newHarness(t)
	p := models.NewProfile("PGSQL", map[string]string{"host": "s1"}, h.caps.Get("PGSQL"))

	result, err := h.mgr.Connect(context.Background(), p, "", ConnectOptions{ShowDialogOnError: true})
	require.NoError(t, err)
	assert.False(t, result.Connected)
	require.Len(t, h.dialogCalls, 1)
	assert.Equal(t, 0, h.transport.connectCount())
}

func TestConnect_RequiredPasswordUnresolvable(t *testing.T) {
	h := newHarness(t)
	p := models.NewProfile("PGSQL", map[string]string{
		"host": "s1", "dbname": "d1", "user": "u1",
	}, h.caps.Get("PGSQL"))

	_, err := h.mgr.Connect(context.Background(), p, "", ConnectOptions{})
	assert.ErrorIs(t, err, ErrRequiredPassword)
	assert.Equal(t, 0, h.transport.connectCount())
}

func TestConnect_PasswordFilledFromCredentialStore(t *testing.T) {
	h := newHarness(t)
	p := models.NewProfile("PGSQL", map[string]string{
		"host": "s1", "dbname": "d1", "user": "u1",
	}, h.caps.Get("PGSQL"))

	_, err := h.secrets.Save(store.CredentialID(store.CredentialItemProfile, p), "stored")
	require.NoError(t, err)

	result, err := h.mgr.Connect(context.Background(), p, "", ConnectOptions{})
	require.NoError(t, err)
	assert.True(t, result.Connected)
}

func TestConnect_PasswordFilledFromSiblingSession(t *testing.T) {
	h := newHarness(t)

	// Establish a session that carries the password in memory.
	first := h.profile("s1")
	_, err := h.mgr.Connect(context.Background(), first, "", ConnectOptions{})
	require.NoError(t, err)

	// Same logical connection, different purpose, no password supplied.
	second := models.NewProfile("PGSQL", map[string]string{
		"host": "s1", "dbname": "d1", "user": "u1",
	}, h.caps.Get("PGSQL"))
	result, err := h.mgr.Connect(context.Background(), second, "", ConnectOptions{Purpose: ident.PurposeDashboard})
	require.NoError(t, err)
	assert.True(t, result.Connected)
}

func TestCancelConnect(t *testing.T) {
	h := newHarness(t)
	h.transport.silent = true
	p := h.profile("s1")
	uri := ident.URI(ident.PurposeConnection, p.UniqueID())

	type outcome struct {
		result models.ConnectionResult
		err    error
	}
	results := make(chan outcome, 1)
	go func() {
		r, err := h.mgr.Connect(context.Background(), p, "", ConnectOptions{})
		results <- outcome{r, err}
	}()

	require.Eventually(t, func() bool { return h.mgr.IsConnecting(uri) }, time.Second, time.Millisecond)
	require.NoError(t, h.mgr.CancelConnect(context.Background(), uri))

	out := <-results
	require.NoError(t, out.err)
	assert.False(t, out.result.Connected)
	assert.Equal(t, "connection cancelled", out.result.ErrorMessage)
	assert.False(t, h.mgr.IsConnecting(uri))

	// A completion straggling in after cancellation belongs to the abandoned
	// attempt and must not resurrect the session.
	h.mgr.ConnectionComplete(models.ConnectionCompleteSummary{OwnerURI: uri, ConnectionID: "late"})
	assert.False(t, h.mgr.IsConnected(uri))
}

func TestCancelConnect_NotConnecting(t *testing.T) {
	h := newHarness(t)
	err := h.mgr.CancelConnect(context.Background(), "connection://nothing")
	assert.ErrorIs(t, err, ErrNotConnecting)
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t)
	p := h.profile("s1")
	uri := ident.URI(ident.PurposeConnection, p.UniqueID())

	var dropped []string
	h.mgr.OnDisconnect(func(u string) { dropped = append(dropped, u) })

	_, err := h.mgr.Connect(context.Background(), p, "", ConnectOptions{})
	require.NoError(t, err)

	require.NoError(t, h.mgr.Disconnect(context.Background(), uri))
	assert.False(t, h.mgr.IsConnected(uri))
	assert.Equal(t, []string{uri}, dropped)

	active, err := h.mgr.ActiveConnections()
	require.NoError(t, err)
	assert.Empty(t, active)

	assert.ErrorIs(t, h.mgr.Disconnect(context.Background(), uri), ErrNotConnected)
}

func TestDisconnect_TransportFailureKeepsSession(t *testing.T) {
	h := newHarness(t)
	p := h.profile("s1")
	uri := ident.URI(ident.PurposeConnection, p.UniqueID())

	_, err := h.mgr.Connect(context.Background(), p, "", ConnectOptions{})
	require.NoError(t, err)

	h.transport.disconnectErr = errors.New("backend unreachable")
	require.Error(t, h.mgr.Disconnect(context.Background(), uri))

	// Teardown was not acknowledged: the session entry survives.
	assert.True(t, h.mgr.IsConnected(uri))
}

func TestChangeDatabase(t *testing.T) {
	h := newHarness(t)
	p := h.profile("s1")
	uri := ident.URI(ident.PurposeConnection, p.UniqueID())

	var changed []string
	h.mgr.OnConnectionChanged(func(u string, prof *models.ConnectionProfile) {
		changed = append(changed, prof.DatabaseName())
	})
	var dropped []string
	h.mgr.OnDisconnect(func(u string) { dropped = append(dropped, u) })

	_, err := h.mgr.Connect(context.Background(), p, "", ConnectOptions{})
	require.NoError(t, err)

	result, err := h.mgr.ChangeDatabase(context.Background(), uri, "analytics")
	require.NoError(t, err)
	require.True(t, result.Connected)

	assert.True(t, h.mgr.IsConnected(uri))
	session, ok := h.mgr.ConnectionProfile(uri)
	require.True(t, ok)
	assert.Equal(t, "analytics", session.DatabaseName())
	assert.Equal(t, []string{"analytics"}, changed)

	// The intermediate teardown is internal to the swap: subscribers see only
	// the changed notification.
	assert.Empty(t, dropped)
}

func TestChangeDatabase_FailureEndsDisconnected(t *testing.T) {
	h := newHarness(t)
	p := h.profile("s1")
	uri := ident.URI(ident.PurposeConnection, p.UniqueID())

	var dropped []string
	h.mgr.OnDisconnect(func(u string) { dropped = append(dropped, u) })

	_, err := h.mgr.Connect(context.Background(), p, "", ConnectOptions{})
	require.NoError(t, err)

	h.transport.failConnect = true
	h.transport.connectErrMsg = "database does not exist"

	// The reconnect failure is a notification, not an error: the URI ends in
	// Disconnected, never silently left on the old database.
	result, err := h.mgr.ChangeDatabase(context.Background(), uri, "missing")
	require.NoError(t, err)
	assert.False(t, result.Connected)
	assert.False(t, h.mgr.IsConnected(uri))

	// Exactly one disconnected notification for the URI, not one per leg.
	assert.Equal(t, []string{uri}, dropped)
}

func TestDeleteGroup_DisconnectsAndRemoves(t *testing.T) {
	h := newHarness(t)
	p := h.profile("s1")
	p.GroupFullName = "G"

	_, err := h.mgr.Connect(context.Background(), p, "", ConnectOptions{SaveTheConnection: true})
	require.NoError(t, err)

	arena, err := h.mgr.ConnectionGroups()
	require.NoError(t, err)
	g, ok := arena.FindChild("", "G")
	require.True(t, ok)

	var deleted []*models.ConnectionProfile
	h.mgr.OnProfileDeleted(func(prof *models.ConnectionProfile) { deleted = append(deleted, prof) })

	require.NoError(t, h.mgr.DeleteGroup(context.Background(), g.ID))

	profiles, err := h.mgr.Profiles()
	require.NoError(t, err)
	assert.Empty(t, profiles)
	require.Len(t, deleted, 1)

	// The live session under the group was torn down first.
	assert.Len(t, h.transport.disconnects, 1)
}

func TestDeleteGroup_AbortsWhenDisconnectFails(t *testing.T) {
	h := newHarness(t)
	p := h.profile("s1")
	p.GroupFullName = "G"

	_, err := h.mgr.Connect(context.Background(), p, "", ConnectOptions{SaveTheConnection: true})
	require.NoError(t, err)

	arena, err := h.mgr.ConnectionGroups()
	require.NoError(t, err)
	g, ok := arena.FindChild("", "G")
	require.True(t, ok)

	h.transport.disconnectErr = errors.New("backend unreachable")
	require.Error(t, h.mgr.DeleteGroup(context.Background(), g.ID))

	// Nothing was written: group and profile both survive.
	arena, err = h.mgr.ConnectionGroups()
	require.NoError(t, err)
	_, ok = arena.FindChild("", "G")
	assert.True(t, ok)
	profiles, err := h.mgr.Profiles()
	require.NoError(t, err)
	assert.Len(t, profiles, 1)
}

func TestDeleteProfile(t *testing.T) {
	h := newHarness(t)
	p := h.profile("s1")
	p.GroupFullName = "G"
	p.SavePassword = true

	_, err := h.mgr.Connect(context.Background(), p, "", ConnectOptions{SaveTheConnection: true})
	require.NoError(t, err)

	profiles, err := h.mgr.Profiles()
	require.NoError(t, err)
	require.Len(t, profiles, 1)

	require.NoError(t, h.mgr.DeleteProfile(context.Background(), profiles[0]))

	profiles, err = h.mgr.Profiles()
	require.NoError(t, err)
	assert.Empty(t, profiles)

	// Its stored credential went with it.
	_, ok, err := h.secrets.Read(store.CredentialID(store.CredentialItemProfile, p))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveProfile_PromotesLiveSessions(t *testing.T) {
	h := newHarness(t)
	p := h.profile("s1")
	defaultURI := ident.URI(ident.PurposeConnection, p.UniqueID())

	_, err := h.mgr.Connect(context.Background(), p, "", ConnectOptions{})
	require.NoError(t, err)
	require.True(t, h.mgr.IsConnected(defaultURI))

	toSave := p.Clone()
	toSave.GroupFullName = "A"
	saved, err := h.mgr.SaveProfile(toSave)
	require.NoError(t, err)

	savedURI := ident.URI(ident.PurposeConnection, saved.UniqueID())
	assert.False(t, h.mgr.IsConnected(defaultURI))
	assert.True(t, h.mgr.IsConnected(savedURI))
}

func TestListDatabases(t *testing.T) {
	h := newHarness(t)
	p := h.profile("s1")
	uri := ident.URI(ident.PurposeConnection, p.UniqueID())

	_, err := h.mgr.ListDatabases(context.Background(), uri)
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = h.mgr.Connect(context.Background(), p, "", ConnectOptions{})
	require.NoError(t, err)

	dbs, err := h.mgr.ListDatabases(context.Background(), uri)
	require.NoError(t, err)
	assert.Equal(t, []string{"postgres", "app"}, dbs)
}

func TestCapabilityRegistrationReResolvesSessions(t *testing.T) {
	h := newHarness(t)

	// A profile restored before its provider registered stays generic.
	rec := models.ProfileRecord{
		ProviderName: "MYSQL",
		Options:      map[string]string{"host": "s1", "user": "u1"},
	}
	p := models.ProfileFromRecord(rec, nil)
	h.status.Add(p, "connection://restored")

	h.caps.Register(&models.ProviderCapabilities{ProviderName: "MYSQL"})

	session, ok := h.mgr.ConnectionProfile("connection://restored")
	require.True(t, ok)
	assert.NotNil(t, session.Capabilities())
}
