package settings

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/willibrandon/harbor/internal/models"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(filepath.Join(dir, "user.yaml"), filepath.Join(dir, "workspace.yaml"))
	require.NoError(t, err)
	return st, dir
}

func TestWriteGetRoundTrip(t *testing.T) {
	st, _ := newTestStore(t)

	groups := []models.GroupRecord{
		{ID: "g1", Name: "Prod"},
		{ID: "g2", Name: "East", ParentID: "g1"},
	}
	require.NoError(t, st.Write(ScopeUser, KeyGroups, groups))

	var got []models.GroupRecord
	require.NoError(t, st.Get(ScopeUser, KeyGroups, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "g1", got[0].ID)
	assert.Equal(t, "g1", got[1].ParentID)
}

func TestWrite_OnDiskShape(t *testing.T) {
	st, dir := newTestStore(t)

	require.NoError(t, st.Write(ScopeUser, KeyGroups, []models.GroupRecord{
		{ID: "g1", Name: "Prod"},
		{ID: "g2", Name: "East", ParentID: "g1"},
	}))

	// Parse the scope file independently of viper: the persisted shape is
	// what other tools (and hand edits) see.
	raw, err := os.ReadFile(filepath.Join(dir, "user.yaml"))
	require.NoError(t, err)

	var doc struct {
		Connections struct {
			Groups []models.GroupRecord `yaml:"groups"`
		} `yaml:"connections"`
	}
	require.NoError(t, yaml.Unmarshal(raw, &doc))
	require.Len(t, doc.Connections.Groups, 2)
	assert.Equal(t, "g1", doc.Connections.Groups[0].ID)
	assert.Equal(t, "Prod", doc.Connections.Groups[0].Name)
	assert.Equal(t, "g1", doc.Connections.Groups[1].ParentID)
}

func TestScopesAreIndependent(t *testing.T) {
	st, _ := newTestStore(t)

	require.NoError(t, st.Write(ScopeUser, KeyGroups, []models.GroupRecord{{ID: "u", Name: "user-g"}}))
	require.NoError(t, st.Write(ScopeWorkspace, KeyGroups, []models.GroupRecord{{ID: "w", Name: "ws-g"}}))

	var user, ws []models.GroupRecord
	require.NoError(t, st.Get(ScopeUser, KeyGroups, &user))
	require.NoError(t, st.Get(ScopeWorkspace, KeyGroups, &ws))
	require.Len(t, user, 1)
	require.Len(t, ws, 1)
	assert.Equal(t, "u", user[0].ID)
	assert.Equal(t, "w", ws[0].ID)
}

func TestGet_MissingKeyLeavesOutUntouched(t *testing.T) {
	st, _ := newTestStore(t)

	got := []models.GroupRecord{{ID: "sentinel"}}
	require.NoError(t, st.Get(ScopeUser, KeyGroups, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "sentinel", got[0].ID)
}

func TestGetInt_WorkspaceWinsOverUser(t *testing.T) {
	st, _ := newTestStore(t)

	// Neither scope configured: the registered default applies.
	assert.Equal(t, 5, st.GetInt(KeyMaxRecent))

	require.NoError(t, st.Write(ScopeUser, KeyMaxRecent, 10))
	assert.Equal(t, 10, st.GetInt(KeyMaxRecent))

	require.NoError(t, st.Write(ScopeWorkspace, KeyMaxRecent, 3))
	assert.Equal(t, 3, st.GetInt(KeyMaxRecent))
}

func TestProfileRecordRoundTrip(t *testing.T) {
	st, _ := newTestStore(t)

	records := []models.ProfileRecord{{
		ProviderName: "PGSQL",
		Options:      map[string]string{"host": "s1", "user": "u1"},
		GroupID:      "g1",
		SavePassword: true,
	}}
	require.NoError(t, st.Write(ScopeUser, KeyProfiles, records))

	var got []models.ProfileRecord
	require.NoError(t, st.Get(ScopeUser, KeyProfiles, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "PGSQL", got[0].ProviderName)
	assert.Equal(t, "g1", got[0].GroupID)
	assert.True(t, got[0].SavePassword)
	assert.Equal(t, "s1", got[0].Options["host"])
}

func TestReload_PicksUpExternalEdit(t *testing.T) {
	st, dir := newTestStore(t)

	require.NoError(t, st.Write(ScopeUser, KeyGroups, []models.GroupRecord{{ID: "g1", Name: "before"}}))

	// Simulate another process rewriting the scope file.
	external := "connections:\n  groups:\n    - id: g1\n      name: after\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user.yaml"), []byte(external), 0644))

	require.NoError(t, st.Reload())
	var got []models.GroupRecord
	require.NoError(t, st.Get(ScopeUser, KeyGroups, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "after", got[0].Name)
}

func TestWatch_ObservesExternalEdit(t *testing.T) {
	st, dir := newTestStore(t)

	// A scope file has to exist before it can be watched.
	require.NoError(t, st.Write(ScopeUser, KeyGroups, []models.GroupRecord{{ID: "g1", Name: "before"}}))

	var mu sync.Mutex
	var seen []Scope
	st.Watch(func(s Scope) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	external := "connections:\n  groups:\n    - id: g1\n      name: after\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user.yaml"), []byte(external), 0644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range seen {
			if s == ScopeUser {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	// The callback's reload path picks up the edit.
	require.NoError(t, st.Reload())
	var got []models.GroupRecord
	require.NoError(t, st.Get(ScopeUser, KeyGroups, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "after", got[0].Name)
}

func TestOpen_MissingFilesTolerated(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(filepath.Join(dir, "nope", "user.yaml"), filepath.Join(dir, "nope", "ws.yaml"))
	require.NoError(t, err)

	var got []models.GroupRecord
	require.NoError(t, st.Get(ScopeUser, KeyGroups, &got))
	assert.Empty(t, got)

	// First write creates the directory and file.
	require.NoError(t, st.Write(ScopeUser, KeyGroups, []models.GroupRecord{{ID: "g1", Name: "A"}}))
	_, err = os.Stat(filepath.Join(dir, "nope", "user.yaml"))
	assert.NoError(t, err)
}
