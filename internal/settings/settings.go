// Package settings provides the two-scope persisted settings store backing
// the connection catalogue.
//
// Profiles and groups live under two independent scopes: a personal user
// scope (~/.config/harbor/settings.yaml) and a shared workspace scope
// (./.harbor/settings.yaml). Each scope is one YAML file managed by its own
// viper instance. The persisted lists are read-modify-written wholesale, so
// all writes to one scope are serialized through a per-scope lock; a second
// writer always sees the first writer's result.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/willibrandon/harbor/internal/logger"
)

// Scope identifies one of the two settings scopes.
type Scope string

const (
	ScopeUser      Scope = "user"
	ScopeWorkspace Scope = "workspace"
)

// Well-known settings keys.
const (
	KeyGroups    = "connections.groups"
	KeyProfiles  = "connections.profiles"
	KeyMaxRecent = "connections.maxRecent"
)

// Store reads and writes the scoped settings files.
type Store struct {
	user      *scopeFile
	workspace *scopeFile
}

// scopeFile is one scope's viper instance plus its write lock.
type scopeFile struct {
	mu    sync.Mutex
	v     *viper.Viper
	path  string
	scope Scope
}

// DefaultUserPath returns the default user-scope settings path.
func DefaultUserPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.TempDir()
	}
	return filepath.Join(homeDir, ".config", "harbor", "settings.yaml")
}

// DefaultWorkspacePath returns the default workspace-scope settings path,
// relative to the working directory.
func DefaultWorkspacePath() string {
	return filepath.Join(".harbor", "settings.yaml")
}

// Open opens (creating if needed) the settings store over the two scope
// files.
func Open(userPath, workspacePath string) (*Store, error) {
	user, err := openScope(ScopeUser, userPath)
	if err != nil {
		return nil, err
	}
	workspace, err := openScope(ScopeWorkspace, workspacePath)
	if err != nil {
		return nil, err
	}
	return &Store{user: user, workspace: workspace}, nil
}

func openScope(scope Scope, path string) (*scopeFile, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault(KeyMaxRecent, 5)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			// Missing scope file is fine; it is created on first write.
			logger.Debug("Settings file absent", "scope", scope, "path", path)
		} else if _, ok := err.(*os.PathError); ok {
			logger.Debug("Settings file absent", "scope", scope, "path", path)
		} else {
			return nil, fmt.Errorf("error reading %s settings %s: %w", scope, path, err)
		}
	}
	return &scopeFile{v: v, path: path, scope: scope}, nil
}

func (s *Store) scopeFor(scope Scope) (*scopeFile, error) {
	switch scope {
	case ScopeUser:
		return s.user, nil
	case ScopeWorkspace:
		return s.workspace, nil
	default:
		return nil, fmt.Errorf("unknown settings scope %q", scope)
	}
}

// Get decodes the value stored under key in the given scope into out.
// A missing key leaves out untouched.
func (s *Store) Get(scope Scope, key string, out any) error {
	sf, err := s.scopeFor(scope)
	if err != nil {
		return err
	}
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if !sf.v.IsSet(key) {
		return nil
	}
	if err := sf.v.UnmarshalKey(key, out); err != nil {
		return fmt.Errorf("error decoding %s setting %q: %w", scope, key, err)
	}
	return nil
}

// GetInt returns an integer setting, preferring the workspace scope over
// the user scope, falling back to the registered default.
func (s *Store) GetInt(key string) int {
	s.workspace.mu.Lock()
	wsSet := s.workspace.v.IsSet(key) && s.workspace.v.InConfig(key)
	val := s.workspace.v.GetInt(key)
	s.workspace.mu.Unlock()
	if wsSet {
		return val
	}
	s.user.mu.Lock()
	defer s.user.mu.Unlock()
	return s.user.v.GetInt(key)
}

// Write sets key to value in the given scope and persists the scope file.
// Writes within one scope are serialized; the value is visible to every
// later Get.
func (s *Store) Write(scope Scope, key string, value any) error {
	sf, err := s.scopeFor(scope)
	if err != nil {
		return err
	}
	sf.mu.Lock()
	defer sf.mu.Unlock()

	sf.v.Set(key, value)
	if err := os.MkdirAll(filepath.Dir(sf.path), 0755); err != nil {
		return fmt.Errorf("error creating settings directory for %s: %w", sf.path, err)
	}
	if err := sf.v.WriteConfigAs(sf.path); err != nil {
		return fmt.Errorf("error writing %s settings: %w", scope, err)
	}
	logger.Debug("Settings written", "scope", scope, "key", key)
	return nil
}

// Reload re-reads both scope files from disk. Values written through this
// store since the last reload are discarded in favor of the file contents,
// so an external edit always wins.
func (s *Store) Reload() error {
	for _, sf := range []*scopeFile{s.user, s.workspace} {
		fresh, err := openScope(sf.scope, sf.path)
		if err != nil {
			return fmt.Errorf("error reloading %s settings: %w", sf.scope, err)
		}
		sf.mu.Lock()
		sf.v = fresh.v
		sf.mu.Unlock()
	}
	return nil
}

// Watch invokes fn with the changed scope whenever a scope file is modified
// externally. Only files that exist at call time are watched.
func (s *Store) Watch(fn func(Scope)) {
	for _, sf := range []*scopeFile{s.user, s.workspace} {
		if _, err := os.Stat(sf.path); err != nil {
			continue
		}
		scope := sf.scope
		sf.v.OnConfigChange(func(fsnotify.Event) {
			logger.Debug("Settings file changed on disk", "scope", scope)
			fn(scope)
		})
		sf.v.WatchConfig()
	}
}
