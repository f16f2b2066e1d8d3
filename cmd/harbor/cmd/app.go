package cmd

import (
	"os"
	"path/filepath"

	"github.com/pterm/pterm"

	"github.com/willibrandon/harbor/internal/capabilities"
	"github.com/willibrandon/harbor/internal/catalogue"
	"github.com/willibrandon/harbor/internal/logger"
	"github.com/willibrandon/harbor/internal/manager"
	"github.com/willibrandon/harbor/internal/memento"
	"github.com/willibrandon/harbor/internal/models"
	"github.com/willibrandon/harbor/internal/provider"
	"github.com/willibrandon/harbor/internal/provider/pgsql"
	"github.com/willibrandon/harbor/internal/secrets"
	"github.com/willibrandon/harbor/internal/settings"
	"github.com/willibrandon/harbor/internal/status"
	"github.com/willibrandon/harbor/internal/store"
)

// app bundles the wired-up connection subsystem for one CLI invocation.
// Everything is injected explicitly; there is no ambient global service.
type app struct {
	settings *settings.Store
	memento  *memento.Store
	manager  *manager.Manager
}

func configDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.TempDir()
	}
	return filepath.Join(homeDir, ".config", "harbor")
}

// newApp assembles the settings store, credential store, memento, the
// PGSQL transport, and the connection manager.
func newApp() (*app, error) {
	st, err := settings.Open(settings.DefaultUserPath(), settings.DefaultWorkspacePath())
	if err != nil {
		return nil, err
	}
	// An external editor touching a scope file mid-run refreshes the store.
	st.Watch(func(scope settings.Scope) {
		if err := st.Reload(); err != nil {
			logger.Warn("Settings reload failed", "scope", scope, "error", err)
		}
	})
	sec, err := secrets.Open(configDir())
	if err != nil {
		return nil, err
	}
	mem, err := memento.Open(filepath.Join(configDir(), "memento.db"))
	if err != nil {
		return nil, err
	}

	caps := capabilities.NewRegistry()
	cat := catalogue.New(st, caps)
	cs := store.New(cat, sec, mem, caps, st)
	sm := status.NewManager()
	transports := provider.NewRegistry()

	mgr := manager.New(sm, cs, caps, transports, dialogFallback)

	transports.Register(pgsql.ProviderName, pgsql.New(mgr))
	caps.Register(pgsql.Capabilities())

	return &app{settings: st, memento: mem, manager: mgr}, nil
}

func (a *app) close() {
	a.memento.Close()
}

// dialogFallback stands in for the interactive connection dialog: the CLI
// surfaces the pre-filled profile and error inline instead.
func dialogFallback(profile *models.ConnectionProfile, message string) {
	pterm.Warning.Printfln("Connection to %s needs attention: %s", profile.ShortName(), message)
	pterm.Info.Println("Re-run with the missing options supplied.")
}
