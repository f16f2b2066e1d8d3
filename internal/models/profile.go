// Package models defines the connection profile, group, and session data
// structures shared across the harbor connection subsystem.
package models

import (
	"fmt"
	"sort"
	"strings"
)

// UnsavedGroupID is the pseudo-group id under which profiles live before
// they are first persisted to the catalogue.
const UnsavedGroupID = "unsaved"

// ConnectionProfile is an addressable definition of how to reach one
// external server/database with one identity, plus its save preferences.
//
// A profile is treated as effectively immutable once handed to the status
// manager; components that need their own view take a Clone.
type ConnectionProfile struct {
	ProviderName  string
	Options       map[string]string
	GroupID       string // empty = unsaved
	GroupFullName string // slash-delimited path, e.g. "A/B/C"
	SavePassword  bool
	SaveProfile   bool

	caps *ProviderCapabilities // nil until the provider registers
}

// NewProfile constructs a profile from raw user input.
func NewProfile(providerName string, options map[string]string, caps *ProviderCapabilities) *ConnectionProfile {
	opts := make(map[string]string, len(options))
	for k, v := range options {
		opts[k] = v
	}
	return &ConnectionProfile{
		ProviderName: providerName,
		Options:      opts,
		SaveProfile:  true,
		caps:         caps,
	}
}

// Capabilities returns the capability declaration the profile was resolved
// against, or nil if its provider has not registered yet.
func (p *ConnectionProfile) Capabilities() *ProviderCapabilities {
	return p.caps
}

// SetCapabilities re-resolves the profile against a newly registered
// capability declaration. Idempotent; ignores a mismatched provider.
func (p *ConnectionProfile) SetCapabilities(caps *ProviderCapabilities) {
	if caps == nil || caps.ProviderName != p.ProviderName {
		return
	}
	p.caps = caps
}

// Clone returns a deep copy of the profile, including the option bag.
func (p *ConnectionProfile) Clone() *ConnectionProfile {
	opts := make(map[string]string, len(p.Options))
	for k, v := range p.Options {
		opts[k] = v
	}
	cp := *p
	cp.Options = opts
	return &cp
}

// option returns the value of the option with the given well-known kind.
func (p *ConnectionProfile) option(kind OptionKind) string {
	if p.caps != nil {
		if name, ok := p.caps.OptionName(kind); ok {
			return p.Options[name]
		}
	}
	// Fall back to conventional names when the provider has not registered.
	return p.Options[string(kind)]
}

// ServerName returns the server address option value.
func (p *ConnectionProfile) ServerName() string { return p.option(OptionKindServerName) }

// DatabaseName returns the database option value.
func (p *ConnectionProfile) DatabaseName() string { return p.option(OptionKindDatabaseName) }

// UserName returns the user option value.
func (p *ConnectionProfile) UserName() string { return p.option(OptionKindUserName) }

// AuthType returns the auth-mode option value.
func (p *ConnectionProfile) AuthType() string { return p.option(OptionKindAuthType) }

// Password returns the password option value.
func (p *ConnectionProfile) Password() string { return p.option(OptionKindPassword) }

// SetPassword fills the password option in memory only.
func (p *ConnectionProfile) SetPassword(password string) {
	name := string(OptionKindPassword)
	if p.caps != nil {
		if n, ok := p.caps.OptionName(OptionKindPassword); ok {
			name = n
		}
	}
	if p.Options == nil {
		p.Options = make(map[string]string)
	}
	p.Options[name] = password
}

// SetDatabaseName overwrites the database option value.
func (p *ConnectionProfile) SetDatabaseName(database string) {
	name := string(OptionKindDatabaseName)
	if p.caps != nil {
		if n, ok := p.caps.OptionName(OptionKindDatabaseName); ok {
			name = n
		}
	}
	if p.Options == nil {
		p.Options = make(map[string]string)
	}
	p.Options[name] = database
}

// identityParts returns the identity option name/value pairs in a stable
// order. The password never participates.
func (p *ConnectionProfile) identityParts() []string {
	var names []string
	if p.caps != nil {
		names = p.caps.IdentityOptions()
	} else {
		// No capability declaration yet: every option except the password
		// counts, sorted for stability.
		pwName := string(OptionKindPassword)
		for name := range p.Options {
			if name != pwName {
				names = append(names, name)
			}
		}
		sort.Strings(names)
	}
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s:%s", name, p.Options[name]))
	}
	return parts
}

// ConnectionInfoID is the group-independent identity of the profile: two
// copies of the same server definition filed under different groups share
// it. Used for MRU tracking and credential lookup.
func (p *ConnectionProfile) ConnectionInfoID() string {
	return fmt.Sprintf("provider:%s|%s", p.ProviderName, strings.Join(p.identityParts(), "|"))
}

// UniqueID is the group-qualified identity used for catalogue storage
// uniqueness. Profiles with equal identity fields produce equal ids
// regardless of object identity; the password never contributes.
func (p *ConnectionProfile) UniqueID() string {
	group := p.GroupID
	if group == "" {
		group = UnsavedGroupID
	}
	return fmt.Sprintf("%s|group:%s", p.ConnectionInfoID(), group)
}

// ShortName returns server/database for display.
func (p *ConnectionProfile) ShortName() string {
	server := p.ServerName()
	db := p.DatabaseName()
	if db == "" {
		return server
	}
	return server + "/" + db
}
