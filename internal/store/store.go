// Package store combines the persisted catalogue with the credential store
// and the most-recently-used / active-connection mementos.
package store

import (
	"fmt"

	"github.com/willibrandon/harbor/internal/capabilities"
	"github.com/willibrandon/harbor/internal/catalogue"
	"github.com/willibrandon/harbor/internal/logger"
	"github.com/willibrandon/harbor/internal/memento"
	"github.com/willibrandon/harbor/internal/models"
	"github.com/willibrandon/harbor/internal/secrets"
	"github.com/willibrandon/harbor/internal/settings"
)

// CredentialItemType tags what kind of list a stored credential belongs to.
type CredentialItemType string

const (
	CredentialItemProfile CredentialItemType = "Profile"
	CredentialItemMru     CredentialItemType = "Mru"
)

const credentialPrefix = "Harbor"

// Memento keys for the bounded connection lists.
const (
	mementoRecentKey = "connections.recent"
	mementoActiveKey = "connections.active"
)

// DefaultMaxRecent bounds the MRU list when no override is configured.
const DefaultMaxRecent = 5

// CredentialID formats the deterministic secret-store key for a profile.
// The key is a lookup handle only; the password itself is never derived
// from it.
func CredentialID(itemType CredentialItemType, profile *models.ConnectionProfile) string {
	return fmt.Sprintf("%s|itemtype:%s|id:%s", credentialPrefix, itemType, profile.ConnectionInfoID())
}

// Store is the connection store.
type Store struct {
	catalogue *catalogue.Catalogue
	secrets   *secrets.Store
	memento   *memento.Store
	caps      *capabilities.Registry
	settings  *settings.Store
}

// New assembles a connection store from its collaborators.
func New(cat *catalogue.Catalogue, sec *secrets.Store, mem *memento.Store, caps *capabilities.Registry, st *settings.Store) *Store {
	return &Store{catalogue: cat, secrets: sec, memento: mem, caps: caps, settings: st}
}

// Catalogue exposes the underlying catalogue for group operations.
func (s *Store) Catalogue() *catalogue.Catalogue { return s.catalogue }

// MaxRecent returns the configured MRU bound.
func (s *Store) MaxRecent() int {
	if n := s.settings.GetInt(settings.KeyMaxRecent); n > 0 {
		return n
	}
	return DefaultMaxRecent
}

// AddSavedPassword fills the profile's password from the credential store.
// No-op when the password is already populated or the provider's capability
// declaration says none is required for the profile's auth mode. Only the
// in-memory profile is touched.
func (s *Store) AddSavedPassword(profile *models.ConnectionProfile) error {
	if profile.Password() != "" {
		return nil
	}
	caps := profile.Capabilities()
	if caps == nil {
		caps = s.caps.Get(profile.ProviderName)
		profile.SetCapabilities(caps)
	}
	if caps != nil && !caps.PasswordRequired(profile.Options) {
		return nil
	}

	cred, ok, err := s.secrets.Read(CredentialID(CredentialItemProfile, profile))
	if err != nil {
		return fmt.Errorf("credential lookup failed: %w", err)
	}
	if ok {
		profile.SetPassword(cred.Password)
	}
	return nil
}

// SaveProfile persists the profile to the catalogue, then saves its
// password to the credential store when SavePassword is set. The catalogue
// record never carries the plaintext.
func (s *Store) SaveProfile(profile *models.ConnectionProfile) (*models.ConnectionProfile, error) {
	saved, err := s.catalogue.AddConnection(profile)
	if err != nil {
		return nil, err
	}
	if saved.SavePassword && saved.Password() != "" {
		if _, err := s.secrets.Save(CredentialID(CredentialItemProfile, saved), saved.Password()); err != nil {
			// The profile is saved; the credential failure is the caller's
			// to surface.
			return saved, fmt.Errorf("profile saved but password save failed: %w", err)
		}
	}
	return saved, nil
}

// DeleteProfile removes the profile from the catalogue and deletes its
// stored credential.
func (s *Store) DeleteProfile(profile *models.ConnectionProfile) error {
	if err := s.catalogue.DeleteConnection(profile); err != nil {
		return err
	}
	if _, err := s.secrets.Delete(CredentialID(CredentialItemProfile, profile)); err != nil {
		logger.Warn("Failed to delete stored credential", "profile", profile.ShortName(), "error", err)
	}
	return nil
}

// Profiles returns the catalogue's stored profiles rehydrated against the
// current capability declarations. Records whose provider has not
// registered stay generic until a later registration event.
func (s *Store) Profiles() ([]*models.ConnectionProfile, error) {
	records, err := s.catalogue.ProfileRecords()
	if err != nil {
		return nil, err
	}
	return s.rehydrate(records), nil
}

func (s *Store) rehydrate(records []models.ProfileRecord) []*models.ConnectionProfile {
	arena, err := s.catalogue.AllGroups()
	if err != nil {
		logger.Warn("Failed to load groups during rehydration", "error", err)
		arena = models.NewGroupArena(nil)
	}
	out := make([]*models.ConnectionProfile, 0, len(records))
	for _, rec := range records {
		p := models.ProfileFromRecord(rec, s.caps.Get(rec.ProviderName))
		p.GroupFullName = arena.FullName(rec.GroupID)
		out = append(out, p)
	}
	return out
}

// listFromMemento loads one bounded list.
func (s *Store) listFromMemento(key string) ([]models.ProfileRecord, error) {
	var records []models.ProfileRecord
	if err := s.memento.Get(key, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// addToMemento inserts the profile at the front of the list under key,
// removing any prior entry for the same underlying connection and
// truncating to max. Identity for dedup is the group-independent
// connection-info id.
func (s *Store) addToMemento(key string, profile *models.ConnectionProfile, max int) error {
	records, err := s.listFromMemento(key)
	if err != nil {
		return err
	}

	infoID := profile.ConnectionInfoID()
	kept := make([]models.ProfileRecord, 0, len(records)+1)
	kept = append(kept, profile.ToRecord(false))
	for _, rec := range records {
		existing := models.ProfileFromRecord(rec, s.caps.Get(rec.ProviderName))
		if existing.ConnectionInfoID() == infoID {
			continue
		}
		kept = append(kept, rec)
	}
	if max > 0 && len(kept) > max {
		kept = kept[:max]
	}
	return s.memento.Set(key, kept)
}

func (s *Store) removeFromMemento(key string, profile *models.ConnectionProfile) error {
	records, err := s.listFromMemento(key)
	if err != nil {
		return err
	}
	infoID := profile.ConnectionInfoID()
	kept := records[:0]
	for _, rec := range records {
		existing := models.ProfileFromRecord(rec, s.caps.Get(rec.ProviderName))
		if existing.ConnectionInfoID() != infoID {
			kept = append(kept, rec)
		}
	}
	return s.memento.Set(key, kept)
}

// AddRecentConnection pushes the profile onto the MRU list and, when
// SavePassword is set, persists the password under the Mru credential tag.
func (s *Store) AddRecentConnection(profile *models.ConnectionProfile) error {
	if err := s.addToMemento(mementoRecentKey, profile, s.MaxRecent()); err != nil {
		return err
	}
	if profile.SavePassword && profile.Password() != "" {
		if _, err := s.secrets.Save(CredentialID(CredentialItemMru, profile), profile.Password()); err != nil {
			logger.Warn("Failed to save MRU credential", "profile", profile.ShortName(), "error", err)
		}
	}
	return nil
}

// RemoveRecentConnection drops the profile from the MRU list.
func (s *Store) RemoveRecentConnection(profile *models.ConnectionProfile) error {
	return s.removeFromMemento(mementoRecentKey, profile)
}

// ClearRecentConnections empties the MRU list.
func (s *Store) ClearRecentConnections() error {
	return s.memento.Set(mementoRecentKey, []models.ProfileRecord{})
}

// RecentConnections returns the MRU list, most recent first.
func (s *Store) RecentConnections() ([]*models.ConnectionProfile, error) {
	records, err := s.listFromMemento(mementoRecentKey)
	if err != nil {
		return nil, err
	}
	return s.rehydrate(records), nil
}

// AddActiveConnection records the profile on the active list. The active
// list is unbounded; it mirrors the live session table across restarts of
// the UI layer.
func (s *Store) AddActiveConnection(profile *models.ConnectionProfile) error {
	return s.addToMemento(mementoActiveKey, profile, 0)
}

// RemoveActiveConnection drops the profile from the active list.
func (s *Store) RemoveActiveConnection(profile *models.ConnectionProfile) error {
	return s.removeFromMemento(mementoActiveKey, profile)
}

// ActiveConnections returns the persisted active list.
func (s *Store) ActiveConnections() ([]*models.ConnectionProfile, error) {
	records, err := s.listFromMemento(mementoActiveKey)
	if err != nil {
		return nil, err
	}
	return s.rehydrate(records), nil
}
