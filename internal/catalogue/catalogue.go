// Package catalogue maintains the persisted forest of connection profiles
// and groups across the user and workspace settings scopes.
package catalogue

import (
	"fmt"
	"strings"
	"sync"

	"github.com/willibrandon/harbor/internal/capabilities"
	"github.com/willibrandon/harbor/internal/ident"
	"github.com/willibrandon/harbor/internal/logger"
	"github.com/willibrandon/harbor/internal/models"
	"github.com/willibrandon/harbor/internal/settings"
)

// Catalogue reads and writes the persisted profile and group lists. Every
// mutation is a read-modify-write of a whole list, so mutations are
// serialized through a single lock: a second writer always observes the
// first writer's result.
type Catalogue struct {
	mu       sync.Mutex
	settings *settings.Store
	caps     *capabilities.Registry
}

// New returns a catalogue over the given settings store.
func New(st *settings.Store, caps *capabilities.Registry) *Catalogue {
	return &Catalogue{settings: st, caps: caps}
}

func (c *Catalogue) groupsFor(scope settings.Scope) ([]models.GroupRecord, error) {
	var groups []models.GroupRecord
	if err := c.settings.Get(scope, settings.KeyGroups, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func (c *Catalogue) profilesFor(scope settings.Scope) ([]models.ProfileRecord, error) {
	var profiles []models.ProfileRecord
	if err := c.settings.Get(scope, settings.KeyProfiles, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

// mergedArena merges the workspace and user group lists into one logical
// forest. Workspace groups take precedence: a user-scope group is dropped
// when a workspace-scope group exists with the same name and parent, since
// ids are scope-local and only the (name, parentId) pair identifies a group
// across scopes.
func (c *Catalogue) mergedArena() (*models.GroupArena, error) {
	workspace, err := c.groupsFor(settings.ScopeWorkspace)
	if err != nil {
		return nil, err
	}
	user, err := c.groupsFor(settings.ScopeUser)
	if err != nil {
		return nil, err
	}

	arena := models.NewGroupArena(workspace)
	for _, rec := range user {
		if _, dup := arena.FindChild(rec.ParentID, rec.Name); dup {
			continue
		}
		arena.Add(&models.ConnectionProfileGroup{ID: rec.ID, Name: rec.Name, ParentID: rec.ParentID})
	}
	return arena, nil
}

// AllGroups returns the merged group forest.
func (c *Catalogue) AllGroups() (*models.GroupArena, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mergedArena()
}

// ProfileRecords returns the stored profile records from both scopes,
// workspace first, deduplicated by group-qualified identity.
func (c *Catalogue) ProfileRecords() ([]models.ProfileRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profileRecordsLocked()
}

func (c *Catalogue) profileRecordsLocked() ([]models.ProfileRecord, error) {
	workspace, err := c.profilesFor(settings.ScopeWorkspace)
	if err != nil {
		return nil, err
	}
	user, err := c.profilesFor(settings.ScopeUser)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	out := make([]models.ProfileRecord, 0, len(workspace)+len(user))
	for _, rec := range append(workspace, user...) {
		id := models.RecordUniqueID(rec, c.caps.Get(rec.ProviderName))
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, rec)
	}
	return out, nil
}

// resolvePath walks the merged forest segment by segment, descending into
// an existing same-name child or synthesizing a missing one. New groups are
// appended to created; repeated calls with overlapping paths reuse earlier
// segments rather than duplicating siblings.
func resolvePath(arena *models.GroupArena, fullName string) (groupID string, created []*models.ConnectionProfileGroup) {
	parentID := ""
	for _, segment := range strings.Split(fullName, "/") {
		if segment == "" {
			continue
		}
		if existing, ok := arena.FindChild(parentID, segment); ok {
			parentID = existing.ID
			continue
		}
		g := &models.ConnectionProfileGroup{
			ID:       ident.NewGUID(),
			Name:     segment,
			ParentID: parentID,
		}
		arena.Add(g)
		created = append(created, g)
		parentID = g.ID
	}
	return parentID, created
}

// AddConnection persists the profile, creating every missing segment of its
// group path. The stored record replaces any existing record with the same
// group-qualified identity, so re-saving a profile updates it in place.
// Returns the saved profile carrying its concrete group id.
func (c *Catalogue) AddConnection(profile *models.ConnectionProfile) (*models.ConnectionProfile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	saved := profile.Clone()

	if saved.GroupFullName != "" {
		arena, err := c.mergedArena()
		if err != nil {
			return nil, err
		}
		groupID, createdGroups := resolvePath(arena, saved.GroupFullName)
		saved.GroupID = groupID

		if len(createdGroups) > 0 {
			userGroups, err := c.groupsFor(settings.ScopeUser)
			if err != nil {
				return nil, err
			}
			for _, g := range createdGroups {
				userGroups = append(userGroups, models.GroupRecord{ID: g.ID, Name: g.Name, ParentID: g.ParentID})
			}
			if err := c.settings.Write(settings.ScopeUser, settings.KeyGroups, userGroups); err != nil {
				return nil, err
			}
			logger.Debug("Created connection groups", "path", saved.GroupFullName, "count", len(createdGroups))
		}
	}

	if err := c.replaceProfileLocked(saved); err != nil {
		return nil, err
	}
	logger.Info("Connection profile saved",
		"provider", saved.ProviderName,
		"server", saved.ServerName(),
		"group", saved.GroupFullName,
	)
	return saved, nil
}

// replaceProfileLocked writes the profile into the user-scope list,
// replacing a record with the same group-qualified identity.
func (c *Catalogue) replaceProfileLocked(profile *models.ConnectionProfile) error {
	records, err := c.profilesFor(settings.ScopeUser)
	if err != nil {
		return err
	}
	id := profile.UniqueID()
	out := make([]models.ProfileRecord, 0, len(records)+1)
	for _, rec := range records {
		if models.RecordUniqueID(rec, c.caps.Get(rec.ProviderName)) == id {
			continue
		}
		out = append(out, rec)
	}
	out = append(out, profile.ToRecord(false))
	return c.settings.Write(settings.ScopeUser, settings.KeyProfiles, out)
}

// DeleteConnection removes the profile's stored record from the user scope.
// Removing an absent profile is a no-op.
func (c *Catalogue) DeleteConnection(profile *models.ConnectionProfile) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.profilesFor(settings.ScopeUser)
	if err != nil {
		return err
	}
	id := profile.UniqueID()
	out := records[:0]
	for _, rec := range records {
		if models.RecordUniqueID(rec, c.caps.Get(rec.ProviderName)) != id {
			out = append(out, rec)
		}
	}
	return c.settings.Write(settings.ScopeUser, settings.KeyProfiles, out)
}

// DeleteGroupResult reports what a group deletion removed.
type DeleteGroupResult struct {
	RemovedGroups   int
	RemovedProfiles int
}

// CollectGroupContents returns the profiles filed under the group or any of
// its descendants, rehydrated, plus the descendant subgroup ids. Callers
// disconnect the collected profiles before committing the deletion; the
// catalogue never removes a group out from under live sessions.
func (c *Catalogue) CollectGroupContents(groupID string) ([]*models.ConnectionProfile, []string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collectGroupContentsLocked(groupID)
}

func (c *Catalogue) collectGroupContentsLocked(groupID string) ([]*models.ConnectionProfile, []string, error) {
	arena, err := c.mergedArena()
	if err != nil {
		return nil, nil, err
	}
	if _, ok := arena.Get(groupID); !ok {
		return nil, nil, fmt.Errorf("connection group %q not found", groupID)
	}

	doomed := map[string]bool{groupID: true}
	var subgroups []string
	for _, g := range arena.Descendants(groupID) {
		doomed[g.ID] = true
		subgroups = append(subgroups, g.ID)
	}

	records, err := c.profileRecordsLocked()
	if err != nil {
		return nil, nil, err
	}
	var profiles []*models.ConnectionProfile
	for _, rec := range records {
		if doomed[rec.GroupID] {
			profiles = append(profiles, models.ProfileFromRecord(rec, c.caps.Get(rec.ProviderName)))
		}
	}
	return profiles, subgroups, nil
}

// DeleteGroup removes the group, every descendant subgroup, and every
// profile filed under any of them, in one settings update per list. The
// orchestrator must have disconnected the affected sessions first; on a
// failed disconnect it never calls this.
func (c *Catalogue) DeleteGroup(groupID string) (DeleteGroupResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result DeleteGroupResult

	arena, err := c.mergedArena()
	if err != nil {
		return result, err
	}
	if _, ok := arena.Get(groupID); !ok {
		return result, fmt.Errorf("connection group %q not found", groupID)
	}
	doomed := map[string]bool{groupID: true}
	for _, g := range arena.Descendants(groupID) {
		doomed[g.ID] = true
	}

	profiles, err := c.profilesFor(settings.ScopeUser)
	if err != nil {
		return result, err
	}
	keptProfiles := profiles[:0]
	for _, rec := range profiles {
		if doomed[rec.GroupID] {
			result.RemovedProfiles++
			continue
		}
		keptProfiles = append(keptProfiles, rec)
	}

	groups, err := c.groupsFor(settings.ScopeUser)
	if err != nil {
		return result, err
	}
	keptGroups := groups[:0]
	for _, rec := range groups {
		if doomed[rec.ID] {
			result.RemovedGroups++
			continue
		}
		keptGroups = append(keptGroups, rec)
	}

	if err := c.settings.Write(settings.ScopeUser, settings.KeyProfiles, keptProfiles); err != nil {
		return result, err
	}
	if err := c.settings.Write(settings.ScopeUser, settings.KeyGroups, keptGroups); err != nil {
		return result, err
	}
	logger.Info("Connection group deleted",
		"group", groupID,
		"removed_groups", result.RemovedGroups,
		"removed_profiles", result.RemovedProfiles,
	)
	return result, nil
}

// RenameGroup changes the group's display name.
func (c *Catalogue) RenameGroup(groupID, newName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	groups, err := c.groupsFor(settings.ScopeUser)
	if err != nil {
		return err
	}
	found := false
	for i := range groups {
		if groups[i].ID == groupID {
			groups[i].Name = newName
			found = true
		}
	}
	if !found {
		return fmt.Errorf("connection group %q not found", groupID)
	}
	return c.settings.Write(settings.ScopeUser, settings.KeyGroups, groups)
}

// ChangeGroupForGroup re-parents a group under a new parent.
func (c *Catalogue) ChangeGroupForGroup(groupID, newParentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	groups, err := c.groupsFor(settings.ScopeUser)
	if err != nil {
		return err
	}
	found := false
	for i := range groups {
		if groups[i].ID == groupID {
			groups[i].ParentID = newParentID
			found = true
		}
	}
	if !found {
		return fmt.Errorf("connection group %q not found", groupID)
	}
	return c.settings.Write(settings.ScopeUser, settings.KeyGroups, groups)
}

// ChangeGroupForConnection re-files a profile under a new group. A profile
// currently under the unsaved pseudo-group is inserted instead (promotion
// from unsaved to saved).
func (c *Catalogue) ChangeGroupForConnection(profile *models.ConnectionProfile, newGroupID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.profilesFor(settings.ScopeUser)
	if err != nil {
		return err
	}
	oldID := profile.UniqueID()
	wasUnsaved := profile.GroupID == "" || profile.GroupID == models.UnsavedGroupID

	found := false
	for i, rec := range records {
		if models.RecordUniqueID(rec, c.caps.Get(rec.ProviderName)) == oldID {
			records[i].GroupID = newGroupID
			found = true
		}
	}
	if !found {
		if !wasUnsaved {
			return fmt.Errorf("connection profile %q not found", profile.ShortName())
		}
		moved := profile.Clone()
		moved.GroupID = newGroupID
		records = append(records, moved.ToRecord(false))
	}
	profile.GroupID = newGroupID
	return c.settings.Write(settings.ScopeUser, settings.KeyProfiles, records)
}
