package models

// ProfileRecord is the serialization-stable shape of a connection profile
// written to the settings scopes. It deliberately omits every in-memory
// field of ConnectionProfile.
type ProfileRecord struct {
	Options      map[string]string `json:"options" yaml:"options" mapstructure:"options"`
	GroupID      string            `json:"groupId" yaml:"groupId" mapstructure:"groupId"`
	ProviderName string            `json:"providerName" yaml:"providerName" mapstructure:"providerName"`
	SavePassword bool              `json:"savePassword" yaml:"savePassword" mapstructure:"savePassword"`
}

// ToRecord converts the profile into its persisted shape. The password is
// stripped unless keepPassword is set; plaintext persistence is an explicit
// caller decision, never a default.
func (p *ConnectionProfile) ToRecord(keepPassword bool) ProfileRecord {
	opts := make(map[string]string, len(p.Options))
	pwName := string(OptionKindPassword)
	if p.caps != nil {
		if n, ok := p.caps.OptionName(OptionKindPassword); ok {
			pwName = n
		}
	}
	for k, v := range p.Options {
		if k == pwName && !keepPassword {
			continue
		}
		opts[k] = v
	}
	return ProfileRecord{
		Options:      opts,
		GroupID:      p.GroupID,
		ProviderName: p.ProviderName,
		SavePassword: p.SavePassword,
	}
}

// ProfileFromRecord rehydrates a stored record into a live profile against
// the current capability declaration. caps may be nil when the provider has
// not registered yet; derived fields stay generic until a later
// capability-registration event re-resolves them.
func ProfileFromRecord(rec ProfileRecord, caps *ProviderCapabilities) *ConnectionProfile {
	opts := make(map[string]string, len(rec.Options))
	for k, v := range rec.Options {
		opts[k] = v
	}
	return &ConnectionProfile{
		ProviderName: rec.ProviderName,
		Options:      opts,
		GroupID:      rec.GroupID,
		SavePassword: rec.SavePassword,
		SaveProfile:  true,
		caps:         caps,
	}
}

// RecordUniqueID computes the group-qualified identity of a stored record
// without fully rehydrating it.
func RecordUniqueID(rec ProfileRecord, caps *ProviderCapabilities) string {
	return ProfileFromRecord(rec, caps).UniqueID()
}
