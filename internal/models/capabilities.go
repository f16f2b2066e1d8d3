package models

// OptionKind marks the well-known role of a connection option.
type OptionKind string

const (
	OptionKindServerName   OptionKind = "serverName"
	OptionKindDatabaseName OptionKind = "databaseName"
	OptionKindUserName     OptionKind = "userName"
	OptionKindPassword     OptionKind = "password"
	OptionKindAuthType     OptionKind = "authType"
	OptionKindNone         OptionKind = ""
)

// AuthTypeIntegrated is the auth-mode value under which a provider
// authenticates without a password.
const AuthTypeIntegrated = "Integrated"

// ConnectionOption describes one option field a provider supports.
type ConnectionOption struct {
	Name       string     `json:"name"`
	Kind       OptionKind `json:"kind"`
	IsIdentity bool       `json:"isIdentity"`
	IsRequired bool       `json:"isRequired"`
}

// ProviderCapabilities declares the option fields one provider supports,
// which of them are identity-bearing, and which are required.
type ProviderCapabilities struct {
	ProviderName      string             `json:"providerName"`
	DisplayName       string             `json:"displayName"`
	ConnectionOptions []ConnectionOption `json:"connectionOptions"`
}

// IdentityOptions returns the names of the identity-bearing options, in
// declaration order. Identity options never include the password.
func (c *ProviderCapabilities) IdentityOptions() []string {
	var names []string
	for _, opt := range c.ConnectionOptions {
		if opt.IsIdentity && opt.Kind != OptionKindPassword {
			names = append(names, opt.Name)
		}
	}
	return names
}

// OptionName returns the declared name of the option with the given kind.
func (c *ProviderCapabilities) OptionName(kind OptionKind) (string, bool) {
	for _, opt := range c.ConnectionOptions {
		if opt.Kind == kind {
			return opt.Name, true
		}
	}
	return "", false
}

// PasswordRequired reports whether a password is required for the given
// option values. Integrated auth never requires one.
func (c *ProviderCapabilities) PasswordRequired(options map[string]string) bool {
	pwName, ok := c.OptionName(OptionKindPassword)
	if !ok {
		return false
	}
	var required bool
	for _, opt := range c.ConnectionOptions {
		if opt.Name == pwName {
			required = opt.IsRequired
			break
		}
	}
	if !required {
		return false
	}
	if authName, ok := c.OptionName(OptionKindAuthType); ok {
		if options[authName] == AuthTypeIntegrated {
			return false
		}
	}
	return true
}

// MissingRequiredOptions returns the names of required non-password options
// with empty values, used for pre-transport validation.
func (c *ProviderCapabilities) MissingRequiredOptions(options map[string]string) []string {
	var missing []string
	for _, opt := range c.ConnectionOptions {
		if !opt.IsRequired || opt.Kind == OptionKindPassword {
			continue
		}
		if opt.Kind == OptionKindUserName {
			// User name is only required outside integrated auth.
			if authName, ok := c.OptionName(OptionKindAuthType); ok && options[authName] == AuthTypeIntegrated {
				continue
			}
		}
		if options[opt.Name] == "" {
			missing = append(missing, opt.Name)
		}
	}
	return missing
}
