package saml

import (
	"github.com/platinummonkey/samlgate/pkg/config"
)

// Mapper translates a validated principal into a normalized user identity
// using the configured attribute names.
type Mapper struct {
	Settings func() config.Settings
}

// NewMapper builds a mapper over the current configuration.
func NewMapper(cfg *config.Config) *Mapper {
	return &Mapper{Settings: cfg.Settings}
}

// Map extracts the identity fields. Login and name are required: a missing
// or empty value fails the whole mapping. Email is optional and taken from
// the first value; groups are optional and keep every non-empty value.
func (m *Mapper) Map(principal *Principal) (*UserIdentity, error) {
	s := m.Settings()

	login, ok := principal.First(s.UserLoginAttribute)
	if !ok || login == "" {
		return nil, &MappingError{Field: "login"}
	}
	name, ok := principal.First(s.UserNameAttribute)
	if !ok || name == "" {
		return nil, &MappingError{Field: "name"}
	}

	identity := &UserIdentity{Login: login, Name: name}

	if s.UserEmailAttribute != "" {
		if email, ok := principal.First(s.UserEmailAttribute); ok && email != "" {
			identity.Email = email
		}
	}
	if s.GroupNameAttribute != "" {
		identity.Groups = normalizeGroups(principal.Attribute(s.GroupNameAttribute))
	}

	return identity, nil
}

// normalizeGroups drops empty values and duplicates while preserving
// assertion order. A result with no groups is nil so the field is omitted
// from serialized identities.
func normalizeGroups(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	var groups []string
	for _, g := range values {
		if g == "" {
			continue
		}
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		groups = append(groups, g)
	}
	return groups
}
