package saml

import (
	"encoding/base64"
	"fmt"
	"regexp"

	"github.com/platinummonkey/samlgate/pkg/config"
)

// Status is the diagnostic outcome of a validation run, rendered on the
// admin-facing status page.
type Status struct {
	Status              string              `json:"status"`
	Errors              []string            `json:"errors"`
	Warnings            []string            `json:"warnings"`
	AvailableAttributes map[string][]string `json:"availableAttributes"`
	MappedAttributes    map[string][]string `json:"mappedAttributes"`
	SignatureEnabled    bool                `json:"signatureEnabled"`
	EncryptionEnabled   bool                `json:"encryptionEnabled"`
}

const (
	statusSuccess = "success"
	statusError   = "error"
)

const (
	msgMappingNotFound = "Mapping not found for the property %s, the field %s is not available in the SAML response."
	msgMappingEmpty    = "Mapping found for the property %s, but the field %s is empty in the SAML response."
)

var encryptedAssertionPattern = regexp.MustCompile(`<(\w+:)?EncryptedAssertion([\s>])`)

// StatusReporter builds validation statuses from authentication outcomes.
type StatusReporter struct {
	Settings func() config.Settings
}

// NewStatusReporter builds a reporter over the current configuration.
func NewStatusReporter(cfg *config.Config) *StatusReporter {
	return &StatusReporter{Settings: cfg.Settings}
}

// BuildErrorStatus produces the status for a run that failed before any
// attributes were extracted.
func (r *StatusReporter) BuildErrorStatus(messages ...string) *Status {
	return &Status{
		Status:              statusError,
		Errors:              append([]string(nil), messages...),
		Warnings:            []string{},
		AvailableAttributes: map[string][]string{},
		MappedAttributes:    map[string][]string{},
		SignatureEnabled:    r.Settings().SignRequests,
	}
}

type mapping struct {
	property  string
	attribute string
}

// BuildStatus inspects a validated principal against the configured
// mappings. Required mappings (login, name) that cannot be satisfied are
// errors, checked in two passes: missing attributes first, and only when
// none are missing, attributes present with empty values. Optional
// mappings (email, group) produce missing-attribute warnings, reported
// only when there are no errors.
func (r *StatusReporter) BuildStatus(principal *Principal) *Status {
	s := r.Settings()
	available := principal.Attributes()

	required := []mapping{
		{config.KeyUserLoginAttribute, s.UserLoginAttribute},
		{config.KeyUserNameAttribute, s.UserNameAttribute},
	}
	optional := []mapping{
		{config.KeyUserEmailAttribute, s.UserEmailAttribute},
		{config.KeyGroupNameAttribute, s.GroupNameAttribute},
	}

	var errors []string
	for _, m := range required {
		if m.attribute == "" {
			continue
		}
		if _, ok := available[m.attribute]; !ok {
			errors = append(errors, fmt.Sprintf(msgMappingNotFound, m.property, m.attribute))
		}
	}
	if len(errors) == 0 {
		for _, m := range required {
			if m.attribute == "" {
				continue
			}
			if values, ok := available[m.attribute]; ok && allEmpty(values) {
				errors = append(errors, fmt.Sprintf(msgMappingEmpty, m.property, m.attribute))
			}
		}
	}

	var warnings []string
	if len(errors) == 0 {
		for _, m := range optional {
			if m.attribute == "" {
				continue
			}
			if _, ok := available[m.attribute]; !ok {
				warnings = append(warnings, fmt.Sprintf(msgMappingNotFound, m.property, m.attribute))
			}
		}
	}

	mapped := map[string][]string{}
	for _, m := range append(required, optional...) {
		if m.attribute == "" {
			continue
		}
		if values, ok := available[m.attribute]; ok && !allEmpty(values) {
			mapped[m.property] = append([]string(nil), values...)
		}
	}

	status := statusSuccess
	if len(errors) > 0 {
		status = statusError
	}

	return &Status{
		Status:              status,
		Errors:              emptyIfNil(errors),
		Warnings:            emptyIfNil(warnings),
		AvailableAttributes: available,
		MappedAttributes:    mapped,
		SignatureEnabled:    s.SignRequests,
		EncryptionEnabled:   responseEncrypted(principal.RawResponse()),
	}
}

// responseEncrypted reports whether the response carries an encrypted
// assertion, detected textually so it works on responses gosaml2 already
// decrypted in place.
func responseEncrypted(raw string) bool {
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		decoded = []byte(raw)
	}
	return encryptedAssertionPattern.Match(decoded)
}

func allEmpty(values []string) bool {
	for _, v := range values {
		if v != "" {
			return false
		}
	}
	return true
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
