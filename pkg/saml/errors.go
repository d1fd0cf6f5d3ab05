package saml

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Validation error codes. Codes classify baseline failures so the pipeline
// can filter or count them without string matching.
const (
	CodeFormat       = "format"
	CodeSignature    = "signature"
	CodeTimeWindow   = "time_window"
	CodeAudience     = "audience"
	CodeInResponseTo = "in_response_to"
	CodeReplay       = "replay"
	CodeStorage      = "storage"
)

// ErrReplayedMessage is the user-facing replay rejection message.
const ErrReplayedMessage = "A message with the same ID was already processed"

// ValidationError is a single protocol validation failure.
type ValidationError struct {
	Code    string
	Message string
}

func (e ValidationError) Error() string { return e.Message }

// AuthenticationError aggregates every validation failure for a rejected
// response. The full list is surfaced on the diagnostic status page, never
// silently swallowed.
type AuthenticationError struct {
	Errors []ValidationError
}

func (e *AuthenticationError) Error() string {
	var result *multierror.Error
	for _, ve := range e.Errors {
		result = multierror.Append(result, errors.New(ve.Message))
	}
	return result.Error()
}

// Messages returns the user-facing message per failure, in validation order.
func (e *AuthenticationError) Messages() []string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ve := range e.Errors {
		msgs = append(msgs, ve.Message)
	}
	return msgs
}

// HasCode reports whether any failure carries the given code.
func (e *AuthenticationError) HasCode(code string) bool {
	for _, ve := range e.Errors {
		if ve.Code == code {
			return true
		}
	}
	return false
}

// MappingError reports a required identity attribute missing from the
// asserted attributes.
type MappingError struct {
	Field string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("%s is missing", e.Field)
}
