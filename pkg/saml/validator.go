package saml

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/beevik/etree"
	saml2 "github.com/russellhaering/gosaml2"

	"github.com/platinummonkey/samlgate/pkg/config"
	"github.com/platinummonkey/samlgate/pkg/replay"
)

// ResponseToken is the raw SAMLResponse plus the protocol fields needed
// before (and independently of) full validation. The message ID has to be
// recoverable even from responses that fail signature checks so the replay
// guard still records them.
type ResponseToken struct {
	Raw          string
	Decoded      []byte
	ID           string
	InResponseTo string
	Encrypted    bool
}

// ParseResponseToken decodes the base64 SAMLResponse form value and lifts
// the Response attributes out of the document.
func ParseResponseToken(raw string) (*ResponseToken, error) {
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, &FormatError{What: "SAML response", Reason: "invalid base64 encoding"}
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(decoded); err != nil {
		return nil, &FormatError{What: "SAML response", Reason: "malformed XML"}
	}

	root := doc.Root()
	if root == nil {
		return nil, &FormatError{What: "SAML response", Reason: "empty document"}
	}

	return &ResponseToken{
		Raw:          raw,
		Decoded:      decoded,
		ID:           root.SelectAttrValue("ID", ""),
		InResponseTo: root.SelectAttrValue("InResponseTo", ""),
		Encrypted:    encryptedAssertionPattern.Match(decoded),
	}, nil
}

// FormatError reports a response that could not be decoded far enough to
// enter validation.
type FormatError struct {
	What   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.What, e.Reason)
}

// BaselineFunc runs the cryptographic and assertion-level checks for one
// response and reports every failure it found. A nil assertion with no
// errors is not a valid result.
type BaselineFunc func(reg *Registration, token *ResponseToken) (*saml2.AssertionInfo, []ValidationError)

// Validator runs a response through baseline validation, the InResponseTo
// policy, and the replay guard, accumulating all failures instead of
// stopping at the first.
type Validator struct {
	Baseline BaselineFunc
	Guard    replay.Guard

	// Settings returns the current configuration snapshot. The
	// allowIdpInitiated flag is read per response, so settings reloads
	// take effect without a restart.
	Settings func() config.Settings
}

// NewValidator wires the gosaml2 baseline from the resolver with the given
// replay guard.
func NewValidator(resolver *Resolver, guard replay.Guard, cfg *config.Config) *Validator {
	return &Validator{
		Baseline: resolver.Baseline,
		Guard:    guard,
		Settings: cfg.Settings,
	}
}

// Validate checks one response. expectedRequestID is the ID of the
// AuthnRequest this callback should answer; empty when unknown. The replay
// guard is consulted for every response that carries a message ID, even
// ones that fail every other check, so a captured response cannot be
// retried until its other defects are fixed.
func (v *Validator) Validate(ctx context.Context, reg *Registration, token *ResponseToken, expectedRequestID string) (*saml2.AssertionInfo, error) {
	assertion, errs := v.Baseline(reg, token)

	errs = append(errs, v.checkInResponseTo(token, expectedRequestID)...)

	if token.ID != "" {
		alreadyUsed, err := v.Guard.CheckAndRecord(ctx, token.ID)
		switch {
		case err != nil:
			errs = append(errs, ValidationError{
				Code:    CodeStorage,
				Message: fmt.Sprintf("Unable to verify message freshness: %s", err),
			})
		case alreadyUsed:
			errs = append(errs, ValidationError{
				Code:    CodeReplay,
				Message: ErrReplayedMessage,
			})
		}
	}

	if len(errs) > 0 {
		return nil, &AuthenticationError{Errors: errs}
	}
	return assertion, nil
}

func (v *Validator) checkInResponseTo(token *ResponseToken, expectedRequestID string) []ValidationError {
	if token.InResponseTo == "" {
		if v.Settings().AllowIDPInitiated {
			return nil
		}
		return []ValidationError{{
			Code:    CodeInResponseTo,
			Message: "The response has no InResponseTo and IdP-initiated login is disabled",
		}}
	}
	if expectedRequestID != "" && token.InResponseTo != expectedRequestID {
		return []ValidationError{{
			Code:    CodeInResponseTo,
			Message: fmt.Sprintf("The response InResponseTo %q does not match the request ID", token.InResponseTo),
		}}
	}
	return nil
}

// Baseline validates signatures, conditions, and audience through gosaml2
// and translates the outcome into validation errors.
func (r *Resolver) Baseline(reg *Registration, token *ResponseToken) (*saml2.AssertionInfo, []ValidationError) {
	sp := r.serviceProvider(reg)

	assertion, err := sp.RetrieveAssertionInfo(token.Raw)
	if err != nil {
		return nil, []ValidationError{{
			Code:    CodeSignature,
			Message: fmt.Sprintf("The response did not pass validation: %s", err),
		}}
	}

	var errs []ValidationError
	if assertion.WarningInfo.InvalidTime {
		errs = append(errs, ValidationError{
			Code:    CodeTimeWindow,
			Message: "The assertion is not valid at the current time",
		})
	}
	if assertion.WarningInfo.NotInAudience {
		errs = append(errs, ValidationError{
			Code:    CodeAudience,
			Message: fmt.Sprintf("The assertion audience does not include %s", reg.SPEntityID),
		})
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return assertion, nil
}
