package saml

import (
	"context"
	"net/http"

	saml2 "github.com/russellhaering/gosaml2"
)

// Authenticator runs the full callback pipeline: extract the response from
// the POST form, resolve the registration for the request's callback URL,
// validate, and produce a principal.
type Authenticator struct {
	Resolver  *Resolver
	Validator *Validator
}

// NewAuthenticator wires an authenticator over a resolver and validator.
func NewAuthenticator(resolver *Resolver, validator *Validator) *Authenticator {
	return &Authenticator{Resolver: resolver, Validator: validator}
}

// Authenticate processes a SAML POST callback. expectedRequestID correlates
// the response with the AuthnRequest that started the login; empty when the
// correlation state is unavailable. On validation failure the returned
// error is an *AuthenticationError carrying every failure found.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request, callbackURL, expectedRequestID string) (*Principal, error) {
	if err := r.ParseForm(); err != nil {
		return nil, &FormatError{What: "callback request", Reason: "unreadable form body"}
	}
	raw := r.FormValue("SAMLResponse")
	if raw == "" {
		return nil, &FormatError{What: "callback request", Reason: "missing SAMLResponse parameter"}
	}

	return a.AuthenticateResponse(ctx, raw, callbackURL, expectedRequestID)
}

// AuthenticateResponse validates an already extracted base64 response.
func (a *Authenticator) AuthenticateResponse(ctx context.Context, raw, callbackURL, expectedRequestID string) (*Principal, error) {
	token, err := ParseResponseToken(raw)
	if err != nil {
		return nil, err
	}

	reg, err := a.Resolver.Resolve(callbackURL)
	if err != nil {
		return nil, err
	}

	assertion, err := a.Validator.Validate(ctx, reg, token, expectedRequestID)
	if err != nil {
		return nil, err
	}

	return principalFromAssertion(assertion, raw), nil
}

func principalFromAssertion(info *saml2.AssertionInfo, raw string) *Principal {
	attributes := make(map[string][]string, len(info.Values))
	for name, attr := range info.Values {
		values := make([]string, 0, len(attr.Values))
		for _, v := range attr.Values {
			values = append(values, v.Value)
		}
		attributes[name] = values
	}
	return NewPrincipal(info.NameID, attributes, raw)
}
