package saml

import (
	"crypto/rsa"
	"crypto/x509"
)

// SAML 2.0 binding URIs.
const (
	BindingHTTPPost     = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST"
	BindingHTTPRedirect = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect"
)

// PlaceholderACSLocation is used when resolving a registration without a
// live request, e.g. for metadata-only use.
const PlaceholderACSLocation = "urn:samlgate:acs"

// Registration is the per-request description of the service provider and
// identity provider pair. It is built fresh from settings plus the
// request-supplied callback URL and never persisted. Two registrations
// resolved from the same settings differ only in ACSLocation.
type Registration struct {
	SPEntityID  string
	IDPEntityID string
	IDPSSOURL   string
	ACSLocation string
	Binding     string

	// VerificationCert validates IdP response signatures.
	VerificationCert *x509.Certificate

	// SigningCert and SigningKey are set only when request signing is
	// enabled; the same key pair also serves assertion decryption.
	SigningCert *x509.Certificate
	SigningKey  *rsa.PrivateKey

	SignRequests bool
}

// RedirectContext is the outcome of building a login redirect.
type RedirectContext struct {
	// URL is the full IdP redirect including the encoded AuthnRequest.
	URL string
	// RequestID is the AuthnRequest ID, available for response correlation.
	RequestID string
	// RelayState echoes the token carried through the IdP.
	RelayState string
}

// Principal is a validated identity: the attribute bag asserted by the IdP.
type Principal struct {
	nameID      string
	attributes  map[string][]string
	rawResponse string
}

// NewPrincipal builds a principal from asserted attributes. Mainly exposed
// for tests; production principals come out of Authenticator.
func NewPrincipal(nameID string, attributes map[string][]string, rawResponse string) *Principal {
	if attributes == nil {
		attributes = make(map[string][]string)
	}
	return &Principal{nameID: nameID, attributes: attributes, rawResponse: rawResponse}
}

// NameID returns the asserted subject identifier.
func (p *Principal) NameID() string { return p.nameID }

// Attribute returns all values for the named attribute, in assertion order.
func (p *Principal) Attribute(name string) []string {
	return p.attributes[name]
}

// First returns the first value for the named attribute and whether the
// attribute is present at all.
func (p *Principal) First(name string) (string, bool) {
	values, ok := p.attributes[name]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Attributes returns a copy of the full attribute bag.
func (p *Principal) Attributes() map[string][]string {
	out := make(map[string][]string, len(p.attributes))
	for name, values := range p.attributes {
		out[name] = append([]string(nil), values...)
	}
	return out
}

// RawResponse returns the base64 response the principal was extracted from.
func (p *Principal) RawResponse() string { return p.rawResponse }

// UserIdentity is the normalized identity handed to the surrounding
// identity-provider framework. Login and Name are always non-empty.
type UserIdentity struct {
	Login  string   `json:"login"`
	Name   string   `json:"name"`
	Email  string   `json:"email,omitempty"`
	Groups []string `json:"groups,omitempty"`
}
