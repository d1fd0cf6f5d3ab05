package saml

import (
	"crypto/x509"
	"fmt"

	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/platinummonkey/samlgate/pkg/config"
	"github.com/platinummonkey/samlgate/pkg/credentials"
)

// Resolver builds per-request registrations from static settings plus the
// request-supplied callback URL. Resolution is a pure function of
// (settings, callbackURL); nothing is cached here beyond the credential
// store's own memoization.
type Resolver struct {
	// Settings returns the current configuration snapshot.
	Settings func() config.Settings

	// Creds parses and memoizes PEM key material.
	Creds *credentials.Store
}

// NewResolver creates a resolver over the given configuration.
func NewResolver(cfg *config.Config, creds *credentials.Store) *Resolver {
	return &Resolver{Settings: cfg.Settings, Creds: creds}
}

// Resolve builds the registration for the given callback URL. An empty
// callbackURL resolves against the placeholder ACS location. If request
// signing is enabled, both an SP certificate and private key must parse;
// signing cannot be partially enabled.
func (r *Resolver) Resolve(callbackURL string) (*Registration, error) {
	s := r.Settings()
	if !s.Enabled {
		return nil, &config.ConfigError{Setting: config.KeyEnabled, Reason: "is not enabled"}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	if callbackURL == "" {
		callbackURL = PlaceholderACSLocation
	}

	verificationCert, err := r.Creds.Certificate(s.Certificate)
	if err != nil {
		return nil, fmt.Errorf("IdP verification certificate: %w", err)
	}

	reg := &Registration{
		SPEntityID:       s.ApplicationID,
		IDPEntityID:      s.ProviderID,
		IDPSSOURL:        s.LoginURL,
		ACSLocation:      callbackURL,
		Binding:          BindingHTTPPost,
		VerificationCert: verificationCert,
		SignRequests:     s.SignRequests,
	}

	if s.SignRequests {
		signingCert, err := r.Creds.Certificate(s.SPCertificate)
		if err != nil {
			return nil, fmt.Errorf("service provider certificate: %w", err)
		}
		signingKey, err := r.Creds.PrivateKey(s.SPPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("service provider private key: %w", err)
		}
		reg.SigningCert = signingCert
		reg.SigningKey = signingKey
	}

	return reg, nil
}

// serviceProvider materializes the gosaml2 service provider for a resolved
// registration. AuthnRequests are never XML-signed; when signing is enabled
// the redirect query string carries a detached signature instead.
func (r *Resolver) serviceProvider(reg *Registration) *saml2.SAMLServiceProvider {
	sp := &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      reg.IDPSSOURL,
		IdentityProviderIssuer:      reg.IDPEntityID,
		ServiceProviderIssuer:       reg.SPEntityID,
		AssertionConsumerServiceURL: reg.ACSLocation,
		AudienceURI:                 reg.SPEntityID,
		IDPCertificateStore: &dsig.MemoryX509CertificateStore{
			Roots: []*x509.Certificate{reg.VerificationCert},
		},
	}

	if reg.SigningKey != nil && reg.SigningCert != nil {
		sp.SPKeyStore = &dsig.TLSCertKeyStore{
			PrivateKey:  reg.SigningKey,
			Certificate: [][]byte{reg.SigningCert.Raw},
		}
	}

	return sp
}
