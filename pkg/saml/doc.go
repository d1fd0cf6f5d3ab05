// Package saml implements the SAML 2.0 Web Browser SSO profile for a
// single identity provider: building redirect-bound AuthnRequests,
// validating POST-bound responses with replay protection, mapping asserted
// attributes to user identities, and reporting configuration diagnostics.
package saml
