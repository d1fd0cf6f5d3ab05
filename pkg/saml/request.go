package saml

import (
	"bytes"
	"compress/flate"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"golang.org/x/text/encoding/charmap"
)

// SigAlgRSASHA256 is the detached-signature algorithm URI carried in the
// SigAlg query parameter.
const SigAlgRSASHA256 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"

// RequestBuilder constructs the outbound login redirect: an AuthnRequest
// bound to the Redirect binding, deflated, base64-encoded, and serialized
// into the IdP SSO URL's query string.
type RequestBuilder struct {
	resolver *Resolver

	// now is the IssueInstant source, replaceable in tests.
	now func() time.Time
}

// NewRequestBuilder creates a builder over the given resolver.
func NewRequestBuilder(resolver *Resolver) *RequestBuilder {
	return &RequestBuilder{resolver: resolver, now: time.Now}
}

// BuildRedirect resolves the registration for callbackURL and produces the
// full redirect URL. Query parameters appear in fixed order: SAMLRequest,
// RelayState, SigAlg, Signature; empty parameters are omitted entirely.
func (b *RequestBuilder) BuildRedirect(callbackURL, relayState string) (*RedirectContext, error) {
	reg, err := b.resolver.Resolve(callbackURL)
	if err != nil {
		return nil, err
	}

	requestID := "_" + uuid.NewString()
	payload, err := deflateBase64(b.authnRequest(reg, requestID))
	if err != nil {
		return nil, fmt.Errorf("failed to encode AuthnRequest: %w", err)
	}

	query := newWireQuery()
	query.add("SAMLRequest", payload)
	query.add("RelayState", relayState)

	if reg.SignRequests {
		query.add("SigAlg", SigAlgRSASHA256)
		signature, err := signQuery(reg.SigningKey, query.String())
		if err != nil {
			return nil, fmt.Errorf("failed to sign AuthnRequest query: %w", err)
		}
		query.add("Signature", signature)
	}

	separator := "?"
	if strings.Contains(reg.IDPSSOURL, "?") {
		separator = "&"
	}

	return &RedirectContext{
		URL:        reg.IDPSSOURL + separator + query.String(),
		RequestID:  requestID,
		RelayState: relayState,
	}, nil
}

// authnRequest builds the protocol message document.
func (b *RequestBuilder) authnRequest(reg *Registration, requestID string) *etree.Document {
	doc := etree.NewDocument()

	root := doc.CreateElement("samlp:AuthnRequest")
	root.CreateAttr("xmlns:samlp", "urn:oasis:names:tc:SAML:2.0:protocol")
	root.CreateAttr("xmlns:saml", "urn:oasis:names:tc:SAML:2.0:assertion")
	root.CreateAttr("ID", requestID)
	root.CreateAttr("Version", "2.0")
	root.CreateAttr("IssueInstant", b.now().UTC().Format("2006-01-02T15:04:05Z"))
	root.CreateAttr("Destination", reg.IDPSSOURL)
	root.CreateAttr("ProtocolBinding", reg.Binding)
	root.CreateAttr("AssertionConsumerServiceURL", reg.ACSLocation)

	issuer := root.CreateElement("saml:Issuer")
	issuer.SetText(reg.SPEntityID)

	nameIDPolicy := root.CreateElement("samlp:NameIDPolicy")
	nameIDPolicy.CreateAttr("Format", "urn:oasis:names:tc:SAML:2.0:nameid-format:unspecified")
	nameIDPolicy.CreateAttr("AllowCreate", "true")

	return doc
}

func deflateBase64(doc *etree.Document) (string, error) {
	xml, err := doc.WriteToBytes()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(xml); err != nil {
		return "", err
	}
	if err := fw.Close(); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// signQuery computes the detached RSA-SHA256 signature over the already
// encoded query string, base64-encoded for the Signature parameter.
func signQuery(key *rsa.PrivateKey, query string) (string, error) {
	digest := sha256.Sum256([]byte(query))
	signature, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(signature), nil
}

// wireQuery assembles query parameters in insertion order with Latin-1
// percent-encoding. IdPs verify the detached signature over the literal
// query bytes, so the encoding must be byte-for-byte reproducible and must
// not depend on the platform's default charset.
type wireQuery struct {
	parts []string
}

func newWireQuery() *wireQuery {
	return &wireQuery{}
}

// add appends key=value; parameters with empty values are omitted entirely.
func (q *wireQuery) add(key, value string) {
	if value == "" {
		return
	}
	q.parts = append(q.parts, key+"="+encodeQueryLatin1(value))
}

func (q *wireQuery) String() string {
	return strings.Join(q.parts, "&")
}

// encodeQueryLatin1 percent-encodes value over its ISO-8859-1 byte
// representation: unreserved bytes pass through, space becomes '+', and
// everything else is %XX.
func encodeQueryLatin1(value string) string {
	raw, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(value))
	if err != nil {
		// Characters outside Latin-1 have no wire representation;
		// fall back to the raw bytes rather than dropping data.
		raw = []byte(value)
	}

	var b strings.Builder
	b.Grow(len(raw) * 3)
	for _, c := range raw {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '*':
			b.WriteByte(c)
		case c == ' ':
			b.WriteByte('+')
		default:
			b.WriteString(fmt.Sprintf("%%%02X", c))
		}
	}
	return b.String()
}
