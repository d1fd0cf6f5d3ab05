package saml

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/samlgate/pkg/config"
	"github.com/platinummonkey/samlgate/pkg/credentials"
)

// testKeyPair is a freshly generated self-signed certificate and key,
// PEM-encoded the way they would arrive in settings.
type testKeyPair struct {
	key     *rsa.PrivateKey
	certPEM string
	keyPEM  string
}

func newTestKeyPair(t *testing.T, commonName string) *testKeyPair {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	return &testKeyPair{
		key:     key,
		certPEM: string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})),
		keyPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})),
	}
}

// testSettings is a complete enabled configuration backed by freshly
// generated IdP and SP key material.
func testSettings(t *testing.T) (config.Settings, *testKeyPair, *testKeyPair) {
	t.Helper()

	idp := newTestKeyPair(t, "idp.example.org")
	sp := newTestKeyPair(t, "sp.example.org")

	return config.Settings{
		Enabled:            true,
		ProviderID:         "https://idp.example.org",
		ProviderName:       "Example IdP",
		ApplicationID:      "samlgate",
		LoginURL:           "https://idp.example.org/sso",
		Certificate:        idp.certPEM,
		UserLoginAttribute: "login",
		UserNameAttribute:  "name",
		UserEmailAttribute: "email",
		GroupNameAttribute: "groups",
		SPCertificate:      sp.certPEM,
		SPPrivateKey:       sp.keyPEM,
		AllowIDPInitiated:  true,
	}, idp, sp
}

func testResolver(t *testing.T, s config.Settings) *Resolver {
	t.Helper()
	return &Resolver{
		Settings: func() config.Settings { return s },
		Creds:    credentials.NewStore(),
	}
}
