package credentials

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateCert(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "idp.example.org"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	return key, der
}

func TestParseCertificateArmoredAndStripped(t *testing.T) {
	_, der := generateCert(t)

	armored := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	stripped := base64.StdEncoding.EncodeToString(der)

	fromArmored, err := ParseCertificate(armored)
	require.NoError(t, err)
	fromStripped, err := ParseCertificate(stripped)
	require.NoError(t, err)

	assert.Equal(t, fromArmored.Raw, fromStripped.Raw)
	assert.Equal(t, "idp.example.org", fromArmored.Subject.CommonName)
}

func TestParseCertificateWithWhitespace(t *testing.T) {
	_, der := generateCert(t)
	b64 := base64.StdEncoding.EncodeToString(der)

	// Line-wrapped and indented, the way certificates get pasted into
	// configuration forms.
	var wrapped strings.Builder
	for i := 0; i < len(b64); i += 60 {
		end := i + 60
		if end > len(b64) {
			end = len(b64)
		}
		wrapped.WriteString("  " + b64[i:end] + "\n")
	}

	cert, err := ParseCertificate(wrapped.String())
	require.NoError(t, err)
	assert.Equal(t, der, cert.Raw)
}

func TestParseCertificateInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"not base64", "!!! definitely not base64 !!!"},
		{"base64 but not DER", base64.StdEncoding.EncodeToString([]byte("hello"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCertificate(tt.input)
			require.Error(t, err)

			var formatErr *FormatError
			assert.ErrorAs(t, err, &formatErr)
		})
	}
}

func TestParsePrivateKeyPKCS8(t *testing.T) {
	key, _ := generateCert(t)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pemText := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))

	parsed, err := ParsePrivateKey(pemText)
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))
}

func TestParsePrivateKeyPKCS1(t *testing.T) {
	key, _ := generateCert(t)
	pemText := string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))

	parsed, err := ParsePrivateKey(pemText)
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))
}

func TestParsePrivateKeyInvalid(t *testing.T) {
	_, err := ParsePrivateKey("garbage")
	require.Error(t, err)

	var formatErr *FormatError
	assert.ErrorAs(t, err, &formatErr)
}
