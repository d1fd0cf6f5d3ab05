package credentials

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"
)

// FormatError reports malformed PEM, base64, or DER key material. It is a
// configuration problem, not a runtime error: the administrator pasted broken
// key material into the settings.
type FormatError struct {
	What   string
	Reason error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.What, e.Reason)
}

func (e *FormatError) Unwrap() error { return e.Reason }

// normalizePEM strips PEM armor lines and all whitespace so that any
// byte-equivalent input yields the same base64 payload. IdP admin consoles
// hand out certificates with and without armor, with folded or unfolded
// lines; all forms must parse identically.
func normalizePEM(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "-----BEGIN") || strings.HasPrefix(line, "-----END") {
			continue
		}
		// Armor markers can also appear inline when the value was pasted
		// as a single line.
		for {
			start := strings.Index(line, "-----BEGIN")
			if start < 0 {
				break
			}
			end := strings.Index(line[start+5:], "-----")
			if end < 0 {
				line = line[:start]
				break
			}
			line = line[:start] + line[start+5+end+5:]
		}
		for {
			start := strings.Index(line, "-----END")
			if start < 0 {
				break
			}
			end := strings.Index(line[start+5:], "-----")
			if end < 0 {
				line = line[:start]
				break
			}
			line = line[:start] + line[start+5+end+5:]
		}
		for _, r := range line {
			switch r {
			case ' ', '\t', '\r':
			default:
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

// ParseCertificate parses a PEM or bare-base64 X.509 certificate.
func ParseCertificate(pemText string) (*x509.Certificate, error) {
	der, err := base64.StdEncoding.DecodeString(normalizePEM(pemText))
	if err != nil {
		return nil, &FormatError{What: "certificate", Reason: err}
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, &FormatError{What: "certificate", Reason: err}
	}
	return cert, nil
}

// ParsePrivateKey parses a PEM or bare-base64 PKCS#8 RSA private key.
func ParsePrivateKey(pemText string) (*rsa.PrivateKey, error) {
	der, err := base64.StdEncoding.DecodeString(normalizePEM(pemText))
	if err != nil {
		return nil, &FormatError{What: "private key", Reason: err}
	}

	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		// Some IdPs export PKCS#1 keys; accept them too.
		if pkcs1, pkcs1Err := x509.ParsePKCS1PrivateKey(der); pkcs1Err == nil {
			return pkcs1, nil
		}
		return nil, &FormatError{What: "private key", Reason: err}
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, &FormatError{What: "private key", Reason: fmt.Errorf("not an RSA key: %T", key)}
	}
	return rsaKey, nil
}
