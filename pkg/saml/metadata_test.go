package saml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSPMetadataUnsigned(t *testing.T) {
	settings, _, _ := testSettings(t)
	resolver := testResolver(t, settings)

	reg, err := resolver.Resolve("https://app.example.com/callback")
	require.NoError(t, err)

	out, err := BuildSPMetadata(reg)
	require.NoError(t, err)

	body := string(out)
	assert.Contains(t, body, `entityID="samlgate"`)
	assert.Contains(t, body, `AuthnRequestsSigned="false"`)
	assert.Contains(t, body, `Location="https://app.example.com/callback"`)
	assert.NotContains(t, body, "KeyDescriptor")
}

func TestBuildSPMetadataSigned(t *testing.T) {
	settings, _, _ := testSettings(t)
	settings.SignRequests = true
	resolver := testResolver(t, settings)

	reg, err := resolver.Resolve("https://app.example.com/callback")
	require.NoError(t, err)

	out, err := BuildSPMetadata(reg)
	require.NoError(t, err)

	body := string(out)
	assert.Contains(t, body, `AuthnRequestsSigned="true"`)
	assert.Contains(t, body, `use="signing"`)
	assert.Contains(t, body, `use="encryption"`)
	assert.Contains(t, body, "X509Certificate")
}
