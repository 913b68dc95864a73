package jwt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateYParse_IdaYVuelta(t *testing.T) {
	token, err := Generate("secreto", "u-1", "iss-1", "emisor", "fiscal-api", 5)
	require.NoError(t, err)

	claims, err := Parse("secreto", token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "iss-1", claims.IssuerID)
	assert.Equal(t, "emisor", claims.Role)
	assert.Equal(t, "fiscal-api", claims.Issuer)
}

func TestParse_FirmaIncorrecta(t *testing.T) {
	token, err := Generate("secreto", "u-1", "iss-1", "admin", "fiscal-api", 5)
	require.NoError(t, err)

	_, err = Parse("otro", token)
	assert.Error(t, err)
}

func TestParse_TokenExpirado(t *testing.T) {
	token, err := Generate("secreto", "u-1", "iss-1", "admin", "fiscal-api", -1)
	require.NoError(t, err)

	_, err = Parse("secreto", token)
	assert.Error(t, err)
}

func TestGenerate_SecretVacio(t *testing.T) {
	_, err := Generate("", "u-1", "iss-1", "admin", "fiscal-api", 5)
	assert.Error(t, err)
}
