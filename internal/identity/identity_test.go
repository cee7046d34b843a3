// internal/identity/identity_test.go
package identity

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGeneratesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity")

	first, err := Load(path, "Aoi", nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.ID, "user_"), "id %q", first.ID)
	assert.Equal(t, "Aoi", first.Name)

	// Second load must reuse the persisted id.
	second, err := Load(path, "Aoi", nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestLoadDefaultsName(t *testing.T) {
	id, err := Load(filepath.Join(t.TempDir(), "identity"), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "Player", id.Name)
}

func TestTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	id, err := Load(filepath.Join(t.TempDir(), "identity"), "Aoi", secret)
	require.NoError(t, err)

	raw, err := id.Token()
	require.NoError(t, err)

	parsed, err := jwt.Parse(raw, func(tok *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, id.ID, claims["sub"])
	assert.Equal(t, "Aoi", claims["name"])
}

func TestTokenRequiresSecret(t *testing.T) {
	id, err := Load(filepath.Join(t.TempDir(), "identity"), "Aoi", nil)
	require.NoError(t, err)
	_, err = id.Token()
	assert.Error(t, err)
}
