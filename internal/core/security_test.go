// ClarusRCM | 2026
// security_test.go

package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))

	valid, err := VerifyPassword("correct horse battery staple", hash)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = VerifyPassword("incorrect horse battery staple", hash)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestHashPasswordProducesUniqueSalts(t *testing.T) {
	first, err := HashPassword("same password")
	require.NoError(t, err)

	second, err := HashPassword("same password")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	_, err := VerifyPassword("password", "not-an-encoded-hash")
	require.Error(t, err)
}

func TestVerifyPasswordTimingSafeNilHash(t *testing.T) {
	valid, rehash, err := VerifyPasswordTimingSafe("any password", nil)
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Empty(t, rehash)
}

func TestVerifyPasswordTimingSafeEmptyHash(t *testing.T) {
	empty := ""
	valid, rehash, err := VerifyPasswordTimingSafe("any password", &empty)
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Empty(t, rehash)
}

func TestVerifyPasswordTimingSafeMatch(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)

	valid, rehash, err := VerifyPasswordTimingSafe(
		"correct horse battery staple",
		&hash,
	)
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Empty(t, rehash, "current parameters never trigger a rehash")
}
