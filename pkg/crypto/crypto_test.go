package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("Sup3r-Secret")
	require.NoError(t, err)
	require.NotEqual(t, "Sup3r-Secret", hash)

	require.True(t, VerifyPassword(hash, "Sup3r-Secret"))
	require.False(t, VerifyPassword(hash, "wrong-password"))
}

func TestGenerateToken(t *testing.T) {
	first, err := GenerateToken(32)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := GenerateToken(32)
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestHashTokenDeterministic(t *testing.T) {
	token, err := GenerateToken(48)
	require.NoError(t, err)

	hash := HashToken(token)
	require.Len(t, hash, 64)
	require.Equal(t, hash, HashToken(token))
	require.NotEqual(t, hash, HashToken(token+"x"))
}
