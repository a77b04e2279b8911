package token_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/meishi-app/meishi/internal/token"
)

func TestGenerateProducesURLSafeTokens(t *testing.T) {
	svc := token.NewService(bcrypt.MinCost)

	seen := make(map[string]bool)
	for i := 0; i < 16; i++ {
		pair, err := svc.Generate()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(pair.Raw), 43, "32 bytes base64url encode to at least 43 chars")
		assert.False(t, strings.ContainsAny(pair.Raw, "+/="), "raw token must be URL safe")
		assert.NotEmpty(t, pair.Digest)
		assert.False(t, seen[pair.Raw], "tokens must not repeat")
		seen[pair.Raw] = true
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	svc := token.NewService(bcrypt.MinCost)
	pair, err := svc.Generate()
	require.NoError(t, err)

	assert.True(t, svc.Verify(pair.Raw, pair.Digest))
}

func TestVerifyRejectsWrongTokens(t *testing.T) {
	svc := token.NewService(bcrypt.MinCost)
	pair, err := svc.Generate()
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		wrong, err := svc.Generate()
		require.NoError(t, err)
		assert.False(t, svc.Verify(wrong.Raw, pair.Digest))
	}
	assert.False(t, svc.Verify("wrongtoken", pair.Digest))
}

func TestVerifyMissingDigestIsFalse(t *testing.T) {
	svc := token.NewService(bcrypt.MinCost)
	assert.False(t, svc.Verify("anything", ""))
	assert.False(t, svc.Verify("", "anything"))
}

func TestNewServiceClampsCost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, token.NewService(0).Cost())
	assert.Equal(t, bcrypt.DefaultCost, token.NewService(99).Cost())
	assert.Equal(t, bcrypt.MinCost, token.NewService(bcrypt.MinCost).Cost())
}
