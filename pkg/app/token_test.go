package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_GenerateAndParse(t *testing.T) {
	tm := NewTokenManager(TokenConfig{SecretKey: "secret", Expiry: time.Hour, Issuer: "test-issuer"})

	token, err := tm.Generate(7, "oneadmin", "127.0.0.1")
	require.NoError(t, err)

	user, err := tm.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.UID)
	assert.Equal(t, "oneadmin", user.Name)
	assert.Equal(t, "127.0.0.1", user.IP)
	assert.NoError(t, tm.Validate(token))
}

func TestTokenManager_RejectsForeignTokens(t *testing.T) {
	tm := NewTokenManager(TokenConfig{SecretKey: "secret"})
	token, err := tm.Generate(1, "a", "")
	require.NoError(t, err)

	other := NewTokenManager(TokenConfig{SecretKey: "other"})
	assert.Error(t, other.Validate(token))

	otherIssuer := NewTokenManager(TokenConfig{SecretKey: "secret", Issuer: "someone-else"})
	assert.Error(t, otherIssuer.Validate(token))

	expired := NewTokenManager(TokenConfig{SecretKey: "secret", Expiry: -time.Minute})
	token, err = expired.Generate(1, "a", "")
	require.NoError(t, err)
	assert.ErrorIs(t, tm.Validate(token), ErrTokenExpired)
}

func TestTokenManager_UsesClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	tm := &tokenManager{
		config: TokenConfig{SecretKey: "secret", Expiry: time.Hour, Issuer: DefaultTokenIssuer},
		now:    func() time.Time { return now },
	}

	token, err := tm.Generate(3, "ana", "")
	require.NoError(t, err)

	claims, err := tm.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "3", claims.Subject)

	now = start.Add(2 * time.Hour)
	_, err = tm.Parse(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}
