package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"":    0,
		"7d":  7 * 24 * time.Hour,
		"90":  90 * time.Second,
		"30m": 30 * time.Minute,
		"6h":  6 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDuration("xd")
	assert.Error(t, err)
	_, err = ParseDuration("soon")
	assert.Error(t, err)
}

func TestGetRandomString(t *testing.T) {
	a := GetRandomString(32)
	b := GetRandomString(32)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^[a-zA-Z0-9]+$`, a)
	assert.Empty(t, GetRandomString(0))
}

func TestPasswordHash(t *testing.T) {
	hash, err := GeneratePasswordHash("secret")
	require.NoError(t, err)
	assert.True(t, CheckPasswordHash(hash, "secret"))
	assert.False(t, CheckPasswordHash(hash, "other"))
}
