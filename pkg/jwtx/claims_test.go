package jwtx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/ulm/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func mint(t *testing.T, ttl time.Duration, now time.Time) string {
	t.Helper()
	c := jwtx.NewClaims("user-1", "alice", jwtx.TypeAccess, true, ttl, now)
	raw, err := jwtx.SignHS256(c, testSecret)
	require.NoError(t, err)
	return raw
}

func TestSignAndVerifyHS256(t *testing.T) {
	t.Parallel()

	raw := mint(t, time.Minute, time.Now())

	c, err := jwtx.VerifyHS256(raw, testSecret)
	require.NoError(t, err)
	require.Equal(t, "user-1", c.Subject)
	require.Equal(t, "alice", c.Username)
	require.Equal(t, jwtx.TypeAccess, c.Type)
	require.True(t, c.IsAdmin)
	require.NotEmpty(t, c.ID)

	_, err = jwtx.VerifyHS256(raw, []byte("other-secret"))
	require.Error(t, err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	t.Parallel()

	raw := mint(t, time.Minute, time.Now().Add(-time.Hour))

	_, err := jwtx.VerifyHS256(raw, testSecret)
	require.Error(t, err)
}

func TestNewJTIUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{}, 100)
	for range 100 {
		id := jwtx.NewJTI()
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}
