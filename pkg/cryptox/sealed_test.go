package cryptox_test

import (
	"testing"

	"github.com/aussiebroadwan/ulm/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	t.Parallel()

	data := []byte(`{"ulm.access_token":"a","ulm.refresh_token":"r"}`)

	sealed, err := cryptox.SealWithPassphrase("correct horse", data)
	require.NoError(t, err)
	require.NotContains(t, string(sealed), "ulm.access_token")

	opened, err := cryptox.OpenWithPassphrase("correct horse", sealed)
	require.NoError(t, err)
	require.Equal(t, data, opened)
}

func TestSealUsesFreshSalt(t *testing.T) {
	t.Parallel()

	a, err := cryptox.SealWithPassphrase("pw", []byte("same"))
	require.NoError(t, err)
	b, err := cryptox.SealWithPassphrase("pw", []byte("same"))
	require.NoError(t, err)

	require.NotEqual(t, a, b, "two seals of the same data should differ")
}

func TestOpenWrongPassphrase(t *testing.T) {
	t.Parallel()

	sealed, err := cryptox.SealWithPassphrase("right", []byte("secret"))
	require.NoError(t, err)

	_, err = cryptox.OpenWithPassphrase("wrong", sealed)
	require.ErrorIs(t, err, cryptox.ErrWrongPassword)
}

func TestOpenTampered(t *testing.T) {
	t.Parallel()

	sealed, err := cryptox.SealWithPassphrase("pw", []byte("secret"))
	require.NoError(t, err)

	t.Run("ciphertext", func(t *testing.T) {
		tampered := append([]byte(nil), sealed...)
		tampered[len(tampered)-1] ^= 0xFF
		_, err := cryptox.OpenWithPassphrase("pw", tampered)
		require.ErrorIs(t, err, cryptox.ErrWrongPassword)
	})

	t.Run("salt", func(t *testing.T) {
		tampered := append([]byte(nil), sealed...)
		tampered[5] ^= 0xFF
		_, err := cryptox.OpenWithPassphrase("pw", tampered)
		require.ErrorIs(t, err, cryptox.ErrWrongPassword)
	})
}

func TestOpenRejectsForeignData(t *testing.T) {
	t.Parallel()

	for _, in := range [][]byte{nil, []byte("short"), []byte(`{"plain":"json"}`), []byte("ULM1" + "0123456789abcdef")} {
		_, err := cryptox.OpenWithPassphrase("pw", in)
		require.ErrorIs(t, err, cryptox.ErrNotSealed)
	}
}
