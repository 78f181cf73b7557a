package credential

import (
	"errors"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	s := NewStore(keyring.NewArrayKeyring(nil))

	require.NoError(t, s.Set("imap-password", "hunter2"))
	got, err := s.Get("imap-password")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
}

func TestStoreMissingKey(t *testing.T) {
	s := NewStore(keyring.NewArrayKeyring(nil))
	_, err := s.Get("absent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, keyring.ErrKeyNotFound))
	assert.Contains(t, err.Error(), `"absent"`)
}
