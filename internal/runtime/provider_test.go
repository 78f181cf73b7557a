package runtime

import (
	"errors"
	"strings"
	"testing"

	"github.com/99designs/keyring"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/gmailer/internal/config"
	"github.com/joshsymonds/gmailer/internal/credential"
	"github.com/joshsymonds/gmailer/internal/mailbox"
)

type mapSecrets map[string]string

func (m mapSecrets) Get(key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func TestIMAPOptions(t *testing.T) {
	opts, err := IMAPOptions(config.IMAPConfig{
		Server:   "imap.example.com",
		Port:     143,
		Username: "me",
		Password: "plain",
		TLS:      "STARTTLS",
		Mailbox:  "INBOX",
		Archive:  "Archive",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "plain", opts.Password)
	assert.True(t, opts.STARTTLS)
	assert.Equal(t, 143, opts.Port)
	assert.Equal(t, "Archive", opts.Archive)
}

func TestIMAPOptionsKeyring(t *testing.T) {
	cfg := config.IMAPConfig{Server: "s", Username: "u", Password: "ignored", PasswordKeyring: "imap"}
	opts, err := IMAPOptions(cfg, mapSecrets{"imap": "from-keyring"})
	require.NoError(t, err)
	assert.Equal(t, "from-keyring", opts.Password)
	assert.False(t, opts.STARTTLS)

	_, err = IMAPOptions(cfg, mapSecrets{})
	assert.True(t, errors.Is(err, mailbox.ErrAuth))
}

func TestIMAPOptionsMissing(t *testing.T) {
	_, err := IMAPOptions(config.IMAPConfig{Server: "s"}, nil)
	assert.True(t, errors.Is(err, mailbox.ErrConfig))
}

func TestStoreIMAPPasswordRoundTrip(t *testing.T) {
	store := credential.NewStore(keyring.NewArrayKeyring(nil))
	cfg := config.IMAPConfig{Server: "s", Username: "u", PasswordKeyring: "imap"}

	require.NoError(t, StoreIMAPPassword(cfg, store, strings.NewReader("s3cret\r\nignored\n")))

	opts, err := IMAPOptions(cfg, store)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", opts.Password)
}

func TestStoreIMAPPasswordErrors(t *testing.T) {
	store := credential.NewStore(keyring.NewArrayKeyring(nil))

	err := StoreIMAPPassword(config.IMAPConfig{}, store, strings.NewReader("pw\n"))
	assert.True(t, errors.Is(err, mailbox.ErrConfig))

	err = StoreIMAPPassword(config.IMAPConfig{PasswordKeyring: "imap"}, store, strings.NewReader("\n"))
	assert.True(t, errors.Is(err, mailbox.ErrConfig))
	_, err = store.Get("imap")
	assert.Error(t, err)
}
