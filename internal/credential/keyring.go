// Package credential reads secrets such as the IMAP password from the
// system keyring.
package credential

import (
	"fmt"
	"path/filepath"

	"github.com/99designs/keyring"
)

const serviceName = "gmailer"

// Store wraps a keyring.Keyring so tests can substitute an array keyring.
type Store struct {
	ring keyring.Keyring
}

// Open opens the platform keyring, falling back to an encrypted file
// under dir.
func Open(dir string) (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(dir, "credentials"),
		FilePasswordFunc:         keyring.FixedStringPrompt(serviceName + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Store{ring: ring}, nil
}

// NewStore wraps an existing keyring.
func NewStore(ring keyring.Keyring) *Store { return &Store{ring: ring} }

// Get retrieves a credential value by key.
func (s *Store) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a credential value by key.
func (s *Store) Set(key, value string) error {
	if err := s.ring.Set(keyring.Item{Key: key, Data: []byte(value)}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}
