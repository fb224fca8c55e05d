package credstore

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// DefaultKeyringService is the keychain service name used when none is configured
const DefaultKeyringService = "gigwork"

// KeyringBackend stores credentials in the OS keychain/credential manager
type KeyringBackend struct {
	service string
	account string
}

// NewKeyringBackend creates a keyring backend. account namespaces the keys so
// that several environments (e.g. staging and production) don't collide.
func NewKeyringBackend(service, account string) *KeyringBackend {
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringBackend{service: service, account: account}
}

// keyringKey returns the keychain item name for key
func (k *KeyringBackend) keyringKey(key string) string {
	if k.account == "" {
		return key
	}
	return fmt.Sprintf("%s-%s", k.account, key)
}

// Get retrieves a credential from the keychain
func (k *KeyringBackend) Get(key string) (string, error) {
	value, err := keyring.Get(k.service, k.keyringKey(key))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to load %s from keyring: %w", key, err)
	}
	return value, nil
}

// Set persists a credential in the keychain
func (k *KeyringBackend) Set(key, value string) error {
	if err := keyring.Set(k.service, k.keyringKey(key), value); err != nil {
		return fmt.Errorf("failed to save %s to keyring: %w", key, err)
	}
	return nil
}

// Delete removes a credential from the keychain
func (k *KeyringBackend) Delete(key string) error {
	if err := keyring.Delete(k.service, k.keyringKey(key)); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete %s from keyring: %w", key, err)
	}
	return nil
}
