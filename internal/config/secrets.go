package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name secrets are stored under in the OS
// keyring.
const KeyringService = "convoq"

// keyringPrefix marks a config value that names a keyring entry.
const keyringPrefix = "keyring:"

// ErrSecretNotFound is returned when a keyring reference has no entry.
var ErrSecretNotFound = errors.New("secret not found")

// ResolveSecret returns value unchanged unless it has the form
// "keyring:<name>", in which case the secret stored under name is returned.
func ResolveSecret(value string) (string, error) {
	name, ok := strings.CutPrefix(value, keyringPrefix)
	if !ok {
		return value, nil
	}
	if name == "" {
		return "", fmt.Errorf("config: empty keyring reference")
	}
	secret, err := keyring.Get(KeyringService, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("config: keyring %q: %w", name, ErrSecretNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("config: keyring %q: %w", name, err)
	}
	return secret, nil
}

// StoreSecret saves a secret in the OS keyring and returns the reference
// to put in the configuration.
func StoreSecret(name, secret string) (string, error) {
	if err := keyring.Set(KeyringService, name, secret); err != nil {
		return "", fmt.Errorf("config: keyring %q: %w", name, err)
	}
	return keyringPrefix + name, nil
}
