package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

// KeyringService is the OS keyring service credentials are stored under.
const KeyringService = "clawcore"

const (
	envPrefix     = "env:"
	keyringPrefix = "keyring:"
)

// ErrSecretNotFound is returned when a credential reference resolves to
// nothing.
var ErrSecretNotFound = errors.New("secret not found")

// ResolveSecret turns a credential reference into its value.
//
//	env:NAME        environment variable NAME
//	keyring:USER    OS keyring entry USER under service "clawcore"
//	anything else   the literal value
//
// An empty reference resolves to "".
func ResolveSecret(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return "", nil
	case strings.HasPrefix(ref, envPrefix):
		name := strings.TrimPrefix(ref, envPrefix)
		value, ok := os.LookupEnv(name)
		if !ok || value == "" {
			return "", fmt.Errorf("%w: environment variable %s is not set", ErrSecretNotFound, name)
		}
		return value, nil
	case strings.HasPrefix(ref, keyringPrefix):
		user := strings.TrimPrefix(ref, keyringPrefix)
		value, err := keyring.Get(KeyringService, user)
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: keyring entry %s/%s", ErrSecretNotFound, KeyringService, user)
		}
		if err != nil {
			return "", fmt.Errorf("read keyring entry %s/%s: %w", KeyringService, user, err)
		}
		return value, nil
	default:
		return ref, nil
	}
}

// StoreSecret saves value in the OS keyring and returns the reference to
// put in the config file.
func StoreSecret(user, value string) (string, error) {
	if err := keyring.Set(KeyringService, user, value); err != nil {
		return "", fmt.Errorf("store keyring entry %s/%s: %w", KeyringService, user, err)
	}
	return keyringPrefix + user, nil
}
