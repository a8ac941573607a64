package vault

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const serviceName = "manila"

// remoteCacheAccount is the single keychain account this vault manages: the
// bearer token used to authenticate against the remote artifact cache tier.
const remoteCacheAccount = "remote-cache"

// Vault provides secure storage for the remote cache's bearer token using
// the OS keychain, with fallback to an environment variable.
type Vault struct{}

// New creates a new Vault instance.
func New() *Vault {
	return &Vault{}
}

// SetRemoteCacheToken stores the remote cache bearer token in the OS keychain.
func (v *Vault) SetRemoteCacheToken(token string) error {
	return keyring.Set(serviceName, remoteCacheAccount, token)
}

// RemoteCacheToken retrieves the remote cache bearer token. It first checks
// the OS keychain, then falls back to the MANILA_CACHE_TOKEN environment
// variable.
func (v *Vault) RemoteCacheToken() (string, error) {
	secret, err := keyring.Get(serviceName, remoteCacheAccount)
	if err == nil && secret != "" {
		return secret, nil
	}

	const envKey = "MANILA_CACHE_TOKEN"
	if val := os.Getenv(envKey); val != "" {
		return val, nil
	}

	return "", fmt.Errorf("no remote cache token found: not in keychain and %s not set", envKey)
}

// DeleteRemoteCacheToken removes the remote cache bearer token from the OS keychain.
func (v *Vault) DeleteRemoteCacheToken() error {
	return keyring.Delete(serviceName, remoteCacheAccount)
}

// ResolveKeyRef parses a key reference and retrieves the corresponding secret.
// Supported formats:
//   - "keyring://manila/remote-cache" (preferred)
//   - "keychain:manila/remote-cache" (legacy)
//   - "env:VARIABLE_NAME" (environment variable)
//   - "file:///path/to/key" (plain-text file)
func (v *Vault) ResolveKeyRef(keyRef string) (string, error) {
	// Format 1: keyring://manila/<account>
	if strings.HasPrefix(keyRef, "keyring://") {
		path := strings.TrimPrefix(keyRef, "keyring://")
		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || parts[0] != serviceName || parts[1] == "" {
			return "", fmt.Errorf("invalid key reference format: %q (expected \"keyring://manila/<account>\")", keyRef)
		}
		secret, err := keyring.Get(serviceName, parts[1])
		if err != nil {
			return "", fmt.Errorf("keyring lookup for %q: %w", keyRef, err)
		}
		return secret, nil
	}

	// Format 2: keychain:manila/<account> (legacy)
	if strings.HasPrefix(keyRef, "keychain:") {
		path := strings.TrimPrefix(keyRef, "keychain:")
		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || parts[0] != serviceName || parts[1] == "" {
			return "", fmt.Errorf("invalid key reference path: %q (expected \"manila/<account>\")", path)
		}
		secret, err := keyring.Get(serviceName, parts[1])
		if err != nil {
			return "", fmt.Errorf("keychain lookup for %q: %w", keyRef, err)
		}
		return secret, nil
	}

	// Format 3: env:VARIABLE_NAME
	if strings.HasPrefix(keyRef, "env:") {
		envVar := strings.TrimPrefix(keyRef, "env:")
		if val := os.Getenv(envVar); val != "" {
			return val, nil
		}
		return "", fmt.Errorf("environment variable %q is not set", envVar)
	}

	// Format 4: file:///path/to/key
	if strings.HasPrefix(keyRef, "file://") {
		filePath := strings.TrimPrefix(keyRef, "file://")
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("reading key file %q: %w", filePath, err)
		}
		key := strings.TrimSpace(string(data))
		if key == "" {
			return "", fmt.Errorf("key file %q is empty", filePath)
		}
		return key, nil
	}

	return "", fmt.Errorf("invalid key reference format: %q (expected \"keyring://manila/<account>\", \"keychain:manila/<account>\", \"env:VARIABLE_NAME\", or \"file:///path/to/key\")", keyRef)
}
