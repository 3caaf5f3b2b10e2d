// Package secret resolves credential references found in configuration.
//
// A value of the form "keyring:<key>" is looked up in the system keyring;
// anything else is returned unchanged.
package secret

import (
	"fmt"
	"strings"

	"github.com/99designs/keyring"
)

const (
	prefix      = "keyring:"
	serviceName = "maildigest"
)

// Resolver looks up keyring references. The keyring is opened on first use.
type Resolver struct {
	ring keyring.Keyring
	open func() (keyring.Keyring, error)
}

// NewResolver returns a Resolver backed by the system keyring.
func NewResolver() *Resolver {
	return &Resolver{open: openKeyring}
}

// NewResolverWithKeyring returns a Resolver backed by ring.
func NewResolverWithKeyring(ring keyring.Keyring) *Resolver {
	return &Resolver{ring: ring}
}

// Resolve returns the credential for value.
func (r *Resolver) Resolve(value string) (string, error) {
	key, ok := strings.CutPrefix(value, prefix)
	if !ok {
		return value, nil
	}
	if key == "" {
		return "", fmt.Errorf("empty keyring reference")
	}

	if r.ring == nil {
		ring, err := r.open()
		if err != nil {
			return "", err
		}
		r.ring = ring
	}

	item, err := r.ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/maildigest/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("maildigest-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}
