package qrtoken

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Keyring derives per-organization signing secrets from one root secret.
type Keyring struct {
	root []byte
}

// NewKeyring constructs a keyring. The root secret is required.
func NewKeyring(root []byte) (*Keyring, error) {
	if len(root) == 0 {
		return nil, errors.New("token root secret is required")
	}
	return &Keyring{root: root}, nil
}

// SecretFor returns the signing secret of an organization. A non-empty
// override (the organization's own stored secret) wins over derivation.
func (k *Keyring) SecretFor(organizationID, override string) ([]byte, error) {
	if override != "" {
		return []byte(override), nil
	}
	if k == nil {
		return nil, errors.New("token keyring is not configured")
	}
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, errors.New("organization identifier is required")
	}
	r := hkdf.New(sha256.New, k.root, nil, []byte("organization:"+organizationID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive organization key: %w", err)
	}
	return key, nil
}
