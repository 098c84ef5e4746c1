package client

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/enflame-media/syncrelay/internal/constants"
)

// ErrMissingCredentials is returned by Connect when the token or the key
// material is absent or unusable.
var ErrMissingCredentials = errors.New("missing credentials: an auth token and key material are required")

// DeriveKey derives the shared encryption key from base64 key material.
func DeriveKey(keyMaterial string) ([]byte, error) {
	if keyMaterial == "" {
		return nil, ErrMissingCredentials
	}

	secret, err := base64.StdEncoding.DecodeString(keyMaterial)
	if err != nil {
		secret, err = base64.RawURLEncoding.DecodeString(keyMaterial)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: key material is not base64: %v", ErrMissingCredentials, err)
	}
	if len(secret) == 0 {
		return nil, ErrMissingCredentials
	}

	key := make([]byte, constants.DerivedKeySize)
	reader := hkdf.New(sha256.New, secret, nil, []byte(constants.KeyDerivationInfo))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}
