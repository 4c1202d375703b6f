// Package secretbox encrypts provider tokens before they reach the account
// store. Format: base64(nonce)|base64(ciphertext), XChaCha20-Poly1305.
package secretbox

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// EnvMasterKey holds the base64-encoded 32-byte key.
	EnvMasterKey = "SECRETBOX_MASTER_KEY"

	sep = "|"
)

var ErrNotConfigured = errors.New("secretbox: master key not configured")

// Box seals and opens short secrets with a fixed key. The key is loaded once
// at startup and never mutated; a nil *Box passes values through unchanged so
// dev setups can run without a key.
type Box struct {
	key []byte
}

// New creates a Box from a raw 32-byte key.
func New(key []byte) (*Box, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("secretbox: key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Box{key: k}, nil
}

// FromEnv builds a Box from EnvMasterKey. Returns (nil, nil) when the
// variable is unset, which callers treat as "store plaintext" (dev only).
func FromEnv() (*Box, error) {
	raw := strings.TrimSpace(os.Getenv(EnvMasterKey))
	if raw == "" {
		return nil, nil
	}
	k, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("secretbox: decode %s: %w", EnvMasterKey, err)
	}
	return New(k)
}

// Seal encrypts s. A nil Box returns s unchanged.
func (b *Box) Seal(s string) (string, error) {
	if b == nil {
		return s, nil
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ct := aead.Seal(nil, nonce, []byte(s), nil)
	return base64.StdEncoding.EncodeToString(nonce) + sep + base64.StdEncoding.EncodeToString(ct), nil
}

// Open decrypts a value produced by Seal. A nil Box returns it unchanged.
// Values without the nonce separator are assumed plaintext (pre-encryption
// rows) and passed through.
func (b *Box) Open(s string) (string, error) {
	if b == nil || s == "" {
		return s, nil
	}
	i := strings.Index(s, sep)
	if i < 0 {
		return s, nil
	}
	nonce, err := base64.StdEncoding.DecodeString(s[:i])
	if err != nil || len(nonce) != chacha20poly1305.NonceSizeX {
		return "", errors.New("secretbox: malformed nonce")
	}
	ct, err := base64.StdEncoding.DecodeString(s[i+1:])
	if err != nil {
		return "", errors.New("secretbox: malformed ciphertext")
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("secretbox: open: %w", err)
	}
	return string(pt), nil
}
