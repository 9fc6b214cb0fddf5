// Package vault encrypts account credentials at rest with AES-256-GCM.
// Plaintext provider configs and OAuth tokens only exist in memory; the
// store persists the sealed form produced here.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrNoKey is returned by New when no encryption key is configured.
// Production deployments must fail closed rather than fall back to a
// known development secret.
var ErrNoKey = errors.New("vault: encryption key not configured")

// Vault seals and opens credential blobs with a key derived from the
// configured secret.
type Vault struct {
	aead cipher.AEAD
}

// New creates a Vault from the configured secret. The secret is run
// through SHA-256 to produce the 32-byte AES key, so any non-empty
// string works as configuration.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, ErrNoKey
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext and returns a base64 blob of nonce||ciphertext.
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt.
func (v *Vault) Decrypt(blob string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("vault: decode: %w", err)
	}
	ns := v.aead.NonceSize()
	if len(raw) < ns {
		return nil, errors.New("vault: blob too short")
	}
	plaintext, err := v.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("vault: open: %w", err)
	}
	return plaintext, nil
}

// EncryptJSON marshals value and seals it. A nil value seals the JSON
// null literal, so round-trips preserve it.
func (v *Vault) EncryptJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("vault: marshal: %w", err)
	}
	return v.Encrypt(data)
}

// DecryptJSON opens a blob and unmarshals it into dst.
func (v *Vault) DecryptJSON(blob string, dst any) error {
	data, err := v.Decrypt(blob)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("vault: unmarshal: %w", err)
	}
	return nil
}
