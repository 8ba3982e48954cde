// Package secret encrypts OAuth tokens before they reach persistent storage.
package secret

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrDecrypt is returned for ciphertext that is malformed or was sealed
// under a different key.
var ErrDecrypt = errors.New("secret: cannot decrypt value")

const kdfInfo = "ytdash token cipher v1"

// Cipher seals token strings with XChaCha20-Poly1305. Ciphertext is
// base64url(nonce || sealed box).
type Cipher struct {
	aead cipher.AEAD
}

// New derives a 256-bit key from the configured key material.
func New(keyMaterial string) (*Cipher, error) {
	if keyMaterial == "" {
		return nil, errors.New("secret: empty key material")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(keyMaterial), nil, []byte(kdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return fromKey(key)
}

// NewEphemeral returns a cipher keyed with random bytes that live only as
// long as the process.
func NewEphemeral() (*Cipher, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return fromKey(key)
}

// FromConfig builds the process-wide cipher. Without key material it falls
// back to an ephemeral key and logs a warning, since anything sealed with it
// becomes unreadable after a restart.
func FromConfig(keyMaterial string, logger *zap.Logger) (*Cipher, error) {
	if keyMaterial != "" {
		return New(keyMaterial)
	}
	logger.Warn("ENCRYPTION_KEY is not set: using a temporary key, stored OAuth tokens will be unreadable after restart")
	return NewEphemeral()
}

func fromKey(key []byte) (*Cipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext. An empty input yields an empty output.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens ciphertext produced by Encrypt. An empty input yields an
// empty output; anything unreadable yields ErrDecrypt.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecrypt
	}
	if len(raw) < c.aead.NonceSize() {
		return "", ErrDecrypt
	}
	nonce, box := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, box, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
