// Package crypto seals file payloads with a key derived from a configured
// secret.
//
// Keys are derived with scrypt from the secret and a per-store salt, and
// payloads are sealed with XChaCha20-Poly1305, an authenticated stream
// cipher. A sealed payload is nonce || ciphertext.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	// SaltSize is the size of the key-derivation salt in bytes.
	SaltSize = 32

	// scrypt cost parameters.
	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

// ErrDecrypt is returned when a payload cannot be authenticated, typically
// because the key is wrong or the data was tampered with.
var ErrDecrypt = errors.New("payload authentication failed")

// Cipher seals and opens payloads. It is safe for concurrent use.
type Cipher struct {
	aead interface {
		NonceSize() int
		Overhead() int
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// GenerateSalt returns a random salt for NewCipher.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// NewCipher derives a key from secret and salt.
func NewCipher(secret string, salt []byte) (*Cipher, error) {
	if secret == "" {
		return nil, fmt.Errorf("encryption secret cannot be empty")
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("invalid salt size: expected %d bytes, got %d", SaltSize, len(salt))
	}
	key, err := scrypt.Key([]byte(secret), salt, scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext under a fresh random nonce.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a payload produced by Seal.
func (c *Cipher) Open(sealed []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(sealed) < ns+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: payload too short", ErrDecrypt)
	}
	plaintext, err := c.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
