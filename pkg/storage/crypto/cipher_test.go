package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func newTestCipher(t *testing.T, secret string, salt []byte) *Cipher {
	t.Helper()
	c, err := NewCipher(secret, salt)
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}
	return c
}

func TestCipher_SealOpen(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt failed: %v", err)
	}
	c := newTestCipher(t, "correct horse", salt)

	plaintext := []byte(`{"id":"a","x":10}`)
	sealed, err := c.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if bytes.Contains(sealed, []byte(`"id":"a"`)) {
		t.Error("sealed payload leaks plaintext")
	}

	opened, err := c.Open(sealed)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Open() = %q, want %q", opened, plaintext)
	}

	// Two seals of the same plaintext never match.
	again, _ := c.Seal(plaintext)
	if bytes.Equal(again, sealed) {
		t.Error("expected distinct ciphertexts for repeated seals")
	}
}

func TestCipher_WrongKey(t *testing.T) {
	salt, _ := GenerateSalt()
	sealed, err := newTestCipher(t, "secret-one", salt).Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	_, err = newTestCipher(t, "secret-two", salt).Open(sealed)
	if !errors.Is(err, ErrDecrypt) {
		t.Errorf("expected ErrDecrypt, got %v", err)
	}
}

func TestCipher_Tampered(t *testing.T) {
	salt, _ := GenerateSalt()
	c := newTestCipher(t, "secret", salt)
	sealed, _ := c.Seal([]byte("payload"))
	sealed[len(sealed)-1] ^= 0xff

	if _, err := c.Open(sealed); !errors.Is(err, ErrDecrypt) {
		t.Errorf("expected ErrDecrypt for tampered payload, got %v", err)
	}
	if _, err := c.Open([]byte("short")); !errors.Is(err, ErrDecrypt) {
		t.Errorf("expected ErrDecrypt for short payload, got %v", err)
	}
}

func TestNewCipher_Validation(t *testing.T) {
	salt, _ := GenerateSalt()
	if _, err := NewCipher("", salt); err == nil {
		t.Error("expected error for empty secret")
	}
	if _, err := NewCipher("secret", []byte("short")); err == nil {
		t.Error("expected error for short salt")
	}
}
