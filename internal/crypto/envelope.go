// Package crypto provides envelope encryption for small secrets such as OAuth
// tokens. Each plaintext is sealed under a fresh data key, and the data key is
// sealed under a long-lived key-encryption key held in the secret store.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the required length of the key-encryption key in bytes.
const KeySize = chacha20poly1305.KeySize

var (
	// ErrInvalidKey indicates a key-encryption key of the wrong length.
	ErrInvalidKey = errors.New("key-encryption key must be 32 bytes")
	// ErrMalformedCiphertext indicates a blob that cannot be opened.
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
)

// Blob layout: dekNonce || wrappedDEK || msgNonce || sealed, base64-encoded.
const (
	nonceSize  = chacha20poly1305.NonceSizeX
	wrapSize   = KeySize + chacha20poly1305.Overhead
	headerSize = nonceSize + wrapSize + nonceSize
)

// Codec encrypts and decrypts using a fixed key-encryption key.
type Codec struct {
	kek []byte
}

// NewCodec constructs a Codec from a raw 32-byte key-encryption key.
func NewCodec(kek []byte) (*Codec, error) {
	if len(kek) != KeySize {
		return nil, ErrInvalidKey
	}
	return &Codec{kek: append([]byte(nil), kek...)}, nil
}

// NewCodecFromBase64 decodes the key material before constructing the Codec.
func NewCodecFromBase64(encoded string) (*Codec, error) {
	kek, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode key-encryption key: %w", err)
	}
	return NewCodec(kek)
}

// Encrypt seals plaintext into a self-contained base64 blob. The empty string
// short-circuits to the empty string without touching key material.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	dek := make([]byte, KeySize)
	if _, err := rand.Read(dek); err != nil {
		return "", err
	}

	kekAEAD, err := chacha20poly1305.NewX(c.kek)
	if err != nil {
		return "", err
	}
	dekAEAD, err := chacha20poly1305.NewX(dek)
	if err != nil {
		return "", err
	}

	dekNonce := make([]byte, nonceSize)
	msgNonce := make([]byte, nonceSize)
	if _, err := rand.Read(dekNonce); err != nil {
		return "", err
	}
	if _, err := rand.Read(msgNonce); err != nil {
		return "", err
	}

	blob := make([]byte, 0, headerSize+len(plaintext)+chacha20poly1305.Overhead)
	blob = append(blob, dekNonce...)
	blob = kekAEAD.Seal(blob, dekNonce, dek, nil)
	blob = append(blob, msgNonce...)
	blob = dekAEAD.Seal(blob, msgNonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt opens a blob produced by Encrypt. The empty string short-circuits to
// the empty string.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	blob, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	if len(blob) < headerSize {
		return "", ErrMalformedCiphertext
	}

	dekNonce := blob[:nonceSize]
	wrapped := blob[nonceSize : nonceSize+wrapSize]
	msgNonce := blob[nonceSize+wrapSize : headerSize]
	sealed := blob[headerSize:]

	kekAEAD, err := chacha20poly1305.NewX(c.kek)
	if err != nil {
		return "", err
	}
	dek, err := kekAEAD.Open(nil, dekNonce, wrapped, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}

	dekAEAD, err := chacha20poly1305.NewX(dek)
	if err != nil {
		return "", err
	}
	plaintext, err := dekAEAD.Open(nil, msgNonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}

	return string(plaintext), nil
}
