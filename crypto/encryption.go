package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// SecretKeySize is the sealing key length in bytes.
const SecretKeySize = chacha20poly1305.KeySize

// Seal encrypts plaintext with XChaCha20-Poly1305 and returns ciphertext and nonce.
// additionalData is authenticated but not encrypted.
func Seal(key, plaintext, additionalData []byte) (ciphertext, nonce []byte, err error) {
	if len(key) != SecretKeySize {
		return nil, nil, fmt.Errorf("invalid secret key length: got %d want %d", len(key), SecretKeySize)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, fmt.Errorf("create XChaCha20-Poly1305: %w", err)
	}

	nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, additionalData)
	return ciphertext, nonce, nil
}

// Open decrypts XChaCha20-Poly1305 ciphertext using the provided nonce.
func Open(key, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(key) != SecretKeySize {
		return nil, fmt.Errorf("invalid secret key length: got %d want %d", len(key), SecretKeySize)
	}
	if len(ciphertext) == 0 {
		return nil, errors.New("ciphertext is required")
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create XChaCha20-Poly1305: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("invalid nonce length: got %d want %d", len(nonce), aead.NonceSize())
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("decrypt ciphertext: %w", err)
	}

	return plaintext, nil
}
