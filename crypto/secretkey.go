package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const secretKeyPEMType = "WASTECHAT SESSION KEY"

// EnsureSecretKey loads the local sealing key from disk, generating it on first run.
func EnsureSecretKey(path string) ([]byte, error) {
	key, err := LoadSecretKey(path)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	key = make([]byte, SecretKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate secret key: %w", err)
	}
	if err := SaveSecretKey(path, key); err != nil {
		return nil, err
	}

	return key, nil
}

// LoadSecretKey loads a sealing key from a PEM file.
func LoadSecretKey(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secret key: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("decode secret key PEM: no PEM block")
	}
	if block.Type != secretKeyPEMType {
		return nil, fmt.Errorf("decode secret key PEM: unexpected type %q", block.Type)
	}
	if len(block.Bytes) != SecretKeySize {
		return nil, fmt.Errorf("decode secret key PEM: invalid key size %d", len(block.Bytes))
	}

	return block.Bytes, nil
}

// SaveSecretKey writes a sealing key PEM file with 0600 permissions.
func SaveSecretKey(path string, key []byte) error {
	if len(key) != SecretKeySize {
		return fmt.Errorf("save secret key: invalid key size %d", len(key))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create secret key directory: %w", err)
	}

	block := &pem.Block{
		Type:  secretKeyPEMType,
		Bytes: key,
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("write secret key: %w", err)
	}

	return nil
}

// KeyID returns a short stable identifier for a key so sealed records can
// detect that the key they were written with has been replaced.
func KeyID(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:8])
}
