package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, SecretKeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}

	plaintext := []byte(`{"access":"a.b.c","refresh":"d.e.f"}`)
	aad := []byte("session:7")

	ciphertext, nonce, err := Seal(key, plaintext, aad)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if len(nonce) != 24 {
		t.Fatalf("expected 24-byte nonce, got %d", len(nonce))
	}
	if bytes.Contains(ciphertext, []byte("access")) {
		t.Fatalf("expected ciphertext to hide plaintext")
	}

	opened, err := Open(key, nonce, ciphertext, aad)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("opened plaintext does not match original")
	}
}

func TestOpenRejectsTamperedInput(t *testing.T) {
	key := make([]byte, SecretKeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}

	ciphertext, nonce, err := Seal(key, []byte("token"), []byte("session:7"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	if _, err := Open(key, nonce, ciphertext, []byte("session:8")); err == nil {
		t.Fatalf("expected additional data mismatch to fail")
	}

	tampered := append([]byte(nil), ciphertext...)
	tampered[0] ^= 0xff
	if _, err := Open(key, nonce, tampered, []byte("session:7")); err == nil {
		t.Fatalf("expected tampered ciphertext to fail")
	}

	if _, _, err := Seal(key[:10], []byte("token"), nil); err == nil {
		t.Fatalf("expected short key to fail")
	}
}
