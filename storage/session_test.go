package storage

import (
	"errors"
	"testing"
)

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.LoadSession(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before save, got %v", err)
	}

	expires := int64(1_736_160_000_000)
	if err := store.SaveSession(SessionRecord{
		UserID:     7,
		BackendURL: "https://market.example.com",
		KeyID:      "abcd",
		Sealed:     []byte{1, 2, 3},
		Nonce:      []byte{4, 5, 6},
		ExpiresAt:  &expires,
	}); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	if err := store.SaveSession(SessionRecord{
		UserID:     8,
		BackendURL: "https://market.example.com",
		KeyID:      "abcd",
		Sealed:     []byte{9},
		Nonce:      []byte{8},
	}); err != nil {
		t.Fatalf("SaveSession overwrite failed: %v", err)
	}

	record, err := store.LoadSession()
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if record.UserID != 8 {
		t.Fatalf("expected overwritten user 8, got %d", record.UserID)
	}
	if record.ExpiresAt != nil {
		t.Fatalf("expected cleared expiry, got %d", *record.ExpiresAt)
	}
	if record.UpdatedAt == 0 {
		t.Fatalf("expected updated_at to be stamped")
	}

	if err := store.ClearSession(); err != nil {
		t.Fatalf("ClearSession failed: %v", err)
	}
	if err := store.ClearSession(); err != nil {
		t.Fatalf("second ClearSession failed: %v", err)
	}
	if _, err := store.LoadSession(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after clear, got %v", err)
	}
}

func TestSaveSessionValidatesInput(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveSession(SessionRecord{KeyID: "k", Sealed: []byte{1}, Nonce: []byte{1}}); err == nil {
		t.Fatalf("expected missing user to fail")
	}
	if err := store.SaveSession(SessionRecord{UserID: 1, Sealed: []byte{1}, Nonce: []byte{1}}); err == nil {
		t.Fatalf("expected missing key ID to fail")
	}
	if err := store.SaveSession(SessionRecord{UserID: 1, KeyID: "k"}); err == nil {
		t.Fatalf("expected missing sealed token to fail")
	}
}
