package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"wastechat/crypto"
	"wastechat/models"
	"wastechat/storage"
)

// SessionStore persists one sealed session record.
type SessionStore interface {
	SaveSession(record storage.SessionRecord) error
	LoadSession() (*storage.SessionRecord, error)
	ClearSession() error
}

// Session is a signed-in user as remembered between runs.
type Session struct {
	UserID     int64
	BackendURL string
	Tokens     models.Tokens
	ExpiresAt  time.Time
}

// Vault seals tokens with a local secret key before they reach the store.
type Vault struct {
	store SessionStore
	key   []byte
	keyID string
	now   func() time.Time
}

// NewVault returns a vault bound to store and key.
func NewVault(store SessionStore, key []byte) (*Vault, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if len(key) != crypto.SecretKeySize {
		return nil, fmt.Errorf("secret key must be %d bytes", crypto.SecretKeySize)
	}
	return &Vault{
		store: store,
		key:   append([]byte(nil), key...),
		keyID: crypto.KeyID(key),
		now:   time.Now,
	}, nil
}

// Save seals tokens and stores them as the current session.
func (v *Vault) Save(backendURL string, tokens models.Tokens) (*Session, error) {
	info, err := ParseToken(tokens.Access)
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(tokens)
	if err != nil {
		return nil, fmt.Errorf("encode tokens: %w", err)
	}
	sealed, nonce, err := crypto.Seal(v.key, plaintext, sessionAAD(info.UserID, backendURL))
	if err != nil {
		return nil, fmt.Errorf("seal tokens: %w", err)
	}

	record := storage.SessionRecord{
		UserID:     info.UserID,
		BackendURL: backendURL,
		KeyID:      v.keyID,
		Sealed:     sealed,
		Nonce:      nonce,
		UpdatedAt:  v.now().UnixMilli(),
	}
	if !info.ExpiresAt.IsZero() {
		expires := info.ExpiresAt.UnixMilli()
		record.ExpiresAt = &expires
	}
	if err := v.store.SaveSession(record); err != nil {
		return nil, err
	}

	return &Session{
		UserID:     info.UserID,
		BackendURL: backendURL,
		Tokens:     tokens,
		ExpiresAt:  info.ExpiresAt,
	}, nil
}

// Load returns the stored session. It fails with ErrNoSession when nothing is
// stored or the record was sealed with another key, and with ErrTokenExpired
// when the access token has expired.
func (v *Vault) Load() (*Session, error) {
	record, err := v.store.LoadSession()
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	if record.KeyID != v.keyID {
		return nil, fmt.Errorf("%w: session sealed with key %s", ErrNoSession, record.KeyID)
	}

	plaintext, err := crypto.Open(v.key, record.Nonce, record.Sealed, sessionAAD(record.UserID, record.BackendURL))
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	var tokens models.Tokens
	if err := json.Unmarshal(plaintext, &tokens); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}

	session := &Session{
		UserID:     record.UserID,
		BackendURL: record.BackendURL,
		Tokens:     tokens,
	}
	if record.ExpiresAt != nil {
		session.ExpiresAt = time.UnixMilli(*record.ExpiresAt).UTC()
		if !v.now().Before(session.ExpiresAt) {
			return session, ErrTokenExpired
		}
	}

	return session, nil
}

// Clear forgets the stored session.
func (v *Vault) Clear() error {
	return v.store.ClearSession()
}

func sessionAAD(userID int64, backendURL string) []byte {
	return []byte("wastechat-session:" + strconv.FormatInt(userID, 10) + ":" + backendURL)
}
