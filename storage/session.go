package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// SaveSession upserts the single persisted sign-in.
func (s *Store) SaveSession(record SessionRecord) error {
	if record.UserID <= 0 {
		return errors.New("user_id must be > 0")
	}
	if record.KeyID == "" {
		return errors.New("key_id is required")
	}
	if len(record.Sealed) == 0 || len(record.Nonce) == 0 {
		return errors.New("sealed token is required")
	}
	if record.UpdatedAt == 0 {
		record.UpdatedAt = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO session (slot, user_id, backend_url, key_id, sealed, nonce, expires_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			user_id = excluded.user_id,
			backend_url = excluded.backend_url,
			key_id = excluded.key_id,
			sealed = excluded.sealed,
			nonce = excluded.nonce,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		record.UserID,
		record.BackendURL,
		record.KeyID,
		record.Sealed,
		record.Nonce,
		nullInt64(record.ExpiresAt),
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	return nil
}

// LoadSession returns the persisted sign-in or ErrNotFound.
func (s *Store) LoadSession() (*SessionRecord, error) {
	var (
		record    SessionRecord
		expiresAt sql.NullInt64
	)

	err := s.db.QueryRow(
		`SELECT user_id, backend_url, key_id, sealed, nonce, expires_at, updated_at
		FROM session
		WHERE slot = 1`,
	).Scan(
		&record.UserID,
		&record.BackendURL,
		&record.KeyID,
		&record.Sealed,
		&record.Nonce,
		&expiresAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	record.ExpiresAt = int64Ptr(expiresAt)
	return &record, nil
}

// ClearSession removes the persisted sign-in. Clearing an absent session is not an error.
func (s *Store) ClearSession() error {
	if _, err := s.db.Exec(`DELETE FROM session WHERE slot = 1`); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
