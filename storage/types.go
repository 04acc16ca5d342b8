package storage

import (
	"database/sql"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

// SessionRecord is the single persisted sign-in. Sealed holds the encrypted
// token pair; KeyID identifies the key it was sealed with.
type SessionRecord struct {
	UserID     int64
	BackendURL string
	KeyID      string
	Sealed     []byte
	Nonce      []byte
	ExpiresAt  *int64
	UpdatedAt  int64
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(ptr *string) sql.NullString {
	if ptr == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *ptr, Valid: true}
}

func nullInt64(ptr *int64) sql.NullInt64 {
	if ptr == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *ptr, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func timeToMilli(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func milliToTime(ni sql.NullInt64) *time.Time {
	if !ni.Valid {
		return nil
	}
	v := time.UnixMilli(ni.Int64).UTC()
	return &v
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
