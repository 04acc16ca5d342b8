// Package auth reads backend access tokens and keeps the signed-in session
// sealed on disk.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoSession means nobody is signed in.
	ErrNoSession = errors.New("not signed in")
	// ErrTokenExpired means the stored access token is past its expiry.
	ErrTokenExpired = errors.New("session expired")
)

// TokenInfo is what the client needs from an access token.
type TokenInfo struct {
	UserID    int64
	ExpiresAt time.Time
}

// Expired reports whether the token is expired at now. Tokens without an
// expiry never expire.
func (i TokenInfo) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// ParseToken extracts user_id and exp from raw without verifying the
// signature. The backend verifies every request.
func ParseToken(raw string) (TokenInfo, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return TokenInfo{}, ErrNoSession
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return TokenInfo{}, fmt.Errorf("parse access token: %w", err)
	}

	userID, err := claimInt64(claims["user_id"])
	if err != nil {
		return TokenInfo{}, fmt.Errorf("parse access token: user_id: %w", err)
	}

	info := TokenInfo{UserID: userID}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return TokenInfo{}, fmt.Errorf("parse access token: %w", err)
	}
	if exp != nil {
		info.ExpiresAt = exp.Time
	}

	return info, nil
}

// CheckToken parses raw and rejects it when it has expired at now.
func CheckToken(raw string, now time.Time) (TokenInfo, error) {
	info, err := ParseToken(raw)
	if err != nil {
		return TokenInfo{}, err
	}
	if info.Expired(now) {
		return info, ErrTokenExpired
	}
	return info, nil
}

func claimInt64(value any) (int64, error) {
	switch v := value.(type) {
	case float64:
		if v <= 0 || v != float64(int64(v)) {
			return 0, fmt.Errorf("invalid value %v", v)
		}
		return int64(v), nil
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("invalid value %q", v)
		}
		return id, nil
	case nil:
		return 0, errors.New("missing")
	default:
		return 0, fmt.Errorf("unsupported type %T", value)
	}
}
