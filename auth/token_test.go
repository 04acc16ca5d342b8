package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("backend-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func TestParseTokenReadsUserAndExpiry(t *testing.T) {
	exp := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	raw := signToken(t, jwt.MapClaims{
		"token_type": "access",
		"user_id":    7,
		"exp":        exp.Unix(),
	})

	info, err := ParseToken(raw)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if info.UserID != 7 {
		t.Fatalf("expected user 7, got %d", info.UserID)
	}
	if !info.ExpiresAt.Equal(exp) {
		t.Fatalf("expected expiry %s, got %s", exp, info.ExpiresAt)
	}
	if info.Expired(exp.Add(-time.Minute)) {
		t.Fatalf("expected token valid before expiry")
	}
	if !info.Expired(exp) {
		t.Fatalf("expected token expired at expiry")
	}
}

func TestParseTokenAcceptsStringUserID(t *testing.T) {
	info, err := ParseToken(signToken(t, jwt.MapClaims{"user_id": "12"}))
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if info.UserID != 12 || !info.ExpiresAt.IsZero() {
		t.Fatalf("unexpected token info: %+v", info)
	}
}

func TestParseTokenRejectsBadInput(t *testing.T) {
	if _, err := ParseToken(""); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession for empty token, got %v", err)
	}
	if _, err := ParseToken("not-a-jwt"); err == nil {
		t.Fatalf("expected malformed token to fail")
	}
	if _, err := ParseToken(signToken(t, jwt.MapClaims{"sub": "x"})); err == nil {
		t.Fatalf("expected token without user_id to fail")
	}
}

func TestCheckTokenReportsExpiry(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	raw := signToken(t, jwt.MapClaims{"user_id": 7, "exp": now.Add(-time.Second).Unix()})

	info, err := CheckToken(raw, now)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if info.UserID != 7 {
		t.Fatalf("expected user id alongside expiry error, got %d", info.UserID)
	}
}
