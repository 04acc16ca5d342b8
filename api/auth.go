package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"wastechat/models"
)

// Login exchanges credentials for a token pair. The client's own token is
// not changed.
func (c *Client) Login(ctx context.Context, email, password string) (models.Tokens, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return models.Tokens{}, errors.New("email and password are required")
	}

	var tokens models.Tokens
	err := c.do(ctx, call{
		op:     "login",
		method: http.MethodPost,
		path:   "/api/auth/login",
		body:   map[string]string{
			"email":    email,
			"password": password,
		},
	}, &tokens)
	if err != nil {
		return models.Tokens{}, err
	}
	if tokens.Access == "" {
		return models.Tokens{}, &RequestError{Op: "login", Err: ErrMissingData}
	}
	return tokens, nil
}

// VerifyToken asks the backend whether the current token is valid. An
// explicit rejection is reported as (false, nil).
func (c *Client) VerifyToken(ctx context.Context) (bool, error) {
	var result struct {
		Valid bool `json:"valid"`
	}
	err := c.do(ctx, call{
		op:     "verify token",
		method: http.MethodPost,
		path:   "/api/verify_token",
		bare:   true,
	}, &result)
	if IsUnauthorized(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return result.Valid, nil
}

// CurrentUser returns the signed-in user's profile.
func (c *Client) CurrentUser(ctx context.Context) (models.UserSummary, error) {
	var user models.UserSummary
	err := c.do(ctx, call{
		op:     "current user",
		method: http.MethodGet,
		path:   "/api/auth/user",
		bare:   true,
	}, &user)
	return user, err
}

// Logout ends the backend session.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, call{
		op:     "logout",
		method: http.MethodPost,
		path:   "/api/auth/logout",
	}, nil)
}
