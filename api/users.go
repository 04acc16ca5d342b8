package api

import (
	"context"
	"net/http"

	"wastechat/models"
)

// CheckUserActive reports whether userID is currently online.
func (c *Client) CheckUserActive(ctx context.Context, userID int64) (bool, error) {
	var status struct {
		IsActive bool `json:"is_active"`
	}
	err := c.do(ctx, call{
		op:     "check user active",
		method: http.MethodPost,
		path:   "/api/users/check-user-active",
		body:   map[string]int64{"user_id": userID},
	}, &status)
	return status.IsActive, err
}

// TouchActive marks the signed-in user active now.
func (c *Client) TouchActive(ctx context.Context) (models.ActiveStatus, error) {
	var status models.ActiveStatus
	err := c.do(ctx, call{
		op:     "update active",
		method: http.MethodPost,
		path:   "/api/users/update-active",
	}, &status)
	return status, err
}
