package models

import "time"

// Presence is the latest known online state of one user.
type Presence struct {
	UserID    int64     `json:"user_id"`
	Active    bool      `json:"is_active"`
	CheckedAt time.Time `json:"checked_at"`
}
