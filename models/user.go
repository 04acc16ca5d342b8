package models

import "time"

// UserSummary is the public profile of a marketplace user as embedded in
// conversation and message payloads.
type UserSummary struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Email          string  `json:"email,omitempty"`
	ProfilePicture *string `json:"profile_picture"`
}

// Initial returns the first letter of the user's name, used as an avatar
// placeholder when no profile picture exists.
func (u UserSummary) Initial() string {
	for _, r := range u.Name {
		return string(r)
	}
	return "?"
}

// ActiveStatus is the heartbeat response for the signed-in user.
type ActiveStatus struct {
	ID           int64      `json:"id"`
	IsActiveUser bool       `json:"is_active_user"`
	LastActive   *time.Time `json:"last_active"`
}

// Tokens is the login response pair.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}
