package models

import (
	"sort"
	"strings"
	"time"
)

// Conversation is a thread between the signed-in user and one counterparty.
type Conversation struct {
	ID                   int64        `json:"id"`
	User1ID              int64        `json:"user1_id"`
	User2ID              int64        `json:"user2_id"`
	ConversationUser     *UserSummary `json:"conversation_user"`
	LatestMessageContent *string      `json:"latest_message_content"`
	LatestConversation   *time.Time   `json:"latest_conversation"`
	UnreadMessagesCount  int          `json:"unread_messages_count"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// Counterparty returns the other participant, or a zero summary when the
// backend did not resolve one.
func (c Conversation) Counterparty() UserSummary {
	if c.ConversationUser == nil {
		return UserSummary{}
	}
	return *c.ConversationUser
}

// CounterpartyID returns the other participant's ID as seen by selfID.
func (c Conversation) CounterpartyID(selfID int64) int64 {
	if c.ConversationUser != nil && c.ConversationUser.ID > 0 {
		return c.ConversationUser.ID
	}
	if c.User1ID == selfID {
		return c.User2ID
	}
	return c.User1ID
}

// Preview returns the latest message text or an empty string.
func (c Conversation) Preview() string {
	if c.LatestMessageContent == nil {
		return ""
	}
	return *c.LatestMessageContent
}

// HasUnread reports whether the signed-in user has unread messages here.
func (c Conversation) HasUnread() bool {
	return c.UnreadMessagesCount > 0
}

// Matches reports whether term occurs in the counterparty name or the latest
// preview, case-insensitively. An empty term matches everything.
func (c Conversation) Matches(term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(c.Counterparty().Name), term) ||
		strings.Contains(strings.ToLower(c.Preview()), term)
}

// SortByActivity orders conversations by latest activity, newest first.
// Conversations without activity go last; ties break on ID descending.
func SortByActivity(conversations []Conversation) {
	sort.SliceStable(conversations, func(i, j int) bool {
		a, b := conversations[i].LatestConversation, conversations[j].LatestConversation
		switch {
		case a == nil && b == nil:
			return conversations[i].ID > conversations[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return conversations[i].ID > conversations[j].ID
		default:
			return a.After(*b)
		}
	})
}
