package models

import "time"

// ConversationRef is the nested conversation object carried by messages.
type ConversationRef struct {
	ID int64 `json:"id"`
}

// Message is one server-confirmed chat message.
type Message struct {
	ID           int64            `json:"id"`
	Conversation *ConversationRef `json:"conversation,omitempty"`
	Sender       UserSummary      `json:"sender"`
	Recipient    UserSummary      `json:"recipient"`
	Content      string           `json:"content"`
	IsRead       bool             `json:"is_read"`
	ReadAt       *time.Time       `json:"read_at"`
	CreatedAt    time.Time        `json:"created_at"`
}

// ConversationID returns the owning conversation ID, or 0 when absent.
func (m Message) ConversationID() int64 {
	if m.Conversation == nil {
		return 0
	}
	return m.Conversation.ID
}

// Before reports whether m sorts before other in a transcript.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// OutgoingMessage is the body submitted when sending.
type OutgoingMessage struct {
	ConversationID int64  `json:"conversation_id"`
	SenderID       int64  `json:"sender_id"`
	RecipientID    int64  `json:"recipient_id"`
	Content        string `json:"content"`
}

// Pagination describes one page of message history.
type Pagination struct {
	Page          int `json:"page"`
	RecordFrom    int `json:"record_from"`
	RecordTo      int `json:"record_to"`
	TotalRecords  int `json:"total_records"`
	TotalPages    int `json:"total_pages"`
	RecordPerPage int `json:"record_per_page"`
}

// MessagePage is a page of history, newest first as served by the backend.
type MessagePage struct {
	Pagination Pagination `json:"pagination"`
	Messages   []Message  `json:"messages"`
}

// Chronological returns the page's messages oldest first.
func (p MessagePage) Chronological() []Message {
	out := make([]Message, len(p.Messages))
	for i, message := range p.Messages {
		out[len(p.Messages)-1-i] = message
	}
	return out
}
