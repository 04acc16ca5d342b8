package chat

import "wastechat/models"

// PaneState is the lifecycle state of the open conversation view.
type PaneState string

const (
	PaneClosed     PaneState = "closed"
	PaneLoading    PaneState = "loading"
	PaneLoaded     PaneState = "loaded"
	PaneLoadFailed PaneState = "load_failed"
)

// EventType identifies session updates.
type EventType string

const (
	EventConversations    EventType = "conversations"
	EventPaneState        EventType = "pane_state"
	EventMessagesReplaced EventType = "messages_replaced"
	EventMessagesAppended EventType = "messages_appended"
	EventPresence         EventType = "presence"
	EventNotice           EventType = "notice"
)

// Event is one session update. Which fields are set depends on Type.
type Event struct {
	Type           EventType             `json:"type"`
	ConversationID int64                 `json:"conversation_id,omitempty"`
	State          PaneState             `json:"state,omitempty"`
	Conversations  []models.Conversation `json:"conversations,omitempty"`
	Messages       []models.Message      `json:"messages,omitempty"`
	Presence       *models.Presence      `json:"presence,omitempty"`
	// Follow asks the view to scroll to the newest message.
	Follow bool   `json:"follow,omitempty"`
	Notice string `json:"notice,omitempty"`
}

// Pane is a snapshot of the open conversation.
type Pane struct {
	State        PaneState
	Generation   uint64
	Conversation *models.Conversation
	Messages     []models.Message
	Presence     *models.Presence
}
