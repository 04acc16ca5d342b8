package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"wastechat/models"
)

// ListConversations returns the signed-in user's conversations.
func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := c.do(ctx, call{
		op:     "list conversations",
		method: http.MethodGet,
		path:   "/api/conversations",
	}, &conversations)
	if err != nil {
		return nil, err
	}
	return conversations, nil
}

// StartConversation opens (or returns the existing) conversation with recipientID.
func (c *Client) StartConversation(ctx context.Context, recipientID int64) (models.Conversation, error) {
	if recipientID <= 0 {
		return models.Conversation{}, errors.New("recipient id must be > 0")
	}

	var conversation models.Conversation
	err := c.do(ctx, call{
		op:     "start conversation",
		method: http.MethodPost,
		path:   "/api/conversations",
		// The backend spells the field this way.
		body:   map[string]int64{"reciever_id": recipientID},
	}, &conversation)
	return conversation, err
}

// ListMessages returns one page of history, newest first.
func (c *Client) ListMessages(ctx context.Context, conversationID int64, page int) (models.MessagePage, error) {
	if page <= 0 {
		page = 1
	}

	var result models.MessagePage
	err := c.do(ctx, call{
		op:     "list messages",
		method: http.MethodGet,
		path:   "/api/conversations/messages",
		query:  map[string]string{
			"conversation_id": strconv.FormatInt(conversationID, 10),
			"page":            strconv.Itoa(page),
		},
	}, &result)
	return result, err
}

// LatestMessages returns messages addressed to the signed-in user that the
// backend has not delivered yet. The backend marks them read.
func (c *Client) LatestMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	var messages []models.Message
	err := c.do(ctx, call{
		op:     "latest messages",
		method: http.MethodPost,
		path:   "/api/conversations/latest_messages",
		body:   map[string]int64{"conversation_id": conversationID},
	}, &messages)
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// SendMessage submits a message and returns the server-confirmed copy.
func (c *Client) SendMessage(ctx context.Context, message models.OutgoingMessage) (models.Message, error) {
	var created models.Message
	err := c.do(ctx, call{
		op:     "send message",
		method: http.MethodPost,
		path:   "/api/conversations/messages",
		body:   message,
	}, &created)
	return created, err
}
