package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"wastechat/models"
)

type fakeBackend struct {
	mu sync.Mutex

	conversations    []models.Conversation
	conversationsErr error

	pages        map[int64]models.MessagePage
	messagesErr  error
	blockHistory map[int64]chan struct{}

	latest    map[int64][]models.Message
	latestErr error

	sendErr error
	sent    []models.OutgoingMessage
	nextID  int64

	active map[int64]bool

	calls map[string]int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		pages:        make(map[int64]models.MessagePage),
		blockHistory: make(map[int64]chan struct{}),
		latest:       make(map[int64][]models.Message),
		active:       make(map[int64]bool),
		calls:        make(map[string]int),
		nextID:       1000,
	}
}

func (f *fakeBackend) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeBackend) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["conversations"]++
	if f.conversationsErr != nil {
		return nil, f.conversationsErr
	}
	return append([]models.Conversation(nil), f.conversations...), nil
}

func (f *fakeBackend) ListMessages(ctx context.Context, conversationID int64, page int) (models.MessagePage, error) {
	f.mu.Lock()
	f.calls["messages"]++
	block := f.blockHistory[conversationID]
	f.mu.Unlock()

	if block != nil {
		// The response still arrives after cancellation, like a slow server.
		select {
		case <-block:
		case <-ctx.Done():
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.messagesErr != nil {
		return models.MessagePage{}, f.messagesErr
	}
	return f.pages[conversationID], nil
}

func (f *fakeBackend) LatestMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["latest"]++
	if f.latestErr != nil {
		return nil, f.latestErr
	}
	return append([]models.Message(nil), f.latest[conversationID]...), nil
}

func (f *fakeBackend) SendMessage(ctx context.Context, message models.OutgoingMessage) (models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["send"]++
	if f.sendErr != nil {
		return models.Message{}, f.sendErr
	}
	f.sent = append(f.sent, message)
	f.nextID++
	return models.Message{
		ID:           f.nextID,
		Conversation: &models.ConversationRef{ID: message.ConversationID},
		Sender:       models.UserSummary{ID: message.SenderID},
		Recipient:    models.UserSummary{ID: message.RecipientID},
		Content:      message.Content,
		CreatedAt:    testEpoch.Add(time.Hour),
	}, nil
}

func (f *fakeBackend) CheckUserActive(ctx context.Context, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["presence"]++
	return f.active[userID], nil
}

func (f *fakeBackend) TouchActive(ctx context.Context) (models.ActiveStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["heartbeat"]++
	return models.ActiveStatus{IsActiveUser: true}, nil
}

func testConversation(id, selfID, peerID int64, minute int) models.Conversation {
	conversation := models.Conversation{
		ID:               id,
		User1ID:          selfID,
		User2ID:          peerID,
		ConversationUser: &models.UserSummary{ID: peerID, Name: "peer"},
		CreatedAt:        testEpoch,
		UpdatedAt:        testEpoch,
	}
	if minute >= 0 {
		activity := testEpoch.Add(time.Duration(minute) * time.Minute)
		conversation.LatestConversation = &activity
	}
	return conversation
}

func waitForCondition(t *testing.T, timeout time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
