package storage

import (
	"testing"
	"time"

	"wastechat/models"
)

var testEpoch = time.Date(2025, time.January, 6, 10, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func testMessage(id, conversationID, senderID, recipientID int64, content string, minute int) models.Message {
	return models.Message{
		ID:           id,
		Conversation: &models.ConversationRef{ID: conversationID},
		Sender:       models.UserSummary{ID: senderID, Name: "user-" + string(rune('a'+senderID%26))},
		Recipient:    models.UserSummary{ID: recipientID},
		Content:      content,
		CreatedAt:    testEpoch.Add(time.Duration(minute) * time.Minute),
	}
}
