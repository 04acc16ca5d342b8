package chat

import (
	"sort"

	"wastechat/models"
)

// MessageLog is the transcript of one open conversation: ascending by
// created_at (ties by ID) and holding each message ID once. It is not safe for
// concurrent use.
type MessageLog struct {
	messages []models.Message
	ids      map[int64]struct{}
}

// NewMessageLog returns an empty log.
func NewMessageLog() *MessageLog {
	return &MessageLog{ids: make(map[int64]struct{})}
}

// Replace discards the current contents and loads messages in transcript order.
func (l *MessageLog) Replace(messages []models.Message) {
	l.messages = l.messages[:0]
	l.ids = make(map[int64]struct{}, len(messages))
	l.Append(messages...)
}

// Append inserts the messages whose IDs are not already present and returns
// them in transcript order.
func (l *MessageLog) Append(messages ...models.Message) []models.Message {
	var added []models.Message
	for _, message := range messages {
		if _, exists := l.ids[message.ID]; exists {
			continue
		}
		l.ids[message.ID] = struct{}{}
		l.insert(message)
		added = append(added, message)
	}
	sort.SliceStable(added, func(i, j int) bool {
		return added[i].Before(added[j])
	})
	return added
}

func (l *MessageLog) insert(message models.Message) {
	// Fast path: polls and sends almost always land at the tail.
	if n := len(l.messages); n == 0 || !message.Before(l.messages[n-1]) {
		l.messages = append(l.messages, message)
		return
	}

	idx := sort.Search(len(l.messages), func(i int) bool {
		return message.Before(l.messages[i])
	})
	l.messages = append(l.messages, models.Message{})
	copy(l.messages[idx+1:], l.messages[idx:])
	l.messages[idx] = message
}

// Contains reports whether a message ID is in the log.
func (l *MessageLog) Contains(id int64) bool {
	_, ok := l.ids[id]
	return ok
}

// Len returns the number of messages.
func (l *MessageLog) Len() int {
	return len(l.messages)
}

// Snapshot returns a copy of the messages in transcript order.
func (l *MessageLog) Snapshot() []models.Message {
	return append([]models.Message(nil), l.messages...)
}
