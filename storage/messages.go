package storage

import (
	"errors"
	"fmt"
	"time"

	"wastechat/models"
)

// SaveMessages stores messages for a conversation. Messages already cached
// under the same ID are left untouched; the number of new rows is returned.
func (s *Store) SaveMessages(conversationID int64, messages []models.Message) (int, error) {
	if conversationID <= 0 {
		return 0, errors.New("conversation_id must be > 0")
	}
	if len(messages) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin message insert: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	inserted := 0
	syncedAt := nowUnixMilli()
	for _, message := range messages {
		if message.ID <= 0 {
			return 0, fmt.Errorf("message id must be > 0, got %d", message.ID)
		}

		isRead := 0
		if message.IsRead {
			isRead = 1
		}

		res, err := tx.Exec(
			`INSERT INTO messages (
				message_id,
				conversation_id,
				sender_id,
				sender_name,
				recipient_id,
				recipient_name,
				content,
				is_read,
				created_at,
				synced_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(message_id) DO NOTHING`,
			message.ID,
			conversationID,
			message.Sender.ID,
			message.Sender.Name,
			message.Recipient.ID,
			message.Recipient.Name,
			message.Content,
			isRead,
			message.CreatedAt.UnixMilli(),
			syncedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("insert message %d: %w", message.ID, err)
		}

		rowsAffected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("read rows affected for message %d: %w", message.ID, err)
		}
		inserted += int(rowsAffected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit message insert: %w", err)
	}

	return inserted, nil
}

// LoadMessages returns the newest limit messages of a conversation, oldest first.
func (s *Store) LoadMessages(conversationID int64, limit int) ([]models.Message, error) {
	if conversationID <= 0 {
		return nil, errors.New("conversation_id must be > 0")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(
		`SELECT * FROM (
			SELECT
				message_id,
				conversation_id,
				sender_id,
				sender_name,
				recipient_id,
				recipient_name,
				content,
				is_read,
				created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, message_id DESC
			LIMIT ?
		) ORDER BY created_at ASC, message_id ASC`,
		conversationID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("load messages for conversation %d: %w", conversationID, err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	return messages, nil
}

// PruneMessagesBefore removes cached messages created before cutoff.
func (s *Store) PruneMessagesBefore(cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, errors.New("cutoff is required")
	}

	res, err := s.db.Exec(`DELETE FROM messages WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for message prune: %w", err)
	}

	return rowsAffected, nil
}

func scanMessage(row scanner) (*models.Message, error) {
	var (
		message        models.Message
		conversationID int64
		isRead         int
		createdAt      int64
	)

	if err := row.Scan(
		&message.ID,
		&conversationID,
		&message.Sender.ID,
		&message.Sender.Name,
		&message.Recipient.ID,
		&message.Recipient.Name,
		&message.Content,
		&isRead,
		&createdAt,
	); err != nil {
		return nil, err
	}

	message.Conversation = &models.ConversationRef{ID: conversationID}
	message.IsRead = isRead == 1
	message.CreatedAt = time.UnixMilli(createdAt).UTC()

	return &message, nil
}
