package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wastechat/models"
)

// SaveConversations replaces the cached conversation snapshot.
func (s *Store) SaveConversations(conversations []models.Conversation) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin conversation snapshot: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clear conversation snapshot: %w", err)
	}

	syncedAt := nowUnixMilli()
	for _, conversation := range conversations {
		if conversation.ID <= 0 {
			return fmt.Errorf("conversation id must be > 0, got %d", conversation.ID)
		}
		counterpart := conversation.Counterparty()
		if _, err := tx.Exec(
			`INSERT INTO conversations (
				conversation_id,
				user1_id,
				user2_id,
				counterpart_id,
				counterpart_name,
				counterpart_email,
				counterpart_picture,
				latest_message,
				latest_activity,
				unread_count,
				created_at,
				updated_at,
				synced_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			conversation.ID,
			conversation.User1ID,
			conversation.User2ID,
			counterpart.ID,
			counterpart.Name,
			counterpart.Email,
			nullString(counterpart.ProfilePicture),
			nullString(conversation.LatestMessageContent),
			timeToMilli(conversation.LatestConversation),
			conversation.UnreadMessagesCount,
			conversation.CreatedAt.UnixMilli(),
			conversation.UpdatedAt.UnixMilli(),
			syncedAt,
		); err != nil {
			return fmt.Errorf("insert conversation %d: %w", conversation.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit conversation snapshot: %w", err)
	}

	return nil
}

// LoadConversations returns the cached snapshot, newest activity first.
func (s *Store) LoadConversations() ([]models.Conversation, error) {
	rows, err := s.db.Query(
		`SELECT
			conversation_id,
			user1_id,
			user2_id,
			counterpart_id,
			counterpart_name,
			counterpart_email,
			counterpart_picture,
			latest_message,
			latest_activity,
			unread_count,
			created_at,
			updated_at
		FROM conversations
		ORDER BY latest_activity IS NULL, latest_activity DESC, conversation_id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		conversations = append(conversations, *conversation)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}

	return conversations, nil
}

// GetConversation fetches one cached conversation.
func (s *Store) GetConversation(conversationID int64) (*models.Conversation, error) {
	row := s.db.QueryRow(
		`SELECT
			conversation_id,
			user1_id,
			user2_id,
			counterpart_id,
			counterpart_name,
			counterpart_email,
			counterpart_picture,
			latest_message,
			latest_activity,
			unread_count,
			created_at,
			updated_at
		FROM conversations
		WHERE conversation_id = ?`,
		conversationID,
	)

	conversation, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation %d: %w", conversationID, err)
	}
	return conversation, nil
}

func scanConversation(row scanner) (*models.Conversation, error) {
	var (
		conversation   models.Conversation
		counterpart    models.UserSummary
		picture        sql.NullString
		latestMessage  sql.NullString
		latestActivity sql.NullInt64
		createdAt      int64
		updatedAt      int64
	)

	if err := row.Scan(
		&conversation.ID,
		&conversation.User1ID,
		&conversation.User2ID,
		&counterpart.ID,
		&counterpart.Name,
		&counterpart.Email,
		&picture,
		&latestMessage,
		&latestActivity,
		&conversation.UnreadMessagesCount,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	counterpart.ProfilePicture = stringPtr(picture)
	if counterpart.ID != 0 {
		conversation.ConversationUser = &counterpart
	}
	conversation.LatestMessageContent = stringPtr(latestMessage)
	conversation.LatestConversation = milliToTime(latestActivity)
	conversation.CreatedAt = time.UnixMilli(createdAt).UTC()
	conversation.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	return &conversation, nil
}
