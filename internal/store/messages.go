package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"geochat/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MessageStore defines persistence operations for messages.
type MessageStore interface {
	InsertMessage(ctx context.Context, message *models.Message) error
	// ListRecentByGroup returns up to limit of the newest messages inside the
	// retention window, ordered oldest-first.
	ListRecentByGroup(ctx context.Context, groupID uuid.UUID, retention time.Duration, limit int) ([]*models.Message, error)
	GetMessageByID(ctx context.Context, messageID string) (*models.Message, error)
	// CountRecentBySender counts a sender's inserts inside the window. This
	// backs the SQL rate-limit check when Redis is not configured.
	CountRecentBySender(ctx context.Context, senderRef string, window time.Duration) (int, error)
}

// PostgresMessageStore implements MessageStore with PostgreSQL.
type PostgresMessageStore struct {
	db *pgxpool.Pool
}

func NewPostgresMessageStore(db *pgxpool.Pool) *PostgresMessageStore {
	return &PostgresMessageStore{
		db: db,
	}
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	var userID, deviceID sql.NullString
	var poll []byte

	err := row.Scan(
		&msg.ID,
		&msg.GroupID,
		&msg.Content,
		&msg.SenderKind,
		&userID,
		&deviceID,
		&msg.DisplayName,
		&msg.AvatarColor,
		&msg.Kind,
		&poll,
		&msg.SentAt,
	)
	if err != nil {
		return nil, err
	}

	if userID.Valid {
		msg.UserID = userID.String
	}
	if deviceID.Valid {
		msg.DeviceID = deviceID.String
	}
	if len(poll) > 0 {
		var payload models.PollPayload
		if err := json.Unmarshal(poll, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode poll payload for message %s: %w", msg.ID, err)
		}
		msg.Poll = &payload
	}
	return &msg, nil
}

func (s *PostgresMessageStore) InsertMessage(ctx context.Context, message *models.Message) error {
	query := `
        INSERT INTO messages (id, group_id, content, sender_kind, user_id, device_id, display_name, avatar_color, kind, poll, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    `
	var userID, deviceID interface{}
	if message.UserID != "" {
		userID = message.UserID
	}
	if message.DeviceID != "" {
		deviceID = message.DeviceID
	}
	var poll interface{}
	if message.Poll != nil {
		encoded, err := json.Marshal(message.Poll)
		if err != nil {
			return fmt.Errorf("failed to encode poll payload: %w", err)
		}
		poll = encoded
	}

	_, err := s.db.Exec(ctx, query,
		message.ID,
		message.GroupID,
		message.Content,
		message.SenderKind,
		userID,
		deviceID,
		message.DisplayName,
		message.AvatarColor,
		message.Kind,
		poll,
		message.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *PostgresMessageStore) ListRecentByGroup(ctx context.Context, groupID uuid.UUID, retention time.Duration, limit int) ([]*models.Message, error) {
	// Newest rows first so LIMIT keeps the most recent slice, reversed below
	// into the oldest-first order callers expect.
	query := `
        SELECT id::text, group_id, content, sender_kind, user_id::text, device_id::text,
               display_name, avatar_color, kind, poll, created_at
        FROM messages
        WHERE group_id = $1 AND created_at > $2
        ORDER BY created_at DESC
        LIMIT $3
    `
	cutoff := time.Now().Add(-retention)
	rows, err := s.db.Query(ctx, query, groupID, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for group %s: %w", groupID, err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			log.Printf("MessageStore: Error scanning message row: %v", err)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *PostgresMessageStore) GetMessageByID(ctx context.Context, messageID string) (*models.Message, error) {
	query := `
        SELECT id::text, group_id, content, sender_kind, user_id::text, device_id::text,
               display_name, avatar_color, kind, poll, created_at
        FROM messages
        WHERE id = $1
    `
	msg, err := scanMessage(s.db.QueryRow(ctx, query, messageID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message by ID: %w", err)
	}
	return msg, nil
}

func (s *PostgresMessageStore) CountRecentBySender(ctx context.Context, senderRef string, window time.Duration) (int, error) {
	query := `
        SELECT COUNT(*)
        FROM messages
        WHERE (user_id::text = $1 OR device_id::text = $1)
          AND created_at > $2
    `
	var count int
	err := s.db.QueryRow(ctx, query, senderRef, time.Now().Add(-window)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent messages for sender: %w", err)
	}
	return count, nil
}

var (
	ErrMessageNotFound = fmt.Errorf("message not found")
)
