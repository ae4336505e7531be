package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sitechat/wa-relay-go/internal/database"
	"github.com/sitechat/wa-relay-go/internal/model"
)

type MessageRepository interface {
	// Append stores the message and bumps the conversation's last_activity_at
	// in the same transaction.
	Append(ctx context.Context, params model.AppendMessageParams) (*model.Message, error)
	// FindSince returns messages created strictly after since, oldest first.
	// A nil since returns the whole conversation.
	FindSince(ctx context.Context, conversationID string, since *time.Time) ([]model.Message, error)
	// Delete removes a message that was never delivered.
	Delete(ctx context.Context, id string) error
}

type messageRepo struct {
	db *sqlx.DB
}

func NewMessageRepository(db *sqlx.DB) MessageRepository {
	return &messageRepo{db: db}
}

func (r *messageRepo) Append(ctx context.Context, params model.AppendMessageParams) (*model.Message, error) {
	var msg model.Message
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &msg, `
			INSERT INTO messages (conversation_id, direction, content)
			VALUES ($1, $2, $3)
			RETURNING *
		`, params.ConversationID, params.Direction, params.Content); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE conversations SET last_activity_at = $2 WHERE id = $1
		`, params.ConversationID, msg.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepo) FindSince(ctx context.Context, conversationID string, since *time.Time) ([]model.Message, error) {
	msgs := []model.Message{}
	var err error
	if since == nil {
		err = r.db.SelectContext(ctx, &msgs, `
			SELECT * FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at ASC, id ASC
		`, conversationID)
	} else {
		err = r.db.SelectContext(ctx, &msgs, `
			SELECT * FROM messages
			WHERE conversation_id = $1 AND created_at > $2
			ORDER BY created_at ASC, id ASC
		`, conversationID, *since)
	}
	return msgs, err
}

func (r *messageRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	return err
}
