package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sitechat/wa-relay-go/internal/model"
)

type ConversationRepository interface {
	// GetOrCreateActive returns the active conversation for (site, visitor),
	// creating it when none exists. Unknown name/phone are backfilled.
	GetOrCreateActive(ctx context.Context, params model.GetOrCreateConversationParams) (*model.Conversation, error)
	FindByID(ctx context.Context, id string) (*model.Conversation, error)
	FindActiveBySite(ctx context.Context, siteID string) (*model.Conversation, error)
	FindLatestByVisitor(ctx context.Context, siteID, visitorID string) (*model.Conversation, error)
	FindActiveByVisitorPhone(ctx context.Context, phones []string) (*model.Conversation, error)
	CountActiveBySite(ctx context.Context, siteID string) (int, error)
	// Close reports whether the row transitioned; closing a closed row is a no-op.
	Close(ctx context.Context, id string, reason model.CloseReason) (bool, error)
	FindStaleActive(ctx context.Context, olderThan time.Time) ([]model.Conversation, error)
}

type conversationRepo struct {
	db *sqlx.DB
}

func NewConversationRepository(db *sqlx.DB) ConversationRepository {
	return &conversationRepo{db: db}
}

func (r *conversationRepo) GetOrCreateActive(ctx context.Context, params model.GetOrCreateConversationParams) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.GetContext(ctx, &conv, `
		INSERT INTO conversations (site_id, visitor_id, visitor_name, visitor_phone)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (site_id, visitor_id) WHERE status = 'active' DO UPDATE SET
			visitor_name = COALESCE(conversations.visitor_name, EXCLUDED.visitor_name),
			visitor_phone = COALESCE(conversations.visitor_phone, EXCLUDED.visitor_phone)
		RETURNING *
	`, params.SiteID, params.VisitorID, params.VisitorName, params.VisitorPhone)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *conversationRepo) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT * FROM conversations WHERE id = $1`, id)
	return HandleNotFound(&conv, err)
}

func (r *conversationRepo) FindActiveBySite(ctx context.Context, siteID string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.GetContext(ctx, &conv, `
		SELECT * FROM conversations
		WHERE site_id = $1 AND status = 'active'
		ORDER BY last_activity_at DESC, created_at DESC
		LIMIT 1
	`, siteID)
	return HandleNotFound(&conv, err)
}

func (r *conversationRepo) FindLatestByVisitor(ctx context.Context, siteID, visitorID string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.GetContext(ctx, &conv, `
		SELECT * FROM conversations
		WHERE site_id = $1 AND visitor_id = $2
		ORDER BY (status = 'active') DESC, created_at DESC
		LIMIT 1
	`, siteID, visitorID)
	return HandleNotFound(&conv, err)
}

func (r *conversationRepo) FindActiveByVisitorPhone(ctx context.Context, phones []string) (*model.Conversation, error) {
	if len(phones) == 0 {
		return nil, nil
	}
	var conv model.Conversation
	err := r.db.GetContext(ctx, &conv, `
		SELECT * FROM conversations
		WHERE visitor_phone = ANY($1) AND status = 'active'
		ORDER BY last_activity_at DESC
		LIMIT 1
	`, pq.Array(phones))
	return HandleNotFound(&conv, err)
}

func (r *conversationRepo) CountActiveBySite(ctx context.Context, siteID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM conversations WHERE site_id = $1 AND status = 'active'
	`, siteID)
	return count, err
}

func (r *conversationRepo) Close(ctx context.Context, id string, reason model.CloseReason) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET
			status = 'closed',
			closed_at = NOW(),
			close_reason = $2
		WHERE id = $1 AND status = 'active'
	`, id, reason)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *conversationRepo) FindStaleActive(ctx context.Context, olderThan time.Time) ([]model.Conversation, error) {
	var convs []model.Conversation
	err := r.db.SelectContext(ctx, &convs, `
		SELECT * FROM conversations
		WHERE status = 'active' AND last_activity_at < $1
		ORDER BY last_activity_at ASC
	`, olderThan)
	return convs, err
}
