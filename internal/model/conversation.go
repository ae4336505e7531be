package model

import (
	"time"
)

type Conversation struct {
	ID             string             `db:"id" json:"id"`
	SiteID         string             `db:"site_id" json:"siteId"`
	VisitorID      string             `db:"visitor_id" json:"visitorId"`
	VisitorName    *string            `db:"visitor_name" json:"visitorName,omitempty"`
	VisitorPhone   *string            `db:"visitor_phone" json:"visitorPhone,omitempty"`
	Status         ConversationStatus `db:"status" json:"status"`
	CreatedAt      time.Time          `db:"created_at" json:"createdAt"`
	LastActivityAt time.Time          `db:"last_activity_at" json:"lastActivityAt"`
	ClosedAt       *time.Time         `db:"closed_at" json:"closedAt,omitempty"`
	CloseReason    *CloseReason       `db:"close_reason" json:"closeReason,omitempty"`
}

func (c *Conversation) IsActive() bool {
	return c.Status == ConversationStatusActive
}

type GetOrCreateConversationParams struct {
	SiteID       string
	VisitorID    string
	VisitorName  *string
	VisitorPhone *string
}
