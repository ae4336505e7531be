package model

import (
	"encoding/json"
	"time"
)

type Message struct {
	ID             string           `db:"id" json:"id"`
	ConversationID string           `db:"conversation_id" json:"conversationId"`
	Direction      MessageDirection `db:"direction" json:"direction"`
	Content        string           `db:"content" json:"content"`
	CreatedAt      time.Time        `db:"created_at" json:"createdAt"`
}

// ToSSEEventData returns the widget-facing JSON for a message event.
func (m *Message) ToSSEEventData() json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"id":              m.ID,
		"conversation_id": m.ConversationID,
		"direction":       m.Direction,
		"content":         m.Content,
		"created_at":      m.CreatedAt,
	})
	return data
}

type AppendMessageParams struct {
	ConversationID string
	Direction      MessageDirection
	Content        string
}
