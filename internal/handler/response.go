package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/sitechat/wa-relay-go/internal/httputil"
	"github.com/sitechat/wa-relay-go/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

// widgetMessage is the message shape the embedded widget script reads.
type widgetMessage struct {
	ID        string                 `json:"id"`
	Direction model.MessageDirection `json:"direction"`
	Content   string                 `json:"content"`
	CreatedAt time.Time              `json:"created_at"`
}

func toWidgetMessages(msgs []model.Message) []widgetMessage {
	out := make([]widgetMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, widgetMessage{
			ID:        m.ID,
			Direction: m.Direction,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	return out
}

// parseSince reads a unix millisecond timestamp; empty means no lower bound.
func parseSince(raw string) (*time.Time, bool) {
	if raw == "" {
		return nil, true
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms < 0 {
		return nil, false
	}
	t := time.UnixMilli(ms)
	return &t, true
}
