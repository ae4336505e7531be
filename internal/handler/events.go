package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/sitechat/wa-relay-go/internal/errors"
	"github.com/sitechat/wa-relay-go/internal/httputil"
	"github.com/sitechat/wa-relay-go/internal/service"
	"github.com/sitechat/wa-relay-go/internal/sse"
)

// EventsHandler streams a visitor's conversation to the widget so it does
// not have to poll /messages.
type EventsHandler struct {
	broker *sse.Broker
	relay  *service.RelayService
}

func NewEventsHandler(broker *sse.Broker, relay *service.RelayService) *EventsHandler {
	return &EventsHandler{
		broker: broker,
		relay:  relay,
	}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	siteCode, visitorID := q.Get("site_code"), q.Get("visitor_id")
	if siteCode == "" || visitorID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("site_code and visitor_id"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	site, err := h.relay.Site(r.Context(), siteCode)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	stream := newEventStream(w, flusher)
	key := sse.VisitorKey(site.ID, visitorID)
	client := h.broker.Subscribe(key)
	defer h.broker.Unsubscribe(client)

	logger := log.With().Str("siteId", site.ID).Str("visitorId", visitorID).Logger()
	logger.Debug().Msg("sse connection established")

	hello, _ := json.Marshal(map[string]any{
		"site_code":  site.Code,
		"visitor_id": visitorID,
		"connected":  h.relay.Status().Connected,
	})
	if err := stream.send(sse.Event{Type: "connected", Data: hello}); err != nil {
		return
	}

	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			logger.Debug().Msg("sse client went away")
			return
		case <-client.Done:
			logger.Debug().Msg("sse subscription closed by broker")
			return
		case event := <-client.Events:
			err = stream.send(event)
		case <-heartbeat.C:
			err = stream.ping()
		}
		if err != nil {
			logger.Debug().Err(err).Msg("sse write failed")
			return
		}
	}
}

// eventStream writes text/event-stream frames and flushes after each one.
type eventStream struct {
	w       io.Writer
	flusher http.Flusher
}

func newEventStream(w http.ResponseWriter, flusher http.Flusher) *eventStream {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return &eventStream{w: w, flusher: flusher}
}

func (s *eventStream) send(event sse.Event) error {
	var frame []byte
	if event.ID != "" {
		frame = fmt.Appendf(frame, "id: %s\n", event.ID)
	}
	frame = fmt.Appendf(frame, "event: %s\ndata: %s\n\n", event.Type, event.Data)
	return s.write(frame)
}

// ping is a comment frame that keeps proxies from closing an idle stream.
func (s *eventStream) ping() error {
	return s.write([]byte(": ping\n\n"))
}

func (s *eventStream) write(frame []byte) error {
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
