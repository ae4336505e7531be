package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitechat/wa-relay-go/internal/service"
	"github.com/sitechat/wa-relay-go/internal/sse"
)

func TestEventsHandler_ServeHTTP(t *testing.T) {
	t.Run("requires site and visitor", func(t *testing.T) {
		f := newHandlerFixture(t)
		handler := NewEventsHandler(f.broker, f.relay)

		req := httptest.NewRequest(http.MethodGet, "/events?site_code=abcd2345", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("returns 404 for unknown site", func(t *testing.T) {
		f := newHandlerFixture(t)
		handler := NewEventsHandler(f.broker, f.relay)

		req := httptest.NewRequest(http.MethodGet, "/events?site_code=nope&visitor_id=v1", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("streams visitor messages", func(t *testing.T) {
		f := newHandlerFixture(t)
		srv := httptest.NewServer(NewEventsHandler(f.broker, f.relay))
		defer srv.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?site_code=abcd2345&visitor_id=v1", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

		events := readEvents(resp)
		first := nextEvent(t, events)
		assert.Equal(t, "connected", first.Type)

		key := sse.VisitorKey(f.site.ID, "v1")
		require.Eventually(t, func() bool { return f.bus.listening(key) == 1 }, time.Second, 5*time.Millisecond)

		_, err = f.relay.Send(context.Background(), service.SendParams{
			SiteCode: "abcd2345", VisitorID: "v1", Text: "hello",
		})
		require.NoError(t, err)

		ev := nextEvent(t, events)
		assert.Equal(t, "message", ev.Type)
		assert.NotEmpty(t, ev.ID)
		var data map[string]any
		require.NoError(t, json.Unmarshal(ev.Data, &data))
		assert.Equal(t, "hello", data["content"])
		assert.Equal(t, "outgoing", data["direction"])

		cancel()
		require.Eventually(t, func() bool { return f.broker.ClientCount(key) == 0 }, time.Second, 5*time.Millisecond)
	})
}

func readEvents(resp *http.Response) <-chan sse.Event {
	out := make(chan sse.Event, 8)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(resp.Body)
		var ev sse.Event
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if ev.Type != "" {
					out <- ev
				}
				ev = sse.Event{}
			case strings.HasPrefix(line, "id: "):
				ev.ID = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "event: "):
				ev.Type = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.Data = json.RawMessage(strings.TrimPrefix(line, "data: "))
			}
		}
	}()
	return out
}

func nextEvent(t *testing.T, events <-chan sse.Event) sse.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return sse.Event{}
	}
}

func TestEventStream(t *testing.T) {
	rec := httptest.NewRecorder()
	stream := newEventStream(rec, rec)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	require.NoError(t, stream.send(sse.Event{
		ID:   "ev-1",
		Type: "closed",
		Data: json.RawMessage(`{"reason":"inactivity"}`),
	}))
	require.NoError(t, stream.send(sse.Event{Type: "connected", Data: json.RawMessage(`{}`)}))
	require.NoError(t, stream.ping())

	assert.Equal(t,
		"id: ev-1\nevent: closed\ndata: {\"reason\":\"inactivity\"}\n\n"+
			"event: connected\ndata: {}\n\n"+
			": ping\n\n",
		rec.Body.String())
	assert.True(t, rec.Flushed)
}
