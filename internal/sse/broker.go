package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sitechat/wa-relay-go/internal/model"
	redisclient "github.com/sitechat/wa-relay-go/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
	clientBufferSize  = 100
)

// Bus moves serialized events between relay instances.
type Bus interface {
	Broadcast(ctx context.Context, channel string, payload []byte) error
	Listen(ctx context.Context, channel string) <-chan string
}

type Event struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	Key    string
	Events chan Event
	Done   chan struct{}
}

type topic struct {
	clients map[*Client]bool
	cancel  context.CancelFunc
}

// Broker fans bus events out to the widget streams connected to this
// instance. One bus subscription is held per visitor key while at least one
// stream is open.
type Broker struct {
	bus    Bus
	topics map[string]*topic
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewBroker(bus Bus) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		bus:    bus,
		topics: make(map[string]*topic),
		ctx:    ctx,
		cancel: cancel,
	}
}

// VisitorKey identifies the stream of one visitor on one site.
func VisitorKey(siteID, visitorID string) string {
	return redisclient.VisitorChannel(siteID, visitorID)
}

func (b *Broker) Subscribe(key string) *Client {
	client := &Client{
		Key:    key,
		Events: make(chan Event, clientBufferSize),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	t, ok := b.topics[key]
	if !ok {
		ctx, cancel := context.WithCancel(b.ctx)
		t = &topic{clients: make(map[*Client]bool), cancel: cancel}
		b.topics[key] = t
		go b.listen(ctx, key)
	}
	t.clients[client] = true
	clientCount := len(t.clients)
	b.mu.Unlock()

	log.Debug().
		Str("key", key).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[client.Key]
	if !ok || !t.clients[client] {
		return
	}
	delete(t.clients, client)
	close(client.Done)

	if len(t.clients) == 0 {
		t.cancel()
		delete(b.topics, client.Key)
	}

	log.Debug().
		Str("key", client.Key).
		Int("clientCount", len(t.clients)).
		Msg("sse client unsubscribed")
}

func (b *Broker) Publish(ctx context.Context, key string, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.bus.Broadcast(ctx, key, data)
}

// MessageAdded pushes a stored message to the visitor's open streams.
func (b *Broker) MessageAdded(ctx context.Context, conv *model.Conversation, msg *model.Message) {
	err := b.Publish(ctx, VisitorKey(conv.SiteID, conv.VisitorID), Event{
		Type: "message",
		Data: msg.ToSSEEventData(),
	})
	if err != nil {
		log.Warn().Err(err).Str("conversationId", conv.ID).Msg("failed to publish message event")
	}
}

// ConversationClosed tells the visitor's widget to start over.
func (b *Broker) ConversationClosed(ctx context.Context, conv *model.Conversation) {
	payload := map[string]any{"conversation_id": conv.ID}
	if conv.CloseReason != nil {
		payload["reason"] = *conv.CloseReason
	}
	data, _ := json.Marshal(payload)

	err := b.Publish(ctx, VisitorKey(conv.SiteID, conv.VisitorID), Event{Type: "closed", Data: data})
	if err != nil {
		log.Warn().Err(err).Str("conversationId", conv.ID).Msg("failed to publish closed event")
	}
}

func (b *Broker) listen(ctx context.Context, key string) {
	for payload := range b.bus.Listen(ctx, key) {
		var event Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			log.Error().Err(err).Msg("failed to unmarshal event")
			continue
		}
		b.broadcast(key, event)
	}
}

func (b *Broker) broadcast(key string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	t, ok := b.topics[key]
	if !ok {
		return
	}
	for client := range t.clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("key", key).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range b.topics {
		for client := range t.clients {
			close(client.Done)
		}
	}
	b.topics = make(map[string]*topic)
}

func (b *Broker) ClientCount(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if t, ok := b.topics[key]; ok {
		return len(t.clients)
	}
	return 0
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, t := range b.topics {
		total += len(t.clients)
	}
	return total
}
