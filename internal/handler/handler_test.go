package handler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sitechat/wa-relay-go/internal/correlation"
	"github.com/sitechat/wa-relay-go/internal/model"
	"github.com/sitechat/wa-relay-go/internal/repository/repotest"
	"github.com/sitechat/wa-relay-go/internal/service"
	"github.com/sitechat/wa-relay-go/internal/sse"
	"github.com/sitechat/wa-relay-go/internal/whatsapp"
)

// fakeMessenger records what the relay sends. Reply waiters come from a real
// manager that never dials.
type fakeMessenger struct {
	mu         sync.Mutex
	status     whatsapp.Status
	code       string
	sent       []string
	reconnects int
	waiters    *whatsapp.Manager
}

func (m *fakeMessenger) Status() whatsapp.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *fakeMessenger) Send(_ context.Context, phone, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, phone+" "+text)
	return fmt.Sprintf("NET-%d", len(m.sent)), nil
}

func (m *fakeMessenger) ForceReconnect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnects++
	m.status = whatsapp.Status{State: whatsapp.StatePairing}
	return nil
}

func (m *fakeMessenger) PairingCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.code
}

func (m *fakeMessenger) ExpectReply(key string) *whatsapp.PendingReply {
	return m.waiters.ExpectReply(key)
}

func (m *fakeMessenger) sentMessages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

type handlerFixture struct {
	store     *repotest.Store
	messenger *fakeMessenger
	bus       *memBus
	broker    *sse.Broker
	relay     *service.RelayService
	sites     *service.SiteService
	site      *model.Site
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	store := repotest.NewStore()
	messenger := &fakeMessenger{
		status:  whatsapp.Status{Connected: true, State: whatsapp.StateConnected},
		waiters: whatsapp.NewManager(nil, whatsapp.ManagerConfig{}),
	}
	t.Cleanup(messenger.waiters.Stop)

	bus := newMemBus()
	broker := sse.NewBroker(bus)
	t.Cleanup(broker.Close)

	normalizer := correlation.NewNormalizer("972")
	index := correlation.NewIndex()
	lifecycle := correlation.NewLifecycle(store.Conversations(), index, broker, 5*time.Minute)

	name := "Shop"
	site := store.AddSite("abcd2345", "972501234567", &name)

	relay := service.NewRelayService(store.Sites(), store.Conversations(), store.Messages(), messenger, index, lifecycle, broker,
		service.RelayConfig{
			Normalizer:       normalizer,
			ClosingPhrase:    correlation.NewClosingPhrase("end chat"),
			ReplyWaitTimeout: time.Second,
		})

	return &handlerFixture{
		store:     store,
		messenger: messenger,
		bus:       bus,
		broker:    broker,
		relay:     relay,
		sites:     service.NewSiteService(store.Sites(), normalizer),
		site:      site,
	}
}

// memBus delivers broadcasts to in-process listeners only.
type memBus struct {
	mu        sync.Mutex
	listeners map[string][]chan string
}

func newMemBus() *memBus {
	return &memBus{listeners: make(map[string][]chan string)}
}

func (b *memBus) Broadcast(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.listeners[channel] {
		ch <- string(payload)
	}
	return nil
}

func (b *memBus) Listen(ctx context.Context, channel string) <-chan string {
	ch := make(chan string, 16)
	b.mu.Lock()
	b.listeners[channel] = append(b.listeners[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.listeners[channel]
		for i, c := range subs {
			if c == ch {
				b.listeners[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (b *memBus) listening(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[channel])
}
