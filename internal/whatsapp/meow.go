package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "modernc.org/sqlite"
)

const credentialDBName = "session.db"

// MeowDialer opens whatsmeow sessions whose device credentials live in a
// sqlite file inside the credential directory.
type MeowDialer struct {
	Logger zerolog.Logger
}

func NewMeowDialer() *MeowDialer {
	return &MeowDialer{Logger: log.With().Str("component", "whatsmeow").Logger()}
}

func (d *MeowDialer) Dial(ctx context.Context, credentialDir string) (Session, error) {
	if err := os.MkdirAll(credentialDir, 0o700); err != nil {
		return nil, fmt.Errorf("create credential dir: %w", err)
	}

	dsn := "file:" + filepath.Join(credentialDir, credentialDBName) +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	container, err := sqlstore.New(ctx, "sqlite", dsn, waLog.Zerolog(d.Logger.With().Str("store", "sqlite").Logger()))
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(device, waLog.Zerolog(d.Logger))
	// The Manager owns reconnect policy.
	client.EnableAutoReconnect = false

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &meowSession{
		client:    client,
		container: container,
		events:    make(chan Event, 256),
		closing:   make(chan struct{}),
		ctx:       sessCtx,
		cancel:    cancel,
	}
	client.AddEventHandler(s.handle)
	return s, nil
}

type meowSession struct {
	client    *whatsmeow.Client
	container *sqlstore.Container

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards sends on events against close(events).
	mu        sync.RWMutex
	events    chan Event
	closing   chan struct{}
	closed    bool
	closeOnce sync.Once
}

func (s *meowSession) Connect(ctx context.Context) error {
	if s.client.Store.ID == nil {
		qrChan, err := s.client.GetQRChannel(s.ctx)
		if err != nil {
			return fmt.Errorf("get qr channel: %w", err)
		}
		go s.forwardQR(qrChan)
	}
	return s.client.Connect()
}

func (s *meowSession) forwardQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			s.emit(PairingCodeEvent{Code: item.Code})
		case "success":
			log.Info().Msg("whatsapp pairing succeeded")
		case "timeout":
			s.emit(DisconnectedEvent{Reason: ReasonPairingTimeout})
		case whatsmeow.QRChannelEventError:
			log.Warn().Err(item.Error).Msg("whatsapp pairing failed")
			s.emit(DisconnectedEvent{Reason: ReasonConnectFailure})
		default:
			log.Warn().Str("event", item.Event).Msg("whatsapp pairing ended")
			s.emit(DisconnectedEvent{Reason: ReasonConnectFailure})
		}
	}
}

func (s *meowSession) Send(ctx context.Context, phone, text string) (string, error) {
	jid := types.NewJID(phone, types.DefaultUserServer)
	resp, err := s.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", err
	}
	return string(resp.ID), nil
}

func (s *meowSession) Events() <-chan Event {
	return s.events
}

func (s *meowSession) Close() {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.cancel()
		s.client.Disconnect()
		if err := s.container.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close whatsapp credential store")
		}

		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
}

func (s *meowSession) emit(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	case <-s.closing:
	}
}

func (s *meowSession) handle(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		s.emit(MessageEvent{Message: toInbound(v)})
	case *events.Connected:
		s.emit(ConnectedEvent{})
	case *events.Disconnected:
		s.emit(DisconnectedEvent{Reason: ReasonConnectionLost})
	case *events.LoggedOut:
		s.emit(DisconnectedEvent{Reason: ReasonLoggedOut})
	case *events.StreamReplaced:
		s.emit(DisconnectedEvent{Reason: ReasonStreamReplaced})
	case *events.ConnectFailure:
		if v.Reason.IsLoggedOut() {
			s.emit(DisconnectedEvent{Reason: ReasonLoggedOut})
		} else {
			s.emit(DisconnectedEvent{Reason: ReasonConnectFailure})
		}
	case *events.PairSuccess:
		log.Info().Str("jid", v.ID.String()).Msg("whatsapp device paired")
	}
}

func toInbound(v *events.Message) Inbound {
	info := v.Info
	return Inbound{
		MessageID:       string(info.ID),
		SenderPhone:     phoneOf(info.Sender, info.SenderAlt),
		ChatPhone:       phoneOf(info.Chat, info.RecipientAlt),
		Text:            ExtractText(v.Message),
		QuotedMessageID: QuotedMessageID(v.Message),
		IsGroup:         info.IsGroup,
		IsFromSelf:      info.IsFromMe,
		Timestamp:       info.Timestamp,
	}
}

// phoneOf prefers the phone-number form of a JID when the primary one is a
// hidden (lid) identity.
func phoneOf(primary, alt types.JID) string {
	if primary.Server == types.HiddenUserServer && !alt.IsEmpty() {
		return alt.User
	}
	return primary.User
}
