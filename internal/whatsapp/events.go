package whatsapp

import (
	"context"
	"time"
)

// State is the coarse connection state exposed to callers.
type State string

const (
	StateDisconnected State = "disconnected"
	StatePairing      State = "pairing"
	StateConnected    State = "connected"
	StateLoggedOut    State = "logged_out"
)

// DisconnectReason says why a session stopped. Only ReasonLoggedOut is
// terminal; ReasonClosed marks a local Close and is never acted on.
type DisconnectReason string

const (
	ReasonLoggedOut      DisconnectReason = "logged_out"
	ReasonConnectionLost DisconnectReason = "connection_lost"
	ReasonStreamReplaced DisconnectReason = "stream_replaced"
	ReasonConnectFailure DisconnectReason = "connect_failure"
	ReasonPairingTimeout DisconnectReason = "pairing_timeout"
	ReasonClosed         DisconnectReason = "closed"
)

func (r DisconnectReason) Terminal() bool {
	return r == ReasonLoggedOut
}

// Inbound is a text message received from the network, reduced to what
// correlation needs. Phones are bare digit strings.
type Inbound struct {
	MessageID       string
	SenderPhone     string
	ChatPhone       string
	Text            string
	QuotedMessageID string
	IsGroup         bool
	IsFromSelf      bool
	Timestamp       time.Time
}

// Correspondent is the other party of a direct chat: the sender, or the chat
// peer when the account itself wrote the message from another device.
func (in Inbound) Correspondent() string {
	if in.IsFromSelf {
		return in.ChatPhone
	}
	return in.SenderPhone
}

// Event is produced by a Session in the order the network delivered it.
type Event interface {
	isEvent()
}

type PairingCodeEvent struct {
	Code string
}

type ConnectedEvent struct{}

type DisconnectedEvent struct {
	Reason DisconnectReason
}

type MessageEvent struct {
	Message Inbound
}

func (PairingCodeEvent) isEvent()  {}
func (ConnectedEvent) isEvent()    {}
func (DisconnectedEvent) isEvent() {}
func (MessageEvent) isEvent()      {}

// Session is one live connection to the messaging network.
//
// Connect starts the handshake and returns once it is underway; progress is
// reported through Events. Close releases the session and eventually closes
// the Events channel; it never waits for the consumer.
type Session interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, phone, text string) (string, error)
	Events() <-chan Event
	Close()
}

// Dialer opens sessions backed by the credentials stored in credentialDir.
type Dialer interface {
	Dial(ctx context.Context, credentialDir string) (Session, error)
}

// Observer receives lifecycle notifications from the Manager, in the order
// the session produced them.
type Observer interface {
	OnPairingCode(code string)
	OnReady()
	OnDisconnect(reason DisconnectReason)
}

// InboundHandler consumes filtered inbound messages.
type InboundHandler interface {
	HandleInbound(ctx context.Context, msg Inbound)
}
