package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sitechat/wa-relay-go/internal/config"
	apperrors "github.com/sitechat/wa-relay-go/internal/errors"
)

// Status is a point-in-time snapshot of the connection.
type Status struct {
	Connected      bool             `json:"connected"`
	State          State            `json:"state"`
	PairingCode    string           `json:"pairingCode,omitempty"`
	LastDisconnect DisconnectReason `json:"lastDisconnect,omitempty"`
}

// ErrRedialFailed reports a forced reconnect that removed the stored
// credentials but could not open the replacement session. A retry is
// already scheduled.
var ErrRedialFailed = errors.New("credentials removed, redial failed")

type ManagerConfig struct {
	CredentialDir string
	Backoff       time.Duration
	SendTimeout   time.Duration
	DedupeWindow  time.Duration
	DedupeMaxIDs  int
}

// Manager owns the single network session: it dials, tracks state, retries
// after unexpected disconnects and hands inbound messages to the handler.
//
// Each dialed session gets a generation number; events and timers belonging
// to an older generation are ignored. A new session is only dialed after the
// previous session's event loop has exited.
type Manager struct {
	dialer  Dialer
	cfg     ManagerConfig
	handler InboundHandler
	seen    *seenSet
	waiters *waiterTable

	// schedule runs fn after d; tests replace it to control reconnects.
	schedule func(d time.Duration, fn func()) stopper

	ctx    context.Context
	cancel context.CancelFunc

	// dialMu serializes dials and credential removal. It is taken before mu,
	// never while holding it.
	dialMu sync.Mutex

	mu      sync.Mutex
	session Session
	gen     uint64
	// loopDone belongs to the most recent event loop and stays set after
	// the session is dropped, until a new session replaces it.
	loopDone       chan struct{}
	retry          stopper
	state          State
	pairingCode    string
	lastDisconnect DisconnectReason
	observers      []Observer
	stopped        bool
}

type stopper interface {
	Stop() bool
}

func NewManager(dialer Dialer, cfg ManagerConfig) *Manager {
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = config.SendTimeout
	}
	if cfg.DedupeWindow == 0 {
		cfg.DedupeWindow = config.DedupeWindow
	}
	if cfg.DedupeMaxIDs == 0 {
		cfg.DedupeMaxIDs = config.DedupeMaxIDs
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		dialer:  dialer,
		cfg:     cfg,
		seen:    newSeenSet(cfg.DedupeWindow, cfg.DedupeMaxIDs),
		waiters: newWaiterTable(),
		schedule: func(d time.Duration, fn func()) stopper {
			return time.AfterFunc(d, fn)
		},
		ctx:    ctx,
		cancel: cancel,
		state:  StateDisconnected,
	}
}

// SetInboundHandler must be called before Connect.
func (m *Manager) SetInboundHandler(h InboundHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

func (m *Manager) Subscribe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Connect dials a session unless one is already live. It returns once the
// session is dialed; the handshake result arrives through observers.
func (m *Manager) Connect(ctx context.Context) error {
	m.dialMu.Lock()
	defer m.dialMu.Unlock()

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return fmt.Errorf("manager stopped")
	}
	if m.session != nil {
		m.mu.Unlock()
		return nil
	}
	m.stopRetryLocked()
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	return m.dial(ctx, gen)
}

// dial opens the session for generation gen. The caller holds dialMu but not
// mu, so status reads and sends are not blocked while the store opens.
func (m *Manager) dial(ctx context.Context, gen uint64) error {
	m.mu.Lock()
	prev := m.loopDone
	m.mu.Unlock()

	if err := waitLoop(ctx, prev); err != nil {
		m.retryIfCurrent(gen)
		return fmt.Errorf("wait for session release: %w", err)
	}

	sess, err := m.dialer.Dial(ctx, m.cfg.CredentialDir)

	m.mu.Lock()
	if !m.current(gen) {
		m.mu.Unlock()
		if err == nil {
			sess.Close()
		}
		log.Debug().Uint64("generation", gen).Msg("dialed session superseded")
		return nil
	}
	if err != nil {
		log.Error().Err(err).Uint64("generation", gen).Msg("failed to open whatsapp session")
		m.lastDisconnect = ReasonConnectFailure
		m.scheduleRetryLocked(gen)
		m.mu.Unlock()
		return fmt.Errorf("dial session: %w", err)
	}

	done := make(chan struct{})
	m.session = sess
	m.loopDone = done
	m.state = StateDisconnected
	m.pairingCode = ""
	m.mu.Unlock()

	log.Info().Uint64("generation", gen).Msg("whatsapp session dialed")
	go m.run(gen, sess, done)
	return nil
}

// waitLoop blocks until done is closed. A nil done means no loop ever ran.
func waitLoop(ctx context.Context, done <-chan struct{}) error {
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		select {
		case <-done:
			return nil
		default:
			return ctx.Err()
		}
	}
}

// run is the single event loop of one session. Every observer callback and
// every inbound hand-off for that session happens here, in order.
func (m *Manager) run(gen uint64, sess Session, done chan struct{}) {
	defer close(done)

	if err := sess.Connect(m.ctx); err != nil {
		log.Warn().Err(err).Uint64("generation", gen).Msg("whatsapp connect failed")
		m.onDisconnect(gen, ReasonConnectFailure)
	}

	for ev := range sess.Events() {
		switch e := ev.(type) {
		case PairingCodeEvent:
			m.onPairingCode(gen, e.Code)
		case ConnectedEvent:
			m.onConnected(gen)
		case DisconnectedEvent:
			m.onDisconnect(gen, e.Reason)
		case MessageEvent:
			m.onMessage(gen, e.Message)
		}
	}
}

func (m *Manager) current(gen uint64) bool {
	return m.gen == gen && !m.stopped
}

func (m *Manager) onPairingCode(gen uint64, code string) {
	m.mu.Lock()
	if !m.current(gen) {
		m.mu.Unlock()
		return
	}
	m.state = StatePairing
	m.pairingCode = code
	observers := m.observers
	m.mu.Unlock()

	log.Info().Msg("whatsapp pairing code issued, scan it from the admin page")
	for _, o := range observers {
		o.OnPairingCode(code)
	}
}

func (m *Manager) onConnected(gen uint64) {
	m.mu.Lock()
	if !m.current(gen) {
		m.mu.Unlock()
		return
	}
	m.state = StateConnected
	m.pairingCode = ""
	observers := m.observers
	m.mu.Unlock()

	log.Info().Uint64("generation", gen).Msg("whatsapp connected")
	for _, o := range observers {
		o.OnReady()
	}
}

func (m *Manager) onDisconnect(gen uint64, reason DisconnectReason) {
	if reason == ReasonClosed {
		return
	}

	m.mu.Lock()
	if !m.current(gen) || m.session == nil {
		m.mu.Unlock()
		return
	}
	sess := m.session
	m.session = nil
	m.pairingCode = ""
	m.lastDisconnect = reason
	if reason.Terminal() {
		m.state = StateLoggedOut
	} else {
		m.state = StateDisconnected
		m.scheduleRetryLocked(gen)
	}
	observers := m.observers
	m.mu.Unlock()

	// Closing from inside the loop is safe: Close never waits for us, and the
	// loop ends once the session closes its event channel.
	sess.Close()

	evt := log.Warn().Str("reason", string(reason)).Uint64("generation", gen)
	if reason.Terminal() {
		evt.Msg("whatsapp logged out, re-pairing required")
	} else {
		evt.Dur("backoff", m.cfg.Backoff).Msg("whatsapp disconnected, reconnect scheduled")
	}
	for _, o := range observers {
		o.OnDisconnect(reason)
	}
}

func (m *Manager) scheduleRetryLocked(gen uint64) {
	m.stopRetryLocked()
	m.retry = m.schedule(m.cfg.Backoff, func() {
		m.dialMu.Lock()
		defer m.dialMu.Unlock()

		m.mu.Lock()
		if !m.current(gen) || m.session != nil {
			m.mu.Unlock()
			return
		}
		m.retry = nil
		m.gen++
		next := m.gen
		m.mu.Unlock()

		_ = m.dial(m.ctx, next)
	})
}

// retryIfCurrent schedules a plain reconnect for an attempt that gave up
// before dialing.
func (m *Manager) retryIfCurrent(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current(gen) && m.session == nil {
		m.scheduleRetryLocked(gen)
	}
}

func (m *Manager) stopRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *Manager) onMessage(gen uint64, msg Inbound) {
	m.mu.Lock()
	handler := m.handler
	ok := m.current(gen)
	m.mu.Unlock()

	if !ok || handler == nil {
		return
	}
	if msg.IsGroup {
		return
	}
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" {
		return
	}
	if msg.MessageID != "" && m.seen.CheckAndMark(msg.MessageID) {
		log.Debug().Str("messageId", msg.MessageID).Msg("duplicate inbound message dropped")
		return
	}

	handler.HandleInbound(m.ctx, msg)
}

// ForceReconnect drops the current session, wipes stored credentials and
// dials again, which produces a fresh pairing code. The credentials are only
// removed once the previous event loop has exited, including a loop that is
// still closing after a disconnect. If the wipe happened but the new dial
// failed, the error wraps ErrRedialFailed.
func (m *Manager) ForceReconnect(ctx context.Context) error {
	m.dialMu.Lock()
	defer m.dialMu.Unlock()

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return fmt.Errorf("manager stopped")
	}
	m.stopRetryLocked()
	old, done := m.session, m.loopDone
	m.session = nil
	m.gen++
	gen := m.gen
	m.state = StateDisconnected
	m.pairingCode = ""
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if err := waitLoop(ctx, done); err != nil {
		m.retryIfCurrent(gen)
		return fmt.Errorf("wait for session release: %w", err)
	}

	if err := os.RemoveAll(m.cfg.CredentialDir); err != nil {
		m.retryIfCurrent(gen)
		return fmt.Errorf("remove credentials: %w", err)
	}
	log.Info().Str("dir", m.cfg.CredentialDir).Msg("whatsapp credentials removed")

	if err := m.dial(ctx, gen); err != nil {
		return fmt.Errorf("%w: %w", ErrRedialFailed, err)
	}
	return nil
}

// Send fails fast with NotConnected unless the session is ready. Nothing is
// queued for later.
func (m *Manager) Send(ctx context.Context, phone, text string) (string, error) {
	m.mu.Lock()
	sess, state := m.session, m.state
	m.mu.Unlock()

	if sess == nil || state != StateConnected {
		return "", NotConnectedError(state)
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
	defer cancel()

	id, err := sess.Send(ctx, phone, text)
	if err != nil {
		return "", apperrors.External("whatsapp", err)
	}
	return id, nil
}

// NotConnectedError describes why sends are refused in state.
func NotConnectedError(state State) *apperrors.AppError {
	err := apperrors.NotConnected().WithDetails(map[string]string{"state": string(state)})
	switch state {
	case StatePairing:
		err.WithCause(apperrors.PairingRequired())
	case StateLoggedOut:
		err.WithCause(apperrors.LoggedOut())
	}
	return err
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Connected:      m.state == StateConnected,
		State:          m.state,
		PairingCode:    m.pairingCode,
		LastDisconnect: m.lastDisconnect,
	}
}

func (m *Manager) PairingCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pairingCode
}

// WaitForReply blocks until a reply is delivered for key, the timeout
// elapses (Timeout), a newer waiter takes the key (Conflict) or ctx ends.
func (m *Manager) WaitForReply(ctx context.Context, key string, timeout time.Duration) (Reply, error) {
	return m.waiters.register(key).Wait(ctx, timeout)
}

// ExpectReply registers a waiter for key without blocking. The caller must
// Wait on or Cancel the result.
func (m *Manager) ExpectReply(key string) *PendingReply {
	return m.waiters.register(key)
}

// DeliverReply resolves the first pending waiter found among keys.
func (m *Manager) DeliverReply(keys []string, r Reply) bool {
	return m.waiters.deliver(keys, r)
}

// Stop closes the live session and prevents further reconnects. It returns
// after the last event loop has exited.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.stopRetryLocked()
	m.mu.Unlock()

	m.cancel()

	// Wait out an in-flight dial; it sees stopped and closes what it opened.
	m.dialMu.Lock()
	defer m.dialMu.Unlock()

	m.mu.Lock()
	sess, done := m.session, m.loopDone
	m.session = nil
	m.mu.Unlock()

	if sess != nil {
		sess.Close()
	}
	if done != nil {
		<-done
	}
	log.Info().Msg("whatsapp manager stopped")
}
