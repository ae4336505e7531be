package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sitechat/wa-relay-go/internal/correlation"
	apperrors "github.com/sitechat/wa-relay-go/internal/errors"
	"github.com/sitechat/wa-relay-go/internal/model"
	"github.com/sitechat/wa-relay-go/internal/repository"
	"github.com/sitechat/wa-relay-go/internal/whatsapp"
)

const maxMessageLength = 4096

// Messenger is the part of whatsapp.Manager the relay drives.
type Messenger interface {
	Status() whatsapp.Status
	Send(ctx context.Context, phone, text string) (string, error)
	ForceReconnect(ctx context.Context) error
	PairingCode() string
	ExpectReply(key string) *whatsapp.PendingReply
}

type SendParams struct {
	SiteCode     string
	VisitorID    string
	VisitorName  *string
	VisitorPhone *string
	Text         string
}

type SendResult struct {
	ConversationID string         `json:"conversationId"`
	MessageID      string         `json:"messageId"`
	Closed         bool           `json:"closed,omitempty"`
	Reply          *model.Message `json:"reply,omitempty"`
}

// MessagesResult is what a polling widget receives.
type MessagesResult struct {
	ConversationID string          `json:"conversationId,omitempty"`
	Status         string          `json:"status,omitempty"`
	Messages       []model.Message `json:"messages"`
}

// RelayService is the visitor-facing side of the relay: it forwards widget
// text to the operator and serves the conversation back.
type RelayService struct {
	sites       repository.SiteRepository
	convs       repository.ConversationRepository
	messages    repository.MessageRepository
	messenger   Messenger
	index       *correlation.Index
	lifecycle   *correlation.Lifecycle
	notifier    correlation.Notifier
	normalizer  correlation.Normalizer
	closing     correlation.ClosingPhrase
	waitTimeout time.Duration
}

type RelayConfig struct {
	Normalizer       correlation.Normalizer
	ClosingPhrase    correlation.ClosingPhrase
	ReplyWaitTimeout time.Duration
}

func NewRelayService(
	sites repository.SiteRepository,
	convs repository.ConversationRepository,
	messages repository.MessageRepository,
	messenger Messenger,
	index *correlation.Index,
	lifecycle *correlation.Lifecycle,
	notifier correlation.Notifier,
	cfg RelayConfig,
) *RelayService {
	return &RelayService{
		sites:       sites,
		convs:       convs,
		messages:    messages,
		messenger:   messenger,
		index:       index,
		lifecycle:   lifecycle,
		notifier:    notifier,
		normalizer:  cfg.Normalizer,
		closing:     cfg.ClosingPhrase,
		waitTimeout: cfg.ReplyWaitTimeout,
	}
}

func (s *RelayService) Status() whatsapp.Status {
	return s.messenger.Status()
}

func (s *RelayService) PairingCode() string {
	return s.messenger.PairingCode()
}

// Site returns the public view of a site.
func (s *RelayService) Site(ctx context.Context, code string) (*model.Site, error) {
	site, err := s.sites.FindByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("find site: %w", err)
	}
	if site == nil {
		return nil, apperrors.SiteNotFound()
	}
	return site, nil
}

func validateSend(p SendParams) error {
	if strings.TrimSpace(p.SiteCode) == "" {
		return apperrors.MissingRequired("siteCode")
	}
	if strings.TrimSpace(p.VisitorID) == "" {
		return apperrors.MissingRequired("visitorId")
	}
	if strings.TrimSpace(p.Text) == "" {
		return apperrors.MissingRequired("message")
	}
	if len(p.Text) > maxMessageLength {
		return apperrors.InvalidInput("message", fmt.Sprintf("must be at most %d bytes", maxMessageLength))
	}
	return nil
}

// Send forwards visitor text to the operator. Nothing is kept while the
// session is down, even when it drops between the status check and the send.
// Any other send failure leaves the stored message in place.
func (s *RelayService) Send(ctx context.Context, p SendParams) (*SendResult, error) {
	return s.send(ctx, p, nil)
}

// SendAndWait sends and then blocks until the operator answers in the same
// conversation, the wait times out, or a newer request takes over.
func (s *RelayService) SendAndWait(ctx context.Context, p SendParams, timeout time.Duration) (*SendResult, error) {
	if timeout <= 0 {
		timeout = s.waitTimeout
	}

	var pending *whatsapp.PendingReply
	result, err := s.send(ctx, p, func(conv *model.Conversation) {
		pending = s.messenger.ExpectReply(conv.ID)
	})
	if err != nil {
		if pending != nil {
			pending.Cancel()
		}
		return nil, err
	}
	if result.Closed {
		pending.Cancel()
		return result, nil
	}

	reply, err := pending.Wait(ctx, timeout)
	if err != nil {
		return result, err
	}
	result.Reply = &model.Message{
		ID:             reply.MessageID,
		ConversationID: reply.ConversationID,
		Direction:      model.DirectionIncoming,
		Content:        reply.Text,
		CreatedAt:      reply.ReceivedAt,
	}
	return result, nil
}

func (s *RelayService) send(ctx context.Context, p SendParams, beforeDispatch func(*model.Conversation)) (*SendResult, error) {
	if err := validateSend(p); err != nil {
		return nil, err
	}

	site, err := s.Site(ctx, p.SiteCode)
	if err != nil {
		return nil, err
	}

	if status := s.messenger.Status(); !status.Connected {
		return nil, whatsapp.NotConnectedError(status.State)
	}

	var phone *string
	if p.VisitorPhone != nil && strings.TrimSpace(*p.VisitorPhone) != "" {
		normalized := s.normalizer.Normalize(*p.VisitorPhone)
		phone = &normalized
	}

	conv, err := s.convs.GetOrCreateActive(ctx, model.GetOrCreateConversationParams{
		SiteID:       site.ID,
		VisitorID:    p.VisitorID,
		VisitorName:  p.VisitorName,
		VisitorPhone: phone,
	})
	if err != nil {
		return nil, fmt.Errorf("get or create conversation: %w", err)
	}

	stored, err := s.messages.Append(ctx, model.AppendMessageParams{
		ConversationID: conv.ID,
		Direction:      model.DirectionOutgoing,
		Content:        p.Text,
	})
	if err != nil {
		return nil, fmt.Errorf("append outgoing message: %w", err)
	}

	if beforeDispatch != nil {
		beforeDispatch(conv)
	}

	operator := s.normalizer.Normalize(site.OperatorPhone)
	networkID, err := s.messenger.Send(ctx, operator, fmt.Sprintf("[%s] %s", site.Label(), p.Text))
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeNotConnected) {
			if delErr := s.messages.Delete(ctx, stored.ID); delErr != nil {
				log.Error().Err(delErr).Str("messageId", stored.ID).Msg("failed to discard unsent message")
			}
			return nil, err
		}
		s.notifyAdded(ctx, conv, stored)
		log.Error().Err(err).
			Str("conversationId", conv.ID).
			Str("siteId", site.ID).
			Msg("failed to forward message to operator")
		return nil, err
	}
	s.notifyAdded(ctx, conv, stored)

	s.index.RememberOutbound(networkID, conv.ID)
	s.index.RememberPhones(s.normalizer.Variants(operator), conv.ID)

	log.Info().
		Str("conversationId", conv.ID).
		Str("siteId", site.ID).
		Str("networkMessageId", networkID).
		Msg("visitor message forwarded")

	result := &SendResult{ConversationID: conv.ID, MessageID: stored.ID}
	if s.closing.Matches(p.Text) {
		if err := s.lifecycle.Close(ctx, conv.ID, model.CloseReasonClosingPhrase); err != nil {
			return nil, err
		}
		result.Closed = true
	}
	return result, nil
}

func (s *RelayService) notifyAdded(ctx context.Context, conv *model.Conversation, msg *model.Message) {
	if s.notifier != nil {
		s.notifier.MessageAdded(ctx, conv, msg)
	}
}

// Messages returns the visitor's current conversation, or the most recent
// closed one, with messages newer than since.
func (s *RelayService) Messages(ctx context.Context, siteCode, visitorID string, since *time.Time) (*MessagesResult, error) {
	if strings.TrimSpace(visitorID) == "" {
		return nil, apperrors.MissingRequired("visitorId")
	}
	site, err := s.Site(ctx, siteCode)
	if err != nil {
		return nil, err
	}

	conv, err := s.convs.FindLatestByVisitor(ctx, site.ID, visitorID)
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	if conv == nil {
		return &MessagesResult{Messages: []model.Message{}}, nil
	}

	msgs, err := s.messages.FindSince(ctx, conv.ID, since)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	return &MessagesResult{
		ConversationID: conv.ID,
		Status:         string(conv.Status),
		Messages:       msgs,
	}, nil
}

// ForceReconnect wipes the paired device and starts a new pairing. Every
// correlation learned under the old session is dropped once the wipe has
// happened, even if the new session could not be opened yet.
func (s *RelayService) ForceReconnect(ctx context.Context) error {
	err := s.messenger.ForceReconnect(ctx)
	if err == nil || errors.Is(err, whatsapp.ErrRedialFailed) {
		s.lifecycle.InvalidateSession()
	}
	if err != nil {
		return fmt.Errorf("force reconnect: %w", err)
	}
	return nil
}
