package correlation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sitechat/wa-relay-go/internal/model"
	"github.com/sitechat/wa-relay-go/internal/repository"
	"github.com/sitechat/wa-relay-go/internal/whatsapp"
)

// Step names the resolution rule that attributed an inbound message.
type Step string

const (
	StepQuote         Step = "quote"
	StepLastByPhone   Step = "last_by_phone"
	StepVisitorPhone  Step = "visitor_phone"
	StepOperatorPhone Step = "operator_phone"
	StepSuffix        Step = "suffix"
)

// ReplySink receives resolved replies for blocked senders.
type ReplySink interface {
	DeliverReply(keys []string, r whatsapp.Reply) bool
}

// Outcome describes what HandleInbound did with one message.
type Outcome struct {
	ConversationID string
	Step           Step
	Ignored        string
	Closed         bool
	Delivered      bool
}

type EngineConfig struct {
	Normalizer    Normalizer
	ClosingPhrase ClosingPhrase
	// StrictAmbiguity refuses site-wide fallbacks when the site has more than
	// one active conversation.
	StrictAmbiguity bool
}

// Engine attributes inbound messages to conversations.
type Engine struct {
	sites     repository.SiteRepository
	convs     repository.ConversationRepository
	messages  repository.MessageRepository
	index     *Index
	lifecycle *Lifecycle
	replies   ReplySink
	notifier  Notifier
	cfg       EngineConfig
}

func NewEngine(
	sites repository.SiteRepository,
	convs repository.ConversationRepository,
	messages repository.MessageRepository,
	index *Index,
	lifecycle *Lifecycle,
	replies ReplySink,
	notifier Notifier,
	cfg EngineConfig,
) *Engine {
	return &Engine{
		sites:     sites,
		convs:     convs,
		messages:  messages,
		index:     index,
		lifecycle: lifecycle,
		replies:   replies,
		notifier:  notifier,
		cfg:       cfg,
	}
}

// HandleInbound implements whatsapp.InboundHandler.
func (e *Engine) HandleInbound(ctx context.Context, msg whatsapp.Inbound) {
	out, err := e.Process(ctx, msg)
	if err != nil {
		log.Error().Err(err).Str("messageId", msg.MessageID).Msg("failed to process inbound message")
		return
	}
	if out.Ignored != "" {
		log.Debug().Str("messageId", msg.MessageID).Str("reason", out.Ignored).Msg("inbound message ignored")
	}
}

// Process resolves msg and applies its effects. Unattributable messages are
// dropped with a warning and never create a conversation.
func (e *Engine) Process(ctx context.Context, msg whatsapp.Inbound) (Outcome, error) {
	if msg.IsGroup {
		return Outcome{Ignored: "group"}, nil
	}
	if msg.IsFromSelf {
		if _, ok := e.index.LookupOutbound(msg.MessageID); ok {
			return Outcome{Ignored: "echo"}, nil
		}
	}

	variants := e.cfg.Normalizer.Variants(msg.Correspondent())

	conv, step, err := e.resolve(ctx, msg, variants)
	if err != nil {
		return Outcome{}, err
	}
	if conv == nil {
		log.Warn().
			Str("messageId", msg.MessageID).
			Str("correspondent", msg.Correspondent()).
			Bool("fromSelf", msg.IsFromSelf).
			Bool("quoted", msg.QuotedMessageID != "").
			Msg("inbound message could not be attributed to a conversation, dropped")
		return Outcome{Ignored: "unresolved"}, nil
	}

	stored, err := e.messages.Append(ctx, model.AppendMessageParams{
		ConversationID: conv.ID,
		Direction:      model.DirectionIncoming,
		Content:        msg.Text,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("append incoming message: %w", err)
	}

	out := Outcome{ConversationID: conv.ID, Step: step}
	e.index.RememberPhones(variants, conv.ID)

	log.Info().
		Str("conversationId", conv.ID).
		Str("siteId", conv.SiteID).
		Str("step", string(step)).
		Msg("inbound message attributed")

	if e.replies != nil {
		keys := append([]string{conv.ID}, variants...)
		out.Delivered = e.replies.DeliverReply(keys, whatsapp.Reply{
			ConversationID: conv.ID,
			MessageID:      stored.ID,
			Text:           stored.Content,
			ReceivedAt:     stored.CreatedAt,
		})
	}
	if e.notifier != nil {
		e.notifier.MessageAdded(ctx, conv, stored)
	}

	if e.cfg.ClosingPhrase.Matches(msg.Text) {
		if err := e.lifecycle.Close(ctx, conv.ID, model.CloseReasonClosingPhrase); err != nil {
			return out, err
		}
		out.Closed = true
	}
	return out, nil
}

func (e *Engine) resolve(ctx context.Context, msg whatsapp.Inbound, variants []string) (*model.Conversation, Step, error) {
	if id, ok := e.index.LookupOutbound(msg.QuotedMessageID); ok {
		conv, err := e.activeByID(ctx, id)
		if err != nil || conv != nil {
			return conv, StepQuote, err
		}
	}

	if id, ok := e.index.LookupPhones(variants); ok {
		conv, err := e.activeByID(ctx, id)
		if err != nil || conv != nil {
			return conv, StepLastByPhone, err
		}
	}

	if msg.IsFromSelf {
		conv, err := e.convs.FindActiveByVisitorPhone(ctx, variants)
		if err != nil {
			return nil, "", fmt.Errorf("find by visitor phone: %w", err)
		}
		return conv, StepVisitorPhone, nil
	}

	sites, err := e.sites.FindAll(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("list sites: %w", err)
	}

	wanted := make(map[string]bool, len(variants))
	for _, v := range variants {
		wanted[v] = true
	}
	var exact, suffix []model.Site
	for _, site := range sites {
		if wanted[e.cfg.Normalizer.Normalize(site.OperatorPhone)] {
			exact = append(exact, site)
		} else if SuffixMatch(site.OperatorPhone, msg.Correspondent()) {
			suffix = append(suffix, site)
		}
	}

	conv, err := e.mostRecentActive(ctx, exact)
	if err != nil || conv != nil {
		return conv, StepOperatorPhone, err
	}
	conv, err = e.mostRecentActive(ctx, suffix)
	return conv, StepSuffix, err
}

func (e *Engine) activeByID(ctx context.Context, id string) (*model.Conversation, error) {
	conv, err := e.convs.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	if conv == nil || !conv.IsActive() {
		e.index.Forget(id)
		return nil, nil
	}
	return conv, nil
}

// mostRecentActive picks the most recently active conversation across sites,
// honouring the strict ambiguity policy per site.
func (e *Engine) mostRecentActive(ctx context.Context, sites []model.Site) (*model.Conversation, error) {
	var best *model.Conversation
	for _, site := range sites {
		if e.cfg.StrictAmbiguity {
			n, err := e.convs.CountActiveBySite(ctx, site.ID)
			if err != nil {
				return nil, fmt.Errorf("count active conversations: %w", err)
			}
			if n > 1 {
				log.Warn().Str("siteId", site.ID).Int("active", n).
					Msg("site has several active conversations and the reply quotes none of them")
				continue
			}
		}
		conv, err := e.convs.FindActiveBySite(ctx, site.ID)
		if err != nil {
			return nil, fmt.Errorf("find active by site: %w", err)
		}
		if conv != nil && (best == nil || conv.LastActivityAt.After(best.LastActivityAt)) {
			best = conv
		}
	}
	return best, nil
}
