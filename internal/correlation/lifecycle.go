package correlation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/sitechat/wa-relay-go/internal/errors"
	"github.com/sitechat/wa-relay-go/internal/model"
	"github.com/sitechat/wa-relay-go/internal/repository"
)

// Notifier pushes conversation updates to whoever is watching the visitor
// side. Implementations must not block for long.
type Notifier interface {
	MessageAdded(ctx context.Context, conv *model.Conversation, msg *model.Message)
	ConversationClosed(ctx context.Context, conv *model.Conversation)
}

// Lifecycle closes conversations and keeps the correlation index in step.
type Lifecycle struct {
	convs     repository.ConversationRepository
	index     *Index
	notifier  Notifier
	threshold time.Duration
	now       func() time.Time

	sweepMu sync.Mutex
}

func NewLifecycle(convs repository.ConversationRepository, index *Index, notifier Notifier, inactivity time.Duration) *Lifecycle {
	return &Lifecycle{
		convs:     convs,
		index:     index,
		notifier:  notifier,
		threshold: inactivity,
		now:       time.Now,
	}
}

// Close marks the conversation closed and drops its index entries. Closing
// an already closed conversation only re-clears the index; an unknown id is
// ConversationNotFound.
func (l *Lifecycle) Close(ctx context.Context, conversationID string, reason model.CloseReason) error {
	changed, err := l.convs.Close(ctx, conversationID, reason)
	if err != nil {
		return fmt.Errorf("close conversation: %w", err)
	}
	l.index.Forget(conversationID)

	if !changed {
		conv, err := l.convs.FindByID(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("find conversation: %w", err)
		}
		if conv == nil {
			return apperrors.ConversationNotFound()
		}
		return nil
	}
	log.Info().
		Str("conversationId", conversationID).
		Str("reason", string(reason)).
		Msg("conversation closed")

	if l.notifier != nil {
		conv, err := l.convs.FindByID(ctx, conversationID)
		if err != nil {
			log.Warn().Err(err).Str("conversationId", conversationID).Msg("failed to load closed conversation")
			return nil
		}
		if conv != nil {
			l.notifier.ConversationClosed(ctx, conv)
		}
	}
	return nil
}

// SweepResult summarizes one inactivity sweep.
type SweepResult struct {
	Closed  int
	Skipped bool
}

// SweepInactive closes every active conversation idle for longer than the
// threshold. Sweeps never overlap: a call made while another runs returns
// immediately with Skipped set.
func (l *Lifecycle) SweepInactive(ctx context.Context) (SweepResult, error) {
	if !l.sweepMu.TryLock() {
		return SweepResult{Skipped: true}, nil
	}
	defer l.sweepMu.Unlock()

	stale, err := l.convs.FindStaleActive(ctx, l.now().Add(-l.threshold))
	if err != nil {
		return SweepResult{}, fmt.Errorf("find stale conversations: %w", err)
	}

	var result SweepResult
	for _, conv := range stale {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := l.Close(ctx, conv.ID, model.CloseReasonInactivity); err != nil {
			log.Error().Err(err).Str("conversationId", conv.ID).Msg("failed to close inactive conversation")
			continue
		}
		result.Closed++
	}
	return result, nil
}

// InvalidateSession forgets every correlation after a forced re-pair. The
// single session serves every operator phone, so nothing in the index can
// be trusted afterwards. Conversations themselves stay as they are.
func (l *Lifecycle) InvalidateSession() {
	phones, msgIDs := l.index.Len()
	l.index.Reset()
	log.Info().Int("phones", phones).Int("messageIds", msgIDs).Msg("correlation index cleared")
}
