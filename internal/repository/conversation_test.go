package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitechat/wa-relay-go/internal/model"
)

func strPtr(s string) *string { return &s }

func TestConversationRepository_GetOrCreateActive(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	sites := NewSiteRepository(db.DB)
	repo := NewConversationRepository(db.DB)
	ctx := context.Background()
	site := createTestSite(t, sites, "972501111111")

	first, err := repo.GetOrCreateActive(ctx, model.GetOrCreateConversationParams{
		SiteID:    site.ID,
		VisitorID: "visitor-1",
	})
	require.NoError(t, err)
	assert.Equal(t, model.ConversationStatusActive, first.Status)
	assert.Nil(t, first.VisitorName)

	t.Run("returns the same active row and backfills unknown fields", func(t *testing.T) {
		again, err := repo.GetOrCreateActive(ctx, model.GetOrCreateConversationParams{
			SiteID:       site.ID,
			VisitorID:    "visitor-1",
			VisitorName:  strPtr("Dana"),
			VisitorPhone: strPtr("972521234567"),
		})
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
		require.NotNil(t, again.VisitorName)
		assert.Equal(t, "Dana", *again.VisitorName)
	})

	t.Run("does not overwrite known fields", func(t *testing.T) {
		again, err := repo.GetOrCreateActive(ctx, model.GetOrCreateConversationParams{
			SiteID:      site.ID,
			VisitorID:   "visitor-1",
			VisitorName: strPtr("Other"),
		})
		require.NoError(t, err)
		assert.Equal(t, "Dana", *again.VisitorName)
	})

	t.Run("close is idempotent and a new message starts a new conversation", func(t *testing.T) {
		changed, err := repo.Close(ctx, first.ID, model.CloseReasonClosingPhrase)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = repo.Close(ctx, first.ID, model.CloseReasonInactivity)
		require.NoError(t, err)
		assert.False(t, changed)

		closed, err := repo.FindByID(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ConversationStatusClosed, closed.Status)
		require.NotNil(t, closed.CloseReason)
		assert.Equal(t, model.CloseReasonClosingPhrase, *closed.CloseReason)

		next, err := repo.GetOrCreateActive(ctx, model.GetOrCreateConversationParams{
			SiteID:    site.ID,
			VisitorID: "visitor-1",
		})
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, next.ID)
	})
}

func TestConversationRepository_Lookups(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	sites := NewSiteRepository(db.DB)
	repo := NewConversationRepository(db.DB)
	messages := NewMessageRepository(db.DB)
	ctx := context.Background()
	site := createTestSite(t, sites, "972502222222")

	a, err := repo.GetOrCreateActive(ctx, model.GetOrCreateConversationParams{
		SiteID: site.ID, VisitorID: "a", VisitorPhone: strPtr("972529999999"),
	})
	require.NoError(t, err)
	b, err := repo.GetOrCreateActive(ctx, model.GetOrCreateConversationParams{
		SiteID: site.ID, VisitorID: "b",
	})
	require.NoError(t, err)

	_, err = messages.Append(ctx, model.AppendMessageParams{
		ConversationID: b.ID, Direction: model.DirectionOutgoing, Content: "hi",
	})
	require.NoError(t, err)

	t.Run("most recent active by site", func(t *testing.T) {
		conv, err := repo.FindActiveBySite(ctx, site.ID)
		require.NoError(t, err)
		require.NotNil(t, conv)
		assert.Equal(t, b.ID, conv.ID)
	})

	t.Run("counts active by site", func(t *testing.T) {
		n, err := repo.CountActiveBySite(ctx, site.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("finds by visitor phone variant", func(t *testing.T) {
		conv, err := repo.FindActiveByVisitorPhone(ctx, []string{"0529999999", "972529999999"})
		require.NoError(t, err)
		require.NotNil(t, conv)
		assert.Equal(t, a.ID, conv.ID)

		none, err := repo.FindActiveByVisitorPhone(ctx, nil)
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("stale lookup uses last activity", func(t *testing.T) {
		stale, err := repo.FindStaleActive(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		ids := make([]string, 0, len(stale))
		for _, c := range stale {
			ids = append(ids, c.ID)
		}
		assert.Contains(t, ids, a.ID)
		assert.Contains(t, ids, b.ID)

		stale, err = repo.FindStaleActive(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		for _, c := range stale {
			assert.NotEqual(t, b.ID, c.ID)
		}
	})
}
