package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitechat/wa-relay-go/internal/model"
)

func TestMessageRepository(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	sites := NewSiteRepository(db.DB)
	convs := NewConversationRepository(db.DB)
	repo := NewMessageRepository(db.DB)
	ctx := context.Background()

	site := createTestSite(t, sites, "972503333333")
	conv, err := convs.GetOrCreateActive(ctx, model.GetOrCreateConversationParams{
		SiteID: site.ID, VisitorID: "v",
	})
	require.NoError(t, err)

	first, err := repo.Append(ctx, model.AppendMessageParams{
		ConversationID: conv.ID, Direction: model.DirectionOutgoing, Content: "hello",
	})
	require.NoError(t, err)
	second, err := repo.Append(ctx, model.AppendMessageParams{
		ConversationID: conv.ID, Direction: model.DirectionIncoming, Content: "hi there",
	})
	require.NoError(t, err)

	t.Run("append bumps last activity", func(t *testing.T) {
		updated, err := convs.FindByID(ctx, conv.ID)
		require.NoError(t, err)
		assert.False(t, updated.LastActivityAt.Before(second.CreatedAt))
	})

	t.Run("returns all messages in order", func(t *testing.T) {
		msgs, err := repo.FindSince(ctx, conv.ID, nil)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, first.ID, msgs[0].ID)
		assert.Equal(t, second.ID, msgs[1].ID)
	})

	t.Run("filters strictly after since", func(t *testing.T) {
		msgs, err := repo.FindSince(ctx, conv.ID, &first.CreatedAt)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "hi there", msgs[0].Content)
	})

	t.Run("delete removes only that message", func(t *testing.T) {
		extra, err := repo.Append(ctx, model.AppendMessageParams{
			ConversationID: conv.ID, Direction: model.DirectionOutgoing, Content: "unsent",
		})
		require.NoError(t, err)

		require.NoError(t, repo.Delete(ctx, extra.ID))

		msgs, err := repo.FindSince(ctx, conv.ID, nil)
		require.NoError(t, err)
		assert.Len(t, msgs, 2)
	})
}
