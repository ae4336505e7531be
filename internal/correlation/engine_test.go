package correlation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitechat/wa-relay-go/internal/model"
	"github.com/sitechat/wa-relay-go/internal/repository/repotest"
	"github.com/sitechat/wa-relay-go/internal/whatsapp"
)

type fakeReplies struct {
	mu   sync.Mutex
	keys [][]string
	got  []whatsapp.Reply
	ok   bool
}

func (f *fakeReplies) DeliverReply(keys []string, r whatsapp.Reply) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, keys)
	f.got = append(f.got, r)
	return f.ok
}

type fakeNotifier struct {
	mu     sync.Mutex
	added  []string
	closed []string
}

func (f *fakeNotifier) MessageAdded(ctx context.Context, conv *model.Conversation, msg *model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, conv.ID+":"+msg.Content)
}

func (f *fakeNotifier) ConversationClosed(ctx context.Context, conv *model.Conversation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, conv.ID)
}

type engineFixture struct {
	store     *repotest.Store
	index     *Index
	lifecycle *Lifecycle
	engine    *Engine
	replies   *fakeReplies
	notifier  *fakeNotifier
}

func newEngineFixture(t *testing.T, strict bool) *engineFixture {
	t.Helper()
	store := repotest.NewStore()
	index := NewIndex()
	notifier := &fakeNotifier{}
	replies := &fakeReplies{}
	lifecycle := NewLifecycle(store.Conversations(), index, notifier, 5*time.Minute)
	engine := NewEngine(store.Sites(), store.Conversations(), store.Messages(), index, lifecycle, replies, notifier,
		EngineConfig{
			Normalizer:      NewNormalizer("972"),
			ClosingPhrase:   NewClosingPhrase("end chat"),
			StrictAmbiguity: strict,
		})
	return &engineFixture{store, index, lifecycle, engine, replies, notifier}
}

func (f *engineFixture) conversation(t *testing.T, siteID, visitorID string, phone *string) *model.Conversation {
	t.Helper()
	conv, err := f.store.Conversations().GetOrCreateActive(context.Background(), model.GetOrCreateConversationParams{
		SiteID: siteID, VisitorID: visitorID, VisitorPhone: phone,
	})
	require.NoError(t, err)
	_, err = f.store.Messages().Append(context.Background(), model.AppendMessageParams{
		ConversationID: conv.ID, Direction: model.DirectionOutgoing, Content: "hello",
	})
	require.NoError(t, err)
	return conv
}

func operatorReply(text string) whatsapp.Inbound {
	return whatsapp.Inbound{
		MessageID:   "in-" + text,
		SenderPhone: "972501234567",
		ChatPhone:   "972501234567",
		Text:        text,
	}
}

func TestEngine_QuoteBeatsLastByPhone(t *testing.T) {
	f := newEngineFixture(t, false)
	site := f.store.AddSite("abcd2345", "972501234567", nil)
	first := f.conversation(t, site.ID, "v1", nil)
	second := f.conversation(t, site.ID, "v2", nil)

	f.index.RememberOutbound("wamid-1", first.ID)
	f.index.RememberPhones(NewNormalizer("972").Variants("972501234567"), second.ID)

	msg := operatorReply("ok")
	msg.QuotedMessageID = "wamid-1"
	out, err := f.engine.Process(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, first.ID, out.ConversationID)
	assert.Equal(t, StepQuote, out.Step)

	msgs := f.store.MessagesOf(first.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.DirectionIncoming, msgs[1].Direction)
	assert.Equal(t, "ok", msgs[1].Content)
	assert.Len(t, f.store.MessagesOf(second.ID), 1)
}

func TestEngine_LastByPhone(t *testing.T) {
	f := newEngineFixture(t, false)
	site := f.store.AddSite("abcd2345", "972501234567", nil)
	conv := f.conversation(t, site.ID, "v1", nil)
	f.index.RememberPhones([]string{"972501234567"}, conv.ID)

	out, err := f.engine.Process(context.Background(), operatorReply("ok"))
	require.NoError(t, err)
	assert.Equal(t, conv.ID, out.ConversationID)
	assert.Equal(t, StepLastByPhone, out.Step)
}

func TestEngine_OperatorPhoneFromStore(t *testing.T) {
	f := newEngineFixture(t, false)
	site := f.store.AddSite("abcd2345", "972501234567", nil)
	conv := f.conversation(t, site.ID, "v1", nil)

	out, err := f.engine.Process(context.Background(), operatorReply("ok"))
	require.NoError(t, err)
	assert.Equal(t, conv.ID, out.ConversationID)
	assert.Equal(t, StepOperatorPhone, out.Step)

	// Resolution warms the phone cache for the next reply.
	id, ok := f.index.LookupPhones([]string{"0501234567"})
	assert.True(t, ok)
	assert.Equal(t, conv.ID, id)
}

func TestEngine_SuffixMatch(t *testing.T) {
	f := newEngineFixture(t, false)
	site := f.store.AddSite("abcd2345", "501234567", nil)
	conv := f.conversation(t, site.ID, "v1", nil)

	msg := operatorReply("ok")
	msg.SenderPhone = "1501234567"
	out, err := f.engine.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, out.ConversationID)
	assert.Equal(t, StepSuffix, out.Step)
}

func TestEngine_FromSelfUsesVisitorPhone(t *testing.T) {
	f := newEngineFixture(t, false)
	site := f.store.AddSite("abcd2345", "972501234567", nil)
	phone := "972529876543"
	conv := f.conversation(t, site.ID, "v1", &phone)
	f.conversation(t, site.ID, "v2", nil)

	msg := whatsapp.Inbound{
		MessageID:   "self-1",
		SenderPhone: "972501234567",
		ChatPhone:   "0529876543",
		Text:        "sent from my phone",
		IsFromSelf:  true,
	}
	out, err := f.engine.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, out.ConversationID)
	assert.Equal(t, StepVisitorPhone, out.Step)
}

func TestEngine_OutboundEchoIgnored(t *testing.T) {
	f := newEngineFixture(t, false)
	site := f.store.AddSite("abcd2345", "972501234567", nil)
	conv := f.conversation(t, site.ID, "v1", nil)
	f.index.RememberOutbound("wamid-echo", conv.ID)

	out, err := f.engine.Process(context.Background(), whatsapp.Inbound{
		MessageID: "wamid-echo", SenderPhone: "972501234567", ChatPhone: "972501234567",
		Text: "[abcd2345] hello", IsFromSelf: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "echo", out.Ignored)
	assert.Len(t, f.store.MessagesOf(conv.ID), 1)
}

func TestEngine_UnresolvedIsDropped(t *testing.T) {
	f := newEngineFixture(t, false)
	f.store.AddSite("abcd2345", "972501234567", nil)

	msg := operatorReply("anyone?")
	msg.SenderPhone = "972549999999"
	out, err := f.engine.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "unresolved", out.Ignored)
	assert.Empty(t, out.ConversationID)
}

func TestEngine_GroupIgnored(t *testing.T) {
	f := newEngineFixture(t, false)
	msg := operatorReply("hi all")
	msg.IsGroup = true
	out, err := f.engine.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "group", out.Ignored)
}

func TestEngine_StrictAmbiguity(t *testing.T) {
	t.Run("lenient picks the most recent conversation", func(t *testing.T) {
		f := newEngineFixture(t, false)
		site := f.store.AddSite("abcd2345", "972501234567", nil)
		f.conversation(t, site.ID, "v1", nil)
		latest := f.conversation(t, site.ID, "v2", nil)

		out, err := f.engine.Process(context.Background(), operatorReply("ok"))
		require.NoError(t, err)
		assert.Equal(t, latest.ID, out.ConversationID)
	})

	t.Run("strict drops unquoted replies with several candidates", func(t *testing.T) {
		f := newEngineFixture(t, true)
		site := f.store.AddSite("abcd2345", "972501234567", nil)
		first := f.conversation(t, site.ID, "v1", nil)
		f.conversation(t, site.ID, "v2", nil)

		out, err := f.engine.Process(context.Background(), operatorReply("ok"))
		require.NoError(t, err)
		assert.Equal(t, "unresolved", out.Ignored)

		f.index.RememberOutbound("wamid-1", first.ID)
		msg := operatorReply("ok quoted")
		msg.QuotedMessageID = "wamid-1"
		out, err = f.engine.Process(context.Background(), msg)
		require.NoError(t, err)
		assert.Equal(t, first.ID, out.ConversationID)
	})

	t.Run("strict still resolves a single candidate", func(t *testing.T) {
		f := newEngineFixture(t, true)
		site := f.store.AddSite("abcd2345", "972501234567", nil)
		only := f.conversation(t, site.ID, "v1", nil)

		out, err := f.engine.Process(context.Background(), operatorReply("ok"))
		require.NoError(t, err)
		assert.Equal(t, only.ID, out.ConversationID)
	})
}

func TestEngine_ClosingPhraseFromOperator(t *testing.T) {
	f := newEngineFixture(t, false)
	site := f.store.AddSite("abcd2345", "972501234567", nil)
	conv := f.conversation(t, site.ID, "v1", nil)
	f.index.RememberOutbound("wamid-1", conv.ID)

	out, err := f.engine.Process(context.Background(), operatorReply("End  Chat"))
	require.NoError(t, err)
	assert.True(t, out.Closed)

	assert.Equal(t, model.ConversationStatusClosed, f.store.Conversation(conv.ID).Status)
	phones, msgIDs := f.index.Len()
	assert.Zero(t, phones)
	assert.Zero(t, msgIDs)
	assert.Equal(t, []string{conv.ID}, f.notifier.closed)

	// The next unquoted reply has nowhere to go.
	out, err = f.engine.Process(context.Background(), operatorReply("still there?"))
	require.NoError(t, err)
	assert.Equal(t, "unresolved", out.Ignored)
}

func TestEngine_DeliversToWaiterAndNotifies(t *testing.T) {
	f := newEngineFixture(t, false)
	f.replies.ok = true
	site := f.store.AddSite("abcd2345", "972501234567", nil)
	conv := f.conversation(t, site.ID, "v1", nil)

	out, err := f.engine.Process(context.Background(), operatorReply("pong"))
	require.NoError(t, err)
	assert.True(t, out.Delivered)

	require.Len(t, f.replies.keys, 1)
	assert.Equal(t, conv.ID, f.replies.keys[0][0])
	assert.Contains(t, f.replies.keys[0], "972501234567")
	assert.Equal(t, "pong", f.replies.got[0].Text)
	assert.Equal(t, []string{conv.ID + ":pong"}, f.notifier.added)
}

func TestEngine_StaleIndexEntryFallsThrough(t *testing.T) {
	f := newEngineFixture(t, false)
	site := f.store.AddSite("abcd2345", "972501234567", nil)
	old := f.conversation(t, site.ID, "v1", nil)
	_, err := f.store.Conversations().Close(context.Background(), old.ID, model.CloseReasonInactivity)
	require.NoError(t, err)
	f.index.RememberOutbound("wamid-old", old.ID)
	current := f.conversation(t, site.ID, "v2", nil)

	msg := operatorReply("ok")
	msg.QuotedMessageID = "wamid-old"
	out, err := f.engine.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, current.ID, out.ConversationID)

	_, ok := f.index.LookupOutbound("wamid-old")
	assert.False(t, ok)
}
