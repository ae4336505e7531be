// Package repotest provides in-memory repositories for tests that need the
// stateful behaviour of the Postgres store without a database.
package repotest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sitechat/wa-relay-go/internal/model"
	"github.com/sitechat/wa-relay-go/internal/repository"
)

// Store holds sites, conversations and messages and hands out repository
// views over them. Clock drives created_at and last_activity_at.
type Store struct {
	mu    sync.Mutex
	seq   int
	Clock func() time.Time

	sites         []*model.Site
	conversations []*model.Conversation
	messages      []*model.Message

	// Err, when set, is returned by every write.
	Err error
}

func NewStore() *Store {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var tick int
	return &Store{
		Clock: func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Millisecond)
		},
	}
}

func (s *Store) Sites() repository.SiteRepository { return siteView{s} }
func (s *Store) Conversations() repository.ConversationRepository { return convView{s} }
func (s *Store) Messages() repository.MessageRepository { return msgView{s} }

func (s *Store) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

// AddSite inserts a site directly.
func (s *Store) AddSite(code, operatorPhone string, name *string) *model.Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	site := &model.Site{
		ID:            s.nextID("site"),
		Code:          code,
		OperatorPhone: operatorPhone,
		DisplayName:   name,
		CreatedAt:     s.Clock(),
	}
	s.sites = append(s.sites, site)
	return site
}

// SetLastActivity rewinds or advances a conversation's activity timestamp.
func (s *Store) SetLastActivity(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.ID == id {
			c.LastActivityAt = at
		}
	}
}

// MessagesOf returns a conversation's messages in insertion order.
func (s *Store) MessagesOf(conversationID string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, *m)
		}
	}
	return out
}

// Conversation returns a copy of the conversation with id, or nil.
func (s *Store) Conversation(id string) *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.ID == id {
			cp := *c
			return &cp
		}
	}
	return nil
}

// ActiveCount returns the number of active conversations for (site, visitor).
func (s *Store) ActiveCount(siteID, visitorID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.conversations {
		if c.SiteID == siteID && c.VisitorID == visitorID && c.IsActive() {
			n++
		}
	}
	return n
}

type siteView struct{ s *Store }

func (v siteView) Create(_ context.Context, params model.CreateSiteParams) (*model.Site, error) {
	if v.s.Err != nil {
		return nil, v.s.Err
	}
	if existing, _ := v.FindByCode(context.Background(), params.Code); existing != nil {
		return nil, repository.ErrDuplicate
	}
	site := v.s.AddSite(params.Code, params.OperatorPhone, params.DisplayName)
	cp := *site
	return &cp, nil
}

func (v siteView) FindByCode(_ context.Context, code string) (*model.Site, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, site := range v.s.sites {
		if site.Code == code {
			cp := *site
			return &cp, nil
		}
	}
	return nil, nil
}

func (v siteView) FindByID(_ context.Context, id string) (*model.Site, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, site := range v.s.sites {
		if site.ID == id {
			cp := *site
			return &cp, nil
		}
	}
	return nil, nil
}

func (v siteView) FindAll(_ context.Context) ([]model.Site, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	out := make([]model.Site, 0, len(v.s.sites))
	for _, site := range v.s.sites {
		out = append(out, *site)
	}
	return out, nil
}

func (v siteView) ExistsByCode(ctx context.Context, code string) (bool, error) {
	site, err := v.FindByCode(ctx, code)
	return site != nil, err
}

type convView struct{ s *Store }

func (v convView) GetOrCreateActive(_ context.Context, params model.GetOrCreateConversationParams) (*model.Conversation, error) {
	if v.s.Err != nil {
		return nil, v.s.Err
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, c := range v.s.conversations {
		if c.SiteID == params.SiteID && c.VisitorID == params.VisitorID && c.IsActive() {
			if c.VisitorName == nil {
				c.VisitorName = params.VisitorName
			}
			if c.VisitorPhone == nil {
				c.VisitorPhone = params.VisitorPhone
			}
			cp := *c
			return &cp, nil
		}
	}
	now := v.s.Clock()
	c := &model.Conversation{
		ID:             v.s.nextID("conv"),
		SiteID:         params.SiteID,
		VisitorID:      params.VisitorID,
		VisitorName:    params.VisitorName,
		VisitorPhone:   params.VisitorPhone,
		Status:         model.ConversationStatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	v.s.conversations = append(v.s.conversations, c)
	cp := *c
	return &cp, nil
}

func (v convView) FindByID(_ context.Context, id string) (*model.Conversation, error) {
	return v.s.Conversation(id), nil
}

func (v convView) mostRecent(match func(c *model.Conversation) bool) *model.Conversation {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var best *model.Conversation
	for _, c := range v.s.conversations {
		if !match(c) {
			continue
		}
		if best == nil || !c.LastActivityAt.Before(best.LastActivityAt) {
			best = c
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}

func (v convView) FindActiveBySite(_ context.Context, siteID string) (*model.Conversation, error) {
	return v.mostRecent(func(c *model.Conversation) bool {
		return c.SiteID == siteID && c.IsActive()
	}), nil
}

func (v convView) FindLatestByVisitor(_ context.Context, siteID, visitorID string) (*model.Conversation, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var best *model.Conversation
	for _, c := range v.s.conversations {
		if c.SiteID != siteID || c.VisitorID != visitorID {
			continue
		}
		if best == nil || c.IsActive() || !best.IsActive() {
			best = c
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (v convView) FindActiveByVisitorPhone(_ context.Context, phones []string) (*model.Conversation, error) {
	set := make(map[string]bool, len(phones))
	for _, p := range phones {
		set[p] = true
	}
	return v.mostRecent(func(c *model.Conversation) bool {
		return c.IsActive() && c.VisitorPhone != nil && set[*c.VisitorPhone]
	}), nil
}

func (v convView) CountActiveBySite(_ context.Context, siteID string) (int, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	n := 0
	for _, c := range v.s.conversations {
		if c.SiteID == siteID && c.IsActive() {
			n++
		}
	}
	return n, nil
}

func (v convView) Close(_ context.Context, id string, reason model.CloseReason) (bool, error) {
	if v.s.Err != nil {
		return false, v.s.Err
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, c := range v.s.conversations {
		if c.ID == id && c.IsActive() {
			now := v.s.Clock()
			c.Status = model.ConversationStatusClosed
			c.ClosedAt = &now
			c.CloseReason = &reason
			return true, nil
		}
	}
	return false, nil
}

func (v convView) FindStaleActive(_ context.Context, olderThan time.Time) ([]model.Conversation, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var out []model.Conversation
	for _, c := range v.s.conversations {
		if c.IsActive() && c.LastActivityAt.Before(olderThan) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt.Before(out[j].LastActivityAt) })
	return out, nil
}

type msgView struct{ s *Store }

func (v msgView) Append(_ context.Context, params model.AppendMessageParams) (*model.Message, error) {
	if v.s.Err != nil {
		return nil, v.s.Err
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	m := &model.Message{
		ID:             v.s.nextID("msg"),
		ConversationID: params.ConversationID,
		Direction:      params.Direction,
		Content:        params.Content,
		CreatedAt:      v.s.Clock(),
	}
	v.s.messages = append(v.s.messages, m)
	for _, c := range v.s.conversations {
		if c.ID == params.ConversationID {
			c.LastActivityAt = m.CreatedAt
		}
	}
	cp := *m
	return &cp, nil
}

func (v msgView) FindSince(_ context.Context, conversationID string, since *time.Time) ([]model.Message, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	out := []model.Message{}
	for _, m := range v.s.messages {
		if m.ConversationID != conversationID {
			continue
		}
		if since != nil && !m.CreatedAt.After(*since) {
			continue
		}
		out = append(out, *m)
	}
	return out, nil
}

func (v msgView) Delete(_ context.Context, id string) error {
	if v.s.Err != nil {
		return v.s.Err
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for i, m := range v.s.messages {
		if m.ID == id {
			v.s.messages = append(v.s.messages[:i], v.s.messages[i+1:]...)
			return nil
		}
	}
	return nil
}
