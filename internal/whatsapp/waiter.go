package whatsapp

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/sitechat/wa-relay-go/internal/errors"
)

// Reply is an inbound message handed to a blocked WaitForReply caller.
type Reply struct {
	ConversationID string
	MessageID      string
	Text           string
	ReceivedAt     time.Time
}

type waiter struct {
	reply    chan Reply
	replaced chan struct{}
}

// waiterTable holds at most one pending waiter per key. A new registration
// for a key evicts the previous one, which fails with Conflict.
type waiterTable struct {
	mu      sync.Mutex
	pending map[string]*waiter
}

func newWaiterTable() *waiterTable {
	return &waiterTable{pending: make(map[string]*waiter)}
}

// PendingReply is a registered waiter. Registering before the outgoing
// message is sent guarantees a fast reply cannot slip past it.
type PendingReply struct {
	table *waiterTable
	key   string
	w     *waiter
}

func (t *waiterTable) register(key string) *PendingReply {
	w := &waiter{
		reply:    make(chan Reply, 1),
		replaced: make(chan struct{}),
	}

	t.mu.Lock()
	if old, ok := t.pending[key]; ok {
		close(old.replaced)
	}
	t.pending[key] = w
	t.mu.Unlock()

	return &PendingReply{table: t, key: key, w: w}
}

// Wait blocks until the reply arrives, the timeout elapses (Timeout), a
// newer registration takes the key (Conflict) or ctx ends.
func (p *PendingReply) Wait(ctx context.Context, timeout time.Duration) (Reply, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-p.w.reply:
		return r, nil
	case <-p.w.replaced:
		return Reply{}, apperrors.Conflict("a newer request is waiting for this reply")
	case <-timer.C:
		if p.table.remove(p.key, p.w) {
			return Reply{}, apperrors.Timeout("no reply received in time")
		}
	case <-ctx.Done():
		if p.table.remove(p.key, p.w) {
			return Reply{}, ctx.Err()
		}
	}

	// Lost the race against a delivery or a replacement; both settle the
	// waiter before releasing the lock, so one of these is ready.
	select {
	case r := <-p.w.reply:
		return r, nil
	case <-p.w.replaced:
		return Reply{}, apperrors.Conflict("a newer request is waiting for this reply")
	}
}

// Cancel drops the registration if it is still pending.
func (p *PendingReply) Cancel() {
	p.table.remove(p.key, p.w)
}

func (t *waiterTable) remove(key string, w *waiter) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending[key] != w {
		return false
	}
	delete(t.pending, key)
	return true
}

func (t *waiterTable) deliver(keys []string, r Reply) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, key := range keys {
		if w, ok := t.pending[key]; ok {
			delete(t.pending, key)
			w.reply <- r
			return true
		}
	}
	return false
}

func (t *waiterTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
