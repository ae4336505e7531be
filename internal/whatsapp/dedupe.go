package whatsapp

import (
	"container/list"
	"sync"
	"time"
)

type seenEntry struct {
	key string
	at  time.Time
}

// seenSet is a TTL and size bounded set of message ids used to drop
// duplicate deliveries. Entries are kept in insertion order so both
// expiry and eviction pop from the front.
type seenSet struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

func newSeenSet(ttl time.Duration, maxSize int) *seenSet {
	return &seenSet{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// CheckAndMark reports whether key was already seen within the TTL and
// records it otherwise.
func (s *seenSet) CheckAndMark(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.expireLocked(now)

	if _, ok := s.entries[key]; ok {
		return true
	}

	for len(s.entries) >= s.maxSize {
		s.removeLocked(s.order.Front())
	}
	s.entries[key] = s.order.PushBack(seenEntry{key: key, at: now})
	return false
}

func (s *seenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *seenSet) expireLocked(now time.Time) {
	for e := s.order.Front(); e != nil; e = s.order.Front() {
		if now.Sub(e.Value.(seenEntry).at) < s.ttl {
			return
		}
		s.removeLocked(e)
	}
}

func (s *seenSet) removeLocked(e *list.Element) {
	if e == nil {
		return
	}
	s.order.Remove(e)
	delete(s.entries, e.Value.(seenEntry).key)
}
