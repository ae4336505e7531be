package correlation

import "sync"

// Index is the process-local correlation cache. It maps phone variants to the
// last conversation seen for them and outbound message ids to the
// conversation they were sent for. Losing it only degrades routing accuracy.
type Index struct {
	mu       sync.RWMutex
	byPhone  map[string]string
	byMsgID  map[string]string
	phonesOf map[string]map[string]struct{}
	msgIDsOf map[string]map[string]struct{}
}

func NewIndex() *Index {
	return &Index{
		byPhone:  make(map[string]string),
		byMsgID:  make(map[string]string),
		phonesOf: make(map[string]map[string]struct{}),
		msgIDsOf: make(map[string]map[string]struct{}),
	}
}

// RememberOutbound records that msgID was sent on behalf of conversationID.
func (x *Index) RememberOutbound(msgID, conversationID string) {
	if msgID == "" || conversationID == "" {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	if prev, ok := x.byMsgID[msgID]; ok && prev != conversationID {
		delete(x.msgIDsOf[prev], msgID)
	}
	x.byMsgID[msgID] = conversationID
	addRef(x.msgIDsOf, conversationID, msgID)
}

// RememberPhones points every phone variant at conversationID.
func (x *Index) RememberPhones(phones []string, conversationID string) {
	if conversationID == "" {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, p := range phones {
		if p == "" {
			continue
		}
		if prev, ok := x.byPhone[p]; ok && prev != conversationID {
			delete(x.phonesOf[prev], p)
		}
		x.byPhone[p] = conversationID
		addRef(x.phonesOf, conversationID, p)
	}
}

func (x *Index) LookupOutbound(msgID string) (string, bool) {
	if msgID == "" {
		return "", false
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	id, ok := x.byMsgID[msgID]
	return id, ok
}

// LookupPhones returns the conversation of the first variant that has one.
func (x *Index) LookupPhones(phones []string) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for _, p := range phones {
		if id, ok := x.byPhone[p]; ok {
			return id, true
		}
	}
	return "", false
}

// Forget drops every entry that points at conversationID.
func (x *Index) Forget(conversationID string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	for p := range x.phonesOf[conversationID] {
		if x.byPhone[p] == conversationID {
			delete(x.byPhone, p)
		}
	}
	for m := range x.msgIDsOf[conversationID] {
		if x.byMsgID[m] == conversationID {
			delete(x.byMsgID, m)
		}
	}
	delete(x.phonesOf, conversationID)
	delete(x.msgIDsOf, conversationID)
}

// Reset empties the index.
func (x *Index) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()

	clear(x.byPhone)
	clear(x.byMsgID)
	clear(x.phonesOf)
	clear(x.msgIDsOf)
}

// Len returns the number of phone and message-id entries.
func (x *Index) Len() (phones, msgIDs int) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byPhone), len(x.byMsgID)
}

func addRef(m map[string]map[string]struct{}, conversationID, key string) {
	set, ok := m[conversationID]
	if !ok {
		set = make(map[string]struct{})
		m[conversationID] = set
	}
	set[key] = struct{}{}
}
