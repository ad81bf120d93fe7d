package chat

import (
	"sync"
	"time"

	"github.com/civic-reports/chat-gateway/internal/model"
)

// ReconcilePolicy decides how an authoritative message interacts with
// pending placeholders when it is merged.
type ReconcilePolicy struct {
	// Window is the maximum created_at distance between a placeholder and
	// the authoritative copy that replaces it. Zero disables reconciliation:
	// placeholders are only ever matched by id, which they never share with
	// the server copy.
	Window time.Duration
}

// ReconcileNone keeps placeholders until the next history reload.
var ReconcileNone = ReconcilePolicy{}

// ReconcileByProximity replaces a placeholder from the same sender with the
// same text when the server copy lands within window of it.
func ReconcileByProximity(window time.Duration) ReconcilePolicy {
	return ReconcilePolicy{Window: window}
}

// MessageLog is the in-memory message list of one room. Messages keep the
// order they were delivered in; no operation reorders existing entries.
type MessageLog struct {
	mu       sync.RWMutex
	messages []model.Message
	version  uint64
	policy   ReconcilePolicy

	subMu sync.Mutex
	subs  map[int]chan struct{}
	next  int
}

// NewMessageLog creates an empty log.
func NewMessageLog(policy ReconcilePolicy) *MessageLog {
	return &MessageLog{
		policy: policy,
		subs:   make(map[int]chan struct{}),
	}
}

// Replace swaps in a freshly loaded history.
func (l *MessageLog) Replace(msgs []model.Message) {
	l.mu.Lock()
	l.messages = append([]model.Message(nil), msgs...)
	l.version++
	l.mu.Unlock()
	l.notify()
}

// Reset clears the log.
func (l *MessageLog) Reset() {
	l.Replace(nil)
}

// Append adds a message unconditionally.
func (l *MessageLog) Append(msg model.Message) {
	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.version++
	l.mu.Unlock()
	l.notify()
}

// Merge adds a message unless one with the same id is already present.
// Messages without an id cannot be deduplicated and are always appended.
// It reports whether the log changed.
func (l *MessageLog) Merge(msg model.Message) bool {
	l.mu.Lock()
	if msg.ID != "" && l.indexLocked(msg.ID) >= 0 {
		l.mu.Unlock()
		return false
	}
	if i := l.placeholderLocked(msg); i >= 0 {
		l.messages[i] = msg
	} else {
		l.messages = append(l.messages, msg)
	}
	l.version++
	l.mu.Unlock()
	l.notify()
	return true
}

// Remove deletes the message with the given id.
func (l *MessageLog) Remove(id model.ID) bool {
	l.mu.Lock()
	i := l.indexLocked(id)
	if i < 0 {
		l.mu.Unlock()
		return false
	}
	l.messages = append(l.messages[:i], l.messages[i+1:]...)
	l.version++
	l.mu.Unlock()
	l.notify()
	return true
}

// Snapshot returns a copy of the messages and the log version.
func (l *MessageLog) Snapshot() ([]model.Message, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Message, len(l.messages))
	copy(out, l.messages)
	return out, l.version
}

// Messages returns a copy of the messages.
func (l *MessageLog) Messages() []model.Message {
	msgs, _ := l.Snapshot()
	return msgs
}

// Len returns the number of messages.
func (l *MessageLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Subscribe returns a channel that receives a signal after each change.
// Signals coalesce; readers should take a fresh Snapshot on wake-up.
func (l *MessageLog) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	l.subMu.Lock()
	id := l.next
	l.next++
	l.subs[id] = ch
	l.subMu.Unlock()

	return ch, func() {
		l.subMu.Lock()
		delete(l.subs, id)
		l.subMu.Unlock()
	}
}

func (l *MessageLog) notify() {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (l *MessageLog) indexLocked(id model.ID) int {
	for i := range l.messages {
		if l.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (l *MessageLog) placeholderLocked(msg model.Message) int {
	if l.policy.Window <= 0 || msg.Pending {
		return -1
	}
	for i := range l.messages {
		p := l.messages[i]
		if !p.Pending || p.Sender != msg.Sender || p.TextValue() != msg.TextValue() {
			continue
		}
		d := msg.CreatedAt.Sub(p.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d <= l.policy.Window {
			return i
		}
	}
	return -1
}
