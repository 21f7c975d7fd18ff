// ABOUTME: Routes status updates from the status stream to the store holding the message
// ABOUTME: Updates for messages not visible in any tracked store are dropped

package conversation

import (
	"sync"

	"github.com/AryaPawar0402/chatsync/internal/message"
	"github.com/AryaPawar0402/chatsync/internal/metrics"
)

// Tracker applies monotonic status transitions across the open stores.
type Tracker struct {
	metrics *metrics.Metrics

	mu     sync.RWMutex
	stores map[message.ConversationKey]*Store
}

// NewTracker creates a tracker with no stores.
func NewTracker(m *metrics.Metrics) *Tracker {
	return &Tracker{
		metrics: m,
		stores:  make(map[message.ConversationKey]*Store),
	}
}

// Track makes s eligible for status updates, replacing any store with the same key.
func (t *Tracker) Track(s *Store) {
	t.mu.Lock()
	t.stores[s.Key()] = s
	t.mu.Unlock()
}

// Untrack stops routing updates to s.
func (t *Tracker) Untrack(s *Store) {
	t.mu.Lock()
	if t.stores[s.Key()] == s {
		delete(t.stores, s.Key())
	}
	t.mu.Unlock()
}

// Apply routes u to the store holding its message. When u names both
// participants only that conversation is searched.
func (t *Tracker) Apply(u message.StatusUpdate) StatusOutcome {
	outcome := t.apply(u)
	t.metrics.StatusUpdate(outcome.String())
	return outcome
}

func (t *Tracker) apply(u message.StatusUpdate) StatusOutcome {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if u.HasKey() {
		s, ok := t.stores[u.Key()]
		if !ok {
			return StatusUnknown
		}
		return s.ApplyStatus(u.MessageID, u.Status)
	}
	for _, s := range t.stores {
		if outcome := s.ApplyStatus(u.MessageID, u.Status); outcome != StatusUnknown {
			return outcome
		}
	}
	return StatusUnknown
}
