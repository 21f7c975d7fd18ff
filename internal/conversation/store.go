// ABOUTME: Ordered, deduplicated message log for one conversation
// ABOUTME: Reconciles optimistic local sends with their authoritative echoes, oldest first

package conversation

import (
	"sync"
	"time"

	"github.com/AryaPawar0402/chatsync/internal/dedupe"
	"github.com/AryaPawar0402/chatsync/internal/message"
)

// IngestResult describes what Ingest did with a message.
type IngestResult int

const (
	// IngestAppended means the message was new and had no optimistic twin.
	IngestAppended IngestResult = iota + 1
	// IngestReconciled means the message replaced an optimistic entry.
	IngestReconciled
	// IngestDuplicate means the id was already seen; nothing changed.
	IngestDuplicate
	// IngestForeign means the message belongs to another conversation.
	IngestForeign
)

func (r IngestResult) String() string {
	switch r {
	case IngestAppended:
		return "appended"
	case IngestReconciled:
		return "reconciled"
	case IngestDuplicate:
		return "duplicate"
	case IngestForeign:
		return "foreign"
	}
	return "unknown"
}

// StatusOutcome describes what a status update did.
type StatusOutcome int

const (
	// StatusApplied means the status advanced.
	StatusApplied StatusOutcome = iota + 1
	// StatusStale means the update was not later than the current status.
	StatusStale
	// StatusUnknown means no visible message has that id.
	StatusUnknown
)

func (o StatusOutcome) String() string {
	switch o {
	case StatusApplied:
		return "applied"
	case StatusStale:
		return "stale"
	case StatusUnknown:
		return "unknown"
	}
	return "invalid"
}

// Store is the message log of the conversation between self and counterpart.
// Entries keep local-append or arrival order. Authoritative ids are unique;
// optimistic entries carry temp ids until reconciled or rolled back.
type Store struct {
	key         message.ConversationKey
	self        string
	counterpart string
	now         func() time.Time

	mu      sync.Mutex
	entries []message.Message
	seen    *dedupe.Set
	observe func(Event)
}

// NewStore creates an empty store for the conversation of self with counterpart.
func NewStore(self, counterpart string) *Store {
	return &Store{
		key:         message.Key(self, counterpart),
		self:        self,
		counterpart: counterpart,
		now:         time.Now,
		// Unbounded: the set lives only as long as the entries it guards.
		seen:        dedupe.New(0),
	}
}

// Key returns the conversation key.
func (s *Store) Key() message.ConversationKey { return s.key }

// Self returns the local participant.
func (s *Store) Self() string { return s.self }

// Counterpart returns the other participant.
func (s *Store) Counterpart() string { return s.counterpart }

// Observe installs fn to receive every change. fn runs outside the store lock.
func (s *Store) Observe(fn func(Event)) {
	s.mu.Lock()
	s.observe = fn
	s.mu.Unlock()
}

// AppendLocalSend appends an optimistic PENDING message from self and
// returns it. The entry is visible immediately.
func (s *Store) AppendLocalSend(content string) message.Message {
	m := message.Message{
		ID:         message.NewTempID(),
		SenderID:   s.self,
		ReceiverID: s.counterpart,
		Content:    content,
		CreatedAt:  s.now(),
		Status:     message.StatusPending,
		Optimistic: true,
	}

	s.mu.Lock()
	s.entries = append(s.entries, m)
	obs := s.observe
	s.mu.Unlock()

	notify(obs, Event{Type: EventAppended, Message: m})
	return m
}

// Ingest adds an authoritative message. Redelivered ids are dropped. When
// the message echoes an optimistic entry (by correlation ref, else by first
// optimistic entry with the same sender and content) that entry is removed
// and the message is appended.
func (s *Store) Ingest(m message.Message) IngestResult {
	if m.Key() != s.key {
		return IngestForeign
	}
	m.Optimistic = false
	if m.Status == message.StatusPending {
		m.Status = message.StatusSent
	}

	s.mu.Lock()
	if m.ID != "" && s.seen.CheckAndMark(m.ID) {
		// History may already hold the echo of a send made while it loaded.
		idx := s.refLocked(m.ClientRef)
		if idx < 0 {
			s.mu.Unlock()
			return IngestDuplicate
		}
		replaced := s.entries[idx]
		s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
		obs := s.observe
		s.mu.Unlock()
		notify(obs, Event{Type: EventReconciled, Message: m, Replaced: replaced.ID})
		return IngestReconciled
	}

	ev := Event{Type: EventAppended, Message: m}
	result := IngestAppended
	if idx := s.matchLocked(m); idx >= 0 {
		ev.Type = EventReconciled
		ev.Replaced = s.entries[idx].ID
		result = IngestReconciled
		s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	}
	s.entries = append(s.entries, m)
	obs := s.observe
	s.mu.Unlock()

	notify(obs, ev)
	return result
}

// refLocked returns the index of the optimistic entry with temp id ref, or -1.
func (s *Store) refLocked(ref string) int {
	if ref == "" {
		return -1
	}
	for i, e := range s.entries {
		if e.Optimistic && e.ID == ref {
			return i
		}
	}
	return -1
}

// matchLocked finds the optimistic entry m confirms, or -1.
func (s *Store) matchLocked(m message.Message) int {
	if idx := s.refLocked(m.ClientRef); idx >= 0 {
		return idx
	}
	for i, e := range s.entries {
		if e.Optimistic && e.SenderID == m.SenderID && e.Content == m.Content {
			return i
		}
	}
	return -1
}

// LoadHistory replaces the authoritative prefix of the log with msgs and
// seeds the seen-id set. Entries already present that history does not
// cover (live arrivals and optimistic sends) are kept after it, in order.
// Optimistic entries whose echo is already in the history are dropped. It
// returns the number of history messages accepted.
func (s *Store) LoadHistory(msgs []message.Message) int {
	s.mu.Lock()

	history := make([]message.Message, 0, len(msgs))
	inHistory := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		if m.Key() != s.key {
			continue
		}
		if m.ID != "" {
			if inHistory[m.ID] {
				continue
			}
			inHistory[m.ID] = true
			s.seen.Mark(m.ID)
		}
		m.Optimistic = false
		if m.Status == message.StatusPending {
			m.Status = message.StatusSent
		}
		history = append(history, m)
	}
	accepted := len(history)
	confirmed := confirmedSends(history, s.entries)

	for _, e := range s.entries {
		if e.ID != "" && inHistory[e.ID] {
			continue
		}
		if e.Optimistic && confirmed[e.ID] {
			continue
		}
		history = append(history, e)
	}
	s.entries = history
	obs := s.observe
	s.mu.Unlock()

	notify(obs, Event{Type: EventHistory})
	return accepted
}

// Rollback removes the optimistic entry tempID after a failed send.
func (s *Store) Rollback(tempID string) (message.Message, bool) {
	s.mu.Lock()
	for i, e := range s.entries {
		if e.Optimistic && e.ID == tempID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			obs := s.observe
			s.mu.Unlock()
			notify(obs, Event{Type: EventRemoved, Message: e})
			return e, true
		}
	}
	s.mu.Unlock()
	return message.Message{}, false
}

// ApplyStatus advances the status of message id. Updates that are not
// strictly later than the current status are ignored.
func (s *Store) ApplyStatus(id string, status message.Status) StatusOutcome {
	s.mu.Lock()
	for i := range s.entries {
		e := &s.entries[i]
		if e.ID != id {
			continue
		}
		if !status.After(e.Status) {
			s.mu.Unlock()
			return StatusStale
		}
		e.Status = status
		updated := *e
		obs := s.observe
		s.mu.Unlock()
		notify(obs, Event{Type: EventStatus, Message: updated})
		return StatusApplied
	}
	s.mu.Unlock()
	return StatusUnknown
}

// Find returns the entry with id.
func (s *Store) Find(id string) (message.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == id {
			return e, true
		}
	}
	return message.Message{}, false
}

// Messages returns a snapshot of the log.
func (s *Store) Messages() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]message.Message(nil), s.entries...)
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// confirmedSends returns the temp ids of optimistic entries that history
// already confirms: by correlation ref first, then by sender and content
// against the newest unclaimed history message without a ref. Each history
// message confirms at most one entry.
func confirmedSends(history, entries []message.Message) map[string]bool {
	confirmed := make(map[string]bool)
	claimed := make([]bool, len(history))
	byRef := make(map[string]int)
	for i, h := range history {
		if h.ClientRef != "" {
			byRef[h.ClientRef] = i
		}
	}

	var rest []message.Message
	for _, e := range entries {
		if !e.Optimistic {
			continue
		}
		if i, ok := byRef[e.ID]; ok && !claimed[i] {
			claimed[i] = true
			confirmed[e.ID] = true
			continue
		}
		rest = append(rest, e)
	}

	for _, e := range rest {
		for i := len(history) - 1; i >= 0; i-- {
			h := history[i]
			if claimed[i] || h.ClientRef != "" || h.SenderID != e.SenderID || h.Content != e.Content {
				continue
			}
			claimed[i] = true
			confirmed[e.ID] = true
			break
		}
	}
	return confirmed
}

func notify(fn func(Event), ev Event) {
	if fn != nil {
		fn(ev)
	}
}
