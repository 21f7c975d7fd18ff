// ABOUTME: Chat message model with optimistic/authoritative identity and JSON wire mapping
// ABOUTME: Conversation keys are normalized unordered participant pairs

package message

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks locally generated ids of optimistic messages.
const TempIDPrefix = "temp-"

// NewTempID returns a fresh temporary id for an optimistic message.
func NewTempID() string {
	return TempIDPrefix + uuid.New().String()
}

// IsTempID reports whether id was produced by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// ConversationKey identifies a conversation by its two participants,
// independent of direction.
type ConversationKey struct {
	A string
	B string
}

// Key builds the normalized conversation key for two participants.
func Key(p1, p2 string) ConversationKey {
	if p2 < p1 {
		p1, p2 = p2, p1
	}
	return ConversationKey{A: p1, B: p2}
}

// String renders the key as "a:b".
func (k ConversationKey) String() string {
	return k.A + ":" + k.B
}

// Has reports whether participant is one of the two sides of the key.
func (k ConversationKey) Has(participant string) bool {
	return k.A == participant || k.B == participant
}

// Other returns the participant on the other side of self.
func (k ConversationKey) Other(self string) string {
	if k.A == self {
		return k.B
	}
	return k.A
}

// IsZero reports whether the key is unset.
func (k ConversationKey) IsZero() bool {
	return k.A == "" && k.B == ""
}

// Message is a single chat message as held by a conversation store.
type Message struct {
	ID         string
	SenderID   string
	ReceiverID string
	Content    string
	CreatedAt  time.Time
	Status     Status
	Optimistic bool

	// ClientRef is the temp id of the optimistic entry this message
	// confirms, when the server echoes it back.
	ClientRef string
}

// Key returns the conversation the message belongs to.
func (m Message) Key() ConversationKey {
	return Key(m.SenderID, m.ReceiverID)
}

// wireMessage is the JSON shape used by the chat server.
type wireMessage struct {
	ID         json.RawMessage `json:"id,omitempty"`
	SenderID   json.RawMessage `json:"senderId"`
	ReceiverID json.RawMessage `json:"receiverId"`
	Content    string          `json:"content"`
	Timestamp  string          `json:"timestamp,omitempty"`
	Status     string          `json:"status,omitempty"`
	ClientRef  string          `json:"clientMessageId,omitempty"`
}

// UnmarshalJSON decodes the server representation. Numeric and string ids
// are both accepted; a missing status on an authoritative message means SENT.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*m = Message{
		ID:         rawID(w.ID),
		SenderID:   rawID(w.SenderID),
		ReceiverID: rawID(w.ReceiverID),
		Content:    w.Content,
		ClientRef:  w.ClientRef,
		Status:     StatusSent,
	}

	if w.Status != "" {
		if s, err := ParseStatus(w.Status); err == nil {
			m.Status = s
		}
	}

	if w.Timestamp != "" {
		if ts, err := parseTimestamp(w.Timestamp); err == nil {
			m.CreatedAt = ts
		}
	}

	return nil
}

// MarshalJSON encodes the message in the server representation.
func (m Message) MarshalJSON() ([]byte, error) {
	w := struct {
		ID         string `json:"id,omitempty"`
		SenderID   string `json:"senderId"`
		ReceiverID string `json:"receiverId"`
		Content    string `json:"content"`
		Timestamp  string `json:"timestamp,omitempty"`
		Status     string `json:"status,omitempty"`
		ClientRef  string `json:"clientMessageId,omitempty"`
	}{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Status:     m.Status.String(),
		ClientRef:  m.ClientRef,
	}
	if !m.CreatedAt.IsZero() {
		w.Timestamp = m.CreatedAt.Format(time.RFC3339Nano)
	}
	return json.Marshal(w)
}

// rawID normalizes a JSON id that may be a number or a string.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// timestampLayouts covers RFC3339 and the zone-less ISO form Java servers emit.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		ts, err := time.Parse(layout, s)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
