// ABOUTME: Monotonic delivery status ordering for chat messages
// ABOUTME: Status updates arrive on their own stream and may be out of order

package message

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the delivery state of a message. Values are ordered.
type Status int

const (
	StatusPending Status = iota
	StatusSent
	StatusDelivered
	StatusRead
)

var statusNames = map[Status]string{
	StatusPending:   "PENDING",
	StatusSent:      "SENT",
	StatusDelivered: "DELIVERED",
	StatusRead:      "READ",
}

// ParseStatus converts a wire status name (case-insensitive).
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PENDING":
		return StatusPending, nil
	case "SENT":
		return StatusSent, nil
	case "DELIVERED":
		return StatusDelivered, nil
	case "READ":
		return StatusRead, nil
	}
	return StatusPending, fmt.Errorf("unknown message status %q", s)
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// After reports whether s is strictly later than other.
func (s Status) After(other Status) bool {
	return s > other
}

// StatusUpdate is an event from the status stream.
type StatusUpdate struct {
	MessageID  string
	Status     Status
	SenderID   string
	ReceiverID string
}

// HasKey reports whether the update names both participants.
func (u StatusUpdate) HasKey() bool {
	return u.SenderID != "" && u.ReceiverID != ""
}

// Key returns the conversation named by the update, if any.
func (u StatusUpdate) Key() ConversationKey {
	return Key(u.SenderID, u.ReceiverID)
}

// UnmarshalJSON decodes {messageId, status, senderId?, receiverId?}.
func (u *StatusUpdate) UnmarshalJSON(data []byte) error {
	var w struct {
		MessageID  json.RawMessage `json:"messageId"`
		ID         json.RawMessage `json:"id"`
		Status     string          `json:"status"`
		SenderID   json.RawMessage `json:"senderId"`
		ReceiverID json.RawMessage `json:"receiverId"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	id := rawID(w.MessageID)
	if id == "" {
		id = rawID(w.ID)
	}
	if id == "" {
		return fmt.Errorf("status update without message id")
	}

	status, err := ParseStatus(w.Status)
	if err != nil {
		return err
	}

	*u = StatusUpdate{
		MessageID:  id,
		Status:     status,
		SenderID:   rawID(w.SenderID),
		ReceiverID: rawID(w.ReceiverID),
	}
	return nil
}
