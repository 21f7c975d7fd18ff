// ABOUTME: Change events emitted by stores and views for UI rendering

package conversation

import "github.com/AryaPawar0402/chatsync/internal/message"

// EventType classifies an Event.
type EventType int

const (
	EventAppended EventType = iota + 1
	EventReconciled
	EventStatus
	EventRemoved
	EventHistory
	EventNotice
	EventLoadFailed
)

func (t EventType) String() string {
	switch t {
	case EventAppended:
		return "appended"
	case EventReconciled:
		return "reconciled"
	case EventStatus:
		return "status"
	case EventRemoved:
		return "removed"
	case EventHistory:
		return "history"
	case EventNotice:
		return "notice"
	case EventLoadFailed:
		return "load_failed"
	}
	return "unknown"
}

// Event describes one change to a conversation.
type Event struct {
	Type     EventType
	Message  message.Message
	// Replaced is the temp id superseded by a reconciled message.
	Replaced string
	Notice   Notice
	Err      error
}
