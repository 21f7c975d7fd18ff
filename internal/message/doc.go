// Package message defines the chat message model shared by every layer of
// the sync engine.
//
// # Messages
//
// A Message is either authoritative (created by the server, carries the
// server id) or optimistic (created locally on send, carries a temp id from
// NewTempID). Temp ids live in their own namespace and are never reused as
// real ids:
//
//	msg := message.Message{ID: message.NewTempID(), Optimistic: true}
//	message.IsTempID(msg.ID) // true
//
// # Status
//
// Status values are ordered PENDING < SENT < DELIVERED < READ. Transitions
// only move forward; use Status.After to decide whether an update applies.
//
// # Conversation keys
//
// A ConversationKey is the unordered pair of participants. Key("a", "b") and
// Key("b", "a") are equal and usable as map keys.
package message
