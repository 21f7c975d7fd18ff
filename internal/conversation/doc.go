// Package conversation holds the client-side state of open conversations.
//
// # Store
//
// A Store is the ordered message log of one conversation. Local sends are
// appended immediately as optimistic PENDING entries with temp ids. When the
// authoritative echo arrives through Ingest it replaces its optimistic twin:
//
//  1. If the echo carries a clientMessageId naming a live temp id, that
//     entry is replaced.
//  2. Otherwise the first optimistic entry with the same sender and content
//     is replaced, so identical rapid sends reconcile oldest first.
//  3. Otherwise the message is appended.
//
// Ids already seen are dropped, so redelivery is harmless.
//
// # Tracker
//
// Status updates arrive on their own stream. The Tracker finds the message
// in the tracked stores and advances its status; status never regresses
// (PENDING < SENT < DELIVERED < READ) and unknown ids are dropped.
//
// # View
//
// A View binds a Store to its collaborators: it loads history (discarding
// responses that arrive after the user moved on), sends with rollback and a
// transient notice on failure, and fires read receipts without waiting.
//
// # Broadcaster
//
// Broadcaster fans events out to any number of channel subscribers without
// letting a slow one block the publisher.
package conversation
