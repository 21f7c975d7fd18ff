// Package client is the UI-facing facade of the sync engine.
//
// A Client owns one broker Connection, its subscription Registry and the
// REST collaborators, and routes inbound frames:
//
//   - messages go to every SubscribeToMessages stream, to the open
//     conversation view when they belong to it, and otherwise trigger an
//     unread refresh; messages addressed to the user are acknowledged as
//     delivered, best-effort
//   - status updates go to every SubscribeToStatus stream and to the
//     status tracker
//
// Every operation reports failure as an error value. Connection trouble is
// visible through ConnectionState and WatchConnection; auth errors are
// returned unchanged.
package client
