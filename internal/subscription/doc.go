// Package subscription keeps at most one broker subscription per
// (participant, channel kind) and turns each into a cancellable stream that
// survives reconnects.
package subscription
