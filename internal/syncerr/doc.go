// Package syncerr classifies sync engine failures.
//
// Every error that crosses a component boundary is a *syncerr.Error with a
// Kind. Kinds belong to one of five categories, each with its own policy:
//
//   - Connection (Timeout, TransportFailure): absorbed by reconnection, shown
//     to the UI only as connection state.
//   - Auth (MissingCredential, Rejected): fatal for the session, returned
//     unmodified, never retried.
//   - Send (PublishFailed, NotConnected): the optimistic entry is rolled back
//     and a transient notice is shown.
//   - Fetch (HistoryUnavailable, CountUnavailable): history loads become
//     retryable; count refreshes degrade the badge to zero.
//   - BestEffort (ReadReceiptFailed, DeliveryReceiptFailed): logged only.
//
// Match with errors.Is against the package sentinels:
//
//	if errors.Is(err, syncerr.ErrTimeout) { ... }
package syncerr
