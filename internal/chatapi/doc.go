// Package chatapi is the bearer-authenticated REST client for the chat
// server's history, receipt, unread-count and status endpoints.
//
// Every call resolves the credential first; a missing one fails with
// AuthError(MissingCredential) before any request is made. Transient
// failures (network errors, 429, 5xx) are retried with capped exponential
// delay, honouring Retry-After. 401 and 403 map to AuthError(Rejected).
package chatapi
