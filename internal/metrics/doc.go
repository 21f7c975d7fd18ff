// Package metrics exposes Prometheus collectors for connection health,
// reconciliation and the unread badge. Components accept a *Metrics that may
// be nil.
package metrics
