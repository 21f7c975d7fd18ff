// Package transport owns the persistent broker session.
//
// A Connection drives the DISCONNECTED/CONNECTING/CONNECTED/ERRORED state
// machine: concurrent Connect calls share one in-flight attempt, a timeout
// bounds CONNECTING, and a lost session is re-established with exponential
// backoff. The wire is pluggable through Dialer: StompDialer speaks STOMP 1.2
// over WebSocket or TCP, MemoryBroker is an in-process broker for tests and
// loopback demos.
package transport
