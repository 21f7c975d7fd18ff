// Package loopback simulates the chat server in process, on top of a
// transport.MemoryBroker, so the client can run without a backend.
package loopback
