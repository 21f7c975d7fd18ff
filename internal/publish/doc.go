// Package publish is the outbound half of the broker protocol.
package publish
