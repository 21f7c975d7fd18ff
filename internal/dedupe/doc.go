// Package dedupe provides the bounded seen-id set used to drop redelivered messages.
package dedupe
