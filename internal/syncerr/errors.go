// ABOUTME: Error taxonomy for the sync engine: connection, auth, send, fetch and best-effort kinds
// ABOUTME: Sentinels match by kind through errors.Is; categories drive propagation policy

package syncerr

import (
	"errors"
	"fmt"
)

// Category groups error kinds by how they propagate.
type Category int

const (
	// CategoryConnection errors are absorbed by reconnection and shown as state only.
	CategoryConnection Category = iota + 1
	// CategoryAuth errors are fatal for the session and never retried.
	CategoryAuth
	// CategorySend errors roll back the optimistic entry.
	CategorySend
	// CategoryFetch errors leave a retryable state or degrade the badge.
	CategoryFetch
	// CategoryBestEffort errors are logged and never propagated.
	CategoryBestEffort
)

func (c Category) String() string {
	switch c {
	case CategoryConnection:
		return "connection"
	case CategoryAuth:
		return "auth"
	case CategorySend:
		return "send"
	case CategoryFetch:
		return "fetch"
	case CategoryBestEffort:
		return "best_effort"
	}
	return "unknown"
}

// Kind is a specific failure within a category.
type Kind int

const (
	KindTimeout Kind = iota + 1
	KindTransportFailure
	KindMissingCredential
	KindRejected
	KindPublishFailed
	KindNotConnected
	KindHistoryUnavailable
	KindCountUnavailable
	KindReadReceiptFailed
	KindDeliveryReceiptFailed
)

var kindInfo = map[Kind]struct {
	name     string
	category Category
}{
	KindTimeout:               {"timeout", CategoryConnection},
	KindTransportFailure:      {"transport failure", CategoryConnection},
	KindMissingCredential:     {"missing credential", CategoryAuth},
	KindRejected:              {"credential rejected", CategoryAuth},
	KindPublishFailed:         {"publish failed", CategorySend},
	KindNotConnected:          {"not connected", CategorySend},
	KindHistoryUnavailable:    {"history unavailable", CategoryFetch},
	KindCountUnavailable:      {"unread count unavailable", CategoryFetch},
	KindReadReceiptFailed:     {"read receipt failed", CategoryBestEffort},
	KindDeliveryReceiptFailed: {"delivery receipt failed", CategoryBestEffort},
}

func (k Kind) String() string {
	if info, ok := kindInfo[k]; ok {
		return info.name
	}
	return "unknown"
}

// Category returns the category the kind belongs to.
func (k Kind) Category() Category {
	return kindInfo[k].category
}

// Error is a classified sync engine failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Sentinels for errors.Is matching. Only the Kind is compared.
var (
	ErrTimeout               = &Error{Kind: KindTimeout}
	ErrTransportFailure      = &Error{Kind: KindTransportFailure}
	ErrMissingCredential     = &Error{Kind: KindMissingCredential}
	ErrRejected              = &Error{Kind: KindRejected}
	ErrPublishFailed         = &Error{Kind: KindPublishFailed}
	ErrNotConnected          = &Error{Kind: KindNotConnected}
	ErrHistoryUnavailable    = &Error{Kind: KindHistoryUnavailable}
	ErrCountUnavailable      = &Error{Kind: KindCountUnavailable}
	ErrReadReceiptFailed     = &Error{Kind: KindReadReceiptFailed}
	ErrDeliveryReceiptFailed = &Error{Kind: KindDeliveryReceiptFailed}
)

// New builds a classified error for op wrapping cause (which may be nil).
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

func (e *Error) Error() string {
	msg := e.Kind.Category().String() + " error: " + e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the kind from err, or 0 when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsCategory reports whether err is classified under c.
func IsCategory(err error, c Category) bool {
	k := KindOf(err)
	return k != 0 && k.Category() == c
}

// IsFatal reports whether err must end the session (auth failures).
func IsFatal(err error) bool {
	return IsCategory(err, CategoryAuth)
}
