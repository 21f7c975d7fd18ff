// ABOUTME: Registry of live broker subscriptions keyed by participant and channel kind
// ABOUTME: Subscriptions are rebound after reconnect and released best-effort on teardown

package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/AryaPawar0402/chatsync/internal/metrics"
	"github.com/AryaPawar0402/chatsync/internal/transport"
)

// frameBufferSize is the per-subscription buffer between broker and consumer.
const frameBufferSize = 64

// ErrNoParticipant is returned when Subscribe is called without a participant id.
var ErrNoParticipant = errors.New("participant id is required")

// ChannelKind selects one of a participant's private channels.
type ChannelKind int

const (
	Messages ChannelKind = iota + 1
	Status
)

func (k ChannelKind) String() string {
	switch k {
	case Messages:
		return "messages"
	case Status:
		return "status"
	}
	return "unknown"
}

// Destinations holds the per-user destination templates. Each contains a
// single %s for the participant id.
type Destinations struct {
	Messages string
	Status   string
}

// DefaultDestinations are the broker's per-user queues.
var DefaultDestinations = Destinations{
	Messages: "/user/%s/queue/messages",
	Status:   "/user/%s/queue/message-status",
}

// For renders the destination of kind for participant.
func (d Destinations) For(kind ChannelKind, participant string) (string, error) {
	var tmpl string
	switch kind {
	case Messages:
		tmpl = d.Messages
	case Status:
		tmpl = d.Status
	default:
		return "", fmt.Errorf("unknown channel kind %d", kind)
	}
	if strings.Count(tmpl, "%s") != 1 {
		return "", fmt.Errorf("destination template %q for %s needs one %%s", tmpl, kind)
	}
	return fmt.Sprintf(tmpl, participant), nil
}

type key struct {
	participant string
	kind        ChannelKind
}

// Registry maps (participant, kind) to a live Subscription.
type Registry struct {
	conn    *transport.Connection
	dests   Destinations
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	subs map[key]*Subscription
}

// New creates a registry bound to conn. The registry rebinds its
// subscriptions whenever conn reconnects and releases them when conn
// disconnects.
func New(conn *transport.Connection, dests Destinations, logger *slog.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		conn:    conn,
		dests:   dests,
		logger:  logger.With("component", "subscriptions"),
		metrics: m,
		subs:    make(map[key]*Subscription),
	}
	conn.OnReconnect(r.rebind)
	conn.OnTeardown(r.UnsubscribeAll)
	return r
}

// Subscribe ensures the connection is up, then returns the subscription for
// (participant, kind), creating it only when none exists. created reports
// whether a new broker subscription was made.
func (r *Registry) Subscribe(ctx context.Context, participant string, kind ChannelKind) (sub *Subscription, created bool, err error) {
	if participant == "" {
		return nil, false, ErrNoParticipant
	}
	dest, err := r.dests.For(kind, participant)
	if err != nil {
		return nil, false, err
	}
	if err := r.conn.Connect(ctx); err != nil {
		return nil, false, err
	}

	k := key{participant: participant, kind: kind}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.subs[k]; ok {
		return existing, false, nil
	}

	stream, err := r.conn.Subscribe(dest)
	if err != nil {
		return nil, false, err
	}
	sub = newSubscription(r, k, dest)
	sub.bind(stream)
	r.subs[k] = sub
	r.metrics.SetSubscriptions(len(r.subs))

	r.logger.Info("subscribed", "participant", participant, "kind", kind, "destination", dest)
	return sub, true, nil
}

// Has reports whether a subscription exists for (participant, kind).
func (r *Registry) Has(participant string, kind ChannelKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[key{participant: participant, kind: kind}]
	return ok
}

// Len returns the number of registered subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// UnsubscribeAll releases every subscription. Release failures are logged
// and never stop the remaining releases.
func (r *Registry) UnsubscribeAll() {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[key]*Subscription)
	r.metrics.SetSubscriptions(0)
	r.mu.Unlock()

	var result *multierror.Error
	for _, sub := range subs {
		if err := sub.release(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", sub.dest, err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		r.logger.Warn("some subscriptions failed to release", "failed", len(result.Errors), "total", len(subs), "error", err)
		return
	}
	if len(subs) > 0 {
		r.logger.Debug("released all subscriptions", "count", len(subs))
	}
}

// rebind moves every subscription onto the current session.
func (r *Registry) rebind() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range r.subs {
		if old := sub.swap(nil); old != nil {
			_ = old.Unsubscribe()
		}
		stream, err := r.conn.Subscribe(sub.dest)
		if err != nil {
			r.logger.Warn("resubscribe failed", "destination", sub.dest, "error", err)
			continue
		}
		sub.bind(stream)
	}
	r.logger.Info("subscriptions rebound", "count", len(r.subs))
}

func (r *Registry) remove(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs[sub.key] == sub {
		delete(r.subs, sub.key)
		r.metrics.SetSubscriptions(len(r.subs))
	}
}
