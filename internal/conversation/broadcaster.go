// ABOUTME: In-memory fan-out broadcaster delivering decoded inbound events to UI consumers
// ABOUTME: Generic over the event type; one instance each for messages and status updates

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Broadcaster provides in-memory pub/sub keyed by topic (a participant id).
// Subscribers receive events published after they subscribed; slow
// subscribers lose events rather than stall the publisher.
type Broadcaster[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan T // topic -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster[T any](logger *slog.Logger) *Broadcaster[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster[T]{
		subscribers: make(map[string]map[string]chan T),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for topic. The returned channel is closed
// when ctx is cancelled, on Unsubscribe, or on Close.
func (b *Broadcaster[T]) Subscribe(ctx context.Context, topic string) (<-chan T, string) {
	subID := uuid.New().String()
	ch := make(chan T, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[string]chan T)
	}
	b.subscribers[topic][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "topic", topic, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(topic, subID)
	}()

	return ch, subID
}

// Publish sends event to every subscriber of topic without blocking.
func (b *Broadcaster[T]) Publish(topic string, event T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers[topic] {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber", "topic", topic, "sub_id", id)
		}
	}
}

// Subscribers returns the number of subscribers on topic.
func (b *Broadcaster[T]) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster[T]) Unsubscribe(topic, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[topic]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, topic)
	}

	b.logger.Debug("subscriber removed", "topic", topic, "sub_id", subID)
}

// Close closes all subscriber channels.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, topic)
	}
	b.logger.Debug("broadcaster closed")
}
