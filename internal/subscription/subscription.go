// ABOUTME: Cancellable stream of raw frames for one (participant, channel kind) key
// ABOUTME: The stream outlives individual broker sessions; Done closes only on cancel or teardown

package subscription

import (
	"sync"

	"github.com/AryaPawar0402/chatsync/internal/transport"
)

// Subscription is a persistent stream of frame bodies. Frames is never
// closed; select on Done to notice the end of the stream.
type Subscription struct {
	registry *Registry
	key      key
	dest     string

	frames chan []byte
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	stream transport.Stream
}

func newSubscription(r *Registry, k key, dest string) *Subscription {
	return &Subscription{
		registry: r,
		key:      k,
		dest:     dest,
		frames:   make(chan []byte, frameBufferSize),
		done:     make(chan struct{}),
	}
}

// Participant returns the participant this subscription belongs to.
func (s *Subscription) Participant() string { return s.key.participant }

// Kind returns the channel kind.
func (s *Subscription) Kind() ChannelKind { return s.key.kind }

// Destination returns the broker destination.
func (s *Subscription) Destination() string { return s.dest }

// Frames yields raw frame bodies in arrival order.
func (s *Subscription) Frames() <-chan []byte { return s.frames }

// Done is closed once the subscription has been cancelled or torn down.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Cancel removes the subscription from its registry and releases the broker
// subscription.
func (s *Subscription) Cancel() error {
	s.registry.remove(s)
	return s.release()
}

func (s *Subscription) release() error {
	s.once.Do(func() { close(s.done) })
	if stream := s.swap(nil); stream != nil {
		return stream.Unsubscribe()
	}
	return nil
}

func (s *Subscription) swap(next transport.Stream) transport.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.stream
	s.stream = next
	return prev
}

func (s *Subscription) bind(stream transport.Stream) {
	s.swap(stream)
	go s.pump(stream)
}

// pump forwards one broker stream until it ends or the subscription is done.
func (s *Subscription) pump(stream transport.Stream) {
	for {
		select {
		case f, ok := <-stream.Frames():
			if !ok {
				return
			}
			select {
			case s.frames <- f.Body:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}
