// ABOUTME: In-process broker implementing Dialer for tests and the CLI loopback mode
// ABOUTME: Exposes knobs to fail, hold or kill sessions and records every publish

package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/AryaPawar0402/chatsync/internal/auth"
)

const memoryStreamBuffer = 256

// ErrSessionClosed is returned by operations on a closed memory session.
var ErrSessionClosed = errors.New("session closed")

// MemoryBroker is a topic-style broker living in process memory. Every
// session subscribed to a destination receives frames delivered to it.
type MemoryBroker struct {
	mu         sync.Mutex
	sessions   map[*memorySession]struct{}
	dials      int
	creds      []auth.Credential
	dialErr    error
	hold       chan struct{}
	publishErr error
	unsubErr   error
	published  []Frame
	onPublish  func(Frame)
}

// NewMemoryBroker returns an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{sessions: make(map[*memorySession]struct{})}
}

// FailDials makes subsequent dials fail with err. Pass nil to restore.
func (b *MemoryBroker) FailDials(err error) {
	b.mu.Lock()
	b.dialErr = err
	b.mu.Unlock()
}

// Hold makes subsequent dials wait, unacknowledged, until Release or until
// the dial context ends.
func (b *MemoryBroker) Hold() {
	b.mu.Lock()
	if b.hold == nil {
		b.hold = make(chan struct{})
	}
	b.mu.Unlock()
}

// Release lets held dials complete.
func (b *MemoryBroker) Release() {
	b.mu.Lock()
	if b.hold != nil {
		close(b.hold)
		b.hold = nil
	}
	b.mu.Unlock()
}

// FailPublishes makes Send fail with err. Pass nil to restore.
func (b *MemoryBroker) FailPublishes(err error) {
	b.mu.Lock()
	b.publishErr = err
	b.mu.Unlock()
}

// FailUnsubscribes makes Unsubscribe fail with err. Pass nil to restore.
func (b *MemoryBroker) FailUnsubscribes(err error) {
	b.mu.Lock()
	b.unsubErr = err
	b.mu.Unlock()
}

// OnPublish installs fn to observe every accepted publish. fn runs without
// the broker lock held and may call Deliver.
func (b *MemoryBroker) OnPublish(fn func(Frame)) {
	b.mu.Lock()
	b.onPublish = fn
	b.mu.Unlock()
}

// Dial implements Dialer.
func (b *MemoryBroker) Dial(ctx context.Context, cred auth.Credential) (Session, error) {
	b.mu.Lock()
	b.dials++
	b.creds = append(b.creds, cred)
	hold := b.hold
	dialErr := b.dialErr
	b.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if dialErr != nil {
		return nil, dialErr
	}

	s := &memorySession{
		broker:  b,
		streams: make(map[*memoryStream]struct{}),
		done:    make(chan struct{}),
	}
	b.mu.Lock()
	b.sessions[s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

// Dials reports how many times Dial was called.
func (b *MemoryBroker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// LastCredential returns the credential of the latest dial.
func (b *MemoryBroker) LastCredential() (auth.Credential, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.creds) == 0 {
		return auth.Credential{}, false
	}
	return b.creds[len(b.creds)-1], true
}

// Sessions reports the number of open sessions.
func (b *MemoryBroker) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Subscribers reports the number of live streams on destination.
func (b *MemoryBroker) Subscribers(destination string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for s := range b.sessions {
		for st := range s.streams {
			if st.destination == destination {
				n++
			}
		}
	}
	return n
}

// Published returns a copy of every accepted publish.
func (b *MemoryBroker) Published() []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Frame(nil), b.published...)
}

// Deliver pushes body to every stream subscribed to destination and returns
// how many received it. Full streams drop the frame.
func (b *MemoryBroker) Deliver(destination string, body []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for s := range b.sessions {
		for st := range s.streams {
			if st.destination != destination {
				continue
			}
			select {
			case st.frames <- Frame{Destination: destination, Body: body}:
				n++
			default:
			}
		}
	}
	return n
}

// KillSessions drops every open session as if the network failed.
func (b *MemoryBroker) KillSessions(cause error) {
	b.mu.Lock()
	sessions := make([]*memorySession, 0, len(b.sessions))
	for s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	for _, s := range sessions {
		s.shutdown(cause)
	}
}

type memorySession struct {
	broker  *MemoryBroker
	streams map[*memoryStream]struct{}

	once sync.Once
	done chan struct{}
	err  error
}

func (s *memorySession) Subscribe(destination string) (Stream, error) {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[s]; !ok {
		return nil, ErrSessionClosed
	}
	st := &memoryStream{
		session:     s,
		destination: destination,
		frames:      make(chan Frame, memoryStreamBuffer),
	}
	s.streams[st] = struct{}{}
	return st, nil
}

func (s *memorySession) Send(destination string, body []byte) error {
	b := s.broker
	b.mu.Lock()
	if _, ok := b.sessions[s]; !ok {
		b.mu.Unlock()
		return ErrSessionClosed
	}
	if b.publishErr != nil {
		err := b.publishErr
		b.mu.Unlock()
		return err
	}
	f := Frame{Destination: destination, Body: append([]byte(nil), body...)}
	b.published = append(b.published, f)
	hook := b.onPublish
	b.mu.Unlock()

	if hook != nil {
		hook(f)
	}
	return nil
}

func (s *memorySession) Done() <-chan struct{} { return s.done }

func (s *memorySession) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *memorySession) Close() error {
	s.shutdown(ErrSessionClosed)
	return nil
}

func (s *memorySession) shutdown(cause error) {
	s.once.Do(func() {
		b := s.broker
		b.mu.Lock()
		delete(b.sessions, s)
		for st := range s.streams {
			delete(s.streams, st)
			close(st.frames)
		}
		s.err = cause
		b.mu.Unlock()
		close(s.done)
	})
}

type memoryStream struct {
	session     *memorySession
	destination string
	frames      chan Frame
}

func (st *memoryStream) Frames() <-chan Frame { return st.frames }

func (st *memoryStream) Unsubscribe() error {
	b := st.session.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unsubErr != nil {
		return b.unsubErr
	}
	if _, ok := st.session.streams[st]; !ok {
		return ErrSessionClosed
	}
	delete(st.session.streams, st)
	close(st.frames)
	return nil
}
