// ABOUTME: Broker connection state machine with coalesced connect attempts and a connect timeout
// ABOUTME: Lost sessions are re-established with exponential backoff; hooks let subscribers rebind

package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/AryaPawar0402/chatsync/internal/auth"
	"github.com/AryaPawar0402/chatsync/internal/metrics"
	"github.com/AryaPawar0402/chatsync/internal/syncerr"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultConnectTimeout        = 10 * time.Second
	DefaultReconnectInitialDelay = time.Second
	DefaultReconnectMaxDelay     = 30 * time.Second
	DefaultReconnectMaxAttempts  = 5
)

// ErrDisconnected is the cause attached to a pending attempt failed by Disconnect.
var ErrDisconnected = errors.New("disconnected while connecting")

// Frame is one inbound broker message.
type Frame struct {
	Destination string
	Body        []byte
}

// Stream is a live broker subscription. Frames is closed when the
// subscription ends, either through Unsubscribe or because the session died.
type Stream interface {
	Frames() <-chan Frame
	Unsubscribe() error
}

// Session is one established broker session.
type Session interface {
	Subscribe(destination string) (Stream, error)
	Send(destination string, body []byte) error
	// Done is closed when the session is lost or closed.
	Done() <-chan struct{}
	// Err reports why Done was closed.
	Err() error
	Close() error
}

// Dialer opens broker sessions. Dial must return once the broker has
// acknowledged the session, or fail.
type Dialer interface {
	Dial(ctx context.Context, cred auth.Credential) (Session, error)
}

// Options configures a Connection.
type Options struct {
	Dialer      Dialer
	Credentials auth.Provider

	ConnectTimeout        time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	// ReconnectMaxAttempts bounds each reconnect run. Negative disables
	// automatic reconnection.
	ReconnectMaxAttempts int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// attempt is one in-flight connect, shared by every caller that arrives
// while it is pending.
type attempt struct {
	done   chan struct{}
	err    error
	cancel context.CancelFunc
	timer  *time.Timer
}

// Connection owns at most one live Session and the state machine around it.
type Connection struct {
	dialer     Dialer
	creds      auth.Provider
	timeout    time.Duration
	initDelay  time.Duration
	maxDelay   time.Duration
	maxRetries int

	logger  *slog.Logger
	metrics *metrics.Metrics

	mu            sync.Mutex
	state         State
	session       Session
	pending       *attempt
	lost          bool
	stopReconnect context.CancelFunc
	onReconnect   []func()
	onTeardown    []func()
	watchers      map[string]chan State
}

// NewConnection creates a disconnected Connection.
func NewConnection(opts Options) *Connection {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		dialer:     opts.Dialer,
		creds:      opts.Credentials,
		timeout:    opts.ConnectTimeout,
		initDelay:  opts.ReconnectInitialDelay,
		maxDelay:   opts.ReconnectMaxDelay,
		maxRetries: opts.ReconnectMaxAttempts,
		logger:     logger.With("component", "transport"),
		metrics:    opts.Metrics,
		state:      StateDisconnected,
		watchers:   make(map[string]chan State),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultConnectTimeout
	}
	if c.initDelay <= 0 {
		c.initDelay = DefaultReconnectInitialDelay
	}
	if c.maxDelay <= 0 {
		c.maxDelay = DefaultReconnectMaxDelay
	}
	if c.maxRetries == 0 {
		c.maxRetries = DefaultReconnectMaxAttempts
	}
	return c
}

// State returns the current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnReconnect registers fn to run after a lost session has been replaced.
// Hooks run before the reconnecting attempt resolves and must not call Connect.
func (c *Connection) OnReconnect(fn func()) {
	c.mu.Lock()
	c.onReconnect = append(c.onReconnect, fn)
	c.mu.Unlock()
}

// OnTeardown registers fn to run during Disconnect, before the session closes.
func (c *Connection) OnTeardown(fn func()) {
	c.mu.Lock()
	c.onTeardown = append(c.onTeardown, fn)
	c.mu.Unlock()
}

// Connect establishes the session, or joins the attempt already in flight.
// It returns nil at once when already connected. Cancelling ctx abandons the
// wait but not the shared attempt.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	a := c.pending
	if a == nil {
		if c.state == StateErrored {
			c.setStateLocked(StateDisconnected)
		}
		a = c.beginLocked()
	}
	c.mu.Unlock()

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// beginLocked starts a fresh attempt. Caller holds c.mu.
func (c *Connection) beginLocked() *attempt {
	dialCtx, cancel := context.WithCancel(context.Background())
	a := &attempt{done: make(chan struct{}), cancel: cancel}
	a.timer = time.AfterFunc(c.timeout, func() {
		c.resolve(a, nil, syncerr.New(syncerr.KindTimeout, "connect", nil))
	})
	c.pending = a
	c.setStateLocked(StateConnecting)

	go c.dial(dialCtx, a)
	return a
}

func (c *Connection) dial(ctx context.Context, a *attempt) {
	cred, err := auth.Resolve(ctx, c.creds, "connect")
	if err != nil {
		c.resolve(a, nil, err)
		return
	}
	if c.dialer == nil {
		c.resolve(a, nil, syncerr.New(syncerr.KindTransportFailure, "connect", errors.New("no dialer configured")))
		return
	}

	session, err := c.dialer.Dial(ctx, cred)
	if err != nil {
		if syncerr.KindOf(err) == 0 {
			err = syncerr.New(syncerr.KindTransportFailure, "connect", err)
		}
		c.resolve(a, nil, err)
		return
	}
	c.resolve(a, session, nil)
}

// resolve settles a. The first resolution wins; a session arriving for an
// attempt that already timed out or was abandoned is closed.
func (c *Connection) resolve(a *attempt, session Session, err error) {
	c.mu.Lock()
	if c.pending != a {
		c.mu.Unlock()
		if session != nil {
			c.logger.Debug("closing session from abandoned attempt")
			_ = session.Close()
		}
		return
	}
	c.pending = nil
	a.timer.Stop()

	if err != nil {
		a.cancel()
		a.err = err
		c.setStateLocked(StateErrored)
		c.mu.Unlock()

		c.metrics.ConnectAttempt(syncerr.KindOf(err).String())
		c.logger.Warn("connect attempt failed", "error", err)
		close(a.done)
		return
	}

	c.session = session
	c.setStateLocked(StateConnected)
	rebind := c.lost
	c.lost = false
	var hooks []func()
	if rebind {
		hooks = append(hooks, c.onReconnect...)
	}
	c.mu.Unlock()

	c.metrics.ConnectAttempt("ok")
	c.logger.Info("connected")
	go c.watch(session)

	if rebind {
		c.metrics.Reconnected()
		for _, fn := range hooks {
			fn()
		}
	}
	close(a.done)
}

// watch waits for session loss and kicks off reconnection.
func (c *Connection) watch(session Session) {
	<-session.Done()

	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.lost = true
	c.setStateLocked(StateErrored)
	c.logger.Warn("session lost", "error", session.Err())

	if c.maxRetries < 0 {
		c.mu.Unlock()
		return
	}
	if c.stopReconnect != nil {
		c.stopReconnect()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.stopReconnect = cancel
	c.mu.Unlock()

	go c.reconnect(ctx)
}

func (c *Connection) reconnect(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initDelay
	b.MaxInterval = c.maxDelay
	b.MaxElapsedTime = 0

	op := func() error {
		err := c.Connect(ctx)
		if err != nil && (syncerr.IsFatal(err) || ctx.Err() != nil) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		c.logger.Info("reconnect attempt failed", "error", err, "retry_in", next)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx), notify)
	if err != nil && ctx.Err() == nil {
		c.logger.Error("giving up on reconnect", "error", err)
	}
}

// Disconnect tears everything down and leaves the Connection DISCONNECTED.
// It is safe to call in any state and any number of times. A pending
// attempt fails with a TransportFailure.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.stopReconnect != nil {
		c.stopReconnect()
		c.stopReconnect = nil
	}
	a := c.pending
	c.pending = nil
	session := c.session
	c.session = nil
	c.lost = false
	teardown := append([]func(){}, c.onTeardown...)
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	for _, fn := range teardown {
		fn()
	}
	if session != nil {
		if err := session.Close(); err != nil {
			c.logger.Debug("session close failed", "error", err)
		}
	}
	if a != nil {
		a.timer.Stop()
		a.cancel()
		a.err = syncerr.New(syncerr.KindTransportFailure, "connect", ErrDisconnected)
		close(a.done)
	}
}

// Subscribe opens a broker subscription on the live session.
func (c *Connection) Subscribe(destination string) (Stream, error) {
	session := c.current()
	if session == nil {
		return nil, syncerr.New(syncerr.KindNotConnected, "subscribe", nil)
	}
	stream, err := session.Subscribe(destination)
	if err != nil {
		return nil, syncerr.New(syncerr.KindTransportFailure, "subscribe "+destination, err)
	}
	return stream, nil
}

// Send publishes body to destination on the live session.
func (c *Connection) Send(destination string, body []byte) error {
	session := c.current()
	if session == nil {
		return syncerr.New(syncerr.KindNotConnected, "send", nil)
	}
	if err := session.Send(destination, body); err != nil {
		return syncerr.New(syncerr.KindPublishFailed, "send "+destination, err)
	}
	return nil
}

func (c *Connection) current() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}
