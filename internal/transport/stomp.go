// ABOUTME: Production Dialer speaking STOMP 1.2 over WebSocket (ws/wss) or plain TCP (tcp/stomp)
// ABOUTME: The bearer token rides on the upgrade request and the CONNECT frame; heart-beats keep the session honest

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"nhooyr.io/websocket"

	"github.com/AryaPawar0402/chatsync/internal/auth"
	"github.com/AryaPawar0402/chatsync/internal/syncerr"
)

const (
	// maxFrameSize caps a single inbound WebSocket message.
	maxFrameSize = 1 << 20

	// disconnectGrace bounds the wait for the broker's DISCONNECT receipt.
	disconnectGrace = 2 * time.Second

	contentTypeJSON = "application/json"
)

// StompDialer dials a STOMP broker.
type StompDialer struct {
	URL               string
	HeartbeatOutgoing time.Duration
	HeartbeatIncoming time.Duration
	Logger            *slog.Logger
}

// Dial implements Dialer.
func (d *StompDialer) Dial(ctx context.Context, cred auth.Credential) (Session, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, syncerr.New(syncerr.KindTransportFailure, "dial", fmt.Errorf("parse broker url: %w", err))
	}

	var conn *watchedConn
	switch u.Scheme {
	case "ws", "wss":
		ws, resp, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{
			HTTPHeader:   http.Header{"Authorization": []string{cred.Header()}},
			Subprotocols: []string{"v12.stomp", "v11.stomp", "v10.stomp"},
		})
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return nil, syncerr.New(syncerr.KindRejected, "dial", err)
			}
			return nil, syncerr.New(syncerr.KindTransportFailure, "dial", err)
		}
		ws.SetReadLimit(maxFrameSize)
		// The net.Conn outlives the dial context; it ends when the session closes.
		connCtx, cancel := context.WithCancel(context.Background())
		conn = newWatchedConn(websocket.NetConn(connCtx, ws, websocket.MessageText), cancel)
	case "tcp", "stomp":
		var nd net.Dialer
		nc, err := nd.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, syncerr.New(syncerr.KindTransportFailure, "dial", err)
		}
		conn = newWatchedConn(nc, func() {})
	default:
		return nil, syncerr.New(syncerr.KindTransportFailure, "dial", fmt.Errorf("unsupported broker scheme %q", u.Scheme))
	}

	// Abort the STOMP handshake if ctx ends before CONNECTED arrives.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	sc, err := stomp.Connect(conn,
		stomp.ConnOpt.Host(u.Hostname()),
		stomp.ConnOpt.HeartBeat(d.HeartbeatOutgoing, d.HeartbeatIncoming),
		stomp.ConnOpt.Header("Authorization", cred.Header()),
	)
	if !stop() {
		if err == nil {
			_ = sc.MustDisconnect()
		}
		return nil, syncerr.New(syncerr.KindTransportFailure, "dial", ctx.Err())
	}
	if err != nil {
		_ = conn.Close()
		if isAuthRefusal(err) {
			return nil, syncerr.New(syncerr.KindRejected, "dial", err)
		}
		return nil, syncerr.New(syncerr.KindTransportFailure, "dial", err)
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &stompSession{
		conn:   sc,
		wire:   conn,
		logger: logger.With("component", "stomp", "broker", u.Host),
	}, nil
}

// isAuthRefusal recognises brokers answering CONNECT with an ERROR frame
// about credentials. STOMP has no status codes, so this goes by message text.
func isAuthRefusal(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"unauthorized", "forbidden", "access denied", "login failed", "invalid token", "401", "403"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

type stompSession struct {
	conn   *stomp.Conn
	wire   *watchedConn
	logger *slog.Logger
}

func (s *stompSession) Subscribe(destination string) (Stream, error) {
	sub, err := s.conn.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return nil, err
	}
	st := &stompStream{
		sub:    sub,
		frames: make(chan Frame, memoryStreamBuffer),
		stop:   make(chan struct{}),
	}
	go st.pump(s.logger)
	return st, nil
}

func (s *stompSession) Send(destination string, body []byte) error {
	return s.conn.Send(destination, contentTypeJSON, body)
}

func (s *stompSession) Done() <-chan struct{} { return s.wire.done }

func (s *stompSession) Err() error { return s.wire.Err() }

func (s *stompSession) Close() error {
	result := make(chan error, 1)
	go func() { result <- s.conn.Disconnect() }()

	var err error
	select {
	case err = <-result:
	case <-time.After(disconnectGrace):
		err = s.conn.MustDisconnect()
	}
	_ = s.wire.Close()
	if errors.Is(err, stomp.ErrAlreadyClosed) {
		return nil
	}
	return err
}

type stompStream struct {
	sub    *stomp.Subscription
	frames chan Frame
	stop   chan struct{}
	once   sync.Once
}

func (st *stompStream) pump(logger *slog.Logger) {
	defer close(st.frames)
	for msg := range st.sub.C {
		if msg.Err != nil {
			logger.Debug("subscription ended", "destination", st.sub.Destination(), "error", msg.Err)
			return
		}
		select {
		case st.frames <- Frame{Destination: msg.Destination, Body: msg.Body}:
		case <-st.stop:
			return
		}
	}
}

func (st *stompStream) Frames() <-chan Frame { return st.frames }

func (st *stompStream) Unsubscribe() error {
	st.once.Do(func() { close(st.stop) })
	return st.sub.Unsubscribe()
}

// watchedConn closes done on the first read or write failure, so a dead
// socket is noticed even while nobody is subscribed.
type watchedConn struct {
	net.Conn
	cancel context.CancelFunc

	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func newWatchedConn(c net.Conn, cancel context.CancelFunc) *watchedConn {
	return &watchedConn{Conn: c, cancel: cancel, done: make(chan struct{})}
}

func (c *watchedConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if err != nil {
		c.fail(err)
	}
	return n, err
}

func (c *watchedConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if err != nil {
		c.fail(err)
	}
	return n, err
}

func (c *watchedConn) Close() error {
	c.fail(net.ErrClosed)
	err := c.Conn.Close()
	c.cancel()
	return err
}

func (c *watchedConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *watchedConn) fail(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}
