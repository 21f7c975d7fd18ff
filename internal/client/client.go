// ABOUTME: Facade wiring transport, subscriptions, publisher, REST API, views and unread counters
// ABOUTME: Decodes broker frames and routes them to streams, the open view and the status tracker

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/AryaPawar0402/chatsync/internal/auth"
	"github.com/AryaPawar0402/chatsync/internal/chatapi"
	"github.com/AryaPawar0402/chatsync/internal/config"
	"github.com/AryaPawar0402/chatsync/internal/conversation"
	"github.com/AryaPawar0402/chatsync/internal/message"
	"github.com/AryaPawar0402/chatsync/internal/metrics"
	"github.com/AryaPawar0402/chatsync/internal/publish"
	"github.com/AryaPawar0402/chatsync/internal/subscription"
	"github.com/AryaPawar0402/chatsync/internal/syncerr"
	"github.com/AryaPawar0402/chatsync/internal/transport"
	"github.com/AryaPawar0402/chatsync/internal/unread"
)

// receiptTimeout bounds best-effort receipt calls.
const receiptTimeout = 10 * time.Second

// API is the set of REST collaborators the client uses. *chatapi.Client
// implements it.
type API interface {
	conversation.HistoryFetcher
	conversation.ReadMarker
	unread.CountFetcher
	MarkDelivered(ctx context.Context, messageID, receiverID string) error
	DebugStatus(ctx context.Context) (map[string]any, error)
}

// Options carries collaborators. Nil fields are built from the config.
type Options struct {
	Credentials auth.Provider
	Dialer      transport.Dialer
	API         API
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Client is the sync engine as seen by a UI.
type Client struct {
	cfg       *config.Config
	conn      *transport.Connection
	registry  *subscription.Registry
	publisher *publish.Publisher
	api       API
	tracker   *conversation.Tracker
	messages  *conversation.Broadcaster[message.Message]
	statuses  *conversation.Broadcaster[message.StatusUpdate]
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu       sync.Mutex
	active   *conversation.View
	counters map[string]*unread.Counter
}

// New builds a client from cfg. It does not connect.
func New(cfg *config.Config, opts Options) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dialer := opts.Dialer
	if dialer == nil {
		d, err := dialerFor(cfg, logger)
		if err != nil {
			return nil, err
		}
		dialer = d
	}

	api := opts.API
	if api == nil {
		api = chatapi.New(chatapi.Options{
			BaseURL:     cfg.API.BaseURL,
			Credentials: opts.Credentials,
			Timeout:     cfg.API.Timeout,
			MaxRetries:  cfg.API.MaxRetries,
			Logger:      logger,
		})
	}

	conn := transport.NewConnection(transport.Options{
		Dialer:                dialer,
		Credentials:           opts.Credentials,
		ConnectTimeout:        cfg.Broker.ConnectTimeout,
		ReconnectInitialDelay: cfg.Broker.ReconnectInitialDelay,
		ReconnectMaxDelay:     cfg.Broker.ReconnectMaxDelay,
		ReconnectMaxAttempts:  cfg.Broker.ReconnectMaxAttempts,
		Logger:                logger,
		Metrics:               opts.Metrics,
	})
	dests := subscription.Destinations{
		Messages: cfg.Broker.Destinations.Messages,
		Status:   cfg.Broker.Destinations.Status,
	}

	return &Client{
		cfg:       cfg,
		conn:      conn,
		registry:  subscription.New(conn, dests, logger, opts.Metrics),
		publisher: publish.New(conn, cfg.Broker.Destinations.Send, logger),
		api:       api,
		tracker:   conversation.NewTracker(opts.Metrics),
		messages:  conversation.NewBroadcaster[message.Message](logger),
		statuses:  conversation.NewBroadcaster[message.StatusUpdate](logger),
		logger:    logger.With("component", "client"),
		metrics:   opts.Metrics,
		counters:  make(map[string]*unread.Counter),
	}, nil
}

func dialerFor(cfg *config.Config, logger *slog.Logger) (transport.Dialer, error) {
	u, err := url.Parse(cfg.Broker.URL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	if u.Scheme == "memory" {
		return transport.NewMemoryBroker(), nil
	}
	return &transport.StompDialer{
		URL:               cfg.Broker.URL,
		HeartbeatOutgoing: cfg.Broker.HeartbeatOutgoing,
		HeartbeatIncoming: cfg.Broker.HeartbeatIncoming,
		Logger:            logger,
	}, nil
}

// Connect establishes the broker session.
func (c *Client) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

// Disconnect releases every subscription and closes the broker session.
func (c *Client) Disconnect() {
	c.conn.Disconnect()
}

// Close disconnects, closes the open view and stops all streams.
func (c *Client) Close() {
	c.CloseConversation(c.ActiveConversation())

	c.mu.Lock()
	counters := c.counters
	c.counters = make(map[string]*unread.Counter)
	c.mu.Unlock()

	c.conn.Disconnect()
	for _, counter := range counters {
		counter.Stop()
	}
	c.messages.Close()
	c.statuses.Close()
}

// ConnectionState returns the broker connection state.
func (c *Client) ConnectionState() transport.State {
	return c.conn.State()
}

// WatchConnection streams connection state changes. The channel is closed
// once ctx is done.
func (c *Client) WatchConnection(ctx context.Context) <-chan transport.State {
	return c.conn.WatchState(ctx)
}

// SubscribeToMessages streams messages arriving on userID's private
// channel until ctx is done.
func (c *Client) SubscribeToMessages(ctx context.Context, userID string) (<-chan message.Message, error) {
	if err := c.ensureRouting(ctx, userID, subscription.Messages); err != nil {
		return nil, err
	}
	ch, _ := c.messages.Subscribe(ctx, userID)
	return ch, nil
}

// SubscribeToStatus streams status updates for userID until ctx is done.
func (c *Client) SubscribeToStatus(ctx context.Context, userID string) (<-chan message.StatusUpdate, error) {
	if err := c.ensureRouting(ctx, userID, subscription.Status); err != nil {
		return nil, err
	}
	ch, _ := c.statuses.Subscribe(ctx, userID)
	return ch, nil
}

// ensureRouting subscribes (participant, kind) and starts its router the
// first time the subscription is created.
func (c *Client) ensureRouting(ctx context.Context, userID string, kind subscription.ChannelKind) error {
	sub, created, err := c.registry.Subscribe(ctx, userID, kind)
	if err != nil {
		return err
	}
	if created {
		switch kind {
		case subscription.Messages:
			go c.routeMessages(userID, sub)
		case subscription.Status:
			go c.routeStatus(userID, sub)
		}
	}
	return nil
}

func (c *Client) routeMessages(self string, sub *subscription.Subscription) {
	for {
		select {
		case body := <-sub.Frames():
			var m message.Message
			if err := json.Unmarshal(body, &m); err != nil {
				c.logger.Warn("dropping undecodable message frame", "destination", sub.Destination(), "error", err)
				continue
			}
			c.dispatchMessage(self, m)
		case <-sub.Done():
			return
		}
	}
}

func (c *Client) dispatchMessage(self string, m message.Message) {
	c.messages.Publish(self, m)

	if m.ReceiverID == self && m.ID != "" {
		go c.markDelivered(m.ID, self)
	}

	c.mu.Lock()
	v := c.active
	counter := c.counters[self]
	c.mu.Unlock()

	if v != nil && v.Key() == m.Key() {
		v.Ingest(m)
		return
	}
	if counter != nil && m.ReceiverID == self {
		go counter.Refresh(context.Background())
	}
}

func (c *Client) routeStatus(self string, sub *subscription.Subscription) {
	for {
		select {
		case body := <-sub.Frames():
			var u message.StatusUpdate
			if err := json.Unmarshal(body, &u); err != nil {
				c.logger.Warn("dropping undecodable status frame", "destination", sub.Destination(), "error", err)
				continue
			}
			c.statuses.Publish(self, u)
			outcome := c.tracker.Apply(u)
			c.logger.Debug("status update", "message_id", u.MessageID, "status", u.Status, "outcome", outcome)
		case <-sub.Done():
			return
		}
	}
}

func (c *Client) markDelivered(messageID, receiverID string) {
	ctx, cancel := context.WithTimeout(context.Background(), receiptTimeout)
	defer cancel()
	if err := c.api.MarkDelivered(ctx, messageID, receiverID); err != nil {
		c.metrics.BestEffortFailed(syncerr.KindDeliveryReceiptFailed.String())
		c.logger.Warn("mark delivered failed", "message_id", messageID, "error", err)
	}
}

// SendMessage sends content from sender to receiver. When the conversation
// is open the send goes through its view, with optimistic append and
// rollback; otherwise it is published directly.
func (c *Client) SendMessage(ctx context.Context, senderID, receiverID, content string) (message.Message, error) {
	c.mu.Lock()
	v := c.active
	c.mu.Unlock()
	if v != nil && v.Key() == message.Key(senderID, receiverID) && v.Store().Self() == senderID {
		return v.Send(ctx, content)
	}

	text := strings.TrimSpace(content)
	if text == "" {
		return message.Message{}, conversation.ErrEmptyContent
	}
	if utf8.RuneCountInString(text) > c.maxContent() {
		return message.Message{}, conversation.ErrContentTooLong
	}
	m := message.Message{
		ID:         message.NewTempID(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    text,
		CreatedAt:  time.Now(),
		Status:     message.StatusPending,
		Optimistic: true,
	}
	err := c.publisher.Publish(ctx, publish.Outbound{SenderID: senderID, ReceiverID: receiverID, Content: text, ClientRef: m.ID})
	return m, err
}

func (c *Client) maxContent() int {
	if c.cfg.UI.MaxContent > 0 {
		return c.cfg.UI.MaxContent
	}
	return conversation.DefaultMaxContent
}

// LoadHistory fetches the conversation between userA and userB.
func (c *Client) LoadHistory(ctx context.Context, userA, userB string) ([]message.Message, error) {
	return c.api.FetchHistory(ctx, userA, userB)
}

// MarkAsRead tells the server receiverID has read senderID's messages.
// Failures are logged and never returned.
func (c *Client) MarkAsRead(ctx context.Context, senderID, receiverID string) {
	if err := c.api.MarkAsRead(ctx, senderID, receiverID); err != nil {
		c.metrics.BestEffortFailed(syncerr.KindReadReceiptFailed.String())
		c.logger.Warn("mark as read failed", "sender", senderID, "receiver", receiverID, "error", err)
	}
}

// GetUnreadCount refreshes and returns userID's unread count. On failure
// the badge shows zero and the FetchError is returned.
func (c *Client) GetUnreadCount(ctx context.Context, userID string) (int, error) {
	return c.Unread(userID).Refresh(ctx)
}

// DebugStatus probes the server's status endpoint.
func (c *Client) DebugStatus(ctx context.Context) (map[string]any, error) {
	return c.api.DebugStatus(ctx)
}

// Unread returns userID's badge counter, creating it on first use.
func (c *Client) Unread(userID string) *unread.Counter {
	c.mu.Lock()
	defer c.mu.Unlock()
	counter, ok := c.counters[userID]
	if !ok {
		counter = unread.New(unread.Options{
			UserID:          userID,
			Fetcher:         c.api,
			RefreshInterval: c.cfg.Unread.RefreshInterval,
			GraceDelay:      c.cfg.Unread.OpenGraceDelay,
			Logger:          c.logger,
			Metrics:         c.metrics,
		})
		c.counters[userID] = counter
	}
	return counter
}

// ActiveConversation returns the open view, if any.
func (c *Client) ActiveConversation() *conversation.View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Client) isActive(key message.ConversationKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil && c.active.Key() == key
}

// OpenConversation makes the conversation of self with counterpart the
// active one. The badge is zeroed at once, history is loaded and the live
// channels are subscribed. A history failure is returned alongside the
// view, which stays usable and can Load again. Connection problems only
// show in ConnectionState; auth errors are returned.
func (c *Client) OpenConversation(ctx context.Context, self, counterpart string) (*conversation.View, error) {
	if self == "" || counterpart == "" {
		return nil, errors.New("both participants are required")
	}

	v := conversation.NewView(self, counterpart, conversation.ViewOptions{
		History:    c.api,
		Reads:      c.api,
		Publisher:  c.publisher,
		IsActive:   c.isActive,
		NoticeTTL:  c.cfg.UI.NoticeTTL,
		MaxContent: c.cfg.UI.MaxContent,
		Logger:     c.logger,
		Metrics:    c.metrics,
	})

	c.mu.Lock()
	prev := c.active
	c.active = v
	c.mu.Unlock()
	if prev != nil {
		c.tracker.Untrack(prev.Store())
		prev.Close()
	}
	c.tracker.Track(v.Store())
	c.Unread(self).MarkOpenedOptimistically()

	loadErr := v.Load(ctx)
	if syncerr.IsFatal(loadErr) {
		return v, loadErr
	}

	for _, kind := range []subscription.ChannelKind{subscription.Messages, subscription.Status} {
		if err := c.ensureRouting(ctx, self, kind); err != nil {
			if syncerr.IsFatal(err) {
				return v, err
			}
			c.logger.Warn("live updates unavailable", "kind", kind, "error", err)
		}
	}

	if loadErr != nil && !errors.Is(loadErr, conversation.ErrStaleView) {
		return v, loadErr
	}
	return v, nil
}

// CloseConversation closes v. Subscriptions and the connection stay up for
// the next conversation; the badge resumes periodic refresh.
func (c *Client) CloseConversation(v *conversation.View) {
	if v == nil {
		return
	}
	c.mu.Lock()
	wasActive := c.active == v
	if wasActive {
		c.active = nil
	}
	c.mu.Unlock()

	c.tracker.Untrack(v.Store())
	v.Close()
	if wasActive {
		c.Unread(v.Store().Self()).SetOpen(false)
	}
}
