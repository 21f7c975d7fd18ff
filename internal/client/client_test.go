package client

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AryaPawar0402/chatsync/internal/auth"
	"github.com/AryaPawar0402/chatsync/internal/config"
	"github.com/AryaPawar0402/chatsync/internal/conversation"
	"github.com/AryaPawar0402/chatsync/internal/loopback"
	"github.com/AryaPawar0402/chatsync/internal/message"
	"github.com/AryaPawar0402/chatsync/internal/subscription"
	"github.com/AryaPawar0402/chatsync/internal/syncerr"
	"github.com/AryaPawar0402/chatsync/internal/transport"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type harness struct {
	broker *transport.MemoryBroker
	server *loopback.Server
	cfg    *config.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Broker.URL = "memory://test"
	cfg.Broker.ConnectTimeout = time.Second
	cfg.Broker.ReconnectInitialDelay = 10 * time.Millisecond
	cfg.Broker.ReconnectMaxDelay = 50 * time.Millisecond
	cfg.Unread.OpenGraceDelay = 10 * time.Millisecond
	cfg.Unread.RefreshInterval = time.Hour

	broker := transport.NewMemoryBroker()
	server := loopback.New(broker, subscription.DefaultDestinations, cfg.Broker.Destinations.Send, quietLogger())
	return &harness{broker: broker, server: server, cfg: cfg}
}

func (h *harness) client(t *testing.T) *Client {
	t.Helper()
	c, err := New(h.cfg, Options{
		Credentials: auth.Static("test-token"),
		Dialer:      h.broker,
		API:         h.server,
		Logger:      quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenConversationLoadsHistoryAndSubscribes(t *testing.T) {
	h := newHarness(t)
	h.server.Seed("bob", "alice", "hello")
	h.server.Seed("alice", "bob", "hi bob")
	h.server.Seed("carol", "alice", "not this one")
	c := h.client(t)

	v, err := c.OpenConversation(t.Context(), "alice", "bob")
	require.NoError(t, err)

	msgs := v.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "hi bob", msgs[1].Content)

	state, _ := v.LoadState()
	assert.Equal(t, conversation.LoadReady, state)
	assert.Equal(t, transport.StateConnected, c.ConnectionState())
	assert.Equal(t, 1, h.broker.Subscribers("/user/alice/queue/messages"))
	assert.Equal(t, 1, h.broker.Subscribers("/user/alice/queue/message-status"))
	assert.Same(t, v, c.ActiveConversation())
}

func TestOpeningConversationMarksCounterpartMessagesRead(t *testing.T) {
	h := newHarness(t)
	h.server.Seed("bob", "alice", "one")
	h.server.Seed("bob", "alice", "two")
	h.cfg.Unread.OpenGraceDelay = time.Hour
	c := h.client(t)

	n, err := c.GetUnreadCount(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = c.OpenConversation(t.Context(), "alice", "bob")
	require.NoError(t, err)

	assert.Equal(t, 0, c.Unread("alice").Badge())
	assert.Eventually(t, func() bool {
		n, _ := h.server.FetchUnreadCount(context.Background(), "alice")
		return n == 0
	}, waitFor, tick)
}

func TestSendReconcilesWithServerEcho(t *testing.T) {
	h := newHarness(t)
	c := h.client(t)

	v, err := c.OpenConversation(t.Context(), "alice", "bob")
	require.NoError(t, err)

	sent, err := c.SendMessage(t.Context(), "alice", "bob", "  see you at noon ")
	require.NoError(t, err)
	assert.True(t, message.IsTempID(sent.ID))
	assert.Equal(t, "see you at noon", sent.Content)

	require.Eventually(t, func() bool {
		msgs := v.Messages()
		return len(msgs) == 1 && !msgs[0].Optimistic
	}, waitFor, tick)

	got := v.Messages()[0]
	assert.False(t, message.IsTempID(got.ID))
	assert.Equal(t, "see you at noon", got.Content)
	assert.Equal(t, message.StatusSent, got.Status)
}

func TestSendWithoutOpenConversationPublishesDirectly(t *testing.T) {
	h := newHarness(t)
	c := h.client(t)
	require.NoError(t, c.Connect(t.Context()))

	_, err := c.SendMessage(t.Context(), "alice", "bob", "ping")
	require.NoError(t, err)

	history, err := c.LoadHistory(t.Context(), "alice", "bob")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "ping", history[0].Content)
}

func TestSendValidatesContent(t *testing.T) {
	h := newHarness(t)
	h.cfg.UI.MaxContent = 5
	c := h.client(t)

	_, err := c.SendMessage(t.Context(), "alice", "bob", "   ")
	assert.ErrorIs(t, err, conversation.ErrEmptyContent)

	_, err = c.SendMessage(t.Context(), "alice", "bob", "too long")
	assert.ErrorIs(t, err, conversation.ErrContentTooLong)
	assert.Empty(t, h.broker.Published())
}

func TestSendWhileDisconnectedFailsWithoutConnection(t *testing.T) {
	h := newHarness(t)
	h.broker.FailDials(assert.AnError)
	c := h.client(t)

	_, err := c.SendMessage(t.Context(), "alice", "bob", "hello")
	require.Error(t, err)
	assert.True(t, syncerr.IsCategory(err, syncerr.KindNotConnected))
}

func TestReadReceiptUpdatesSenderView(t *testing.T) {
	h := newHarness(t)
	alice := h.client(t)

	v, err := alice.OpenConversation(t.Context(), "alice", "bob")
	require.NoError(t, err)
	_, err = alice.SendMessage(t.Context(), "alice", "bob", "read me")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs := v.Messages()
		return len(msgs) == 1 && !msgs[0].Optimistic
	}, waitFor, tick)

	require.NoError(t, h.server.MarkAsRead(t.Context(), "alice", "bob"))

	assert.Eventually(t, func() bool {
		return v.Messages()[0].Status == message.StatusRead
	}, waitFor, tick)
}

func TestInboundMessageIsMarkedDelivered(t *testing.T) {
	h := newHarness(t)
	alice := h.client(t)
	bob := h.client(t)

	ctx := t.Context()
	aliceMsgs, err := alice.SubscribeToMessages(ctx, "alice")
	require.NoError(t, err)
	bobStatus, err := bob.SubscribeToStatus(ctx, "bob")
	require.NoError(t, err)

	_, err = bob.SendMessage(ctx, "bob", "alice", "are you there?")
	require.NoError(t, err)

	select {
	case m := <-aliceMsgs:
		assert.Equal(t, "are you there?", m.Content)
		assert.Equal(t, "bob", m.SenderID)
	case <-time.After(waitFor):
		t.Fatal("alice never received the message")
	}

	select {
	case u := <-bobStatus:
		assert.Equal(t, message.StatusDelivered, u.Status)
	case <-time.After(waitFor):
		t.Fatal("bob never saw the delivery receipt")
	}
}

func TestMessageOutsideOpenConversationRefreshesBadge(t *testing.T) {
	h := newHarness(t)
	h.cfg.Unread.OpenGraceDelay = time.Hour
	alice := h.client(t)
	carol := h.client(t)

	v, err := alice.OpenConversation(t.Context(), "alice", "bob")
	require.NoError(t, err)
	alice.CloseConversation(v)
	require.NoError(t, carol.Connect(t.Context()))

	_, err = carol.SendMessage(t.Context(), "carol", "alice", "psst")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return alice.Unread("alice").Badge() == 1
	}, waitFor, tick)
	assert.Empty(t, v.Messages())
}

func TestOpeningAnotherConversationReplacesActiveView(t *testing.T) {
	h := newHarness(t)
	h.server.Seed("carol", "alice", "from carol")
	c := h.client(t)

	first, err := c.OpenConversation(t.Context(), "alice", "bob")
	require.NoError(t, err)
	second, err := c.OpenConversation(t.Context(), "alice", "carol")
	require.NoError(t, err)

	assert.False(t, first.Active())
	assert.True(t, second.Active())
	assert.Len(t, second.Messages(), 1)
	// Routing is shared, so no duplicate subscriptions.
	assert.Equal(t, 1, h.broker.Subscribers("/user/alice/queue/messages"))
}

func TestDisconnectReleasesSubscriptions(t *testing.T) {
	h := newHarness(t)
	c := h.client(t)

	_, err := c.OpenConversation(t.Context(), "alice", "bob")
	require.NoError(t, err)
	require.Equal(t, 1, h.broker.Subscribers("/user/alice/queue/messages"))

	c.Disconnect()

	assert.Equal(t, transport.StateDisconnected, c.ConnectionState())
	assert.Equal(t, 0, h.broker.Subscribers("/user/alice/queue/messages"))
	assert.Equal(t, 0, h.broker.Subscribers("/user/alice/queue/message-status"))
}

func TestSubscriptionsSurviveReconnect(t *testing.T) {
	h := newHarness(t)
	c := h.client(t)

	ctx := t.Context()
	msgs, err := c.SubscribeToMessages(ctx, "alice")
	require.NoError(t, err)

	h.broker.KillSessions(assert.AnError)
	require.Eventually(t, func() bool {
		return c.ConnectionState() == transport.StateConnected &&
			h.broker.Subscribers("/user/alice/queue/messages") == 1
	}, waitFor, tick)

	h.broker.Deliver("/user/alice/queue/messages", []byte(`{"id":"99","senderId":"bob","receiverId":"alice","content":"after reconnect"}`))

	select {
	case m := <-msgs:
		assert.Equal(t, "99", m.ID)
	case <-time.After(waitFor):
		t.Fatal("no message after reconnect")
	}
}

func TestDebugStatusAndNewWithMemoryURL(t *testing.T) {
	h := newHarness(t)
	c := h.client(t)

	status, err := c.DebugStatus(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "loopback", status["server"])

	standalone, err := New(h.cfg, Options{Credentials: auth.Static("t"), API: h.server, Logger: quietLogger()})
	require.NoError(t, err)
	defer standalone.Close()
	require.NoError(t, standalone.Connect(t.Context()))
	assert.Equal(t, transport.StateConnected, standalone.ConnectionState())
}

func TestOpenConversationRequiresParticipants(t *testing.T) {
	c := newHarness(t).client(t)
	_, err := c.OpenConversation(t.Context(), "alice", "")
	assert.Error(t, err)
}
