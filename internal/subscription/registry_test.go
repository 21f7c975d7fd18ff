package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AryaPawar0402/chatsync/internal/auth"
	"github.com/AryaPawar0402/chatsync/internal/syncerr"
	"github.com/AryaPawar0402/chatsync/internal/transport"
)

const messagesDest = "/user/42/queue/messages"

func setup(t *testing.T) (*Registry, *transport.Connection, *transport.MemoryBroker) {
	t.Helper()
	broker := transport.NewMemoryBroker()
	conn := transport.NewConnection(transport.Options{
		Dialer:                broker,
		Credentials:           auth.Static("tok"),
		ReconnectInitialDelay: time.Millisecond,
		ReconnectMaxDelay:     5 * time.Millisecond,
	})
	t.Cleanup(conn.Disconnect)
	return New(conn, DefaultDestinations, nil, nil), conn, broker
}

func receive(t *testing.T, sub *Subscription) string {
	t.Helper()
	select {
	case body := <-sub.Frames():
		return string(body)
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return ""
	}
}

func TestSubscribe_SameKeyYieldsOneBrokerSubscription(t *testing.T) {
	r, _, broker := setup(t)
	ctx := context.Background()

	first, created, err := r.Subscribe(ctx, "42", Messages)
	require.NoError(t, err)
	assert.True(t, created)

	for i := 0; i < 5; i++ {
		again, created, err := r.Subscribe(ctx, "42", Messages)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Same(t, first, again)
	}

	assert.Equal(t, 1, broker.Subscribers(messagesDest))
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, broker.Dials(), "subscribe reuses the live connection")
}

func TestSubscribe_KindsAreIndependent(t *testing.T) {
	r, _, broker := setup(t)
	ctx := context.Background()

	_, _, err := r.Subscribe(ctx, "42", Messages)
	require.NoError(t, err)
	status, created, err := r.Subscribe(ctx, "42", Status)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "/user/42/queue/message-status", status.Destination())

	assert.True(t, r.Has("42", Messages))
	assert.True(t, r.Has("42", Status))
	assert.False(t, r.Has("7", Messages))
	assert.Equal(t, 1, broker.Subscribers("/user/42/queue/message-status"))
}

func TestSubscribe_ConnectsFirst(t *testing.T) {
	r, conn, _ := setup(t)
	assert.Equal(t, transport.StateDisconnected, conn.State())

	_, _, err := r.Subscribe(context.Background(), "42", Messages)
	require.NoError(t, err)
	assert.Equal(t, transport.StateConnected, conn.State())
}

func TestSubscribe_PropagatesAuthError(t *testing.T) {
	broker := transport.NewMemoryBroker()
	conn := transport.NewConnection(transport.Options{Dialer: broker, Credentials: auth.Static("")})
	r := New(conn, DefaultDestinations, nil, nil)

	_, _, err := r.Subscribe(context.Background(), "42", Messages)
	assert.ErrorIs(t, err, syncerr.ErrMissingCredential)
	assert.Equal(t, 0, r.Len())
}

func TestSubscribe_RejectsEmptyParticipant(t *testing.T) {
	r, _, broker := setup(t)
	_, _, err := r.Subscribe(context.Background(), "", Messages)
	assert.ErrorIs(t, err, ErrNoParticipant)
	assert.Equal(t, 0, broker.Dials())
}

func TestSubscription_DeliversFrames(t *testing.T) {
	r, _, broker := setup(t)
	sub, _, err := r.Subscribe(context.Background(), "42", Messages)
	require.NoError(t, err)

	broker.Deliver(messagesDest, []byte("one"))
	broker.Deliver(messagesDest, []byte("two"))

	assert.Equal(t, "one", receive(t, sub))
	assert.Equal(t, "two", receive(t, sub))
}

func TestSubscription_SurvivesReconnect(t *testing.T) {
	r, conn, broker := setup(t)
	sub, _, err := r.Subscribe(context.Background(), "42", Messages)
	require.NoError(t, err)

	broker.KillSessions(errors.New("heart-beat timeout"))
	require.Eventually(t, func() bool {
		return conn.State() == transport.StateConnected && broker.Subscribers(messagesDest) == 1
	}, time.Second, 5*time.Millisecond)

	broker.Deliver(messagesDest, []byte("after"))
	assert.Equal(t, "after", receive(t, sub))

	select {
	case <-sub.Done():
		t.Fatal("subscription ended across reconnect")
	default:
	}
}

func TestSubscription_CancelReleasesKey(t *testing.T) {
	r, _, broker := setup(t)
	ctx := context.Background()
	sub, _, err := r.Subscribe(ctx, "42", Messages)
	require.NoError(t, err)

	require.NoError(t, sub.Cancel())
	<-sub.Done()
	assert.False(t, r.Has("42", Messages))
	assert.Equal(t, 0, broker.Subscribers(messagesDest))

	_, created, err := r.Subscribe(ctx, "42", Messages)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestUnsubscribeAll_BestEffort(t *testing.T) {
	r, _, broker := setup(t)
	ctx := context.Background()
	msgs, _, err := r.Subscribe(ctx, "42", Messages)
	require.NoError(t, err)
	status, _, err := r.Subscribe(ctx, "42", Status)
	require.NoError(t, err)

	broker.FailUnsubscribes(errors.New("receipt timeout"))
	assert.NotPanics(t, r.UnsubscribeAll)

	assert.Equal(t, 0, r.Len())
	for _, sub := range []*Subscription{msgs, status} {
		select {
		case <-sub.Done():
		default:
			t.Fatalf("%s still open", sub.Destination())
		}
	}
}

func TestDisconnect_TearsDownSubscriptions(t *testing.T) {
	r, conn, broker := setup(t)
	sub, _, err := r.Subscribe(context.Background(), "42", Messages)
	require.NoError(t, err)

	conn.Disconnect()

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, broker.Sessions())
	<-sub.Done()
}

func TestDestinations_For(t *testing.T) {
	dest, err := DefaultDestinations.For(Status, "9")
	require.NoError(t, err)
	assert.Equal(t, "/user/9/queue/message-status", dest)

	_, err = Destinations{Messages: "/queue/all"}.For(Messages, "9")
	assert.Error(t, err)

	_, err = DefaultDestinations.For(ChannelKind(99), "9")
	assert.Error(t, err)
}
