package publish

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

func newPublisher(t *testing.T, creds auth.Provider) (*Publisher, *transport.MemoryBroker) {
	t.Helper()
	broker := transport.NewMemoryBroker()
	conn := transport.NewConnection(transport.Options{
		Dialer:         broker,
		Credentials:    creds,
		ConnectTimeout: 100 * time.Millisecond,
	})
	t.Cleanup(conn.Disconnect)
	return New(conn, "", nil), broker
}

func TestPublish_EncodesWireFormat(t *testing.T) {
	p, broker := newPublisher(t, auth.Static("tok"))

	err := p.Publish(context.Background(), Outbound{SenderID: "1", ReceiverID: "2", Content: "hi", ClientRef: "temp-abc"})
	require.NoError(t, err)

	published := broker.Published()
	require.Len(t, published, 1)
	assert.Equal(t, DefaultDestination, published[0].Destination)
	assert.JSONEq(t, `{"senderId":"1","receiverId":"2","content":"hi","clientMessageId":"temp-abc"}`, string(published[0].Body))
}

func TestPublish_OmitsEmptyClientRef(t *testing.T) {
	p, broker := newPublisher(t, auth.Static("tok"))
	require.NoError(t, p.Publish(context.Background(), Outbound{SenderID: "1", ReceiverID: "2", Content: "hi"}))
	assert.JSONEq(t, `{"senderId":"1","receiverId":"2","content":"hi"}`, string(broker.Published()[0].Body))
}

func TestPublish_Errors(t *testing.T) {
	t.Run("unreachable broker is NotConnected", func(t *testing.T) {
		p, broker := newPublisher(t, auth.Static("tok"))
		broker.FailDials(errors.New("refused"))
		err := p.Publish(context.Background(), Outbound{SenderID: "1", ReceiverID: "2", Content: "hi"})
		assert.ErrorIs(t, err, syncerr.ErrNotConnected)
		assert.True(t, syncerr.IsCategory(err, syncerr.CategorySend))
	})

	t.Run("write failure is PublishFailed", func(t *testing.T) {
		p, broker := newPublisher(t, auth.Static("tok"))
		broker.FailPublishes(errors.New("broken pipe"))
		err := p.Publish(context.Background(), Outbound{SenderID: "1", ReceiverID: "2", Content: "hi"})
		assert.ErrorIs(t, err, syncerr.ErrPublishFailed)
	})

	t.Run("missing credential stays an auth error", func(t *testing.T) {
		p, broker := newPublisher(t, auth.Static(""))
		err := p.Publish(context.Background(), Outbound{SenderID: "1", ReceiverID: "2", Content: "hi"})
		assert.ErrorIs(t, err, syncerr.ErrMissingCredential)
		assert.Equal(t, 0, broker.Dials())
	})
}
