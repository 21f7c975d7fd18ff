package loopback

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AryaPawar0402/chatsync/internal/auth"
	"github.com/AryaPawar0402/chatsync/internal/message"
	"github.com/AryaPawar0402/chatsync/internal/publish"
	"github.com/AryaPawar0402/chatsync/internal/subscription"
	"github.com/AryaPawar0402/chatsync/internal/transport"
)

func newServer(t *testing.T) (*Server, *transport.MemoryBroker) {
	t.Helper()
	broker := transport.NewMemoryBroker()
	return New(broker, subscription.DefaultDestinations, "", slog.New(slog.NewTextHandler(io.Discard, nil))), broker
}

func authless() auth.Credential {
	return auth.Credential{Token: "loopback"}
}

func TestHistoryIsScopedToConversation(t *testing.T) {
	s, _ := newServer(t)
	s.Seed("alice", "bob", "one")
	s.Seed("bob", "alice", "two")
	s.Seed("alice", "carol", "other")

	msgs, err := s.FetchHistory(t.Context(), "bob", "alice")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "1", msgs[0].ID)
	assert.Equal(t, "2", msgs[1].ID)
}

func TestReceiptsAdvanceStatusAndUnread(t *testing.T) {
	s, _ := newServer(t)
	m := s.Seed("bob", "alice", "hey")
	s.Seed("bob", "alice", "again")

	n, err := s.FetchUnreadCount(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.MarkDelivered(t.Context(), m.ID, "alice"))
	msgs, _ := s.FetchHistory(t.Context(), "alice", "bob")
	assert.Equal(t, message.StatusDelivered, msgs[0].Status)

	require.NoError(t, s.MarkAsRead(t.Context(), "bob", "alice"))
	n, _ = s.FetchUnreadCount(t.Context(), "alice")
	assert.Equal(t, 0, n)

	// Status never moves backwards.
	require.NoError(t, s.MarkDelivered(t.Context(), m.ID, "alice"))
	msgs, _ = s.FetchHistory(t.Context(), "alice", "bob")
	assert.Equal(t, message.StatusRead, msgs[0].Status)
}

func TestPublishIsEchoedWithClientRef(t *testing.T) {
	s, broker := newServer(t)
	s.AutoReply("bob", func(in string) string { return "echo: " + in })

	session, err := broker.Dial(t.Context(), authless())
	require.NoError(t, err)
	defer session.Close()
	stream, err := session.Subscribe("/user/alice/queue/messages")
	require.NoError(t, err)

	body, err := json.Marshal(publish.Outbound{SenderID: "alice", ReceiverID: "bob", Content: "hi", ClientRef: "temp-1"})
	require.NoError(t, err)
	require.NoError(t, session.Send(publish.DefaultDestination, body))

	var first message.Message
	require.NoError(t, json.Unmarshal((<-stream.Frames()).Body, &first))
	assert.Equal(t, "1", first.ID)
	assert.Equal(t, "temp-1", first.ClientRef)
	assert.Equal(t, message.StatusSent, first.Status)

	var reply message.Message
	require.NoError(t, json.Unmarshal((<-stream.Frames()).Body, &reply))
	assert.Equal(t, "bob", reply.SenderID)
	assert.Equal(t, "echo: hi", reply.Content)
}

func TestMalformedPublishIsIgnored(t *testing.T) {
	s, broker := newServer(t)
	session, err := broker.Dial(t.Context(), authless())
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, session.Send(publish.DefaultDestination, []byte("{not json")))
	require.NoError(t, session.Send("/app/elsewhere", []byte(`{"senderId":"a","receiverId":"b","content":"x"}`)))

	status, err := s.DebugStatus(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, status["messages"])
}
