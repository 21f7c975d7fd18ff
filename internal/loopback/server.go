// ABOUTME: In-process stand-in for the chat server: broker echo, history, receipts and unread counts
// ABOUTME: Backs the CLI loopback mode and end-to-end tests of the client facade

package loopback

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/AryaPawar0402/chatsync/internal/message"
	"github.com/AryaPawar0402/chatsync/internal/publish"
	"github.com/AryaPawar0402/chatsync/internal/subscription"
	"github.com/AryaPawar0402/chatsync/internal/transport"
)

// Server persists messages in memory and answers like the real chat server.
type Server struct {
	broker *transport.MemoryBroker
	dests  subscription.Destinations
	send   string
	logger *slog.Logger

	mu       sync.Mutex
	nextID   int
	messages []message.Message
	replies  map[string]func(string) string
}

// New installs a server on broker. send is the destination outbound
// messages are published to.
func New(broker *transport.MemoryBroker, dests subscription.Destinations, send string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if send == "" {
		send = publish.DefaultDestination
	}
	s := &Server{
		broker:  broker,
		dests:   dests,
		send:    send,
		logger:  logger.With("component", "loopback"),
		nextID:  1,
		replies: make(map[string]func(string) string),
	}
	broker.OnPublish(s.onPublish)
	return s
}

// AutoReply makes user answer every message sent to them with reply(content).
func (s *Server) AutoReply(user string, reply func(string) string) {
	s.mu.Lock()
	s.replies[user] = reply
	s.mu.Unlock()
}

// Seed stores a message as if it had been sent earlier.
func (s *Server) Seed(sender, receiver, content string) message.Message {
	s.mu.Lock()
	m := s.storeLocked(sender, receiver, content, "")
	s.mu.Unlock()
	return m
}

func (s *Server) onPublish(f transport.Frame) {
	if f.Destination != s.send {
		return
	}
	var out publish.Outbound
	if err := json.Unmarshal(f.Body, &out); err != nil {
		s.logger.Warn("ignoring malformed publish", "error", err)
		return
	}

	s.mu.Lock()
	m := s.storeLocked(out.SenderID, out.ReceiverID, out.Content, out.ClientRef)
	reply := s.replies[out.ReceiverID]
	s.mu.Unlock()

	s.deliver(m)
	if reply != nil {
		go func() {
			s.mu.Lock()
			r := s.storeLocked(out.ReceiverID, out.SenderID, reply(out.Content), "")
			s.mu.Unlock()
			s.deliver(r)
		}()
	}
}

func (s *Server) storeLocked(sender, receiver, content, clientRef string) message.Message {
	m := message.Message{
		ID:         strconv.Itoa(s.nextID),
		SenderID:   sender,
		ReceiverID: receiver,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
		Status:     message.StatusSent,
		ClientRef:  clientRef,
	}
	s.nextID++
	s.messages = append(s.messages, m)
	return m
}

func (s *Server) deliver(m message.Message) {
	body, err := json.Marshal(m)
	if err != nil {
		s.logger.Error("encode message", "error", err)
		return
	}
	for _, user := range []string{m.ReceiverID, m.SenderID} {
		if dest, err := s.dests.For(subscription.Messages, user); err == nil {
			s.broker.Deliver(dest, body)
		}
	}
}

func (s *Server) pushStatus(m message.Message) {
	body, err := json.Marshal(map[string]string{
		"messageId":  m.ID,
		"status":     m.Status.String(),
		"senderId":   m.SenderID,
		"receiverId": m.ReceiverID,
	})
	if err != nil {
		return
	}
	if dest, err := s.dests.For(subscription.Status, m.SenderID); err == nil {
		s.broker.Deliver(dest, body)
	}
}

// advance raises matching messages to status and notifies their senders.
func (s *Server) advance(match func(message.Message) bool, status message.Status) {
	s.mu.Lock()
	var changed []message.Message
	for i := range s.messages {
		if match(s.messages[i]) && status.After(s.messages[i].Status) {
			s.messages[i].Status = status
			changed = append(changed, s.messages[i])
		}
	}
	s.mu.Unlock()

	for _, m := range changed {
		s.pushStatus(m)
	}
}

// FetchHistory implements the history endpoint.
func (s *Server) FetchHistory(ctx context.Context, userA, userB string) ([]message.Message, error) {
	key := message.Key(userA, userB)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []message.Message
	for _, m := range s.messages {
		if m.Key() == key {
			out = append(out, m)
		}
	}
	return out, nil
}

// MarkAsRead implements the read receipt endpoint.
func (s *Server) MarkAsRead(ctx context.Context, senderID, receiverID string) error {
	s.advance(func(m message.Message) bool {
		return m.SenderID == senderID && m.ReceiverID == receiverID
	}, message.StatusRead)
	return nil
}

// MarkDelivered implements the delivery receipt endpoint.
func (s *Server) MarkDelivered(ctx context.Context, messageID, receiverID string) error {
	s.advance(func(m message.Message) bool {
		return m.ID == messageID && m.ReceiverID == receiverID
	}, message.StatusDelivered)
	return nil
}

// FetchUnreadCount implements the unread count endpoint.
func (s *Server) FetchUnreadCount(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.ReceiverID == userID && m.Status != message.StatusRead {
			n++
		}
	}
	return n, nil
}

// DebugStatus implements the debug endpoint.
func (s *Server) DebugStatus(ctx context.Context) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"server":   "loopback",
		"messages": len(s.messages),
		"sessions": s.broker.Sessions(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	}, nil
}
