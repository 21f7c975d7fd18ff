// ABOUTME: Serializes outbound chat messages and publishes them to the broker's send destination
// ABOUTME: The optimistic temp id travels as clientMessageId so the echo can be correlated exactly

package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/AryaPawar0402/chatsync/internal/syncerr"
	"github.com/AryaPawar0402/chatsync/internal/transport"
)

// DefaultDestination is the broker's shared send endpoint.
const DefaultDestination = "/app/sendMessage"

// Outbound is a message on its way to the broker.
type Outbound struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	ClientRef  string `json:"clientMessageId,omitempty"`
}

// Publisher sends Outbound messages through a Connection.
type Publisher struct {
	conn        *transport.Connection
	destination string
	logger      *slog.Logger
}

// New creates a publisher. An empty destination means DefaultDestination.
func New(conn *transport.Connection, destination string, logger *slog.Logger) *Publisher {
	if destination == "" {
		destination = DefaultDestination
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:        conn,
		destination: destination,
		logger:      logger.With("component", "publisher"),
	}
}

// Publish connects if needed and sends msg. Connection problems surface as
// SendError(NotConnected), broker write failures as SendError(PublishFailed);
// auth errors pass through unchanged.
func (p *Publisher) Publish(ctx context.Context, msg Outbound) error {
	if err := p.conn.Connect(ctx); err != nil {
		if syncerr.IsFatal(err) {
			return err
		}
		return syncerr.New(syncerr.KindNotConnected, "publish", err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return syncerr.New(syncerr.KindPublishFailed, "publish", fmt.Errorf("encode: %w", err))
	}
	if err := p.conn.Send(p.destination, body); err != nil {
		p.logger.Warn("publish failed", "receiver", msg.ReceiverID, "client_ref", msg.ClientRef, "error", err)
		return err
	}

	p.logger.Debug("published", "receiver", msg.ReceiverID, "client_ref", msg.ClientRef)
	return nil
}
