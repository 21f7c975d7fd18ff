// ABOUTME: Conversation view session: history load, optimistic send with rollback, inbound ingest
// ABOUTME: Stale history responses are discarded and read receipts are fire-and-forget

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/AryaPawar0402/chatsync/internal/message"
	"github.com/AryaPawar0402/chatsync/internal/metrics"
	"github.com/AryaPawar0402/chatsync/internal/publish"
	"github.com/AryaPawar0402/chatsync/internal/syncerr"
)

// DefaultMaxContent caps message length in runes.
const DefaultMaxContent = 500

// readReceiptTimeout bounds a fire-and-forget mark-as-read call.
const readReceiptTimeout = 10 * time.Second

var (
	// ErrEmptyContent is returned for blank input; nothing is appended.
	ErrEmptyContent = errors.New("message is empty")
	// ErrContentTooLong is returned when input exceeds the length cap.
	ErrContentTooLong = errors.New("message is too long")
	// ErrStaleView is returned by Load when the view stopped being active
	// before the history arrived. The response is discarded.
	ErrStaleView = errors.New("conversation view is no longer active")
)

// HistoryFetcher loads the message history of a conversation.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, userA, userB string) ([]message.Message, error)
}

// ReadMarker records that receiver has read sender's messages.
type ReadMarker interface {
	MarkAsRead(ctx context.Context, senderID, receiverID string) error
}

// Publisher sends an outbound message.
type Publisher interface {
	Publish(ctx context.Context, msg publish.Outbound) error
}

// SendFailure is returned when a send was rolled back. Content is the
// caller's original input, to be put back in the compose box.
type SendFailure struct {
	Content string
	Err     error
}

func (e *SendFailure) Error() string {
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *SendFailure) Unwrap() error {
	return e.Err
}

// LoadState is the history loading state of a view.
type LoadState int

const (
	LoadIdle LoadState = iota
	LoadLoading
	LoadReady
	LoadFailed
)

func (s LoadState) String() string {
	switch s {
	case LoadIdle:
		return "idle"
	case LoadLoading:
		return "loading"
	case LoadReady:
		return "ready"
	case LoadFailed:
		return "failed"
	}
	return "unknown"
}

// ViewOptions wires a View to its collaborators.
type ViewOptions struct {
	History   HistoryFetcher
	Reads     ReadMarker
	Publisher Publisher

	// IsActive reports whether key is still the conversation on screen.
	// Nil means the view is active until closed.
	IsActive   func(message.ConversationKey) bool
	NoticeTTL  time.Duration
	MaxContent int
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// View is one open conversation between self and counterpart.
type View struct {
	store     *Store
	history   HistoryFetcher
	reads     ReadMarker
	publisher Publisher
	isActive  func(message.ConversationKey) bool

	noticeTTL  time.Duration
	maxContent int
	logger     *slog.Logger
	metrics    *metrics.Metrics
	events     *Broadcaster[Event]

	mu          sync.Mutex
	loadState   LoadState
	loadErr     error
	closed      bool
	notice      *Notice
	noticeTimer *time.Timer
}

// NewView creates a view with an empty store.
func NewView(self, counterpart string, opts ViewOptions) *View {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	v := &View{
		store:      NewStore(self, counterpart),
		history:    opts.History,
		reads:      opts.Reads,
		publisher:  opts.Publisher,
		isActive:   opts.IsActive,
		noticeTTL:  opts.NoticeTTL,
		maxContent: opts.MaxContent,
		metrics:    opts.Metrics,
	}
	if v.noticeTTL <= 0 {
		v.noticeTTL = DefaultNoticeTTL
	}
	if v.maxContent <= 0 {
		v.maxContent = DefaultMaxContent
	}
	v.logger = logger.With("component", "view", "conversation", v.store.Key().String())
	v.events = NewBroadcaster[Event](v.logger)
	v.store.Observe(v.emit)
	return v
}

// Store returns the view's message store.
func (v *View) Store() *Store { return v.store }

// Key returns the conversation key.
func (v *View) Key() message.ConversationKey { return v.store.Key() }

// Messages returns a snapshot of the conversation.
func (v *View) Messages() []message.Message { return v.store.Messages() }

// Watch streams the view's change events until ctx is done or the view closes.
func (v *View) Watch(ctx context.Context) <-chan Event {
	ch, _ := v.events.Subscribe(ctx, v.store.Key().String())
	return ch
}

func (v *View) emit(ev Event) {
	v.events.Publish(v.store.Key().String(), ev)
}

// LoadState returns the history state and the error that caused LoadFailed.
func (v *View) LoadState() (LoadState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loadState, v.loadErr
}

func (v *View) setLoadState(s LoadState, err error) {
	v.mu.Lock()
	v.loadState = s
	v.loadErr = err
	v.mu.Unlock()
}

// Active reports whether the view is open and still the one on screen.
func (v *View) Active() bool {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return false
	}
	return v.isActive == nil || v.isActive(v.store.Key())
}

// Load fetches the history. A result arriving after the view went inactive
// is dropped with ErrStaleView. Failures leave the view in LoadFailed and
// Load may be called again.
func (v *View) Load(ctx context.Context) error {
	if v.history == nil {
		return syncerr.New(syncerr.KindHistoryUnavailable, "load history", errors.New("no history source"))
	}
	v.setLoadState(LoadLoading, nil)

	msgs, err := v.history.FetchHistory(ctx, v.store.Self(), v.store.Counterpart())
	if !v.Active() {
		v.logger.Debug("discarding history for inactive view")
		return ErrStaleView
	}
	if err != nil {
		if !syncerr.IsFatal(err) && syncerr.KindOf(err) != syncerr.KindHistoryUnavailable {
			err = syncerr.New(syncerr.KindHistoryUnavailable, "load history", err)
		}
		v.setLoadState(LoadFailed, err)
		v.emit(Event{Type: EventLoadFailed, Err: err})
		v.logger.Warn("history load failed", "error", err)
		return err
	}

	n := v.store.LoadHistory(msgs)
	v.setLoadState(LoadReady, nil)
	v.logger.Debug("history loaded", "messages", n)
	v.markReadAsync()
	return nil
}

// Send appends content optimistically and publishes it. The publish is not
// cancelled when ctx ends or the view closes. On failure the entry is
// rolled back, a notice is posted and a *SendFailure carrying the original
// input is returned; auth errors are returned unchanged.
func (v *View) Send(ctx context.Context, content string) (message.Message, error) {
	text := strings.TrimSpace(content)
	if text == "" {
		return message.Message{}, ErrEmptyContent
	}
	if utf8.RuneCountInString(text) > v.maxContent {
		return message.Message{}, fmt.Errorf("%w: %d > %d characters", ErrContentTooLong, utf8.RuneCountInString(text), v.maxContent)
	}

	m := v.store.AppendLocalSend(text)
	err := v.publisher.Publish(context.WithoutCancel(ctx), publish.Outbound{
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		ClientRef:  m.ID,
	})
	if err == nil {
		return m, nil
	}

	v.store.Rollback(m.ID)
	v.metrics.SendFailed(syncerr.KindOf(err).String())
	v.logger.Warn("send rolled back", "temp_id", m.ID, "error", err)
	if syncerr.IsFatal(err) {
		return m, err
	}
	v.postNotice("Message not sent. Please try again.", err)
	return m, &SendFailure{Content: content, Err: err}
}

// Ingest adds an authoritative message. Messages from the counterpart
// trigger a best-effort read receipt.
func (v *View) Ingest(m message.Message) IngestResult {
	result := v.store.Ingest(m)
	switch result {
	case IngestDuplicate:
		v.metrics.DuplicateDropped()
		v.logger.Debug("dropped duplicate message", "id", m.ID)
		return result
	case IngestForeign:
		return result
	}

	v.metrics.Ingested(result.String())
	if m.SenderID == v.store.Counterpart() {
		v.markReadAsync()
	}
	return result
}

func (v *View) markReadAsync() {
	if v.reads == nil {
		return
	}
	sender, receiver := v.store.Counterpart(), v.store.Self()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), readReceiptTimeout)
		defer cancel()
		if err := v.reads.MarkAsRead(ctx, sender, receiver); err != nil {
			v.metrics.BestEffortFailed(syncerr.KindReadReceiptFailed.String())
			v.logger.Warn("mark as read failed", "error", err)
		}
	}()
}

// Close ends the view. In-flight sends still complete; late history is discarded.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	if v.noticeTimer != nil {
		v.noticeTimer.Stop()
		v.noticeTimer = nil
	}
	v.notice = nil
	v.mu.Unlock()

	v.events.Close()
}
