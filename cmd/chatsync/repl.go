// ABOUTME: Interactive chat loop: slash commands, sending, and rendering of live conversation events
// ABOUTME: One conversation is open at a time; other traffic shows up as notifications and the unread badge

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/AryaPawar0402/chatsync/internal/client"
	"github.com/AryaPawar0402/chatsync/internal/conversation"
	"github.com/AryaPawar0402/chatsync/internal/message"
	"github.com/AryaPawar0402/chatsync/internal/syncerr"
)

type repl struct {
	client *client.Client
	self   string
	in     io.Reader
	logger *slog.Logger

	mu         sync.Mutex
	out        io.Writer
	view       *conversation.View
	stopEvents context.CancelFunc
}

func newREPL(c *client.Client, self string, in io.Reader, out io.Writer, logger *slog.Logger) *repl {
	return &repl{client: c, self: self, in: in, out: out, logger: logger}
}

func (r *repl) printf(attr color.Attribute, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = color.New(attr).Fprintf(r.out, format, args...)
}

// Run connects, opens with (if set) and processes input until EOF, /quit or ctx ends.
func (r *repl) Run(ctx context.Context, with string) error {
	go r.watchConnection(ctx)

	if err := r.client.Connect(ctx); err != nil {
		if syncerr.IsFatal(err) {
			return err
		}
		r.printf(color.FgYellow, "[connection] %v (will keep trying)\n", err)
	}
	r.ping(ctx)

	if err := r.watchInbox(ctx); err != nil && syncerr.IsFatal(err) {
		return err
	}
	counter := r.client.Unread(r.self)
	go counter.Run(ctx)
	go r.watchBadge(ctx)

	if with != "" {
		if err := r.open(ctx, with); err != nil && syncerr.IsFatal(err) {
			return err
		}
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		readErr <- scanner.Err()
	}()

	for {
		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("reading input: %w", err)
			}
			return nil
		case input = <-lines:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if quit, err := r.handle(ctx, input); quit || err != nil {
			return err
		}
	}
}

// handle runs one input line. It reports whether the loop should stop.
func (r *repl) handle(ctx context.Context, input string) (bool, error) {
	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit", "/q":
		return true, nil
	case "/help":
		r.printHelp()
	case "/open":
		if arg == "" {
			r.printf(color.FgYellow, "usage: /open <user>\n")
			return false, nil
		}
		if err := r.open(ctx, arg); syncerr.IsFatal(err) {
			return true, err
		}
	case "/close":
		r.closeView()
	case "/history":
		r.reload(ctx)
	case "/status":
		r.printf(color.FgCyan, "[connection] %s\n", r.client.ConnectionState())
	case "/unread":
		r.unread(ctx)
	case "/ping":
		r.ping(ctx)
	case "/dismiss":
		if v := r.current(); v != nil {
			v.DismissNotice()
		}
	default:
		if strings.HasPrefix(cmd, "/") {
			r.printf(color.FgYellow, "unknown command %s, try /help\n", cmd)
			return false, nil
		}
		return r.send(ctx, input)
	}
	return false, nil
}

func (r *repl) printHelp() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, "Commands:")
	fmt.Fprintln(r.out, "  /open <user>  Open the conversation with user")
	fmt.Fprintln(r.out, "  /close        Close the open conversation")
	fmt.Fprintln(r.out, "  /history      Reload the open conversation")
	fmt.Fprintln(r.out, "  /status       Show the connection state")
	fmt.Fprintln(r.out, "  /unread       Refresh the unread badge")
	fmt.Fprintln(r.out, "  /ping         Check the server debug endpoint")
	fmt.Fprintln(r.out, "  /dismiss      Dismiss the current notice")
	fmt.Fprintln(r.out, "  /quit         Exit")
	fmt.Fprintln(r.out, "Anything else is sent to the open conversation.")
}

func (r *repl) current() *conversation.View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view
}

func (r *repl) open(ctx context.Context, counterpart string) error {
	r.closeView()

	v, err := r.client.OpenConversation(ctx, r.self, counterpart)
	if v == nil {
		r.printf(color.FgRed, "[error] %v\n", err)
		return err
	}

	evCtx, cancel := context.WithCancel(ctx)
	events := v.Watch(evCtx)
	r.mu.Lock()
	r.view = v
	r.stopEvents = cancel
	r.mu.Unlock()

	r.printf(color.FgCyan, "── conversation with %s ──\n", counterpart)
	if err != nil {
		r.printf(color.FgRed, "[history] %v (use /history to retry)\n", err)
	} else {
		for _, m := range v.Messages() {
			r.printMessage(m)
		}
	}
	go r.renderEvents(evCtx, v, events)
	return err
}

func (r *repl) closeView() {
	r.mu.Lock()
	v, cancel := r.view, r.stopEvents
	r.view, r.stopEvents = nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if v != nil {
		r.client.CloseConversation(v)
		r.printf(color.FgHiBlack, "── closed conversation with %s ──\n", v.Store().Counterpart())
	}
}

func (r *repl) reload(ctx context.Context) {
	v := r.current()
	if v == nil {
		r.printf(color.FgYellow, "No conversation open. Use /open <user>.\n")
		return
	}
	if err := v.Load(ctx); err != nil {
		r.printf(color.FgRed, "[history] %v\n", err)
		return
	}
	for _, m := range v.Messages() {
		r.printMessage(m)
	}
}

func (r *repl) send(ctx context.Context, text string) (bool, error) {
	v := r.current()
	if v == nil {
		r.printf(color.FgYellow, "No conversation open. Use /open <user>.\n")
		return false, nil
	}
	_, err := r.client.SendMessage(ctx, r.self, v.Store().Counterpart(), text)
	var failure *conversation.SendFailure
	switch {
	case err == nil:
	case errors.As(err, &failure):
		r.printf(color.FgRed, "✗ not sent: %q\n", failure.Content)
	case syncerr.IsFatal(err):
		return true, err
	default:
		r.printf(color.FgRed, "[error] %v\n", err)
	}
	return false, nil
}

func (r *repl) unread(ctx context.Context) {
	n, err := r.client.GetUnreadCount(ctx, r.self)
	if err != nil {
		r.printf(color.FgRed, "[unread] %v\n", err)
		return
	}
	r.printf(color.FgCyan, "[unread] %d\n", n)
}

func (r *repl) ping(ctx context.Context) {
	status, err := r.client.DebugStatus(ctx)
	if err != nil {
		r.printf(color.FgRed, "[ping] server unreachable: %v\n", err)
		return
	}
	keys := make([]string, 0, len(status))
	for k := range status {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, status[k]))
	}
	r.printf(color.FgGreen, "[ping] ok %s\n", strings.Join(parts, " "))
}

func (r *repl) printMessage(m message.Message) {
	if m.SenderID == r.self {
		r.printf(color.FgGreen, "you: %s %s\n", m.Content, statusMark(m))
		return
	}
	r.printf(color.FgCyan, "%s: %s\n", m.SenderID, m.Content)
}

func statusMark(m message.Message) string {
	if m.Optimistic {
		return "…"
	}
	switch m.Status {
	case message.StatusDelivered:
		return "✓✓"
	case message.StatusRead:
		return "✓✓ read"
	}
	return "✓"
}

func (r *repl) renderEvents(ctx context.Context, v *conversation.View, events <-chan conversation.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case conversation.EventAppended:
				if ev.Message.SenderID != r.self {
					r.printMessage(ev.Message)
				}
			case conversation.EventReconciled:
				r.printMessage(ev.Message)
			case conversation.EventStatus:
				r.printf(color.FgHiBlack, "  %s %q\n", statusMark(ev.Message), ev.Message.Content)
			case conversation.EventRemoved:
				r.printf(color.FgRed, "✗ withdrawn: %q\n", ev.Message.Content)
			case conversation.EventNotice:
				r.printf(color.FgYellow, "[notice] %s\n", ev.Notice.Text)
			case conversation.EventLoadFailed:
				r.printf(color.FgRed, "[history] %v\n", ev.Err)
			case conversation.EventHistory:
				r.logger.Debug("history replaced", "messages", len(v.Messages()))
			}
		}
	}
}

// watchInbox announces messages that arrive outside the open conversation.
func (r *repl) watchInbox(ctx context.Context) error {
	msgs, err := r.client.SubscribeToMessages(ctx, r.self)
	if err != nil {
		r.printf(color.FgYellow, "[inbox] live updates unavailable: %v\n", err)
		return err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				if v := r.current(); v != nil && v.Key() == m.Key() {
					continue
				}
				if m.ReceiverID == r.self {
					r.printf(color.FgMagenta, "[new] %s: %s\n", m.SenderID, m.Content)
				}
			}
		}
	}()
	return nil
}

func (r *repl) watchBadge(ctx context.Context) {
	counter := r.client.Unread(r.self)
	badges := counter.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-badges:
			if !ok {
				return
			}
			if label := counter.Label(); label != "" {
				r.printf(color.FgMagenta, "[unread %s]\n", label)
			}
		}
	}
}

func (r *repl) watchConnection(ctx context.Context) {
	for state := range r.client.WatchConnection(ctx) {
		r.printf(color.FgHiBlack, "[connection] %s\n", state)
	}
}
