// ABOUTME: Unread badge driven by the authoritative count endpoint
// ABOUTME: Optimistic zero on open, delayed reconcile, periodic refresh while closed

package unread

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/AryaPawar0402/chatsync/internal/conversation"
	"github.com/AryaPawar0402/chatsync/internal/metrics"
	"github.com/AryaPawar0402/chatsync/internal/syncerr"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultRefreshInterval = 10 * time.Second
	DefaultGraceDelay      = time.Second

	refreshTimeout = 10 * time.Second
	badgeTopic     = "badge"
	badgeCap       = 9
)

// CountFetcher returns the server's unread count for a user.
type CountFetcher interface {
	FetchUnreadCount(ctx context.Context, userID string) (int, error)
}

// Options configures a Counter.
type Options struct {
	UserID          string
	Fetcher         CountFetcher
	RefreshInterval time.Duration
	GraceDelay      time.Duration
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
}

// Counter holds the unread badge of one user.
type Counter struct {
	userID   string
	fetcher  CountFetcher
	interval time.Duration
	grace    time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	watchers *conversation.Broadcaster[int]

	mu    sync.Mutex
	badge int
	open  bool
	gen   uint64
	timer *time.Timer
}

// New creates a counter showing zero.
func New(opts Options) *Counter {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Counter{
		userID:   opts.UserID,
		fetcher:  opts.Fetcher,
		interval: opts.RefreshInterval,
		grace:    opts.GraceDelay,
		logger:   logger.With("component", "unread", "user", opts.UserID),
		metrics:  opts.Metrics,
	}
	if c.interval <= 0 {
		c.interval = DefaultRefreshInterval
	}
	if c.grace <= 0 {
		c.grace = DefaultGraceDelay
	}
	c.watchers = conversation.NewBroadcaster[int](c.logger)
	return c
}

// Badge returns the count currently shown.
func (c *Counter) Badge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.badge
}

// Label renders the badge: empty for zero, "9+" above nine.
func (c *Counter) Label() string {
	n := c.Badge()
	switch {
	case n <= 0:
		return ""
	case n > badgeCap:
		return strconv.Itoa(badgeCap) + "+"
	}
	return strconv.Itoa(n)
}

// Watch streams badge changes until ctx is done or the counter is stopped.
func (c *Counter) Watch(ctx context.Context) <-chan int {
	ch, _ := c.watchers.Subscribe(ctx, badgeTopic)
	return ch
}

// Refresh reads the count from the server and shows it. On failure the
// badge drops to zero and a FetchError(CountUnavailable) is returned. A
// result that was overtaken by MarkOpenedOptimistically is not shown.
func (c *Counter) Refresh(ctx context.Context) (int, error) {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	if c.fetcher == nil {
		c.apply(gen, 0)
		return 0, syncerr.New(syncerr.KindCountUnavailable, "refresh unread", nil)
	}

	n, err := c.fetcher.FetchUnreadCount(ctx, c.userID)
	if err != nil {
		if !syncerr.IsFatal(err) && syncerr.KindOf(err) != syncerr.KindCountUnavailable {
			err = syncerr.New(syncerr.KindCountUnavailable, "refresh unread", err)
		}
		c.logger.Warn("unread refresh failed, showing zero", "error", err)
		c.apply(gen, 0)
		return 0, err
	}
	if n < 0 {
		n = 0
	}
	c.apply(gen, n)
	return n, nil
}

func (c *Counter) apply(gen uint64, n int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.logger.Debug("discarding overtaken unread count", "count", n)
		return
	}
	c.setLocked(n)
	c.mu.Unlock()
}

// setLocked updates the badge. Caller holds c.mu.
func (c *Counter) setLocked(n int) {
	if c.badge == n {
		return
	}
	c.badge = n
	c.metrics.SetUnreadBadge(n)
	c.watchers.Publish(badgeTopic, n)
}

// MarkOpenedOptimistically zeroes the badge now and schedules a refresh
// after the grace delay.
func (c *Counter) MarkOpenedOptimistically() {
	c.mu.Lock()
	c.gen++
	c.open = true
	c.setLocked(0)
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.grace, c.refreshInBackground)
	c.mu.Unlock()
}

// SetOpen records whether a conversation is on screen. Periodic refreshes
// only run while none is.
func (c *Counter) SetOpen(open bool) {
	c.mu.Lock()
	c.open = open
	c.mu.Unlock()
}

// Open reports whether a conversation is on screen.
func (c *Counter) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Run refreshes immediately and then every interval while no conversation
// is open, until ctx is done.
func (c *Counter) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	if !c.Open() {
		c.refresh(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.Open() {
				c.refresh(ctx)
			}
		}
	}
}

func (c *Counter) refreshInBackground() {
	c.refresh(context.Background())
}

func (c *Counter) refresh(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()
	_, _ = c.Refresh(ctx)
}

// Stop cancels a pending grace refresh and closes watchers.
func (c *Counter) Stop() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	c.watchers.Close()
}
