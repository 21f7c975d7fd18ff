// ABOUTME: REST collaborator client: history, mark-as-read, mark-delivered, unread count, debug status
// ABOUTME: JSON over HTTP with bearer auth and retry on transient failures

package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/AryaPawar0402/chatsync/internal/auth"
	"github.com/AryaPawar0402/chatsync/internal/message"
	"github.com/AryaPawar0402/chatsync/internal/syncerr"
)

const (
	defaultBaseURL    = "http://localhost:8080/api"
	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 3
	defaultBaseDelay  = 100 * time.Millisecond
	defaultMaxDelay   = 2 * time.Second
)

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	Credentials auth.Provider
	HTTPClient  *http.Client
	Timeout     time.Duration
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Logger      *slog.Logger
}

// Client talks to the chat REST API.
type Client struct {
	baseURL    string
	creds      auth.Provider
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *slog.Logger
}

// New creates a client. Zero options fall back to defaults.
func New(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:    baseURL,
		creds:      opts.Credentials,
		httpClient: httpClient,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		maxDelay:   opts.MaxDelay,
		logger:     logger.With("component", "chatapi"),
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	} else if c.maxRetries == 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.baseDelay <= 0 {
		c.baseDelay = defaultBaseDelay
	}
	if c.maxDelay <= 0 {
		c.maxDelay = defaultMaxDelay
	}
	return c
}

// FetchHistory returns the messages exchanged between userA and userB, oldest first.
func (c *Client) FetchHistory(ctx context.Context, userA, userB string) ([]message.Message, error) {
	var msgs []message.Message
	path := "/chat/conversation/" + url.PathEscape(userA) + "/" + url.PathEscape(userB)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, classify(err, syncerr.KindHistoryUnavailable, "fetch history")
	}
	return msgs, nil
}

// MarkAsRead records that receiverID has read everything senderID sent them.
func (c *Client) MarkAsRead(ctx context.Context, senderID, receiverID string) error {
	path := "/chat/markAsRead/" + url.PathEscape(senderID) + "/" + url.PathEscape(receiverID)
	if err := c.doJSON(ctx, http.MethodPost, path, struct{}{}, nil); err != nil {
		return classify(err, syncerr.KindReadReceiptFailed, "mark as read")
	}
	return nil
}

// MarkDelivered records that messageID reached receiverID.
func (c *Client) MarkDelivered(ctx context.Context, messageID, receiverID string) error {
	path := "/chat/markDelivered/" + url.PathEscape(messageID) + "/" + url.PathEscape(receiverID)
	if err := c.doJSON(ctx, http.MethodPost, path, struct{}{}, nil); err != nil {
		return classify(err, syncerr.KindDeliveryReceiptFailed, "mark delivered")
	}
	return nil
}

// FetchUnreadCount returns how many messages userID has not read.
func (c *Client) FetchUnreadCount(ctx context.Context, userID string) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/chat/unreadCount/"+url.PathEscape(userID), nil, &out); err != nil {
		return 0, classify(err, syncerr.KindCountUnavailable, "fetch unread count")
	}
	return out.Count, nil
}

// DebugStatus returns the server's diagnostic status document.
func (c *Client) DebugStatus(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	if err := c.doJSON(ctx, http.MethodGet, "/chat/debug/status", nil, &out); err != nil {
		return nil, classify(err, syncerr.KindTransportFailure, "debug status")
	}
	return out, nil
}

// classify maps auth failures to AuthError and everything else to kind.
func classify(err error, kind syncerr.Kind, op string) error {
	if syncerr.IsFatal(err) {
		return err
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && (httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden) {
		return syncerr.New(syncerr.KindRejected, op, err)
	}
	return syncerr.New(kind, op, err)
}

func (c *Client) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	cred, err := auth.Resolve(ctx, c.creds, method+" "+requestPath)
	if err != nil {
		return err
	}

	var bodyBytes []byte
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	delays := c.newBackOff()
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", cred.Header())
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Correlation-Id", uuid.NewString())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries && ctx.Err() == nil {
				c.logger.Debug("request failed, retrying", "method", method, "path", requestPath, "attempt", attempt+1, "error", err)
				if waitErr := waitWithContext(ctx, c.retryDelay(delays, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(bytes.TrimSpace(payload)) == 0 {
				return nil
			}
			return json.Unmarshal(payload, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			c.logger.Debug("transient response, retrying", "method", method, "path", requestPath, "status", resp.StatusCode, "attempt", attempt+1)
			if waitErr := waitWithContext(ctx, c.retryDelay(delays, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		return &HTTPError{StatusCode: resp.StatusCode, Message: errorMessage(payload)}
	}
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseDelay
	b.MaxInterval = c.maxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// retryDelay prefers the server's Retry-After, capped at maxDelay.
func (c *Client) retryDelay(b backoff.BackOff, retryAfterHeader string) time.Duration {
	next := b.NextBackOff()
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	return next
}

func errorMessage(payload []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	text := strings.TrimSpace(string(payload))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
