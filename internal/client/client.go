// Package client talks to the booking backend's messaging API over HTTP.
//
// Client satisfies the engine's Backend interface. It only moves wire
// records; turning them into model values is the engine's job.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/inbox/internal/wire"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 15 * time.Second

// maxErrorBody limits how much of an error response is read.
const maxErrorBody = 64 << 10

// Client is a messaging API client. Safe for concurrent use.
type Client struct {
	base   string
	token  string
	http   *http.Client
	logger *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client for the API rooted at baseURL, e.g.
// "https://api.example.com/api".
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("client: base url is empty")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client: unsupported scheme %q", u.Scheme)
	}
	c := &Client{
		base:   u.String(),
		http:   &http.Client{Timeout: DefaultTimeout},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListConversations returns the user's conversations.
func (c *Client) ListConversations(ctx context.Context) ([]wire.ConversationRecord, error) {
	var out []wire.ConversationRecord
	if err := c.do(ctx, http.MethodGet, "/messages/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMessages returns the messages of one conversation.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]wire.MessageRecord, error) {
	var out []wire.MessageRecord
	p := "/messages/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage posts a message to receiverID. venueID may be empty.
func (c *Client) SendMessage(ctx context.Context, receiverID, content, venueID string) (wire.MessageRecord, error) {
	body := wire.SendRequest{
		ReceiverID: receiverID,
		Content:    content,
		VenueID:    wire.OptionalString(venueID),
	}
	var out wire.MessageRecord
	if err := c.do(ctx, http.MethodPost, "/messages/send", body, &out); err != nil {
		return wire.MessageRecord{}, err
	}
	return out, nil
}

// StartConversation starts, or returns the existing, conversation with
// participantID about venueID.
func (c *Client) StartConversation(ctx context.Context, participantID, venueID, venueType string) (wire.ConversationRecord, error) {
	body := wire.StartRequest{
		ParticipantID: participantID,
		VenueID:       wire.OptionalString(venueID),
		VenueType:     wire.OptionalString(venueType),
	}
	var out wire.ConversationRecord
	if err := c.do(ctx, http.MethodPost, "/messages/conversations/start", body, &out); err != nil {
		return wire.ConversationRecord{}, err
	}
	return out, nil
}

// MarkConversationRead marks every message addressed to the user read.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) error {
	var out wire.MarkReadRecord
	p := "/messages/conversations/" + url.PathEscape(conversationID) + "/read"
	if err := c.do(ctx, http.MethodPut, p, nil, &out); err != nil {
		return err
	}
	c.logger.Debug("conversation marked read",
		zap.String("conversation_id", conversationID),
		zap.Int("marked_read", out.MarkedRead))
	return nil
}

// UnreadCount returns the user's total unread count.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out wire.UnreadCountRecord
	if err := c.do(ctx, http.MethodGet, "/messages/unread-count", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// do sends one request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("client: encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("client: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(method, path, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s %s: %w", method, path, err)
	}
	return nil
}
