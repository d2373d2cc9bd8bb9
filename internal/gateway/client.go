// Package gateway implements the channel.Sender capability over the
// chatstream gateway websocket protocol: a small JSON req/res framing with
// message.create, message.update and typing.set methods.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/chatstream/internal/channel"
	"github.com/ent0n29/chatstream/internal/reliability"
)

const (
	connectWriteTimeout = 3 * time.Second
	callWriteTimeout    = 2 * time.Second
	defaultCallTimeout  = 10 * time.Second

	maxDialAttempts = 3
	dialBackoffBase = 200 * time.Millisecond
	dialBackoffCap  = time.Second
)

// Client speaks the gateway protocol over a single lazily-dialed websocket.
// A broken connection fails the in-flight calls and is re-dialed on the next
// call; the failed calls themselves are not retried here, the streaming
// layer's next delivery is the retry vehicle.
type Client struct {
	wsURL       string
	token       string
	callTimeout time.Duration
	dialer      websocket.Dialer

	// writeMu serializes frame writes; gorilla/websocket supports only one
	// concurrent writer per connection.
	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan pendingResult
}

// pendingResult settles one in-flight call: either the response frame or the
// connection-level error that killed it.
type pendingResult struct {
	res frame
	err error
}

type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Event   string          `json:"event,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CallError is a gateway-level rejection of one method call.
type CallError struct {
	Method  string
	Code    string
	Message string
}

func (e *CallError) Error() string {
	msg := e.Message
	if strings.TrimSpace(msg) == "" {
		msg = e.Code
	}
	if strings.TrimSpace(msg) == "" {
		return fmt.Sprintf("gateway %s failed", e.Method)
	}
	return fmt.Sprintf("gateway %s failed: %s", e.Method, msg)
}

// Retryable reports whether a later identical call could plausibly succeed.
func (e *CallError) Retryable() bool {
	return reliability.IsRetryableGatewayCode(e.Code)
}

type request struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

type connectParams struct {
	Token     string `json:"token,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

type createParams struct {
	ChatID    string `json:"chatId"`
	ReplyTo   string `json:"replyTo,omitempty"`
	Content   string `json:"content"`
	Streaming bool   `json:"streaming"`
	Markdown  bool   `json:"markdown,omitempty"`
}

type createResult struct {
	MessageID string `json:"messageId"`
}

type updateParams struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
	Streaming bool   `json:"streaming"`
}

type typingParams struct {
	ChatID string `json:"chatId"`
	Typing bool   `json:"typing"`
}

func NewClient(wsURL, token string) (*Client, error) {
	wsURL, err := normalizeGatewayURL(wsURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		wsURL:       wsURL,
		token:       strings.TrimSpace(token),
		callTimeout: defaultCallTimeout,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 4 * time.Second,
		},
		pending: make(map[string]chan pendingResult),
	}, nil
}

func normalizeGatewayURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "ws://127.0.0.1:18890"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse gateway url: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported gateway url scheme %q", u.Scheme)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// CreateMessage implements channel.Sender.
func (c *Client) CreateMessage(ctx context.Context, target channel.Target, content string, streaming bool) (channel.MessageRef, error) {
	payload, err := c.call(ctx, "message.create", createParams{
		ChatID:    target.ChatID,
		ReplyTo:   target.ReplyTo,
		Content:   content,
		Streaming: streaming,
		Markdown:  target.Markdown,
	})
	if err != nil {
		return channel.MessageRef{}, err
	}
	var res createResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return channel.MessageRef{}, fmt.Errorf("gateway create result parse: %w", err)
	}
	if strings.TrimSpace(res.MessageID) == "" {
		return channel.MessageRef{}, errors.New("gateway create returned no message id")
	}
	return channel.MessageRef{ID: res.MessageID}, nil
}

// UpdateMessage implements channel.Sender.
func (c *Client) UpdateMessage(ctx context.Context, ref channel.MessageRef, content string, streaming bool) error {
	_, err := c.call(ctx, "message.update", updateParams{
		MessageID: ref.ID,
		Content:   content,
		Streaming: streaming,
	})
	return err
}

// SetTyping toggles the typing indicator on a chat. Best-effort: surfaces
// without typing support answer ok and do nothing.
func (c *Client) SetTyping(ctx context.Context, chatID string, typing bool) error {
	_, err := c.call(ctx, "typing.set", typingParams{ChatID: chatID, Typing: typing})
	return err
}

// Close tears down the connection and fails any in-flight calls.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.failPendingLocked(errors.New("gateway client closed"))
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	conn, err := c.ensureConn(ctx)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ch := make(chan pendingResult, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := request{Type: "req", ID: id, Method: method, Params: params}
	if err := c.writeFrame(conn, req, callWriteTimeout); err != nil {
		c.dropConn(conn, err)
		return nil, fmt.Errorf("gateway %s write: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("gateway connection lost: %w", r.err)
		}
		if !r.res.OK {
			callErr := &CallError{Method: method}
			if r.res.Error != nil {
				callErr.Code = r.res.Error.Code
				callErr.Message = r.res.Error.Message
			}
			return nil, callErr
		}
		return r.res.Payload, nil
	}
}

// ensureConn returns the live connection, dialing and authenticating first
// when necessary.
func (c *Client) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	if c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	connectID := uuid.NewString()
	connectReq := request{
		Type:   "req",
		ID:     connectID,
		Method: "connect",
		Params: connectParams{Token: c.token, UserAgent: "chatstream"},
	}
	if err := c.writeFrame(conn, connectReq, connectWriteTimeout); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("gateway connect write: %w", err)
	}
	if err := waitForConnectOK(ctx, conn, connectID); err != nil {
		_ = conn.Close()
		return nil, err
	}

	c.mu.Lock()
	if c.conn != nil {
		// Another caller won the dial race; use theirs.
		existing := c.conn
		c.mu.Unlock()
		_ = conn.Close()
		return existing, nil
	}
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	return conn, nil
}

// dial attempts the websocket handshake, backing off and retrying when the
// gateway answered with a transient status. Message calls are never retried
// here; only the handshake is.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < maxDialAttempts; attempt++ {
		if attempt > 0 {
			delay := reliability.ExponentialBackoff(attempt-1, dialBackoffBase, dialBackoffCap)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		conn, resp, err := c.dialer.DialContext(ctx, c.wsURL, nil)
		if err == nil {
			return conn, nil
		}
		if resp != nil {
			lastErr = fmt.Errorf("gateway dial failed (%s): %w", resp.Status, err)
			if !reliability.IsRetryableHTTPStatus(resp.StatusCode) {
				return nil, lastErr
			}
			continue
		}
		lastErr = fmt.Errorf("gateway dial failed: %w", err)
	}
	return nil, lastErr
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.dropConn(conn, err)
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		if f.Type != "res" || f.ID == "" {
			continue
		}
		// Deliver under mu with a membership check so a concurrent
		// failPendingLocked cannot settle the same call twice. The channel is
		// buffered and settled at most once, so the send never blocks.
		c.mu.Lock()
		if ch, ok := c.pending[f.ID]; ok {
			delete(c.pending, f.ID)
			ch <- pendingResult{res: f}
		}
		c.mu.Unlock()
	}
}

// dropConn discards a broken connection and fails every in-flight call so
// the next call re-dials.
func (c *Client) dropConn(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.failPendingLocked(err)
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) failPendingLocked(err error) {
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- pendingResult{err: err}
	}
}

func waitForConnectOK(ctx context.Context, conn *websocket.Conn, id string) error {
	deadline := time.Now().Add(6 * time.Second)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			return errors.New("gateway connect timeout")
		}
		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("gateway connect read: %w", err)
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		if f.Type != "res" || f.ID != id {
			continue
		}
		_ = conn.SetReadDeadline(time.Time{})
		if f.OK {
			return nil
		}
		msg := "gateway connect rejected"
		if f.Error != nil && strings.TrimSpace(f.Error.Message) != "" {
			msg = f.Error.Message
		}
		return errors.New(msg)
	}
}

// writeFrame performs one serialized write, holding writeMu across the
// deadline set, the write itself and the deadline clear.
func (c *Client) writeFrame(conn *websocket.Conn, payload any, timeout time.Duration) error {
	if conn == nil {
		return errors.New("gateway connection is nil")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if timeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(timeout))
		defer conn.SetWriteDeadline(time.Time{})
	}
	return conn.WriteJSON(payload)
}
