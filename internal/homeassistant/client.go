package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultRequestTimeout = 10 * time.Second
	handshakeTimeout      = 10 * time.Second

	codeUnknownCommand = "unknown_command"
)

// Config holds the WebSocket API connection settings.
type Config struct {
	// URL is the WebSocket endpoint, e.g. ws://homeassistant.local:8123/api/websocket.
	URL string

	// Token is a long-lived access token.
	Token string

	// RequestTimeout bounds each command. Zero means 10s.
	RequestTimeout time.Duration
}

// Logger is the logging surface the client needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Client is an authenticated Home Assistant WebSocket API connection.
//
// Commands are correlated to results by id, so Call is safe for
// concurrent use. A single goroutine reads frames until the connection
// drops; pending calls then fail with ErrClosed.
type Client struct {
	conn    *websocket.Conn
	timeout time.Duration
	version string

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int
	pending map[int]chan *message
	readErr error

	done      chan struct{}
	closeOnce sync.Once

	logger Logger
}

// message is the union of frames exchanged with Home Assistant.
type message struct {
	ID        int             `json:"id,omitempty"`
	Type      string          `json:"type"`
	Success   bool            `json:"success,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *resultError    `json:"error,omitempty"`
	HAVersion string          `json:"ha_version,omitempty"`
	Message   string          `json:"message,omitempty"`
}

type resultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Dial connects and authenticates.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout

	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.URL, err)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	c := &Client{
		conn:    conn,
		timeout: timeout,
		pending: make(map[int]chan *message),
		done:    make(chan struct{}),
		logger:  noopLogger{},
	}

	if err := c.authenticate(ctx, cfg.Token); err != nil {
		conn.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

// authenticate runs auth_required -> auth -> auth_ok.
func (c *Client) authenticate(ctx context.Context, token string) error {
	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetReadDeadline(deadline) //nolint:errcheck // Failure surfaces on read
	defer c.conn.SetReadDeadline(time.Time{}) //nolint:errcheck // Clearing deadline

	var hello message
	if err := c.conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("%w: reading auth_required: %w", ErrProtocol, err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("%w: expected auth_required, got %q", ErrProtocol, hello.Type)
	}

	auth := map[string]string{"type": "auth", "access_token": token}
	if err := c.conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("sending auth: %w", err)
	}

	var reply message
	if err := c.conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("%w: reading auth result: %w", ErrProtocol, err)
	}
	switch reply.Type {
	case "auth_ok":
		c.version = reply.HAVersion
		return nil
	case "auth_invalid":
		return fmt.Errorf("%w: %s", ErrAuthFailed, reply.Message)
	default:
		return fmt.Errorf("%w: unexpected auth reply %q", ErrProtocol, reply.Type)
	}
}

// SetLogger sets the logger for dropped frames and connection loss.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = logger
}

func (c *Client) log() Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

// Version returns the ha_version reported during authentication.
func (c *Client) Version() string {
	return c.version
}

// Call sends a command and returns its result payload. fields become
// the command body; id and type are filled in here.
func (c *Client) Call(ctx context.Context, command string, fields map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		return nil, err
	}
	c.nextID++
	id := c.nextID
	ch := make(chan *message, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	frame := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		frame[k] = v
	}
	frame["id"] = id
	frame["type"] = command

	c.writeMu.Lock()
	err := c.conn.WriteJSON(frame)
	c.writeMu.Unlock()
	if err != nil {
		c.fail(err)
		return nil, fmt.Errorf("sending %s: %w", command, c.closedErr())
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		if reply.Type == "pong" {
			return nil, nil
		}
		if !reply.Success {
			ce := &CommandError{Command: command}
			if reply.Error != nil {
				ce.Code = reply.Error.Code
				ce.Message = reply.Error.Message
			}
			return nil, ce
		}
		return reply.Result, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s after %v", ErrTimeout, command, c.timeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", command, ctx.Err())
	case <-c.done:
		return nil, c.closedErr()
	}
}

// Ping checks the connection round trip.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Call(ctx, "ping", nil)
	return err
}

func (c *Client) readLoop() {
	for {
		var msg message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.fail(err)
			return
		}
		if msg.ID == 0 {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		c.mu.Unlock()
		if !ok {
			c.log().Debug("dropping unsolicited frame", "id", msg.ID, "type", msg.Type)
			continue
		}
		ch <- &msg
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.readErr == nil {
		c.readErr = fmt.Errorf("%w: %w", ErrClosed, err)
	}
	c.mu.Unlock()

	select {
	case <-c.done:
	default:
		c.log().Warn("home assistant connection lost", "error", err)
	}
	c.closeOnce.Do(func() { close(c.done) })
}

// closed reports whether the connection has failed or been closed.
func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return c.readErr
	}
	return ErrClosed
}

// Close sends a close frame and tears down the connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	c.closeOnce.Do(func() { close(c.done) })

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, //nolint:errcheck // Peer may already be gone
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("closing home assistant connection: %w", err)
	}
	return nil
}
