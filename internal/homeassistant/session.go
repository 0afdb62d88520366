package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	redialMinBackoff = time.Second
	redialMaxBackoff = time.Minute
)

// DialFunc opens a new authenticated connection.
type DialFunc func(ctx context.Context) (*Client, error)

// Session is a Caller that survives connection loss. When the current
// connection has dropped, the next call redials and is retried once.
// Failed redials back off exponentially so a down server is not
// hammered by every request.
type Session struct {
	dial DialFunc
	now  func() time.Time

	mu      sync.Mutex
	client  *Client
	version string
	backoff time.Duration
	retryAt time.Time
	lastErr error
	closed  bool
	logger  Logger
}

// NewSession dials once and returns a session around the connection.
func NewSession(ctx context.Context, dial DialFunc) (*Session, error) {
	client, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{
		dial:    dial,
		now:     time.Now,
		client:  client,
		version: client.Version(),
		logger:  noopLogger{},
	}, nil
}

// SetLogger sets the logger for the session and every connection it opens.
func (s *Session) SetLogger(logger Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
	if s.client != nil {
		s.client.SetLogger(logger)
	}
}

// Version returns the ha_version of the most recent connection.
func (s *Session) Version() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Call implements Caller.
func (s *Session) Call(ctx context.Context, command string, fields map[string]any) (json.RawMessage, error) {
	client, err := s.connection(ctx)
	if err != nil {
		return nil, err
	}
	result, err := client.Call(ctx, command, fields)
	if !errors.Is(err, ErrClosed) || ctx.Err() != nil {
		return result, err
	}

	s.log().Warn("home assistant connection dropped, redialing", "command", command, "error", err)
	client, err = s.connection(ctx)
	if err != nil {
		return nil, err
	}
	return client.Call(ctx, command, fields)
}

// Ping checks the round trip, redialing if the connection has dropped.
func (s *Session) Ping(ctx context.Context) error {
	_, err := s.Call(ctx, "ping", nil)
	return err
}

// Close closes the current connection. Later calls fail with ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	client := s.client
	s.client = nil
	return client.Close()
}

// connection returns a live client, dialing a new one if the current
// connection is gone and the backoff window has passed.
func (s *Session) connection(ctx context.Context) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.client != nil && !s.client.closed() {
		return s.client, nil
	}
	if s.client != nil {
		s.client.Close() //nolint:errcheck // Connection already dropped
		s.client = nil
	}
	if now := s.now(); now.Before(s.retryAt) {
		return nil, fmt.Errorf("%w: redial in %v: %w", ErrClosed, s.retryAt.Sub(now).Round(time.Millisecond), s.lastErr)
	}

	client, err := s.dial(ctx)
	if err != nil && ctx.Err() != nil {
		return nil, fmt.Errorf("%w: redialing: %w", ErrClosed, err)
	}
	if err != nil {
		s.backoff = min(max(2*s.backoff, redialMinBackoff), redialMaxBackoff)
		s.retryAt = s.now().Add(s.backoff)
		s.lastErr = err
		s.logger.Warn("home assistant redial failed", "error", err, "retry_in", s.backoff)
		return nil, fmt.Errorf("%w: redialing: %w", ErrClosed, err)
	}

	s.backoff = 0
	s.retryAt = time.Time{}
	s.lastErr = nil
	client.SetLogger(s.logger)
	s.client = client
	s.version = client.Version()
	s.logger.Debug("home assistant connection restored", "version", s.version)
	return client, nil
}

func (s *Session) log() Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}
