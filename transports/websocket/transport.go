// Package websocket adapts a websocket connection to the pipeline's
// Transport interface. The adapter dials once and surfaces connection
// failures to the caller; reconnection policy lives outside the pipeline.
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultWriteTimeout bounds a single frame write when the caller's context
// carries no deadline.
const DefaultWriteTimeout = 10 * time.Second

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithWriteTimeout sets the fallback write deadline.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(t *Transport) {
		t.writeTimeout = timeout
	}
}

// Transport sends envelope frames over a single websocket connection.
type Transport struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	logger       *slog.Logger
	writeTimeout time.Duration
}

// Dial connects to the given ws:// or wss:// URL.
func Dial(ctx context.Context, url string, opts ...Option) (*Transport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket: dial %s: %w", url, err)
	}

	t := &Transport{
		conn:         conn,
		logger:       slog.Default(),
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Send writes one text frame. A nil return is the delivery acknowledgment.
func (t *Transport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(t.writeTimeout)
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("websocket: set write deadline: %w", err)
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("websocket: write frame: %w", err)
	}
	return nil
}

// Listen reads frames until the context is cancelled or the connection
// fails, passing each raw frame to deliver. Delivery errors are logged and
// do not stop the loop; read errors do.
func (t *Transport) Listen(ctx context.Context, deliver func(ctx context.Context, raw []byte) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, raw, err := t.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("websocket: read frame: %w", err)
		}
		if err := deliver(ctx, raw); err != nil {
			t.logger.Warn("inbound frame rejected", "error", err)
		}
	}
}

// Close closes the underlying connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.Close()
}
