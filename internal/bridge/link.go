package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrLinkUnavailable is returned once every connect attempt on the
// schedule has been exhausted.
var ErrLinkUnavailable = errors.New("bridge: realtime link unavailable")

// ErrLinkClosed is returned by Send after the link has closed.
var ErrLinkClosed = errors.New("bridge: link closed")

// connectSchedule is the canonical delay before each connect attempt. The
// remote session is not guaranteed to be subscribable right after the call
// is accepted; early attempts are expected to fail until the backend
// finishes activating it.
var connectSchedule = []time.Duration{
	0,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	15 * time.Second,
}

// Link is one duplex streaming connection carrying realtime events for a
// single call.
type Link interface {
	// Send writes one outbound event. Returns ErrLinkClosed once the
	// link has closed.
	Send(ctx context.Context, ev ClientEvent) error

	// Events yields inbound events in arrival order. The channel closes
	// when the link ends; CloseErr then reports the terminal condition.
	Events() <-chan ServerEvent

	// CloseErr reports why the event stream ended: nil for a clean
	// close, otherwise the read/close error. Valid after Events closes.
	CloseErr() error

	// Close is idempotent.
	Close() error
}

// Conn is the minimal websocket surface the link needs; *websocket.Conn
// satisfies it and tests substitute fakes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer establishes the underlying websocket connection.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebsocketDialer is the production Dialer.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
}

func (d WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	wd := websocket.Dialer{HandshakeTimeout: timeout}
	conn, resp, err := wd.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// wsLink wraps a Conn with a single read loop so inbound events are
// consumed strictly in arrival order.
type wsLink struct {
	conn   Conn
	events chan ServerEvent
	log    *slog.Logger

	mu       sync.Mutex
	closed   bool
	closeErr error
}

func newLink(conn Conn, log *slog.Logger) *wsLink {
	l := &wsLink{
		conn:   conn,
		events: make(chan ServerEvent, 16),
		log:    log,
	}
	go l.readLoop()
	return l
}

func (l *wsLink) readLoop() {
	defer close(l.events)
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			l.mu.Lock()
			if !l.closed {
				l.closed = true
				if !isCleanClose(err) {
					l.closeErr = err
				}
				_ = l.conn.Close()
			}
			l.mu.Unlock()
			return
		}
		var ev ServerEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			// Malformed inbound event: skip it, keep the session alive.
			l.log.Warn("malformed realtime event", "err", err)
			continue
		}
		l.events <- ev
	}
}

func isCleanClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

func (l *wsLink) Send(ctx context.Context, ev ClientEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Type, err)
	}
	return l.conn.WriteMessage(websocket.TextMessage, data)
}

func (l *wsLink) Events() <-chan ServerEvent { return l.events }

func (l *wsLink) CloseErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeErr
}

func (l *wsLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.conn.Close()
}

// Connector establishes realtime links on the fixed retry schedule.
type Connector struct {
	Dialer Dialer
	Log    *slog.Logger

	// sleep is injectable for deterministic retry tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewConnector(dialer Dialer, log *slog.Logger) *Connector {
	return &Connector{Dialer: dialer, Log: log, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Connect runs the sequential retry loop: one attempt per schedule entry,
// success terminates immediately, exhaustion yields ErrLinkUnavailable.
// Cancellation aborts both the delay and the in-flight dial.
func (c *Connector) Connect(ctx context.Context, url string, header http.Header) (Link, error) {
	log := c.Log
	if log == nil {
		log = slog.Default()
	}
	var lastErr error
	for i, delay := range connectSchedule {
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
		conn, err := c.Dialer.Dial(ctx, url, header)
		if err != nil {
			lastErr = err
			log.Warn("realtime connect attempt failed",
				"attempt", i+1,
				"attempts_total", len(connectSchedule),
				"err", err,
			)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		log.Info("realtime link connected", "attempt", i+1)
		return newLink(conn, log), nil
	}
	return nil, fmt.Errorf("%w: %d attempts: %v", ErrLinkUnavailable, len(connectSchedule), lastErr)
}
