package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeConn is a scriptable Conn: tests deliver inbound frames and inspect
// outbound ones.
type fakeConn struct {
	mu      sync.Mutex
	in      chan []byte
	sent    [][]byte
	done    chan struct{}
	once    sync.Once
	readErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), done: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.in:
		return websocket.TextMessage, data, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.readErr != nil {
			return 0, nil, c.readErr
		}
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.done:
		return errors.New("fake conn closed")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.sent = append(c.sent, cp)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) deliver(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal inbound event: %v", err)
	}
	select {
	case c.in <- data:
	case <-time.After(time.Second):
		t.Fatalf("deliver blocked")
	}
}

// failRemote makes the next read fail with err, simulating a dirty close.
func (c *fakeConn) failRemote(err error) {
	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
}

func (c *fakeConn) sentFrames(t *testing.T) []ClientEvent {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ClientEvent, 0, len(c.sent))
	for _, raw := range c.sent {
		var ev ClientEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("unmarshal sent frame: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

// fakeDialer scripts one result per connect attempt; out-of-script
// attempts fail.
type fakeDialer struct {
	mu       sync.Mutex
	results  []dialResult
	attempts int
}

type dialResult struct {
	conn *fakeConn
	err  error
}

func (d *fakeDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.attempts
	d.attempts++
	if i >= len(d.results) {
		return nil, errors.New("no scripted result")
	}
	r := d.results[i]
	if r.err != nil {
		return nil, r.err
	}
	return r.conn, nil
}

func (d *fakeDialer) attemptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

// instantSleep records requested delays without waiting.
func instantSleep(delays *[]time.Duration, mu *sync.Mutex) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*delays = append(*delays, d)
		mu.Unlock()
		return ctx.Err()
	}
}

// fakeLink is an in-memory Link for translator tests.
type fakeLink struct {
	mu     sync.Mutex
	sent   []ClientEvent
	events chan ServerEvent
	err    error
	closed bool
}

func newFakeLink() *fakeLink {
	return &fakeLink{events: make(chan ServerEvent, 16)}
}

func (l *fakeLink) Send(ctx context.Context, ev ClientEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	l.sent = append(l.sent, ev)
	return nil
}

func (l *fakeLink) Events() <-chan ServerEvent { return l.events }

func (l *fakeLink) CloseErr() error { return l.err }

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.events)
	}
	return nil
}

func (l *fakeLink) sentEvents() []ClientEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ClientEvent, len(l.sent))
	copy(out, l.sent)
	return out
}

// waitFor polls until cond is true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
