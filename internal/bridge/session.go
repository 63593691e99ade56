package bridge

import (
	"context"
	"sync"
	"time"
)

// State is the lifecycle state of one call session.
type State string

const (
	StateInitializing State = "initializing"
	StateConnecting   State = "connecting"
	StateActive       State = "active"
	StateErroring     State = "erroring"
	StateClosed       State = "closed"
)

// Session is the per-call unit of work, keyed by the provider call SID.
//
// Concurrency rules:
// - Fields are mutated under mu.
// - Writes come from the session's own goroutine, except Terminate, which
//   synchronizes through the same mutex plus context cancellation.
// - Closed is terminal: no link operations or tool dispatch after it.
type Session struct {
	mu sync.Mutex

	callID   string
	metadata map[string]string

	state       State
	link        Link
	startedAt   time.Time
	connectedAt time.Time
	endedAt     time.Time

	remoteSessionID string
	lastActivity    time.Time
	lastError       string
	totalTokens     int

	eventLog         []EventRecord
	pendingToolCalls map[string]struct{}

	// Per-call configuration overrides; empty values fall back to defaults.
	instructions string
	voice        string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// EventRecord is one append-only observability entry.
type EventRecord struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
}

// Snapshot is a point-in-time copy safe to hand to API callers.
type Snapshot struct {
	CallID          string            `json:"call_id"`
	State           State             `json:"state"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	ConnectedAt     time.Time         `json:"connected_at,omitempty"`
	EndedAt         time.Time         `json:"ended_at,omitempty"`
	RemoteSessionID string            `json:"openai_session_id,omitempty"`
	LastActivity    time.Time         `json:"last_activity,omitempty"`
	LastError       string            `json:"last_error,omitempty"`
	TotalTokens     int               `json:"total_tokens"`
	EventCount      int               `json:"event_count"`
	PendingTools    int               `json:"pending_tool_calls"`
}

func newSession(callID string, metadata map[string]string, now time.Time) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return &Session{
		callID:           callID,
		metadata:         md,
		state:            StateInitializing,
		startedAt:        now,
		pendingToolCalls: make(map[string]struct{}),
		ctx:              ctx,
		cancel:           cancel,
		done:             make(chan struct{}),
	}
}

func (s *Session) CallID() string { return s.callID }

// Context is canceled when the session is terminated; the owning goroutine
// and the connect retry loop both watch it.
func (s *Session) Context() context.Context { return s.ctx }

// Done is closed when the owning goroutine has finished cleanup.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState enforces that Closed is terminal.
func (s *Session) setState(st State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.state = st
	return true
}

// attachLink installs a new link, closing any existing one first. Returns
// false when the session is already closed, in which case the caller must
// close the link itself.
func (s *Session) attachLink(l Link, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	if s.link != nil {
		_ = s.link.Close()
	}
	s.link = l
	s.connectedAt = now
	return true
}

func (s *Session) recordEvent(eventType string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventLog = append(s.eventLog, EventRecord{Type: eventType, At: now})
}

func (s *Session) markActive(remoteID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.remoteSessionID = remoteID
	s.state = StateActive
	s.lastActivity = now
	return true
}

func (s *Session) touchActivity(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
}

func (s *Session) addTokens(n int, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalTokens += n
	s.lastActivity = now
}

func (s *Session) recordError(msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = msg
	if s.state == StateClosed {
		return false
	}
	s.state = StateErroring
	return true
}

func (s *Session) addPendingTool(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingToolCalls[callID] = struct{}{}
}

func (s *Session) removePendingTool(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pendingToolCalls, callID)
}

// close transitions to Closed exactly once. It returns the link that was
// attached (already detached) so the caller can close it, and whether this
// call performed the transition.
func (s *Session) close(now time.Time) (Link, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil, false
	}
	s.state = StateClosed
	s.endedAt = now
	l := s.link
	s.link = nil
	return l, true
}

// Snapshot copies the observable fields under the session mutex.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	md := make(map[string]string, len(s.metadata))
	for k, v := range s.metadata {
		md[k] = v
	}
	return Snapshot{
		CallID:          s.callID,
		State:           s.state,
		Metadata:        md,
		StartedAt:       s.startedAt,
		ConnectedAt:     s.connectedAt,
		EndedAt:         s.endedAt,
		RemoteSessionID: s.remoteSessionID,
		LastActivity:    s.lastActivity,
		LastError:       s.lastError,
		TotalTokens:     s.totalTokens,
		EventCount:      len(s.eventLog),
		PendingTools:    len(s.pendingToolCalls),
	}
}

// EventLog returns a copy of the append-only event log.
func (s *Session) EventLog() []EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventRecord, len(s.eventLog))
	copy(out, s.eventLog)
	return out
}
