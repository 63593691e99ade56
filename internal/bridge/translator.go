package bridge

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// errSessionFatal signals the session loop that the remote side reported a
// terminal error and cleanup should begin.
var errSessionFatal = errors.New("bridge: fatal session event")

// translator interprets inbound realtime events for one session: it
// updates session state, routes function calls to the tool dispatcher and
// writes the resulting outbound events back over the link.
type translator struct {
	session *Session
	link    Link
	tools   ToolDispatcher
	config  SessionConfig
	log     *slog.Logger
	debug   bool
	clock   func() time.Time

	// onTransfer is invoked after a transfer acknowledgment has been
	// sent; the controller uses it to begin termination.
	onTransfer func(callID string)
}

// sendSessionConfig pushes the one-and-only session.update for this
// connect. The payload is static per call and never re-sent.
func (t *translator) sendSessionConfig(ctx context.Context) error {
	cfg := t.config
	return t.link.Send(ctx, ClientEvent{Type: EventSessionUpdate, Session: &cfg})
}

// handleEvent processes one inbound event. Events for a session are
// handled strictly in arrival order; only a remote error event is fatal.
func (t *translator) handleEvent(ctx context.Context, ev ServerEvent) error {
	now := t.clock().UTC()
	t.session.recordEvent(ev.Type, now)

	switch ev.Type {
	case EventSessionCreated:
		remoteID := ""
		if ev.Session != nil {
			remoteID = ev.Session.ID
		}
		if t.session.markActive(remoteID, now) {
			t.log.Info("realtime session active", "call_sid", t.session.CallID(), "openai_session_id", remoteID)
		}

	case EventSessionUpdated:
		t.log.Debug("realtime session updated", "call_sid", t.session.CallID())

	case EventConversationItem:
		t.session.touchActivity(now)

	case EventFunctionCallDone:
		t.dispatchTool(ctx, ev)

	case EventResponseDone:
		tokens := 0
		if ev.Response != nil && ev.Response.Usage != nil {
			tokens = ev.Response.Usage.TotalTokens
		}
		t.session.addTokens(tokens, now)

	case EventError:
		msg := "unknown realtime error"
		if ev.Error != nil {
			msg = ev.Error.String()
		}
		t.log.Error("realtime error event", "call_sid", t.session.CallID(), "err", msg)
		t.session.recordError(msg)
		return errSessionFatal

	default:
		if t.debug {
			t.log.Debug("unhandled realtime event", "call_sid", t.session.CallID(), "type", ev.Type)
		}
	}
	return nil
}

// dispatchTool runs a function call synchronously and sends the output
// keyed by the originating call id. A result that completes after the
// session closed is discarded, never written to a dead link.
func (t *translator) dispatchTool(ctx context.Context, ev ServerEvent) {
	callID := t.session.CallID()
	t.log.Info("function call", "call_sid", callID, "function", ev.Name, "tool_call_id", ev.CallID)

	t.session.addPendingTool(ev.CallID)
	defer t.session.removePendingTool(ev.CallID)

	res := t.tools.Invoke(ctx, ev.Name, ev.Arguments, CallContext{
		CallID:   callID,
		From:     t.session.metadata["from"],
		Metadata: t.session.metadata,
	})

	if t.session.State() == StateClosed {
		t.log.Debug("discarding tool result for closed session", "call_sid", callID, "function", ev.Name)
		return
	}

	out := ClientEvent{
		Type: EventConversationItemCreate,
		Item: &ConversationItem{
			Type:   "function_call_output",
			CallID: ev.CallID,
			Output: string(res.Output),
		},
	}
	if err := t.link.Send(ctx, out); err != nil {
		t.log.Warn("tool output send failed", "call_sid", callID, "function", ev.Name, "err", err)
		return
	}
	t.session.touchActivity(t.clock().UTC())

	if res.Transfer && t.onTransfer != nil {
		t.onTransfer(callID)
	}
}
