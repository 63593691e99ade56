package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"
)

type fakeScheduler struct {
	id        string
	err       error
	lastCall  string
	lastPhone string
	lastTime  string
}

func (f *fakeScheduler) Schedule(ctx context.Context, callSID, phoneNumber, preferredTime, reason string) (string, error) {
	f.lastCall = callSID
	f.lastPhone = phoneNumber
	f.lastTime = preferredTime
	return f.id, f.err
}

func decodePayload(t *testing.T, res ToolResult) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(res.Output, &payload); err != nil {
		t.Fatalf("tool output is not valid JSON: %v", err)
	}
	return payload
}

func TestTools_GetCurrentTime(t *testing.T) {
	tools := NewTools(nil, slog.Default())
	tools.clock = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	res := tools.Invoke(context.Background(), "get_current_time", "{}", CallContext{CallID: "CA1"})
	if res.Transfer {
		t.Fatalf("expected no transfer flag")
	}
	payload := decodePayload(t, res)
	if payload["current_time"] == "" {
		t.Fatalf("expected current_time, got %v", payload)
	}
	if payload["timezone"] != "UTC" {
		t.Fatalf("expected UTC, got %v", payload["timezone"])
	}
}

func TestTools_ScheduleCallback(t *testing.T) {
	sched := &fakeScheduler{id: "cb_1"}
	tools := NewTools(sched, slog.Default())

	res := tools.Invoke(context.Background(), "schedule_callback",
		`{"phone_number":"+15551234567","preferred_time":"tomorrow 10am","reason":"pricing"}`,
		CallContext{CallID: "CA1"})

	payload := decodePayload(t, res)
	if payload["success"] != true {
		t.Fatalf("expected success, got %v", payload)
	}
	if payload["callback_id"] != "cb_1" {
		t.Fatalf("expected callback id cb_1, got %v", payload["callback_id"])
	}
	if sched.lastPhone != "+15551234567" || sched.lastTime != "tomorrow 10am" {
		t.Fatalf("scheduler got %q %q", sched.lastPhone, sched.lastTime)
	}
	if sched.lastCall != "CA1" {
		t.Fatalf("expected scheduler to receive the call sid, got %q", sched.lastCall)
	}
}

func TestTools_ScheduleCallbackValidation(t *testing.T) {
	tools := NewTools(&fakeScheduler{id: "cb_1"}, slog.Default())

	for _, args := range []string{
		`{"preferred_time":"tomorrow"}`,
		`{"phone_number":"+15551234567"}`,
		`not json`,
	} {
		res := tools.Invoke(context.Background(), "schedule_callback", args, CallContext{})
		payload := decodePayload(t, res)
		if payload["error"] == nil || payload["error"] == "" {
			t.Fatalf("expected error payload for %q, got %v", args, payload)
		}
	}
}

func TestTools_ScheduleCallbackFailureIsNotFatal(t *testing.T) {
	tools := NewTools(&fakeScheduler{err: errors.New("db down")}, slog.Default())

	res := tools.Invoke(context.Background(), "schedule_callback",
		`{"phone_number":"+15551234567","preferred_time":"tomorrow"}`, CallContext{})
	payload := decodePayload(t, res)
	if payload["error"] == nil {
		t.Fatalf("expected structured error, got %v", payload)
	}
}

func TestTools_TransferToHuman(t *testing.T) {
	tools := NewTools(nil, slog.Default())

	res := tools.Invoke(context.Background(), "transfer_to_human",
		`{"reason":"angry customer"}`, CallContext{CallID: "CA1"})
	if !res.Transfer {
		t.Fatalf("expected transfer flag")
	}
	payload := decodePayload(t, res)
	if payload["urgency"] != "medium" {
		t.Fatalf("expected default urgency medium, got %v", payload["urgency"])
	}
	if payload["reason"] != "angry customer" {
		t.Fatalf("expected reason passthrough, got %v", payload["reason"])
	}
}

func TestTools_UnknownFunction(t *testing.T) {
	tools := NewTools(nil, slog.Default())

	res := tools.Invoke(context.Background(), "format_hard_drive", "{}", CallContext{})
	if res.Transfer {
		t.Fatalf("expected no transfer flag")
	}
	payload := decodePayload(t, res)
	want := "unknown function: format_hard_drive"
	if payload["error"] != want {
		t.Fatalf("expected %q, got %v", want, payload)
	}
}

func TestDefaultToolSchemas_ParametersAreValidJSON(t *testing.T) {
	for _, schema := range DefaultToolSchemas() {
		var v map[string]any
		if err := json.Unmarshal(schema.Parameters, &v); err != nil {
			t.Fatalf("%s: invalid parameters JSON: %v", schema.Name, err)
		}
		if schema.Type != "function" {
			t.Fatalf("%s: expected type function, got %s", schema.Name, schema.Type)
		}
	}
}
