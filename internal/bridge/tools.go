package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// CallContext identifies the call on whose behalf a tool runs.
type CallContext struct {
	CallID   string
	From     string
	Metadata map[string]string
}

// ToolResult is the structured outcome of one tool invocation. Output is
// always valid JSON; Transfer asks the lifecycle controller to terminate
// the session once the acknowledgment has been sent.
type ToolResult struct {
	Output   json.RawMessage
	Transfer bool
}

// ToolDispatcher executes named server-side functions requested by the
// model. Implementations must never fail the call: malformed or unknown
// requests resolve to a structured error payload instead.
type ToolDispatcher interface {
	Invoke(ctx context.Context, name, argumentsJSON string, call CallContext) ToolResult
}

// CallbackScheduler is what the schedule_callback tool needs from the
// callback service.
type CallbackScheduler interface {
	Schedule(ctx context.Context, callSID, phoneNumber, preferredTime, reason string) (string, error)
}

// Tools is the built-in dispatcher: time lookup, callback scheduling and
// human transfer.
type Tools struct {
	Callbacks CallbackScheduler
	Log       *slog.Logger
	clock     func() time.Time
}

func NewTools(callbacks CallbackScheduler, log *slog.Logger) *Tools {
	return &Tools{Callbacks: callbacks, Log: log, clock: time.Now}
}

type scheduleCallbackArgs struct {
	PhoneNumber   string `json:"phone_number"`
	PreferredTime string `json:"preferred_time"`
	Reason        string `json:"reason"`
}

type transferArgs struct {
	Reason  string `json:"reason"`
	Urgency string `json:"urgency"`
}

func (t *Tools) Invoke(ctx context.Context, name, argumentsJSON string, call CallContext) ToolResult {
	switch name {
	case "get_current_time":
		return t.currentTime()
	case "schedule_callback":
		return t.scheduleCallback(ctx, argumentsJSON, call)
	case "transfer_to_human":
		return t.transferToHuman(argumentsJSON, call)
	default:
		return errorResult(fmt.Sprintf("unknown function: %s", name))
	}
}

func (t *Tools) currentTime() ToolResult {
	now := t.clock()
	zone, _ := now.Zone()
	return jsonResult(map[string]any{
		"current_time": now.Format(time.RFC1123),
		"timezone":     zone,
	})
}

func (t *Tools) scheduleCallback(ctx context.Context, argumentsJSON string, call CallContext) ToolResult {
	var args scheduleCallbackArgs
	if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
		return errorResult("invalid arguments for schedule_callback")
	}
	if args.PhoneNumber == "" || args.PreferredTime == "" {
		return errorResult("phone_number and preferred_time are required")
	}
	if t.Callbacks == nil {
		return errorResult("callback scheduling is not available")
	}
	id, err := t.Callbacks.Schedule(ctx, call.CallID, args.PhoneNumber, args.PreferredTime, args.Reason)
	if err != nil {
		t.log().Error("callback scheduling failed", "call_sid", call.CallID, "err", err)
		return errorResult("failed to schedule callback")
	}
	return jsonResult(map[string]any{
		"success":        true,
		"message":        "Callback scheduled successfully",
		"callback_id":    id,
		"scheduled_time": args.PreferredTime,
	})
}

func (t *Tools) transferToHuman(argumentsJSON string, call CallContext) ToolResult {
	var args transferArgs
	if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
		return errorResult("invalid arguments for transfer_to_human")
	}
	if args.Urgency == "" {
		args.Urgency = "medium"
	}
	t.log().Info("transfer to human requested",
		"call_sid", call.CallID,
		"reason", args.Reason,
		"urgency", args.Urgency,
	)
	res := jsonResult(map[string]any{
		"success": true,
		"message": "Transfer to human agent initiated",
		"reason":  args.Reason,
		"urgency": args.Urgency,
	})
	res.Transfer = true
	return res
}

func (t *Tools) log() *slog.Logger {
	if t.Log != nil {
		return t.Log
	}
	return slog.Default()
}

func jsonResult(v any) ToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult("internal tool error")
	}
	return ToolResult{Output: data}
}

func errorResult(msg string) ToolResult {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return ToolResult{Output: data}
}

// DefaultToolSchemas is the tool set advertised in session.update when
// function calling is enabled.
func DefaultToolSchemas() []ToolSchema {
	return []ToolSchema{
		{
			Type:        "function",
			Name:        "get_current_time",
			Description: "Get the current time and date",
			Parameters:  json.RawMessage(`{"type":"object","properties":{},"required":[]}`),
		},
		{
			Type:        "function",
			Name:        "schedule_callback",
			Description: "Schedule a callback for the user",
			Parameters: json.RawMessage(`{"type":"object","properties":{` +
				`"phone_number":{"type":"string","description":"The phone number to call back"},` +
				`"preferred_time":{"type":"string","description":"Preferred callback time"},` +
				`"reason":{"type":"string","description":"Reason for callback"}},` +
				`"required":["phone_number","preferred_time"]}`),
		},
		{
			Type:        "function",
			Name:        "transfer_to_human",
			Description: "Transfer the call to a human agent",
			Parameters: json.RawMessage(`{"type":"object","properties":{` +
				`"reason":{"type":"string","description":"Reason for transfer"},` +
				`"urgency":{"type":"string","enum":["low","medium","high"],"description":"Urgency level"}},` +
				`"required":["reason"]}`),
		},
	}
}
