package telephony

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCallNotFound = errors.New("telephony: call not found")
	ErrProvider     = errors.New("telephony: provider request failed")
)

// Provider defines the provider-agnostic interface used by business logic.
//
// Rules:
// - No provider REST calls outside telephony adapters.
// - Keep request/response types provider-agnostic; store provider raw
//   payloads in Raw if needed.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// PlaceCall starts an outbound call that will be bridged to the
	// assistant once answered.
	PlaceCall(ctx context.Context, req OutboundCallRequest) (CallRecord, error)

	GetCall(ctx context.Context, callSID string) (CallRecord, error)
	EndCall(ctx context.Context, callSID string) error

	// TransferCall redirects a live call to a human agent number.
	TransferCall(ctx context.Context, callSID, targetNumber, announcement string) error

	ListCalls(ctx context.Context, status string, limit int) ([]CallRecord, error)
}

// OutboundCallRequest describes an assistant-initiated call.
type OutboundCallRequest struct {
	To string `json:"to"`

	// StreamURL is the wss endpoint the provider should bridge call
	// audio to once the callee answers.
	StreamURL string `json:"stream_url"`

	// Record requests provider-side call recording.
	Record bool `json:"record,omitempty"`

	// DetectMachine enables answering-machine detection so voicemail
	// pickups do not burn a realtime session.
	DetectMachine bool `json:"detect_machine,omitempty"`

	// StatusCallbackURL receives lifecycle webhooks for this call.
	StatusCallbackURL string `json:"status_callback_url,omitempty"`
}

// CallRecord is a provider-agnostic view of one call.
type CallRecord struct {
	CallSID   string `json:"call_sid"`
	From      string `json:"from"`
	To        string `json:"to"`
	Status    string `json:"status"`
	Direction string `json:"direction"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	DurationSeconds int `json:"duration_seconds,omitempty"`

	// Price is the provider-reported cost when available.
	Price    string `json:"price,omitempty"`
	Currency string `json:"currency,omitempty"`

	// Raw is the provider payload as JSON, kept for debugging.
	Raw string `json:"raw,omitempty"`
}
