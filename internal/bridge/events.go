package bridge

import "encoding/json"

// Realtime protocol event types we dispatch on. The wire discriminator is
// the JSON "type" field in both directions.
const (
	EventSessionCreated         = "session.created"
	EventSessionUpdated         = "session.updated"
	EventConversationItem       = "conversation.item.created"
	EventFunctionCallDone       = "response.function_call_arguments.done"
	EventResponseDone           = "response.done"
	EventError                  = "error"
	EventSessionUpdate          = "session.update"
	EventConversationItemCreate = "conversation.item.create"
)

// ServerEvent is the subset of inbound realtime events the bridge acts on.
// Unknown fields are ignored; unknown types pass through untouched.
type ServerEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`

	// session.created / session.updated
	Session *RemoteSession `json:"session,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// response.done
	Response *Response `json:"response,omitempty"`

	// error
	Error *EventErrorDetail `json:"error,omitempty"`
}

type RemoteSession struct {
	ID string `json:"id"`
}

type Response struct {
	Usage *Usage `json:"usage,omitempty"`
}

type Usage struct {
	TotalTokens int `json:"total_tokens"`
}

type EventErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e EventErrorDetail) String() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// ClientEvent is an outbound realtime event.
type ClientEvent struct {
	Type    string            `json:"type"`
	Session *SessionConfig    `json:"session,omitempty"`
	Item    *ConversationItem `json:"item,omitempty"`
}

// ConversationItem carries a function_call_output back to the model,
// correlated by the original call_id.
type ConversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

// SessionConfig is the session.update payload sent exactly once per
// connect. Derived from process defaults plus per-call overrides; never
// re-sent mid-call.
type SessionConfig struct {
	Modalities              []string             `json:"modalities"`
	Instructions            string               `json:"instructions"`
	Voice                   string               `json:"voice"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription"`
	TurnDetection           *TurnDetection       `json:"turn_detection"`
	Tools                   []ToolSchema         `json:"tools"`
	ToolChoice              string               `json:"tool_choice"`
	Temperature             float64              `json:"temperature"`
	MaxResponseOutputTokens int                  `json:"max_response_output_tokens"`
}

type TranscriptionConfig struct {
	Model string `json:"model"`
}

// TurnDetection configures server-side voice-activity segmentation.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

// ToolSchema describes one callable function exposed to the model.
type ToolSchema struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}
