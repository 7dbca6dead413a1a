package openai

import "encoding/json"

// Client-to-server event types.
const (
	EventSessionUpdate            = "session.update"
	EventInputAudioBufferAppend   = "input_audio_buffer.append"
	EventConversationItemCreate   = "conversation.item.create"
	EventConversationItemTruncate = "conversation.item.truncate"
	EventResponseCreate           = "response.create"
)

// Server-to-client event types the bridge reacts to. Unrecognized
// types are ignored on purpose for forward compatibility.
const (
	EventSessionCreated   = "session.created"
	EventSessionUpdated   = "session.updated"
	EventSpeechStarted    = "input_audio_buffer.speech_started"
	EventSpeechStopped    = "input_audio_buffer.speech_stopped"
	EventOutputAudioDelta = "response.output_audio.delta"
)

// loggedEventTypes are server events worth surfacing in logs even
// though they carry no relay state.
var loggedEventTypes = map[string]struct{}{
	"error":                                  {},
	"response.content.done":                  {},
	"rate_limits.updated":                    {},
	"response.done":                          {},
	"input_audio_buffer.committed":           {},
	EventSpeechStopped:                       {},
	EventSpeechStarted:                       {},
	EventSessionCreated:                      {},
	EventSessionUpdated:                      {},
	"response.function_call_arguments.delta": {},
	"response.function_call_arguments.done":  {},
}

// LogWorthy reports whether a server event type should be logged.
func LogWorthy(eventType string) bool {
	_, ok := loggedEventTypes[eventType]
	return ok
}

// ServerEvent is one event received from the realtime API. Raw keeps
// the original message for diagnostics on unrecognized types.
type ServerEvent struct {
	Type    string          `json:"type"`
	ItemID  string          `json:"item_id,omitempty"`
	Delta   string          `json:"delta,omitempty"`
	Session *SessionInfo    `json:"session,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// SessionInfo is the session snapshot echoed back on session.updated.
type SessionInfo struct {
	Tools []RegisteredTool `json:"tools"`
}

// RegisteredTool describes one tool the model registered.
type RegisteredTool struct {
	Type         string          `json:"type"`
	ServerLabel  string          `json:"server_label"`
	AllowedTools json.RawMessage `json:"allowed_tools,omitempty"`
}

// SessionConfig is the session.update payload.
type SessionConfig struct {
	Type             string      `json:"type"`
	Model            string      `json:"model"`
	OutputModalities []string    `json:"output_modalities"`
	Audio            AudioConfig `json:"audio"`
	Instructions     string      `json:"instructions"`
	Tools            []MCPTool   `json:"tools"`
}

// AudioConfig declares the encodings on both directions of the session.
type AudioConfig struct {
	Input  AudioInput  `json:"input"`
	Output AudioOutput `json:"output"`
}

type AudioInput struct {
	Format        AudioFormat   `json:"format"`
	TurnDetection TurnDetection `json:"turn_detection"`
}

type AudioOutput struct {
	Format AudioFormat `json:"format"`
	Voice  string      `json:"voice"`
}

type AudioFormat struct {
	Type string `json:"type"`
}

type TurnDetection struct {
	Type string `json:"type"`
}

// MCPTool declares one external tool integration.
type MCPTool struct {
	Type            string            `json:"type"`
	ServerLabel     string            `json:"server_label"`
	ServerURL       string            `json:"server_url"`
	Headers         map[string]string `json:"headers,omitempty"`
	RequireApproval string            `json:"require_approval"`
}

type sessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type audioAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type itemTruncateEvent struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int64  `json:"audio_end_ms"`
}

type itemCreateEvent struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

// ConversationItem is a synthetic conversation entry, used to prime
// the opening turn.
type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ItemContent `json:"content"`
}

type ItemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responseCreateEvent struct {
	Type string `json:"type"`
}
