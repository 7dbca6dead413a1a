package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"voice-bridge/internal/observability"

	"github.com/gorilla/websocket"
)

const (
	defaultRealtimeURL = "wss://api.openai.com/v1/realtime"
	defaultModel       = "gpt-realtime"

	// configureTimeout bounds the wait for session.updated.
	configureTimeout = 10 * time.Second
)

// greetingPrompt is the synthetic opening user turn that makes the
// model speak first.
const greetingPrompt = "Greet the user with 'Hey, what's up?'"

// Client dials realtime sessions against the OpenAI API.
type Client struct {
	apiKey  string
	baseURL string
	logger  *observability.Logger
}

// NewClient creates a realtime API client.
func NewClient(apiKey string, logger *observability.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	return &Client{apiKey: apiKey, baseURL: defaultRealtimeURL, logger: logger}, nil
}

// WithBaseURL overrides the realtime endpoint. Used by tests and
// gateway deployments that front the API.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = baseURL
	return c
}

// Conn is one live realtime session. Reads happen from a single
// goroutine; writes are serialized by a mutex.
type Conn struct {
	ws      *websocket.Conn
	logger  *observability.Logger
	writeMu sync.Mutex
	closed  atomic.Bool
}

// Dial opens the realtime WebSocket with bearer authentication.
func (c *Client) Dial(ctx context.Context, temperature float64) (*Conn, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime URL: %w", err)
	}
	q := u.Query()
	q.Set("model", defaultModel)
	q.Set("temperature", strconv.FormatFloat(temperature, 'g', -1, 64))
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.apiKey)

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to realtime endpoint: %w", err)
	}
	return &Conn{ws: ws, logger: c.logger}, nil
}

// SessionOptions parameterizes ConfigureSession.
type SessionOptions struct {
	Voice        string
	Instructions string
	Tools        []MCPTool
}

// ConfigureSession sends the session.update command (mu-law audio both
// ways, server VAD, voice, instructions, tool registrations) and
// blocks until the API acknowledges with session.updated. The
// registered tool list is compared against the request and logged; a
// mismatch is not fatal.
func (conn *Conn) ConfigureSession(ctx context.Context, opts SessionOptions) error {
	update := sessionUpdateEvent{
		Type: EventSessionUpdate,
		Session: SessionConfig{
			Type:             "realtime",
			Model:            defaultModel,
			OutputModalities: []string{"audio"},
			Audio: AudioConfig{
				Input: AudioInput{
					Format:        AudioFormat{Type: "audio/pcmu"},
					TurnDetection: TurnDetection{Type: "server_vad"},
				},
				Output: AudioOutput{
					Format: AudioFormat{Type: "audio/pcmu"},
					Voice:  opts.Voice,
				},
			},
			Instructions: opts.Instructions,
			Tools:        opts.Tools,
		},
	}
	if err := conn.writeJSON(update); err != nil {
		return fmt.Errorf("failed to send session update: %w", err)
	}

	// Other events (session.created in particular) may arrive before
	// the acknowledgement; keep reading until session.updated or the
	// deadline passes.
	if err := conn.ws.SetReadDeadline(time.Now().Add(configureTimeout)); err != nil {
		return fmt.Errorf("failed to set configure deadline: %w", err)
	}
	defer conn.ws.SetReadDeadline(time.Time{})

	for {
		event, err := conn.ReadEvent()
		if err != nil {
			return fmt.Errorf("failed to read session acknowledgement: %w", err)
		}
		if event.Type != EventSessionUpdated {
			continue
		}

		registered := 0
		if event.Session != nil {
			registered = len(event.Session.Tools)
			for _, tool := range event.Session.Tools {
				conn.logger.Info(ctx, fmt.Sprintf("Registered tool: %s - %s", tool.Type, tool.ServerLabel))
			}
		}
		if registered != len(opts.Tools) {
			conn.logger.Warn(ctx, fmt.Sprintf("Tool registration mismatch: requested %d, registered %d",
				len(opts.Tools), registered))
		}
		return nil
	}
}

// PrimeGreeting injects a synthetic opening user turn and triggers a
// response so the model speaks first.
func (conn *Conn) PrimeGreeting(ctx context.Context) error {
	item := itemCreateEvent{
		Type: EventConversationItemCreate,
		Item: ConversationItem{
			Type: "message",
			Role: "user",
			Content: []ItemContent{
				{Type: "input_text", Text: greetingPrompt},
			},
		},
	}
	if err := conn.writeJSON(item); err != nil {
		return fmt.Errorf("failed to send greeting item: %w", err)
	}
	if err := conn.writeJSON(responseCreateEvent{Type: EventResponseCreate}); err != nil {
		return fmt.Errorf("failed to trigger greeting response: %w", err)
	}
	conn.logger.Info(ctx, "Greeting primed")
	return nil
}

// AppendAudio forwards one base64 audio payload into the model's input
// buffer.
func (conn *Conn) AppendAudio(payload string) error {
	return conn.writeJSON(audioAppendEvent{
		Type:  EventInputAudioBufferAppend,
		Audio: payload,
	})
}

// TruncateItem tells the model to treat a spoken item as cut short at
// the given elapsed offset.
func (conn *Conn) TruncateItem(itemID string, audioEndMs int64) error {
	return conn.writeJSON(itemTruncateEvent{
		Type:         EventConversationItemTruncate,
		ItemID:       itemID,
		ContentIndex: 0,
		AudioEndMs:   audioEndMs,
	})
}

// ReadEvent blocks for the next server event. Unknown event types are
// returned as-is with Raw populated so callers can log them.
func (conn *Conn) ReadEvent() (ServerEvent, error) {
	_, msg, err := conn.ws.ReadMessage()
	if err != nil {
		conn.closed.Store(true)
		return ServerEvent{}, err
	}
	var event ServerEvent
	if err := json.Unmarshal(msg, &event); err != nil {
		return ServerEvent{}, fmt.Errorf("failed to parse realtime event: %w", err)
	}
	event.Raw = msg
	return event, nil
}

// IsOpen reports whether the connection is believed to be open. This
// is a best-effort check, not a synchronization guarantee.
func (conn *Conn) IsOpen() bool {
	return !conn.closed.Load()
}

// Close closes the realtime connection.
func (conn *Conn) Close() error {
	if conn.closed.Swap(true) {
		return nil
	}
	conn.writeMu.Lock()
	_ = conn.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	conn.writeMu.Unlock()
	return conn.ws.Close()
}

func (conn *Conn) writeJSON(v interface{}) error {
	conn.writeMu.Lock()
	defer conn.writeMu.Unlock()
	return conn.ws.WriteJSON(v)
}
