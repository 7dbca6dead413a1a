package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"voice-bridge/internal/clients/openai"
	"voice-bridge/internal/config"
	"voice-bridge/internal/observability"
	"voice-bridge/internal/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUpstream mimics the realtime API far enough to bring a session
// up and exchange audio with the relay.
type fakeUpstream struct {
	srv       *httptest.Server
	appends   chan string
	truncates chan map[string]interface{}
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{
		appends:   make(chan string, 16),
		truncates: make(chan map[string]interface{}, 4),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()

		// Session bootstrap: update, greeting item, response trigger.
		for i := 0; i < 3; i++ {
			var msg map[string]interface{}
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			if msg["type"] == "session.update" {
				_ = ws.WriteJSON(map[string]interface{}{
					"type": "session.updated",
					"session": map[string]interface{}{
						"tools": []map[string]interface{}{{"type": "mcp", "server_label": "zapier"}},
					},
				})
			}
		}

		// The model speaks first.
		_ = ws.WriteJSON(map[string]interface{}{
			"type":    "response.output_audio.delta",
			"item_id": "item1",
			"delta":   "SPEECH",
		})

		for {
			var msg map[string]interface{}
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			switch msg["type"] {
			case "input_audio_buffer.append":
				if audio, ok := msg["audio"].(string); ok {
					f.appends <- audio
				}
			case "conversation.item.truncate":
				f.truncates <- msg
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeUpstream) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

// startBridge serves the media-stream endpoint backed by the given
// upstream and returns a dialable URL plus the token store.
func startBridge(t *testing.T, cfg *config.Config, upstreamURL string) (string, *token.Store) {
	t.Helper()
	logger := observability.NewLogger()
	realtime, err := openai.NewClient(cfg.OpenAI.APIKey, logger)
	require.NoError(t, err)
	realtime.WithBaseURL(upstreamURL)
	tokens := token.NewStore()
	h := New(tokens, realtime, cfg, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/media-stream", h.HandleMediaStream)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/media-stream", tokens
}

func dialBridge(t *testing.T, bridgeURL string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(bridgeURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendStart(t *testing.T, ws *websocket.Conn, streamSid, tokenValue string) {
	t.Helper()
	params := map[string]string{}
	if tokenValue != "" {
		params["token"] = tokenValue
	}
	require.NoError(t, ws.WriteJSON(map[string]interface{}{
		"event": "start",
		"start": map[string]interface{}{
			"streamSid":        streamSid,
			"customParameters": params,
		},
	}))
}

// expectClose asserts the server rejects the connection with the given
// close code and reason.
func expectClose(t *testing.T, ws *websocket.Conn, code int, reason string) {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected close error, got %v", err)
	assert.Equal(t, code, closeErr.Code)
	assert.Equal(t, reason, closeErr.Text)
}

func TestHandleMediaStream_RejectsUnexpectedEvent(t *testing.T) {
	bridgeURL, _ := startBridge(t, testConfig(), "ws://unused.invalid")
	ws := dialBridge(t, bridgeURL)

	require.NoError(t, ws.WriteJSON(map[string]interface{}{
		"event": "media",
		"media": map[string]string{"timestamp": "0", "payload": "AAAA"},
	}))

	expectClose(t, ws, websocket.ClosePolicyViolation, "Unexpected event")
}

func TestHandleMediaStream_RejectsMissingToken(t *testing.T) {
	bridgeURL, _ := startBridge(t, testConfig(), "ws://unused.invalid")
	ws := dialBridge(t, bridgeURL)

	require.NoError(t, ws.WriteJSON(map[string]string{"event": "connected"}))
	sendStart(t, ws, "MZ123", "")

	expectClose(t, ws, websocket.ClosePolicyViolation, "Invalid or missing token")
}

func TestHandleMediaStream_RejectsUnknownToken(t *testing.T) {
	bridgeURL, _ := startBridge(t, testConfig(), "ws://unused.invalid")
	ws := dialBridge(t, bridgeURL)

	sendStart(t, ws, "MZ123", "never-issued")

	expectClose(t, ws, websocket.ClosePolicyViolation, "Invalid or missing token")
}

func TestHandleMediaStream_TokenIsSingleUse(t *testing.T) {
	upstream := newFakeUpstream(t)
	bridgeURL, tokens := startBridge(t, testConfig(), upstream.wsURL())

	tok, err := tokens.Issue()
	require.NoError(t, err)

	first := dialBridge(t, bridgeURL)
	sendStart(t, first, "MZ123", tok.Value)
	// First connection authenticates and reaches the relay; the model
	// speaks, so a media frame arrives.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = first.ReadMessage()
	require.NoError(t, err)

	second := dialBridge(t, bridgeURL)
	sendStart(t, second, "MZ456", tok.Value)
	expectClose(t, second, websocket.ClosePolicyViolation, "Invalid or missing token")
}

func TestHandleMediaStream_FullRelay(t *testing.T) {
	upstream := newFakeUpstream(t)
	bridgeURL, tokens := startBridge(t, testConfig(), upstream.wsURL())

	tok, err := tokens.Issue()
	require.NoError(t, err)

	ws := dialBridge(t, bridgeURL)
	require.NoError(t, ws.WriteJSON(map[string]string{"event": "connected"}))
	sendStart(t, ws, "MZ123", tok.Value)

	// Model audio comes back as a media frame followed by a mark.
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	var media struct {
		Event     string `json:"event"`
		StreamSid string `json:"streamSid"`
		Media     struct {
			Payload string `json:"payload"`
		} `json:"media"`
	}
	require.NoError(t, json.Unmarshal(msg, &media))
	assert.Equal(t, "media", media.Event)
	assert.Equal(t, "MZ123", media.StreamSid)
	assert.Equal(t, "SPEECH", media.Media.Payload)

	_, msg, err = ws.ReadMessage()
	require.NoError(t, err)
	var mark struct {
		Event string `json:"event"`
		Mark  struct {
			Name string `json:"name"`
		} `json:"mark"`
	}
	require.NoError(t, json.Unmarshal(msg, &mark))
	assert.Equal(t, "mark", mark.Event)
	assert.Equal(t, "responsePart", mark.Mark.Name)

	// Caller audio is forwarded upstream unmodified.
	require.NoError(t, ws.WriteJSON(map[string]interface{}{
		"event": "media",
		"media": map[string]string{"timestamp": "120", "payload": "CALLERAUDIO"},
	}))
	select {
	case got := <-upstream.appends:
		assert.Equal(t, "CALLERAUDIO", got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded caller audio")
	}

	// Stop tears the session down.
	require.NoError(t, ws.WriteJSON(map[string]string{"event": "stop"}))
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
}
