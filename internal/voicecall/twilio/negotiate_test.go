package twilio

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type negotiationResult struct {
	info StartInfo
	err  error
}

// dialNegotiator stands up a server that runs AwaitStart on the
// accepted connection and returns a client socket to feed it frames.
func dialNegotiator(t *testing.T, timeout time.Duration) (*websocket.Conn, <-chan negotiationResult) {
	t.Helper()
	results := make(chan negotiationResult, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conn := NewConn(ws)
		info, err := conn.AwaitStart(timeout)
		results <- negotiationResult{info: info, err: err}
		conn.Close()
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, results
}

func TestAwaitStart_ConnectedThenStart(t *testing.T) {
	client, results := dialNegotiator(t, 2*time.Second)

	require.NoError(t, client.WriteJSON(map[string]string{"event": "connected"}))
	require.NoError(t, client.WriteJSON(map[string]interface{}{
		"event": "start",
		"start": map[string]interface{}{
			"streamSid":        "MZ123",
			"customParameters": map[string]string{"token": "tok-1"},
		},
	}))

	result := <-results
	require.NoError(t, result.err)
	assert.Equal(t, "MZ123", result.info.StreamSid)
	assert.Equal(t, "tok-1", result.info.CustomParameters["token"])
}

func TestAwaitStart_StartWithoutConnected(t *testing.T) {
	client, results := dialNegotiator(t, 2*time.Second)

	require.NoError(t, client.WriteJSON(map[string]interface{}{
		"event": "start",
		"start": map[string]interface{}{
			"streamSid":        "MZ456",
			"customParameters": map[string]string{"token": "tok-2"},
		},
	}))

	result := <-results
	require.NoError(t, result.err)
	assert.Equal(t, "MZ456", result.info.StreamSid)
}

func TestAwaitStart_RepeatedConnectedIsSkipped(t *testing.T) {
	client, results := dialNegotiator(t, 2*time.Second)

	for i := 0; i < 3; i++ {
		require.NoError(t, client.WriteJSON(map[string]string{"event": "connected"}))
	}
	require.NoError(t, client.WriteJSON(map[string]interface{}{
		"event": "start",
		"start": map[string]interface{}{"streamSid": "MZ789"},
	}))

	result := <-results
	require.NoError(t, result.err)
	assert.Equal(t, "MZ789", result.info.StreamSid)
}

func TestAwaitStart_UnexpectedEvent(t *testing.T) {
	client, results := dialNegotiator(t, 2*time.Second)

	require.NoError(t, client.WriteJSON(map[string]interface{}{
		"event": "media",
		"media": map[string]string{"timestamp": "0", "payload": "AAAA"},
	}))

	result := <-results
	require.ErrorIs(t, result.err, ErrUnexpectedEvent)
}

func TestAwaitStart_TimesOutWithoutStart(t *testing.T) {
	_, results := dialNegotiator(t, 100*time.Millisecond)

	result := <-results
	require.Error(t, result.err)
	require.NotErrorIs(t, result.err, ErrUnexpectedEvent)
}

func TestConn_OutboundMessageShapes(t *testing.T) {
	messages := make(chan []byte, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conn := NewConn(ws)
		require.NoError(t, conn.WriteMedia("MZ123", "AAAA"))
		require.NoError(t, conn.WriteMark("MZ123", "responsePart"))
		require.NoError(t, conn.WriteClear("MZ123"))
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	for i := 0; i < 3; i++ {
		_, msg, err := client.ReadMessage()
		require.NoError(t, err)
		messages <- msg
	}

	var media struct {
		Event     string `json:"event"`
		StreamSid string `json:"streamSid"`
		Media     struct {
			Payload string `json:"payload"`
		} `json:"media"`
	}
	require.NoError(t, json.Unmarshal(<-messages, &media))
	assert.Equal(t, "media", media.Event)
	assert.Equal(t, "MZ123", media.StreamSid)
	assert.Equal(t, "AAAA", media.Media.Payload)

	var mark struct {
		Event string `json:"event"`
		Mark  struct {
			Name string `json:"name"`
		} `json:"mark"`
	}
	require.NoError(t, json.Unmarshal(<-messages, &mark))
	assert.Equal(t, "mark", mark.Event)
	assert.Equal(t, "responsePart", mark.Mark.Name)

	var clear struct {
		Event     string `json:"event"`
		StreamSid string `json:"streamSid"`
	}
	require.NoError(t, json.Unmarshal(<-messages, &clear))
	assert.Equal(t, "clear", clear.Event)
	assert.Equal(t, "MZ123", clear.StreamSid)
}
