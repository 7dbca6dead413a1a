package twilio

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn wraps an accepted Media Streams WebSocket. Reads happen from a
// single goroutine; writes may come from several and are serialized by
// a mutex.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// NewConn wraps an upgraded WebSocket connection.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// ReadFrame blocks for the next inbound frame.
func (c *Conn) ReadFrame() (StreamFrame, error) {
	_, msg, err := c.ws.ReadMessage()
	if err != nil {
		return StreamFrame{}, err
	}
	return ParseFrame(msg)
}

// WriteMedia sends an audio payload addressed to the given stream.
func (c *Conn) WriteMedia(streamSid, payload string) error {
	return c.writeJSON(mediaMessage{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     mediaPayload{Payload: payload},
	})
}

// WriteMark emits a playback-position mark on the given stream.
func (c *Conn) WriteMark(streamSid, name string) error {
	return c.writeJSON(markMessage{
		Event:     EventMark,
		StreamSid: streamSid,
		Mark:      markName{Name: name},
	})
}

// WriteClear tells Twilio to drop any buffered audio for the stream.
func (c *Conn) WriteClear(streamSid string) error {
	return c.writeJSON(clearMessage{
		Event:     EventClear,
		StreamSid: streamSid,
	})
}

func (c *Conn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// CloseWithReason sends a close control frame with the given code and
// reason, then closes the connection.
func (c *Conn) CloseWithReason(code int, reason string) error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}

// Close closes the underlying connection without a close handshake.
func (c *Conn) Close() error {
	return c.ws.Close()
}
