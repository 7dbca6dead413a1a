package twilio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrBadFrame marks a message that could not be decoded as a Media
// Streams frame. Callers may skip such frames rather than drop the
// connection.
var ErrBadFrame = errors.New("malformed media stream frame")

// Media Streams event discriminants.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventStop      = "stop"
	EventClear     = "clear"
)

// StreamFrame is one inbound message on a Twilio Media Streams
// connection, tagged by Event. Only the section matching the event
// type is populated.
type StreamFrame struct {
	Event string      `json:"event"`
	Start *StartFrame `json:"start,omitempty"`
	Media *MediaFrame `json:"media,omitempty"`
	Mark  *MarkFrame  `json:"mark,omitempty"`
	Stop  *StopFrame  `json:"stop,omitempty"`
}

// StartFrame carries the stream identity and the custom parameters set
// on the TwiML <Stream> element.
type StartFrame struct {
	StreamSid        string            `json:"streamSid"`
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

// MediaFrame carries one chunk of caller audio.
type MediaFrame struct {
	Timestamp string `json:"timestamp"` // milliseconds, sent as a decimal string
	Payload   string `json:"payload"`   // base64 G.711 mu-law
}

// TimestampMs parses the frame timestamp; a missing or malformed value
// parses as 0.
func (m *MediaFrame) TimestampMs() int64 {
	if m == nil {
		return 0
	}
	ts, err := strconv.ParseInt(m.Timestamp, 10, 64)
	if err != nil {
		return 0
	}
	return ts
}

// MarkFrame acknowledges a previously emitted playback mark.
type MarkFrame struct {
	Name string `json:"name"`
}

// StopFrame signals the end of the stream.
type StopFrame struct {
	StreamSid string `json:"streamSid"`
}

// ParseFrame decodes one Media Streams message.
func ParseFrame(data []byte) (StreamFrame, error) {
	var frame StreamFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return StreamFrame{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if frame.Event == "" {
		return StreamFrame{}, fmt.Errorf("%w: missing event type", ErrBadFrame)
	}
	return frame, nil
}

// mediaMessage is an outbound media frame addressed to a stream.
type mediaMessage struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

// markMessage asks Twilio to echo a mark back once the preceding audio
// has been played.
type markMessage struct {
	Event     string   `json:"event"`
	StreamSid string   `json:"streamSid"`
	Mark      markName `json:"mark"`
}

type markName struct {
	Name string `json:"name"`
}

// clearMessage flushes any buffered, not-yet-played audio.
type clearMessage struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}
