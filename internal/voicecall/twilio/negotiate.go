package twilio

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnexpectedEvent is returned when a frame other than connected or
// start arrives before negotiation completes.
var ErrUnexpectedEvent = errors.New("unexpected event before start")

// StartInfo is the outcome of a successful handshake.
type StartInfo struct {
	StreamSid        string
	CustomParameters map[string]string
}

// AwaitStart reads frames until the start event arrives. Twilio sends
// connected first; any number of connected frames are skipped. Any
// other event before start is a protocol violation. The whole
// negotiation is bounded by timeout via a read deadline.
func (c *Conn) AwaitStart(timeout time.Duration) (StartInfo, error) {
	if err := c.ws.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return StartInfo{}, fmt.Errorf("failed to set handshake deadline: %w", err)
	}
	// The relay itself has no deadline once established.
	defer c.ws.SetReadDeadline(time.Time{})

	for {
		frame, err := c.ReadFrame()
		if err != nil {
			return StartInfo{}, fmt.Errorf("failed to read handshake frame: %w", err)
		}

		switch frame.Event {
		case EventConnected:
			continue
		case EventStart:
			if frame.Start == nil {
				return StartInfo{}, fmt.Errorf("start frame missing start section")
			}
			return StartInfo{
				StreamSid:        frame.Start.StreamSid,
				CustomParameters: frame.Start.CustomParameters,
			}, nil
		default:
			return StartInfo{}, fmt.Errorf("%w: %s", ErrUnexpectedEvent, frame.Event)
		}
	}
}
