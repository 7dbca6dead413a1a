package relay

import (
	"voice-bridge/internal/clients/openai"
	"voice-bridge/internal/voicecall/twilio"
)

// TwilioLeg is the caller-side connection as seen by the relay.
type TwilioLeg interface {
	ReadFrame() (twilio.StreamFrame, error)
	WriteMedia(streamSid, payload string) error
	WriteMark(streamSid, name string) error
	WriteClear(streamSid string) error
	Close() error
}

// ModelLeg is the model-side connection as seen by the relay.
type ModelLeg interface {
	ReadEvent() (openai.ServerEvent, error)
	AppendAudio(payload string) error
	TruncateItem(itemID string, audioEndMs int64) error
	IsOpen() bool
	Close() error
}
