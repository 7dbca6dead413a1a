package relay

import (
	"context"
	"fmt"

	"voice-bridge/internal/observability"
)

// handleSpeechStarted reacts to the caller talking over the model.
// When the model is mid-utterance with marks still pending, the
// truncation offset is the inbound clock distance since the turn's
// audio began: the model is told to cut its record of the item there,
// and Twilio is told to flush buffered audio so stale playback stops
// immediately. With nothing queued to interrupt this is a no-op.
func (e *Engine) handleSpeechStarted(ctx context.Context) {
	itemID, streamSid, elapsedMs, ok := e.state.TakeInterruption()
	if !ok {
		return
	}

	ctx = observability.WithFields(ctx,
		observability.Field{Key: "item_id", Value: itemID},
		observability.Field{Key: "stream_sid", Value: streamSid},
	)
	e.logger.Info(ctx, fmt.Sprintf("Interrupting response at %dms", elapsedMs))

	if err := e.modelLeg.TruncateItem(itemID, elapsedMs); err != nil {
		e.logger.Error(ctx, "Failed to send truncate command", err)
	}
	if err := e.twilioLeg.WriteClear(streamSid); err != nil {
		e.logger.Error(ctx, "Failed to clear caller audio buffer", err)
	}
}
