package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"voice-bridge/internal/clients/openai"
	"voice-bridge/internal/observability"
	"voice-bridge/internal/voicecall/twilio"
)

// markLabel names the playback-position marks emitted after each
// forwarded audio delta.
const markLabel = "responsePart"

// Engine forwards audio between the two legs of one call: caller
// frames to the model, model audio back to the caller. Two pumps run
// concurrently over one shared SessionState; either pump exiting
// closes the other side's connection best-effort and ends the session.
// A broken leg is never retried.
type Engine struct {
	twilioLeg TwilioLeg
	modelLeg  ModelLeg
	state     *SessionState
	logger    *observability.Logger
}

// NewEngine builds a relay for a negotiated stream.
func NewEngine(twilioLeg TwilioLeg, modelLeg ModelLeg, streamSid string, logger *observability.Logger) *Engine {
	return &Engine{
		twilioLeg: twilioLeg,
		modelLeg:  modelLeg,
		state:     NewSessionState(streamSid),
		logger:    logger,
	}
}

// State exposes the shared session state.
func (e *Engine) State() *SessionState {
	return e.state
}

// Run executes both pumps and blocks until the session ends.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		e.pumpInbound(ctx)
		// The caller hung up or the leg broke; take the model down too.
		_ = e.modelLeg.Close()
	}()

	go func() {
		defer wg.Done()
		e.pumpModel(ctx)
		_ = e.twilioLeg.Close()
	}()

	wg.Wait()
	e.logger.Info(ctx, "Relay session ended")
}

// pumpInbound forwards caller frames to the model until the stream
// stops or the leg drops.
func (e *Engine) pumpInbound(ctx context.Context) {
	for {
		frame, err := e.twilioLeg.ReadFrame()
		if err != nil {
			if errors.Is(err, twilio.ErrBadFrame) {
				e.logger.Warn(ctx, fmt.Sprintf("Skipping unparseable frame: %v", err))
				continue
			}
			e.logger.Info(ctx, fmt.Sprintf("Caller leg closed: %v", err))
			return
		}

		switch frame.Event {
		case twilio.EventMedia:
			if frame.Media == nil {
				continue
			}
			e.state.NoteMedia(frame.Media.TimestampMs())
			// Best-effort open check; a lost race surfaces as a write error.
			if !e.modelLeg.IsOpen() {
				continue
			}
			if err := e.modelLeg.AppendAudio(frame.Media.Payload); err != nil {
				e.logger.Error(ctx, "Failed to forward audio to model", err)
				return
			}

		case twilio.EventStart:
			if frame.Start == nil {
				continue
			}
			e.state.Restart(frame.Start.StreamSid)
			e.logger.Info(observability.WithFields(ctx,
				observability.Field{Key: "stream_sid", Value: frame.Start.StreamSid}),
				"Incoming stream has started")

		case twilio.EventMark:
			e.state.AckMark()

		case twilio.EventStop:
			e.logger.Info(ctx, "Stream stopped by caller")
			return

		case twilio.EventConnected:
			// Harmless after negotiation.

		default:
			e.logger.Debug(ctx, fmt.Sprintf("Ignoring inbound event: %s", frame.Event))
		}
	}
}

// pumpModel forwards model audio to the caller and reacts to
// interruption signals until the leg drops.
func (e *Engine) pumpModel(ctx context.Context) {
	for {
		event, err := e.modelLeg.ReadEvent()
		if err != nil {
			e.logger.Info(ctx, fmt.Sprintf("Model leg closed: %v", err))
			return
		}

		if openai.LogWorthy(event.Type) {
			e.logger.Info(ctx, fmt.Sprintf("Received model event: %s", event.Type))
		}

		switch event.Type {
		case openai.EventOutputAudioDelta:
			if event.Delta == "" {
				continue
			}
			// Payload crosses the bridge byte-for-byte; no transcode.
			streamSid := e.state.StreamSid()
			if err := e.twilioLeg.WriteMedia(streamSid, event.Delta); err != nil {
				e.logger.Error(ctx, "Failed to forward audio to caller", err)
				return
			}
			e.state.BeginAssistantTurn(event.ItemID)
			if streamSid != "" {
				if err := e.twilioLeg.WriteMark(streamSid, markLabel); err != nil {
					e.logger.Error(ctx, "Failed to emit playback mark", err)
					return
				}
				e.state.PushMark(markLabel)
			}

		case openai.EventSpeechStarted:
			e.handleSpeechStarted(ctx)

		default:
			// No state mutation for other event types.
		}
	}
}
