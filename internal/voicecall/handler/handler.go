package handler

import (
	"net/http"

	"voice-bridge/internal/clients/openai"
	"voice-bridge/internal/config"
	"voice-bridge/internal/observability"
	"voice-bridge/internal/token"

	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/gorilla/websocket"
)

// Handler serves the call-admission webhook and the media-stream
// relay endpoint.
type Handler struct {
	tokens    *token.Store
	realtime  *openai.Client
	cfg       *config.Config
	validator twilioclient.RequestValidator
	logger    *observability.Logger
}

func New(tokens *token.Store, realtime *openai.Client, cfg *config.Config, logger *observability.Logger) Handler {
	return Handler{
		tokens:    tokens,
		realtime:  realtime,
		cfg:       cfg,
		validator: twilioclient.NewRequestValidator(cfg.Twilio.AuthToken),
		logger:    logger,
	}
}

// upgrader is a shared WebSocket upgrader. Twilio does not send an
// Origin header, so the check is permissive.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}
