package handler

import (
	"errors"
	"time"

	"voice-bridge/internal/clients/openai"
	"voice-bridge/internal/observability"
	"voice-bridge/internal/token"
	"voice-bridge/internal/voicecall/relay"
	"voice-bridge/internal/voicecall/twilio"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// handshakeTimeout bounds the wait for the start event. The relay
// itself has no deadline once established.
const handshakeTimeout = 10 * time.Second

// Close reasons sent on handshake failures.
const (
	reasonUnexpectedEvent = "Unexpected event"
	reasonInvalidToken    = "Invalid or missing token"
	reasonTokenExpired    = "Token expired"
	reasonAuthError       = "Authentication error"
)

// HandleMediaStream upgrades the Twilio Media Streams connection,
// negotiates the start handshake, authenticates the single-use token,
// brings up the model session and runs the relay until either leg
// drops. Every failure path is fatal for this connection only; the
// caller's remedy is always to place a new call.
func (h *Handler) HandleMediaStream(c *gin.Context) {
	ctx := c.Request.Context()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error(ctx, "WebSocket upgrade failed", err)
		return
	}
	conn := twilio.NewConn(ws)

	start, err := conn.AwaitStart(handshakeTimeout)
	if err != nil {
		if errors.Is(err, twilio.ErrUnexpectedEvent) {
			h.logger.Warn(ctx, "Handshake rejected: unexpected event")
			_ = conn.CloseWithReason(websocket.ClosePolicyViolation, reasonUnexpectedEvent)
		} else {
			h.logger.Error(ctx, "Handshake failed", err)
			_ = conn.Close()
		}
		return
	}
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "stream_sid", Value: start.StreamSid})

	tokenValue := start.CustomParameters["token"]
	if tokenValue == "" {
		h.logger.Warn(ctx, "Handshake rejected: missing token")
		_ = conn.CloseWithReason(websocket.ClosePolicyViolation, reasonInvalidToken)
		return
	}
	switch err := h.tokens.ValidateAndConsume(tokenValue); {
	case errors.Is(err, token.ErrTokenExpired):
		h.logger.Warn(ctx, "Handshake rejected: token expired")
		_ = conn.CloseWithReason(websocket.ClosePolicyViolation, reasonTokenExpired)
		return
	case errors.Is(err, token.ErrInvalidToken):
		h.logger.Warn(ctx, "Handshake rejected: invalid token")
		_ = conn.CloseWithReason(websocket.ClosePolicyViolation, reasonInvalidToken)
		return
	case err != nil:
		h.logger.Error(ctx, "Handshake failed during token validation", err)
		_ = conn.CloseWithReason(websocket.CloseInternalServerErr, reasonAuthError)
		return
	}
	h.logger.Info(ctx, "Client connected with valid token")

	modelConn, err := h.realtime.Dial(ctx, h.cfg.Assistant.Temperature)
	if err != nil {
		// Upstream connect failure surfaces to the caller as a closed
		// inbound connection; no retry.
		h.logger.Error(ctx, "Failed to open model connection", err)
		_ = conn.Close()
		return
	}
	defer modelConn.Close()

	opts := openai.SessionOptions{
		Voice:        h.cfg.Assistant.Voice,
		Instructions: h.cfg.Assistant.Instructions,
		Tools: []openai.MCPTool{
			{
				Type:        "mcp",
				ServerLabel: "zapier",
				ServerURL:   h.cfg.Tools.ZapierMCPURL,
				Headers: map[string]string{
					"Authorization": "Bearer " + h.cfg.Tools.ZapierMCPPassword,
				},
				RequireApproval: "never",
			},
		},
	}
	if err := modelConn.ConfigureSession(ctx, opts); err != nil {
		h.logger.Error(ctx, "Failed to configure model session", err)
		_ = conn.Close()
		return
	}
	if err := modelConn.PrimeGreeting(ctx); err != nil {
		h.logger.Error(ctx, "Failed to prime greeting", err)
		_ = conn.Close()
		return
	}

	engine := relay.NewEngine(conn, modelConn, start.StreamSid, h.logger)
	engine.Run(ctx)
}
