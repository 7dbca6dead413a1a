package handler

import (
	"fmt"
	"net/http"
	"net/url"

	"voice-bridge/internal/apierrors"
	"voice-bridge/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go/twiml"
)

// HandleIncomingCall authenticates a Twilio call webhook and answers
// with TwiML connecting the call to the media-stream relay, carrying a
// freshly issued single-use token as a custom stream parameter.
func (h *Handler) HandleIncomingCall(c *gin.Context) {
	ctx := c.Request.Context()

	if err := c.Request.ParseForm(); err != nil {
		apierrors.BadRequest(c, "BAD_FORM", "failed to parse request body")
		return
	}
	params := make(map[string]string, len(c.Request.PostForm))
	for key, values := range c.Request.PostForm {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	// The signature covers the exact public URL Twilio requested.
	// Behind a proxy that is described by the forwarded headers, not
	// by what the local listener saw.
	requestURL := h.publicRequestURL(c)
	signature := c.GetHeader("X-Twilio-Signature")
	if !h.validator.Validate(requestURL, params, signature) {
		h.logger.Warn(observability.WithFields(ctx,
			observability.Field{Key: "validated_url", Value: requestURL}),
			"Twilio signature validation failed")
		apierrors.Forbidden(c, "INVALID_SIGNATURE", "Invalid Twilio signature")
		return
	}

	tok, err := h.tokens.Issue()
	if err != nil {
		apierrors.InternalError(c, err)
		return
	}

	streamURL := fmt.Sprintf("wss://%s/media-stream", h.streamHost(c))
	h.logger.Info(observability.WithFields(ctx,
		observability.Field{Key: "stream_url", Value: streamURL}),
		"Admitting call to media stream")

	stream := twiml.VoiceStream{
		Url: streamURL,
		InnerElements: []twiml.Element{
			twiml.VoiceParameter{Name: "token", Value: tok.Value},
		},
	}
	connect := twiml.VoiceConnect{
		InnerElements: []twiml.Element{stream},
	}

	twimlResult, err := twiml.Voice([]twiml.Element{connect})
	if err != nil {
		apierrors.InternalError(c, err)
		return
	}
	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, twimlResult)
}

// publicRequestURL reconstructs the URL as the caller saw it,
// honoring X-Forwarded-Proto and Host.
func (h *Handler) publicRequestURL(c *gin.Context) string {
	scheme := c.GetHeader("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
	}
	requestURL := fmt.Sprintf("%s://%s%s", scheme, c.Request.Host, c.Request.URL.Path)
	if query := c.Request.URL.RawQuery; query != "" {
		requestURL += "?" + query
	}
	return requestURL
}

// streamHost picks the host for the relay WebSocket: the configured
// external base URL when it parses, otherwise the request host.
func (h *Handler) streamHost(c *gin.Context) string {
	if u, err := url.Parse(h.cfg.Server.WebhookURL); err == nil && u.Host != "" {
		return u.Host
	}
	return c.Request.Host
}
