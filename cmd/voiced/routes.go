package main

import (
	"github.com/gin-gonic/gin"

	"github.com/gnaritas/openclaw-advanced-voice/internal/httpapi"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, h *httpapi.Handlers) {
	// public
	r.GET("/", h.Root)
	r.GET("/healthz", h.Healthz)

	// Provider webhooks (public).
	// NOTE: These should be protected by Twilio signature validation in production.
	r.GET("/incoming-call", h.IncomingCall)
	r.POST("/incoming-call", h.IncomingCall)
	r.GET("/twiml", h.TwiML)
	r.POST("/twiml", h.TwiML)
	r.POST("/call-status", h.CallStatus)
	r.GET("/media-stream", h.MediaStream)

	// Agent-facing API, gated by the shared voice key.
	gated := r.Group("/", h.RequireVoiceKey)
	{
		gated.POST("/call/id/:contact_id", h.PlaceCallByContact)
		gated.POST("/call/number/:number", h.PlaceCallByNumber)
		gated.GET("/call/:call_sid/result", h.CallResult)
	}
}
