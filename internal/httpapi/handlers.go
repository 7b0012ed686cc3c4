package httpapi

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/gnaritas/openclaw-advanced-voice/internal/authgate"
	"github.com/gnaritas/openclaw-advanced-voice/internal/calls"
	"github.com/gnaritas/openclaw-advanced-voice/internal/config"
	"github.com/gnaritas/openclaw-advanced-voice/internal/prompts"
	"github.com/gnaritas/openclaw-advanced-voice/internal/telephony"
	"github.com/gnaritas/openclaw-advanced-voice/pkg/logger"
)

// CallPlacer abstracts the telephony REST client for handler tests.
type CallPlacer interface {
	PlaceCall(ctx context.Context, req telephony.PlaceCallRequest) (telephony.PlaceCallResult, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON
// or TwiML.
type Handlers struct {
	Cfg      config.Config
	Registry *calls.Registry
	Policy   authgate.Policy
	Prompts  prompts.Set
	Twilio   CallPlacer
	Log      *slog.Logger

	// RunSession bridges one accepted media stream for the duration of the
	// call; wired in main so handlers stay transport-only.
	RunSession func(ctx context.Context, media telephony.MediaStream)

	// Limiter caps concurrent bridged calls; nil disables the cap.
	Limiter *CallLimiter
}

// The provider connects server-to-server with no browser origin.
var mediaUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// Root reports service identity for quick checks.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "Voice relay server", "version": "1.0"})
}

// RequireVoiceKey guards call placement and result polling with the shared
// X-Voice-Key secret.
func (h *Handlers) RequireVoiceKey(c *gin.Context) {
	key := c.GetHeader("X-Voice-Key")
	if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(h.Cfg.App.VoiceAPIKey)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing X-Voice-Key"})
		return
	}
	c.Next()
}

type placeCallRequest struct {
	Mission       string `json:"mission"`
	Role          string `json:"role"`
	AgentTimezone string `json:"agent_timezone"`
}

// PlaceCallByContact starts an outbound call to a configured contact id.
func (h *Handlers) PlaceCallByContact(c *gin.Context) {
	contactID := c.Param("contact_id")
	number, ok := h.Cfg.Calls.Contacts[contactID]
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "contact not found: " + contactID})
		return
	}
	h.placeCall(c, number)
}

// PlaceCallByNumber starts an outbound call to a raw phone number.
func (h *Handlers) PlaceCallByNumber(c *gin.Context) {
	number := c.Param("number")
	if !strings.HasPrefix(number, "+") {
		number = "+" + number
	}
	h.placeCall(c, number)
}

func (h *Handlers) placeCall(c *gin.Context, number string) {
	var req placeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	// Outbound calls are mission-only.
	if strings.TrimSpace(req.Mission) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "mission is required for outbound calls"})
		return
	}
	role := req.Role
	if role == "" {
		role = "personal assistant"
	}
	timezone := req.AgentTimezone
	if timezone == "" {
		timezone = h.Cfg.Calls.DefaultTimezone
	}

	base := h.baseURL(c)
	res, err := h.Twilio.PlaceCall(c.Request.Context(), telephony.PlaceCallRequest{
		To:                number,
		CallbackURL:       base + "/twiml?timezone=" + timezone,
		StatusCallbackURL: base + "/call-status",
	})
	if err != nil {
		h.Log.Error("call placement failed", "to", number, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// The rendered prompt stays server-side, keyed by call SID. The telephony
	// provider only ever carries audio and metadata.
	h.Registry.StoreMission(res.CallSID, h.Prompts.RenderMission(role, req.Mission))
	h.Registry.Track(res.CallSID, calls.StatusInitiated, func(call *calls.Call) {
		call.Direction = calls.DirectionOutbound
		call.To = number
		call.Timezone = timezone
		call.Mission = req.Mission
	})

	h.Log.Info("outbound call placed", "call_sid", res.CallSID, "to", number)
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"call_sid": res.CallSID,
		"to":       number,
		"from":     h.Cfg.Twilio.Number,
		"status":   res.Status,
	})
}

// IncomingCall answers the provider webhook for inbound calls: allowed
// callers get TwiML connecting them to the media stream, everyone else a
// spoken denial.
func (h *Handlers) IncomingCall(c *gin.Context) {
	form, err := telephony.ParseInboundCall(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid webhook form"})
		return
	}

	decision := h.Policy.CheckInbound(form.From)
	if !decision.Allowed {
		h.Log.Warn("inbound caller rejected", "from", form.From, "call_sid", form.CallSID)
		xml, err := telephony.RenderDenial("Access denied.")
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Data(http.StatusOK, "application/xml", []byte(xml))
		return
	}

	h.Log.Info("inbound caller accepted", "from", form.From, "call_sid", form.CallSID, "mode", decision.Mode)
	xml, err := telephony.RenderConnectStream(h.wsURL(c), []telephony.StreamParameter{
		{Name: telephony.ParamCallDirection, Value: string(calls.DirectionInbound)},
		{Name: telephony.ParamCallSID, Value: form.CallSID},
		{Name: telephony.ParamTimezone, Value: h.Cfg.Calls.DefaultTimezone},
	})
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "application/xml", []byte(xml))
}

// TwiML serves the stream-connect document for outbound calls. The mission is
// never here; only the direction and timezone ride along as parameters.
func (h *Handlers) TwiML(c *gin.Context) {
	timezone := c.Query("timezone")
	if timezone == "" {
		timezone = h.Cfg.Calls.DefaultTimezone
	}
	xml, err := telephony.RenderConnectStream(h.wsURL(c), []telephony.StreamParameter{
		{Name: telephony.ParamCallDirection, Value: string(calls.DirectionOutbound)},
		{Name: telephony.ParamTimezone, Value: timezone},
	})
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "application/xml", []byte(xml))
}

// CallStatus ingests provider status callbacks.
func (h *Handlers) CallStatus(c *gin.Context) {
	form, err := telephony.ParseStatusCallback(c.Request)
	if err != nil || form.CallSID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid status callback"})
		return
	}
	h.Log.Info("call status", "call_sid", form.CallSID, "status", form.CallStatus)
	h.Registry.ApplyProviderStatus(form.CallSID, form.CallStatus)
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

// CallResult serves the tracked outcome for polling agents.
func (h *Handlers) CallResult(c *gin.Context) {
	callSID := c.Param("call_sid")
	call, ok := h.Registry.Get(callSID)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "unknown", "call_sid": callSID})
		return
	}
	c.JSON(http.StatusOK, call)
}

// MediaStream upgrades the provider's websocket and hands it to the relay for
// the lifetime of the call.
func (h *Handlers) MediaStream(c *gin.Context) {
	if h.RunSession == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "relay not configured"})
		return
	}

	log := logger.FromGin(c)
	conn, err := mediaUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("media stream upgrade failed", "error", err)
		return
	}
	media := telephony.NewWSMediaStream(conn)

	ctx := logger.With(c.Request.Context(), log)
	if h.Limiter != nil {
		ok, err := h.Limiter.Acquire(ctx)
		if err != nil {
			log.Warn("call cap check failed, admitting call", "error", err)
		} else if !ok {
			log.Warn("concurrent call cap reached, refusing stream")
			_ = media.Close()
			return
		} else {
			defer h.Limiter.Release(context.Background())
		}
	}

	h.RunSession(ctx, media)
}

// Healthz is the liveness probe.
func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// baseURL resolves the externally reachable HTTP base for provider callbacks.
func (h *Handlers) baseURL(c *gin.Context) string {
	if h.Cfg.App.PublicURL != "" {
		return h.Cfg.App.PublicURL
	}
	host := c.Request.Host
	if tunneledHost(host) {
		return "https://" + host
	}
	return "http://" + host
}

// wsURL resolves the media-stream websocket URL handed to the provider.
func (h *Handlers) wsURL(c *gin.Context) string {
	if h.Cfg.App.PublicURL != "" {
		host := strings.TrimPrefix(strings.TrimPrefix(h.Cfg.App.PublicURL, "https://"), "http://")
		return "wss://" + host + "/media-stream"
	}
	host := c.Request.Host
	if tunneledHost(host) {
		return "wss://" + host + "/media-stream"
	}
	return "ws://" + host + "/media-stream"
}

func tunneledHost(host string) bool {
	return strings.Contains(host, "trycloudflare.com") ||
		strings.Contains(host, "ngrok") ||
		strings.Contains(host, "loca.lt")
}
