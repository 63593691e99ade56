package httpapi

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"voicebridge/internal/bridge"
	"voicebridge/internal/reporting"
	"voicebridge/internal/telephony"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Bridge    *bridge.Controller
	Provider  telephony.Provider
	Reporting *reporting.Service
	Limiter   telephony.CapacityLimiter

	// StreamURL is the public wss endpoint for outbound call audio.
	StreamURL string
	// StatusCallbackURL receives provider lifecycle webhooks.
	StatusCallbackURL string

	EnableOutbound bool
	EnableTransfer bool
	RecordCalls    bool
}

var phonePattern = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// maxInstructionsLen caps per-call instruction overrides; anything
// longer belongs in the configured system prompt.
const maxInstructionsLen = 2000

func validVoice(v string) bool {
	switch v {
	case "", "alloy", "echo", "shimmer":
		return true
	default:
		return false
	}
}

// --- Calls ---

// ListActiveCalls returns the sessions the bridge currently holds.
func (h Handlers) ListActiveCalls(c *gin.Context) {
	if h.Bridge == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "bridge not configured"})
		return
	}
	sessions := h.Bridge.ListActive()
	c.JSON(http.StatusOK, gin.H{
		"count": len(sessions),
		"calls": sessions,
	})
}

type outboundCallRequest struct {
	To           string `json:"to"`
	Instructions string `json:"instructions,omitempty"`
	Voice        string `json:"voice,omitempty"`
}

// PlaceOutboundCall starts a provider call that will stream back into
// the bridge once answered.
func (h Handlers) PlaceOutboundCall(c *gin.Context) {
	if !h.EnableOutbound {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "outbound calls disabled"})
		return
	}
	if h.Provider == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "telephony provider not configured"})
		return
	}

	var req outboundCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !phonePattern.MatchString(req.To) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be E.164, e.g. +15551234567"})
		return
	}
	if !validVoice(req.Voice) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "voice must be one of alloy, echo, shimmer"})
		return
	}
	if len(req.Instructions) > maxInstructionsLen {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "instructions too long"})
		return
	}

	rec, err := h.Provider.PlaceCall(c.Request.Context(), telephony.OutboundCallRequest{
		To:                req.To,
		StreamURL:         h.StreamURL,
		Record:            h.RecordCalls,
		DetectMachine:     true,
		StatusCallbackURL: h.StatusCallbackURL,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	// Per-call overrides are stashed so the webhook-driven session
	// pickup can apply them when media starts flowing.
	if h.Bridge != nil && (req.Instructions != "" || req.Voice != "") {
		h.Bridge.SetOverrides(rec.CallSID, bridge.Overrides{
			Instructions: req.Instructions,
			Voice:        req.Voice,
		})
	}

	c.JSON(http.StatusCreated, gin.H{
		"call_sid": rec.CallSID,
		"to":       rec.To,
		"status":   rec.Status,
	})
}

// GetCall describes one call: live session detail when the bridge
// holds it, otherwise the provider record.
func (h Handlers) GetCall(c *gin.Context) {
	callSID := c.Param("call_sid")
	if callSID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_sid required"})
		return
	}

	if h.Bridge != nil {
		if snap, err := h.Bridge.Describe(callSID); err == nil {
			c.JSON(http.StatusOK, gin.H{"source": "bridge", "call": snap})
			return
		}
	}

	if h.Provider == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	rec, err := h.Provider.GetCall(c.Request.Context(), callSID)
	if err != nil {
		if errors.Is(err, telephony.ErrCallNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"source": "provider", "call": rec})
}

// EndCall hangs up at the provider and tears down the bridge session.
func (h Handlers) EndCall(c *gin.Context) {
	callSID := c.Param("call_sid")
	if callSID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_sid required"})
		return
	}

	if h.Provider != nil {
		if err := h.Provider.EndCall(c.Request.Context(), callSID); err != nil && !errors.Is(err, telephony.ErrCallNotFound) {
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
	}
	if h.Bridge != nil {
		h.Bridge.Terminate(callSID)
	}
	if h.Limiter != nil {
		h.Limiter.Release(c.Request.Context(), callSID)
	}
	c.JSON(http.StatusOK, gin.H{"call_sid": callSID, "status": "ended"})
}

type transferRequest struct {
	TargetNumber string `json:"target_number"`
	Announcement string `json:"announcement,omitempty"`
}

// TransferCall redirects a live call to a human agent.
func (h Handlers) TransferCall(c *gin.Context) {
	if !h.EnableTransfer {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "human transfer disabled"})
		return
	}
	callSID := c.Param("call_sid")
	if callSID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_sid required"})
		return
	}
	if h.Provider == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "telephony provider not configured"})
		return
	}

	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !phonePattern.MatchString(req.TargetNumber) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "target_number must be E.164"})
		return
	}

	if err := h.Provider.TransferCall(c.Request.Context(), callSID, req.TargetNumber, req.Announcement); err != nil {
		if errors.Is(err, telephony.ErrCallNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	// The provider redirect ends the media stream; the session follows
	// via the status webhook. Terminating here keeps the registry tidy
	// even if that webhook never lands.
	if h.Bridge != nil {
		h.Bridge.Terminate(callSID)
	}
	c.JSON(http.StatusOK, gin.H{"call_sid": callSID, "status": "transferred", "target": req.TargetNumber})
}

// --- Stats ---

// StatsSummary aggregates recent provider call records.
func (h Handlers) StatsSummary(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}

	var req reporting.StatsRequest
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		req.Limit = n
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		req.Range.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
		req.Range.To = t
	}

	stats, err := h.Reporting.Stats(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid time range"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// --- Health ---

func (h Handlers) Healthz(c *gin.Context) {
	active := 0
	if h.Bridge != nil {
		active = h.Bridge.ActiveCount()
	}

	status := http.StatusOK
	body := gin.H{
		"status":       "ok",
		"active_calls": active,
	}
	if h.Provider != nil {
		if err := h.Provider.HealthCheck(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["telephony"] = err.Error()
		} else {
			body["telephony"] = "ok"
		}
	}
	c.JSON(status, body)
}
