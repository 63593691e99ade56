package telephony

import (
	"context"
	"net/http"

	"voicebridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

// SessionController is the slice of the bridge controller the webhook
// layer needs. Keeping it local avoids coupling provider adapters to
// bridge internals.
type SessionController interface {
	Accept(callID string, metadata map[string]string) error
	Terminate(callID string)
}

// CapacityLimiter gates new calls against the concurrent-call cap.
// Release is we-lost-the-call cleanup; it must be safe to call for
// calls that were never acquired.
type CapacityLimiter interface {
	Acquire(ctx context.Context, callID string) (bool, error)
	Release(ctx context.Context, callID string)
}

// WebhookHandler converts provider webhooks into session lifecycle
// operations and writes TwiML back.
//
// No business logic here beyond the status mapping.
type WebhookHandler struct {
	Controller SessionController
	Limiter    CapacityLimiter

	// SigningSecret is the key for X-Twilio-Signature validation.
	// Empty disables validation; config requires it in production, so
	// the skip only applies to local and development runs.
	SigningSecret string

	// StreamURL is the public wss endpoint for call audio.
	StreamURL string
}

// HandleVoice answers an incoming call: starts a bridge session and
// returns TwiML that streams call audio to us.
func (h WebhookHandler) HandleVoice(c *gin.Context) {
	log := logger.FromGin(c)

	form, ok := h.parseAndVerify(c)
	if !ok {
		return
	}
	if form.CallSid == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "CallSid missing"})
		return
	}

	if h.Limiter != nil {
		acquired, err := h.Limiter.Acquire(c.Request.Context(), form.CallSid)
		if err != nil {
			log.Error("capacity check failed", "call_sid", form.CallSid, "err", err)
		}
		if err == nil && !acquired {
			log.Warn("concurrent call cap reached, rejecting", "call_sid", form.CallSid)
			h.writeTwiML(c, func() (string, error) { return BusyTwiML("") })
			return
		}
	}

	meta := map[string]string{
		"from":      form.From,
		"to":        form.To,
		"direction": form.Direction,
	}
	if form.CallerName != "" {
		meta["caller_name"] = form.CallerName
	}
	if err := h.Controller.Accept(form.CallSid, meta); err != nil {
		log.Error("session accept failed", "call_sid", form.CallSid, "err", err)
		if h.Limiter != nil {
			h.Limiter.Release(c.Request.Context(), form.CallSid)
		}
		h.writeTwiML(c, func() (string, error) { return RejectTwiML("busy") })
		return
	}

	log.Info("inbound call accepted", "call_sid", form.CallSid, "from", form.From)
	h.writeTwiML(c, func() (string, error) {
		return StreamTwiML(h.StreamURL, map[string]string{"callSid": form.CallSid})
	})
}

// HandleStatus receives lifecycle callbacks and tears down the bridge
// session once the call reaches a terminal state.
func (h WebhookHandler) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)

	form, ok := h.parseAndVerify(c)
	if !ok {
		return
	}
	if form.CallSid == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "CallSid missing"})
		return
	}

	log.Info("call status update", "call_sid", form.CallSid, "status", form.CallStatus)
	if IsTerminalStatus(form.CallStatus) {
		h.Controller.Terminate(form.CallSid)
		if h.Limiter != nil {
			h.Limiter.Release(c.Request.Context(), form.CallSid)
		}
	}
	c.Status(http.StatusNoContent)
}

// HandleFallback answers the provider's fallback webhook, invoked when
// the primary voice webhook failed. Terminate is a no-op for sessions
// that never started, so it is safe to tear down unconditionally.
func (h WebhookHandler) HandleFallback(c *gin.Context) {
	log := logger.FromGin(c)

	form, ok := h.parseAndVerify(c)
	if !ok {
		return
	}
	if form.CallSid != "" {
		log.Warn("fallback webhook hit", "call_sid", form.CallSid, "status", form.CallStatus)
		h.Controller.Terminate(form.CallSid)
		if h.Limiter != nil {
			h.Limiter.Release(c.Request.Context(), form.CallSid)
		}
	}
	h.writeTwiML(c, FallbackTwiML)
}

// HandleRecording acknowledges recording status callbacks. Recordings
// stay with the provider; we only log the pointer.
func (h WebhookHandler) HandleRecording(c *gin.Context) {
	log := logger.FromGin(c)

	if _, ok := h.parseAndVerify(c); !ok {
		return
	}
	log.Info("recording update",
		"call_sid", c.PostForm("CallSid"),
		"recording_sid", c.PostForm("RecordingSid"),
		"recording_url", c.PostForm("RecordingUrl"),
		"recording_status", c.PostForm("RecordingStatus"),
	)
	c.Status(http.StatusNoContent)
}

func (h WebhookHandler) parseAndVerify(c *gin.Context) (InboundForm, bool) {
	log := logger.FromGin(c)

	form, err := ParseInboundForm(c.Request)
	if err != nil {
		log.Warn("webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return InboundForm{}, false
	}

	if h.SigningSecret != "" {
		sig := c.GetHeader("X-Twilio-Signature")
		fullURL := requestURL(c.Request)
		if !ValidateSignature(h.SigningSecret, fullURL, c.Request.PostForm, sig) {
			log.Warn("webhook signature rejected", "call_sid", form.CallSid)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return InboundForm{}, false
		}
	}
	return form, true
}

func (h WebhookHandler) writeTwiML(c *gin.Context, build func() (string, error)) {
	twiml, err := build()
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

func requestURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
			scheme = fwd
		} else {
			scheme = "http"
		}
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
