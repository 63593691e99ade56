package main

import (
	"voicebridge/internal/bridge"
	"voicebridge/internal/config"
	"voicebridge/internal/httpapi"
	"voicebridge/internal/limits"
	"voicebridge/internal/reporting"
	"voicebridge/internal/telephony"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	cfg        config.Config
	controller *bridge.Controller
	provider   telephony.Provider
	callCap    *limits.CallCap
	reporting  *reporting.Service
}

// controllerAdapter narrows the bridge controller to the interface the
// webhook layer consumes; webhook calls never carry overrides.
type controllerAdapter struct {
	controller *bridge.Controller
}

func (a controllerAdapter) Accept(callID string, metadata map[string]string) error {
	return a.controller.Accept(callID, metadata, bridge.Overrides{})
}

func (a controllerAdapter) Terminate(callID string) {
	a.controller.Terminate(callID)
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	h := httpapi.Handlers{
		Bridge:            deps.controller,
		Provider:          deps.provider,
		Reporting:         deps.reporting,
		Limiter:           deps.callCap,
		StreamURL:         deps.cfg.StreamURL(),
		StatusCallbackURL: deps.cfg.StatusCallbackURL(),
		EnableOutbound:    deps.cfg.Features.EnableOutboundCalls,
		EnableTransfer:    deps.cfg.Features.EnableHumanTransfer,
		RecordCalls:       deps.cfg.Features.EnableCallRecording,
	}

	r.GET("/healthz", h.Healthz)

	// Provider webhooks (public, signature-validated).
	wh := telephony.WebhookHandler{
		Controller:    controllerAdapter{controller: deps.controller},
		Limiter:       deps.callCap,
		SigningSecret: deps.cfg.Twilio.WebhookSecret,
		StreamURL:     deps.cfg.StreamURL(),
	}
	r.POST("/webhook/voice", wh.HandleVoice)
	r.POST("/webhook/fallback", wh.HandleFallback)
	r.POST("/webhook/status", wh.HandleStatus)
	r.POST("/webhook/recording", wh.HandleRecording)

	v1 := r.Group("/v1")
	{
		calls := v1.Group("/calls")
		{
			calls.GET("/active", h.ListActiveCalls)
			calls.POST("/outbound", h.PlaceOutboundCall)
			calls.GET("/:call_sid", h.GetCall)
			calls.DELETE("/:call_sid", h.EndCall)
			calls.POST("/:call_sid/transfer", h.TransferCall)
		}
		v1.GET("/stats/summary", h.StatsSummary)
	}
}
