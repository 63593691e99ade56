package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voicebridge/internal/bridge"
	"voicebridge/internal/callback"
	"voicebridge/internal/config"
	"voicebridge/internal/limits"
	"voicebridge/internal/reporting"
	"voicebridge/internal/telephony"
	"voicebridge/pkg/logger"
	"voicebridge/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const realtimeEndpoint = "wss://api.openai.com/v1/realtime"

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	callbacks := callback.NewService(callback.NewPostgresRepo(db))

	tools := bridge.NewTools(callback.ToolScheduler{Service: callbacks}, log)
	connector := bridge.NewConnector(bridge.WebsocketDialer{}, log)
	controller := bridge.NewController(bridge.NewRegistry(), connector, tools, bridge.Options{
		Endpoint:     realtimeEndpoint,
		Model:        cfg.OpenAI.Model,
		APIKey:       cfg.OpenAI.APIKey,
		Organization: cfg.OpenAI.Organization,
		Project:      cfg.OpenAI.Project,
		Voice:        cfg.OpenAI.Voice,
		AudioFormat:  cfg.OpenAI.AudioFormat,
		Instructions: cfg.Business.DefaultInstructions,
		EnableTools:  cfg.Features.EnableFunctionCalling,
		Debug:        cfg.App.Debug,
	}, log)

	provider := telephony.NewTwilioProvider(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.PhoneNumber)
	callCap := limits.NewCallCap(rdb, cfg.Limits.MaxConcurrentCalls, cfg.Limits.MaxCallDuration, log)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		cfg:        cfg,
		controller: controller,
		provider:   provider,
		callCap:    callCap,
		reporting:  reporting.NewService(provider),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	// Close any sessions still bridging audio.
	controller.Shutdown()

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
