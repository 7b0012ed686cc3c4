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

	"github.com/gin-gonic/gin"

	"github.com/gnaritas/openclaw-advanced-voice/internal/authgate"
	"github.com/gnaritas/openclaw-advanced-voice/internal/brain"
	"github.com/gnaritas/openclaw-advanced-voice/internal/calls"
	"github.com/gnaritas/openclaw-advanced-voice/internal/config"
	"github.com/gnaritas/openclaw-advanced-voice/internal/httpapi"
	"github.com/gnaritas/openclaw-advanced-voice/internal/prompts"
	"github.com/gnaritas/openclaw-advanced-voice/internal/realtime"
	"github.com/gnaritas/openclaw-advanced-voice/internal/relay"
	"github.com/gnaritas/openclaw-advanced-voice/internal/telephony"
	"github.com/gnaritas/openclaw-advanced-voice/pkg/logger"
	"github.com/gnaritas/openclaw-advanced-voice/pkg/utils"
)

const evictionInterval = 10 * time.Minute

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

	policy, err := authgate.New(cfg.Gate)
	if err != nil {
		log.Error("auth gate init failed", "err", err)
		os.Exit(1)
	}

	promptSet, err := prompts.Load(cfg.Calls.PromptsDir)
	if err != nil {
		log.Error("prompt load failed", "err", err)
		os.Exit(1)
	}

	registry := calls.NewRegistry(cfg.Calls.Retention)
	go registry.RunEviction(rootCtx, evictionInterval, log)

	backend, err := brain.NewClient(cfg.Brain.URL, cfg.Brain.Token, cfg.Brain.Timeout)
	if err != nil {
		log.Error("brain client init failed", "err", err)
		os.Exit(1)
	}

	twilio, err := telephony.NewClient(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.Number)
	if err != nil {
		log.Error("telephony client init failed", "err", err)
		os.Exit(1)
	}

	var limiter *httpapi.CallLimiter
	if cfg.Redis.Host != "" {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		limiter = httpapi.NewCallLimiter(rdb, cfg.Redis.MaxConcurrentCalls)
		log.Info("concurrent call cap enabled", "limit", cfg.Redis.MaxConcurrentCalls)
	}

	gateMode := authgate.ModeVerifiedCaller
	if cfg.Gate.Mode == config.GateModePassphrase {
		gateMode = authgate.ModeChallenge
	}

	h := &httpapi.Handlers{
		Cfg:      cfg,
		Registry: registry,
		Policy:   policy,
		Prompts:  promptSet,
		Twilio:   twilio,
		Log:      log,
		Limiter:  limiter,
		RunSession: func(ctx context.Context, media telephony.MediaStream) {
			bridgeCall(ctx, media, cfg, relay.Config{
				Prompts:     promptSet,
				Voice:       cfg.OpenAI.Voice,
				Temperature: cfg.OpenAI.Temperature,
				TurnDetection: realtime.TurnDetection{
					Threshold:         cfg.OpenAI.VADThreshold,
					PrefixPaddingMs:   cfg.OpenAI.VADPrefixPaddingMs,
					SilenceDurationMs: cfg.OpenAI.VADSilenceDurationMs,
				},
				GateMode:        gateMode,
				Passphrase:      cfg.Gate.Passphrase,
				DefaultTimezone: cfg.Calls.DefaultTimezone,
			}, registry, backend)
		},
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, h)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No ReadTimeout/WriteTimeout: media-stream websockets live as long
		// as the phone call does.
	}

	go func() {
		log.Info("voice server listening", "addr", srv.Addr, "env", cfg.App.Env)
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

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

// bridgeCall dials the realtime API and runs one relay session over the
// accepted media stream. Runs for the lifetime of the call.
func bridgeCall(ctx context.Context, media telephony.MediaStream, cfg config.Config, relayCfg relay.Config, registry *calls.Registry, backend *brain.Client) {
	// Request-scoped logger installed by the media-stream handler.
	log := logger.From(ctx)
	ai, err := realtime.Dial(ctx, realtime.DialConfig{
		APIKey:      cfg.OpenAI.APIKey,
		Model:       cfg.OpenAI.Model,
		Temperature: cfg.OpenAI.Temperature,
	}, log)
	if err != nil {
		log.Error("realtime dial failed", "err", err)
		_ = media.Close()
		return
	}

	// Fetched per call: the narrative can change between calls.
	relayCfg.Narrative = backend.NarrativeContext(ctx)

	relay.NewSession(media, ai, registry, backend, relayCfg, log).Run(ctx)
}
