package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/lexandersaw/iflow2api/internal/admission"
	"github.com/lexandersaw/iflow2api/internal/config"
	frontanthropic "github.com/lexandersaw/iflow2api/internal/frontdoor/anthropic"
	frontopenai "github.com/lexandersaw/iflow2api/internal/frontdoor/openai"
	"github.com/lexandersaw/iflow2api/internal/server"
	"github.com/lexandersaw/iflow2api/internal/telemetry"
	"github.com/lexandersaw/iflow2api/internal/upstream"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if cfg.Tracing.Enabled {
		shutdown, err := telemetry.InitTracer("iflow2api", os.Stderr, logger)
		if err != nil {
			log.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	transport, err := upstream.NewTransport(cfg.Upstream.Transport, upstream.TransportOptions{
		ProxyURL:              cfg.Upstream.ProxyURL,
		ResponseHeaderTimeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to create upstream transport: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gate := admission.New(cfg.Proxy.MaxConcurrency)
	opts := []upstream.ClientOption{
		upstream.WithTransport(transport),
		upstream.WithGate(gate),
		upstream.WithLogger(logger),
		upstream.WithUserInfoURL(cfg.Upstream.UserInfoURL),
	}

	apiKey := cfg.Upstream.APIKey
	if apiKey == "" && cfg.Upstream.OAuthAccessToken != "" {
		info, err := upstream.NewClient(cfg.Upstream.BaseURL, "", opts...).FetchUserInfo(ctx, cfg.Upstream.OAuthAccessToken)
		if err != nil {
			log.Fatalf("Failed to exchange OAuth token: %v", err)
		}
		apiKey = info.APIKey
		logger.Info("resolved API key from OAuth account", slog.String("user", info.UserName))
	}
	if apiKey == "" {
		log.Fatalf("No upstream API key: set upstream.api_key or upstream.oauth_access_token")
	}

	client := upstream.NewClient(cfg.Upstream.BaseURL, apiKey, opts...)
	preserve := cfg.Proxy.ReasoningMode == config.ReasoningPreserve

	openaiHandler := frontopenai.NewHandler(client, cfg.Proxy.DefaultModel, preserve, logger)
	anthropicHandler := frontanthropic.NewHandler(client, cfg.Proxy.DefaultModel, preserve, logger)

	srv := server.New(cfg.Server.Host, cfg.Server.Port, logger)
	srv.Router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	srv.Router.Post("/v1/chat/completions", openaiHandler.HandleChatCompletion)
	srv.Router.Get("/v1/models", openaiHandler.HandleListModels)
	srv.Router.Post("/v1/messages", anthropicHandler.HandleMessages)
	srv.Router.Post("/v1/messages/count_tokens", anthropicHandler.HandleCountTokens)

	logger.Info("gateway configured",
		slog.String("upstream", cfg.Upstream.BaseURL),
		slog.String("reasoning_mode", string(cfg.Proxy.ReasoningMode)),
		slog.Int("max_concurrency", gate.Limit()),
		slog.String("default_model", cfg.Proxy.DefaultModel),
	)

	if err := srv.Start(ctx); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
