// Package main is the entry point for the chat gateway.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/civic-reports/chat-gateway/internal/cache"
	"github.com/civic-reports/chat-gateway/internal/chat"
	"github.com/civic-reports/chat-gateway/internal/config"
	"github.com/civic-reports/chat-gateway/internal/handler"
	"github.com/civic-reports/chat-gateway/internal/middleware"
	"github.com/civic-reports/chat-gateway/internal/model"
	natsclient "github.com/civic-reports/chat-gateway/internal/nats"
	"github.com/civic-reports/chat-gateway/internal/report"
	"github.com/civic-reports/chat-gateway/internal/upstream"
	"github.com/civic-reports/chat-gateway/pkg/logger"
	"github.com/civic-reports/chat-gateway/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(logger.Options{
		Level:       cfg.LogLevel,
		Development: cfg.Environment == "development",
		Service:     "chat-gateway",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	defer logger.Install(log)()

	log.Info("starting chat gateway", zap.String("api_base", cfg.APIBase))

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-gateway", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	var checks []handler.Checker

	// Chat id cache is optional; without it every open asks the backend.
	var idCache chat.ChatIDCache
	if cfg.RedisURL != "" {
		c, err := cache.NewChatIDCache(cfg.RedisURL, cfg.ChatIDTTL)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer c.Close()
		idCache = c
		checks = append(checks, handler.CheckFunc{Label: "redis", Fn: c.Ping})
	}

	// Message mirror is optional as well.
	var sink chat.MessageSink
	if cfg.NATSURL != "" {
		mirrorConn, err := natsclient.Dial(ctx, natsclient.Config{
			URL:       cfg.NATSURL,
			Token:     cfg.NATSToken,
			CAFile:    cfg.NATSCAFile,
			CertFile:  cfg.NATSCertFile,
			KeyFile:   cfg.NATSKeyFile,
			Retention: cfg.NATSRetention,
		}, log)
		if err != nil {
			log.Fatal("failed to connect message mirror", zap.Error(err))
		}
		defer mirrorConn.Close()

		sink = natsclient.NewMirror(mirrorConn)
		checks = append(checks, mirrorConn)
	}

	// Backend client and role namespaces
	api := upstream.NewClient(upstream.Config{
		BaseURL: cfg.APIBase,
		Timeout: cfg.HTTPTimeout,
		RPS:     cfg.UpstreamRPS,
		Burst:   cfg.UpstreamBurst,
	}, log)

	policy := chat.ReconcileNone
	if cfg.ReconcileWindow > 0 {
		policy = chat.ReconcileByProximity(cfg.ReconcileWindow)
	}

	hub := chat.NewHub([]chat.Namespace{
		chat.NewRoleNamespace(model.RoleCity, api, cfg.WSBase, idCache, log),
		chat.NewRoleNamespace(model.RoleCompany, api, cfg.WSBase, idCache, log),
	}, chat.RoomOptions{Policy: policy, Sink: sink}, log.Named("chat"))

	// Rooms left behind by browsers that never closed them.
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go func() {
		if err := middleware.Guard(log, "room sweeper", func() { hub.Run(sweepCtx, cfg.RoomIdleTimeout) }); err != nil {
			log.Error("room sweeper stopped", zap.Error(err))
		}
	}()

	reports := report.NewClient(api, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(checks...)
	roomHandler := handler.NewRoomHandler(hub, log)
	messageHandler := handler.NewMessageHandler(hub, log)
	streamHandler := handler.NewStreamHandler(hub, log)
	reportHandler := handler.NewReportHandler(reports, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recover(log))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.AuthToken, cfg.JWTSecret))
		r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/rooms/{role}/{reportID}", func(r chi.Router) {
			r.Post("/", roomHandler.Open)
			r.Delete("/", roomHandler.Close)
			r.Post("/reload", roomHandler.Reload)
			r.Put("/draft", roomHandler.UpdateDraft)

			// Messages
			r.Get("/messages", messageHandler.List)
			r.Post("/messages", messageHandler.Send)

			// Streaming
			r.Get("/stream", streamHandler.Stream)
		})

		r.Get("/reports/{role}", reportHandler.List)
		r.Get("/assignments", reportHandler.Assignments)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout. Rooms go first so SSE handlers
	// return and the server can drain.
	stopSweep()
	hub.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
