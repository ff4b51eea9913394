// Scam honeypot engagement server.
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/scam-honeypot/internal/agent"
	"github.com/ashureev/scam-honeypot/internal/api"
	"github.com/ashureev/scam-honeypot/internal/app"
	"github.com/ashureev/scam-honeypot/internal/config"
	"github.com/ashureev/scam-honeypot/internal/engine"
	"github.com/ashureev/scam-honeypot/internal/identity"
	"github.com/ashureev/scam-honeypot/internal/middleware"
	"github.com/ashureev/scam-honeypot/internal/stream"
	"github.com/ashureev/scam-honeypot/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "store", cfg.StoreBackend, "gemini", cfg.Gemini.Enabled())

	// Initialize dependencies.
	components, err := app.Open(context.Background(), cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize components", "error", err)
		os.Exit(1)
	}
	defer components.Close()

	if err := components.Repo.Ping(context.Background()); err != nil {
		slog.Error("Store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Store connected", "backend", cfg.StoreBackend)

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	hub := stream.NewHub(0, logger)
	defer hub.Close()

	limiter := agent.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	defer limiter.Close()

	eng, err := engine.New(components.Repo, components.Collaborators, components.Submitter, engine.Options{
		AutoFinalizeTurns:   cfg.AutoFinalize,
		CollaboratorTimeout: cfg.Gemini.Timeout,
		SubmitTimeout:       cfg.Evaluation.Timeout,
		Logger:              logger,
		Publisher:           hub,
		Transcripts:         conversationLogger,
	})
	if err != nil {
		slog.Error("Failed to initialize engine", "error", err)
		os.Exit(1)
	}
	// Runs before the deferred store and logger closes.
	defer eng.Close()

	// A previous process may have died mid-finalization.
	if n, err := eng.RecoverStalledFinalizations(context.Background()); err != nil {
		slog.Warn("Failed to recover stalled finalizations", "error", err)
	} else if n > 0 {
		slog.Info("Recovered stalled finalizations", "sessions", n)
	}

	// Initialize handlers.
	var detector api.Verdicter
	if components.Gemini != nil {
		detector = components.Gemini
	}
	var evaluator api.Pinger
	if p, ok := components.Submitter.(api.Pinger); ok {
		evaluator = p
	}
	baseHandler := api.NewHandler(eng, limiter, detector, logger)
	healthHandler := api.NewHealthHandler(components.Repo, evaluator)
	wsHandler := stream.NewWebSocketHandler(hub, cfg.AllowedOrigins, logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(middleware.CORSOptions{AllowedOrigins: cfg.AllowedOrigins, MaxAge: 10 * time.Minute}))

	// Public routes.
	healthHandler.RegisterHealth(r)
	api.RegisterDetectStatus(r)

	// API routes require the shared key.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.APIKey))
		baseHandler.RegisterRoutes(r)
		wsHandler.Register(r)
	})

	// Serve embedded operator dashboard.
	r.Handle("/*", web.Dashboard())

	// Websocket streams are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start TTL worker.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine.StartTTLWorker(ctx, eng, cfg.SessionTTL, cfg.SweepInterval)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped successfully")
}
