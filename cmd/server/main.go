// Parley - time-boxed voice practice session server
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
	"github.com/parleylabs/parley/internal/agent"
	"github.com/parleylabs/parley/internal/api"
	"github.com/parleylabs/parley/internal/clock"
	"github.com/parleylabs/parley/internal/config"
	"github.com/parleylabs/parley/internal/convo"
	"github.com/parleylabs/parley/internal/identity"
	"github.com/parleylabs/parley/internal/middleware"
	"github.com/parleylabs/parley/internal/store"
	"github.com/parleylabs/parley/internal/transcript"
	"github.com/parleylabs/parley/internal/transport"
	"github.com/parleylabs/parley/internal/variant"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Build the variant registry. Malformed schedules are startup
	// bugs; fail here, never per-session.
	registry, err := variant.Builtin()
	if err != nil {
		slog.Error("Failed to build variant registry", "error", err)
		os.Exit(1)
	}
	slog.Info("Variant registry built",
		"variants", registry.Names(), "default", registry.Default())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	transcripts, err := transcript.NewLogger(transcript.Config{
		Enabled:   cfg.Transcript.Enabled,
		Dir:       cfg.Transcript.Dir,
		QueueSize: cfg.Transcript.QueueSize,
	})
	if err != nil {
		slog.Error("Failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := transcripts.Close(); closeErr != nil {
			slog.Error("Failed to close transcript logger", "error", closeErr)
		}
	}()

	// Initialize services.
	sm := transport.NewSessionManager()
	factory := agent.NewFactory(registry, clock.Real(), cfg.GraceWindow)
	dialer := func(ctx context.Context, sessionID, instructions string) (agent.Conversation, error) {
		return convo.Dial(ctx, cfg.ConversationURL, sessionID, instructions)
	}

	// Initialize handlers.
	apiHandler := api.NewHandler(repo, registry, sm)
	wsHandler := transport.NewWebSocketHandler(
		registry, factory, repo, sm, transcripts, dialer,
		cfg.FrontendURL, cfg.IsDevelopment())
	limiter := api.NewRateLimiterPool(cfg.StartRatePerMin)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	apiHandler.RegisterRoutes(r)

	// WebSocket endpoint: one connection per practice session.
	r.With(limiter.Middleware).Get("/ws/session", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // sessions hold their connection for minutes
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartSweeper(ctx, repo, cfg.SessionStaleAge, cfg.SessionRetention)

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
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
