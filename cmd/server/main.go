package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"tribechat/internal/chat"
	"tribechat/internal/config"
	"tribechat/internal/db"
	"tribechat/internal/middleware"
	"tribechat/internal/tribe"
	"tribechat/internal/user"
)

func main() {
	// 1. Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("❌ Invalid configuration", "err", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	// 2. Connect to Postgres (platform layer)
	database, err := db.NewDatabase(cfg.DatabaseDSN)
	if err != nil {
		log.Error("❌ Failed to connect to DB", "err", err)
		os.Exit(1)
	}
	log.Info("✅ Connected to PostgreSQL")

	if err := database.AutoMigrate(); err != nil {
		log.Error("❌ Migration failed", "err", err)
		os.Exit(1)
	}
	log.Info("✅ Database schema initialized")

	// 3. Connect to Redis (platform layer)
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		log.Error("❌ Failed to connect to Redis", "err", err)
		os.Exit(1)
	}
	log.Info("✅ Connected to Redis")

	// 4. User feature
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret, cfg.TokenTTL)
	userHandler := user.NewHandler(userService)

	// 5. Tribe membership (ACL source for the chat gateway)
	tribeRepo := tribe.NewRepository(database.Conn)
	tribeHandler := tribe.NewHandler(tribeRepo)

	// 6. Chat feature: store + relay + hub
	chatRepo := chat.NewRepository(database.Conn)
	relay := chat.NewRedisRelay(redisClient, log)
	hub := chat.NewHub(relay, log)

	ctx := context.Background()
	go relay.Run(ctx)
	go hub.Run(ctx)

	chatHandler := chat.NewHandler(hub, chatRepo, tribeRepo, userService, log,
		cfg.HistoryPageSize, cfg.MaxContentLen)

	authMiddleware := middleware.NewAuthMiddleware(userService)

	// 7. Routes
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Handle("/metrics", promhttp.Handler())

	// Protected (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", userHandler.SearchUsers)

		// WebSocket (realtime)
		r.Get("/ws", chatHandler.ServeWS)

		r.Post("/api/tribes", tribeHandler.Create)
		r.Post("/api/tribes/{tribeID}/join", tribeHandler.Join)

		r.Get("/api/tribes/{tribeID}/messages", chatHandler.ListMessages)
		r.Post("/api/tribes/{tribeID}/messages", chatHandler.SendMessage)
		r.Post("/api/tribes/{tribeID}/messages/{messageID}/reactions", chatHandler.ToggleReaction)
		r.Put("/api/tribes/{tribeID}/messages/{messageID}", chatHandler.EditMessage)
		r.Delete("/api/tribes/{tribeID}/messages/{messageID}", chatHandler.DeleteMessage)
	})

	log.Info("🚀 Server starting", "addr", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, r); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
