package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"boomfare/internal/chat"
	"boomfare/internal/config"
	"boomfare/internal/contact"
	"boomfare/internal/db"
	"boomfare/internal/httputil"
	"boomfare/internal/logging"
	myMiddleware "boomfare/internal/middleware"
	"boomfare/internal/user"
)

func main() {
	// 1. Config & Flags
	envFile := flag.String("env", ".env", "optional dotenv file")
	addr := flag.String("addr", "", "http service address (overrides ADDR)")
	pretty := flag.Bool("pretty", false, "human-readable logs")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		bootLog := logging.New("info", true)
		bootLog.Fatal().Err(err).Msg("❌ Failed to read env file")
	}
	cfg, err := config.LoadServer()
	if err != nil {
		bootLog := logging.New("info", true)
		bootLog.Fatal().Err(err).Msg("❌ Invalid configuration")
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	log := logging.New(cfg.LogLevel, *pretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to Database (Platform Layer)
	database, err := db.NewDatabase(cfg.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to connect to DB")
	}
	defer database.Conn.Close()
	log.Info().Msg("✅ Connected to PostgreSQL")

	if err := database.AutoMigrate(); err != nil {
		log.Fatal().Err(err).Msg("❌ Migration failed")
	}
	log.Info().Msg("✅ Database Schema Initialized")

	// 3. Connect to Redis (Platform Layer)
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	defer redisClient.Close()
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to connect to Redis")
	}
	log.Info().Msg("✅ Connected to Redis")

	// 4. Features
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService)

	contactHandler := contact.NewHandler(contact.NewRepository(database.Conn))

	hub := chat.NewHub(redisClient, log)
	go hub.Run(ctx)
	go hub.SubscribeToRedis(ctx)
	chatHandler := chat.NewHandler(hub, chat.NewRepository(database.Conn), log)

	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 5. Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public Routes
	r.Method(http.MethodPost, "/register", httputil.JSONHandler(userHandler.Register))
	r.Method(http.MethodPost, "/login", httputil.JSONHandler(userHandler.Login))

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		r.Method(http.MethodPost, "/api/logout", httputil.JSONHandler(userHandler.Logout))
		r.Method(http.MethodGet, "/api/users", httputil.JSONHandler(userHandler.ListUsers))
		r.Method(http.MethodGet, "/api/users/me", httputil.JSONHandler(userHandler.Me))
		r.Method(http.MethodPatch, "/api/users/me", httputil.JSONHandler(userHandler.UpdateMe))
		r.Method(http.MethodGet, "/api/users/search", httputil.JSONHandler(userHandler.SearchUsers))

		r.Method(http.MethodGet, "/api/contacts", httputil.JSONHandler(contactHandler.List))
		r.Method(http.MethodPost, "/api/contacts", httputil.JSONHandler(contactHandler.Add))
		r.Method(http.MethodPost, "/api/contacts/{id}/accept", httputil.JSONHandler(contactHandler.Accept))

		r.Method(http.MethodGet, "/api/messages", httputil.JSONHandler(chatHandler.GetConversation))
		r.Method(http.MethodPost, "/api/messages", httputil.JSONHandler(chatHandler.SendMessage))
		r.Method(http.MethodPost, "/api/messages/read", httputil.JSONHandler(chatHandler.MarkRead))

		// WebSocket (Real-time)
		r.Get("/ws", chatHandler.ServeWs)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}()

	log.Info().Str("addr", cfg.Addr).Msg("🚀 Server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("❌ Server stopped")
	}
	log.Info().Msg("👋 Server stopped")
}
