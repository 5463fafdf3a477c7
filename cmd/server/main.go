package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/redis/go-redis/v9"

	"chat-server/internal/chat"
	"chat-server/internal/config"
	"chat-server/internal/db"
	"chat-server/internal/middleware"
	"chat-server/internal/room"
	"chat-server/internal/store"
	"chat-server/internal/user"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Configuration & logger
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Database
	database, err := db.NewDatabase(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("connect to db: %w", err)
	}
	defer database.Conn.Close()
	if err := database.AutoMigrate(); err != nil {
		return err
	}
	log.Info("connected to postgres")

	pg := store.NewPostgres(database.Conn)

	// 3. User feature (registration, login, token verification)
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService)

	// 4. Chat core
	registry := chat.NewRegistry(log)
	membership := chat.NewMembership()
	presence := chat.NewPresence(registry, membership, log)
	router := chat.NewRouter(registry, membership, presence, pg, userService, cfg.HistoryLimit, log)
	wsHandler := chat.NewHandler(router, registry, cfg.AllowedOrigins, cfg.MaxMessageSize, log)

	// 5. Optional cross-instance relay
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer redisClient.Close()
		log.Info("connected to redis", "addr", cfg.RedisAddr)

		broker := chat.NewRedisBroker(redisClient, log)
		router.SetBroker(broker)
		go broker.Subscribe(ctx, router.DeliverRemote)
	}

	roomHandler := room.NewHandler(pg)
	auth := middleware.NewAuth(userService)

	// 6. Routes
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	corsOrigins := cfg.AllowedOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Use(httprate.LimitByIP(100, 15*time.Minute))

		r.Post("/auth/register", userHandler.Register)
		r.Post("/auth/login", userHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(auth.Handle)
			r.Get("/users/search", userHandler.SearchUsers)
			r.Post("/rooms", roomHandler.Create)
			r.Get("/rooms", roomHandler.List)
			r.Get("/messages/{room}", roomHandler.History)
		})
	})

	// The websocket endpoint is public and unthrottled: connections
	// authenticate in-band so a bad credential can be retried without
	// reconnecting.
	r.Get("/ws", wsHandler.ServeWs)

	srv := &http.Server{Addr: cfg.Addr, Handler: r}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
