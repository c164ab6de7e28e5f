package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"go-chat-relay/internal/attachment"
	"go-chat-relay/internal/chat"
	"go-chat-relay/internal/chat/memstore"
	"go-chat-relay/internal/config"
	"go-chat-relay/internal/db"
	"go-chat-relay/internal/gateway"
	"go-chat-relay/internal/logger"
	myMiddleware "go-chat-relay/internal/middleware"
	"go-chat-relay/internal/relay"
	"go-chat-relay/internal/user"
)

func main() {
	// 1. Config & logging
	cfg, err := config.Load()
	if err != nil {
		slog.Error("❌ Failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	ctx := context.Background()

	// 2. Storage (Platform Layer)
	var (
		database  *db.Database
		chatStore chat.Store
		userStore user.Store
	)
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		database, err = db.NewDatabase(ctx, cfg.Database)
		if err != nil {
			log.Error("❌ Failed to connect to DB", "error", err)
			os.Exit(1)
		}
		log.Info("✅ Connected to PostgreSQL")

		if err := database.AutoMigrate(ctx); err != nil {
			log.Error("❌ Migration failed", "error", err)
			os.Exit(1)
		}
		log.Info("✅ Database Schema Initialized")
		chatStore = chat.NewRepository(database.Conn)
		userStore = user.NewRepository(database.Conn)
	default:
		log.Warn("using in-memory storage, data is lost on restart")
		chatStore = memstore.New()
		userStore = user.NewMemoryRepository()
	}

	// 3. Relay broker
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = redisClient.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		log.Error("❌ Failed to connect to Redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	log.Info("✅ Connected to Redis", "addr", cfg.Redis.Addr)

	uploads, err := attachment.NewLocalStore(cfg.Uploads.Dir, cfg.Uploads.PublicBase())
	if err != nil {
		log.Error("❌ Failed to prepare upload dir", "error", err)
		os.Exit(1)
	}

	// 4. Users
	userService := user.NewService(userStore, cfg.JWT)
	userHandler := user.NewHandler(userService, cfg.Environment == "production")
	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 5. Real-time delivery: one hub and one bridge per process
	hub := gateway.NewHub(log)
	bridge := relay.NewBridge(redisClient, hub, relay.Options{
		PublishTimeout: cfg.Relay.PublishTimeout,
		MinBackoff:     cfg.Relay.MinBackoff,
		MaxBackoff:     cfg.Relay.MaxBackoff,
	}, log)

	relayCtx, stopRelay := context.WithCancel(ctx)
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		bridge.Run(relayCtx)
	}()

	// 6. Chat feature
	deps := chat.Deps{
		Store:        chatStore,
		Users:        userService,
		Notifier:     bridge,
		Attachments:  uploads,
		StoreTimeout: cfg.Store.Timeout,
		Log:          log,
	}
	lifecycle := chat.NewLifecycleService(deps)
	messages := chat.NewMessageService(deps)
	chatHandler := chat.NewHandler(lifecycle, messages, uploads, log)

	wsHandler := gateway.NewHandler(hub, userService, bridge, lifecycle, gateway.Options{
		VerifyJoin:       cfg.Gateway.VerifyJoin,
		HandshakeTimeout: cfg.Gateway.HandshakeTimeout,
		SendBuffer:       cfg.Gateway.SendBuffer,
		AllowedOrigins:   cfg.Gateway.AllowedOrigins,
	}, log)

	// 7. Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public Routes
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Post("/logout", userHandler.Logout)
	r.Get("/healthz", healthz(database, redisClient))
	r.Handle(uploadsRoute(cfg.Uploads.Route), http.StripPrefix(strings.TrimSuffix(cfg.Uploads.Route, "/"),
		http.FileServer(http.Dir(uploads.Dir()))))

	// The socket authenticates during its own handshake.
	r.Get("/ws", wsHandler.ServeWs)

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", userHandler.SearchUsers)
		r.Get("/api/users/me", userHandler.Me)
		r.Post("/api/users/me/password", userHandler.ChangePassword)
		chatHandler.Routes(r)
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("🚀 Server starting", "addr", cfg.Server.Addr, "instance_id", bridge.InstanceID())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("❌ Server failed", "error", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(ctx, cfg.Server.ShutdownTimeout, map[string]gfshutdown.Operation{
		"chat-relay": func(ctx context.Context) error {
			log.Info("Graceful shutdown initiated...")
			err := srv.Shutdown(ctx)
			// Hijacked websocket connections are not covered by Shutdown.
			hub.Close()
			stopRelay()
			<-relayDone
			err = errors.Join(err, redisClient.Close())
			if database != nil {
				err = errors.Join(err, database.Close())
			}
			return err
		},
	})

	exitCode := <-wait
	log.Info("Application exited", "code", exitCode)
	os.Exit(exitCode)
}

func uploadsRoute(route string) string {
	return strings.TrimSuffix(route, "/") + "/*"
}

func healthz(database *db.Database, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"status": "ok", "redis": "ok"}
		code := http.StatusOK
		if err := rdb.Ping(ctx).Err(); err != nil {
			status["status"], status["redis"] = "degraded", err.Error()
			code = http.StatusServiceUnavailable
		}
		if database != nil {
			status["database"] = "ok"
			if err := database.Conn.PingContext(ctx); err != nil {
				status["status"], status["database"] = "degraded", err.Error()
				code = http.StatusServiceUnavailable
			}
		}
		myMiddleware.WriteJSON(w, code, status)
	}
}
