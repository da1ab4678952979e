package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"go-signal/internal/auth"
	"go-signal/internal/db"
	"go-signal/internal/fanout"
	"go-signal/internal/janitor"
	"go-signal/internal/middleware"
	"go-signal/internal/notify"
	"go-signal/internal/presence"
	"go-signal/internal/registry"
	"go-signal/internal/session"
	"go-signal/internal/signal"
	"go-signal/internal/transport"
	"go-signal/internal/ws"
)

func main() {
	// 1. Config & Flags
	addr := flag.String("addr", ":8080", "http service address")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Error("DB_DSN is not set")
		os.Exit(1)
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Error("JWT_SECRET is not set")
		os.Exit(1)
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	meetURL := os.Getenv("MEET_API_URL")
	if meetURL == "" {
		log.Error("MEET_API_URL is not set")
		os.Exit(1)
	}
	meetKey := os.Getenv("MEET_API_KEY")

	region := os.Getenv("MEET_REGION")
	if region == "" {
		region = "us-east-1"
	}

	// 2. Platform layer: PostgreSQL + Redis
	database, err := db.NewDatabase(dsn)
	if err != nil {
		log.Error("failed to connect to postgres", "err", err)
		os.Exit(1)
	}
	log.Info("connected to postgres")

	if err := database.AutoMigrate(); err != nil {
		log.Error("migration failed", "err", err)
		os.Exit(1)
	}
	log.Info("database schema initialized")

	redisClient := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		log.Error("failed to connect to redis", "err", err)
		os.Exit(1)
	}
	log.Info("connected to redis")

	// 3. Real-time core: registry -> transport -> fanout -> presence
	reg := registry.NewRedisRegistry(redisClient)
	table := transport.NewTable()
	relay := transport.NewRelay(table, redisClient, log)
	go relay.Run(context.Background())

	engine := fanout.NewEngine(reg, relay, log)
	tracker := presence.NewTracker(reg, engine, presence.NewRedisLastSeen(redisClient, log), log)
	// A connection found dead during fanout goes offline the same way
	// an orderly disconnect does.
	engine.SetPruner(tracker)

	// 4. Notifications
	notifyStore := notify.NewPostgresStore(database.Conn)
	dispatcher := notify.NewDispatcher(notifyStore, engine, log)
	notifyHandler := notify.NewHandler(dispatcher)

	// 5. Media sessions + call signaling
	provider, err := session.NewHTTPProvider(session.HTTPProviderConfig{
		BaseURL: meetURL,
		APIKey:  meetKey,
	})
	if err != nil {
		log.Error("bad meeting provider config", "err", err)
		os.Exit(1)
	}

	sessionStore := session.NewPostgresStore(database.Conn)
	manager := session.NewManager(sessionStore, provider, region, log)
	sessionHandler := session.NewHandler(manager)

	controller := signal.NewController(engine, manager, log)
	signalHandler := signal.NewHandler(controller)

	// 6. Websocket edge
	wsHandler := ws.NewHandler(reg, table, tracker, engine, controller, log)
	fanoutHandler := fanout.NewHandler(engine)

	verifier := auth.NewVerifier(jwtSecret)
	authMiddleware := middleware.NewAuthMiddleware(verifier)

	// 7. Background cleanup
	jan := janitor.New(log)
	jobs := []janitor.Job{
		{
			Name:     "purge-expired-notifications",
			Schedule: "@hourly",
			Run:      dispatcher.PurgeExpired,
		},
		{
			Name:     "sweep-no-show-sessions",
			Schedule: "@every 15m",
			Run: func(ctx context.Context) error {
				return manager.SweepNoShows(ctx, 24*time.Hour)
			},
		},
	}
	for _, job := range jobs {
		if err := jan.Add(job); err != nil {
			log.Error("bad janitor schedule", "job", job.Name, "err", err)
			os.Exit(1)
		}
	}
	jan.Start()
	defer jan.Stop()

	// 8. Routes
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		// WebSocket (real-time)
		r.Get("/ws", wsHandler.ServeWS)

		// Server-to-server fanout
		r.Post("/api/deliver/user/{userID}", fanoutHandler.DeliverToUser)
		r.Post("/api/deliver/conversation/{conversationID}", fanoutHandler.DeliverToConversation)

		// Notifications
		r.Post("/api/notifications", notifyHandler.Create)
		r.Get("/api/notifications", notifyHandler.List)
		r.Post("/api/notifications/{id}/read", notifyHandler.MarkRead)

		// Media sessions
		r.Post("/api/sessions", sessionHandler.Create)
		r.Post("/api/sessions/{id}/join", sessionHandler.Join)
		r.Post("/api/sessions/{id}/leave", sessionHandler.Leave)
		r.Post("/api/sessions/{id}/end", sessionHandler.End)

		// Call signaling
		r.Post("/api/calls/invite", signalHandler.Invite)
		r.Post("/api/calls/accept", signalHandler.Accept)
		r.Post("/api/calls/decline", signalHandler.Decline)
		r.Post("/api/calls/end", signalHandler.End)
	})

	log.Info("server starting", "addr", *addr)
	if err := http.ListenAndServe(*addr, r); err != nil {
		log.Error("server exited", "err", err)
		os.Exit(1)
	}
}
