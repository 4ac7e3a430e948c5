package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"dancehost/internal/auth"
	"dancehost/internal/config"
	"dancehost/internal/database"
	"dancehost/internal/events"
	"dancehost/internal/handlers"
	"dancehost/internal/models"
	"dancehost/internal/observability"
	"dancehost/internal/services"
	"dancehost/internal/websocket"
	"dancehost/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, memory, err := openDatabase(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize services
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	authService := auth.NewService(cfg)
	authorizer := auth.NewAuthorizer(authService, db, db, cfg.Realtime.LookupTimeout)

	registry := websocket.NewRegistry()
	supervisor := websocket.NewSupervisor(registry, cfg.Realtime, metrics)
	chatService := services.NewChatService(registry, db, metrics, cfg.Realtime.MaxMessageLength, cfg.Realtime.StoreTimeout)
	locationService := services.NewLocationService(registry, supervisor, services.NewLocationCache())
	messageService := services.NewMessageService(db)

	supervisor.Handle(models.ChannelKindChat, chatService)
	supervisor.Handle(models.ChannelKindLocation, locationService)

	var bookingListener events.BookingStatusListener = locationService
	if memory != nil {
		// Nothing else owns booking state in memory mode.
		bookingListener = events.Fanout(events.BookingStatusFunc(func(_ context.Context, bookingID string, status models.BookingStatus) error {
			return memory.SetBookingStatus(bookingID, status)
		}), locationService)
	}

	// Initialize handlers
	wsHandlers := handlers.NewWebSocketHandlers(authorizer, supervisor, metrics)
	messageHandlers := handlers.NewMessageHandlers(authorizer, chatService, messageService)
	bookingHandlers := handlers.NewBookingHandlers(bookingListener, cfg.Internal.HookToken)

	// Setup routes
	mux := http.NewServeMux()
	setupRoutes(mux, wsHandlers, messageHandlers, bookingHandlers, registry)

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      corsMiddleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("🚀 Server started on http://localhost%s", cfg.Server.Port)
		logger.Info("📡 WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)
		printAPIEndpoints()
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Redis.URL != "" {
		subscriber, err := events.NewBookingSubscriber(ctx, cfg.Redis.URL, cfg.Redis.BookingEventsChannel, bookingListener)
		if err != nil {
			logger.Fatal("Failed to connect to redis: %v", err)
		}
		defer subscriber.Close()
		g.Go(func() error {
			return subscriber.Run(gctx)
		})
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Server shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Upgraded sockets are hijacked, so the HTTP server does not wait for them.
		if err := supervisor.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Connections still open at shutdown deadline: %v", err)
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error: %v", err)
		os.Exit(1)
	}
}

// openDatabase returns the configured store. The in-memory store is also returned on its
// own so booking notifications can update it.
func openDatabase(ctx context.Context, cfg *config.Config) (database.Database, *database.MemoryStore, error) {
	if cfg.Database.URL == "memory" {
		store := database.NewMemoryStore()
		if cfg.Database.SeedFile != "" {
			f, err := os.Open(cfg.Database.SeedFile)
			if err != nil {
				return nil, nil, err
			}
			defer f.Close()
			if err := store.LoadSeed(f); err != nil {
				return nil, nil, err
			}
		}
		logger.Info("Using in-memory store")
		return store, store, nil
	}

	db, err := database.NewPostgresDB(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, nil, nil
}

func setupRoutes(mux *http.ServeMux, wsHandlers *handlers.WebSocketHandlers, messageHandlers *handlers.MessageHandlers, bookingHandlers *handlers.BookingHandlers, registry *websocket.Registry) {
	// Conversation history
	mux.HandleFunc("GET /conversations/{id}/messages", messageHandlers.ListMessages)
	mux.HandleFunc("POST /conversations/{id}/messages", messageHandlers.SendMessage)

	// Booking lifecycle hook
	mux.HandleFunc("POST /internal/bookings/{id}/status", bookingHandlers.StatusChanged)

	// WebSocket route
	mux.HandleFunc("GET /ws", wsHandlers.HandleWebSocket)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","connections":` + strconv.Itoa(registry.ConnectionCount()) + `}`))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Internal-Token")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func printAPIEndpoints() {
	logger.Info("🔗 API endpoints:")
	logger.Info("   GET  /ws?channel_kind={chat|location}&channel_id={id}&token={jwt}")
	logger.Info("   GET  /conversations/{id}/messages?cursor=&limit=")
	logger.Info("   POST /conversations/{id}/messages")
	logger.Info("   POST /internal/bookings/{id}/status")
	logger.Info("   GET  /metrics")
	logger.Info("   GET  /healthz")
}
