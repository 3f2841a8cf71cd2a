package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unihub-app/unihub/backend/internal/chat"
	"github.com/unihub-app/unihub/backend/internal/config"
	"github.com/unihub-app/unihub/backend/internal/governor"
	"github.com/unihub-app/unihub/backend/internal/handlers"
	"github.com/unihub-app/unihub/backend/internal/metrics"
	"github.com/unihub-app/unihub/backend/internal/models"
	"github.com/unihub-app/unihub/backend/internal/profiles"
	"github.com/unihub-app/unihub/backend/internal/realtime"
	"github.com/unihub-app/unihub/backend/internal/reads"
	"github.com/unihub-app/unihub/backend/internal/supabase"
	"github.com/unihub-app/unihub/backend/internal/validate"
	ws "github.com/unihub-app/unihub/backend/internal/websocket"
)

func main() {
	// Load configuration from environment
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// The governor is built once here and injected everywhere; its
	// transport wraps only the backing-store client.
	gov := governor.New(governor.Config{
		ThrottleInterval: cfg.ThrottleInterval,
		BreakerLimit:     cfg.BreakerLimit,
		BreakerCooldown:  cfg.BreakerCooldown,
	}, logger, m)

	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: gov.Transport(nil),
	}
	db := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseKey, httpClient)

	// Profile cache for change-event enrichment: Redis when configured,
	// in-process otherwise.
	var cache profiles.Cache
	if cfg.RedisAddr != "" {
		redisCache, err := profiles.ConnectRedis(context.Background(), cfg.RedisAddr, cfg.ProfileTTL)
		if err != nil {
			logger.Error("redis unavailable, falling back to memory cache", "error", err)
			cache = profiles.NewMemory(cfg.ProfileTTL)
		} else {
			cache = redisCache
		}
	} else {
		cache = profiles.NewMemory(cfg.ProfileTTL)
	}
	resolver := profiles.NewResolver(db, cache, logger)

	// Change-feed subscription manager with health supervision.
	dial := func(ctx context.Context, onError func(error)) (realtime.Socket, error) {
		return supabase.DialRealtime(ctx, cfg.SupabaseURL, cfg.SupabaseKey, logger, onError)
	}
	mgr := realtime.NewManager(dial, db, resolver, realtime.HealthConfig{
		BaseDelay:     cfg.BackoffBase,
		MaxAttempts:   cfg.MaxAttempts,
		ProbeInterval: cfg.ProbeInterval,
	}, logger, m)

	chatSvc := chat.NewService(db, mgr, chat.DefaultConfig(), logger)
	readsSvc := reads.NewService(db, gov, logger)

	janitor := chat.NewJanitor(chatSvc, cfg.JanitorInterval, cfg.PendingAge, cfg.IdleAge, logger)
	go janitor.Start()

	// Browser relay hub.
	hub := ws.NewHub(mgr, logger)
	go hub.Run()
	mgr.OnStatus(hub.BroadcastStatus)
	chatSvc.OnComposeRestore(func(cr chat.ComposeRestore) {
		hub.BroadcastEvent(cr.Scope, "compose_restore", cr)
	})
	chatSvc.OnSendError(func(scope models.Scope, err error) {
		logger.Warn("send failed", "scope", scope.Key(), "error", err)
	})

	mgr.Start(context.Background())

	// Handlers
	val := validate.New()
	messageHandler := handlers.NewMessageHandler(chatSvc, db, val, logger)
	readsHandler := handlers.NewReadsHandler(readsSvc, db, logger)
	attachmentHandler := handlers.NewAttachmentHandler(db, db, cfg.AttachmentBucket, cfg.MaxAttachmentSize, logger)
	healthHandler := handlers.NewHealthHandler(mgr)
	wsHandler := ws.NewHandler(hub, chatSvc, chatSvc, db, logger)

	// Set up router with middleware
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// CORS configuration - reads from CORS_ORIGINS env var
	corsOrigins := getCorsOrigins()
	logger.Info("CORS allowed origins", "origins", corsOrigins)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health and metrics endpoints
	r.Get("/health", healthHandler.Check)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/scopes/{kind}/{id}", func(r chi.Router) {
			r.Get("/messages", messageHandler.Timeline)
			r.Post("/messages", messageHandler.Send)
			r.Post("/read", readsHandler.MarkRead)
			r.Get("/unread", readsHandler.Unread)
		})
		r.Post("/attachments", attachmentHandler.Upload)
		r.Post("/connection/reconnect", healthHandler.Reconnect)
	})

	// Realtime relay for browsers
	r.Get("/ws/{kind}/{id}", wsHandler.ServeWS)

	addr := fmt.Sprintf(":%s", cfg.ServerPort)
	logger.Info("unihub backend starting", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// getCorsOrigins returns allowed CORS origins from environment or defaults
func getCorsOrigins() []string {
	originsEnv := os.Getenv("CORS_ORIGINS")
	if originsEnv == "" {
		// Default to localhost for development
		return []string{"http://localhost:5173", "http://localhost:3000"}
	}

	origins := strings.Split(originsEnv, ",")
	for i, origin := range origins {
		origins[i] = strings.TrimSpace(origin)
	}
	return origins
}
