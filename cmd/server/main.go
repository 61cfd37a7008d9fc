package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/klickraai-ship-it/del-ai/internal/campaign"
	"github.com/klickraai-ship-it/del-ai/internal/config"
	"github.com/klickraai-ship-it/del-ai/internal/content"
	"github.com/klickraai-ship-it/del-ai/internal/dispatch"
	"github.com/klickraai-ship-it/del-ai/internal/pkg/distlock"
	"github.com/klickraai-ship-it/del-ai/internal/pkg/httputil"
	"github.com/klickraai-ship-it/del-ai/internal/pkg/logger"
	"github.com/klickraai-ship-it/del-ai/internal/ratelimit"
	"github.com/klickraai-ship-it/del-ai/internal/token"
	"github.com/klickraai-ship-it/del-ai/internal/tracking"
	"github.com/klickraai-ship-it/del-ai/internal/transport"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			configPath = "config.yaml"
		}
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		logger.Error("loading config failed", "error", err.Error())
		os.Exit(1)
	}
	if err := cfg.EnsureTrackingSecret(); err != nil {
		logger.Error("startup failed", "error", err.Error())
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("opening database failed", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Error("parsing redis url failed", "error", err.Error())
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	}

	ctx := context.Background()
	sender, err := transport.New(ctx, transport.Config{
		Provider: cfg.Email.Provider,
		Resend:   transport.ResendConfig(cfg.Email.Resend),
		SES:      transport.SESConfig(cfg.Email.SES),
	})
	if err != nil {
		logger.Error("building email transport failed", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("email transport ready", "provider", sender.Name())

	codec := token.NewCodec([]byte(cfg.Tracking.Secret))
	transformer := content.NewTransformer(codec, cfg.Tracking.Domain)
	templates := content.NewTemplateService()
	dispatcher := dispatch.NewDispatcher(transformer, cfg.Dispatch.BatchSize, cfg.Dispatch.BatchDelay())

	store := campaign.NewStore(db)
	svc := campaign.NewService(store, dispatcher, sender)
	svc.SetLockProvider(func(key string) distlock.DistLock {
		return distlock.NewLock(rdb, db, key, 15*time.Minute)
	})
	trackingHandler := tracking.NewHandler(codec, transformer, templates, store, store, cfg.Tracking.HomeURL)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Public tracking surface, throttled per IP when Redis is available.
	if rdb != nil {
		r.Group(func(r chi.Router) {
			r.Use(ratelimit.PublicEndpoint(rdb).Middleware)
			r.Mount("/", trackingHandler.Routes())
		})
	} else {
		logger.Warn("redis not configured, public endpoints run unthrottled")
		r.Mount("/", trackingHandler.Routes())
	}

	// Internal API. Authentication happens upstream at the gateway; the
	// account id arrives in a trusted header.
	r.Post("/api/campaigns", func(w http.ResponseWriter, req *http.Request) {
		userID := req.Header.Get("X-User-Id")
		if userID == "" {
			httputil.BadRequest(w, "missing account")
			return
		}
		var input campaign.CreateInput
		if err := json.NewDecoder(req.Body).Decode(&input); err != nil {
			httputil.BadRequest(w, "invalid request body")
			return
		}
		c, err := svc.Create(req.Context(), userID, input)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.Created(w, c)
	})

	r.Post("/api/campaigns/{id}/send", func(w http.ResponseWriter, req *http.Request) {
		userID := req.Header.Get("X-User-Id")
		if userID == "" {
			httputil.BadRequest(w, "missing account")
			return
		}
		campaignID := chi.URLParam(req, "id")

		go func() {
			if _, err := svc.Send(context.Background(), userID, campaignID); err != nil {
				logger.Error("campaign send failed",
					"campaign_id", campaignID, "error", err.Error())
			}
		}()

		httputil.Accepted(w, map[string]string{
			"status":      "sending",
			"campaign_id": campaignID,
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}
