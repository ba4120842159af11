package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/walmarket/settlement-engine/internal/access"
	"github.com/walmarket/settlement-engine/internal/config"
	"github.com/walmarket/settlement-engine/internal/evidence"
	"github.com/walmarket/settlement-engine/internal/feegate"
	"github.com/walmarket/settlement-engine/internal/metrics"
	"github.com/walmarket/settlement-engine/internal/oracle"
	"github.com/walmarket/settlement-engine/internal/settlement"
	"github.com/walmarket/settlement-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				slog.Error("invalid redis URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Evidence blob store ---
	var blobs evidence.BlobStore
	if cfg.S3.Bucket != "" {
		s3st, err := evidence.NewS3Store(context.Background(), evidence.S3Config{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			slog.Error("s3 blob store init failed", "err", err)
			os.Exit(1)
		}
		blobs = s3st
		slog.Info("S3 evidence store enabled", "bucket", cfg.S3.Bucket)
	} else {
		slog.Warn("s3 bucket not set, using in-memory evidence store")
		blobs = evidence.NewMemoryStore()
	}

	// --- Fee gates ---
	createFee, err := decimal.NewFromString(cfg.Fees.Create)
	if err != nil {
		slog.Error("invalid create fee", "value", cfg.Fees.Create)
		os.Exit(1)
	}
	resolveFee, err := decimal.NewFromString(cfg.Fees.Resolve)
	if err != nil {
		slog.Error("invalid resolve fee", "value", cfg.Fees.Resolve)
		os.Exit(1)
	}
	createGate := feegate.New(st, createFee, cfg.Fees.Treasury)
	resolveGate := feegate.New(st, resolveFee, cfg.Fees.Treasury)

	// --- Event hub ---
	hub := settlement.NewHub()
	go hub.Run()

	// --- Services ---
	engine := settlement.NewEngine(st, hub)
	publisher := oracle.NewPublisher(blobs)
	settlementSvc := settlement.NewService(engine, st, createGate, resolveGate, publisher)

	registry := access.NewRegistry(st, hub)
	accessSvc := access.NewService(registry)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"settlement-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for the real-time notification stream.
		r.Get("/ws", hub.HandleWS)

		// Market lifecycle.
		r.Get("/markets", settlementSvc.ListMarkets)
		r.Post("/markets", settlementSvc.CreateMarket)
		r.Get("/markets/{marketID}", settlementSvc.GetMarket)
		r.Get("/markets/{marketID}/odds", settlementSvc.GetOdds)
		r.Get("/markets/{marketID}/events", settlementSvc.GetMarketEvents)
		r.Post("/markets/{marketID}/stake", settlementSvc.Stake)
		r.Post("/markets/{marketID}/resolve", settlementSvc.Resolve)

		// Positions and accounts.
		r.Post("/positions/{positionID}/claim", settlementSvc.Claim)
		r.Get("/positions/{owner}", settlementSvc.ListPositions)
		r.Post("/accounts/{owner}/deposit", settlementSvc.Deposit)
		r.Get("/accounts/{owner}", settlementSvc.GetAccount)

		// Access control.
		r.Post("/passes", accessSvc.IssuePass)
		r.Get("/tiers/{holder}", accessSvc.GetTier)
		r.Post("/markets/{marketID}/access", accessSvc.ConfigureAccess)
		r.Get("/markets/{marketID}/access", accessSvc.VerifyAccess)
		r.Get("/markets/{marketID}/outcome", accessSvc.GetPublicOutcome)

		// Directory stats.
		r.Get("/stats", settlementSvc.Stats)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("settlement-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down settlement-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("settlement-engine stopped")
}
