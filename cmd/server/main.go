package main

import (
	"context"
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

	"github.com/coinledger/portfolio-engine/internal/aggregate"
	"github.com/coinledger/portfolio-engine/internal/api"
	"github.com/coinledger/portfolio-engine/internal/config"
	"github.com/coinledger/portfolio-engine/internal/exchange"
	"github.com/coinledger/portfolio-engine/internal/importer"
	"github.com/coinledger/portfolio-engine/internal/ledger"
	"github.com/coinledger/portfolio-engine/internal/metrics"
	"github.com/coinledger/portfolio-engine/internal/oracle"
	"github.com/coinledger/portfolio-engine/internal/pnl"
	"github.com/coinledger/portfolio-engine/internal/store"
	"github.com/coinledger/portfolio-engine/internal/syncer"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()
	var rdb *redis.Client

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
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb = redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Redis.TTL)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Exchange client and price oracle ---
	client := exchange.NewClient(cfg.Exchange.APIKey, cfg.Exchange.SecretKey, cfg.Exchange.Timeout)
	account := exchange.NewAccountService(client)

	pairs := oracle.DefaultPairTable()
	if len(cfg.Pricing.QuoteAssets) > 0 {
		pairs.QuoteAssets = cfg.Pricing.QuoteAssets
	}
	prices := oracle.NewBinanceOracle(client, pairs)

	// --- Sync lock: distributed when Redis is available ---
	var locks syncer.KeyLock
	if rdb != nil {
		locks = syncer.NewRedisKeyLock(rdb, cfg.Sync.LockTTL)
		slog.Info("distributed sync lock enabled")
	} else {
		locks = syncer.NewMemoryKeyLock()
	}

	// --- Engines ---
	lg := ledger.New(st)
	coordinator := syncer.NewCoordinator(st, lg, account, prices, locks, logger, cfg.Sync.Timeout)
	imp := importer.New(st, lg, account, pairs, logger)
	engine := pnl.NewEngine(st, prices, pairs, logger)
	agg := aggregate.New(st, logger)

	// --- WebSocket hub and price feed ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	feedCtx, stopFeed := context.WithCancel(context.Background())
	defer stopFeed()
	feed := api.NewPriceFeed(prices, wsHub, cfg.Pricing.WatchAssets, cfg.Pricing.RefreshInterval, logger)
	go feed.Run(feedCtx)

	svc := api.NewService(coordinator, imp, engine, agg)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))
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
		w.Write([]byte(`{"status":"ok","service":"portfolio-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time price updates.
		r.Get("/ws", wsHub.HandleWS)

		svc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("portfolio-engine listening", "port", cfg.Server.Port)
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

	slog.Info("shutting down portfolio-engine...")
	stopFeed()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("portfolio-engine stopped")
}
