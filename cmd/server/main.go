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

	"github.com/vegais/ledger-engine/internal/api"
	"github.com/vegais/ledger-engine/internal/clock"
	"github.com/vegais/ledger-engine/internal/config"
	"github.com/vegais/ledger-engine/internal/custody"
	"github.com/vegais/ledger-engine/internal/engine"
	"github.com/vegais/ledger-engine/internal/events"
	"github.com/vegais/ledger-engine/internal/metrics"
	"github.com/vegais/ledger-engine/internal/platform"
	"github.com/vegais/ledger-engine/internal/store"
	"github.com/vegais/ledger-engine/internal/vault"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	configPath := flag.String("config", os.Getenv("LEDGER_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(context.Background()); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Custody ---
	cu := cfg.Custody
	treasuryAcct := custody.Account(cu.TreasuryAccount)
	vaultAcct := custody.Account(cu.VaultAccount)

	tokens := custody.NewMemoryCustody()
	tokens.Open(treasuryAcct, cu.TreasurySigner)
	tokens.Open(vaultAcct, cu.VaultSigner)
	for identity, amount := range cu.DevMint {
		tokens.Mint(custody.WalletOf(identity), identity, amount)
	}
	slog.Warn("using in-memory custody (token balances will not persist)", "funded_wallets", len(cu.DevMint))

	// --- Event publishing ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	pubs := events.Multi{wsHub}
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			slog.Error("kafka publisher setup failed", "err", err)
			os.Exit(1)
		}
		pubs = append(pubs, kp)
		slog.Info("Kafka audit publishing enabled", "topic", cfg.Kafka.Topic)
	} else {
		pubs = append(pubs, events.LogPublisher{})
	}
	cleanup = append(cleanup, func() {
		if err := pubs.Close(); err != nil {
			slog.Error("event publisher close failed", "err", err)
		}
	})

	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Ledger service ---
	svc := engine.NewService(
		st,
		clock.System{},
		platform.Treasury{Transferer: tokens, Vault: treasuryAcct, Signer: cu.TreasurySigner},
		vault.Engine{Transferer: tokens, Account: vaultAcct, Signer: cu.VaultSigner},
		pubs,
	)
	handler := api.NewHandler(svc)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+api.CallerHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"ledger-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// The WebSocket stream must not sit behind the request timeout.
		handler.Routes(r.With(middleware.Timeout(30*time.Second)), nil)
		r.Get("/ws", wsHub.HandleWS)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("ledger-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down ledger-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("ledger-engine stopped")
}
