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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/league-engine/internal/access"
	"github.com/atmx/league-engine/internal/api"
	"github.com/atmx/league-engine/internal/config"
	"github.com/atmx/league-engine/internal/delegation"
	"github.com/atmx/league-engine/internal/events"
	"github.com/atmx/league-engine/internal/executor"
	"github.com/atmx/league-engine/internal/league"
	"github.com/atmx/league-engine/internal/metrics"
	"github.com/atmx/league-engine/internal/model"
	"github.com/atmx/league-engine/internal/oracle"
	"github.com/atmx/league-engine/internal/store"
	"github.com/atmx/league-engine/internal/token"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Redis (rollup state and base read cache) ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	// --- Base ledger store ---
	var baseStore store.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool, "base_accounts")
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("migration failed", "err", err)
			os.Exit(1)
		}
		baseStore = pg
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			baseStore = store.NewCachedStore(pg, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory base ledger (data will not persist)")
		baseStore = store.NewMemoryStore()
	}

	// --- Rollup store ---
	var rollupStore store.Store
	if rdb != nil {
		rollupStore = store.NewRedisStore(rdb, "rollup")
		slog.Info("rollup state in Redis")
	} else {
		rollupStore = store.NewMemoryStore()
	}

	// --- Event publishers ---
	hub := api.NewWSHub()
	go hub.Run(ctx)
	publishers := events.Multi{hub}

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("league-engine"))
		if err != nil {
			slog.Error("nats connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, nc.Close)
		js, err := jetstream.New(nc)
		if err != nil {
			slog.Error("jetstream init failed", "err", err)
			os.Exit(1)
		}
		if err := events.EnsureStream(ctx, js); err != nil {
			slog.Error("event stream setup failed", "err", err)
			os.Exit(1)
		}
		pub := events.NewNATSPublisher(js, 1024)
		go pub.Run(ctx)
		publishers = append(publishers, pub)
		slog.Info("publishing events to NATS", "stream", events.StreamName)
	}

	// --- Oracle ---
	var feed oracle.Feed
	static := oracle.NewStaticFeed()
	if cfg.OracleURL != "" {
		feed = oracle.NewHTTPFeed(cfg.OracleURL, cfg.OracleRPS)
		slog.Info("using remote oracle", "url", cfg.OracleURL)
	} else {
		for _, m := range cfg.Markets {
			if err := static.SetDecimal(m.PriceFeed, m.Price, m.Exponent); err != nil {
				slog.Error("invalid seeded price", "feed", m.PriceFeed, "err", err)
				os.Exit(1)
			}
		}
		feed = static
		slog.Warn("ORACLE_URL not set, using static prices from config")
	}

	// --- Token ledger ---
	tokens := token.NewMemoryLedger()
	for _, b := range cfg.Tokens {
		tokens.Mint(b.Mint, b.Owner, b.Amount)
	}

	// --- Program ---
	base := executor.New(executor.Base, baseStore, executor.WithPublisher(publishers))
	rollup := executor.New(executor.Rollup, rollupStore,
		executor.WithFallback(baseStore),
		executor.WithValidator(cfg.ValidatorID),
		executor.WithPublisher(publishers))

	svc := league.NewService(
		delegation.NewRouter(base, rollup),
		delegation.NewCoordinator(base, rollup, cfg.DelegationDelay, publishers),
		oracle.NewReader(feed, cfg.OracleMaxAge),
		tokens,
		access.NewGroupRegistry(),
		league.Policy{AllowPendingJoin: cfg.Policy.AllowPendingJoin, TieBreak: cfg.TieBreak()},
	)
	if err := bootstrap(ctx, svc, cfg); err != nil {
		slog.Error("bootstrap failed", "err", err)
		os.Exit(1)
	}

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
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Signer, X-Requester")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"league-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ws", hub.HandleWS)
		api.NewHandler(svc).Routes(r)
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
		slog.Info("league-engine listening", "port", cfg.Port, "validator", cfg.ValidatorID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down league-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("league-engine stopped")
}

// bootstrap initializes the program and lists the configured markets.
// Existing accounts are left as they are so restarts are harmless.
func bootstrap(ctx context.Context, svc *league.Service, cfg config.Config) error {
	if cfg.Program == nil {
		return nil
	}
	p := cfg.Program
	if _, err := svc.Initialize(ctx, p.Admin, p.Treasury, p.FeeBps); err != nil && !errors.Is(err, model.ErrAlreadyExists) {
		return fmt.Errorf("initialize: %w", err)
	}
	for _, m := range cfg.Markets {
		_, err := svc.CreateMarket(ctx, p.Admin, league.MarketParams{
			Symbol:      m.Symbol,
			PriceFeed:   m.PriceFeed,
			Decimals:    m.Decimals,
			MaxLeverage: m.MaxLeverage,
		})
		if err != nil && !errors.Is(err, model.ErrAlreadyExists) {
			return fmt.Errorf("list %s: %w", m.Symbol, err)
		}
	}
	return nil
}
