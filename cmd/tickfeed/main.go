package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tickfeed/config"
	"tickfeed/internal/api"
	"tickfeed/internal/cache"
	"tickfeed/internal/feed"
	"tickfeed/internal/ingest"
	"tickfeed/internal/query"
	"tickfeed/internal/registry"
	"tickfeed/logger"
	"tickfeed/pkg/market"
	"tickfeed/pkg/storage/memory"
	"tickfeed/pkg/storage/postgres"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// .env is optional; real deployments configure through the
	// environment directly.
	_ = godotenv.Load()

	cfg := config.Load()

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tickStore, instrumentStore, closeStore, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("failed to open tick store", zap.Error(err))
	}
	defer closeStore()

	snapCache := openCache(ctx, cfg, log)

	ingestSvc := ingest.NewService(tickStore, instrumentStore, snapCache, log)
	querySvc := query.NewService(tickStore, instrumentStore, snapCache, log)
	registrySvc := registry.NewService(instrumentStore, log)

	startFeeds(ctx, cfg, registrySvc, ingestSvc, log)
	startRetention(ctx, cfg, tickStore, log)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewServer(ingestSvc, querySvc, registrySvc, log).Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", zap.Error(err))
	}

	log.Info("stopped")
}

// openStore builds the configured backend. Both backends satisfy the
// same store interfaces, so the rest of the process does not care
// which one is running.
func openStore(cfg *config.Config, log *zap.Logger) (market.TickStore, market.InstrumentStore, func(), error) {
	switch cfg.Storage.Driver {
	case "memory":
		log.Warn("using in-memory tick store; data is not persisted")
		store := memory.NewStore()
		return store, store, func() {}, nil

	default:
		env := os.Getenv("ENVIRONMENT")
		client, err := postgres.InitializeAndMigrate(cfg.Postgres, env, true)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				log.Warn("closing postgres", zap.Error(err))
			}
		}
		return client, client, closeFn, nil
	}
}

// openCache connects the optional redis snapshot cache. A missing or
// unreachable redis only disables the cache; reads fall through to the
// store.
func openCache(ctx context.Context, cfg *config.Config, log *zap.Logger) *cache.SnapshotCache {
	if cfg.Redis.Addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	snapCache := cache.New(client, cfg.Redis.TTL)

	if err := snapCache.Ping(ctx); err != nil {
		log.Warn("redis unreachable, snapshot cache disabled", zap.Error(err))
		_ = client.Close()
		return nil
	}

	log.Info("snapshot cache connected", zap.String("addr", cfg.Redis.Addr))
	return snapCache
}

// tickPruner is implemented by both store backends.
type tickPruner interface {
	DeleteTicksBefore(ctx context.Context, before time.Time) (int64, error)
}

// startRetention sweeps tick history hourly when a retention window is
// configured. Snapshots are never pruned.
func startRetention(ctx context.Context, cfg *config.Config, store market.TickStore, log *zap.Logger) {
	if cfg.Storage.Retention <= 0 {
		return
	}
	pruner, ok := store.(tickPruner)
	if !ok {
		return
	}

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-cfg.Storage.Retention)
				removed, err := pruner.DeleteTicksBefore(ctx, cutoff)
				if err != nil {
					log.Warn("retention sweep failed", zap.Error(err))
					continue
				}
				if removed > 0 {
					log.Info("retention sweep pruned ticks",
						zap.Int64("removed", removed), zap.Time("cutoff", cutoff))
				}
			}
		}
	}()
}

// startFeeds launches the enabled ingestion adapters. Each adapter
// resolves symbols through a shared index refreshed from the registry.
func startFeeds(ctx context.Context, cfg *config.Config, registrySvc *registry.Service, ingestSvc *ingest.Service, log *zap.Logger) {
	if !cfg.Feed.Binance.Enabled && !cfg.Feed.Coinex.Enabled && !cfg.Kafka.Enabled {
		return
	}

	index := feed.NewIndex(registrySvc, log)
	index.StartRefresher(ctx, cfg.Feed.RefreshInterval)

	if cfg.Feed.Binance.Enabled {
		poller := feed.NewBinancePoller(cfg.Feed.Binance, index, ingestSvc, log)
		go poller.Run(ctx)
	}

	if cfg.Feed.Coinex.Enabled {
		client := feed.NewCoinexClient(cfg.Feed.Coinex.URL, index, ingestSvc, log)
		go func() {
			if err := client.Connect(); err != nil {
				log.Error("coinex connect failed", zap.Error(err))
				return
			}
			client.Listen(ctx)
		}()
	}

	if cfg.Kafka.Enabled {
		consumer := feed.NewKafkaConsumer(cfg.Kafka, index, ingestSvc, log)
		go func() {
			defer consumer.Close()
			consumer.Run(ctx)
		}()
	}
}
