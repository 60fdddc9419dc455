package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	inboundhttp "github.com/palettebot/server/internal/adapter/inbound/http"
	"github.com/palettebot/server/internal/adapter/inbound/http/callback"
	"github.com/palettebot/server/internal/adapter/outbound/provider"
	redisadapter "github.com/palettebot/server/internal/adapter/outbound/redis"
	"github.com/palettebot/server/internal/adapter/outbound/s3"
	"github.com/palettebot/server/internal/adapter/outbound/telegram"
	"github.com/palettebot/server/internal/module/batch"
	"github.com/palettebot/server/internal/module/catalog"
	"github.com/palettebot/server/internal/module/dispatch"
	"github.com/palettebot/server/internal/module/job"
	"github.com/palettebot/server/internal/module/quota"
	"github.com/palettebot/server/internal/shared/cache"
	"github.com/palettebot/server/internal/shared/config"
	"github.com/palettebot/server/internal/shared/database"
	"github.com/palettebot/server/internal/shared/logger"
	"github.com/palettebot/server/internal/utils/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logg := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})

	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	if err := db.AutoMigrate(&job.Job{}, &quota.UserQuota{}); err != nil {
		log.Fatalf("Failed to migrate schema: %v", err)
	}

	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer cache.Close(redisClient)

	m := metrics.New("palette")

	storage, err := s3.NewImageStorage(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to set up object storage: %v", err)
	}

	registry := catalog.NewRegistry(cfg.Provider.SyncTimeout, cfg.Provider.AsyncTimeout)
	quotaRepo := quota.NewRepository(db)
	quotaSvc := quota.NewService(quotaRepo, logg, cfg.Quota.FreeCredits)
	jobRepo := job.NewRepository(db)
	batchStore := redisadapter.NewBatchStore(redisClient, cfg.Batch)
	providerClient := provider.NewClient(cfg.Provider, m, logg)

	bot, err := telegram.NewBot(cfg.Telegram, quotaSvc, registry, logg)
	if err != nil {
		log.Fatalf("Failed to connect to telegram: %v", err)
	}
	transport := bot.Transport()

	completer := job.NewCompleter(jobRepo, quotaSvc, storage, transport, m, logg)
	collector := batch.NewCollector(batchStore, logg)
	dispatcher := dispatch.NewDispatcher(
		collector, quotaSvc, registry, jobRepo, completer,
		providerClient, transport, m, logg,
	)
	bot.SetDispatcher(dispatcher)

	worker := job.NewWorker(
		jobRepo, providerClient, completer, registry,
		cfg.Worker, callbackURL(cfg.Provider), m, logg,
	)

	cbHandler := callback.NewHandler(jobRepo, completer, m, logg)
	server := inboundhttp.NewServer(cfg.Server, cbHandler, m, logg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go worker.Run(ctx)
	go bot.Run(ctx)
	go func() {
		if err := server.Start(); err != nil {
			logg.Error("http server failed", logger.Err(err))
			stop()
		}
	}()

	<-ctx.Done()
	logg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error("http shutdown failed", logger.Err(err))
	}

	logg.Info("bye")
}

// callbackURL derives the externally reachable completion endpoint. Empty
// when no public base is configured; async jobs then run without the
// callback channel.
func callbackURL(cfg config.ProviderConfig) string {
	if cfg.CallbackBaseURL == "" {
		return ""
	}
	return strings.TrimRight(cfg.CallbackBaseURL, "/") + "/callbacks/generation"
}
