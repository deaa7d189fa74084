package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/discount-monitor/internal/config"
	"github.com/maltedev/discount-monitor/internal/database"
	"github.com/maltedev/discount-monitor/internal/events"
	"github.com/maltedev/discount-monitor/internal/fetch"
	"github.com/maltedev/discount-monitor/internal/jobs"
	"github.com/maltedev/discount-monitor/internal/lock"
	"github.com/maltedev/discount-monitor/internal/logger"
	"github.com/maltedev/discount-monitor/internal/parser"
	"github.com/maltedev/discount-monitor/internal/ratelimit"
	"github.com/maltedev/discount-monitor/internal/scraper"
	"github.com/maltedev/discount-monitor/internal/settings"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return 1
	}
	defer db.Close()

	// an unreachable lock backend surfaces from Run as a failed run log
	locker, closeLocker := newLocker(cfg, db)
	defer closeLocker()

	extractor, err := parser.NewExtractor()
	if err != nil {
		log.Error("failed to load selector tables", "error", err)
		return 1
	}

	registryFor := func(s settings.Settings) jobs.Registry {
		fetcher := fetch.New(fetch.Options{
			Timeout:      cfg.Scraper.Timeout,
			MaxRedirects: cfg.Scraper.MaxRedirects,
			UserAgents:   cfg.Scraper.UserAgents,
			MaxRetries:   s.MaxRetries,
			BaseDelay:    s.RequestDelay,
		}, ratelimit.RealSleeper, log)

		return scraper.NewRegistry(
			scraper.NewAmazonScraper(fetcher, extractor, log),
			scraper.NewEbayScraper(fetcher, extractor, log),
		)
	}

	publisher := events.NewPublisher(db, cfg.Relay.Stream, log)

	runner := jobs.NewRunner(db, publisher, locker, registryFor, jobs.Options{
		TimeLimit:          cfg.Run.TimeLimit,
		ItemTimeout:        cfg.Run.ItemTimeout,
		ParallelPlatforms:  cfg.Run.ParallelPlatforms,
		CleanupProbability: cfg.Run.CleanupProbability,
	}, log)

	stats, err := runner.Run(ctx)
	if errors.Is(err, lock.ErrLockHeld) {
		// another run is still active; the next trigger will pick up the work
		return 0
	}
	if err != nil {
		log.Error("run failed", "error", err)
		return 1
	}

	log.Info("run finished", "summary", stats.Summary(), "timed_out", stats.TimedOut)
	return 0
}

func newLocker(cfg *config.Config, db *database.DB) (lock.Locker, func()) {
	if cfg.Run.LockBackend == config.LockBackendPostgres {
		return lock.NewPostgresLocker(db.Pool(), cfg.Run.LockKey), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	// a crashed holder's lease expires shortly after the run ceiling would have
	ttl := cfg.Run.TimeLimit + time.Minute
	return lock.NewRedisLocker(client, cfg.Run.LockKey, ttl), func() { client.Close() }
}
