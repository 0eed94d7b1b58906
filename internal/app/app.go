// Package app wires the market services from configuration.
package app

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"nftmarket/internal/assets"
	"nftmarket/internal/config"
	"nftmarket/internal/database"
	"nftmarket/internal/ledger"
	"nftmarket/internal/lock"
	"nftmarket/internal/matcher"
	"nftmarket/internal/notify"
	"nftmarket/internal/orders"
	"nftmarket/internal/repository"
	"nftmarket/internal/settlement"
)

type App struct {
	DB       *database.DB
	Repo     *repository.Repository
	Ledger   *ledger.Ledger
	Engine   *settlement.Engine
	Locks    *lock.Manager
	Notifier notify.Notifier
	Pool     *matcher.Pool
	Matcher  *matcher.Matcher
	Orders   *orders.Service
	Assets   *assets.Service

	closers []io.Closer
	log     logrus.FieldLogger
}

func New(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*App, error) {
	a := &App{log: logger}

	db, err := database.NewConnection(cfg.Database.Driver, cfg.Database.URL, cfg.Database.MaxOpenConns, logger)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, db)
	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	backend, err := a.lockBackend(ctx, cfg.Lock)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Locks = lock.NewManager(backend, lock.Config{
		Mode:          lock.Mode(cfg.Lock.Mode),
		Namespace:     cfg.Lock.Namespace,
		RetryInterval: cfg.Lock.ParsedRetry,
		Defaults:      lock.Options{Hold: cfg.Lock.ParsedHold, Wait: cfg.Lock.ParsedWait},
	}, logger)

	if cfg.Kafka.Enabled {
		a.Notifier = notify.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	} else {
		a.Notifier = notify.NewLogNotifier(logger)
	}
	a.closers = append(a.closers, a.Notifier)

	a.Repo = repository.New(db.Dialect, logger)
	a.Ledger = ledger.New(db.Dialect, cfg.Market.ParsedCommissionRate, cfg.Market.PlatformAccountID, logger)
	a.Engine = settlement.NewEngine(a.Repo, a.Ledger, logger)
	a.Pool = matcher.NewPool(cfg.Matcher.Workers, cfg.Matcher.QueueSize, logger)
	a.Matcher = matcher.New(db, a.Repo, a.Engine, a.Locks, a.Notifier, a.Pool, cfg.Matcher.ParsedTimeout, logger)
	a.Orders = orders.NewService(db, a.Repo, a.Ledger, a.Engine, a.Locks, a.Notifier, logger)
	a.Assets = assets.NewService(db, a.Repo, a.Matcher, logger)
	return a, nil
}

func (a *App) lockBackend(ctx context.Context, cfg config.LockConfig) (lock.Backend, error) {
	if cfg.Backend != "redis" {
		return lock.NewLocalBackend(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	a.closers = append(a.closers, client)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		if cfg.Mode != string(lock.ModeDegraded) {
			return nil, errors.Wrapf(err, "failed to reach redis at %s", cfg.RedisAddr)
		}
		a.log.WithError(err).Warn("Redis unreachable at startup, locks run degraded until it recovers")
	}
	return lock.NewRedisBackend(client), nil
}

// Close drains the match pool first so in-flight matches finish before the
// notifier and database go away.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close resource")
		}
	}
	a.closers = nil
}
