// Package bootstrap builds the shared runtime (database, Redis, Counter
// Store, queue, lock) that the server, worker and maintenance commands run on.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"momentum/internal/cache"
	"momentum/internal/config"
	"momentum/internal/counterstore"
	"momentum/internal/database"
	"momentum/internal/jobs"
	"momentum/internal/middleware"
	"momentum/internal/notifications"
	"momentum/internal/queue"
	"momentum/internal/ranking"
	"momentum/internal/repository"
	"momentum/internal/service"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Runtime holds every long-lived dependency of one process.
type Runtime struct {
	Config   *config.Config
	DB       *gorm.DB
	Redis    *redis.Client
	Store    counterstore.Store
	Queue    queue.Queue
	Locker   jobs.Locker
	Repos    *repository.Repositories
	Notifier notifications.Dispatcher
}

// InitRuntime connects to the database and Redis and selects the Counter
// Store and queue drivers from cfg. Redis is optional only when neither the
// Counter Store nor the queue uses it.
func InitRuntime(cfg *config.Config) (*Runtime, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	rt := &Runtime{Config: cfg, DB: db, Repos: repository.New(db)}

	needsRedis := cfg.CounterStore == config.CounterStoreRedis || cfg.QueueDriver == config.QueueDriverRedis
	rdb, err := cache.Connect(cfg.RedisURL)
	switch {
	case err == nil:
		rt.Redis = rdb
	case needsRedis:
		_ = rt.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	default:
		middleware.Logger.Warn("Redis unavailable; running without cache, shared locks and pub/sub", "error", err.Error())
	}

	switch cfg.CounterStore {
	case config.CounterStoreRedis:
		rt.Store = counterstore.NewRedisStore(rt.Redis)
	default:
		rt.Store = counterstore.NewMemoryStore()
	}

	switch cfg.QueueDriver {
	case config.QueueDriverRedis:
		rt.Queue = queue.NewRedisQueue(rt.Redis)
	case config.QueueDriverRabbitMQ:
		q, err := queue.NewRabbitQueue(cfg.RabbitMQURL, cfg.WorkerConcurrency*2)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		rt.Queue = q
	default:
		rt.Queue = queue.NewMemoryQueue()
	}

	if rt.Redis != nil {
		rt.Locker = jobs.NewRedisLocker(rt.Redis)
	} else {
		rt.Locker = jobs.NewLocalLocker()
	}
	rt.Notifier = notifications.NewNotifier(rt.Redis)

	middleware.Logger.Info("Runtime initialized",
		"counter_store", cfg.CounterStore,
		"queue_driver", cfg.QueueDriver,
		"redis", rt.Redis != nil,
	)
	return rt, nil
}

// ServiceDeps returns the dependencies shared by the request-path services.
func (rt *Runtime) ServiceDeps() *service.Deps {
	return &service.Deps{
		Store:   rt.Store,
		Repos:   rt.Repos,
		Queue:   rt.Queue,
		Cache:   cache.New(rt.Redis),
		PostTTL: rt.Config.PostExistenceTTL(),
	}
}

// FeedConfig maps the feed settings onto the service configuration.
func (rt *Runtime) FeedConfig() (service.FeedConfig, error) {
	window, err := ranking.ParseTimeRange(rt.Config.FeedDefaultTimeRange, 7*24*time.Hour)
	if err != nil {
		return service.FeedConfig{}, err
	}
	return service.FeedConfig{
		CacheTTL:         rt.Config.FeedCacheTTL(),
		StaleTTL:         rt.Config.FeedStaleTTL(),
		QueryTimeout:     rt.Config.FeedQueryTimeout(),
		MaxCandidates:    rt.Config.FeedMaxCandidates,
		DefaultTimeRange: window,
	}, nil
}

// NewRunner builds a worker runner over the sync job handlers.
func (rt *Runtime) NewRunner() (*queue.Runner, error) {
	proc := jobs.NewProcessor(rt.Store, rt.Repos, rt.Queue, rt.Notifier).WithReconcileGuard(rt.Locker)
	return queue.NewRunner(rt.Queue, proc.Handlers(), queue.RunnerConfig{
		MaxAttempts: rt.Config.QueueMaxAttempts,
		BaseDelay:   rt.Config.RetryBaseDelay(),
		MaxDelay:    rt.Config.RetryMaxDelay(),
		Concurrency: rt.Config.WorkerConcurrency,
	})
}

// RunWorkers keeps recovering abandoned jobs, starts the periodic score
// refresh and consumes every job kind until ctx is done.
func (rt *Runtime) RunWorkers(ctx context.Context) error {
	rt.recoverAbandoned(ctx)
	go func() {
		t := time.NewTicker(queue.DefaultVisibilityTimeout / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				rt.recoverAbandoned(ctx)
			}
		}
	}()

	runner, err := rt.NewRunner()
	if err != nil {
		return err
	}
	if interval := rt.Config.ScoreRefreshInterval(); interval > 0 {
		refresher := jobs.NewScoreRefresher(rt.Repos.Posts, rt.Queue, rt.Locker)
		go refresher.Run(ctx, interval)
	}
	return runner.Run(ctx)
}

// NewReconciler builds a reconciler over this runtime's stores that drains
// the queue before rebuilding.
func (rt *Runtime) NewReconciler() *jobs.Reconciler {
	r := jobs.NewReconciler(rt.Store, rt.Repos, rt.Locker)
	runner, err := rt.NewRunner()
	if err != nil {
		middleware.Logger.Warn("Reconciler runs without a queue drain", "error", err.Error())
		return r
	}
	return r.WithDrain(runner.Drain)
}

func (rt *Runtime) recoverAbandoned(ctx context.Context) {
	if n, err := rt.Recover(ctx); err != nil {
		middleware.Logger.Warn("Recovering abandoned jobs failed", "error", err.Error())
	} else if n > 0 {
		middleware.Logger.Info("Recovered abandoned jobs", "count", n)
	}
}

// Recover hands jobs abandoned by a crashed worker back to the queue when
// the driver supports it.
func (rt *Runtime) Recover(ctx context.Context) (int, error) {
	if rq, ok := rt.Queue.(*queue.RedisQueue); ok {
		return rq.Recover(ctx)
	}
	return 0, nil
}

// Close releases every connection.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Queue != nil {
		errs = append(errs, rt.Queue.Close())
	}
	if rt.Redis != nil {
		errs = append(errs, rt.Redis.Close())
	}
	if rt.DB != nil {
		if sqlDB, err := rt.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
