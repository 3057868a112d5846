// Package app wires the configured collaborators into runnable jobs.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"course-credentials/internal/config"
	"course-credentials/internal/crm"
	"course-credentials/internal/documents"
	"course-credentials/internal/ratelimit"
	"course-credentials/internal/storage"
	"course-credentials/internal/store"
	"course-credentials/internal/worker"
)

// App holds the long-lived collaborators of one process.
type App struct {
	Config    config.Config
	Log       zerolog.Logger
	Processor *worker.Processor
	OpenStore worker.StoreOpener

	redis *redis.Client
}

// New builds every collaborator from cfg. Outbound calls are throttled through
// Redis when REDIS_ADDR is set.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	var limiter ratelimit.Limiter = ratelimit.Unlimited{}
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			_ = a.redis.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		limiter = ratelimit.NewTokenBucket(a.redis, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	}

	docs, err := documents.New(cfg, limiter)
	if err != nil {
		a.Close()
		return nil, err
	}
	persist, err := storage.New(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}

	a.OpenStore = func(ctx context.Context) (store.IdentifierStore, error) {
		return store.Open(ctx, cfg)
	}
	client := crm.New(cfg, limiter)
	certs := worker.NewCoordinator(cfg, client, a.OpenStore, docs, persist, log)
	due := worker.NewDueDateJob(cfg, client, log)
	a.Processor = worker.NewDailyProcessor(certs, due, log)
	return a, nil
}

// Close releases the Redis connection if one was opened.
func (a *App) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
