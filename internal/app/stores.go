// Package app opens the storage backends selected by configuration. The
// server and the CLI share it.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jack/shortlink-resolver/internal/config"
	"github.com/jack/shortlink-resolver/internal/migrations"
	"github.com/jack/shortlink-resolver/internal/repository"
	"github.com/jack/shortlink-resolver/internal/repository/memory"
)

type Stores struct {
	Links  repository.LinkStore
	Events repository.EventStore
	// Redis is nil when the cache is disabled.
	Redis *repository.RedisRepository
	// Checks holds one ping per backend, keyed by name.
	Checks map[string]func(ctx context.Context) error

	closers []func()
}

type Options struct {
	// Migrate applies pending schema migrations before returning.
	Migrate bool
}

// Open connects every backend named by cfg.Storage and, when enabled, the
// Redis link cache. On error everything opened so far is closed again.
func Open(cfg *config.Config, opts Options, logger *zap.Logger) (*Stores, error) {
	s := &Stores{Checks: make(map[string]func(context.Context) error)}

	var (
		pg  *repository.PostgresRepository
		mem *memory.Store
	)
	needPostgres := cfg.Storage.LinkDriver == config.DriverPostgres || cfg.Storage.EventDriver == config.DriverPostgres
	if needPostgres {
		var err error
		pg, err = repository.NewPostgresRepository(&cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		s.closers = append(s.closers, pg.Close)
		s.Checks["postgres"] = pg.Health
		logger.Info("connected to PostgreSQL", zap.String("host", cfg.Postgres.Host), zap.String("db", cfg.Postgres.DBName))

		if opts.Migrate {
			if err := migrations.Postgres(cfg.Postgres.DSN()); err != nil {
				s.Close()
				return nil, fmt.Errorf("failed to migrate PostgreSQL: %w", err)
			}
			logger.Info("PostgreSQL schema up to date")
		}
	}
	memoryStore := func() *memory.Store {
		if mem == nil {
			mem = memory.NewStore()
			logger.Warn("using in-memory storage, data is lost on restart")
		}
		return mem
	}

	switch cfg.Storage.LinkDriver {
	case config.DriverPostgres:
		s.Links = pg
	default:
		s.Links = memoryStore()
	}

	switch cfg.Storage.EventDriver {
	case config.DriverPostgres:
		s.Events = pg
	case config.DriverClickHouse:
		ch, err := repository.NewClickHouseRepository(&cfg.ClickHouse)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		s.closers = append(s.closers, func() { _ = ch.Close() })
		s.Checks["clickhouse"] = ch.Health
		logger.Info("connected to ClickHouse", zap.String("addr", cfg.ClickHouse.Addr))

		if opts.Migrate {
			if err := migrations.ClickHouse(ch.DB().DB); err != nil {
				s.Close()
				return nil, fmt.Errorf("failed to migrate ClickHouse: %w", err)
			}
			logger.Info("ClickHouse schema up to date")
		}
		s.Events = ch
	default:
		s.Events = memoryStore()
	}

	if cfg.Redis.Enabled {
		redisRepo, err := repository.NewRedisRepository(&cfg.Redis, cfg.Cache.LinkTTL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		s.closers = append(s.closers, func() { _ = redisRepo.Close() })
		s.Checks["redis"] = redisRepo.Health
		s.Redis = redisRepo
		s.Links = repository.NewCachedLinkStore(s.Links, redisRepo, logger)
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr()))
	}

	return s, nil
}

// Close releases backends in reverse order of opening.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
