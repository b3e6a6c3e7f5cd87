package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	memcache "github.com/prn-tf/tradernet-identity/internal/cache/memory"
	rediscache "github.com/prn-tf/tradernet-identity/internal/cache/redis"
	"github.com/prn-tf/tradernet-identity/internal/config"
	"github.com/prn-tf/tradernet-identity/internal/domain"
	"github.com/prn-tf/tradernet-identity/internal/lock"
	"github.com/prn-tf/tradernet-identity/internal/logging"
	"github.com/prn-tf/tradernet-identity/internal/metrics"
	"github.com/prn-tf/tradernet-identity/internal/pkg/crypto"
	"github.com/prn-tf/tradernet-identity/internal/repository"
	"github.com/prn-tf/tradernet-identity/internal/service"

	// Storage backends register themselves with the repository factory.
	_ "github.com/prn-tf/tradernet-identity/internal/repository/postgres"
	_ "github.com/prn-tf/tradernet-identity/internal/repository/sqlite"
)

const redisKeyPrefix = "tradernet:"

// app holds the wired services for one CLI invocation.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
	db      repository.Database

	users     *service.UserService
	roles     *service.RoleService
	groups    *service.GroupService
	bootstrap *service.Bootstrapper

	closers []func() error
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := logging.New(cfg.Logging)
	a := &app{cfg: cfg, logger: logger}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.New(cfg.Metrics.Namespace)
	}

	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	opened, err := repository.NewFactory(cfg.Database, a.logger).Open(ctx, crypto.ParseHash)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.db = opened.Database
	a.closers = append(a.closers, opened.Database.Close)
	repos := opened.Repos

	var (
		cache  repository.Cache
		locker lock.Locker
	)

	if cfg.Redis.Enabled {
		client, err := rediscache.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		cache = rediscache.NewCache(client, redisKeyPrefix+"cache:")
		if cfg.Lock.Backend == "redis" {
			locker = lock.NewRedisLocker(rediscache.NewDistributedLock(client), redisKeyPrefix, a.logger)
		}
		a.logger.Info().Str("addr", cfg.Redis.Addr()).Msg("connected to redis")
	} else if cfg.Cache.Enabled {
		mc := memcache.NewCache(time.Minute)
		a.closers = append(a.closers, func() error { mc.Stop(); return nil })
		cache = mc
	}

	if cfg.Cache.Enabled && cache != nil {
		repos.Role = repository.NewCachedRoleRepository(repos.Role, cache, cfg.Cache.TTL, a.logger)
	}

	if locker == nil {
		switch cfg.Lock.Backend {
		case "none":
			locker = lock.NewNoOpLocker()
		default:
			ml := lock.NewMemoryLocker()
			a.closers = append(a.closers, func() error { ml.Close(); return nil })
			locker = ml
		}
	}

	hasher, err := crypto.NewHasher(cfg.Password.Algorithm, cfg.Password.Cost())
	if err != nil {
		return err
	}

	lockOpts := lock.Options{
		TTL:        cfg.Lock.TTL,
		MaxRetries: cfg.Lock.MaxRetries,
		RetryDelay: cfg.Lock.RetryDelay,
	}

	history := domain.NewPasswordHistoryPolicy(domain.PasswordHistoryConfig{
		ExternalIdentityManagement: cfg.Identity.ExternalManagement,
	})

	a.users = service.NewUserService(repos, hasher, history, locker, a.metrics, service.UserServiceConfig{
		HistorySize:       cfg.Password.HistorySize,
		MinPasswordLength: cfg.Password.MinLength,
		Age: service.PasswordAgePolicy{
			MaxAge:        cfg.Password.MaxAge,
			WarningPeriod: cfg.Password.WarningPeriod,
		},
		Lockout: service.LockoutPolicy{MaxAttempts: cfg.Lockout.MaxAttempts},
		Lock:    lockOpts,
	}, a.logger)
	a.roles = service.NewRoleService(repos.Role, a.logger)
	a.groups = service.NewGroupService(repos.Group, locker, lockOpts, a.metrics, a.logger)
	a.bootstrap = service.NewBootstrapper(a.roles, a.users, locker, lockOpts, cfg.Bootstrap, a.logger)

	a.logger.Debug().
		Str("driver", cfg.Database.Driver).
		Str("lock_backend", cfg.Lock.Backend).
		Bool("cache", cache != nil).
		Msg("services wired")
	return nil
}

// Close writes the metrics textfile, if configured, and releases every
// connection in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	if a.metrics != nil && a.cfg.Metrics.TextfilePath != "" {
		if err := prometheus.WriteToTextfile(a.cfg.Metrics.TextfilePath, a.metrics.Registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
