package app

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"dnsscanner/internal/checkpoint"
	"dnsscanner/internal/config"
	"dnsscanner/internal/database"
	"dnsscanner/internal/geolite"
	"dnsscanner/internal/probe"
	"dnsscanner/internal/scanner"
	"dnsscanner/internal/scheduler"
	"dnsscanner/internal/support"
)

const leaderKey = "dnsscanner:leader:automatic"

// environment holds the process-wide collaborators. Tests replace the
// connection functions.
type environment struct {
	settingsPath string

	openDatabase func() (*gorm.DB, error)
	connectRedis func(ctx context.Context) (*redis.Client, error)
}

func newEnvironment() *environment {
	return &environment{
		settingsPath: config.DefaultSettingsPath,
		openDatabase: func() (*gorm.DB, error) {
			return database.SetupDB()
		},
		connectRedis: func(ctx context.Context) (*redis.Client, error) {
			return support.ConnectRedis(ctx, support.RedisURL())
		},
	}
}

func (env *environment) settings() (config.Config, error) {
	return config.ReadSettings(env.settingsPath)
}

func (env *environment) store() (*database.Store, func(), error) {
	db, err := env.openDatabase()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	closeFn := func() {
		if err := database.Close(db); err != nil {
			log.Warn("error closing database", "error", err)
		}
	}
	return database.NewStore(db), closeFn, nil
}

// redis connects when Redis is configured. A nil client means checkpoints and
// leader election are off.
func (env *environment) redis(ctx context.Context) *redis.Client {
	client, err := env.connectRedis(ctx)
	if errors.Is(err, support.ErrRedisDisabled) {
		log.Debug("Redis not configured, running without checkpoints or leader election")
		return nil
	}
	if err != nil {
		log.Warn("Redis unavailable, running without checkpoints or leader election", "error", err)
		return nil
	}
	return client
}

func newScheduler(cfg config.Config, store *database.Store) *scheduler.Scheduler {
	return scheduler.New(store, scheduler.WithBatchSize(int(cfg.Scheduler.LookupBatchSize)))
}

// newExecutor opens the fallible collaborators first so an error leaves
// nothing to release.
func newExecutor(cfg config.Config) (*scanner.Executor, func(), error) {
	resolver, err := newResolver(cfg)
	if err != nil {
		return nil, nil, err
	}

	enricher, err := geolite.Open(cfg.GeoLite.CountryDB, cfg.GeoLite.ASNDB)
	if err != nil {
		return nil, nil, err
	}

	prober := probe.NewHTTPProber(
		probe.WithScheme(cfg.Scanner.Scheme),
		probe.WithPort(int(cfg.Scanner.Port)),
		probe.WithPath(cfg.Scanner.Path),
		probe.WithUserAgent(cfg.Scanner.UserAgent),
	)

	opts := []scanner.Option{
		scanner.WithConcurrency(int(cfg.Scanner.Concurrency)),
		scanner.WithProbeTimeout(cfg.ProbeTimeout()),
		scanner.WithResolveTimeout(cfg.ResolveTimeout()),
	}
	if enricher.Available() {
		opts = append(opts, scanner.WithEnricher(enricher))
		log.Info("GeoLite enrichment enabled", "country", cfg.GeoLite.CountryDB, "asn", cfg.GeoLite.ASNDB)
	}

	cleanup := func() {
		prober.Close()
		if err := enricher.Close(); err != nil {
			log.Warn("error closing GeoLite databases", "error", err)
		}
	}
	return scanner.New(prober, resolver, opts...), cleanup, nil
}

func newResolver(cfg config.Config) (scanner.Resolver, error) {
	if cfg.Resolver.Nameserver != "" {
		resolver, err := probe.NewNameserverResolver(cfg.Resolver.Nameserver, cfg.ResolveTimeout())
		if err != nil {
			return nil, err
		}
		log.Info("Resolving host names through nameserver", "server", resolver.Server())
		return resolver, nil
	}
	return probe.NewSystemResolver(net.DefaultResolver, cfg.ResolverCacheTTL(), cfg.ResolveTimeout()), nil
}

func newCheckpoints(client *redis.Client) *checkpoint.RedisStore {
	if client == nil {
		return nil
	}
	return checkpoint.NewRedisStore(client, checkpoint.DefaultPrefix, 0)
}
