// Package app assembles the sync components from configuration. Both the daemon and the
// admin CLI build on it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/api"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/auth"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/config"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/database"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/domain"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/events"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/export"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/logging"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/mapping"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/platform"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/queue"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/repository"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/service"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/worker"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/zoho"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DeadLetterKey = "wzs:dead_letters"
	deadLetterMax = 1000
	cachePrefix   = "wzs:"
)

// App holds the wired components. Redis and DeadLetters are nil when Redis is not configured
// or not reachable.
type App struct {
	Config      *config.Config
	DB          *database.DB
	Redis       *redis.Client
	Cache       domain.Cache
	SyncLog     *logging.SyncLogger
	Auth        *auth.Manager
	Zoho        *zoho.Client
	Woo         *platform.WooClient
	Schema      *mapping.SchemaCache
	Mappings    *mapping.Engine
	Queue       *queue.Queue
	Processor   *worker.Processor
	Sync        *service.SyncService
	Bus         *events.EventBus
	Backup      *database.BackupService
	Exporter    *export.Exporter
	DeadLetters *repository.DeadLetters

	logger *zerolog.Logger
}

// New opens storage and builds every component. Close releases what it opened.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	db, err := database.NewDB(cfg.Database.Path, logging.Component(logger, "database"))
	if err != nil {
		return nil, fmt.Errorf("init database %s: %w", cfg.Database.Path, err)
	}

	a := &App{Config: cfg, DB: db, logger: logger}
	a.Redis = initRedis(cfg.Redis, logger)
	a.Cache = newCache(a.Redis, logger)

	a.SyncLog = logging.NewSyncLogger(db, logging.Component(logger, "synclog"))
	a.Auth = auth.NewManager(cfg.Zoho, db, a.Cache, a.SyncLog, logging.Component(logger, "auth"))
	a.Zoho = zoho.NewClient(cfg.Zoho, logging.Component(logger, "zoho"))
	a.Woo = platform.NewWooClient(cfg.WooCommerce, logging.Component(logger, "woocommerce"))

	a.Schema = mapping.NewSchemaCache(a.Auth, a.Zoho, a.Cache, cfg.Sync.SchemaCacheTTL, logging.Component(logger, "schema"))
	a.Mappings = mapping.NewEngine(db, a.Cache, nil, cfg.Sync.MappingCacheTTL, logging.Component(logger, "mapping")).
		WithSchemaCheck(a.Schema, ServiceResolver(cfg.Sync.Routes))

	a.Queue = queue.New(db, queue.RetryPolicy{
		MaxAttempts:   cfg.Sync.MaxAttempts,
		InitialDelay:  cfg.Sync.Retry.InitialDelay,
		MaxDelay:      cfg.Sync.Retry.MaxDelay,
		BackoffFactor: cfg.Sync.Retry.BackoffFactor,
	}, cfg.Sync.LeaseTimeout, logging.Component(logger, "queue"))

	deps := worker.Dependencies{
		Queue:    a.Queue,
		Mapper:   a.Mappings,
		Resolver: a.Woo,
		Tokens:   a.Auth,
		Remote:   a.Zoho,
		Links:    db,
		SyncLog:  a.SyncLog,
	}
	if cfg.WooCommerce.WriteBackMeta {
		deps.Meta = a.Woo
	}
	if a.Redis != nil {
		a.DeadLetters = repository.NewDeadLetters(a.Redis, DeadLetterKey, deadLetterMax)
		deps.DeadLetters = a.DeadLetters
	}
	a.Processor = worker.NewProcessor(deps, worker.Options{
		Routes:          cfg.Sync.Routes,
		RetryRejections: cfg.Sync.RetryRejections,
	}, logging.Component(logger, "processor"))

	a.Sync = service.NewSyncService(a.Queue, a.Processor, cfg.Sync.RealTime, a.SyncLog, logging.Component(logger, "sync"))
	a.Bus = events.NewEventBus()
	a.Sync.SubscribeHooks(a.Bus)

	a.Backup = database.NewBackupService(db, cfg.Backup, logging.Component(logger, "backup"))
	a.Exporter = export.New(db, cfg.Exports.Path, logging.Component(logger, "export"))
	return a, nil
}

// SeedMappings loads the default mappings file (or the built-in set) and inserts it for
// modules without mappings.
func (a *App) SeedMappings(ctx context.Context) (int, error) {
	defaults, err := mapping.LoadDefaults(a.Config.Sync.MappingsFile)
	if err != nil {
		return 0, fmt.Errorf("load default mappings: %w", err)
	}
	inserted, err := a.Mappings.SeedDefaults(ctx, defaults)
	if err != nil {
		return inserted, fmt.Errorf("seed default mappings: %w", err)
	}
	return inserted, nil
}

func (a *App) Scheduler() *worker.Scheduler {
	return worker.NewScheduler(a.Processor, a.Queue, a.DB, a.Backup, a.Config.Sync, a.Config.Backup,
		logging.Component(a.logger, "scheduler"))
}

// APIDependencies exposes the components to the HTTP layer. OAuth stays off until the
// client credentials are configured.
func (a *App) APIDependencies() api.Dependencies {
	deps := api.Dependencies{
		Trigger:   a.Sync,
		Processor: a.Processor,
		Queue:     a.Queue,
		Mappings:  a.Mappings,
		Schema:    a.Schema,
		Logs:      a.DB,
		Reports:   a.Exporter,
		Hooks:     a.Bus,
	}
	if a.Config.Zoho.OAuthConfigured() {
		deps.OAuth = a.Auth
	}
	if a.DeadLetters != nil {
		deps.DeadLetters = a.DeadLetters
	}
	return deps
}

func (a *App) Close() error {
	if err := repository.Close(a.Redis); err != nil {
		a.logger.Warn().Err(err).Msg("close redis")
	}
	return a.DB.Close()
}

// ServiceResolver maps a Zoho module back to the service its route sends it to.
func ServiceResolver(routes map[string]config.RouteConfig) mapping.ServiceResolver {
	byModule := make(map[string]string, len(routes))
	for _, r := range routes {
		byModule[r.RemoteModule] = r.Service
	}
	return func(remoteModule string) (string, bool) {
		svc, ok := byModule[remoteModule]
		return svc, ok
	}
}

func initRedis(cfg config.RedisConfig, logger *zerolog.Logger) *redis.Client {
	if cfg.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Address).Msg("redis connected")
	return client
}

// newCache prefers Redis with an in-process fallback; without Redis everything stays in memory.
func newCache(client *redis.Client, logger *zerolog.Logger) domain.Cache {
	memory := repository.NewMemoryCache()
	if client == nil {
		return memory
	}
	return repository.NewFailoverCache(repository.NewRedisCache(client, cachePrefix), memory, logging.Component(logger, "cache"))
}
