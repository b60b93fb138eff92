package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/inspersync/inspersync/internal/identity/application/credentials"
	identityOAuth "github.com/inspersync/inspersync/internal/identity/application/oauth"
	identityDomain "github.com/inspersync/inspersync/internal/identity/domain"
	identityPersistence "github.com/inspersync/inspersync/internal/identity/infrastructure/persistence"
	"github.com/inspersync/inspersync/internal/portal"
	sharedCrypto "github.com/inspersync/inspersync/internal/shared/infrastructure/crypto"
	"github.com/inspersync/inspersync/internal/shared/infrastructure/eventbus"
	"github.com/inspersync/inspersync/internal/shared/infrastructure/migrations"
	syncApp "github.com/inspersync/inspersync/internal/sync/application"
	syncDomain "github.com/inspersync/inspersync/internal/sync/domain"
	googleCalendar "github.com/inspersync/inspersync/internal/sync/infrastructure/google"
	syncPersistence "github.com/inspersync/inspersync/internal/sync/infrastructure/persistence"
	"github.com/inspersync/inspersync/pkg/config"
	"github.com/inspersync/inspersync/pkg/observability"
)

// Container holds all application dependencies.
type Container struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *observability.InMemoryMetrics

	// Database. Exactly one of DB and SQLiteDB is set.
	DB       *pgxpool.Pool
	SQLiteDB *sql.DB

	// Redis
	RedisClient *redis.Client

	// Repositories
	UserRepo        identityDomain.UserRepository
	ConfigRepo      syncDomain.SyncConfigurationRepository
	SessionRepo     syncDomain.SyncSessionRepository
	InsperEventRepo syncDomain.InsperEventRepository
	GoogleEventRepo syncDomain.GoogleEventRepository
	MappingRepo     syncDomain.EventMappingRepository

	// Publishers
	EventPublisher eventbus.Publisher

	// Portal
	KeyCache      *portal.KeyCache
	PortalGateway *portal.Gateway

	// Identity services
	AuthService        *identityOAuth.Service
	CredentialsService *credentials.Service

	// Sync. Nil when Google OAuth is not configured; the CLI reports that
	// instead of failing at startup so credential and schedule commands
	// keep working.
	CalendarClient *googleCalendar.Client
	Formatter      *syncApp.Formatter
	Reconciler     *syncApp.Reconciler
	Orchestrator   *syncApp.Orchestrator
	SyncQueries    *syncApp.Queries
	SyncSubscriber *syncApp.SyncRequestSubscriber
}

// NewContainer creates and wires all dependencies against PostgreSQL,
// Redis, and RabbitMQ. In development the Redis and RabbitMQ connections
// degrade to in-process fallbacks when the brokers are unreachable.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewInMemoryMetrics(),
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	c.DB = pool
	logger.Info("connected to database")

	if err := migrations.RunPostgresMigrations(cfg.DatabaseURL, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Redis backs the portal RSA key cache. Development falls back to an
	// in-memory cache when Redis is unreachable.
	var keyStore portal.KeyStore
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			if !cfg.IsDevelopment() {
				pool.Close()
				return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
			}
			logger.Warn("invalid Redis URL, portal key cache will use in-memory fallback", "error", err)
		} else {
			redisClient := redis.NewClient(opt)
			if err := redisClient.Ping(ctx).Err(); err != nil {
				if !cfg.IsDevelopment() {
					pool.Close()
					return nil, fmt.Errorf("failed to connect to Redis: %w", err)
				}
				logger.Warn("Redis not available, portal key cache will use in-memory fallback", "error", err)
			} else {
				c.RedisClient = redisClient
				keyStore = portal.NewRedisKeyStore(redisClient)
				logger.Info("connected to Redis")
			}
		}
	}
	if keyStore == nil {
		keyStore = portal.NewMemoryKeyStore()
	}

	publisher, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, logger)
	if err != nil {
		if cfg.IsDevelopment() {
			logger.Warn("RabbitMQ not available, using noop publisher")
			c.EventPublisher = eventbus.NewNoopPublisher(logger)
		} else {
			pool.Close()
			return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
	} else {
		c.EventPublisher = publisher
	}

	c.UserRepo = identityPersistence.NewPostgresUserRepository(pool)
	c.ConfigRepo = syncPersistence.NewPostgresSyncConfigRepository(pool)
	c.SessionRepo = syncPersistence.NewPostgresSyncSessionRepository(pool)
	c.InsperEventRepo = syncPersistence.NewPostgresInsperEventRepository(pool)
	c.GoogleEventRepo = syncPersistence.NewPostgresGoogleEventRepository(pool)
	c.MappingRepo = syncPersistence.NewPostgresEventMappingRepository(pool)

	if err := c.wireServices(keyStore); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

// NewLocalContainer creates a container for local mode with SQLite. This
// provides zero-config operation without PostgreSQL, Redis, or RabbitMQ.
func NewLocalContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewInMemoryMetrics(),
	}

	// Foreign keys are off by default in SQLite; the session cascade on
	// event_mappings depends on them.
	db, err := sql.Open("sqlite", "file:"+cfg.SQLitePath+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	if err := migrations.RunSQLiteMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	c.SQLiteDB = db

	c.UserRepo = identityPersistence.NewSQLiteUserRepository(db)
	c.ConfigRepo = syncPersistence.NewSQLiteSyncConfigRepository(db)
	c.SessionRepo = syncPersistence.NewSQLiteSyncSessionRepository(db)
	c.InsperEventRepo = syncPersistence.NewSQLiteInsperEventRepository(db)
	c.GoogleEventRepo = syncPersistence.NewSQLiteGoogleEventRepository(db)
	c.MappingRepo = syncPersistence.NewSQLiteEventMappingRepository(db)

	c.EventPublisher = eventbus.NewNoopPublisher(logger)

	if err := c.wireServices(portal.NewMemoryKeyStore()); err != nil {
		c.Close()
		return nil, err
	}

	logger.Info("local mode container initialized",
		"database", cfg.SQLitePath,
		"driver", "sqlite",
	)

	return c, nil
}

// wireServices builds the portal, identity, and sync layers on top of the
// already-selected repositories and publisher.
func (c *Container) wireServices(keyStore portal.KeyStore) error {
	cfg := c.Config
	logger := c.Logger

	c.KeyCache = portal.NewKeyCache(keyStore, cfg.InsperBaseURL, cfg.InsperUserAgent, logger)
	c.PortalGateway = portal.NewGateway(portal.Config{
		BaseURL:   cfg.InsperBaseURL,
		UserAgent: cfg.InsperUserAgent,
		Logger:    logger,
	}, c.KeyCache)

	c.CredentialsService = credentials.NewService(c.UserRepo, c.PortalGateway, logger)

	if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
		if cfg.IsProduction() {
			return fmt.Errorf("google oauth is not configured")
		}
		logger.Warn("google oauth not configured, calendar sync disabled")
		return nil
	}

	encrypter, err := sharedCrypto.NewAESGCMFromBase64Key(cfg.EncryptionKey)
	if err != nil {
		if cfg.IsProduction() {
			return fmt.Errorf("token encryption is not configured: %w", err)
		}
		logger.Warn("token encryption not configured, calendar sync disabled", "error", err)
		return nil
	}

	authService, err := identityOAuth.NewService(
		cfg.GoogleClientID,
		cfg.GoogleClientSecret,
		cfg.GoogleAuthURL,
		cfg.GoogleTokenURL,
		cfg.GoogleRedirectURL,
		identityOAuth.ScopesFromEnv(cfg.GoogleScopes),
		c.UserRepo,
		encrypter,
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize oauth service: %w", err)
	}
	c.AuthService = authService

	c.CalendarClient = googleCalendar.NewClient(authService, logger)
	c.Formatter = syncApp.NewFormatter(cfg.SyncSourceURL)
	c.Reconciler = syncApp.NewReconciler(
		c.CalendarClient,
		c.InsperEventRepo,
		c.GoogleEventRepo,
		c.MappingRepo,
		c.Formatter,
		logger,
	)
	c.Orchestrator = syncApp.NewOrchestrator(
		c.UserRepo,
		c.ConfigRepo,
		c.SessionRepo,
		c.InsperEventRepo,
		c.PortalGateway,
		c.CalendarClient,
		c.Reconciler,
		c.EventPublisher,
		logger,
	).WithMetrics(c.Metrics)
	c.SyncQueries = syncApp.NewQueries(c.UserRepo, c.ConfigRepo, c.SessionRepo)
	c.SyncSubscriber = syncApp.NewSyncRequestSubscriber(c.Orchestrator, c.EventPublisher, logger)

	return nil
}

// SyncEnabled reports whether the calendar sync stack is wired.
func (c *Container) SyncEnabled() bool {
	return c.Orchestrator != nil
}

// Close cleans up all resources.
func (c *Container) Close() {
	if c.EventPublisher != nil {
		if err := c.EventPublisher.Close(); err != nil {
			c.Logger.Warn("error closing event publisher", "error", err)
		}
	}

	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.Warn("error closing Redis connection", "error", err)
		}
	}

	if c.DB != nil {
		c.DB.Close()
		c.Logger.Info("PostgreSQL connection closed")
	}

	if c.SQLiteDB != nil {
		if err := c.SQLiteDB.Close(); err != nil {
			c.Logger.Warn("error closing SQLite connection", "error", err)
		}
	}
}
