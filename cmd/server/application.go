package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/recallhq/recall-server/internal/configs"
	"github.com/recallhq/recall-server/internal/domain/embedding"
	"github.com/recallhq/recall-server/internal/domain/vault"
	"github.com/recallhq/recall-server/internal/infrastructure/database/repository/vaultrepo"
	"github.com/recallhq/recall-server/internal/infrastructure/queue"
	"github.com/recallhq/recall-server/internal/interfaces/httpserver"
	"github.com/recallhq/recall-server/internal/interfaces/rpc"
)

const serverName = "recall-server"

// version is stamped at build time via -ldflags.
var version = "dev"

type Application struct {
	server *httpserver.Server
	addr   string
	worker *queue.Worker
	sqlDB  *sql.DB
	redis  *redis.Client
}

func newApplication(cfg *configs.Config) (*Application, error) {
	ctx := context.Background()

	db, err := gorm.Open(postgres.Open(cfg.DBPostgresqlDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}

	if err := db.WithContext(ctx).Raw("SELECT 1").Error; err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	log.Info().Msg("Database connection established")

	if err := runMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		return nil, err
	}
	log.Info().Msg("Database migrations applied")

	embeddingClient, err := embedding.NewHTTPClient(cfg.EmbeddingServiceURL, cfg.EmbeddingDimensions, embedding.CacheConfig{
		Type:      cfg.EmbeddingCacheType,
		RedisURL:  cfg.EmbeddingCacheRedisURL,
		KeyPrefix: cfg.EmbeddingCacheKeyPrefix,
		MaxSize:   cfg.EmbeddingCacheMaxSize,
		TTL:       cfg.EmbeddingCacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}

	validateCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := embeddingClient.ValidateServer(validateCtx); err != nil {
		// The gateway may come up after us; fail the first save, not boot.
		log.Warn().Err(err).Msg("Embedding server validation failed")
	} else {
		log.Info().Msg("Embedding server validated successfully")
	}

	var (
		redisClient  *redis.Client
		locker       vault.Locker = vault.NoopLocker{}
		sink         vault.JobSink
		statusGetter rpc.StatusGetter
		worker       *queue.Worker
	)

	repo := vaultrepo.NewRepository(db)

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		log.Info().Msg("Redis connection established")

		locker = queue.NewRedsyncLocker(redisClient)
	}

	service := vault.NewService(repo, embeddingClient, locker, cfg.EmbeddingMaxChars, cfg.SearchMinSimilarity)

	if redisClient != nil {
		status := queue.NewStatusTracker(redisClient, cfg.JobStatusTTL)
		statusGetter = status
		sink = queue.NewSink(redisClient, cfg.SaveQueueKey, status)
		worker = queue.NewWorker(redisClient, cfg.SaveQueueKey, service, status)
	} else {
		sink = vault.NewSyncSink(service)
	}
	jobs := vault.NewJobService(repo, sink)

	dispatcher := rpc.NewDispatcher(rpc.DispatcherOptions{
		Registry:        rpc.NewVaultRegistry(service, jobs, statusGetter),
		Resources:       rpc.NewVaultResources(service),
		Sessions:        rpc.NewMemorySessionStore(),
		ServerInfo:      rpc.Implementation{Name: serverName, Version: version},
		ProtocolVersion: cfg.ProtocolVersion,
		Lenient:         cfg.LenientSessions(),
	})

	server := httpserver.NewServer(dispatcher, cfg.APIKey, cfg.RequestTimeout, cfg.IdleTimeout)

	return &Application{
		server: server,
		addr:   fmt.Sprintf(":%d", cfg.HTTPPort),
		worker: worker,
		sqlDB:  sqlDB,
		redis:  redisClient,
	}, nil
}

// Start runs the HTTP server, and the queue worker when one is configured,
// until ctx is cancelled.
func (a *Application) Start(ctx context.Context) error {
	log.Info().Msg("Starting Recall Server")

	var wg sync.WaitGroup
	if a.worker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.worker.Run(ctx)
		}()
	}

	err := a.server.ListenAndServe(ctx, a.addr)
	wg.Wait()

	if a.sqlDB != nil {
		_ = a.sqlDB.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}

	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	log.Info().Msg("Server exited")
	return nil
}

func runMigrations(ctx context.Context, db *gorm.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		sqlBytes, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		log.Info().Str("migration", entry.Name()).Msg("Applying migration")
		if err := db.WithContext(ctx).Exec(string(sqlBytes)).Error; err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
	}

	return nil
}
