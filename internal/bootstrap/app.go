package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"docqa-gateway/internal/ai"
	appsvc "docqa-gateway/internal/app"
	"docqa-gateway/internal/cache"
	"docqa-gateway/internal/config"
	"docqa-gateway/internal/model"
	mysqlClient "docqa-gateway/internal/platform/mysql"
	"docqa-gateway/internal/platform/objectstore"
	postgresClient "docqa-gateway/internal/platform/postgres"
	rabbitmqClient "docqa-gateway/internal/platform/rabbitmq"
	redisClient "docqa-gateway/internal/platform/redis"
	"docqa-gateway/internal/repository"
	"docqa-gateway/internal/vectorindex"
	"docqa-gateway/internal/worker"
)

// App owns every long-lived component. Redis, MQConn, ObjectStore,
// ReindexPublisher and ReindexWorker are nil when not configured.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	DB          *gorm.DB
	Redis       *redis.Client
	MQConn      *amqp.Connection
	ObjectStore *objectstore.Store

	Index     *vectorindex.Index
	Directory *appsvc.TenantDirectory
	Documents *appsvc.DocumentService
	Retrieval *appsvc.RetrievalService

	ReindexPublisher *rabbitmqClient.ReindexPublisher
	ReindexWorker    *worker.ReindexWorker

	StartedAt time.Time
}

func New(ctx context.Context) (_ *App, err error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	zl, err := NewLogger(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("build logger failed: %w", err)
	}

	a := &App{Config: cfg, Logger: zl}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.DB, err = openDatabase(ctx, cfg, zl); err != nil {
		return nil, err
	}
	if err := a.DB.AutoMigrate(&model.Tenant{}, &model.APIKey{}, &model.Document{}); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	var tenantCache appsvc.TenantCache
	if cfg.Redis.Enabled {
		if a.Redis, err = redisClient.New(ctx, cfg.Redis); err != nil {
			return nil, err
		}
		tenantCache = cache.NewTenantCache(a.Redis, cfg.TenantCacheTTL())
	}

	embedder, err := ai.NewEmbedder(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("build embedder failed: %w", err)
	}

	store, err := a.snapshotStore(ctx)
	if err != nil {
		return nil, err
	}
	if a.Index, err = vectorindex.New(embedder.Dimension(), store, zl.Named("index")); err != nil {
		return nil, err
	}
	if err := a.Index.Load(ctx); err != nil {
		return nil, fmt.Errorf("load vector index failed: %w", err)
	}

	tenantRepo := repository.NewTenantRepository(a.DB)
	documentRepo := repository.NewDocumentRepository(a.DB)
	a.Directory = appsvc.NewTenantDirectory(tenantRepo, tenantCache, zl.Named("directory"))
	a.Documents = appsvc.NewDocumentService(documentRepo, a.Index, embedder, zl.Named("documents"))
	a.Retrieval = appsvc.NewRetrievalService(
		a.Directory,
		documentRepo,
		a.Index,
		embedder,
		cfg.Retrieval.TopK,
		cfg.Retrieval.MinScore,
		zl.Named("retrieval"),
	)

	added, removed, err := a.Documents.Reconcile(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile vector index failed: %w", err)
	}
	zl.Info("vector index reconciled", zap.Int("added", added), zap.Int("removed", removed), zap.Int("points", a.Index.Len()))

	if cfg.Seed.File != "" {
		seed, err := LoadSeed(cfg.Seed.File)
		if err != nil {
			return nil, err
		}
		if err := ApplySeed(ctx, seed, a.Directory, a.Documents, zl); err != nil {
			return nil, err
		}
	}

	if cfg.RabbitMQ.Enabled {
		if a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.ReindexQueue); err != nil {
			return nil, err
		}
		a.ReindexPublisher = rabbitmqClient.NewReindexPublisher(a.MQConn, cfg.RabbitMQ.ReindexQueue)
		a.ReindexWorker = worker.NewReindexWorker(a.MQConn, a.Documents, cfg.RabbitMQ.ReindexQueue, zl.Named("reindex"))
		if err := a.ReindexWorker.Start(ctx); err != nil {
			return nil, fmt.Errorf("start reindex worker failed: %w", err)
		}
	}

	a.StartedAt = time.Now()
	return a, nil
}

func openDatabase(ctx context.Context, cfg *config.Config, zl *zap.Logger) (*gorm.DB, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return postgresClient.New(ctx, cfg.PostgresDSN(), gormLogger(zl))
	default:
		return mysqlClient.New(ctx, cfg.MySQLDSN(), gormLogger(zl))
	}
}

func (a *App) snapshotStore(ctx context.Context) (vectorindex.SnapshotStore, error) {
	ic := a.Config.Index
	if ic.Backend == "minio" {
		store, err := objectstore.New(ctx, objectstore.Options{
			Endpoint:  ic.MinioEndpoint,
			AccessKey: ic.MinioAccessKey,
			SecretKey: ic.MinioSecretKey,
			UseSSL:    ic.MinioUseSSL,
			Bucket:    ic.MinioBucket,
			Prefix:    ic.ObjectPrefix,
		})
		if err != nil {
			return nil, err
		}
		a.ObjectStore = store
		return store, nil
	}
	return vectorindex.NewFileSnapshotStore(ic.Dir)
}

func (a *App) Close() error {
	var closeErr error
	if a.ReindexWorker != nil {
		a.ReindexWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			closeErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.DB != nil {
		sqlDB, err := a.DB.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return closeErr
}
