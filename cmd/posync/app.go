package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/pos_sync/config"
	"bitbucket.org/mmdatafocus/pos_sync/metrics"
	"bitbucket.org/mmdatafocus/pos_sync/session"
	"bitbucket.org/mmdatafocus/pos_sync/store"
	"bitbucket.org/mmdatafocus/pos_sync/syncengine"
	"bitbucket.org/mmdatafocus/pos_sync/syncworker"
	"bitbucket.org/mmdatafocus/pos_sync/tenant"
	"bitbucket.org/mmdatafocus/pos_sync/utils"
	"cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// app is the fully wired sync core for one process.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	tctx      *tenant.Context
	connector *tenant.MySQLConnector
	pool      *tenant.Pool
	remote    *syncengine.HTTPClient
	pubsub    *pubsub.Client
	pusher    *syncengine.PubSubPusher
	redis     *redis.Client

	engine *syncengine.Engine
	worker *syncworker.Worker
	orch   *session.Orchestrator
}

const (
	connectAttempts = 5
	cycleTimeout    = 5 * time.Minute
)

func buildApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, tctx: tenant.NewContext()}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.NewMetrics(a.registry)

	a.connector = tenant.NewMySQLConnector(cfg, logger)
	a.connector.Migrate = !config.SkipMigrations()
	pool, err := tenant.NewPool(a.connector, a.tctx, cfg.TenantPoolMax, logger, a.metrics)
	if err != nil {
		return nil, err
	}
	a.pool = pool

	if cfg.SyncAPIBaseURL == "" {
		a.close(ctx)
		return nil, errors.New("SYNC_API_BASE_URL is required")
	}
	if a.remote, err = syncengine.NewHTTPClient(cfg); err != nil {
		a.close(ctx)
		return nil, err
	}

	var pusher syncengine.Pusher = a.remote
	if cfg.OutboxTransport == "pubsub" {
		if a.pubsub, err = config.NewPubSubClient(ctx, cfg.PubSubProjectID, cfg.PubSubCredentialsJSON, connectAttempts); err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		topic, err := config.CreateTopicIfNotExists(ctx, a.pubsub, cfg.OutboxTopic)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("outbox topic: %w", err)
		}
		a.pusher = syncengine.NewPubSubPusher(topic)
		pusher = a.pusher
	}

	provider := store.NewProvider(pool)
	metadata := store.NewMetadata(pool)
	a.engine = syncengine.NewEngine(syncengine.Options{
		Stores: syncengine.StoreProviderFunc(func(ctx context.Context) (syncengine.Store, error) {
			s, err := provider.TenantStore(ctx)
			if err != nil {
				return nil, err
			}
			return s, nil
		}),
		Metadata: metadata,
		Pusher:   pusher,
		Puller:   a.remote,
		Tenant:   a.tctx,
		Logger:   logger,
		Metrics:  a.metrics,
	})

	var locker syncworker.Locker
	var sessions session.Store = session.NewMemoryStore()
	if cfg.RedisAddress != "" {
		rdb, lockClient, err := config.ConnectRedisWithRetry(ctx, cfg.RedisAddress, connectAttempts)
		if err != nil {
			logger.WithFields(logrus.Fields{"module": "posync", "address": cfg.RedisAddress}).
				WithError(err).Warn("redis unavailable; using in-memory sessions and no cycle lock")
		} else {
			a.redis = rdb
			sessions = session.NewRedisStore(rdb)
			if config.CycleLockEnabled() {
				locker = syncworker.NewRedisLocker(lockClient)
			}
		}
	}

	a.worker = syncworker.NewWorker(syncworker.Options{
		Engine:       a.engine,
		BaseInterval: cfg.SyncBaseInterval,
		MaxBackoff:   cfg.SyncMaxBackoff,
		Locker:       locker,
		CycleTimeout: cycleTimeout,
		Logger:       logger,
		Metrics:      a.metrics,
	})

	a.orch = session.NewOrchestrator(session.Options{
		Directory:         a.remote,
		Metadata:          metadata,
		LocalData:         store.NewLocalData(pool),
		Users:             store.NewTenantUsers(pool),
		Credentials:       store.NewCredentialCache(pool),
		Passwords:         utils.BcryptPasswordService{},
		Engine:            a.engine,
		Schemas:           pool,
		Tenant:            a.tctx,
		Sessions:          sessions,
		Secret:            []byte(cfg.APISecret),
		SessionTTL:        cfg.SessionTTL,
		CredentialTTL:     cfg.OfflineCredentialTTL,
		MaxFailedAttempts: cfg.OfflineMaxFailedAttempts,
		Logger:            logger,
		Metrics:           a.metrics,
	})
	return a, nil
}

// useSchema activates schema and tenantID directly, for CLI diagnostics run
// outside a login.
func (a *app) useSchema(schema, tenantID string) error {
	if !tenant.ValidSchemaName(schema) {
		return fmt.Errorf("invalid schema name %q", schema)
	}
	if tenantID == "" {
		return errors.New("tenant id is required")
	}
	a.pool.SetActiveSchema(schema)
	a.engine.SetTenantID(tenantID)
	return nil
}

// close releases every client. Errors are logged, never returned.
func (a *app) close(ctx context.Context) {
	if a.worker != nil {
		a.worker.Stop()
	}
	if a.pusher != nil {
		a.pusher.Stop()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			config.LogError(a.logger, "posync", "close", "close pubsub client", nil, err)
		}
	}
	if a.remote != nil {
		a.remote.Close()
	}
	if a.pool != nil {
		if err := a.pool.Shutdown(ctx); err != nil {
			config.LogError(a.logger, "posync", "close", "shutdown tenant pool", nil, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			config.LogError(a.logger, "posync", "close", "close redis", nil, err)
		}
	}
}
