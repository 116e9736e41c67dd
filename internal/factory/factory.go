// Package factory wires clients, repositories, and services together and
// owns their lifecycle.
package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"estate-auth/internal/audit"
	"estate-auth/internal/bucketing"
	"estate-auth/internal/client"
	"estate-auth/internal/config"
	"estate-auth/internal/encryption"
	"estate-auth/internal/gateway"
	"estate-auth/internal/handler"
	"estate-auth/internal/hashing"
	redisrepo "estate-auth/internal/repository/redis"
	"estate-auth/internal/repository/scylla"
	"estate-auth/internal/service"
	"estate-auth/internal/util"
)

type Factory struct {
	Config *config.Config
	Logger *zap.Logger

	Redis         *client.RedisClient
	Scylla        *scylla.ScyllaClient
	KafkaProducer *client.KafkaProducer
	KafkaConsumer *client.KafkaConsumer
	ClickHouse    *client.ClickHouseClient
	Elasticsearch *client.ESClient

	Gateway    *gateway.Client
	Hasher     *hashing.Hasher
	Encryption *encryption.Manager
	Bucketing  *bucketing.Manager

	OTPSessions   *redisrepo.OTPSessionCache
	IPAttempts    *redisrepo.IPAttemptCache
	ResetSessions *redisrepo.ResetSessionCache
	Users         *scylla.UserRepository

	Tokens   *service.TokenService
	Activity *service.ActivityLogger
	Auth     *service.AuthService
	Reset    *service.ResetService

	AuditSink *audit.Sink

	AuthHandler     *handler.AuthHandler
	ResetHandler    *handler.ResetHandler
	ActivityHandler *handler.ActivityHandler

	closeOnce sync.Once
}

// New builds the full dependency graph. Redis and Scylla are required; the
// audit pipeline (Kafka, ClickHouse, Elasticsearch) degrades to disabled in
// development when unreachable.
func New(cfg *config.Config) (*Factory, error) {
	logger := util.Get()
	f := &Factory{Config: cfg, Logger: logger}

	redisClient, err := client.NewRedisClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("redis init failed: %w", err)
	}
	f.Redis = redisClient

	scyllaClient, err := scylla.NewScyllaClient(cfg, logger)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("scylla init failed: %w", err)
	}
	f.Scylla = scyllaClient

	if err := f.initAuditPipeline(cfg, logger); err != nil {
		f.Close()
		return nil, err
	}

	f.Gateway = gateway.NewClient(cfg, logger)
	f.Hasher = hashing.NewHasher(cfg)
	f.Bucketing = bucketing.NewManager(cfg)

	enc, err := encryption.NewManager(cfg, logger)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("encryption init failed: %w", err)
	}
	f.Encryption = enc

	f.OTPSessions = redisrepo.NewOTPSessionCache(redisClient, logger)
	f.IPAttempts = redisrepo.NewIPAttemptCache(redisClient, logger)
	f.ResetSessions = redisrepo.NewResetSessionCache(redisClient, logger)
	f.Users = scylla.NewUserRepository(scyllaClient, enc, f.Bucketing, logger)

	f.Tokens = service.NewTokenService(cfg, f.Users)
	f.Activity = service.NewActivityLogger(f.KafkaProducer, f.Bucketing, logger)
	f.Auth = service.NewAuthService(f.Gateway, f.Users, f.OTPSessions, f.IPAttempts, f.Tokens, f.Activity, logger)
	f.Reset = service.NewResetService(f.Gateway, f.Users, f.ResetSessions, f.Hasher, f.Activity, logger)

	if f.KafkaConsumer != nil && f.ClickHouse != nil {
		f.AuditSink = audit.NewSink(f.KafkaConsumer, f.ClickHouse, f.Elasticsearch, cfg, logger)
	}

	f.AuthHandler = handler.NewAuthHandler(f.Auth, f.Tokens, cfg, logger)
	f.ResetHandler = handler.NewResetHandler(f.Reset, logger)
	f.ActivityHandler = handler.NewActivityHandler(f.Elasticsearch, cfg, logger)

	util.Info("Factory initialized",
		zap.Bool("audit_pipeline", f.AuditSink != nil),
		zap.Bool("kms", cfg.KMS.Enabled),
	)
	return f, nil
}

// initAuditPipeline connects Kafka, ClickHouse and Elasticsearch. Failures
// are fatal in production; in development the pipeline is simply disabled.
func (f *Factory) initAuditPipeline(cfg *config.Config, logger *zap.Logger) error {
	fail := func(name string, err error) error {
		if cfg.IsProduction() {
			return fmt.Errorf("%s init failed: %w", name, err)
		}
		util.Warn(name+" unavailable, audit pipeline degraded", zap.Error(err))
		return nil
	}

	producer, err := client.NewKafkaProducer(cfg, logger)
	if err != nil {
		return fail("kafka producer", err)
	}
	f.KafkaProducer = producer

	consumer, err := client.NewKafkaConsumer(cfg, logger)
	if err != nil {
		return fail("kafka consumer", err)
	}
	f.KafkaConsumer = consumer

	ch, err := client.NewClickHouseClient(cfg, logger)
	if err != nil {
		return fail("clickhouse", err)
	}
	f.ClickHouse = ch

	es, err := client.NewElasticsearchClient(cfg, logger)
	if err != nil {
		return fail("elasticsearch", err)
	}
	f.Elasticsearch = es

	return nil
}

// HealthCheck probes every connected backend in parallel and returns a
// per-component status map.
func (f *Factory) HealthCheck() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var mu sync.Mutex
	status := make(map[string]string)
	record := func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			status[name] = "unhealthy: " + err.Error()
		} else {
			status[name] = "healthy"
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		record("redis", f.Redis.HealthCheck(gctx))
		return nil
	})
	g.Go(func() error {
		record("scylla", f.Scylla.HealthCheck())
		return nil
	})
	if f.KafkaProducer != nil {
		g.Go(func() error {
			record("kafka", f.KafkaProducer.HealthCheck(gctx))
			return nil
		})
	}
	if f.ClickHouse != nil {
		g.Go(func() error {
			record("clickhouse", f.ClickHouse.HealthCheck(gctx))
			return nil
		})
	}
	if f.Elasticsearch != nil {
		g.Go(func() error {
			record("elasticsearch", f.Elasticsearch.HealthCheck())
			return nil
		})
	}
	_ = g.Wait()

	return status
}

// Close shuts everything down once, in reverse dependency order.
func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		if f.KafkaConsumer != nil {
			_ = f.KafkaConsumer.Close()
		}
		if f.KafkaProducer != nil {
			_ = f.KafkaProducer.Close()
		}
		if f.ClickHouse != nil {
			_ = f.ClickHouse.Close()
		}
		if f.Elasticsearch != nil {
			f.Elasticsearch.Close()
		}
		if f.Scylla != nil {
			f.Scylla.Close()
		}
		if f.Redis != nil {
			_ = f.Redis.Close()
		}
		util.Info("Factory closed")
	})
}
