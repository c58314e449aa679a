package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"betledger/application"
	"betledger/config"
	"betledger/database"
	"betledger/events"
	"betledger/infrastructure"
	"betledger/observability"
	"betledger/repository"
	"betledger/repository/memory"
	"betledger/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
)

// app holds the wired services and the resources that must be released
type app struct {
	cfg      *config.Config
	registry *prometheus.Registry
	metrics  *observability.Metrics
	bus      *events.Bus

	points     service.PointsService
	members    service.MembershipService
	lifecycle  service.BetLifecycleService
	staking    service.StakingService
	settlement service.SettlementService
	worker     *application.ExpiryWorker

	healthChecks []observability.HealthFunc
	closers      []func()
}

// newApp connects the configured backends and builds the services
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		bus:      events.NewBus(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = observability.NewMetrics(a.registry)

	uowFactory, err := a.connectStore(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	if err := a.connectEventForwarder(ctx); err != nil {
		a.close()
		return nil, err
	}
	locker := a.connectLocker(ctx)

	opts := []service.Option{service.WithMetrics(a.metrics)}
	a.points = service.NewPointsService(uowFactory, cfg)
	a.members = service.NewMembershipService(uowFactory, cfg)
	a.lifecycle = service.NewBetLifecycleService(uowFactory, a.members, cfg, opts...)
	a.staking = service.NewStakingService(uowFactory, a.points, a.members, locker, cfg, opts...)
	a.settlement = service.NewSettlementService(uowFactory, a.points, cfg, opts...)
	a.worker = application.NewExpiryWorker(a.lifecycle, a.settlement, cfg.SweepInterval, cfg.ReconcileBatchSize)

	return a, nil
}

func (a *app) connectStore(ctx context.Context) (service.UnitOfWorkFactory, error) {
	switch a.cfg.StoreBackend {
	case "memory":
		log.Warn("Using the in-memory store; data is lost on exit")
		store := memory.NewStore(a.bus)
		a.healthChecks = append(a.healthChecks, store.Ping)
		return store.NewUnitOfWorkFactory(), nil
	default:
		log.Info("Connecting to database...")
		dbURL, err := a.cfg.ConnectionURL()
		if err != nil {
			return nil, err
		}
		db, err := database.NewConnection(ctx, dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		a.healthChecks = append(a.healthChecks, db.Health)
		log.Info("Database connection established successfully")
		return repository.NewUnitOfWorkFactory(db, a.bus), nil
	}
}

func (a *app) connectEventForwarder(ctx context.Context) error {
	switch a.cfg.EventBus {
	case "nats":
		client := infrastructure.NewNATSClient(a.cfg.NATSServers)
		if err := client.Connect(ctx); err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.healthChecks = append(a.healthChecks, client.Health)

		publisher := infrastructure.NewNATSEventPublisher(client, infrastructure.NewEventSubjectMapper())
		if err := publisher.EnsureBetEventStream(client); err != nil {
			return err
		}
		publisher.Attach(a.bus)
		log.WithField("stream", infrastructure.BetEventStream).Info("Forwarding events to NATS")
	case "kafka":
		writer := infrastructure.NewKafkaWriter(a.cfg.KafkaBrokers, a.cfg.KafkaTopic)
		publisher := infrastructure.NewKafkaEventPublisher(writer)
		a.closers = append(a.closers, func() {
			if err := publisher.Close(); err != nil {
				log.WithError(err).Warn("Failed to close Kafka writer")
			}
		})
		publisher.Attach(a.bus)
		log.WithField("topic", a.cfg.KafkaTopic).Info("Forwarding events to Kafka")
	default:
		log.Info("Events are delivered in-process only")
	}
	return nil
}

// connectLocker prefers Redis and falls back to the in-process locker, which
// only serialises stakes within this instance
func (a *app) connectLocker(ctx context.Context) service.StakeLocker {
	if a.cfg.RedisAddr == "" {
		return infrastructure.NewLocalLocker()
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rdb, err := infrastructure.NewRedisClient(pingCtx, redisConfig(a.cfg))
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, using in-process stake lock")
		return infrastructure.NewLocalLocker()
	}
	a.closers = append(a.closers, func() { _ = rdb.Close() })

	locker := infrastructure.NewRedisLocker(rdb)
	a.healthChecks = append(a.healthChecks, locker.Ping)
	log.WithField("addr", a.cfg.RedisAddr).Info("Using Redis stake lock")
	return locker
}

func redisConfig(cfg *config.Config) infrastructure.RedisConfig {
	return infrastructure.RedisConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		TLSEnabled: cfg.RedisTLS,
	}
}

// health runs every registered check and joins their failures
func (a *app) health(ctx context.Context) error {
	var errs []error
	for _, check := range a.healthChecks {
		if err := check(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// close releases resources in reverse order of acquisition
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
