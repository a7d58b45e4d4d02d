package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"

	"github.com/mohammad-safakhou/orderdesk/config"
	"github.com/mohammad-safakhou/orderdesk/internal/crm"
	"github.com/mohammad-safakhou/orderdesk/internal/handoff"
	"github.com/mohammad-safakhou/orderdesk/internal/knowledge"
	"github.com/mohammad-safakhou/orderdesk/internal/orchestrator"
	"github.com/mohammad-safakhou/orderdesk/internal/orders"
	"github.com/mohammad-safakhou/orderdesk/internal/policy"
	"github.com/mohammad-safakhou/orderdesk/internal/resolution"
	"github.com/mohammad-safakhou/orderdesk/internal/store"
	"github.com/mohammad-safakhou/orderdesk/internal/triage"
	"github.com/mohammad-safakhou/orderdesk/internal/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// App holds the wired collaborators shared by the HTTP server and the CLI.
type App struct {
	Config    *config.Config
	Engine    *orchestrator.Engine
	Users     *users.Service
	Knowledge *knowledge.Base
	Registry  *prometheus.Registry
	Redis     *redis.Client
	DB        *sql.DB
	// Desk is nil unless redis is configured.
	Desk *handoff.Desk

	closers []func() error
}

// Build connects the configured backends and assembles the engine.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	app := &App{Config: cfg, Registry: prometheus.NewRegistry()}
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := app.build(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config
	if cfg.Storage.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:        net.JoinHostPort(cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
			Password:    cfg.Storage.Redis.Password,
			DB:          cfg.Storage.Redis.DB,
			DialTimeout: cfg.Storage.Redis.Timeout,
		})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s:%s): %w", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, err)
		}
		a.Redis = rdb
	}

	if cfg.Storage.Postgres.Enabled() {
		dsn, err := cfg.Storage.Postgres.DSN()
		if err != nil {
			return err
		}
		if cfg.Server.AutoMigrate {
			if err := Migrate(cfg.Server.MigrationsDir, dsn, "up", 0); err != nil {
				return fmt.Errorf("auto migrate: %w", err)
			}
		}
		db, err := store.Open(ctx, dsn)
		if err != nil {
			return fmt.Errorf("postgres connection failed: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		a.DB = db
	}

	st, err := store.NewStore(store.StoreType(cfg.Storage.State.Driver),
		store.WithRedisClient(a.Redis),
		store.WithRedisTTL(cfg.Storage.State.TTL),
		store.WithDB(a.DB),
	)
	if err != nil {
		return fmt.Errorf("state store %q: %w", cfg.Storage.State.Driver, err)
	}

	var repo orders.Repository = orders.NewSeededRepository()
	if cfg.Storage.Orders == "postgres" {
		if a.DB == nil {
			return fmt.Errorf("storage.orders is postgres but postgres is not configured")
		}
		repo = orders.NewPostgresRepository(a.DB)
	}
	orderSvc := orders.NewService(repo)

	records := orchestrator.Advancers{orderSvc}
	if cfg.CRM.Enabled() {
		records = append(records, crm.NewStageManager(cfg.CRM, nil))
	}

	kb, err := knowledge.NewDefault()
	if err != nil {
		return fmt.Errorf("knowledge base: %w", err)
	}
	a.Knowledge = kb
	a.closers = append(a.closers, kb.Close)

	opts := []orchestrator.Option{
		orchestrator.WithSettings(orchestrator.Settings{
			MaxStepCalls:        cfg.Conversation.MaxStepCalls,
			EscalationThreshold: cfg.Conversation.EscalationThreshold,
			HistoryMaxTurns:     cfg.Conversation.HistoryMaxTurns,
			CollaboratorTimeout: cfg.Conversation.CollaboratorTimeout,
			EnumerateAllOrders:  cfg.Conversation.EnumerateAllOrders,
		}),
		orchestrator.WithMetrics(orchestrator.NewMetrics(a.Registry)),
		orchestrator.WithLogger(log.New(log.Writer(), "[ROUTER] ", log.LstdFlags)),
	}
	collab := orchestrator.Collaborators{
		Classifier:    triage.New(),
		Orders:        orderSvc,
		Policy:        policy.NewEvaluator(cfg.Policy),
		Resolution:    resolution.New(),
		Records:       records,
		Informational: kb,
	}
	if a.Redis != nil {
		// in-process lanes keep local turns off the network; redis lanes
		// serialise turns across replicas
		opts = append(opts, orchestrator.WithLocker(orchestrator.ChainLockers{
			orchestrator.NewLocalLanes(),
			orchestrator.NewRedisLanes(a.Redis, cfg.Conversation.LaneTTL),
		}))
		pub, err := handoff.NewPublisher(a.Redis, cfg.Handoff.Stream, cfg.Handoff.MaxLen, nil)
		if err != nil {
			return fmt.Errorf("handoff publisher: %w", err)
		}
		collab.Handoff = pub
		if cfg.Handoff.Group != "" {
			desk, err := handoff.NewDesk(ctx, a.Redis, cfg.Handoff.Stream, cfg.Handoff.Group, "orderdesk-ops")
			if err != nil {
				return fmt.Errorf("handoff desk: %w", err)
			}
			a.Desk = desk
		}
	}

	engine, err := orchestrator.New(st, collab, opts...)
	if err != nil {
		return err
	}
	// st shares the redis and postgres handles closed above
	a.Engine = engine

	var userRepo users.Repository = users.NewMemoryRepository()
	if a.DB != nil {
		userRepo = users.NewPostgresRepository(a.DB)
	}
	a.Users = users.NewService(userRepo, 0)
	return nil
}

// Close releases every backend in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
