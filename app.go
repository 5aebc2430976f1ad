package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pnpbots/pnptv-app-sub006/clients"
	"github.com/pnpbots/pnptv-app-sub006/config"
	"github.com/pnpbots/pnptv-app-sub006/jobs"
	"github.com/pnpbots/pnptv-app-sub006/ledger"
	"github.com/pnpbots/pnptv-app-sub006/logging"
	"github.com/pnpbots/pnptv-app-sub006/models"
	"github.com/pnpbots/pnptv-app-sub006/monitoring"
	"github.com/pnpbots/pnptv-app-sub006/provider"
	"github.com/pnpbots/pnptv-app-sub006/service"
)

// app holds the wired components shared by every command.
type app struct {
	cfg         *config.Config
	tracer      trace.Tracer
	store       *ledger.Store
	redis       *redis.Client
	engine      *service.Engine
	entitlement *service.EntitlementDispatcher
	scanner     *jobs.Scanner
	sweeper     *jobs.Sweeper
	verifier    provider.SignatureVerifier

	closers []func(context.Context) error
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// Initialize structured logging
	exportEndpoint := ""
	if cfg.Telemetry.Enabled {
		exportEndpoint = cfg.Telemetry.OTELEndpoint
	}
	if err := logging.InitLogger(cfg.ServiceName, exportEndpoint); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{cfg: cfg}
	a.closers = append(a.closers, logging.Shutdown)

	// Initialize OpenTelemetry
	a.tracer = otel.Tracer(cfg.ServiceName)
	if cfg.Telemetry.Enabled {
		tp, tracer, err := monitoring.InitTracer(cfg.ServiceName, cfg.Telemetry.OTELEndpoint)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		a.tracer = tracer
		a.closers = append(a.closers, tp.Shutdown)

		mp, _, err := monitoring.InitMeter(cfg.ServiceName, cfg.Telemetry.OTELEndpoint)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("init meter: %w", err)
		}
		a.closers = append(a.closers, mp.Shutdown)
	}

	db, err := ledger.Open(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	a.store = ledger.NewStore(db)
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, func(context.Context) error { return sqlDB.Close() })
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	a.closers = append(a.closers, func(context.Context) error { return a.redis.Close() })

	var activator service.EntitlementActivator = clients.LogActivator{}
	if cfg.Entitlement.URL != "" {
		activator = clients.NewEntitlementClient(cfg.Entitlement.URL, cfg.Entitlement.Timeout)
	}
	var notifier service.Notifier = clients.LogNotifier{}
	if cfg.Notification.URL != "" {
		notifier = clients.NewNotificationClient(cfg.Notification.URL, cfg.Notification.Timeout)
	}

	resolvers := provider.Registry{
		models.ProviderEpayco: provider.NewEpaycoResolver(a.tracer, cfg.Epayco.APIURL, cfg.Epayco.QueryTimeout),
	}
	a.verifier = provider.SignatureVerifier{CustomerID: cfg.Epayco.CustomerID, PKey: cfg.Epayco.PKey}
	if a.verifier.PKey == "" {
		logging.Warn("epayco.p_key is not set, every webhook will be rejected")
	}

	a.entitlement = service.NewEntitlementDispatcher(a.store, activator, cfg.Entitlement.ClaimLease, nil)
	a.engine = service.NewEngine(a.tracer, a.store, resolvers, a.entitlement, notifier, service.EngineConfig{
		Policy: service.TimeoutPolicy{
			Unauthenticated: cfg.ThreeDS.UnauthenticatedWindow,
			Authenticated:   cfg.ThreeDS.AuthenticatedWindow,
		},
		DefaultEntitlementDays: cfg.Entitlement.DefaultDays,
	})

	a.scanner = jobs.NewScanner(a.tracer, a.store, a.engine, jobs.NewRedisLocker(a.redis), jobs.ScannerConfig{
		MinAge:    cfg.Scan.MinAge,
		MaxAge:    cfg.Scan.MaxAge,
		BatchSize: cfg.Scan.BatchSize,
		ItemDelay: cfg.Scan.ItemDelay,
		LockName:  cfg.Scan.LockName,
		LockTTL:   cfg.Scan.LockTTL,
	}, nil)
	a.sweeper = jobs.NewSweeper(a.tracer, a.store, notifier, cfg.Sweep.Ceiling, nil)

	return a, nil
}

// scheduler registers the periodic jobs. Runs are bounded by the scan lock
// TTL so a wedged run gives up before the lock would expire under it.
func (a *app) scheduler() (*jobs.Scheduler, error) {
	s := jobs.NewScheduler()
	if err := s.Add("stuck-scan", a.cfg.Scan.Cron, a.cfg.Scan.LockTTL, func(ctx context.Context) error {
		_, err := a.scanner.Run(ctx)
		return err
	}); err != nil {
		return nil, fmt.Errorf("schedule scanner: %w", err)
	}
	if err := s.Add("abandoned-sweep", a.cfg.Sweep.Cron, a.cfg.Scan.LockTTL, func(ctx context.Context) error {
		_, err := a.sweeper.Run(ctx)
		return err
	}); err != nil {
		return nil, fmt.Errorf("schedule sweeper: %w", err)
	}
	if err := s.Add("entitlement-redelivery", a.cfg.Entitlement.Cron, a.cfg.Scan.LockTTL, func(ctx context.Context) error {
		_, err := a.entitlement.Redeliver(ctx, a.cfg.Entitlement.BatchSize)
		return err
	}); err != nil {
		return nil, fmt.Errorf("schedule entitlement redelivery: %w", err)
	}
	return s, nil
}

func (a *app) close() {
	ctx := context.Background()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			logging.Error("Error during shutdown", zap.Error(err))
		}
	}
	_ = logging.Sync()
}
