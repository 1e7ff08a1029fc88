package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/randevly/randevly/internal/api"
	"github.com/randevly/randevly/internal/billing"
	"github.com/randevly/randevly/internal/cache"
	"github.com/randevly/randevly/internal/database"
	"github.com/randevly/randevly/internal/monitoring"
	"github.com/randevly/randevly/internal/notify"
	"github.com/randevly/randevly/internal/scheduler"
	"github.com/randevly/randevly/pkg/logger"
	"github.com/randevly/randevly/pkg/mail"
	"github.com/randevly/randevly/pkg/sms"
)

// App owns every long-lived component and their startup/shutdown order.
type App struct {
	cfg Config
	log *zap.Logger

	db     *gorm.DB
	worker *notify.DeliveryWorker
	sched  *scheduler.Scheduler
	server *http.Server
}

// New wires the application from configuration. Optional integrations
// (Redis, SMS, SMTP, VAPID keys, payment provider) degrade gracefully:
// their absence is logged and surfaced via health, never fatal.
func New(ctx context.Context, cfg Config, payments billing.PaymentProvider) (*App, error) {
	log := logger.WithModule("app")

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("app: open database: %w", err)
	}
	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("app: migrate: %w", err)
	}

	store := buildCacheStore(cfg.Cache, db, log)

	resolver, err := notify.NewChannelResolver(db)
	if err != nil {
		return nil, err
	}
	limiter, err := notify.NewRateLimiter(db, store)
	if err != nil {
		return nil, err
	}

	provider, pushEnabled := buildPushProvider(cfg.Notifications, log)
	worker, err := notify.NewDeliveryWorker(db, provider, notify.WorkerConfig{
		QueueSize: cfg.Notifications.QueueSize,
		Workers:   cfg.Notifications.Workers,
	})
	if err != nil {
		return nil, err
	}

	smsSender := buildSMSSender(cfg.SMS, log)
	mailer := buildMailer(cfg.Email.SMTP, log)

	gateway, err := notify.NewGateway(db, resolver, limiter, worker, smsSender, mailer)
	if err != nil {
		return nil, err
	}

	subscriptions, err := notify.NewSubscriptionService(db)
	if err != nil {
		return nil, err
	}
	preferences, err := notify.NewPreferenceService(db)
	if err != nil {
		return nil, err
	}

	sched, err := buildScheduler(ctx, cfg.Scheduler, db, gateway, preferences, payments, log)
	if err != nil {
		return nil, err
	}

	health, err := monitoring.NewCollector(db, worker, sched, pushEnabled)
	if err != nil {
		return nil, err
	}

	router := api.NewRouter(api.Deps{
		Health:        health,
		Gateway:       gateway,
		Limiter:       limiter,
		Subscriptions: subscriptions,
		Preferences:   preferences,
	})

	return &App{
		cfg:    cfg,
		log:    log,
		db:     db,
		worker: worker,
		sched:  sched,
		server: &http.Server{
			Addr:              cfg.Server.Address(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run starts the worker pool, the scheduler, and the HTTP server, then
// blocks until ctx is cancelled and shutdown completes.
func (a *App) Run(ctx context.Context) error {
	a.worker.Start(ctx)
	if a.sched != nil {
		a.sched.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", zap.String("address", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	case <-ctx.Done():
	}

	return a.shutdown()
}

func (a *App) shutdown() error {
	a.log.Info("shutting down")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := a.server.Shutdown(ctx)

	if a.sched != nil {
		a.sched.Stop()
	}
	a.worker.Stop()

	if sqlDB, dbErr := a.db.DB(); dbErr == nil {
		_ = sqlDB.Close()
	}

	a.log.Info("shutdown complete")
	return err
}

func buildCacheStore(cfg CacheConfig, db *gorm.DB, log *zap.Logger) cache.Store {
	if !cfg.Redis.Enabled {
		return cache.NewDatabaseStore(db)
	}

	client, err := cache.NewRedisClient(cache.RedisConfig{
		Address:  cfg.Redis.Address,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TLS:      cfg.Redis.TLS,
	})
	if err != nil {
		log.Warn("redis unavailable, using database cache store", zap.Error(err))
		return cache.NewDatabaseStore(db)
	}
	return client
}

func buildPushProvider(cfg NotificationsConfig, log *zap.Logger) (notify.PushProvider, bool) {
	provider, err := notify.NewWebPushProvider(notify.WebPushConfig{
		Subscriber:        cfg.VAPID.Subscriber,
		VAPIDPublicKey:    cfg.VAPID.PublicKey,
		VAPIDPrivateKey:   cfg.VAPID.PrivateKey,
		TTLSeconds:        cfg.TTLSeconds,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})
	if err != nil {
		log.Warn("push delivery disabled", zap.Error(err))
		return nil, false
	}
	return provider, true
}

func buildSMSSender(cfg SMSConfig, log *zap.Logger) sms.Sender {
	if !cfg.Enabled {
		return nil
	}
	sender, err := sms.NewGatewaySender(cfg.Settings())
	if err != nil {
		log.Warn("sms delivery disabled", zap.Error(err))
		return nil
	}
	return sender
}

func buildMailer(cfg SMTPConfig, log *zap.Logger) mail.Mailer {
	if !cfg.Enabled {
		return nil
	}
	mailer, err := mail.NewSMTPMailer(cfg.Settings())
	if err != nil {
		log.Warn("email delivery disabled", zap.Error(err))
		return nil
	}
	return mailer
}

func buildScheduler(ctx context.Context, cfg SchedulerConfig, db *gorm.DB, gateway *notify.Gateway, preferences *notify.PreferenceService, payments billing.PaymentProvider, log *zap.Logger) (*scheduler.Scheduler, error) {
	if !cfg.Enabled {
		log.Info("scheduler disabled")
		return nil, nil
	}

	sched := scheduler.New(ctx)

	reminders, err := scheduler.NewReminderJob(db, gateway, preferences)
	if err != nil {
		return nil, err
	}
	if err := sched.Register(orDefault(cfg.ReminderSpec, "*/15 * * * *"), reminders); err != nil {
		return nil, err
	}

	if payments != nil {
		renewals, err := billing.NewRenewalService(db, payments)
		if err != nil {
			return nil, err
		}
		renewalJob, err := scheduler.NewRenewalJob(renewals, gateway)
		if err != nil {
			return nil, err
		}
		if err := sched.Register(orDefault(cfg.RenewalSpec, "0 3 * * *"), renewalJob); err != nil {
			return nil, err
		}
	} else {
		log.Info("no payment provider configured, renewal job not registered")
	}

	notices, err := scheduler.NewNoticeJob(db, gateway)
	if err != nil {
		return nil, err
	}
	if err := sched.Register(orDefault(cfg.NoticeSpec, "0 9 * * *"), notices); err != nil {
		return nil, err
	}

	cleanup, err := scheduler.NewCleanupJob(db, cfg.CleanupConfig())
	if err != nil {
		return nil, err
	}
	if err := sched.Register(orDefault(cfg.CleanupSpec, "0 4 * * 0"), cleanup); err != nil {
		return nil, err
	}

	return sched, nil
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
