package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/smsleopard-delivery/internal/automation"
	"github.com/unclebandit/smsleopard-delivery/internal/db"
	"github.com/unclebandit/smsleopard-delivery/internal/delivery"
	"github.com/unclebandit/smsleopard-delivery/internal/feed"
	"github.com/unclebandit/smsleopard-delivery/internal/gateway"
	"github.com/unclebandit/smsleopard-delivery/internal/ledger"
	"github.com/unclebandit/smsleopard-delivery/internal/ops"
	"github.com/unclebandit/smsleopard-delivery/internal/queue"
	"github.com/unclebandit/smsleopard-delivery/internal/repository"
	"github.com/unclebandit/smsleopard-delivery/internal/runner"
	"github.com/unclebandit/smsleopard-delivery/internal/scheduler"
	"github.com/unclebandit/smsleopard-delivery/internal/statussync"
)

// app holds the wired dependencies of one process.
type app struct {
	db  *sql.DB
	rdb *redis.Client

	tenants     *repository.TenantRepository
	credits     *repository.CreditRepository
	customers   *repository.CustomerRepository
	campaigns   *repository.CampaignRepository
	recipients  *repository.RecipientRepository
	messageLogs *repository.MessageLogRepository
	automations *repository.AutomationRepository
	processed   *repository.ProcessedEventRepository
	queueJobs   *repository.QueueJobRepository

	ledger *ledger.Ledger
	queue  *queue.Queue
	feed   *feed.Client
}

func newApp(ctx context.Context) (*app, error) {
	conn, err := db.Connect(ctx, cfg.DatabaseURL, db.Options{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLife,
	}, log)
	if err != nil {
		return nil, err
	}

	a := &app{
		db:          conn,
		tenants:     &repository.TenantRepository{DB: conn},
		credits:     &repository.CreditRepository{DB: conn},
		customers:   &repository.CustomerRepository{DB: conn},
		campaigns:   &repository.CampaignRepository{DB: conn},
		recipients:  &repository.RecipientRepository{DB: conn},
		messageLogs: &repository.MessageLogRepository{DB: conn},
		automations: &repository.AutomationRepository{DB: conn},
		processed:   &repository.ProcessedEventRepository{DB: conn},
		queueJobs:   &repository.QueueJobRepository{DB: conn},
		feed:        feed.NewClient(cfg.FeedTimeout, cfg.FeedRate, cfg.FeedPageSize),
	}
	a.ledger = ledger.New(a.credits, log)

	if cfg.RedisAddress != "" {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}

	policies := queue.DefaultPolicies()
	var broker queue.Broker
	if cfg.AMQPURL != "" {
		broker = queue.NewAMQPBroker(queue.AMQPOptions{
			URL:      cfg.AMQPURL,
			Timeout:  cfg.BrokerTimeout,
			DedupTTL: cfg.BrokerDedupTTL,
			Policies: policies,
		}, a.rdb, log)
	} else {
		log.WithField("module", "queue").Warn("AMQP_URL not set, jobs use the fallback queue only")
	}
	fallback := queue.NewFallback(a.queueJobs, policies, cfg.FallbackPoll, cfg.FallbackStale, log)
	health := queue.NewHealth(broker, cfg.MinProbeInterval, cfg.BrokerTimeout, log)
	a.queue = queue.New(broker, fallback, health, cfg.BrokerTimeout, log)
	return a, nil
}

func (a *app) Close() {
	if err := a.queue.Close(); err != nil {
		log.WithError(err).Warn("close broker")
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
	a.db.Close()
}

func (a *app) handlers() (*delivery.Handlers, error) {
	gw, err := gateway.NewClient(gateway.Options{
		BaseURL:  cfg.GatewayBaseURL,
		APIKey:   cfg.GatewayAPIKey,
		SenderID: cfg.GatewaySenderID,
		Timeout:  cfg.GatewayTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &delivery.Handlers{
		Dispatch: &delivery.DispatchHandler{
			Campaigns:  a.campaigns,
			Customers:  a.customers,
			Recipients: a.recipients,
			Ledger:     a.ledger,
			Queue:      a.queue,
			Region:     cfg.PhoneRegion,
			Logger:     log,
		},
		Send: &delivery.SendHandler{
			Tenants:     a.tenants,
			Recipients:  a.recipients,
			MessageLogs: a.messageLogs,
			Ledger:      a.ledger,
			Gateway:     gw,
			Logger:      log,
		},
		Automation: &delivery.AutomationHandler{
			Tenants:     a.tenants,
			Automations: a.automations,
			Feed:        a.feed,
			Queue:       a.queue,
			Region:      cfg.PhoneRegion,
			Logger:      log,
		},
	}, nil
}

func (a *app) scheduler() *scheduler.Scheduler {
	return scheduler.New(a.campaigns, a.queue, cfg.SchedulerBatchSize, log)
}

func (a *app) synchronizer() (*statussync.Synchronizer, error) {
	gw, err := gateway.NewClient(gateway.Options{
		BaseURL: cfg.GatewayBaseURL,
		APIKey:  cfg.GatewayAPIKey,
		Timeout: cfg.GatewayTimeout,
	})
	if err != nil {
		return nil, err
	}
	s := &statussync.Synchronizer{
		Campaigns:    a.campaigns,
		Recipients:   a.recipients,
		MessageLogs:  a.messageLogs,
		Gateway:      gw,
		Concurrency:  cfg.SyncConcurrency,
		RefineWindow: cfg.SyncRefineWindow,
		LockTTL:      cfg.SyncLockTTL,
		Logger:       log,
	}
	if a.rdb != nil {
		s.Locker = &statussync.RedisLocker{Client: redislock.New(a.rdb)}
	}
	return s, nil
}

func (a *app) poller() *automation.Poller {
	return &automation.Poller{
		Tenants:     a.tenants,
		Automations: a.automations,
		Processed:   a.processed,
		Feed:        a.feed,
		Queue:       a.queue,
		Window: automation.Window{
			Sample:          cfg.EventLowWaterSample,
			DefaultLookBack: cfg.EventDefaultLookBack,
			MaxLookBack:     cfg.EventMaxLookBack,
		},
		MaxPages:  cfg.FeedMaxPages,
		Retention: cfg.EventRetention,
		Logger:    log,
	}
}

// watchBroker keeps probing the broker so routing recovers after an outage.
func (a *app) watchBroker(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		a.queue.Health().Run(ctx)
		return nil
	})
}

// runWorkers consumes every queue until ctx is done.
func (a *app) runWorkers(ctx context.Context, g *errgroup.Group) error {
	h, err := a.handlers()
	if err != nil {
		return err
	}
	for name, handler := range h.ByQueue() {
		name, handler := name, handler
		g.Go(func() error {
			log.WithFields(logrus.Fields{"module": "worker", "queue": name}).Info("worker started")
			return a.queue.Process(ctx, name, handler)
		})
	}
	return nil
}

// runPeriodic runs the periodic passes until ctx is done.
func (a *app) runPeriodic(ctx context.Context, g *errgroup.Group) error {
	syncer, err := a.synchronizer()
	if err != nil {
		return err
	}
	sched := a.scheduler()
	poll := a.poller()

	r := runner.New(log)
	tasks := []runner.Task{
		{Name: "scheduler", Every: cfg.SchedulerInterval, Delay: cfg.StartupDelay, Run: func(ctx context.Context) error {
			_, err := sched.RunOnce(ctx)
			return err
		}},
		{Name: "status-sync", Every: cfg.SyncInterval, Delay: cfg.StartupDelay, Run: func(ctx context.Context) error {
			_, err := syncer.SyncAll(ctx)
			return err
		}},
		{Name: "event-poll", Every: cfg.EventPollInterval, Delay: cfg.StartupDelay, Run: func(ctx context.Context) error {
			_, err := poll.RunOnce(ctx)
			return err
		}},
		{Name: "event-prune", Every: cfg.PruneInterval, Delay: cfg.StartupDelay, Run: func(ctx context.Context) error {
			_, err := poll.Prune(ctx)
			return err
		}},
		{Name: "fallback-maintain", Every: cfg.PruneInterval, Delay: cfg.StartupDelay, Run: a.queue.Fallback().Maintain},
	}
	for _, t := range tasks {
		if err := r.Add(t); err != nil {
			return err
		}
	}
	g.Go(func() error {
		r.Run(ctx)
		return nil
	})
	return nil
}

// serveOps runs the internal ops listener until ctx is done.
func (a *app) serveOps(ctx context.Context, g *errgroup.Group) {
	if cfg.OpsAddr == "" {
		return
	}
	h := &ops.Handler{DB: a.db, Queue: a.queue, Ledger: a.ledger, Logger: log}
	srv := &http.Server{Addr: cfg.OpsAddr, Handler: h.Router(), ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		log.WithFields(logrus.Fields{"module": "ops", "addr": cfg.OpsAddr}).Info("ops listener started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
