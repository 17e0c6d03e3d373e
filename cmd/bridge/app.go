package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"retail-integration/internal/client"
	"retail-integration/internal/config"
	"retail-integration/internal/dedupe"
	"retail-integration/internal/errsink"
	"retail-integration/internal/logging"
	"retail-integration/internal/posting"
	"retail-integration/internal/queue"
	"retail-integration/internal/repository"
	"retail-integration/internal/scheduler"
	"retail-integration/internal/server"
	"retail-integration/internal/service"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

const shutdownTimeout = 30 * time.Second

// app owns the process-wide pieces. Everything past config is built on
// first use so that serve never opens the ERP database. The lazy builders are
// not safe for concurrent use; run builds everything before it starts.
type app struct {
	cfg  *config.Config
	loc  *time.Location
	sink *errsink.Collector
	log  *slog.Logger

	db        *gorm.DB
	publisher *queue.Publisher
	svc       *services

	mu      sync.Mutex
	loggers map[string]*slog.Logger
	closers []func() error
}

type services struct {
	orders    service.OrderService
	drafts    service.DraftService
	leads     service.LeadService
	syncs     service.SyncService
	inbound   service.InboundSMSService
	stock     service.StockNotifyService
	campaigns service.CampaignService
	reporter  *service.ErrorReporter
}

func loadConfig(envFile string) (*config.Config, error) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &config.Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func newApp(envFile string) (*app, error) {
	cfg, err := loadConfig(envFile)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		loc:     cfg.Environment.Location(),
		loggers: make(map[string]*slog.Logger),
	}
	a.log = a.logger("bridge")
	a.sink = errsink.NewCollector(a.logger("errors"))
	return a, nil
}

// logger returns one logger per module so each daily file has a single writer.
func (a *app) logger(module string) *slog.Logger {
	a.mu.Lock()
	defer a.mu.Unlock()
	if l, ok := a.loggers[module]; ok {
		return l
	}
	l := logging.New(a.cfg.Log, module)
	a.loggers[module] = l
	return l
}

func (a *app) addCloser(fn func() error) {
	a.mu.Lock()
	a.closers = append(a.closers, fn)
	a.mu.Unlock()
}

func (a *app) database() (*gorm.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := client.OpenDatabase(a.cfg.Database)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	a.db = db
	a.addCloser(sqlDB.Close)
	a.log.Info("database connected", "driver", a.cfg.Database.Driver)
	return db, nil
}

func (a *app) queuePublisher() *queue.Publisher {
	if a.publisher == nil {
		a.publisher = queue.NewPublisher(queue.DialAMQP, a.cfg.AMQP.URL, a.logger("queue"))
		a.addCloser(a.publisher.Close)
	}
	return a.publisher
}

func (a *app) services() (*services, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	db, err := a.database()
	if err != nil {
		return nil, err
	}
	cfg := a.cfg
	repoLog := a.logger("repository")

	customers := repository.NewCustomerRepository(db, repoLog)
	documents := repository.NewDocumentRepository(db, repoLog)
	products := repository.NewProductRepository(db, repoLog)
	discounts := repository.NewDiscountRepository(db, repoLog)
	smsLog := repository.NewSMSRepository(db, repoLog)

	shopify := client.NewShopifyClient(&cfg.Shopify, a.logger("shopify"))
	erp := client.NewERPClient(&cfg.ERP, a.logger("erp"))
	sms := client.NewTwilioClient(&cfg.Twilio, a.logger("twilio"))
	mailer := client.NewMailer(&cfg.SMTP)
	printer := client.NewPrinter(cfg.Print.URL, a.logger("print"))
	settings := posting.SettingsFrom(&cfg.ERP)

	postLog := a.logger("orders")
	poster := posting.NewPoster(erp, documents, customers, products,
		repository.NewGiftCardRepository(db, repoLog), a.sink, settings, a.loc, postLog)

	leads, err := service.NewLeadService(customers, repository.NewLeadRepository(db), sms, smsLog,
		mailer, printer, client.NewSheetMirror(cfg.Sheet.MirrorURL, a.logger("sheet")),
		a.sink, cfg.Notify.SalesPhones, cfg.Notify.StorePhone, a.logger("leads"))
	if err != nil {
		return nil, err
	}

	campaigns, err := service.LoadCampaigns(cfg.Campaigns.File)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		a.log.Warn("no campaign file, sms automation idle", "file", cfg.Campaigns.File)
	case err != nil:
		return nil, err
	}

	smsAutoLog := a.logger("sms")
	a.svc = &services{
		orders: service.NewOrderService(shopify, poster, printer, mailer, a.sink,
			cfg.Orders.SettleDelay, postLog),
		drafts: service.NewDraftService(shopify, erp, documents, customers,
			repository.NewDraftHoldRepository(db, repoLog), a.sink, settings, a.logger("drafts")),
		leads: leads,
		syncs: service.NewSyncService(shopify, customers, products,
			repository.NewMirrorRepository(db, repoLog), discounts, sms, smsLog, a.sink,
			cfg.ERP.LocationID, cfg.Sync.LastSyncPath, a.logger("sync")),
		inbound: service.NewInboundSMSService(customers, smsLog, sms, a.queuePublisher(), a.sink,
			cfg.Notify.AdminPhones, cfg.Hours, a.loc, smsAutoLog),
		stock: service.NewStockNotifyService(repository.NewStockNotifyRepository(db, repoLog),
			customers, discounts, shopify, sms, smsLog, mailer, a.sink, cfg.StockNotify,
			cfg.ERP.ImageDir, cfg.ERP.LocationID, a.loc, a.logger("stock_notify")),
		campaigns: service.NewCampaignService(campaigns, smsLog, customers, sms, a.sink, a.loc, smsAutoLog),
		reporter:  service.NewErrorReporter(a.sink, mailer, cfg.Notify.AdminEmail, a.logger("errors")),
	}
	return a.svc, nil
}

func (a *app) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

// summaryJob mails whatever the sink collected since the last run.
func (a *app) summaryJob() *scheduler.Job {
	reporter := service.NewErrorReporter(a.sink, client.NewMailer(&a.cfg.SMTP), a.cfg.Notify.AdminEmail, a.logger("errors"))
	if a.svc != nil {
		reporter = a.svc.reporter
	}
	return &scheduler.Job{
		Name:  "error-summary",
		Every: a.cfg.Notify.SummaryInterval,
		Run: func(ctx context.Context, _ time.Time) error {
			return reporter.Run(ctx)
		},
	}
}

// gateway serves webhooks until ctx is done.
func (a *app) gateway(ctx context.Context) error {
	var db *gorm.DB
	if a.cfg.Dedup.Store == "db" {
		var err error
		if db, err = a.database(); err != nil {
			return err
		}
	}

	log := a.logger("gateway")
	dd, closeDD, err := dedupe.New(a.cfg.Dedup, a.cfg.Redis, db, log)
	if err != nil {
		return err
	}
	a.addCloser(closeDD)

	srv := server.NewServer(a.cfg, a.queuePublisher(), dd, a.sink, log)
	addr := a.cfg.HTTP.Host + ":" + a.cfg.HTTP.Port

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", "addr", addr)
		errCh <- srv.Start(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("signal received, shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	return <-errCh
}

// consumers runs one consumer per topic until ctx is done.
func (a *app) consumers(ctx context.Context) error {
	svc, err := a.services()
	if err != nil {
		return err
	}

	log := a.logger("queue")
	handlers := service.Handlers(svc.orders, svc.drafts, svc.leads, svc.syncs, svc.inbound)
	cc := queue.ConsumerConfig{
		URL:            a.cfg.AMQP.URL,
		ReconnectDelay: a.cfg.AMQP.ReconnectDelay,
		MaxBackoff:     a.cfg.AMQP.MaxBackoff,
	}

	var list []*queue.Consumer
	for _, topic := range queue.Topics() {
		list = append(list, queue.NewConsumer(topic, handlers[topic], queue.DialAMQP, cc, a.sink, log))
	}
	return queue.NewSupervisor(a.cfg.AMQP.ReconnectDelay, a.cfg.AMQP.MaxBackoff, log, list...).Run(ctx)
}

// jobs lists the periodic engines.
func (a *app) jobs() ([]*scheduler.Job, error) {
	svc, err := a.services()
	if err != nil {
		return nil, err
	}

	campaignLog := a.logger("sms")
	jobs := []*scheduler.Job{
		{
			Name: "campaigns",
			Run: func(ctx context.Context, now time.Time) error {
				reports, err := svc.campaigns.Run(ctx, now)
				for _, r := range reports {
					campaignLog.Info("campaign sent", "campaign", r.Campaign, "sent", r.Sent,
						"failed", r.Failed, "unsubscribed", r.Unsubscribed, "landlines", r.Landlines,
						"opted_out", r.OptedOut)
				}
				return err
			},
		},
		{
			Name:  "stock-notify",
			Every: a.cfg.StockNotify.Interval,
			Run: func(ctx context.Context, _ time.Time) error {
				return svc.stock.Run(ctx)
			},
		},
		{
			Name:  "sync",
			Every: a.cfg.Sync.Interval,
			Run: func(ctx context.Context, _ time.Time) error {
				report, err := svc.syncs.SyncSinceLast(ctx)
				if err == nil {
					a.log.Info("scheduled sync finished", "report", report.String())
				}
				return err
			},
		},
		{
			Name:  "draft-sweep",
			Every: a.cfg.Sync.SweepInterval,
			Run: func(ctx context.Context, _ time.Time) error {
				return svc.drafts.Sweep(ctx)
			},
		},
		a.summaryJob(),
	}

	if a.cfg.Dedup.Store == "db" {
		events := dedupe.NewDB(repository.NewWebhookEventRepository(a.db))
		ttl := a.cfg.Dedup.TTL
		jobs = append(jobs, &scheduler.Job{
			Name:  "dedupe-purge",
			Every: time.Hour,
			Run: func(ctx context.Context, _ time.Time) error {
				n, err := events.Purge(ctx, ttl)
				if n > 0 {
					a.log.Info("webhook events purged", "count", n)
				}
				return err
			},
		})
	}
	return jobs, nil
}

func (a *app) newScheduler(jobs ...*scheduler.Job) *scheduler.Scheduler {
	return scheduler.New(scheduler.DefaultTick, a.sink, a.logger("scheduler"), jobs...)
}
