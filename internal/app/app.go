// Package app wires every component together and runs lnvpsd in one of
// four modes: "api" (HTTP boundary: webhooks, job-trigger endpoints),
// "worker" (dispatcher workers, reconciler tickers, settlement and poll
// workers), "migrate" (apply pending schema migrations, then re-encode any
// legacy plaintext secret and exit), or "rotate-key" (re-encrypt every
// secret under a freshly HKDF-derived key and exit). Both api and worker
// processes connect to the same Postgres/Redis infrastructure and can be
// scaled independently.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/lnvps/lnvpsd/internal/api"
	"github.com/lnvps/lnvpsd/internal/config"
	"github.com/lnvps/lnvpsd/internal/httpserver"
	"github.com/lnvps/lnvpsd/internal/platform"
	"github.com/lnvps/lnvpsd/internal/telemetry"
	"github.com/lnvps/lnvpsd/pkg/capacity"
	"github.com/lnvps/lnvpsd/pkg/catalog"
	"github.com/lnvps/lnvpsd/pkg/dispatcher"
	"github.com/lnvps/lnvpsd/pkg/dnsdriver"
	"github.com/lnvps/lnvpsd/pkg/encryption"
	"github.com/lnvps/lnvpsd/pkg/exchange"
	"github.com/lnvps/lnvpsd/pkg/hostdriver"
	"github.com/lnvps/lnvpsd/pkg/paymentengine"
	"github.com/lnvps/lnvpsd/pkg/paymentrail"
	"github.com/lnvps/lnvpsd/pkg/provisioner"
	"github.com/lnvps/lnvpsd/pkg/routerdriver"
)

// Default poll intervals for the periodic task class.
const (
	rateFetchInterval        = 5 * time.Minute
	vmReconcileInterval      = 30 * time.Second
	nostrDomainCheckInterval = 600 * time.Second
)

// components bundles the constructed dependencies both api and worker mode
// need, avoiding a growing positional-return-value list.
type components struct {
	store    *catalog.Store
	rates    *exchange.Cache
	queue    dispatcher.Queue
	feedback *dispatcher.FeedbackBus
	engine   *paymentengine.Engine
	deps     *provisioner.Deps
	rdb      *redis.Client
}

// Run is the main application entry point: it reads config, connects to
// infrastructure, and starts the mode cfg.Mode selects.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting lnvpsd", "mode", cfg.Mode, "listen", cfg.Listen)

	if cfg.Mode == "migrate" {
		if err := platform.RunMigrations(cfg.DB, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("migrations applied")

		db, err := platform.NewPostgresPool(ctx, cfg.DB)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer db.Close()

		enc, err := encryption.New(cfg.Encryption.KeyFile, cfg.Encryption.AutoGenerate)
		if err != nil {
			return fmt.Errorf("initializing encryption context: %w", err)
		}

		migrated, err := enc.MigrateStore(ctx, catalog.New(db, enc))
		if err != nil {
			return fmt.Errorf("migrating legacy plaintext secrets: %w", err)
		}
		logger.Info("encrypted legacy plaintext secrets", "rows", migrated)
		return nil
	}

	if cfg.Mode == "rotate-key" {
		return runRotateKey(ctx, cfg, logger)
	}

	db, err := platform.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	if err := platform.RunMigrations(cfg.DB, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	rdb, err := platform.NewRedisClient(ctx, cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	enc, err := encryption.New(cfg.Encryption.KeyFile, cfg.Encryption.AutoGenerate)
	if err != nil {
		return fmt.Errorf("initializing encryption context: %w", err)
	}

	c, err := wireComponents(ctx, cfg, logger, db, rdb, enc)
	if err != nil {
		return err
	}

	metricsReg := telemetry.NewMetricsRegistry()

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, c, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, c)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// wireComponents builds every driver registry, the capacity/pricing
// tables, the dispatcher queue, and the resulting Provisioner/Payment
// State Machine deps — the one-time construction both api and worker mode
// share.
func wireComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, enc *encryption.Context) (*components, error) {
	store := catalog.New(db, enc)
	rates := exchange.NewCache(logger)

	hosts := hostdriver.NewRegistry()
	for _, h := range cfg.Hosts.Proxmox {
		drv, err := hostdriver.NewProxmox(h.BaseURL, h.Node, h.TokenID, h.TokenSecret)
		if err != nil {
			return nil, fmt.Errorf("building proxmox driver for host %d: %w", h.HostID, err)
		}
		hosts.Register(drv)
	}
	hosts.Register(hostdriver.NewMock())

	routers := routerdriver.NewRegistry()
	for _, r := range cfg.Routers.Mikrotik {
		routers.Register(routerdriver.NewMikrotik(r.BaseURL, r.Username, r.Password))
	}
	for _, o := range cfg.Routers.Ovh {
		routers.Register(routerdriver.NewOvhAdditionalIp(o.Endpoint, o.ServiceName, o.AppKey, o.AppSecret, o.ConsumerKey))
	}
	routers.Register(routerdriver.NewMock())

	var dns dnsdriver.Driver
	if len(cfg.DNS.Rest) > 0 {
		z := cfg.DNS.Rest[0]
		dns = dnsdriver.NewRestZone(z.BaseURL, z.APIKey, z.ZoneID)
	} else {
		dns = dnsdriver.NewMock()
		logger.Info("dns driver: no rest zone configured, using mock")
	}

	rails := paymentrail.NewRegistry()
	invoiceTTL := map[catalog.PaymentMethod]time.Duration{}
	if l := cfg.Payments.Lightning; l != nil {
		rails.Register(paymentrail.NewLightning(l.BaseURL, l.Macaroon, l.WebhookSecret))
		if d, err := time.ParseDuration(l.InvoiceTTL); err == nil && d > 0 {
			invoiceTTL[catalog.PaymentMethodLightning] = d
		}
	}
	if rv := cfg.Payments.Revolut; rv != nil {
		rails.Register(paymentrail.NewRevolut(rv.BaseURL, rv.APIKey, rv.WebhookSecret))
		if d, err := time.ParseDuration(rv.InvoiceTTL); err == nil && d > 0 {
			invoiceTTL[catalog.PaymentMethodRevolut] = d
		}
	}
	rails.Register(paymentrail.NewMock())

	taxes := buildTaxTable(cfg.Pricing.Taxes)
	fees := buildFeeSchedule(cfg.Pricing.Fees)

	queue, err := newQueue(ctx, cfg, rdb, logger)
	if err != nil {
		return nil, err
	}

	feedback := dispatcher.NewFeedbackBus(rdb, logger)

	engine := &paymentengine.Engine{
		Store:          store,
		Rails:          rails,
		Rates:          rates,
		Taxes:          taxes,
		Fees:           fees,
		Queue:          queue,
		Logger:         logger,
		CompanyCountry: cfg.CompanyCountry,
		InvoiceTTL:     invoiceTTL,
	}

	deps := &provisioner.Deps{
		Store:    store,
		Hosts:    hosts,
		Routers:  routers,
		DNS:      dns,
		Rails:    rails,
		Rates:    rates,
		Taxes:    taxes,
		Fees:     fees,
		Payments: engine,
		Queue:    queue,
		Logger:   logger,
	}

	return &components{
		store:    store,
		rates:    rates,
		queue:    queue,
		feedback: feedback,
		engine:   engine,
		deps:     deps,
		rdb:      rdb,
	}, nil
}

func newQueue(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger *slog.Logger) (dispatcher.Queue, error) {
	if cfg.Dispatcher.StreamKey == "" {
		logger.Warn("dispatcher: no stream_key configured, using in-memory queue (not durable across restarts)")
		return dispatcher.NewMemory(), nil
	}
	consumer := fmt.Sprintf("lnvpsd-%s", uuid.NewString())
	return dispatcher.NewStream(ctx, rdb, cfg.Dispatcher.StreamKey, cfg.Dispatcher.ConsumerGroup, consumer, logger)
}

func buildTaxTable(rows []config.TaxRateConfig) capacity.TaxTable {
	table := make(capacity.TaxTable, 0, len(rows))
	for _, r := range rows {
		table = append(table, capacity.TaxRate{
			UserCountry:    r.UserCountry,
			CompanyCountry: r.CompanyCountry,
			Rate:           decimal.NewFromFloat(r.Rate),
		})
	}
	return table
}

func buildFeeSchedule(rows []config.FeeConfig) map[catalog.PaymentMethod]capacity.FeeSchedule {
	fees := make(map[catalog.PaymentMethod]capacity.FeeSchedule, len(rows))
	for _, r := range rows {
		fees[catalog.PaymentMethod(r.Method)] = capacity.FeeSchedule{
			BaseFee: exchange.Amount{Currency: exchange.BTC, Value: r.BaseFeeSats},
			Rate:    decimal.NewFromFloat(r.Rate),
		}
	}
	return fees
}

// runRotateKey implements "rotate-key" mode: it derives the next-generation
// key from the current one via HKDF, re-encrypts every secret in place
// while both keys are held in memory, and only then overwrites the key
// file — a failure mid-rotation leaves every row decryptable under the key
// still on disk.
func runRotateKey(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := platform.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	oldKey, err := encryption.ReadKeyFile(cfg.Encryption.KeyFile)
	if err != nil {
		return fmt.Errorf("reading current encryption key: %w", err)
	}
	newKey, err := encryption.DeriveRotatedKey(oldKey, "lnvpsd-encryption-rotation")
	if err != nil {
		return fmt.Errorf("deriving rotated key: %w", err)
	}

	cur, err := encryption.FromKey(oldKey)
	if err != nil {
		return fmt.Errorf("building current encryption context: %w", err)
	}
	next, err := encryption.FromKey(newKey)
	if err != nil {
		return fmt.Errorf("building rotated encryption context: %w", err)
	}

	rotated, err := cur.Rotate(ctx, catalog.New(db, cur), next)
	if err != nil {
		return fmt.Errorf("rotating secrets: %w", err)
	}

	if err := encryption.WriteKeyFile(cfg.Encryption.KeyFile, newKey); err != nil {
		return fmt.Errorf("writing rotated key file: %w", err)
	}

	logger.Info("rotated encryption key", "rows", rotated)
	return nil
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, c *components, metricsReg *prometheus.Registry) error {
	srv := httpserver.NewServer(httpserver.Config{CORSAllowedOrigins: []string{"*"}}, logger, metricsReg)

	handler := &api.Handler{
		Store: c.store,
		Queue: c.queue,
		Webhook: &paymentengine.WebhookAdapter{
			Rails:  c.deps.Rails,
			Rdb:    c.rdb,
			Logger: logger,
		},
		Logger: logger,
	}
	srv.Router.Mount("/", handler.Routes())

	httpSrv := httpserver.NewHTTPServer(cfg.Listen, srv)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, c *components) error {
	logger.Info("worker started", "workers", cfg.Dispatcher.Workers)

	handler := telemetry.InstrumentHandler(buildHandler(c.deps, logger))

	workerCount := cfg.Dispatcher.Workers
	if workerCount <= 0 {
		workerCount = 1
	}

	errCh := make(chan error, workerCount+2)
	for i := 0; i < workerCount; i++ {
		w := dispatcher.NewWorker(c.queue, handler, c.feedback, logger)
		go func() {
			if err := w.Run(ctx); err != nil {
				errCh <- fmt.Errorf("dispatcher worker: %w", err)
			}
		}()
	}

	settlementWorker := &paymentengine.SettlementWorker{Engine: c.engine, Rdb: c.rdb, Feedback: c.feedback, Logger: logger}
	go func() {
		if err := settlementWorker.Run(ctx); err != nil {
			errCh <- fmt.Errorf("settlement worker: %w", err)
		}
	}()

	pollInterval := time.Minute
	if d, err := time.ParseDuration(cfg.Dispatcher.PollInterval); err == nil && d > 0 {
		pollInterval = d
	}
	pollWorker := &paymentengine.PollWorker{Engine: c.engine, Interval: pollInterval, Logger: logger}
	go func() {
		if err := pollWorker.Run(ctx); err != nil {
			errCh <- fmt.Errorf("poll worker: %w", err)
		}
	}()

	go c.rates.Run(ctx, []exchange.RateSource{exchange.NewMempoolSource()}, rateFetchInterval)

	go runReconciler(ctx, c.queue, logger)

	select {
	case <-ctx.Done():
		logger.Info("worker shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

// runReconciler enqueues the periodic tick jobs: the VM-state reconciler
// every 30s and the Nostr domain check every 600s. This process only
// schedules CheckNostrDomains; an external collaborator resolves it.
func runReconciler(ctx context.Context, queue dispatcher.Queue, logger *slog.Logger) {
	vmTicker := time.NewTicker(vmReconcileInterval)
	defer vmTicker.Stop()
	domainTicker := time.NewTicker(nostrDomainCheckInterval)
	defer domainTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-vmTicker.C:
			if _, err := queue.Send(ctx, dispatcher.Job{Type: dispatcher.JobCheckVms}); err != nil {
				logger.Error("enqueuing CheckVms", "error", err)
			}
		case <-domainTicker.C:
			if _, err := queue.Send(ctx, dispatcher.Job{Type: dispatcher.JobCheckNostrDomains}); err != nil {
				logger.Error("enqueuing CheckNostrDomains", "error", err)
			}
		}
	}
}
