// Package app wires every component into a running gateway: config, storage,
// the provider registry, the pricing oracle, the policy engine, the call
// pipeline, and settlement — then serves HTTP or runs the background worker
// loops, depending on mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/capiswitch/gateway/internal/adapter"
	"github.com/capiswitch/gateway/internal/agentapi"
	"github.com/capiswitch/gateway/internal/audit"
	"github.com/capiswitch/gateway/internal/auth"
	"github.com/capiswitch/gateway/internal/callapi"
	"github.com/capiswitch/gateway/internal/catalogapi"
	"github.com/capiswitch/gateway/internal/config"
	"github.com/capiswitch/gateway/internal/httpserver"
	"github.com/capiswitch/gateway/internal/ledger"
	"github.com/capiswitch/gateway/internal/lnd"
	"github.com/capiswitch/gateway/internal/notify"
	"github.com/capiswitch/gateway/internal/pipeline"
	"github.com/capiswitch/gateway/internal/platform"
	"github.com/capiswitch/gateway/internal/policy"
	"github.com/capiswitch/gateway/internal/pricing"
	"github.com/capiswitch/gateway/internal/registry"
	"github.com/capiswitch/gateway/internal/registryapi"
	"github.com/capiswitch/gateway/internal/seed"
	"github.com/capiswitch/gateway/internal/settlement"
	"github.com/capiswitch/gateway/internal/signupapi"
	"github.com/capiswitch/gateway/internal/telemetry"
	"github.com/capiswitch/gateway/internal/walletapi"
)

// State is the set of shared, long-lived dependencies every component needs.
// It is built once by Run and passed by pointer to runAPI/runWorker, which
// hand its fields to each component's constructor — nothing here is a
// package-level global, so a second State (as in tests) never shares
// mutable cache state with another.
type State struct {
	Config     *config.Config
	Logger     *slog.Logger
	DB         *pgxpool.Pool
	Redis      *redis.Client
	MetricsReg *prometheus.Registry

	Registry  *registry.Registry
	Adapters  *adapter.Registry
	Rate      *pricing.Oracle
	Spend     *policy.Cache
	Ledger    *ledger.Ledger
	Audit     *audit.Writer
	Pipeline            *pipeline.Pipeline
	PipelineTimeout     time.Duration
	ExpirySweepInterval time.Duration
	HTTPClient          *http.Client

	LND *lnd.Client // nil when Lightning settlement is not configured
}

// Run reads config, connects to infrastructure, and starts the mode named by
// cfg.Mode: "api" serves HTTP, "worker" runs the background settlement and
// pricing loops, "seed" provisions the fixed service catalog and exits.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting capiswitch", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	if cfg.Mode == "seed" {
		return seed.Run(ctx, db, logger)
	}

	metricsReg := telemetry.NewMetricsRegistry()

	state, err := buildState(ctx, cfg, logger, db, rdb, metricsReg)
	if err != nil {
		return err
	}

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, state)
	case "worker":
		return runWorker(ctx, state)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// buildState assembles every shared dependency: the provider registry and
// pricing oracle are warmed synchronously so the first request or worker
// tick has data to read (§4.4 "an initial Refresh should be run
// synchronously at startup").
func buildState(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) (*State, error) {
	adapterTimeout, err := time.ParseDuration(cfg.AdapterTimeout)
	if err != nil {
		return nil, fmt.Errorf("parsing adapter timeout %q: %w", cfg.AdapterTimeout, err)
	}
	httpClient := &http.Client{Timeout: adapterTimeout}

	provider, err := pricing.NewProvider(cfg.RateProvider, "", nil)
	if err != nil {
		return nil, fmt.Errorf("creating rate provider: %w", err)
	}
	refreshInterval, err := time.ParseDuration(cfg.PriceRefreshInterval)
	if err != nil {
		return nil, fmt.Errorf("parsing price refresh interval %q: %w", cfg.PriceRefreshInterval, err)
	}
	rateOracle := pricing.NewOracle(db, provider, logger, refreshInterval, telemetry.RateRefreshTotal)
	if err := rateOracle.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("warming pricing oracle: %w", err)
	}

	reg := registry.New()
	if err := registry.LoadFromDB(ctx, reg, db); err != nil {
		return nil, fmt.Errorf("loading provider registry: %w", err)
	}

	adapters := adapter.NewRegistry()
	adapter.RegisterBuiltins(adapters, httpClient, rateOracle)

	pipelineTimeout, err := time.ParseDuration(cfg.PipelineTimeout)
	if err != nil {
		return nil, fmt.Errorf("parsing pipeline timeout %q: %w", cfg.PipelineTimeout, err)
	}

	expirySweepInterval, err := time.ParseDuration(cfg.InvoiceExpirySweepInterval)
	if err != nil {
		return nil, fmt.Errorf("parsing invoice expiry sweep interval %q: %w", cfg.InvoiceExpirySweepInterval, err)
	}

	ledgerStore := ledger.New(db)
	spendCache := policy.NewCache(rdb, db, logger)
	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)

	var lndClient *lnd.Client
	if cfg.LNDHost != "" {
		lndClient, err = lnd.NewClient(ctx, lnd.Config{
			GRPCHost:     cfg.LNDHost,
			GRPCPort:     "10009",
			TLSCertPath:  cfg.LNDTLSCertPath,
			MacaroonPath: cfg.LNDMacaroonPath,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to lnd: %w", err)
		}
		logger.Info("lightning settlement enabled", "host", cfg.LNDHost)
	} else {
		logger.Info("lightning settlement disabled (LND_HOST not set)")
	}

	return &State{
		Config:     cfg,
		Logger:     logger,
		DB:         db,
		Redis:      rdb,
		MetricsReg: metricsReg,
		Registry:   reg,
		Adapters:   adapters,
		Rate:       rateOracle,
		Spend:      spendCache,
		Ledger:     ledgerStore,
		Audit:      auditWriter,
		HTTPClient:          httpClient,
		PipelineTimeout:     pipelineTimeout,
		ExpirySweepInterval: expirySweepInterval,
		LND:                 lndClient,
		Pipeline: &pipeline.Pipeline{
			Registry: reg,
			Adapters: adapters,
			Spend:    spendCache,
			Ledger:   ledgerStore,
			Audit:    auditWriter,
			Logger:   logger,
		},
	}, nil
}

// runAPI mounts every domain handler and serves HTTP until ctx is cancelled,
// running the pricing oracle's refresh loop and the invoice expiry sweeper
// as background goroutines alongside the server.
func runAPI(ctx context.Context, state *State) error {
	cfg := state.Config

	authenticator := auth.NewAuthenticator(state.DB)
	srv := httpserver.NewServer(cfg, state.Logger, state.DB, state.Redis, state.MetricsReg, authenticator)

	go state.Rate.Start(ctx)

	sweeper := &settlement.ExpirySweeper{Pool: state.DB, Logger: state.Logger, Interval: state.ExpirySweepInterval}
	go sweeper.Run(ctx)

	slackNotifier := notify.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackAlertChannel, state.Logger)

	checkoutSettler := &settlement.CheckoutSettler{
		SigningSecret: cfg.CheckoutHMACSecret,
		Pool:          state.DB,
		Ledger:        state.Ledger,
		Notifier:      slackNotifier,
	}

	if state.LND != nil {
		invoiceSettler := &settlement.InvoiceSettler{
			Subscriber: state.LND,
			Pool:       state.DB,
			Ledger:     state.Ledger,
			Notifier:   slackNotifier,
			Logger:     state.Logger,
		}
		go invoiceSettler.Run(ctx)
	}

	walletHandler := walletapi.NewHandler(state.DB, state.Ledger, invoiceCreator(state.LND), state.Rate, checkoutSettler)
	srv.PublicRouter.Mount("/signup", signupapi.NewHandler(state.DB).Routes())
	srv.PublicRouter.Mount("/webhooks", walletHandler.WebhookRoutes())

	srv.APIRouter.Mount("/wallet", walletHandler.Routes())
	srv.APIRouter.Mount("/agents", agentapi.NewHandler(state.DB).Routes())
	catalogapi.NewHandler(state.DB, state.Registry).Register(srv.APIRouter)
	callapi.NewHandler(state.DB, state.Pipeline, state.PipelineTimeout).Register(srv.APIRouter)
	srv.APIRouter.Mount("/registry", registryapi.NewHandler(state.DB, state.Adapters, state.Registry, state.Rate, state.HTTPClient).Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv.Router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		state.Logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		state.Logger.Info("shutting down api server")
		state.Audit.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runWorker runs only the background loops — the pricing oracle refresh, the
// invoice expiry sweeper, and (when configured) the LND invoice settlement
// subscription — with no HTTP server, for deployments that split API and
// worker processes.
func runWorker(ctx context.Context, state *State) error {
	state.Logger.Info("worker started")

	go state.Rate.Start(ctx)

	sweeper := &settlement.ExpirySweeper{Pool: state.DB, Logger: state.Logger, Interval: state.ExpirySweepInterval}
	go sweeper.Run(ctx)

	if state.LND == nil {
		state.Logger.Info("lightning settlement disabled, worker is idle besides pricing and expiry sweep")
		<-ctx.Done()
		return nil
	}

	slackNotifier := notify.NewSlackNotifier(state.Config.SlackBotToken, state.Config.SlackAlertChannel, state.Logger)
	invoiceSettler := &settlement.InvoiceSettler{
		Subscriber: state.LND,
		Pool:       state.DB,
		Ledger:     state.Ledger,
		Notifier:   slackNotifier,
		Logger:     state.Logger,
	}
	invoiceSettler.Run(ctx)
	return nil
}

// invoiceCreator adapts a possibly-nil *lnd.Client to walletapi.InvoiceCreator,
// so /wallet/fund can report UPSTREAM_ERROR instead of panicking when
// Lightning isn't configured.
func invoiceCreator(client *lnd.Client) walletapi.InvoiceCreator {
	if client == nil {
		return nil
	}
	return client
}
