package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"

	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	esim "github.com/goliatone/go-esim"
	"github.com/goliatone/go-esim/adapters/gocommand"
	"github.com/goliatone/go-esim/adapters/gologger"
	"github.com/goliatone/go-esim/auth"
	esimcommand "github.com/goliatone/go-esim/command"
	"github.com/goliatone/go-esim/core"
	"github.com/goliatone/go-esim/httpapi"
	"github.com/goliatone/go-esim/messaging"
	esimmigrations "github.com/goliatone/go-esim/migrations"
	"github.com/goliatone/go-esim/ratelimit"
	"github.com/goliatone/go-esim/security"
	sqlstore "github.com/goliatone/go-esim/store/sql"
	"github.com/goliatone/go-esim/stream"
	"github.com/goliatone/go-esim/transport"
	"github.com/goliatone/go-esim/webhooks"
	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

const rateLimitCacheTTL = 30 * time.Second

type Options struct {
	Logger    *gologger.SlogLogger
	Hooks     *esim.ExtensionHooks
	Publisher messaging.Publisher
	// HTTPClient overrides the client used for partner API calls.
	HTTPClient transport.HTTPDoer
}

// App owns every long-lived dependency of the esimd binary.
type App struct {
	Config     core.Config
	Logger     glog.Logger
	Service    *core.Service
	Facade     *esim.Facade
	Dispatcher *core.OutboxDispatcher
	Hub        *stream.Hub
	Handler    http.Handler
	Stores     *sqlstore.Stores

	subs    []commanddispatcher.Subscription
	closers []func() error
}

// New opens the database, applies migrations and wires the service graph.
func New(ctx context.Context, cfg core.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	root := opts.Logger
	if root == nil {
		root = gologger.NewJSONLogger("info")
	}
	loggers := gologger.NewProvider(root)
	hooks := opts.Hooks
	if hooks == nil {
		hooks = esim.NewExtensionHooks()
	}

	a := &App{Config: cfg, Logger: loggers.GetLogger("app")}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	client, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)

	var storeOpts []sqlstore.StoresOption
	if key := strings.TrimSpace(cfg.Security.AppKey); key != "" {
		cipher, err := security.NewAppKeyCipherFromString(key,
			security.WithKeyID(cfg.Security.KeyID),
			security.WithVersion(cfg.Security.KeyVersion),
		)
		if err != nil {
			return nil, err
		}
		storeOpts = append(storeOpts, sqlstore.WithSecretCipher(cipher))
	}
	stores, err := sqlstore.OpenStores(client, storeOpts...)
	if err != nil {
		return nil, err
	}
	a.Stores = stores

	cacheService, err := sqlstore.NewRateLimitCacheService(rateLimitCacheTTL)
	if err != nil {
		return nil, err
	}
	rateState, err := sqlstore.NewCachedRateLimitStateStore(stores.RateLimits, cacheService)
	if err != nil {
		return nil, err
	}
	policy := ratelimit.NewAdaptivePolicy(rateState)

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	rest := transport.NewRESTAdapter(httpClient)
	if cfg.Provider.Timeout > 0 {
		rest.Timeout = cfg.Provider.Timeout
	}

	var authOpts []auth.AuthenticatorOption
	if cfg.Provider.TokenCache {
		authOpts = append(authOpts, auth.WithTokenCache(auth.NewTokenCache(cfg.Provider.TokenSafetyMargin)))
	}
	authenticator, err := auth.NewClientCredentialsAuthenticator(rest, authOpts...)
	if err != nil {
		return nil, err
	}
	providerClient, err := hooks.ProviderClient(cfg.Provider.Name, rest, policy)
	if err != nil {
		return nil, err
	}

	svc, err := core.NewService(cfg,
		core.WithLoggerProvider(loggers),
		core.WithOrderStore(stores.Orders),
		core.WithOutboxStore(stores.Outbox),
		core.WithCredentialResolver(auth.NewConfigCredentialResolver(stores.ProviderConfigs)),
		core.WithAuthenticator(authenticator),
		core.WithProviderClient(providerClient),
	)
	if err != nil {
		return nil, err
	}
	a.Service = svc

	a.Hub = stream.NewHub(stream.WithLogger(loggers.GetLogger("stream")))
	registry := core.NewLifecycleProjectorRegistry()
	registry.Register("stream", a.Hub)
	publisher := opts.Publisher
	if publisher == nil && strings.TrimSpace(cfg.Messaging.RabbitURL) != "" {
		rabbit, err := messaging.NewRabbitPublisher(cfg.Messaging.RabbitURL, cfg.Messaging.Exchange)
		if err != nil {
			return nil, err
		}
		publisher = rabbit
		a.closers = append(a.closers, rabbit.Close)
	}
	if publisher != nil {
		projector, err := messaging.NewLifecycleProjector(publisher, messaging.WithLogger(loggers.GetLogger("messaging")))
		if err != nil {
			return nil, err
		}
		registry.Register("messaging", projector)
	}
	if err := hooks.ApplyProjectorPacks(registry); err != nil {
		return nil, err
	}

	dispatcher, err := core.NewOutboxDispatcher(stores.Outbox, registry, core.OutboxDispatcherConfig{
		BatchSize: cfg.Outbox.BatchSize,
	}, svc.Observer())
	if err != nil {
		return nil, err
	}
	a.Dispatcher = dispatcher

	facade, err := esim.NewFacade(svc,
		esim.WithLifecycleDispatcher(dispatcher),
		esim.WithProviderConfigWriter(stores.ProviderConfigs),
		esim.WithOrderReader(stores.Orders),
	)
	if err != nil {
		return nil, err
	}
	a.Facade = facade

	commands := gocommand.NewRegistryAdapter(nil)
	subs, err := gocommand.RegisterFacade(commands, facade)
	if err != nil {
		return nil, err
	}
	a.subs = subs
	if err := commands.Initialize(); err != nil {
		return nil, err
	}

	stripe := newProcessor(webhooks.NewStripeVerifier(cfg.Webhooks.ReplayWindow), "stripe", cfg.Webhooks.StripeSecret, cfg, stores, svc)
	coinbase := newProcessor(webhooks.NewCoinbaseVerifier(), "coinbase", cfg.Webhooks.CoinbaseSecret, cfg, stores, svc)

	server, err := httpapi.NewServer(httpapi.Config{
		Stripe:     stripe,
		Coinbase:   coinbase,
		Activation: facade.Queries().GetActivation,
		Usage:      facade.Queries().GetSIMUsage,
		Stream:     stream.NewHandler(a.Hub, stores.Orders),
		Logger:     loggers.GetLogger("http"),
	})
	if err != nil {
		return nil, err
	}
	a.Handler = server

	ok = true
	return a, nil
}

func newProcessor(
	verifier *webhooks.EventVerifier,
	provider string,
	fallbackSecret string,
	cfg core.Config,
	stores *sqlstore.Stores,
	svc *core.Service,
) *webhooks.Processor {
	secret := webhooks.ConfigSecret{
		Store:    stores.ProviderConfigs,
		Provider: provider,
		Fallback: fallbackSecret,
	}
	processor := webhooks.NewProcessor(verifier, secret, stores.Deliveries, svc)
	processor.RejectUnverified = cfg.Webhooks.RejectUnverified
	processor.Observer = svc.Observer()
	if cfg.Webhooks.CoalesceWindow > 0 {
		processor.Burst = webhooks.NewBurstController(webhooks.BurstOptions{
			Mode:   webhooks.BurstModeCoalesce,
			Window: cfg.Webhooks.CoalesceWindow,
		})
	}
	return processor
}

// Run serves HTTP, streams lifecycle updates and drains the outbox until ctx
// is cancelled.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.Hub.Run(ctx)
	go a.drainOutbox(ctx)

	server := httpapi.NewHTTPServer(ctx, a.Config.HTTP.Addr, a.Handler)
	a.Logger.Info("esimd listening", "addr", a.Config.HTTP.Addr, "provider", a.Config.Provider.Name)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// drainOutbox dispatches DispatchLifecycleMessage through the command bus on
// every tick.
func (a *App) drainOutbox(ctx context.Context) {
	interval := a.Config.Outbox.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg := esimcommand.DispatchLifecycleMessage{BatchSize: a.Config.Outbox.BatchSize}
			if err := gocommand.Dispatch(ctx, msg); err != nil && ctx.Err() == nil {
				a.Logger.Warn("outbox dispatch incomplete", "error", err)
			}
		}
	}
}

// Migrate applies the embedded schema for the configured driver and closes
// the connection.
func Migrate(ctx context.Context, cfg core.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	client, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	return client.Close()
}

func (a *App) Close() error {
	if a == nil {
		return nil
	}
	gocommand.Unsubscribe(a.subs)
	a.subs = nil
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openDatabase(ctx context.Context, cfg core.Config) (*persistence.Client, error) {
	driver := strings.TrimSpace(cfg.Database.Driver)
	sqlDB, err := sql.Open(driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("app: open %s database: %w", driver, err)
	}

	var client *persistence.Client
	switch driver {
	case "postgres":
		client, err = persistence.New(cfg.PersistenceConfig(), sqlDB, pgdialect.New())
	case "sqlite3":
		sqlDB.SetMaxOpenConns(1)
		client, err = persistence.New(cfg.PersistenceConfig(), sqlDB, sqlitedialect.New())
	default:
		err = fmt.Errorf("app: database driver %q is not supported", driver)
	}
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	if err := migrate(ctx, client, driver); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func migrate(ctx context.Context, client *persistence.Client, driver string) error {
	dialect, err := esimmigrations.DialectForDriver(driver)
	if err != nil {
		return err
	}
	_, err = esimmigrations.Register(ctx, func(_ context.Context, target string, _ string, fsys fs.FS) error {
		if target != dialect {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, esimmigrations.WithValidationTargets(dialect))
	if err != nil {
		return err
	}
	return client.Migrate(ctx)
}
