package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"grouper-dispatcher/internal/brokers"
	"grouper-dispatcher/internal/circuitbreaker"
	"grouper-dispatcher/internal/common/logging"
	"grouper-dispatcher/internal/config"
	"grouper-dispatcher/internal/metrics"
	"grouper-dispatcher/internal/routing"
	"grouper-dispatcher/internal/server"
	"grouper-dispatcher/internal/supervisor"
)

const statusInterval = time.Minute

// App holds the running dispatcher's dependencies.
type App struct {
	Config     *config.Config
	Router     *routing.Router
	Properties *config.Properties
	Factory    brokers.Factory
	Supervisor *supervisor.Supervisor
	Metrics    *metrics.Metrics
	Logger     logging.Logger
}

// New wires the application. The rule file watcher is bound to ctx and stops
// with it. Nothing connects to the broker until workers start.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	return NewWithFactory(ctx, cfg, nil)
}

// NewWithFactory is New with an explicit connection factory. A nil factory
// is built from cfg.
func NewWithFactory(ctx context.Context, cfg *config.Config, factory brokers.Factory) (*App, error) {
	app := &App{
		Config:  cfg,
		Metrics: metrics.New(),
		Logger:  logging.Component("app"),
	}

	if factory == nil {
		var err error
		factory, err = BrokerFactory(cfg)
		if err != nil {
			return nil, err
		}
	}
	app.Factory = factory

	app.Router = routing.NewRouter(cfg.RulesFile, cfg.FromQueue,
		routing.WithWatch(ctx),
		routing.WithReloadObserver(app.Metrics.Reloaded),
	)
	app.Properties = config.NewProperties(cfg.PropertiesFile, cfg.ProcessDefaults(), cfg.PropertiesRefresh)

	app.Supervisor = supervisor.New(app.Router, app.Factory, app.Properties, supervisor.Options{
		IngressQueue:  cfg.FromQueue,
		PollTimeout:   cfg.PollTimeout,
		Tick:          cfg.SupervisorTick,
		ShutdownGrace: cfg.ShutdownGrace,
		Breaker:       circuitbreaker.DefaultConfig(),
		Metrics:       app.Metrics,
	})

	return app, nil
}

// Start runs the supervisor until ctx is done. The first rule load happens
// here so a broken rule file is reported at startup; workers still start
// and retry the load on every lookup.
func (a *App) Start(ctx context.Context) error {
	a.Logger.Info("Starting grouper dispatcher",
		logging.String("broker_type", a.Config.BrokerType),
		logging.String("queue", a.Config.FromQueue),
		logging.String("rules_file", a.Config.RulesFile),
		logging.String("properties_file", a.Config.PropertiesFile),
	)

	if queues, err := a.Router.Queues(); err != nil {
		a.Logger.Error("Routing rules not loaded", err)
	} else {
		a.Logger.Info("Routing rules loaded", logging.Strings("queues", queues))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Supervisor.Run(gctx)
	})
	g.Go(func() error {
		a.reportStatus(gctx, statusInterval)
		return nil
	})
	if w := a.watchProperties(); w != nil {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	if a.Config.MetricsAddr != "" {
		srv := server.New(a.Routes(), a.Config.MetricsAddr)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}
	return g.Wait()
}

// watchProperties returns a watcher that invalidates the cached process
// controls whenever the properties file changes, or nil when there is nothing
// to watch.
func (a *App) watchProperties() *routing.Watcher {
	if a.Config.PropertiesFile == "" {
		return nil
	}
	w, err := routing.NewWatcher(a.Config.PropertiesFile, a.Properties.Invalidate,
		a.Logger.WithFields(logging.String("file", a.Config.PropertiesFile)))
	if err != nil {
		a.Logger.Warn("Properties file not watched, relying on the refresh interval", logging.Err(err))
		return nil
	}
	return w
}

// reportStatus logs the worker count and breaker state until ctx is done.
func (a *App) reportStatus(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := a.Supervisor.Breaker().Stats()
			a.Logger.Info("Dispatcher status",
				logging.Int("live_workers", a.Supervisor.Live()),
				logging.Int("desired_workers", a.Properties.NumThreads()),
				logging.String("breaker_state", stats.State),
				logging.Int("connect_failures", stats.Failures),
			)
		}
	}
}
