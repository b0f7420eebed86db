package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"OTCFeed/internal/middleware"
	"OTCFeed/internal/usecase"
	"OTCFeed/pkg/cache"
	pkgch "OTCFeed/pkg/clickhouse"
	"OTCFeed/pkg/config"
	xhttp "OTCFeed/pkg/http"
	pkgkafka "OTCFeed/pkg/kafka"
	applogger "OTCFeed/pkg/logger"
	"OTCFeed/pkg/scheduler"
)

const finalFlushTimeout = 5 * time.Second

// Deps are the long-lived components the App starts and stops. Producer,
// Consumer, Archiver and ClickHouse are nil when their backend is disabled.
type Deps struct {
	Config     *config.Config
	Logger     *applogger.Logger
	HTTP       *xhttp.Server
	Hub        *usecase.Hub
	Sources    *usecase.SourceManager
	Pipeline   *middleware.TickPipeline
	Scheduler  *scheduler.Scheduler
	Cache      *cache.FallbackCache
	Producer   *pkgkafka.Producer
	Consumer   *pkgkafka.Consumer
	Archiver   *usecase.KafkaTicksHandler
	ClickHouse *pkgch.Client
}

// App encapsulates the entire application lifecycle.
type App struct {
	d      Deps
	log    *applogger.Logger
	cancel context.CancelFunc
	flush  *scheduler.Task
}

// New creates a new App instance with all dependencies.
func New(d Deps) *App {
	if d.Logger == nil {
		d.Logger = applogger.Nop()
	}
	return &App{d: d, log: d.Logger.With(applogger.String("component", "app"))}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	if err := a.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.Shutdown(context.Background())
}

// Start launches every component without blocking.
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.d.Pipeline.Start(ctx)
	a.d.Sources.Start()

	if a.d.Consumer != nil && a.d.Archiver != nil {
		a.d.Consumer.RegisterHandler(a.d.Archiver)
		go func() {
			if err := a.d.Consumer.Start(); err != nil {
				a.log.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.flush = a.d.Scheduler.Every(a.d.Config.ClickHouse.BatchTimeout, a.d.Archiver.Flush)
		a.log.Info("archive consumer started", applogger.String("topic", a.d.Archiver.Topic()))
	}

	if err := a.d.HTTP.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	a.log.Info("started",
		applogger.String("env", a.d.Config.Environment),
		applogger.Int("port", a.d.Config.Server.Port),
		applogger.Bool("redis", a.d.Config.Redis.Enabled),
		applogger.Bool("kafka", a.d.Producer != nil),
		applogger.Bool("clickhouse", a.d.ClickHouse != nil))
	return nil
}

// Shutdown tells subscribers the server is going away, then stops sources,
// the HTTP server and the infrastructure clients in that order.
func (a *App) Shutdown(ctx context.Context) error {
	a.log.Info("shutting down")

	a.d.Hub.Drain()
	if err := a.d.HTTP.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	a.d.Sources.Shutdown()
	a.d.Pipeline.Stop()
	if a.cancel != nil {
		a.cancel()
	}

	if a.d.Consumer != nil {
		if err := a.d.Consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.flush != nil {
		a.flush.Stop()
	}
	if a.d.Archiver != nil {
		flushCtx, cancel := context.WithTimeout(ctx, finalFlushTimeout)
		a.d.Archiver.Flush(flushCtx)
		cancel()
	}
	a.d.Scheduler.Shutdown()

	// the collector publishes through the producer, so detach it first
	a.d.Logger.RemoveCollector()
	if a.d.Producer != nil {
		if err := a.d.Producer.Close(); err != nil {
			a.log.Warn("kafka producer close error", applogger.Error(err))
		}
	}
	if a.d.ClickHouse != nil {
		if err := a.d.ClickHouse.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if err := a.d.Cache.Close(); err != nil {
		a.log.Warn("cache close error", applogger.Error(err))
	}

	a.log.Info("shutdown complete")
	return nil
}
