package di

import (
	"context"
	"fmt"
	"time"

	"OTCFeed/internal/domain/models"
	"OTCFeed/internal/domain/repository"
	"OTCFeed/internal/handler/api"
	"OTCFeed/internal/handler/ws"
	mid "OTCFeed/internal/middleware"
	internalrepo "OTCFeed/internal/repository"
	"OTCFeed/internal/service/catalog"
	"OTCFeed/internal/service/markethours"
	"OTCFeed/internal/service/normalizer"
	"OTCFeed/internal/service/otc"
	"OTCFeed/internal/service/provider"
	"OTCFeed/internal/service/ratelimit"
	"OTCFeed/internal/service/upstream"
	"OTCFeed/internal/usecase"
	"OTCFeed/pkg/cache"
	pkgch "OTCFeed/pkg/clickhouse"
	"OTCFeed/pkg/config"
	xhttp "OTCFeed/pkg/http"
	pkgkafka "OTCFeed/pkg/kafka"
	applogger "OTCFeed/pkg/logger"
	"OTCFeed/pkg/metrics"
	"OTCFeed/pkg/scheduler"
	"OTCFeed/pkg/server"
)

const (
	schemaTimeout     = 10 * time.Second
	syntheticProvider = "synthetic"
)

// ProvideKafkaProducer creates the journal producer. It returns nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger builds the application logger. Repeated errors are folded and
// shipped to the logs topic when Kafka is on.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if producer != nil && cfg.Kafka.LogsTopic != "" {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval: time.Minute,
			Topic:        cfg.Kafka.LogsTopic,
			Publisher:    producer,
		})
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New()
}

func ProvideScheduler() *scheduler.Scheduler {
	return scheduler.New()
}

// ProvideCache builds the Redis cache with an in-memory fallback. Redis is
// dialed lazily, so an unreachable Redis degrades instead of failing boot.
func ProvideCache(cfg *config.Config, l *applogger.Logger) *cache.FallbackCache {
	memory := cache.NewMemoryCache(cache.WithMemoryMaxSize(10_000), cache.WithMemoryCleanup(time.Minute))
	if !cfg.Redis.Enabled {
		l.Info("redis disabled, using in-memory store")
		return cache.NewFallbackCache(nil, memory, l)
	}
	redis := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
		cache.WithRedisPool(20, 2),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := redis.Ping(ctx); err != nil {
		l.Warn("redis unreachable at startup", applogger.Error(err))
	}
	return cache.NewFallbackCache(redis, memory, l)
}

func ProvideTickStore(c *cache.FallbackCache, cfg *config.Config) *internalrepo.CacheTickStore {
	return internalrepo.NewCacheTickStore(c, cfg.Redis.HistoryLen, cfg.Redis.TTL)
}

// ProvideJournal returns nil when there is no producer.
func ProvideJournal(producer *pkgkafka.Producer, cfg *config.Config) repository.Publisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic)
}

// ProvideClickHouseClient connects and creates the tick schema. It returns nil
// when ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, false),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	defer cancel()
	if err := client.InitSchema(ctx, pkgch.TickSchema(client.Database())); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideArchive returns nil when there is no ClickHouse client.
func ProvideArchive(client *pkgch.Client, l *applogger.Logger) repository.Archive {
	if client == nil {
		return nil
	}
	return internalrepo.NewClickHouseArchive(client.DB(), client.Database(), l)
}

// ProvideKafkaConsumer creates the archive consumer. It returns nil unless
// both the consumer and the archive are enabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(l,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideKafkaTicksHandler returns nil when there is no archive to write to.
func ProvideKafkaTicksHandler(cfg *config.Config, archive repository.Archive, rec *metrics.Recorder, l *applogger.Logger) *usecase.KafkaTicksHandler {
	if archive == nil {
		return nil
	}
	return usecase.NewKafkaTicksHandler(cfg.Kafka.Topic, archive, cfg.ClickHouse.BatchSize, rec, l)
}

func ProvideCatalog(cfg *config.Config) *catalog.Catalog {
	return catalog.New(cfg.Instruments)
}

// ProvideEvaluator builds the market hours evaluator, with the exchange holiday
// calendar when one is configured.
func ProvideEvaluator(cfg *config.Config, l *applogger.Logger) (*markethours.Evaluator, error) {
	opts := []markethours.Option{markethours.WithLogger(l)}
	if mic := cfg.MarketHours.HolidayCalendar; mic != "" {
		cal, err := markethours.ExchangeCalendar(mic)
		if err != nil {
			return nil, fmt.Errorf("market hours: %w", err)
		}
		opts = append(opts, markethours.WithHolidays(cal))
	}
	return markethours.New(opts...), nil
}

func ProvideHub(rec *metrics.Recorder, l *applogger.Logger) *usecase.Hub {
	return usecase.NewHub(rec, l)
}

func ProvideTickProcessor(
	store *internalrepo.CacheTickStore,
	journal repository.Publisher,
	hub *usecase.Hub,
	rec *metrics.Recorder,
	l *applogger.Logger,
) *usecase.TickProcessor {
	return usecase.NewTickProcessor(store, store, journal, hub, rec, l)
}

// ProvideTickPipeline puts validation, staleness and throttling in front of the
// processor, and rounds prices to each instrument's precision.
func ProvideTickPipeline(proc *usecase.TickProcessor, rec *metrics.Recorder, cat *catalog.Catalog, cfg *config.Config) *mid.TickPipeline {
	return mid.NewTickPipeline(proc, rec,
		mid.WithMaxRPS(cfg.Pipeline.MaxRPS),
		mid.WithMaxTickAge(cfg.Pipeline.MaxTickAge),
		mid.WithBufferSize(2000),
		mid.WithTransform(normalizer.Precision(cat.Digits)),
	)
}

// syntheticEmitter normalizes engine output before it enters the pipeline.
// Ticks the normalizer rejects are counted and dropped.
func syntheticEmitter(sink usecase.TickSink, rec repository.Metrics) otc.EmitFunc {
	return func(t models.Tick) {
		t, err := normalizer.FromSynthetic(t)
		if err != nil {
			rec.RecordMalformed(syntheticProvider)
			return
		}
		_ = sink.Process(context.Background(), t)
	}
}

// ProvideRegistry builds the synthetic engine registry. Engines feed the same
// pipeline as upstream connectors.
func ProvideRegistry(sched *scheduler.Scheduler, pipe *mid.TickPipeline, rec *metrics.Recorder, cfg *config.Config, l *applogger.Logger) *otc.Registry {
	return otc.NewRegistry(sched, otc.NewConfigs(cfg.OTC.Categories), syntheticEmitter(pipe, rec), l)
}

func ProvideHTTPClient(cfg *config.Config) *xhttp.Client {
	return xhttp.NewClient(xhttp.WithTimeout(cfg.Upstream.RequestTimeout))
}

func ProvideTwelveDataREST(client *xhttp.Client, cfg *config.Config) *provider.TwelveDataREST {
	return provider.NewTwelveDataREST(client, cfg.Upstream.TwelveData.RestURL, cfg.Upstream.TwelveData.APIKey)
}

func ProvideBinanceREST(client *xhttp.Client, cfg *config.Config) *provider.BinanceREST {
	return provider.NewBinanceREST(client, cfg.Upstream.Binance.RestURL)
}

func ProvideUpstreamFactory(cfg *config.Config, rec *metrics.Recorder, l *applogger.Logger) *upstream.Factory {
	return upstream.NewFactory(cfg, upstream.Options{Logger: l, Metrics: rec})
}

// closeLookup returns nil when TwelveData has no API key.
func closeLookup(td *provider.TwelveDataREST) usecase.CloseLookup {
	if td == nil || !td.Configured() {
		return nil
	}
	return td
}

// ProvideSourceManager builds the manager and installs it as the hub's
// lifecycle listener.
func ProvideSourceManager(
	cfg *config.Config,
	cat *catalog.Catalog,
	eval *markethours.Evaluator,
	reg *otc.Registry,
	factory *upstream.Factory,
	sched *scheduler.Scheduler,
	pipe *mid.TickPipeline,
	store *internalrepo.CacheTickStore,
	proc *usecase.TickProcessor,
	td *provider.TwelveDataREST,
	hub *usecase.Hub,
	rec *metrics.Recorder,
	l *applogger.Logger,
) *usecase.SourceManager {
	m := usecase.NewSourceManager(usecase.SourceManagerConfig{
		Catalog:             cat,
		Evaluator:           eval,
		Registry:            reg,
		Factory:             factory,
		Cooldown:            ratelimit.NewCooldown(ratelimit.New(), cfg.Upstream.Cooldown),
		Scheduler:           sched,
		Sink:                pipe,
		Store:               store,
		Prices:              proc,
		Closes:              closeLookup(td),
		Metrics:             rec,
		Logger:              l,
		StatusCheckInterval: cfg.OTC.StatusCheckInterval,
	})
	hub.SetLifecycle(m)
	return m
}

func ProvideCandlesUseCase(
	cat *catalog.Catalog,
	eval *markethours.Evaluator,
	reg *otc.Registry,
	proc *usecase.TickProcessor,
	td *provider.TwelveDataREST,
	binance *provider.BinanceREST,
	archive repository.Archive,
	l *applogger.Logger,
) *usecase.CandlesUseCase {
	return usecase.NewCandlesUseCase(usecase.CandlesDeps{
		Catalog:   cat,
		Evaluator: eval,
		Registry:  reg,
		Prices:    proc,
		Closes:    closeLookup(td),
		Crypto:    binance,
		Market:    td,
		Archive:   archive,
		Logger:    l,
	})
}

func ProvideMarketHandler(
	candles *usecase.CandlesUseCase,
	manager *usecase.SourceManager,
	store *internalrepo.CacheTickStore,
	c *cache.FallbackCache,
	archive repository.Archive,
	cat *catalog.Catalog,
	hub *usecase.Hub,
	l *applogger.Logger,
) *api.MarketHandler {
	deps := api.MarketDeps{
		Candles:     candles,
		Status:      manager,
		Prices:      store,
		Catalog:     cat,
		Store:       c,
		Subscribers: hub.Len,
		Logger:      l,
	}
	if archive != nil {
		deps.Archive = archive
	}
	return api.NewMarketHandler(deps)
}

func ProvideWSHandler(cfg *config.Config, hub *usecase.Hub, manager *usecase.SourceManager, store *internalrepo.CacheTickStore, l *applogger.Logger) *ws.Handler {
	return ws.NewHandler(hub, manager, store, ws.Config{
		SendBuffer:   cfg.Server.SendBuffer,
		PingInterval: cfg.Server.PingInterval,
	}, l)
}

func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, market *api.MarketHandler, socket *ws.Handler) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(l, []xhttp.Handler{market, socket},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	httpServer *xhttp.Server,
	hub *usecase.Hub,
	manager *usecase.SourceManager,
	pipe *mid.TickPipeline,
	sched *scheduler.Scheduler,
	c *cache.FallbackCache,
	producer *pkgkafka.Producer,
	consumer *pkgkafka.Consumer,
	ticks *usecase.KafkaTicksHandler,
	chClient *pkgch.Client,
) *server.App {
	return server.New(server.Deps{
		Config:     cfg,
		Logger:     l,
		HTTP:       httpServer,
		Hub:        hub,
		Sources:    manager,
		Pipeline:   pipe,
		Scheduler:  sched,
		Cache:      c,
		Producer:   producer,
		Consumer:   consumer,
		Archiver:   ticks,
		ClickHouse: chClient,
	})
}
