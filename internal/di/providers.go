package di

import (
	"context"
	"fmt"
	"io"
	"time"

	"AstroCal/internal/domain/models"
	"AstroCal/internal/domain/repository"
	"AstroCal/internal/domain/service"
	"AstroCal/internal/handler/api"
	internalrepo "AstroCal/internal/repository"
	"AstroCal/internal/service/ratelimit"
	"AstroCal/internal/services/chart"
	"AstroCal/internal/services/ephemeris"
	"AstroCal/internal/services/progression"
	"AstroCal/internal/usecase"
	"AstroCal/pkg/cache"
	pkgch "AstroCal/pkg/clickhouse"
	"AstroCal/pkg/config"
	xhttp "AstroCal/pkg/http"
	"AstroCal/pkg/http/middleware"
	pkgkafka "AstroCal/pkg/kafka"
	applogger "AstroCal/pkg/logger"
	"AstroCal/pkg/metrics"
	"AstroCal/pkg/queue"
	"AstroCal/pkg/server"

	"github.com/labstack/echo/v4"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus recorder, or a no-op one when metrics are off.
func ProvideMetrics(cfg *config.Config) repository.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Noop{}
	}
	return metrics.New()
}

// ProvideRedisCache connects to Redis. Returns nil when Redis is disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Cache.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Cache.Redis.Host),
		cache.WithRedisPort(cfg.Cache.Redis.Port),
		cache.WithRedisPassword(cfg.Cache.Redis.Password),
		cache.WithRedisDB(cfg.Cache.Redis.DB),
		cache.WithRedisPool(cfg.Cache.Redis.PoolSize, cfg.Cache.Redis.PoolSize/2, 30*time.Second),
		cache.WithRedisPrefix("astrocal:eph"),
		cache.WithRedisTTL(cfg.Cache.TTL),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideCache picks the ephemeris cache: memory alone, or memory in front of
// Redis. Returns nil when caching is disabled.
func ProvideCache(cfg *config.Config, rc *cache.RedisCache) cache.Service {
	if !cfg.Cache.Enabled {
		return nil
	}
	if rc != nil {
		return cache.NewLayeredCache(rc,
			cache.WithLayeredMemorySize(cfg.Cache.MaxSize),
			cache.WithLayeredMemoryTTL(cfg.Cache.MemoryTTL),
		)
	}
	return cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Cache.MaxSize), cache.WithMemoryTTL(cfg.Cache.TTL))
}

// ProvideEphemerisProvider builds the HTTP provider, cached when a cache is configured.
func ProvideEphemerisProvider(cfg *config.Config, c cache.Service, m repository.Metrics, l *applogger.Logger) service.EphemerisProvider {
	upstream := ephemeris.NewHTTPProvider(cfg.Ephemeris.BaseURL, cfg.Ephemeris.Timeout, cfg.Ephemeris.Retries)
	if c == nil {
		return upstream
	}
	cp := ephemeris.NewCachedProvider(upstream, c,
		ephemeris.WithCacheTTL(cfg.Cache.TTL),
		ephemeris.WithCacheMetrics(m),
		// room for every retry of the shared upstream call
		ephemeris.WithCallTimeout(cfg.Ephemeris.Timeout*time.Duration(cfg.Ephemeris.Retries+1)),
	)
	cp.SetLogger(l)
	return cp
}

func ProvideAssembler(p service.EphemerisProvider, l *applogger.Logger) *chart.Assembler {
	a := chart.NewAssembler(p)
	a.SetLogger(l)
	return a
}

func ProvideCalculator(p service.EphemerisProvider) *progression.Calculator {
	return progression.NewCalculator(p)
}

// ProvideClickHouseClient connects to ClickHouse when it backs the chart store.
func ProvideClickHouseClient(cfg *config.Config, l *applogger.Logger) (*pkgch.Client, error) {
	if cfg.Storage.Type != "clickhouse" {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if !cfg.ClickHouse.InitSchema {
		return client, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, pkgch.Schema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	l.Info("clickhouse schema ready", applogger.String("database", cfg.ClickHouse.Database))
	return client, nil
}

// ProvideChartStore selects the chart store backend.
func ProvideChartStore(cfg *config.Config, ch *pkgch.Client, l *applogger.Logger) repository.ChartStore {
	if cfg.Storage.Type == "clickhouse" && ch != nil {
		s := internalrepo.NewCHChartStore(ch)
		s.SetLogger(l)
		return s
	}
	return internalrepo.NewMemoryChartStore()
}

// ProvideKafkaProducer creates a Kafka producer. Returns nil when Kafka is disabled.
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
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideEventPublisher publishes found events to Kafka when available.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.EventPublisher {
	if producer == nil {
		return internalrepo.NoopPublisher{}
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.Topics.Events)
}

// ProvideChartDefaults converts the chart section of the config.
func ProvideChartDefaults(cfg *config.Config) (usecase.ChartDefaults, error) {
	orbs := make([]models.AspectOrb, 0, len(cfg.Chart.Aspects))
	for _, a := range cfg.Chart.Aspects {
		orbs = append(orbs, models.AspectOrb{Kind: a.Kind, Orb: a.Orb})
	}
	table, err := models.AspectTableFrom(orbs)
	if err != nil {
		return usecase.ChartDefaults{}, fmt.Errorf("chart.aspects: %w", err)
	}
	points := make([]models.Body, 0, len(cfg.Chart.Points))
	for _, p := range cfg.Chart.Points {
		points = append(points, models.Body(p))
	}
	return usecase.ChartDefaults{
		Points:       points,
		AspectBodies: cfg.Chart.AspectBodies,
		HouseSystem:  models.HouseSystem(cfg.Chart.HouseSystem),
		Aspects:      table,
	}, nil
}

func ProvideChartUseCase(a *chart.Assembler, store repository.ChartStore, m repository.Metrics, defaults usecase.ChartDefaults, l *applogger.Logger) *usecase.ChartUseCase {
	u := usecase.NewChartUseCase(a, store, m, defaults)
	u.SetLogger(l)
	return u
}

// ProvideSearchDefaults converts the search section of the config.
func ProvideSearchDefaults(cfg *config.Config) (usecase.SearchDefaults, error) {
	body := models.Body(cfg.Search.Body)
	if _, ok := progression.MeanDailyMotion[body]; !ok {
		return usecase.SearchDefaults{}, models.NewConfigurationError("search.body", "%q cannot be progressed", body)
	}
	return usecase.SearchDefaults{
		Body:          body,
		Step:          cfg.Search.Step,
		MaxOrb:        cfg.Search.MaxOrb,
		MaxWindow:     cfg.Search.MaxWindow,
		Timeout:       cfg.Search.Timeout,
		AllowFallback: cfg.Search.AllowFallback,
		LogEvery:      cfg.Search.LogEvery,
	}, nil
}

func ProvideProgressionUseCase(
	charts *usecase.ChartUseCase,
	calc *progression.Calculator,
	store repository.ChartStore,
	pub repository.EventPublisher,
	m repository.Metrics,
	defaults usecase.SearchDefaults,
	l *applogger.Logger,
) *usecase.ProgressionUseCase {
	u := usecase.NewProgressionUseCase(charts, calc, store, pub, m, defaults)
	u.SetLogger(l)
	return u
}

func ProvideSearchHandler(cfg *config.Config, search *usecase.ProgressionUseCase, m repository.Metrics, l *applogger.Logger) *usecase.KafkaSearchHandler {
	h := usecase.NewKafkaSearchHandler(cfg.Kafka.Topics.SearchJobs, search, m)
	h.SetLogger(l)
	return h
}

// ProvideKafkaConsumer creates the search job consumer. Returns nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, h *usecase.KafkaSearchHandler, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.SetLogger(l)
	consumer.WithConsumerHook(pkgkafka.NewHookChain(
		pkgkafka.NewSizeLimitHook(cfg.Kafka.Consumer.MaxPayload),
		pkgkafka.NewLoggingHook(l),
	))
	consumer.RegisterHandler(h)
	return consumer, nil
}

// ProvideJobQueue creates the Redis search job queue. Returns nil unless enabled.
func ProvideJobQueue(cfg *config.Config, rc *cache.RedisCache, h *usecase.KafkaSearchHandler, l *applogger.Logger) *queue.RedisQueue {
	if !cfg.Queue.Enabled || rc == nil {
		return nil
	}
	return queue.NewRedisConsumer(rc.Client(), queue.Config{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	}, []queue.Job{usecase.NewQueueSearchJob(h)},
		queue.WithKeyPrefix(cfg.Queue.Prefix),
		queue.WithLogger(l),
	)
}

func ProvideRouter(store repository.ChartStore, charts *usecase.ChartUseCase, search *usecase.ProgressionUseCase, l *applogger.Logger) *api.Router {
	return api.NewRouter(store,
		api.NewChartsHandler(l, charts, search),
		api.NewProgressionsHandler(l, search),
	)
}

// ProvideHTTPServer builds the echo server with the configured middleware.
func ProvideHTTPServer(cfg *config.Config, router *api.Router, l *applogger.Logger) *xhttp.Server {
	var mws []echo.MiddlewareFunc
	if cfg.RateLimit.Enabled {
		mws = append(mws, middleware.RateLimit(ratelimit.New(cfg.RateLimit.Limit, cfg.RateLimit.Window)))
	}
	opts := []xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithLogger(l),
		xhttp.WithMiddleware(mws...),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(cfg.Metrics.Path))
	}
	return xhttp.NewServer(router, opts...)
}

// ProvideApp assembles the application and attaches the log collector when
// error logs should be shipped to Kafka.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	srv *xhttp.Server,
	consumer *pkgkafka.Consumer,
	jobs *queue.RedisQueue,
	store repository.ChartStore,
	pub repository.EventPublisher,
	producer *pkgkafka.Producer,
	c cache.Service,
	rc *cache.RedisCache,
	ch *pkgch.Client,
) *server.App {
	if cfg.Logging.Collect && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval: cfg.Logging.CollectInterval,
			Topic:        cfg.Kafka.Topics.Logs,
			Publisher:    producer,
		})
	}
	app := server.New(cfg, l, srv)
	if consumer != nil {
		app.AddWorker(consumer)
	}
	if jobs != nil {
		app.AddWorker(jobs)
	}
	app.AddCloser("chart store", store)
	// closes the producer as well
	app.AddCloser("event publisher", pub)
	if cl, ok := c.(io.Closer); ok {
		// a layered cache closes Redis too
		app.AddCloser("ephemeris cache", cl)
	} else if rc != nil {
		app.AddCloser("redis", rc)
	}
	if ch != nil {
		app.AddCloser("clickhouse", ch)
	}
	return app
}
