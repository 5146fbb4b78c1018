package di

import (
	"context"
	"fmt"
	"time"

	"ForeCrypt/internal/domain/models"
	"ForeCrypt/internal/domain/repository"
	"ForeCrypt/internal/handler/api"
	"ForeCrypt/internal/handler/ws"
	"ForeCrypt/internal/middleware"
	internalrepo "ForeCrypt/internal/repository"
	"ForeCrypt/internal/service/cryptocompare"
	"ForeCrypt/internal/service/polygon"
	"ForeCrypt/internal/service/ratelimit"
	"ForeCrypt/internal/services/algorithms"
	"ForeCrypt/internal/usecase"
	"ForeCrypt/pkg/cache"
	pkgch "ForeCrypt/pkg/clickhouse"
	"ForeCrypt/pkg/config"
	xhttp "ForeCrypt/pkg/http"
	pkgkafka "ForeCrypt/pkg/kafka"
	applogger "ForeCrypt/pkg/logger"
	"ForeCrypt/pkg/metrics"
	pkgpg "ForeCrypt/pkg/postgres"
	"ForeCrypt/pkg/queue"
	"ForeCrypt/pkg/server"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/segmentio/kafka-go"
)

const schemaTimeout = 10 * time.Second

// Stores groups the relational repositories. Postgres is nil for the memory backend.
type Stores struct {
	Historical repository.HistoricalStore
	Forecasts  repository.ForecastStore
	Training   repository.TrainingLog
	States     repository.StateStore
	Postgres   *pkgpg.Client
}

// ProvideLogger builds the process logger from the logger section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
	})
}

// ProvideRegistry creates the Prometheus registry served on the metrics path.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	pkgkafka.SetConsumerMetricsRegisterer(reg)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.New(reg)
}

// ProvideStores opens PostgreSQL and applies the schema, or falls back to memory.
func ProvideStores(cfg *config.Config, l *applogger.Logger) (Stores, error) {
	if cfg.Storage.Backend == "memory" {
		mem := internalrepo.NewMemoryStore()
		return Stores{Historical: mem, Forecasts: mem, Training: mem, States: internalrepo.NewMemoryStateStore()}, nil
	}

	pg, err := pkgpg.NewClient(
		pkgpg.WithHost(cfg.Postgres.Host),
		pkgpg.WithPort(cfg.Postgres.Port),
		pkgpg.WithDatabase(cfg.Postgres.Database),
		pkgpg.WithCredentials(cfg.Postgres.User, cfg.Postgres.Password),
		pkgpg.WithSSLMode(cfg.Postgres.SSLMode),
		pkgpg.WithMaxConnections(cfg.Postgres.MaxConnections, cfg.Postgres.MaxConnections/2),
		pkgpg.WithSQLLogging(cfg.Postgres.LogSQL),
	)
	if err != nil {
		return Stores{}, fmt.Errorf("postgres client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	defer cancel()
	if err := pg.InitSchema(ctx, internalrepo.PostgresSchema()); err != nil {
		_ = pg.Close()
		return Stores{}, fmt.Errorf("postgres schema: %w", err)
	}

	store := internalrepo.NewPostgresStore(pg, l)
	return Stores{Historical: store, Forecasts: store, Training: store, States: store, Postgres: pg}, nil
}

// ProvideArtifactStore selects the model artifact backend.
func ProvideArtifactStore(cfg *config.Config) (repository.ArtifactStore, error) {
	switch cfg.Artifacts.Backend {
	case "memory":
		return internalrepo.NewMemoryArtifactStore(), nil
	case "s3":
		s3cfg := cfg.Artifacts.S3
		opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(s3cfg.Region)}
		if s3cfg.AccessKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(s3cfg.AccessKey, s3cfg.SecretKey, ""),
			))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
		if err != nil {
			return nil, fmt.Errorf("aws config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = s3cfg.UsePathStyle
			if s3cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(s3cfg.Endpoint)
			}
		})
		return internalrepo.NewS3ArtifactStore(client, s3cfg.Bucket, s3cfg.Prefix), nil
	default:
		store, err := internalrepo.NewFSArtifactStore(cfg.Artifacts.Dir)
		if err != nil {
			return nil, fmt.Errorf("artifact dir: %w", err)
		}
		return store, nil
	}
}

// ProvideRateLimiter creates the limiter shared by outbound API clients.
func ProvideRateLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

// ProvidePriceSource creates the upstream quote client.
func ProvidePriceSource(cfg *config.Config, lim *ratelimit.Limiter, l *applogger.Logger) repository.PriceSource {
	ps := cfg.PriceSource
	if ps.Provider == "polygon" {
		return polygon.New(ps.APIKey,
			polygon.WithQuote(cfg.Quote),
			polygon.WithRateLimit(lim, ps.Burst, ps.PerSec),
		)
	}
	opts := []cryptocompare.Option{
		cryptocompare.WithQuote(cfg.Quote),
		cryptocompare.WithRateLimit(lim, ps.Burst, ps.PerSec),
		cryptocompare.WithRetries(ps.Retries),
		cryptocompare.WithTimeout(ps.Timeout),
		cryptocompare.WithLogger(l),
	}
	if ps.BaseURL != "" {
		opts = append(opts, cryptocompare.WithBaseURL(ps.BaseURL))
	}
	return cryptocompare.New(ps.APIKey, opts...)
}

// ProvideAlgorithms registers the in-process model kinds plus the remote
// adapter, then checks every configured model resolves.
func ProvideAlgorithms(cfg *config.Config) (*algorithms.Registry, error) {
	reg := algorithms.Builtin()
	if cfg.RemoteModel.URL != "" {
		reg.Register(algorithms.NewRemote("remote", cfg.RemoteModel.URL, cfg.RemoteModel.Timeout))
	}
	if err := reg.Validate(cfg.Descriptors()); err != nil {
		return nil, fmt.Errorf("models: %w", err)
	}
	return reg, nil
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvidePublisher wraps the producer for forecasts, actuals and log digests.
func ProvidePublisher(producer *pkgkafka.Producer, cfg *config.Config) *internalrepo.KafkaForecastPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaForecastPublisher(producer, cfg.Kafka.ForecastTopic, cfg.Kafka.HistoricalTopic)
}

// ProvideLogCollector ships warn/error digests to logger.digest_topic.
func ProvideLogCollector(cfg *config.Config, pub *internalrepo.KafkaForecastPublisher, l *applogger.Logger) *applogger.Collector {
	if pub == nil || cfg.Logger.DigestTopic == "" {
		return nil
	}
	c := applogger.NewCollector(applogger.CollectorConfig{
		FlushInterval: time.Minute,
		Topic:         cfg.Logger.DigestTopic,
		Publisher:     pub,
	})
	l.AttachCollector(c)
	return c
}

// ProvideRedisCache connects to Redis, or returns nil when it is disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddress(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize),
		cache.WithRedisPrefix(cfg.Redis.KeyPrefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideSharedCache layers a process-local cache over Redis when available.
func ProvideSharedCache(cfg *config.Config, rc *cache.RedisCache) cache.Service {
	if rc == nil {
		return cache.NewMemoryCache()
	}
	return cache.NewLayeredCache(rc, cache.WithLayeredMemory(0, cfg.Redis.L1TTL))
}

// ProvideTickLocker returns the Redis lease, or nil for single-instance runs.
func ProvideTickLocker(rc *cache.RedisCache) repository.TickLocker {
	if rc == nil {
		return nil
	}
	return rc
}

// ProvideTickQueue returns nil unless Redis and the tick queue are enabled.
func ProvideTickQueue(cfg *config.Config, rc *cache.RedisCache, l *applogger.Logger) *queue.RedisQueue {
	if rc == nil || !cfg.Redis.TickQueue.Enabled {
		return nil
	}
	tq := cfg.Redis.TickQueue
	return queue.NewRedisQueue(l, rc.Client(), queue.Config{
		Workers:    tq.Workers,
		RetryLimit: tq.RetryLimit,
		RetryDelay: tq.RetryDelay,
	}, queue.WithKeyPrefix(tq.KeyPrefix))
}

func ProvideReportCache(c cache.Service, cfg *config.Config) *internalrepo.TickReportCache {
	return internalrepo.NewTickReportCache(c, cfg.Redis.ReportTTL)
}

func ProvideTickFeed(l *applogger.Logger) *ws.TickFeed {
	return ws.NewTickFeed(l)
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when the mirror is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	defer cancel()
	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddress(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if err := client.InitSchema(ctx, internalrepo.ClickHouseSchema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideMirrorPipeline fronts the ClickHouse mirror with a replay buffer.
func ProvideMirrorPipeline(ch *pkgch.Client, cfg *config.Config, m repository.Metrics, l *applogger.Logger) *middleware.MirrorPipeline {
	if ch == nil {
		return nil
	}
	p := middleware.NewMirrorPipeline(internalrepo.NewClickHouseMirror(ch, cfg.ClickHouse.Database, l), m,
		middleware.WithBufferSize(cfg.ClickHouse.ReplayBuffer),
		middleware.WithPipelineLogger(l),
	)
	p.Start(context.Background())
	return p
}

func ProvideMirror(p *middleware.MirrorPipeline) repository.ForecastMirror {
	if p == nil {
		return nil
	}
	return p
}

// ProvideKafkaConsumer creates the consumer that feeds the ClickHouse mirror.
// It is nil unless both Kafka and ClickHouse are enabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	cc := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cc.GroupID),
		pkgkafka.WithConsumerWorkers(cc.Workers),
		pkgkafka.WithConsumerBufferSize(cc.BufferSize),
		pkgkafka.WithConsumerRetry(cc.RetryMax, cc.BackoffMin, cc.BackoffMax),
		pkgkafka.WithConsumerDLQ(cc.DLQTopic),
		pkgkafka.WithConsumerFetch(cc.MinBytes, cc.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}

	hl := l.With(applogger.String("component", "mirror_consumer"))
	consumer.WithConsumerHook(pkgkafka.HookFuncs{
		Before: pkgkafka.SeriesHook,
		Err: func(ctx context.Context, topic string, km kafka.Message, err error) {
			hl.Warn("mirror message failed",
				applogger.String("topic", topic),
				applogger.String("series", pkgkafka.SeriesFrom(ctx)),
				applogger.Int("partition", km.Partition),
				applogger.Int64("offset", km.Offset),
				applogger.Error(err),
			)
		},
	})
	return consumer, nil
}

// ProvideMirrorHandlers binds the forecast and historical topics to the mirror.
func ProvideMirrorHandlers(cfg *config.Config, mirror repository.ForecastMirror, m repository.Metrics) []pkgkafka.MessageHandler {
	if mirror == nil {
		return nil
	}
	return []pkgkafka.MessageHandler{
		usecase.NewForecastMirrorHandler(cfg.Kafka.ForecastTopic, mirror, m),
		usecase.NewHistoricalMirrorHandler(cfg.Kafka.HistoricalTopic, mirror, m),
	}
}

// ProvideCycleScheduler assembles the tick pipeline.
func ProvideCycleScheduler(
	cfg *config.Config,
	stores Stores,
	artifacts repository.ArtifactStore,
	source repository.PriceSource,
	algos *algorithms.Registry,
	pub *internalrepo.KafkaForecastPublisher,
	locker repository.TickLocker,
	m repository.Metrics,
	reports *internalrepo.TickReportCache,
	feed *ws.TickFeed,
	l *applogger.Logger,
) *usecase.CycleScheduler {
	var publisher repository.ForecastPublisher
	if pub != nil {
		publisher = pub
	}
	descs := cfg.Descriptors()

	checker := usecase.NewConsistencyChecker(stores.Historical)
	dispatcher := usecase.NewModelDispatcher(algos, descs, artifacts, m, l)
	return usecase.NewCycleScheduler(usecase.CycleDeps{
		Series:      cfg.SeriesIDs(),
		Descriptors: descs,
		Acquisition: usecase.NewDataAcquisition(source, stores.Historical, checker, publisher, m, l),
		Checker:     checker,
		Dispatcher:  dispatcher,
		Builder:     usecase.NewForecastBuilder(dispatcher),
		States:      stores.States,
		Forecasts:   stores.Forecasts,
		Training:    stores.Training,
		Publisher:   publisher,
		Locker:      locker,
		Metrics:     m,
		Sinks:       []usecase.ReportSink{reports, feed},
		Logger:      l,
	}, usecase.SchedulerConfig{
		Workers:     cfg.Scheduler.Workers,
		TickTimeout: cfg.Scheduler.TickTimeout,
		FetchBuffer: cfg.FetchBuffer(),
		LeaseTTL:    cfg.Redis.LeaseTTL,
	})
}

func ProvideForecastsUseCase(cfg *config.Config, stores Stores, mirror repository.ForecastMirror) *usecase.ForecastsUseCase {
	return usecase.NewForecastsUseCase(stores.Forecasts, stores.Historical, stores.States, mirror,
		cfg.SeriesIDs(), cfg.Descriptors(), usecase.SystemClock{})
}

func ProvideMaintenance(cfg *config.Config, stores Stores, l *applogger.Logger) *usecase.MaintenanceUseCase {
	return usecase.NewMaintenanceUseCase(stores.Forecasts, cfg.Storage.ForecastRetention, usecase.SystemClock{}, l)
}

// ProvideHTTPServer builds the Echo server with the API, the tick feed and /metrics.
func ProvideHTTPServer(
	cfg *config.Config,
	l *applogger.Logger,
	reg *prometheus.Registry,
	uc *usecase.ForecastsUseCase,
	cycle *usecase.CycleScheduler,
	reports *internalrepo.TickReportCache,
	shared cache.Service,
	feed *ws.TickFeed,
	tickQueue *queue.RedisQueue,
) *xhttp.Server {
	handlerOpts := []api.ForecastHandlerOption{
		api.WithReports(reports),
		api.WithChartCache(shared, 5*time.Minute),
	}
	if tickQueue != nil {
		handlerOpts = append(handlerOpts, api.WithTickQueue(tickQueue))
	}
	apiHandler := api.NewForecastEchoHandler(l, uc, cycle, handlerOpts...)
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(l),
		xhttp.WithCORS(cfg.Server.CORSOrigins),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(cfg.Metrics.Path, reg))
	} else {
		opts = append(opts, xhttp.WithMetrics("", nil))
	}
	return xhttp.NewServer(xhttp.Handlers{apiHandler, feed}, opts...)
}

// ProvideApp collects the components and the resources released at shutdown.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	cycle *usecase.CycleScheduler,
	maintenance *usecase.MaintenanceUseCase,
	httpServer *xhttp.Server,
	feed *ws.TickFeed,
	consumer *pkgkafka.Consumer,
	handlers []pkgkafka.MessageHandler,
	stores Stores,
	shared cache.Service,
	pub *internalrepo.KafkaForecastPublisher,
	collector *applogger.Collector,
	ch *pkgch.Client,
	pipeline *middleware.MirrorPipeline,
	tickQueue *queue.RedisQueue,
) *server.App {
	var closers []server.Closer
	if stores.Postgres != nil {
		closers = append(closers, server.Closer{Name: "postgres", Close: stores.Postgres.Close})
	}
	if ch != nil {
		closers = append(closers, server.Closer{Name: "clickhouse", Close: ch.Close})
	}
	if pipeline != nil {
		closers = append(closers, server.Closer{Name: "mirror_pipeline", Close: pipeline.Stop})
	}
	closers = append(closers, server.Closer{Name: "cache", Close: shared.Close})
	if pub != nil {
		closers = append(closers, server.Closer{Name: "kafka_producer", Close: pub.Close})
	}
	if collector != nil {
		closers = append(closers, server.Closer{Name: "log_collector", Close: func() error {
			l.DetachCollector()
			collector.Close()
			return nil
		}})
	}

	l.Info("components ready",
		applogger.Strings("series", cfg.Series),
		applogger.Strings("models", modelNames(cfg.Descriptors())),
		applogger.String("storage", cfg.Storage.Backend),
		applogger.String("artifacts", cfg.Artifacts.Backend),
		applogger.Bool("kafka", cfg.Kafka.Enabled),
		applogger.Bool("clickhouse", cfg.ClickHouse.Enabled),
		applogger.Bool("redis", cfg.Redis.Enabled),
		applogger.Bool("tick_queue", tickQueue != nil),
	)

	return server.New(server.Components{
		Config:         cfg,
		Logger:         l,
		Cycle:          cycle,
		Maintenance:    maintenance,
		HTTP:           httpServer,
		Feed:           feed,
		Consumer:       consumer,
		MirrorHandlers: handlers,
		TickQueue:      tickQueue,
		Closers:        closers,
	})
}

func modelNames(descs []models.ModelDescriptor) []string {
	out := make([]string, len(descs))
	for i, d := range descs {
		out[i] = d.Name
	}
	return out
}
