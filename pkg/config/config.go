package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"ForeCrypt/internal/domain/models"
	"ForeCrypt/pkg/util"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ModelConfig is one entry of the models map. Interval fields are in hours.
type ModelConfig struct {
	Algorithm           string         `yaml:"algorithm"`
	TrainingDatasetSize int            `yaml:"training_dataset_size" validate:"gte=1"`
	ModelUpdateInterval int            `yaml:"model_update_interval" validate:"gte=1"`
	ForecastDatasetSize int            `yaml:"forecast_dataset_size" validate:"gte=1"`
	ForecastFrequency   int            `yaml:"forecast_frequency" validate:"gte=1"`
	ForecastHours       int            `yaml:"forecast_hours" validate:"gte=1"`
	SpecificParameters  map[string]any `yaml:"specific_parameters"`
}

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"20s"`
		// CORSOrigins lists dashboard origins allowed to call the API; empty disables CORS.
		CORSOrigins []string `yaml:"cors_origins" default:"[\"*\"]"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Logger struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
		// DigestTopic ships deduplicated warn/error digests through Kafka when set.
		DigestTopic string `yaml:"digest_topic"`
	} `yaml:"logger"`

	Series []string               `yaml:"series" validate:"required,min=1,dive,required"`
	Quote  string                 `yaml:"quote" default:"USD"`
	Models map[string]ModelConfig `yaml:"models" validate:"required,min=1,dive"`

	Scheduler struct {
		TickCron        string        `yaml:"tick_cron" default:"0 * * * *"`
		MaintenanceCron string        `yaml:"maintenance_cron" default:"0 0 * * *"`
		Workers         int           `yaml:"workers" default:"4" validate:"gte=1"`
		TickTimeout     time.Duration `yaml:"tick_timeout" default:"50m"`
		FetchBuffer     int           `yaml:"fetch_buffer_hours" default:"3" validate:"gte=0"`
		RunOnStart      bool          `yaml:"run_on_start"`
	} `yaml:"scheduler"`

	PriceSource struct {
		Provider string        `yaml:"provider" default:"cryptocompare" validate:"oneof=cryptocompare polygon"`
		APIKey   string        `yaml:"api_key"`
		BaseURL  string        `yaml:"base_url"`
		Timeout  time.Duration `yaml:"timeout" default:"30s"`
		Retries  uint64        `yaml:"retries" default:"3"`
		Burst    float64       `yaml:"rate_burst" default:"5"`
		PerSec   float64       `yaml:"rate_per_second" default:"2"`
	} `yaml:"price_source"`

	Storage struct {
		Backend           string        `yaml:"backend" default:"postgres" validate:"oneof=postgres memory"`
		ForecastRetention time.Duration `yaml:"forecast_retention"`
	} `yaml:"storage"`

	Postgres struct {
		Host           string `yaml:"host" default:"localhost"`
		Port           int    `yaml:"port" default:"5432"`
		Database       string `yaml:"database" default:"forecrypt"`
		User           string `yaml:"user" default:"postgres"`
		Password       string `yaml:"password"`
		SSLMode        string `yaml:"sslmode" default:"disable"`
		MaxConnections int    `yaml:"max_connections" default:"10"`
		LogSQL         bool   `yaml:"log_sql"`
	} `yaml:"postgres"`

	Artifacts struct {
		Backend string `yaml:"backend" default:"fs" validate:"oneof=fs s3 memory"`
		Dir     string `yaml:"dir" default:"./models"`
		S3      struct {
			Bucket       string `yaml:"bucket"`
			Prefix       string `yaml:"prefix" default:"models/"`
			Region       string `yaml:"region" default:"us-east-1"`
			Endpoint     string `yaml:"endpoint"`
			AccessKey    string `yaml:"access_key"`
			SecretKey    string `yaml:"secret_key"`
			UsePathStyle bool   `yaml:"use_path_style"`
		} `yaml:"s3"`
	} `yaml:"artifacts"`

	RemoteModel struct {
		URL     string        `yaml:"url"`
		Timeout time.Duration `yaml:"timeout" default:"60s"`
	} `yaml:"remote_model"`

	Kafka struct {
		Enabled         bool     `yaml:"enabled"`
		Brokers         []string `yaml:"brokers"`
		ForecastTopic   string   `yaml:"forecast_topic" default:"forecrypt.forecasts"`
		HistoricalTopic string   `yaml:"historical_topic" default:"forecrypt.historical"`
		RequiredAcks    int      `yaml:"required_acks" default:"-1"`
		Compression     string   `yaml:"compression" default:"snappy"`
		Producer        struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"500"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"forecrypt-mirror"`
			Workers    int           `yaml:"workers" default:"2"`
			BufferSize int           `yaml:"buffer_size" default:"1000"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`

	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"forecrypt"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
		ReplayBuffer     int           `yaml:"replay_buffer" default:"256"`
	} `yaml:"clickhouse"`

	Redis struct {
		Enabled   bool          `yaml:"enabled"`
		Host      string        `yaml:"host" default:"localhost"`
		Port      int           `yaml:"port" default:"6379"`
		Password  string        `yaml:"password"`
		DB        int           `yaml:"db"`
		PoolSize  int           `yaml:"pool_size" default:"10"`
		KeyPrefix string        `yaml:"key_prefix" default:"forecrypt"`
		LeaseTTL  time.Duration `yaml:"lease_ttl" default:"55m"`
		ReportTTL time.Duration `yaml:"report_ttl" default:"168h"`
		// L1TTL bounds how long a chart or report read from Redis is served locally.
		L1TTL time.Duration `yaml:"l1_ttl" default:"30s"`

		// TickQueue routes non-blocking tick triggers through a shared queue.
		TickQueue struct {
			Enabled    bool          `yaml:"enabled"`
			Workers    int           `yaml:"workers" default:"1"`
			RetryLimit int           `yaml:"retry_limit" default:"2"`
			RetryDelay time.Duration `yaml:"retry_delay" default:"30s"`
			KeyPrefix  string        `yaml:"key_prefix" default:"forecrypt:queue"`
		} `yaml:"tick_queue"`
	} `yaml:"redis"`
}

var validate = validator.New()

// Load reads a YAML configuration file, applies defaults and validates it.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse is Load for an in-memory document.
func Parse(b []byte) (*Config, error) {
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads .env (when present) and the YAML file, then applies
// FORECRYPT_* environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func decode(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv() {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		*dst = util.ParseIntDefault(os.Getenv(key), *dst)
	}
	list := func(key string, dst *[]string) {
		if v := os.Getenv(key); v != "" {
			*dst = util.SplitList(v)
		}
	}

	str("FORECRYPT_API_KEY", &c.PriceSource.APIKey)
	str("FORECRYPT_PRICE_PROVIDER", &c.PriceSource.Provider)
	list("FORECRYPT_CRYPTO_LIST", &c.Series)
	str("FORECRYPT_STORAGE_BACKEND", &c.Storage.Backend)

	str("FORECRYPT_PG_DB_HOST", &c.Postgres.Host)
	num("FORECRYPT_PG_DB_PORT", &c.Postgres.Port)
	str("FORECRYPT_PG_DB_NAME", &c.Postgres.Database)
	str("FORECRYPT_PG_DB_USER", &c.Postgres.User)
	str("FORECRYPT_PG_DB_PASSWORD", &c.Postgres.Password)

	str("FORECRYPT_CH_DB_HOST", &c.ClickHouse.Host)
	num("FORECRYPT_CH_DB_PORT", &c.ClickHouse.Port)
	str("FORECRYPT_CH_DB_NAME", &c.ClickHouse.Database)
	str("FORECRYPT_CH_DB_USER", &c.ClickHouse.User)
	str("FORECRYPT_CH_DB_PASSWORD", &c.ClickHouse.Password)

	list("FORECRYPT_KAFKA_BROKERS", &c.Kafka.Brokers)
	list("FORECRYPT_CORS_ORIGINS", &c.Server.CORSOrigins)
	str("FORECRYPT_REDIS_HOST", &c.Redis.Host)
	str("FORECRYPT_REDIS_PASSWORD", &c.Redis.Password)
	str("FORECRYPT_S3_ACCESS_KEY", &c.Artifacts.S3.AccessKey)
	str("FORECRYPT_S3_SECRET_KEY", &c.Artifacts.S3.SecretKey)
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Artifacts.Backend == "s3" && c.Artifacts.S3.Bucket == "" {
		return fmt.Errorf("artifacts.s3.bucket is required for the s3 backend")
	}
	if c.PriceSource.Provider == "polygon" && c.PriceSource.APIKey == "" {
		return fmt.Errorf("price_source.api_key is required for polygon")
	}
	seen := make(map[string]struct{}, len(c.Series))
	for _, s := range c.Series {
		if _, dup := seen[s]; dup {
			return fmt.Errorf("series %q listed twice", s)
		}
		seen[s] = struct{}{}
	}
	for name, m := range c.Models {
		if name == "" {
			return fmt.Errorf("models: empty model name")
		}
		if strings.Contains(name, "__") || strings.ContainsAny(name, "/\\") {
			return fmt.Errorf("models.%s: name may not contain '__' or path separators", name)
		}
		if m.Algorithm == "remote" && c.RemoteModel.URL == "" {
			return fmt.Errorf("models.%s: remote_model.url is required", name)
		}
	}
	return nil
}

// SeriesIDs returns the configured series in configuration order.
func (c *Config) SeriesIDs() []models.SeriesID {
	out := make([]models.SeriesID, len(c.Series))
	for i, s := range c.Series {
		out[i] = models.SeriesID(strings.ToUpper(s))
	}
	return out
}

// Descriptors turns the models map into descriptors sorted by name.
func (c *Config) Descriptors() []models.ModelDescriptor {
	names := make([]string, 0, len(c.Models))
	for name := range c.Models {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]models.ModelDescriptor, 0, len(names))
	for _, name := range names {
		m := c.Models[name]
		out = append(out, models.ModelDescriptor{
			Name:              name,
			Algorithm:         m.Algorithm,
			Params:            models.Params(m.SpecificParameters),
			TrainingSize:      m.TrainingDatasetSize,
			UpdateInterval:    time.Duration(m.ModelUpdateInterval) * time.Hour,
			ForecastInputSize: m.ForecastDatasetSize,
			ForecastFrequency: time.Duration(m.ForecastFrequency) * time.Hour,
			HorizonHours:      m.ForecastHours,
		})
	}
	return out
}

// FetchBuffer is scheduler.fetch_buffer_hours as a duration.
func (c *Config) FetchBuffer() time.Duration {
	return time.Duration(c.Scheduler.FetchBuffer) * time.Hour
}
