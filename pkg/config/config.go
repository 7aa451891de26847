package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development" validate:"required,oneof=development test staging production"`
	Server      ServerConfig     `yaml:"server"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Logging     LoggingConfig    `yaml:"logging"`
	Ephemeris   EphemerisConfig  `yaml:"ephemeris"`
	Cache       CacheConfig      `yaml:"cache"`
	Chart       ChartConfig      `yaml:"chart"`
	Search      SearchConfig     `yaml:"search"`
	RateLimit   RateLimitConfig  `yaml:"rate_limit"`
	Storage     StorageConfig    `yaml:"storage"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	Queue       QueueConfig      `yaml:"queue"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"2m"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	CORS            bool          `yaml:"cors"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" default:"/metrics"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output string `yaml:"output" default:"stdout"`
	// Collect aggregates repeated error logs and ships them to Kafka.Topics.Logs.
	Collect         bool          `yaml:"collect"`
	CollectInterval time.Duration `yaml:"collect_interval" default:"30s"`
}

type EphemerisConfig struct {
	BaseURL string        `yaml:"base_url" default:"http://localhost:8000" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" default:"10s" validate:"gt=0"`
	Retries int           `yaml:"retries" default:"2" validate:"gte=0,lte=10"`
}

type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" default:"true"`
	TTL       time.Duration `yaml:"ttl" default:"24h"`
	MaxSize   int           `yaml:"max_size" default:"50000" validate:"gt=0"`
	MemoryTTL time.Duration `yaml:"memory_ttl" default:"10m"`
	Redis     RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size" default:"10"`
}

type AspectConfig struct {
	Kind string  `yaml:"kind" validate:"required"`
	Orb  float64 `yaml:"orb" validate:"gte=0"`
}

type ChartConfig struct {
	// Points tracked in every chart; empty means the default set.
	Points       []string `yaml:"points"`
	AspectBodies []string `yaml:"aspect_bodies"`
	HouseSystem  string   `yaml:"house_system" default:"placidus" validate:"oneof=placidus koch whole_sign equal regiomontanus"`
	// Aspects replaces the default table when non-empty.
	Aspects []AspectConfig `yaml:"aspects" validate:"dive"`
}

type SearchConfig struct {
	Body          string        `yaml:"body" default:"Moon" validate:"required"`
	Step          time.Duration `yaml:"step" default:"24h" validate:"gte=1m"`
	MaxOrb        float64       `yaml:"max_orb" default:"1" validate:"gt=0,lte=30"`
	MaxWindow     time.Duration `yaml:"max_window" default:"87600h" validate:"gt=0"`
	Timeout       time.Duration `yaml:"timeout" default:"60s" validate:"gt=0"`
	AllowFallback bool          `yaml:"allow_fallback"`
	LogEvery      int           `yaml:"log_every" default:"30" validate:"gte=0"`
}

type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Limit   int           `yaml:"limit" default:"60" validate:"gt=0"`
	Window  time.Duration `yaml:"window" default:"1m" validate:"gt=0"`
}

type StorageConfig struct {
	Type string `yaml:"type" default:"memory" validate:"oneof=memory clickhouse"`
}

type KafkaConfig struct {
	Enabled      bool        `yaml:"enabled"`
	Brokers      []string    `yaml:"brokers" validate:"required_if=Enabled true"`
	RequiredAcks int         `yaml:"required_acks" default:"-1"`
	Compression  string      `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
	Topics       KafkaTopics `yaml:"topics"`
	Producer     struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		Linger       time.Duration `yaml:"linger" default:"50ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID    string        `yaml:"group_id" default:"astrocal-search"`
		Workers    int           `yaml:"workers" default:"2" validate:"gt=0"`
		BufferSize int           `yaml:"buffer_size" default:"16"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
		DLQTopic   string        `yaml:"dlq_topic"`
		MinBytes   int           `yaml:"min_bytes" default:"1"`
		MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
		MaxPayload int           `yaml:"max_payload" default:"65536"`
	} `yaml:"consumer"`
}

type KafkaTopics struct {
	SearchJobs string `yaml:"search_jobs" default:"astrocal.search.jobs"`
	Events     string `yaml:"events" default:"astrocal.conjunction.events"`
	Logs       string `yaml:"logs" default:"astrocal.logs"`
}

// QueueConfig enables the Redis job queue, an alternative intake for search
// jobs that reuses the cache.redis connection settings.
type QueueConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Prefix     string        `yaml:"prefix" default:"astrocal:queue"`
	Workers    int           `yaml:"workers" default:"2" validate:"gt=0"`
	RetryLimit int           `yaml:"retry_limit" default:"3" validate:"gte=0"`
	RetryDelay time.Duration `yaml:"retry_delay" default:"10s"`
}

type ClickHouseConfig struct {
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"astrocal"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	InitSchema       bool          `yaml:"init_schema"`
}

var validate = validator.New()

// Default returns a configuration populated only from struct defaults.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// LoadWithEnv loads config from YAML and overrides it with ASTROCAL_*
// environment variables. An empty path starts from defaults.
func LoadWithEnv(path string) (*Config, error) {
	var (
		c   *Config
		err error
	)
	if path == "" {
		c = Default()
	} else if c, err = Load(path); err != nil {
		return nil, err
	}

	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = splitList(v)
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("ASTROCAL_ENV", &c.Environment)
	num("ASTROCAL_HTTP_PORT", &c.Server.Port)
	str("ASTROCAL_LOG_LEVEL", &c.Logging.Level)
	str("ASTROCAL_EPHEMERIS_URL", &c.Ephemeris.BaseURL)
	flag("ASTROCAL_REDIS_ENABLED", &c.Cache.Redis.Enabled)
	str("ASTROCAL_REDIS_HOST", &c.Cache.Redis.Host)
	num("ASTROCAL_REDIS_PORT", &c.Cache.Redis.Port)
	str("ASTROCAL_REDIS_PASSWORD", &c.Cache.Redis.Password)
	str("ASTROCAL_STORAGE", &c.Storage.Type)
	flag("ASTROCAL_KAFKA_ENABLED", &c.Kafka.Enabled)
	list("ASTROCAL_KAFKA_BROKERS", &c.Kafka.Brokers)
	str("ASTROCAL_CLICKHOUSE_HOST", &c.ClickHouse.Host)
	num("ASTROCAL_CLICKHOUSE_PORT", &c.ClickHouse.Port)
	str("ASTROCAL_CLICKHOUSE_PASSWORD", &c.ClickHouse.Password)
	flag("ASTROCAL_SEARCH_FALLBACK", &c.Search.AllowFallback)
	flag("ASTROCAL_QUEUE_ENABLED", &c.Queue.Enabled)

	return errors.Join(errs...)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Search.Step > c.Search.MaxWindow {
		return fmt.Errorf("search.step %s exceeds search.max_window %s", c.Search.Step, c.Search.MaxWindow)
	}
	if c.Queue.Enabled && !c.Cache.Redis.Enabled {
		return fmt.Errorf("queue.enabled requires cache.redis.enabled")
	}
	if c.Storage.Type == "clickhouse" && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required when storage.type is clickhouse")
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
