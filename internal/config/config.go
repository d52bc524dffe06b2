package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Routing        RoutingConfig
	Dispatch       DispatchConfig
	Dedup          DedupConfig
	Invoker        InvokerConfig
	Scheduler      SchedulerConfig
	Replay         ReplayConfig
	Trigger        TriggerConfig
	Webhook        WebhookConfig
	CircuitBreaker CircuitBreakerConfig
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig
	Redis         RedisConfig
	MongoDB       MongoDBConfig
	RunMigrations bool `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers    []string `mapstructure:"brokers"`
	GroupID    string   `mapstructure:"group_id"`
	InputTopic string   `mapstructure:"input_topic"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RoutingConfig points at the routing document; the document itself is
// parsed by internal/routing and reloaded on the given interval.
type RoutingConfig struct {
	ConfigFile            string `mapstructure:"config_file"`
	ReloadIntervalSeconds int    `mapstructure:"reload_interval_seconds"`
}

type DispatchConfig struct {
	MaxAttempts int         `mapstructure:"max_attempts"`
	Retry       RetryConfig `mapstructure:"retry"`
}

// DedupConfig controls the idempotency ledger. TTL zero keeps records
// forever; purging is a housekeeping concern outside the dispatch path.
type DedupConfig struct {
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

type RetryConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type InvokerConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	TimeoutSeconds      time.Duration `mapstructure:"timeout_seconds"`
	PollIntervalSeconds time.Duration `mapstructure:"poll_interval_seconds"`
	PollTimeoutSeconds  time.Duration `mapstructure:"poll_timeout_seconds"`
}

type SchedulerConfig struct {
	Pipeline         string        `mapstructure:"pipeline"`
	ResourceID       string        `mapstructure:"resource_id"`
	IntervalSeconds  time.Duration `mapstructure:"interval_seconds"`
	JitterMaxSeconds time.Duration `mapstructure:"jitter_max_seconds"`
	LeaseSeconds     time.Duration `mapstructure:"lease_seconds"`
	DateFormat       string        `mapstructure:"date_format"`
}

// ReplayConfig controls the dead-letter replayer. MaxAttempts caps
// resubmissions per entry, counted apart from the dispatch attempts
// that dead-lettered it.
type ReplayConfig struct {
	IntervalSeconds int  `mapstructure:"interval_seconds"`
	MaxAttempts     int  `mapstructure:"max_attempts"`
	BatchSize       int  `mapstructure:"batch_size"`
	DryRun          bool `mapstructure:"dry_run"`
}

type TriggerConfig struct {
	SharedSecret string          `mapstructure:"shared_secret"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type WebhookConfig struct {
	URL            string        `mapstructure:"url"`
	TimeoutSeconds time.Duration `mapstructure:"timeout_seconds"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
