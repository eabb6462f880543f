package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Mailbox        MailboxConfig        `mapstructure:"mailbox"`
	Deduplication  DeduplicationConfig  `mapstructure:"deduplication"`
	Analysis       AnalysisConfig       `mapstructure:"analysis"`
	Notifications  NotificationsConfig  `mapstructure:"notifications"`
	Broadcast      BroadcastConfig      `mapstructure:"broadcast"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig `mapstructure:"postgres"`
	Redis         RedisConfig    `mapstructure:"redis"`
	MongoDB       MongoDBConfig  `mapstructure:"mongodb"`
	RunMigrations bool           `mapstructure:"run_migrations"`
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
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// MailboxConfig describes the monitored IMAP mailbox. Credentials are opaque
// to the pipeline; the allow-list and subject filter gate which messages
// become reports.
type MailboxConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Folder         string        `mapstructure:"folder"`
	AllowedSenders []string      `mapstructure:"allowed_senders"`
	FilterExpr     string        `mapstructure:"filter_expr"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	Retry          RetryConfig   `mapstructure:"retry"`
}

type DeduplicationConfig struct {
	TTLSeconds   int    `mapstructure:"ttl_seconds"`
	OnRedisError string `mapstructure:"on_redis_error"` // "allow" admits on ledger outage, "deny" drops
}

type AnalysisConfig struct {
	URL         string        `mapstructure:"url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Retry       RetryConfig   `mapstructure:"retry"`
	RateLimit   float64       `mapstructure:"rate_limit"`
	RateBurst   int           `mapstructure:"rate_burst"`
	Temperature float64       `mapstructure:"temperature"`
}

type NotificationsConfig struct {
	Realtime       RealtimeChannelConfig  `mapstructure:"realtime"`
	Messaging      MessagingChannelConfig `mapstructure:"messaging"`
	SendTimeout    time.Duration          `mapstructure:"send_timeout"`
	MaxParallelism int                    `mapstructure:"max_parallelism"`
	Retry          RetryConfig            `mapstructure:"retry"`
}

type RealtimeChannelConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type MessagingChannelConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type BroadcastConfig struct {
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
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
	Enabled     bool       `mapstructure:"enabled"`
	ServiceName string     `mapstructure:"service_name"`
	OTLP        OTLPConfig `mapstructure:"otlp"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
