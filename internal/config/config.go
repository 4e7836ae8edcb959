package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Transport TransportConfig `mapstructure:"transport"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url" validate:"required,uri"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

// DeliveryConfig parameterizes the delivery policy service.
type DeliveryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	UnknownErrorCap int           `mapstructure:"unknown_error_cap"`
	BaseBackoff     time.Duration `mapstructure:"base_backoff"`
	ElevatedBackoff time.Duration `mapstructure:"elevated_backoff"`
	BackoffCap      time.Duration `mapstructure:"backoff_cap"`
	AttemptTimeout  time.Duration `mapstructure:"attempt_timeout"`
}

type SchedulerConfig struct {
	QueueKey     string        `mapstructure:"queue_key"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

type TransportConfig struct {
	Slack SlackConfig `mapstructure:"slack"`
	Email EmailConfig `mapstructure:"email"`
}

type SlackConfig struct {
	APIURL         string        `mapstructure:"api_url"`
	Token          string        `mapstructure:"token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	RateBurst      int           `mapstructure:"rate_burst"`
}

type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 10*time.Second)
	viper.SetDefault("server.write_timeout", 10*time.Second)
	viper.SetDefault("server.request_timeout", 30*time.Second)

	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("redis.url", "redis://localhost:6379/0")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 2)

	viper.SetDefault("delivery.max_attempts", 4)
	viper.SetDefault("delivery.unknown_error_cap", 10)
	viper.SetDefault("delivery.base_backoff", 2*time.Second)
	viper.SetDefault("delivery.elevated_backoff", 500*time.Millisecond)
	viper.SetDefault("delivery.backoff_cap", 30*time.Second)
	viper.SetDefault("delivery.attempt_timeout", 15*time.Second)

	viper.SetDefault("scheduler.queue_key", "notify:scheduler:jobs")
	viper.SetDefault("scheduler.poll_interval", time.Second)
	viper.SetDefault("scheduler.batch_size", 100)

	viper.SetDefault("transport.slack.api_url", "https://slack.com/api")
	viper.SetDefault("transport.slack.request_timeout", 10*time.Second)
	viper.SetDefault("transport.slack.rate_per_second", 1)
	viper.SetDefault("transport.slack.rate_burst", 5)
}

// WorkerConfig is the consumer process configuration, read from the
// environment.
type WorkerConfig struct {
	WorkerCount   int           `envconfig:"WORKER_COUNT" default:"4"`
	HealthPort    int           `envconfig:"HEALTH_PORT" default:"8081"`
	CatchUpPoll   time.Duration `envconfig:"CATCHUP_POLL_INTERVAL" default:"30s"`
	ShutdownGrace time.Duration `envconfig:"SHUTDOWN_GRACE" default:"15s"`
}

func LoadWorkerConfig() (*WorkerConfig, error) {
	var cfg WorkerConfig
	if err := envconfig.Process("notify", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process worker env config: %w", err)
	}
	return &cfg, nil
}
