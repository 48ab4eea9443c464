package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Sentry   SentryConfig   `mapstructure:"sentry"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Mail     MailConfig     `mapstructure:"mail"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Poke     PokeConfig     `mapstructure:"poke"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	EnableSwagger   bool          `mapstructure:"enable_swagger"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres | sqlite
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

type SentryConfig struct {
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	Release     string  `mapstructure:"release"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// MailConfig 邮件发送管线配置
type MailConfig struct {
	// Layers 装饰器顺序（由内到外），默认 retry -> chunk -> breaker
	Layers    []string       `mapstructure:"layers"`
	Primary   ProviderConfig `mapstructure:"primary"`
	Secondary ProviderConfig `mapstructure:"secondary"`
}

// ProviderConfig 单个邮件服务商配置
type ProviderConfig struct {
	Name                   string        `mapstructure:"name"`
	Kind                   string        `mapstructure:"kind"` // http | log
	Endpoint               string        `mapstructure:"endpoint"`
	APIKey                 string        `mapstructure:"api_key"`
	From                   string        `mapstructure:"from"`
	Timeout                time.Duration `mapstructure:"timeout"`
	RatePerSecond          float64       `mapstructure:"rate_per_second"`
	MaxAttempts            int           `mapstructure:"max_attempts"`
	WaitBetweenAttempts    time.Duration `mapstructure:"wait_between_attempts"`
	MaxBatchSize           int           `mapstructure:"max_batch_size"`
	QuotaExceededSignature string        `mapstructure:"quota_exceeded_signature"`
	Breaker                BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	MaxRequests         uint32        `mapstructure:"max_requests"`
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
	FailureRatio        float64       `mapstructure:"failure_ratio"`
	MinRequests         uint32        `mapstructure:"min_requests"`
	QuotaReset          string        `mapstructure:"quota_reset"` // next_utc_day | manual
}

// OutboxConfig outbox 投递与补偿扫描配置
type OutboxConfig struct {
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
	SoftLockTTLMinutes   int `mapstructure:"soft_lock_ttl_minutes"`
	SweepBatchSize       int `mapstructure:"sweep_batch_size"`
	MaxDeliveryAttempts  int `mapstructure:"max_delivery_attempts"`
	DispatchWorkers      int `mapstructure:"dispatch_workers"`
	DispatchQueueSize    int `mapstructure:"dispatch_queue_size"`
}

func (c OutboxConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c OutboxConfig) SoftLockTTL() time.Duration {
	return time.Duration(c.SoftLockTTLMinutes) * time.Minute
}

// PokeConfig 戳一戳限流配置
type PokeConfig struct {
	WindowMinutes int    `mapstructure:"window_minutes"`
	MaxSendable   int    `mapstructure:"max_sendable"`
	Store         string `mapstructure:"store"` // database | redis
}

func (c PokeConfig) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

// Load 加载配置：config/config.yaml -> CONFIG_FILE -> 环境变量（GATHERLY_ 前缀）
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("GATHERLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查关键配置
func (c *Config) Validate() error {
	if c.Mail.Primary.Name == "" || c.Mail.Secondary.Name == "" {
		return fmt.Errorf("mail: primary and secondary provider names are required")
	}
	if c.Mail.Primary.Name == c.Mail.Secondary.Name {
		return fmt.Errorf("mail: primary and secondary must be different providers, got %q", c.Mail.Primary.Name)
	}
	for _, p := range []ProviderConfig{c.Mail.Primary, c.Mail.Secondary} {
		if p.MaxAttempts < 1 {
			return fmt.Errorf("mail.%s: max_attempts must be >= 1", p.Name)
		}
		if p.MaxBatchSize < 1 {
			return fmt.Errorf("mail.%s: max_batch_size must be >= 1", p.Name)
		}
		switch p.Breaker.QuotaReset {
		case "", "next_utc_day", "manual":
		default:
			return fmt.Errorf("mail.%s: unknown breaker.quota_reset %q", p.Name, p.Breaker.QuotaReset)
		}
	}
	switch c.Poke.Store {
	case "", "database", "redis":
	default:
		return fmt.Errorf("poke: unknown store %q", c.Poke.Store)
	}
	if c.Poke.MaxSendable < 1 || c.Poke.WindowMinutes < 1 {
		return fmt.Errorf("poke: window_minutes and max_sendable must be positive")
	}
	if c.Outbox.SweepIntervalSeconds < 1 || c.Outbox.SoftLockTTLMinutes < 1 {
		return fmt.Errorf("outbox: sweep_interval_seconds and soft_lock_ttl_minutes must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.enable_swagger", true)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=gatherly port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("sentry.sample_rate", 1.0)

	v.SetDefault("tracing.service_name", "gatherly")
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("mail.layers", []string{"retry", "chunk", "breaker"})
	for _, p := range []string{"primary", "secondary"} {
		v.SetDefault("mail."+p+".kind", "log")
		v.SetDefault("mail."+p+".timeout", 10*time.Second)
		v.SetDefault("mail."+p+".rate_per_second", 10.0)
		v.SetDefault("mail."+p+".max_attempts", 3)
		v.SetDefault("mail."+p+".wait_between_attempts", 2*time.Second)
		v.SetDefault("mail."+p+".max_batch_size", 50)
		v.SetDefault("mail."+p+".breaker.max_requests", 1)
		v.SetDefault("mail."+p+".breaker.interval", time.Minute)
		v.SetDefault("mail."+p+".breaker.timeout", 30*time.Second)
		v.SetDefault("mail."+p+".breaker.consecutive_failures", 5)
		v.SetDefault("mail."+p+".breaker.failure_ratio", 0.5)
		v.SetDefault("mail."+p+".breaker.min_requests", 10)
		v.SetDefault("mail."+p+".breaker.quota_reset", "next_utc_day")
	}
	v.SetDefault("mail.primary.name", "primary")
	v.SetDefault("mail.secondary.name", "secondary")

	v.SetDefault("outbox.sweep_interval_seconds", 60)
	v.SetDefault("outbox.soft_lock_ttl_minutes", 5)
	v.SetDefault("outbox.sweep_batch_size", 100)
	v.SetDefault("outbox.max_delivery_attempts", 10)
	v.SetDefault("outbox.dispatch_workers", 4)
	v.SetDefault("outbox.dispatch_queue_size", 1024)

	v.SetDefault("poke.window_minutes", 30)
	v.SetDefault("poke.max_sendable", 10)
	v.SetDefault("poke.store", "database")
}
