// Package config loads the control plane's configuration from a YAML file
// and environment variables, with defaults for every field. Ported from the
// teacher's nested-mapstructure/viper loading style.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for every autoscalectl subcommand.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Store          StoreConfig          `mapstructure:"store"`
	Lock           LockConfig           `mapstructure:"lock"`
	Scheduler      SchedulerConfig      `mapstructure:"scheduler"`
	Worker         WorkerConfig         `mapstructure:"worker"`
	ServiceCatalog ServiceCatalogConfig `mapstructure:"service_catalog"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	Log            LogConfig            `mapstructure:"log"`
}

// ServerConfig holds the HTTP API's listener and timeout settings.
type ServerConfig struct {
	Port                    int           `mapstructure:"port"`
	Host                    string        `mapstructure:"host"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`

	// CapabilityRateLimitRPS and CapabilityRateLimitBurst bound how often
	// any single capability URL's hash may trigger /v1/execute/{hash}: the
	// endpoint is anonymous by design, so it is the one route a leaked or
	// guessed hash could be used to hammer.
	CapabilityRateLimitRPS   float64 `mapstructure:"capability_rate_limit_rps"`
	CapabilityRateLimitBurst int     `mapstructure:"capability_rate_limit_burst"`
}

// StoreBackend names a core.Store implementation.
type StoreBackend string

const (
	StoreBackendSQLite   StoreBackend = "sqlite"
	StoreBackendPostgres StoreBackend = "postgres"
)

// StoreConfig selects and configures the durable data plane backend. Only
// the fields relevant to the chosen Backend need to be set.
type StoreConfig struct {
	Backend StoreBackend `mapstructure:"backend"`

	SQLitePath string `mapstructure:"sqlite_path"`

	PostgresDSN      string `mapstructure:"postgres_dsn"`
	PostgresMaxConns int32  `mapstructure:"postgres_max_conns"`
	PostgresMinConns int32  `mapstructure:"postgres_min_conns"`
}

// LockBackend names a core.LockService implementation.
type LockBackend string

const (
	LockBackendDB    LockBackend = "db"
	LockBackendRedis LockBackend = "redis"
)

// LockConfig configures the mutual-exclusion primitive modify_state and the
// scheduler's drain loop are built on.
type LockConfig struct {
	Backend LockBackend `mapstructure:"backend"`

	// TTL is loaded from lock.ttl but not read by the lock users: the group
	// facade's modify_state lock uses its own fixed 30s TTL.
	TTL time.Duration `mapstructure:"ttl"`

	// MaxRetries is loaded from lock.max_retries but not read by the lock
	// users: group-level modify_state calls use a fixed budget of 5 retries,
	// and the scheduler's own "schedule" singleton lock always uses 0; see
	// internal/group and internal/scheduler.
	MaxRetries int `mapstructure:"max_retries"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisKeyPrefix string `mapstructure:"redis_key_prefix"`
}

// SchedulerConfig configures the periodic schedule-event drain loop.
type SchedulerConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	BatchSize int           `mapstructure:"batch_size"`
	Interval  time.Duration `mapstructure:"interval"`
}

// WorkerConfig configures the launch/delete pipelines.
type WorkerConfig struct {
	Region       string        `mapstructure:"region"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`

	// ComputeRequestTimeout and LoadBalancerRequestTimeout bound a single
	// request to the compute/load-balancer REST APIs (internal/computeclient,
	// internal/lbclient) — distinct from PollTimeout, which bounds the whole
	// poll-until-ACTIVE loop across many requests.
	ComputeRequestTimeout      time.Duration `mapstructure:"compute_request_timeout"`
	LoadBalancerRequestTimeout time.Duration `mapstructure:"load_balancer_request_timeout"`
}

// ServiceCatalogConfig configures (service, region) -> endpoint discovery.
type ServiceCatalogConfig struct {
	Namespace       string        `mapstructure:"namespace"`
	LabelSelector   string        `mapstructure:"label_selector"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	CacheSize       int           `mapstructure:"cache_size"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Port      int    `mapstructure:"port"`
	Namespace string `mapstructure:"namespace"`

	// AdminRefreshInterval is how often the admin metrics collector
	// (internal/admin) re-reads Store.GlobalCounts and republishes the
	// autoscale_admin_* gauges. Zero disables the collector.
	AdminRefreshInterval time.Duration `mapstructure:"admin_refresh_interval"`
}

// LogConfig configures structured logging, including optional file
// rotation via gopkg.in/natefinch/lumberjack.v2.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// LoadConfig loads configuration from configPath (if non-empty) layered
// under environment variables and defaults.
func LoadConfig(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigFromEnv loads configuration from environment variables and
// defaults only, skipping any config file.
func LoadConfigFromEnv() (*Config, error) {
	return LoadConfig("")
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown_timeout", "30s")
	viper.SetDefault("server.capability_rate_limit_rps", 1.0)
	viper.SetDefault("server.capability_rate_limit_burst", 5)

	viper.SetDefault("store.backend", "postgres")
	viper.SetDefault("store.sqlite_path", "/data/autoscale.db")
	viper.SetDefault("store.postgres_dsn", "")
	viper.SetDefault("store.postgres_max_conns", 25)
	viper.SetDefault("store.postgres_min_conns", 5)

	viper.SetDefault("lock.backend", "db")
	viper.SetDefault("lock.ttl", "30s")
	viper.SetDefault("lock.max_retries", 5)
	viper.SetDefault("lock.redis_addr", "localhost:6379")
	viper.SetDefault("lock.redis_password", "")
	viper.SetDefault("lock.redis_db", 0)
	viper.SetDefault("lock.redis_key_prefix", "autoscale:lock:")

	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.batch_size", 100)
	viper.SetDefault("scheduler.interval", "10s")

	viper.SetDefault("worker.region", "DFW")
	viper.SetDefault("worker.poll_interval", "5s")
	viper.SetDefault("worker.poll_timeout", "1h")
	viper.SetDefault("worker.compute_request_timeout", "30s")
	viper.SetDefault("worker.load_balancer_request_timeout", "30s")

	viper.SetDefault("service_catalog.namespace", "default")
	viper.SetDefault("service_catalog.label_selector", "autoscale.io/service-catalog=true")
	viper.SetDefault("service_catalog.refresh_interval", "5m")
	viper.SetDefault("service_catalog.cache_size", 256)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.namespace", "autoscale")
	viper.SetDefault("metrics.admin_refresh_interval", "1m")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.filename", "")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	switch c.Store.Backend {
	case StoreBackendSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite backend requires store.sqlite_path")
		}
	case StoreBackendPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("postgres backend requires store.postgres_dsn")
		}
	default:
		return fmt.Errorf("invalid store backend: %s (must be 'sqlite' or 'postgres')", c.Store.Backend)
	}

	switch c.Lock.Backend {
	case LockBackendDB:
	case LockBackendRedis:
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("redis lock backend requires lock.redis_addr")
		}
	default:
		return fmt.Errorf("invalid lock backend: %s (must be 'db' or 'redis')", c.Lock.Backend)
	}

	if c.Scheduler.Enabled && c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler.batch_size must be positive when the scheduler is enabled")
	}
	if c.Worker.Region == "" {
		return fmt.Errorf("worker region cannot be empty")
	}
	if c.Log.Level == "" {
		return fmt.Errorf("log level cannot be empty")
	}

	return nil
}

// GetPostgresDSN returns the configured Postgres DSN, which is empty unless
// the postgres backend is selected.
func (c *Config) GetPostgresDSN() string {
	return c.Store.PostgresDSN
}

// IsDevelopment reports whether the configured log level suggests a
// non-production deployment.
func (c *Config) IsDevelopment() bool {
	return c.Log.Level == "debug"
}
