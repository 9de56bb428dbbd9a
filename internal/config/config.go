package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "PAYGATE"

type Config struct {
	App           AppConfig
	HTTP          HTTPConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	NATS          NATSConfig
	Scylla        ScyllaConfig
	Vault         VaultConfig
	Webhook       WebhookConfig
	Providers     ProvidersConfig
	Scheduler     SchedulerConfig
	Archive       ArchiveConfig
	Observability ObservabilityConfig

	plans *PlanCatalog
}

type AppConfig struct {
	Name        string
	Environment string
	NodeID      int64
}

type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	// Driver is one of postgres, mysql, sqlite.
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type NATSConfig struct {
	Enabled       bool
	URL           string
	SubjectPrefix string
	QueueGroup    string
}

type ScyllaConfig struct {
	Hosts       []string
	Keyspace    string
	Consistency string
	Timeout     time.Duration
}

type VaultConfig struct {
	AESKey string
}

type WebhookConfig struct {
	// LedgerBackend selects where the webhook event ledger lives: "sql" or "scylla".
	LedgerBackend      string
	Async              bool
	SignatureTolerance time.Duration
	MaxPayloadBytes    int64
}

type ProvidersConfig struct {
	Timeout      time.Duration
	MaxRetries   uint
	RetryBackoff time.Duration
	StripeAPIURL string
	XenditAPIURL string
}

type SchedulerConfig struct {
	SweepInterval  time.Duration
	SweepBatchSize int
	StuckAfter     time.Duration
	MaxAttempts    int
	LeaseTTL       time.Duration
	LeaseKey       string
}

type ArchiveConfig struct {
	Enabled         bool
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type ObservabilityConfig struct {
	LogLevel     string
	LogFormat    string
	OTLPEndpoint string
	OTLPInsecure bool
}

var defaults = map[string]any{
	"app.name":        "paygate",
	"app.environment": "development",
	"app.node_id":     1,

	"http.addr":             ":8080",
	"http.read_timeout":     "15s",
	"http.write_timeout":    "15s",
	"http.shutdown_timeout": "10s",

	"database.driver":            "postgres",
	"database.max_open_conns":    20,
	"database.max_idle_conns":    5,
	"database.conn_max_lifetime": "30m",

	"redis.addr": "localhost:6379",

	"nats.url":            "nats://localhost:4222",
	"nats.subject_prefix": "paygate",
	"nats.queue_group":    "paygate-reconcilers",

	"scylla.keyspace":    "paygate",
	"scylla.consistency": "quorum",
	"scylla.timeout":     "5s",

	"webhook.ledger_backend":      "sql",
	"webhook.signature_tolerance": "5m",
	"webhook.max_payload_bytes":   1 << 20,

	"providers.timeout":        "10s",
	"providers.max_retries":    3,
	"providers.retry_backoff":  "200ms",
	"providers.stripe_api_url": "https://api.stripe.com",
	"providers.xendit_api_url": "https://api.xendit.co",

	"scheduler.sweep_interval":   "1m",
	"scheduler.sweep_batch_size": 50,
	"scheduler.stuck_after":      "10m",
	"scheduler.max_attempts":     10,
	"scheduler.lease_ttl":        "55s",
	"scheduler.lease_key":        "paygate:scheduler:sweep",

	"observability.log_level":  "info",
	"observability.log_format": "json",
}

// Load reads configuration from an optional config file, .env and PAYGATE_* variables.
// Environment variables win over the file.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/paygate")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := fromViper(v)
	plans, err := parsePlans(v)
	if err != nil {
		return Config{}, err
	}
	cfg.plans = NewPlanCatalog(plans)

	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(fsnotify.Event) {
			reloaded, err := parsePlans(v)
			if err != nil {
				return
			}
			cfg.plans.Replace(reloaded)
		})
		v.WatchConfig()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) Config {
	return Config{
		App: AppConfig{
			Name:        v.GetString("app.name"),
			Environment: v.GetString("app.environment"),
			NodeID:      v.GetInt64("app.node_id"),
		},
		HTTP: HTTPConfig{
			Addr:            v.GetString("http.addr"),
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(v.GetString("database.driver")),
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		NATS: NATSConfig{
			Enabled:       v.GetBool("nats.enabled"),
			URL:           v.GetString("nats.url"),
			SubjectPrefix: v.GetString("nats.subject_prefix"),
			QueueGroup:    v.GetString("nats.queue_group"),
		},
		Scylla: ScyllaConfig{
			Hosts:       v.GetStringSlice("scylla.hosts"),
			Keyspace:    v.GetString("scylla.keyspace"),
			Consistency: v.GetString("scylla.consistency"),
			Timeout:     v.GetDuration("scylla.timeout"),
		},
		Vault: VaultConfig{
			AESKey: v.GetString("vault.aes_key"),
		},
		Webhook: WebhookConfig{
			LedgerBackend:      strings.ToLower(v.GetString("webhook.ledger_backend")),
			Async:              v.GetBool("webhook.async"),
			SignatureTolerance: v.GetDuration("webhook.signature_tolerance"),
			MaxPayloadBytes:    v.GetInt64("webhook.max_payload_bytes"),
		},
		Providers: ProvidersConfig{
			Timeout:      v.GetDuration("providers.timeout"),
			MaxRetries:   v.GetUint("providers.max_retries"),
			RetryBackoff: v.GetDuration("providers.retry_backoff"),
			StripeAPIURL: v.GetString("providers.stripe_api_url"),
			XenditAPIURL: v.GetString("providers.xendit_api_url"),
		},
		Scheduler: SchedulerConfig{
			SweepInterval:  v.GetDuration("scheduler.sweep_interval"),
			SweepBatchSize: v.GetInt("scheduler.sweep_batch_size"),
			StuckAfter:     v.GetDuration("scheduler.stuck_after"),
			MaxAttempts:    v.GetInt("scheduler.max_attempts"),
			LeaseTTL:       v.GetDuration("scheduler.lease_ttl"),
			LeaseKey:       v.GetString("scheduler.lease_key"),
		},
		Archive: ArchiveConfig{
			Enabled:         v.GetBool("archive.enabled"),
			Bucket:          v.GetString("archive.bucket"),
			Region:          v.GetString("archive.region"),
			Endpoint:        v.GetString("archive.endpoint"),
			AccessKeyID:     v.GetString("archive.access_key_id"),
			SecretAccessKey: v.GetString("archive.secret_access_key"),
		},
		Observability: ObservabilityConfig{
			LogLevel:     v.GetString("observability.log_level"),
			LogFormat:    v.GetString("observability.log_format"),
			OTLPEndpoint: v.GetString("observability.otlp_endpoint"),
			OTLPInsecure: v.GetBool("observability.otlp_insecure"),
		},
	}
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database.dsn is required")
	}
	switch c.Webhook.LedgerBackend {
	case "sql":
	case "scylla":
		if len(c.Scylla.Hosts) == 0 {
			return errors.New("config: scylla.hosts is required for the scylla ledger backend")
		}
	default:
		return fmt.Errorf("config: unsupported webhook ledger backend %q", c.Webhook.LedgerBackend)
	}
	if c.Webhook.Async && !c.NATS.Enabled {
		return errors.New("config: webhook.async requires nats.enabled")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return errors.New("config: archive.bucket is required when the archive is enabled")
	}
	if c.App.NodeID < 0 || c.App.NodeID > 1023 {
		return fmt.Errorf("config: app.node_id must be within [0, 1023], got %d", c.App.NodeID)
	}
	return nil
}

// Plans returns the live plan catalog. It is never nil.
func (c Config) Plans() *PlanCatalog {
	if c.plans == nil {
		return NewPlanCatalog(nil)
	}
	return c.plans
}

// WithPlans returns a copy of c backed by the given plans.
func (c Config) WithPlans(plans []PlanConfig) Config {
	c.plans = NewPlanCatalog(plans)
	return c
}

type PlanConfig struct {
	// Code defaults to the slug of Name.
	Code           string            `mapstructure:"code"`
	Name           string            `mapstructure:"name"`
	ProductTier    string            `mapstructure:"product_tier"`
	Interval       string            `mapstructure:"interval"`
	Amount         int64             `mapstructure:"amount"`
	Currency       string            `mapstructure:"currency"`
	ProviderPrices map[string]string `mapstructure:"provider_prices"`
}

func parsePlans(v *viper.Viper) ([]PlanConfig, error) {
	var plans []PlanConfig
	if err := v.UnmarshalKey("plans", &plans); err != nil {
		return nil, fmt.Errorf("config: decode plans: %w", err)
	}
	return plans, nil
}

// PlanCatalog is swapped atomically when the config file changes.
type PlanCatalog struct {
	mu    sync.RWMutex
	plans []PlanConfig
}

func NewPlanCatalog(plans []PlanConfig) *PlanCatalog {
	return &PlanCatalog{plans: plans}
}

func (p *PlanCatalog) All() []PlanConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PlanConfig, len(p.plans))
	copy(out, p.plans)
	return out
}

func (p *PlanCatalog) Replace(plans []PlanConfig) {
	p.mu.Lock()
	p.plans = plans
	p.mu.Unlock()
}
