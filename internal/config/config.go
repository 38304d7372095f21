package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Directory  DirectoryConfig  `yaml:"directory" mapstructure:"directory"`
	Nimble     NimbleConfig     `yaml:"nimble" mapstructure:"nimble"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Reconcile  ReconcileConfig  `yaml:"reconcile" mapstructure:"reconcile"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Tasks      TasksConfig      `yaml:"tasks" mapstructure:"tasks"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend. DatabaseURL wins over the
// individual connection components when both are set.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Host        string `yaml:"host" mapstructure:"host"`
	Port        int    `yaml:"port" mapstructure:"port"`
	User        string `yaml:"user" mapstructure:"user"`
	Password    string `yaml:"password" mapstructure:"password"`
	Name        string `yaml:"name" mapstructure:"name"`
	SSLMode     string `yaml:"sslmode" mapstructure:"sslmode"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// DSN returns the connection string for the configured driver.
func (c StoreConfig) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.Driver == "sqlite" {
		if c.Name != "" {
			return c.Name
		}
		return "contactbook.db"
	}
	if c.Host == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Name,
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}

// DirectoryConfig selects the remote CRM used for reconciliation.
type DirectoryConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
}

// NimbleConfig holds Nimble CRM API settings.
type NimbleConfig struct {
	APIKey           string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries       int     `yaml:"max_retries" mapstructure:"max_retries"`
	BackoffSecs      float64 `yaml:"backoff_secs" mapstructure:"backoff_secs"`
	RateLimit        float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	CircuitThreshold int     `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitResetSecs int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// Timeout is the per-attempt request timeout.
func (c NimbleConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Backoff is the initial retry backoff.
func (c NimbleConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffSecs * float64(time.Second))
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID  string  `yaml:"client_id" mapstructure:"client_id"`
	Username  string  `yaml:"username" mapstructure:"username"`
	KeyPath   string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL  string  `yaml:"login_url" mapstructure:"login_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ReconcileConfig configures reconciliation runs.
type ReconcileConfig struct {
	Concurrency      int           `yaml:"concurrency" mapstructure:"concurrency"`
	Interval         time.Duration `yaml:"interval" mapstructure:"interval"`
	StrictEmailMatch bool          `yaml:"strict_email_match" mapstructure:"strict_email_match"`
	RunOnStart       bool          `yaml:"run_on_start" mapstructure:"run_on_start"`
}

// SearchConfig configures full-text search.
type SearchConfig struct {
	Limit int `yaml:"limit" mapstructure:"limit"`
}

// TasksConfig configures async task dispatch.
type TasksConfig struct {
	Backend   string        `yaml:"backend" mapstructure:"backend"`
	Workers   int           `yaml:"workers" mapstructure:"workers"`
	QueueSize int           `yaml:"queue_size" mapstructure:"queue_size"`
	ResultTTL time.Duration `yaml:"result_ttl" mapstructure:"result_ttl"`
}

// TemporalConfig holds Temporal connection settings.
type TemporalConfig struct {
	HostPort      string `yaml:"host_port" mapstructure:"host_port"`
	Namespace     string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue     string `yaml:"task_queue" mapstructure:"task_queue"`
	ReconcileCron string `yaml:"reconcile_cron" mapstructure:"reconcile_cron"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port         int      `yaml:"port" mapstructure:"port"`
	ShutdownSecs int      `yaml:"shutdown_secs" mapstructure:"shutdown_secs"`
	CORSOrigins  []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the settings required by the given command mode:
// "serve", "worker", "reconcile", "remote", "search", "contacts", "runs" or
// "migrate".
func (c *Config) Validate(mode string) error {
	var needStore, needDirectory, needServer, needTemporal bool
	switch mode {
	case "serve":
		needStore, needDirectory, needServer = true, true, true
	case "worker":
		needStore, needDirectory, needTemporal = true, true, true
	case "reconcile":
		needStore, needDirectory = true, true
	case "remote":
		needDirectory = true
	case "search", "contacts", "runs", "migrate":
		needStore = true
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var problems []string

	if needStore {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DSN() == "" {
				problems = append(problems, "store.database_url or store.host is required for postgres")
			}
		case "sqlite":
		default:
			problems = append(problems, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
		}
	}

	if needDirectory {
		switch c.Directory.Provider {
		case "nimble":
			if c.Nimble.APIKey == "" {
				problems = append(problems, "nimble.api_key is required")
			}
		case "salesforce":
			if c.Salesforce.ClientID == "" || c.Salesforce.Username == "" || c.Salesforce.KeyPath == "" {
				problems = append(problems, "salesforce.client_id, salesforce.username and salesforce.key_path are required")
			}
		default:
			problems = append(problems, fmt.Sprintf("directory.provider must be nimble or salesforce, got %q", c.Directory.Provider))
		}
		if c.Reconcile.Concurrency < 1 || c.Reconcile.Concurrency > 100 {
			problems = append(problems, "reconcile.concurrency must be between 1 and 100")
		}
	}

	if needServer {
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		switch c.Tasks.Backend {
		case "memory":
			if c.Tasks.Workers < 1 || c.Tasks.QueueSize < 1 {
				problems = append(problems, "tasks.workers and tasks.queue_size must be > 0")
			}
		case "temporal":
			needTemporal = true
		default:
			problems = append(problems, fmt.Sprintf("tasks.backend must be memory or temporal, got %q", c.Tasks.Backend))
		}
	}

	if needTemporal && (c.Temporal.HostPort == "" || c.Temporal.TaskQueue == "") {
		problems = append(problems, "temporal.host_port and temporal.task_queue are required")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CONTACTBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.host", "")
	v.SetDefault("store.port", 5432)
	v.SetDefault("store.user", "")
	v.SetDefault("store.password", "")
	v.SetDefault("store.name", "contactbook")
	v.SetDefault("store.sslmode", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("directory.provider", "nimble")
	v.SetDefault("nimble.api_key", "")
	v.SetDefault("nimble.base_url", "https://api.nimble.com/api/v1/contacts")
	v.SetDefault("nimble.timeout_secs", 15)
	v.SetDefault("nimble.max_retries", 3)
	v.SetDefault("nimble.backoff_secs", 1)
	v.SetDefault("nimble.rate_limit", 0)
	v.SetDefault("nimble.circuit_threshold", 5)
	v.SetDefault("nimble.circuit_reset_secs", 60)
	v.SetDefault("salesforce.client_id", "")
	v.SetDefault("salesforce.username", "")
	v.SetDefault("salesforce.key_path", "")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rate_limit", 5)
	v.SetDefault("reconcile.concurrency", 10)
	v.SetDefault("reconcile.interval", "24h")
	v.SetDefault("reconcile.strict_email_match", false)
	v.SetDefault("reconcile.run_on_start", false)
	v.SetDefault("search.limit", 100)
	v.SetDefault("tasks.backend", "memory")
	v.SetDefault("tasks.workers", 4)
	v.SetDefault("tasks.queue_size", 100)
	v.SetDefault("tasks.result_ttl", "24h")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "contactbook")
	v.SetDefault("temporal.reconcile_cron", "@daily")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_secs", 10)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
