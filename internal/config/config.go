package config

import (
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the warden daemon configuration
type Config struct {
	Server          ServerConfig     `yaml:"server"`
	Database        DatabaseConfig   `yaml:"database"`
	Log             LogConfig        `yaml:"log"`
	Workload        WorkloadConfig   `yaml:"workload"`
	Admin           AdminConfig      `yaml:"admin"`
	Reconciler      ReconcilerConfig `yaml:"reconciler"`
	Ledger          LedgerConfig     `yaml:"ledger"`
	EventBus        EventBusConfig   `yaml:"eventbus"`
	Route           RouteConfig      `yaml:"route"`
	ShutdownTimeout Duration         `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// ServerConfig contains warden API server settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig contains warden state database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the configured level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// WorkloadConfig describes the managed headscale process
type WorkloadConfig struct {
	Binary    string `yaml:"binary"`     // Path to the headscale binary
	ConfigDir string `yaml:"config_dir"` // Where config.yaml and policy.hujson are written
	DataDir   string `yaml:"data_dir"`   // Persisted volume for the embedded database
	HealthURL string `yaml:"health_url"` // Readiness endpoint of the running server

	ReadyTimeout  Duration `yaml:"ready_timeout"`  // How long to wait for readiness after a restart
	ReadyInterval Duration `yaml:"ready_interval"` // Poll interval during the readiness wait
	StopTimeout   Duration `yaml:"stop_timeout"`   // SIGTERM grace period before SIGKILL
	ApplyTimeout  Duration `yaml:"apply_timeout"`  // Bound on a whole apply step
}

// AdminConfig contains settings for the headscale admin CLI channel
type AdminConfig struct {
	User         string   `yaml:"user"`           // Headscale user owning pre-auth keys
	Timeout      Duration `yaml:"timeout"`        // Per-command timeout
	RateLimitRPS float64  `yaml:"rate_limit_rps"` // Admin CLI call rate limit
}

// ReconcilerConfig contains reconciliation loop settings
type ReconcilerConfig struct {
	PeriodicInterval Duration `yaml:"periodic_interval"` // Periodic re-sync in addition to event triggers
	StorageProbe     Duration `yaml:"storage_probe"`     // Interval for the storage readiness probe

	// Backoff for transient apply failures within a single pass
	MinRetryBackoff Duration `yaml:"min_retry_backoff"`
	MaxRetryBackoff Duration `yaml:"max_retry_backoff"`
	RetryMultiplier float64  `yaml:"retry_multiplier"`
	MaxApplyRetries int      `yaml:"max_apply_retries"`
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 2)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 64)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 2
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 64
	}
	return c.QueueSize
}

// RouteConfig contains settings for the optional ingress integration
type RouteConfig struct {
	// InternalURL is the address ingress forwards to, i.e. where the managed
	// server is reachable inside the deployment. Defaults to http://<hostname>:80.
	InternalURL string `yaml:"internal_url"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./hswarden.sqlite"
	}

	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8470
	}

	// Workload defaults
	if cfg.Workload.Binary == "" {
		cfg.Workload.Binary = "/usr/bin/headscale"
	}
	if cfg.Workload.ConfigDir == "" {
		cfg.Workload.ConfigDir = "/etc/headscale"
	}
	if cfg.Workload.DataDir == "" {
		cfg.Workload.DataDir = "/var/lib/headscale"
	}
	if cfg.Workload.HealthURL == "" {
		cfg.Workload.HealthURL = "http://127.0.0.1:80/health"
	}
	if cfg.Workload.ReadyTimeout == 0 {
		cfg.Workload.ReadyTimeout = Duration(10 * time.Second)
	}
	if cfg.Workload.ReadyInterval == 0 {
		cfg.Workload.ReadyInterval = Duration(1 * time.Second)
	}
	if cfg.Workload.StopTimeout == 0 {
		cfg.Workload.StopTimeout = Duration(5 * time.Second)
	}
	if cfg.Workload.ApplyTimeout == 0 {
		cfg.Workload.ApplyTimeout = Duration(30 * time.Second)
	}

	// Admin defaults
	if cfg.Admin.User == "" {
		cfg.Admin.User = "admin"
	}
	if cfg.Admin.Timeout == 0 {
		cfg.Admin.Timeout = Duration(15 * time.Second)
	}
	if cfg.Admin.RateLimitRPS == 0 {
		cfg.Admin.RateLimitRPS = 5.0
	}

	// Reconciler defaults
	if cfg.Reconciler.PeriodicInterval == 0 {
		cfg.Reconciler.PeriodicInterval = Duration(5 * time.Minute)
	}
	if cfg.Reconciler.StorageProbe == 0 {
		cfg.Reconciler.StorageProbe = Duration(10 * time.Second)
	}
	if cfg.Reconciler.MinRetryBackoff == 0 {
		cfg.Reconciler.MinRetryBackoff = Duration(1 * time.Second)
	}
	if cfg.Reconciler.MaxRetryBackoff == 0 {
		cfg.Reconciler.MaxRetryBackoff = Duration(1 * time.Minute)
	}
	if cfg.Reconciler.RetryMultiplier == 0 {
		cfg.Reconciler.RetryMultiplier = 2.0
	}
	if cfg.Reconciler.MaxApplyRetries == 0 {
		cfg.Reconciler.MaxApplyRetries = 5
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Route defaults
	if cfg.Route.InternalURL == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "localhost"
		}
		cfg.Route.InternalURL = "http://" + hostname + ":80"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	return &cfg, nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
