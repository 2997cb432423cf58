package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v9"
	"gopkg.in/yaml.v3"
)

// Config holds the daemon settings read from the configuration file at
// startup. Environment variables override file values.
type Config struct {
	// ServerURL is the base HTTPS URL of the management server.
	ServerURL string `yaml:"server_url" env:"LANDSCAPE_SERVER_URL"`
	// AccountName identifies the account this computer registers under.
	AccountName string `yaml:"account_name" env:"LANDSCAPE_ACCOUNT_NAME"`
	// ComputerTitle is the human-readable name reported to the server.
	ComputerTitle string `yaml:"computer_title" env:"LANDSCAPE_COMPUTER_TITLE"`
	// RegistrationKey is the shared secret presented during registration.
	// It may be empty when the account allows open registration.
	RegistrationKey string `yaml:"registration_key" env:"LANDSCAPE_REGISTRATION_KEY"`
	// DataDir is the persistent data directory surviving daemon restarts.
	DataDir string `yaml:"data_dir" env:"LANDSCAPE_DATA_DIR"`
	// ControlSocket is the unix socket path for the local control channel.
	ControlSocket string `yaml:"control_socket" env:"LANDSCAPE_CONTROL_SOCKET"`
	// LogLevel configures daemon logging (debug, info, warn, error).
	LogLevel string `yaml:"log_level" env:"LANDSCAPE_LOG_LEVEL"`
	// ExchangeInterval is the cadence of message exchanges with the server.
	ExchangeInterval time.Duration `yaml:"exchange_interval" env:"LANDSCAPE_EXCHANGE_INTERVAL"`
	// ReportInterval is the default collection cadence for fact collectors.
	ReportInterval time.Duration `yaml:"report_interval" env:"LANDSCAPE_REPORT_INTERVAL"`
	// HTTPTimeout bounds individual requests to the server.
	HTTPTimeout time.Duration `yaml:"http_timeout" env:"LANDSCAPE_HTTP_TIMEOUT"`
	// QueueDepth bounds the pending report queue; oldest entries are evicted
	// once the queue is full.
	QueueDepth int `yaml:"queue_depth" env:"LANDSCAPE_QUEUE_DEPTH"`
	// ExecutionWorkers is the number of concurrent command executions.
	ExecutionWorkers int `yaml:"execution_workers" env:"LANDSCAPE_EXECUTION_WORKERS"`
	// ShutdownGrace is how long in-flight command executions may run after a
	// shutdown signal before being abandoned.
	ShutdownGrace time.Duration `yaml:"shutdown_grace" env:"LANDSCAPE_SHUTDOWN_GRACE"`
}

const (
	// DefaultConfigPath is the default location of the daemon settings file.
	DefaultConfigPath = "/etc/landscape/client.yaml"

	// DefaultDataDir is the default persistent data directory.
	DefaultDataDir = "/var/lib/landscape/client"

	// DefaultControlSocket is the default unix socket path for the control channel.
	DefaultControlSocket = "/run/landscape/client.sock"

	// DefaultExchangeInterval is the default cadence of server exchanges.
	DefaultExchangeInterval = 1 * time.Minute

	// DefaultReportInterval is the default collection cadence.
	DefaultReportInterval = 15 * time.Minute

	// DefaultHTTPTimeout is the default per-request timeout.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultQueueDepth is the default bound on the pending report queue.
	DefaultQueueDepth = 500

	// DefaultExecutionWorkers is the default command execution concurrency.
	DefaultExecutionWorkers = 4

	// DefaultShutdownGrace is the default grace period on shutdown.
	DefaultShutdownGrace = 10 * time.Second

	// DatabaseFilename is the name of the SQLite database inside DataDir.
	DatabaseFilename = "landscape.db"
)

var (
	// ErrServerURLRequired is returned when the server URL is missing.
	ErrServerURLRequired = errors.New("server URL must be provided")
	// ErrAccountNameRequired is returned when the account name is missing.
	ErrAccountNameRequired = errors.New("account name must be provided")
)

// Load reads configuration from the provided path, applies environment
// overrides and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	// Environment variables win over file values.
	if err = env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err = Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required fields and fills in defaults.
func Validate(cfg *Config) error {
	if cfg.ServerURL == "" {
		return ErrServerURLRequired
	}

	parsed, err := url.Parse(cfg.ServerURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid server URL %q", cfg.ServerURL)
	}

	if cfg.AccountName == "" {
		return ErrAccountNameRequired
	}

	if cfg.ComputerTitle == "" {
		hostname, hostErr := os.Hostname()
		if hostErr != nil {
			return fmt.Errorf("detect computer title: %w", hostErr)
		}

		cfg.ComputerTitle = hostname
	}

	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}

	if cfg.ControlSocket == "" {
		cfg.ControlSocket = DefaultControlSocket
	}

	if cfg.ExchangeInterval <= 0 {
		cfg.ExchangeInterval = DefaultExchangeInterval
	}

	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = DefaultReportInterval
	}

	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = DefaultHTTPTimeout
	}

	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}

	if cfg.ExecutionWorkers <= 0 {
		cfg.ExecutionWorkers = DefaultExecutionWorkers
	}

	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}

	return nil
}

// DatabasePath returns the location of the SQLite database inside the data
// directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, DatabaseFilename)
}
