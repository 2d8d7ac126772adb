// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tripflow/tripflow/pkg/errors"
)

// Config holds all tripflow configuration.
type Config struct {
	Version int `yaml:"version"`

	Database  DatabaseConfig  `yaml:"database"`
	Staging   StagingConfig   `yaml:"staging"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Watch     WatchConfig     `yaml:"watch"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig locates the canonical DuckDB database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// StagingConfig selects and configures the staging object store.
type StagingConfig struct {
	Backend string `yaml:"backend"` // local | s3
	Prefix  string `yaml:"prefix"`

	// local backend
	Dir string `yaml:"dir"`

	// s3 backend
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// LedgerConfig selects and configures the run ledger backend.
type LedgerConfig struct {
	Backend string `yaml:"backend"` // file | redis

	// file backend
	Dir string `yaml:"dir"`

	// redis backend
	RedisAddress  string        `yaml:"redis_address"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDatabase int           `yaml:"redis_database"`
	RedisTTL      time.Duration `yaml:"redis_ttl"`
}

// IngestConfig controls batch decoding and promotion behavior.
type IngestConfig struct {
	ErrorPolicy  string        `yaml:"error_policy"` // skip | strict
	MaxErrors    int           `yaml:"max_errors"`   // 0 = unlimited
	Retries      int           `yaml:"retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	Parallelism  int           `yaml:"parallelism"` // backfill workers
}

// WatchConfig controls the landing directory watcher.
type WatchConfig struct {
	Dir         string        `yaml:"dir"`
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// ScheduleConfig controls periodic ingestion of the current month.
type ScheduleConfig struct {
	Cron     string   `yaml:"cron"`
	Datasets []string `yaml:"datasets"` // categories to pull on schedule
	BaseURL  string   `yaml:"base_url"`
}

// TelemetryConfig for the Prometheus endpoint.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig for structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	tripflowDir := filepath.Join(homeDir, ".tripflow")

	return &Config{
		Version: 1,
		Database: DatabaseConfig{
			Path: filepath.Join(tripflowDir, "trips.duckdb"),
		},
		Staging: StagingConfig{
			Backend: "local",
			Prefix:  "staging",
			Dir:     filepath.Join(tripflowDir, "staging"),
		},
		Ledger: LedgerConfig{
			Backend:  "file",
			Dir:      filepath.Join(tripflowDir, "runs"),
			RedisTTL: 30 * 24 * time.Hour,
		},
		Ingest: IngestConfig{
			ErrorPolicy:  "skip",
			MaxErrors:    0,
			Retries:      3,
			RetryBackoff: 2 * time.Second,
			Parallelism:  4,
		},
		Watch: WatchConfig{
			Dir:         filepath.Join(tripflowDir, "landing"),
			SettleDelay: 2 * time.Second,
		},
		Schedule: ScheduleConfig{
			Cron:     "0 3 * * *",
			Datasets: []string{"yellow", "green"},
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
			Listen:  ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{config: Default()}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()

	for _, path := range m.getConfigPaths() {
		if err := m.loadFile(path); err != nil {
			if !os.IsNotExist(err) {
				return err
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	m.loadEnv()

	return m.config.Validate()
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/tripflow/config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".tripflow", "config.yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".tripflow.yaml"))
	}

	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return errors.Wrapf(err, errors.CodeBadConfig, "failed to parse config file %s", path)
	}

	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	if src.Database.Path != "" {
		m.config.Database.Path = src.Database.Path
	}

	if src.Staging.Backend != "" {
		m.config.Staging.Backend = src.Staging.Backend
	}
	if src.Staging.Prefix != "" {
		m.config.Staging.Prefix = src.Staging.Prefix
	}
	if src.Staging.Dir != "" {
		m.config.Staging.Dir = src.Staging.Dir
	}
	if src.Staging.Region != "" {
		m.config.Staging.Region = src.Staging.Region
	}
	if src.Staging.Bucket != "" {
		m.config.Staging.Bucket = src.Staging.Bucket
	}
	if src.Staging.Endpoint != "" {
		m.config.Staging.Endpoint = src.Staging.Endpoint
	}
	if src.Staging.UsePathStyle {
		m.config.Staging.UsePathStyle = true
	}

	if src.Ledger.Backend != "" {
		m.config.Ledger.Backend = src.Ledger.Backend
	}
	if src.Ledger.Dir != "" {
		m.config.Ledger.Dir = src.Ledger.Dir
	}
	if src.Ledger.RedisAddress != "" {
		m.config.Ledger.RedisAddress = src.Ledger.RedisAddress
	}
	if src.Ledger.RedisPassword != "" {
		m.config.Ledger.RedisPassword = src.Ledger.RedisPassword
	}
	if src.Ledger.RedisDatabase != 0 {
		m.config.Ledger.RedisDatabase = src.Ledger.RedisDatabase
	}
	if src.Ledger.RedisTTL != 0 {
		m.config.Ledger.RedisTTL = src.Ledger.RedisTTL
	}

	if src.Ingest.ErrorPolicy != "" {
		m.config.Ingest.ErrorPolicy = src.Ingest.ErrorPolicy
	}
	if src.Ingest.MaxErrors != 0 {
		m.config.Ingest.MaxErrors = src.Ingest.MaxErrors
	}
	if src.Ingest.Retries != 0 {
		m.config.Ingest.Retries = src.Ingest.Retries
	}
	if src.Ingest.RetryBackoff != 0 {
		m.config.Ingest.RetryBackoff = src.Ingest.RetryBackoff
	}
	if src.Ingest.Parallelism != 0 {
		m.config.Ingest.Parallelism = src.Ingest.Parallelism
	}

	if src.Watch.Dir != "" {
		m.config.Watch.Dir = src.Watch.Dir
	}
	if src.Watch.SettleDelay != 0 {
		m.config.Watch.SettleDelay = src.Watch.SettleDelay
	}

	if src.Schedule.Cron != "" {
		m.config.Schedule.Cron = src.Schedule.Cron
	}
	if len(src.Schedule.Datasets) > 0 {
		m.config.Schedule.Datasets = src.Schedule.Datasets
	}
	if src.Schedule.BaseURL != "" {
		m.config.Schedule.BaseURL = src.Schedule.BaseURL
	}

	if src.Telemetry.Enabled {
		m.config.Telemetry.Enabled = true
	}
	if src.Telemetry.Listen != "" {
		m.config.Telemetry.Listen = src.Telemetry.Listen
	}

	if src.Logging.Level != "" {
		m.config.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		m.config.Logging.Format = src.Logging.Format
	}
}

// loadEnv loads configuration overrides from environment variables.
func (m *Manager) loadEnv() {
	if v := os.Getenv("TRIPFLOW_DATABASE"); v != "" {
		m.config.Database.Path = v
	}
	if v := os.Getenv("TRIPFLOW_STAGING_BACKEND"); v != "" {
		m.config.Staging.Backend = v
	}
	if v := os.Getenv("TRIPFLOW_STAGING_DIR"); v != "" {
		m.config.Staging.Dir = v
	}
	if v := os.Getenv("TRIPFLOW_STAGING_BUCKET"); v != "" {
		m.config.Staging.Bucket = v
	}
	if v := os.Getenv("TRIPFLOW_STAGING_REGION"); v != "" {
		m.config.Staging.Region = v
	}
	if v := os.Getenv("TRIPFLOW_LEDGER_BACKEND"); v != "" {
		m.config.Ledger.Backend = v
	}
	if v := os.Getenv("TRIPFLOW_REDIS_ADDRESS"); v != "" {
		m.config.Ledger.RedisAddress = v
	}
	if v := os.Getenv("TRIPFLOW_ERROR_POLICY"); v != "" {
		m.config.Ingest.ErrorPolicy = v
	}
	if v := os.Getenv("TRIPFLOW_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			m.config.Ingest.Parallelism = n
		}
	}
	if v := os.Getenv("TRIPFLOW_LOG_LEVEL"); v != "" {
		m.config.Logging.Level = v
	}
}

// Validate rejects configurations the engine cannot run with. Config
// errors are fatal, never retried.
func (c *Config) Validate() error {
	switch c.Staging.Backend {
	case "local", "s3":
	default:
		return errors.New(errors.CodeBadConfig,
			fmt.Sprintf("unknown staging backend %q (want local or s3)", c.Staging.Backend))
	}
	if c.Staging.Backend == "s3" && c.Staging.Bucket == "" {
		return errors.New(errors.CodeBadConfig, "staging backend s3 requires a bucket")
	}

	switch c.Ledger.Backend {
	case "file", "redis":
	default:
		return errors.New(errors.CodeBadConfig,
			fmt.Sprintf("unknown ledger backend %q (want file or redis)", c.Ledger.Backend))
	}
	if c.Ledger.Backend == "redis" && c.Ledger.RedisAddress == "" {
		return errors.New(errors.CodeBadConfig, "ledger backend redis requires an address")
	}

	switch c.Ingest.ErrorPolicy {
	case "skip", "strict":
	default:
		return errors.New(errors.CodeBadConfig,
			fmt.Sprintf("unknown error policy %q (want skip or strict)", c.Ingest.ErrorPolicy))
	}
	if c.Ingest.Parallelism < 1 {
		return errors.New(errors.CodeBadConfig, "parallelism must be at least 1")
	}

	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the config file paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to the user config file.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(home, ".tripflow")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0o644)
}
