// Package config holds the application configuration, loaded from a YAML
// file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	// Database configuration
	Database DatabaseConfig `yaml:"database"`

	// Scanner configuration
	Scanner ScannerConfig `yaml:"scanner"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging"`
}

// DatabaseConfig holds track store configuration
type DatabaseConfig struct {
	Type     string `yaml:"type"`     // "sqlite" or "postgres"
	Path     string `yaml:"path"`     // sqlite database file
	Host     string `yaml:"host"`     // postgres only
	Port     int    `yaml:"port"`     // postgres only
	Username string `yaml:"username"` // postgres only
	Password string `yaml:"password"` // postgres only
	Database string `yaml:"database"` // postgres only
}

// ScannerConfig holds library scanner configuration
type ScannerConfig struct {
	// BatchSize is the number of queued track writes that triggers a flush
	// to the store mid-scan.
	BatchSize int `yaml:"batch_size"`

	// RestrictExtensions limits library scans to these extensions. Empty
	// means every extension the audio loader supports, plus "cue".
	RestrictExtensions []string `yaml:"restrict_extensions"`

	// ExcludeExtensions are removed from the effective extension list.
	// Excluding "cue" disables cue sheet discovery entirely.
	ExcludeExtensions []string `yaml:"exclude_extensions"`

	// ExternalRestrictExtensions / ExternalExcludeExtensions apply to
	// ad-hoc external file scans instead of configured libraries.
	ExternalRestrictExtensions []string `yaml:"external_restrict_extensions"`
	ExternalExcludeExtensions  []string `yaml:"external_exclude_extensions"`

	// MonitorLibraries installs filesystem watches after successful scans.
	MonitorLibraries bool `yaml:"monitor_libraries"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultBatchSize is the number of queued track writes that triggers a
// mid-scan flush.
const DefaultBatchSize = 250

var (
	mu      sync.RWMutex
	current = Default()
)

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: defaultDatabasePath(),
			Host: "localhost",
			Port: 5432,
		},
		Scanner: ScannerConfig{
			BatchSize:        DefaultBatchSize,
			MonitorLibraries: false,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the configuration file at path (if it exists), applies
// environment overrides, and installs the result as the active config.
func Load(path string) error {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// First run, defaults apply.
		default:
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return err
	}

	mu.Lock()
	current = cfg
	mu.Unlock()
	return nil
}

// Get returns the active configuration.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CALLIOPE_DATABASE_TYPE"); v != "" {
		cfg.Database.Type = v
	}
	if v := os.Getenv("CALLIOPE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		cfg.Database.Username = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("CALLIOPE_BATCH_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil && size > 0 {
			cfg.Scanner.BatchSize = size
		}
	}
	if v := os.Getenv("CALLIOPE_MONITOR_LIBRARIES"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Scanner.MonitorLibraries = enabled
		}
	}
	if v := os.Getenv("CALLIOPE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func validate(cfg *Config) error {
	switch cfg.Database.Type {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}
	if cfg.Scanner.BatchSize <= 0 {
		return fmt.Errorf("scanner batch size must be positive, got %d", cfg.Scanner.BatchSize)
	}
	return nil
}

func defaultDatabasePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "calliope.db"
	}
	return filepath.Join(dir, "calliope", "calliope.db")
}
