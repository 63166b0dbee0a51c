package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Queue    QueueConfig    `yaml:"queue"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
	Pricing  PricingConfig  `yaml:"pricing"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type QueueConfig struct {
	// ConfirmTimeout is how long a student called to the front has to
	// confirm before being pushed back. The 5s default mirrors the
	// kiosk pilot; product has not signed off on a final value.
	ConfirmTimeout   time.Duration `yaml:"confirm_timeout"`
	MonitorInterval  time.Duration `yaml:"monitor_interval"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	MoveBackOffset   int           `yaml:"move_back_offset"`
	// MaxTimeouts is how many confirmation timeouts a job survives
	// before it expires. 0 means never expire.
	MaxTimeouts int  `yaml:"max_timeouts"`
	AutoCall    bool `yaml:"auto_call"`
}

type CleanupConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Retention     time.Duration `yaml:"retention"`
	DocumentGrace time.Duration `yaml:"document_grace"`
}

type PricingConfig struct {
	CostPerPage       float64 `yaml:"cost_per_page"`
	ColorMultiplier   float64 `yaml:"color_multiplier"`
	DuplexMultiplier  float64 `yaml:"duplex_multiplier"`
	QualityMultiplier float64 `yaml:"quality_multiplier"`
}

type StorageConfig struct {
	DocumentsDir string `yaml:"documents_dir"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "./data/autoprint.db",
		},
		Queue: QueueConfig{
			ConfirmTimeout:   5 * time.Second,
			MonitorInterval:  5 * time.Second,
			SnapshotInterval: 10 * time.Second,
			MoveBackOffset:   5,
			MaxTimeouts:      3,
			AutoCall:         true,
		},
		Cleanup: CleanupConfig{
			SweepInterval: 1 * time.Hour,
			Retention:     24 * time.Hour,
			DocumentGrace: 24 * time.Hour,
		},
		Pricing: PricingConfig{
			CostPerPage:       0.10,
			ColorMultiplier:   1.5,
			DuplexMultiplier:  1.2,
			QualityMultiplier: 1.3,
		},
		Storage: StorageConfig{
			DocumentsDir: "./data/documents",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

func LoadFromEnv() *Config {
	cfg := defaults()

	if v := os.Getenv("AUTOPRINT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("AUTOPRINT_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("AUTOPRINT_CONFIRM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Queue.ConfirmTimeout = d
		}
	}

	if v := os.Getenv("AUTOPRINT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Queue.ConfirmTimeout <= 0 {
		return fmt.Errorf("confirm timeout must be positive")
	}

	if c.Queue.MonitorInterval <= 0 {
		return fmt.Errorf("monitor interval must be positive")
	}

	if c.Queue.SnapshotInterval <= 0 {
		return fmt.Errorf("snapshot interval must be positive")
	}

	if c.Queue.MoveBackOffset < 1 {
		return fmt.Errorf("move back offset must be at least 1")
	}

	if c.Queue.MaxTimeouts < 0 {
		return fmt.Errorf("max timeouts must be non-negative")
	}

	if c.Cleanup.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}

	if c.Cleanup.Retention < 0 {
		return fmt.Errorf("retention must be non-negative")
	}

	if c.Cleanup.DocumentGrace < 0 {
		return fmt.Errorf("document grace must be non-negative")
	}

	if c.Pricing.CostPerPage < 0 {
		return fmt.Errorf("cost per page must be non-negative")
	}

	if c.Storage.DocumentsDir == "" {
		return fmt.Errorf("documents dir is required")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}
