package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rxtrust/rxtrust-api/placeholder"
)

// DefaultPath is used when --config is not given. Unlike an explicit path, it
// may be absent.
const DefaultPath = "./rxtrust.yaml"

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	// MemoryEntries sizes the in-memory cache tier; negative disables it.
	MemoryEntries int `yaml:"memory_entries"`
}

type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type RegistryConfig struct {
	DatasetPath string `yaml:"dataset_path"`
	Watch       bool   `yaml:"watch"`
}

type AuditLogConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	BatchInterval time.Duration `yaml:"batch_interval"`
}

type TelemetryConfig struct {
	Enabled        bool   `yaml:"enabled"`
	PosthogKey     string `yaml:"posthog_key"` // may be a {{env:..}}, {{keyring:..}} or {{file:..}} placeholder
	Endpoint       string `yaml:"endpoint"`
	InstanceIDPath string `yaml:"instance_id_path"`
}

// Config is the top-level structure of rxtrust.yaml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	Registry  RegistryConfig  `yaml:"registry"`
	AuditLog  AuditLogConfig  `yaml:"audit_log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Host: "localhost", Port: 8000},
		Storage:  StorageConfig{DatabasePath: "./rxtrust.db", MemoryEntries: 256},
		Cache:    CacheConfig{TTL: 24 * time.Hour},
		Registry: RegistryConfig{DatasetPath: "data/cdsco_nsq_dec25_subset.json"},
		AuditLog: AuditLogConfig{Enabled: true, BatchSize: 20, BatchInterval: 15 * time.Second},
		Telemetry: TelemetryConfig{
			Enabled:        false,
			InstanceIDPath: filepath.Join(".rxtrust", "instance_id"),
		},
	}
}

// Load reads the YAML file at filePath over the defaults, resolves secret
// placeholders and applies environment overrides. A missing file is only an
// error when explicit is true.
func Load(filePath string, explicit bool) (*Config, error) {
	cfg := Default()

	yamlFile, err := os.ReadFile(filePath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(yamlFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file '%s': %w", filePath, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// defaults only
	default:
		return nil, fmt.Errorf("failed to read config file '%s': %w", filePath, err)
	}

	if err := placeholder.ResolveFields(map[string]*string{
		"telemetry.posthog_key": &cfg.Telemetry.PosthogKey,
		"telemetry.endpoint":    &cfg.Telemetry.Endpoint,
		"storage.database_path": &cfg.Storage.DatabasePath,
	}); err != nil {
		return nil, err
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("RXTRUST_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RXTRUST_PORT '%s': %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("RXTRUST_DB_PATH"); v != "" {
		c.Storage.DatabasePath = v
	}
	if v := os.Getenv("RXTRUST_REGISTRY_PATH"); v != "" {
		c.Registry.DatasetPath = v
	}
	return nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Storage.DatabasePath == "" {
		return errors.New("storage.database_path is required")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL)
	}
	return nil
}

// Address is the host:port the HTTP server listens on.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
