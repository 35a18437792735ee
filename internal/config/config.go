// Package config loads the minq CLI configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Cache drivers.
const (
	CacheEngine = "engine"
	CacheRedis  = "redis"
)

// Config holds the minq CLI configuration.
type Config struct {
	HTTP        HTTPConfig         `yaml:"http"`
	Database    DatabaseConfig     `yaml:"database"`
	Cache       CacheConfig        `yaml:"cache"`
	Auth        AuthConfig         `yaml:"auth"`
	Logging     LoggingConfig      `yaml:"logging"`
	Collections []CollectionConfig `yaml:"collections"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds admin API authentication settings. No keys disables auth.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds admin server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds the document database connection. An empty
// ConnectionString selects the in-memory engine.
type DatabaseConfig struct {
	ConnectionString string `yaml:"connection_string"`
	Name             string `yaml:"name"`
}

// CacheConfig selects where cached result sets live.
type CacheConfig struct {
	Driver       string   `yaml:"driver"` // engine, redis (default: engine)
	Addrs        []string `yaml:"addrs"`
	Password     string   `yaml:"password"`
	RetentionSec int      `yaml:"retention_sec"`
}

// CollectionConfig declares the indexes of one collection.
type CollectionConfig struct {
	Name    string        `yaml:"name"`
	Indexes []IndexConfig `yaml:"indexes"`
}

// IndexConfig is one declared index. Keys are field names, prefixed with
// "-" for descending order.
type IndexConfig struct {
	Name   string   `yaml:"name"`
	Keys   []string `yaml:"keys"`
	Unique bool     `yaml:"unique"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from path.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8090
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Name == "" {
		c.Database.Name = "minq"
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = CacheEngine
	}
	if c.Cache.RetentionSec <= 0 {
		c.Cache.RetentionSec = 86400
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Database.ConnectionString != "" &&
		!strings.HasPrefix(c.Database.ConnectionString, "mongodb://") &&
		!strings.HasPrefix(c.Database.ConnectionString, "mongodb+srv://") {
		return fmt.Errorf("database.connection_string must use the mongodb:// or mongodb+srv:// scheme")
	}
	switch c.Cache.Driver {
	case CacheEngine:
	case CacheRedis:
		if len(c.Cache.Addrs) == 0 {
			return fmt.Errorf("cache.addrs is required for the redis driver")
		}
	default:
		return fmt.Errorf("cache.driver must be %q or %q, got %q", CacheEngine, CacheRedis, c.Cache.Driver)
	}

	seen := make(map[string]bool, len(c.Collections))
	for i, coll := range c.Collections {
		if coll.Name == "" {
			return fmt.Errorf("collections[%d].name is required", i)
		}
		if seen[coll.Name] {
			return fmt.Errorf("collections[%d]: duplicate collection %q", i, coll.Name)
		}
		seen[coll.Name] = true
		for j, idx := range coll.Indexes {
			if len(idx.Keys) == 0 {
				return fmt.Errorf("collections.%s.indexes[%d].keys is required", coll.Name, j)
			}
			for _, k := range idx.Keys {
				if strings.TrimPrefix(k, "-") == "" {
					return fmt.Errorf("collections.%s.indexes[%d]: empty key", coll.Name, j)
				}
			}
		}
	}
	return nil
}

// Collection returns the declaration for name.
func (c *Config) Collection(name string) (CollectionConfig, bool) {
	for _, coll := range c.Collections {
		if coll.Name == name {
			return coll, true
		}
	}
	return CollectionConfig{}, false
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// envVarRegex matches ${VAR} and ${VAR:-default}.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
