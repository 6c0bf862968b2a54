package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvConfigPath  = "SEQUEL_CONFIG"
	EnvEnvironment = "SEQUEL_ENV"
	EnvDatabaseURL = "DATABASE_URL"
)

// configCandidates are tried, in order, when no path is given.
var configCandidates = []string{
	"config/database.yaml",
	"database.yaml",
	"/etc/sequel/database.yaml",
}

// Load loads the configuration of one environment from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. The environment block of the YAML file (explicit path, SEQUEL_CONFIG, ./config/database.yaml,
//     ./database.yaml, /etc/sequel/database.yaml)
//  3. Environment variables (DATABASE_URL, DB_*)
//  4. File references (password_file, url_file)
//  5. The connection URL, if any
//  6. Validation
//
// environment defaults to SEQUEL_ENV, then "development". A missing file is not an
// error; a file without the requested environment is.
func Load(configPath, environment string) (*Config, error) {
	cfg := Defaults()
	cfg.Environment = pickEnvironment(environment)

	if path := discoverConfigFile(configPath); path != "" {
		if err := loadYAMLFile(path, cfg.Environment, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if cfg.URL != "" {
		if err := cfg.Options.ApplyURI(cfg.URL); err != nil {
			return nil, fmt.Errorf("url: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

// Parse reads one environment out of YAML data, without consulting the process
// environment or the file system.
func Parse(data []byte, environment string) (*Config, error) {
	cfg := Defaults()
	cfg.Environment = pickEnvironment(environment)
	if err := decodeEnvironment(data, cfg.Environment, &cfg); err != nil {
		return nil, err
	}
	if cfg.URL != "" {
		if err := cfg.Options.ApplyURI(cfg.URL); err != nil {
			return nil, fmt.Errorf("url: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func pickEnvironment(environment string) string {
	if environment != "" {
		return environment
	}
	if env := os.Getenv(EnvEnvironment); env != "" {
		return env
	}
	return DefaultEnvironment
}

func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		return envPath
	}
	for _, path := range configCandidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func loadYAMLFile(path, environment string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return decodeEnvironment(data, environment, cfg)
}

// decodeEnvironment decodes the block named environment over cfg. Keys absent from the
// block keep their current value.
func decodeEnvironment(data []byte, environment string, cfg *Config) error {
	var blocks map[string]yaml.Node
	if err := yaml.Unmarshal(data, &blocks); err != nil {
		return err
	}
	node, ok := blocks[environment]
	if !ok {
		return fmt.Errorf("%w: %q", ErrEnvironmentNotFound, environment)
	}
	return node.Decode(cfg)
}

// applyEnvOverrides maps DB_* variables and DATABASE_URL onto the configuration.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		cfg.URL = v
	}
	if v := os.Getenv("DB_DIALECT"); v != "" {
		cfg.Dialect = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DB_PORT: %w", err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("DB_PASSWORD_FILE"); v != "" {
		cfg.PasswordFile = v
	}
	if v := os.Getenv("DB_SCHEMA"); v != "" {
		cfg.Schema = v
	}
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		cfg.SSLMode = v
	}
	if v := os.Getenv("DB_POOL_MAX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DB_POOL_MAX: %w", err)
		}
		cfg.Pool.Max = n
	}
	if v := os.Getenv("DB_QUERY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("DB_QUERY_TIMEOUT: %w", err)
		}
		cfg.QueryTimeout = d
	}
	if v := os.Getenv("DB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DB_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	return nil
}

// resolveFileReferences fills a value from its _file field when the value is empty.
func resolveFileReferences(cfg *Config) error {
	if cfg.PasswordFile != "" && cfg.Password == "" {
		val, err := readSecretFile(cfg.PasswordFile)
		if err != nil {
			return fmt.Errorf("password_file: %w", err)
		}
		cfg.Password = val
	}
	if cfg.URLFile != "" && cfg.URL == "" {
		val, err := readSecretFile(cfg.URLFile)
		if err != nil {
			return fmt.Errorf("url_file: %w", err)
		}
		cfg.URL = val
	}
	return nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

