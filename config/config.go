// Package config loads instance options from a YAML file keyed by environment, with
// environment variable overrides and secret file references:
//
//	development:
//	  dialect: postgres
//	  host: localhost
//	  database: shop_dev
//	  username: app
//	  password_file: /run/secrets/db_password
//	  pool:
//	    max: 10
//	    idle: 5m
//	production:
//	  url: postgres://app@db.internal:5432/shop?sslmode=require
//	  log_format: zap
//
// Dialect packages still have to be imported by the application for Open to succeed.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/medatechnology/goutil/medaerror"
	"go.uber.org/zap"

	orm "github.com/medatechnology/sequel"
)

// Default values
const (
	DefaultEnvironment = "development"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = LogFormatText

	LogFormatText = "text"
	LogFormatZap  = "zap"
	LogFormatNone = "none"
)

var (
	ErrEnvironmentNotFound medaerror.MedaError = medaerror.MedaError{Message: "environment not found in config file"}
	ErrInvalidConfig       medaerror.MedaError = medaerror.MedaError{Message: "invalid database configuration"}
)

// Config is the configuration of one environment. The instance options are inlined so
// every orm.Options key can be set at the top level of the environment block.
type Config struct {
	orm.Options `yaml:",inline"`

	// URL is a connection URI; values present in it win over the discrete fields.
	URL          string `yaml:"url"`
	URLFile      string `yaml:"url_file"`
	PasswordFile string `yaml:"password_file"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text, zap or none

	// Environment is the name of the block the config was read from.
	Environment string `yaml:"-"`
}

// Defaults returns the configuration used before any file or variable is applied.
func Defaults() Config {
	return Config{
		Options:     *orm.NewDefaultOptions(""),
		LogLevel:    DefaultLogLevel,
		LogFormat:   DefaultLogFormat,
		Environment: DefaultEnvironment,
	}
}

// Validate fills option defaults and checks the configuration. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Options.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Database == "" && c.Dialect == "postgres" {
		errs = append(errs, fmt.Errorf("database is required for dialect %q", c.Dialect))
	}
	if _, err := orm.ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", LogFormatText, LogFormatZap, LogFormatNone:
	default:
		errs = append(errs, fmt.Errorf("log_format must be %q, %q or %q, got %q",
			LogFormatText, LogFormatZap, LogFormatNone, c.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Logger builds the logger described by LogFormat and LogLevel.
func (c *Config) Logger() (orm.Logger, error) {
	level, err := orm.ParseLogLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(c.LogFormat) {
	case LogFormatNone:
		return orm.NewNoopLogger(), nil
	case LogFormatZap:
		z, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("failed to build zap logger: %w", err)
		}
		l := orm.NewZapLogger(z)
		l.SetLevel(level)
		return l, nil
	}
	return orm.NewDefaultLogger(level), nil
}

// Open creates the ORM instance for the configuration. A logger set on Options.Logging
// takes precedence over LogFormat.
func (c *Config) Open() (*orm.DB, error) {
	opts := c.Options.Clone()
	if opts.Logging == nil {
		logger, err := c.Logger()
		if err != nil {
			return nil, err
		}
		opts.Logging = logger
	}
	return orm.NewWithOptions(*opts)
}

// String returns the configuration without secrets.
func (c *Config) String() string {
	return fmt.Sprintf("%s: %s", c.Environment, c.Options.String())
}
