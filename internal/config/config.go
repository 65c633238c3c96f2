// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Identity() IdentityConfig
	Extraction() ExtractionConfig
	Export() ExportConfig

	// Export Setters (driven by CLI flags)
	SetExportFormat(string)
	SetExportOutput(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	IdentityCfg   IdentityConfig   `mapstructure:"identity" yaml:"identity"`
	ExtractionCfg ExtractionConfig `mapstructure:"extraction" yaml:"extraction"`
	ExportCfg     ExportConfig     `mapstructure:"export" yaml:"export"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig     { return c.DatabaseCfg }
func (c *Config) Identity() IdentityConfig     { return c.IdentityCfg }
func (c *Config) Extraction() ExtractionConfig { return c.ExtractionCfg }
func (c *Config) Export() ExportConfig         { return c.ExportCfg }

// --- Setters ---

func (c *Config) SetExportFormat(f string) { c.ExportCfg.Format = f }
func (c *Config) SetExportOutput(p string) { c.ExportCfg.Output = p }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" yaml:"url"`
	EnsureSchema bool   `mapstructure:"ensure_schema" yaml:"ensure_schema"`
}

// IdentityConfig configures canonical id minting.
type IdentityConfig struct {
	// Namespace prefixes synthetic and derived keys, e.g. "<ns>/encounter/<uuid>".
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// ExtractionConfig configures document parsing and node building.
type ExtractionConfig struct {
	// Namespaces binds path prefixes to namespace URIs.
	Namespaces     map[string]string `mapstructure:"namespaces" yaml:"namespaces"`
	DefaultCountry string            `mapstructure:"default_country" yaml:"default_country"`
	// Timezone applies to timestamps without an explicit offset.
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
}

// Location resolves Timezone. An empty value is UTC.
func (e ExtractionConfig) Location() (*time.Location, error) {
	if e.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(e.Timezone)
}

// ExportConfig selects where converted graphs go.
type ExportConfig struct {
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "ccdagraph")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Database --
	v.SetDefault("database.ensure_schema", true)

	// -- Identity --
	v.SetDefault("identity.namespace", "http://ccdagraph.local")

	// -- Extraction --
	v.SetDefault("extraction.namespaces", map[string]string{
		"v3":   "urn:hl7-org:v3",
		"voc":  "urn:hl7-org:v3/voc",
		"sdtc": "urn:hl7-org:sdtc",
		"xsi":  "http://www.w3.org/2001/XMLSchema-instance",
	})
	v.SetDefault("extraction.default_country", "US")
	v.SetDefault("extraction.timezone", "UTC")

	// -- Export --
	v.SetDefault("export.format", "json")
	v.SetDefault("export.output", "stdout")
	v.SetDefault("export.pretty", false)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The connection string usually carries credentials; allow a dedicated variable.
	_ = v.BindEnv("database.url", "CCDAGRAPH_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading "~" in file paths.
func (c *Config) expandPaths() error {
	logFile, err := homedir.Expand(c.LoggerCfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to expand logger.log_file: %w", err)
	}
	c.LoggerCfg.LogFile = logFile

	if c.ExportCfg.Output != "stdout" {
		output, err := homedir.Expand(c.ExportCfg.Output)
		if err != nil {
			return fmt.Errorf("failed to expand export.output: %w", err)
		}
		c.ExportCfg.Output = output
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.IdentityCfg.Validate(); err != nil {
		return fmt.Errorf("identity configuration invalid: %w", err)
	}
	if err := c.ExtractionCfg.Validate(); err != nil {
		return fmt.Errorf("extraction configuration invalid: %w", err)
	}
	switch c.ExportCfg.Format {
	case "json":
	case "postgres":
		if c.DatabaseCfg.URL == "" {
			return fmt.Errorf("database.url is required for the postgres export format")
		}
	default:
		return fmt.Errorf("export.format must be one of json, postgres; got '%s'", c.ExportCfg.Format)
	}
	return nil
}

// Validate checks the identity namespace is an absolute URI.
func (i *IdentityConfig) Validate() error {
	if i.Namespace == "" {
		return fmt.Errorf("namespace is required")
	}
	u, err := url.Parse(i.Namespace)
	if err != nil || u.Scheme == "" {
		return fmt.Errorf("namespace must be an absolute URI; got '%s'", i.Namespace)
	}
	return nil
}

// Validate checks the namespace bindings and timezone.
func (e *ExtractionConfig) Validate() error {
	if e.Namespaces["v3"] == "" {
		return fmt.Errorf("namespaces.v3 is required")
	}
	if _, err := e.Location(); err != nil {
		return fmt.Errorf("timezone '%s' is not valid: %w", e.Timezone, err)
	}
	return nil
}
