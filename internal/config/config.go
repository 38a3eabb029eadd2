package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvFilePrefix is the environment variable holding the log file name prefix
const EnvFilePrefix = "LOG_FILE_NAME_STARTS_WITH"

// ErrMissingPrefix is returned when no file name prefix was provided
var ErrMissingPrefix = fmt.Errorf("missing %s in env", EnvFilePrefix)

// Config represents the main configuration
type Config struct {
	LogDir     string        `yaml:"log_dir"`
	FilePrefix string        `yaml:"-"` // only from the environment
	Retention  time.Duration `yaml:"retention"`
	State      StateConfig   `yaml:"state"`
	Scan       ScanConfig    `yaml:"scan"`
	Output     OutputConfig  `yaml:"output"`
	Logging    LoggingConfig `yaml:"logging"`
	Metrics    MetricsConfig `yaml:"metrics"`
	Tracing    TracingConfig `yaml:"tracing"`
}

// StateConfig defines where the working set is persisted
type StateConfig struct {
	Path    string   `yaml:"path"`
	Mirrors []string `yaml:"mirrors,omitempty"` // gzip, zstd, snappy
}

// ScanConfig controls how log files are read
type ScanConfig struct {
	MaxConcurrency    int     `yaml:"max_concurrency,omitempty"`
	MaxLinesPerSecond float64 `yaml:"max_lines_per_second,omitempty"`
	SkipUnchanged     bool    `yaml:"skip_unchanged,omitempty"`
	CheckpointPath    string  `yaml:"checkpoint_path,omitempty"`
}

// OutputConfig controls which new records are written to stdout
type OutputConfig struct {
	Level string `yaml:"level"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Textfile string `yaml:"textfile,omitempty"` // node-exporter textfile path
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint,omitempty"`
	SampleRate float64 `yaml:"sample_rate,omitempty"`
}

// Default values
const (
	DefaultLogDir      = "/var/log"
	DefaultStatePath   = "/data/data.json"
	DefaultRetention   = 31 * 24 * time.Hour
	DefaultOutputLevel = "ERROR"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "json"
)

// Load loads configuration from a YAML file with environment variable expansion
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(expandedData, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// DefaultConfig returns a configuration with every default applied
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults sets default values for unspecified configuration
func (c *Config) applyDefaults() {
	if c.LogDir == "" {
		c.LogDir = DefaultLogDir
	}
	if c.Retention == 0 {
		c.Retention = DefaultRetention
	}
	if c.State.Path == "" {
		c.State.Path = DefaultStatePath
	}
	if c.State.Mirrors == nil {
		c.State.Mirrors = []string{"gzip"}
	}
	if c.Scan.MaxConcurrency == 0 {
		c.Scan.MaxConcurrency = runtime.NumCPU()
	}
	if c.Scan.CheckpointPath == "" {
		c.Scan.CheckpointPath = c.State.Path + ".files.json"
	}
	if c.Output.Level == "" {
		c.Output.Level = DefaultOutputLevel
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.FilePrefix == "" {
		return ErrMissingPrefix
	}

	if c.LogDir == "" {
		return errors.New("log_dir must not be empty")
	}
	if c.State.Path == "" {
		return errors.New("state.path must not be empty")
	}
	if c.Retention <= 0 {
		return fmt.Errorf("retention must be positive, got %s", c.Retention)
	}

	validMirrors := map[string]bool{
		"gzip": true, "zstd": true, "snappy": true,
	}
	for _, m := range c.State.Mirrors {
		if !validMirrors[m] {
			return fmt.Errorf("invalid state mirror codec: %s", m)
		}
	}

	if c.Scan.MaxConcurrency < 1 {
		return fmt.Errorf("scan.max_concurrency must be at least 1, got %d", c.Scan.MaxConcurrency)
	}
	if c.Scan.MaxLinesPerSecond < 0 {
		return fmt.Errorf("scan.max_lines_per_second must not be negative")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
	}

	return nil
}
