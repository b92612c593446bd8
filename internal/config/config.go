package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

const (
	DefaultFileName      = "navtrace.toml"
	defaultServerAddress = "127.0.0.1:8123"
	defaultOutputDir     = "test-results"
	defaultInternalHosts = `(^|\.)lambdatest\.(com|io)$`
)

type Config struct {
	// Upload credentials and endpoint
	Username      string        `env:"LT_USERNAME"`
	AccessKey     string        `env:"LT_ACCESS_KEY"`
	APIURL        string        `env:"NAVTRACE_API_URL"`
	RetryAttempts int           `env:"NAVTRACE_RETRY_ATTEMPTS"`
	RetryDelay    time.Duration `env:"NAVTRACE_RETRY_DELAY"`
	APITimeout    time.Duration `env:"NAVTRACE_API_TIMEOUT"`
	AutoUpload    bool          `env:"NAVTRACE_AUTO_UPLOAD"`
	BuildID       string        `env:"NAVTRACE_BUILD_ID"`

	// Storage
	OutputDir    string `env:"NAVTRACE_OUTPUT_DIR"`
	OutputFile   string `env:"NAVTRACE_OUTPUT_FILE"`
	DatabasePath string `env:"NAVTRACE_DB_PATH"`

	// Capture
	ServerAddress       string        `env:"NAVTRACE_ADDRESS"`
	PollInterval        time.Duration `env:"NAVTRACE_POLL_INTERVAL"`
	InternalHostPattern string        `env:"NAVTRACE_INTERNAL_HOSTS"`

	// Verbosity
	Debug      bool `env:"DEBUG_URL_TRACKER"`
	Verbose    bool `env:"VERBOSE"`
	APIVerbose bool `env:"API_VERBOSE"`
}

// fileConfig mirrors the TOML layout. Durations are milliseconds.
type fileConfig struct {
	API struct {
		URL           string `toml:"url"`
		Username      string `toml:"username"`
		AccessKey     string `toml:"access_key"`
		RetryAttempts int    `toml:"retry_attempts"`
		RetryDelayMS  int    `toml:"retry_delay_ms"`
		TimeoutMS     int    `toml:"timeout_ms"`
		AutoUpload    *bool  `toml:"auto_upload"`
		BuildID       string `toml:"build_id"`
	} `toml:"api"`
	Output struct {
		Dir      string `toml:"dir"`
		File     string `toml:"file"`
		Database string `toml:"database"`
	} `toml:"output"`
	Capture struct {
		Address        string `toml:"address"`
		PollIntervalMS int    `toml:"poll_interval_ms"`
		InternalHosts  string `toml:"internal_hosts"`
	} `toml:"capture"`
	Logging struct {
		Debug   *bool `toml:"debug"`
		Verbose *bool `toml:"verbose"`
	} `toml:"logging"`
}

func Default() *Config {
	return &Config{
		RetryAttempts:       3,
		RetryDelay:          time.Second,
		APITimeout:          30 * time.Second,
		OutputDir:           defaultOutputDir,
		ServerAddress:       defaultServerAddress,
		PollInterval:        300 * time.Millisecond,
		InternalHostPattern: defaultInternalHosts,
	}
}

// Load layers defaults, the TOML file at path (optional when it does not
// exist), a .env file in the working directory and the process environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	fc.apply(cfg)
	return nil
}

func (fc *fileConfig) apply(cfg *Config) {
	if fc.API.URL != "" {
		cfg.APIURL = fc.API.URL
	}
	if fc.API.Username != "" {
		cfg.Username = fc.API.Username
	}
	if fc.API.AccessKey != "" {
		cfg.AccessKey = fc.API.AccessKey
	}
	if fc.API.RetryAttempts > 0 {
		cfg.RetryAttempts = fc.API.RetryAttempts
	}
	if fc.API.RetryDelayMS > 0 {
		cfg.RetryDelay = time.Duration(fc.API.RetryDelayMS) * time.Millisecond
	}
	if fc.API.TimeoutMS > 0 {
		cfg.APITimeout = time.Duration(fc.API.TimeoutMS) * time.Millisecond
	}
	if fc.API.AutoUpload != nil {
		cfg.AutoUpload = *fc.API.AutoUpload
	}
	if fc.API.BuildID != "" {
		cfg.BuildID = fc.API.BuildID
	}
	if fc.Output.Dir != "" {
		cfg.OutputDir = fc.Output.Dir
	}
	if fc.Output.File != "" {
		cfg.OutputFile = fc.Output.File
	}
	if fc.Output.Database != "" {
		cfg.DatabasePath = fc.Output.Database
	}
	if fc.Capture.Address != "" {
		cfg.ServerAddress = fc.Capture.Address
	}
	if fc.Capture.PollIntervalMS > 0 {
		cfg.PollInterval = time.Duration(fc.Capture.PollIntervalMS) * time.Millisecond
	}
	if fc.Capture.InternalHosts != "" {
		cfg.InternalHostPattern = fc.Capture.InternalHosts
	}
	if fc.Logging.Debug != nil {
		cfg.Debug = *fc.Logging.Debug
	}
	if fc.Logging.Verbose != nil {
		cfg.Verbose = *fc.Logging.Verbose
	}
}

func (c *Config) Validate() error {
	if c.RetryAttempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1, got %d", c.RetryAttempts)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay cannot be negative")
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("poll interval cannot be negative")
	}
	return nil
}

// StorePath is the JSON store for the given default file name, honouring
// an explicit OutputFile.
func (c *Config) StorePath(defaultFile string) string {
	if c.OutputFile != "" {
		if filepath.IsAbs(c.OutputFile) || c.OutputDir == "" {
			return c.OutputFile
		}
		return filepath.Join(c.OutputDir, c.OutputFile)
	}
	return filepath.Join(c.OutputDir, defaultFile)
}

func (c *Config) HasCredentials() bool {
	return c.Username != "" && c.AccessKey != ""
}
