package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ahmethakanbesel/histdata/internal/apperror"
)

const envPrefix = "HISTDATA_"

type Config struct {
	Port           string `yaml:"port"`
	DBPath         string `yaml:"db_path"`
	Workers        int    `yaml:"workers"`
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	FailurePolicy  string `yaml:"failure_policy"`
	SourceZone     string `yaml:"source_zone"`
	ProgressWeight uint64 `yaml:"progress_weight"`
	RunConcurrency int    `yaml:"run_concurrency"`
	// MaxDate is the latest requestable day (YYYY-MM-DD). Empty means the
	// end of the previous calendar year.
	MaxDate string `yaml:"max_date"`

	Session  SessionConfig  `yaml:"session"`
	Download DownloadConfig `yaml:"download"`
	Output   OutputConfig   `yaml:"output"`
}

// SessionConfig selects how archives are acquired.
type SessionConfig struct {
	Mode              string  `yaml:"mode"`
	BaseURL           string  `yaml:"base_url"`
	DriverBinary      string  `yaml:"driver_binary"`
	Headless          bool    `yaml:"headless"`
	PortLow           int     `yaml:"port_low"`
	PortHigh          int     `yaml:"port_high"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// DownloadConfig controls where archives land and how long to wait for them.
type DownloadConfig struct {
	Dir             string        `yaml:"dir"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxPollInterval time.Duration `yaml:"max_poll_interval"`
	Timeout         time.Duration `yaml:"timeout"`
}

// OutputConfig is the default persistence target.
type OutputConfig struct {
	Destination string `yaml:"destination"`
	Format      string `yaml:"format"`
}

func Default() Config {
	return Config{
		Port:           "8080",
		DBPath:         "histdata.db",
		Workers:        4,
		LogLevel:       "info",
		LogFormat:      "text",
		FailurePolicy:  "partial",
		SourceZone:     "UTC",
		ProgressWeight: 1,
		RunConcurrency: 1,
		Session: SessionConfig{
			Mode:              "http",
			BaseURL:           "https://www.histdata.com",
			DriverBinary:      "chromedriver",
			Headless:          true,
			PortLow:           9515,
			PortHigh:          9615,
			RequestsPerSecond: 1,
		},
		Download: DownloadConfig{
			Dir:             "downloads",
			PollInterval:    100 * time.Millisecond,
			MaxPollInterval: 2 * time.Second,
			Timeout:         5 * time.Minute,
		},
		Output: OutputConfig{
			Destination: "data",
			Format:      "csv",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, a .env file in the working directory and HISTDATA_* variables, in
// that order.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := LoadDotEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path. Keys absent from the file keep
// their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is supplied by the operator
	if err != nil {
		return apperror.Wrap(apperror.ConfigError, "read config file", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return apperror.Wrap(apperror.ConfigError, "parse config file", err)
	}
	return nil
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding variables already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var present []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			present = append(present, p)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return apperror.Wrap(apperror.ConfigError, "load .env", err)
	}
	return nil
}

// LoadFromEnv overlays HISTDATA_* environment variables.
func (c *Config) LoadFromEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.Workers = getEnvInt("WORKERS", c.Workers)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.FailurePolicy = getEnv("FAILURE_POLICY", c.FailurePolicy)
	c.SourceZone = getEnv("SOURCE_ZONE", c.SourceZone)
	c.ProgressWeight = uint64(getEnvInt("PROGRESS_WEIGHT", int(c.ProgressWeight)))
	c.RunConcurrency = getEnvInt("RUN_CONCURRENCY", c.RunConcurrency)
	c.MaxDate = getEnv("MAX_DATE", c.MaxDate)

	c.Session.Mode = getEnv("SESSION_MODE", c.Session.Mode)
	c.Session.BaseURL = getEnv("BASE_URL", c.Session.BaseURL)
	c.Session.DriverBinary = getEnv("DRIVER_BINARY", c.Session.DriverBinary)
	c.Session.PortLow = getEnvInt("PORT_LOW", c.Session.PortLow)
	c.Session.PortHigh = getEnvInt("PORT_HIGH", c.Session.PortHigh)

	c.Download.Dir = getEnv("DOWNLOAD_DIR", c.Download.Dir)
	c.Output.Destination = getEnv("DESTINATION", c.Output.Destination)
	c.Output.Format = getEnv("FORMAT", c.Output.Format)

	var errs []error
	if v := os.Getenv(envPrefix + "HEADLESS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sHEADLESS: %w", envPrefix, err))
		}
		c.Session.Headless = b
	}
	if v := os.Getenv(envPrefix + "REQUESTS_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sREQUESTS_PER_SECOND: %w", envPrefix, err))
		}
		c.Session.RequestsPerSecond = f
	}
	for key, dst := range map[string]*time.Duration{
		"POLL_INTERVAL":     &c.Download.PollInterval,
		"MAX_POLL_INTERVAL": &c.Download.MaxPollInterval,
		"DOWNLOAD_TIMEOUT":  &c.Download.Timeout,
	} {
		if v := os.Getenv(envPrefix + key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				continue
			}
			*dst = d
		}
	}
	if err := errors.Join(errs...); err != nil {
		return apperror.Wrap(apperror.ConfigError, "environment", err)
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Workers >= 1, "workers must be at least 1, got %d", c.Workers)
	check(c.Session.PortLow > 0 && c.Session.PortHigh > c.Session.PortLow && c.Session.PortHigh <= 65536,
		"port range [%d, %d) is empty or invalid", c.Session.PortLow, c.Session.PortHigh)
	check(c.Output.Format == "csv" || c.Output.Format == "parquet",
		"format must be csv or parquet, got %q", c.Output.Format)
	check(c.Session.Mode == "http" || c.Session.Mode == "webdriver",
		"session mode must be http or webdriver, got %q", c.Session.Mode)
	check(c.FailurePolicy == "partial" || c.FailurePolicy == "strict",
		"failure policy must be partial or strict, got %q", c.FailurePolicy)
	check(c.Download.PollInterval > 0, "poll interval must be positive")
	check(c.Download.MaxPollInterval >= c.Download.PollInterval, "max poll interval must not be below poll interval")
	check(c.Download.Timeout > 0, "download timeout must be positive")
	check(c.Session.RequestsPerSecond > 0, "requests per second must be positive")
	check(c.ProgressWeight > 0, "progress weight must be positive")
	check(c.RunConcurrency >= 1, "run concurrency must be at least 1")
	check(c.Session.Mode != "webdriver" || c.Session.DriverBinary != "", "driver binary is required in webdriver mode")

	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.MaxDateTime(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}

	if err := errors.Join(errs...); err != nil {
		return apperror.Wrap(apperror.ConfigError, "invalid configuration", err)
	}
	return nil
}

// Location resolves SourceZone. "EST" is the fixed UTC-5 offset the source
// publishes its timestamps in, without daylight saving.
func (c Config) Location() (*time.Location, error) {
	switch strings.ToUpper(c.SourceZone) {
	case "", "UTC":
		return time.UTC, nil
	case "EST":
		return time.FixedZone("EST", -5*60*60), nil
	}
	loc, err := time.LoadLocation(c.SourceZone)
	if err != nil {
		return nil, fmt.Errorf("unknown source zone %q: %w", c.SourceZone, err)
	}
	return loc, nil
}

// MaxDateTime returns the last second of MaxDate, or the zero time when
// MaxDate is unset.
func (c Config) MaxDateTime() (time.Time, error) {
	if c.MaxDate == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse("2006-01-02", c.MaxDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("max date %q: %w", c.MaxDate, err)
	}
	return d.Add(24*time.Hour - time.Second), nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return fallback
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
	}
	return n
}
