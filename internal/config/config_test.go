package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ahmethakanbesel/histdata/internal/apperror"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Workers != 4 || cfg.Session.PortLow != 9515 || cfg.Session.PortHigh != 9615 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.Download.PollInterval != 100*time.Millisecond || cfg.Download.Timeout != 5*time.Minute {
		t.Errorf("unexpected download defaults %+v", cfg.Download)
	}
}

func TestLoadFile_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "histdata.yaml")
	data := `
workers: 8
failure_policy: strict
session:
  mode: webdriver
  headless: false
download:
  poll_interval: 250ms
  timeout: 2m
output:
  format: parquet
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Workers != 8 || cfg.FailurePolicy != "strict" || cfg.Output.Format != "parquet" {
		t.Errorf("overlay not applied: %+v", cfg)
	}
	if cfg.Session.Mode != "webdriver" || cfg.Session.Headless {
		t.Errorf("session overlay not applied: %+v", cfg.Session)
	}
	if cfg.Download.PollInterval != 250*time.Millisecond || cfg.Download.Timeout != 2*time.Minute {
		t.Errorf("durations = %v, %v", cfg.Download.PollInterval, cfg.Download.Timeout)
	}
	// untouched keys keep defaults
	if cfg.Session.PortLow != 9515 || cfg.Download.MaxPollInterval != 2*time.Second {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	cfg := Default()
	if err := cfg.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); apperror.CodeOf(err) != apperror.ConfigError {
		t.Errorf("expected ConfigError, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(path, []byte("workers: [1, 2"), 0o600)
	if err := cfg.LoadFile(path); apperror.CodeOf(err) != apperror.ConfigError {
		t.Errorf("expected ConfigError, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HISTDATA_WORKERS", "6")
	t.Setenv("HISTDATA_SESSION_MODE", "webdriver")
	t.Setenv("HISTDATA_HEADLESS", "false")
	t.Setenv("HISTDATA_POLL_INTERVAL", "50ms")
	t.Setenv("HISTDATA_REQUESTS_PER_SECOND", "2.5")
	t.Setenv("HISTDATA_FORMAT", "parquet")

	cfg := Default()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatal(err)
	}
	if cfg.Workers != 6 || cfg.Session.Mode != "webdriver" || cfg.Session.Headless {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.Download.PollInterval != 50*time.Millisecond || cfg.Session.RequestsPerSecond != 2.5 {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.Output.Format != "parquet" {
		t.Errorf("format = %q", cfg.Output.Format)
	}
}

func TestLoadFromEnv_InvalidValues(t *testing.T) {
	t.Setenv("HISTDATA_DOWNLOAD_TIMEOUT", "forever")
	t.Setenv("HISTDATA_HEADLESS", "maybe")

	cfg := Default()
	err := cfg.LoadFromEnv()
	if apperror.CodeOf(err) != apperror.ConfigError {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	for _, want := range []string{"HISTDATA_DOWNLOAD_TIMEOUT", "HISTDATA_HEADLESS"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestGetEnvInt_FallsBackOnGarbage(t *testing.T) {
	t.Setenv("HISTDATA_WORKERS", "four")
	if got := getEnvInt("WORKERS", 4); got != 4 {
		t.Errorf("got %d", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("HISTDATA_TEST_DOTENV_DB=from-dotenv.db\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("HISTDATA_TEST_DOTENV_DB") })

	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := getEnv("TEST_DOTENV_DB", ""); got != "from-dotenv.db" {
		t.Errorf("got %q", got)
	}

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "nothing.env")); err != nil {
		t.Errorf("missing file should be ignored: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mod  func(c *Config)
		want string
	}{
		{"zero workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"empty port range", func(c *Config) { c.Session.PortHigh = c.Session.PortLow }, "port range"},
		{"inverted port range", func(c *Config) { c.Session.PortLow, c.Session.PortHigh = 9600, 9500 }, "port range"},
		{"bad format", func(c *Config) { c.Output.Format = "json" }, "format"},
		{"bad mode", func(c *Config) { c.Session.Mode = "carrier-pigeon" }, "session mode"},
		{"bad policy", func(c *Config) { c.FailurePolicy = "lenient" }, "failure policy"},
		{"zero poll", func(c *Config) { c.Download.PollInterval = 0 }, "poll interval"},
		{"zero timeout", func(c *Config) { c.Download.Timeout = 0 }, "download timeout"},
		{"bad zone", func(c *Config) { c.SourceZone = "Mars/Olympus" }, "source zone"},
		{"bad max date", func(c *Config) { c.MaxDate = "2020-13-01" }, "max date"},
		{"bad log level", func(c *Config) { c.LogLevel = "chatty" }, "log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mod(&cfg)
			err := cfg.Validate()
			if apperror.CodeOf(err) != apperror.ConfigError {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLocation(t *testing.T) {
	cfg := Default()

	cfg.SourceZone = "EST"
	loc, err := cfg.Location()
	if err != nil {
		t.Fatal(err)
	}
	ts := time.Date(2001, 7, 1, 0, 0, 0, 0, loc)
	if _, off := ts.Zone(); off != -5*3600 {
		t.Errorf("EST offset = %d, want fixed -5h", off)
	}

	cfg.SourceZone = "utc"
	if loc, _ := cfg.Location(); loc != time.UTC {
		t.Errorf("expected UTC, got %v", loc)
	}
}

func TestMaxDateTime(t *testing.T) {
	cfg := Default()
	if d, err := cfg.MaxDateTime(); err != nil || !d.IsZero() {
		t.Errorf("unset max date = %v, %v", d, err)
	}
	cfg.MaxDate = "2023-12-31"
	d, err := cfg.MaxDateTime()
	if err != nil {
		t.Fatal(err)
	}
	if !d.Equal(time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC)) {
		t.Errorf("got %v", d)
	}
}
