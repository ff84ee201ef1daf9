package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/ahmethakanbesel/histdata/internal/acquire"
	"github.com/ahmethakanbesel/histdata/internal/config"
	"github.com/ahmethakanbesel/histdata/internal/pipeline"
	"github.com/ahmethakanbesel/histdata/internal/scraper"
	"github.com/ahmethakanbesel/histdata/internal/scraper/histdata"
)

// settings binds the flags shared by fetch and serve. Flag values are
// parsed into a scratch Config and copied onto the loaded configuration
// only when the flag was given, so they take precedence over the file and
// the environment without clobbering them with defaults.
type settings struct {
	fs         *pflag.FlagSet
	configPath string
	scratch    config.Config
	apply      map[string]func(*config.Config)
}

func newSettings(name string, stderr io.Writer) *settings {
	s := &settings{
		fs:      pflag.NewFlagSet(name, pflag.ContinueOnError),
		scratch: config.Default(),
		apply:   make(map[string]func(*config.Config)),
	}
	s.fs.SetOutput(stderr)
	s.fs.StringVarP(&s.configPath, "config", "c", "", "YAML configuration file")

	bind(s, "workers", "w", s.fs.IntVarP, func(c *config.Config) *int { return &c.Workers }, "parallel download workers")
	bind(s, "mode", "m", s.fs.StringVarP, func(c *config.Config) *string { return &c.Session.Mode }, "session mode: http or webdriver")
	bind(s, "policy", "", s.fs.StringVarP, func(c *config.Config) *string { return &c.FailurePolicy }, "failure policy: partial or strict")
	bind(s, "format", "f", s.fs.StringVarP, func(c *config.Config) *string { return &c.Output.Format }, "output format: csv or parquet")
	bind(s, "dest", "o", s.fs.StringVarP, func(c *config.Config) *string { return &c.Output.Destination }, "output directory or bucket URL")
	bind(s, "download-dir", "", s.fs.StringVarP, func(c *config.Config) *string { return &c.Download.Dir }, "scratch directory for archives")
	bind(s, "db", "", s.fs.StringVarP, func(c *config.Config) *string { return &c.DBPath }, "sqlite run ledger path")
	bind(s, "zone", "", s.fs.StringVarP, func(c *config.Config) *string { return &c.SourceZone }, "time zone of source timestamps (UTC, EST or IANA name)")
	bind(s, "base-url", "", s.fs.StringVarP, func(c *config.Config) *string { return &c.Session.BaseURL }, "source site root")
	bind(s, "driver", "", s.fs.StringVarP, func(c *config.Config) *string { return &c.Session.DriverBinary }, "chromedriver binary (webdriver mode)")
	bind(s, "headless", "", s.fs.BoolVarP, func(c *config.Config) *bool { return &c.Session.Headless }, "run the browser headless (webdriver mode)")
	bind(s, "port-low", "", s.fs.IntVarP, func(c *config.Config) *int { return &c.Session.PortLow }, "first port leased to sessions")
	bind(s, "port-high", "", s.fs.IntVarP, func(c *config.Config) *int { return &c.Session.PortHigh }, "end of the session port range (exclusive)")
	bind(s, "rps", "", s.fs.Float64VarP, func(c *config.Config) *float64 { return &c.Session.RequestsPerSecond }, "page loads per second across all workers")
	bind(s, "timeout", "", s.fs.DurationVarP, func(c *config.Config) *time.Duration { return &c.Download.Timeout }, "maximum wait for one archive")
	bind(s, "max-date", "", s.fs.StringVarP, func(c *config.Config) *string { return &c.MaxDate }, "latest requestable day, YYYY-MM-DD")
	bind(s, "log-level", "", s.fs.StringVarP, func(c *config.Config) *string { return &c.LogLevel }, "debug, info, warn or error")
	bind(s, "log-format", "", s.fs.StringVarP, func(c *config.Config) *string { return &c.LogFormat }, "text or json")
	return s
}

// bind registers one flag whose default and destination come from field.
func bind[T any](s *settings, name, short string, define func(p *T, name, shorthand string, value T, usage string), field func(*config.Config) *T, usage string) {
	p := field(&s.scratch)
	define(p, name, short, *p, usage)
	s.apply[name] = func(c *config.Config) { *field(c) = *p }
}

// load parses args and resolves the configuration: defaults, file, .env,
// environment, then flags.
func (s *settings) load(args []string) (config.Config, error) {
	if err := s.fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return config.Config{}, err
		}
		return config.Config{}, usageError{err}
	}

	cfg, err := config.Load(s.configPath)
	if err != nil {
		return config.Config{}, err
	}
	s.fs.Visit(func(f *pflag.Flag) {
		if apply, ok := s.apply[f.Name]; ok {
			apply(&cfg)
		}
	})
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// newPipeline wires the acquisition pipeline described by cfg.
func newPipeline(cfg config.Config) (*pipeline.Pipeline, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	maxDate, err := cfg.MaxDateTime()
	if err != nil {
		return nil, err
	}
	policy, err := pipeline.ParsePolicy(cfg.FailurePolicy)
	if err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.Session.RequestsPerSecond), cfg.Workers)
	common := []histdata.Option{
		histdata.WithBaseURL(cfg.Session.BaseURL),
		histdata.WithLimiter(limiter),
		histdata.WithDriverBinary(cfg.Session.DriverBinary),
		histdata.WithHeadless(cfg.Session.Headless),
	}
	registry := scraper.NewRegistry()
	registry.Register(histdata.NewHTTP(common...))
	registry.Register(histdata.NewWebDriver(common...))

	opener, err := registry.Get(cfg.Session.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w (available: %v)", err, registry.Modes())
	}

	return pipeline.New(opener,
		pipeline.WithWorkers(cfg.Workers),
		pipeline.WithPortRange(cfg.Session.PortLow, cfg.Session.PortHigh),
		pipeline.WithDownloadDir(cfg.Download.Dir),
		pipeline.WithLocation(loc),
		pipeline.WithWeight(cfg.ProgressWeight),
		pipeline.WithWait(acquire.WaitConfig{
			Interval:    cfg.Download.PollInterval,
			MaxInterval: cfg.Download.MaxPollInterval,
			Timeout:     cfg.Download.Timeout,
		}),
		pipeline.WithPolicy(policy),
		pipeline.WithMaxDate(maxDate),
	), nil
}
