// Package config loads harvester options from flags, the environment and an
// optional YAML sources file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pevans/finharvest/browser"
	"github.com/pevans/finharvest/dataset"
	"github.com/pevans/finharvest/discovery"
	"github.com/sirupsen/logrus"
)

// Version is set at build time via -ldflags
var Version = "dev"

// GetVersion returns the build version.
func GetVersion() string {
	// Equivalent to cmp.Or(Version, "unknown"); cmp.Or needs Go 1.22.
	if Version != "" {
		return Version
	}
	return "unknown"
}

type rawOptions struct {
	// Dataset and catalogue
	Output      string `long:"output" short:"o" env:"FINHARVEST_OUTPUT" default:"news_2024.csv" description:"Dataset file to resume and append to"`
	StartDate   string `long:"start-date" env:"FINHARVEST_START_DATE" default:"2024-01-01" description:"First date collected into an empty dataset (YYYY-MM-DD)"`
	SourcesFile string `long:"sources" env:"FINHARVEST_SOURCES" description:"YAML file with listing categories and feeds (default: built-in catalogue)"`
	Journal     string `long:"journal" env:"FINHARVEST_JOURNAL" description:"SQLite run journal (disabled when empty)"`

	// Logging
	LogFile  string `long:"log-file" env:"FINHARVEST_LOG_FILE" default:"finharvest.log" description:"Log file written in addition to stderr (empty to disable)"`
	LogLevel string `long:"log-level" env:"FINHARVEST_LOG_LEVEL" default:"info" description:"Log level (debug, info, warn, error)"`
	LogJSON  bool   `long:"log-json" env:"FINHARVEST_LOG_JSON" description:"Write logs as JSON"`

	// Browser
	ChromePath  string `long:"chrome-path" env:"FINHARVEST_CHROME_PATH" description:"Chrome or Chromium executable (default: auto-detect)"`
	ShowBrowser bool   `long:"show-browser" env:"FINHARVEST_SHOW_BROWSER" description:"Run the browser with a visible window"`
	UserAgent   string `long:"user-agent" env:"FINHARVEST_USER_AGENT" default:"finharvest/1.0" description:"User agent for the browser and feed requests"`

	// Timing
	PollInterval  time.Duration `long:"poll-interval" env:"FINHARVEST_POLL_INTERVAL" default:"200ms" description:"Interval between page readiness checks"`
	ReadyTimeout  time.Duration `long:"ready-timeout" env:"FINHARVEST_READY_TIMEOUT" default:"60s" description:"Maximum wait for a page to become ready"`
	ClickAttempts int           `long:"click-attempts" env:"FINHARVEST_CLICK_ATTEMPTS" default:"25" description:"Attempts to trigger one \"load more\""`
	ClickBackoff  time.Duration `long:"click-backoff" env:"FINHARVEST_CLICK_BACKOFF" default:"200ms" description:"Pause before each \"load more\" attempt"`
	MaxLoads      int           `long:"max-loads" env:"FINHARVEST_MAX_LOADS" default:"500" description:"Maximum \"load more\" triggers per listing page"`
	SourceTimeout time.Duration `long:"source-timeout" env:"FINHARVEST_SOURCE_TIMEOUT" default:"10m" description:"Maximum time spent on one source for one date"`

	// Reporting
	ListFailures int    `long:"list-failures" description:"Print the N most recent journaled source failures and exit"`
	InitSources  string `long:"init-sources" description:"Write the built-in catalogue to this YAML file and exit"`
	Version      bool   `long:"version" short:"v" description:"Print the version and exit"`
}

// Options is the validated harvester configuration.
type Options struct {
	Output      string
	StartDate   time.Time
	SourcesFile string
	Journal     string

	LogFile  string
	LogLevel logrus.Level
	LogJSON  bool

	ChromePath  string
	ShowBrowser bool
	UserAgent   string

	PollInterval  time.Duration
	ReadyTimeout  time.Duration
	ClickAttempts int
	ClickBackoff  time.Duration
	MaxLoads      int
	SourceTimeout time.Duration

	ListFailures int
	InitSources  string
	ShowVersion  bool
	Version      string
}

// Load parses args (without the program name) and the environment. It
// returns nil options and no error when help was requested.
func Load(args []string) (*Options, error) {
	var raw rawOptions

	parser := flags.NewParser(&raw, flags.Default)
	parser.Name = "finharvest"

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	return raw.validate()
}

func (raw *rawOptions) validate() (*Options, error) {
	var errs []error

	startDate, err := dataset.ParseDate(strings.TrimSpace(raw.StartDate))
	if err != nil {
		errs = append(errs, fmt.Errorf("start-date: %w", err))
	}

	level, err := logrus.ParseLevel(raw.LogLevel)
	if err != nil {
		errs = append(errs, fmt.Errorf("log-level: %w", err))
	}

	if strings.TrimSpace(raw.Output) == "" {
		errs = append(errs, errors.New("output: must not be empty"))
	}

	positive := map[string]time.Duration{
		"poll-interval":  raw.PollInterval,
		"ready-timeout":  raw.ReadyTimeout,
		"source-timeout": raw.SourceTimeout,
	}
	for _, name := range []string{"poll-interval", "ready-timeout", "source-timeout"} {
		if positive[name] <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive, got %v", name, positive[name]))
		}
	}
	if raw.ClickBackoff < 0 {
		errs = append(errs, fmt.Errorf("click-backoff: must not be negative, got %v", raw.ClickBackoff))
	}
	if raw.ClickAttempts < 1 {
		errs = append(errs, fmt.Errorf("click-attempts: must be at least 1, got %d", raw.ClickAttempts))
	}
	if raw.MaxLoads < 1 {
		errs = append(errs, fmt.Errorf("max-loads: must be at least 1, got %d", raw.MaxLoads))
	}
	if raw.ListFailures < 0 {
		errs = append(errs, fmt.Errorf("list-failures: must not be negative, got %d", raw.ListFailures))
	}
	if raw.ListFailures > 0 && raw.Journal == "" {
		errs = append(errs, errors.New("list-failures: requires --journal"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Options{
		Output:        raw.Output,
		StartDate:     startDate,
		SourcesFile:   raw.SourcesFile,
		Journal:       raw.Journal,
		LogFile:       raw.LogFile,
		LogLevel:      level,
		LogJSON:       raw.LogJSON,
		ChromePath:    raw.ChromePath,
		ShowBrowser:   raw.ShowBrowser,
		UserAgent:     raw.UserAgent,
		PollInterval:  raw.PollInterval,
		ReadyTimeout:  raw.ReadyTimeout,
		ClickAttempts: raw.ClickAttempts,
		ClickBackoff:  raw.ClickBackoff,
		MaxLoads:      raw.MaxLoads,
		SourceTimeout: raw.SourceTimeout,
		ListFailures:  raw.ListFailures,
		InitSources:   raw.InitSources,
		ShowVersion:   raw.Version,
		Version:       GetVersion(),
	}, nil
}

// Polling returns the page readiness settings.
func (o *Options) Polling() browser.Polling {
	return browser.Polling{
		Interval: o.PollInterval,
		Timeout:  o.ReadyTimeout,
	}
}

// Pagination returns the "load more" settings.
func (o *Options) Pagination() discovery.Pagination {
	return discovery.Pagination{
		Polling:       o.Polling(),
		ClickAttempts: o.ClickAttempts,
		ClickBackoff:  o.ClickBackoff,
		MaxLoads:      o.MaxLoads,
	}
}
