package config

import (
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper: unset every FINHARVEST_ variable for the duration of the test.
// Set-but-empty variables would override the defaults.
func clearEnv(t *testing.T) {
	for _, name := range []string{
		"FINHARVEST_OUTPUT", "FINHARVEST_START_DATE", "FINHARVEST_SOURCES",
		"FINHARVEST_JOURNAL", "FINHARVEST_LOG_FILE", "FINHARVEST_LOG_LEVEL",
		"FINHARVEST_LOG_JSON", "FINHARVEST_CHROME_PATH", "FINHARVEST_SHOW_BROWSER",
		"FINHARVEST_USER_AGENT", "FINHARVEST_POLL_INTERVAL", "FINHARVEST_READY_TIMEOUT",
		"FINHARVEST_CLICK_ATTEMPTS", "FINHARVEST_CLICK_BACKOFF", "FINHARVEST_MAX_LOADS",
		"FINHARVEST_SOURCE_TIMEOUT",
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

// TestLoad_Defaults verifies the documented defaults
func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	opts, err := Load(nil)
	require.NoError(t, err)
	require.NotNil(t, opts)

	assert.Equal(t, "news_2024.csv", opts.Output)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), opts.StartDate)
	assert.Empty(t, opts.SourcesFile)
	assert.Empty(t, opts.Journal)
	assert.Equal(t, "finharvest.log", opts.LogFile)
	assert.Equal(t, logrus.InfoLevel, opts.LogLevel)
	assert.False(t, opts.LogJSON)
	assert.Equal(t, "finharvest/1.0", opts.UserAgent)
	assert.Equal(t, 200*time.Millisecond, opts.PollInterval)
	assert.Equal(t, 60*time.Second, opts.ReadyTimeout)
	assert.Equal(t, 25, opts.ClickAttempts)
	assert.Equal(t, 200*time.Millisecond, opts.ClickBackoff)
	assert.Equal(t, 500, opts.MaxLoads)
	assert.Equal(t, 10*time.Minute, opts.SourceTimeout)
	assert.Zero(t, opts.ListFailures)
}

// TestLoad_Flags verifies command-line flags override defaults
func TestLoad_Flags(t *testing.T) {
	clearEnv(t)

	opts, err := Load([]string{
		"--output", "/data/news.csv",
		"--start-date", "2023-06-01",
		"--journal", "/data/journal.db",
		"--log-level", "debug",
		"--log-json",
		"--max-loads", "7",
		"--ready-timeout", "5s",
	})
	require.NoError(t, err)

	assert.Equal(t, "/data/news.csv", opts.Output)
	assert.Equal(t, time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), opts.StartDate)
	assert.Equal(t, "/data/journal.db", opts.Journal)
	assert.Equal(t, logrus.DebugLevel, opts.LogLevel)
	assert.True(t, opts.LogJSON)
	assert.Equal(t, 7, opts.MaxLoads)
	assert.Equal(t, 5*time.Second, opts.ReadyTimeout)
}

// TestLoad_Environment verifies options are read from the environment
func TestLoad_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("FINHARVEST_OUTPUT", "env.csv")
	t.Setenv("FINHARVEST_CLICK_ATTEMPTS", "3")
	t.Setenv("FINHARVEST_SOURCE_TIMEOUT", "90s")

	opts, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "env.csv", opts.Output)
	assert.Equal(t, 3, opts.ClickAttempts)
	assert.Equal(t, 90*time.Second, opts.SourceTimeout)
}

// TestLoad_FlagBeatsEnvironment verifies precedence of flags over the environment
func TestLoad_FlagBeatsEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("FINHARVEST_OUTPUT", "env.csv")

	opts, err := Load([]string{"--output", "flag.csv"})
	require.NoError(t, err)

	assert.Equal(t, "flag.csv", opts.Output)
}

// TestLoad_Invalid verifies bad values are rejected
func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"start date", []string{"--start-date", "01.01.2024"}, "start-date"},
		{"log level", []string{"--log-level", "loud"}, "log-level"},
		{"zero interval", []string{"--poll-interval", "0s"}, "poll-interval"},
		{"no attempts", []string{"--click-attempts", "0"}, "click-attempts"},
		{"no loads", []string{"--max-loads", "0"}, "max-loads"},
		{"failures without journal", []string{"--list-failures", "5"}, "requires --journal"},
		{"unknown flag", []string{"--frobnicate"}, "failed to parse configuration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)

			opts, err := Load(tt.args)

			assert.Nil(t, opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// TestOptions_Timings verifies the browser settings derived from options
func TestOptions_Timings(t *testing.T) {
	clearEnv(t)

	opts, err := Load([]string{"--poll-interval", "50ms", "--click-backoff", "1s"})
	require.NoError(t, err)

	pagination := opts.Pagination()
	assert.Equal(t, 50*time.Millisecond, opts.Polling().Interval)
	assert.Equal(t, opts.Polling(), pagination.Polling)
	assert.Equal(t, time.Second, pagination.ClickBackoff)
	assert.Equal(t, 500, pagination.MaxLoads)
}

// TestGetVersion verifies a version is always reported
func TestGetVersion(t *testing.T) {
	assert.NotEmpty(t, GetVersion())
}
