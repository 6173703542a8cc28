// Package config provides configuration types and defaults for hopctl.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Config holds all configuration for hopctl.
type Config struct {
	// WorkDir is the working directory for every spawned process.
	WorkDir      string        `yaml:"work_dir" mapstructure:"work_dir"`
	// Env is added to the environment of every spawned process, as KEY=VALUE.
	Env          []string      `yaml:"env" mapstructure:"env"`
	ReadyTimeout time.Duration `yaml:"ready_timeout" mapstructure:"ready_timeout"` // Time allowed for all participants to report ready

	Directory   DirectoryConfig   `yaml:"directory" mapstructure:"directory"`
	Relay       RelayConfig       `yaml:"relay" mapstructure:"relay"`
	Client      ClientConfig      `yaml:"client" mapstructure:"client"`
	Backoff     BackoffConfig     `yaml:"backoff" mapstructure:"backoff"`
	History     HistoryConfig     `yaml:"history" mapstructure:"history"`
	Paths       PathsConfig       `yaml:"paths" mapstructure:"paths"`
	LogRotation LogRotationConfig `yaml:"log_rotation" mapstructure:"log_rotation"`
}

// DirectoryConfig holds directory service query settings.
type DirectoryConfig struct {
	Command      string        `yaml:"command" mapstructure:"command"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"` // Roster re-query interval while connected (0 = disabled)
}

// RelayConfig holds settings for locally launched relay processes.
type RelayConfig struct {
	Command      string `yaml:"command" mapstructure:"command"` // Supports {index} and {instance}
	Count        int    `yaml:"count" mapstructure:"count"`
	ReadyPattern string `yaml:"ready_pattern" mapstructure:"ready_pattern"` // Regexp; empty matches any stdout line
}

// ClientConfig holds settings for the network client.
type ClientConfig struct {
	Command          string `yaml:"command" mapstructure:"command"`                       // Long-running client participant (empty = none)
	ReadyPattern     string `yaml:"ready_pattern" mapstructure:"ready_pattern"`           // Regexp; empty matches any stdout line
	FetchCommand     string `yaml:"fetch_command" mapstructure:"fetch_command"`           // Run once per request; supports {resource}
	MaxResponseBytes int    `yaml:"max_response_bytes" mapstructure:"max_response_bytes"` // Response bodies are truncated to this size
}

// BackoffConfig holds exponential backoff settings for directory retries.
type BackoffConfig struct {
	Initial time.Duration `yaml:"initial" mapstructure:"initial"`
	Max     time.Duration `yaml:"max" mapstructure:"max"` // 0 = uncapped
}

// HistoryConfig holds navigation history settings.
type HistoryConfig struct {
	SuppressDuplicates bool `yaml:"suppress_duplicates" mapstructure:"suppress_duplicates"`
}

// PathsConfig holds file paths for logs.
type PathsConfig struct {
	Log      string `yaml:"log" mapstructure:"log"`             // JSONL event log
	DebugLog string `yaml:"debug_log" mapstructure:"debug_log"` // slog output in TUI mode
}

// LogRotationConfig holds settings for log file rotation.
// Used for the TUI debug log (lumberjack-based automatic rotation).
type LogRotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool `yaml:"compress" mapstructure:"compress"`
}

// Default commands match the layout of the bundled mini relay network.
const (
	DefaultDirectoryCommand = "python console.py directory"
	DefaultRelayCommand     = "python server.py {instance}"
	DefaultFetchCommand     = "python client.py localhost 45000 0 localhost 45001 1 localhost 45002 2 {resource}"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		// The bundled relays print their startup line once and then block;
		// python holds it in a pipe buffer unless stdout is unbuffered.
		Env:          []string{"PYTHONUNBUFFERED=1"},
		ReadyTimeout: 15 * time.Second,
		Directory: DirectoryConfig{
			Command:      DefaultDirectoryCommand,
			PollInterval: 30 * time.Second,
		},
		Relay: RelayConfig{
			Command: DefaultRelayCommand,
			Count:   3,
		},
		Client: ClientConfig{
			FetchCommand:     DefaultFetchCommand,
			MaxResponseBytes: 1 << 20,
		},
		Backoff: BackoffConfig{
			Initial: time.Second,
			Max:     5 * time.Minute,
		},
		Paths: PathsConfig{
			Log:      ".hopctl/events.jsonl",
			DebugLog: ".hopctl/debug.log",
		},
		LogRotation: LogRotationConfig{
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
	}
}

// Validate reports every invalid setting, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Backoff.Initial < time.Second || c.Backoff.Initial%time.Second != 0 {
		add("backoff.initial must be a whole number of seconds >= 1s, got %v", c.Backoff.Initial)
	}
	if c.Backoff.Max < 0 || (c.Backoff.Max > 0 && c.Backoff.Max < c.Backoff.Initial) {
		add("backoff.max must be 0 or >= backoff.initial, got %v", c.Backoff.Max)
	}
	if c.Relay.Count < 1 {
		add("relay.count must be >= 1, got %d", c.Relay.Count)
	}
	if c.ReadyTimeout <= 0 {
		add("ready_timeout must be positive, got %v", c.ReadyTimeout)
	}
	if c.Directory.PollInterval < 0 {
		add("directory.poll_interval must not be negative, got %v", c.Directory.PollInterval)
	}
	if c.Client.MaxResponseBytes <= 0 {
		add("client.max_response_bytes must be positive, got %d", c.Client.MaxResponseBytes)
	}

	for _, kv := range c.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			add("env: %q is not KEY=VALUE", kv)
		}
	}

	for _, p := range []struct{ key, value string }{
		{"relay.ready_pattern", c.Relay.ReadyPattern},
		{"client.ready_pattern", c.Client.ReadyPattern},
	} {
		if _, err := regexp.Compile(p.value); err != nil {
			add("%s: %w", p.key, err)
		}
	}

	for _, cmd := range []struct {
		key, value string
		required   bool
	}{
		{"directory.command", c.Directory.Command, true},
		{"relay.command", c.Relay.Command, true},
		{"client.command", c.Client.Command, false},
		{"client.fetch_command", c.Client.FetchCommand, true},
	} {
		if cmd.value == "" && !cmd.required {
			continue
		}
		if _, err := ParseCommand(cmd.value); err != nil {
			add("%s: %w", cmd.key, err)
		}
	}

	return errors.Join(errs...)
}
