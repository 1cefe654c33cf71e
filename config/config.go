// Package config loads taskloop's runtime configuration from TOML,
// grounded on the teacher pack's config story (Sunzhuoyi-lindb decodes its
// daemon config with github.com/BurntSushi/toml).
package config

import (
	"github.com/BurntSushi/toml"
)

// Logging configures the logging package's zap/lumberjack setup.
type Logging struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxAgeDays int    `toml:"max_age_days"`
	MaxBackups int    `toml:"max_backups"`
	Console    bool   `toml:"console"`
}

// Config is the loop's ambient runtime configuration.
type Config struct {
	// StackSize is the configured accounting stack size. No package reads
	// it: scheduler.Create maps a zero stackSize to
	// scheduler.DefaultStackSize on its own.
	StackSize int `toml:"stack_size"`
	// TickBudget bounds how many async.Channel jobs are drained inline
	// per wake, mirroring the teacher's processExternal budget constant.
	TickBudget int `toml:"tick_budget"`
	// PollTimeoutMS caps how long a single poller.Wait may block when no
	// timer is pending, so a loop can still notice external Stop/ctx
	// cancellation in bounded time.
	PollTimeoutMS int `toml:"poll_timeout_ms"`
	// ExecConcurrency bounds the number of concurrently in-flight
	// async.Promisify goroutines (0 means unbounded).
	ExecConcurrency int `toml:"exec_concurrency"`

	Logging Logging `toml:"logging"`
}

// Default returns the zero-value fallback configuration.
func Default() Config {
	return Config{
		StackSize:       8 * 1024,
		TickBudget:      1024,
		PollTimeoutMS:   1000,
		ExecConcurrency: 64,
		Logging: Logging{
			Level:   "info",
			Console: true,
		},
	}
}

// Load decodes a TOML file at path over Default(), so any field the file
// omits keeps its default.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
