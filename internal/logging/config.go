// Package logging resolves how loud runner-sync is for a given invocation.
package logging

import (
	"strconv"
	"strings"

	"github.com/danmuck/runnersync/internal/config"
	"github.com/rs/zerolog"
)

const (
	EnvLogLevel     = "RUNNER_SYNC_LOG_LEVEL"
	EnvLogTimestamp = "RUNNER_SYNC_LOG_TIMESTAMP"
	EnvLogNoColor   = "RUNNER_SYNC_LOG_NOCOLOR"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config is the resolved logger shape.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
}

// Options are the command-line switches that influence logging.
type Options struct {
	Verbose bool
	Quiet   bool
}

// Resolve builds the logger config for profile, applies the command-line
// switches, then lets the environment read through lookup have the last word.
func Resolve(profile Profile, opts Options, lookup config.LookupFunc) Config {
	cfg := defaultConfig(profile)
	switch {
	case opts.Verbose:
		cfg.Level = zerolog.DebugLevel
	case opts.Quiet:
		cfg.Level = zerolog.ErrorLevel
	}
	if lookup != nil {
		applyEnvOverrides(&cfg, lookup)
	}
	return cfg
}

func defaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, Timestamp: false, NoColor: true}
	default:
		return Config{Level: zerolog.InfoLevel, Timestamp: true}
	}
}

func applyEnvOverrides(cfg *Config, lookup config.LookupFunc) {
	if raw, ok := lookup(EnvLogLevel); ok {
		if lvl, ok := parseLevel(raw); ok {
			cfg.Level = lvl
		}
	}
	if raw, ok := lookup(EnvLogTimestamp); ok {
		if v, ok := parseBool(raw); ok {
			cfg.Timestamp = v
		}
	}
	if raw, ok := lookup(EnvLogNoColor); ok {
		if v, ok := parseBool(raw); ok {
			cfg.NoColor = v
		}
	}
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none", "inactive":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
