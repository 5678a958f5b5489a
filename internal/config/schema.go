// Package config provides configuration management for envlock.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Config is the root configuration for envlock. Keys match the action
// input names.
type Config struct {
	// Environment is the name of the environment to lock.
	Environment string `mapstructure:"environment" json:"environment" yaml:"environment"`
	// ServerURL is the locking service URL.
	ServerURL string `mapstructure:"sfp-server-url" json:"sfp-server-url" yaml:"sfp-server-url"`
	// ServerToken authenticates against the locking service.
	ServerToken string `mapstructure:"sfp-server-token" json:"-" yaml:"-"`
	// Repository is the owner repository, "owner/repo".
	Repository string `mapstructure:"repository" json:"repository,omitempty" yaml:"repository,omitempty"`
	// Duration is the lease length in minutes.
	Duration int `mapstructure:"duration" json:"duration" yaml:"duration"`
	// Reason is recorded with the reservation.
	Reason string `mapstructure:"reason" json:"reason,omitempty" yaml:"reason,omitempty"`
	// WaitTimeout is the maximum wait in minutes; 0 waits indefinitely.
	WaitTimeout string `mapstructure:"wait-timeout" json:"wait-timeout" yaml:"wait-timeout"`
	// AutoUnlock schedules the release phase to unlock.
	AutoUnlock bool `mapstructure:"auto-unlock" json:"auto-unlock" yaml:"auto-unlock"`
	// Dialect selects the lock client binding.
	Dialect string `mapstructure:"dialect" json:"dialect" yaml:"dialect"`
	// SFPBinary is the lock client executable.
	SFPBinary string `mapstructure:"sfp-binary" json:"sfp-binary,omitempty" yaml:"sfp-binary,omitempty"`
	// AuthEnabled runs the secondary login after acquiring.
	AuthEnabled bool `mapstructure:"auth-enabled" json:"auth-enabled" yaml:"auth-enabled"`
	// AuthBinary is the Salesforce CLI executable.
	AuthBinary string `mapstructure:"auth-binary" json:"auth-binary" yaml:"auth-binary"`
	// UnlockAttempts is the total number of unlock tries.
	UnlockAttempts int `mapstructure:"unlock-attempts" json:"unlock-attempts" yaml:"unlock-attempts"`
	// StateFile backs the run state outside GitHub Actions.
	StateFile string `mapstructure:"state-file" json:"state-file,omitempty" yaml:"state-file,omitempty"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log-level" json:"log-level" yaml:"log-level"`
}

// DefaultConfig returns the defaults applied before any source is read.
func DefaultConfig() *Config {
	return &Config{
		Duration:       60,
		WaitTimeout:    "0",
		AutoUnlock:     true,
		Dialect:        "sfp-server",
		AuthBinary:     "sf",
		UnlockAttempts: 1,
		LogLevel:       "info",
	}
}

// Keys lists every configuration key, in the order flags are registered.
var Keys = []string{
	"environment",
	"sfp-server-url",
	"sfp-server-token",
	"repository",
	"duration",
	"reason",
	"wait-timeout",
	"auto-unlock",
	"dialect",
	"sfp-binary",
	"auth-enabled",
	"auth-binary",
	"unlock-attempts",
	"state-file",
	"log-level",
}

// ConfigFileNames to search for.
var ConfigFileNames = []string{
	"envlock",
	".envlock",
}

// ConfigFileExtensions supported by Viper.
var ConfigFileExtensions = []string{
	"yaml",
	"yml",
	"toml",
	"json",
}

// Run-identifying variables set by common CI hosts, in lookup order.
var runIDVars = []string{
	"GITHUB_RUN_ID",
	"CI_PIPELINE_ID",
	"BUILD_BUILDID",
	"BUILDKITE_BUILD_ID",
	"CIRCLE_WORKFLOW_ID",
}

// DefaultStateFile returns the run-scoped state file used when none is
// configured. Runs are told apart by the host's run id so concurrent runs
// on one machine never share state.
func DefaultStateFile(getenv func(string) string) string {
	dir := getenv("RUNNER_TEMP")
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "envlock")
	} else {
		dir = filepath.Join(dir, "envlock")
	}

	run := "local"
	for _, key := range runIDVars {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			run = v
			if attempt := getenv("GITHUB_RUN_ATTEMPT"); key == "GITHUB_RUN_ID" && attempt != "" {
				run += "-" + attempt
			}
			break
		}
	}
	return filepath.Join(dir, "state-"+sanitize(run)+".json")
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
