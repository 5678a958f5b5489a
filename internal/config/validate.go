package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	rperrors "github.com/flxbl-io/envlock/internal/errors"
	"github.com/flxbl-io/envlock/internal/lockclient"
)

// maxUnlockAttempts is the point past which retries are flagged as likely
// misconfiguration.
const maxUnlockAttempts = 10

// Phase selects which fields a command needs.
type Phase string

const (
	// PhaseAcquire needs the server and environment.
	PhaseAcquire Phase = "acquire"
	// PhaseRelease reads everything else from run state.
	PhaseRelease Phase = "release"
)

// ValidationError contains all validation errors and warnings.
type ValidationError struct {
	Errors   []string
	Warnings []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	var parts []string

	if len(e.Errors) > 0 {
		parts = append(parts, fmt.Sprintf("Errors:\n  - %s", strings.Join(e.Errors, "\n  - ")))
	}

	if len(e.Warnings) > 0 {
		parts = append(parts, fmt.Sprintf("Warnings:\n  - %s", strings.Join(e.Warnings, "\n  - ")))
	}

	return fmt.Sprintf("configuration validation failed:\n%s", strings.Join(parts, "\n"))
}

// HasErrors returns true if there are validation errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// HasWarnings returns true if there are validation warnings.
func (e *ValidationError) HasWarnings() bool {
	return len(e.Warnings) > 0
}

// Addf adds a formatted error to the validation error.
func (e *ValidationError) Addf(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

// Warnf adds a formatted warning to the validation error.
func (e *ValidationError) Warnf(format string, args ...any) {
	e.Warnings = append(e.Warnings, fmt.Sprintf(format, args...))
}

// Validator validates configuration.
type Validator struct {
	errors *ValidationError
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: &ValidationError{},
	}
}

// Validate validates cfg for phase. Warnings are returned whether or not
// validation failed; the caller decides how to surface them.
func (v *Validator) Validate(cfg *Config, phase Phase) ([]string, error) {
	if phase == PhaseAcquire {
		v.validateAcquire(cfg)
	}
	v.validateClient(cfg)
	v.validateOutput(cfg)

	if v.errors.HasErrors() {
		return v.errors.Warnings, rperrors.Config("config.Validate", v.errors.Error())
	}
	return v.errors.Warnings, nil
}

// validateAcquire validates the lock request inputs.
func (v *Validator) validateAcquire(cfg *Config) {
	if cfg.Environment == "" {
		v.errors.Addf("environment: required")
	}
	if cfg.ServerToken == "" {
		v.errors.Addf("sfp-server-token: required")
	}

	switch {
	case cfg.ServerURL == "":
		v.errors.Addf("sfp-server-url: required")
	default:
		u, err := url.Parse(cfg.ServerURL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			v.errors.Addf("sfp-server-url: must be an http(s) URL, got %q", cfg.ServerURL)
		} else if u.Scheme == "http" {
			v.errors.Warnf("sfp-server-url: the server token is sent to a plain http URL")
		}
	}

	if cfg.Duration <= 0 {
		v.errors.Warnf("duration: %d is not a positive number of minutes, using %d",
			cfg.Duration, lockclient.DefaultDurationMinutes)
	}

	if _, err := lockclient.ParseWaitPolicy(cfg.WaitTimeout); err != nil {
		v.errors.Addf("wait-timeout: %s", rperrors.UserMessage(err))
	}

	if cfg.AuthEnabled && cfg.AuthBinary == "" {
		v.errors.Addf("auth-binary: required when auth-enabled is set")
	}

	if !cfg.AutoUnlock {
		v.errors.Warnf("auto-unlock: disabled, the environment stays locked until unlocked manually or the lease expires")
	}
}

// validateClient validates the lock client binding and release retry.
func (v *Validator) validateClient(cfg *Config) {
	if _, err := lockclient.LookupDialect(cfg.Dialect); err != nil {
		v.errors.Addf("dialect: %s", rperrors.UserMessage(err))
	}

	switch {
	case cfg.UnlockAttempts < 1:
		v.errors.Addf("unlock-attempts: must be at least 1, got %d", cfg.UnlockAttempts)
	case cfg.UnlockAttempts > maxUnlockAttempts:
		v.errors.Warnf("unlock-attempts: %d retries can hold the job for several minutes", cfg.UnlockAttempts)
	}
}

// validateOutput validates logging configuration.
func (v *Validator) validateOutput(cfg *Config) {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, cfg.LogLevel) {
		v.errors.Addf("log-level: must be one of %v, got %q", validLogLevels, cfg.LogLevel)
	}
}

// Validate is a convenience function to validate configuration.
func Validate(cfg *Config, phase Phase) ([]string, error) {
	return NewValidator().Validate(cfg, phase)
}
