// Package security provides secret registration and masking for log output.
package security

import (
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/flxbl-io/envlock/internal/errors"
)

// maskReplacement matches what hosted runners print for registered secrets.
const maskReplacement = "***"

// Redactor registers values that must never appear in any log sink.
type Redactor interface {
	Redact(value string)
}

// Masker provides secret masking functionality for CLI output.
// Registered secrets are always masked; pattern-based redaction of
// unregistered token-like values is controlled by the enabled flag.
type Masker struct {
	mu        sync.RWMutex
	enabled   bool
	secrets   []string
	listeners []func(string)
}

// Ensure Masker implements Redactor.
var _ Redactor = (*Masker)(nil)

// globalMasker is the singleton instance used throughout the application.
var globalMasker = NewMasker()

// Default returns the process-wide masker.
func Default() *Masker {
	return globalMasker
}

// Enable enables pattern masking globally.
func Enable() {
	globalMasker.Enable()
}

// Disable disables pattern masking globally.
func Disable() {
	globalMasker.Disable()
}

// IsEnabled returns true if pattern masking is enabled globally.
func IsEnabled() bool {
	return globalMasker.IsEnabled()
}

// EnableInCI automatically enables masking if running in a CI environment.
func EnableInCI() {
	ciEnvVars := []string{
		"CI",
		"GITHUB_ACTIONS",
		"GITLAB_CI",
		"CIRCLECI",
		"JENKINS_URL",
		"BITBUCKET_PIPELINES",
		"AZURE_PIPELINES",
		"TF_BUILD",
		"BUILDKITE",
	}

	for _, env := range ciEnvVars {
		if os.Getenv(env) != "" {
			Enable()
			return
		}
	}
}

// Mask redacts sensitive data from a string using the global masker.
func Mask(s string) string {
	return globalMasker.Mask(s)
}

// NewMasker creates a new Masker instance.
// This can be used for testing or when you need independent masking control.
func NewMasker() *Masker {
	return &Masker{}
}

// Enable enables pattern masking for this Masker instance.
func (m *Masker) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
}

// Disable disables pattern masking for this Masker instance.
func (m *Masker) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// IsEnabled returns true if pattern masking is enabled for this Masker instance.
func (m *Masker) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// OnSecret registers a callback invoked once for every newly registered
// secret. Hosts use it to forward the value to their own log masking.
func (m *Masker) OnSecret(fn func(string)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	existing := append([]string(nil), m.secrets...)
	m.mu.Unlock()

	for _, s := range existing {
		fn(s)
	}
}

// Redact registers value as a secret. Empty values and duplicates are ignored.
func (m *Masker) Redact(value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}

	m.mu.Lock()
	for _, s := range m.secrets {
		if s == value {
			m.mu.Unlock()
			return
		}
	}
	m.secrets = append(m.secrets, value)
	// Longest first so a secret containing another is replaced whole.
	sort.SliceStable(m.secrets, func(i, j int) bool {
		return len(m.secrets[i]) > len(m.secrets[j])
	})
	listeners := make([]func(string), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(value)
	}
}

// Secrets returns the number of registered secrets.
func (m *Masker) Secrets() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.secrets)
}

// Mask replaces registered secrets and, when enabled, token-like patterns.
func (m *Masker) Mask(s string) string {
	m.mu.RLock()
	secrets := make([]string, len(m.secrets))
	copy(secrets, m.secrets)
	enabled := m.enabled
	m.mu.RUnlock()

	for _, secret := range secrets {
		s = strings.ReplaceAll(s, secret, maskReplacement)
	}
	if enabled {
		s = errors.RedactSensitive(s)
	}
	return s
}

// MaskedWriter wraps an io.Writer to automatically mask sensitive data.
type MaskedWriter struct {
	w      io.Writer
	masker *Masker
}

// NewMaskedWriter creates a new MaskedWriter that wraps the given writer.
// A nil masker uses the global masker.
func NewMaskedWriter(w io.Writer, masker *Masker) *MaskedWriter {
	if masker == nil {
		masker = globalMasker
	}
	return &MaskedWriter{w: w, masker: masker}
}

// Write implements io.Writer, masking sensitive data before writing.
func (mw *MaskedWriter) Write(p []byte) (n int, err error) {
	masked := mw.masker.Mask(string(p))
	// Report the original length to satisfy the io.Writer contract.
	if _, err = io.WriteString(mw.w, masked); err != nil {
		return 0, err
	}
	return len(p), nil
}
