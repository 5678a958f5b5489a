// Package ghactions adapts envlock to the GitHub Actions runner: step
// outputs, cross-phase state, secret masks and annotations.
package ghactions

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	rperrors "github.com/flxbl-io/envlock/internal/errors"
	"github.com/flxbl-io/envlock/internal/fileutil"
)

// Environment variables defined by the runner.
const (
	EnvActions = "GITHUB_ACTIONS"
	EnvState   = "GITHUB_STATE"
	EnvOutput  = "GITHUB_OUTPUT"

	statePrefix = "STATE_"
)

// Host is a handle on the runner's command files and workflow command stream.
type Host struct {
	getenv  func(string) string
	stdout  io.Writer
	mu      sync.Mutex
	newUUID func() string
}

// Option configures a Host.
type Option func(*Host)

// WithGetenv overrides environment lookup.
func WithGetenv(fn func(string) string) Option {
	return func(h *Host) {
		h.getenv = fn
	}
}

// WithCommandWriter overrides where workflow commands are written.
func WithCommandWriter(w io.Writer) Option {
	return func(h *Host) {
		h.stdout = w
	}
}

// New creates a Host reading the process environment.
func New(opts ...Option) *Host {
	h := &Host{
		getenv:  os.Getenv,
		stdout:  os.Stdout,
		newUUID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Active reports whether this host runs inside GitHub Actions.
func (h *Host) Active() bool {
	return h.getenv(EnvActions) == "true"
}

// SetOutput publishes a step output.
func (h *Host) SetOutput(name, value string) error {
	return h.appendCommandFile(EnvOutput, name, value)
}

// Get implements runstate.Store. Values saved by an earlier phase are
// exposed by the runner as STATE_<key>.
func (h *Host) Get(key string) (string, bool) {
	v := h.getenv(statePrefix + key)
	return v, v != ""
}

// Set implements runstate.Store.
func (h *Host) Set(key, value string) error {
	return h.appendCommandFile(EnvState, key, value)
}

// AddMask registers a value the runner must redact from all logs.
func (h *Host) AddMask(value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	h.command("add-mask", value)
}

// Error emits an error annotation.
func (h *Host) Error(message string) {
	h.command("error", message)
}

// Warning emits a warning annotation.
func (h *Host) Warning(message string) {
	h.command("warning", message)
}

// Notice emits a notice annotation.
func (h *Host) Notice(message string) {
	h.command("notice", message)
}

func (h *Host) command(name, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, _ = fmt.Fprintf(h.stdout, "::%s::%s\n", name, escapeData(message))
}

// appendCommandFile writes name/value to the file named by envVar using the
// heredoc form, which tolerates multi-line values.
func (h *Host) appendCommandFile(envVar, name, value string) error {
	const op = "ghactions.appendCommandFile"

	path := h.getenv(envVar)
	if path == "" {
		return rperrors.New(rperrors.KindState, envVar+" is not set; not running inside GitHub Actions")
	}

	delimiter := "ghadelimiter_" + h.newUUID()
	if strings.Contains(name, delimiter) || strings.Contains(value, delimiter) {
		return rperrors.New(rperrors.KindInternal, "value contains the command file delimiter")
	}

	entry := fmt.Sprintf("%s<<%s\n%s\n%s\n", name, delimiter, value, delimiter)

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := fileutil.AppendFile(path, []byte(entry), 0o644); err != nil {
		return rperrors.StateWrap(err, op, "failed to write "+envVar)
	}
	return nil
}

var dataEscaper = strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A")

func escapeData(s string) string {
	return dataEscaper.Replace(s)
}
