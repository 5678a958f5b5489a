package cli

import (
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/flxbl-io/envlock/internal/config"
	"github.com/flxbl-io/envlock/internal/ghactions"
	"github.com/flxbl-io/envlock/internal/subprocess"
)

// Options holds the CLI runtime options and dependencies.
type Options struct {
	// Version information
	Version VersionInfo

	// Global flags
	ConfigFile string
	JSONOutput bool
	NoColor    bool

	// Runtime state
	Config   *config.Config
	Warnings []string
	Logger   *log.Logger

	// Runner executes the lock and login clients.
	Runner subprocess.Runner
	// Host is the GitHub Actions runner handle.
	Host *ghactions.Host
	// Getenv reads the process environment.
	Getenv func(string) string

	// I/O streams (for testing)
	Stdout io.Writer
	Stderr io.Writer
}

// VersionInfo holds version metadata.
type VersionInfo struct {
	Version string
	Commit  string
	Date    string
}

// NewOptions creates a new Options instance with default values.
func NewOptions() *Options {
	return &Options{
		Version: VersionInfo{Version: "dev", Commit: "none", Date: "unknown"},
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Getenv:  os.Getenv,
	}
}

// runner returns the configured runner, creating one streaming client
// stderr to the log stream.
func (o *Options) runner() subprocess.Runner {
	if o.Runner == nil {
		o.Runner = subprocess.NewExecRunner(subprocess.WithLiveOutput(o.Stderr))
	}
	return o.Runner
}

// host returns the configured runner handle.
func (o *Options) host() *ghactions.Host {
	if o.Host == nil {
		o.Host = ghactions.New(ghactions.WithGetenv(o.Getenv), ghactions.WithCommandWriter(o.Stdout))
	}
	return o.Host
}
