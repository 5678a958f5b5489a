// Package cli provides the command-line interface for envlock.
package cli

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/flxbl-io/envlock/internal/config"
	rperrors "github.com/flxbl-io/envlock/internal/errors"
	"github.com/flxbl-io/envlock/internal/runstate"
	"github.com/flxbl-io/envlock/internal/security"
)

// phaseAnnotation marks which configuration a command validates against.
const phaseAnnotation = "envlock/phase"

var defaultOptions = NewOptions()

// SetVersionInfo sets the version information from main.
func SetVersionInfo(version, commit, date string) {
	defaultOptions.Version = VersionInfo{Version: version, Commit: commit, Date: date}
}

// ExecuteContext runs the root command with a context for graceful shutdown.
func ExecuteContext(ctx context.Context) error {
	return NewRootCmd(defaultOptions).ExecuteContext(ctx)
}

// NewRootCmd builds the command tree around o.
func NewRootCmd(o *Options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "envlock",
		Short: "Reserve a shared environment for the duration of a CI job",
		Long: `envlock reserves a shared environment through a locking service,
hands the credentials it returns to later steps, and releases the
reservation when the job finishes.

Run 'envlock acquire' as the main step and 'envlock release' as the
post step. Inside GitHub Actions the run state travels through the
runner's state file; elsewhere it is kept in --state-file.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			phase, ok := cmd.Annotations[phaseAnnotation]
			if !ok {
				return nil
			}
			return o.initConfig(cmd, config.Phase(phase))
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetOut(o.Stdout)
	rootCmd.SetErr(o.Stderr)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&o.ConfigFile, "config", "c", "", "config file (default: envlock.yaml)")
	pf.BoolVar(&o.JSONOutput, "json", false, "output logs and results as JSON")
	pf.BoolVar(&o.NoColor, "no-color", false, "disable colored output")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("state-file", "", "run state file used outside GitHub Actions")

	rootCmd.AddCommand(newVersionCmd(o))
	rootCmd.AddCommand(newAcquireCmd(o))
	rootCmd.AddCommand(newReleaseCmd(o))
	rootCmd.AddCommand(newStateCmd(o))
	rootCmd.AddCommand(newDoctorCmd(o))

	return rootCmd
}

// initConfig loads and validates the configuration, then configures the
// logger and the host integration.
func (o *Options) initConfig(cmd *cobra.Command, phase config.Phase) error {
	if o.NoColor || termenv.EnvNoColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	security.EnableInCI()
	if host := o.host(); host.Active() {
		security.Default().OnSecret(host.AddMask)
	}

	cfg, err := o.loadConfig(cmd)
	if err != nil {
		if phase != config.PhaseRelease {
			o.configureLogger(config.DefaultConfig().LogLevel)
			return err
		}
		// The release phase never fails the job.
		o.Warnings = append(o.Warnings, rperrors.UserMessage(err))
		cfg = config.DefaultConfig()
	}
	o.Config = cfg

	warnings, err := config.Validate(cfg, phase)
	o.Warnings = append(o.Warnings, warnings...)
	if err != nil {
		if phase != config.PhaseRelease {
			o.configureLogger(config.DefaultConfig().LogLevel)
			return err
		}
		o.Warnings = append(o.Warnings, rperrors.UserMessage(err))
	}

	o.configureLogger(cfg.LogLevel)
	for _, w := range o.Warnings {
		o.Logger.Warn(w)
	}
	return nil
}

// loadConfig reads every configuration source with the command's flags
// taking precedence.
func (o *Options) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	loader := config.NewLoader()
	if o.ConfigFile != "" {
		loader.WithConfigPath(o.ConfigFile)
	}
	if err := loader.BindFlags(cmd.Flags()); err != nil {
		return nil, err
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// configureLogger builds the logger for the run. Everything it writes is
// masked.
func (o *Options) configureLogger(level string) {
	o.Logger = log.NewWithOptions(security.NewMaskedWriter(o.Stderr, nil), log.Options{
		ReportTimestamp: true,
		ReportCaller:    false,
	})

	if o.JSONOutput {
		o.Logger.SetFormatter(log.JSONFormatter)
	}

	switch level {
	case "debug":
		o.Logger.SetLevel(log.DebugLevel)
	case "warn":
		o.Logger.SetLevel(log.WarnLevel)
	case "error":
		o.Logger.SetLevel(log.ErrorLevel)
	default:
		o.Logger.SetLevel(log.InfoLevel)
	}

	// Re-running a job with debug logging enabled sets RUNNER_DEBUG.
	if o.Getenv("RUNNER_DEBUG") == "1" {
		o.Logger.SetLevel(log.DebugLevel)
	}
}

// stateStore returns where run state is kept: the runner's state file
// inside GitHub Actions, a local file otherwise.
func (o *Options) stateStore() (runstate.Store, error) {
	if o.Config.StateFile == "" && o.host().Active() {
		return o.host(), nil
	}

	path := o.Config.StateFile
	if path == "" {
		path = config.DefaultStateFile(o.Getenv)
	}
	return runstate.NewFileStore(path)
}

func newVersionCmd(o *Options) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "envlock %s\n", o.Version.Version)
			if verbose {
				fmt.Fprintf(out, "  commit: %s\n", o.Version.Commit)
				fmt.Fprintf(out, "  built:  %s\n", o.Version.Date)
			}
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "include commit and build date")
	return cmd
}
