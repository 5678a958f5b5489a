package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/flxbl-io/envlock/internal/acquire"
	"github.com/flxbl-io/envlock/internal/auth"
	"github.com/flxbl-io/envlock/internal/config"
	rperrors "github.com/flxbl-io/envlock/internal/errors"
	"github.com/flxbl-io/envlock/internal/lockclient"
	"github.com/flxbl-io/envlock/internal/repo"
	"github.com/flxbl-io/envlock/internal/resilience"
	"github.com/flxbl-io/envlock/internal/security"
)

// displayRetry bounds the org display fallback after a login that left
// fields unset.
var displayRetry = resilience.Config{
	Attempts:     3,
	InitialDelay: 2 * time.Second,
	MaxDelay:     10 * time.Second,
}

func newAcquireCmd(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "acquire",
		Short: "Lock an environment and publish its credentials",
		Long: `Lock an environment through the locking service and publish the
ticket and credentials it returns as step outputs.

When auto-unlock is enabled the ticket is recorded in the run state so
'envlock release' can unlock the environment when the job finishes,
whether or not later steps succeed.`,
		Annotations: map[string]string{phaseAnnotation: string(config.PhaseAcquire)},
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.runAcquire(cmd.Context())
		},
	}

	defaults := config.DefaultConfig()
	f := cmd.Flags()
	f.String("environment", "", "environment to lock")
	f.String("sfp-server-url", "", "locking service URL")
	f.String("sfp-server-token", "", "locking service token")
	f.String("repository", "", "owner repository (default: GITHUB_REPOSITORY or the origin remote)")
	f.Int("duration", defaults.Duration, "lease duration in minutes")
	f.String("reason", "", "reason recorded with the reservation")
	f.String("wait-timeout", defaults.WaitTimeout, "minutes to wait for the environment; 0 waits indefinitely")
	f.Bool("auto-unlock", defaults.AutoUnlock, "unlock the environment in the release phase")
	addClientFlags(cmd, defaults)
	f.Bool("auth-enabled", defaults.AuthEnabled, "log the Salesforce CLI in with the returned credentials")
	f.String("auth-binary", defaults.AuthBinary, "Salesforce CLI executable")

	return cmd
}

// addClientFlags registers the lock client binding flags shared by both
// phases.
func addClientFlags(cmd *cobra.Command, defaults *config.Config) {
	cmd.Flags().String("dialect", defaults.Dialect, "locking service dialect")
	cmd.Flags().String("sfp-binary", "", "lock client executable (default: the dialect's)")
}

func (o *Options) runAcquire(ctx context.Context) (err error) {
	cfg := o.Config
	host := o.host()

	defer func() {
		if err != nil && host.Active() && !rperrors.IsKind(err, rperrors.KindCanceled) {
			host.Error(security.Mask(rperrors.UserMessage(err)))
		}
	}()

	owner, err := repo.NewResolver(".").Resolve(cfg.Repository)
	if err != nil {
		return err
	}
	req, err := cfg.LockRequest(owner)
	if err != nil {
		return err
	}
	client, err := lockclient.NewClient(o.runner(), cfg.Dialect, cfg.SFPBinary)
	if err != nil {
		return err
	}
	store, err := o.stateStore()
	if err != nil {
		return err
	}

	var outputs acquire.Outputs = host
	console := &consoleOutputs{}
	if !host.Active() {
		outputs = console
	}

	opts := []acquire.Option{
		acquire.WithLogger(o.Logger),
		acquire.WithConsole(o.Stderr),
		acquire.WithVersion(o.Version.Version),
	}
	if cfg.AuthEnabled {
		opts = append(opts, acquire.WithAuthenticator(auth.New(o.runner(),
			auth.WithLogger(o.Logger),
			auth.WithBinary(cfg.AuthBinary),
			auth.WithDisplayRetry(displayRetry),
		)))
	}

	outcome, err := acquire.NewService(client, store, outputs, opts...).Run(ctx, acquire.Input{
		Request:      req,
		Server:       cfg.Server(),
		AutoRelease:  cfg.AutoUnlock,
		Authenticate: cfg.AuthEnabled,
	})
	if outcome != nil && outcome.Partial != nil && host.Active() {
		host.Warning(security.Mask(rperrors.UserMessage(outcome.Partial)))
	}
	if err == nil && host.Active() {
		host.Notice(security.Mask(fmt.Sprintf("Environment %s locked with ticket %s", req.TargetName, outcome.Lock.TicketID)))
	}
	if !host.Active() {
		if ferr := console.Flush(o.Stdout, o.JSONOutput); ferr != nil && err == nil {
			err = rperrors.IOWrap(ferr, "cli.acquire", "failed to write outputs")
		}
	}
	return err
}

// consoleOutputs collects step outputs outside GitHub Actions and prints
// them once the phase is done.
type consoleOutputs struct {
	names  []string
	values map[string]string
}

func (c *consoleOutputs) SetOutput(name, value string) error {
	if c.values == nil {
		c.values = make(map[string]string)
	}
	if _, seen := c.values[name]; !seen {
		c.names = append(c.names, name)
	}
	c.values[name] = value
	return nil
}

// Flush prints name=value lines, or one JSON object.
func (c *consoleOutputs) Flush(w io.Writer, asJSON bool) error {
	if len(c.names) == 0 {
		return nil
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(c.values)
	}
	for _, name := range c.names {
		if _, err := fmt.Fprintf(w, "%s=%s\n", name, c.values[name]); err != nil {
			return err
		}
	}
	return nil
}
