package cli

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/flxbl-io/envlock/internal/config"
	rperrors "github.com/flxbl-io/envlock/internal/errors"
	"github.com/flxbl-io/envlock/internal/lockclient"
	"github.com/flxbl-io/envlock/internal/release"
	"github.com/flxbl-io/envlock/internal/security"
)

func newReleaseCmd(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Unlock the environment locked by acquire",
		Long: `Unlock the environment reserved by 'envlock acquire' in the same run.

Nothing is unlocked unless acquire recorded the reservation with
auto-unlock enabled. A failed unlock is reported as a warning and the
command still succeeds, so it never fails the job it cleans up after.`,
		Aliases:     []string{"cleanup"},
		Annotations: map[string]string{phaseAnnotation: string(config.PhaseRelease)},
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.runRelease(cmd.Context())
		},
	}

	defaults := config.DefaultConfig()
	addClientFlags(cmd, defaults)
	cmd.Flags().Int("unlock-attempts", defaults.UnlockAttempts, "total unlock attempts, with exponential backoff between them")

	return cmd
}

// releaseReport is the --json summary of the release phase.
type releaseReport struct {
	Attempted bool   `json:"attempted"`
	Released  bool   `json:"released"`
	State     string `json:"state"`
	Message   string `json:"message,omitempty"`
}

func (o *Options) runRelease(ctx context.Context) error {
	cfg := o.Config
	host := o.host()

	warn := func(msg string) {
		o.Logger.Warn(msg)
		if host.Active() {
			host.Warning(security.Mask(msg))
		}
	}

	client, err := lockclient.NewClient(o.runner(), cfg.Dialect, cfg.SFPBinary)
	if err != nil {
		warn("Cleanup skipped: " + rperrors.UserMessage(err))
		return nil
	}
	store, err := o.stateStore()
	if err != nil {
		warn("Cleanup skipped: " + rperrors.UserMessage(err))
		return nil
	}

	opts := []release.Option{
		release.WithLogger(o.Logger),
		release.WithConsole(o.Stderr),
		release.WithRetry(cfg.UnlockRetry()),
		release.WithRequireOwner(client.Dialect().RequiresOwnerRepository()),
		release.WithVersion(o.Version.Version),
	}
	if host.Active() {
		opts = append(opts, release.WithNotifier(host))
	}

	outcome, err := release.NewService(client, store, opts...).Run(ctx)
	if err != nil {
		return err
	}

	if o.JSONOutput {
		report := releaseReport{
			Attempted: outcome.Attempted,
			Released:  outcome.Released,
			State:     outcome.State,
		}
		if outcome.Err != nil {
			report.Message = security.Mask(rperrors.UserMessage(outcome.Err))
		}
		enc := json.NewEncoder(o.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			o.Logger.Debug("Could not write release report", "error", err)
		}
	}
	return nil
}
