package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flxbl-io/envlock/internal/config"
	rperrors "github.com/flxbl-io/envlock/internal/errors"
	"github.com/flxbl-io/envlock/internal/runstate"
)

var stateKeys = []string{
	runstate.KeyOwed,
	runstate.KeyTicketID,
	runstate.KeyEnvironment,
	runstate.KeyRepository,
	runstate.KeyServerURL,
	runstate.KeyServerToken,
}

func newStateCmd(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect the run state shared by acquire and release",
	}
	cmd.AddCommand(newStateShowCmd(o))
	cmd.AddCommand(newStateClearCmd(o))
	return cmd
}

func newStateShowCmd(o *Options) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:         "show",
		Short:       "Print the recorded release state with the token redacted",
		Annotations: map[string]string{phaseAnnotation: string(config.PhaseRelease)},
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := o.stateStore()
			if err != nil {
				return err
			}
			return printState(cmd, runstate.Load(store).Redacted(), format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format (yaml, json)")
	return cmd
}

func printState(cmd *cobra.Command, s runstate.ReleaseState, format string) error {
	const op = "cli.state"

	out := cmd.OutOrStdout()
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s); err != nil {
			return rperrors.IOWrap(err, op, "failed to write state")
		}
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return rperrors.IOWrap(err, op, "failed to write state")
		}
		return enc.Close()
	default:
		return rperrors.Config(op, fmt.Sprintf("unknown format %q (available: yaml, json)", format))
	}
	return nil
}

func newStateClearCmd(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:         "clear",
		Short:       "Forget the recorded release state",
		Long:        "Forget the recorded release state so release makes no unlock call. Only local state files can be cleared.",
		Annotations: map[string]string{phaseAnnotation: string(config.PhaseRelease)},
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = "cli.state.clear"

			store, err := o.stateStore()
			if err != nil {
				return err
			}
			f, ok := store.(runstate.Forgetter)
			if !ok {
				return rperrors.State(op, "the runner's state cannot be cleared")
			}
			for _, key := range stateKeys {
				if err := f.Forget(key); err != nil {
					return err
				}
			}
			o.Logger.Info("Run state cleared")
			return nil
		},
	}
}
