package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"runtime"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/flxbl-io/envlock/internal/config"
	rperrors "github.com/flxbl-io/envlock/internal/errors"
	"github.com/flxbl-io/envlock/internal/ghactions"
	"github.com/flxbl-io/envlock/internal/lockclient"
	"github.com/flxbl-io/envlock/internal/repo"
	"github.com/flxbl-io/envlock/internal/runstate"
	"github.com/flxbl-io/envlock/internal/subprocess"
	"github.com/flxbl-io/envlock/internal/ui"
)

// HealthStatus represents the overall health status.
type HealthStatus string

const (
	// HealthStatusHealthy indicates all checks passed.
	HealthStatusHealthy HealthStatus = "healthy"
	// HealthStatusDegraded indicates some non-critical checks failed.
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusUnhealthy indicates critical checks failed.
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// clientConstraints are the lock client versions each dialect's commands
// are known to work with.
var clientConstraints = map[string]string{
	lockclient.SFPServerDialect: ">= 49.0.0",
}

var versionPattern = regexp.MustCompile(`v?(\d+\.\d+\.\d+(?:-[0-9A-Za-z.-]+)?)`)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name     string            `json:"name"`
	Status   HealthStatus      `json:"status"`
	Message  string            `json:"message,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
	Latency  time.Duration     `json:"latency_ms,omitempty"`
	critical bool
}

// HealthReport contains the full health check results.
type HealthReport struct {
	Status      HealthStatus      `json:"status"`
	Version     string            `json:"version"`
	Timestamp   time.Time         `json:"timestamp"`
	Components  []ComponentHealth `json:"components"`
	Environment map[string]string `json:"environment,omitempty"`
}

func newDoctorCmd(o *Options) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that envlock can run here",
		Long: `Check the tools and settings envlock depends on.

This command verifies:
  - the lock client is installed and recent enough for the dialect
  - the Salesforce CLI is installed (when auth-enabled is set)
  - the run state can be stored
  - the owner repository can be resolved
  - the configuration loads without warnings

Exits non-zero when a critical check fails.`,
		Annotations: map[string]string{phaseAnnotation: string(config.PhaseRelease)},
		RunE: func(cmd *cobra.Command, args []string) error {
			report := o.runDoctor(cmd.Context())
			if o.JSONOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printHealthText(ui.NewPrinter(cmd.OutOrStdout()), report, verbose)
			}
			if report.Status == HealthStatusUnhealthy {
				return rperrors.New(rperrors.KindConfig, "doctor: critical checks failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show check details")
	addClientFlags(cmd, config.DefaultConfig())
	cmd.Flags().Bool("auth-enabled", false, "also check the Salesforce CLI")
	cmd.Flags().String("auth-binary", config.DefaultConfig().AuthBinary, "Salesforce CLI executable")
	cmd.Flags().String("repository", "", "owner repository")
	return cmd
}

func (o *Options) runDoctor(ctx context.Context) *HealthReport {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	report := &HealthReport{
		Status:    HealthStatusHealthy,
		Version:   o.Version.Version,
		Timestamp: time.Now().UTC(),
		Environment: map[string]string{
			"os":             runtime.GOOS,
			"arch":           runtime.GOARCH,
			"github_actions": fmt.Sprint(o.host().Active()),
		},
	}

	checks := []func(context.Context) ComponentHealth{
		o.checkLockClient,
		o.checkStateStore,
		o.checkRepository,
		o.checkConfig,
	}
	if o.Config.AuthEnabled {
		checks = append(checks, o.checkAuthClient)
	}

	// Shared dependencies are created before the checks fan out.
	o.runner()
	o.host()

	results := make([]ComponentHealth, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, check := range checks {
		g.Go(func() error {
			results[i] = check(gctx)
			return nil
		})
	}
	_ = g.Wait()

	for _, health := range results {
		report.Components = append(report.Components, health)

		switch {
		case health.Status == HealthStatusUnhealthy && health.critical:
			report.Status = HealthStatusUnhealthy
		case health.Status != HealthStatusHealthy && report.Status == HealthStatusHealthy:
			report.Status = HealthStatusDegraded
		}
	}
	return report
}

func (o *Options) checkLockClient(ctx context.Context) ComponentHealth {
	health := ComponentHealth{Name: "lock_client", Details: map[string]string{}, critical: true}

	client, err := lockclient.NewClient(o.runner(), o.Config.Dialect, o.Config.SFPBinary)
	if err != nil {
		health.Status = HealthStatusUnhealthy
		health.Message = rperrors.UserMessage(err)
		return health
	}
	health.Details["dialect"] = client.Dialect().Name()

	o.checkBinary(ctx, &health, client.Binary(), clientConstraints[client.Dialect().Name()])
	return health
}

func (o *Options) checkAuthClient(ctx context.Context) ComponentHealth {
	health := ComponentHealth{Name: "auth_client", Details: map[string]string{}, critical: true}
	o.checkBinary(ctx, &health, o.Config.AuthBinary, "")
	return health
}

// checkBinary runs binary --version and, when constraint is set, checks
// the reported version against it.
func (o *Options) checkBinary(ctx context.Context, health *ComponentHealth, binary, constraint string) {
	start := time.Now()
	res, err := o.runner().Run(ctx, subprocess.Command{Name: binary, Args: []string{"--version"}})
	health.Latency = time.Since(start)
	health.Details["binary"] = binary

	if err != nil || !res.Success() {
		health.Status = HealthStatusUnhealthy
		health.Message = binary + " is not installed or not in PATH"
		return
	}

	m := versionPattern.FindStringSubmatch(res.Stdout)
	if m == nil {
		health.Status = HealthStatusDegraded
		health.Message = "could not read the " + binary + " version"
		return
	}
	health.Details["version"] = m[1]

	if constraint == "" {
		health.Status = HealthStatusHealthy
		health.Message = binary + " " + m[1] + " is available"
		return
	}
	health.Details["required"] = constraint

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		health.Status = HealthStatusDegraded
		health.Message = "invalid version constraint " + constraint
		return
	}
	v, err := semver.NewVersion(m[1])
	if err != nil {
		health.Status = HealthStatusDegraded
		health.Message = "could not parse " + binary + " version " + m[1]
		return
	}
	if !c.Check(v) {
		health.Status = HealthStatusUnhealthy
		health.Message = fmt.Sprintf("%s %s does not satisfy %s", binary, v, constraint)
		return
	}

	health.Status = HealthStatusHealthy
	health.Message = fmt.Sprintf("%s %s satisfies %s", binary, v, constraint)
}

func (o *Options) checkStateStore(context.Context) ComponentHealth {
	health := ComponentHealth{Name: "state", Details: map[string]string{}, critical: true}

	store, err := o.stateStore()
	if err != nil {
		health.Status = HealthStatusUnhealthy
		health.Message = rperrors.UserMessage(err)
		return health
	}

	switch s := store.(type) {
	case *runstate.FileStore:
		health.Details["path"] = s.Path()
		health.Message = "state file " + s.Path()
	default:
		if o.Getenv(ghactions.EnvState) == "" {
			health.Status = HealthStatusUnhealthy
			health.Message = ghactions.EnvState + " is not set"
			return health
		}
		health.Message = "runner state file"
	}
	if runstate.Load(store).Owed {
		health.Details["owed"] = "true"
	}

	health.Status = HealthStatusHealthy
	return health
}

func (o *Options) checkRepository(context.Context) ComponentHealth {
	health := ComponentHealth{Name: "repository", Details: map[string]string{}}

	owner, err := repo.NewResolver(".").Resolve(o.Config.Repository)
	if err != nil {
		health.Status = HealthStatusDegraded
		health.Message = rperrors.UserMessage(err)
		return health
	}

	health.Details["repository"] = owner
	health.Status = HealthStatusHealthy
	health.Message = "owner repository " + owner
	return health
}

func (o *Options) checkConfig(context.Context) ComponentHealth {
	health := ComponentHealth{Name: "config", Details: map[string]string{}}

	if path := config.NewLoader().WithConfigPath(o.ConfigFile).FindConfigFile(); path != "" {
		health.Details["config_file"] = path
	}

	if len(o.Warnings) > 0 {
		health.Status = HealthStatusDegraded
		health.Message = fmt.Sprintf("%d configuration warning(s)", len(o.Warnings))
		return health
	}

	health.Status = HealthStatusHealthy
	health.Message = "configuration is valid"
	return health
}

func printHealthText(p *ui.Printer, report *HealthReport, verbose bool) {
	switch report.Status {
	case HealthStatusHealthy:
		p.Success("Health Status: healthy")
	case HealthStatusDegraded:
		p.Warning("Health Status: degraded")
	default:
		p.Error("Health Status: unhealthy")
	}
	p.Plain("Version: " + report.Version)
	p.Plain("")
	p.Title("Components:")

	for _, c := range report.Components {
		latency := ""
		if c.Latency > 0 {
			latency = fmt.Sprintf(" (%dms)", c.Latency.Milliseconds())
		}
		line := fmt.Sprintf("%s: %s%s", c.Name, c.Message, latency)

		switch c.Status {
		case HealthStatusHealthy:
			p.Success(line)
		case HealthStatusDegraded:
			p.Warning(line)
		default:
			p.Error(line)
		}

		if verbose {
			for k, v := range c.Details {
				p.Plain(fmt.Sprintf("      %s: %s", k, v))
			}
		}
	}
}
