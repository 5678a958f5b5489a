// Package auth performs the optional secondary login against a locked
// environment using the Salesforce CLI.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	rperrors "github.com/flxbl-io/envlock/internal/errors"
	"github.com/flxbl-io/envlock/internal/lockclient"
	"github.com/flxbl-io/envlock/internal/resilience"
	"github.com/flxbl-io/envlock/internal/security"
	"github.com/flxbl-io/envlock/internal/subprocess"
)

// DefaultBinary is the Salesforce CLI executable.
const DefaultBinary = "sf"

// Method tags published as the auth-method output.
const (
	MethodServer      = "sfp-server"
	MethodServerLogin = "sfp-server+sf-login"
)

// accessTokenEnv hands the token to the CLI without putting it on argv.
const accessTokenEnv = "SF_ACCESS_TOKEN"

// Result is the merged outcome of the secondary login.
type Result struct {
	Credential lockclient.Credential
	IsActive   bool
	// Partial is set when the display fallback failed and some fields
	// could not be filled.
	Partial error
}

// Authenticator logs into a locked org.
type Authenticator struct {
	runner  subprocess.Runner
	binary  string
	logger  *log.Logger
	display resilience.Config
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(a *Authenticator) {
		a.logger = l
	}
}

// WithBinary overrides the CLI executable.
func WithBinary(binary string) Option {
	return func(a *Authenticator) {
		if binary != "" {
			a.binary = binary
		}
	}
}

// WithDisplayRetry sets the retry policy for the display fallback.
func WithDisplayRetry(cfg resilience.Config) Option {
	return func(a *Authenticator) {
		a.display = cfg
	}
}

// New creates an Authenticator.
func New(runner subprocess.Runner, opts ...Option) *Authenticator {
	a := &Authenticator{
		runner:  runner,
		binary:  DefaultBinary,
		logger:  log.Default(),
		display: resilience.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// orgInfo is the subset of `sf org login` and `sf org display` JSON used here.
type orgInfo struct {
	Username    string `json:"username"`
	OrgID       string `json:"orgId"`
	ID          string `json:"id"`
	InstanceURL string `json:"instanceUrl"`
	LoginURL    string `json:"loginUrl"`
	AccessToken string `json:"accessToken"`
	IsActive    *bool  `json:"isActive"`
}

func (o orgInfo) credential() lockclient.Credential {
	orgID := o.OrgID
	if orgID == "" {
		orgID = o.ID
	}
	return lockclient.Credential{
		AccessToken: o.AccessToken,
		InstanceURL: o.InstanceURL,
		Username:    o.Username,
		OrgID:       orgID,
		LoginURL:    o.LoginURL,
	}
}

// Login authenticates alias with the credential returned by the lock call.
// A failed login is KindAuth. A failed display fallback is reported through
// Result.Partial and does not fail the call.
func (a *Authenticator) Login(ctx context.Context, alias string, lockCred lockclient.Credential) (*Result, error) {
	const op = "auth.Login"

	if lockCred.AccessToken == "" || lockCred.InstanceURL == "" {
		return nil, rperrors.Auth(op, "lock response did not include an access token and instance URL")
	}
	security.Default().Redact(lockCred.AccessToken)

	a.logger.Info("Authenticating to environment", "alias", alias, "instance_url", lockCred.InstanceURL)

	res, err := a.runner.Run(ctx, subprocess.Command{
		Name: a.binary,
		Args: []string{
			"org", "login", "access-token",
			"--instance-url", lockCred.InstanceURL,
			"--alias", alias,
			"--set-default",
			"--no-prompt",
			"--json",
		},
		Env:          []string{accessTokenEnv + "=" + lockCred.AccessToken},
		StreamStderr: true,
	})
	if err != nil {
		if rperrors.IsKind(err, rperrors.KindCanceled) {
			return nil, err
		}
		return nil, rperrors.Auth(op, "failed to run "+a.binary+": "+err.Error())
	}
	if !res.Success() {
		return nil, rperrors.Auth(op, "org login failed: "+res.Diagnostic()).WithDetail("exit_code", res.ExitCode)
	}

	login, err := parseOrgInfo(res.Stdout)
	if err != nil {
		return nil, rperrors.Auth(op, "failed to parse org login response: "+err.Error())
	}
	security.Default().Redact(login.AccessToken)

	result := &Result{
		Credential: login.credential(),
		IsActive:   login.IsActive == nil || *login.IsActive,
	}

	if !result.Credential.Complete() {
		a.logger.Debug("Login response incomplete, looking up org details", "alias", alias)
		display, err := resilience.Do(ctx, a.display, func(ctx context.Context) (orgInfo, error) {
			return a.displayOrg(ctx, alias)
		})
		if err != nil {
			if rperrors.IsKind(err, rperrors.KindCanceled) {
				return nil, err
			}
			result.Partial = err
			a.logger.Warn("Could not look up org details; some outputs may be empty", "error", err)
		} else {
			security.Default().Redact(display.AccessToken)
			result.Credential = result.Credential.FillFrom(display.credential())
		}
	}

	result.Credential = result.Credential.FillFrom(lockCred)
	return result, nil
}

func (a *Authenticator) displayOrg(ctx context.Context, alias string) (orgInfo, error) {
	const op = "auth.displayOrg"

	res, err := a.runner.Run(ctx, subprocess.Command{
		Name: a.binary,
		Args: []string{"org", "display", "--target-org", alias, "--json"},
	})
	if err != nil {
		return orgInfo{}, err
	}
	if !res.Success() {
		return orgInfo{}, rperrors.AuthPartial(op, fmt.Sprintf("org display exited %d: %s", res.ExitCode, res.Diagnostic()))
	}

	info, err := parseOrgInfo(res.Stdout)
	if err != nil {
		return orgInfo{}, rperrors.AuthPartial(op, "failed to parse org display response: "+err.Error())
	}
	return info, nil
}

// parseOrgInfo accepts the object either nested under "result" or at top level.
func parseOrgInfo(stdout string) (orgInfo, error) {
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal([]byte(stdout), &envelope); err != nil {
		return orgInfo{}, err
	}

	body := []byte(stdout)
	if raw := strings.TrimSpace(string(envelope.Result)); raw != "" && raw != "null" && strings.HasPrefix(raw, "{") {
		body = envelope.Result
	}

	var info orgInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return orgInfo{}, err
	}
	return info, nil
}
