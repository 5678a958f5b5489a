// Package acquire implements the acquire phase: reserve an environment,
// hand the release obligation to the release phase, and publish the
// credentials to later steps.
package acquire

import (
	"context"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/felixgeelhaar/statekit"

	"github.com/flxbl-io/envlock/internal/auth"
	rperrors "github.com/flxbl-io/envlock/internal/errors"
	"github.com/flxbl-io/envlock/internal/lockclient"
	"github.com/flxbl-io/envlock/internal/runstate"
	"github.com/flxbl-io/envlock/internal/security"
	"github.com/flxbl-io/envlock/internal/session"
	"github.com/flxbl-io/envlock/internal/ui"
)

// Output names published to later steps.
const (
	OutputTicketID    = "ticket-id"
	OutputStatus      = "status"
	OutputAlias       = "alias"
	OutputIsActive    = "is-active"
	OutputOrgID       = "org-id"
	OutputInstanceURL = "instance-url"
	OutputLoginURL    = "login-url"
	OutputUsername    = "username"
	OutputAccessToken = "access-token"
	OutputExpiresAt   = "expires-at"
	OutputAuthMethod  = "auth-method"
)

// Outputs publishes named values to later steps of the run.
type Outputs interface {
	SetOutput(name, value string) error
}

// Authenticator performs the optional secondary login.
type Authenticator interface {
	Login(ctx context.Context, alias string, cred lockclient.Credential) (*auth.Result, error)
}

// Input is everything the acquire phase needs.
type Input struct {
	Request     lockclient.LockRequest
	Server      lockclient.Server
	AutoRelease bool
	// Authenticate runs the secondary login after an acquired lock.
	Authenticate bool
}

// Outcome reports what the acquire phase did.
type Outcome struct {
	Lock       *lockclient.LockResult
	Credential lockclient.Credential
	IsActive   bool
	AuthMethod string
	Owed       bool
	// Partial is set when secondary auth could only fill some fields.
	Partial error
	State   string
}

// Service runs the acquire phase.
type Service struct {
	client  lockclient.LockingServiceClient
	store   runstate.Store
	outputs Outputs
	auth    Authenticator
	logger  *log.Logger
	console io.Writer
	version string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithAuthenticator sets the secondary authenticator.
func WithAuthenticator(a Authenticator) Option {
	return func(s *Service) {
		s.auth = a
	}
}

// WithConsole sets where the banner is printed.
func WithConsole(w io.Writer) Option {
	return func(s *Service) {
		s.console = w
	}
}

// WithVersion sets the version shown in the banner.
func WithVersion(v string) Option {
	return func(s *Service) {
		s.version = v
	}
}

// NewService creates an acquire Service.
func NewService(client lockclient.LockingServiceClient, store runstate.Store, outputs Outputs, opts ...Option) *Service {
	s := &Service{
		client:  client,
		store:   store,
		outputs: outputs,
		logger:  log.Default(),
		console: os.Stdout,
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run reserves the environment described by in.
//
// The release obligation is persisted as soon as the lock is confirmed, so
// a later failure in this phase still leaves the release phase able to
// unlock.
func (s *Service) Run(ctx context.Context, in Input) (*Outcome, error) {
	const op = "acquire.Run"

	security.Default().Redact(in.Server.Token)

	machine, err := session.NewMachine()
	if err != nil {
		return nil, rperrors.InternalWrap(err, op, "failed to start session")
	}

	req := in.Request
	ui.Banner{
		Version: s.version,
		Action:  "auth-environment-with-lock",
		Fields: []ui.Field{
			{Label: "repository", Value: req.OwnerRepository},
			{Label: "sfp server", Value: in.Server.URL},
			{Label: "environment", Value: req.TargetName},
		},
	}.Print(s.console)

	s.logLockRequest(req)

	if err := transition(machine, op, session.EventRequest); err != nil {
		return nil, err
	}
	result, err := s.client.Lock(ctx, req, in.Server)
	if err != nil {
		if terr := transition(machine, op, session.EventLockFailed); terr != nil {
			s.logger.Debug("Session state not updated", "error", terr)
		}
		return nil, err
	}
	security.Default().Redact(result.Credential.AccessToken)
	if err := transition(machine, op, session.EventLocked); err != nil {
		return nil, err
	}

	s.logger.Info("Environment locked successfully")
	s.logger.Info("Ticket ID: " + result.TicketID)
	s.logger.Info("Status: " + string(result.Status))

	outcome := &Outcome{
		Lock:       result,
		Credential: result.Credential,
		IsActive:   result.Status.IsAcquired(),
		AuthMethod: auth.MethodServer,
	}

	if in.AutoRelease && machine.ReleaseOwed() {
		err := runstate.Save(s.store, runstate.ReleaseState{
			Owed:            true,
			TicketID:        result.TicketID,
			TargetName:      req.TargetName,
			OwnerRepository: req.OwnerRepository,
			ServerURL:       in.Server.URL,
			ServerToken:     in.Server.Token,
		})
		if err != nil {
			s.logger.Error("Failed to save release state; the environment must be unlocked manually",
				"ticket_id", result.TicketID, "environment", req.TargetName)
			outcome.State = string(machine.Current())
			return outcome, err
		}
		outcome.Owed = true
	}

	var authErr error
	if in.Authenticate && s.auth != nil {
		if result.Status.IsAcquired() {
			authErr = s.authenticate(ctx, op, machine, req.TargetName, outcome)
		} else {
			s.logger.Warn("Lock is not acquired yet; skipping secondary authentication", "status", result.Status)
		}
	}

	outcome.State = string(machine.Current())

	if err := s.publish(req, outcome); err != nil {
		return outcome, err
	}
	if authErr != nil {
		return outcome, authErr
	}

	s.logger.Info("")
	s.logger.Info("Environment is now locked and authenticated.")
	if in.AutoRelease {
		s.logger.Info("It will be automatically unlocked when the workflow completes.")
	} else {
		s.logger.Info("Auto-unlock is disabled. Use unlock-environment action or manual unlock.")
	}
	return outcome, nil
}

func (s *Service) logLockRequest(req lockclient.LockRequest) {
	s.logger.Info("Locking environment: " + req.TargetName)
	s.logger.Info("Repository: " + req.OwnerRepository)
	s.logger.Info("Duration: " + strconv.Itoa(req.DurationMinutes) + " minutes")
	if req.Reason != "" {
		s.logger.Info("Reason: " + req.Reason)
	}
	s.logger.Info("Wait timeout: " + req.Wait.String())
}

func (s *Service) authenticate(ctx context.Context, op string, machine *session.Machine, alias string, outcome *Outcome) error {
	res, err := s.auth.Login(ctx, alias, outcome.Credential)
	if err != nil {
		if terr := transition(machine, op, session.EventAuthFailed); terr != nil {
			s.logger.Debug("Session state not updated", "error", terr)
		}
		if outcome.Owed {
			s.logger.Warn("Secondary authentication failed; the environment stays locked until the release phase runs")
		}
		return err
	}
	if err := transition(machine, op, session.EventAuthenticate); err != nil {
		return err
	}

	outcome.Credential = res.Credential
	outcome.IsActive = res.IsActive
	outcome.AuthMethod = auth.MethodServerLogin
	outcome.Partial = res.Partial
	return nil
}

// transition advances the session machine, failing when the current state
// rejects event.
func transition(machine *session.Machine, op string, event statekit.EventType) error {
	if err := machine.Send(event); err != nil {
		return rperrors.InternalWrap(err, op, "session out of step")
	}
	return nil
}

type output struct{ name, value string }

// publish sets the step outputs. Credential outputs are only published
// when the lock is acquired.
func (s *Service) publish(req lockclient.LockRequest, o *Outcome) error {
	const op = "acquire.publish"

	outputs := []output{
		{OutputTicketID, o.Lock.TicketID},
		{OutputStatus, string(o.Lock.Status)},
		{OutputAlias, req.TargetName},
	}

	if o.Lock.Status.IsAcquired() {
		outputs = append(outputs,
			output{OutputIsActive, strconv.FormatBool(o.IsActive)},
			output{OutputInstanceURL, o.Credential.InstanceURL},
			output{OutputUsername, o.Credential.Username},
			output{OutputOrgID, o.Credential.OrgID},
			output{OutputLoginURL, o.Credential.LoginURL},
		)
		if o.Credential.AccessToken != "" {
			security.Default().Redact(o.Credential.AccessToken)
			outputs = append(outputs, output{OutputAccessToken, o.Credential.AccessToken})
		}
	}
	if o.Lock.ExpiresAt != nil {
		outputs = append(outputs, output{OutputExpiresAt, o.Lock.ExpiresAt.UTC().Format(time.RFC3339)})
	}
	outputs = append(outputs, output{OutputAuthMethod, o.AuthMethod})

	for _, out := range outputs {
		if err := s.outputs.SetOutput(out.name, out.value); err != nil {
			return rperrors.StateWrap(err, op, "failed to set output "+out.name)
		}
	}
	return nil
}
