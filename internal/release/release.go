// Package release implements the release phase: best-effort unlock of the
// environment reserved by the acquire phase of the same run.
package release

import (
	"context"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/felixgeelhaar/statekit"

	rperrors "github.com/flxbl-io/envlock/internal/errors"
	"github.com/flxbl-io/envlock/internal/lockclient"
	"github.com/flxbl-io/envlock/internal/resilience"
	"github.com/flxbl-io/envlock/internal/runstate"
	"github.com/flxbl-io/envlock/internal/security"
	"github.com/flxbl-io/envlock/internal/session"
	"github.com/flxbl-io/envlock/internal/ui"
)

const manualUnlockHint = "The environment may need to be manually unlocked."

// Notifier surfaces warnings to the host, e.g. as workflow annotations.
type Notifier interface {
	Warning(message string)
}

// Outcome describes what the release phase did. It never carries a fatal
// error: a failed unlock is reported through Err and the phase succeeds.
type Outcome struct {
	// Attempted is set when the unlock command ran.
	Attempted bool
	// Released is set when the unlock command succeeded.
	Released bool
	// Err is the non-fatal reason nothing was released.
	Err   error
	State string
}

// Service runs the release phase.
type Service struct {
	client       lockclient.LockingServiceClient
	store        runstate.Store
	logger       *log.Logger
	console      io.Writer
	notifier     Notifier
	retry        resilience.Config
	requireOwner bool
	version      string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithConsole sets where the banner is printed.
func WithConsole(w io.Writer) Option {
	return func(s *Service) {
		s.console = w
	}
}

// WithNotifier sets the host notifier for warnings.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithRetry sets the unlock retry policy.
func WithRetry(cfg resilience.Config) Option {
	return func(s *Service) {
		s.retry = cfg
	}
}

// WithRequireOwner makes the owner repository a required state field.
func WithRequireOwner(required bool) Option {
	return func(s *Service) {
		s.requireOwner = required
	}
}

// WithVersion sets the version shown in the banner.
func WithVersion(v string) Option {
	return func(s *Service) {
		s.version = v
	}
}

// NewService creates a release Service.
func NewService(client lockclient.LockingServiceClient, store runstate.Store, opts ...Option) *Service {
	s := &Service{
		client:  client,
		store:   store,
		logger:  log.Default(),
		console: os.Stdout,
		retry:   resilience.DefaultConfig(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run unlocks the environment if a release is owed. The returned error is
// non-nil only when ctx was canceled.
func (s *Service) Run(ctx context.Context) (*Outcome, error) {
	const op = "release.Run"

	state := runstate.Load(s.store)
	machine, err := session.Resume(state.Owed)
	if err != nil {
		err = rperrors.InternalWrap(err, op, "failed to resume session")
		s.warn("Cleanup skipped: " + rperrors.UserMessage(err))
		return &Outcome{Err: err, State: string(session.StateIdle)}, nil
	}
	if !machine.ReleaseOwed() {
		s.logger.Info("Auto-unlock is disabled, skipping cleanup")
		return &Outcome{
			Err:   rperrors.StateMissing(op, "no release owed"),
			State: string(machine.Current()),
		}, nil
	}

	if missing := state.Missing(s.requireOwner); len(missing) > 0 {
		s.warn("Missing required state for unlock. " + manualUnlockHint)
		for _, field := range []struct{ name, value string }{
			{"ticketId", state.TicketID},
			{"environment", state.TargetName},
			{"repository", state.OwnerRepository},
			{"serverUrl", state.ServerURL},
			{"serverToken", state.ServerToken},
		} {
			s.logger.Debug(field.name + ": " + presence(field.value))
		}
		return &Outcome{
			Err:   rperrors.StateMissing(op, "release state is incomplete").WithDetail("missing", missing),
			State: string(machine.Current()),
		}, nil
	}

	security.Default().Redact(state.ServerToken)

	ui.Banner{
		Version: s.version,
		Action:  "auth-environment-with-lock (cleanup)",
		Fields: []ui.Field{
			{Label: "environment", Value: state.TargetName},
			{Label: "sfp server", Value: state.ServerURL},
		},
	}.Print(s.console)

	s.logger.Info("Unlocking environment: " + state.TargetName)
	s.logger.Info("Ticket ID: " + state.TicketID)

	req := lockclient.UnlockRequest{
		TargetName:      state.TargetName,
		TicketID:        state.TicketID,
		OwnerRepository: state.OwnerRepository,
	}
	server := lockclient.Server{URL: state.ServerURL, Token: state.ServerToken}

	attempt := 0
	var unlockErr error
	_, err = resilience.Do(ctx, s.retry, func(ctx context.Context) (struct{}, error) {
		attempt++
		if attempt > 1 {
			s.logger.Info("Retrying unlock", "attempt", attempt, "max_attempts", s.retry.Attempts)
		}
		unlockErr = s.client.Unlock(ctx, req, server)
		return struct{}{}, unlockErr
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = rperrors.CanceledWrap(ctxErr, op)
		return &Outcome{Attempted: true, Err: err, State: string(machine.Current())}, err
	}
	if err != nil {
		// Report the client's failure rather than the retry wrapper's.
		if unlockErr != nil {
			err = unlockErr
		}
		if rperrors.IsKind(err, rperrors.KindCanceled) {
			return &Outcome{Attempted: true, Err: err, State: string(machine.Current())}, err
		}
		s.transition(machine, session.EventReleaseFail)
		s.warn("Cleanup failed: " + rperrors.UserMessage(err))
		s.warn(manualUnlockHint)
		return &Outcome{Attempted: true, Err: err, State: string(machine.Current())}, nil
	}

	s.transition(machine, session.EventRelease)
	s.logger.Info("Environment unlocked successfully")

	if f, ok := s.store.(runstate.Forgetter); ok {
		if err := f.Forget(runstate.KeyOwed); err != nil {
			s.logger.Debug("Could not clear release marker", "error", err)
		}
	}

	s.logger.Info("")
	s.logger.Info("Cleanup completed successfully.")
	return &Outcome{Attempted: true, Released: true, State: string(machine.Current())}, nil
}

// transition advances the session. A rejected event is logged only; the
// release phase never fails on bookkeeping.
func (s *Service) transition(machine *session.Machine, event statekit.EventType) {
	if err := machine.Send(event); err != nil {
		s.logger.Warn("Session state not updated", "error", err, "state", machine.Current())
	}
}

func (s *Service) warn(msg string) {
	s.logger.Warn(msg)
	if s.notifier != nil {
		s.notifier.Warning(security.Mask(msg))
	}
}

func presence(v string) string {
	if v == "" {
		return "missing"
	}
	return "present"
}
