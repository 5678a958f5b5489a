package acquire

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flxbl-io/envlock/internal/auth"
	rperrors "github.com/flxbl-io/envlock/internal/errors"
	"github.com/flxbl-io/envlock/internal/lockclient"
	"github.com/flxbl-io/envlock/internal/runstate"
	"github.com/flxbl-io/envlock/internal/security"
	"github.com/flxbl-io/envlock/internal/session"
	"github.com/flxbl-io/envlock/internal/subprocess"
)

type memOutputs map[string]string

func (m memOutputs) SetOutput(name, value string) error {
	m[name] = value
	return nil
}

type fakeAuth struct {
	result *auth.Result
	err    error
	calls  int
}

func (f *fakeAuth) Login(_ context.Context, _ string, _ lockclient.Credential) (*auth.Result, error) {
	f.calls++
	return f.result, f.err
}

var server = lockclient.Server{URL: "https://sfp.example.com", Token: "server-token-123"}

type fixture struct {
	runner  *subprocess.FakeRunner
	store   *runstate.MemoryStore
	outputs memOutputs
	console *bytes.Buffer
	logs    *bytes.Buffer
}

func newFixture(results ...subprocess.Result) *fixture {
	return &fixture{
		runner:  subprocess.NewFakeRunner(results...),
		store:   runstate.NewMemoryStore(),
		outputs: memOutputs{},
		console: &bytes.Buffer{},
		logs:    &bytes.Buffer{},
	}
}

func (f *fixture) service(t *testing.T, opts ...Option) *Service {
	t.Helper()
	d, err := lockclient.LookupDialect(lockclient.SFPServerDialect)
	require.NoError(t, err)

	base := []Option{
		WithLogger(log.New(security.NewMaskedWriter(f.logs, nil))),
		WithConsole(f.console),
		WithVersion("v1.0.0"),
	}
	return NewService(lockclient.NewCLIClient(f.runner, d, ""), f.store, f.outputs, append(base, opts...)...)
}

func request(t *testing.T, wait lockclient.WaitPolicy) lockclient.LockRequest {
	t.Helper()
	req, err := lockclient.NewLockRequest("uat", "acme/app", 60, "", wait)
	require.NoError(t, err)
	return req
}

func TestRun_AcquiredIndefiniteWait(t *testing.T) {
	f := newFixture(subprocess.Result{Stdout: `{"ticketId":"T1","status":"acquired",` +
		`"salesforceUsername":"ci@acme.com","accessToken":"00D5g000004Cabc!AQ0AQSecretAccessToken",` +
		`"instanceUrl":"https://acme--uat.my.salesforce.com","expiresAt":"2026-10-19T13:00:00Z"}`})

	out, err := f.service(t).Run(context.Background(), Input{
		Request:     request(t, lockclient.Indefinite()),
		Server:      server,
		AutoRelease: true,
	})
	require.NoError(t, err)

	args := f.runner.Calls()[0].Args
	assert.Contains(t, args, "--wait")
	assert.NotContains(t, args, "--wait-timeout")

	state := runstate.Load(f.store)
	assert.True(t, state.Owed)
	assert.Equal(t, "T1", state.TicketID)
	assert.Equal(t, "uat", state.TargetName)
	assert.Equal(t, "acme/app", state.OwnerRepository)
	assert.Equal(t, server.Token, state.ServerToken)

	assert.Equal(t, "T1", f.outputs[OutputTicketID])
	assert.Equal(t, "uat", f.outputs[OutputAlias])
	assert.Equal(t, "true", f.outputs[OutputIsActive])
	assert.Equal(t, "ci@acme.com", f.outputs[OutputUsername])
	assert.Equal(t, "2026-10-19T13:00:00Z", f.outputs[OutputExpiresAt])
	assert.Equal(t, auth.MethodServer, f.outputs[OutputAuthMethod])
	assert.Equal(t, "00D5g000004Cabc!AQ0AQSecretAccessToken", f.outputs[OutputAccessToken])

	assert.True(t, out.Owed)
	assert.Equal(t, string(session.StateLocked), out.State)

	assert.Contains(t, f.console.String(), "Environment: uat")
	assert.NotContains(t, f.logs.String(), server.Token)
	assert.NotContains(t, f.logs.String(), "SecretAccessToken")
	assert.Contains(t, f.logs.String(), "Ticket ID: T1")
}

func TestRun_TimeoutWaitFails(t *testing.T) {
	f := newFixture(subprocess.Result{ExitCode: 1, Stderr: "Timed out waiting for environment uat"})

	_, err := f.service(t).Run(context.Background(), Input{
		Request:     request(t, lockclient.TimeoutMinutes(15)),
		Server:      server,
		AutoRelease: true,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, rperrors.ErrLockAcquisitionFailed))
	assert.Contains(t, err.Error(), "Timed out waiting")

	args := f.runner.Calls()[0].Args
	assert.Equal(t, []string{"--wait-timeout", "15"}, args[len(args)-2:])

	assert.Equal(t, 0, f.store.Len(), "no state after a failed lock")
	assert.Empty(t, f.outputs)
}

func TestRun_MissingTicketID(t *testing.T) {
	f := newFixture(subprocess.Result{Stdout: `{"status":"acquired"}`})

	_, err := f.service(t).Run(context.Background(), Input{
		Request:     request(t, lockclient.Indefinite()),
		Server:      server,
		AutoRelease: true,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, rperrors.ErrLockResponseInvalid))
	assert.Contains(t, err.Error(), `{"status":"acquired"}`)
	assert.Equal(t, 0, f.store.Len())
}

func TestRun_AutoReleaseDisabled(t *testing.T) {
	f := newFixture(subprocess.Result{Stdout: `{"ticketId":"T1","status":"acquired"}`})

	out, err := f.service(t).Run(context.Background(), Input{
		Request: request(t, lockclient.Indefinite()),
		Server:  server,
	})
	require.NoError(t, err)
	assert.False(t, out.Owed)
	assert.Equal(t, 0, f.store.Len())
	assert.Contains(t, f.logs.String(), "Auto-unlock is disabled")
}

func TestRun_PendingPublishesNoCredentials(t *testing.T) {
	f := newFixture(subprocess.Result{Stdout: `{"ticketId":"T2","status":"pending","accessToken":"tok-should-not-publish"}`})
	authn := &fakeAuth{}

	_, err := f.service(t, WithAuthenticator(authn)).Run(context.Background(), Input{
		Request:      request(t, lockclient.TimeoutMinutes(5)),
		Server:       server,
		AutoRelease:  true,
		Authenticate: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "T2", f.outputs[OutputTicketID])
	assert.Equal(t, "pending", f.outputs[OutputStatus])
	assert.NotContains(t, f.outputs, OutputAccessToken)
	assert.NotContains(t, f.outputs, OutputIsActive)
	assert.Equal(t, 0, authn.calls)
}

func TestRun_SecondaryAuth(t *testing.T) {
	lockJSON := `{"ticketId":"T1","status":"acquired","accessToken":"lock-token","instanceUrl":"https://i.example.com"}`

	t.Run("success", func(t *testing.T) {
		f := newFixture(subprocess.Result{Stdout: lockJSON})
		authn := &fakeAuth{result: &auth.Result{
			Credential: lockclient.Credential{AccessToken: "lock-token", InstanceURL: "https://i.example.com",
				Username: "login@acme.com", OrgID: "00D1", LoginURL: "https://login.salesforce.com"},
			IsActive: true,
		}}

		out, err := f.service(t, WithAuthenticator(authn)).Run(context.Background(), Input{
			Request: request(t, lockclient.Indefinite()), Server: server, AutoRelease: true, Authenticate: true,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, authn.calls)
		assert.Equal(t, auth.MethodServerLogin, f.outputs[OutputAuthMethod])
		assert.Equal(t, "00D1", f.outputs[OutputOrgID])
		assert.Equal(t, string(session.StateAuthenticated), out.State)
	})

	t.Run("failure keeps release owed", func(t *testing.T) {
		f := newFixture(subprocess.Result{Stdout: lockJSON})
		authn := &fakeAuth{err: rperrors.Auth("auth.Login", "org login failed: INVALID_SESSION_ID")}

		out, err := f.service(t, WithAuthenticator(authn)).Run(context.Background(), Input{
			Request: request(t, lockclient.Indefinite()), Server: server, AutoRelease: true, Authenticate: true,
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, rperrors.ErrSecondaryAuthFailed))

		require.NotNil(t, out)
		assert.Equal(t, string(session.StateAuthFailed), out.State)
		assert.True(t, runstate.Load(f.store).Owed, "release stays owed after auth failure")
		assert.Equal(t, "T1", f.outputs[OutputTicketID])
	})
}

func TestRun_StateSaveFailure(t *testing.T) {
	f := newFixture(subprocess.Result{Stdout: `{"ticketId":"T1","status":"acquired"}`})
	f.store.FailOn = runstate.KeyTicketID

	out, err := f.service(t).Run(context.Background(), Input{
		Request: request(t, lockclient.Indefinite()), Server: server, AutoRelease: true,
	})
	require.Error(t, err)
	assert.True(t, rperrors.IsKind(err, rperrors.KindState))
	require.NotNil(t, out)
	assert.False(t, out.Owed)
}

func TestNewService_Defaults(t *testing.T) {
	s := NewService(nil, runstate.NewMemoryStore(), memOutputs{}, WithConsole(io.Discard))
	assert.Equal(t, "dev", s.version)
	assert.NotNil(t, s.logger)
}

func TestRun_ScenarioA(t *testing.T) {
	f := newFixture(subprocess.Result{Stdout: `{"ticketId":"abc123","status":"acquired","accessToken":"xyz"}`})
	req, err := lockclient.NewLockRequest("uat", "acme/app", 60, "", lockclient.TimeoutMinutes(0))
	require.NoError(t, err)

	_, err = f.service(t).Run(context.Background(), Input{Request: req, Server: server, AutoRelease: true})
	require.NoError(t, err)

	assert.Equal(t, "abc123", f.outputs[OutputTicketID])
	assert.Equal(t, "true", f.outputs[OutputIsActive])
	assert.Equal(t, "xyz", f.outputs[OutputAccessToken])
	assert.Equal(t, "***", security.Mask("xyz"), "access token registered as a secret")

	state := runstate.Load(f.store)
	assert.True(t, state.Owed)
	assert.Equal(t, "abc123", state.TicketID)
}

func TestRun_ScenarioB(t *testing.T) {
	f := newFixture(subprocess.Result{ExitCode: 1, Stderr: "target already locked"})

	_, err := f.service(t).Run(context.Background(), Input{
		Request: request(t, lockclient.Indefinite()), Server: server, AutoRelease: true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target already locked")
	assert.Equal(t, 0, f.store.Len())
}

func TestTransition_RejectedEventFails(t *testing.T) {
	machine, err := session.NewMachine()
	require.NoError(t, err)

	err = transition(machine, "acquire.Run", session.EventLocked)
	require.Error(t, err)
	assert.True(t, rperrors.IsKind(err, rperrors.KindInternal))
	assert.Equal(t, session.StateIdle, machine.Current())
	assert.False(t, machine.ReleaseOwed())

	require.NoError(t, transition(machine, "acquire.Run", session.EventRequest))
	require.NoError(t, transition(machine, "acquire.Run", session.EventLocked))
	assert.True(t, machine.ReleaseOwed())
}

func TestRun_LockFailureLeavesNothingOwed(t *testing.T) {
	f := newFixture(subprocess.Result{ExitCode: 2, Stdout: "server unreachable"})

	out, err := f.service(t).Run(context.Background(), Input{
		Request: request(t, lockclient.Indefinite()), Server: server, AutoRelease: true,
	})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Contains(t, err.Error(), "server unreachable")
	assert.False(t, runstate.Load(f.store).Owed)
}
