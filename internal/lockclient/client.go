package lockclient

import (
	"context"
	"fmt"
	"sort"
	"strings"

	rperrors "github.com/flxbl-io/envlock/internal/errors"
	"github.com/flxbl-io/envlock/internal/subprocess"
)

// LockingServiceClient is the capability both phases rely on.
type LockingServiceClient interface {
	// Lock requests a reservation and blocks according to the request's
	// wait policy. It fails with KindLockAcquisition when the client exits
	// nonzero and KindLockResponse when its output is unusable.
	Lock(ctx context.Context, req LockRequest, server Server) (*LockResult, error)
	// Unlock releases a reservation. It fails with KindRelease when the
	// client exits nonzero.
	Unlock(ctx context.Context, req UnlockRequest, server Server) error
}

// Dialect is one binding of the lock protocol to a client's flags and
// response shape.
type Dialect interface {
	// Name identifies the dialect in configuration.
	Name() string
	// DefaultBinary is the executable used when none is configured.
	DefaultBinary() string
	// RequiresOwnerRepository reports whether unlock needs the owner repository.
	RequiresOwnerRepository() bool
	// LockArgs builds the lock invocation arguments.
	LockArgs(req LockRequest, server Server) []string
	// UnlockArgs builds the unlock invocation arguments.
	UnlockArgs(req UnlockRequest, server Server) []string
	// ParseLock parses the lock call's stdout.
	ParseLock(stdout string) (*LockResult, error)
}

var dialects = map[string]Dialect{}

// Register makes a dialect available by name. It panics on duplicates.
func Register(d Dialect) {
	if _, exists := dialects[d.Name()]; exists {
		panic(fmt.Sprintf("lockclient: dialect %q already registered", d.Name()))
	}
	dialects[d.Name()] = d
}

// LookupDialect returns the dialect registered under name.
func LookupDialect(name string) (Dialect, error) {
	d, ok := dialects[name]
	if !ok {
		return nil, rperrors.Config("lockclient.LookupDialect",
			fmt.Sprintf("unknown dialect %q (available: %s)", name, strings.Join(DialectNames(), ", ")))
	}
	return d, nil
}

// DialectNames lists registered dialect names in sorted order.
func DialectNames() []string {
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CLIClient implements LockingServiceClient by shelling out to a dialect's binary.
type CLIClient struct {
	runner  subprocess.Runner
	dialect Dialect
	binary  string
}

// Ensure CLIClient implements LockingServiceClient.
var _ LockingServiceClient = (*CLIClient)(nil)

// NewCLIClient creates a client for the given dialect. An empty binary
// uses the dialect's default.
func NewCLIClient(runner subprocess.Runner, dialect Dialect, binary string) *CLIClient {
	if binary == "" {
		binary = dialect.DefaultBinary()
	}
	return &CLIClient{
		runner:  runner,
		dialect: dialect,
		binary:  binary,
	}
}

// NewClient binds the dialect registered under name.
func NewClient(runner subprocess.Runner, name, binary string) (*CLIClient, error) {
	d, err := LookupDialect(name)
	if err != nil {
		return nil, err
	}
	return NewCLIClient(runner, d, binary), nil
}

// Dialect returns the bound dialect.
func (c *CLIClient) Dialect() Dialect {
	return c.dialect
}

// Binary returns the executable invoked by the client.
func (c *CLIClient) Binary() string {
	return c.binary
}

// LockCommand builds the lock invocation without running it.
func (c *CLIClient) LockCommand(req LockRequest, server Server) subprocess.Command {
	return subprocess.Command{
		Name:         c.binary,
		Args:         c.dialect.LockArgs(req, server),
		StreamStderr: true,
	}
}

// UnlockCommand builds the unlock invocation without running it.
func (c *CLIClient) UnlockCommand(req UnlockRequest, server Server) subprocess.Command {
	return subprocess.Command{
		Name:         c.binary,
		Args:         c.dialect.UnlockArgs(req, server),
		StreamStderr: true,
	}
}

// Lock implements LockingServiceClient.
func (c *CLIClient) Lock(ctx context.Context, req LockRequest, server Server) (*LockResult, error) {
	const op = "lockclient.Lock"

	if err := req.Validate(); err != nil {
		return nil, err
	}

	res, err := c.runner.Run(ctx, c.LockCommand(req, server))
	if err != nil {
		if rperrors.IsKind(err, rperrors.KindCanceled) {
			return nil, err
		}
		return nil, rperrors.LockAcquisition(op, err.Error())
	}
	if !res.Success() {
		return nil, rperrors.LockAcquisition(op, res.Diagnostic()).WithDetail("exit_code", res.ExitCode)
	}

	return c.dialect.ParseLock(res.Stdout)
}

// Unlock implements LockingServiceClient.
func (c *CLIClient) Unlock(ctx context.Context, req UnlockRequest, server Server) error {
	const op = "lockclient.Unlock"

	res, err := c.runner.Run(ctx, c.UnlockCommand(req, server))
	if err != nil {
		if rperrors.IsKind(err, rperrors.KindCanceled) {
			return err
		}
		return rperrors.Release(op, err.Error())
	}
	if !res.Success() {
		return rperrors.Release(op, res.Diagnostic()).WithDetail("exit_code", res.ExitCode)
	}
	return nil
}
