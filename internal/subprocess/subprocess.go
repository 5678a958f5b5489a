// Package subprocess runs external command-line clients for envlock.
//
// The bridge captures stdout and stderr as independent streams and reports
// the exit code as data. A nonzero exit is never an error: callers branch on
// the code and inspect stderr for diagnostics. Stdout is reserved for
// machine-parsable payloads and is never mirrored; stderr may be mirrored to
// a live writer chunk by chunk as it arrives.
package subprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	rperrors "github.com/flxbl-io/envlock/internal/errors"
	"github.com/flxbl-io/envlock/internal/security"
)

// defaultGracePeriod is how long a canceled process group gets between
// SIGTERM and a forced kill.
const defaultGracePeriod = 10 * time.Second

// Command describes one invocation of an external client.
type Command struct {
	// Name is the executable, resolved through PATH.
	Name string
	// Args are passed verbatim, without shell interpretation.
	Args []string
	// Env holds extra KEY=VALUE entries appended to the current environment.
	Env []string
	// Dir is the working directory; empty means the current one.
	Dir string
	// StreamStderr mirrors stderr to the live writer as it arrives.
	StreamStderr bool
}

// String renders the command for logs. Arguments are not masked here;
// log sinks mask registered secrets.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result is the captured outcome of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Success reports whether the command exited zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Diagnostic returns stderr when non-empty, else stdout.
func (r Result) Diagnostic() string {
	if r.Stderr != "" {
		return r.Stderr
	}
	return r.Stdout
}

// Runner invokes external commands.
type Runner interface {
	// Run blocks until the command exits or ctx is canceled. The returned
	// error is non-nil only when the command could not be started or was
	// canceled; a nonzero exit is reported through Result.ExitCode.
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner implements Runner on top of os/exec.
type ExecRunner struct {
	live        io.Writer
	gracePeriod time.Duration
}

// Ensure ExecRunner implements Runner.
var _ Runner = (*ExecRunner)(nil)

// Option configures an ExecRunner.
type Option func(*ExecRunner)

// WithLiveOutput sets the writer stderr is mirrored to. Output is masked
// through the global masker before it is written.
func WithLiveOutput(w io.Writer) Option {
	return func(r *ExecRunner) {
		r.live = w
	}
}

// WithGracePeriod sets the delay between SIGTERM and a forced kill on cancellation.
func WithGracePeriod(d time.Duration) Option {
	return func(r *ExecRunner) {
		r.gracePeriod = d
	}
}

// NewExecRunner creates a runner that mirrors stderr to stdout by default,
// where hosted runners show step progress.
func NewExecRunner(opts ...Option) *ExecRunner {
	r := &ExecRunner{
		live:        os.Stdout,
		gracePeriod: defaultGracePeriod,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, command Command) (Result, error) {
	const op = "subprocess.Run"

	if command.Name == "" {
		return Result{ExitCode: -1}, rperrors.New(rperrors.KindInternal, "command name is required")
	}

	if err := ctx.Err(); err != nil {
		return Result{ExitCode: -1}, rperrors.CanceledWrap(err, op)
	}

	// #nosec G204 -- arguments are built by the client bindings, never a shell string
	cmd := exec.Command(command.Name, command.Args...)
	cmd.Dir = command.Dir
	cmd.Env = append(os.Environ(), command.Env...)
	configureProcessGroup(cmd)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{ExitCode: -1}, rperrors.InternalWrap(err, op, "failed to open stdout pipe")
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{ExitCode: -1}, rperrors.InternalWrap(err, op, "failed to open stderr pipe")
	}

	var stdout, stderr bytes.Buffer
	var stderrDst io.Writer = &stderr
	if command.StreamStderr && r.live != nil {
		stderrDst = io.MultiWriter(&stderr, &liveWriter{w: security.NewMaskedWriter(r.live, nil)})
	}

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, rperrors.Wrap(err, rperrors.KindInternal, op, fmt.Sprintf("failed to start %s", command.Name))
	}

	exited := make(chan struct{})
	go r.stopOnCancel(ctx, cmd, exited, stdoutPipe, stderrPipe)

	// Both pipes must drain before Wait.
	var pumps errgroup.Group
	pumps.Go(func() error {
		_, err := io.Copy(&stdout, stdoutPipe)
		return err
	})
	pumps.Go(func() error {
		_, err := io.Copy(stderrDst, stderrPipe)
		return err
	})
	pumpErr := pumps.Wait()

	err = cmd.Wait()
	close(exited)
	result := Result{
		Stdout:   decode(stdout.Bytes()),
		Stderr:   decode(stderr.Bytes()),
		ExitCode: exitCode(cmd, err),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, rperrors.CanceledWrap(ctxErr, op)
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return result, rperrors.Wrap(err, rperrors.KindInternal, op, fmt.Sprintf("failed to run %s", command.Name))
	}
	if pumpErr != nil && !errors.Is(pumpErr, os.ErrClosed) {
		return result, rperrors.Wrap(pumpErr, rperrors.KindIO, op, fmt.Sprintf("failed to read output of %s", command.Name))
	}

	return result, nil
}

// stopOnCancel terminates the process group once ctx is done: SIGTERM,
// then SIGKILL after the grace period. If a process that left the group
// still holds the pipes after another grace period, the pipes are closed so
// the pumps return.
func (r *ExecRunner) stopOnCancel(ctx context.Context, cmd *exec.Cmd, exited <-chan struct{}, pipes ...io.Closer) {
	select {
	case <-exited:
		return
	case <-ctx.Done():
	}
	_ = terminateProcessGroup(cmd)

	timer := time.NewTimer(r.gracePeriod)
	defer timer.Stop()
	select {
	case <-exited:
		return
	case <-timer.C:
	}
	_ = killProcessGroup(cmd)

	timer.Reset(r.gracePeriod)
	select {
	case <-exited:
		return
	case <-timer.C:
	}
	for _, p := range pipes {
		_ = p.Close()
	}
}

// exitCode extracts the process exit code, or -1 if the process never ran
// or was terminated by a signal.
func exitCode(cmd *exec.Cmd, err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if err != nil || cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

// decode converts captured bytes to trimmed text, replacing invalid UTF-8.
func decode(b []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(b), "�"))
}

// liveWriter mirrors chunks to the console. Write errors are swallowed so a
// closed console never aborts capture of the stream.
type liveWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *liveWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.w.Write(p)
	return len(p), nil
}
