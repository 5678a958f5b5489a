package subprocess

import (
	"context"
	"sync"
)

// FakeRunner is a scripted Runner for tests. Responses are consumed in
// order; once exhausted the last one is repeated. Handler, when set, takes
// precedence over Responses.
type FakeRunner struct {
	mu        sync.Mutex
	Responses []FakeResponse
	Handler   func(Command) (Result, error)
	calls     []Command
}

// FakeResponse is one scripted outcome.
type FakeResponse struct {
	Result Result
	Err    error
}

// Ensure FakeRunner implements Runner.
var _ Runner = (*FakeRunner)(nil)

// NewFakeRunner returns a FakeRunner replying with the given results.
func NewFakeRunner(results ...Result) *FakeRunner {
	f := &FakeRunner{}
	for _, r := range results {
		f.Responses = append(f.Responses, FakeResponse{Result: r})
	}
	return f
}

// Run implements Runner.
func (f *FakeRunner) Run(_ context.Context, cmd Command) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(f.calls)
	f.calls = append(f.calls, cmd)

	if f.Handler != nil {
		return f.Handler(cmd)
	}
	if len(f.Responses) == 0 {
		return Result{}, nil
	}
	if n >= len(f.Responses) {
		n = len(f.Responses) - 1
	}
	resp := f.Responses[n]
	return resp.Result, resp.Err
}

// Calls returns a copy of the recorded invocations.
func (f *FakeRunner) Calls() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.calls...)
}

// CallCount returns the number of recorded invocations.
func (f *FakeRunner) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
