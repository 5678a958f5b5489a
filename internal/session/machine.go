// Package session tracks the lifecycle of one environment reservation
// across the acquire and release phases.
package session

import (
	"fmt"
	"sync"

	"github.com/felixgeelhaar/statekit"

	rperrors "github.com/flxbl-io/envlock/internal/errors"
)

// Event names for the session machine.
const (
	EventRequest      statekit.EventType = "REQUEST"
	EventLocked       statekit.EventType = "LOCKED"
	EventLockFailed   statekit.EventType = "LOCK_FAILED"
	EventAuthenticate statekit.EventType = "AUTHENTICATED"
	EventAuthFailed   statekit.EventType = "AUTH_FAILED"
	EventRelease      statekit.EventType = "RELEASE"
	EventReleaseFail  statekit.EventType = "RELEASE_FAILED"
)

// Session states.
const (
	StateIdle          statekit.StateID = "idle"
	StateRequesting    statekit.StateID = "requesting"
	StateLocked        statekit.StateID = "locked"
	StateAuthenticated statekit.StateID = "authenticated"
	StateAuthFailed    statekit.StateID = "auth_failed"
	StateFailed        statekit.StateID = "failed"
	StateReleased      statekit.StateID = "released"
	StateAbandoned     statekit.StateID = "abandoned"
)

// Machine wraps the statekit interpreter for one session.
type Machine struct {
	mu          sync.Mutex
	interpreter *statekit.Interpreter[struct{}]
	history     []statekit.StateID
}

// NewMachine builds and starts a session machine in the idle state.
func NewMachine() (*Machine, error) {
	machine, err := statekit.NewMachine[struct{}]("environment-session").
		WithInitial(StateIdle).
		State(StateIdle).
		On(EventRequest).Target(StateRequesting).
		Done().
		State(StateRequesting).
		On(EventLocked).Target(StateLocked).
		On(EventLockFailed).Target(StateFailed).
		Done().
		// A reservation is held from here on until released.
		State(StateLocked).
		On(EventAuthenticate).Target(StateAuthenticated).
		On(EventAuthFailed).Target(StateAuthFailed).
		On(EventRelease).Target(StateReleased).
		On(EventReleaseFail).Target(StateAbandoned).
		Done().
		State(StateAuthenticated).
		On(EventRelease).Target(StateReleased).
		On(EventReleaseFail).Target(StateAbandoned).
		Done().
		State(StateAuthFailed).
		On(EventRelease).Target(StateReleased).
		On(EventReleaseFail).Target(StateAbandoned).
		Done().
		State(StateFailed).
		Final().
		Done().
		State(StateReleased).
		Final().
		Done().
		// Release was attempted and failed; the server lease is left to expire.
		State(StateAbandoned).
		Final().
		Done().
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build session machine: %w", err)
	}

	m := &Machine{interpreter: statekit.NewInterpreter(machine)}
	m.interpreter.Start()
	m.history = append(m.history, m.interpreter.State().Value)
	return m, nil
}

// Resume builds a machine positioned where the release phase picks up:
// locked when a release is owed, idle otherwise.
func Resume(owed bool) (*Machine, error) {
	m, err := NewMachine()
	if err != nil {
		return nil, err
	}
	if owed {
		if err := m.Send(EventRequest); err != nil {
			return nil, err
		}
		if err := m.Send(EventLocked); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Send applies event and fails if the current state does not accept it.
func (m *Machine) Send(event statekit.EventType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := m.interpreter.State().Value
	m.interpreter.Send(statekit.Event{Type: event})
	after := m.interpreter.State().Value
	if after == before {
		return rperrors.Newf(rperrors.KindInternal, "session: event %s not allowed in state %s", event, before)
	}
	m.history = append(m.history, after)
	return nil
}

// Current returns the current state.
func (m *Machine) Current() statekit.StateID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interpreter.State().Value
}

// Done reports whether the session reached a final state.
func (m *Machine) Done() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interpreter.Done()
}

// ReleaseOwed reports whether the session currently holds a reservation.
func (m *Machine) ReleaseOwed() bool {
	switch m.Current() {
	case StateLocked, StateAuthenticated, StateAuthFailed:
		return true
	default:
		return false
	}
}

// History returns every state visited, oldest first.
func (m *Machine) History() []statekit.StateID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]statekit.StateID, len(m.history))
	copy(out, m.history)
	return out
}
