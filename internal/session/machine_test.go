package session

import (
	"testing"

	"github.com/felixgeelhaar/statekit"
)

func mustMachine(t *testing.T) *Machine {
	t.Helper()
	m, err := NewMachine()
	if err != nil {
		t.Fatalf("NewMachine() error = %v", err)
	}
	return m
}

func sendAll(t *testing.T, m *Machine, events ...statekit.EventType) {
	t.Helper()
	for _, ev := range events {
		if err := m.Send(ev); err != nil {
			t.Fatalf("Send(%s) error = %v", ev, err)
		}
	}
}

func TestMachine_StartsIdle(t *testing.T) {
	m := mustMachine(t)
	if m.Current() != StateIdle {
		t.Errorf("Current() = %v, want %v", m.Current(), StateIdle)
	}
	if m.Done() || m.ReleaseOwed() {
		t.Error("idle session must be neither done nor owe a release")
	}
}

func TestMachine_Paths(t *testing.T) {
	tests := []struct {
		name   string
		events []statekit.EventType
		want   statekit.StateID
		owed   bool
		done   bool
	}{
		{name: "lock failed", events: []statekit.EventType{EventRequest, EventLockFailed}, want: StateFailed, done: true},
		{name: "locked", events: []statekit.EventType{EventRequest, EventLocked}, want: StateLocked, owed: true},
		{name: "authenticated", events: []statekit.EventType{EventRequest, EventLocked, EventAuthenticate}, want: StateAuthenticated, owed: true},
		{name: "auth failed", events: []statekit.EventType{EventRequest, EventLocked, EventAuthFailed}, want: StateAuthFailed, owed: true},
		{name: "released after auth failure", events: []statekit.EventType{EventRequest, EventLocked, EventAuthFailed, EventRelease}, want: StateReleased, done: true},
		{name: "release failed", events: []statekit.EventType{EventRequest, EventLocked, EventReleaseFail}, want: StateAbandoned, done: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mustMachine(t)
			sendAll(t, m, tt.events...)

			if got := m.Current(); got != tt.want {
				t.Errorf("Current() = %v, want %v", got, tt.want)
			}
			if got := m.ReleaseOwed(); got != tt.owed {
				t.Errorf("ReleaseOwed() = %v, want %v", got, tt.owed)
			}
			if got := m.Done(); got != tt.done {
				t.Errorf("Done() = %v, want %v", got, tt.done)
			}
			if got := len(m.History()); got != len(tt.events)+1 {
				t.Errorf("len(History()) = %d, want %d", got, len(tt.events)+1)
			}
		})
	}
}

func TestMachine_RejectsInvalidEvents(t *testing.T) {
	m := mustMachine(t)

	if err := m.Send(EventRelease); err == nil {
		t.Error("expected release from idle to be rejected")
	}
	if err := m.Send(EventAuthenticate); err == nil {
		t.Error("expected authenticate from idle to be rejected")
	}

	sendAll(t, m, EventRequest, EventLockFailed)
	if err := m.Send(EventRelease); err == nil {
		t.Error("a failed acquisition owes no release")
	}
}

func TestResume(t *testing.T) {
	owed, err := Resume(true)
	if err != nil {
		t.Fatalf("Resume(true) error = %v", err)
	}
	if owed.Current() != StateLocked {
		t.Errorf("Resume(true) state = %v, want %v", owed.Current(), StateLocked)
	}

	idle, err := Resume(false)
	if err != nil {
		t.Fatalf("Resume(false) error = %v", err)
	}
	if idle.ReleaseOwed() {
		t.Error("Resume(false) must not owe a release")
	}
}
