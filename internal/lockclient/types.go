// Package lockclient binds the environment locking protocol to a concrete
// command-line client dialect.
package lockclient

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	rperrors "github.com/flxbl-io/envlock/internal/errors"
)

// DefaultDurationMinutes is the lock duration used when none is configured.
const DefaultDurationMinutes = 60

// WaitPolicy determines how long the client blocks on a contested lock.
// The zero value waits indefinitely.
type WaitPolicy struct {
	minutes int
}

// Indefinite waits until the lock is granted.
func Indefinite() WaitPolicy {
	return WaitPolicy{}
}

// TimeoutMinutes waits up to n minutes. n <= 0 means Indefinite.
func TimeoutMinutes(n int) WaitPolicy {
	if n <= 0 {
		return Indefinite()
	}
	return WaitPolicy{minutes: n}
}

// ParseWaitPolicy parses a wait-timeout input. Empty, "0" and negative
// values mean Indefinite.
func ParseWaitPolicy(s string) (WaitPolicy, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Indefinite(), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return WaitPolicy{}, rperrors.ConfigWrap(err, "lockclient.ParseWaitPolicy",
			fmt.Sprintf("wait-timeout must be a whole number of minutes, got %q", s))
	}
	return TimeoutMinutes(n), nil
}

// IsIndefinite reports whether the policy waits forever.
func (w WaitPolicy) IsIndefinite() bool {
	return w.minutes <= 0
}

// Minutes returns the bounded wait in minutes, or 0 for Indefinite.
func (w WaitPolicy) Minutes() int {
	return w.minutes
}

// String renders the policy for logs.
func (w WaitPolicy) String() string {
	if w.IsIndefinite() {
		return "indefinite"
	}
	return fmt.Sprintf("%d minutes", w.minutes)
}

// Server identifies the locking service and the credential used against it.
type Server struct {
	URL   string
	Token string
}

// LockRequest is one acquisition request. It is a value: copies never
// alias each other.
type LockRequest struct {
	TargetName      string
	OwnerRepository string
	DurationMinutes int
	Reason          string
	Wait            WaitPolicy
}

// NewLockRequest builds a validated LockRequest. A non-positive duration
// falls back to DefaultDurationMinutes.
func NewLockRequest(target, owner string, durationMinutes int, reason string, wait WaitPolicy) (LockRequest, error) {
	req := LockRequest{
		TargetName:      strings.TrimSpace(target),
		OwnerRepository: strings.TrimSpace(owner),
		DurationMinutes: durationMinutes,
		Reason:          strings.TrimSpace(reason),
		Wait:            wait,
	}
	if req.DurationMinutes <= 0 {
		req.DurationMinutes = DefaultDurationMinutes
	}
	if err := req.Validate(); err != nil {
		return LockRequest{}, err
	}
	return req, nil
}

// Validate checks the request invariants.
func (r LockRequest) Validate() error {
	const op = "lockclient.LockRequest"
	switch {
	case r.TargetName == "":
		return rperrors.Config(op, "environment name is required")
	case r.OwnerRepository == "":
		return rperrors.Config(op, "repository not specified and could not be resolved from the run context")
	case r.DurationMinutes <= 0:
		return rperrors.Config(op, "duration must be a positive number of minutes")
	}
	return nil
}

// UnlockRequest identifies the reservation to release.
type UnlockRequest struct {
	TargetName      string
	TicketID        string
	OwnerRepository string
}

// LockStatus is the server-reported state of a reservation.
type LockStatus string

// Known lock statuses. The server may report others.
const (
	StatusAcquired LockStatus = "acquired"
	StatusPending  LockStatus = "pending"
)

// IsAcquired reports whether the lock is held by this run.
func (s LockStatus) IsAcquired() bool {
	return s == StatusAcquired
}

// Credential is the bundle needed to act against the locked environment.
// Every field is sensitive or identifying and must not be logged verbatim.
type Credential struct {
	AccessToken string
	InstanceURL string
	Username    string
	OrgID       string
	LoginURL    string
}

// IsEmpty reports whether no field is populated.
func (c Credential) IsEmpty() bool {
	return c == Credential{}
}

// Complete reports whether every field is populated.
func (c Credential) Complete() bool {
	return c.AccessToken != "" && c.InstanceURL != "" && c.Username != "" &&
		c.OrgID != "" && c.LoginURL != ""
}

// FillFrom copies fields from other only where c is still empty.
func (c Credential) FillFrom(other Credential) Credential {
	if c.AccessToken == "" {
		c.AccessToken = other.AccessToken
	}
	if c.InstanceURL == "" {
		c.InstanceURL = other.InstanceURL
	}
	if c.Username == "" {
		c.Username = other.Username
	}
	if c.OrgID == "" {
		c.OrgID = other.OrgID
	}
	if c.LoginURL == "" {
		c.LoginURL = other.LoginURL
	}
	return c
}

// LockResult is the parsed response of a successful lock call.
type LockResult struct {
	TicketID        string
	Status          LockStatus
	ExpiresAt       *time.Time
	EnvironmentID   string
	EnvironmentName string
	DurationMinutes int
	Credential      Credential
}
