package config

import (
	"github.com/flxbl-io/envlock/internal/lockclient"
	"github.com/flxbl-io/envlock/internal/resilience"
)

// LockRequest builds the acquisition request. owner is the resolved owner
// repository.
func (c *Config) LockRequest(owner string) (lockclient.LockRequest, error) {
	wait, err := lockclient.ParseWaitPolicy(c.WaitTimeout)
	if err != nil {
		return lockclient.LockRequest{}, err
	}
	return lockclient.NewLockRequest(c.Environment, owner, c.Duration, c.Reason, wait)
}

// Server returns the locking service endpoint.
func (c *Config) Server() lockclient.Server {
	return lockclient.Server{URL: c.ServerURL, Token: c.ServerToken}
}

// UnlockRetry returns the retry policy for the release phase.
func (c *Config) UnlockRetry() resilience.Config {
	r := resilience.DefaultConfig()
	if c.UnlockAttempts > 0 {
		r.Attempts = c.UnlockAttempts
	}
	return r
}
