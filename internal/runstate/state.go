// Package runstate hands the release obligation from the acquire phase to
// the release phase of the same run.
package runstate

import (
	"strings"

	rperrors "github.com/flxbl-io/envlock/internal/errors"
)

// Keys written by the acquire phase and read by the release phase.
const (
	KeyTicketID    = "TICKET_ID"
	KeyEnvironment = "ENVIRONMENT"
	KeyRepository  = "REPOSITORY"
	KeyServerURL   = "SFP_SERVER_URL"
	KeyServerToken = "SFP_SERVER_TOKEN"
	KeyOwed        = "AUTO_UNLOCK"
)

// owedMarker is the only value of KeyOwed that means a release is owed.
const owedMarker = "true"

// Store is a run-scoped durable key/value store provided by the host.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool)
	// Set durably records value under key.
	Set(key, value string) error
}

// ReleaseState is the record handed from the acquire phase to the release phase.
type ReleaseState struct {
	Owed            bool   `json:"owed" yaml:"owed"`
	TicketID        string `json:"ticket_id" yaml:"ticket_id"`
	TargetName      string `json:"environment" yaml:"environment"`
	OwnerRepository string `json:"repository,omitempty" yaml:"repository,omitempty"`
	ServerURL       string `json:"server_url" yaml:"server_url"`
	ServerToken     string `json:"server_token" yaml:"server_token"`
}

// Missing lists the names of required fields that are empty. The owner
// repository is only required when requireOwner is set.
func (s ReleaseState) Missing(requireOwner bool) []string {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	check("ticketId", s.TicketID)
	check("environment", s.TargetName)
	if requireOwner {
		check("repository", s.OwnerRepository)
	}
	check("serverUrl", s.ServerURL)
	check("serverToken", s.ServerToken)
	return missing
}

// Redacted returns a copy safe to print.
func (s ReleaseState) Redacted() ReleaseState {
	if s.ServerToken != "" {
		s.ServerToken = "***"
	}
	return s
}

// Save persists an owed release. The owed marker is written last so a
// partially flushed record is never considered owed.
func Save(store Store, s ReleaseState) error {
	const op = "runstate.Save"

	if !s.Owed {
		return rperrors.State(op, "refusing to persist a release that is not owed")
	}
	if missing := s.Missing(false); len(missing) > 0 {
		return rperrors.State(op, "release state is missing "+strings.Join(missing, ", "))
	}

	fields := []struct{ key, value string }{
		{KeyTicketID, s.TicketID},
		{KeyEnvironment, s.TargetName},
		{KeyRepository, s.OwnerRepository},
		{KeyServerURL, s.ServerURL},
		{KeyServerToken, s.ServerToken},
		{KeyOwed, owedMarker},
	}
	for _, f := range fields {
		if err := store.Set(f.key, f.value); err != nil {
			return rperrors.StateWrap(err, op, "failed to save "+f.key)
		}
	}
	return nil
}

// Load reads whatever the acquire phase persisted. Absent keys yield empty
// fields; Owed is true only for the literal marker.
func Load(store Store) ReleaseState {
	get := func(key string) string {
		v, _ := store.Get(key)
		return strings.TrimSpace(v)
	}
	return ReleaseState{
		Owed:            get(KeyOwed) == owedMarker,
		TicketID:        get(KeyTicketID),
		TargetName:      get(KeyEnvironment),
		OwnerRepository: get(KeyRepository),
		ServerURL:       get(KeyServerURL),
		ServerToken:     get(KeyServerToken),
	}
}
