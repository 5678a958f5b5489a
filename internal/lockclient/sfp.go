package lockclient

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	rperrors "github.com/flxbl-io/envlock/internal/errors"
)

// SFPServerDialect is the name of the sfp server environment dialect.
const SFPServerDialect = "sfp-server"

func init() {
	Register(sfpServer{})
}

// sfpServer binds the protocol to `sfp server environment lock|unlock`.
//
//	lock:   --name N --repository R --duration D --sfp-server-url U -t T --json
//	        [--reason X] (--wait | --wait-timeout M)
//	unlock: --name N --repository R --ticket-id I --sfp-server-url U -t T
type sfpServer struct{}

func (sfpServer) Name() string          { return SFPServerDialect }
func (sfpServer) DefaultBinary() string { return "sfp" }

func (sfpServer) RequiresOwnerRepository() bool { return true }

func (sfpServer) LockArgs(req LockRequest, server Server) []string {
	args := []string{
		"server", "environment", "lock",
		"--name", req.TargetName,
		"--repository", req.OwnerRepository,
		"--duration", strconv.Itoa(req.DurationMinutes),
		"--sfp-server-url", server.URL,
		"-t", server.Token,
		"--json",
	}

	if req.Reason != "" {
		args = append(args, "--reason", req.Reason)
	}

	if req.Wait.IsIndefinite() {
		args = append(args, "--wait")
	} else {
		args = append(args, "--wait-timeout", strconv.Itoa(req.Wait.Minutes()))
	}

	return args
}

func (sfpServer) UnlockArgs(req UnlockRequest, server Server) []string {
	return []string{
		"server", "environment", "unlock",
		"--name", req.TargetName,
		"--repository", req.OwnerRepository,
		"--ticket-id", req.TicketID,
		"--sfp-server-url", server.URL,
		"-t", server.Token,
	}
}

// sfpLockResponse is the JSON printed by `lock --json`.
type sfpLockResponse struct {
	TicketID           string          `json:"ticketId"`
	Status             string          `json:"status"`
	ExpiresAt          string          `json:"expiresAt,omitempty"`
	EnvironmentID      string          `json:"environmentId,omitempty"`
	EnvironmentName    string          `json:"environmentName,omitempty"`
	Duration           json.RawMessage `json:"duration,omitempty"`
	SalesforceUsername string          `json:"salesforceUsername,omitempty"`
	Username           string          `json:"username,omitempty"`
	AccessToken        string          `json:"accessToken,omitempty"`
	InstanceURL        string          `json:"instanceUrl,omitempty"`
	OrgID              string          `json:"orgId,omitempty"`
	LoginURL           string          `json:"loginUrl,omitempty"`
}

func (sfpServer) ParseLock(stdout string) (*LockResult, error) {
	const op = "lockclient.ParseLock"

	var resp sfpLockResponse
	if err := json.Unmarshal([]byte(stdout), &resp); err != nil {
		return nil, rperrors.LockResponse(op, "failed to parse lock response", stdout)
	}
	if strings.TrimSpace(resp.TicketID) == "" {
		return nil, rperrors.LockResponse(op, "lock response did not contain ticket ID", stdout)
	}

	result := &LockResult{
		TicketID:        resp.TicketID,
		Status:          LockStatus(resp.Status),
		EnvironmentID:   resp.EnvironmentID,
		EnvironmentName: resp.EnvironmentName,
		Credential: Credential{
			AccessToken: resp.AccessToken,
			InstanceURL: resp.InstanceURL,
			Username:    firstNonEmpty(resp.SalesforceUsername, resp.Username),
			OrgID:       resp.OrgID,
			LoginURL:    resp.LoginURL,
		},
	}

	if resp.ExpiresAt != "" {
		if t, err := time.Parse(time.RFC3339, resp.ExpiresAt); err == nil {
			result.ExpiresAt = &t
		}
	}
	if len(resp.Duration) > 0 {
		raw := strings.Trim(string(resp.Duration), `"`)
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			result.DurationMinutes = int(f)
		}
	}

	return result, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
