// Package audit captures structured audit events for authentication and
// invitation activity. Events are transport-agnostic so sinks can fan out to
// a log, a broker, or both.
package audit

import (
	"context"
	"time"

	"crew/pkg/domain"
)

// Action identifies what happened.
type Action string

const (
	ActionLogin             Action = "login"
	ActionLoginFailed       Action = "login_failed"
	ActionSignup            Action = "signup"
	ActionLogout            Action = "logout"
	ActionSessionEvicted    Action = "session_evicted"
	ActionInvitationCreated Action = "invitation_created"
	ActionInvitationAccept  Action = "invitation_accepted"
	ActionInvitationRevoked Action = "invitation_revoked"
)

// Event is a single audit record.
type Event struct {
	Timestamp time.Time     `json:"timestamp"`
	Action    Action        `json:"action"`
	UserID    domain.UserID `json:"user_id,omitempty"`
	Email     string        `json:"email,omitempty"`
	TenantID  string        `json:"tenant_id,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
	IPAddress string        `json:"ip_address,omitempty"`
}

// Sink receives audit events. Implementations must be safe for concurrent
// use.
type Sink interface {
	Append(ctx context.Context, event Event) error
}
