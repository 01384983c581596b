// Package models contains pure domain models for tenant invitations.
package models

import (
	"time"

	profile "crew/internal/profile/models"
	"crew/pkg/domain"
)

// Status is the lifecycle state of an invitation row.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRevoked  Status = "revoked"
)

// Invitation is a pending offer to join a tenant under a given role,
// addressed to an email and redeemed with a single-use token.
type Invitation struct {
	ID         domain.InvitationID
	Email      string
	Role       profile.Role
	TenantID   domain.TenantID
	TenantName string
	Token      string
	InvitedBy  domain.UserID
	InviterName string
	Status     Status
	CreatedAt  time.Time
	ExpiresAt  time.Time
	AcceptedAt *time.Time
}

// Expired reports whether the invitation is past its expiry.
func (i *Invitation) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// Clone returns a copy safe to hand across store boundaries.
func (i *Invitation) Clone() *Invitation {
	if i == nil {
		return nil
	}
	c := *i
	if i.AcceptedAt != nil {
		t := *i.AcceptedAt
		c.AcceptedAt = &t
	}
	return &c
}

// Validation is the result of the atomic token validation operation. When
// Valid is false, Reason carries the server-side rejection cause verbatim.
type Validation struct {
	Valid      bool
	Reason     string
	ID         domain.InvitationID
	Email      string
	Role       profile.Role
	TenantID   domain.TenantID
	TenantName string
}

// AcceptResult is the outcome of the atomic accept operation. The operation
// is idempotent: a second accept of the same token reports AlreadyAccepted
// and changes nothing.
type AcceptResult struct {
	AlreadyAccepted bool
	Role            profile.Role
	TenantID        domain.TenantID
}
