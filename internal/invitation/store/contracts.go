// Package store provides invitation persistence. The postgres implementation
// delegates validate/accept/token-generation to storage-side functions so the
// status checks and profile binding stay atomic; the memory implementation
// emulates those functions under one lock.
package store

import (
	"context"
	"time"

	"crew/internal/invitation/models"
	"crew/pkg/domain"
)

// Store is the invitation persistence contract.
//
// Error contract: not-found conditions wrap sentinel.ErrNotFound, duplicate
// pending invitations wrap sentinel.ErrConflict. Validation failures are NOT
// errors: ValidateToken reports them in the Validation result so the caller
// can surface the server-side reason.
type Store interface {
	// Create persists a new pending invitation.
	Create(ctx context.Context, invitation *models.Invitation) error

	// FindByID returns an invitation regardless of status.
	FindByID(ctx context.Context, id domain.InvitationID) (*models.Invitation, error)

	// ListByTenant returns the tenant's invitations, newest first.
	ListByTenant(ctx context.Context, tenantID domain.TenantID) ([]*models.Invitation, error)

	// GenerateToken produces a cryptographically random single-use token.
	GenerateToken(ctx context.Context) (string, error)

	// ValidateToken atomically checks token existence, status and expiry.
	ValidateToken(ctx context.Context, token string, now time.Time) (*models.Validation, error)

	// Accept atomically marks the invitation accepted and binds its role,
	// tenant and the invitee's name onto the accepting user's profile.
	// Idempotent per token; the profile is touched only on the first accept.
	Accept(ctx context.Context, token string, userID domain.UserID, firstName, lastName string) (*models.AcceptResult, error)

	// Revoke marks a pending invitation revoked.
	Revoke(ctx context.Context, id domain.InvitationID) error
}
