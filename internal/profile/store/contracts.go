// Package store provides profile persistence.
//
// Error Contract:
// All store methods follow this pattern:
// - Return sentinel.ErrNotFound (wrapped) when the requested row does not exist
// - Return nil for successful operations
// - Return wrapped errors with context for infrastructure failures
package store

import (
	"context"

	"crew/internal/profile/models"
	"crew/pkg/domain"
)

// Store is the persistence contract for profiles.
type Store interface {
	// FindByID looks a profile up by user id.
	FindByID(ctx context.Context, userID domain.UserID) (*models.Profile, error)

	// Upsert inserts the profile or updates the existing row with the same id.
	// This is the primary creation path: it absorbs the race with a storage
	// trigger that may have already created the row from the same signup event.
	Upsert(ctx context.Context, profile *models.Profile) (*models.Profile, error)

	// Insert is the fallback creation path used when Upsert fails.
	Insert(ctx context.Context, profile *models.Profile) (*models.Profile, error)

	// BindRoleTenant finalizes the role/tenant binding on a profile, writing
	// the invitee's name in the same update. Empty name fields leave the
	// existing values untouched. Used by the invitation accept operation.
	BindRoleTenant(ctx context.Context, userID domain.UserID, role models.Role, tenantID *domain.TenantID, firstName, lastName string) (*models.Profile, error)
}
