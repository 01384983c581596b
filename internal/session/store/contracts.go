// Package store provides session and security-setting persistence.
//
// Error Contract:
// All store methods follow this pattern:
// - Return sentinel.ErrNotFound (wrapped) when the requested row does not exist
// - Return nil for successful operations
// - Return wrapped errors with context for infrastructure failures
package store

import (
	"context"
	"time"

	"crew/internal/session/models"
	"crew/pkg/domain"
)

// Store is the persistence contract for login sessions.
type Store interface {
	// Create inserts a new session row.
	Create(ctx context.Context, session *models.Session) error

	// FindActiveByToken returns the active session with the given token.
	FindActiveByToken(ctx context.Context, token string) (*models.Session, error)

	// ListActiveByUser returns the user's active sessions ordered by
	// last_activity ascending (oldest first). The eviction policy depends on
	// this ordering.
	ListActiveByUser(ctx context.Context, userID domain.UserID) ([]*models.Session, error)

	// DeactivateByToken sets is_active=false on the row matching the token.
	DeactivateByToken(ctx context.Context, token string) error

	// DeactivateByID sets is_active=false on the row with the given id.
	DeactivateByID(ctx context.Context, sessionID domain.SessionID) error

	// DeleteExpired removes sessions that expired before now. The time is
	// injected for testability.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// SettingsStore reads security settings. The core never writes them.
type SettingsStore interface {
	// Value returns the raw string value for a setting key.
	Value(ctx context.Context, key string) (string, error)
}
