package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crew/internal/profile/models"
	"crew/pkg/domain"
	"crew/pkg/sentinel"
)

// InMemoryStore stores profiles in memory for tests/dev.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[domain.UserID]*models.Profile

	// failUpsert makes Upsert return an error, exercising the insert
	// fallback path in tests.
	failUpsert bool
}

// NewMemory constructs an empty in-memory profile store.
func NewMemory() *InMemoryStore {
	return &InMemoryStore{profiles: make(map[domain.UserID]*models.Profile)}
}

// FailUpserts toggles forced Upsert failures for fallback-path tests.
func (s *InMemoryStore) FailUpserts(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failUpsert = fail
}

func (s *InMemoryStore) FindByID(_ context.Context, userID domain.UserID) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if profile, ok := s.profiles[userID]; ok {
		return profile.Clone(), nil
	}
	return nil, fmt.Errorf("profile not found: %w", sentinel.ErrNotFound)
}

func (s *InMemoryStore) Upsert(_ context.Context, profile *models.Profile) (*models.Profile, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpsert {
		return nil, fmt.Errorf("upsert profile: %w", sentinel.ErrUnavailable)
	}

	now := time.Now()
	if existing, ok := s.profiles[profile.ID]; ok {
		merged := existing.Clone()
		merged.Email = profile.Email
		merged.FirstName = profile.FirstName
		merged.LastName = profile.LastName
		merged.Role = profile.Role
		merged.TenantID = profile.TenantID
		merged.UpdatedAt = now
		s.profiles[profile.ID] = merged
		return merged.Clone(), nil
	}

	stored := profile.Clone()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.profiles[profile.ID] = stored
	return stored.Clone(), nil
}

func (s *InMemoryStore) Insert(_ context.Context, profile *models.Profile) (*models.Profile, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[profile.ID]; ok {
		return nil, fmt.Errorf("profile already exists: %w", sentinel.ErrConflict)
	}

	now := time.Now()
	stored := profile.Clone()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.profiles[profile.ID] = stored
	return stored.Clone(), nil
}

func (s *InMemoryStore) BindRoleTenant(_ context.Context, userID domain.UserID, role models.Role, tenantID *domain.TenantID, firstName, lastName string) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("profile not found: %w", sentinel.ErrNotFound)
	}

	updated := profile.Clone()
	updated.Role = role
	updated.TenantID = tenantID
	if firstName != "" {
		updated.FirstName = firstName
	}
	if lastName != "" {
		updated.LastName = lastName
	}
	updated.UpdatedAt = time.Now()
	s.profiles[userID] = updated
	return updated.Clone(), nil
}
