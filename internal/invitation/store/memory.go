package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"crew/internal/invitation/models"
	profile "crew/internal/profile/models"
	"crew/pkg/domain"
	"crew/pkg/secrets"
	"crew/pkg/sentinel"
)

// ProfileBinder is the slice of the profile store the accept operation needs.
type ProfileBinder interface {
	BindRoleTenant(ctx context.Context, userID domain.UserID, role profile.Role, tenantID *domain.TenantID, firstName, lastName string) (*profile.Profile, error)
}

// InMemoryStore keeps invitations in a map. It emulates the storage-side
// atomic operations by holding its lock across the check-and-mutate sequence.
type InMemoryStore struct {
	mu          sync.Mutex
	invitations map[domain.InvitationID]*models.Invitation
	byToken     map[string]domain.InvitationID
	profiles    ProfileBinder
	now         func() time.Time
}

// NewMemory constructs an empty store. The binder receives the role/tenant
// binding when an invitation is accepted.
func NewMemory(profiles ProfileBinder) *InMemoryStore {
	return &InMemoryStore{
		invitations: make(map[domain.InvitationID]*models.Invitation),
		byToken:     make(map[string]domain.InvitationID),
		profiles:    profiles,
		now:         time.Now,
	}
}

// SetClock overrides the store clock (test helper).
func (s *InMemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *InMemoryStore) Create(_ context.Context, invitation *models.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.invitations {
		if existing.Email == invitation.Email && existing.TenantID == invitation.TenantID &&
			existing.Status == models.StatusPending && !existing.Expired(s.now()) {
			return fmt.Errorf("pending invitation for %s already exists: %w", invitation.Email, sentinel.ErrConflict)
		}
	}

	stored := invitation.Clone()
	s.invitations[stored.ID] = stored
	s.byToken[stored.Token] = stored.ID
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id domain.InvitationID) (*models.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	invitation, ok := s.invitations[id]
	if !ok {
		return nil, fmt.Errorf("invitation not found: %w", sentinel.ErrNotFound)
	}
	return invitation.Clone(), nil
}

func (s *InMemoryStore) ListByTenant(_ context.Context, tenantID domain.TenantID) ([]*models.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Invitation
	for _, invitation := range s.invitations {
		if invitation.TenantID == tenantID {
			out = append(out, invitation.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) GenerateToken(_ context.Context) (string, error) {
	return secrets.Generate()
}

func (s *InMemoryStore) ValidateToken(_ context.Context, token string, now time.Time) (*models.Validation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invitation := s.findByTokenLocked(token)
	if invitation == nil {
		return &models.Validation{Valid: false, Reason: "invitation not found"}, nil
	}
	switch {
	case invitation.Status == models.StatusAccepted:
		return &models.Validation{Valid: false, Reason: "invitation already accepted"}, nil
	case invitation.Status == models.StatusRevoked:
		return &models.Validation{Valid: false, Reason: "invitation revoked"}, nil
	case invitation.Expired(now):
		return &models.Validation{Valid: false, Reason: "invitation expired"}, nil
	}

	return &models.Validation{
		Valid:      true,
		ID:         invitation.ID,
		Email:      invitation.Email,
		Role:       invitation.Role,
		TenantID:   invitation.TenantID,
		TenantName: invitation.TenantName,
	}, nil
}

func (s *InMemoryStore) Accept(ctx context.Context, token string, userID domain.UserID, firstName, lastName string) (*models.AcceptResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invitation := s.findByTokenLocked(token)
	if invitation == nil {
		return nil, fmt.Errorf("invitation not found: %w", sentinel.ErrNotFound)
	}
	if invitation.Status == models.StatusAccepted {
		// Idempotent: the profile binding already happened on the first
		// accept and must not be reapplied.
		return &models.AcceptResult{AlreadyAccepted: true, Role: invitation.Role, TenantID: invitation.TenantID}, nil
	}
	if invitation.Status == models.StatusRevoked {
		return nil, fmt.Errorf("invitation revoked: %w", sentinel.ErrInvalidState)
	}
	if invitation.Expired(s.now()) {
		return nil, fmt.Errorf("invitation expired: %w", sentinel.ErrExpired)
	}

	tenantID := invitation.TenantID
	if _, err := s.profiles.BindRoleTenant(ctx, userID, invitation.Role, &tenantID, firstName, lastName); err != nil {
		return nil, fmt.Errorf("bind role and tenant: %w", err)
	}

	accepted := s.now()
	invitation.Status = models.StatusAccepted
	invitation.AcceptedAt = &accepted
	return &models.AcceptResult{Role: invitation.Role, TenantID: invitation.TenantID}, nil
}

func (s *InMemoryStore) Revoke(_ context.Context, id domain.InvitationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	invitation, ok := s.invitations[id]
	if !ok {
		return fmt.Errorf("invitation not found: %w", sentinel.ErrNotFound)
	}
	if invitation.Status != models.StatusPending {
		return fmt.Errorf("invitation is %s: %w", invitation.Status, sentinel.ErrInvalidState)
	}
	invitation.Status = models.StatusRevoked
	return nil
}

func (s *InMemoryStore) findByTokenLocked(token string) *models.Invitation {
	id, ok := s.byToken[token]
	if !ok {
		return nil
	}
	return s.invitations[id]
}
