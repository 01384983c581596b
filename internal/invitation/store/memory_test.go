package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"crew/internal/invitation/models"
	profile "crew/internal/profile/models"
	"crew/pkg/domain"
	"crew/pkg/sentinel"
)

// recordingBinder records BindRoleTenant calls so acceptance tests can assert
// the binding happened exactly once and carried the invitee's name.
type recordingBinder struct {
	calls []domain.UserID
	names []string
	err   error
}

func (b *recordingBinder) BindRoleTenant(_ context.Context, userID domain.UserID, role profile.Role, tenantID *domain.TenantID, firstName, lastName string) (*profile.Profile, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.calls = append(b.calls, userID)
	b.names = append(b.names, firstName+" "+lastName)
	return &profile.Profile{ID: userID, Role: role, TenantID: tenantID, FirstName: firstName, LastName: lastName}, nil
}

type InvitationMemorySuite struct {
	suite.Suite
	ctx    context.Context
	binder *recordingBinder
	store  *InMemoryStore
}

func TestInvitationMemorySuite(t *testing.T) {
	suite.Run(t, new(InvitationMemorySuite))
}

func (s *InvitationMemorySuite) SetupTest() {
	s.ctx = context.Background()
	s.binder = &recordingBinder{}
	s.store = NewMemory(s.binder)
}

func (s *InvitationMemorySuite) seed(email, token string, status models.Status) *models.Invitation {
	now := time.Now()
	invitation := &models.Invitation{
		ID:        domain.NewInvitationID(),
		Email:     email,
		Role:      profile.RoleEmployee,
		TenantID:  domain.NewTenantID(),
		Token:     token,
		InvitedBy: domain.NewUserID(),
		Status:    status,
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
	s.Require().NoError(s.store.Create(s.ctx, invitation))
	return invitation
}

func (s *InvitationMemorySuite) TestCreateRejectsDuplicatePending() {
	first := s.seed("ada@example.com", "token-1", models.StatusPending)

	dup := first.Clone()
	dup.ID = domain.NewInvitationID()
	dup.Token = "token-2"
	err := s.store.Create(s.ctx, dup)
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrConflict))

	// Same email for a different tenant is fine.
	other := dup.Clone()
	other.ID = domain.NewInvitationID()
	other.Token = "token-3"
	other.TenantID = domain.NewTenantID()
	s.NoError(s.store.Create(s.ctx, other))
}

func (s *InvitationMemorySuite) TestValidateReasons() {
	now := time.Now()

	s.seed("pending@example.com", "token-pending", models.StatusPending)
	s.seed("revoked@example.com", "token-revoked", models.StatusRevoked)
	s.seed("accepted@example.com", "token-accepted", models.StatusAccepted)

	cases := []struct {
		token  string
		reason string
	}{
		{"missing-token", "invitation not found"},
		{"token-revoked", "invitation revoked"},
		{"token-accepted", "invitation already accepted"},
	}
	for _, tc := range cases {
		validation, err := s.store.ValidateToken(s.ctx, tc.token, now)
		s.Require().NoError(err)
		s.False(validation.Valid)
		s.Equal(tc.reason, validation.Reason)
	}

	validation, err := s.store.ValidateToken(s.ctx, "token-pending", now)
	s.Require().NoError(err)
	s.True(validation.Valid)
	s.Equal("pending@example.com", validation.Email)

	validation, err = s.store.ValidateToken(s.ctx, "token-pending", now.Add(48*time.Hour))
	s.Require().NoError(err)
	s.False(validation.Valid)
	s.Equal("invitation expired", validation.Reason)
}

func (s *InvitationMemorySuite) TestAcceptBindsOnce() {
	invitation := s.seed("ada@example.com", "token-1", models.StatusPending)
	userID := domain.NewUserID()

	result, err := s.store.Accept(s.ctx, "token-1", userID, "Ada", "Lovelace")
	s.Require().NoError(err)
	s.False(result.AlreadyAccepted)
	s.Equal(invitation.TenantID, result.TenantID)
	s.Require().Len(s.binder.calls, 1)
	s.Equal("Ada Lovelace", s.binder.names[0])

	again, err := s.store.Accept(s.ctx, "token-1", userID, "Ada", "Lovelace")
	s.Require().NoError(err)
	s.True(again.AlreadyAccepted)
	s.Len(s.binder.calls, 1, "binding must not be reapplied on redelivery")

	stored, err := s.store.FindByID(s.ctx, invitation.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusAccepted, stored.Status)
	s.NotNil(stored.AcceptedAt)
}

func (s *InvitationMemorySuite) TestAcceptFailsWithoutMutationWhenBindFails() {
	invitation := s.seed("ada@example.com", "token-1", models.StatusPending)
	s.binder.err = errors.New("profile store down")

	_, err := s.store.Accept(s.ctx, "token-1", domain.NewUserID(), "Ada", "Lovelace")
	s.Require().Error(err)

	stored, findErr := s.store.FindByID(s.ctx, invitation.ID)
	s.Require().NoError(findErr)
	s.Equal(models.StatusPending, stored.Status, "failed accept must leave the invitation claimable")
}

func (s *InvitationMemorySuite) TestAcceptRevokedAndExpired() {
	s.seed("revoked@example.com", "token-revoked", models.StatusRevoked)
	_, err := s.store.Accept(s.ctx, "token-revoked", domain.NewUserID(), "R", "V")
	s.True(errors.Is(err, sentinel.ErrInvalidState))

	s.seed("late@example.com", "token-late", models.StatusPending)
	s.store.SetClock(func() time.Time { return time.Now().Add(48 * time.Hour) })
	_, err = s.store.Accept(s.ctx, "token-late", domain.NewUserID(), "L", "T")
	s.True(errors.Is(err, sentinel.ErrExpired))
}

func (s *InvitationMemorySuite) TestRevoke() {
	invitation := s.seed("ada@example.com", "token-1", models.StatusPending)
	s.Require().NoError(s.store.Revoke(s.ctx, invitation.ID))

	err := s.store.Revoke(s.ctx, invitation.ID)
	s.True(errors.Is(err, sentinel.ErrInvalidState))

	err = s.store.Revoke(s.ctx, domain.NewInvitationID())
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *InvitationMemorySuite) TestListByTenantNewestFirst() {
	tenantID := domain.NewTenantID()
	now := time.Now()
	for i, email := range []string{"a@example.com", "b@example.com"} {
		invitation := &models.Invitation{
			ID:        domain.NewInvitationID(),
			Email:     email,
			Role:      profile.RoleEmployee,
			TenantID:  tenantID,
			Token:     email,
			Status:    models.StatusPending,
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
			ExpiresAt: now.Add(24 * time.Hour),
		}
		s.Require().NoError(s.store.Create(s.ctx, invitation))
	}

	list, err := s.store.ListByTenant(s.ctx, tenantID)
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal("b@example.com", list[0].Email)
}
