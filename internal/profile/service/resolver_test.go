package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"crew/internal/identity"
	"crew/internal/profile/models"
	"crew/internal/profile/service/mocks"
	dErrors "crew/pkg/domainerrors"
	"crew/pkg/domain"
	"crew/pkg/sentinel"
)

type ResolverSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	mockStore *mocks.MockStore
	resolver  *Resolver
	ident     *identity.Identity
}

func (s *ResolverSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockStore = mocks.NewMockStore(s.ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.resolver = New(s.mockStore, WithLogger(logger))
	s.ident = &identity.Identity{
		ID:    domain.NewUserID(),
		Email: "pat@example.com",
	}
}

func (s *ResolverSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverSuite))
}

func (s *ResolverSuite) TestFetchReturnsNilWhenAbsent() {
	s.mockStore.EXPECT().
		FindByID(gomock.Any(), s.ident.ID).
		Return(nil, fmt.Errorf("profile not found: %w", sentinel.ErrNotFound))

	profile, err := s.resolver.Fetch(context.Background(), s.ident.ID)
	s.NoError(err)
	s.Nil(profile)
}

func (s *ResolverSuite) TestFetchPropagatesStorageFailure() {
	s.mockStore.EXPECT().
		FindByID(gomock.Any(), s.ident.ID).
		Return(nil, fmt.Errorf("connection reset: %w", sentinel.ErrUnavailable))

	profile, err := s.resolver.Fetch(context.Background(), s.ident.ID)
	s.Nil(profile)
	s.True(dErrors.HasCode(err, dErrors.CodeProfileUnavailable))
}

func (s *ResolverSuite) TestResolveReturnsExistingProfile() {
	existing := &models.Profile{ID: s.ident.ID, Email: s.ident.Email, Role: models.RoleEmployee}
	s.mockStore.EXPECT().
		FindByID(gomock.Any(), s.ident.ID).
		Return(existing, nil)

	profile, err := s.resolver.ResolveOrCreate(context.Background(), s.ident, nil)
	s.Require().NoError(err)
	s.Equal(existing.ID, profile.ID)
	s.Equal(models.RoleEmployee, profile.Role)
}

func (s *ResolverSuite) TestResolveCreatesViaUpsertWithDefaults() {
	s.mockStore.EXPECT().
		FindByID(gomock.Any(), s.ident.ID).
		Return(nil, sentinel.ErrNotFound)
	s.mockStore.EXPECT().
		Upsert(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p *models.Profile) (*models.Profile, error) {
			s.Equal(s.ident.ID, p.ID)
			s.Equal(s.ident.Email, p.Email)
			s.Equal(models.RoleEmployee, p.Role)
			s.Nil(p.TenantID)
			return p.Clone(), nil
		})

	profile, err := s.resolver.ResolveOrCreate(context.Background(), s.ident, nil)
	s.Require().NoError(err)
	s.Equal(models.RoleEmployee, profile.Role)
}

func (s *ResolverSuite) TestResolveAppliesSeedRoleAndTenant() {
	tenantID := domain.NewTenantID()
	seed := &models.Seed{
		FirstName: "Pat",
		LastName:  "Doe",
		Role:      models.RoleTenantAdmin,
		TenantID:  &tenantID,
	}

	s.mockStore.EXPECT().
		FindByID(gomock.Any(), s.ident.ID).
		Return(nil, sentinel.ErrNotFound)
	s.mockStore.EXPECT().
		Upsert(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p *models.Profile) (*models.Profile, error) {
			return p.Clone(), nil
		})

	profile, err := s.resolver.ResolveOrCreate(context.Background(), s.ident, seed)
	s.Require().NoError(err)
	s.Equal(models.RoleTenantAdmin, profile.Role)
	s.Require().NotNil(profile.TenantID)
	s.Equal(tenantID, *profile.TenantID)
	s.Equal("Pat", profile.FirstName)
}

func (s *ResolverSuite) TestResolveFallsBackToInsertWhenUpsertFails() {
	s.mockStore.EXPECT().
		FindByID(gomock.Any(), s.ident.ID).
		Return(nil, sentinel.ErrNotFound)
	s.mockStore.EXPECT().
		Upsert(gomock.Any(), gomock.Any()).
		Return(nil, fmt.Errorf("upsert profile: %w", sentinel.ErrUnavailable))
	s.mockStore.EXPECT().
		Insert(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p *models.Profile) (*models.Profile, error) {
			return p.Clone(), nil
		})

	profile, err := s.resolver.ResolveOrCreate(context.Background(), s.ident, nil)
	s.Require().NoError(err)
	s.Equal(s.ident.ID, profile.ID)
}

func (s *ResolverSuite) TestResolveFailsWhenBothPathsFail() {
	s.mockStore.EXPECT().
		FindByID(gomock.Any(), s.ident.ID).
		Return(nil, sentinel.ErrNotFound)
	s.mockStore.EXPECT().
		Upsert(gomock.Any(), gomock.Any()).
		Return(nil, fmt.Errorf("upsert profile: %w", sentinel.ErrUnavailable))
	s.mockStore.EXPECT().
		Insert(gomock.Any(), gomock.Any()).
		Return(nil, fmt.Errorf("insert profile: %w", sentinel.ErrUnavailable))

	profile, err := s.resolver.ResolveOrCreate(context.Background(), s.ident, nil)
	s.Nil(profile)
	s.True(dErrors.HasCode(err, dErrors.CodeProfileCreateFailed))
}

func (s *ResolverSuite) TestResolveReadsBackAfterInsertConflict() {
	existing := &models.Profile{ID: s.ident.ID, Email: s.ident.Email, Role: models.RoleEmployee}

	first := s.mockStore.EXPECT().
		FindByID(gomock.Any(), s.ident.ID).
		Return(nil, sentinel.ErrNotFound)
	s.mockStore.EXPECT().
		Upsert(gomock.Any(), gomock.Any()).
		Return(nil, fmt.Errorf("upsert profile: %w", sentinel.ErrUnavailable))
	s.mockStore.EXPECT().
		Insert(gomock.Any(), gomock.Any()).
		Return(nil, fmt.Errorf("profile already exists: %w", sentinel.ErrConflict))
	s.mockStore.EXPECT().
		FindByID(gomock.Any(), s.ident.ID).
		After(first).
		Return(existing, nil)

	profile, err := s.resolver.ResolveOrCreate(context.Background(), s.ident, nil)
	s.Require().NoError(err)
	s.Equal(existing.ID, profile.ID)
}
