package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"crew/internal/session/models"
	"crew/pkg/domain"
	"crew/pkg/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *InMemoryStore
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewMemory()
}

func (s *MemoryStoreSuite) newSession(userID domain.UserID, token string, lastActivity time.Time) *models.Session {
	return &models.Session{
		ID:             domain.NewSessionID(),
		UserID:         userID,
		Token:          token,
		IssuedAt:       lastActivity,
		ExpiresAt:      lastActivity.Add(time.Hour),
		LastActivityAt: lastActivity,
		IsActive:       true,
	}
}

func (s *MemoryStoreSuite) TestFindActiveByToken() {
	userID := domain.NewUserID()
	session := s.newSession(userID, "token-a", time.Now())
	s.Require().NoError(s.store.Create(s.ctx, session))

	found, err := s.store.FindActiveByToken(s.ctx, "token-a")
	s.Require().NoError(err)
	s.Equal(session.ID, found.ID)

	_, err = s.store.FindActiveByToken(s.ctx, "token-b")
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *MemoryStoreSuite) TestListActiveByUserOrdersByLastActivity() {
	userID := domain.NewUserID()
	base := time.Now()

	newest := s.newSession(userID, "newest", base.Add(2*time.Minute))
	oldest := s.newSession(userID, "oldest", base)
	middle := s.newSession(userID, "middle", base.Add(time.Minute))
	other := s.newSession(domain.NewUserID(), "other", base)

	for _, session := range []*models.Session{newest, oldest, middle, other} {
		s.Require().NoError(s.store.Create(s.ctx, session))
	}

	active, err := s.store.ListActiveByUser(s.ctx, userID)
	s.Require().NoError(err)
	s.Require().Len(active, 3)
	s.Equal("oldest", active[0].Token)
	s.Equal("middle", active[1].Token)
	s.Equal("newest", active[2].Token)
}

func (s *MemoryStoreSuite) TestListSkipsInactiveSessions() {
	userID := domain.NewUserID()
	session := s.newSession(userID, "token-a", time.Now())
	s.Require().NoError(s.store.Create(s.ctx, session))
	s.Require().NoError(s.store.DeactivateByID(s.ctx, session.ID))

	active, err := s.store.ListActiveByUser(s.ctx, userID)
	s.Require().NoError(err)
	s.Empty(active)
}

func (s *MemoryStoreSuite) TestDeactivateByToken() {
	userID := domain.NewUserID()
	session := s.newSession(userID, "token-a", time.Now())
	s.Require().NoError(s.store.Create(s.ctx, session))

	s.Require().NoError(s.store.DeactivateByToken(s.ctx, "token-a"))

	_, err := s.store.FindActiveByToken(s.ctx, "token-a")
	s.True(errors.Is(err, sentinel.ErrNotFound))

	err = s.store.DeactivateByToken(s.ctx, "token-a")
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *MemoryStoreSuite) TestDeactivateUnknownID() {
	err := s.store.DeactivateByID(s.ctx, domain.NewSessionID())
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *MemoryStoreSuite) TestCreateClonesInput() {
	userID := domain.NewUserID()
	session := s.newSession(userID, "token-a", time.Now())
	s.Require().NoError(s.store.Create(s.ctx, session))

	// Mutating the caller's copy must not affect stored state.
	session.IsActive = false

	found, err := s.store.FindActiveByToken(s.ctx, "token-a")
	s.Require().NoError(err)
	s.True(found.IsActive)
}

func (s *MemoryStoreSuite) TestDeleteExpired() {
	userID := domain.NewUserID()
	now := time.Now()

	expired := s.newSession(userID, "expired", now.Add(-3*time.Hour))
	live := s.newSession(userID, "live", now)
	s.Require().NoError(s.store.Create(s.ctx, expired))
	s.Require().NoError(s.store.Create(s.ctx, live))

	deleted, err := s.store.DeleteExpired(s.ctx, now)
	s.Require().NoError(err)
	s.Equal(1, deleted)

	active, err := s.store.ListActiveByUser(s.ctx, userID)
	s.Require().NoError(err)
	s.Require().Len(active, 1)
	s.Equal("live", active[0].Token)
}

func TestMemorySettings(t *testing.T) {
	settings := NewMemorySettings(map[string]string{models.SettingConcurrentLimit: "5"})

	got, err := settings.Value(context.Background(), models.SettingConcurrentLimit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "5" {
		t.Fatalf("expected 5, got %q", got)
	}

	_, err = settings.Value(context.Background(), "missing")
	if !errors.Is(err, sentinel.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
