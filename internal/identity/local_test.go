package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"crew/pkg/sentinel"
)

type LocalProviderSuite struct {
	suite.Suite
	ctx      context.Context
	provider *LocalProvider
}

func TestLocalProviderSuite(t *testing.T) {
	suite.Run(t, new(LocalProviderSuite))
}

func (s *LocalProviderSuite) SetupTest() {
	s.ctx = context.Background()
	s.provider = NewLocalProvider("local-test-key")
}

func (s *LocalProviderSuite) TestSignInUnknownAccount() {
	ident, err := s.provider.SignInWithPassword(s.ctx, "nobody@example.com", "secret")
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrUnauthorized))
	s.Nil(ident)
}

func (s *LocalProviderSuite) TestSignInWrongPassword() {
	_, err := s.provider.Seed("alice@example.com", "correct-horse", SignupMetadata{})
	s.Require().NoError(err)

	ident, err := s.provider.SignInWithPassword(s.ctx, "alice@example.com", "battery-staple")
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrUnauthorized))
	s.Nil(ident)
}

func (s *LocalProviderSuite) TestSignInEstablishesSession() {
	userID, err := s.provider.Seed("alice@example.com", "correct-horse", SignupMetadata{})
	s.Require().NoError(err)

	ident, err := s.provider.SignInWithPassword(s.ctx, "Alice@Example.com ", "correct-horse")
	s.Require().NoError(err)
	s.Require().NotNil(ident)
	s.Equal(userID, ident.ID)
	s.Equal("alice@example.com", ident.Email)
	s.NotEmpty(ident.AccessToken)
	s.True(ident.ExpiresAt.After(time.Now()))

	current, err := s.provider.GetCurrentSession(s.ctx)
	s.Require().NoError(err)
	s.Require().NotNil(current)
	s.Equal(userID, current.ID)
}

func (s *LocalProviderSuite) TestAccessTokenCarriesClaims() {
	userID, err := s.provider.Seed("alice@example.com", "correct-horse", SignupMetadata{})
	s.Require().NoError(err)

	ident, err := s.provider.SignInWithPassword(s.ctx, "alice@example.com", "correct-horse")
	s.Require().NoError(err)

	s.Equal(userID.String(), TokenSubject(ident.AccessToken))
	s.WithinDuration(ident.ExpiresAt, TokenExpiry(ident.AccessToken, time.Time{}), time.Second)
}

func (s *LocalProviderSuite) TestSignUpRejectsDuplicateEmail() {
	_, err := s.provider.Seed("alice@example.com", "correct-horse", SignupMetadata{})
	s.Require().NoError(err)

	_, err = s.provider.SignUp(s.ctx, "ALICE@example.com", "other", SignupMetadata{})
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrConflict))
}

func (s *LocalProviderSuite) TestSignUpStoresMetadata() {
	meta := SignupMetadata{FirstName: "Ada", LastName: "Lovelace", Role: "tenant_admin", TenantID: "t-1"}
	ident, err := s.provider.SignUp(s.ctx, "ada@example.com", "analytical", meta)
	s.Require().NoError(err)
	s.Require().NotNil(ident)

	got, ok := s.provider.Metadata(ident.ID)
	s.Require().True(ok)
	s.Equal(meta, got)
}

func (s *LocalProviderSuite) TestSignUpWithConfirmationReturnsNoSession() {
	provider := NewLocalProvider("local-test-key", WithEmailConfirmation())

	ident, err := provider.SignUp(s.ctx, "ada@example.com", "analytical", SignupMetadata{})
	s.Require().NoError(err)
	s.Nil(ident)

	current, err := provider.GetCurrentSession(s.ctx)
	s.Require().NoError(err)
	s.Nil(current)

	// The account exists; a later sign-in establishes the session.
	signedIn, err := provider.SignInWithPassword(s.ctx, "ada@example.com", "analytical")
	s.Require().NoError(err)
	s.NotNil(signedIn)
}

func (s *LocalProviderSuite) TestSignOutClearsSessionAndEmitsEvent() {
	_, err := s.provider.Seed("alice@example.com", "correct-horse", SignupMetadata{})
	s.Require().NoError(err)

	var events []EventType
	unsubscribe := s.provider.SubscribeAuthEvents(func(ev Event) {
		events = append(events, ev.Type)
	})
	defer unsubscribe()

	_, err = s.provider.SignInWithPassword(s.ctx, "alice@example.com", "correct-horse")
	s.Require().NoError(err)
	s.Require().NoError(s.provider.SignOut(s.ctx))

	current, err := s.provider.GetCurrentSession(s.ctx)
	s.Require().NoError(err)
	s.Nil(current)
	s.Equal([]EventType{EventSignedIn, EventSignedOut}, events)
}

func (s *LocalProviderSuite) TestRefreshSessionMintsNewToken() {
	_, err := s.provider.Seed("alice@example.com", "correct-horse", SignupMetadata{})
	s.Require().NoError(err)

	first, err := s.provider.SignInWithPassword(s.ctx, "alice@example.com", "correct-horse")
	s.Require().NoError(err)

	var refreshed *Identity
	unsubscribe := s.provider.SubscribeAuthEvents(func(ev Event) {
		if ev.Type == EventTokenRefreshed {
			refreshed = ev.Identity
		}
	})
	defer unsubscribe()

	// The iat/exp claims have second granularity; move the clock so the
	// re-minted token differs.
	s.provider.now = func() time.Time { return time.Now().Add(2 * time.Second) }

	second, err := s.provider.RefreshSession(s.ctx)
	s.Require().NoError(err)
	s.Require().NotNil(second)
	s.Equal(first.ID, second.ID)
	s.NotEqual(first.AccessToken, second.AccessToken)
	s.Require().NotNil(refreshed)
	s.Equal(second.AccessToken, refreshed.AccessToken)
}

func (s *LocalProviderSuite) TestRefreshWithoutSessionFails() {
	_, err := s.provider.RefreshSession(s.ctx)
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrInvalidState))
}

func (s *LocalProviderSuite) TestExpiredSessionIsNotReturned() {
	provider := NewLocalProvider("local-test-key", WithTokenTTL(time.Minute))
	_, err := provider.Seed("alice@example.com", "correct-horse", SignupMetadata{})
	s.Require().NoError(err)
	_, err = provider.SignInWithPassword(s.ctx, "alice@example.com", "correct-horse")
	s.Require().NoError(err)

	provider.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	current, err := provider.GetCurrentSession(s.ctx)
	s.Require().NoError(err)
	s.Nil(current)
}

func (s *LocalProviderSuite) TestUnsubscribeStopsDelivery() {
	_, err := s.provider.Seed("alice@example.com", "correct-horse", SignupMetadata{})
	s.Require().NoError(err)

	var count int
	unsubscribe := s.provider.SubscribeAuthEvents(func(Event) { count++ })

	_, err = s.provider.SignInWithPassword(s.ctx, "alice@example.com", "correct-horse")
	s.Require().NoError(err)
	unsubscribe()
	s.Require().NoError(s.provider.SignOut(s.ctx))

	s.Equal(1, count)
}

func TestTokenExpiryFallsBackForOpaqueToken(t *testing.T) {
	fallback := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if got := TokenExpiry("not-a-jwt", fallback); !got.Equal(fallback) {
		t.Fatalf("expected fallback expiry, got %v", got)
	}
	if got := TokenSubject("not-a-jwt"); got != "" {
		t.Fatalf("expected empty subject, got %q", got)
	}
}
