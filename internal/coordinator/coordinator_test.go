package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"crew/internal/identity"
	"crew/internal/profile/models"
	profilesvc "crew/internal/profile/service"
	profilestore "crew/internal/profile/store"
	sessionsvc "crew/internal/session/service"
	sessionstore "crew/internal/session/store"
	"crew/pkg/domain"
	dErrors "crew/pkg/domainerrors"
)

const signingKey = "coordinator-test-key"

type CoordinatorSuite struct {
	suite.Suite
	ctx      context.Context
	provider *identity.LocalProvider
	profiles *profilestore.InMemoryStore
	sessions *sessionstore.InMemoryStore
	coord    *Coordinator
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) SetupTest() {
	s.ctx = context.Background()
	s.provider = identity.NewLocalProvider(signingKey)
	s.profiles = profilestore.NewMemory()
	s.sessions = sessionstore.NewMemory()
	s.coord = s.newCoordinator(s.provider)
}

func (s *CoordinatorSuite) TearDownTest() {
	s.coord.Close()
}

func (s *CoordinatorSuite) newCoordinator(provider identity.Provider, opts ...Option) *Coordinator {
	resolver := profilesvc.New(s.profiles)
	enforcer := sessionsvc.New(s.sessions, sessionstore.NewMemorySettings(nil))
	return New(provider, resolver, enforcer, opts...)
}

func (s *CoordinatorSuite) waitReady(coord *Coordinator) {
	s.Require().Eventually(func() bool {
		return coord.Snapshot().State == StateReady
	}, time.Second, 5*time.Millisecond)
}

func (s *CoordinatorSuite) activeSessions(userID domain.UserID) []string {
	active, err := s.sessions.ListActiveByUser(s.ctx, userID)
	s.Require().NoError(err)
	tokens := make([]string, 0, len(active))
	for _, session := range active {
		tokens = append(tokens, session.Token)
	}
	return tokens
}

func (s *CoordinatorSuite) TestStartWithoutSessionIsReadyUnauthenticated() {
	s.Require().NoError(s.coord.Start(s.ctx))
	s.waitReady(s.coord)

	snap := s.coord.Snapshot()
	s.False(snap.Authenticated)
	s.Nil(snap.Identity)
	s.Nil(snap.Profile)
}

func (s *CoordinatorSuite) TestStartRestoresExistingSession() {
	userID, err := s.provider.Seed("resume@example.com", "pw-12345", identity.SignupMetadata{})
	s.Require().NoError(err)
	_, err = s.provider.SignInWithPassword(s.ctx, "resume@example.com", "pw-12345")
	s.Require().NoError(err)

	s.Require().NoError(s.coord.Start(s.ctx))
	s.waitReady(s.coord)

	snap := s.coord.Snapshot()
	s.Require().True(snap.Authenticated)
	s.Equal(userID, snap.Identity.ID)
	s.Require().NotNil(snap.Profile, "profile should self-heal during restore")
	s.Equal(models.RoleEmployee, snap.Profile.Role)
	s.Len(s.activeSessions(userID), 1)
}

func (s *CoordinatorSuite) TestStartTwiceIsRejected() {
	s.Require().NoError(s.coord.Start(s.ctx))
	err := s.coord.Start(s.ctx)
	s.Require().Error(err)
}

func (s *CoordinatorSuite) TestLoginPopulatesStateThroughEvents() {
	userID, err := s.provider.Seed("login@example.com", "pw-12345", identity.SignupMetadata{FirstName: "Ada"})
	s.Require().NoError(err)
	s.Require().NoError(s.coord.Start(s.ctx))
	s.waitReady(s.coord)

	client := ClientInfo{IP: "10.1.2.3", UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"}
	s.Require().NoError(s.coord.Login(s.ctx, "login@example.com", "pw-12345", client))

	snap := s.coord.Snapshot()
	s.Require().True(snap.Authenticated)
	s.Equal(userID, snap.Identity.ID)
	s.False(snap.Loading)

	active, err := s.sessions.ListActiveByUser(s.ctx, userID)
	s.Require().NoError(err)
	s.Require().Len(active, 1)
	s.Equal("10.1.2.3", active[0].IPAddress)
	s.Contains(active[0].DeviceDisplayName, "Chrome")
}

func (s *CoordinatorSuite) TestLoginBadCredentials() {
	_, err := s.provider.Seed("login@example.com", "pw-12345", identity.SignupMetadata{})
	s.Require().NoError(err)
	s.Require().NoError(s.coord.Start(s.ctx))
	s.waitReady(s.coord)

	err = s.coord.Login(s.ctx, "login@example.com", "wrong-password", ClientInfo{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidCredentials))
	s.False(s.coord.Snapshot().Authenticated)
}

func (s *CoordinatorSuite) TestLoginAtSessionLimitEvictsOldest() {
	userID, err := s.provider.Seed("busy@example.com", "pw-12345", identity.SignupMetadata{})
	s.Require().NoError(err)
	s.Require().NoError(s.coord.Start(s.ctx))
	s.waitReady(s.coord)

	enforcer := sessionsvc.New(s.sessions, sessionstore.NewMemorySettings(nil))
	for i := 0; i < 3; i++ {
		ident := &identity.Identity{
			ID:          userID,
			AccessToken: fmt.Sprintf("device-token-%d", i),
			ExpiresAt:   time.Now().Add(time.Hour),
		}
		s.Require().NoError(enforcer.Register(s.ctx, ident, "", ""))
		time.Sleep(time.Millisecond) // distinct last_activity ordering
	}

	s.Require().NoError(s.coord.Login(s.ctx, "busy@example.com", "pw-12345", ClientInfo{}))

	tokens := s.activeSessions(userID)
	s.Require().Len(tokens, 3)
	s.NotContains(tokens, "device-token-0", "oldest session should be evicted")
	s.Contains(tokens, "device-token-1")
	s.Contains(tokens, "device-token-2")
}

func (s *CoordinatorSuite) TestSignupEstablishesSessionSynchronously() {
	s.Require().NoError(s.coord.Start(s.ctx))
	s.waitReady(s.coord)

	tenantID := domain.NewTenantID()
	seed := models.Seed{FirstName: "Grace", LastName: "Hopper", Role: models.RoleTenantAdmin, TenantID: &tenantID}
	ident, err := s.coord.Signup(s.ctx, "grace@example.com", "pw-12345", seed, ClientInfo{})
	s.Require().NoError(err)
	s.Require().NotNil(ident)

	snap := s.coord.Snapshot()
	s.Require().True(snap.Authenticated)
	s.Require().NotNil(snap.Profile)
	s.Equal(models.RoleTenantAdmin, snap.Profile.Role)
	s.Require().NotNil(snap.Profile.TenantID)
	s.Equal(tenantID, *snap.Profile.TenantID)

	// The provider's SIGNED_IN event and the synchronous signup path both
	// register the same token; the duplicate collapses.
	s.Len(s.activeSessions(ident.ID), 1)
}

func (s *CoordinatorSuite) TestSignupWithConfirmationPending() {
	provider := identity.NewLocalProvider(signingKey, identity.WithEmailConfirmation())
	coord := s.newCoordinator(provider)
	defer coord.Close()
	s.Require().NoError(coord.Start(s.ctx))
	s.waitReady(coord)

	ident, err := coord.Signup(s.ctx, "pending@example.com", "pw-12345", models.Seed{}, ClientInfo{})
	s.Require().NoError(err)
	s.Nil(ident)
	s.False(coord.Snapshot().Authenticated)
}

func (s *CoordinatorSuite) TestLogoutClearsStateAndDeactivatesSession() {
	userID, err := s.provider.Seed("out@example.com", "pw-12345", identity.SignupMetadata{})
	s.Require().NoError(err)
	s.Require().NoError(s.coord.Start(s.ctx))
	s.waitReady(s.coord)
	s.Require().NoError(s.coord.Login(s.ctx, "out@example.com", "pw-12345", ClientInfo{}))

	s.Require().NoError(s.coord.Logout(s.ctx))

	s.False(s.coord.Snapshot().Authenticated)
	s.Empty(s.activeSessions(userID))
}

func (s *CoordinatorSuite) TestTokenRefreshSwapsIdentityKeepsProfile() {
	_, err := s.provider.Seed("fresh@example.com", "pw-12345", identity.SignupMetadata{})
	s.Require().NoError(err)
	s.Require().NoError(s.coord.Start(s.ctx))
	s.waitReady(s.coord)
	s.Require().NoError(s.coord.Login(s.ctx, "fresh@example.com", "pw-12345", ClientInfo{}))

	before := s.coord.Snapshot()
	s.Require().NotNil(before.Identity)

	refreshed, err := s.provider.RefreshSession(s.ctx)
	s.Require().NoError(err)

	after := s.coord.Snapshot()
	s.Require().True(after.Authenticated)
	s.Equal(refreshed.AccessToken, after.Identity.AccessToken)
	s.NotEqual(before.Identity.AccessToken, after.Identity.AccessToken)
	s.NotNil(after.Profile)
}

func (s *CoordinatorSuite) TestSubscribeObservesTransitions() {
	ch, cancel := s.coord.Subscribe()
	defer cancel()

	s.Require().NoError(s.coord.Start(s.ctx))

	select {
	case snap := <-ch:
		s.Equal(StateReady, snap.State)
	case <-time.After(time.Second):
		s.FailNow("no snapshot received")
	}
}

func (s *CoordinatorSuite) TestCloseFreezesState() {
	_, err := s.provider.Seed("frozen@example.com", "pw-12345", identity.SignupMetadata{})
	s.Require().NoError(err)
	s.Require().NoError(s.coord.Start(s.ctx))
	s.waitReady(s.coord)

	s.coord.Close()

	// Provider activity after Close must not mutate coordinator state.
	_, err = s.provider.SignInWithPassword(s.ctx, "frozen@example.com", "pw-12345")
	s.Require().NoError(err)
	s.False(s.coord.Snapshot().Authenticated)
}

func TestTransitionGuard(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{StateUninitialized, StateInitializing, true},
		{StateInitializing, StateReady, true},
		{StateUninitialized, StateReady, false},
		{StateReady, StateInitializing, false},
		{StateReady, StateReady, false},
		{StateInitializing, StateInitializing, false},
	}
	for _, tc := range cases {
		got, err := transition(tc.from, tc.to)
		if tc.ok {
			if err != nil {
				t.Errorf("transition(%s, %s): unexpected error %v", tc.from, tc.to, err)
			}
			if got != tc.to {
				t.Errorf("transition(%s, %s) = %s", tc.from, tc.to, got)
			}
		} else {
			if err == nil {
				t.Errorf("transition(%s, %s): expected error", tc.from, tc.to)
			}
			if got != tc.from {
				t.Errorf("transition(%s, %s) should hold at %s, got %s", tc.from, tc.to, tc.from, got)
			}
		}
	}
}

// stubProvider gives tests manual control over the one-shot session lookup
// and the event stream.
type stubProvider struct {
	mu        sync.Mutex
	handlers  []identity.EventHandler
	sessionCh chan *identity.Identity
}

func newStubProvider() *stubProvider {
	return &stubProvider{sessionCh: make(chan *identity.Identity)}
}

func (p *stubProvider) GetCurrentSession(ctx context.Context) (*identity.Identity, error) {
	select {
	case ident := <-p.sessionCh:
		return ident, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *stubProvider) SubscribeAuthEvents(h identity.EventHandler) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
	return func() {}
}

func (p *stubProvider) emit(ev identity.Event) {
	p.mu.Lock()
	handlers := append([]identity.EventHandler(nil), p.handlers...)
	p.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (p *stubProvider) SignInWithPassword(context.Context, string, string) (*identity.Identity, error) {
	return nil, nil
}

func (p *stubProvider) SignUp(context.Context, string, string, identity.SignupMetadata) (*identity.Identity, error) {
	return nil, nil
}

func (p *stubProvider) SignOut(context.Context) error { return nil }

func (p *stubProvider) GetCurrentUser(context.Context) (*identity.Identity, error) {
	return nil, nil
}

func (s *CoordinatorSuite) TestEventsBeforeReadyAreDropped() {
	provider := newStubProvider()
	coord := s.newCoordinator(provider)
	defer coord.Close()
	s.Require().NoError(coord.Start(s.ctx))

	provider.emit(identity.Event{
		Type:     identity.EventSignedIn,
		Identity: &identity.Identity{ID: domain.NewUserID(), AccessToken: "early-token", ExpiresAt: time.Now().Add(time.Hour)},
	})

	s.Equal(StateInitializing, coord.Snapshot().State)
	s.False(coord.Snapshot().Authenticated)

	provider.sessionCh <- nil
	s.waitReady(coord)
	s.False(coord.Snapshot().Authenticated, "pre-READY event must not hydrate state")
}

func (s *CoordinatorSuite) TestFailsafeForcesReadyThenLateRestoreIsDiscarded() {
	provider := newStubProvider()
	coord := s.newCoordinator(provider, WithInitTimeout(20*time.Millisecond))
	defer coord.Close()
	s.Require().NoError(coord.Start(s.ctx))

	s.waitReady(coord)
	s.False(coord.Snapshot().Authenticated, "failsafe READY carries whatever state exists, here none")

	// The one-shot branch completes after the failsafe already forced READY.
	userID := domain.NewUserID()
	provider.sessionCh <- &identity.Identity{ID: userID, AccessToken: "late-token", ExpiresAt: time.Now().Add(time.Hour)}

	s.Never(func() bool {
		return coord.Snapshot().Authenticated
	}, 100*time.Millisecond, 10*time.Millisecond)

	_, err := s.profiles.FindByID(s.ctx, userID)
	s.Error(err, "late restore must not resolve a profile")
	s.Empty(s.activeSessions(userID))
}
