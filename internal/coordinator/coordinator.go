// Package coordinator owns the application's authentication state: it
// reconciles the identity provider's one-shot session lookup with its auth
// event stream, resolves profiles, registers sessions, and exposes a single
// consistent Snapshot to the rest of the system.
package coordinator

//go:generate mockgen -source=coordinator.go -destination=mocks/mocks.go -package=mocks ProfileResolver,SessionRegistrar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"crew/internal/identity"
	"crew/internal/profile/models"
	dErrors "crew/pkg/domainerrors"
	"crew/pkg/sentinel"
)

// DefaultInitTimeout is the failsafe deadline: if neither initialization
// branch has completed by then, the coordinator forces READY with whatever
// state it has.
const DefaultInitTimeout = 10 * time.Second

// ProfileResolver resolves or self-heals the profile for an identity.
type ProfileResolver interface {
	ResolveOrCreate(ctx context.Context, ident *identity.Identity, seed *models.Seed) (*models.Profile, error)
}

// SessionRegistrar does session bookkeeping. Register failures must never
// block authentication; the coordinator logs and continues.
type SessionRegistrar interface {
	Register(ctx context.Context, ident *identity.Identity, ip, userAgent string) error
	Deactivate(ctx context.Context, token string) error
}

// ClientInfo describes the client a login or signup originated from. It is
// recorded on the session row for the device list.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// Coordinator serializes auth state behind a mutex. Initialization runs two
// independent branches — the one-shot GetCurrentSession and the provider
// event stream — and the state machine in state.go decides which one wins.
// Events arriving before READY are dropped: the initial session is covered by
// the one-shot branch, and processing both would double-resolve.
type Coordinator struct {
	provider identity.Provider
	profiles ProfileResolver
	sessions SessionRegistrar

	logger      *slog.Logger
	metrics     *Metrics
	tracer      trace.Tracer
	initTimeout time.Duration

	mu          sync.Mutex
	state       State
	ident       *identity.Identity
	profile     *models.Profile
	loading     bool
	closed      bool
	client      ClientInfo
	failsafe    *time.Timer
	unsubscribe func()
	initStarted time.Time

	nextSub     int
	subscribers map[int]chan Snapshot
}

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithInitTimeout overrides the failsafe deadline.
func WithInitTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.initTimeout = d
		}
	}
}

// New constructs a Coordinator in StateUninitialized. Call Start to begin
// initialization.
func New(provider identity.Provider, profiles ProfileResolver, sessions SessionRegistrar, opts ...Option) *Coordinator {
	c := &Coordinator{
		provider:    provider,
		profiles:    profiles,
		sessions:    sessions,
		tracer:      otel.Tracer("crew/coordinator"),
		initTimeout: DefaultInitTimeout,
		state:       StateUninitialized,
		subscribers: make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Start kicks off initialization: subscribes to the provider event stream,
// arms the failsafe timer, and launches the one-shot session lookup.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	next, err := transition(c.state, StateInitializing)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = next
	c.initStarted = time.Now()
	c.failsafe = time.AfterFunc(c.initTimeout, c.forceReady)
	c.mu.Unlock()

	c.unsubscribe = c.provider.SubscribeAuthEvents(c.handleEvent)

	go c.restoreSession(ctx)
	return nil
}

// restoreSession is the one-shot branch: ask the provider for an existing
// session and, if one exists and we are still pre-READY, hydrate state from it.
func (c *Coordinator) restoreSession(ctx context.Context) {
	ident, err := c.provider.GetCurrentSession(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "session restore failed, starting unauthenticated", "error", err)
		c.finishInit(nil, nil)
		return
	}
	if ident == nil {
		c.finishInit(nil, nil)
		return
	}

	c.mu.Lock()
	stillInitializing := !c.closed && c.state == StateInitializing
	c.mu.Unlock()
	if !stillInitializing {
		// Failsafe (or a racing event) already published READY; resolving now
		// would clobber fresher state.
		c.logger.Debug("session restore completed after READY, discarding")
		return
	}

	// Resolution happens outside the lock; events cannot interleave because
	// they are dropped until READY.
	profile, err := c.profiles.ResolveOrCreate(ctx, ident, nil)
	if err != nil {
		c.logger.ErrorContext(ctx, "profile resolution failed during init, continuing degraded",
			"user_id", ident.ID.String(),
			"error", err,
		)
		profile = nil
	}
	if err := c.sessions.Register(ctx, ident, "", ""); err != nil {
		c.logger.WarnContext(ctx, "session registration failed during init", "error", err)
	}

	c.finishInit(ident, profile)
}

// finishInit publishes the one-shot branch's result. If READY was already
// reached (failsafe or a racing event), the result is discarded: re-resolving
// on a late completion would clobber fresher state.
func (c *Coordinator) finishInit(ident *identity.Identity, profile *models.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	next, err := transition(c.state, StateReady)
	if err != nil {
		c.logger.Debug("session restore completed after READY, discarding", "error", err)
		return
	}
	c.state = next
	c.ident = ident
	c.profile = profile
	c.stopFailsafeLocked()
	c.observeInitLocked()
	c.broadcastLocked()
}

// forceReady is the failsafe: initialization must never hang the application.
func (c *Coordinator) forceReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	next, err := transition(c.state, StateReady)
	if err != nil {
		return
	}
	c.state = next
	c.logger.Warn("auth initialization timed out, forcing READY",
		"timeout", c.initTimeout.String(),
		"authenticated", c.ident != nil,
	)
	if c.metrics != nil {
		c.metrics.InitForced.Inc()
	}
	c.observeInitLocked()
	c.broadcastLocked()
}

// handleEvent processes provider auth events. Pre-READY events are dropped;
// after READY they are applied in delivery order.
func (c *Coordinator) handleEvent(ev identity.Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.state != StateReady {
		c.mu.Unlock()
		c.logger.Debug("auth event before READY, dropping", "event", string(ev.Type))
		if c.metrics != nil {
			c.metrics.EventsDropped.Inc()
		}
		return
	}
	client := c.client
	c.mu.Unlock()

	switch ev.Type {
	case identity.EventSignedIn:
		c.applySignIn(ev.Identity, client)
	case identity.EventSignedOut:
		c.mu.Lock()
		if !c.closed {
			c.ident = nil
			c.profile = nil
			c.broadcastLocked()
		}
		c.mu.Unlock()
	case identity.EventTokenRefreshed:
		c.mu.Lock()
		if !c.closed && ev.Identity != nil {
			c.ident = ev.Identity.Clone()
			c.broadcastLocked()
		}
		c.mu.Unlock()
	}
}

// applySignIn resolves the profile and registers the session for a SIGNED_IN
// event, then publishes the new state. Both side effects are idempotent, so a
// duplicate event (signup's synchronous path plus its own SIGNED_IN) is
// harmless.
func (c *Coordinator) applySignIn(ident *identity.Identity, client ClientInfo) {
	if ident == nil {
		return
	}
	ctx := context.Background()

	profile, err := c.profiles.ResolveOrCreate(ctx, ident, nil)
	if err != nil {
		c.logger.ErrorContext(ctx, "profile resolution failed on sign-in",
			"user_id", ident.ID.String(),
			"error", err,
		)
		profile = nil
	}
	if err := c.sessions.Register(ctx, ident, client.IP, client.UserAgent); err != nil {
		c.logger.WarnContext(ctx, "session registration failed on sign-in", "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.ident = ident.Clone()
	c.profile = profile
	c.broadcastLocked()
}

// Login authenticates with email and password. The resulting state change
// arrives through the provider's SIGNED_IN event.
func (c *Coordinator) Login(ctx context.Context, email, password string, client ClientInfo) error {
	ctx, span := c.tracer.Start(ctx, "coordinator.login")
	defer span.End()

	c.setLoading(true, client)
	defer c.setLoading(false, client)

	_, err := c.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		if c.metrics != nil {
			c.metrics.LoginFailures.Inc()
		}
		if errors.Is(err, sentinel.ErrUnauthorized) {
			return dErrors.New(dErrors.CodeInvalidCredentials, "invalid email or password")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "sign-in failed")
	}
	if c.metrics != nil {
		c.metrics.Logins.Inc()
	}
	return nil
}

// Signup registers a new account with the typed profile seed. When the
// provider establishes a session immediately, the profile is resolved and the
// session registered synchronously before returning; a nil identity means a
// confirmation step (email verification) is pending.
func (c *Coordinator) Signup(ctx context.Context, email, password string, seed models.Seed, client ClientInfo) (*identity.Identity, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.signup")
	defer span.End()

	c.setLoading(true, client)
	defer c.setLoading(false, client)

	meta := identity.SignupMetadata{
		FirstName: seed.FirstName,
		LastName:  seed.LastName,
		Role:      string(seed.Role),
	}
	if seed.TenantID != nil {
		meta.TenantID = seed.TenantID.String()
	}

	ident, err := c.provider.SignUp(ctx, email, password, meta)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeSignupFailed, "signup failed")
	}
	if ident == nil {
		// Confirmation required; no session to hydrate from yet.
		return nil, nil
	}

	normalized := seed.Normalize()
	profile, err := c.profiles.ResolveOrCreate(ctx, ident, &normalized)
	if err != nil {
		return nil, fmt.Errorf("resolve profile after signup: %w", err)
	}
	if err := c.sessions.Register(ctx, ident, client.IP, client.UserAgent); err != nil {
		c.logger.WarnContext(ctx, "session registration failed after signup", "error", err)
	}

	c.mu.Lock()
	if !c.closed {
		c.ident = ident.Clone()
		c.profile = profile
		c.broadcastLocked()
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.Signups.Inc()
	}
	return ident.Clone(), nil
}

// Logout deactivates the tracked session (best effort) and revokes the
// provider session. Only the provider failure is surfaced: a stale session
// row expires on its own, but a live provider session is a security problem.
func (c *Coordinator) Logout(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "coordinator.logout")
	defer span.End()

	c.mu.Lock()
	var token string
	if c.ident != nil {
		token = c.ident.AccessToken
	}
	c.mu.Unlock()

	if token != "" {
		if err := c.sessions.Deactivate(ctx, token); err != nil {
			c.logger.WarnContext(ctx, "session deactivation failed on logout", "error", err)
		}
	}

	if err := c.provider.SignOut(ctx); err != nil {
		return dErrors.Wrap(err, dErrors.CodeLogoutFailed, "provider sign-out failed")
	}
	if c.metrics != nil {
		c.metrics.Logouts.Inc()
	}
	return nil
}

// Snapshot returns a copy of the current auth state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers an observer for state changes. The channel is buffered
// and sends are non-blocking: a slow consumer drops snapshots rather than
// stalling the coordinator, and can always call Snapshot for the current
// state. The returned cancel must be called to release the subscription.
func (c *Coordinator) Subscribe() (<-chan Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Snapshot, 8)
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if ch, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(ch)
		}
	}
}

// Close tears the coordinator down: unsubscribes from the provider, stops the
// failsafe, and closes observer channels. No state mutates after Close.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopFailsafeLocked()
	for id, ch := range c.subscribers {
		delete(c.subscribers, id)
		close(ch)
	}
	unsub := c.unsubscribe
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

func (c *Coordinator) setLoading(loading bool, client ClientInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.loading = loading
	if loading {
		c.client = client
	}
	c.broadcastLocked()
}

func (c *Coordinator) snapshotLocked() Snapshot {
	return Snapshot{
		State:         c.state,
		Identity:      c.ident.Clone(),
		Profile:       c.profile.Clone(),
		Loading:       c.loading,
		Authenticated: c.ident != nil,
	}
}

func (c *Coordinator) broadcastLocked() {
	snap := c.snapshotLocked()
	for _, ch := range c.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (c *Coordinator) stopFailsafeLocked() {
	if c.failsafe != nil {
		c.failsafe.Stop()
		c.failsafe = nil
	}
}

func (c *Coordinator) observeInitLocked() {
	if c.metrics != nil && !c.initStarted.IsZero() {
		c.metrics.InitDuration.Observe(time.Since(c.initStarted).Seconds())
	}
}
