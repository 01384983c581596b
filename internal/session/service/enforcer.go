// Package service implements the concurrent-session policy: registration,
// oldest-session eviction, and logout deactivation.
package service

//go:generate mockgen -source=enforcer.go -destination=mocks/mocks.go -package=mocks SessionStore,SettingsStore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mssola/useragent"

	"crew/internal/identity"
	"crew/internal/session/metrics"
	"crew/internal/session/models"
	"crew/pkg/domain"
	"crew/pkg/sentinel"
)

// SessionStore is the persistence dependency. See internal/session/store for
// the error contract.
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	FindActiveByToken(ctx context.Context, token string) (*models.Session, error)
	ListActiveByUser(ctx context.Context, userID domain.UserID) ([]*models.Session, error)
	DeactivateByToken(ctx context.Context, token string) error
	DeactivateByID(ctx context.Context, sessionID domain.SessionID) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// SettingsStore reads security settings.
type SettingsStore interface {
	Value(ctx context.Context, key string) (string, error)
}

// Enforcer registers sessions and enforces the tenant-configurable
// concurrent-session ceiling.
//
// Registration failures are bookkeeping failures: callers are expected to log
// the returned error and continue, never to fail authentication on it.
type Enforcer struct {
	sessions SessionStore
	settings SettingsStore
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures the Enforcer.
type Option func(*Enforcer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Enforcer) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Enforcer) {
		e.metrics = m
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(e *Enforcer) {
		if now != nil {
			e.now = now
		}
	}
}

// New constructs an Enforcer.
func New(sessions SessionStore, settings SettingsStore, opts ...Option) *Enforcer {
	e := &Enforcer{
		sessions: sessions,
		settings: settings,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Register records a new login session for the identity, evicting the
// least-recently-active session when the user is at the concurrent limit.
//
// Registering the same token twice is a no-op: overlapping auth event
// callbacks can both attempt to register the initial session.
//
// The check-count-evict-insert sequence is deliberately not transactional:
// two registrations racing for the same user can both observe a count below
// the limit and transiently exceed it until the next registration
// re-evaluates. Accepted behavior, do not "fix" silently.
func (e *Enforcer) Register(ctx context.Context, ident *identity.Identity, ip, userAgent string) error {
	if ident == nil || ident.AccessToken == "" {
		return fmt.Errorf("identity with access token is required: %w", sentinel.ErrInvalidInput)
	}

	if existing, err := e.sessions.FindActiveByToken(ctx, ident.AccessToken); err == nil && existing != nil {
		return nil
	} else if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		e.countFailure()
		return fmt.Errorf("check existing session: %w", err)
	}

	limit := e.concurrentLimit(ctx)

	active, err := e.sessions.ListActiveByUser(ctx, ident.ID)
	if err != nil {
		e.countFailure()
		return fmt.Errorf("list active sessions: %w", err)
	}

	if len(active) >= limit {
		oldest := active[0]
		if err := e.sessions.DeactivateByID(ctx, oldest.ID); err != nil {
			e.countFailure()
			return fmt.Errorf("evict oldest session: %w", err)
		}
		e.logger.InfoContext(ctx, "session evicted by concurrency policy",
			"user_id", ident.ID.String(),
			"evicted_session_id", oldest.ID.String(),
			"limit", limit,
		)
		if e.metrics != nil {
			e.metrics.SessionsEvicted.Inc()
			e.metrics.ActiveSessions.Dec()
		}
	}

	now := e.now()
	session := &models.Session{
		ID:                domain.NewSessionID(),
		UserID:            ident.ID,
		Token:             ident.AccessToken,
		IssuedAt:          now,
		ExpiresAt:         ident.ExpiresAt,
		LastActivityAt:    now,
		IPAddress:         ip,
		UserAgent:         userAgent,
		DeviceDisplayName: deviceDisplayName(userAgent),
		IsActive:          true,
	}
	if err := e.sessions.Create(ctx, session); err != nil {
		e.countFailure()
		return fmt.Errorf("create session: %w", err)
	}

	if e.metrics != nil {
		e.metrics.SessionsRegistered.Inc()
		e.metrics.ActiveSessions.Inc()
	}
	return nil
}

// Deactivate marks the session with the given token inactive. A missing row
// is not an error: logout may run after the session was already evicted.
func (e *Enforcer) Deactivate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := e.sessions.DeactivateByToken(ctx, token); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("deactivate session: %w", err)
	}
	if e.metrics != nil {
		e.metrics.ActiveSessions.Dec()
	}
	return nil
}

// ListForUser returns summaries of the user's active sessions, oldest first.
func (e *Enforcer) ListForUser(ctx context.Context, userID domain.UserID) ([]models.Summary, error) {
	active, err := e.sessions.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	summaries := make([]models.Summary, 0, len(active))
	for _, session := range active {
		summaries = append(summaries, session.Summarize())
	}
	return summaries, nil
}

// CleanupExpired removes sessions past their expiry.
func (e *Enforcer) CleanupExpired(ctx context.Context) (int, error) {
	deleted, err := e.sessions.DeleteExpired(ctx, e.now())
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	if deleted > 0 {
		e.logger.InfoContext(ctx, "expired sessions removed", "count", deleted)
		if e.metrics != nil {
			e.metrics.SessionsExpired.Add(float64(deleted))
		}
	}
	return deleted, nil
}

// concurrentLimit reads session_concurrent_limit, defaulting to 3 when the
// setting is missing or unparsable.
func (e *Enforcer) concurrentLimit(ctx context.Context) int {
	raw, err := e.settings.Value(ctx, models.SettingConcurrentLimit)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			e.logger.WarnContext(ctx, "failed to read session limit, using default",
				"error", err,
				"default", models.DefaultConcurrentLimit,
			)
		}
		return models.DefaultConcurrentLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return models.DefaultConcurrentLimit
	}
	return limit
}

func (e *Enforcer) countFailure() {
	if e.metrics != nil {
		e.metrics.RegisterFailures.Inc()
	}
}

// deviceDisplayName derives a human-readable device label ("Chrome on Mac OS X")
// from the raw User-Agent string.
func deviceDisplayName(rawUA string) string {
	if rawUA == "" {
		return ""
	}
	ua := useragent.New(rawUA)
	browser, _ := ua.Browser()
	osInfo := ua.OSInfo()
	switch {
	case browser != "" && osInfo.Name != "":
		return browser + " on " + osInfo.Name
	case browser != "":
		return browser
	default:
		return osInfo.Name
	}
}
