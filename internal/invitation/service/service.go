// Package service implements the invitation lifecycle: inviter-side creation
// and the invitee-side validate/signup/accept flow.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,Mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"crew/internal/invitation/metrics"
	"crew/internal/invitation/models"
	"crew/internal/platform/mailer"
	profile "crew/internal/profile/models"
	"crew/pkg/domain"
	dErrors "crew/pkg/domainerrors"
	"crew/pkg/sentinel"
)

// DefaultTTL is how long an invitation stays redeemable.
const DefaultTTL = 7 * 24 * time.Hour

const mailTimeout = 10 * time.Second

// Store is the persistence dependency. See internal/invitation/store for the
// error contract.
type Store interface {
	Create(ctx context.Context, invitation *models.Invitation) error
	FindByID(ctx context.Context, id domain.InvitationID) (*models.Invitation, error)
	ListByTenant(ctx context.Context, tenantID domain.TenantID) ([]*models.Invitation, error)
	GenerateToken(ctx context.Context) (string, error)
	ValidateToken(ctx context.Context, token string, now time.Time) (*models.Validation, error)
	Accept(ctx context.Context, token string, userID domain.UserID, firstName, lastName string) (*models.AcceptResult, error)
	Revoke(ctx context.Context, id domain.InvitationID) error
}

// Mailer delivers the invitation email.
type Mailer interface {
	SendInvitation(ctx context.Context, invite mailer.Invite) error
}

// Service coordinates invitation persistence and notification.
type Service struct {
	store   Store
	mailer  Mailer
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	ttl     time.Duration
	now     func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTTL overrides the invitation expiry window.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Service.
func New(store Store, mail Mailer, opts ...Option) *Service {
	s := &Service{
		store:  store,
		mailer: mail,
		tracer: otel.Tracer("crew/invitation"),
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// CreateParams are the inviter-supplied attributes of a new invitation.
type CreateParams struct {
	Email       string
	Role        string
	TenantID    domain.TenantID
	TenantName  string
	InvitedBy   domain.UserID
	InviterName string
}

// Create persists a pending invitation and fires the notification email.
// Mail delivery is best effort: a failed send is logged and counted, never
// surfaced, because the invitation itself already exists and can be resent.
func (s *Service) Create(ctx context.Context, params CreateParams) (*models.Invitation, error) {
	ctx, span := s.tracer.Start(ctx, "invitation.create")
	defer span.End()

	if params.Email == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "email is required")
	}
	role := profile.Role(params.Role)
	if !role.Valid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown role %q", params.Role))
	}
	if params.TenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "tenant is required")
	}

	token, err := s.store.GenerateToken(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate invitation token")
	}

	now := s.now()
	invitation := &models.Invitation{
		ID:          domain.NewInvitationID(),
		Email:       params.Email,
		Role:        role,
		TenantID:    params.TenantID,
		TenantName:  params.TenantName,
		Token:       token,
		InvitedBy:   params.InvitedBy,
		InviterName: params.InviterName,
		Status:      models.StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	if err := s.store.Create(ctx, invitation); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "a pending invitation for this email already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create invitation")
	}
	if s.metrics != nil {
		s.metrics.Created.Inc()
	}

	go s.sendMail(invitation)

	return invitation.Clone(), nil
}

// sendMail runs detached from the request: invitation creation must not wait
// on (or fail with) the mail transport.
func (s *Service) sendMail(invitation *models.Invitation) {
	if s.mailer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mailTimeout)
	defer cancel()

	err := s.mailer.SendInvitation(ctx, mailer.Invite{
		Email:       invitation.Email,
		Token:       invitation.Token,
		Role:        string(invitation.Role),
		TenantName:  invitation.TenantName,
		InviterName: invitation.InviterName,
	})
	if err != nil {
		s.logger.Error("invitation mail delivery failed",
			"invitation_id", invitation.ID.String(),
			"email", invitation.Email,
			"error", err,
		)
		if s.metrics != nil {
			s.metrics.MailFailures.Inc()
		}
	}
}

// Validate runs the atomic server-side token validation.
func (s *Service) Validate(ctx context.Context, token string) (*models.Validation, error) {
	ctx, span := s.tracer.Start(ctx, "invitation.validate")
	defer span.End()

	if token == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invitation token is required")
	}
	validation, err := s.store.ValidateToken(ctx, token, s.now())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to validate invitation")
	}
	if s.metrics != nil {
		outcome := "valid"
		if !validation.Valid {
			outcome = "invalid"
		}
		s.metrics.Validations.WithLabelValues(outcome).Inc()
	}
	return validation, nil
}

// Accept runs the atomic server-side accept for the given user. The name the
// invitee entered at signup rides along so the profile binding can write it:
// on the deferred (email-confirmation) path the profile was created from the
// provider session alone and carries no name yet.
func (s *Service) Accept(ctx context.Context, token string, userID domain.UserID, firstName, lastName string) (*models.AcceptResult, error) {
	ctx, span := s.tracer.Start(ctx, "invitation.accept")
	defer span.End()

	result, err := s.store.Accept(ctx, token, userID, firstName, lastName)
	if err != nil {
		if s.metrics != nil {
			s.metrics.AcceptFailures.Inc()
		}
		return nil, err
	}
	if s.metrics != nil && !result.AlreadyAccepted {
		s.metrics.Accepted.Inc()
	}
	return result, nil
}

// ListByTenant returns a tenant's invitations for the admin view.
func (s *Service) ListByTenant(ctx context.Context, tenantID domain.TenantID) ([]*models.Invitation, error) {
	invitations, err := s.store.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list invitations")
	}
	return invitations, nil
}

// Revoke withdraws a pending invitation.
func (s *Service) Revoke(ctx context.Context, id domain.InvitationID) error {
	if err := s.store.Revoke(ctx, id); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeNotFound, "invitation not found or not pending")
		}
		if errors.Is(err, sentinel.ErrInvalidState) {
			return dErrors.Wrap(err, dErrors.CodeConflict, "invitation is not pending")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke invitation")
	}
	return nil
}
