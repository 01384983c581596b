// Package service implements profile resolution and self-healing creation.
package service

//go:generate mockgen -source=resolver.go -destination=mocks/mocks.go -package=mocks Store

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"crew/internal/identity"
	"crew/internal/profile/models"
	dErrors "crew/pkg/domainerrors"
	"crew/pkg/domain"
	"crew/pkg/sentinel"
)

// Store is the persistence dependency. See internal/profile/store for the
// error contract.
type Store interface {
	FindByID(ctx context.Context, userID domain.UserID) (*models.Profile, error)
	Upsert(ctx context.Context, profile *models.Profile) (*models.Profile, error)
	Insert(ctx context.Context, profile *models.Profile) (*models.Profile, error)
}

// Resolver fetches or self-heals profile records for authenticated identities.
type Resolver struct {
	store  Store
	logger *slog.Logger
	group  singleflight.Group
	tracer trace.Tracer
}

// Option configures the Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// New constructs a Resolver backed by the given store.
func New(store Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:  store,
		tracer: otel.Tracer("crew/profile"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Fetch looks a profile up by user id. Returns (nil, nil) when no profile
// exists yet; storage failures surface as profile_unavailable and are never
// swallowed.
func (r *Resolver) Fetch(ctx context.Context, userID domain.UserID) (*models.Profile, error) {
	profile, err := r.store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "profile fetch failed", "user_id", userID.String(), "error", err)
		return nil, dErrors.Wrap(err, dErrors.CodeProfileUnavailable, "failed to fetch profile")
	}
	return profile, nil
}

// ResolveOrCreate returns the profile for the identity, creating it from the
// identity's attributes when absent. Creation first upserts by id: a storage
// trigger may have already created the row from the same signup event, and
// the upsert absorbs that race. If the upsert fails, a plain insert is
// attempted before giving up.
//
// Concurrent resolutions for the same user are collapsed into one storage
// round trip.
func (r *Resolver) ResolveOrCreate(ctx context.Context, ident *identity.Identity, seed *models.Seed) (*models.Profile, error) {
	if ident == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "identity is required")
	}

	v, err, _ := r.group.Do(ident.ID.String(), func() (any, error) {
		return r.resolveOrCreate(ctx, ident, seed)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Profile).Clone(), nil
}

func (r *Resolver) resolveOrCreate(ctx context.Context, ident *identity.Identity, seed *models.Seed) (*models.Profile, error) {
	ctx, span := r.tracer.Start(ctx, "profile.resolve_or_create")
	defer span.End()

	existing, err := r.Fetch(ctx, ident.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	synthesized := r.synthesize(ident, seed)

	created, upsertErr := r.store.Upsert(ctx, synthesized)
	if upsertErr == nil {
		r.logger.InfoContext(ctx, "profile created",
			"user_id", ident.ID.String(),
			"role", string(created.Role),
			"path", "upsert",
		)
		return created, nil
	}
	r.logger.WarnContext(ctx, "profile upsert failed, falling back to insert",
		"user_id", ident.ID.String(),
		"error", upsertErr,
	)

	created, insertErr := r.store.Insert(ctx, synthesized)
	if insertErr == nil {
		r.logger.InfoContext(ctx, "profile created",
			"user_id", ident.ID.String(),
			"role", string(created.Role),
			"path", "insert",
		)
		return created, nil
	}

	// A conflict on the fallback insert means the row appeared between the
	// two attempts; read it back instead of failing.
	if errors.Is(insertErr, sentinel.ErrConflict) {
		if profile, fetchErr := r.Fetch(ctx, ident.ID); fetchErr == nil && profile != nil {
			return profile, nil
		}
	}

	r.logger.ErrorContext(ctx, "profile creation failed on both paths",
		"user_id", ident.ID.String(),
		"upsert_error", upsertErr,
		"insert_error", insertErr,
	)
	return nil, dErrors.Wrap(insertErr, dErrors.CodeProfileCreateFailed, "failed to create profile")
}

// synthesize builds a profile from identity attributes plus an optional seed.
// Role defaults to employee, tenant to none.
func (r *Resolver) synthesize(ident *identity.Identity, seed *models.Seed) *models.Profile {
	normalized := models.Seed{}
	if seed != nil {
		normalized = *seed
	}
	normalized = normalized.Normalize()

	return &models.Profile{
		ID:        ident.ID,
		Email:     ident.Email,
		FirstName: normalized.FirstName,
		LastName:  normalized.LastName,
		Role:      normalized.Role,
		TenantID:  normalized.TenantID,
	}
}
