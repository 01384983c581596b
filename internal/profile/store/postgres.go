package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"crew/internal/profile/models"
	"crew/pkg/domain"
	"crew/pkg/sentinel"
)

// PostgresStore persists profiles in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed profile store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindByID(ctx context.Context, userID domain.UserID) (*models.Profile, error) {
	query := `
		SELECT id, email, first_name, last_name, role, tenant_id, avatar_url, created_at, updated_at
		FROM profiles
		WHERE id = $1
	`
	profile, err := scanProfile(s.db.QueryRowContext(ctx, query, uuid.UUID(userID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find profile by id: %w", err)
	}
	return profile, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, profile *models.Profile) (*models.Profile, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile is required")
	}
	query := `
		INSERT INTO profiles (id, email, first_name, last_name, role, tenant_id, avatar_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (id) DO UPDATE SET
			email      = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name  = EXCLUDED.last_name,
			role       = EXCLUDED.role,
			tenant_id  = EXCLUDED.tenant_id,
			updated_at = EXCLUDED.updated_at
		RETURNING id, email, first_name, last_name, role, tenant_id, avatar_url, created_at, updated_at
	`
	row := s.db.QueryRowContext(ctx, query,
		uuid.UUID(profile.ID),
		profile.Email,
		profile.FirstName,
		profile.LastName,
		string(profile.Role),
		tenantValue(profile.TenantID),
		profile.AvatarURL,
		time.Now(),
	)
	stored, err := scanProfile(row)
	if err != nil {
		return nil, fmt.Errorf("upsert profile: %w", err)
	}
	return stored, nil
}

func (s *PostgresStore) Insert(ctx context.Context, profile *models.Profile) (*models.Profile, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile is required")
	}
	query := `
		INSERT INTO profiles (id, email, first_name, last_name, role, tenant_id, avatar_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id, email, first_name, last_name, role, tenant_id, avatar_url, created_at, updated_at
	`
	row := s.db.QueryRowContext(ctx, query,
		uuid.UUID(profile.ID),
		profile.Email,
		profile.FirstName,
		profile.LastName,
		string(profile.Role),
		tenantValue(profile.TenantID),
		profile.AvatarURL,
		time.Now(),
	)
	stored, err := scanProfile(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("profile already exists: %w", sentinel.ErrConflict)
		}
		return nil, fmt.Errorf("insert profile: %w", err)
	}
	return stored, nil
}

func (s *PostgresStore) BindRoleTenant(ctx context.Context, userID domain.UserID, role models.Role, tenantID *domain.TenantID, firstName, lastName string) (*models.Profile, error) {
	query := `
		UPDATE profiles
		SET role = $2, tenant_id = $3,
		    first_name = COALESCE(NULLIF($4, ''), first_name),
		    last_name = COALESCE(NULLIF($5, ''), last_name),
		    updated_at = $6
		WHERE id = $1
		RETURNING id, email, first_name, last_name, role, tenant_id, avatar_url, created_at, updated_at
	`
	row := s.db.QueryRowContext(ctx, query,
		uuid.UUID(userID),
		string(role),
		tenantValue(tenantID),
		firstName,
		lastName,
		time.Now(),
	)
	profile, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("bind profile role/tenant: %w", err)
	}
	return profile, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*models.Profile, error) {
	var (
		profile  models.Profile
		pid      uuid.UUID
		role     string
		tenantID uuid.NullUUID
		avatar   sql.NullString
	)
	err := row.Scan(&pid, &profile.Email, &profile.FirstName, &profile.LastName,
		&role, &tenantID, &avatar, &profile.CreatedAt, &profile.UpdatedAt)
	if err != nil {
		return nil, err
	}
	profile.ID = domain.UserID(pid)
	profile.Role = models.Role(role)
	if tenantID.Valid {
		t := domain.TenantID(tenantID.UUID)
		profile.TenantID = &t
	}
	if avatar.Valid {
		profile.AvatarURL = avatar.String
	}
	return &profile, nil
}

func tenantValue(tenantID *domain.TenantID) uuid.NullUUID {
	if tenantID == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*tenantID), Valid: true}
}

// isUniqueViolation reports whether the error is a postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
