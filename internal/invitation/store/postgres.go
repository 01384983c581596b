package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"crew/internal/invitation/models"
	profile "crew/internal/profile/models"
	"crew/pkg/domain"
	"crew/pkg/sentinel"
)

const invitationColumns = `id, email, role, tenant_id, tenant_name, token, invited_by, inviter_name, status, created_at, expires_at, accepted_at`

// PostgresStore persists invitations in PostgreSQL. Validation, acceptance
// and token generation call storage-side functions (see migrations) so that
// the status check, the status flip and the profile binding happen in one
// transaction on the server.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed invitation store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, invitation *models.Invitation) error {
	if invitation == nil {
		return fmt.Errorf("invitation is required")
	}
	query := `
		INSERT INTO invitations (` + invitationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULL)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(invitation.ID),
		invitation.Email,
		string(invitation.Role),
		uuid.UUID(invitation.TenantID),
		invitation.TenantName,
		invitation.Token,
		uuid.UUID(invitation.InvitedBy),
		invitation.InviterName,
		string(invitation.Status),
		invitation.CreatedAt,
		invitation.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("pending invitation for %s already exists: %w", invitation.Email, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.InvitationID) (*models.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE id = $1`
	invitation, err := scanInvitation(s.db.QueryRowContext(ctx, query, uuid.UUID(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("invitation not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find invitation by id: %w", err)
	}
	return invitation, nil
}

func (s *PostgresStore) ListByTenant(ctx context.Context, tenantID domain.TenantID) ([]*models.Invitation, error) {
	query := `
		SELECT ` + invitationColumns + `
		FROM invitations
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(tenantID))
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*models.Invitation
	for rows.Next() {
		invitation, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		invitations = append(invitations, invitation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invitations: %w", err)
	}
	return invitations, nil
}

func (s *PostgresStore) GenerateToken(ctx context.Context) (string, error) {
	var token string
	if err := s.db.QueryRowContext(ctx, `SELECT generate_invitation_token()`).Scan(&token); err != nil {
		return "", fmt.Errorf("generate invitation token: %w", err)
	}
	return token, nil
}

// validatePayload mirrors the jsonb shape returned by
// validate_invitation_token.
type validatePayload struct {
	Valid      bool   `json:"valid"`
	Reason     string `json:"reason"`
	ID         string `json:"invitation_id"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	TenantID   string `json:"tenant_id"`
	TenantName string `json:"tenant_name"`
}

func (s *PostgresStore) ValidateToken(ctx context.Context, token string, now time.Time) (*models.Validation, error) {
	var raw []byte
	if err := s.db.QueryRowContext(ctx, `SELECT validate_invitation_token($1, $2)`, token, now).Scan(&raw); err != nil {
		return nil, fmt.Errorf("validate invitation token: %w", err)
	}
	var payload validatePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode validation payload: %w", err)
	}

	validation := &models.Validation{Valid: payload.Valid, Reason: payload.Reason}
	if !payload.Valid {
		return validation, nil
	}

	id, err := domain.ParseInvitationID(payload.ID)
	if err != nil {
		return nil, fmt.Errorf("invitation id in validation payload: %w", err)
	}
	tenantID, err := domain.ParseTenantID(payload.TenantID)
	if err != nil {
		return nil, fmt.Errorf("tenant id in validation payload: %w", err)
	}
	validation.ID = id
	validation.Email = payload.Email
	validation.Role = profile.Role(payload.Role)
	validation.TenantID = tenantID
	validation.TenantName = payload.TenantName
	return validation, nil
}

// acceptPayload mirrors the jsonb shape returned by accept_invitation.
type acceptPayload struct {
	Error           string `json:"error"`
	AlreadyAccepted bool   `json:"already_accepted"`
	Role            string `json:"role"`
	TenantID        string `json:"tenant_id"`
}

func (s *PostgresStore) Accept(ctx context.Context, token string, userID domain.UserID, firstName, lastName string) (*models.AcceptResult, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT accept_invitation($1, $2, $3, $4)`, token, uuid.UUID(userID), firstName, lastName).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("accept invitation: %w", err)
	}
	var payload acceptPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode accept payload: %w", err)
	}
	switch payload.Error {
	case "":
	case "not_found":
		return nil, fmt.Errorf("invitation not found: %w", sentinel.ErrNotFound)
	case "expired":
		return nil, fmt.Errorf("invitation expired: %w", sentinel.ErrExpired)
	case "revoked":
		return nil, fmt.Errorf("invitation revoked: %w", sentinel.ErrInvalidState)
	default:
		return nil, fmt.Errorf("accept invitation: %s", payload.Error)
	}

	tenantID, err := domain.ParseTenantID(payload.TenantID)
	if err != nil {
		return nil, fmt.Errorf("tenant id in accept payload: %w", err)
	}
	return &models.AcceptResult{
		AlreadyAccepted: payload.AlreadyAccepted,
		Role:            profile.Role(payload.Role),
		TenantID:        tenantID,
	}, nil
}

func (s *PostgresStore) Revoke(ctx context.Context, id domain.InvitationID) error {
	query := `
		UPDATE invitations
		SET status = $2
		WHERE id = $1 AND status = $3
	`
	res, err := s.db.ExecContext(ctx, query, uuid.UUID(id), string(models.StatusRevoked), string(models.StatusPending))
	if err != nil {
		return fmt.Errorf("revoke invitation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke invitation: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("no pending invitation to revoke: %w", sentinel.ErrNotFound)
	}
	return nil
}

func scanInvitation(row interface{ Scan(dest ...any) error }) (*models.Invitation, error) {
	var (
		invitation models.Invitation
		id         uuid.UUID
		role       string
		tenantID   uuid.UUID
		invitedBy  uuid.UUID
		status     string
		acceptedAt sql.NullTime
	)
	err := row.Scan(&id, &invitation.Email, &role, &tenantID, &invitation.TenantName,
		&invitation.Token, &invitedBy, &invitation.InviterName, &status,
		&invitation.CreatedAt, &invitation.ExpiresAt, &acceptedAt)
	if err != nil {
		return nil, err
	}
	invitation.ID = domain.InvitationID(id)
	invitation.Role = profile.Role(role)
	invitation.TenantID = domain.TenantID(tenantID)
	invitation.InvitedBy = domain.UserID(invitedBy)
	invitation.Status = models.Status(status)
	if acceptedAt.Valid {
		t := acceptedAt.Time
		invitation.AcceptedAt = &t
	}
	return &invitation, nil
}

// isUniqueViolation reports whether the error is a postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
