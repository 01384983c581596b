package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"crew/internal/session/models"
	"crew/pkg/domain"
	"crew/pkg/sentinel"
)

// PostgresStore persists sessions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed session store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionColumns = `id, user_id, session_token, issued_at, expires_at, last_activity_at, ip_address, user_agent, device_display_name, is_active`

func (s *PostgresStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	query := `
		INSERT INTO user_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(session.ID),
		uuid.UUID(session.UserID),
		session.Token,
		session.IssuedAt,
		session.ExpiresAt,
		session.LastActivityAt,
		session.IPAddress,
		session.UserAgent,
		session.DeviceDisplayName,
		session.IsActive,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindActiveByToken(ctx context.Context, token string) (*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM user_sessions
		WHERE session_token = $1 AND is_active = true
	`
	session, err := scanSession(s.db.QueryRowContext(ctx, query, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find session by token: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) ListActiveByUser(ctx context.Context, userID domain.UserID) ([]*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM user_sessions
		WHERE user_id = $1 AND is_active = true
		ORDER BY last_activity_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("list sessions by user: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	sessions := make([]*models.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

func (s *PostgresStore) DeactivateByToken(ctx context.Context, token string) error {
	query := `
		UPDATE user_sessions
		SET is_active = false
		WHERE session_token = $1 AND is_active = true
	`
	res, err := s.db.ExecContext(ctx, query, token)
	if err != nil {
		return fmt.Errorf("deactivate session by token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate session by token: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeactivateByID(ctx context.Context, sessionID domain.SessionID) error {
	query := `
		UPDATE user_sessions
		SET is_active = false
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, uuid.UUID(sessionID))
	if err != nil {
		return fmt.Errorf("deactivate session by id: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate session by id: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return int(affected), nil
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		session     models.Session
		sid, uid    uuid.UUID
		ip, ua, dev sql.NullString
	)
	err := row.Scan(&sid, &uid, &session.Token, &session.IssuedAt, &session.ExpiresAt,
		&session.LastActivityAt, &ip, &ua, &dev, &session.IsActive)
	if err != nil {
		return nil, err
	}
	session.ID = domain.SessionID(sid)
	session.UserID = domain.UserID(uid)
	session.IPAddress = ip.String
	session.UserAgent = ua.String
	session.DeviceDisplayName = dev.String
	return &session, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresSettings reads security settings from PostgreSQL.
type PostgresSettings struct {
	db *sql.DB
}

// NewPostgresSettings constructs a PostgreSQL-backed settings store.
func NewPostgresSettings(db *sql.DB) *PostgresSettings {
	return &PostgresSettings{db: db}
}

func (s *PostgresSettings) Value(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM security_settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("setting %q: %w", key, sentinel.ErrNotFound)
		}
		return "", fmt.Errorf("read setting %q: %w", key, err)
	}
	return value, nil
}
