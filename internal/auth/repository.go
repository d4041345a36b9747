package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nimbushq/backend/internal/models"
)

// Repository handles user, account, and session persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID returns a user by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const q = `SELECT id, email, password_hash, full_name, role, COALESCE(avatar_url,''),
		created_at, updated_at FROM users WHERE id = $1`
	var u models.User
	err := r.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Email, &u.Password, &u.FullName, &u.Role,
		&u.AvatarURL, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByEmail returns a user by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `SELECT id, email, password_hash, full_name, role, COALESCE(avatar_url,''),
		created_at, updated_at FROM users WHERE email = $1`
	var u models.User
	err := r.pool.QueryRow(ctx, q, email).Scan(&u.ID, &u.Email, &u.Password, &u.FullName, &u.Role,
		&u.AvatarURL, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user with a credential account row.
func (r *Repository) Create(ctx context.Context, email, passwordHash, fullName string) (*models.User, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const q = `INSERT INTO users (email, password_hash, full_name, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, email, password_hash, full_name, role, COALESCE(avatar_url,''), created_at, updated_at`
	var u models.User
	err = tx.QueryRow(ctx, q, email, passwordHash, fullName, string(models.PlatformRoleUser)).
		Scan(&u.ID, &u.Email, &u.Password, &u.FullName, &u.Role, &u.AvatarURL, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `INSERT INTO accounts (user_id, provider) VALUES ($1, $2)`,
		u.ID, models.AccountProviderCredential)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &u, nil
}

// ListAccounts returns the provider accounts linked to a user.
func (r *Repository) ListAccounts(ctx context.Context, userID uuid.UUID) ([]models.Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, user_id, provider, COALESCE(provider_account_id,''), created_at
		FROM accounts WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.Provider, &a.ProviderAccountID, &a.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// PromoteToAdmin sets the platform admin role on the user with the given email.
// Used by startup bootstrap; no-op when the user does not exist.
func (r *Repository) PromoteToAdmin(ctx context.Context, email string) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET role = 'admin', updated_at = NOW() WHERE email = $1`, email)
	return err
}

// CreateSession inserts a refresh-token session. tokenHash is the SHA-256
// of the opaque token handed to the client.
func (r *Repository) CreateSession(ctx context.Context, userID uuid.UUID, tokenHash, userAgent, ip string, expiresAt time.Time) (*models.Session, error) {
	const q = `INSERT INTO sessions (user_id, token_hash, user_agent, ip, expires_at)
		VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), $5)
		RETURNING id, user_id, token_hash, COALESCE(user_agent,''), COALESCE(ip,''), expires_at, revoked_at, created_at`
	var s models.Session
	err := r.pool.QueryRow(ctx, q, userID, tokenHash, userAgent, ip, expiresAt).
		Scan(&s.ID, &s.UserID, &s.TokenHash, &s.UserAgent, &s.IP, &s.ExpiresAt, &s.RevokedAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSessionByTokenHash returns a session by refresh token hash.
func (r *Repository) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	const q = `SELECT id, user_id, token_hash, COALESCE(user_agent,''), COALESCE(ip,''), expires_at, revoked_at, created_at
		FROM sessions WHERE token_hash = $1`
	var s models.Session
	err := r.pool.QueryRow(ctx, q, tokenHash).
		Scan(&s.ID, &s.UserID, &s.TokenHash, &s.UserAgent, &s.IP, &s.ExpiresAt, &s.RevokedAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// RevokeSession marks a session revoked.
func (r *Repository) RevokeSession(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`, id)
	return err
}

// RevokeUserSessions revokes all active sessions for a user.
func (r *Repository) RevokeUserSessions(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET revoked_at = NOW() WHERE user_id = $1 AND revoked_at IS NULL`, userID)
	return err
}

// List returns all users for the platform admin panel.
func (r *Repository) List(ctx context.Context) ([]models.UserPublic, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, email, full_name, role, COALESCE(avatar_url,''), created_at
		FROM users ORDER BY full_name, email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.UserPublic
	for rows.Next() {
		var u models.UserPublic
		var role string
		if err := rows.Scan(&u.ID, &u.Email, &u.FullName, &role, &u.AvatarURL, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Role = models.PlatformRole(role)
		list = append(list, u)
	}
	return list, rows.Err()
}
