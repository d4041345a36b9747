package invitations

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nimbushq/backend/internal/models"
)

// Repository handles invitation persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an invitations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const invitationColumns = `id, organization_id, email, role, inviter_id, token_hash,
	status, expires_at, accepted_by, created_at, updated_at`

func scanInvitation(row pgx.Row) (*models.Invitation, error) {
	var inv models.Invitation
	if err := row.Scan(&inv.ID, &inv.OrganizationID, &inv.Email, &inv.Role, &inv.InviterID,
		&inv.TokenHash, &inv.Status, &inv.ExpiresAt, &inv.AcceptedBy, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Create inserts a pending invitation. The partial unique index rejects a
// second pending invitation for the same org and email.
func (r *Repository) Create(ctx context.Context, inv *models.Invitation) error {
	const q = `INSERT INTO invitations (organization_id, email, role, inviter_id, token_hash, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, inv.OrganizationID, inv.Email, inv.Role, inv.InviterID,
		inv.TokenHash, inv.Status, inv.ExpiresAt).
		Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
}

// GetByID returns an invitation scoped to its org.
func (r *Repository) GetByID(ctx context.Context, id, orgID uuid.UUID) (*models.Invitation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invitationColumns+` FROM invitations
		WHERE id = $1 AND organization_id = $2`, id, orgID)
	inv, err := scanInvitation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return inv, err
}

// GetByTokenHash looks an invitation up by its hashed token.
func (r *Repository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Invitation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE token_hash = $1`, tokenHash)
	inv, err := scanInvitation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return inv, err
}

// ListForOrg returns an org's invitations, optionally filtered by status.
func (r *Repository) ListForOrg(ctx context.Context, orgID uuid.UUID, status string) ([]models.Invitation, error) {
	q := `SELECT ` + invitationColumns + ` FROM invitations WHERE organization_id = $1`
	args := []interface{}{orgID}
	if status != "" {
		q += ` AND status = $2`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *inv)
	}
	return list, rows.Err()
}

// Accept transitions a pending invitation to accepted and records who
// accepted it, atomically with the membership insert done by the caller's
// transaction boundary. The WHERE status = 'pending' guard makes the
// transition single-shot.
func (r *Repository) Accept(ctx context.Context, tx pgx.Tx, id, userID uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `UPDATE invitations SET status = $2, accepted_by = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id, models.InvitationAccepted, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AcceptTx runs the accept transition and membership insert in one
// transaction.
func (r *Repository) AcceptTx(ctx context.Context, inv *models.Invitation, userID uuid.UUID) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	ok, err := r.Accept(ctx, tx, inv.ID, userID)
	if err != nil || !ok {
		return ok, err
	}
	_, err = tx.Exec(ctx, `INSERT INTO members (organization_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (organization_id, user_id) DO NOTHING`,
		inv.OrganizationID, userID, inv.Role)
	if err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

// UpdateStatus transitions an invitation from pending to the given
// terminal status. Returns false when it was not pending.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.InvitationStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE invitations SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id, status)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Refresh replaces the token and extends the expiry of a pending
// invitation. Used by resend.
func (r *Repository) Refresh(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE invitations SET token_hash = $2, expires_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id, tokenHash, expiresAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ExpirePending marks pending invitations past their expiry as expired.
// Returns the number of rows swept.
func (r *Repository) ExpirePending(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE invitations SET status = 'expired', updated_at = NOW()
		WHERE status = 'pending' AND expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
